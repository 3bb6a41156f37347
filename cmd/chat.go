package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xhad/doctalk/internal/models"
	"github.com/xhad/doctalk/internal/types"
	"github.com/xhad/doctalk/pkg/fetcher"
	"github.com/xhad/doctalk/pkg/llm"
)

var chatFile string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions about a document in the terminal",
	Long: `Ask questions about a document in the terminal.

Type a question to get a streamed answer. A line containing a URL loads the
PDF or JSON document found there instead. Type 'exit' to quit.

Examples:
  doctalk chat --file manual.pdf
  doctalk chat                       # then paste a document URL`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&chatFile, "file", "f", "", "PDF or JSON document to load")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	c, err := buildComponents(config, log, func(url string) {
		color.Blue("Fetching %s", url)
	})
	if err != nil {
		return err
	}

	if chatFile != "" {
		spinner := getSpinner("📄 Loading document...")
		meta, err := c.documents.IngestFile(ctx, chatFile, filepath.Base(chatFile))
		spinner.Finish()
		fmt.Print("\r")
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", chatFile, err)
		}
		printLoaded(meta)
	}

	color.Cyan("\nChat with your document (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.ToLower(query) == "exit" {
			break
		}

		if url := fetcher.FindURL(query); url != "" {
			loadURL(ctx, c, url)
			continue
		}

		searchSpinner := getSpinner("🔍 Searching document...")
		snap := c.store.Snapshot()
		ranked, err := c.ranker.RankDocument(ctx, query, snap, config.Retrieval.MaxRelevantChunks)
		searchSpinner.Finish()
		fmt.Print("\r")
		if err != nil {
			if errors.Is(err, types.ErrNoDocumentLoaded) {
				color.Yellow("No document loaded. Use --file or paste a document URL.")
				continue
			}
			color.Red("Error searching document: %v\n", err)
			continue
		}

		events := c.coordinator.Answer(ctx, llm.Request{
			Query:     query,
			Metadata:  snap.Metadata,
			Fragments: ranked,
		})

		fmt.Print("\n")
		assistantPrompt("Assistant: ")
		for ev := range events {
			switch ev.Kind {
			case llm.EventProgress:
				log.Debug("answering", zap.Int("fragments", ev.ChunksFound))
			case llm.EventChunk:
				assistantPrompt("%s", ev.Text)
			case llm.EventComplete:
				fmt.Print("\n")
			case llm.EventFailed:
				color.Red("\nError: %s\n", ev.Reason)
			}
		}
	}

	return scanner.Err()
}

func loadURL(ctx context.Context, c *components, url string) {
	spinner := getSpinner("🌐 Downloading document...")
	res, err := c.fetcher.Fetch(ctx, url)
	spinner.Finish()
	fmt.Print("\r")
	if err != nil {
		color.Red("Error fetching %s: %v\n", url, err)
		return
	}

	meta, err := c.documents.IngestBytes(ctx, res.Title, res.Kind, res.Data)
	if err != nil {
		color.Red("Error processing %s: %v\n", res.Title, err)
		return
	}
	printLoaded(meta)
}

func printLoaded(meta models.DocumentMetadata) {
	color.Green("\n✓ Loaded %s (%s, %d fragments)\n", meta.Title, meta.Kind, meta.FragmentCount)
}
