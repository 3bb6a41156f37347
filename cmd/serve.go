package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xhad/doctalk/server"
)

var (
	servePort      int
	serveChunkSize int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default from config)")
	serveCmd.Flags().IntVar(&serveChunkSize, "chunk-size", 0, "characters per fragment (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if servePort > 0 {
		config.Server.Port = servePort
	}
	if serveChunkSize > 0 {
		config.Processor.ChunkSize = serveChunkSize
	}

	c, err := buildComponents(config, log, func(url string) {
		log.Debug("fetching", zap.String("url", url))
	})
	if err != nil {
		return err
	}

	hub := server.NewHub(server.HubConfig{
		HeartbeatInterval: config.WebSocket.HeartbeatInterval,
		WriteWait:         config.WebSocket.WriteWait,
		MaxMessageSize:    config.WebSocket.MaxMessageSize,
		SendBuffer:        config.WebSocket.SendBuffer,
		TopK:              config.Retrieval.MaxRelevantChunks,
		GenerationTimeout: config.Generation.Timeout,
	}, c.store, c.ranker, c.coordinator, log.Named("hub"), c.metrics)

	srv := server.New(server.Options{
		Config:    config,
		Hub:       hub,
		Documents: c.documents,
		Fetcher:   c.fetcher,
		Store:     c.store,
		Gatherer:  c.registry,
		Logger:    log.Named("server"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Error("server stopped", zap.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}
