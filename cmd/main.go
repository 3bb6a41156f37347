package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cfgPkg "github.com/xhad/doctalk/pkg/config"
	"github.com/xhad/doctalk/pkg/logger"
)

var (
	configPath string
	logLevel   string

	config *cfgPkg.Config
	log    *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "doctalk",
	Short: "Chat with a PDF or JSON document",
	Long: `doctalk answers questions about one uploaded PDF or JSON document.
The document is split into fragments, the fragments most relevant to a
question are ranked lexically and an LLM streams the answer.

Example usage:
  doctalk serve                      # Start the HTTP and WebSocket server
  doctalk chat --file manual.pdf     # Ask questions in the terminal`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		config, err = cfgPkg.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			config.Logging.Level = logLevel
		}

		if errs := config.Validate(); len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, e.Error())
			}
			return fmt.Errorf("invalid config:\n  %s", strings.Join(msgs, "\n  "))
		}

		log, err = logger.New(logger.LoggerConfig{
			Level:       config.Logging.Level,
			Dir:         config.Logging.Dir,
			MaxSizeMB:   config.Logging.MaxSizeMB,
			MaxBackups:  config.Logging.MaxBackups,
			Production:  config.Production(),
			Service:     "doctalk",
			Environment: config.Server.Environment,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}
