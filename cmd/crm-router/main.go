package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tributary-ai/crm-reply-router/internal/config"
)

var (
	version    = "1.0.0"
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:   "crm-router",
		Short: "CRM reply router",
		Long: `Routes inbound WhatsApp, Instagram and Telegram messages to a premium AI,
an economy AI, a smart template or a canned reply, falling back in that
order until one of them answers.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (defaults and environment only when empty)")

	root.AddCommand(serveCmd())
	root.AddCommand(simulateCmd())
	root.AddCommand(probeCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and dashboard HTTP server",
		Long: `Environment Variables:
  OPENAI_API_KEY, DEEPSEEK_API_KEY, ANTHROPIC_API_KEY  keys for the AI levels
  CRM_ROUTER_PORT                                      server port (default: 8080)
  CRM_ROUTER_LOG_LEVEL                                 debug, info, warn, error
  CRM_ROUTER_WEBHOOK_SECRET                            shared webhook secret
  CRM_ROUTER_JWT_SECRET                                dashboard JWT secret
  TELEGRAM_BOT_TOKEN, TELEGRAM_ALERT_CHAT_ID           alert notifications`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApplication(configPath)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "crm-router v%s\n", version)
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config [output]",
		Short: "Write the effective configuration as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			out := "config.yaml"
			if len(args) == 1 {
				out = args[0]
			}
			if err := cfg.SaveToFile(out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", out)
			return nil
		},
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(logger *logrus.Logger, config config.LoggingConfig) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	logger.SetLevel(level)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return fmt.Errorf("invalid log format: %s", config.Format)
	}

	switch config.Output {
	case "stdout", "":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		logger.SetOutput(file)
	}

	return nil
}
