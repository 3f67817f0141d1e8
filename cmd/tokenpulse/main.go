package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/tokenpulse/internal/config"
)

var (
	version = "0.1.0"
	envFile string
	cfg     config.Config
)

func main() {
	root := &cobra.Command{
		Use:   "tokenpulse",
		Short: "Telegram crypto chat ingestion and token sentiment summaries",
		Long: `tokenpulse stores Telegram chat messages, tags cryptocurrency tickers
and asks an LLM for a per-token sentiment summary of each new batch.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg = config.Load()
			setupLogging(cfg.LogLevel)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file (ignored if missing)")

	root.AddCommand(serveCmd())
	root.AddCommand(summarizeCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(migrateCmd())

	if err := root.Execute(); err != nil {
		slog.Error("tokenpulse failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
