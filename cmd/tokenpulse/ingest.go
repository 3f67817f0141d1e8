package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/tokenpulse/internal/backfill"
	"github.com/MikeSquared-Agency/tokenpulse/internal/ingest"
	"github.com/MikeSquared-Agency/tokenpulse/internal/metrics"
)

func ingestCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Listen to Telegram and store incoming messages",
	}
	cmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address (e.g. :9100)")

	cmd.AddCommand(&cobra.Command{
		Use:   "bot",
		Short: "Ingest through the Bot API (long polling)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateBot(); err != nil {
				return err
			}
			return runIngest(metricsAddr, func(w *ingest.Writer) listener {
				return ingest.NewBotListener(cfg.TelegramBotToken, w, slog.Default())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "session",
		Short: "Ingest through a user account (MTProto)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateSession(); err != nil {
				return err
			}
			return runIngest(metricsAddr, func(w *ingest.Writer) listener {
				return ingest.NewSessionListener(ingest.SessionOptions{
					APIID:       cfg.TelegramAPIID,
					APIHash:     cfg.TelegramAPIHash,
					Phone:       cfg.TelegramPhone,
					Password:    cfg.Telegram2FA,
					SessionFile: cfg.TelegramSession,
					Prompt:      stdinPrompt(bufio.NewReader(os.Stdin)),
				}, w, slog.Default())
			})
		},
	})

	cmd.AddCommand(exportCmd())

	return cmd
}

func exportCmd() *cobra.Command {
	var (
		statePath    string
		since, until string
		dryRun       bool
	)
	cmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Import a Telegram Desktop JSON export (file or directory)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bc := backfill.Config{Path: args[0], StatePath: statePath, DryRun: dryRun}
			var err error
			if bc.Since, err = parseDate(since); err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			if bc.Until, err = parseDate(until); err != nil {
				return fmt.Errorf("--until: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			w := ingest.NewWriter(db, ingest.NewAllowlist(cfg.AllowedChats), nil, slog.Default())
			_, err = backfill.NewRunner(bc, w, slog.Default()).Run(ctx, cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().StringVar(&statePath, "state", backfill.DefaultStatePath, "progress file for resumable imports")
	cmd.Flags().StringVar(&since, "since", "", "skip messages before this date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "skip messages after this date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count messages without writing")
	return cmd
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

type listener interface {
	Run(ctx context.Context) error
}

func runIngest(metricsAddr string, build func(*ingest.Writer) listener) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	var m *metrics.Metrics
	if metricsAddr != "" {
		m = metrics.New(prometheus.NewRegistry())
	}

	allow := ingest.NewAllowlist(cfg.AllowedChats)
	if len(cfg.AllowedChats) > 0 {
		slog.Info("chat allowlist active", "entries", len(cfg.AllowedChats))
	}
	l := build(ingest.NewWriter(db, allow, m, slog.Default()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.Run(gctx)
	})
	if m != nil {
		g.Go(func() error {
			return serveMetrics(gctx, metricsAddr, m.Handler())
		})
	}
	return g.Wait()
}

func serveMetrics(ctx context.Context, addr string, h http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// stdinPrompt asks on stderr and reads one line from r.
func stdinPrompt(r *bufio.Reader) func(ctx context.Context, label string) (string, error) {
	return func(ctx context.Context, label string) (string, error) {
		fmt.Fprintf(os.Stderr, "%s: ", label)
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
		}
		return strings.TrimSpace(line), nil
	}
}
