package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/tokenpulse/internal/api"
	"github.com/MikeSquared-Agency/tokenpulse/internal/events"
	"github.com/MikeSquared-Agency/tokenpulse/internal/metrics"
	"github.com/MikeSquared-Agency/tokenpulse/internal/processor"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, NATS trigger and optional scheduler",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("tokenpulse starting", "port", cfg.Port, "version", version)

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if n, err := db.CountUnprocessed(ctx); err == nil {
		m.SetUnprocessed(n)
	}

	p, err := buildPipeline(ctx, db, m)
	if err != nil {
		return err
	}
	defer p.Close()

	if p.bus != nil {
		if err := p.bus.Subscribe(events.SubjectSummarizeRequested, p.proc.HandleSummarizeRequested); err != nil {
			return err
		}
	}

	srv := api.NewServer(p.proc, db, api.Options{
		Port:        cfg.Port,
		JWTSecret:   cfg.APIJWTSecret,
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     m.Handler(),
	}, slog.Default())
	if cfg.APIJWTSecret == "" {
		slog.Warn("API_JWT_SECRET not set, API is open")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if cfg.SummarizeInterval > 0 {
		g.Go(func() error {
			runScheduler(gctx, p.proc, cfg.SummarizeInterval)
			return nil
		})
	}

	slog.Info("tokenpulse ready", "port", cfg.Port, "interval", cfg.SummarizeInterval)

	err = g.Wait()
	slog.Info("shutting down")
	if derr := p.bus.Drain(); derr != nil {
		slog.Warn("nats drain failed", "error", derr)
	}
	slog.Info("tokenpulse stopped")
	return err
}

// runScheduler runs the job every interval until ctx is done. Failures are
// logged and the next tick tries again.
func runScheduler(ctx context.Context, proc *processor.Processor, interval time.Duration) {
	slog.Info("scheduler started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := proc.Run(ctx, proc.ConfiguredLimit())
			if err != nil {
				slog.Error("scheduled summarize failed", "error", err)
				continue
			}
			if !res.NoWork {
				slog.Info("scheduled summarize done", "summary_id", res.SummaryID, "tokens", res.Tokens)
			}
		}
	}
}
