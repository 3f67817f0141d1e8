package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/MikeSquared-Agency/tokenpulse/internal/api"
	"github.com/MikeSquared-Agency/tokenpulse/internal/archive"
	"github.com/MikeSquared-Agency/tokenpulse/internal/events"
	"github.com/MikeSquared-Agency/tokenpulse/internal/extractor"
	"github.com/MikeSquared-Agency/tokenpulse/internal/ingest"
	"github.com/MikeSquared-Agency/tokenpulse/internal/llm"
	"github.com/MikeSquared-Agency/tokenpulse/internal/metrics"
	"github.com/MikeSquared-Agency/tokenpulse/internal/processor"
	"github.com/MikeSquared-Agency/tokenpulse/internal/slack"
	"github.com/MikeSquared-Agency/tokenpulse/internal/store"
)

// appStore is what both store backends provide.
type appStore interface {
	processor.Store
	api.IntelReader
	ingest.Sink
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ appStore = (*store.Store)(nil)
	_ appStore = (*store.SQLite)(nil)
)

func openStore(ctx context.Context) (appStore, error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}
	switch cfg.StoreDriver {
	case "sqlite":
		s, err := store.NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("sqlite store opened", "path", cfg.SQLitePath)
		return s, nil
	default:
		s, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		slog.Info("database connected")
		return s, nil
	}
}

// pipeline is a processor with the resources it holds open.
type pipeline struct {
	proc     *processor.Processor
	provider llm.Provider
	bus      *events.Client
}

func (p *pipeline) Close() {
	p.bus.Close()
	if c, ok := p.provider.(io.Closer); ok {
		c.Close()
	}
}

// buildPipeline wires the provider and the optional NATS bus and S3
// archive around s. The bus is nil when NATS_URL is unset.
func buildPipeline(ctx context.Context, s processor.Store, m *metrics.Metrics) (*pipeline, error) {
	if err := cfg.ValidateProvider(); err != nil {
		return nil, err
	}
	provider, err := llm.New(ctx, llm.Options{
		Provider:    cfg.AIProvider,
		OpenAIKey:   cfg.OpenAIAPIKey,
		OpenAIModel: cfg.OpenAIModel,
		XAIKey:      cfg.XAIAPIKey,
		XAIModel:    cfg.XAIModel,
		GeminiKey:   cfg.GeminiAPIKey,
		GeminiModel: cfg.GeminiModel,
		MaxRetries:  cfg.LLMRetries,
		Logger:      slog.Default(),
	})
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	slog.Info("llm provider ready", "provider", provider.Name())

	p := &pipeline{provider: provider}
	opts := processor.Options{
		ClaimTTL:     cfg.ClaimTTL,
		DefaultLimit: cfg.SummarizeLimit,
		Metrics:      m,
	}

	if cfg.NatsURL != "" {
		bus, err := events.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			p.Close()
			return nil, err
		}
		slog.Info("NATS connected", "url", cfg.NatsURL)
		p.bus = bus
		opts.Publisher = bus
	}

	if cfg.ArchiveBucket != "" {
		arc, err := archive.New(ctx, archive.Options{
			Bucket:    cfg.ArchiveBucket,
			Prefix:    cfg.ArchivePrefix,
			Region:    cfg.AWSRegion,
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
		})
		if err != nil {
			p.Close()
			return nil, err
		}
		slog.Info("archive enabled", "bucket", cfg.ArchiveBucket, "prefix", cfg.ArchivePrefix)
		opts.Archiver = arc
	}

	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		opts.Notifier = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		slog.Info("slack digests enabled", "channel", cfg.SlackChannel)
	}

	p.proc = processor.New(s, extractor.New(provider, slog.Default()), opts, slog.Default())
	return p, nil
}
