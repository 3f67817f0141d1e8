package processor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/tokenpulse/internal/archive"
	"github.com/MikeSquared-Agency/tokenpulse/internal/events"
	"github.com/MikeSquared-Agency/tokenpulse/internal/extractor"
	"github.com/MikeSquared-Agency/tokenpulse/internal/metrics"
	"github.com/MikeSquared-Agency/tokenpulse/internal/store"
	"github.com/MikeSquared-Agency/tokenpulse/internal/tokens"
)

// Batch size bounds for a run.
const (
	DefaultLimit = 80
	MinLimit     = 1
	MaxLimit     = 200
)

// DefaultClaimTTL is how long a claim protects its rows from other runs.
const DefaultClaimTTL = 10 * time.Minute

// Store is the part of the insight store a run needs.
type Store interface {
	ClaimUnprocessed(ctx context.Context, limit int, ttl time.Duration) (*store.Batch, error)
	ReleaseClaim(ctx context.Context, claimID uuid.UUID) error
	CommitBatch(ctx context.Context, c store.Commit) error
	CountUnprocessed(ctx context.Context) (int, error)
}

// Summarizer turns a prompt into a clamped model answer.
type Summarizer interface {
	Provider() string
	Extract(ctx context.Context, p extractor.Prompt) (*extractor.Result, error)
}

type Publisher interface {
	Publish(subject string, data any) error
}

type Archiver interface {
	Archive(ctx context.Context, snap archive.Snapshot) (string, error)
}

// Notifier posts a human-readable digest of a committed summary.
type Notifier interface {
	PostSummary(ctx context.Context, sum store.Summary, insights []store.TokenInsight) (string, error)
}

// Options holds the optional collaborators of a Processor. Nil fields are
// skipped.
type Options struct {
	ClaimTTL     time.Duration
	DefaultLimit int
	Publisher    Publisher
	Archiver     Archiver
	Notifier     Notifier
	Metrics      *metrics.Metrics
}

// Processor runs the summarization job: claim, tag, summarize, commit.
type Processor struct {
	store        Store
	summarizer   Summarizer
	publisher    Publisher
	archiver     Archiver
	notifier     Notifier
	metrics      *metrics.Metrics
	claimTTL     time.Duration
	defaultLimit int
	logger       *slog.Logger
}

func New(s Store, sum Summarizer, opts Options, logger *slog.Logger) *Processor {
	ttl := opts.ClaimTTL
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	p := &Processor{
		store:        s,
		summarizer:   sum,
		publisher:    opts.Publisher,
		archiver:     opts.Archiver,
		notifier:     opts.Notifier,
		metrics:      opts.Metrics,
		claimTTL:     ttl,
		defaultLimit: DefaultLimit,
		logger:       logger,
	}
	if opts.DefaultLimit != 0 {
		p.defaultLimit = ClampLimit(opts.DefaultLimit)
	}
	return p
}

// Result describes one run. NoWork is set when nothing was waiting.
type Result struct {
	NoWork    bool      `json:"-"`
	SummaryID uuid.UUID `json:"summary_id"`
	Tokens    int       `json:"tokens"`
	Messages  int       `json:"-"`
}

// ClampLimit bounds n to [MinLimit, MaxLimit].
func ClampLimit(n int) int {
	switch {
	case n < MinLimit:
		return MinLimit
	case n > MaxLimit:
		return MaxLimit
	}
	return n
}

// ParseLimit reads a limit query value. Missing or non-numeric input gives
// DefaultLimit; numbers are truncated and clamped, so "0" gives MinLimit.
func ParseLimit(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultLimit
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return DefaultLimit
	}
	f = math.Max(-1, math.Min(MaxLimit, math.Trunc(f)))
	return ClampLimit(int(f))
}

// Run processes up to limit unprocessed messages. On failure the claim is
// released so the same messages are picked up by the next run.
func (p *Processor) Run(ctx context.Context, limit int) (*Result, error) {
	start := time.Now()
	limit = ClampLimit(limit)

	batch, err := p.store.ClaimUnprocessed(ctx, limit, p.claimTTL)
	if err != nil {
		p.metrics.RecordRun(metrics.OutcomeError, time.Since(start), 0, 0, 0)
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	if len(batch.Messages) == 0 {
		p.metrics.RecordRun(metrics.OutcomeNoWork, time.Since(start), 0, 0, 0)
		p.logger.Debug("no new messages")
		return &Result{NoWork: true}, nil
	}

	p.logger.Info("summarizing batch",
		"claim_id", batch.ClaimID,
		"messages", len(batch.Messages),
		"limit", limit,
	)

	commit, err := p.summarize(ctx, batch)
	if err != nil {
		p.release(ctx, batch.ClaimID)
		p.metrics.RecordRun(metrics.OutcomeError, time.Since(start), 0, 0, 0)
		return nil, err
	}

	p.metrics.RecordRun(metrics.OutcomeOK, time.Since(start), len(commit.MessageIDs), len(commit.Tags), len(commit.Insights))
	p.afterCommit(ctx, commit)

	p.logger.Info("batch summarized",
		"summary_id", commit.Summary.ID,
		"messages", len(commit.MessageIDs),
		"tags", len(commit.Tags),
		"tokens", len(commit.Insights),
		"overall_sentiment", commit.Summary.OverallSentiment,
		"duration", time.Since(start),
	)

	return &Result{
		SummaryID: commit.Summary.ID,
		Tokens:    len(commit.Insights),
		Messages:  len(commit.MessageIDs),
	}, nil
}

func (p *Processor) summarize(ctx context.Context, batch *store.Batch) (*store.Commit, error) {
	texts := make([]string, len(batch.Messages))
	var tags []store.Tag
	for i, m := range batch.Messages {
		texts[i] = m.Text
		for _, tok := range tokens.Extract(m.Text) {
			tags = append(tags, store.Tag{MessageID: m.ID, Token: tok})
		}
	}

	excerpts := texts
	if len(excerpts) > extractor.MaxExcerpts {
		excerpts = excerpts[:extractor.MaxExcerpts]
	}
	prompt := extractor.Prompt{
		CandidateTokens: tokens.Extract(strings.Join(texts, "\n")),
		BatchSize:       len(batch.Messages),
		Excerpts:        excerpts,
	}

	callStart := time.Now()
	res, err := p.summarizer.Extract(ctx, prompt)
	p.metrics.RecordProvider(p.summarizer.Provider(), err, time.Since(callStart))
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}

	commit := &store.Commit{
		ClaimID:    batch.ClaimID,
		MessageIDs: batch.IDs(),
		Tags:       tags,
		Summary: store.Summary{
			ID:               uuid.New(),
			Summary:          res.Summary,
			OverallSentiment: res.OverallSentiment,
			TotalMessages:    len(batch.Messages),
			Model:            res.Model,
			CreatedAt:        time.Now().UTC(),
		},
		Insights: make([]store.TokenInsight, len(res.Insights)),
	}
	for i, in := range res.Insights {
		commit.Insights[i] = store.TokenInsight{
			Token:      in.Token,
			Sentiment:  in.Sentiment,
			Confidence: in.Confidence,
			Mentions:   in.Mentions,
			Notes:      in.Notes,
		}
	}

	if err := p.store.CommitBatch(ctx, *commit); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return commit, nil
}

// release runs even when ctx is already cancelled.
func (p *Processor) release(ctx context.Context, claimID uuid.UUID) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.store.ReleaseClaim(rctx, claimID); err != nil {
		p.logger.Error("failed to release claim", "claim_id", claimID, "error", err)
	}
}

func (p *Processor) afterCommit(ctx context.Context, c *store.Commit) {
	if p.publisher != nil {
		toks := make([]string, len(c.Insights))
		for i, in := range c.Insights {
			toks[i] = in.Token
		}
		if err := p.publisher.Publish(events.SubjectSummaryCreated, events.SummaryCreated{
			SummaryID:        c.Summary.ID.String(),
			OverallSentiment: c.Summary.OverallSentiment,
			TotalMessages:    c.Summary.TotalMessages,
			Tokens:           toks,
			Model:            c.Summary.Model,
			CreatedAt:        c.Summary.CreatedAt,
		}); err != nil {
			p.logger.Error("failed to publish summary created", "summary_id", c.Summary.ID, "error", err)
		}
	}

	if p.archiver != nil {
		key, err := p.archiver.Archive(ctx, archive.Snapshot{
			Summary:    c.Summary,
			Insights:   c.Insights,
			MessageIDs: c.MessageIDs,
		})
		if err != nil {
			p.logger.Error("failed to archive summary", "summary_id", c.Summary.ID, "error", err)
		} else {
			p.logger.Debug("summary archived", "summary_id", c.Summary.ID, "key", key)
		}
	}

	if p.notifier != nil {
		if _, err := p.notifier.PostSummary(ctx, c.Summary, c.Insights); err != nil {
			p.logger.Error("failed to post summary digest", "summary_id", c.Summary.ID, "error", err)
		}
	}

	if p.metrics != nil {
		if n, err := p.store.CountUnprocessed(ctx); err == nil {
			p.metrics.SetUnprocessed(n)
		}
	}
}

// HandleSummarizeRequested is the NATS handler for tokenpulse.summarize.requested.
func (p *Processor) HandleSummarizeRequested(subject string, data []byte) {
	req, err := events.ParseSummarizeRequest(data)
	if err != nil {
		p.logger.Warn("failed to parse summarize request", "error", err)
		return
	}
	limit := p.defaultLimit
	if req.Limit != 0 {
		limit = req.Limit
	}

	res, err := p.Run(context.Background(), limit)
	if err != nil {
		p.logger.Error("requested summarize failed", "subject", subject, "error", err)
		return
	}
	if !res.NoWork {
		p.logger.Info("requested summarize done", "summary_id", res.SummaryID, "tokens", res.Tokens)
	}
}

// ConfiguredLimit is the limit used by triggers that carry none.
func (p *Processor) ConfiguredLimit() int {
	return p.defaultLimit
}
