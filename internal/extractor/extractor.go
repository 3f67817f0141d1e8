package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/MikeSquared-Agency/tokenpulse/internal/llm"
)

var (
	// ErrUnparseable means the provider answer held no JSON object.
	ErrUnparseable = errors.New("AI response not parseable")
	// ErrMissingPerToken means the answer parsed but per_token is not a list.
	ErrMissingPerToken = errors.New("AI response missing per_token")
)

var fenceRe = regexp.MustCompile("(?i)```(?:json)?\\s*([\\s\\S]*?)```")

type Extractor struct {
	llm    llm.Provider
	logger *slog.Logger
}

func New(provider llm.Provider, logger *slog.Logger) *Extractor {
	return &Extractor{llm: provider, logger: logger}
}

// Provider names the backend answers come from.
func (e *Extractor) Provider() string {
	return e.llm.Name()
}

// Extract sends the prompt to the provider and returns the clamped answer.
func (e *Extractor) Extract(ctx context.Context, p Prompt) (*Result, error) {
	if p.CandidateTokens == nil {
		p.CandidateTokens = []string{}
	}
	if len(p.Excerpts) > MaxExcerpts {
		p.Excerpts = p.Excerpts[:MaxExcerpts]
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal prompt: %w", err)
	}

	e.logger.Info("requesting summary",
		"provider", e.llm.Name(),
		"batch_size", p.BatchSize,
		"candidates", len(p.CandidateTokens),
		"excerpts", len(p.Excerpts),
	)

	raw, err := e.llm.Complete(ctx, systemPrompt, []llm.Message{
		{Role: "user", Content: string(payload)},
	})
	if err != nil {
		return nil, fmt.Errorf("llm summary: %w", err)
	}

	res, err := Parse(raw)
	if err != nil {
		e.logger.Error("failed to parse summary response", "error", err, "raw", raw)
		return nil, err
	}
	res.Model = e.llm.Name()

	e.logger.Info("summary parsed",
		"overall_sentiment", res.OverallSentiment,
		"insights", len(res.Insights),
	)
	return res, nil
}

// Parse reads a provider answer. A fenced code block wins over the raw
// text when one is present.
func Parse(raw string) (*Result, error) {
	body := raw
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		body = m[1]
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil || doc == nil {
		return nil, ErrUnparseable
	}

	entries, ok := doc["per_token"].([]any)
	if !ok {
		return nil, ErrMissingPerToken
	}

	res := &Result{
		Summary:          truncate(stringOf(doc["summary"]), maxSummaryLen),
		OverallSentiment: sentimentOf(doc["overall_sentiment"]),
		Insights:         make([]Insight, 0, min(len(entries), MaxInsights)),
	}
	for _, item := range entries {
		if len(res.Insights) == MaxInsights {
			break
		}
		entry, ok := item.(map[string]any)
		if !ok || !truthy(entry["token"]) {
			continue
		}
		ins := normalizeInsight(entry)
		if ins.Token == "" {
			continue
		}
		res.Insights = append(res.Insights, ins)
	}
	return res, nil
}
