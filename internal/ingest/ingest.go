// Package ingest turns Telegram updates into stored messages.
package ingest

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/tokenpulse/internal/metrics"
	"github.com/MikeSquared-Agency/tokenpulse/internal/store"
)

// Allowlist filters chats by id or title. An empty allowlist allows all.
type Allowlist struct {
	entries map[string]struct{}
}

func NewAllowlist(entries []string) *Allowlist {
	a := &Allowlist{entries: make(map[string]struct{})}
	for _, e := range entries {
		if e = strings.TrimSpace(e); e != "" {
			a.entries[e] = struct{}{}
		}
	}
	return a
}

// Allows reports whether any of the chat's ids, or its title, is listed.
func (a *Allowlist) Allows(title string, ids ...string) bool {
	if a == nil || len(a.entries) == 0 {
		return true
	}
	for _, id := range ids {
		if _, ok := a.entries[id]; ok {
			return true
		}
	}
	if title != "" {
		if _, ok := a.entries[title]; ok {
			return true
		}
	}
	return false
}

// Sink stores one message, reporting false for a duplicate natural key.
type Sink interface {
	InsertMessage(ctx context.Context, m store.Message) (bool, error)
}

// Writer applies the shared ingest contract for every listener: drop
// filtered and empty messages, insert the rest once.
type Writer struct {
	sink    Sink
	allow   *Allowlist
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewWriter(sink Sink, allow *Allowlist, m *metrics.Metrics, logger *slog.Logger) *Writer {
	return &Writer{sink: sink, allow: allow, metrics: m, logger: logger}
}

// Write stores m and returns one of the metrics.Ingest* results. altIDs
// are extra chat ids the allowlist may match on.
func (w *Writer) Write(ctx context.Context, m store.Message, altIDs ...string) string {
	result := w.write(ctx, m, altIDs)
	w.metrics.RecordIngest(m.Source, result)
	return result
}

func (w *Writer) write(ctx context.Context, m store.Message, altIDs []string) string {
	if strings.TrimSpace(m.Text) == "" {
		return metrics.IngestFiltered
	}
	if !w.allow.Allows(m.ChatTitle, append([]string{m.ChatID}, altIDs...)...) {
		w.logger.Debug("chat not allowed", "chat_id", m.ChatID, "chat_title", m.ChatTitle)
		return metrics.IngestFiltered
	}

	inserted, err := w.sink.InsertMessage(ctx, m)
	if err != nil {
		w.logger.Error("ingest error", "source", m.Source, "chat_id", m.ChatID, "msg_id", m.TelegramMsgID, "error", err)
		return metrics.IngestError
	}
	if !inserted {
		w.logger.Debug("duplicate message", "source", m.Source, "chat_id", m.ChatID, "msg_id", m.TelegramMsgID)
		return metrics.IngestDuplicate
	}

	w.logger.Info("stored message",
		"source", m.Source,
		"chat_id", m.ChatID,
		"chat_title", m.ChatTitle,
		"preview", preview(m.Text, 80),
	)
	return metrics.IngestInserted
}

func preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}
