package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)

func seed(t *testing.T, s *SQLite, texts ...string) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, len(texts))
	for i, text := range texts {
		ids[i] = uuid.New()
		ok, err := s.InsertMessage(context.Background(), Message{
			ID:            ids[i],
			Source:        SourceBot,
			TelegramMsgID: fmt.Sprint(i + 1),
			ChatID:        "-100",
			ChatTitle:     "alpha",
			Username:      "trader",
			Text:          text,
			Timestamp:     base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil || !ok {
			t.Fatalf("insert %d: inserted=%v err=%v", i, ok, err)
		}
	}
	return ids
}

func TestSQLite_InsertMessageIsIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	m := Message{Source: SourceBot, TelegramMsgID: "7", ChatID: "-1", Text: "gm", Timestamp: base}
	ok, err := s.InsertMessage(ctx, m)
	if err != nil || !ok {
		t.Fatalf("first insert: inserted=%v err=%v", ok, err)
	}

	ok, err = s.InsertMessage(ctx, m)
	if err != nil {
		t.Fatalf("duplicate insert should not error: %v", err)
	}
	if ok {
		t.Error("duplicate insert should report nothing written")
	}

	m.Source = SourceSession
	if ok, err = s.InsertMessage(ctx, m); err != nil || !ok {
		t.Errorf("same id from another source should insert: inserted=%v err=%v", ok, err)
	}

	n, err := s.CountUnprocessed(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 messages, got %d", n)
	}
}

func TestSQLite_ClaimOldestFirstAndDisjoint(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	ids := seed(t, s, "one", "two", "three")

	first, err := s.ClaimUnprocessed(ctx, 2, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(first.Messages) != 2 || first.Messages[0].ID != ids[0] || first.Messages[1].ID != ids[1] {
		t.Fatalf("expected the two oldest messages, got %+v", first.Messages)
	}
	if !first.Messages[0].Timestamp.Equal(base) {
		t.Errorf("timestamp round trip: got %v", first.Messages[0].Timestamp)
	}

	second, err := s.ClaimUnprocessed(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(second.Messages) != 1 || second.Messages[0].ID != ids[2] {
		t.Fatalf("expected only the unclaimed message, got %+v", second.Messages)
	}
	if second.ClaimID == first.ClaimID {
		t.Error("claims should have distinct ids")
	}

	third, err := s.ClaimUnprocessed(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(third.Messages) != 0 {
		t.Errorf("expected nothing left to claim, got %d", len(third.Messages))
	}
}

func TestSQLite_ReleaseClaim(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	seed(t, s, "one", "two")

	b, err := s.ClaimUnprocessed(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.ReleaseClaim(ctx, b.ClaimID); err != nil {
		t.Fatalf("release: %v", err)
	}

	again, err := s.ClaimUnprocessed(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(again.Messages) != 2 {
		t.Errorf("released messages should be claimable, got %d", len(again.Messages))
	}
}

func TestSQLite_ExpiredClaimIsReclaimed(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	seed(t, s, "one")

	stale, err := s.ClaimUnprocessed(ctx, 10, time.Millisecond)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	fresh, err := s.ClaimUnprocessed(ctx, 10, time.Millisecond)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(fresh.Messages) != 1 {
		t.Fatalf("expected the expired claim to be taken over, got %d", len(fresh.Messages))
	}

	err = s.CommitBatch(ctx, Commit{
		ClaimID:    stale.ClaimID,
		MessageIDs: stale.IDs(),
		Summary:    Summary{ID: uuid.New(), OverallSentiment: "neutral", Model: "openai", CreatedAt: time.Now()},
	})
	if !errors.Is(err, ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost for the stale claim, got %v", err)
	}
	if n, _ := s.countSummaries(ctx); n != 0 {
		t.Errorf("lost claim must not write a summary, got %d", n)
	}
}

func TestSQLite_CommitBatch(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	ids := seed(t, s, "$BTC pumping", "ETH looks weak")

	b, err := s.ClaimUnprocessed(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	sum := Summary{
		ID:               uuid.New(),
		Summary:          "mixed",
		OverallSentiment: "bullish",
		TotalMessages:    2,
		Model:            "openai",
		CreatedAt:        base.Add(time.Hour),
	}
	err = s.CommitBatch(ctx, Commit{
		ClaimID:    b.ClaimID,
		MessageIDs: b.IDs(),
		Tags:       []Tag{{MessageID: ids[0], Token: "BTC"}, {MessageID: ids[1], Token: "ETH"}},
		Summary:    sum,
		Insights: []TokenInsight{
			{Token: "ETH", Sentiment: "bearish", Confidence: 0.6, Mentions: 1, Notes: "weak"},
			{Token: "BTC", Sentiment: "bullish", Confidence: 1, Mentions: 0},
		},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	for _, id := range ids {
		m, err := s.message(ctx, id)
		if err != nil {
			t.Fatalf("get message: %v", err)
		}
		if !m.Processed {
			t.Errorf("message %s should be processed", id)
		}
	}
	tags, err := s.tags(ctx, ids[0])
	if err != nil || len(tags) != 1 || tags[0] != "BTC" {
		t.Errorf("unexpected tags %v (err %v)", tags, err)
	}

	li, err := s.LatestIntel(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if li.ID != sum.ID || li.OverallSentiment != "bullish" || li.TotalMessages != 2 {
		t.Errorf("unexpected summary %+v", li.Summary)
	}
	if !li.CreatedAt.Equal(sum.CreatedAt) {
		t.Errorf("created_at round trip: got %v", li.CreatedAt)
	}
	if len(li.Insights) != 2 || li.Insights[0].Token != "BTC" || li.Insights[1].Token != "ETH" {
		t.Errorf("insights should be ordered by token, got %+v", li.Insights)
	}

	n, err := s.CountUnprocessed(ctx)
	if err != nil || n != 0 {
		t.Errorf("expected no unprocessed messages, got %d (err %v)", n, err)
	}
}

func TestSQLite_LatestIntelEmpty(t *testing.T) {
	s := newTestSQLite(t)
	if _, err := s.LatestIntel(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLite_Mentions(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	var ids []uuid.UUID
	for i, ts := range []time.Time{base, base.Add(10 * time.Minute), base.Add(2 * time.Hour)} {
		id := uuid.New()
		ids = append(ids, id)
		if _, err := s.InsertMessage(ctx, Message{
			ID: id, Source: SourceBot, TelegramMsgID: fmt.Sprint(i), ChatID: "-100", ChatTitle: "alpha", Text: "x", Timestamp: ts,
		}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	b, err := s.ClaimUnprocessed(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	err = s.CommitBatch(ctx, Commit{
		ClaimID:    b.ClaimID,
		MessageIDs: b.IDs(),
		Tags: []Tag{
			{MessageID: ids[0], Token: "BTC"},
			{MessageID: ids[1], Token: "BTC"},
			{MessageID: ids[1], Token: "ETH"},
			{MessageID: ids[2], Token: "BTC"},
		},
		Summary: Summary{ID: uuid.New(), OverallSentiment: "neutral", TotalMessages: 3, Model: "openai", CreatedAt: base},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	hourly, err := s.Mentions(ctx, MentionQuery{Bucket: BucketHour, Since: base.Add(-time.Hour), Token: "BTC"})
	if err != nil {
		t.Fatalf("mentions: %v", err)
	}
	if len(hourly) != 2 {
		t.Fatalf("expected 2 hourly buckets, got %+v", hourly)
	}
	if !hourly[0].Bucket.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) || hourly[0].Mentions != 2 {
		t.Errorf("unexpected first bucket %+v", hourly[0])
	}
	if hourly[0].ChatTitle != "alpha" {
		t.Errorf("expected chat title alpha, got %q", hourly[0].ChatTitle)
	}

	daily, err := s.Mentions(ctx, MentionQuery{Bucket: BucketDay, Since: base.Add(-24 * time.Hour)})
	if err != nil {
		t.Fatalf("mentions: %v", err)
	}
	if len(daily) != 2 {
		t.Fatalf("expected BTC and ETH day buckets, got %+v", daily)
	}
	if daily[0].Token != "BTC" || daily[0].Mentions != 3 || daily[1].Token != "ETH" || daily[1].Mentions != 1 {
		t.Errorf("unexpected daily buckets %+v", daily)
	}

	late, err := s.Mentions(ctx, MentionQuery{Bucket: BucketHour, Since: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("mentions: %v", err)
	}
	if len(late) != 1 || late[0].Mentions != 1 {
		t.Errorf("since should filter older messages, got %+v", late)
	}

	if _, err := s.Mentions(ctx, MentionQuery{Bucket: "week"}); err == nil {
		t.Error("expected error for unknown bucket")
	}
}
