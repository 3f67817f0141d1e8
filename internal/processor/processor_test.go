package processor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MikeSquared-Agency/tokenpulse/internal/archive"
	"github.com/MikeSquared-Agency/tokenpulse/internal/events"
	"github.com/MikeSquared-Agency/tokenpulse/internal/extractor"
	"github.com/MikeSquared-Agency/tokenpulse/internal/llm"
	"github.com/MikeSquared-Agency/tokenpulse/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProvider answers every call with a canned response.
type fakeProvider struct {
	mu      sync.Mutex
	answer  string
	err     error
	calls   int
	prompts []extractor.Prompt
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, system string, messages []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var p extractor.Prompt
	if len(messages) > 0 {
		json.Unmarshal([]byte(messages[0].Content), &p)
	}
	f.prompts = append(f.prompts, p)
	return f.answer, f.err
}

type recordingPublisher struct {
	subjects []string
	payloads []any
}

func (r *recordingPublisher) Publish(subject string, data any) error {
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return nil
}

type recordingArchiver struct {
	snaps []archive.Snapshot
	err   error
}

func (r *recordingArchiver) Archive(ctx context.Context, snap archive.Snapshot) (string, error) {
	r.snaps = append(r.snaps, snap)
	return "key", r.err
}

type recordingNotifier struct {
	posted []store.Summary
	err    error
}

func (r *recordingNotifier) PostSummary(ctx context.Context, sum store.Summary, insights []store.TokenInsight) (string, error) {
	r.posted = append(r.posted, sum)
	return "ts", r.err
}

// testStore is a file-backed SQLite store plus a second read connection
// for asserting on rows the Store interface does not expose.
type testStore struct {
	*store.SQLite
	raw *sql.DB
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proc.db")
	s, err := store.NewSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	raw, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open read connection: %v", err)
	}
	t.Cleanup(func() {
		raw.Close()
		s.Close()
	})
	return &testStore{SQLite: s, raw: raw}
}

func (s *testStore) processed(t *testing.T, id uuid.UUID) bool {
	t.Helper()
	var p bool
	if err := s.raw.QueryRow(`SELECT processed FROM telegram_messages WHERE id = ?`, id.String()).Scan(&p); err != nil {
		t.Fatalf("read message %s: %v", id, err)
	}
	return p
}

func (s *testStore) tags(t *testing.T, id uuid.UUID) []string {
	t.Helper()
	rows, err := s.raw.Query(`SELECT token FROM telegram_message_tokens WHERE message_id = ? ORDER BY id`, id.String())
	if err != nil {
		t.Fatalf("read tags: %v", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			t.Fatalf("scan tag: %v", err)
		}
		out = append(out, tok)
	}
	return out
}

func (s *testStore) summaries(t *testing.T) int {
	t.Helper()
	var n int
	if err := s.raw.QueryRow(`SELECT count(*) FROM telegram_summaries`).Scan(&n); err != nil {
		t.Fatalf("count summaries: %v", err)
	}
	return n
}

var t0 = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func seedMessages(t *testing.T, s *testStore, texts ...string) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, len(texts))
	for i, text := range texts {
		ids[i] = uuid.New()
		if _, err := s.InsertMessage(context.Background(), store.Message{
			ID:            ids[i],
			Source:        store.SourceBot,
			TelegramMsgID: fmt.Sprint(i + 1),
			ChatID:        "-100",
			ChatTitle:     "alpha",
			Text:          text,
			Timestamp:     t0.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return ids
}

func newProcessor(s Store, fp *fakeProvider, opts Options) *Processor {
	return New(s, extractor.New(fp, discardLogger()), opts, discardLogger())
}

const scenarioAnswer = `{"overall_sentiment":"bullish","summary":"BTC momentum, ETH soft","per_token":[{"token":"btc","sentiment":"bullish","confidence":1.4,"mentions":-2,"notes":"pumping"}]}`

func TestRun_EndToEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedMessages(t, s, "$BTC pumping", "ETH looks weak", "just chatting")

	fp := &fakeProvider{answer: scenarioAnswer}
	pub := &recordingPublisher{}
	arc := &recordingArchiver{}
	p := newProcessor(s, fp, Options{Publisher: pub, Archiver: arc})

	res, err := p.Run(ctx, DefaultLimit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NoWork || res.Tokens != 1 || res.Messages != 3 || res.SummaryID == uuid.Nil {
		t.Fatalf("unexpected result %+v", res)
	}

	if fp.calls != 1 {
		t.Fatalf("expected one provider call, got %d", fp.calls)
	}
	prompt := fp.prompts[0]
	if !reflect.DeepEqual(prompt.CandidateTokens, []string{"BTC", "ETH"}) {
		t.Errorf("unexpected candidates %v", prompt.CandidateTokens)
	}
	if prompt.BatchSize != 3 || len(prompt.Excerpts) != 3 || prompt.Excerpts[0] != "$BTC pumping" {
		t.Errorf("unexpected prompt %+v", prompt)
	}

	li, err := s.LatestIntel(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if li.ID != res.SummaryID || li.OverallSentiment != "bullish" || li.TotalMessages != 3 || li.Model != "fake" {
		t.Errorf("unexpected summary %+v", li.Summary)
	}
	if len(li.Insights) != 1 {
		t.Fatalf("expected one insight, got %+v", li.Insights)
	}
	in := li.Insights[0]
	if in.Token != "BTC" || in.Confidence != 1.0 || in.Mentions != 0 || in.Sentiment != "bullish" {
		t.Errorf("unexpected insight %+v", in)
	}

	wantTags := [][]string{{"BTC"}, {"ETH"}, nil}
	for i, id := range ids {
		if !s.processed(t, id) {
			t.Errorf("message %d should be processed", i)
		}
		if tags := s.tags(t, id); !reflect.DeepEqual(tags, wantTags[i]) {
			t.Errorf("message %d: tags %v, want %v", i, tags, wantTags[i])
		}
	}

	if len(pub.subjects) != 1 || pub.subjects[0] != events.SubjectSummaryCreated {
		t.Fatalf("expected one summary.created event, got %v", pub.subjects)
	}
	ev := pub.payloads[0].(events.SummaryCreated)
	if ev.SummaryID != res.SummaryID.String() || !reflect.DeepEqual(ev.Tokens, []string{"BTC"}) {
		t.Errorf("unexpected event %+v", ev)
	}
	if len(arc.snaps) != 1 || len(arc.snaps[0].MessageIDs) != 3 {
		t.Errorf("expected one archived snapshot of 3 messages, got %+v", arc.snaps)
	}
}

func TestRun_NoWork(t *testing.T) {
	s := newTestStore(t)
	fp := &fakeProvider{answer: scenarioAnswer}
	pub := &recordingPublisher{}
	p := newProcessor(s, fp, Options{Publisher: pub})

	res, err := p.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.NoWork {
		t.Errorf("expected no work, got %+v", res)
	}
	if fp.calls != 0 {
		t.Errorf("expected no provider call, got %d", fp.calls)
	}
	if n := s.summaries(t); n != 0 {
		t.Errorf("expected no summaries, got %d", n)
	}
	if len(pub.subjects) != 0 {
		t.Errorf("expected no events, got %v", pub.subjects)
	}
}

func TestRun_MissingPerTokenWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedMessages(t, s, "$BTC pumping", "ETH looks weak")

	fp := &fakeProvider{answer: `{"overall_sentiment":"bullish","summary":"no list"}`}
	p := newProcessor(s, fp, Options{})

	_, err := p.Run(ctx, 10)
	if !errors.Is(err, extractor.ErrMissingPerToken) {
		t.Fatalf("expected ErrMissingPerToken, got %v", err)
	}

	if n := s.summaries(t); n != 0 {
		t.Errorf("expected no summaries, got %d", n)
	}
	for _, id := range ids {
		if s.processed(t, id) {
			t.Errorf("message %s should stay unprocessed", id)
		}
		if tags := s.tags(t, id); len(tags) != 0 {
			t.Errorf("message %s should have no tags, got %v", id, tags)
		}
	}

	// The claim was released, so the next run sees the same batch.
	fp.answer = scenarioAnswer
	res, err := p.Run(ctx, 10)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if res.Messages != 2 {
		t.Errorf("expected the same 2 messages on retry, got %d", res.Messages)
	}
}

func TestRun_ProviderErrorReleasesClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMessages(t, s, "gm", "gn")

	fp := &fakeProvider{err: errors.New("upstream down")}
	p := newProcessor(s, fp, Options{})

	if _, err := p.Run(ctx, 10); err == nil {
		t.Fatal("expected provider error")
	}

	b, err := s.ClaimUnprocessed(ctx, 10, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(b.Messages) != 2 {
		t.Errorf("expected released messages to be claimable, got %d", len(b.Messages))
	}
}

func TestRun_SkipsClaimedMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedMessages(t, s, "$SOL one", "$SOL two", "$SOL three")

	// Another run holds the oldest message.
	other, err := s.ClaimUnprocessed(ctx, 1, time.Minute)
	if err != nil || len(other.Messages) != 1 || other.Messages[0].ID != ids[0] {
		t.Fatalf("setup claim: %+v, %v", other, err)
	}

	fp := &fakeProvider{answer: `{"per_token":[]}`}
	p := newProcessor(s, fp, Options{})

	res, err := p.Run(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Messages != 2 {
		t.Errorf("expected only the 2 unclaimed messages, got %d", res.Messages)
	}
	if s.processed(t, ids[0]) {
		t.Error("message claimed by another run must not be processed")
	}
}

func TestRun_RespectsLimitOldestFirst(t *testing.T) {
	s := newTestStore(t)
	seedMessages(t, s, "a", "b", "c", "d", "e")

	fp := &fakeProvider{answer: `{"per_token":[]}`}
	p := newProcessor(s, fp, Options{})

	res, err := p.Run(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Messages != 2 {
		t.Errorf("expected 2 messages, got %d", res.Messages)
	}
	if got := fp.prompts[0].Excerpts; !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("expected the two oldest excerpts, got %v", got)
	}
}

func TestRun_ArchiveFailureIsNotFatal(t *testing.T) {
	s := newTestStore(t)
	seedMessages(t, s, "$BTC")

	fp := &fakeProvider{answer: scenarioAnswer}
	notifier := &recordingNotifier{err: errors.New("slack down")}
	p := newProcessor(s, fp, Options{
		Archiver: &recordingArchiver{err: errors.New("denied")},
		Notifier: notifier,
	})

	res, err := p.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("archive or notify failure should not fail the run: %v", err)
	}
	if len(notifier.posted) != 1 || notifier.posted[0].ID != res.SummaryID {
		t.Errorf("expected the committed summary to be posted, got %+v", notifier.posted)
	}
}

func TestHandleSummarizeRequested(t *testing.T) {
	s := newTestStore(t)
	seedMessages(t, s, "a", "b", "c")

	fp := &fakeProvider{answer: `{"per_token":[]}`}
	p := newProcessor(s, fp, Options{DefaultLimit: 2})

	p.HandleSummarizeRequested(events.SubjectSummarizeRequested, []byte(`{"limit":1}`))
	if fp.calls != 1 || fp.prompts[0].BatchSize != 1 {
		t.Fatalf("expected one run of 1 message, got %d calls %+v", fp.calls, fp.prompts)
	}

	p.HandleSummarizeRequested(events.SubjectSummarizeRequested, nil)
	if fp.calls != 2 || fp.prompts[1].BatchSize != 2 {
		t.Errorf("expected the configured limit of 2, got %+v", fp.prompts)
	}

	p.HandleSummarizeRequested(events.SubjectSummarizeRequested, []byte(`garbage`))
	if fp.calls != 2 {
		t.Errorf("malformed request should not run, got %d calls", fp.calls)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 1},
		{-5, 1},
		{1, 1},
		{50, 50},
		{200, 200},
		{500, 200},
	}
	for _, tt := range tests {
		if got := ClampLimit(tt.in); got != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestConfiguredLimit(t *testing.T) {
	tests := []struct {
		configured, want int
	}{
		{0, DefaultLimit},
		{-1, 1},
		{25, 25},
		{999, MaxLimit},
	}
	for _, tt := range tests {
		p := New(nil, nil, Options{DefaultLimit: tt.configured}, discardLogger())
		if got := p.ConfiguredLimit(); got != tt.want {
			t.Errorf("ConfiguredLimit() with %d = %d, want %d", tt.configured, got, tt.want)
		}
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 80},
		{"abc", 80},
		{"0", 1},
		{"-0.5", 1},
		{"-3", 1},
		{"12", 12},
		{"12.9", 12},
		{"1e9", 200},
		{" 40 ", 40},
		{"NaN", 80},
	}
	for _, tt := range tests {
		if got := ParseLimit(tt.in); got != tt.want {
			t.Errorf("ParseLimit(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
