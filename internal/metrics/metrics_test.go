package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRun(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRun(OutcomeOK, time.Second, 3, 2, 1)
	m.RecordRun(OutcomeNoWork, time.Millisecond, 0, 0, 0)

	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues(OutcomeOK)); got != 1 {
		t.Errorf("expected 1 ok run, got %v", got)
	}
	if got := testutil.ToFloat64(m.MessagesProcessed); got != 3 {
		t.Errorf("expected 3 processed messages, got %v", got)
	}
	if got := testutil.ToFloat64(m.InsightsWritten); got != 1 {
		t.Errorf("expected 1 insight, got %v", got)
	}
}

func TestRecordIngestAndProvider(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordIngest("bot", IngestInserted)
	m.RecordIngest("bot", IngestDuplicate)
	m.RecordIngest("bot", IngestDuplicate)
	m.RecordProvider("openai", errors.New("boom"), time.Second)

	if got := testutil.ToFloat64(m.IngestTotal.WithLabelValues("bot", IngestDuplicate)); got != 2 {
		t.Errorf("expected 2 duplicates, got %v", got)
	}
	if n := testutil.CollectAndCount(m.ProviderDuration); n != 1 {
		t.Errorf("expected one provider series, got %d", n)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRun(OutcomeError, time.Second, 0, 0, 0)
	m.RecordIngest("bot", IngestError)
	m.RecordProvider("xai", nil, time.Second)
	m.SetUnprocessed(4)
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetUnprocessed(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "tokenpulse_unprocessed_messages 7") {
		t.Errorf("expected gauge in exposition, got:\n%s", body)
	}
}
