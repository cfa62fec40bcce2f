package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestRecordersShowUpInScrape(t *testing.T) {
	m := New("")
	m.JoinAttempt(OutcomeTransient)
	m.JoinAttempt(OutcomeTransient)
	m.JoinAttempt(OutcomeSuccess)
	m.PlayFailure("transport")
	m.CallStarted()
	m.CallStarted()
	m.CallStopped()
	m.StreamEnd("advanced")

	body := scrape(t, m)
	for _, want := range []string{
		`crab_voice_join_attempts_total{outcome="transient"} 2`,
		`crab_voice_join_attempts_total{outcome="success"} 1`,
		`crab_voice_play_failures_total{kind="transport"} 1`,
		`crab_voice_calls_started_total 2`,
		`crab_voice_calls_stopped_total 1`,
		`crab_voice_calls_active 1`,
		`crab_voice_stream_end_notifications_total{result="advanced"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected scrape to contain %q, got:\n%s", want, body)
		}
	}
}

func TestAveragePingGauge(t *testing.T) {
	m := New("voice")
	if err := m.RegisterAveragePing(func() float64 { return 150 }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.RegisterAveragePing(func() float64 { return 1 }); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if body := scrape(t, m); !strings.Contains(body, "voice_pool_average_ping_ms 150") {
		t.Fatalf("expected ping gauge in scrape, got:\n%s", body)
	}
}

func TestInstancesDoNotShareRegistry(t *testing.T) {
	a := New("")
	b := New("")
	a.CallStarted()
	if body := scrape(t, b); strings.Contains(body, "crab_voice_calls_started_total 1") {
		t.Fatalf("expected independent registries")
	}
}
