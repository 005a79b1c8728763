package obs

import (
	"bytes"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRateLimitedLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewRateLimitedLogger(zerolog.New(&buf), time.Minute)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	l.Warn().Msg("origin unreachable")
	l.Warn().Msg("origin unreachable")
	l.Warn().Msg("origin unreachable")
	if n := strings.Count(buf.String(), "origin unreachable"); n != 1 {
		t.Fatalf("logged %d lines, want 1", n)
	}

	now = now.Add(2 * time.Minute)
	l.Warn().Msg("origin unreachable")
	out := buf.String()
	if n := strings.Count(out, "origin unreachable"); n != 2 {
		t.Fatalf("logged %d lines, want 2", n)
	}
	if !strings.Contains(out, `"suppressed":2`) {
		t.Fatalf("suppressed count missing: %s", out)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := NewLogger(LogConfig{Level: "warn", Out: &buf})
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}

	if _, _, err := NewLogger(LogConfig{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordEnqueue()
	m.RecordReplay("delivered")
	m.SetQueueDepth(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"edge_queue_enqueued_total 1", "edge_queue_depth 3", `edge_replay_attempts_total{result="delivered"} 1`, "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}

	var nilMetrics *Metrics
	nilMetrics.RecordEnqueue()
	rec = httptest.NewRecorder()
	nilMetrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 503 {
		t.Fatalf("nil metrics handler status = %d", rec.Code)
	}
}
