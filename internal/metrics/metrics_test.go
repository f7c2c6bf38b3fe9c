package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Escalation("created")
	m.Escalation("created")
	m.Escalation("resolved")
	m.Notification("slack", false)

	if got := testutil.ToFloat64(m.escalations.WithLabelValues("created")); got != 2 {
		t.Errorf("created = %v", got)
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues("slack", "failure")); got != 1 {
		t.Errorf("slack failures = %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Call("started")
	m.Question("rule")
	m.Escalation("expired")
	m.Notification("log", true)
	m.BridgeState(2)
	m.BridgeReconnect()
	m.ObserveSweep(time.Second)
}

func TestHandler(t *testing.T) {
	m := New()
	m.BridgeState(2)
	m.Question("knowledge")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		"frontdesk_bridge_state 2",
		`frontdesk_questions_total{source="knowledge"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("missing %q in exposition", want)
		}
	}
}
