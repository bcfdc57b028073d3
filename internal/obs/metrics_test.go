package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
)

func TestMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.TokenIssued("authentication")
	m.TokenIssued("authentication")
	m.TokenValidated("revoked")
	m.TokensRevoked("principal", 3)
	m.TokensRevoked("principal", 0)
	m.AccessChecked(true)
	m.AccessChecked(false)
	m.AccessChecked(false)
	m.ObserveOperation("login", true, time.Now())

	if got := testutil.ToFloat64(m.tokensIssued.WithLabelValues("authentication")); got != 2 {
		t.Fatalf("tokens issued=%v, want 2", got)
	}
	if got := testutil.ToFloat64(m.tokensRevoked.WithLabelValues("principal")); got != 3 {
		t.Fatalf("tokens revoked=%v, want 3", got)
	}
	if got := testutil.ToFloat64(m.accessChecks.WithLabelValues("denied")); got != 2 {
		t.Fatalf("denied checks=%v, want 2", got)
	}
	if n := testutil.CollectAndCount(m.operationDuration); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.TokenIssued("x")
	m.TokenValidated("ok")
	m.TokensRevoked("single", 1)
	m.AccessChecked(true)
	m.ObserveOperation("x", false, time.Now())
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewMetrics(reg); err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if _, err := NewMetrics(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestRegisterBuildInfo(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterBuildInfo(reg, "v1.2.3", "abc123"); err != nil {
		t.Fatalf("RegisterBuildInfo: %v", err)
	}
	if n, err := testutil.GatherAndCount(reg, "keyward_build_info"); err != nil || n != 1 {
		t.Fatalf("build info series=%d err=%v", n, err)
	}
}

func TestNewLoggerRejectsUnknownFormat(t *testing.T) {
	if _, err := NewLogger("info", "xml"); err == nil {
		t.Fatalf("expected format error")
	}
	if _, err := NewLogger("loud", "json"); err == nil {
		t.Fatalf("expected level error")
	}
	l, err := NewLogger("debug", "text")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !l.IsLevelEnabled(logrus.DebugLevel) {
		t.Fatalf("expected debug enabled")
	}
}
