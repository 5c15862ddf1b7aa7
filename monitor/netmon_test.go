package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/tourcoin/tourcoin/lib/ledger"
	"github.com/tourcoin/tourcoin/lib/store"
)

type alertSink struct {
	alerts []store.Alert
}

func (s *alertSink) add(a store.Alert) { s.alerts = append(s.alerts, a) }

func (s *alertSink) byKind(kind string) []store.Alert {
	out := []store.Alert{}
	for _, a := range s.alerts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// TestHealthStreak checks the consecutive-probe gate: the critical alert fires on the Nth bad probe, once,
// and re-arms after a recovery.
func TestHealthStreak(t *testing.T) {
	ml := ledger.NewMockLedger()
	ml.Unhealthy = true
	sink := &alertSink{}
	nm := NewNetMonitor(ml, time.Minute, time.Second, 0, 3, sink.add, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if s := nm.Probe(ctx); s.Healthy {
			t.Fatalf("probe %d unexpectedly healthy", i)
		}
	}
	if got := sink.byKind(store.AlertNetHealth); len(got) != 1 || got[0].Severity != store.SeverityCritical {
		t.Fatalf("expected one critical health alert, got %+v", got)
	}

	ml.Unhealthy = false
	if s := nm.Probe(ctx); !s.Healthy {
		t.Fatalf("recovery probe unhealthy: %s", s.Err)
	}
	got := sink.byKind(store.AlertNetHealth)
	if len(got) != 2 || got[1].Severity != store.SeverityInfo {
		t.Fatalf("expected a recovery alert, got %+v", got)
	}

	// the gate re-arms after recovery
	ml.Unhealthy = true
	for i := 0; i < 3; i++ {
		nm.Probe(ctx)
	}
	if got = sink.byKind(store.AlertNetHealth); len(got) != 3 {
		t.Errorf("expected a second critical alert, got %+v", got)
	}
}

// TestGasAlertOncePerExcursion checks the gas alert fires on the upward crossing only and re-arms once the
// price falls back under the threshold.
func TestGasAlertOncePerExcursion(t *testing.T) {
	ml := ledger.NewMockLedger()
	ml.GasPrice = 10000000000 // 10 gwei
	sink := &alertSink{}
	nm := NewNetMonitor(ml, time.Minute, time.Second, 50000000000, 3, sink.add, nil)
	ctx := context.Background()

	nm.Probe(ctx)
	if got := sink.byKind(store.AlertGasPrice); len(got) != 0 {
		t.Fatalf("below threshold must not alert: %+v", got)
	}

	ml.GasPrice = 60000000000
	nm.Probe(ctx)
	nm.Probe(ctx)
	if got := sink.byKind(store.AlertGasPrice); len(got) != 1 || got[0].Severity != store.SeverityWarning {
		t.Fatalf("expected one warning for the excursion, got %+v", got)
	}

	ml.GasPrice = 40000000000
	nm.Probe(ctx)
	ml.GasPrice = 70000000000
	nm.Probe(ctx)
	if got := sink.byKind(store.AlertGasPrice); len(got) != 2 {
		t.Errorf("expected a second warning after re-arming, got %+v", got)
	}
}

// TestResponseBudget marks a probe unhealthy when the node answers slower than the budget.
func TestResponseBudget(t *testing.T) {
	ml := ledger.NewMockLedger()
	ml.Delay = 50 * time.Millisecond
	sink := &alertSink{}
	nm := NewNetMonitor(ml, time.Minute, 10*time.Millisecond, 0, 1, sink.add, nil)

	s := nm.Probe(context.Background())
	if s.Healthy || s.Err == "" {
		t.Fatalf("slow probe reported healthy: %+v", s)
	}
	if got := sink.byKind(store.AlertNetHealth); len(got) != 1 {
		t.Errorf("expected an immediate health alert with unhealthyAfter=1, got %+v", got)
	}
}

// TestSampleWindow checks SamplesSince filtering and LastSample.
func TestSampleWindow(t *testing.T) {
	ml := ledger.NewMockLedger()
	nm := NewNetMonitor(ml, time.Minute, time.Second, 0, 3, func(store.Alert) {}, nil)
	ctx := context.Background()

	if _, ok := nm.LastSample(); ok {
		t.Fatal("fresh monitor has no samples")
	}
	for i := 0; i < 3; i++ {
		nm.Probe(ctx)
	}
	if got := nm.SamplesSince(time.Now().Add(-time.Minute)); len(got) != 3 {
		t.Errorf("expected 3 samples, got %d", len(got))
	}
	if got := nm.SamplesSince(time.Now().Add(time.Minute)); len(got) != 0 {
		t.Errorf("future cutoff returned %d samples", len(got))
	}
	if last, ok := nm.LastSample(); !ok || !last.Healthy {
		t.Errorf("unexpected last sample: %+v %v", last, ok)
	}
}
