package monitor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tourcoin/tourcoin/indexer"
	"github.com/tourcoin/tourcoin/lib/ledger"
	"github.com/tourcoin/tourcoin/lib/store"
	"github.com/tourcoin/tourcoin/lib/store/memory"
)

func newTestService(t *testing.T, cfg Config) (*Service, *ledger.MockLedger, store.DB) {
	t.Helper()
	if cfg.Network == "" {
		cfg.Network = "mocknet"
	}
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = time.Hour // keep the probe loop quiet unless a test wants it
	}
	if cfg.ResponseBudget == 0 {
		cfg.ResponseBudget = time.Second
	}
	if cfg.UnhealthyAfter == 0 {
		cfg.UnhealthyAfter = 3
	}
	ml := ledger.NewMockLedger()
	db := memory.New()
	ix := indexer.New(db, ml, cfg.Network, 500)
	m := NewMetrics(prometheus.NewRegistry())
	return New(db, ml, ix, nil, cfg, m), ml, db
}

// TestLifecycle walks the service through start, double start, stop and idempotent stop.
func TestLifecycle(t *testing.T) {
	s, _, _ := newTestService(t, Config{})

	if got := s.Status(); got != "stopped" {
		t.Fatalf("fresh service is %s", got)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if got := s.Status(); got != "running" {
		t.Fatalf("started service is %s", got)
	}
	if err := s.Start(); err == nil {
		t.Error("second start must fail")
	}

	s.Stop()
	if got := s.Status(); got != "stopped" {
		t.Fatalf("stopped service is %s", got)
	}
	s.Stop() // no-op
}

// TestAlertPipeline checks a notified alert reaches the alert log and the webhook exactly once.
func TestAlertPipeline(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, _, db := newTestService(t, Config{WebhookURL: srv.URL})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	s.Notify(store.Alert{
		Kind:     store.AlertGasPrice,
		Severity: store.SeverityWarning,
		Message:  "gas spike",
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		alerts, err := db.ListAlertsSince(time.Now().Add(-time.Minute))
		if err != nil {
			t.Fatal(err)
		}
		if len(alerts) == 1 {
			if alerts[0].Kind != store.AlertGasPrice || alerts[0].At.IsZero() {
				t.Fatalf("unexpected alert: %+v", alerts[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("alert never reached the log")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("webhook hit %d times", n)
	}
}

// TestStopDrainsQueuedAlerts checks that alerts accepted before shutdown still reach the durable log.
func TestStopDrainsQueuedAlerts(t *testing.T) {
	s, _, db := newTestService(t, Config{})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		s.Notify(store.Alert{
			Kind:     store.AlertGasPrice,
			Severity: store.SeverityWarning,
			Message:  fmt.Sprintf("spike %d", i),
		})
	}
	s.Stop()

	alerts, err := db.ListAlertsSince(time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 5 {
		t.Errorf("%d of 5 alerts reached the log", len(alerts))
	}
}

// TestSystemMetrics aggregates a mixed bag of transactions plus one probe sample.
func TestSystemMetrics(t *testing.T) {
	s, _, db := newTestService(t, Config{})

	block := uint64(120)
	seed := []store.TxRecord{
		{Hash: "0xa1", Type: store.TxIssuance, ToID: "T1", Amount: 10, Status: store.StatusConfirmed, Block: &block, GasPrice: 2000000000},
		{Hash: "0xa2", Type: store.TxTransfer, FromID: "T1", ToID: "M1", Amount: 4, Status: store.StatusConfirmed, Block: &block, GasPrice: 4000000000},
		{Hash: "0xa3", Type: store.TxTransfer, FromID: "T1", ToID: "M1", Amount: 4, Status: store.StatusFailed, Block: &block, Reason: "nope"},
		{Hash: "0xa4", Type: store.TxTransfer, FromID: "T1", ToID: "M2", Amount: 1, Status: store.StatusPending},
	}
	for _, rec := range seed {
		if err := db.UpsertTx(rec); err != nil {
			t.Fatal(err)
		}
	}
	s.Monitor().Probe(context.Background())

	got, err := s.SystemMetrics(24)
	if err != nil {
		t.Fatal(err)
	}
	if got.Transactions != 4 || got.Confirmed != 2 || got.Failed != 1 || got.Pending != 1 {
		t.Errorf("counts: %+v", got)
	}
	if got.SuccessRate < 0.66 || got.SuccessRate > 0.67 {
		t.Errorf("success rate %f", got.SuccessRate)
	}
	if got.AvgGasPriceWei != 3000000000 {
		t.Errorf("avg gas price %d", got.AvgGasPriceWei)
	}
	if got.UptimePercent != 100 || !got.Healthy || got.LastBlock == 0 {
		t.Errorf("health summary: %+v", got)
	}
}

// TestTouristInsights checks country ranking and daily active tourist counts.
func TestTouristInsights(t *testing.T) {
	s, _, db := newTestService(t, Config{})

	now := time.Now().UTC()
	tourists := []store.Tourist{
		{ID: "T1", Country: "ES", ArrivalDate: now, DepartureDate: now.AddDate(0, 0, 5)},
		{ID: "T2", Country: "ES", ArrivalDate: now, DepartureDate: now.AddDate(0, 0, 5)},
		{ID: "T3", Country: "FR", ArrivalDate: now, DepartureDate: now.AddDate(0, 0, 5)},
	}
	for _, tr := range tourists {
		if err := db.PutTourist(tr); err != nil {
			t.Fatal(err)
		}
	}
	block := uint64(10)
	txs := []store.TxRecord{
		{Hash: "0xb1", Type: store.TxIssuance, ToID: "T1", Status: store.StatusConfirmed, Block: &block},
		{Hash: "0xb2", Type: store.TxTransfer, FromID: "T1", ToID: "M1", Status: store.StatusConfirmed, Block: &block},
		{Hash: "0xb3", Type: store.TxIssuance, ToID: "T2", Status: store.StatusConfirmed, Block: &block},
	}
	for _, rec := range txs {
		if err := db.UpsertTx(rec); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.TouristInsights(7)
	if err != nil {
		t.Fatal(err)
	}
	if got.Registered != 3 {
		t.Errorf("registered %d", got.Registered)
	}
	if len(got.TopCountries) != 2 || got.TopCountries[0].Country != "ES" || got.TopCountries[0].Tourists != 2 {
		t.Errorf("top countries: %+v", got.TopCountries)
	}
	day := now.Format("2006-01-02")
	if len(got.DailyActive) != 1 || got.DailyActive[0].Day != day || got.DailyActive[0].Active != 2 {
		t.Errorf("daily active: %+v", got.DailyActive)
	}
}

// TestRestaurantRankings ranks by confirmed volume with id tie-breaks and honors the limit.
func TestRestaurantRankings(t *testing.T) {
	s, _, db := newTestService(t, Config{})

	if err := db.PutRestaurant(store.Restaurant{ID: "M1", Name: "Casa Paco", Address: "0x1"}); err != nil {
		t.Fatal(err)
	}
	if err := db.PutRestaurant(store.Restaurant{ID: "M2", Name: "La Perla", Address: "0x2"}); err != nil {
		t.Fatal(err)
	}

	block := uint64(10)
	txs := []store.TxRecord{
		{Hash: "0xc1", Type: store.TxTransfer, FromID: "T1", ToID: "M1", Amount: 6, Status: store.StatusConfirmed, Block: &block},
		{Hash: "0xc2", Type: store.TxTransfer, FromID: "T1", ToID: "M2", Amount: 4, Status: store.StatusConfirmed, Block: &block},
		{Hash: "0xc3", Type: store.TxTransfer, FromID: "T2", ToID: "M2", Amount: 2, Status: store.StatusConfirmed, Block: &block},
		{Hash: "0xc4", Type: store.TxTransfer, FromID: "T2", ToID: "M3", Amount: 6, Status: store.StatusConfirmed, Block: &block},
		{Hash: "0xc5", Type: store.TxTransfer, FromID: "T2", ToID: "M1", Amount: 50, Status: store.StatusFailed, Block: &block},
		{Hash: "0xc6", Type: store.TxIssuance, ToID: "T1", Amount: 10, Status: store.StatusConfirmed, Block: &block},
	}
	for _, rec := range txs {
		if err := db.UpsertTx(rec); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.RestaurantRankings(0)
	if err != nil {
		t.Fatal(err)
	}
	// M1 and M3 tie at 6, M1 wins on id; M2 follows with 6 split over two transfers
	if len(got) != 3 || got[0].ID != "M1" || got[1].ID != "M2" || got[2].ID != "M3" {
		t.Fatalf("ranking order: %+v", got)
	}
	if got[0].Name != "Casa Paco" || got[0].Received != 6 || got[0].Transfers != 1 {
		t.Errorf("M1 entry: %+v", got[0])
	}
	if got[1].Received != 6 || got[1].Transfers != 2 || got[2].Name != "" {
		t.Errorf("M2/M3 entries: %+v", got[1:])
	}

	if got, err = s.RestaurantRankings(1); err != nil || len(got) != 1 || got[0].ID != "M1" {
		t.Errorf("limited ranking: %+v %v", got, err)
	}
}
