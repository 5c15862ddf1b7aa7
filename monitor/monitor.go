// Package monitor implements the network monitoring service: periodic ledger health probes, alerting to the
// alert log, a webhook and an optional message broker, and aggregated system, tourist and restaurant metrics.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tourcoin/tourcoin/indexer"
	"github.com/tourcoin/tourcoin/lib/ledger"
	"github.com/tourcoin/tourcoin/lib/msg"
	"github.com/tourcoin/tourcoin/lib/store"
)

// Service lifecycle states.
const (
	StateStopped int32 = iota
	StateStarting
	StateRunning
	StateStopping
)

func stateName(s int32) string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Config carries the monitor service tunables.
type Config struct {
	Network        string
	WebhookURL     string
	GasAlertWei    uint64
	HealthInterval time.Duration
	ResponseBudget time.Duration
	UnhealthyAfter int
}

// Service owns the network monitor, the pending transaction sweep and the alert pipeline. Alerts from any
// source funnel through a bounded queue into a single dispatch worker so a slow webhook never blocks a probe.
type Service struct {
	db      store.DB
	lg      ledger.Client
	ix      *indexer.Indexer
	mb      msg.MsgBroker // may be nil
	cfg     Config
	nm      *NetMonitor
	metrics *Metrics
	httpc   *http.Client

	state  int32
	alertc chan store.Alert
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles a monitor service. mb may be nil when no broker is configured; metrics may be nil.
func New(db store.DB, lg ledger.Client, ix *indexer.Indexer, mb msg.MsgBroker, cfg Config, metrics *Metrics) *Service {
	s := &Service{
		db:      db,
		lg:      lg,
		ix:      ix,
		mb:      mb,
		cfg:     cfg,
		metrics: metrics,
		httpc:   &http.Client{Timeout: cfg.ResponseBudget},
		alertc:  make(chan store.Alert, 64),
	}
	s.nm = NewNetMonitor(lg, cfg.HealthInterval, cfg.ResponseBudget, cfg.GasAlertWei,
		cfg.UnhealthyAfter, s.Notify, metrics)
	ix.OnFailure(s.notifyTxFailure)
	return s
}

// Start launches the probe loop, the pending sweep and the alert dispatcher. Starting a non-stopped service
// is an error.
func (s *Service) Start() error {
	if !atomic.CompareAndSwapInt32(&s.state, StateStopped, StateStarting) {
		return fmt.Errorf("monitor is %s, not stopped", stateName(atomic.LoadInt32(&s.state)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.dispatch(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.nm.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.ix.Run(ctx, s.cfg.HealthInterval)
	}()

	atomic.StoreInt32(&s.state, StateRunning)
	log.Printf("[%s] monitor started, probing every %v", s.cfg.Network, s.cfg.HealthInterval)
	return nil
}

// Stop cancels the workers and waits for them to drain. Stopping a stopped service is a no-op.
func (s *Service) Stop() {
	if !atomic.CompareAndSwapInt32(&s.state, StateRunning, StateStopping) {
		return
	}
	s.cancel()
	s.wg.Wait()
	atomic.StoreInt32(&s.state, StateStopped)
	log.Printf("[%s] monitor stopped", s.cfg.Network)
}

// Status returns the lifecycle state name.
func (s *Service) Status() string {
	return stateName(atomic.LoadInt32(&s.state))
}

// StatusInfo is the monitor state plus its effective configuration.
type StatusInfo struct {
	Status            string `json:"status"`
	Network           string `json:"network"`
	HealthIntervalMs  int64  `json:"healthIntervalMs"`
	ResponseBudgetMs  int64  `json:"responseBudgetMs"`
	GasAlertWei       uint64 `json:"gasAlertWei"`
	UnhealthyAfter    int    `json:"unhealthyAfter"`
	WebhookConfigured bool   `json:"webhookConfigured"`
}

// StatusInfo reports the lifecycle state and the running configuration.
func (s *Service) StatusInfo() StatusInfo {
	return StatusInfo{
		Status:            s.Status(),
		Network:           s.cfg.Network,
		HealthIntervalMs:  s.cfg.HealthInterval.Milliseconds(),
		ResponseBudgetMs:  s.cfg.ResponseBudget.Milliseconds(),
		GasAlertWei:       s.cfg.GasAlertWei,
		UnhealthyAfter:    s.cfg.UnhealthyAfter,
		WebhookConfigured: s.cfg.WebhookURL != "",
	}
}

// Monitor exposes the network monitor for probe-level queries.
func (s *Service) Monitor() *NetMonitor {
	return s.nm
}

// Notify queues an alert for dispatch. It never blocks: when the queue is full the alert is dropped and
// counted.
func (s *Service) Notify(a store.Alert) {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	select {
	case s.alertc <- a:
	default:
		if s.metrics != nil {
			s.metrics.DroppedAlerts.Inc()
		}
		log.Printf("alert queue full, dropped %s alert", a.Kind)
	}
}

func (s *Service) notifyTxFailure(rec store.TxRecord) {
	s.Notify(store.Alert{
		Kind:     store.AlertTxFailure,
		Severity: store.SeverityWarning,
		Message:  fmt.Sprintf("transaction %s failed: %s", rec.Hash, rec.Reason),
		Details:  map[string]string{"hash": rec.Hash, "type": rec.Type, "reason": rec.Reason},
	})
}

// dispatch is the single alert worker: persist, webhook, broker. Delivery failures are logged, never
// retried; the alert log is the durable record. On shutdown the queue is drained so every alert Notify
// accepted still reaches the log.
func (s *Service) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case a := <-s.alertc:
			s.deliver(ctx, a)
		}
	}
}

func (s *Service) deliver(ctx context.Context, a store.Alert) {
	if s.metrics != nil {
		s.metrics.Alerts.WithLabelValues(a.Kind).Inc()
	}
	if err := s.db.AppendAlert(a); err != nil {
		log.Printf("could not persist %s alert: %v", a.Kind, err)
	}
	if s.cfg.WebhookURL != "" {
		if err := s.postWebhook(ctx, a); err != nil {
			log.Printf("webhook delivery of %s alert failed: %v", a.Kind, err)
		}
	}
	if s.mb != nil {
		if err := s.mb.SendAlert(s.cfg.Network, a); err != nil {
			log.Printf("broker delivery of %s alert failed: %v", a.Kind, err)
		}
	}
}

// drain delivers the alerts still queued when the worker context was cancelled. Delivery runs on a fresh
// context because the worker's is already dead.
func (s *Service) drain() {
	for {
		select {
		case a := <-s.alertc:
			s.deliver(context.Background(), a)
		default:
			return
		}
	}
}

func (s *Service) postWebhook(ctx context.Context, a store.Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// Backfill indexes a historical block range through the indexer.
func (s *Service) Backfill(ctx context.Context, from, to uint64) (int, error) {
	return s.ix.Backfill(ctx, from, to)
}

// SystemMetrics aggregates transaction outcomes, network health and alert volume over the window.
type SystemMetrics struct {
	WindowHours    int     `json:"windowHours"`
	Transactions   int     `json:"transactions"`
	Confirmed      int     `json:"confirmed"`
	Failed         int     `json:"failed"`
	Pending        int     `json:"pending"`
	SuccessRate    float64 `json:"successRate"` // confirmed / terminal
	AvgGasPriceWei uint64  `json:"avgGasPriceWei"`
	AvgRTTMillis   int64   `json:"avgRttMillis"`
	UptimePercent  float64 `json:"uptimePercent"`
	Alerts         int     `json:"alerts"`
	LastBlock      uint64  `json:"lastBlock"`
	Healthy        bool    `json:"healthy"`
}

// SystemMetrics computes the system view over the last windowHours hours.
func (s *Service) SystemMetrics(windowHours int) (SystemMetrics, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	since := time.Now().UTC().Add(-time.Duration(windowHours) * time.Hour)
	out := SystemMetrics{WindowHours: windowHours}

	txs, err := s.db.ListTxsSince(since)
	if err != nil {
		return out, fmt.Errorf("could not list transactions: %w", err)
	}
	var gasSum, gasCount uint64
	for _, rec := range txs {
		out.Transactions++
		switch rec.Status {
		case store.StatusConfirmed:
			out.Confirmed++
		case store.StatusFailed:
			out.Failed++
		default:
			out.Pending++
		}
		if rec.GasPrice > 0 {
			gasSum += rec.GasPrice
			gasCount++
		}
	}
	if terminal := out.Confirmed + out.Failed; terminal > 0 {
		out.SuccessRate = float64(out.Confirmed) / float64(terminal)
	}
	if gasCount > 0 {
		out.AvgGasPriceWei = gasSum / gasCount
	}

	alerts, err := s.db.ListAlertsSince(since)
	if err != nil {
		return out, fmt.Errorf("could not list alerts: %w", err)
	}
	out.Alerts = len(alerts)

	samples := s.nm.SamplesSince(since)
	if len(samples) > 0 {
		var rttSum time.Duration
		healthy := 0
		for _, smp := range samples {
			rttSum += smp.RTT
			if smp.Healthy {
				healthy++
			}
		}
		out.AvgRTTMillis = (rttSum / time.Duration(len(samples))).Milliseconds()
		out.UptimePercent = 100 * float64(healthy) / float64(len(samples))
		last := samples[len(samples)-1]
		out.LastBlock = last.Status.BlockNumber
		out.Healthy = last.Healthy
	}
	return out, nil
}

// CountryStat is one entry of the tourist origin breakdown.
type CountryStat struct {
	Country  string `json:"country"`
	Tourists int    `json:"tourists"`
}

// DailyActive is the count of distinct transacting tourists on one UTC day.
type DailyActive struct {
	Day    string `json:"day"`
	Active int    `json:"active"`
}

// TouristInsights aggregates tourist origin and activity over a day window.
type TouristInsights struct {
	Days         int           `json:"days"`
	Registered   int           `json:"registered"`
	TopCountries []CountryStat `json:"topCountries"`
	DailyActive  []DailyActive `json:"dailyActive"`
}

// TouristInsights computes registration and activity aggregates over the last days days.
func (s *Service) TouristInsights(days int) (TouristInsights, error) {
	if days <= 0 {
		days = 7
	}
	out := TouristInsights{Days: days}

	tourists, err := s.db.ListTourists()
	if err != nil {
		return out, fmt.Errorf("could not list tourists: %w", err)
	}
	out.Registered = len(tourists)

	byCountry := map[string]int{}
	isTourist := map[string]bool{}
	for _, t := range tourists {
		byCountry[t.Country]++
		isTourist[t.ID] = true
	}
	for c, n := range byCountry {
		out.TopCountries = append(out.TopCountries, CountryStat{Country: c, Tourists: n})
	}
	sort.Slice(out.TopCountries, func(i, j int) bool {
		a, b := out.TopCountries[i], out.TopCountries[j]
		if a.Tourists != b.Tourists {
			return a.Tourists > b.Tourists
		}
		return a.Country < b.Country
	})

	since := time.Now().UTC().AddDate(0, 0, -days)
	txs, err := s.db.ListTxsSince(since)
	if err != nil {
		return out, fmt.Errorf("could not list transactions: %w", err)
	}
	activeByDay := map[string]map[string]bool{}
	for _, rec := range txs {
		day := rec.CreatedAt.UTC().Format("2006-01-02")
		for _, id := range []string{rec.FromID, rec.ToID} {
			if id == "" || !isTourist[id] {
				continue
			}
			if activeByDay[day] == nil {
				activeByDay[day] = map[string]bool{}
			}
			activeByDay[day][id] = true
		}
	}
	for day, ids := range activeByDay {
		out.DailyActive = append(out.DailyActive, DailyActive{Day: day, Active: len(ids)})
	}
	sort.Slice(out.DailyActive, func(i, j int) bool { return out.DailyActive[i].Day < out.DailyActive[j].Day })
	return out, nil
}

// RestaurantRank is one entry of the restaurant earnings ranking.
type RestaurantRank struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Received  uint64 `json:"received"` // confirmed transfer volume
	Transfers int    `json:"transfers"`
}

// RestaurantRankings ranks restaurants by confirmed coins received, ties broken by id. limit <= 0 means all.
func (s *Service) RestaurantRankings(limit int) ([]RestaurantRank, error) {
	txs, err := s.db.ListTxsByStatus(store.StatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("could not list confirmed transactions: %w", err)
	}

	byID := map[string]*RestaurantRank{}
	for _, rec := range txs {
		if rec.Type != store.TxTransfer || rec.ToID == "" {
			continue
		}
		r := byID[rec.ToID]
		if r == nil {
			r = &RestaurantRank{ID: rec.ToID}
			byID[rec.ToID] = r
		}
		r.Received += rec.Amount
		r.Transfers++
	}

	out := []RestaurantRank{}
	for id, r := range byID {
		if rest, err := s.db.GetRestaurant(id); err == nil {
			r.Name = rest.Name
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Received != out[j].Received {
			return out[i].Received > out[j].Received
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
