package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tourcoin/tourcoin/lib/ledger"
	"github.com/tourcoin/tourcoin/lib/store"
)

// windowCap bounds the rolling sample window (48h of 30s samples).
const windowCap = 5760

// Sample is one health probe of the ledger network.
type Sample struct {
	At      time.Time
	RTT     time.Duration
	Status  ledger.NetworkStatus
	Healthy bool // the probe verdict, RPC budget included
	Err     string
}

// NetMonitor probes the ledger on a fixed interval and raises alerts through the sink it was given. A probe
// counts as unhealthy when the RPC fails, exceeds the response budget, or the node reports itself unhealthy.
// The health alert fires only after unhealthyAfter consecutive bad probes and re-arms on recovery; the gas
// alert fires once per excursion above the threshold.
type NetMonitor struct {
	lg             ledger.Client
	interval       time.Duration
	budget         time.Duration
	gasAlertWei    uint64
	unhealthyAfter int
	sink           func(store.Alert)
	metrics        *Metrics

	mu            sync.Mutex
	window        []Sample
	badStreak     int
	healthAlerted bool
	gasAlerted    bool
}

// NewNetMonitor builds a monitor. sink must not block.
func NewNetMonitor(lg ledger.Client, interval, budget time.Duration, gasAlertWei uint64,
	unhealthyAfter int, sink func(store.Alert), metrics *Metrics) *NetMonitor {
	if unhealthyAfter < 1 {
		unhealthyAfter = 1
	}
	return &NetMonitor{
		lg:             lg,
		interval:       interval,
		budget:         budget,
		gasAlertWei:    gasAlertWei,
		unhealthyAfter: unhealthyAfter,
		sink:           sink,
		metrics:        metrics,
	}
}

// Probe takes one sample, updates the rolling window and fires whatever alerts the sample warrants.
func (n *NetMonitor) Probe(ctx context.Context) Sample {
	cctx, cancel := context.WithTimeout(ctx, n.budget)
	defer cancel()

	begin := time.Now()
	status, err := n.lg.NetworkStatus(cctx)
	rtt := time.Since(begin)

	s := Sample{At: begin, RTT: rtt, Status: status}
	switch {
	case err != nil:
		s.Err = err.Error()
	case rtt > n.budget:
		s.Err = fmt.Sprintf("response took %v, budget is %v", rtt, n.budget)
	case !status.Healthy:
		s.Err = "node reports unhealthy"
	default:
		s.Healthy = true
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.window = append(n.window, s)
	if len(n.window) > windowCap {
		n.window = n.window[len(n.window)-windowCap:]
	}
	n.observe(s)

	if s.Healthy {
		if n.healthAlerted {
			n.sink(store.Alert{
				Kind:     store.AlertNetHealth,
				Severity: store.SeverityInfo,
				Message:  "ledger network recovered",
				Details:  map[string]string{"block": fmt.Sprint(status.BlockNumber)},
				At:       time.Now().UTC(),
			})
		}
		n.badStreak = 0
		n.healthAlerted = false
		n.checkGas(status)
		return s
	}

	n.badStreak++
	if n.badStreak >= n.unhealthyAfter && !n.healthAlerted {
		n.healthAlerted = true
		n.sink(store.Alert{
			Kind:     store.AlertNetHealth,
			Severity: store.SeverityCritical,
			Message:  fmt.Sprintf("ledger network unhealthy for %d consecutive probes", n.badStreak),
			Details:  map[string]string{"last_error": s.Err},
			At:       time.Now().UTC(),
		})
	}
	return s
}

// checkGas raises the gas price alert on an upward threshold crossing. Held locked by Probe.
func (n *NetMonitor) checkGas(status ledger.NetworkStatus) {
	if n.gasAlertWei == 0 {
		return
	}
	if status.GasPrice >= n.gasAlertWei {
		if !n.gasAlerted {
			n.gasAlerted = true
			n.sink(store.Alert{
				Kind:     store.AlertGasPrice,
				Severity: store.SeverityWarning,
				Message:  fmt.Sprintf("gas price %d wei at or above the %d wei threshold", status.GasPrice, n.gasAlertWei),
				Details:  map[string]string{"gas_price_wei": fmt.Sprint(status.GasPrice)},
				At:       time.Now().UTC(),
			})
		}
		return
	}
	n.gasAlerted = false
}

func (n *NetMonitor) observe(s Sample) {
	if n.metrics == nil {
		return
	}
	if s.Healthy {
		n.metrics.NetworkHealthy.Set(1)
	} else {
		n.metrics.NetworkHealthy.Set(0)
	}
	if s.Err == "" || s.Status.BlockNumber > 0 {
		n.metrics.BlockHeight.Set(float64(s.Status.BlockNumber))
		n.metrics.GasPriceGwei.Set(float64(s.Status.GasPrice) / 1e9)
	}
	n.metrics.RPCLatency.Observe(s.RTT.Seconds())
}

// Run probes at the configured interval until the context is cancelled.
func (n *NetMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := n.Probe(ctx)
			if !s.Healthy {
				log.Printf("health probe failed: %s", s.Err)
			}
		}
	}
}

// SamplesSince returns the samples taken at or after since, oldest first.
func (n *NetMonitor) SamplesSince(since time.Time) []Sample {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := []Sample{}
	for _, s := range n.window {
		if !s.At.Before(since) {
			out = append(out, s)
		}
	}
	return out
}

// LastSample returns the most recent sample, if any.
func (n *NetMonitor) LastSample() (Sample, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.window) == 0 {
		return Sample{}, false
	}
	return n.window[len(n.window)-1], true
}
