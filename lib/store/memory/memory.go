// Package memory implements the store interface in process memory. It backs single-node deployments and the
// test suites; the record arena is a map keyed by transaction hash with ordering computed on read.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/tourcoin/tourcoin/lib/store"
	"github.com/tourcoin/tourcoin/lib/util"
)

// Memory implements store.DB without external dependencies. Safe for concurrent use.
type Memory struct {
	mu          sync.RWMutex
	tourists    map[string]store.Tourist
	restaurants map[string]store.Restaurant
	txs         map[string]store.TxRecord
	alerts      []store.Alert
	checkpoints map[string]uint64
	seq         uint64
}

// New returns an empty in-memory store.
func New() *Memory {
	return &Memory{
		tourists:    make(map[string]store.Tourist),
		restaurants: make(map[string]store.Restaurant),
		txs:         make(map[string]store.TxRecord),
		checkpoints: make(map[string]uint64),
	}
}

// Close is a no-op, present for symmetry with the db package dispatch.
func (m *Memory) Close() error { return nil }

// PutTourist saves a tourist record.
func (m *Memory) PutTourist(t store.Tourist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tourists[t.ID] = t
	return nil
}

// GetTourist returns the tourist or store.ErrParticipantNotFound.
func (m *Memory) GetTourist(id string) (store.Tourist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tourists[id]
	if !ok {
		return store.Tourist{}, store.ErrParticipantNotFound
	}
	return t, nil
}

// ListTourists returns all registered tourists.
func (m *Memory) ListTourists() ([]store.Tourist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]store.Tourist, 0, len(m.tourists))
	for _, t := range m.tourists {
		out = append(out, t)
	}
	return out, nil
}

// PutRestaurant saves a restaurant record.
func (m *Memory) PutRestaurant(r store.Restaurant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restaurants[r.ID] = r
	return nil
}

// GetRestaurant returns the restaurant or store.ErrParticipantNotFound.
func (m *Memory) GetRestaurant(id string) (store.Restaurant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.restaurants[id]
	if !ok {
		return store.Restaurant{}, store.ErrParticipantNotFound
	}
	return r, nil
}

// UpsertTx merges rec into the arena keyed by hash. Terminal statuses are never downgraded.
func (m *Memory) UpsertTx(rec store.TxRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	old, ok := m.txs[rec.Hash]
	if !ok {
		m.seq++
		rec.Seq = m.seq
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		m.txs[rec.Hash] = rec
		return nil
	}
	if old.Terminal() && rec.Status == store.StatusPending {
		// a stale pending write must not rewind a terminal record
		return nil
	}
	rec.Seq = old.Seq
	rec.CreatedAt = old.CreatedAt
	rec.UpdatedAt = now
	if rec.ExpiresAt == nil {
		rec.ExpiresAt = old.ExpiresAt
	}
	if rec.Metadata == nil {
		rec.Metadata = old.Metadata
	}
	m.txs[rec.Hash] = rec
	return nil
}

// GetTx returns the record for hash or store.ErrTxNotFound.
func (m *Memory) GetTx(hash string) (store.TxRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.txs[hash]
	if !ok {
		return store.TxRecord{}, store.ErrTxNotFound
	}
	return rec, nil
}

// ListTxsByParticipant returns the participant's records newest first (see store.DB for the ordering key).
func (m *Memory) ListTxsByParticipant(id string, limit, offset int) ([]store.TxRecord, error) {
	m.mu.RLock()
	matches := make([]store.TxRecord, 0, 8)
	for _, rec := range m.txs {
		if rec.FromID == id || rec.ToID == id {
			matches = append(matches, rec)
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(matches)

	limit, offset = util.ClampPage(limit, offset, store.MaxPageSize)
	if offset >= len(matches) {
		return []store.TxRecord{}, nil
	}
	end := offset + limit
	if end > len(matches) {
		end = len(matches)
	}
	return matches[offset:end], nil
}

// ListTxsByStatus returns every record currently in the given status.
func (m *Memory) ListTxsByStatus(status string) ([]store.TxRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]store.TxRecord, 0, 8)
	for _, rec := range m.txs {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListTxsSince returns records created at or after since.
func (m *Memory) ListTxsSince(since time.Time) ([]store.TxRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]store.TxRecord, 0, 8)
	for _, rec := range m.txs {
		if !rec.CreatedAt.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// AppendAlert appends to the alert log.
func (m *Memory) AppendAlert(a store.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

// ListAlertsSince returns alerts recorded at or after since.
func (m *Memory) ListAlertsSince(since time.Time) ([]store.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]store.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if !a.At.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

// SaveCheckpoint stores the named block checkpoint.
func (m *Memory) SaveCheckpoint(key string, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[key] = block
	return nil
}

// LoadCheckpoint returns the named checkpoint or store.ErrDataNotFound.
func (m *Memory) LoadCheckpoint(key string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	block, ok := m.checkpoints[key]
	if !ok {
		return 0, store.ErrDataNotFound
	}
	return block, nil
}

func sortNewestFirst(recs []store.TxRecord) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := &recs[i], &recs[j]
		if a.SortBlock() != b.SortBlock() {
			return a.SortBlock() > b.SortBlock()
		}
		if a.BlockIndex != b.BlockIndex {
			return a.BlockIndex > b.BlockIndex
		}
		return a.Seq > b.Seq
	})
}
