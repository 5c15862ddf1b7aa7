// Package store defines the interface for database implementations to the rewards and monitoring services.
package store

import (
	"errors"
	"time"
)

// DB defines required methods for the transaction indexer, the rewards client and the monitoring service.
//
// UpsertTx has at-most-once semantics keyed by hash: the first write assigns the insertion counter and
// CreatedAt; later writes merge into the existing record. A terminal status (confirmed/failed) is never
// downgraded back to pending — such writes are silently ignored so concurrent backfill and live-confirmation
// writers cannot corrupt a record.
//
// ListTxsByParticipant orders newest-first: pending records first, then (block desc, index-in-block desc,
// insertion order desc), which keeps pagination stable under concurrent inserts.
type DB interface {
	// participants
	PutTourist(t Tourist) error
	GetTourist(id string) (Tourist, error)
	ListTourists() ([]Tourist, error)
	PutRestaurant(r Restaurant) error
	GetRestaurant(id string) (Restaurant, error)

	// transaction records
	UpsertTx(rec TxRecord) error
	GetTx(hash string) (TxRecord, error)
	ListTxsByParticipant(id string, limit, offset int) ([]TxRecord, error)
	ListTxsByStatus(status string) ([]TxRecord, error)
	ListTxsSince(since time.Time) ([]TxRecord, error)

	// alert log (append-only)
	AppendAlert(a Alert) error
	ListAlertsSince(since time.Time) ([]Alert, error)

	// named block checkpoints (backfill resumability)
	SaveCheckpoint(key string, block uint64) error
	LoadCheckpoint(key string) (uint64, error)
}

// Errors returned.
var (
	ErrTxNotFound          = errors.New("transaction was not found in store")
	ErrParticipantNotFound = errors.New("participant was not found in store")
	ErrDataNotFound        = errors.New("data was not found in store")
)

// MaxPageSize bounds ListTxsByParticipant pages.
const MaxPageSize = 100
