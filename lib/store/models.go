package store

import "time"

// Transaction types recorded by the indexer.
const (
	TxIssuance   = "daily_issuance"
	TxTransfer   = "restaurant_transfer"
	TxExpiration = "expiration"
)

// Transaction statuses. Transitions are pending -> confirmed or pending -> failed only.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Alert kinds raised by the monitoring service.
const (
	AlertGasPrice  = "gas_price"
	AlertNetHealth = "network_health"
	AlertTxFailure = "transaction_failure"
)

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// CheckpointBackfill names the checkpoint holding the last scanned block of the historical backfill.
const CheckpointBackfill = "backfill"

// Tourist is a registered traveler. Immutable once created; the balance is never stored here.
type Tourist struct {
	ID            string    `json:"id" bson:"_id"`
	Country       string    `json:"country" bson:"country"`
	ArrivalDate   time.Time `json:"arrivalDate" bson:"arrivalDate"`
	DepartureDate time.Time `json:"departureDate" bson:"departureDate"`
	Address       string    `json:"address" bson:"address"` // ledger address derived on registration
	RegisteredAt  time.Time `json:"registeredAt" bson:"registeredAt"`
}

// Restaurant is a registered merchant, keyed by its external place id.
type Restaurant struct {
	ID      string `json:"id" bson:"_id"`
	Name    string `json:"name" bson:"name"`
	Address string `json:"address" bson:"address"`
}

// TxRecord is the local record of one ledger transaction, keyed by hash. Records are created pending when a
// write is submitted and mutated only as confirmations arrive; failed records are retained for audit.
type TxRecord struct {
	Hash       string            `json:"hash" bson:"_id"`
	Type       string            `json:"type" bson:"type"`
	From       string            `json:"from" bson:"from"`
	To         string            `json:"to" bson:"to"`
	FromID     string            `json:"fromId" bson:"fromId"` // participant id behind From, when known
	ToID       string            `json:"toId" bson:"toId"`
	Amount     uint64            `json:"amount" bson:"amount"` // token's smallest unit, always > 0
	Status     string            `json:"status" bson:"status"`
	Block      *uint64           `json:"block,omitempty" bson:"block,omitempty"` // present iff confirmed
	BlockIndex uint              `json:"blockIndex" bson:"blockIndex"`
	GasUsed    uint64            `json:"gasUsed" bson:"gasUsed"`
	GasPrice   uint64            `json:"gasPrice" bson:"gasPrice"` // wei
	Fee        uint64            `json:"fee" bson:"fee"`
	ExpiresAt  *time.Time        `json:"expiresAt,omitempty" bson:"expiresAt,omitempty"` // daily_issuance only
	Reason     string            `json:"reason,omitempty" bson:"reason,omitempty"`       // failure reason
	Metadata   map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Seq        uint64            `json:"seq" bson:"seq"` // store-assigned insertion counter
	CreatedAt  time.Time         `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt" bson:"updatedAt"`
}

// Terminal returns true once the record reached a final status.
func (r *TxRecord) Terminal() bool {
	return r.Status == StatusConfirmed || r.Status == StatusFailed
}

// SortBlock is the primary pagination key: pending records (no block yet) sort before everything else,
// confirmed records newest block first.
func (r *TxRecord) SortBlock() int64 {
	if r.Block == nil {
		return int64(^uint64(0) >> 1) // max int64
	}
	return int64(*r.Block)
}

// Alert is a write-once monitoring event.
type Alert struct {
	Kind     string            `json:"kind" bson:"kind"`
	Severity string            `json:"severity" bson:"severity"`
	Message  string            `json:"message" bson:"message"`
	Details  map[string]string `json:"details,omitempty" bson:"details,omitempty"`
	At       time.Time         `json:"at" bson:"at"`
}
