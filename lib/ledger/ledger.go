// Package ledger defines the client interface to the external token ledger. The ledger is the source of
// truth: writes return a transaction hash immediately and must be polled for confirmation, reads are safe to
// retry. The package never blocks until confirmation on behalf of a caller.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Transaction statuses as reported by ledger receipts.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Operations accepted by EstimateGas.
const (
	OpRegisterTourist    = "register_tourist"
	OpRegisterRestaurant = "register_restaurant"
	OpIssuance           = "daily_issuance"
	OpTransfer           = "restaurant_transfer"
)

// IssuanceValidity is how long issued daily coins remain spendable.
const IssuanceValidity = 14 * 24 * time.Hour

// Errors returned. Network failures are returned wrapped and do not match any of these sentinels; writes must
// not be blindly retried on them because re-submission could double-spend.
var (
	ErrRejected  = errors.New("ledger rejected the operation")
	ErrNotFound  = errors.New("not found on the ledger")
	ErrMalformed = errors.New("malformed input")
)

// RegisterResult is the outcome of a participant registration write.
type RegisterResult struct {
	Address string `json:"address"` // ledger address derived by the program
	Hash    string `json:"txHash"`
}

// IssueResult is the outcome of a daily issuance write.
type IssueResult struct {
	Hash      string    `json:"txHash"`
	Amount    uint64    `json:"amount"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Receipt is the confirmation state of a submitted transaction. A nil receipt means the ledger does not know
// the hash (yet).
type Receipt struct {
	Hash       string `json:"hash"`
	Status     string `json:"status"`
	Block      uint64 `json:"block"` // meaningful once terminal
	BlockIndex uint   `json:"blockIndex"`
	GasUsed    uint64 `json:"gasUsed"`
	GasPrice   uint64 `json:"gasPrice"`
	Fee        uint64 `json:"fee"`
	Reason     string `json:"reason,omitempty"` // failure reason when failed
}

// NetworkStatus is a point-in-time view of ledger health.
type NetworkStatus struct {
	Network     string `json:"network"`
	BlockNumber uint64 `json:"blockNumber"`
	GasPrice    uint64 `json:"gasPrice"` // wei
	Healthy     bool   `json:"healthy"`
}

// GasEstimate is the predicted cost of an operation.
type GasEstimate struct {
	GasUnits uint64 `json:"gasUnits"`
	GasPrice uint64 `json:"gasPrice"` // wei
	Cost     uint64 `json:"costEstimate"`
}

// Event is one entry of the token program's event log, used by the historical backfill.
type Event struct {
	Hash       string     `json:"hash"`
	Type       string     `json:"type"` // daily_issuance | restaurant_transfer | expiration
	From       string     `json:"from"`
	To         string     `json:"to"`
	FromID     string     `json:"fromId"`
	ToID       string     `json:"toId"`
	Amount     uint64     `json:"amount"`
	Block      uint64     `json:"block"`
	BlockIndex uint       `json:"blockIndex"`
	GasUsed    uint64     `json:"gasUsed"`
	GasPrice   uint64     `json:"gasPrice"`
	Fee        uint64     `json:"fee"`
	Status     string     `json:"status"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// Client is the narrow contract against the external ledger. Implementations own no business state.
type Client interface {
	RegisterTourist(ctx context.Context, id, country string, arrival, departure time.Time) (RegisterResult, error)
	RegisterRestaurant(ctx context.Context, id, name string) (RegisterResult, error)
	IssueDailyCoins(ctx context.Context, touristID string) (IssueResult, error)
	Transfer(ctx context.Context, touristID, restaurantID string, amount uint64) (string, error)
	Balance(ctx context.Context, participantID string) (uint64, string, error)
	TransactionReceipt(ctx context.Context, hash string) (*Receipt, error)
	NetworkStatus(ctx context.Context) (NetworkStatus, error)
	EstimateGas(ctx context.Context, operation string, amount uint64) (GasEstimate, error)
	Events(ctx context.Context, fromBlock, toBlock uint64) ([]Event, error)
	Close()
}
