// Package rewards implements the travel rewards service: tourist and restaurant registration, daily coin
// issuance, restaurant transfers, balance and transaction queries, and the RESTful API that exposes them.
// All validation happens before any ledger or database I/O.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/tourcoin/tourcoin/indexer"
	"github.com/tourcoin/tourcoin/lib/ledger"
	"github.com/tourcoin/tourcoin/lib/store"
)

// Confirmation wait parameter minimums in milliseconds. Lower values are rejected, not clamped, so a caller
// cannot accidentally busy-poll the ledger.
const (
	MinWaitTimeoutMs = 1000
	MinWaitPollMs    = 1000
)

var (
	reHash    = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	reID      = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)
	reCountry = regexp.MustCompile(`^[A-Z]{2}$`)
)

// Client implements the rewards operations on top of the store, the ledger and the transaction index.
type Client struct {
	db          store.DB
	lg          ledger.Client
	ix          *indexer.Indexer
	dailyAmount uint64
	dailyCap    uint64
}

// NewClient builds a rewards client. dailyCap bounds the coins one tourist may send one restaurant per UTC
// day.
func NewClient(db store.DB, lg ledger.Client, ix *indexer.Indexer, dailyAmount, dailyCap uint64) *Client {
	return &Client{db: db, lg: lg, ix: ix, dailyAmount: dailyAmount, dailyCap: dailyCap}
}

// mapLedgerErr folds ledger sentinel errors into the client taxonomy.
func mapLedgerErr(err error, rejectedCode, notFoundCode string) error {
	switch {
	case errors.Is(err, ledger.ErrMalformed):
		return errValidation(CodeInvalidRequest, "ledger refused the request: %v", err)
	case errors.Is(err, ledger.ErrRejected):
		return errBusinessRule(rejectedCode, "ledger rejected the operation: %v", err)
	case errors.Is(err, ledger.ErrNotFound):
		return errNotFound(notFoundCode, "unknown to the ledger: %v", err)
	default:
		return errNetwork(err, "ledger unavailable")
	}
}

// RegisterTourist registers a tourist, derives their ledger address and stores the profile. The registration
// transaction is indexed pending.
func (c *Client) RegisterTourist(ctx context.Context, id, country string, arrival, departure time.Time) (store.Tourist, error) {
	if !reID.MatchString(id) {
		return store.Tourist{}, errValidation(CodeInvalidID, "tourist id %q is not a valid identifier", id)
	}
	if !reCountry.MatchString(country) {
		return store.Tourist{}, errValidation(CodeInvalidCountry, "country %q is not an ISO 3166-1 alpha-2 code", country)
	}
	if arrival.IsZero() || departure.IsZero() || !departure.After(arrival) {
		return store.Tourist{}, errValidation(CodeInvalidDates, "departure must be after arrival")
	}
	if _, err := c.db.GetTourist(id); err == nil {
		return store.Tourist{}, errBusinessRule(CodeAlreadyRegistered, "tourist %s is already registered", id)
	} else if !errors.Is(err, store.ErrParticipantNotFound) {
		return store.Tourist{}, err
	}

	res, err := c.lg.RegisterTourist(ctx, id, country, arrival, departure)
	if err != nil {
		return store.Tourist{}, mapLedgerErr(err, CodeAlreadyRegistered, CodeTouristNotFound)
	}

	t := store.Tourist{
		ID:            id,
		Country:       country,
		ArrivalDate:   arrival.UTC(),
		DepartureDate: departure.UTC(),
		Address:       res.Address,
		RegisteredAt:  time.Now().UTC(),
	}
	if err = c.db.PutTourist(t); err != nil {
		return store.Tourist{}, fmt.Errorf("could not save tourist %s: %w", id, err)
	}
	if err = c.ix.RecordPending(store.TxRecord{
		Hash: res.Hash, Type: ledger.OpRegisterTourist, To: res.Address, ToID: id,
	}); err != nil {
		return store.Tourist{}, err
	}
	return t, nil
}

// RegisterRestaurant registers a restaurant, derives its ledger address and stores the profile.
func (c *Client) RegisterRestaurant(ctx context.Context, id, name string) (store.Restaurant, error) {
	if !reID.MatchString(id) {
		return store.Restaurant{}, errValidation(CodeInvalidID, "restaurant id %q is not a valid identifier", id)
	}
	if name == "" || len(name) > 128 {
		return store.Restaurant{}, errValidation(CodeInvalidName, "restaurant name must be 1-128 characters")
	}
	if _, err := c.db.GetRestaurant(id); err == nil {
		return store.Restaurant{}, errBusinessRule(CodeAlreadyRegistered, "restaurant %s is already registered", id)
	} else if !errors.Is(err, store.ErrParticipantNotFound) {
		return store.Restaurant{}, err
	}

	res, err := c.lg.RegisterRestaurant(ctx, id, name)
	if err != nil {
		return store.Restaurant{}, mapLedgerErr(err, CodeAlreadyRegistered, CodeRestaurantNotFound)
	}

	rest := store.Restaurant{ID: id, Name: name, Address: res.Address}
	if err = c.db.PutRestaurant(rest); err != nil {
		return store.Restaurant{}, fmt.Errorf("could not save restaurant %s: %w", id, err)
	}
	if err = c.ix.RecordPending(store.TxRecord{
		Hash: res.Hash, Type: ledger.OpRegisterRestaurant, To: res.Address, ToID: id,
	}); err != nil {
		return store.Restaurant{}, err
	}
	return rest, nil
}

// midnightUTC returns the start of the current UTC calendar day.
func midnightUTC() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// IssueDailyCoins mints the daily allowance to the tourist. A same-day issuance already pending or confirmed
// in the index short-circuits before touching the ledger; the ledger enforces the rule authoritatively.
func (c *Client) IssueDailyCoins(ctx context.Context, touristID string) (ledger.IssueResult, error) {
	if !reID.MatchString(touristID) {
		return ledger.IssueResult{}, errValidation(CodeInvalidID, "tourist id %q is not a valid identifier", touristID)
	}
	if _, err := c.db.GetTourist(touristID); err != nil {
		if errors.Is(err, store.ErrParticipantNotFound) {
			return ledger.IssueResult{}, errNotFound(CodeTouristNotFound, "tourist %s is not registered", touristID)
		}
		return ledger.IssueResult{}, err
	}

	today, err := c.db.ListTxsSince(midnightUTC())
	if err != nil {
		return ledger.IssueResult{}, fmt.Errorf("could not check today's issuances: %w", err)
	}
	for _, rec := range today {
		if rec.Type == store.TxIssuance && rec.ToID == touristID && rec.Status != store.StatusFailed {
			return ledger.IssueResult{}, errBusinessRule(CodeAlreadyIssued,
				"tourist %s already received coins today", touristID)
		}
	}

	res, err := c.lg.IssueDailyCoins(ctx, touristID)
	if err != nil {
		return ledger.IssueResult{}, mapLedgerErr(err, CodeAlreadyIssued, CodeTouristNotFound)
	}
	if res.Amount != c.dailyAmount {
		log.Printf("ledger issued %d coins to %s, configured daily amount is %d", res.Amount, touristID, c.dailyAmount)
	}

	expires := res.ExpiresAt
	err = c.ix.RecordPending(store.TxRecord{
		Hash: res.Hash, Type: store.TxIssuance, ToID: touristID, Amount: res.Amount, ExpiresAt: &expires,
	})
	return res, err
}

// Transfer sends amount coins from the tourist to the restaurant, enforcing the per-pair daily cap and a
// balance pre-check before submitting to the ledger.
func (c *Client) Transfer(ctx context.Context, touristID, restaurantID string, amount uint64) (string, error) {
	if !reID.MatchString(touristID) {
		return "", errValidation(CodeInvalidID, "tourist id %q is not a valid identifier", touristID)
	}
	if !reID.MatchString(restaurantID) {
		return "", errValidation(CodeInvalidID, "restaurant id %q is not a valid identifier", restaurantID)
	}
	if amount == 0 {
		return "", errValidation(CodeInvalidAmount, "amount must be positive")
	}

	tourist, err := c.db.GetTourist(touristID)
	if err != nil {
		if errors.Is(err, store.ErrParticipantNotFound) {
			return "", errNotFound(CodeTouristNotFound, "tourist %s is not registered", touristID)
		}
		return "", err
	}
	rest, err := c.db.GetRestaurant(restaurantID)
	if err != nil {
		if errors.Is(err, store.ErrParticipantNotFound) {
			return "", errNotFound(CodeRestaurantNotFound, "restaurant %s is not registered", restaurantID)
		}
		return "", err
	}

	// pending transfers count against the cap so a burst cannot overshoot it
	spent, err := c.spentToday(touristID, restaurantID)
	if err != nil {
		return "", err
	}
	if spent+amount > c.dailyCap {
		return "", errBusinessRule(CodeDailyCapExceeded,
			"transfer of %d would exceed the daily cap of %d (%d already sent to %s today)",
			amount, c.dailyCap, spent, restaurantID)
	}

	balance, _, err := c.lg.Balance(ctx, touristID)
	if err != nil {
		return "", mapLedgerErr(err, CodeLedgerRejected, CodeTouristNotFound)
	}
	if balance < amount {
		return "", errBusinessRule(CodeInsufficientBalance,
			"balance %d is below the requested %d", balance, amount)
	}

	hash, err := c.lg.Transfer(ctx, touristID, restaurantID, amount)
	if err != nil {
		return "", mapLedgerErr(err, CodeLedgerRejected, CodeParticipantNotFound)
	}

	err = c.ix.RecordPending(store.TxRecord{
		Hash: hash, Type: store.TxTransfer,
		From: tourist.Address, To: rest.Address,
		FromID: touristID, ToID: restaurantID, Amount: amount,
	})
	return hash, err
}

// spentToday sums the tourist's pending and confirmed transfers to the restaurant since UTC midnight.
func (c *Client) spentToday(touristID, restaurantID string) (uint64, error) {
	today, err := c.db.ListTxsSince(midnightUTC())
	if err != nil {
		return 0, fmt.Errorf("could not check today's transfers: %w", err)
	}
	var spent uint64
	for _, rec := range today {
		if rec.Type == store.TxTransfer && rec.FromID == touristID && rec.ToID == restaurantID &&
			rec.Status != store.StatusFailed {
			spent += rec.Amount
		}
	}
	return spent, nil
}

// BalanceInfo is a participant's ledger balance.
type BalanceInfo struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
}

// Balance returns the ledger balance of a registered participant.
func (c *Client) Balance(ctx context.Context, id string) (BalanceInfo, error) {
	if !reID.MatchString(id) {
		return BalanceInfo{}, errValidation(CodeInvalidID, "participant id %q is not a valid identifier", id)
	}
	if _, err := c.db.GetTourist(id); err != nil {
		if !errors.Is(err, store.ErrParticipantNotFound) {
			return BalanceInfo{}, err
		}
		if _, err = c.db.GetRestaurant(id); err != nil {
			if errors.Is(err, store.ErrParticipantNotFound) {
				return BalanceInfo{}, errNotFound(CodeParticipantNotFound, "participant %s is not registered", id)
			}
			return BalanceInfo{}, err
		}
	}

	balance, address, err := c.lg.Balance(ctx, id)
	if err != nil {
		return BalanceInfo{}, mapLedgerErr(err, CodeLedgerRejected, CodeParticipantNotFound)
	}
	return BalanceInfo{ID: id, Address: address, Balance: balance}, nil
}

// GetTransaction returns the indexed record for hash, reading through to the ledger on a miss.
func (c *Client) GetTransaction(ctx context.Context, hash string) (store.TxRecord, error) {
	if !reHash.MatchString(hash) {
		return store.TxRecord{}, errValidation(CodeInvalidHash, "%q is not a 32-byte hex hash", hash)
	}
	rec, err := c.ix.GetByHash(ctx, hash)
	if errors.Is(err, store.ErrTxNotFound) {
		return store.TxRecord{}, errNotFound(CodeTxNotFound, "transaction %s is unknown", hash)
	}
	if err != nil {
		return store.TxRecord{}, errNetwork(err, "could not resolve transaction %s", hash)
	}
	return rec, nil
}

// ListTransactions returns a registered participant's history, pending first then newest first.
func (c *Client) ListTransactions(id string, limit, offset int) ([]store.TxRecord, error) {
	if !reID.MatchString(id) {
		return nil, errValidation(CodeInvalidID, "participant id %q is not a valid identifier", id)
	}
	_, errT := c.db.GetTourist(id)
	_, errR := c.db.GetRestaurant(id)
	if errT != nil && errR != nil {
		if errors.Is(errT, store.ErrParticipantNotFound) && errors.Is(errR, store.ErrParticipantNotFound) {
			return nil, errNotFound(CodeParticipantNotFound, "participant %s is not registered", id)
		}
		return nil, errT
	}
	return c.ix.ListByParticipant(id, limit, offset)
}

// EstimateGas prices an operation at current network conditions.
func (c *Client) EstimateGas(ctx context.Context, operation string, amount uint64) (ledger.GasEstimate, error) {
	switch operation {
	case ledger.OpRegisterTourist, ledger.OpRegisterRestaurant, ledger.OpIssuance, ledger.OpTransfer:
	default:
		return ledger.GasEstimate{}, errValidation(CodeInvalidOperation, "unknown operation %q", operation)
	}
	est, err := c.lg.EstimateGas(ctx, operation, amount)
	if err != nil {
		return ledger.GasEstimate{}, mapLedgerErr(err, CodeLedgerRejected, CodeParticipantNotFound)
	}
	return est, nil
}

// NetworkStatus returns the ledger network view.
func (c *Client) NetworkStatus(ctx context.Context) (ledger.NetworkStatus, error) {
	ns, err := c.lg.NetworkStatus(ctx)
	if err != nil {
		return ledger.NetworkStatus{}, errNetwork(err, "could not sample the network")
	}
	return ns, nil
}

// WaitForTransaction polls the ledger until hash turns terminal or timeoutMs elapses. Sub-second parameters
// are rejected before any I/O; polling stops immediately on the first terminal status and never resumes past
// the deadline.
func (c *Client) WaitForTransaction(ctx context.Context, hash string, timeoutMs, pollMs int64) (store.TxRecord, error) {
	if !reHash.MatchString(hash) {
		return store.TxRecord{}, errValidation(CodeInvalidHash, "%q is not a 32-byte hex hash", hash)
	}
	if timeoutMs < MinWaitTimeoutMs || pollMs < MinWaitPollMs {
		return store.TxRecord{}, errValidation(CodeInvalidWaitParams,
			"timeout and poll interval must be at least %dms", MinWaitTimeoutMs)
	}

	deadline := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	defer deadline.Stop()
	ticker := time.NewTicker(time.Duration(pollMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		rec, err := c.ix.Refresh(ctx, hash)
		if err == nil && rec.Terminal() {
			return rec, nil
		}
		if err != nil && !errors.Is(err, store.ErrTxNotFound) {
			return store.TxRecord{}, errNetwork(err, "could not resolve transaction %s", hash)
		}

		select {
		case <-ctx.Done():
			return store.TxRecord{}, errTimeout("wait for %s cancelled: %v", hash, ctx.Err())
		case <-deadline.C:
			return store.TxRecord{}, errTimeout("transaction %s not confirmed within %dms", hash, timeoutMs)
		case <-ticker.C:
			// the deadline wins a tie so no poll is issued past it
			select {
			case <-deadline.C:
				return store.TxRecord{}, errTimeout("transaction %s not confirmed within %dms", hash, timeoutMs)
			default:
			}
		}
	}
}
