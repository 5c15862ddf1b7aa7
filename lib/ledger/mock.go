package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Gas units charged per operation by the mock.
const (
	mockRegisterGas = 90000
	mockIssueGas    = 60000
	mockTransferGas = 34000
)

type mockAccount struct {
	address string
	balance uint64
}

type mockReceipt struct {
	rec   Receipt
	polls int // remaining TransactionReceipt calls before the receipt turns terminal
}

// MockLedger is an in-memory Client for tests. Writes confirm after ConfirmAfter receipt polls; failures and
// outages are injected through FailHashes and Unreachable.
type MockLedger struct {
	mu sync.Mutex

	Network      string
	GasPrice     uint64 // wei
	DailyAmount  uint64
	ConfirmAfter int
	Unreachable  bool              // every call fails with a network error
	Unhealthy    bool              // NetworkStatus reports healthy=false
	Delay        time.Duration     // added latency on NetworkStatus
	FailHashes   map[string]string // hash -> failure reason, applied when the receipt turns terminal

	Calls map[string]int

	block       uint64
	seq         uint64
	tourists    map[string]*mockAccount
	restaurants map[string]*mockAccount
	issued      map[string]string // tourist id -> last issuance day (UTC)
	receipts    map[string]*mockReceipt
	events      []Event
}

// NewMockLedger returns a mock with immediate confirmations, a 1 gwei gas price and the default daily amount.
func NewMockLedger() *MockLedger {
	return &MockLedger{
		Network:     "mocknet",
		GasPrice:    1000000000,
		DailyAmount: 10,
		FailHashes:  map[string]string{},
		Calls:       map[string]int{},
		block:       100,
		tourists:    map[string]*mockAccount{},
		restaurants: map[string]*mockAccount{},
		issued:      map[string]string{},
		receipts:    map[string]*mockReceipt{},
	}
}

func (m *MockLedger) unreachable(method string) error {
	if m.Unreachable {
		return fmt.Errorf("%s: dial tcp: connection refused", method)
	}
	return nil
}

func (m *MockLedger) submit(txType, from, to, fromID, toID string, amount, gasUnits uint64, expires *time.Time) string {
	m.seq++
	m.block++
	hash := fmt.Sprintf("0x%064x", m.seq)
	fee := gasUnits * m.GasPrice

	status := StatusConfirmed
	reason := ""
	if r, ok := m.FailHashes[hash]; ok {
		status, reason = StatusFailed, r
	}
	m.receipts[hash] = &mockReceipt{
		polls: m.ConfirmAfter,
		rec: Receipt{
			Hash: hash, Status: status, Block: m.block, BlockIndex: 0,
			GasUsed: gasUnits, GasPrice: m.GasPrice, Fee: fee, Reason: reason,
		},
	}
	m.events = append(m.events, Event{
		Hash: hash, Type: txType, From: from, To: to, FromID: fromID, ToID: toID,
		Amount: amount, Block: m.block, GasUsed: gasUnits, GasPrice: m.GasPrice, Fee: fee,
		Status: status, ExpiresAt: expires,
	})
	return hash
}

// RegisterTourist derives an address for the tourist and registers it on the mock ledger.
func (m *MockLedger) RegisterTourist(ctx context.Context, id, country string, arrival, departure time.Time) (RegisterResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["RegisterTourist"]++

	if err := m.unreachable("RegisterTourist"); err != nil {
		return RegisterResult{}, err
	}
	if _, ok := m.tourists[id]; ok {
		return RegisterResult{}, fmt.Errorf("tourist %s: %w", id, ErrRejected)
	}
	addr := fmt.Sprintf("0x%040x", m.seq+1)
	m.tourists[id] = &mockAccount{address: addr}
	hash := m.submit(OpRegisterTourist, "0x"+zeros40, addr, "", id, 0, mockRegisterGas, nil)
	return RegisterResult{Address: addr, Hash: hash}, nil
}

// RegisterRestaurant derives an address for the restaurant and registers it on the mock ledger.
func (m *MockLedger) RegisterRestaurant(ctx context.Context, id, name string) (RegisterResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["RegisterRestaurant"]++

	if err := m.unreachable("RegisterRestaurant"); err != nil {
		return RegisterResult{}, err
	}
	if _, ok := m.restaurants[id]; ok {
		return RegisterResult{}, fmt.Errorf("restaurant %s: %w", id, ErrRejected)
	}
	addr := fmt.Sprintf("0x%040x", m.seq+1)
	m.restaurants[id] = &mockAccount{address: addr}
	hash := m.submit(OpRegisterRestaurant, "0x"+zeros40, addr, "", id, 0, mockRegisterGas, nil)
	return RegisterResult{Address: addr, Hash: hash}, nil
}

const zeros40 = "0000000000000000000000000000000000000000"

// IssueDailyCoins mints the daily amount to the tourist. The mock enforces the program's once per UTC day
// rule so callers can exercise the rejection path.
func (m *MockLedger) IssueDailyCoins(ctx context.Context, touristID string) (IssueResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["IssueDailyCoins"]++

	if err := m.unreachable("IssueDailyCoins"); err != nil {
		return IssueResult{}, err
	}
	acc, ok := m.tourists[touristID]
	if !ok {
		return IssueResult{}, fmt.Errorf("tourist %s not registered: %w", touristID, ErrRejected)
	}
	day := time.Now().UTC().Format("2006-01-02")
	if m.issued[touristID] == day {
		return IssueResult{}, fmt.Errorf("tourist %s already issued on %s: %w", touristID, day, ErrRejected)
	}
	m.issued[touristID] = day
	acc.balance += m.DailyAmount

	expires := time.Now().UTC().Add(IssuanceValidity)
	hash := m.submit(OpIssuance, "0x"+zeros40, acc.address, "", touristID, m.DailyAmount, mockIssueGas, &expires)
	return IssueResult{Hash: hash, Amount: m.DailyAmount, ExpiresAt: expires}, nil
}

// Transfer moves amount from the tourist to the restaurant.
func (m *MockLedger) Transfer(ctx context.Context, touristID, restaurantID string, amount uint64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["Transfer"]++

	if err := m.unreachable("Transfer"); err != nil {
		return "", err
	}
	from, ok := m.tourists[touristID]
	if !ok {
		return "", fmt.Errorf("tourist %s not registered: %w", touristID, ErrRejected)
	}
	to, ok := m.restaurants[restaurantID]
	if !ok {
		return "", fmt.Errorf("restaurant %s not registered: %w", restaurantID, ErrRejected)
	}
	if amount == 0 {
		return "", fmt.Errorf("zero amount: %w", ErrMalformed)
	}
	if from.balance < amount {
		return "", fmt.Errorf("balance %d below %d: %w", from.balance, amount, ErrRejected)
	}
	from.balance -= amount
	to.balance += amount
	return m.submit(OpTransfer, from.address, to.address, touristID, restaurantID, amount, mockTransferGas, nil), nil
}

// Balance returns the spendable balance and address of a registered participant.
func (m *MockLedger) Balance(ctx context.Context, participantID string) (uint64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["Balance"]++

	if err := m.unreachable("Balance"); err != nil {
		return 0, "", err
	}
	if acc, ok := m.tourists[participantID]; ok {
		return acc.balance, acc.address, nil
	}
	if acc, ok := m.restaurants[participantID]; ok {
		return acc.balance, acc.address, nil
	}
	return 0, "", fmt.Errorf("participant %s: %w", participantID, ErrNotFound)
}

// TransactionReceipt returns the current receipt for hash, pending until ConfirmAfter polls have been spent.
func (m *MockLedger) TransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["TransactionReceipt"]++

	if err := m.unreachable("TransactionReceipt"); err != nil {
		return nil, err
	}
	mr, ok := m.receipts[hash]
	if !ok {
		return nil, nil
	}
	if mr.polls > 0 {
		mr.polls--
		pending := mr.rec
		pending.Status = StatusPending
		pending.Block, pending.GasUsed, pending.Fee, pending.Reason = 0, 0, 0, ""
		return &pending, nil
	}
	rec := mr.rec
	return &rec, nil
}

// NetworkStatus reports the mock network view, sleeping Delay first when latency is being simulated.
func (m *MockLedger) NetworkStatus(ctx context.Context) (NetworkStatus, error) {
	m.mu.Lock()
	delay := m.Delay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return NetworkStatus{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["NetworkStatus"]++

	if err := m.unreachable("NetworkStatus"); err != nil {
		return NetworkStatus{}, err
	}
	return NetworkStatus{
		Network:     m.Network,
		BlockNumber: m.block,
		GasPrice:    m.GasPrice,
		Healthy:     !m.Unhealthy,
	}, nil
}

// EstimateGas prices the given operation at the mock's gas schedule.
func (m *MockLedger) EstimateGas(ctx context.Context, operation string, amount uint64) (GasEstimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["EstimateGas"]++

	if err := m.unreachable("EstimateGas"); err != nil {
		return GasEstimate{}, err
	}
	var units uint64
	switch operation {
	case OpRegisterTourist, OpRegisterRestaurant:
		units = mockRegisterGas
	case OpIssuance:
		units = mockIssueGas
	case OpTransfer:
		units = mockTransferGas
	default:
		return GasEstimate{}, fmt.Errorf("operation %q: %w", operation, ErrMalformed)
	}
	return GasEstimate{GasUnits: units, GasPrice: m.GasPrice, Cost: units * m.GasPrice}, nil
}

// Events returns the program events emitted in [fromBlock, toBlock].
func (m *MockLedger) Events(ctx context.Context, fromBlock, toBlock uint64) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["Events"]++

	if err := m.unreachable("Events"); err != nil {
		return nil, err
	}
	out := []Event{}
	for _, ev := range m.events {
		if ev.Block >= fromBlock && ev.Block <= toBlock {
			out = append(out, ev)
		}
	}
	return out, nil
}

// BlockNumber returns the mock's current head, advancing test scenarios that need fresh blocks.
func (m *MockLedger) BlockNumber() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.block
}

// AdvanceBlocks moves the mock head forward without emitting events.
func (m *MockLedger) AdvanceBlocks(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block += n
}

// NextHash returns the hash the next submitted transaction will get, so tests can pre-arm FailHashes.
func (m *MockLedger) NextHash() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("0x%064x", m.seq+1)
}

// Close is a no-op on the mock.
func (m *MockLedger) Close() {}
