// Package ethereum implements the ledger client against the token program's JSON-RPC gateway on an Ethereum
// node. Program writes go through the node's tour_* RPC namespace; chain reads use the standard eth namespace.
package ethereum

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/tourcoin/tourcoin/lib/ledger"
)

// Client is a ledger.Client backed by an Ethereum JSON-RPC endpoint.
type Client struct {
	rpcCli   *rpc.Client
	ethCli   *ethclient.Client
	contract string
	network  string
}

// New dials the node and returns a client bound to the token program contract.
func New(ctx context.Context, url, contract, network string) (*Client, error) {
	rpcCli, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to node %s: %w", url, err)
	}

	return &Client{
		rpcCli:   rpcCli,
		ethCli:   ethclient.NewClient(rpcCli),
		contract: contract,
		network:  network,
	}, nil
}

// Close closes the node connection.
func (c *Client) Close() {
	c.rpcCli.Close()
}

// mapError translates gateway JSON-RPC errors into the package sentinels. Transport failures pass through
// wrapped so callers can tell a node outage from a program rejection.
func mapError(method string, err error) error {
	if err == nil {
		return nil
	}
	if rpcErr, ok := err.(rpc.Error); ok {
		switch rpcErr.ErrorCode() {
		case -32602:
			return fmt.Errorf("%s: %s: %w", method, err.Error(), ledger.ErrMalformed)
		case -32004:
			return fmt.Errorf("%s: %s: %w", method, err.Error(), ledger.ErrNotFound)
		default:
			return fmt.Errorf("%s: %s: %w", method, err.Error(), ledger.ErrRejected)
		}
	}
	return fmt.Errorf("%s: %w", method, err)
}

// RegisterTourist submits a tourist registration to the token program.
func (c *Client) RegisterTourist(ctx context.Context, id, country string, arrival, departure time.Time) (ledger.RegisterResult, error) {
	var result ledger.RegisterResult
	err := c.rpcCli.CallContext(ctx, &result, "tour_registerTourist", c.contract, id, country,
		arrival.UTC().Format("2006-01-02"), departure.UTC().Format("2006-01-02"))
	return result, mapError("tour_registerTourist", err)
}

// RegisterRestaurant submits a restaurant registration to the token program.
func (c *Client) RegisterRestaurant(ctx context.Context, id, name string) (ledger.RegisterResult, error) {
	var result ledger.RegisterResult
	err := c.rpcCli.CallContext(ctx, &result, "tour_registerRestaurant", c.contract, id, name)
	return result, mapError("tour_registerRestaurant", err)
}

// IssueDailyCoins submits a daily issuance for the tourist.
func (c *Client) IssueDailyCoins(ctx context.Context, touristID string) (ledger.IssueResult, error) {
	var result ledger.IssueResult
	err := c.rpcCli.CallContext(ctx, &result, "tour_issueDailyCoins", c.contract, touristID)
	return result, mapError("tour_issueDailyCoins", err)
}

// Transfer submits a coin transfer from the tourist to the restaurant.
func (c *Client) Transfer(ctx context.Context, touristID, restaurantID string, amount uint64) (string, error) {
	var hash string
	err := c.rpcCli.CallContext(ctx, &hash, "tour_transfer", c.contract, touristID, restaurantID, amount)
	return hash, mapError("tour_transfer", err)
}

// Balance returns the spendable balance and the ledger address of a participant.
func (c *Client) Balance(ctx context.Context, participantID string) (uint64, string, error) {
	var result struct {
		Balance uint64 `json:"balance"`
		Address string `json:"address"`
	}
	err := c.rpcCli.CallContext(ctx, &result, "tour_balance", c.contract, participantID)
	return result.Balance, result.Address, mapError("tour_balance", err)
}

// TransactionReceipt returns the program receipt for hash, or nil when the hash is unknown to the node.
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (*ledger.Receipt, error) {
	var result *ledger.Receipt
	err := c.rpcCli.CallContext(ctx, &result, "tour_getReceipt", hash)
	if err != nil {
		return nil, mapError("tour_getReceipt", err)
	}
	return result, nil
}

// NetworkStatus samples the node: head block, suggested gas price and sync state.
func (c *Client) NetworkStatus(ctx context.Context) (ledger.NetworkStatus, error) {
	block, err := c.ethCli.BlockNumber(ctx)
	if err != nil {
		return ledger.NetworkStatus{}, fmt.Errorf("eth_blockNumber: %w", err)
	}
	gasPrice, err := c.ethCli.SuggestGasPrice(ctx)
	if err != nil {
		return ledger.NetworkStatus{}, fmt.Errorf("eth_gasPrice: %w", err)
	}
	progress, err := c.ethCli.SyncProgress(ctx)
	if err != nil {
		return ledger.NetworkStatus{}, fmt.Errorf("eth_syncing: %w", err)
	}

	return ledger.NetworkStatus{
		Network:     c.network,
		BlockNumber: block,
		GasPrice:    gasPrice.Uint64(),
		Healthy:     progress == nil, // a syncing node serves stale state
	}, nil
}

// EstimateGas asks the gateway to price the operation at current network conditions.
func (c *Client) EstimateGas(ctx context.Context, operation string, amount uint64) (ledger.GasEstimate, error) {
	var result ledger.GasEstimate
	err := c.rpcCli.CallContext(ctx, &result, "tour_estimateGas", c.contract, operation, amount)
	return result, mapError("tour_estimateGas", err)
}

// Events returns the program events emitted in [fromBlock, toBlock].
func (c *Client) Events(ctx context.Context, fromBlock, toBlock uint64) ([]ledger.Event, error) {
	var result []ledger.Event
	err := c.rpcCli.CallContext(ctx, &result, "tour_getEvents", c.contract, fromBlock, toBlock)
	return result, mapError("tour_getEvents", err)
}
