// Package tourcoin and its sub-packages implement the backend services of a travel rewards token: daily coin
// issuance to registered tourists, coin transfers to registered restaurants, and monitoring of the external
// ledger network the token lives on.
/*
tourcoin provides one daemon and one operational command line:

1) rewardsd (cmd/rewardsd) serves a RESTful API (package rewards) for tourist and restaurant registration,
daily coin issuance, restaurant transfers, balances, transaction queries and gas estimates. It also runs the
network monitoring service.

2) tourctl (cmd/tourctl) drives a running daemon: starting and stopping the monitor, health checks, system
metrics, tourist insights, restaurant rankings, transaction lookups and historical backfills.

Architecture

The external ledger is the source of truth for balances and transactions; the ledger layer (package
lib/ledger) is product agnostic with an Ethereum JSON-RPC implementation. Writes return a transaction hash
immediately and the transaction index (package indexer) records them pending, sweeps them for confirmation
and backfills historical block ranges from the token program's event log.

The monitoring service (package monitor) probes the network on a fixed interval, raises gas price, network
health and transaction failure alerts, and aggregates system, tourist and restaurant metrics. Alerts are
persisted to the database and fanned out to a webhook and, when configured, to a message broker. The broker
is implemented as a product agnostic layer (package lib/msg) for AMQP compliant brokers.

Persistence (package lib/store) is database product agnostic with MongoDB, PostgreSQL and in-memory
implementations, selected via the JSON config file or TRC_ environment variables (package lib/config).

The daemon can also be monitored via a Prometheus API by setting the flag "-m" at startup.
*/
package tourcoin
