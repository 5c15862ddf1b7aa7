// Package msg defines the interface for different message brokers.
package msg

import (
	"sync"

	"github.com/tourcoin/tourcoin/lib/store"
)

// MsgBroker fans monitoring alerts out to interested consumers. The monitor publishes; operational tooling
// and downstream services subscribe.
type MsgBroker interface {
	Setup() error
	Close() error

	SendAlert(network string, a store.Alert) error
	GetAlerts(network string, mut *sync.Mutex) (<-chan store.Alert, <-chan error, error)
}
