// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/streadway/amqp"

	"github.com/tourcoin/tourcoin/lib/msg"
	"github.com/tourcoin/tourcoin/lib/store"
)

// exchange where monitoring alerts are published.
const alertExchange = "al"

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New instantiates a new amqp broker.
func New(uri string) (msg.MsgBroker, error) {
	r := Amqp{}
	var err error

	if r.conn, err = amqp.Dial(uri); err != nil {
		return &r, err
	}
	r.ch = nil
	log.Printf("Connected to %s", uri)

	return &r, err
}

// Setup obtains a one-use amqp channel and declares the "al" (alerts) exchange.
func (r *Amqp) Setup() error {
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()

	return channel.ExchangeDeclare(alertExchange, "topic", true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker.
func (r *Amqp) Close() error {
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Printf("Error closing amqp.Channel:%e", err)
		}
		r.ch = nil
	}
	return r.conn.Close()
}

// SendAlert publishes an alert to the "al" exchange keyed by network and alert kind.
func (r *Amqp) SendAlert(network string, a store.Alert) (err error) {
	var jsonDoc []byte
	if jsonDoc, err = json.Marshal(a); err != nil {
		return
	}
	// obtain channel if not present
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return
		}
	}
	m := amqp.Publishing{
		Headers:     amqp.Table{"x-alert-kind": a.Kind},
		Body:        jsonDoc,
		ContentType: "application/json",
	}
	if err = r.ch.Publish(alertExchange, network+".alert."+a.Kind, false, false, m); err != nil {
		log.Printf("[%s] Error sending alert to message broker %e", network, err)
	}
	return
}

// GetAlerts returns a channel of alerts published for the given network. The mutex allows the caller to hold
// back consumption while it finishes setting up.
func (r *Amqp) GetAlerts(network string, mut *sync.Mutex) (<-chan store.Alert, <-chan error, error) {
	channel, err := r.conn.Channel()
	if err != nil {
		return nil, nil, err
	}

	q, err := channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, nil, err
	}
	if err = channel.QueueBind(q.Name, network+".alert.#", alertExchange, false, nil); err != nil {
		return nil, nil, err
	}

	deliveries, err := channel.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, nil, err
	}

	alerts := make(chan store.Alert)
	errc := make(chan error)
	go func() {
		defer channel.Close()
		defer close(alerts)
		defer close(errc)
		for d := range deliveries {
			var a store.Alert
			if err := json.Unmarshal(d.Body, &a); err != nil {
				errc <- err
				continue
			}
			if mut != nil {
				mut.Lock()
				mut.Unlock()
			}
			alerts <- a
		}
	}()

	return alerts, errc, nil
}
