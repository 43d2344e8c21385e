// Package notify forwards captured messages to an AMQP exchange so other
// tools can react to new mail without polling the API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/shineum/mailhits/internal/broadcast"
	"github.com/shineum/mailhits/internal/email"
)

// Publisher is the subset of *amqp.Channel used by the notifier.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Notifier publishes one JSON document per captured message.
type Notifier struct {
	ch       Publisher
	exchange string
	key      string
	pool     sync.Pool
}

// New creates a Notifier that publishes to exchange with routing key key.
func New(ch Publisher, exchange, key string) *Notifier {
	return &Notifier{
		ch:       ch,
		exchange: exchange,
		key:      key,
		pool: sync.Pool{
			New: func() any {
				return new(bytes.Buffer)
			},
		},
	}
}

// Dial connects to the broker at url and declares a durable topic exchange.
// The caller owns the returned connection and must close it.
func Dial(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}

	return conn, ch, nil
}

// Run publishes every message received on sub until ctx is cancelled or the
// subscription is closed. Publish failures are logged and skipped.
func (n *Notifier) Run(ctx context.Context, sub *broadcast.Subscription) {
	slog.Info("AMQP notifier started", "exchange", n.exchange, "routing_key", n.key)
	defer func() {
		sub.Close()
		slog.Info("AMQP notifier stopped", "dropped", sub.Dropped())
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if err := n.Notify(msg); err != nil {
				slog.Warn("failed to publish notification", "id", msg.ID, "error", err)
			}
		}
	}
}

// Notify publishes a single message.
func (n *Notifier) Notify(msg *email.Message) error {
	b := n.pool.Get().(*bytes.Buffer)
	defer n.pool.Put(b)
	b.Reset()

	if err := json.NewEncoder(b).Encode(msg); err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	pub := amqp.Publishing{
		MessageId:   msg.ID,
		Timestamp:   msg.ReceivedAt,
		ContentType: "application/json",
		Body:        bytes.Clone(b.Bytes()),
	}

	err := n.ch.Publish(
		n.exchange,
		n.key,
		false, // mandatory
		false, // immediate
		pub,
	)
	if err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	slog.Debug("notification published", "id", msg.ID)
	return nil
}
