package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher publishes envelopes to a durable topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger
}

// Dial connects to the broker and declares the exchange.
func Dial(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: declare exchange %q: %w", exchange, err)
	}

	logger.Info("event publisher connected", "exchange", exchange)
	return &AMQPPublisher{conn: conn, exchange: exchange, logger: logger}, nil
}

// Publish sends env as a persistent JSON message.
func (p *AMQPPublisher) Publish(ctx context.Context, key string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", key, err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("events: open channel: %w", err)
	}
	defer ch.Close()

	msgID := env.Meta.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}

	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msgID,
		CorrelationId: env.Meta.CorrelationID,
		Timestamp:     env.Meta.Time,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", key, err)
	}
	p.logger.Debug("event published", "key", key, "id", msgID)
	return nil
}

// Close closes the broker connection.
func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
