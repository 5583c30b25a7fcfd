package rabbitmq

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes relay and audit events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// NewPublisher builds a RabbitMQ publisher or a noop publisher when AMQP is
// disabled or unreachable.
func NewPublisher(amqpURL, exchange string, log *slog.Logger) Publisher {
	if amqpURL == "" {
		log.Info("rabbitmq disabled, using noop", "reason", "empty amqp url")
		return noopPublisher{reason: "empty amqp url", log: log}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		log.Warn("rabbitmq disabled, using noop", "reason", err)
		return noopPublisher{reason: err.Error(), log: log}
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Warn("rabbitmq disabled, using noop", "reason", err)
		_ = conn.Close()
		return noopPublisher{reason: err.Error(), log: log}
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		log.Warn("rabbitmq disabled, using noop", "reason", err)
		_ = ch.Close()
		_ = conn.Close()
		return noopPublisher{reason: err.Error(), log: log}
	}

	log.Info("rabbitmq connected", "exchange", exchange)
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange, log: log}
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *slog.Logger
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	msg, err := newPublishing(event, headers)
	if err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err != nil {
		p.log.Warn("rabbitmq publish failed", "routing_key", routingKey, "error", err)
	}
	return err
}

func newPublishing(event any, headers map[string]string) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, err
	}

	table := amqp.Table{}
	for key, value := range headers {
		table[key] = value
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    headers["x-request-id"],
		Headers:      table,
		Body:         body,
	}, nil
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
	log    *slog.Logger
}

func (p noopPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	if p.log != nil {
		p.log.Debug("rabbitmq noop publish", "routing_key", routingKey, "request_id", headers["x-request-id"])
	}
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher, *noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

func PublisherNoopReason(p Publisher) string {
	switch publisher := p.(type) {
	case noopPublisher:
		return publisher.reason
	case *noopPublisher:
		return publisher.reason
	default:
		return ""
	}
}
