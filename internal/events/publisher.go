// Package events publishes booking domain events to a RabbitMQ topic exchange.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/MarkoPoloResearchLab/courtbook/internal/booking"
)

const (
	exchangeKindTopic = "topic"
	contentTypeJSON   = "application/json"
	// DefaultExchange receives every courtbook event.
	DefaultExchange = "courtbook.events"
)

var (
	ErrMissingExchange   = errors.New("events: exchange is required")
	ErrMissingRoutingKey = errors.New("events: routing key is required")
)

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange string, key string, mandatory bool, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements booking.EventPublisher over one AMQP channel.
type Publisher struct {
	conn     *amqp.Connection
	channel  publishChannel
	exchange string
	nowFn    func() time.Time
}

// Dial connects to url and declares a durable topic exchange.
func Dial(url string, exchange string) (*Publisher, error) {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		return nil, ErrMissingExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, exchangeKindTopic, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	publisher := newPublisher(channel, exchange, time.Now)
	publisher.conn = conn
	return publisher, nil
}

func newPublisher(channel publishChannel, exchange string, now func() time.Time) *Publisher {
	return &Publisher{channel: channel, exchange: exchange, nowFn: now}
}

// Publish sends event as a persistent JSON message routed by routingKey.
func (publisher *Publisher) Publish(ctx context.Context, routingKey string, event any) error {
	message, err := publisher.encode(routingKey, event)
	if err != nil {
		return err
	}
	if err := publisher.channel.PublishWithContext(ctx, publisher.exchange, routingKey, false, false, message); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (publisher *Publisher) encode(routingKey string, event any) (amqp.Publishing, error) {
	if strings.TrimSpace(routingKey) == "" {
		return amqp.Publishing{}, ErrMissingRoutingKey
	}
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode %s: %w", routingKey, err)
	}
	return amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    publisher.nowFn().UTC(),
		Type:         routingKey,
		Body:         body,
	}, nil
}

// Close closes the channel and the connection.
func (publisher *Publisher) Close() error {
	var closeErr error
	if publisher.channel != nil {
		closeErr = publisher.channel.Close()
	}
	if publisher.conn != nil {
		if err := publisher.conn.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	}
	return closeErr
}

var _ booking.EventPublisher = (*Publisher)(nil)
