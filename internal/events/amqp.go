package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes JSON events to a durable topic exchange.
type AMQPPublisher struct {
	ch       Channel
	conn     *amqp.Connection
	exchange string
	timeout  time.Duration
	logger   *zap.Logger

	mu sync.Mutex
}

// NewAMQPPublisher declares exchange on ch and returns a publisher for it.
func NewAMQPPublisher(ch Channel, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	if exchange == "" {
		return nil, fmt.Errorf("exchange name is required")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPPublisher{ch: ch, exchange: exchange, timeout: 5 * time.Second, logger: logger}, nil
}

// DialAMQP connects to url and returns a publisher that owns the connection.
func DialAMQP(url, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	p, err := NewAMQPPublisher(ch, exchange, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, e VoucherPosted) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.EventID.String(),
		Timestamp:    time.Now().UTC(),
		Type:         e.RoutingKey(),
		Headers:      amqp.Table{"tenant_id": e.TenantID},
		Body:         body,
	}

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, e.RoutingKey(), false, false, msg); err != nil {
		return fmt.Errorf("publishing %s for voucher %s: %w", e.RoutingKey(), e.VoucherID, err)
	}
	p.logger.Debug("event published",
		zap.String("routing_key", e.RoutingKey()),
		zap.String("tenant_id", e.TenantID),
		zap.String("voucher_id", e.VoucherID.String()))
	return nil
}

// Close releases the channel and, for dialed publishers, the connection.
func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
