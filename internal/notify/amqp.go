package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/logging"
)

const (
	DefaultExchange = "dispatch_topic"

	driverOfferKey = "driver.offer."
	riderEventKey  = "rider.event."

	publishTimeout = 5 * time.Second
)

// Publisher is the subset of *amqp.Channel used for publishing.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes notifications to a topic exchange. Routing keys are
// driver.offer.<driver_id> and rider.event.<request_id>.
type AMQPNotifier struct {
	pub      Publisher
	exchange string
	now      func() time.Time
}

// NewAMQPNotifier creates a notifier publishing to exchange.
func NewAMQPNotifier(pub Publisher, exchange string) *AMQPNotifier {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPNotifier{pub: pub, exchange: exchange, now: time.Now}
}

// NotifyDriver publishes an offer for driverID.
func (n *AMQPNotifier) NotifyDriver(ctx context.Context, driverID string, offer domain.OfferNotice) error {
	return n.publish(ctx, driverOfferKey+driverID, offer)
}

// NotifyRider publishes an event for requestID.
func (n *AMQPNotifier) NotifyRider(ctx context.Context, requestID string, event domain.RiderEvent) error {
	return n.publish(ctx, riderEventKey+requestID, event)
}

func (n *AMQPNotifier) publish(ctx context.Context, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = n.pub.PublishWithContext(ctx, n.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    n.now(),
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// AMQPConn owns a broker connection and the channel notifications go out on.
type AMQPConn struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialAMQP connects to url, retrying with growing delays, and declares the
// topic exchange.
func DialAMQP(ctx context.Context, url, exchange string, attempts int, logger *slog.Logger) (*AMQPConn, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	if attempts <= 0 {
		attempts = 1
	}

	delay := time.Second
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		c, err := dialOnce(url, exchange)
		if err == nil {
			logger.Info("rabbitmq connected", "attempt", attempt, "exchange", exchange)
			return c, nil
		}
		lastErr = err
		logger.Warn("rabbitmq connection failed", "attempt", attempt, "max_attempts", attempts, "error", err)
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = delay * 3 / 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", attempts, lastErr)
}

func dialOnce(url, exchange string) (*AMQPConn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPConn{conn: conn, ch: ch}, nil
}

// Channel returns the publishing channel.
func (c *AMQPConn) Channel() *amqp.Channel {
	return c.ch
}

// Close closes the channel and connection.
func (c *AMQPConn) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
