// Package notify carries dispatch notifications to drivers and riders over
// external transports.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ridedispatch/internal/domain"
)

const (
	DefaultDriverOffersTopic = "driver-offers"
	DefaultRiderEventsTopic  = "rider-events"
)

// MessageWriter is the subset of *kafka.Writer used for publishing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes offers and rider events as JSON records keyed by
// driver or request id, so each key stays ordered within its partition.
type KafkaNotifier struct {
	writer      MessageWriter
	offersTopic string
	riderTopic  string
}

// NewKafkaWriter builds a writer that routes each message by its Topic field.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaNotifier creates a notifier on top of writer. Empty topic names
// fall back to the defaults.
func NewKafkaNotifier(writer MessageWriter, offersTopic, riderTopic string) *KafkaNotifier {
	if offersTopic == "" {
		offersTopic = DefaultDriverOffersTopic
	}
	if riderTopic == "" {
		riderTopic = DefaultRiderEventsTopic
	}
	return &KafkaNotifier{writer: writer, offersTopic: offersTopic, riderTopic: riderTopic}
}

// NotifyDriver publishes an offer keyed by driver id.
func (k *KafkaNotifier) NotifyDriver(ctx context.Context, driverID string, offer domain.OfferNotice) error {
	return k.publish(ctx, k.offersTopic, driverID, offer)
}

// NotifyRider publishes a rider event keyed by request id.
func (k *KafkaNotifier) NotifyRider(ctx context.Context, requestID string, event domain.RiderEvent) error {
	return k.publish(ctx, k.riderTopic, requestID, event)
}

func (k *KafkaNotifier) publish(ctx context.Context, topic, key string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: []byte(key), Value: b}); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (k *KafkaNotifier) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
