// Package ingest consumes driver location pings from Kafka.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/logging"
	"ridedispatch/internal/observability"
	"ridedispatch/internal/service"
)

const (
	DefaultTopic   = "driver-locations"
	DefaultGroupID = "ride-dispatch-locations"

	maxReadBackoff = 30 * time.Second
)

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// LocationUpdater applies a location ping.
type LocationUpdater interface {
	UpdateDriverLocation(ctx context.Context, in service.LocationUpdate) (bool, error)
}

// LocationMessage is the wire format of a driver-locations record.
type LocationMessage struct {
	DriverID    string  `json:"driver_id"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Heading     float64 `json:"heading"`
	Speed       float64 `json:"speed"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// ConsumerConfig tunes retries.
type ConsumerConfig struct {
	Attempts    int
	RetryDelay  time.Duration
	ReadBackoff time.Duration
}

// Consumer reads location pings and feeds them to the driver service.
type Consumer struct {
	reader  MessageReader
	updater LocationUpdater
	cfg     ConsumerConfig
	logger  *slog.Logger
}

// NewKafkaReader builds a consumer-group reader for topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	if topic == "" {
		topic = DefaultTopic
	}
	if groupID == "" {
		groupID = DefaultGroupID
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
}

// NewConsumer creates a consumer. Zero config fields take defaults.
func NewConsumer(reader MessageReader, updater LocationUpdater, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if cfg.ReadBackoff <= 0 {
		cfg.ReadBackoff = time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Consumer{reader: reader, updater: updater, cfg: cfg, logger: logger}
}

// Run consumes until ctx is done. Read failures back off exponentially up
// to maxReadBackoff.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := c.cfg.ReadBackoff
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("kafka read failed", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff *= 2
			if backoff > maxReadBackoff {
				backoff = maxReadBackoff
			}
			continue
		}
		backoff = c.cfg.ReadBackoff

		c.Handle(ctx, m.Value)
	}
}

// Handle decodes and applies one record. It reports the outcome as a metric
// and never fails the consumer.
func (c *Consumer) Handle(ctx context.Context, value []byte) {
	var msg LocationMessage
	if err := json.Unmarshal(value, &msg); err != nil || msg.DriverID == "" {
		observability.IngestMessagesTotal.WithLabelValues("invalid").Inc()
		c.logger.Debug("invalid location message", "error", err)
		return
	}

	update := service.LocationUpdate{
		DriverID:    msg.DriverID,
		Location:    domain.Point{Lat: msg.Lat, Lng: msg.Lng},
		HeadingDeg:  msg.Heading,
		SpeedMps:    msg.Speed,
		TimestampMs: msg.TimestampMs,
	}

	delay := c.cfg.RetryDelay
	for attempt := 1; ; attempt++ {
		applied, err := c.updater.UpdateDriverLocation(ctx, update)
		switch {
		case err == nil && applied:
			observability.IngestMessagesTotal.WithLabelValues("applied").Inc()
			return
		case err == nil:
			observability.IngestMessagesTotal.WithLabelValues("stale").Inc()
			return
		case applied:
			// Stored but not projected; the next ping or a rebuild repairs the index.
			observability.IngestMessagesTotal.WithLabelValues("applied").Inc()
			c.logger.Warn("location stored but not indexed", "driver_id", msg.DriverID, "error", err)
			return
		case permanent(err):
			observability.IngestMessagesTotal.WithLabelValues("rejected").Inc()
			c.logger.Debug("location rejected", "driver_id", msg.DriverID, "error", err)
			return
		case attempt >= c.cfg.Attempts:
			observability.IngestMessagesTotal.WithLabelValues("failed").Inc()
			c.logger.Error("location update failed", "driver_id", msg.DriverID, "attempts", attempt, "error", err)
			return
		}

		if !sleep(ctx, delay) {
			return
		}
		delay *= 2
	}
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func permanent(err error) bool {
	return errors.Is(err, service.ErrValidation) || errors.Is(err, service.ErrUnknownDriver)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
