package service

import (
	"context"
	"errors"
	"log/slog"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/logging"
)

// Notifier delivers offers to drivers and outcomes to riders.
// Delivery is best effort; the coordinator never waits on it.
type Notifier interface {
	NotifyDriver(ctx context.Context, driverID string, offer domain.OfferNotice) error
	NotifyRider(ctx context.Context, requestID string, event domain.RiderEvent) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a new LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LogNotifier{logger: logger}
}

// NotifyDriver logs an offer for a driver.
func (n *LogNotifier) NotifyDriver(ctx context.Context, driverID string, offer domain.OfferNotice) error {
	n.logger.InfoContext(ctx, "notification",
		"channel", "driver",
		"driver_id", driverID,
		"offer_id", offer.OfferID,
		"request_id", offer.RequestID,
		"eta_seconds", offer.EtaSeconds,
		"expires_at", offer.ExpiresAt,
	)
	return nil
}

// NotifyRider logs a rider event.
func (n *LogNotifier) NotifyRider(ctx context.Context, requestID string, event domain.RiderEvent) error {
	n.logger.InfoContext(ctx, "notification",
		"channel", "rider",
		"request_id", requestID,
		"rider_id", event.RiderID,
		"type", event.Type,
		"driver_id", event.DriverID,
	)
	return nil
}

// MultiNotifier fans a notification out to several notifiers.
type MultiNotifier []Notifier

// NotifyDriver delivers to every notifier and joins their errors.
func (m MultiNotifier) NotifyDriver(ctx context.Context, driverID string, offer domain.OfferNotice) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyDriver(ctx, driverID, offer); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyRider delivers to every notifier and joins their errors.
func (m MultiNotifier) NotifyRider(ctx context.Context, requestID string, event domain.RiderEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyRider(ctx, requestID, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
