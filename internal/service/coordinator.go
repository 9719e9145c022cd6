package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/logging"
	"ridedispatch/internal/observability"
	"ridedispatch/internal/repository"
)

const (
	sweepLeaseName = "dispatch-sweeper"

	// maxRankPasses bounds the immediate re-ranks of one attempt when every
	// candidate is lost to another request.
	maxRankPasses = 3
)

// DispatchConfig tunes the dispatch loop.
type DispatchConfig struct {
	Workers        int           // concurrent dispatch workers
	PollInterval   time.Duration // idle wait between queue polls
	ClaimLease     time.Duration // how long a worker holds a dequeued request
	MaxQueueTime   time.Duration // request lifetime before it expires
	BackoffInitial time.Duration // first retry delay when no driver is found
	BackoffMax     time.Duration // retry delay cap
	OfferTTL       time.Duration // time a driver has to answer an offer
	SweepInterval  time.Duration // period of the expiry sweeper
	SweepBatch     int           // offers expired per sweep
	NotifyTimeout  time.Duration // per-notification delivery deadline
}

// DefaultDispatchConfig returns the default dispatch configuration.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		Workers:        4,
		PollInterval:   250 * time.Millisecond,
		ClaimLease:     30 * time.Second,
		MaxQueueTime:   5 * time.Minute,
		BackoffInitial: time.Second,
		BackoffMax:     30 * time.Second,
		OfferTTL:       15 * time.Second,
		SweepInterval:  time.Second,
		SweepBatch:     100,
		NotifyTimeout:  5 * time.Second,
	}
}

// LeaseStore grants a named lease to one replica at a time.
type LeaseStore interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
}

// CoordinatorDeps holds the collaborators of a Coordinator.
type CoordinatorDeps struct {
	Drivers   repository.DriverStore
	Queue     repository.RequestQueue
	Offers    repository.OfferStore
	Matcher   Ranker
	Projector *IndexProjector
	Notifier  Notifier
	Lease     LeaseStore // optional; guards the sweeper across replicas
	NewRelic  *newrelic.Application
	Logger    *slog.Logger
}

// Coordinator turns queued ride requests into offers and resolves offers
// into matches. It holds no global lock: every step is a compare-and-set on
// a store, and a request is worked on by the worker that claimed it.
type Coordinator struct {
	cfg       DispatchConfig
	drivers   repository.DriverStore
	queue     repository.RequestQueue
	offers    repository.OfferStore
	matcher   Ranker
	projector *IndexProjector
	notifier  Notifier
	lease     LeaseStore
	nrApp     *newrelic.Application
	logger    *slog.Logger
	now       func() time.Time

	wake chan struct{}

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopping bool // set by Stop; deliver sends nothing once set
	loops    sync.WaitGroup
	inflight sync.WaitGroup
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(cfg DispatchConfig, deps CoordinatorDeps) *Coordinator {
	def := DefaultDispatchConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = def.ClaimLease
	}
	if cfg.MaxQueueTime <= 0 {
		cfg.MaxQueueTime = def.MaxQueueTime
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = def.BackoffInitial
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.BackoffInitial
	}
	if cfg.OfferTTL <= 0 {
		cfg.OfferTTL = def.OfferTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = def.SweepBatch
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = def.NotifyTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}

	return &Coordinator{
		cfg:       cfg,
		drivers:   deps.Drivers,
		queue:     deps.Queue,
		offers:    deps.Offers,
		matcher:   deps.Matcher,
		projector: deps.Projector,
		notifier:  notifier,
		lease:     deps.Lease,
		nrApp:     deps.NewRelic,
		logger:    logger.With("component", "coordinator"),
		now:       time.Now,
		wake:      make(chan struct{}, cfg.Workers),
		timers:    make(map[string]*time.Timer),
	}
}

// Config returns the effective configuration.
func (c *Coordinator) Config() DispatchConfig {
	return c.cfg
}

// Start launches the workers and the sweeper. It returns immediately.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.stopping = false

	for i := 0; i < c.cfg.Workers; i++ {
		c.loops.Add(1)
		go c.worker(ctx, i)
	}
	c.loops.Add(1)
	go c.sweeper(ctx)

	c.logger.Info("dispatch started", "workers", c.cfg.Workers, "offer_ttl", c.cfg.OfferTTL, "max_queue_time", c.cfg.MaxQueueTime)
}

// Stop halts the loops, disarms offer timers and waits for in-flight
// notifications. Pending offers are left for the sweeper of any replica.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	if cancel != nil {
		c.stopping = true
	}
	c.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	c.loops.Wait()

	c.timersMu.Lock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.timersMu.Unlock()

	c.inflight.Wait()
	c.logger.Info("dispatch stopped")
}

// Wake nudges an idle worker to poll the queue now.
func (c *Coordinator) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Submit enqueues a new ride request and wakes a worker.
func (c *Coordinator) Submit(ctx context.Context, req *domain.RideRequest) error {
	if err := c.queue.Enqueue(ctx, req); err != nil {
		return err
	}
	c.recordDepth(ctx)
	c.notifyRider(req, domain.RiderEventQueued, "", "", "")
	c.Wake()
	return nil
}

// Cancel withdraws a PENDING or OFFERED request. A pending offer is expired
// and its driver made available again.
func (c *Coordinator) Cancel(ctx context.Context, requestID string) (*domain.RideRequest, error) {
	req, err := c.queue.Cancel(ctx, requestID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrRequestNotFound
		case errors.Is(err, repository.ErrStateConflict):
			return nil, fmt.Errorf("%w: %v", ErrRequestNotCancellable, err)
		}
		return nil, err
	}

	if o, err := c.offers.PendingForRequest(ctx, requestID); err == nil {
		if _, err := c.resolve(ctx, o.ID, domain.OfferStateExpired, domain.OfferReasonRequestCancelled); err != nil && !errors.Is(err, ErrOfferNotPending) {
			c.logger.Error("expire offer of cancelled request", "request_id", requestID, "offer_id", o.ID, "error", err)
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		c.logger.Error("lookup offer of cancelled request", "request_id", requestID, "error", err)
	}

	observability.CancellationsTotal.Inc()
	c.recordDepth(ctx)
	c.notifyRider(req, domain.RiderEventCancelled, "", "", "cancelled by rider")
	return req, nil
}

// RespondToOffer applies a driver's answer. Exactly one of accept, reject
// and expiry takes effect; an answer arriving after the deadline expires
// the offer instead.
func (c *Coordinator) RespondToOffer(ctx context.Context, offerID string, accept bool) (*domain.Offer, error) {
	if offerID == "" {
		return nil, ErrInvalidOfferID
	}

	o, err := c.offers.Get(ctx, offerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}
	if o.State.IsTerminal() {
		return o, fmt.Errorf("offer %s is %s: %w", offerID, o.State, ErrOfferNotPending)
	}

	if o.Expired(c.now()) {
		if _, err := c.resolve(ctx, offerID, domain.OfferStateExpired, domain.OfferReasonTimeout); err != nil && !errors.Is(err, ErrOfferNotPending) {
			return nil, err
		}
		return nil, fmt.Errorf("offer %s expired: %w", offerID, ErrOfferNotPending)
	}

	if accept {
		return c.resolve(ctx, offerID, domain.OfferStateAccepted, domain.OfferReasonAccepted)
	}
	return c.resolve(ctx, offerID, domain.OfferStateRejected, domain.OfferReasonRejected)
}

// WithdrawDriver expires the pending offer held by a driver, if any. Used
// when a driver goes offline or drops its session.
func (c *Coordinator) WithdrawDriver(ctx context.Context, driverID string, reason domain.OfferReason) error {
	o, err := c.offers.PendingForDriver(ctx, driverID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = c.resolve(ctx, o.ID, domain.OfferStateExpired, reason)
	if errors.Is(err, ErrOfferNotPending) {
		return nil
	}
	return err
}

func (c *Coordinator) worker(ctx context.Context, id int) {
	defer c.loops.Done()
	logger := c.logger.With("worker", id)

	for {
		if ctx.Err() != nil {
			return
		}

		req, err := c.queue.DequeueNext(ctx, c.now(), c.cfg.ClaimLease)
		if err != nil {
			if !errors.Is(err, repository.ErrQueueEmpty) && ctx.Err() == nil {
				logger.Error("dequeue failed", "error", err)
			}
			c.idle(ctx)
			continue
		}

		c.attempt(ctx, req)
	}
}

func (c *Coordinator) idle(ctx context.Context) {
	t := time.NewTimer(c.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-c.wake:
	case <-t.C:
	}
}

// attempt runs one dispatch round for a claimed request.
func (c *Coordinator) attempt(ctx context.Context, req *domain.RideRequest) {
	txn := c.nrApp.StartTransaction("dispatch/attempt")
	defer txn.End()
	txn.AddAttribute("request_id", req.ID)
	txn.AddAttribute("attempt", req.Attempts)
	ctx = newrelic.NewContext(ctx, txn)

	logger := c.logger.With("request_id", req.ID, "attempt", req.Attempts)

	if !c.now().Before(req.Deadline(c.cfg.MaxQueueTime)) {
		c.expireRequest(ctx, req)
		return
	}

	exclude := req.ExcludedDrivers
	for pass := 0; pass < maxRankPasses; pass++ {
		candidates, err := c.matcher.Rank(ctx, req, exclude)
		if err != nil {
			if errors.Is(err, ErrNoDriversAvailable) {
				observability.NoDriverRetries.Inc()
				logger.Debug("no drivers available", "pass", pass)
			} else {
				txn.NoticeError(err)
				logger.Error("rank candidates", "error", err)
			}
			c.retryLater(ctx, req)
			return
		}

		for _, cand := range candidates {
			if c.offer(ctx, req, cand) {
				return
			}
		}

		// Every candidate was taken by a concurrent request. Rank again
		// at once without them.
		tried := make([]string, 0, len(exclude)+len(candidates))
		tried = append(tried, exclude...)
		for _, cand := range candidates {
			tried = append(tried, cand.DriverID)
		}
		exclude = tried
		logger.Debug("all candidates taken", "pass", pass)
	}

	c.retryLater(ctx, req)
}

// offer tries to bind one candidate. It reports true once the request has
// left PENDING, either because the offer went out or because the request
// was cancelled meanwhile.
func (c *Coordinator) offer(ctx context.Context, req *domain.RideRequest, cand Candidate) bool {
	offerID := uuid.NewString()
	logger := c.logger.With("request_id", req.ID, "driver_id", cand.DriverID, "offer_id", offerID)

	if _, err := c.drivers.Transition(ctx, cand.DriverID, domain.DriverStateAvailable, domain.DriverStateOffered, offerID); err != nil {
		if errors.Is(err, repository.ErrStateConflict) || errors.Is(err, repository.ErrNotFound) {
			observability.StateConflicts.WithLabelValues("driver").Inc()
			c.projector.SyncQuietly(ctx, cand.DriverID)
		} else {
			logger.Error("reserve driver", "error", err)
		}
		return false
	}

	now := c.now()
	o := &domain.Offer{
		ID:         offerID,
		RequestID:  req.ID,
		DriverID:   cand.DriverID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.cfg.OfferTTL),
		EtaSeconds: cand.ETA.Seconds(),
	}
	if err := c.offers.Create(ctx, o); err != nil {
		observability.StateConflicts.WithLabelValues("offer").Inc()
		logger.Error("create offer", "error", err)
		c.releaseDriver(ctx, cand.DriverID)
		return false
	}

	if _, err := c.queue.MarkOffered(ctx, req.ID, offerID, cand.DriverID); err != nil {
		observability.StateConflicts.WithLabelValues("request").Inc()
		logger.Info("request left queue before offer", "error", err)
		if resolved, rerr := c.offers.Resolve(ctx, offerID, domain.OfferStateExpired, domain.OfferReasonRequestCancelled, c.now()); rerr == nil {
			c.afterDecline(ctx, resolved, false)
		}
		return true
	}

	c.projector.SyncQuietly(ctx, cand.DriverID)
	c.armTimer(o)
	observability.OffersCreatedTotal.Inc()
	c.recordDepth(ctx)

	c.notifyDriver(domain.OfferNotice{
		OfferID:      o.ID,
		RequestID:    req.ID,
		DriverID:     cand.DriverID,
		Pickup:       req.Pickup,
		Dropoff:      req.Dropoff,
		VehicleClass: req.VehicleClass,
		EtaSeconds:   o.EtaSeconds,
		ExpiresAt:    o.ExpiresAt,
	})
	c.notifyRider(req, domain.RiderEventOffered, cand.DriverID, o.ID, "")
	logger.Info("offer sent", "eta_seconds", o.EtaSeconds, "expires_at", o.ExpiresAt)
	return true
}

// retryLater returns a claimed request to the queue behind an exponential
// backoff, never past its deadline. The exclusion round starts over.
func (c *Coordinator) retryLater(ctx context.Context, req *domain.RideRequest) {
	now := c.now()
	notBefore := now.Add(c.backoff(req.Attempts))
	if deadline := req.Deadline(c.cfg.MaxQueueTime); notBefore.After(deadline) {
		notBefore = deadline
	}
	if _, err := c.queue.Requeue(ctx, req.ID, domain.RequestStatePending, notBefore, "", true); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			observability.StateConflicts.WithLabelValues("request").Inc()
			return
		}
		c.logger.Error("requeue request", "request_id", req.ID, "error", err)
	}
}

// backoff returns BackoffInitial doubled per prior attempt, capped at BackoffMax.
func (c *Coordinator) backoff(attempts int) time.Duration {
	d := c.cfg.BackoffInitial
	for i := 1; i < attempts && d < c.cfg.BackoffMax; i++ {
		d *= 2
	}
	if d > c.cfg.BackoffMax {
		d = c.cfg.BackoffMax
	}
	return d
}

func (c *Coordinator) expireRequest(ctx context.Context, req *domain.RideRequest) {
	expired, err := c.queue.Expire(ctx, req.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrStateConflict) {
			c.logger.Error("expire request", "request_id", req.ID, "error", err)
		}
		return
	}
	c.onExpired(ctx, expired)
}

func (c *Coordinator) onExpired(ctx context.Context, req *domain.RideRequest) {
	observability.ExpirationsTotal.Inc()
	c.recordDepth(ctx)
	c.notifyRider(req, domain.RiderEventExpired, "", "", ErrDispatchTimeout.Error())
	c.logger.Info("request expired", "request_id", req.ID, "attempts", req.Attempts)
}

// resolve is the single exit from PENDING for an offer. The store decides
// the winner; only the winner applies side effects.
func (c *Coordinator) resolve(ctx context.Context, offerID string, to domain.OfferState, reason domain.OfferReason) (*domain.Offer, error) {
	o, err := c.offers.Resolve(ctx, offerID, to, reason, c.now())
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			observability.StateConflicts.WithLabelValues("offer").Inc()
			return nil, fmt.Errorf("%w: %v", ErrOfferNotPending, err)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}

	c.disarmTimer(offerID)
	observability.OffersTotal.WithLabelValues(string(reason)).Inc()
	c.logger.Info("offer resolved", "offer_id", o.ID, "request_id", o.RequestID, "driver_id", o.DriverID, "state", o.State, "reason", o.Reason)

	if to == domain.OfferStateAccepted {
		return o, c.afterAccept(ctx, o)
	}
	c.afterDecline(ctx, o, reason != domain.OfferReasonRequestCancelled)
	return o, nil
}

func (c *Coordinator) afterAccept(ctx context.Context, o *domain.Offer) error {
	req, err := c.queue.MarkMatched(ctx, o.RequestID, o.ID, o.DriverID)
	if err != nil {
		// The rider cancelled before the acceptance landed.
		observability.StateConflicts.WithLabelValues("request").Inc()
		c.releaseDriver(ctx, o.DriverID)
		return fmt.Errorf("request %s no longer awaiting offer: %w", o.RequestID, ErrOfferNotPending)
	}

	if _, err := c.drivers.Transition(ctx, o.DriverID, domain.DriverStateOffered, domain.DriverStateOnTrip, ""); err != nil {
		c.logger.Error("start trip", "driver_id", o.DriverID, "offer_id", o.ID, "error", err)
	}
	c.projector.SyncQuietly(ctx, o.DriverID)

	observability.MatchesTotal.Inc()
	observability.MatchLatency.Observe(c.now().Sub(req.CreatedAt).Seconds())
	c.notifyRider(req, domain.RiderEventMatched, o.DriverID, o.ID, "")
	return nil
}

// afterDecline frees the driver and, when requeue is set, puts the request
// back in line at its original position with the driver excluded.
func (c *Coordinator) afterDecline(ctx context.Context, o *domain.Offer, requeue bool) {
	c.releaseDriver(ctx, o.DriverID)
	if !requeue {
		return
	}

	if _, err := c.queue.Requeue(ctx, o.RequestID, domain.RequestStateOffered, time.Time{}, o.DriverID, false); err != nil {
		if !errors.Is(err, repository.ErrStateConflict) {
			c.logger.Error("requeue after decline", "request_id", o.RequestID, "error", err)
		}
		return
	}
	c.recordDepth(ctx)
	c.Wake()
}

func (c *Coordinator) releaseDriver(ctx context.Context, driverID string) {
	if _, err := c.drivers.Transition(ctx, driverID, domain.DriverStateOffered, domain.DriverStateAvailable, ""); err != nil {
		observability.StateConflicts.WithLabelValues("driver").Inc()
		c.logger.Warn("release driver", "driver_id", driverID, "error", err)
	}
	c.projector.SyncQuietly(ctx, driverID)
}

func (c *Coordinator) armTimer(o *domain.Offer) {
	d := o.ExpiresAt.Sub(c.now())
	if d < 0 {
		d = 0
	}
	offerID := o.ID
	t := time.AfterFunc(d, func() {
		c.disarmTimer(offerID)
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.NotifyTimeout)
		defer cancel()
		if _, err := c.resolve(ctx, offerID, domain.OfferStateExpired, domain.OfferReasonTimeout); err != nil && !errors.Is(err, ErrOfferNotPending) {
			c.logger.Error("expire offer", "offer_id", offerID, "error", err)
		}
	})

	c.timersMu.Lock()
	c.timers[offerID] = t
	c.timersMu.Unlock()
}

func (c *Coordinator) disarmTimer(offerID string) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if t, ok := c.timers[offerID]; ok {
		t.Stop()
		delete(c.timers, offerID)
	}
}

func (c *Coordinator) sweeper(ctx context.Context) {
	defer c.loops.Done()
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Sweep expires overdue requests and offers whose timer never fired.
func (c *Coordinator) Sweep(ctx context.Context) {
	if c.lease != nil {
		ok, err := c.lease.TryAcquire(ctx, sweepLeaseName, c.cfg.SweepInterval)
		if err != nil {
			c.logger.Warn("sweep lease", "error", err)
			return
		}
		if !ok {
			return
		}
	}

	txn := c.nrApp.StartTransaction("dispatch/sweep")
	defer txn.End()
	ctx = newrelic.NewContext(ctx, txn)

	now := c.now()
	expired, err := c.queue.ExpireOverdue(ctx, now, c.cfg.MaxQueueTime)
	if err != nil {
		txn.NoticeError(err)
		c.logger.Error("expire overdue requests", "error", err)
	}
	for _, req := range expired {
		c.onExpired(ctx, req)
	}

	offers, err := c.offers.ListExpired(ctx, now, c.cfg.SweepBatch)
	if err != nil {
		txn.NoticeError(err)
		c.logger.Error("list expired offers", "error", err)
	}
	for _, o := range offers {
		if _, err := c.resolve(ctx, o.ID, domain.OfferStateExpired, domain.OfferReasonTimeout); err != nil && !errors.Is(err, ErrOfferNotPending) {
			c.logger.Error("expire offer", "offer_id", o.ID, "error", err)
		}
	}

	c.recordDepth(ctx)
	c.projector.RecordSize(ctx)
}

func (c *Coordinator) recordDepth(ctx context.Context) {
	if n, err := c.queue.Depth(ctx); err == nil {
		observability.QueueDepth.Set(float64(n))
	}
}

func (c *Coordinator) notifyDriver(notice domain.OfferNotice) {
	c.deliver("driver", func(ctx context.Context) error {
		return c.notifier.NotifyDriver(ctx, notice.DriverID, notice)
	})
}

func (c *Coordinator) notifyRider(req *domain.RideRequest, typ domain.RiderEventType, driverID, offerID, message string) {
	event := domain.RiderEvent{
		Type:      typ,
		RequestID: req.ID,
		RiderID:   req.RiderID,
		DriverID:  driverID,
		OfferID:   offerID,
		Message:   message,
		At:        c.now(),
	}
	c.deliver("rider", func(ctx context.Context) error {
		return c.notifier.NotifyRider(ctx, req.ID, event)
	})
}

// deliver sends a notification in the background with its own timeout.
// Nothing is sent once Stop has begun, so Stop's wait cannot race a new send.
func (c *Coordinator) deliver(channel string, send func(ctx context.Context) error) {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		observability.NotificationsTotal.WithLabelValues(channel, "dropped").Inc()
		c.logger.Debug("notification dropped after stop", "channel", channel)
		return
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.NotifyTimeout)
		defer cancel()

		if err := send(ctx); err != nil {
			observability.NotificationsTotal.WithLabelValues(channel, "error").Inc()
			c.logger.Warn("notification failed", "channel", channel, "error", err)
			return
		}
		observability.NotificationsTotal.WithLabelValues(channel, "ok").Inc()
	}()
}
