package tests

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/geo"
	"ridedispatch/internal/repository/memory"
	"ridedispatch/internal/service"
)

// ──────────────────────────────────────────────
// RECORDING NOTIFIER
// ──────────────────────────────────────────────

// RecordingNotifier is a Notifier that keeps every notification.
type RecordingNotifier struct {
	mu      sync.Mutex
	notices []domain.OfferNotice
	events  []domain.RiderEvent

	// Counters for verification
	DriverCallCount int32
	RiderCallCount  int32

	// Error injection
	DriverError error
	RiderError  error

	// OnOffer runs after an offer notice is recorded.
	OnOffer func(ctx context.Context, notice domain.OfferNotice)
}

// NewRecordingNotifier creates a new recording notifier.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (m *RecordingNotifier) NotifyDriver(ctx context.Context, driverID string, offer domain.OfferNotice) error {
	atomic.AddInt32(&m.DriverCallCount, 1)
	m.mu.Lock()
	m.notices = append(m.notices, offer)
	hook := m.OnOffer
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, offer)
	}
	return m.DriverError
}

func (m *RecordingNotifier) NotifyRider(ctx context.Context, requestID string, event domain.RiderEvent) error {
	atomic.AddInt32(&m.RiderCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.RiderError
}

// NoticesFor returns the offers sent to a driver, oldest first.
func (m *RecordingNotifier) NoticesFor(driverID string) []domain.OfferNotice {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OfferNotice
	for _, n := range m.notices {
		if n.DriverID == driverID {
			out = append(out, n)
		}
	}
	return out
}

// EventTypes returns the event types sent for a request.
func (m *RecordingNotifier) EventTypes(requestID string) []domain.RiderEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RiderEventType
	for _, e := range m.events {
		if e.RequestID == requestID {
			out = append(out, e.Type)
		}
	}
	return out
}

// HasEvent reports whether an event of the given type was sent for a request.
func (m *RecordingNotifier) HasEvent(requestID string, typ domain.RiderEventType) bool {
	for _, got := range m.EventTypes(requestID) {
		if got == typ {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────
// MOCK DISPATCHER
// ──────────────────────────────────────────────

// MockDispatcher is a mock implementation of service.Dispatcher.
type MockDispatcher struct {
	mu        sync.Mutex
	submitted []*domain.RideRequest

	// Counters
	SubmitCallCount int32
	CancelCallCount int32

	// Error injection
	SubmitError error
	CancelError error
}

// NewMockDispatcher creates a new mock dispatcher.
func NewMockDispatcher() *MockDispatcher {
	return &MockDispatcher{}
}

func (m *MockDispatcher) Submit(ctx context.Context, req *domain.RideRequest) error {
	atomic.AddInt32(&m.SubmitCallCount, 1)
	if m.SubmitError != nil {
		return m.SubmitError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, req.Clone())
	return nil
}

func (m *MockDispatcher) Cancel(ctx context.Context, requestID string) (*domain.RideRequest, error) {
	atomic.AddInt32(&m.CancelCallCount, 1)
	if m.CancelError != nil {
		return nil, m.CancelError
	}
	return &domain.RideRequest{ID: requestID, State: domain.RequestStateCancelled}, nil
}

// Submitted returns the submitted requests (for test assertions).
func (m *MockDispatcher) Submitted() []*domain.RideRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.RideRequest(nil), m.submitted...)
}

// ──────────────────────────────────────────────
// MOCK LEASE STORE
// ──────────────────────────────────────────────

// MockLeaseStore is a mock implementation of service.LeaseStore.
type MockLeaseStore struct {
	mu     sync.Mutex
	leases map[string]time.Time

	// Counters
	AcquireCallCount int32

	// Error injection
	AcquireError error

	// Simulates another replica holding every lease.
	ForceAcquireFailure bool
}

// NewMockLeaseStore creates a new mock lease store.
func NewMockLeaseStore() *MockLeaseStore {
	return &MockLeaseStore{
		leases: make(map[string]time.Time),
	}
}

func (m *MockLeaseStore) TryAcquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.AcquireError != nil {
		return false, m.AcquireError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceAcquireFailure {
		return false, nil
	}
	if expiry, ok := m.leases[name]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	m.leases[name] = time.Now().Add(ttl)
	return true, nil
}

// ──────────────────────────────────────────────
// DISPATCH HARNESS
// ──────────────────────────────────────────────

var testPickup = domain.Point{Lat: 12.9716, Lng: 77.5946}

// north returns a point roughly meters north of the test pickup.
func north(meters float64) domain.Point {
	return domain.Point{Lat: testPickup.Lat + meters/111195, Lng: testPickup.Lng}
}

// FastDispatchConfig keeps every timer short enough for unit tests.
func FastDispatchConfig() service.DispatchConfig {
	return service.DispatchConfig{
		Workers:        2,
		PollInterval:   10 * time.Millisecond,
		ClaimLease:     5 * time.Second,
		MaxQueueTime:   10 * time.Second,
		BackoffInitial: 10 * time.Millisecond,
		BackoffMax:     40 * time.Millisecond,
		OfferTTL:       10 * time.Second,
		SweepInterval:  20 * time.Millisecond,
		SweepBatch:     50,
		NotifyTimeout:  time.Second,
	}
}

// Harness wires the dispatch core over in-memory stores.
type Harness struct {
	Drivers     *memory.DriverStore
	Queue       *memory.RequestQueue
	Offers      *memory.OfferStore
	Index       *geo.GridIndex
	Notifier    *RecordingNotifier
	Coordinator *service.Coordinator
	DriverSvc   *service.DriverService
	RideSvc     *service.RideService
}

// NewHarness builds a harness without starting the coordinator.
func NewHarness(t *testing.T, cfg service.DispatchConfig, lease service.LeaseStore) *Harness {
	t.Helper()
	return NewHarnessWithMatching(t, cfg, service.DefaultMatchingConfig(), lease)
}

// NewHarnessWithMatching is NewHarness with explicit matching settings.
func NewHarnessWithMatching(t *testing.T, cfg service.DispatchConfig, mcfg service.MatchingConfig, lease service.LeaseStore) *Harness {
	t.Helper()

	h := &Harness{
		Drivers:  memory.NewDriverStore(),
		Queue:    memory.NewRequestQueue(),
		Offers:   memory.NewOfferStore(),
		Index:    geo.NewGridIndex(0),
		Notifier: NewRecordingNotifier(),
	}
	projector := service.NewIndexProjector(h.Drivers, h.Index, nil)
	engine := service.NewMatchingEngine(h.Index, nil, mcfg, nil)

	h.Coordinator = service.NewCoordinator(cfg, service.CoordinatorDeps{
		Drivers:   h.Drivers,
		Queue:     h.Queue,
		Offers:    h.Offers,
		Matcher:   engine,
		Projector: projector,
		Notifier:  h.Notifier,
		Lease:     lease,
	})
	h.DriverSvc = service.NewDriverService(h.Drivers, projector, h.Coordinator, nil)
	h.RideSvc = service.NewRideService(h.Coordinator, h.Queue, service.NewFareCalculator(h.Index, h.Queue, service.DefaultSurgeConfig()))
	return h
}

// StartHarness builds a harness and runs the coordinator until the test ends.
func StartHarness(t *testing.T, cfg service.DispatchConfig) *Harness {
	t.Helper()
	h := NewHarness(t, cfg, nil)
	h.Coordinator.Start(context.Background())
	t.Cleanup(h.Coordinator.Stop)
	return h
}

// OnlineDriver registers a driver at loc and makes it available.
func (h *Harness) OnlineDriver(t *testing.T, id string, loc domain.Point) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.DriverSvc.RegisterDriver(ctx, id, domain.VehicleClassEconomy); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	if _, err := h.DriverSvc.UpdateDriverLocation(ctx, service.LocationUpdate{DriverID: id, Location: loc}); err != nil {
		t.Fatalf("locate %s: %v", id, err)
	}
	if _, err := h.DriverSvc.SetDriverAvailability(ctx, id, true); err != nil {
		t.Fatalf("online %s: %v", id, err)
	}
}

// Request submits a ride request for rider.
func (h *Harness) Request(t *testing.T, riderID string) *domain.RideRequest {
	t.Helper()
	req, err := h.RideSvc.SubmitRideRequest(context.Background(), service.SubmitRideRequest{
		RiderID: riderID,
		Pickup:  testPickup,
		Dropoff: north(4000),
	})
	if err != nil {
		t.Fatalf("submit for %s: %v", riderID, err)
	}
	return req
}

// RequestState returns the stored request.
func (h *Harness) RequestState(t *testing.T, id string) *domain.RideRequest {
	t.Helper()
	req, err := h.Queue.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get request %s: %v", id, err)
	}
	return req
}

// DriverState returns the stored driver state.
func (h *Harness) DriverState(t *testing.T, id string) domain.DriverState {
	t.Helper()
	d, err := h.Drivers.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get driver %s: %v", id, err)
	}
	return d.State
}

// Offer returns the stored offer.
func (h *Harness) Offer(t *testing.T, id string) *domain.Offer {
	t.Helper()
	o, err := h.Offers.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get offer %s: %v", id, err)
	}
	return o
}

// AwaitOffer waits until the request holds an offer other than previous
// and returns it.
func (h *Harness) AwaitOffer(t *testing.T, requestID, previous string) *domain.Offer {
	t.Helper()
	var offerID string
	Eventually(t, 3*time.Second, func() bool {
		req := h.RequestState(t, requestID)
		if req.State != domain.RequestStateOffered || req.OfferID == previous {
			return false
		}
		offerID = req.OfferID
		return true
	}, "request %s never received a new offer", requestID)
	return h.Offer(t, offerID)
}

// AwaitRequestState waits until the request reaches want.
func (h *Harness) AwaitRequestState(t *testing.T, requestID string, want domain.RequestState) {
	t.Helper()
	Eventually(t, 3*time.Second, func() bool {
		return h.RequestState(t, requestID).State == want
	}, "request %s never reached %s", requestID, want)
}

// Eventually polls cond until it holds or timeout passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf(format, args...)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ──────────────────────────────────────────────
// HELPER ERRORS
// ──────────────────────────────────────────────

var (
	ErrMockNotifier = errors.New("mock: notifier unavailable")
	ErrMockLease    = errors.New("mock: lease backend unavailable")
)
