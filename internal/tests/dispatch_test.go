package tests

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ridedispatch/internal/domain"
	"ridedispatch/internal/service"
)

// ──────────────────────────────────────────────
// 1. OFFER AND ACCEPT
// ──────────────────────────────────────────────

func TestDispatch_NearestDriverOfferedAndAccepted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := StartHarness(t, FastDispatchConfig())

	h.OnlineDriver(t, "driver-far", north(2500))
	h.OnlineDriver(t, "driver-near", north(400))

	req := h.Request(t, "rider-1")
	offer := h.AwaitOffer(t, req.ID, "")

	if offer.DriverID != "driver-near" {
		t.Fatalf("expected offer to driver-near, got %s", offer.DriverID)
	}
	if h.DriverState(t, "driver-near") != domain.DriverStateOffered {
		t.Errorf("expected driver-near OFFERED, got %s", h.DriverState(t, "driver-near"))
	}
	if e, ok := h.Index.Get("driver-near"); !ok || e.Available {
		t.Errorf("expected offered driver indexed as unavailable, got indexed=%v available=%v", ok, e.Available)
	}

	resolved, err := h.Coordinator.RespondToOffer(ctx, offer.ID, true)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if resolved.State != domain.OfferStateAccepted {
		t.Errorf("expected ACCEPTED, got %s", resolved.State)
	}

	stored := h.RequestState(t, req.ID)
	if stored.State != domain.RequestStateMatched || stored.DriverID != "driver-near" {
		t.Errorf("expected MATCHED with driver-near, got %s with %q", stored.State, stored.DriverID)
	}
	if h.DriverState(t, "driver-near") != domain.DriverStateOnTrip {
		t.Errorf("expected driver-near ON_TRIP, got %s", h.DriverState(t, "driver-near"))
	}
	if _, ok := h.Index.Get("driver-near"); ok {
		t.Error("expected driver on trip to leave the index")
	}
	if h.DriverState(t, "driver-far") != domain.DriverStateAvailable {
		t.Errorf("expected driver-far untouched, got %s", h.DriverState(t, "driver-far"))
	}

	Eventually(t, time.Second, func() bool {
		return h.Notifier.HasEvent(req.ID, domain.RiderEventMatched)
	}, "rider never told about the match")
	notices := h.Notifier.NoticesFor("driver-near")
	if len(notices) != 1 || notices[0].OfferID != offer.ID {
		t.Errorf("expected one offer notice for driver-near, got %+v", notices)
	}
}

func TestDispatch_RiderSeesProgressEvents(t *testing.T) {
	t.Parallel()
	h := StartHarness(t, FastDispatchConfig())
	h.OnlineDriver(t, "driver-1", north(300))

	req := h.Request(t, "rider-1")
	offer := h.AwaitOffer(t, req.ID, "")
	if _, err := h.Coordinator.RespondToOffer(context.Background(), offer.ID, true); err != nil {
		t.Fatalf("accept: %v", err)
	}

	Eventually(t, time.Second, func() bool {
		return len(h.Notifier.EventTypes(req.ID)) == 3
	}, "expected three rider events")
	for _, want := range []domain.RiderEventType{domain.RiderEventQueued, domain.RiderEventOffered, domain.RiderEventMatched} {
		if !h.Notifier.HasEvent(req.ID, want) {
			t.Errorf("missing rider event %s", want)
		}
	}
}

// ──────────────────────────────────────────────
// 2. NO SUPPLY
// ──────────────────────────────────────────────

func TestDispatch_NoDriversExpiresAfterMaxQueueTime(t *testing.T) {
	t.Parallel()
	cfg := FastDispatchConfig()
	cfg.MaxQueueTime = 150 * time.Millisecond
	h := StartHarness(t, cfg)

	req := h.Request(t, "rider-1")
	h.AwaitRequestState(t, req.ID, domain.RequestStateExpired)

	status, err := h.RideSvc.GetRequestStatus(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Error != service.ErrDispatchTimeout.Error() {
		t.Errorf("expected dispatch timeout error, got %q", status.Error)
	}
	if status.Attempts < 2 {
		t.Errorf("expected the request to be retried, got %d attempts", status.Attempts)
	}
	Eventually(t, time.Second, func() bool {
		return h.Notifier.HasEvent(req.ID, domain.RiderEventExpired)
	}, "rider never told about the expiry")
}

func TestDispatch_DriverComingOnlineServesWaitingRequest(t *testing.T) {
	t.Parallel()
	h := StartHarness(t, FastDispatchConfig())

	req := h.Request(t, "rider-1")
	time.Sleep(50 * time.Millisecond)
	if h.RequestState(t, req.ID).State != domain.RequestStatePending {
		t.Fatalf("expected request to wait while no drivers exist")
	}

	h.OnlineDriver(t, "driver-1", north(300))
	offer := h.AwaitOffer(t, req.ID, "")
	if offer.DriverID != "driver-1" {
		t.Errorf("expected offer to driver-1, got %s", offer.DriverID)
	}
}

// ──────────────────────────────────────────────
// 3. DECLINES
// ──────────────────────────────────────────────

func TestDispatch_OfferTimeoutMovesToNextDriver(t *testing.T) {
	t.Parallel()
	cfg := FastDispatchConfig()
	cfg.OfferTTL = 200 * time.Millisecond
	h := StartHarness(t, cfg)

	h.OnlineDriver(t, "driver-1", north(200))
	h.OnlineDriver(t, "driver-2", north(900))

	req := h.Request(t, "rider-1")
	first := h.AwaitOffer(t, req.ID, "")
	if first.DriverID != "driver-1" {
		t.Fatalf("expected first offer to driver-1, got %s", first.DriverID)
	}

	second := h.AwaitOffer(t, req.ID, first.ID)
	if second.DriverID != "driver-2" {
		t.Errorf("expected second offer to driver-2, got %s", second.DriverID)
	}

	expired := h.Offer(t, first.ID)
	if expired.State != domain.OfferStateExpired || expired.Reason != domain.OfferReasonTimeout {
		t.Errorf("expected first offer EXPIRED/timeout, got %s/%s", expired.State, expired.Reason)
	}
}

func TestDispatch_RejectRequeuesAtOriginalPosition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := StartHarness(t, FastDispatchConfig())

	h.OnlineDriver(t, "driver-1", north(200))
	h.OnlineDriver(t, "driver-2", north(900))

	req := h.Request(t, "rider-1")
	first := h.AwaitOffer(t, req.ID, "")

	if _, err := h.Coordinator.RespondToOffer(ctx, first.ID, false); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if h.DriverState(t, "driver-1") != domain.DriverStateAvailable {
		t.Errorf("expected rejecting driver back to AVAILABLE, got %s", h.DriverState(t, "driver-1"))
	}

	second := h.AwaitOffer(t, req.ID, first.ID)
	if second.DriverID != "driver-2" {
		t.Errorf("expected rejected driver to be skipped, got offer to %s", second.DriverID)
	}

	stored := h.RequestState(t, req.ID)
	if stored.Seq != req.Seq {
		t.Errorf("expected seq %d kept after requeue, got %d", req.Seq, stored.Seq)
	}
	if !stored.Excludes("driver-1") {
		t.Errorf("expected driver-1 excluded, got %v", stored.ExcludedDrivers)
	}
	if got := h.Offer(t, first.ID); got.Reason != domain.OfferReasonRejected {
		t.Errorf("expected rejected reason, got %s", got.Reason)
	}
}

func TestDispatch_DriverGoingOfflineWithdrawsOffer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := StartHarness(t, FastDispatchConfig())

	h.OnlineDriver(t, "driver-1", north(200))
	h.OnlineDriver(t, "driver-2", north(900))

	req := h.Request(t, "rider-1")
	first := h.AwaitOffer(t, req.ID, "")

	d, err := h.DriverSvc.SetDriverAvailability(ctx, "driver-1", false)
	if err != nil {
		t.Fatalf("offline: %v", err)
	}
	if d.State != domain.DriverStateOffline {
		t.Errorf("expected OFFLINE, got %s", d.State)
	}
	if got := h.Offer(t, first.ID); got.State != domain.OfferStateExpired || got.Reason != domain.OfferReasonDriverOffline {
		t.Errorf("expected EXPIRED/driver_offline, got %s/%s", got.State, got.Reason)
	}
	if _, ok := h.Index.Get("driver-1"); ok {
		t.Error("expected offline driver to leave the index")
	}

	second := h.AwaitOffer(t, req.ID, first.ID)
	if second.DriverID != "driver-2" {
		t.Errorf("expected re-offer to driver-2, got %s", second.DriverID)
	}
}

func TestDispatch_DisconnectExpiresPendingOffer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := StartHarness(t, FastDispatchConfig())
	h.OnlineDriver(t, "driver-1", north(200))

	req := h.Request(t, "rider-1")
	offer := h.AwaitOffer(t, req.ID, "")

	if err := h.DriverSvc.HandleDisconnect(ctx, "driver-1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if got := h.Offer(t, offer.ID); got.Reason != domain.OfferReasonDriverDisconnected {
		t.Errorf("expected driver_disconnected, got %s", got.Reason)
	}
	// Disconnecting again with nothing pending is a no-op.
	if err := h.DriverSvc.HandleDisconnect(ctx, "driver-1"); err != nil {
		t.Errorf("second disconnect: %v", err)
	}
}

// ──────────────────────────────────────────────
// 4. RACES
// ──────────────────────────────────────────────

func TestDispatch_AcceptVersusExpireResolvesOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for round := 0; round < 10; round++ {
		h := NewHarness(t, FastDispatchConfig(), nil)
		h.Coordinator.Start(ctx)
		h.OnlineDriver(t, "driver-1", north(200))
		req := h.Request(t, "rider-1")
		offer := h.AwaitOffer(t, req.ID, "")
		// Freeze dispatch so the race is the only activity.
		h.Coordinator.Stop()

		var accepted int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				if _, err := h.Coordinator.RespondToOffer(ctx, offer.ID, true); err == nil {
					atomic.AddInt32(&accepted, 1)
				} else if !errors.Is(err, service.ErrOfferNotPending) {
					t.Errorf("unexpected accept error: %v", err)
				}
			}()
			go func() {
				defer wg.Done()
				if err := h.Coordinator.WithdrawDriver(ctx, "driver-1", domain.OfferReasonTimeout); err != nil {
					t.Errorf("unexpected withdraw error: %v", err)
				}
			}()
		}
		wg.Wait()

		final := h.Offer(t, offer.ID)
		switch final.State {
		case domain.OfferStateAccepted:
			if accepted != 1 {
				t.Fatalf("round %d: expected exactly one accept, got %d", round, accepted)
			}
			if h.RequestState(t, req.ID).State != domain.RequestStateMatched {
				t.Fatalf("round %d: accepted offer but request not MATCHED", round)
			}
			if h.DriverState(t, "driver-1") != domain.DriverStateOnTrip {
				t.Fatalf("round %d: accepted offer but driver not ON_TRIP", round)
			}
		case domain.OfferStateExpired:
			if accepted != 0 {
				t.Fatalf("round %d: expired offer but %d accepts succeeded", round, accepted)
			}
			if h.RequestState(t, req.ID).State != domain.RequestStatePending {
				t.Fatalf("round %d: expired offer but request not back to PENDING", round)
			}
			if h.DriverState(t, "driver-1") != domain.DriverStateAvailable {
				t.Fatalf("round %d: expired offer but driver not AVAILABLE", round)
			}
		default:
			t.Fatalf("round %d: offer left in %s", round, final.State)
		}
	}
}

func TestDispatch_CancelDuringOfferReleasesDriver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := StartHarness(t, FastDispatchConfig())
	h.OnlineDriver(t, "driver-1", north(200))

	req := h.Request(t, "rider-1")
	offer := h.AwaitOffer(t, req.ID, "")

	cancelled, err := h.RideSvc.CancelRideRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.State != domain.RequestStateCancelled {
		t.Errorf("expected CANCELLED, got %s", cancelled.State)
	}

	got := h.Offer(t, offer.ID)
	if got.State != domain.OfferStateExpired || got.Reason != domain.OfferReasonRequestCancelled {
		t.Errorf("expected EXPIRED/request_cancelled, got %s/%s", got.State, got.Reason)
	}
	if h.DriverState(t, "driver-1") != domain.DriverStateAvailable {
		t.Errorf("expected driver back to AVAILABLE, got %s", h.DriverState(t, "driver-1"))
	}
	if e, ok := h.Index.Get("driver-1"); !ok || !e.Available {
		t.Error("expected driver to be a candidate again")
	}

	// The driver's late answer must not resurrect the request.
	if _, err := h.Coordinator.RespondToOffer(ctx, offer.ID, true); !errors.Is(err, service.ErrOfferNotPending) {
		t.Errorf("expected ErrOfferNotPending for late accept, got %v", err)
	}
	if h.RequestState(t, req.ID).State != domain.RequestStateCancelled {
		t.Error("expected request to stay CANCELLED")
	}
	if _, err := h.RideSvc.CancelRideRequest(ctx, req.ID); !errors.Is(err, service.ErrRequestNotCancellable) {
		t.Errorf("expected ErrRequestNotCancellable on second cancel, got %v", err)
	}
}

func TestDispatch_ConcurrentRequestsNeverShareADriver(t *testing.T) {
	t.Parallel()
	cfg := FastDispatchConfig()
	cfg.Workers = 4
	h := NewHarness(t, cfg, nil)
	h.Notifier.OnOffer = func(ctx context.Context, n domain.OfferNotice) {
		_, _ = h.Coordinator.RespondToOffer(ctx, n.OfferID, true)
	}
	h.Coordinator.Start(context.Background())
	t.Cleanup(h.Coordinator.Stop)

	const n = 20
	for i := 0; i < n; i++ {
		h.OnlineDriver(t, fmt.Sprintf("driver-%02d", i), north(float64(100+i*50)))
	}

	var mu sync.Mutex
	var requests []*domain.RideRequest
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := h.RideSvc.SubmitRideRequest(context.Background(), service.SubmitRideRequest{
				RiderID: fmt.Sprintf("rider-%02d", i),
				Pickup:  testPickup,
				Dropoff: north(4000),
			})
			if err != nil {
				t.Errorf("submit: %v", err)
				return
			}
			mu.Lock()
			requests = append(requests, req)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]string)
	for _, req := range requests {
		h.AwaitRequestState(t, req.ID, domain.RequestStateMatched)
		driverID := h.RequestState(t, req.ID).DriverID
		if other, dup := seen[driverID]; dup {
			t.Fatalf("driver %s matched to both %s and %s", driverID, other, req.ID)
		}
		seen[driverID] = req.ID
		if h.DriverState(t, driverID) != domain.DriverStateOnTrip {
			t.Errorf("expected %s ON_TRIP, got %s", driverID, h.DriverState(t, driverID))
		}
	}
	if len(seen) != n {
		t.Errorf("expected %d distinct drivers, got %d", n, len(seen))
	}
}

// ──────────────────────────────────────────────
// 5. LATE ANSWERS AND THE SWEEPER
// ──────────────────────────────────────────────

func TestDispatch_LateAcceptTreatedAsExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := FastDispatchConfig()
	cfg.OfferTTL = 60 * time.Millisecond
	h := NewHarness(t, cfg, nil)
	h.Coordinator.Start(ctx)
	h.OnlineDriver(t, "driver-1", north(200))

	req := h.Request(t, "rider-1")
	offer := h.AwaitOffer(t, req.ID, "")
	// Stopping disarms the offer timer, leaving the deadline to the answer path.
	h.Coordinator.Stop()
	time.Sleep(cfg.OfferTTL + 20*time.Millisecond)

	_, err := h.Coordinator.RespondToOffer(ctx, offer.ID, true)
	if !errors.Is(err, service.ErrOfferNotPending) {
		t.Fatalf("expected ErrOfferNotPending, got %v", err)
	}
	got := h.Offer(t, offer.ID)
	if got.State != domain.OfferStateExpired || got.Reason != domain.OfferReasonTimeout {
		t.Errorf("expected EXPIRED/timeout, got %s/%s", got.State, got.Reason)
	}
	if h.RequestState(t, req.ID).State != domain.RequestStatePending {
		t.Errorf("expected request back to PENDING")
	}
}

func TestDispatch_SweepExpiresOrphanedOffer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := FastDispatchConfig()
	cfg.OfferTTL = 60 * time.Millisecond
	h := NewHarness(t, cfg, nil)
	h.Coordinator.Start(ctx)
	h.OnlineDriver(t, "driver-1", north(200))

	req := h.Request(t, "rider-1")
	offer := h.AwaitOffer(t, req.ID, "")
	h.Coordinator.Stop()
	time.Sleep(cfg.OfferTTL + 20*time.Millisecond)

	h.Coordinator.Sweep(ctx)

	if got := h.Offer(t, offer.ID); got.State != domain.OfferStateExpired {
		t.Errorf("expected sweep to expire the offer, got %s", got.State)
	}
	if h.DriverState(t, "driver-1") != domain.DriverStateAvailable {
		t.Errorf("expected driver back to AVAILABLE, got %s", h.DriverState(t, "driver-1"))
	}
}

func TestDispatch_SweepSkippedWithoutLease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := FastDispatchConfig()
	cfg.MaxQueueTime = 30 * time.Millisecond
	lease := NewMockLeaseStore()
	lease.ForceAcquireFailure = true
	h := NewHarness(t, cfg, lease)

	req := h.Request(t, "rider-1")
	time.Sleep(cfg.MaxQueueTime + 10*time.Millisecond)

	h.Coordinator.Sweep(ctx)
	if h.RequestState(t, req.ID).State != domain.RequestStatePending {
		t.Fatal("expected sweep to do nothing while another replica holds the lease")
	}

	lease.mu.Lock()
	lease.ForceAcquireFailure = false
	lease.mu.Unlock()
	h.Coordinator.Sweep(ctx)
	if h.RequestState(t, req.ID).State != domain.RequestStateExpired {
		t.Error("expected sweep to expire the overdue request once the lease is held")
	}
	if atomic.LoadInt32(&lease.AcquireCallCount) != 2 {
		t.Errorf("expected 2 lease attempts, got %d", lease.AcquireCallCount)
	}
}

func TestDispatch_RespondToUnknownOffer(t *testing.T) {
	t.Parallel()
	h := NewHarness(t, FastDispatchConfig(), nil)

	if _, err := h.Coordinator.RespondToOffer(context.Background(), "missing", true); !errors.Is(err, service.ErrOfferNotFound) {
		t.Errorf("expected ErrOfferNotFound, got %v", err)
	}
	if _, err := h.Coordinator.RespondToOffer(context.Background(), "", true); !errors.Is(err, service.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

// ──────────────────────────────────────────────
// 6. CONTENTION AND QUEUE ORDER
// ──────────────────────────────────────────────

func TestDispatch_LostCandidatesReRankedWithoutBackoff(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := FastDispatchConfig()
	cfg.Workers = 1
	cfg.BackoffInitial = 2 * time.Second
	cfg.BackoffMax = 2 * time.Second
	mcfg := service.DefaultMatchingConfig()
	mcfg.MaxCandidates = 3
	h := NewHarnessWithMatching(t, cfg, mcfg, nil)

	for i, meters := range []float64{100, 200, 300} {
		id := fmt.Sprintf("driver-taken-%d", i)
		h.OnlineDriver(t, id, north(meters))
		// Reserved elsewhere; the index has not caught up yet.
		if _, err := h.Drivers.Transition(ctx, id, domain.DriverStateAvailable, domain.DriverStateOffered, "held"); err != nil {
			t.Fatalf("reserve %s: %v", id, err)
		}
	}
	h.OnlineDriver(t, "driver-free", north(1500))

	h.Coordinator.Start(ctx)
	t.Cleanup(h.Coordinator.Stop)

	started := time.Now()
	req := h.Request(t, "rider-1")
	offer := h.AwaitOffer(t, req.ID, "")

	if offer.DriverID != "driver-free" {
		t.Fatalf("expected offer to driver-free, got %s", offer.DriverID)
	}
	if elapsed := time.Since(started); elapsed >= cfg.BackoffInitial {
		t.Errorf("expected offer before any backoff, took %v", elapsed)
	}
	if got := h.RequestState(t, req.ID).Attempts; got != 1 {
		t.Errorf("expected the offer within the first attempt, got %d attempts", got)
	}
}

func TestDispatch_TimedOutRequestKeepsPlaceAheadOfLaterRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := FastDispatchConfig()
	cfg.Workers = 1
	cfg.OfferTTL = 100 * time.Millisecond
	h := NewHarness(t, cfg, nil)
	h.Coordinator.Start(ctx)
	t.Cleanup(h.Coordinator.Stop)

	h.OnlineDriver(t, "driver-1", north(200))
	reqA := h.Request(t, "rider-a")
	first := h.AwaitOffer(t, reqA.ID, "")

	// Hold dispatch so B arrives while A's offer is outstanding and neither
	// is worked on before A times out.
	h.Coordinator.Stop()
	reqB := h.Request(t, "rider-b")
	if reqB.Seq <= reqA.Seq {
		t.Fatalf("expected B to arrive after A, got seq %d vs %d", reqB.Seq, reqA.Seq)
	}

	time.Sleep(cfg.OfferTTL + 20*time.Millisecond)
	h.Coordinator.Sweep(ctx)

	if got := h.Offer(t, first.ID); got.State != domain.OfferStateExpired || got.Reason != domain.OfferReasonTimeout {
		t.Fatalf("expected first offer EXPIRED/timeout, got %s/%s", got.State, got.Reason)
	}
	if stored := h.RequestState(t, reqA.ID); stored.State != domain.RequestStatePending || stored.Seq != reqA.Seq {
		t.Fatalf("expected A PENDING with seq %d, got %s with seq %d", reqA.Seq, stored.State, stored.Seq)
	}

	h.OnlineDriver(t, "driver-2", north(900))
	h.Coordinator.Start(ctx)

	secondA := h.AwaitOffer(t, reqA.ID, first.ID)
	offerB := h.AwaitOffer(t, reqB.ID, "")
	if offerB.CreatedAt.Before(secondA.CreatedAt) {
		t.Errorf("expected A re-offered before B, got A at %v and B at %v", secondA.CreatedAt, offerB.CreatedAt)
	}
	if secondA.DriverID != "driver-2" {
		t.Errorf("expected A to skip the driver that timed out, got %s", secondA.DriverID)
	}
}

// ──────────────────────────────────────────────
// 7. SHUTDOWN
// ──────────────────────────────────────────────

func TestDispatch_StopSendsNoFurtherNotifications(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := NewHarness(t, FastDispatchConfig(), nil)
	h.Coordinator.Start(ctx)
	h.Coordinator.Stop()

	req := h.Request(t, "rider-1")
	time.Sleep(20 * time.Millisecond)
	if got := h.Notifier.EventTypes(req.ID); len(got) != 0 {
		t.Errorf("expected no rider events after stop, got %v", got)
	}

	h.Coordinator.Start(ctx)
	t.Cleanup(h.Coordinator.Stop)
	h.OnlineDriver(t, "driver-1", north(200))
	h.AwaitOffer(t, req.ID, "")
	Eventually(t, time.Second, func() bool {
		return h.Notifier.HasEvent(req.ID, domain.RiderEventOffered)
	}, "expected notifications to resume after restart")
}

func TestDispatch_StopWhileOffersExpire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := FastDispatchConfig()
	cfg.OfferTTL = 2 * time.Millisecond

	for round := 0; round < 10; round++ {
		h := NewHarness(t, cfg, nil)
		h.OnlineDriver(t, "driver-1", north(200))
		h.OnlineDriver(t, "driver-2", north(400))
		h.Coordinator.Start(ctx)
		h.Request(t, "rider-1")
		time.Sleep(time.Duration(round) * time.Millisecond)

		done := make(chan struct{})
		go func() {
			h.Coordinator.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatalf("round %d: stop did not return", round)
		}
	}
}
