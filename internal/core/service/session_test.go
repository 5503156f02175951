package service

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetrent/tracking-system/internal/core/domain"
)

// newTestSession returns a session already in connecting state, as if a
// credential had been resolved, with the reducer driven synchronously via
// apply().
func newTestSession(staleAfter time.Duration, onRender func(domain.PositionSample)) *Session {
	s := newSession("sess-1", "veh-42", staleAfter, onRender, zerolog.Nop())
	s.status = domain.StatusConnecting
	return s
}

func sampleAt(lat, lng float64, observed time.Time) domain.PositionSample {
	return domain.PositionSample{Lat: lat, Lng: lng, ObservedAt: observed}
}

func TestSession_FirstPositionMovesConnectingToLive(t *testing.T) {
	s := newTestSession(0, nil)
	observed := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	s.apply(sessionEvent{kind: evPosition, source: domain.SourcePoll, sample: sampleAt(10.776, 106.700, observed)})

	snap := s.Snapshot()
	if snap.Status != domain.StatusLive {
		t.Fatalf("status = %s, want live", snap.Status)
	}
	if snap.Position == nil || snap.Position.Lat != 10.776 || snap.Position.Lng != 106.700 {
		t.Fatalf("position not reconciled: %+v", snap.Position)
	}
	if snap.LastPollAt.IsZero() {
		t.Fatalf("lastPollAt not recorded")
	}
	if !snap.LastPushAt.IsZero() {
		t.Fatalf("lastPushAt should be untouched")
	}
}

func TestSession_DuplicateSampleRendersOnce(t *testing.T) {
	renders := 0
	s := newTestSession(0, func(domain.PositionSample) { renders++ })
	observed := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	same := sampleAt(10.776, 106.700, observed)

	s.apply(sessionEvent{kind: evPosition, source: domain.SourcePoll, sample: same})
	s.apply(sessionEvent{kind: evPosition, source: domain.SourcePush, sample: same})

	if renders != 1 {
		t.Fatalf("renders = %d, want 1 (second identical sample must be suppressed)", renders)
	}
	if got := s.renderCount(); got != 1 {
		t.Fatalf("renderCount = %d, want 1", got)
	}

	// Liveness tracking must still reflect both sources.
	snap := s.Snapshot()
	if snap.LastPushAt.IsZero() || snap.LastPollAt.IsZero() {
		t.Fatalf("both feed timestamps must be updated, got push=%v poll=%v", snap.LastPushAt, snap.LastPollAt)
	}
}

func TestSession_LastWriteWinsAcrossSources(t *testing.T) {
	s := newTestSession(0, nil)
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	s.apply(sessionEvent{kind: evPosition, source: domain.SourcePush, sample: sampleAt(1.0, 2.0, t0)})
	s.apply(sessionEvent{kind: evPosition, source: domain.SourcePoll, sample: sampleAt(3.0, 4.0, t0.Add(time.Second))})

	snap := s.Snapshot()
	if snap.Position.Lat != 3.0 || snap.Position.Lng != 4.0 {
		t.Fatalf("poll arrival must win by order, got %+v", snap.Position)
	}

	// An older observation arriving later still wins: arrival order, not
	// source priority, decides.
	s.apply(sessionEvent{kind: evPosition, source: domain.SourcePush, sample: sampleAt(5.0, 6.0, t0)})
	snap = s.Snapshot()
	if snap.Position.Lat != 5.0 {
		t.Fatalf("late push arrival must win, got %+v", snap.Position)
	}
}

func TestSession_PushDownWithFixDegrades(t *testing.T) {
	s := newTestSession(0, nil)
	s.apply(sessionEvent{kind: evPosition, source: domain.SourcePush, sample: sampleAt(1.0, 2.0, time.Now())})

	s.apply(sessionEvent{kind: evFeedDown, source: domain.SourcePush, err: errors.New("broker gone")})

	snap := s.Snapshot()
	if snap.Status != domain.StatusDegraded {
		t.Fatalf("status = %s, want degraded", snap.Status)
	}
	if snap.Position == nil {
		t.Fatalf("last known fix must be retained")
	}

	// Recovery restores live without a session restart.
	s.apply(sessionEvent{kind: evFeedUp, source: domain.SourcePush})
	if got := s.currentStatus(); got != domain.StatusLive {
		t.Fatalf("status after feed up = %s, want live", got)
	}
}

func TestSession_PushDownWithoutFixReconnects(t *testing.T) {
	s := newTestSession(0, nil)

	s.apply(sessionEvent{kind: evFeedDown, source: domain.SourcePush, err: errors.New("dial timeout")})
	if got := s.currentStatus(); got != domain.StatusReconnecting {
		t.Fatalf("status = %s, want reconnecting", got)
	}

	s.apply(sessionEvent{kind: evFeedUp, source: domain.SourcePush})
	if got := s.currentStatus(); got != domain.StatusConnecting {
		t.Fatalf("status = %s, want connecting (still awaiting first fix)", got)
	}
}

func TestSession_RepeatedDropsThenRecoveryDeliversPositions(t *testing.T) {
	s := newTestSession(0, nil)

	for i := 0; i < 5; i++ {
		s.apply(sessionEvent{kind: evFeedDown, source: domain.SourcePush, err: errors.New("drop")})
		s.apply(sessionEvent{kind: evFeedUp, source: domain.SourcePush})
	}

	s.apply(sessionEvent{kind: evPosition, source: domain.SourcePush, sample: sampleAt(9.0, 9.0, time.Now())})
	snap := s.Snapshot()
	if snap.Status != domain.StatusLive || snap.Position == nil {
		t.Fatalf("session must resume after repeated drops, got %s", snap.Status)
	}
}

func TestSession_PollFailureNeverDegrades(t *testing.T) {
	s := newTestSession(0, nil)
	s.apply(sessionEvent{kind: evPosition, source: domain.SourcePoll, sample: sampleAt(1.0, 2.0, time.Now())})

	s.apply(sessionEvent{kind: evFeedDown, source: domain.SourcePoll, err: errors.New("502")})

	if got := s.currentStatus(); got != domain.StatusLive {
		t.Fatalf("poll failure must not change status, got %s", got)
	}
}

func TestSession_TeardownSafety(t *testing.T) {
	s := newTestSession(0, func(domain.PositionSample) {
		t.Fatalf("render must not fire after teardown")
	})
	s.start() // real reducer goroutine
	s.Close()

	// A bootstrap poll resolving after teardown must be a no-op.
	s.Publish(domain.SourcePoll, sampleAt(1.0, 2.0, time.Now()))
	s.FeedDown(domain.SourcePush, errors.New("late"))

	snap := s.Snapshot()
	if snap.Status != domain.StatusClosed {
		t.Fatalf("status = %s, want closed", snap.Status)
	}
	if snap.Position != nil {
		t.Fatalf("no mutation may land after close")
	}

	// Close is idempotent.
	s.Close()
}

func TestSession_Staleness(t *testing.T) {
	s := newTestSession(30*time.Second, nil)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	current := base
	s.now = func() time.Time { return current }

	s.apply(sessionEvent{kind: evPosition, source: domain.SourcePoll, sample: sampleAt(1.0, 2.0, base)})

	if snap := s.Snapshot(); snap.Stale {
		t.Fatalf("fresh fix must not be stale")
	}

	current = base.Add(31 * time.Second)
	if snap := s.Snapshot(); !snap.Stale {
		t.Fatalf("fix older than threshold must be stale")
	}

	// A new accepted sample clears staleness.
	s.apply(sessionEvent{kind: evPosition, source: domain.SourcePush, sample: sampleAt(1.1, 2.1, current)})
	if snap := s.Snapshot(); snap.Stale {
		t.Fatalf("staleness must reset on a new accepted sample")
	}
}

func TestSession_AsyncPublishReachesReducer(t *testing.T) {
	s := newTestSession(0, nil)
	s.start()
	defer s.Close()

	s.Publish(domain.SourcePush, sampleAt(10.0, 20.0, time.Now()))

	waitFor(t, time.Second, func() bool {
		return s.currentStatus() == domain.StatusLive
	})
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
