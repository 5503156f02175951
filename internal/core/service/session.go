package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetrent/tracking-system/internal/core/domain"
	"github.com/fleetrent/tracking-system/internal/core/ports"
)

const eventBuffer = 16

type eventKind int

const (
	evPosition eventKind = iota
	evFeedUp
	evFeedDown
)

// sessionEvent is one discrete reconciler input from a feed client.
type sessionEvent struct {
	kind   eventKind
	source domain.FeedSource
	sample domain.PositionSample
	err    error
}

// Session is the live state machine for one tracked asset. It owns the
// reconciled current position exclusively: feed clients are write-only
// producers through the FeedSink interface, and a single goroutine (run)
// applies their events in arrival order. Last write wins across sources;
// neither feed is authoritative over the other.
type Session struct {
	id      string
	assetID string

	events    chan sessionEvent
	done      chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc // stops the feed clients, nil until started

	staleAfter time.Duration
	onRender   func(domain.PositionSample)
	now        func() time.Time
	log        zerolog.Logger

	mu         sync.RWMutex
	status     domain.SessionStatus
	current    *domain.PositionSample
	lastPushAt time.Time
	lastPollAt time.Time
	lastAccept time.Time
	renders    uint64
}

func newSession(id, assetID string, staleAfter time.Duration, onRender func(domain.PositionSample), log zerolog.Logger) *Session {
	return &Session{
		id:         id,
		assetID:    assetID,
		events:     make(chan sessionEvent, eventBuffer),
		done:       make(chan struct{}),
		staleAfter: staleAfter,
		onRender:   onRender,
		now:        time.Now,
		log:        log.With().Str("session_id", id).Str("asset_id", assetID).Logger(),
		status:     domain.StatusCredentialPending,
	}
}

// start moves the session out of credential_pending and launches the reducer
// goroutine. The feed clients are started by the caller under the returned
// context so that Close tears everything down together.
func (s *Session) start() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.status = domain.StatusConnecting
	s.mu.Unlock()

	go s.run()
	return ctx
}

// markUnconfigured records the terminal no-credential state. The reducer
// never runs for such a session.
func (s *Session) markUnconfigured() {
	s.mu.Lock()
	s.status = domain.StatusUnconfigured
	s.mu.Unlock()
}

// Close tears the session down: feed clients are cancelled and any event
// still in flight is dropped. Safe to call more than once and safe to race
// with producers; a publish landing after Close is a no-op.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		if !s.status.Terminal() {
			s.status = domain.StatusClosed
		}
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		close(s.done)
	})
}

// run is the single-threaded reducer: all state mutation happens here.
func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.apply(ev)
		}
	}
}

// --- ports.FeedSink ---

func (s *Session) Publish(source domain.FeedSource, sample domain.PositionSample) {
	s.emit(sessionEvent{kind: evPosition, source: source, sample: sample})
}

func (s *Session) FeedUp(source domain.FeedSource) {
	s.emit(sessionEvent{kind: evFeedUp, source: source})
}

func (s *Session) FeedDown(source domain.FeedSource, err error) {
	s.emit(sessionEvent{kind: evFeedDown, source: source, err: err})
}

// emit enqueues an event unless the session is already closed.
func (s *Session) emit(ev sessionEvent) {
	select {
	case <-s.done:
	case s.events <- ev:
	}
}

// --- reducer ---

func (s *Session) apply(ev sessionEvent) {
	switch ev.kind {
	case evPosition:
		s.applyPosition(ev.source, ev.sample)
	case evFeedUp:
		s.applyFeedUp(ev.source)
	case evFeedDown:
		s.applyFeedDown(ev.source, ev.err)
	}
}

func (s *Session) applyPosition(source domain.FeedSource, sample domain.PositionSample) {
	now := s.now()

	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}

	// Feed liveness reflects every accepted sample, changed or not.
	switch source {
	case domain.SourcePush:
		s.lastPushAt = now
	case domain.SourcePoll:
		s.lastPollAt = now
	}
	s.lastAccept = now

	// Exact equality on lat, lng and observedAt is the only suppression
	// condition; applying the same fix twice changes state exactly once.
	changed := s.current == nil || !s.current.Equal(sample)
	if changed {
		copied := sample
		s.current = &copied
		s.renders++
	}

	if s.status != domain.StatusLive && s.status.CanTransitionTo(domain.StatusLive) {
		s.status = domain.StatusLive
	}
	s.mu.Unlock()

	if changed {
		s.log.Debug().
			Str("source", string(source)).
			Float64("lat", sample.Lat).
			Float64("lng", sample.Lng).
			Msg("position accepted")
		if s.onRender != nil {
			s.onRender(sample)
		}
	}
}

func (s *Session) applyFeedUp(source domain.FeedSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}

	switch {
	case s.current != nil && s.status.CanTransitionTo(domain.StatusLive):
		s.status = domain.StatusLive
	case s.status == domain.StatusReconnecting:
		s.status = domain.StatusConnecting
	}
	s.log.Info().Str("source", string(source)).Str("status", string(s.status)).Msg("feed up")
}

func (s *Session) applyFeedDown(source domain.FeedSource, err error) {
	// The poll feed is its own backstop: a failed poll retries on the next
	// tick and never degrades the session.
	if source != domain.SourcePush {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}

	switch {
	case s.current != nil && s.status.CanTransitionTo(domain.StatusDegraded):
		// Stale but displayable: keep the last known fix on screen.
		s.status = domain.StatusDegraded
	case s.current == nil && s.status == domain.StatusConnecting:
		s.status = domain.StatusReconnecting
	}
	s.log.Warn().Err(err).Str("status", string(s.status)).Msg("push feed down")
}

// --- reads ---

// Snapshot returns the reconciler's current view. Readers never block the
// reducer beyond the mutex hold.
func (s *Session) Snapshot() ports.PositionSnapshot {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := ports.PositionSnapshot{
		SessionID:  s.id,
		AssetID:    s.assetID,
		Status:     s.status,
		LastPushAt: s.lastPushAt,
		LastPollAt: s.lastPollAt,
	}
	if s.current != nil {
		snap.Position = &ports.PositionView{
			Lat:        s.current.Lat,
			Lng:        s.current.Lng,
			SpeedKmh:   s.current.SpeedKmh,
			ObservedAt: s.current.ObservedAt,
		}
		if s.staleAfter > 0 && now.Sub(s.lastAccept) > s.staleAfter {
			snap.Stale = true
		}
	}
	return snap
}

func (s *Session) currentStatus() domain.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// renderCount reports how many downstream render notifications have fired.
func (s *Session) renderCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.renders
}
