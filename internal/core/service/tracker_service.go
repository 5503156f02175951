package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fleetrent/tracking-system/internal/core/domain"
	"github.com/fleetrent/tracking-system/internal/core/ports"
)

const cacheWriteTimeout = 2 * time.Second

// Options tunes session behaviour. Zero values fall back to defaults.
type Options struct {
	// StaleAfter is the age beyond which a reconciled position is reported
	// as stale. Zero disables staleness reporting.
	StaleAfter time.Duration
	// CacheTTL bounds how long a last-known position survives in the cache.
	CacheTTL time.Duration
}

// TrackerService manages at most one live tracking session per asset and
// implements ports.TrackingService.
type TrackerService struct {
	creds ports.CredentialSource
	push  ports.FeedFactory
	poll  ports.FeedFactory
	cache ports.LastPositionCache // optional, nil disables warm start
	opts  Options
	log   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewTrackerService returns a TrackingService implementation. cache may be
// nil when no last-position store is configured.
func NewTrackerService(
	creds ports.CredentialSource,
	push ports.FeedFactory,
	poll ports.FeedFactory,
	cache ports.LastPositionCache,
	opts Options,
	log zerolog.Logger,
) *TrackerService {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	return &TrackerService{
		creds:    creds,
		push:     push,
		poll:     poll,
		cache:    cache,
		opts:     opts,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// StartSession starts a tracking session for an asset, or returns the one
// already running. A credential failure produces a session in the terminal
// unconfigured state rather than an error: the caller is expected to tell
// the user to configure hardware, not to offer a retry.
func (t *TrackerService) StartSession(ctx context.Context, input ports.StartSessionInput) (*ports.SessionInfo, error) {
	staleAfter := t.opts.StaleAfter
	if input.StaleAfter > 0 {
		staleAfter = input.StaleAfter
	}

	t.mu.Lock()
	if existing, ok := t.sessions[input.AssetID]; ok {
		if !existing.currentStatus().Terminal() {
			t.mu.Unlock()
			info := t.sessionInfo(ctx, existing)
			info.AlreadyRunning = true
			return info, nil
		}
		// Terminal sessions are replaced: a fresh start is the user's retry.
		delete(t.sessions, input.AssetID)
	}

	session := newSession(uuid.NewString(), input.AssetID, staleAfter, t.renderSink(input.AssetID), t.log)
	t.sessions[input.AssetID] = session
	t.mu.Unlock()

	cred, embedded, err := t.creds.FetchCredential(ctx, input.AssetID)
	if err != nil {
		session.markUnconfigured()
		t.log.Warn().Err(err).Str("asset_id", input.AssetID).Msg("credential fetch failed, session unconfigured")
		return t.sessionInfo(ctx, session), nil
	}

	feedOpts := ports.FeedOptions{PollInterval: input.PollInterval}
	feedCtx := session.start()
	go t.push(*cred, session, feedOpts).Run(feedCtx)
	go t.poll(*cred, session, feedOpts).Run(feedCtx)

	if embedded != nil {
		// Best-effort fix embedded in the credential response: treat it as
		// an ordinary poll-sourced observation.
		session.Publish(domain.SourcePoll, *embedded)
	}

	t.log.Info().
		Str("asset_id", input.AssetID).
		Str("session_id", session.id).
		Str("device_id", cred.DeviceID).
		Msg("tracking session started")

	return t.sessionInfo(ctx, session), nil
}

// Snapshot returns the reconciled view for the asset's session.
func (t *TrackerService) Snapshot(_ context.Context, assetID string) (*ports.PositionSnapshot, error) {
	t.mu.Lock()
	session, ok := t.sessions[assetID]
	t.mu.Unlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	snap := session.Snapshot()
	return &snap, nil
}

// StopSession tears the asset's session down and forgets it.
func (t *TrackerService) StopSession(_ context.Context, assetID string) error {
	t.mu.Lock()
	session, ok := t.sessions[assetID]
	if ok {
		delete(t.sessions, assetID)
	}
	t.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.Close()
	t.log.Info().Str("asset_id", assetID).Msg("tracking session stopped")
	return nil
}

// CloseAll tears down every session, used on shutdown.
func (t *TrackerService) CloseAll() {
	t.mu.Lock()
	sessions := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.sessions = make(map[string]*Session)
	t.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// ActiveSessions reports how many non-terminal sessions are registered.
func (t *TrackerService) ActiveSessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.sessions {
		if !s.currentStatus().Terminal() {
			n++
		}
	}
	return n
}

// renderSink forwards accepted positions to the last-position cache without
// blocking the reducer.
func (t *TrackerService) renderSink(assetID string) func(domain.PositionSample) {
	if t.cache == nil {
		return nil
	}
	return func(sample domain.PositionSample) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
			defer cancel()
			if err := t.cache.Set(ctx, assetID, sample, t.opts.CacheTTL); err != nil {
				t.log.Warn().Err(err).Str("asset_id", assetID).Msg("last-position cache write failed")
			}
		}()
	}
}

// sessionInfo assembles the start response, including a warm-start position
// when one is available.
func (t *TrackerService) sessionInfo(ctx context.Context, session *Session) *ports.SessionInfo {
	snap := session.Snapshot()
	info := &ports.SessionInfo{
		SessionID: snap.SessionID,
		AssetID:   snap.AssetID,
		Status:    snap.Status,
	}
	if snap.Position != nil {
		info.LastKnown = snap.Position
		return info
	}

	if t.cache == nil || snap.Status == domain.StatusUnconfigured {
		return info
	}
	cached, err := t.cache.Get(ctx, snap.AssetID)
	if err != nil {
		t.log.Debug().Err(err).Str("asset_id", snap.AssetID).Msg("last-position cache read failed")
		return info
	}
	if cached != nil {
		info.LastKnown = &ports.PositionView{
			Lat:        cached.Lat,
			Lng:        cached.Lng,
			SpeedKmh:   cached.SpeedKmh,
			ObservedAt: cached.ObservedAt,
		}
	}
	return info
}
