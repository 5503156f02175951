package ports

import (
	"context"
	"time"

	"github.com/fleetrent/tracking-system/internal/core/domain"
)

// StartSessionInput carries the parameters for starting a tracking session.
type StartSessionInput struct {
	AssetID string
	// PollInterval overrides the configured poll cadence when > 0.
	PollInterval time.Duration
	// StaleAfter overrides the configured staleness threshold when > 0.
	StaleAfter time.Duration
}

// PositionView is the canonical position exposed to the rendering layer.
type PositionView struct {
	Lat        float64
	Lng        float64
	SpeedKmh   *float64
	ObservedAt time.Time
}

// SessionInfo is returned when starting (or re-joining) a session.
type SessionInfo struct {
	SessionID string
	AssetID   string
	Status    domain.SessionStatus
	// LastKnown is a best-effort warm-start position: either embedded in the
	// credential response or recovered from the last-position cache. It is
	// display-only and never part of the reconciled state.
	LastKnown *PositionView
	// AlreadyRunning is true when a live session for the asset existed and
	// was returned instead of a new one.
	AlreadyRunning bool
}

// PositionSnapshot is the reconciler's current view of one session.
type PositionSnapshot struct {
	SessionID  string
	AssetID    string
	Status     domain.SessionStatus
	Position   *PositionView // nil until the first accepted fix
	LastPushAt time.Time
	LastPollAt time.Time
	// Stale is true when no feed has delivered an accepted sample within
	// the session's staleness threshold.
	Stale bool
}

// TrackingService defines the use-case operations for live tracking sessions.
type TrackingService interface {
	StartSession(ctx context.Context, input StartSessionInput) (*SessionInfo, error)
	Snapshot(ctx context.Context, assetID string) (*PositionSnapshot, error)
	StopSession(ctx context.Context, assetID string) error
}
