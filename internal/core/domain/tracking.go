package domain

import (
	"errors"
	"time"
)

// SessionStatus represents the lifecycle state of a tracking session.
type SessionStatus string

const (
	StatusCredentialPending SessionStatus = "credential_pending"
	StatusUnconfigured      SessionStatus = "unconfigured" // terminal: no credential obtainable
	StatusConnecting        SessionStatus = "connecting"
	StatusLive              SessionStatus = "live"
	StatusReconnecting      SessionStatus = "reconnecting"
	StatusDegraded          SessionStatus = "degraded" // feed unhealthy, last fix retained
	StatusClosed            SessionStatus = "closed"
)

// validTransitions defines the allowed state machine transitions.
var validTransitions = map[SessionStatus][]SessionStatus{
	StatusCredentialPending: {StatusUnconfigured, StatusConnecting, StatusClosed},
	StatusConnecting:        {StatusLive, StatusReconnecting, StatusClosed},
	StatusReconnecting:      {StatusConnecting, StatusLive, StatusClosed},
	StatusLive:              {StatusDegraded, StatusClosed},
	StatusDegraded:          {StatusLive, StatusClosed},
}

var ErrTrackingNotConfigured = errors.New("tracking not configured for asset")
var ErrSessionNotFound = errors.New("tracking session not found")
var ErrSessionClosed = errors.New("tracking session closed")

// CanTransitionTo reports whether a transition from the current status to next is valid.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the session can never leave this status.
func (s SessionStatus) Terminal() bool {
	return s == StatusUnconfigured || s == StatusClosed
}

// FeedSource identifies which transport delivered a position update.
type FeedSource string

const (
	SourcePush FeedSource = "push"
	SourcePoll FeedSource = "poll"
)

// TrackingCredential is the short-lived device-access credential issued once
// per tracking session by the fleet back office. DeviceID is the IoT
// gateway's opaque handle for the onboard unit: either a numeric device id
// or a hardware serial (IMEI), rendered as a string.
type TrackingCredential struct {
	DeviceID    string
	AccessToken string
	ExpiresAt   time.Time // zero means unknown, assume short-lived
}

// PositionSample is one immutable observation of a tracked asset's location.
// New observations never mutate an old sample; the reconciler replaces its
// current-position reference instead.
type PositionSample struct {
	Lat        float64
	Lng        float64
	SpeedKmh   *float64  // optional, non-negative
	ObservedAt time.Time // receipt time is substituted when the payload carries none
}

// Equal reports whether two samples describe the same fix. Speed is
// deliberately excluded: equality on lat, lng and observation time is the
// render-suppression condition.
func (s PositionSample) Equal(o PositionSample) bool {
	return s.Lat == o.Lat && s.Lng == o.Lng && s.ObservedAt.Equal(o.ObservedAt)
}
