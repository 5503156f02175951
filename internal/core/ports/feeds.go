package ports

import (
	"context"
	"time"

	"github.com/fleetrent/tracking-system/internal/core/domain"
)

// CredentialSource retrieves the short-lived device-access credential for an
// asset from the owning back office. The optional sample is a best-effort
// last-known position when the response happened to embed one. A failure is
// terminal for the session: callers must not retry.
type CredentialSource interface {
	FetchCredential(ctx context.Context, assetID string) (*domain.TrackingCredential, *domain.PositionSample, error)
}

// FeedSink is the one-way emit surface feed clients publish into. Producers
// never read or mutate session state; the reconciler is its single writer.
type FeedSink interface {
	// Publish hands an extracted position to the reconciler.
	Publish(source domain.FeedSource, sample domain.PositionSample)
	// FeedUp reports a (re)established feed connection.
	FeedUp(source domain.FeedSource)
	// FeedDown reports a dropped or erroring feed connection.
	FeedDown(source domain.FeedSource, err error)
}

// Feed is one transport path delivering position updates for a session.
// Run blocks until ctx is cancelled; transient failures are absorbed and
// retried internally, never returned.
type Feed interface {
	Run(ctx context.Context)
}

// FeedOptions carries per-session tuning for a feed client. Transports
// ignore fields that do not apply to them.
type FeedOptions struct {
	// PollInterval overrides the poll cadence when > 0.
	PollInterval time.Duration
}

// FeedFactory builds a feed client bound to a resolved credential and the
// session's sink. The service holds one factory per transport (push, poll).
type FeedFactory func(cred domain.TrackingCredential, sink FeedSink, opts FeedOptions) Feed

// LastPositionCache stores the single latest accepted fix per asset. It is a
// render sink and warm-start source, not a location history store.
type LastPositionCache interface {
	Get(ctx context.Context, assetID string) (*domain.PositionSample, error)
	Set(ctx context.Context, assetID string, sample domain.PositionSample, ttl time.Duration) error
}
