package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleetrent/tracking-system/internal/core/domain"
)

// LastPositionStore keeps the single latest accepted fix per asset, used to
// warm-start a new session's map view. It is not a location history: every
// write replaces the previous value.
// Key format: lastpos:<asset_id>
type LastPositionStore struct {
	client *redis.Client
}

// NewLastPositionStore creates a LastPositionStore wrapping the given Redis client.
func NewLastPositionStore(client *redis.Client) *LastPositionStore {
	return &LastPositionStore{client: client}
}

// cachedPosition is the stored wire form.
type cachedPosition struct {
	Lat        float64  `json:"lat"`
	Lng        float64  `json:"lng"`
	SpeedKmh   *float64 `json:"speed_kmh,omitempty"`
	ObservedAt int64    `json:"observed_at"`
}

// Get returns the cached fix for an asset, or nil when none is cached.
func (s *LastPositionStore) Get(ctx context.Context, assetID string) (*domain.PositionSample, error) {
	raw, err := s.client.Get(ctx, s.key(assetID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last position get: %w", err)
	}

	var stored cachedPosition
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("last position decode: %w", err)
	}
	return &domain.PositionSample{
		Lat:        stored.Lat,
		Lng:        stored.Lng,
		SpeedKmh:   stored.SpeedKmh,
		ObservedAt: time.Unix(stored.ObservedAt, 0).UTC(),
	}, nil
}

// Set replaces the cached fix for an asset (expires after ttl).
func (s *LastPositionStore) Set(ctx context.Context, assetID string, sample domain.PositionSample, ttl time.Duration) error {
	raw, err := json.Marshal(cachedPosition{
		Lat:        sample.Lat,
		Lng:        sample.Lng,
		SpeedKmh:   sample.SpeedKmh,
		ObservedAt: sample.ObservedAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("last position encode: %w", err)
	}
	if err := s.client.Set(ctx, s.key(assetID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("last position set: %w", err)
	}
	return nil
}

func (s *LastPositionStore) key(assetID string) string {
	return "lastpos:" + assetID
}
