package handler

// startSessionRequest is the optional body for starting a session; absent
// fields fall back to the service configuration.
type startSessionRequest struct {
	PollIntervalSeconds int `json:"poll_interval_seconds" validate:"omitempty,gt=0,lte=300"`
	StaleAfterSeconds   int `json:"stale_after_seconds"   validate:"omitempty,gt=0,lte=3600"`
}

type positionResponse struct {
	Lat        float64  `json:"lat"`
	Lng        float64  `json:"lng"`
	SpeedKmh   *float64 `json:"speed_kmh,omitempty"`
	ObservedAt string   `json:"observed_at"`
}

type startSessionResponse struct {
	SessionID      string            `json:"session_id"`
	AssetID        string            `json:"asset_id"`
	Status         string            `json:"status"`
	AlreadyRunning bool              `json:"already_running,omitempty"`
	LastKnown      *positionResponse `json:"last_known,omitempty"`
	// Guidance tells the operator what to do about a terminal state.
	Guidance string `json:"guidance,omitempty"`
}

type snapshotResponse struct {
	SessionID  string            `json:"session_id"`
	AssetID    string            `json:"asset_id"`
	Status     string            `json:"status"`
	Position   *positionResponse `json:"position"`
	LastPushAt string            `json:"last_push_at,omitempty"`
	LastPollAt string            `json:"last_poll_at,omitempty"`
	Stale      bool              `json:"stale"`
}
