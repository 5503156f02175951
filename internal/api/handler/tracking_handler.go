package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fleetrent/tracking-system/internal/api/metrics"
	"github.com/fleetrent/tracking-system/internal/core/domain"
	"github.com/fleetrent/tracking-system/internal/core/ports"
)

const unconfiguredGuidance = "No tracking hardware is configured for this vehicle. " +
	"Install and register a tracking unit in the fleet back office, then start a new session."

// TrackingHandler handles HTTP requests for live tracking sessions.
type TrackingHandler struct {
	service ports.TrackingService
}

func NewTrackingHandler(service ports.TrackingService) *TrackingHandler {
	return &TrackingHandler{service: service}
}

// Start handles POST /v1/assets/:asset_id/tracking/session.
//
// @Summary      Start (or join) the live tracking session for an asset
// @Tags         tracking
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        asset_id  path      string               true   "Asset (vehicle) identifier"
// @Param        body      body      startSessionRequest  false  "Optional per-session overrides"
// @Success      201       {object}  startSessionResponse
// @Failure      400       {object}  map[string]string
// @Failure      401       {object}  map[string]string
// @Failure      422       {object}  map[string]string
// @Router       /v1/assets/{asset_id}/tracking/session [post]
func (h *TrackingHandler) Start(c echo.Context) error {
	assetID := c.Param("asset_id")
	if assetID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing asset id")
	}

	var req startSessionRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
		}
		if err := c.Validate(&req); err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
	}

	info, err := h.service.StartSession(c.Request().Context(), ports.StartSessionInput{
		AssetID:      assetID,
		PollInterval: time.Duration(req.PollIntervalSeconds) * time.Second,
		StaleAfter:   time.Duration(req.StaleAfterSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	resp := startSessionResponse{
		SessionID:      info.SessionID,
		AssetID:        info.AssetID,
		Status:         string(info.Status),
		AlreadyRunning: info.AlreadyRunning,
		LastKnown:      toPositionResponse(info.LastKnown),
	}

	status := http.StatusCreated
	switch {
	case info.Status == domain.StatusUnconfigured:
		// Terminal: no retry is offered, the operator has to fix hardware.
		resp.Guidance = unconfiguredGuidance
		metrics.CredentialFailuresTotal.Inc()
	case info.AlreadyRunning:
		status = http.StatusOK
	default:
		metrics.SessionsStartedTotal.Inc()
	}

	return c.JSON(status, resp)
}

// Position handles GET /v1/assets/:asset_id/tracking/position.
//
// @Summary      Get the reconciled current position for an asset
// @Tags         tracking
// @Produce      json
// @Security     BearerAuth
// @Param        asset_id  path      string  true  "Asset (vehicle) identifier"
// @Success      200       {object}  snapshotResponse
// @Failure      401       {object}  map[string]string
// @Failure      404       {object}  map[string]string
// @Router       /v1/assets/{asset_id}/tracking/position [get]
func (h *TrackingHandler) Position(c echo.Context) error {
	snap, err := h.service.Snapshot(c.Request().Context(), c.Param("asset_id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, snapshotResponse{
		SessionID:  snap.SessionID,
		AssetID:    snap.AssetID,
		Status:     string(snap.Status),
		Position:   toPositionResponse(snap.Position),
		LastPushAt: formatTime(snap.LastPushAt),
		LastPollAt: formatTime(snap.LastPollAt),
		Stale:      snap.Stale,
	})
}

// Stop handles DELETE /v1/assets/:asset_id/tracking/session.
//
// @Summary      Stop the live tracking session for an asset
// @Tags         tracking
// @Produce      json
// @Security     BearerAuth
// @Param        asset_id  path  string  true  "Asset (vehicle) identifier"
// @Success      204
// @Failure      401       {object}  map[string]string
// @Failure      404       {object}  map[string]string
// @Router       /v1/assets/{asset_id}/tracking/session [delete]
func (h *TrackingHandler) Stop(c echo.Context) error {
	if err := h.service.StopSession(c.Request().Context(), c.Param("asset_id")); err != nil {
		return err
	}
	metrics.SessionsStoppedTotal.Inc()
	return c.NoContent(http.StatusNoContent)
}

func toPositionResponse(p *ports.PositionView) *positionResponse {
	if p == nil {
		return nil
	}
	return &positionResponse{
		Lat:        p.Lat,
		Lng:        p.Lng,
		SpeedKmh:   p.SpeedKmh,
		ObservedAt: p.ObservedAt.UTC().Format(time.RFC3339),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
