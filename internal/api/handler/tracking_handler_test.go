package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fleetrent/tracking-system/internal/core/domain"
	"github.com/fleetrent/tracking-system/internal/core/ports"
)

type stubTrackingService struct {
	startFn    func(ctx context.Context, input ports.StartSessionInput) (*ports.SessionInfo, error)
	snapshotFn func(ctx context.Context, assetID string) (*ports.PositionSnapshot, error)
	stopFn     func(ctx context.Context, assetID string) error
}

func (s *stubTrackingService) StartSession(ctx context.Context, input ports.StartSessionInput) (*ports.SessionInfo, error) {
	return s.startFn(ctx, input)
}

func (s *stubTrackingService) Snapshot(ctx context.Context, assetID string) (*ports.PositionSnapshot, error) {
	return s.snapshotFn(ctx, assetID)
}

func (s *stubTrackingService) StopSession(ctx context.Context, assetID string) error {
	return s.stopFn(ctx, assetID)
}

func newTrackingContext(e *echo.Echo, method, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("asset_id")
	c.SetParamValues("veh_42")
	return c, rec
}

func TestTrackingHandler_Start_NewSession(t *testing.T) {
	e := echo.New()
	e.Validator = NewValidator()
	stub := &stubTrackingService{
		startFn: func(ctx context.Context, input ports.StartSessionInput) (*ports.SessionInfo, error) {
			if input.AssetID != "veh_42" {
				t.Fatalf("unexpected asset id: %s", input.AssetID)
			}
			return &ports.SessionInfo{
				SessionID: "sess_1",
				AssetID:   input.AssetID,
				Status:    domain.StatusConnecting,
			}, nil
		},
	}
	handler := NewTrackingHandler(stub)

	c, rec := newTrackingContext(e, http.MethodPost, "")

	if err := handler.Start(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp["session_id"] != "sess_1" || resp["status"] != "connecting" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestTrackingHandler_Start_AlreadyRunning(t *testing.T) {
	e := echo.New()
	e.Validator = NewValidator()
	stub := &stubTrackingService{
		startFn: func(ctx context.Context, input ports.StartSessionInput) (*ports.SessionInfo, error) {
			return &ports.SessionInfo{
				SessionID:      "sess_1",
				AssetID:        input.AssetID,
				Status:         domain.StatusLive,
				AlreadyRunning: true,
			}, nil
		},
	}
	handler := NewTrackingHandler(stub)

	c, rec := newTrackingContext(e, http.MethodPost, "")

	if err := handler.Start(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for an existing session, got %d", rec.Code)
	}
}

func TestTrackingHandler_Start_Overrides(t *testing.T) {
	e := echo.New()
	e.Validator = NewValidator()
	stub := &stubTrackingService{
		startFn: func(ctx context.Context, input ports.StartSessionInput) (*ports.SessionInfo, error) {
			if input.PollInterval != 10*time.Second {
				t.Fatalf("expected poll interval 10s, got %v", input.PollInterval)
			}
			if input.StaleAfter != 120*time.Second {
				t.Fatalf("expected stale after 120s, got %v", input.StaleAfter)
			}
			return &ports.SessionInfo{SessionID: "sess_1", AssetID: input.AssetID, Status: domain.StatusConnecting}, nil
		},
	}
	handler := NewTrackingHandler(stub)

	c, rec := newTrackingContext(e, http.MethodPost, `{"poll_interval_seconds":10,"stale_after_seconds":120}`)

	if err := handler.Start(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
}

func TestTrackingHandler_Start_InvalidOverride(t *testing.T) {
	e := echo.New()
	e.Validator = NewValidator()
	stub := &stubTrackingService{
		startFn: func(ctx context.Context, input ports.StartSessionInput) (*ports.SessionInfo, error) {
			t.Fatalf("should not be called")
			return nil, nil
		},
	}
	handler := NewTrackingHandler(stub)

	c, _ := newTrackingContext(e, http.MethodPost, `{"poll_interval_seconds":-5}`)

	err := handler.Start(c)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %v", err)
	}
}

func TestTrackingHandler_Start_Unconfigured(t *testing.T) {
	e := echo.New()
	e.Validator = NewValidator()
	stub := &stubTrackingService{
		startFn: func(ctx context.Context, input ports.StartSessionInput) (*ports.SessionInfo, error) {
			return &ports.SessionInfo{
				SessionID: "sess_1",
				AssetID:   input.AssetID,
				Status:    domain.StatusUnconfigured,
			}, nil
		},
	}
	handler := NewTrackingHandler(stub)

	c, rec := newTrackingContext(e, http.MethodPost, "")

	if err := handler.Start(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp["status"] != "unconfigured" {
		t.Fatalf("expected unconfigured status, got %v", resp["status"])
	}
	guidance, _ := resp["guidance"].(string)
	if !strings.Contains(guidance, "tracking hardware") {
		t.Fatalf("expected operator guidance, got %q", guidance)
	}
}

func TestTrackingHandler_Position_Success(t *testing.T) {
	e := echo.New()
	speed := 54.5
	observed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	stub := &stubTrackingService{
		snapshotFn: func(ctx context.Context, assetID string) (*ports.PositionSnapshot, error) {
			if assetID != "veh_42" {
				t.Fatalf("unexpected asset id: %s", assetID)
			}
			return &ports.PositionSnapshot{
				SessionID:  "sess_1",
				AssetID:    assetID,
				Status:     domain.StatusLive,
				Position:   &ports.PositionView{Lat: 19.43, Lng: -99.13, SpeedKmh: &speed, ObservedAt: observed},
				LastPushAt: observed,
			}, nil
		},
	}
	handler := NewTrackingHandler(stub)

	c, rec := newTrackingContext(e, http.MethodGet, "")

	if err := handler.Position(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	pos, ok := resp["position"].(map[string]any)
	if !ok {
		t.Fatalf("expected position in response: %+v", resp)
	}
	if pos["lat"] != 19.43 || pos["lng"] != -99.13 {
		t.Fatalf("unexpected coordinates: %+v", pos)
	}
	if pos["observed_at"] != "2026-03-14T09:26:53Z" {
		t.Fatalf("unexpected timestamp: %v", pos["observed_at"])
	}
	if _, present := resp["last_poll_at"]; present {
		t.Fatalf("expected last_poll_at to be omitted, got %v", resp["last_poll_at"])
	}
}

func TestTrackingHandler_Position_NotFound(t *testing.T) {
	e := echo.New()
	stub := &stubTrackingService{
		snapshotFn: func(ctx context.Context, assetID string) (*ports.PositionSnapshot, error) {
			return nil, domain.ErrSessionNotFound
		},
	}
	handler := NewTrackingHandler(stub)

	c, _ := newTrackingContext(e, http.MethodGet, "")

	err := handler.Position(c)
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestTrackingHandler_Stop_Success(t *testing.T) {
	e := echo.New()
	stopped := false
	stub := &stubTrackingService{
		stopFn: func(ctx context.Context, assetID string) error {
			stopped = true
			return nil
		},
	}
	handler := NewTrackingHandler(stub)

	c, rec := newTrackingContext(e, http.MethodDelete, "")

	if err := handler.Stop(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !stopped {
		t.Fatalf("expected service stop to be called")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestTrackingHandler_Stop_NotFound(t *testing.T) {
	e := echo.New()
	stub := &stubTrackingService{
		stopFn: func(ctx context.Context, assetID string) error {
			return domain.ErrSessionNotFound
		},
	}
	handler := NewTrackingHandler(stub)

	c, _ := newTrackingContext(e, http.MethodDelete, "")

	err := handler.Stop(c)
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
