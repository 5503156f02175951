// Package backend is the HTTP client for the fleet back office, the system
// that owns vehicles and issues short-lived device-access credentials.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetrent/tracking-system/internal/core/domain"
	"github.com/fleetrent/tracking-system/internal/core/telemetry"
)

const defaultTimeout = 30 * time.Second

// CredentialClient implements ports.CredentialSource against the back
// office's credential issuance endpoint. Any failure — transport error,
// non-2xx, or a body that no known wrapper shape can explain — is terminal
// for the session and wraps domain.ErrTrackingNotConfigured.
type CredentialClient struct {
	baseURL      string
	serviceToken string
	client       *http.Client
	log          zerolog.Logger
}

func NewCredentialClient(baseURL, serviceToken string, timeout time.Duration, log zerolog.Logger) *CredentialClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &CredentialClient{
		baseURL:      baseURL,
		serviceToken: serviceToken,
		client:       &http.Client{Timeout: timeout},
		log:          log.With().Str("component", "credential_client").Logger(),
	}
}

// FetchCredential performs one request for the asset's tracking credential.
// The back office wraps the payload inconsistently across deployments, so
// several wrapper shapes are tried before declaring failure. A last-known
// position embedded in the response is returned best-effort.
func (c *CredentialClient) FetchCredential(ctx context.Context, assetID string) (*domain.TrackingCredential, *domain.PositionSample, error) {
	url := fmt.Sprintf("%s/v1/vehicles/%s/tracking-credential", c.baseURL, assetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: build request: %v", domain.ErrTrackingNotConfigured, err)
	}
	if c.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrTrackingNotConfigured, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("%w: back office returned status %d", domain.ErrTrackingNotConfigured, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read body: %v", domain.ErrTrackingNotConfigured, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, fmt.Errorf("%w: malformed body: %v", domain.ErrTrackingNotConfigured, err)
	}

	for _, candidate := range wrapperCandidates(raw) {
		cred, ok := parseCredential(candidate)
		if !ok {
			continue
		}
		sample := embeddedSample(candidate, raw)
		c.log.Debug().Str("asset_id", assetID).Str("device_id", cred.DeviceID).Msg("credential resolved")
		return cred, sample, nil
	}

	return nil, nil, fmt.Errorf("%w: response carries no access token and device identity", domain.ErrTrackingNotConfigured)
}

// Ping checks back-office reachability for the readiness probe.
func (c *CredentialClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("back office unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("back office health returned status %d", resp.StatusCode)
	}
	return nil
}

// wrapperCandidates lists the payload objects to try, outermost first.
func wrapperCandidates(raw map[string]any) []map[string]any {
	candidates := []map[string]any{raw}
	for _, key := range []string{"data", "result", "credential"} {
		if nested, ok := raw[key].(map[string]any); ok {
			candidates = append(candidates, nested)
		}
	}
	return candidates
}

// parseCredential requires an access token plus at least one device-identity
// field: a numeric device id or a hardware serial (IMEI).
func parseCredential(m map[string]any) (*domain.TrackingCredential, bool) {
	token := firstString(m, "accessToken", "access_token", "token")
	if token == "" {
		return nil, false
	}

	identity := firstIdentity(m, "deviceId", "device_id", "id")
	if identity == "" {
		identity = firstString(m, "imei", "deviceImei", "serial")
	}
	if identity == "" {
		return nil, false
	}

	cred := &domain.TrackingCredential{DeviceID: identity, AccessToken: token}
	if exp, ok := firstNumber(m, "expiresAt", "expires_at"); ok && exp > 0 {
		cred.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}
	return cred, true
}

// embeddedSample extracts a best-effort last-known position from the
// credential payload or its surrounding envelope.
func embeddedSample(candidate, raw map[string]any) *domain.PositionSample {
	for _, m := range []map[string]any{candidate, raw} {
		if sample, ok := telemetry.ExtractSample(m, time.Now().UTC()); ok {
			return &sample
		}
		if nested, isMap := m["lastPosition"].(map[string]any); isMap {
			if sample, ok := telemetry.ExtractSample(nested, time.Now().UTC()); ok {
				return &sample
			}
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// firstIdentity accepts a numeric id or a numeric string and renders it
// canonically without a decimal part.
func firstIdentity(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case string:
			if v == "" {
				continue
			}
			if _, err := strconv.ParseFloat(v, 64); err == nil {
				return v
			}
		}
	}
	return ""
}

func firstNumber(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := m[k].(float64); ok {
			return f, true
		}
	}
	return 0, false
}
