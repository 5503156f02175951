// Package gateway is the REST client for the IoT gateway's telemetry API,
// used as the polling backstop to the MQTT push feed.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetrent/tracking-system/internal/api/metrics"
	"github.com/fleetrent/tracking-system/internal/core/domain"
	"github.com/fleetrent/tracking-system/internal/core/ports"
	"github.com/fleetrent/tracking-system/internal/core/telemetry"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultTimeout      = 10 * time.Second
	positionKey         = "position"
)

// Client holds the connection settings shared by all poll feeds.
type Client struct {
	baseURL  string
	interval time.Duration
	http     *http.Client
	log      zerolog.Logger
}

func NewClient(baseURL string, interval, timeout time.Duration, log zerolog.Logger) *Client {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:  baseURL,
		interval: interval,
		http:     &http.Client{Timeout: timeout},
		log:      log.With().Str("component", "poll_feed").Logger(),
	}
}

// FeedFactory returns the poll transport factory for the tracker service.
func (c *Client) FeedFactory() ports.FeedFactory {
	return func(cred domain.TrackingCredential, sink ports.FeedSink, opts ports.FeedOptions) ports.Feed {
		interval := c.interval
		if opts.PollInterval > 0 {
			interval = opts.PollInterval
		}
		return &pollFeed{
			client:   c,
			cred:     cred,
			sink:     sink,
			interval: interval,
			log:      c.log.With().Str("device_id", cred.DeviceID).Logger(),
		}
	}
}

// pollFeed periodically queries the gateway for the device's latest known
// position. It runs for the whole session regardless of push feed health: a
// failed request is logged and retried on the next tick, never surfaced.
type pollFeed struct {
	client   *Client
	cred     domain.TrackingCredential
	sink     ports.FeedSink
	interval time.Duration
	log      zerolog.Logger
}

// Run performs one bootstrap poll immediately, so a position is displayable
// before the first push message, then polls on a fixed interval until ctx
// is cancelled.
func (f *pollFeed) Run(ctx context.Context) {
	f.pollOnce(ctx)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.pollOnce(ctx)
		}
	}
}

func (f *pollFeed) pollOnce(ctx context.Context) {
	payload, err := f.fetchLatest(ctx)
	if err != nil {
		metrics.PollFailuresTotal.WithLabelValues("request").Inc()
		f.log.Warn().Err(err).Msg("poll failed, retrying on next tick")
		return
	}

	sample, ok := telemetry.ExtractSample(payload, time.Now().UTC())
	if !ok {
		metrics.PollFailuresTotal.WithLabelValues("no_position").Inc()
		f.log.Debug().Msg("poll response carried no extractable position")
		return
	}

	// ctx may have been cancelled while the request was in flight; the
	// sink drops publishes for closed sessions, so this is safe either way.
	f.sink.Publish(domain.SourcePoll, sample)
	metrics.PositionsReceivedTotal.WithLabelValues(string(domain.SourcePoll)).Inc()
}

// fetchLatest requests the device's "position" telemetry key and returns the
// first result element's value as a decoded payload.
func (f *pollFeed) fetchLatest(ctx context.Context) (map[string]any, error) {
	url := fmt.Sprintf("%s/api/v1/telemetry/devices/%s/values?keys=%s", f.client.baseURL, f.cred.DeviceID, positionKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.cred.AccessToken)

	resp, err := f.client.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telemetry request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var envelope struct {
		Result []telemetryEntry `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(envelope.Result) == 0 {
		return nil, fmt.Errorf("empty result")
	}

	return envelope.Result[0].payload()
}

// telemetryEntry is one element of the gateway's result array. The value is
// either a JSON object or a JSON-encoded string, depending on how the
// device reported it.
type telemetryEntry struct {
	Key   string          `json:"key"`
	TS    *float64        `json:"ts"`
	Value json.RawMessage `json:"value"`
}

func (e telemetryEntry) payload() (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(e.Value, &m); err != nil {
		// Some firmwares double-encode the value as a string.
		var s string
		if err2 := json.Unmarshal(e.Value, &s); err2 != nil {
			return nil, fmt.Errorf("decode value: %w", err)
		}
		if err2 := json.Unmarshal([]byte(s), &m); err2 != nil {
			return nil, fmt.Errorf("decode string value: %w", err2)
		}
	}
	if e.TS != nil {
		if _, present := m["ts"]; !present {
			m["ts"] = *e.TS
		}
	}
	return m, nil
}
