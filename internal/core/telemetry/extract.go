// Package telemetry normalizes the heterogeneous position payloads emitted
// by IoT gateways and onboard units into canonical domain samples.
//
// Upstream devices are not under our control: the same fix may arrive as
// {"latitude": 10.7, "longitude": 106.7}, {"lat": "10.7", "lng": "106.7"},
// {"position": {...}}, or with dotted keys. Extraction works through a
// fixed, ordered candidate list and returns "no match" (not an error) when
// nothing qualifies — partial payloads are an expected, frequent outcome.
package telemetry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fleetrent/tracking-system/internal/core/domain"
)

// keyPair is one lat/lng candidate tried against a payload level.
type keyPair struct {
	lat string
	lng string
}

var flatPairs = []keyPair{
	{"latitude", "longitude"},
	{"lat", "lng"},
	{"lat", "lon"},
}

// wrapperKeys are the nesting keys commonly wrapping a position object.
var wrapperKeys = []string{"position", "location", "currentLocation"}

var speedKeys = []string{"speed", "speedKmh", "speed_kmh", "spd"}

var timestampKeys = []string{"ts", "timestamp", "observedAt", "observed_at", "time"}

// ExtractCoordinates attempts the candidate list against payload and returns
// the first pair where both values coerce to finite numbers. Candidates are
// tried in order: flat pairs, dotted wrapper variants ("position.latitude"),
// then one level of nesting under each wrapper key.
func ExtractCoordinates(payload map[string]any) (lat, lng float64, ok bool) {
	if payload == nil {
		return 0, 0, false
	}

	for _, p := range flatPairs {
		if lat, lng, ok = tryPair(payload, p.lat, p.lng); ok {
			return lat, lng, true
		}
	}

	for _, w := range wrapperKeys {
		for _, p := range flatPairs {
			if lat, lng, ok = tryPair(payload, w+"."+p.lat, w+"."+p.lng); ok {
				return lat, lng, true
			}
		}
	}

	for _, w := range wrapperKeys {
		nested, isMap := payload[w].(map[string]any)
		if !isMap {
			continue
		}
		for _, p := range flatPairs {
			if lat, lng, ok = tryPair(nested, p.lat, p.lng); ok {
				return lat, lng, true
			}
		}
	}

	return 0, 0, false
}

// ExtractSample extracts a full position sample: coordinates, plus optional
// speed and observation time when the payload carries them. receivedAt is
// substituted as ObservedAt when no usable timestamp is present.
func ExtractSample(payload map[string]any, receivedAt time.Time) (domain.PositionSample, bool) {
	lat, lng, ok := ExtractCoordinates(payload)
	if !ok {
		return domain.PositionSample{}, false
	}

	sample := domain.PositionSample{
		Lat:        lat,
		Lng:        lng,
		ObservedAt: receivedAt,
	}

	if speed, found := extractScalar(payload, speedKeys); found && speed >= 0 {
		sample.SpeedKmh = &speed
	}
	if ts, found := extractScalar(payload, timestampKeys); found {
		if observed, valid := epochToTime(ts); valid {
			sample.ObservedAt = observed
		}
	}

	return sample, true
}

// tryPair makes a single candidate eligible only when both keys are present
// and both values parse to finite numbers.
func tryPair(payload map[string]any, latKey, lngKey string) (float64, float64, bool) {
	lat, ok := toFloat(payload[latKey])
	if !ok {
		return 0, 0, false
	}
	lng, ok := toFloat(payload[lngKey])
	if !ok {
		return 0, 0, false
	}
	return lat, lng, true
}

// extractScalar returns the first key (flat, then one wrapper level down)
// whose value coerces to a finite number.
func extractScalar(payload map[string]any, keys []string) (float64, bool) {
	for _, k := range keys {
		if v, ok := toFloat(payload[k]); ok {
			return v, true
		}
	}
	for _, w := range wrapperKeys {
		nested, isMap := payload[w].(map[string]any)
		if !isMap {
			continue
		}
		for _, k := range keys {
			if v, ok := toFloat(nested[k]); ok {
				return v, true
			}
		}
	}
	return 0, false
}

// toFloat coerces numbers and numeric strings to a finite float64.
// nil, booleans, non-numeric strings and NaN/Inf are ineligible.
func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// epochToTime interprets a numeric timestamp as epoch seconds, or epoch
// milliseconds when the magnitude gives it away (gateways disagree on this).
func epochToTime(v float64) (time.Time, bool) {
	if v <= 0 {
		return time.Time{}, false
	}
	if v > 1e11 {
		return time.UnixMilli(int64(v)).UTC(), true
	}
	return time.Unix(int64(v), 0).UTC(), true
}
