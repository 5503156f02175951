// Package mqtt is the push feed transport: a persistent MQTT subscription to
// the IoT gateway's per-device telemetry topic, authenticated with the
// session's device-access token.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fleetrent/tracking-system/internal/api/metrics"
	"github.com/fleetrent/tracking-system/internal/core/domain"
	"github.com/fleetrent/tracking-system/internal/core/ports"
	"github.com/fleetrent/tracking-system/internal/core/telemetry"
)

const (
	defaultReconnectInterval = 5 * time.Second
	connectTimeout           = 10 * time.Second
	disconnectQuiesceMs      = 250
)

// Client holds the broker settings shared by all push feeds.
type Client struct {
	brokerURL         string
	reconnectInterval time.Duration
	log               zerolog.Logger
}

func NewClient(brokerURL string, reconnectInterval time.Duration, log zerolog.Logger) *Client {
	if reconnectInterval <= 0 {
		reconnectInterval = defaultReconnectInterval
	}
	return &Client{
		brokerURL:         brokerURL,
		reconnectInterval: reconnectInterval,
		log:               log.With().Str("component", "push_feed").Logger(),
	}
}

// FeedFactory returns the push transport factory for the tracker service.
func (c *Client) FeedFactory() ports.FeedFactory {
	return func(cred domain.TrackingCredential, sink ports.FeedSink, _ ports.FeedOptions) ports.Feed {
		return &pushFeed{
			client: c,
			cred:   cred,
			sink:   sink,
			topic:  topicFor(cred.DeviceID),
			log:    c.log.With().Str("device_id", cred.DeviceID).Logger(),
		}
	}
}

// topicFor derives the single subscription topic from the device identity.
func topicFor(deviceID string) string {
	return fmt.Sprintf("v1/devices/%s/telemetry", deviceID)
}

// pushFeed maintains one broker connection per session. Reconnection is
// automatic with a fixed interval and never gives up; connection state is
// reported to the reconciler, which decides what the user sees.
type pushFeed struct {
	client *Client
	cred   domain.TrackingCredential
	sink   ports.FeedSink
	topic  string
	log    zerolog.Logger
}

// Run connects and blocks until ctx is cancelled, then disconnects and
// cancels auto-reconnect. Cancellation mid-reconnect is handled by paho:
// Disconnect stops the retry loop.
func (f *pushFeed) Run(ctx context.Context) {
	opts := pahomqtt.NewClientOptions().
		AddBroker(f.client.brokerURL).
		SetClientID("tracking-" + uuid.NewString()).
		SetUsername(f.cred.AccessToken).
		SetPassword("").
		SetConnectTimeout(connectTimeout).
		SetConnectRetry(true).
		SetConnectRetryInterval(f.client.reconnectInterval).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(f.client.reconnectInterval).
		SetOnConnectHandler(f.onConnect).
		SetConnectionLostHandler(f.onConnectionLost)

	conn := pahomqtt.NewClient(opts)
	conn.Connect() // retries internally until Disconnect

	<-ctx.Done()
	conn.Disconnect(disconnectQuiesceMs)
	f.log.Debug().Msg("push feed closed")
}

// onConnect runs on every (re)connect; subscriptions do not survive a
// reconnect, so the topic is subscribed here each time.
func (f *pushFeed) onConnect(conn pahomqtt.Client) {
	token := conn.Subscribe(f.topic, 0, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		f.handlePayload(msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		f.log.Warn().Err(token.Error()).Str("topic", f.topic).Msg("subscribe failed")
		f.sink.FeedDown(domain.SourcePush, token.Error())
		return
	}
	f.log.Info().Str("topic", f.topic).Msg("push feed subscribed")
	metrics.PushReconnectsTotal.Inc()
	f.sink.FeedUp(domain.SourcePush)
}

func (f *pushFeed) onConnectionLost(_ pahomqtt.Client, err error) {
	f.log.Warn().Err(err).Msg("push connection lost, reconnecting")
	f.sink.FeedDown(domain.SourcePush, err)
}

// handlePayload decodes one inbound message and extracts a position.
// Devices publish many message types on the telemetry topic; anything that
// yields no position is dropped, logged only for diagnostics.
func (f *pushFeed) handlePayload(payload []byte) {
	for _, m := range decodePayload(payload) {
		sample, ok := telemetry.ExtractSample(m, time.Now().UTC())
		if !ok {
			metrics.PositionsDroppedTotal.WithLabelValues("no_position").Inc()
			f.log.Debug().Msg("push message carried no extractable position")
			continue
		}
		f.sink.Publish(domain.SourcePush, sample)
		metrics.PositionsReceivedTotal.WithLabelValues(string(domain.SourcePush)).Inc()
	}
}

// decodePayload tolerates both a single telemetry object and a batch array.
func decodePayload(payload []byte) []map[string]any {
	var single map[string]any
	if err := json.Unmarshal(payload, &single); err == nil {
		return []map[string]any{single}
	}
	var batch []map[string]any
	if err := json.Unmarshal(payload, &batch); err == nil {
		return batch
	}
	metrics.PositionsDroppedTotal.WithLabelValues("decode").Inc()
	return nil
}
