package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Position is the payload published on rider/position/{shopId}/{orderId}.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RiderID   string  `json:"riderId"`
	Timestamp int64   `json:"timestamp"`
}

func PositionTopic(shopID, orderID string) string {
	return fmt.Sprintf("rider/position/%s/%s", shopID, orderID)
}

func inferenceTopic(orderID string) string {
	return fmt.Sprintf("inference/%s/+", orderID)
}

// client is the slice of mqtt.Client the channel uses; kept small so tests
// can fake the broker.
type client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
}

type Options struct {
	ClientID  string        // default: rider-<random>
	Keepalive time.Duration // default: 60s
	Reconnect time.Duration // default: 5s
}

// Channel is one broker connection for the whole rider session. The
// connection outlives any single order; the inference subscription is
// order-scoped and replaced on every order change.
type Channel struct {
	c client

	mu       sync.Mutex
	subTopic string
}

// Dial connects to the broker. Reconnects after a drop are automatic and
// silent; publishes attempted while disconnected are dropped.
func Dial(brokerURL string, o Options) (*Channel, error) {
	if o.ClientID == "" {
		o.ClientID = "rider-" + uuid.NewString()[:8]
	}
	if o.Keepalive <= 0 {
		o.Keepalive = 60 * time.Second
	}
	if o.Reconnect <= 0 {
		o.Reconnect = 5 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(o.ClientID).
		SetKeepAlive(o.Keepalive).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(o.Reconnect).
		SetConnectRetry(true).
		SetConnectRetryInterval(o.Reconnect)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("telemetry connection lost", "error", err.Error())
	}
	opts.OnConnect = func(_ mqtt.Client) {
		slog.Info("telemetry connected", "client_id", o.ClientID)
	}

	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		return nil, errors.New("telemetry connect timeout")
	}
	if err := tok.Error(); err != nil {
		return nil, errors.Wrap(err, "telemetry connect")
	}
	return &Channel{c: c}, nil
}

func newWithClient(c client) *Channel {
	return &Channel{c: c}
}

// PublishPosition publishes a position fix at QoS 0, non-retained. It never
// blocks on the broker: failures surface asynchronously in the log, and a
// disconnected broker drops the fix (reported via the returned error so the
// caller can count it).
func (ch *Channel) PublishPosition(shopID, orderID string, p Position) error {
	if !ch.c.IsConnected() {
		return errors.New("telemetry disconnected, position dropped")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal position")
	}
	topic := PositionTopic(shopID, orderID)
	tok := ch.c.Publish(topic, 0, false, b)
	go func() {
		if tok.Wait() && tok.Error() != nil {
			slog.Warn("position publish failed", "topic", topic, "error", tok.Error().Error())
		}
	}()
	return nil
}

// SubscribeHealth subscribes to the inference results for one order,
// replacing any previous order's subscription. The handler receives the
// parsed health label.
func (ch *Channel) SubscribeHealth(orderID string, fn func(label string)) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.subTopic != "" {
		tok := ch.c.Unsubscribe(ch.subTopic)
		if tok.Wait() && tok.Error() != nil {
			slog.Warn("telemetry unsubscribe failed", "topic", ch.subTopic, "error", tok.Error().Error())
		}
		ch.subTopic = ""
	}

	topic := inferenceTopic(orderID)
	tok := ch.c.Subscribe(topic, 0, func(_ mqtt.Client, m mqtt.Message) {
		if !strings.HasPrefix(m.Topic(), "inference/") {
			return
		}
		label, ok := decodeHealthPayload(m.Payload())
		if !ok {
			slog.Warn("malformed inference payload", "topic", m.Topic())
			return
		}
		if label == "" {
			return
		}
		fn(label)
	})
	if tok.Wait() && tok.Error() != nil {
		return errors.Wrap(tok.Error(), "subscribe "+topic)
	}
	ch.subTopic = topic
	return nil
}

// Unsubscribe drops the current order's inference subscription, if any.
func (ch *Channel) Unsubscribe() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.subTopic == "" {
		return
	}
	tok := ch.c.Unsubscribe(ch.subTopic)
	if tok.Wait() && tok.Error() != nil {
		slog.Warn("telemetry unsubscribe failed", "topic", ch.subTopic, "error", tok.Error().Error())
	}
	ch.subTopic = ""
}

func (ch *Channel) Close() {
	ch.Unsubscribe()
	ch.c.Disconnect(250)
}

// decodeHealthPayload pulls status_raw out of an inference JSON payload and
// runs the label extraction. status_raw is usually a string but the service
// has been seen emitting bare numbers; both are tolerated.
func decodeHealthPayload(b []byte) (string, bool) {
	var payload struct {
		StatusRaw json.RawMessage `json:"status_raw"`
	}
	if err := json.Unmarshal(b, &payload); err != nil {
		return "", false
	}
	if len(payload.StatusRaw) == 0 {
		return "", true
	}
	var s string
	if err := json.Unmarshal(payload.StatusRaw, &s); err != nil {
		s = string(payload.StatusRaw)
	}
	return ParseHealthLabel(s), true
}
