package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/danmuck/edgestream/internal/channel"
	"github.com/danmuck/edgestream/internal/stream"
	"github.com/rs/zerolog/log"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
}

// Publisher is the subset of mqtt.Client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes each delivery as JSON to <topic>/<engine_id>.
type MQTT struct {
	cfg    MQTTConfig
	client Publisher
	owned  mqtt.Client

	published atomic.Uint64
	failed    atomic.Uint64
}

type deliveryMessage struct {
	Session   string            `json:"session"`
	FrameID   int64             `json:"frame_id"`
	EngineID  string            `json:"engine_id"`
	Status    string            `json:"status"`
	Generated int64             `json:"generated_ms,omitempty"`
	Received  int64             `json:"received_ms"`
	LatencyMS float64           `json:"latency_ms,omitempty"`
	Speech    string            `json:"speech,omitempty"`
	Image     []byte            `json:"image,omitempty"`
	Position  *channel.Position `json:"position,omitempty"`
}

// DialMQTT connects to the broker with auto-reconnect enabled.
func DialMQTT(cfg MQTTConfig) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.New("sink: mqtt broker required")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info().Str("component", "sink.mqtt").Str("broker", cfg.Broker).Msg("mqtt connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Str("component", "sink.mqtt").Str("broker", cfg.Broker).Err(err).Msg("mqtt connection lost")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("sink: mqtt connect timeout: %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("sink: mqtt connect: %w", err)
	}
	m := NewMQTT(cfg, client)
	m.owned = client
	return m, nil
}

func NewMQTT(cfg MQTTConfig, client Publisher) *MQTT {
	if cfg.Topic == "" {
		cfg.Topic = "edgestream/results"
	}
	return &MQTT{cfg: cfg, client: client}
}

func (m *MQTT) Topic(engineID string) string {
	if engineID == "" {
		return m.cfg.Topic
	}
	return m.cfg.Topic + "/" + engineID
}

// Consume publishes without blocking the receive loop; publish failures are
// logged and counted.
func (m *MQTT) Consume(d stream.Delivery) {
	msg := deliveryMessage{
		Session:  d.SessionID,
		FrameID:  d.FrameID,
		EngineID: d.EngineID,
		Status:   string(d.Status),
		Received: millis(d.ReceivedAt),
		Speech:   d.Guidance.Text,
		Image:    d.Guidance.Image,
		Position: d.Guidance.Position,
	}
	if !d.GeneratedAt.IsZero() {
		msg.Generated = d.GeneratedAt.UnixMilli()
	}
	if lat := d.Latency(); lat > 0 {
		msg.LatencyMS = float64(lat) / float64(time.Millisecond)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		m.failed.Add(1)
		log.Warn().Str("component", "sink.mqtt").Err(err).Msg("encode delivery")
		return
	}

	topic := m.Topic(d.EngineID)
	token := m.client.Publish(topic, m.cfg.QoS, false, payload)
	go m.await(topic, d.FrameID, token)
}

func (m *MQTT) await(topic string, frameID int64, token mqtt.Token) {
	if !token.WaitTimeout(mqttPublishTimeout) {
		m.failed.Add(1)
		log.Warn().Str("component", "sink.mqtt").Str("topic", topic).Int64("frame_id", frameID).Msg("mqtt publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		m.failed.Add(1)
		log.Warn().Str("component", "sink.mqtt").Str("topic", topic).Int64("frame_id", frameID).Err(err).Msg("mqtt publish failed")
		return
	}
	m.published.Add(1)
}

func (m *MQTT) Stats() (published, failed uint64) {
	return m.published.Load(), m.failed.Load()
}

func (m *MQTT) Close() {
	if m.owned != nil {
		m.owned.Disconnect(250)
	}
}
