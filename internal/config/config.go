package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/edgestream/internal/flow"
	"github.com/danmuck/edgestream/internal/protocol/session"
)

type Transport string

const (
	TransportStream    Transport = "stream"
	TransportWebSocket Transport = "websocket"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the full client configuration. Build it once with Load or
// Default and pass it by value.
type Config struct {
	ServerHost         string        `toml:"server_host" yaml:"server_host"`
	Transport          Transport     `toml:"transport" yaml:"transport"`
	ControlPort        int           `toml:"control_port" yaml:"control_port"`
	VideoPort          int           `toml:"video_port" yaml:"video_port"`
	ResultPort         int           `toml:"result_port" yaml:"result_port"`
	WebSocketURL       string        `toml:"websocket_url" yaml:"websocket_url"`
	AuthToken          string        `toml:"auth_token" yaml:"auth_token"`
	EngineName         string        `toml:"engine_name" yaml:"engine_name"`
	PayloadType        string        `toml:"payload_type" yaml:"payload_type"`
	InitialCredits     int           `toml:"initial_credits" yaml:"initial_credits"`
	ClockSyncTrials    int           `toml:"clock_sync_trials" yaml:"clock_sync_trials"`
	ClockSyncOnClose   bool          `toml:"clock_sync_on_close" yaml:"clock_sync_on_close"`
	RetainSent         bool          `toml:"retain_sent" yaml:"retain_sent"`
	HoloCapture        bool          `toml:"holo_capture" yaml:"holo_capture"`
	PollInterval       Duration      `toml:"poll_interval" yaml:"poll_interval"`
	StatusAddr         string        `toml:"status_addr" yaml:"status_addr"`
	LatencyLog         string        `toml:"latency_log" yaml:"latency_log"`
	ImageDir           string        `toml:"image_dir" yaml:"image_dir"`
	ImageFPS           float64       `toml:"image_fps" yaml:"image_fps"`
	Reconnect          bool          `toml:"reconnect" yaml:"reconnect"`
	MaxConnectAttempts int           `toml:"max_connect_attempts" yaml:"max_connect_attempts"`
	Session            SessionConfig `toml:"session" yaml:"session"`
	MQTT               MQTTConfig    `toml:"mqtt" yaml:"mqtt"`
}

type SessionConfig struct {
	ConnectTimeout Duration  `toml:"connect_timeout" yaml:"connect_timeout"`
	WriteTimeout   Duration  `toml:"write_timeout" yaml:"write_timeout"`
	ReadTimeout    Duration  `toml:"read_timeout" yaml:"read_timeout"`
	SecurityMode   string    `toml:"security_mode" yaml:"security_mode"`
	TLS            TLSConfig `toml:"tls" yaml:"tls"`
}

type TLSConfig struct {
	Enabled            bool   `toml:"enabled" yaml:"enabled"`
	Mutual             bool   `toml:"mutual" yaml:"mutual"`
	CAFile             string `toml:"ca_file" yaml:"ca_file"`
	CertFile           string `toml:"cert_file" yaml:"cert_file"`
	KeyFile            string `toml:"key_file" yaml:"key_file"`
	ServerName         string `toml:"server_name" yaml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

type MQTTConfig struct {
	Broker   string `toml:"broker" yaml:"broker"`
	Topic    string `toml:"topic" yaml:"topic"`
	ClientID string `toml:"client_id" yaml:"client_id"`
	QoS      int    `toml:"qos" yaml:"qos"`
}

func Default() Config {
	return Config{
		ServerHost:      "127.0.0.1",
		Transport:       TransportStream,
		ControlPort:     22222,
		VideoPort:       9098,
		ResultPort:      9111,
		EngineName:      "instruction",
		PayloadType:     "image",
		InitialCredits:  2,
		ClockSyncTrials: 20,
		PollInterval:    Duration(30 * time.Millisecond),
		ImageFPS:        15,
		Session: SessionConfig{
			ConnectTimeout: Duration(5 * time.Second),
			WriteTimeout:   Duration(5 * time.Second),
			ReadTimeout:    Duration(5 * time.Second),
			SecurityMode:   string(session.SecurityModeDevelopment),
		},
		MQTT: MQTTConfig{
			Topic:    "edgestream/results",
			ClientID: "edgestream",
		},
	}
}

func (c Config) Validate() error {
	switch c.Transport {
	case TransportStream:
		if strings.TrimSpace(c.ServerHost) == "" {
			return fmt.Errorf("%w: server_host is required", ErrInvalid)
		}
		for name, port := range map[string]int{
			"control_port": c.ControlPort,
			"video_port":   c.VideoPort,
			"result_port":  c.ResultPort,
		} {
			if port <= 0 || port > 65535 {
				return fmt.Errorf("%w: %s %d out of range", ErrInvalid, name, port)
			}
		}
	case TransportWebSocket:
		u, err := url.Parse(strings.TrimSpace(c.WebSocketURL))
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("%w: websocket_url must be ws:// or wss://, got %q", ErrInvalid, c.WebSocketURL)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Transport)
	}

	if err := c.FlowConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.ClockSyncTrials <= 0 {
		return fmt.Errorf("%w: clock_sync_trials must be positive", ErrInvalid)
	}
	if d := c.PollInterval.Std(); d <= 0 || d > time.Second {
		return fmt.Errorf("%w: poll_interval must be in (0, 1s], got %s", ErrInvalid, d)
	}
	if c.MaxConnectAttempts < 0 {
		return fmt.Errorf("%w: max_connect_attempts must not be negative", ErrInvalid)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt qos must be 0, 1 or 2", ErrInvalid)
	}
	if err := c.SessionConfig().ValidateClientTransport(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// SessionConfig converts the transport section to session settings.
func (c Config) SessionConfig() session.Config {
	out := session.DefaultConfig()
	if d := c.Session.ConnectTimeout.Std(); d > 0 {
		out.ConnectTimeout = d
		out.HandshakeTimeout = d
	}
	if d := c.Session.WriteTimeout.Std(); d > 0 {
		out.WriteTimeout = d
	}
	if d := c.Session.ReadTimeout.Std(); d > 0 {
		out.ReadTimeout = d
	}
	out.SecurityMode = session.NormalizeSecurityMode(session.SecurityMode(c.Session.SecurityMode))
	out.TLS = session.TLSConfig{
		Enabled:            c.Session.TLS.Enabled,
		Mutual:             c.Session.TLS.Mutual,
		CAFile:             c.Session.TLS.CAFile,
		CertFile:           c.Session.TLS.CertFile,
		KeyFile:            c.Session.TLS.KeyFile,
		ServerName:         c.Session.TLS.ServerName,
		InsecureSkipVerify: c.Session.TLS.InsecureSkipVerify,
	}
	return out
}

func (c Config) FlowConfig() flow.Config {
	return flow.Config{InitialCredits: c.InitialCredits, Retain: c.RetainSent}
}
