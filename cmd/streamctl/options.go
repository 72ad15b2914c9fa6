package main

import (
	"fmt"

	"github.com/danmuck/edgestream/internal/config"
	"github.com/spf13/pflag"
)

// Options holds the command line. Flags that were set explicitly override
// the loaded config file.
type Options struct {
	ConfigPath string
	InitConfig string
	Force      bool

	Host         string
	Transport    string
	WebSocketURL string
	Engine       string
	ImageDir     string
	FPS          float64
	Credits      int
	StatusAddr   string
	LatencyLog   string
	Reconnect    bool
	Retain       bool
	Holo         bool
	MQTTBroker   string

	fs *pflag.FlagSet
}

func NewOptions() *Options {
	d := config.Default()
	return &Options{
		Host:      d.ServerHost,
		Transport: string(d.Transport),
		Engine:    d.EngineName,
		FPS:       d.ImageFPS,
		Credits:   d.InitialCredits,
	}
}

func (opts *Options) AddFlags(fs *pflag.FlagSet) {
	if fs == nil {
		fs = pflag.CommandLine
	}
	opts.fs = fs

	fs.StringVarP(&opts.ConfigPath, "config", "c", opts.ConfigPath,
		"Path to a .toml or .yaml config file.")
	fs.StringVar(&opts.InitConfig, "init-config", opts.InitConfig,
		"Write a config template (toml|yaml) to --config and exit.")
	fs.BoolVar(&opts.Force, "force", opts.Force,
		"Overwrite an existing file with --init-config.")
	fs.StringVar(&opts.Host, "host", opts.Host,
		"Server host for the stream transport.")
	fs.StringVar(&opts.Transport, "transport", opts.Transport,
		"Wire variant: stream or websocket.")
	fs.StringVar(&opts.WebSocketURL, "websocket-url", opts.WebSocketURL,
		"Server URL for the websocket transport.")
	fs.StringVar(&opts.Engine, "engine", opts.Engine,
		"Engine name frames are addressed to.")
	fs.StringVar(&opts.ImageDir, "image-dir", opts.ImageDir,
		"Directory of .jpg/.png frames to replay.")
	fs.Float64Var(&opts.FPS, "fps", opts.FPS,
		"Replay rate for --image-dir.")
	fs.IntVar(&opts.Credits, "credits", opts.Credits,
		"Initial number of frames allowed in flight.")
	fs.StringVar(&opts.StatusAddr, "status-addr", opts.StatusAddr,
		"Listen address for /health, /ready, /ledger and /metrics. Empty disables.")
	fs.StringVar(&opts.LatencyLog, "latency-log", opts.LatencyLog,
		"Append per-frame latency records to this file.")
	fs.BoolVar(&opts.Reconnect, "reconnect", opts.Reconnect,
		"Redial with backoff when the session drops.")
	fs.BoolVar(&opts.Retain, "retain-sent", opts.Retain,
		"Keep sent records after their results arrive.")
	fs.BoolVar(&opts.Holo, "holo-capture", opts.Holo,
		"Flag every other frame for hologram capture.")
	fs.StringVar(&opts.MQTTBroker, "mqtt-broker", opts.MQTTBroker,
		"Publish results to this MQTT broker (tcp://host:1883).")
}

func (opts *Options) changed(name string) bool {
	return opts.fs != nil && opts.fs.Changed(name)
}

// Resolve loads the config file, if any, and applies explicit flags on top.
func (opts *Options) Resolve() (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if opts.changed("host") {
		cfg.ServerHost = opts.Host
	}
	if opts.changed("websocket-url") {
		cfg.WebSocketURL = opts.WebSocketURL
		if !opts.changed("transport") {
			cfg.Transport = config.TransportWebSocket
		}
	}
	if opts.changed("transport") {
		cfg.Transport = config.Transport(opts.Transport)
	}
	if opts.changed("engine") {
		cfg.EngineName = opts.Engine
	}
	if opts.changed("image-dir") {
		cfg.ImageDir = opts.ImageDir
	}
	if opts.changed("fps") {
		cfg.ImageFPS = opts.FPS
	}
	if opts.changed("credits") {
		cfg.InitialCredits = opts.Credits
	}
	if opts.changed("status-addr") {
		cfg.StatusAddr = opts.StatusAddr
	}
	if opts.changed("latency-log") {
		cfg.LatencyLog = opts.LatencyLog
	}
	if opts.changed("reconnect") {
		cfg.Reconnect = opts.Reconnect
	}
	if opts.changed("retain-sent") {
		cfg.RetainSent = opts.Retain
	}
	if opts.changed("holo-capture") {
		cfg.HoloCapture = opts.Holo
	}
	if opts.changed("mqtt-broker") {
		cfg.MQTT.Broker = opts.MQTTBroker
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("streamctl: %w", err)
	}
	return cfg, nil
}
