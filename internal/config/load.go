package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Load reads path (.toml, .yaml or .yml) over Default and validates the
// result.
func Load(path string) (Config, error) {
	var (
		cfg Config
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		cfg, err = loadTOML(path)
	case ".yaml", ".yml":
		cfg, err = loadYAML(path)
	default:
		return Config{}, fmt.Errorf("config: unsupported extension %q", filepath.Ext(path))
	}
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func loadTOML(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	for _, key := range meta.Undecoded() {
		log.Warn().Str("component", "config").Str("path", path).Str("key", key.String()).Msg("unknown config key ignored")
	}
	normalize(&cfg, meta.IsDefined("transport"))
	return cfg, nil
}

func loadYAML(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	defer f.Close()

	cfg := Default()
	cfg.Transport = ""
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	transportSet := cfg.Transport != ""
	if !transportSet {
		cfg.Transport = TransportStream
	}
	normalize(&cfg, transportSet)
	return cfg, nil
}

// normalize trims string fields and infers the websocket transport when only
// a websocket_url was given.
func normalize(cfg *Config, transportSet bool) {
	cfg.ServerHost = strings.TrimSpace(cfg.ServerHost)
	cfg.WebSocketURL = strings.TrimSpace(cfg.WebSocketURL)
	cfg.EngineName = strings.TrimSpace(cfg.EngineName)
	cfg.Transport = Transport(strings.ToLower(strings.TrimSpace(string(cfg.Transport))))
	if !transportSet && cfg.WebSocketURL != "" {
		cfg.Transport = TransportWebSocket
	}
}
