package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8766
	DefaultPath = "/ws"
)

type Config struct {
	Server    ServerConfig    `json:"server"    toml:"server"`
	Keepalive KeepaliveConfig `json:"keepalive" toml:"keepalive"`
	Dispatch  DispatchConfig  `json:"dispatch"  toml:"dispatch"`
	Ingest    IngestConfig    `json:"ingest"    toml:"ingest"`
	Log       LogConfig       `json:"log"       toml:"log"`
}

type ServerConfig struct {
	Host                string `env:"ASBBRIDGE_SERVER_HOST"                  json:"host"                  toml:"host"`
	Port                int    `env:"ASBBRIDGE_SERVER_PORT"                  json:"port"                  toml:"port"`
	Path                string `env:"ASBBRIDGE_SERVER_PATH"                  json:"path"                  toml:"path"`
	MaxMessageBytes     int64  `env:"ASBBRIDGE_SERVER_MAX_MESSAGE_BYTES"     json:"max_message_bytes"     toml:"max_message_bytes"`
	WriteTimeoutSeconds int    `env:"ASBBRIDGE_SERVER_WRITE_TIMEOUT_SECONDS" json:"write_timeout_seconds" toml:"write_timeout_seconds"`
}

// KeepaliveConfig controls protocol-level pings. The PING/PONG text sentinel
// exchange is always on and not configurable.
type KeepaliveConfig struct {
	PingIntervalSeconds int `env:"ASBBRIDGE_KEEPALIVE_PING_INTERVAL_SECONDS" json:"ping_interval_seconds" toml:"ping_interval_seconds"`
	PongTimeoutSeconds  int `env:"ASBBRIDGE_KEEPALIVE_PONG_TIMEOUT_SECONDS"  json:"pong_timeout_seconds"  toml:"pong_timeout_seconds"`
}

type DispatchConfig struct {
	PollIntervalMS int `env:"ASBBRIDGE_DISPATCH_POLL_INTERVAL_MS" json:"poll_interval_ms" toml:"poll_interval_ms"`
}

// IngestConfig bounds control lines. MaxLineBytes of 0 means no cap; a
// positive value skips longer lines without stopping the reader.
type IngestConfig struct {
	MaxLineBytes int `env:"ASBBRIDGE_INGEST_MAX_LINE_BYTES" json:"max_line_bytes" toml:"max_line_bytes"`
}

type LogConfig struct {
	Level  string `env:"ASBBRIDGE_LOG_LEVEL"  json:"level"  toml:"level"`
	Format string `env:"ASBBRIDGE_LOG_FORMAT" json:"format" toml:"format"`
	Color  bool   `env:"ASBBRIDGE_LOG_COLOR"  json:"color"  toml:"color"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                DefaultHost,
			Port:                DefaultPort,
			Path:                DefaultPath,
			MaxMessageBytes:     1 << 20,
			WriteTimeoutSeconds: 10,
		},
		Keepalive: KeepaliveConfig{
			PingIntervalSeconds: 20,
			PongTimeoutSeconds:  20,
		},
		Dispatch: DispatchConfig{
			PollIntervalMS: 1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads path over the defaults, then applies environment
// overrides. A missing file is not an error. Files ending in .toml are decoded
// as TOML, everything else as JSON.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := decode(path, data, cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if isTOML(path) {
		_, err := toml.Decode(string(data), cfg)
		return err
	}
	return json.Unmarshal(data, cfg)
}

func SaveConfig(path string, cfg *Config) error {
	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return err
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path %q must start with /", c.Server.Path)
	}
	if c.Server.MaxMessageBytes < 0 {
		return errors.New("server.max_message_bytes must not be negative")
	}
	if c.Server.WriteTimeoutSeconds < 0 {
		return errors.New("server.write_timeout_seconds must not be negative")
	}
	if c.Keepalive.PingIntervalSeconds < 0 || c.Keepalive.PongTimeoutSeconds < 0 {
		return errors.New("keepalive intervals must not be negative")
	}
	if c.Keepalive.PingIntervalSeconds > 0 && c.Keepalive.PongTimeoutSeconds == 0 {
		return errors.New("keepalive.pong_timeout_seconds is required when pings are enabled")
	}
	if c.Dispatch.PollIntervalMS <= 0 {
		return errors.New("dispatch.poll_interval_ms must be positive")
	}
	if c.Ingest.MaxLineBytes < 0 {
		return errors.New("ingest.max_line_bytes must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "trace", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}

// ListenAddr is the host:port the server binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutSeconds) * time.Second
}

func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Keepalive.PingIntervalSeconds) * time.Second
}

func (c *Config) PongTimeout() time.Duration {
	return time.Duration(c.Keepalive.PongTimeoutSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Dispatch.PollIntervalMS) * time.Millisecond
}

// ExpandHome resolves a leading ~ in user-supplied paths.
func ExpandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
