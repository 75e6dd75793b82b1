// Package config loads the rasta YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Host       string           `yaml:"host"`
	Logger     LoggerConfig     `yaml:"logger"`
	Connection ConnectionConfig `yaml:"connection"`
	// Proxy is a single proxy address, e.g. socks5://127.0.0.1:1080.
	Proxy string `yaml:"proxy,omitempty"`
	// ProxyFile lists one proxy address per line; one is picked at random.
	ProxyFile string        `yaml:"proxy_file,omitempty"`
	REST      RESTConfig    `yaml:"rest"`
	Streams   StreamsConfig `yaml:"streams"`
}

// LoggerConfig configures structured logging.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stderr, stdout, or a file path
}

// ConnectionConfig configures the websocket and DDP client.
type ConnectionConfig struct {
	// URL overrides wss://<host>/websocket.
	URL                string        `yaml:"url,omitempty"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	CallTimeout        time.Duration `yaml:"call_timeout"`
	Heartbeat          time.Duration `yaml:"heartbeat"`
	MaxPending         int           `yaml:"max_pending"`
	EventBuffer        int           `yaml:"event_buffer"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// RESTConfig configures the REST login fallback.
type RESTConfig struct {
	Fallback bool   `yaml:"fallback"`
	HTTP3    bool   `yaml:"http3"`
	BaseURL  string `yaml:"base_url,omitempty"`
}

// StreamsConfig selects the streams subscribed after login.
type StreamsConfig struct {
	User   bool     `yaml:"user"`
	Rooms  []string `yaml:"rooms,omitempty"`
	Logged []string `yaml:"logged,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Connection: ConnectionConfig{
			HandshakeTimeout: 10 * time.Second,
			CallTimeout:      30 * time.Second,
			MaxPending:       1024,
			EventBuffer:      16,
		},
		REST: RESTConfig{
			Fallback: true,
		},
		Streams: StreamsConfig{
			User: true,
		},
	}
}

// Load reads a YAML config file and applies env var overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	ApplyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies RASTA_* environment variables.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RASTA_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("RASTA_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("RASTA_PROXY"); v != "" {
		cfg.Proxy = v
	}
	switch os.Getenv("RASTA_HTTP3") {
	case "true", "1":
		cfg.REST.HTTP3 = true
	case "false", "0":
		cfg.REST.HTTP3 = false
	}
}
