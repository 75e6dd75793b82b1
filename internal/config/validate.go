package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. The host is not required
// here because the command line may supply it.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateConnection(cfg, ve)
	validateProxy(cfg, ve)
	validateREST(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level: unknown level %q", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format: must be text or json, got %q", cfg.Logger.Format)
	}
}

func validateConnection(cfg *Config, ve *ValidationError) {
	c := cfg.Connection
	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			ve.Add("connection.url: must be a ws:// or wss:// url, got %q", c.URL)
		}
	}
	if c.HandshakeTimeout <= 0 {
		ve.Add("connection.handshake_timeout: must be positive")
	}
	if c.CallTimeout < 0 {
		ve.Add("connection.call_timeout: must not be negative")
	}
	if c.Heartbeat < 0 {
		ve.Add("connection.heartbeat: must not be negative")
	}
	if c.MaxPending <= 0 {
		ve.Add("connection.max_pending: must be positive")
	}
	if c.EventBuffer < 0 {
		ve.Add("connection.event_buffer: must not be negative")
	}
}

func validateProxy(cfg *Config, ve *ValidationError) {
	if cfg.Proxy != "" && cfg.ProxyFile != "" {
		ve.Add("proxy and proxy_file are mutually exclusive")
	}
	if cfg.Proxy == "" || strings.Contains(cfg.Proxy, "{{") {
		return
	}
	u, err := url.Parse(cfg.Proxy)
	if err != nil {
		ve.Add("proxy: %v", err)
		return
	}
	switch u.Scheme {
	case "socks5", "socks5h", "http", "https":
	default:
		ve.Add("proxy: unsupported scheme %q", u.Scheme)
	}
}

func validateREST(cfg *Config, ve *ValidationError) {
	if cfg.REST.BaseURL == "" {
		return
	}
	u, err := url.Parse(cfg.REST.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		ve.Add("rest.base_url: must be an http(s) url, got %q", cfg.REST.BaseURL)
	}
}
