// Package config loads the pushstream plugin's process-level configuration
// from a flat key=value file.
package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// AuthMode selects which token-authentication mode is active for the
// lifetime of the process. Switching modes requires a restart: the two
// modes carry incompatible state (a mutable token set vs. a fixed secret).
type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthStored AuthMode = "stored"
	AuthSigned AuthMode = "signed"
)

// Config holds all configuration for the pushstream relay plugin.
type Config struct {
	General GeneralConfig
	Auth    AuthConfig
	RTMP    RTMPConfig
}

// GeneralConfig holds the two keys the source plugin calls "general.*".
type GeneralConfig struct {
	// Path is the recordings directory. The active pipeline is push-only
	// (see Non-goals), so this exists for parity with the admin surface
	// but is not written to by any component.
	Path string
	// Events holds general.events. No component reads it, so it does
	// not switch notify_event callbacks on or off.
	Events bool
}

// AuthConfig selects and configures the token authenticator.
type AuthConfig struct {
	Mode   AuthMode
	Secret string
}

// RTMPConfig holds publisher timeouts and chunking parameters.
type RTMPConfig struct {
	ConnectTimeoutMs int
	SendTimeoutMs    int
	ChunkSize        int
}

func defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Path:   "/var/lib/pushstream/recordings",
			Events: true,
		},
		Auth: AuthConfig{
			Mode: AuthNone,
		},
		RTMP: RTMPConfig{
			ConnectTimeoutMs: 2000,
			SendTimeoutMs:    2000,
			ChunkSize:        4096,
		},
	}
}

// Load reads configuration from a key=value file: blank lines and "#"
// comments are skipped, values are
// URL-unescaped, and unrecognized keys are ignored so the file can
// carry gateway-specific keys this plugin doesn't consume.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		decoded, err := url.QueryUnescape(value)
		if err != nil {
			decoded = value
		}

		if err := cfg.set(key, decoded); err != nil {
			return nil, fmt.Errorf("config key %q: %w", key, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) set(key, value string) error {
	switch key {
	case "general.path":
		c.General.Path = value
	case "general.events":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("not a bool: %w", err)
		}
		c.General.Events = b
	case "auth.mode":
		switch AuthMode(value) {
		case AuthNone, AuthStored, AuthSigned:
			c.Auth.Mode = AuthMode(value)
		default:
			return fmt.Errorf("must be one of none, stored, signed")
		}
	case "auth.secret":
		c.Auth.Secret = value
	case "rtmp.connect_timeout_ms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("not an integer: %w", err)
		}
		c.RTMP.ConnectTimeoutMs = n
	case "rtmp.send_timeout_ms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("not an integer: %w", err)
		}
		c.RTMP.SendTimeoutMs = n
	case "rtmp.chunk_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("not an integer: %w", err)
		}
		c.RTMP.ChunkSize = n
	}
	return nil
}

// Validate checks cross-field invariants that can't be caught key-by-key.
func (c *Config) Validate() error {
	if c.Auth.Mode == AuthSigned && c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required when auth.mode=signed")
	}
	if c.RTMP.ConnectTimeoutMs <= 0 {
		return fmt.Errorf("rtmp.connect_timeout_ms must be positive")
	}
	if c.RTMP.SendTimeoutMs <= 0 {
		return fmt.Errorf("rtmp.send_timeout_ms must be positive")
	}
	if c.RTMP.ChunkSize <= 0 {
		return fmt.Errorf("rtmp.chunk_size must be positive")
	}
	if err := os.MkdirAll(c.General.Path, 0755); err != nil {
		return fmt.Errorf("general.path %q must exist or be creatable: %w", c.General.Path, err)
	}
	return nil
}
