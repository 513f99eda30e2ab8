// Package config loads and validates the caldav2google YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// CalDAV configures the source calendar.
	CalDAV CalDAVConfig `yaml:"caldav"`

	// Google configures the destination calendar.
	Google GoogleConfig `yaml:"google"`

	// StatePath overrides the sync state database location.
	// Defaults to ~/.local/share/caldav2google/state.db.
	StatePath string `yaml:"state_path,omitempty"`

	// ThrottleInterval is the minimum delay between successive destination
	// API calls. Defaults to 500ms; a negative value disables throttling.
	ThrottleInterval time.Duration `yaml:"throttle_interval"`

	// Schedule is a cron expression controlling daemon-mode sync passes,
	// e.g. "*/15 * * * *". Defaults to every 15 minutes.
	Schedule string `yaml:"schedule,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// CalDAVConfig holds the source server settings.
type CalDAVConfig struct {
	// URL is the base URL of the CalDAV server.
	URL string `yaml:"url"`

	// Username and Password authenticate via HTTP basic auth. Password may
	// be omitted from the file and supplied via CALDAV_PASSWORD instead.
	Username string `yaml:"username"`
	Password string `yaml:"password,omitempty"`

	// Calendar is the display name of the calendar to sync from.
	// Matched case-insensitively.
	Calendar string `yaml:"calendar"`
}

// GoogleConfig holds the destination OAuth and calendar settings.
type GoogleConfig struct {
	// ClientID and ClientSecret identify the OAuth application. The secret
	// may be omitted from the file and supplied via GOOGLE_CLIENT_SECRET.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret,omitempty"`

	// TokenPath overrides where the OAuth token is persisted.
	// Defaults to ~/.local/share/caldav2google/google-token.json.
	TokenPath string `yaml:"token_path,omitempty"`

	// Calendar is the summary of the destination calendar.
	// Matched case-insensitively.
	Calendar string `yaml:"calendar"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "caldav2google".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path:
// ~/.config/caldav2google/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "caldav2google", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
// Secrets missing from the file are filled from the environment.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if cfg.CalDAV.Password == "" {
		cfg.CalDAV.Password = os.Getenv("CALDAV_PASSWORD")
	}
	if cfg.Google.ClientSecret == "" {
		cfg.Google.ClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed, and
// fills defaults.
func (c *Config) validate() error {
	if c.CalDAV.URL == "" {
		return fmt.Errorf("caldav.url is required")
	}
	u, err := url.ParseRequestURI(c.CalDAV.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("caldav.url %q must be a valid http or https URL", c.CalDAV.URL)
	}
	if c.CalDAV.Calendar == "" {
		return fmt.Errorf("caldav.calendar is required")
	}

	if c.Google.ClientID == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if c.Google.ClientSecret == "" {
		return fmt.Errorf("google.client_secret is required (file or GOOGLE_CLIENT_SECRET)")
	}
	if c.Google.Calendar == "" {
		return fmt.Errorf("google.calendar is required")
	}

	if c.ThrottleInterval == 0 {
		c.ThrottleInterval = 500 * time.Millisecond
	}
	if c.ThrottleInterval < 0 {
		c.ThrottleInterval = 0
	}
	if c.ThrottleInterval > time.Minute {
		return fmt.Errorf("throttle_interval %v is too long (maximum 1m)", c.ThrottleInterval)
	}

	if c.Schedule == "" {
		c.Schedule = "*/15 * * * *"
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
