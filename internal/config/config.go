// Package config provides the configuration structure for the storyteller client.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Default values applied to unset fields.
const (
	DefaultPollIntervalMS         = 1000
	DefaultSubmitTimeoutSeconds   = 60
	DefaultStatusTimeoutSeconds   = 10
	DefaultDownloadTimeoutSeconds = 600
	DefaultRequestSubject         = "storyteller.synthesis.requested"
	DefaultNotificationSubject    = "storyteller.synthesis.notifications"
)

// ErrBaseURLEmpty is returned when no backend URL is configured.
var ErrBaseURLEmpty = errors.New("storyteller base_url cannot be empty")

// StorytellerConfig holds the backend connection settings. DownloadTimeoutSeconds
// bounds fetching a finished artifact, which can be far larger than any API response.
type StorytellerConfig struct {
	BaseURL                string `toml:"base_url"`
	PollIntervalMS         int    `toml:"poll_interval_ms"`
	SubmitTimeoutSeconds   int    `toml:"submit_timeout_seconds"`
	StatusTimeoutSeconds   int    `toml:"status_timeout_seconds"`
	DownloadTimeoutSeconds int    `toml:"download_timeout_seconds"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	RequestSubject         string `toml:"request_subject"`
	NotificationSubject    string `toml:"notification_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	OutputDir   string `toml:"output_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Storyteller StorytellerConfig `toml:"storyteller"`
	NATS        NATSConfig        `toml:"nats"`
	Paths       PathsConfig       `toml:"paths"`
}

// Load loads the configuration through the central configurator and applies defaults.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Storyteller.PollIntervalMS <= 0 {
		c.Storyteller.PollIntervalMS = DefaultPollIntervalMS
	}

	if c.Storyteller.SubmitTimeoutSeconds <= 0 {
		c.Storyteller.SubmitTimeoutSeconds = DefaultSubmitTimeoutSeconds
	}

	if c.Storyteller.StatusTimeoutSeconds <= 0 {
		c.Storyteller.StatusTimeoutSeconds = DefaultStatusTimeoutSeconds
	}

	if c.Storyteller.DownloadTimeoutSeconds <= 0 {
		c.Storyteller.DownloadTimeoutSeconds = DefaultDownloadTimeoutSeconds
	}

	if c.NATS.RequestSubject == "" {
		c.NATS.RequestSubject = DefaultRequestSubject
	}

	if c.NATS.NotificationSubject == "" {
		c.NATS.NotificationSubject = DefaultNotificationSubject
	}
}

// Validate checks the settings every binary needs.
func (c *Config) Validate() error {
	if c.Storyteller.BaseURL == "" {
		return ErrBaseURLEmpty
	}

	return nil
}

// PollInterval is the fixed period between status ticks.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Storyteller.PollIntervalMS) * time.Millisecond
}

// SubmitTimeout bounds the single submission call.
func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.Storyteller.SubmitTimeoutSeconds) * time.Second
}

// StatusTimeout bounds each status query.
func (c *Config) StatusTimeout() time.Duration {
	return time.Duration(c.Storyteller.StatusTimeoutSeconds) * time.Second
}

// DownloadTimeout bounds one artifact download.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Storyteller.DownloadTimeoutSeconds) * time.Second
}
