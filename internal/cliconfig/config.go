// Package cliconfig holds the daemon configuration and its merge rules:
// defaults, then TOML config file, then FILTERBRIDGE_* environment
// variables, then explicitly set flags.
package cliconfig

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Default endpoint and subject values for the filter controller broker.
const (
	DefaultBrokerURL      = "nats://127.0.0.1:4222"
	DefaultControlSubject = "pfc.control"
	DefaultEventSubject   = "pfc.events"
)

// Config holds the full daemon configuration.
type Config struct {
	BrokerURL      string
	ControlSubject string
	EventSubject   string
	DeviceName     string

	PollInterval  time.Duration
	RetryInterval time.Duration

	// FrameTimeout is the device-reported idle time after which an open
	// dataset file is closed automatically.
	FrameTimeout time.Duration

	DataDir  string
	FileName string

	MetricsAddr     string
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		BrokerURL:       DefaultBrokerURL,
		ControlSubject:  DefaultControlSubject,
		EventSubject:    DefaultEventSubject,
		DeviceName:      "FILTER1",
		PollInterval:    100 * time.Millisecond,
		RetryInterval:   5 * time.Millisecond,
		FrameTimeout:    3 * time.Second,
		FileName:        "attenuation.dat",
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks the configuration for errors and normalizes values.
func (c *Config) Validate() error {
	if c.BrokerURL == "" {
		c.BrokerURL = DefaultBrokerURL
	}
	c.BrokerURL = strings.TrimSuffix(c.BrokerURL, "/")

	if c.ControlSubject == "" {
		return fmt.Errorf("control-subject is required")
	}
	if c.EventSubject == "" {
		return fmt.Errorf("event-subject is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data-dir is required")
	}
	if c.FileName == "" {
		return fmt.Errorf("file-name is required")
	}
	if strings.ContainsRune(c.FileName, filepath.Separator) {
		return fmt.Errorf("file-name must not contain a path separator")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("retry interval must be positive")
	}
	if c.FrameTimeout <= 0 {
		return fmt.Errorf("frame timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}

	return nil
}

// TargetPath returns the dataset file path derived from DataDir and
// FileName.
func (c *Config) TargetPath() string {
	return filepath.Join(c.DataDir, c.FileName)
}

// configSetter helps apply configuration values while respecting flag
// precedence. It only applies values if the corresponding flag hasn't
// been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag
// not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}
