package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make
// TOML friendly.
type FileConfig struct {
	BrokerURL      string `toml:"broker_url"`
	ControlSubject string `toml:"control_subject"`
	EventSubject   string `toml:"event_subject"`
	DeviceName     string `toml:"device_name"`

	PollInterval  string `toml:"poll_interval"`
	RetryInterval string `toml:"retry_interval"`
	FrameTimeout  string `toml:"frame_timeout"`

	DataDir  string `toml:"data_dir"`
	FileName string `toml:"file_name"`

	MetricsAddr     string `toml:"metrics_addr"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.filterbridge/config.toml if the user home directory is
// accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".filterbridge", "config.toml")
	}
	return ""
}

// FileExists reports whether path names an existing regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ApplyFileConfig applies configuration from a file to the Config
// struct. It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("broker-url", fc.BrokerURL, &cfg.BrokerURL)
	s.setString("control-subject", fc.ControlSubject, &cfg.ControlSubject)
	s.setString("event-subject", fc.EventSubject, &cfg.EventSubject)
	s.setString("device-name", fc.DeviceName, &cfg.DeviceName)
	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("file-name", fc.FileName, &cfg.FileName)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)

	if err := s.setDuration("poll-interval", fc.PollInterval, &cfg.PollInterval); err != nil {
		return err
	}
	if err := s.setDuration("retry-interval", fc.RetryInterval, &cfg.RetryInterval); err != nil {
		return err
	}
	if err := s.setDuration("frame-timeout", fc.FrameTimeout, &cfg.FrameTimeout); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout); err != nil {
		return err
	}

	return nil
}
