package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables
// (FILTERBRIDGE_*). It respects flags that have been explicitly set
// (changed map). Returns an error if any environment variable has an
// invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("broker-url", os.Getenv("FILTERBRIDGE_BROKER_URL"), &cfg.BrokerURL)
	s.setString("control-subject", os.Getenv("FILTERBRIDGE_CONTROL_SUBJECT"), &cfg.ControlSubject)
	s.setString("event-subject", os.Getenv("FILTERBRIDGE_EVENT_SUBJECT"), &cfg.EventSubject)
	s.setString("device-name", os.Getenv("FILTERBRIDGE_DEVICE_NAME"), &cfg.DeviceName)
	s.setString("data-dir", os.Getenv("FILTERBRIDGE_DATA_DIR"), &cfg.DataDir)
	s.setString("file-name", os.Getenv("FILTERBRIDGE_FILE_NAME"), &cfg.FileName)
	s.setString("metrics-addr", os.Getenv("FILTERBRIDGE_METRICS_ADDR"), &cfg.MetricsAddr)

	if err := s.setDuration("poll-interval", os.Getenv("FILTERBRIDGE_POLL_INTERVAL"), &cfg.PollInterval); err != nil {
		return err
	}
	if err := s.setDuration("retry-interval", os.Getenv("FILTERBRIDGE_RETRY_INTERVAL"), &cfg.RetryInterval); err != nil {
		return err
	}
	if err := s.setDuration("frame-timeout", os.Getenv("FILTERBRIDGE_FRAME_TIMEOUT"), &cfg.FrameTimeout); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", os.Getenv("FILTERBRIDGE_SHUTDOWN_TIMEOUT"), &cfg.ShutdownTimeout); err != nil {
		return err
	}

	return nil
}
