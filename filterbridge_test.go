package filterbridge

import (
	"testing"
	"time"
)

func TestNewValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	// DataDir is required.
	if _, err := New(cfg); err == nil {
		t.Fatal("New() accepted a config with no data dir")
	}
}

func TestNewWithValidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()

	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if b.MetricsHandler() == nil {
		t.Error("MetricsHandler() = nil")
	}
	if b.Connected() {
		t.Error("Connected() = true before Start")
	}
	if b.FileOpen() {
		t.Error("FileOpen() = true before Start")
	}
	if got := b.Stop(); got != nil {
		t.Errorf("Stop() on never-started bridge = %v", got)
	}
}

func TestCommandsDropWhileStopped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()

	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// No watchdog running, so the device is disconnected and every
	// gated command is rejected.
	if b.Reset() {
		t.Error("Reset() = true with no connection")
	}
	if b.SetAttenuation(3) {
		t.Error("SetAttenuation() = true with no connection")
	}

	// SetTimeout still applies its local side.
	b.SetTimeout(12 * time.Second)
	if _, ok := b.LastStatus(); ok {
		t.Error("LastStatus() reported a status with no traffic")
	}
}
