package watchdog

import (
	"testing"

	"github.com/beamctl/filterbridge/pkg/log"
)

type stubConnectivity bool

func (s stubConnectivity) Connected() bool { return bool(s) }

func TestGateRejectsWhileDisconnected(t *testing.T) {
	sender := &captureSender{}
	g := NewGate(stubConnectivity(false), sender, log.NewNoopLogger(), nil)

	if g.TrySend([]byte(`{"command":"reset"}`)) {
		t.Fatal("TrySend succeeded while disconnected")
	}
	if sender.count() != 0 {
		t.Fatalf("command queued while disconnected: %d", sender.count())
	}
}

func TestGatePassesWhileConnected(t *testing.T) {
	sender := &captureSender{}
	g := NewGate(stubConnectivity(true), sender, log.NewNoopLogger(), nil)

	if !g.TrySend([]byte(`{"command":"reset"}`)) {
		t.Fatal("TrySend failed while connected")
	}
	if sender.count() != 1 {
		t.Fatalf("command count = %d, want 1", sender.count())
	}
}
