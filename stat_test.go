package mqtt

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestClientStatRegisterIsIdempotent(t *testing.T) {
	s := newClientStat("stat-test-1")
	reg := prometheus.NewRegistry()

	s.Register(reg)
	s.Register(reg) // must not panic on double registration

	if count := testGatherCount(t, reg); count == 0 {
		t.Error("expected at least one metric family after Register")
	}
}

func TestClientStatRegisterNilRegistererIsNoop(t *testing.T) {
	s := newClientStat("stat-test-2")
	s.Register(nil) // must not panic
}

func TestClientStatCounters(t *testing.T) {
	s := newClientStat("stat-test-3")
	s.ActiveConnections.Inc()
	s.PacketReceived.Inc()
	s.ByteReceived.Add(1024)
	s.PacketSent.Inc()
	s.ByteSent.Add(2048)
	s.ReconnectAttempts.Inc()
	s.ActiveConnections.Dec()
}

func testGatherCount(t *testing.T, reg *prometheus.Registry) int {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	return len(mfs)
}
