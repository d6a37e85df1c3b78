package mqtt

import (
	"strings"
	"testing"

	"github.com/wireproto/mqttc/packet"
)

func TestOptionsDefaults(t *testing.T) {
	opts := New("127.0.0.1", 1883)
	if opts.Version != packet.VERSION311 {
		t.Errorf("expected default protocol 3.1.1, got %#x", opts.Version)
	}
	if !strings.HasPrefix(opts.ClientID, "mqtt-") || opts.ClientID == "mqtt-" {
		t.Errorf("expected a generated client-id, got %q", opts.ClientID)
	}
	if opts.KeepAliveSeconds != 60 || !opts.CleanSession {
		t.Errorf("unexpected defaults: keepalive=%d clean=%v", opts.KeepAliveSeconds, opts.CleanSession)
	}
	if opts.ReceiveMaximum != 65535 {
		t.Errorf("expected default receive-maximum 65535, got %d", opts.ReceiveMaximum)
	}
	if opts.scheme() != "tcp" {
		t.Errorf("expected default scheme tcp, got %q", opts.scheme())
	}
}

func TestOptionsDerivationsLeaveOriginalUnchanged(t *testing.T) {
	base := New("127.0.0.1", 1883).WithClientID("base-id")

	derived := base.
		WithVersion(packet.VERSION500).
		WithKeepAlive(30).
		WithCleanSession(false).
		WithAuth("user", "pass").
		WithSessionExpiry(3600).
		WithReceiveMaximum(16).
		WithOutboundTopicAliasMaximum(8).
		WithFilters("a/#")

	if base.Version != packet.VERSION311 || base.KeepAliveSeconds != 60 || !base.CleanSession {
		t.Error("derivations must not mutate the original options value")
	}
	if base.Username != "" || base.SessionExpirySeconds != nil || base.Filters != nil {
		t.Error("derivations must not mutate the original options value")
	}

	if derived.Version != packet.VERSION500 || derived.KeepAliveSeconds != 30 || derived.CleanSession {
		t.Error("derived value missing its overrides")
	}
	if derived.SessionExpirySeconds == nil || *derived.SessionExpirySeconds != 3600 {
		t.Error("expected session expiry 3600 on the derived value")
	}
	if derived.ReceiveMaximum != 16 || derived.OutboundTopicAliasMaximum != 8 {
		t.Error("derived value missing flow/alias settings")
	}
}

func TestOptionsSchemeSelection(t *testing.T) {
	base := New("h", 1)
	if got := base.WithTLS(nil).scheme(); got != "tls" {
		t.Errorf("expected tls scheme, got %q", got)
	}
	if got := base.WithScheme("wss").scheme(); got != "wss" {
		t.Errorf("expected explicit scheme to win, got %q", got)
	}
}

func TestOptionsReceiveMaximumZeroResets(t *testing.T) {
	opts := New("h", 1).WithReceiveMaximum(0)
	if opts.ReceiveMaximum != 65535 {
		t.Errorf("receive-maximum 0 must fall back to 65535, got %d", opts.ReceiveMaximum)
	}
}

func TestOptionsUUIDClientID(t *testing.T) {
	a := New("h", 1).WithUUIDClientID()
	b := New("h", 1).WithUUIDClientID()
	if !strings.HasPrefix(a.ClientID, "mqtt-") {
		t.Errorf("expected mqtt- prefix, got %q", a.ClientID)
	}
	if a.ClientID == b.ClientID {
		t.Error("expected distinct generated client-ids")
	}
}
