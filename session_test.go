package mqtt

import (
	"reflect"
	"testing"
)

func TestSubscriptionRegistryOrder(t *testing.T) {
	r := newSubscriptionRegistry()
	r.Put("sensors/#", SubscriptionEntry{GrantedQoS: 1})
	r.Put("alerts/+", SubscriptionEntry{GrantedQoS: 2})
	r.Put("logs", SubscriptionEntry{GrantedQoS: 0})

	want := []string{"sensors/#", "alerts/+", "logs"}
	if got := r.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected insertion order %v, got %v", want, got)
	}

	// Re-putting an existing filter updates in place, not re-appends.
	r.Put("sensors/#", SubscriptionEntry{GrantedQoS: 0})
	if got := r.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected order unchanged after update, got %v", got)
	}
	if r.Entries()["sensors/#"].GrantedQoS != 0 {
		t.Error("expected Put on an existing filter to replace the entry")
	}
}

func TestSubscriptionRegistryRemove(t *testing.T) {
	r := newSubscriptionRegistry()
	r.Put("a", SubscriptionEntry{})
	r.Put("b", SubscriptionEntry{})
	r.Remove("a")
	r.Remove("missing") // no-op

	if got := r.Snapshot(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("expected [b], got %v", got)
	}
}

func TestSubscriptionRegistryReset(t *testing.T) {
	r := newSubscriptionRegistry()
	r.Put("a", SubscriptionEntry{})
	r.Reset()
	if len(r.Snapshot()) != 0 || len(r.Entries()) != 0 {
		t.Error("expected an empty registry after Reset")
	}
}
