package mqtt

import "testing"

func TestPacketIDAllocateSequential(t *testing.T) {
	a := newPacketIDAllocator()
	for want := uint16(1); want <= 5; want++ {
		id, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if id != want {
			t.Errorf("expected id %d, got %d", want, id)
		}
	}
}

func TestPacketIDNeverZero(t *testing.T) {
	a := newPacketIDAllocator()
	a.lastUsed = 65535 // force the wrap on the next allocation
	id, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if id != 1 {
		t.Errorf("expected wrap to 1, got %d", id)
	}
}

func TestPacketIDReleaseAndReuse(t *testing.T) {
	a := newPacketIDAllocator()
	first, _ := a.Allocate()
	second, _ := a.Allocate()
	a.Release(first)

	// The allocator keeps moving forward rather than reusing the just
	// freed id, so distribution stays even.
	next, _ := a.Allocate()
	if next == first {
		t.Errorf("expected a fresh id after %d, got the just-released %d", second, next)
	}
	if !a.InUse(next) || a.InUse(first) {
		t.Error("InUse bookkeeping out of sync after Release")
	}
}

func TestPacketIDUniqueness(t *testing.T) {
	a := newPacketIDAllocator()
	seen := make(map[uint16]bool)
	for i := 0; i < 1000; i++ {
		id, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if seen[id] {
			t.Fatalf("id %d handed out twice while outstanding", id)
		}
		seen[id] = true
	}
}

func TestPacketIDExhaustion(t *testing.T) {
	a := newPacketIDAllocator()
	for id := uint16(1); id != 0; id++ {
		a.Reserve(id)
	}
	if _, err := a.Allocate(); err != ErrNoPacketIdsAvailable {
		t.Errorf("expected ErrNoPacketIdsAvailable, got %v", err)
	}
	a.Release(42)
	id, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate after Release: %v", err)
	}
	if id != 42 {
		t.Errorf("expected the only free id 42, got %d", id)
	}
}
