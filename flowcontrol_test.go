package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFlowControlBound(t *testing.T) {
	f := newFlowControl(2)
	ctx := context.Background()

	if err := f.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if err := f.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := f.Acquire(timeoutCtx); !errors.Is(err, ErrFlowControlTimeout) {
		t.Errorf("expected ErrFlowControlTimeout at the bound, got %v", err)
	}
}

func TestFlowControlReleaseAdmits(t *testing.T) {
	f := newFlowControl(1)
	ctx := context.Background()

	if err := f.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		done <- f.Acquire(waitCtx)
	}()

	f.Release()
	if err := <-done; err != nil {
		t.Errorf("Acquire after Release: %v", err)
	}
}

func TestFlowControlReleaseWhenEmptyIsNoop(t *testing.T) {
	f := newFlowControl(1)
	f.Release() // nothing held; must not block or panic
	if err := f.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after spurious Release: %v", err)
	}
}

func TestFlowControlZeroMaxClampsToOne(t *testing.T) {
	f := newFlowControl(0)
	if cap(f.slots) != 1 {
		t.Errorf("expected capacity 1 for max=0, got %d", cap(f.slots))
	}
}

func TestFlowControlResize(t *testing.T) {
	f := newFlowControl(1)
	f.Resize(3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := f.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d after Resize: %v", i, err)
		}
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := f.Acquire(timeoutCtx); err == nil {
		t.Error("expected the resized bound to hold")
	}
}
