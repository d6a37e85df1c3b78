package mqtt

import "context"

// flowControl bounds the number of QoS>=1 publishes in flight at once,
// the way the CONNACK ReceiveMaximum property requires [MQTT-3.2.2-13].
// It is a buffered-channel semaphore rather than a polling loop: Go
// channels already give a blocking admission primitive, so there is no
// reason to reach for a condition variable or busy-wait the way a
// thread-per-connection server might.
type flowControl struct {
	slots chan struct{}
}

// newFlowControl builds an admission gate for max concurrent in-flight
// QoS>=1 publishes. A max of 0 is treated as 1.
func newFlowControl(max uint16) *flowControl {
	if max == 0 {
		max = 1
	}
	return &flowControl{slots: make(chan struct{}, max)}
}

// Acquire blocks until a slot is free or ctx is done. Returns
// ErrFlowControlTimeout if ctx expires first.
func (f *flowControl) Acquire(ctx context.Context) error {
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrFlowControlTimeout
	}
}

// Release frees one slot. Called when the corresponding PUBACK/PUBCOMP
// arrives; QoS 0 publishes never acquire a slot.
func (f *flowControl) Release() {
	select {
	case <-f.slots:
	default:
	}
}

// Resize changes the admission ceiling when the server renegotiates
// ReceiveMaximum on reconnect. Existing holders are unaffected; it only
// changes capacity for future Acquire calls, by replacing the channel.
// Any already-acquired slots against the old channel are not tracked
// against the new one, so Resize must only be called when the flow
// control is otherwise idle (between connections).
func (f *flowControl) Resize(max uint16) {
	if max == 0 {
		max = 1
	}
	f.slots = make(chan struct{}, max)
}
