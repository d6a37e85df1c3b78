package mqtt

import (
	"errors"
	"fmt"

	"github.com/wireproto/mqttc/packet"
)

// Sentinel errors matched with errors.Is. The typed errors further
// down are matched with errors.As; TimeoutError and
// ErrFlowControlTimeout also match ErrTimeout.
var (
	// ErrNotConnected is returned by Publish/Subscribe/Unsubscribe when
	// the client is not in the CONNECTED state.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrFlowControlTimeout is returned when a caller-supplied (or
	// default 5s) admission wait for a QoS>=1 publish slot elapses.
	ErrFlowControlTimeout = fmt.Errorf("mqtt: flow control admission timed out: %w", ErrTimeout)

	// ErrKeepAliveTimeout is returned when no packet of any kind arrives
	// within 1.5x the negotiated keep-alive interval.
	ErrKeepAliveTimeout = errors.New("mqtt: keep-alive timeout, server silent too long")

	// ErrNoPacketIdsAvailable is returned by the packet-id allocator when
	// all 65535 ids are in use.
	ErrNoPacketIdsAvailable = errors.New("mqtt: no packet identifiers available")

	// ErrTimeout is returned when a caller timeout elapses on connect,
	// await-message, or an admission wait.
	ErrTimeout = errors.New("mqtt: operation timed out")
)

// MalformedPacketError wraps a decode failure from the wire codec.
type MalformedPacketError struct {
	Cause error
}

func (e *MalformedPacketError) Error() string { return fmt.Sprintf("mqtt: malformed packet: %v", e.Cause) }
func (e *MalformedPacketError) Unwrap() error { return e.Cause }

// ProtocolError reports a packet that decoded cleanly but is semantically
// illegal: an invalid inbound topic alias, an unexpected packet for the
// current state, a reserved QoS value, and similar violations.
type ProtocolError struct {
	Reason packet.ReasonCode
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("mqtt: protocol error (%v): %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("mqtt: protocol error (%v)", e.Reason)
}

// ConnectionRefusedError reports a non-zero CONNACK return/reason code.
type ConnectionRefusedError struct {
	ReasonCode packet.ReasonCode
}

func (e *ConnectionRefusedError) Error() string {
	return fmt.Sprintf("mqtt: connection refused: %v", e.ReasonCode)
}

// ServerDisconnectedError reports a v5 DISCONNECT sent by the broker.
type ServerDisconnectedError struct {
	ReasonCode packet.ReasonCode
	Properties *packet.DisconnectProperties
}

func (e *ServerDisconnectedError) Error() string {
	return fmt.Sprintf("mqtt: server disconnected: %v", e.ReasonCode)
}

// IOError wraps a transport read/write failure.
type IOError struct {
	Cause error
}

func (e *IOError) Error() string { return fmt.Sprintf("mqtt: io: %v", e.Cause) }
func (e *IOError) Unwrap() error { return e.Cause }

// TimeoutError reports a caller or internal deadline that elapsed during
// a named operation ("connect", "subscribe" or "unsubscribe").
type TimeoutError struct {
	Operation string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mqtt: timeout waiting for %s", e.Operation)
}
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// SessionStoreError wraps a failure from a Store implementation.
type SessionStoreError struct {
	Cause error
}

func (e *SessionStoreError) Error() string { return fmt.Sprintf("mqtt: session store: %v", e.Cause) }
func (e *SessionStoreError) Unwrap() error { return e.Cause }
