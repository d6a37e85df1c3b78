package mqtt

import "github.com/wireproto/mqttc/packet"

// Event is the sealed variant of everything the connection manager
// can push to an Observer: a closed set of concrete event structs
// behind one marker interface, with no runtime type registry.
type Event interface {
	event()
}

// ServerDisconnectEvent reports a v5 DISCONNECT the broker sent while
// the client was connected. WillReconnect tells the observer whether
// the connection manager is about to retry per the auto-reconnect
// policy, computed before the event is delivered so observers never
// have to guess from the reason code alone.
type ServerDisconnectEvent struct {
	ReasonCode    packet.ReasonCode
	Properties    *packet.DisconnectProperties
	WillReconnect bool
}

func (ServerDisconnectEvent) event() {}

// Observer receives events synchronously, in packet-arrival order, on
// the client's own run-loop goroutine. An Observer must not block or
// call back into the Client from within Notify: that would deadlock
// the run loop. Unlike message handlers, Notify cannot be dispatched
// on its own goroutine because ordering must be preserved.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }
