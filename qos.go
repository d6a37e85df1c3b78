package mqtt

import (
	"sync"

	"github.com/wireproto/mqttc/packet"
)

// qosState tracks in-flight QoS>=1 deliveries in both directions:
// outbound QoS1 (awaiting PUBACK), outbound QoS2 (awaiting PUBREC,
// then PUBREL awaiting PUBCOMP), and inbound QoS2 (delivered on the
// initial PUBLISH, with the id held to suppress retransmits until
// PUBREL closes the exchange).
type qosState struct {
	mu sync.Mutex

	// outboundPending holds PUBLISH packets sent with QoS>=1 that have
	// not yet been fully acknowledged, keyed by packet id. Used to
	// resend with DUP=1 after a reconnect.
	outboundPending map[uint16]*packet.PUBLISH

	// outboundRec holds the packet ids of outbound QoS2 publishes that
	// have received PUBREC and are now awaiting PUBCOMP after our
	// PUBREL.
	outboundRec map[uint16]bool

	// inboundRec holds the packet ids of inbound QoS2 publishes that
	// were delivered and PUBREC'd but whose PUBREL has not arrived yet.
	// A server retransmit of the PUBLISH with an id in this set is
	// suppressed rather than redelivered.
	inboundRec map[uint16]bool
}

func newQoSState() *qosState {
	return &qosState{
		outboundPending: make(map[uint16]*packet.PUBLISH),
		outboundRec:     make(map[uint16]bool),
		inboundRec:      make(map[uint16]bool),
	}
}

// TrackOutbound records a QoS>=1 PUBLISH awaiting acknowledgment. It
// must run before the packet hits the wire: the dispatch loop runs on
// its own goroutine, so an acknowledgement can arrive the instant the
// write returns, and an untracked id would leak its flow slot.
func (q *qosState) TrackOutbound(pkt *packet.PUBLISH) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.outboundPending[pkt.PacketID] = pkt
}

// Untrack withdraws an exchange that never made it onto the wire,
// undoing TrackOutbound after a send error.
func (q *qosState) Untrack(id uint16) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.outboundPending, id)
	delete(q.outboundRec, id)
}

// AckOutboundQoS1 completes a QoS1 exchange on PUBACK, returning the
// original packet so callers can release its flow-control slot.
func (q *qosState) AckOutboundQoS1(id uint16) (*packet.PUBLISH, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pkt, ok := q.outboundPending[id]
	if ok {
		delete(q.outboundPending, id)
	}
	return pkt, ok
}

// RecOutboundQoS2 records that PUBREC arrived for a QoS2 publish; the
// caller must now send PUBREL and await PUBCOMP.
func (q *qosState) RecOutboundQoS2(id uint16) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.outboundPending[id]; !ok {
		return false
	}
	q.outboundRec[id] = true
	return true
}

// CompOutboundQoS2 completes a QoS2 exchange on PUBCOMP. The returned
// packet may be nil for an exchange restored from a persisted session,
// where only the packet id survived the restart; the second return
// still reports true so the caller releases the id and flow slot.
func (q *qosState) CompOutboundQoS2(id uint16) (*packet.PUBLISH, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pkt, pending := q.outboundPending[id]
	_, rec := q.outboundRec[id]
	if !pending && !rec {
		return nil, false
	}
	delete(q.outboundPending, id)
	delete(q.outboundRec, id)
	return pkt, true
}

// RestoreRel marks id as an outbound QoS2 exchange already past PUBREC,
// used when resuming a persisted session: only PUBREL is replayed for
// these, never the original PUBLISH [MQTT-4.3.3-1].
func (q *qosState) RestoreRel(id uint16) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.outboundRec[id] = true
}

// PendingOutbound returns every unacknowledged outbound publish that
// has not yet reached the PUBREL stage, for resending with DUP=1 after
// a reconnect with a resumed session. Exchanges already past PUBREC
// are excluded; those replay PUBREL via PendingRel instead.
func (q *qosState) PendingOutbound() []*packet.PUBLISH {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*packet.PUBLISH, 0, len(q.outboundPending))
	for id, pkt := range q.outboundPending {
		if q.outboundRec[id] {
			continue
		}
		out = append(out, pkt)
	}
	return out
}

// PendingRel returns the packet ids of outbound QoS2 exchanges in the
// PUBREL stage: PUBREC arrived (or the state was restored from a
// saved session) and PUBCOMP has not.
func (q *qosState) PendingRel() []uint16 {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]uint16, 0, len(q.outboundRec))
	for id := range q.outboundRec {
		out = append(out, id)
	}
	return out
}

// TrackInbound records an inbound QoS2 packet id after its message is
// delivered and PUBREC sent, so a retransmitted PUBLISH with the same
// id is not delivered a second time.
func (q *qosState) TrackInbound(id uint16) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inboundRec[id] = true
}

// ReleaseInbound completes an inbound QoS2 exchange on PUBREL,
// reporting whether the id was being tracked. A duplicate PUBREL
// returns false; the caller answers it with PUBCOMP regardless.
func (q *qosState) ReleaseInbound(id uint16) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inboundRec[id]
	delete(q.inboundRec, id)
	return ok
}

// InboundDuplicate reports whether an inbound QoS2 publish with id is
// already being tracked, so a server retransmit with DUP=1 doesn't
// redeliver the message to the application a second time.
func (q *qosState) InboundDuplicate(id uint16) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inboundRec[id]
	return ok
}

// Reset clears all state, called when a non-resumed session starts
// (CONNACK SessionPresent == false): per [MQTT-4.4.0-1] any prior
// in-flight state belongs to a session the server has discarded.
func (q *qosState) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.outboundPending = make(map[uint16]*packet.PUBLISH)
	q.outboundRec = make(map[uint16]bool)
	q.inboundRec = make(map[uint16]bool)
}
