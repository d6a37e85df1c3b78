package mqtt

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wireproto/mqttc/packet"
)

// connection is one live network session to a broker: the transport,
// the per-packet-kind dispatch channels the run loop and the public
// API block on, and the write mutex that serialises every packet this
// client sends. The subscription registry lives on the Client
// (session.go), not here: it outlives any single connection.
type connection struct {
	transport Transport
	version   byte
	stat      *clientStat

	writeMu sync.Mutex

	// recv fans decoded packets out by control-packet kind; the
	// dispatch loop and the handshake select on the channel for the
	// kind they expect.
	recv [0xF + 1]chan packet.Packet

	// keepAlive is the negotiated keep-alive in seconds: the client's
	// configured value, or the CONNACK ServerKeepAlive override.
	keepAlive uint16

	// maxPacketSize is the CONNACK MaximumPacketSize bound; 0 means the
	// broker advertised none and any encodable packet may be written.
	maxPacketSize uint32

	lastActivity atomic.Int64 // unix nanoseconds of the last successfully decoded packet
	lastWrite    atomic.Int64 // unix nanoseconds of the last packet written

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(transport Transport, version byte, stat *clientStat) *connection {
	c := &connection{transport: transport, version: version, stat: stat, closed: make(chan struct{})}
	for i := range c.recv {
		c.recv[i] = make(chan packet.Packet, 1)
	}
	// PUBLISH and PUBREL can arrive in bursts ahead of the dispatch loop
	// draining them; every other kind is at most one in flight per
	// packet id from this client's perspective.
	c.recv[PUBLISH] = make(chan packet.Packet, 256)
	c.recv[PUBREL] = make(chan packet.Packet, 256)
	now := time.Now().UnixNano()
	c.lastActivity.Store(now)
	c.lastWrite.Store(now)
	return c
}

// send packs pkt and writes it to the transport under the write mutex,
// so concurrent Publish/Subscribe/PINGREQ calls never interleave bytes
// on the wire.
func (c *connection) send(pkt packet.Packet, deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	var buf bytes.Buffer
	if err := pkt.Pack(&buf); err != nil {
		return &MalformedPacketError{Cause: err}
	}
	if c.maxPacketSize > 0 && uint32(buf.Len()) > c.maxPacketSize {
		return &ProtocolError{Reason: packet.ErrPacketTooLarge, Detail: "encoded packet exceeds broker maximum packet size"}
	}
	if err := c.transport.WriteAll(buf.Bytes(), deadline); err != nil {
		return &IOError{Cause: err}
	}
	c.lastWrite.Store(time.Now().UnixNano())
	if c.stat != nil {
		c.stat.ByteSent.Add(float64(buf.Len()))
	}
	return nil
}

// transportReader adapts a Transport to io.Reader for packet.Unpack,
// applying idleTimeout as a rolling per-read deadline so a silent
// broker surfaces as an ordinary read error rather than hanging
// forever.
type transportReader struct {
	t           Transport
	idleTimeout time.Duration
	stat        *clientStat
}

func (r *transportReader) Read(p []byte) (int, error) {
	deadline := time.Time{}
	if r.idleTimeout > 0 {
		deadline = time.Now().Add(r.idleTimeout)
	}
	if err := r.t.ReadExact(p, deadline); err != nil {
		return 0, err
	}
	if r.stat != nil {
		r.stat.ByteReceived.Add(float64(len(p)))
	}
	return len(p), nil
}

// readLoop decodes packets off the transport until it fails,
// dispatching each to its per-kind channel. It returns only on a
// decode/IO error or when Close stops it.
func (c *connection) readLoop(idleTimeout time.Duration) error {
	r := &transportReader{t: c.transport, idleTimeout: idleTimeout, stat: c.stat}
	for {
		pkt, err := packet.Unpack(c.version, r)
		if err != nil {
			return &IOError{Cause: err}
		}
		c.lastActivity.Store(time.Now().UnixNano())
		select {
		case c.recv[pkt.Kind()] <- pkt:
		case <-c.closed:
			return nil
		}
	}
}

// idleFor reports how long it has been since the last packet of any
// kind was decoded off the wire, the basis for keep-alive timeout
// detection (1.5x the negotiated interval).
func (c *connection) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

// writeIdleFor reports how long it has been since this client last
// wrote any packet; a PINGREQ is due once this passes half the
// negotiated keep-alive interval.
func (c *connection) writeIdleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastWrite.Load()))
}

func (c *connection) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.transport.Close()
}
