package mqtt

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wireproto/mqttc/packet"
)

// ClientState is the coarse lifecycle state of a Client, reported by
// State(). Connect and the publish/subscribe paths check it to refuse
// a second connect or an operation while not connected.
type ClientState int32

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Message is an application-facing inbound PUBLISH: topic-alias
// resolved, filtered, and ready for delivery.
type Message struct {
	Topic      string
	Payload    []byte
	QoS        uint8
	Retain     bool
	Duplicate  bool
	Properties map[string][]string
}

// ConnectResult reports a completed CONNECT/CONNACK handshake.
type ConnectResult struct {
	SessionPresent bool
	ReasonCode     packet.ReasonCode
}

// SubscribeResult reports one filter's granted outcome from SUBACK.
type SubscribeResult struct {
	Filter     string
	ReasonCode packet.ReasonCode
}

// Client is an MQTT client: one logical session across however many
// physical connections auto-reconnect cycles through. All mutable
// state belongs to the Client; the connection, codec and transport
// below it never outlive a session.
type Client struct {
	opts ClientOptions

	mu    sync.Mutex
	state ClientState
	conn  *connection

	pendingMu sync.Mutex
	pending   map[uint16]chan packet.Packet

	ids        *packetIDAllocator
	qos        *qosState
	flow       *flowControl
	outAliases *outboundTopicAliases
	inAliases  *inboundTopicAliases
	subs       *subscriptionRegistry
	filter     *messageFilter
	stat       *clientStat
	observer   Observer

	handlerMu sync.Mutex
	handler   func(Message)
	inbox     chan Message

	// closedCh is closed by Disconnect so an in-flight AwaitMessage
	// aborts immediately instead of waiting out its timeout.
	closeClientOnce sync.Once
	closedCh        chan struct{}

	runCancel context.CancelFunc
	runDone   chan struct{}
}

// NewClient builds a Client from opts. The client is not connected
// until Connect is called.
func NewClient(opts ClientOptions) *Client {
	c := &Client{
		opts:       opts,
		ids:        newPacketIDAllocator(),
		qos:        newQoSState(),
		flow:       newFlowControl(opts.ReceiveMaximum),
		outAliases: newOutboundTopicAliases(opts.OutboundTopicAliasMaximum),
		inAliases:  newInboundTopicAliases(0),
		subs:       newSubscriptionRegistry(),
		filter:     newMessageFilter(opts.Filters),
		stat:       newClientStat(opts.ClientID),
		pending:    make(map[uint16]chan packet.Packet),
		inbox:      make(chan Message, 256),
		closedCh:   make(chan struct{}),
	}
	c.stat.Register(opts.MetricsRegisterer)
	return c
}

func (c *Client) ID() string { return c.opts.ClientID }

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ClientState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// SetObserver installs the Observer that receives connection-level
// events. Must be called before Connect to see every event.
func (c *Client) SetObserver(o Observer) { c.observer = o }

// OnMessage installs the callback invoked for every inbound PUBLISH
// that passes the configured filter. Mutually exclusive with draining
// AwaitMessage/Run's inbox in practice, though both paths work: a
// handler set here runs on its own goroutine per message, so it can
// never block the dispatch loop.
func (c *Client) OnMessage(handler func(Message)) {
	c.handlerMu.Lock()
	c.handler = handler
	c.handlerMu.Unlock()
}

// AwaitMessage blocks up to timeout for the next inbound message that
// was not claimed by an OnMessage handler.
func (c *Client) AwaitMessage(timeout time.Duration) (Message, bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m := <-c.inbox:
		return m, true
	case <-c.closedCh:
		return Message{}, false
	case <-t.C:
		return Message{}, false
	}
}

// Run drains AwaitMessage in a loop, invoking handler for each
// message, until ctx is done.
func (c *Client) Run(ctx context.Context, handler func(Message)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closedCh:
			return nil
		case m := <-c.inbox:
			handler(m)
		}
	}
}

func (c *Client) deliver(m Message) {
	if !c.filter.Allows(m.Topic) {
		return
	}
	c.handlerMu.Lock()
	h := c.handler
	c.handlerMu.Unlock()
	if h != nil {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					c.opts.logger().Printf("[MQTT_HANDLER_PANIC] client_id=%s topic=%s panic=%v", c.opts.ClientID, m.Topic, r)
				}
			}()
			h(m)
		}()
		return
	}
	select {
	case c.inbox <- m:
	default:
		c.opts.logger().Printf("[MQTT_INBOX_FULL] client_id=%s topic=%s message dropped", c.opts.ClientID, m.Topic)
	}
}

// Connect dials the broker, performs the CONNECT/CONNACK handshake,
// and (if AutoReconnect is set) starts the background supervision loop
// that keeps the session alive across transient disconnects.
func (c *Client) Connect(ctx context.Context) (ConnectResult, error) {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return ConnectResult{}, errors.New("mqtt: already connected or connecting")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, result, errCh, err := c.connectOnce(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return result, err
	}

	// A resumed session replays its unfinished QoS2 exchanges right
	// after CONNACK: PUBREL for every restored pending id.
	c.resendPendingOutbound(conn)

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	runCtx, cancel := context.WithCancel(context.Background())
	c.runCancel = cancel
	c.runDone = make(chan struct{})
	c.mu.Unlock()

	c.stat.ActiveConnections.Inc()
	go c.supervise(runCtx, conn, errCh)

	return result, nil
}

// restoredSession loads SessionState for this client-id from the
// configured Store, or the zero value if none is configured or none
// is found.
func (c *Client) restoredSession() (SessionState, bool) {
	if c.opts.SessionStore == nil || c.opts.CleanSession {
		return SessionState{}, false
	}
	state, found, err := c.opts.SessionStore.Load(c.opts.ClientID)
	if err != nil {
		c.opts.logger().Printf("[MQTT_SESSION_LOAD_ERROR] client_id=%s error=%v", c.opts.ClientID, err)
		return SessionState{}, false
	}
	return state, found
}

// connectOnce performs a single dial-and-handshake attempt: it does
// not touch c.conn/c.state, leaving that to the caller (Connect, or
// the reconnect loop in supervise), so it can be reused by both.
func (c *Client) connectOnce(ctx context.Context) (*connection, ConnectResult, <-chan error, error) {
	deadline := time.Now().Add(time.Duration(c.opts.ConnectTimeoutMS) * time.Millisecond)
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	dialFn := c.opts.DialContext
	if dialFn == nil {
		dialFn = func(ctx context.Context) (Transport, error) {
			return dial(ctx, c.opts.scheme(), c.opts.Host, c.opts.Port, c.opts)
		}
	}
	transport, err := dialFn(dialCtx)
	if err != nil {
		return nil, ConnectResult{}, nil, &IOError{Cause: err}
	}

	conn := newConnection(transport, c.opts.Version, c.stat)
	errCh := make(chan error, 1)
	go func() { errCh <- conn.readLoop(0) }()

	connect := &packet.CONNECT{
		FixedHeader: &packet.FixedHeader{Version: c.opts.Version, Kind: CONNECT},
		ClientID:    c.opts.ClientID,
		KeepAlive:   c.opts.KeepAliveSeconds,
		Username:    c.opts.Username,
		Password:    c.opts.Password,
	}

	var flags uint8
	if c.opts.CleanSession {
		flags |= 1 << 1
	}
	if c.opts.Will != nil {
		connect.WillTopic = c.opts.Will.Topic
		connect.WillPayload = c.opts.Will.Payload
		flags |= uint8(c.opts.Will.QoS) << 3
		if c.opts.Will.Retain {
			flags |= 1 << 5
		}
	}
	connect.ConnectFlags = packet.ConnectFlags(flags)

	if c.opts.Version == packet.VERSION500 {
		props := &packet.ConnectProperties{
			ReceiveMaximum:    packet.ReceiveMaximum(c.opts.ReceiveMaximum),
			TopicAliasMaximum: packet.TopicAliasMaximum(c.opts.OutboundTopicAliasMaximum),
		}
		if c.opts.SessionExpirySeconds != nil {
			props.SessionExpiryInterval = packet.SessionExpiryInterval(*c.opts.SessionExpirySeconds)
		}
		connect.Props = props
	}

	if err := conn.send(connect, deadline); err != nil {
		conn.Close()
		return nil, ConnectResult{}, nil, err
	}

	select {
	case <-dialCtx.Done():
		conn.Close()
		return nil, ConnectResult{}, nil, &TimeoutError{Operation: "connect"}
	case err := <-errCh:
		conn.Close()
		return nil, ConnectResult{}, nil, err
	case pkt := <-conn.recv[CONNACK]:
		connack, ok := pkt.(*packet.CONNACK)
		if !ok {
			conn.Close()
			return nil, ConnectResult{}, nil, &MalformedPacketError{Cause: fmt.Errorf("unexpected packet in place of CONNACK")}
		}
		if connack.ConnectReturnCode.Code != 0 {
			conn.Close()
			return nil, ConnectResult{ReasonCode: connack.ConnectReturnCode}, nil, &ConnectionRefusedError{ReasonCode: connack.ConnectReturnCode}
		}

		// CONNACK properties override options: the broker's
		// receive-maximum caps outbound flow control, its
		// topic-alias-maximum caps how many aliases we may assign to
		// it (absent means zero: the broker accepts none), a
		// server-keep-alive replaces the configured interval, a
		// maximum-packet-size bounds everything we write from now on,
		// and an assigned-client-identifier fills in an empty
		// client-id.
		receiveMax := uint16(65535)
		outAliasMax := uint16(0)
		conn.keepAlive = c.opts.KeepAliveSeconds
		if connack.Props != nil {
			if connack.Props.ReceiveMaximum != 0 {
				receiveMax = connack.Props.ReceiveMaximum
			}
			outAliasMax = connack.Props.TopicAliasMaximum
			if connack.Props.ServerKeepAlive != 0 {
				conn.keepAlive = connack.Props.ServerKeepAlive
			}
			conn.maxPacketSize = connack.Props.MaximumPacketSize
			if c.opts.ClientID == "" && connack.Props.AssignedClientID != "" {
				c.opts.ClientID = connack.Props.AssignedClientID
			}
		} else if c.opts.Version == packet.VERSION311 {
			receiveMax = c.opts.ReceiveMaximum
		}
		if outAliasMax > c.opts.OutboundTopicAliasMaximum {
			outAliasMax = c.opts.OutboundTopicAliasMaximum
		}
		c.flow.Resize(receiveMax)
		c.outAliases.Reset(outAliasMax)
		c.inAliases.Reset(c.opts.OutboundTopicAliasMaximum)

		sessionPresent := connack.SessionPresent != 0
		if !sessionPresent {
			c.qos.Reset()
			c.subs.Reset()
			if !c.opts.CleanSession && c.opts.SessionStore != nil {
				if err := c.opts.SessionStore.Delete(c.opts.ClientID); err != nil {
					c.opts.logger().Printf("[MQTT_SESSION_DELETE_ERROR] client_id=%s error=%v", c.opts.ClientID, err)
				}
				c.opts.logger().Printf("[MQTT_SESSION_LOST] client_id=%s broker reported no stored session, local state cleared", c.opts.ClientID)
			}
		} else if restored, ok := c.restoredSession(); ok {
			for filter, entry := range restored.Subscriptions {
				c.subs.Put(filter, entry)
			}
			for _, id := range restored.PendingQoS2 {
				c.ids.Reserve(id)
				c.qos.RestoreRel(id)
			}
		}

		result := ConnectResult{SessionPresent: sessionPresent, ReasonCode: connack.ConnectReturnCode}
		return conn, result, errCh, nil
	}
}

func (c *Client) writeDeadline() time.Time {
	return time.Now().Add(5 * time.Second)
}

// supervise runs one connection until it fails, then reconnects with
// backoff if configured, repeating until ctx is cancelled (a clean
// Disconnect/Close) or reconnection gives up.
func (c *Client) supervise(ctx context.Context, conn *connection, errCh <-chan error) {
	defer close(c.runDone)
	for {
		err := c.runConnection(ctx, conn, errCh)
		c.stat.ActiveConnections.Dec()
		if ctx.Err() != nil {
			return
		}
		retry := c.shouldReconnect(err)
		c.notifyDisconnect(err, retry)
		conn.Close()

		if !retry {
			c.setState(StateDisconnected)
			return
		}
		c.setState(StateReconnecting)
		c.stat.ReconnectAttempts.Inc()

		newConn, newErrCh, ok := c.reconnectWithBackoff(ctx)
		if !ok {
			c.setState(StateDisconnected)
			return
		}
		c.resendPendingOutbound(newConn)

		c.mu.Lock()
		c.conn = newConn
		c.state = StateConnected
		c.mu.Unlock()
		c.stat.ActiveConnections.Inc()

		conn, errCh = newConn, newErrCh
	}
}

// shouldReconnect decides whether an abnormal termination restarts the
// connection: never without AutoReconnect, and never for a server
// DISCONNECT with a non-error reason code -- 0x00 (and the other
// sub-0x80 codes) mean the broker ended the session deliberately, not
// that it failed.
func (c *Client) shouldReconnect(err error) bool {
	if !c.opts.AutoReconnect {
		return false
	}
	var sde *ServerDisconnectedError
	if errors.As(err, &sde) && sde.ReasonCode.Code < 0x80 {
		return false
	}
	return true
}

func (c *Client) notifyDisconnect(err error, willReconnect bool) {
	if c.observer == nil {
		return
	}
	var sde *ServerDisconnectedError
	if errors.As(err, &sde) {
		c.observer.Notify(ServerDisconnectEvent{
			ReasonCode:    sde.ReasonCode,
			Properties:    sde.Properties,
			WillReconnect: willReconnect,
		})
	}
}

// resendPendingOutbound replays unfinished QoS>=1 exchanges on a fresh
// connection with a resumed session: PUBLISH with DUP=1 for exchanges
// still awaiting PUBACK/PUBREC, and bare PUBREL for QoS2 exchanges
// that already got their PUBREC before the drop.
func (c *Client) resendPendingOutbound(conn *connection) {
	for _, pkt := range c.qos.PendingOutbound() {
		pkt.FixedHeader.Dup = 1
		if err := conn.send(pkt, c.writeDeadline()); err != nil {
			c.opts.logger().Printf("[MQTT_RESEND_ERROR] client_id=%s packet_id=%d error=%v", c.opts.ClientID, pkt.PacketID, err)
		}
	}
	for _, id := range c.qos.PendingRel() {
		rel := &packet.PUBREL{FixedHeader: &packet.FixedHeader{Version: c.opts.Version, Kind: PUBREL, QoS: 1}, PacketID: id}
		if err := conn.send(rel, c.writeDeadline()); err != nil {
			c.opts.logger().Printf("[MQTT_RESEND_ERROR] client_id=%s packet_id=%d error=%v", c.opts.ClientID, id, err)
		}
	}
}

func (c *Client) runConnection(ctx context.Context, conn *connection, errCh <-chan error) error {
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		select {
		case err := <-errCh:
			return err
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	group.Go(func() error { return c.dispatchLoop(gctx, conn) })
	group.Go(func() error { return c.keepAliveLoop(gctx, conn) })
	return group.Wait()
}

// keepAliveLoop enforces both halves of the keep-alive contract: a
// PINGREQ goes out once the client has written nothing for half the
// negotiated interval, and the connection is declared dead once
// nothing at all has arrived for 1.5x the interval.
func (c *Client) keepAliveLoop(ctx context.Context, conn *connection) error {
	if conn.keepAlive == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	interval := time.Duration(conn.keepAlive) * time.Second
	timeout := interval + interval/2
	tick := interval / 4
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if conn.idleFor() > timeout {
				return ErrKeepAliveTimeout
			}
			if conn.writeIdleFor() < interval/2 {
				continue
			}
			ping := &packet.PINGREQ{FixedHeader: &packet.FixedHeader{Version: c.opts.Version, Kind: PINGREQ}}
			if err := conn.send(ping, c.writeDeadline()); err != nil {
				return err
			}
		}
	}
}

func (c *Client) dispatchLoop(ctx context.Context, conn *connection) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case pkt := <-conn.recv[PUBLISH]:
			c.stat.PacketReceived.Inc()
			pub := pkt.(*packet.PUBLISH)
			if err := c.handleInboundPublish(conn, pub); err != nil {
				return err
			}

		case pkt := <-conn.recv[PUBACK]:
			c.stat.PacketReceived.Inc()
			ack := pkt.(*packet.PUBACK)
			if _, ok := c.qos.AckOutboundQoS1(ack.PacketID); ok {
				c.ids.Release(ack.PacketID)
				c.flow.Release()
				if ack.ReasonCode.Code >= 0x80 {
					c.opts.logger().Printf("[MQTT_PUBLISH_REJECTED] client_id=%s packet_id=%d reason=%v", c.opts.ClientID, ack.PacketID, ack.ReasonCode)
				}
			}

		case pkt := <-conn.recv[PUBREC]:
			c.stat.PacketReceived.Inc()
			rec := pkt.(*packet.PUBREC)
			// A rejecting PUBREC (reason >= 0x80) terminates the
			// exchange: no PUBREL follows, the id and slot free
			// immediately, and the packet is not retried.
			if rec.ReasonCode.Code >= 0x80 {
				if _, ok := c.qos.CompOutboundQoS2(rec.PacketID); ok {
					c.ids.Release(rec.PacketID)
					c.flow.Release()
					c.opts.logger().Printf("[MQTT_PUBLISH_REJECTED] client_id=%s packet_id=%d reason=%v", c.opts.ClientID, rec.PacketID, rec.ReasonCode)
				}
				continue
			}
			if c.qos.RecOutboundQoS2(rec.PacketID) {
				rel := &packet.PUBREL{FixedHeader: &packet.FixedHeader{Version: c.opts.Version, Kind: PUBREL, QoS: 1}, PacketID: rec.PacketID}
				if err := conn.send(rel, c.writeDeadline()); err != nil {
					return err
				}
			}

		case pkt := <-conn.recv[PUBREL]:
			c.stat.PacketReceived.Inc()
			rel := pkt.(*packet.PUBREL)
			// The message was already delivered at PUBLISH time; PUBREL
			// just retires the id. A duplicate PUBREL is answered with
			// PUBCOMP unconditionally.
			c.qos.ReleaseInbound(rel.PacketID)
			comp := &packet.PUBCOMP{FixedHeader: &packet.FixedHeader{Version: c.opts.Version, Kind: PUBCOMP}, PacketID: rel.PacketID}
			if err := conn.send(comp, c.writeDeadline()); err != nil {
				return err
			}

		case pkt := <-conn.recv[PUBCOMP]:
			c.stat.PacketReceived.Inc()
			comp := pkt.(*packet.PUBCOMP)
			if _, ok := c.qos.CompOutboundQoS2(comp.PacketID); ok {
				c.ids.Release(comp.PacketID)
				c.flow.Release()
			}

		case pkt := <-conn.recv[SUBACK]:
			c.stat.PacketReceived.Inc()
			suback := pkt.(*packet.SUBACK)
			c.resolveReply(suback.PacketID, pkt)

		case pkt := <-conn.recv[UNSUBACK]:
			c.stat.PacketReceived.Inc()
			unsuback := pkt.(*packet.UNSUBACK)
			c.resolveReply(unsuback.PacketID, pkt)

		case <-conn.recv[PINGRESP]:
			c.stat.PacketReceived.Inc()

		case <-conn.recv[AUTH]:
			// Enhanced authentication is never initiated by this client,
			// so an AUTH from the broker has no exchange to continue.
			c.stat.PacketReceived.Inc()
			c.opts.logger().Printf("[MQTT_UNEXPECTED_AUTH] client_id=%s AUTH received outside an authentication exchange", c.opts.ClientID)

		case pkt := <-conn.recv[DISCONNECT]:
			c.stat.PacketReceived.Inc()
			dc := pkt.(*packet.DISCONNECT)
			return &ServerDisconnectedError{ReasonCode: dc.ReasonCode, Properties: dc.Props}
		}
	}
}

func (c *Client) handleInboundPublish(conn *connection, pub *packet.PUBLISH) error {
	var alias uint16
	if pub.Props != nil {
		alias = uint16(pub.Props.TopicAlias)
	}
	topicName, err := c.inAliases.Resolve(pub.Message.TopicName, alias)
	if err != nil {
		// An out-of-range or unregistered inbound alias terminates the
		// connection with reason 0x94 Topic Alias invalid.
		if c.opts.Version == packet.VERSION500 {
			dc := packet.NewDISCONNECT(c.opts.Version, packet.ErrTopicAliasInvalid)
			_ = conn.send(dc, c.writeDeadline())
		}
		return err
	}

	var props map[string][]string
	if pub.Props != nil {
		props = pub.Props.UserProperty
	}

	switch pub.QoS {
	case 0:
		c.deliver(Message{Topic: topicName, Payload: pub.Message.Content, QoS: 0, Retain: pub.Retain != 0, Duplicate: pub.Dup != 0, Properties: props})
		return nil
	case 1:
		c.deliver(Message{Topic: topicName, Payload: pub.Message.Content, QoS: 1, Retain: pub.Retain != 0, Duplicate: pub.Dup != 0, Properties: props})
		ack := &packet.PUBACK{FixedHeader: &packet.FixedHeader{Version: c.opts.Version, Kind: PUBACK}, PacketID: pub.PacketID}
		return conn.send(ack, c.writeDeadline())
	case 2:
		// Deliver on the initial PUBLISH; a retransmit whose id is
		// still pending gets PUBREC again but no second delivery.
		if !c.qos.InboundDuplicate(pub.PacketID) {
			c.qos.TrackInbound(pub.PacketID)
			c.deliver(Message{Topic: topicName, Payload: pub.Message.Content, QoS: 2, Retain: pub.Retain != 0, Duplicate: pub.Dup != 0, Properties: props})
		}
		rec := &packet.PUBREC{FixedHeader: &packet.FixedHeader{Version: c.opts.Version, Kind: PUBREC}, PacketID: pub.PacketID}
		return conn.send(rec, c.writeDeadline())
	default:
		return &ProtocolError{Reason: packet.ErrMalformedQos, Detail: "reserved qos value in PUBLISH"}
	}
}

// registerReply allocates a correlation channel for a packet id awaiting
// a SUBACK/UNSUBACK, used because those replies arrive on the shared
// dispatch loop rather than synchronously to the calling goroutine.
func (c *Client) registerReply(id uint16) chan packet.Packet {
	ch := make(chan packet.Packet, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	return ch
}

func (c *Client) resolveReply(id uint16, pkt packet.Packet) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- pkt
	}
}

func (c *Client) unregisterReply(id uint16) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) currentConn() (*connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// Publish sends a message. For QoS 0 it returns as soon as the bytes
// are written; for QoS>=1 it blocks until a flow-control admission
// slot is free, then returns once the packet is written, leaving
// completion tracking (PUBACK/PUBREC-PUBREL-PUBCOMP) to the background
// dispatch loop. Broker-side rejection surfaces asynchronously when
// the acknowledgement arrives; the returned packet id correlates it.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, opts PublishOptions) (uint16, error) {
	conn, err := c.currentConn()
	if err != nil {
		return 0, err
	}

	var id uint16
	if opts.QoS > 0 {
		admitCtx := ctx
		if c.opts.AdmissionTimeoutMS > 0 {
			var cancel context.CancelFunc
			admitCtx, cancel = context.WithTimeout(ctx, time.Duration(c.opts.AdmissionTimeoutMS)*time.Millisecond)
			defer cancel()
		}
		if err := c.flow.Acquire(admitCtx); err != nil {
			return 0, err
		}
		id, err = c.ids.Allocate()
		if err != nil {
			c.flow.Release()
			return 0, err
		}
	}

	pub := &packet.PUBLISH{
		FixedHeader: &packet.FixedHeader{Version: c.opts.Version, Kind: PUBLISH, QoS: opts.QoS},
		PacketID:    id,
		Message:     &packet.Message{TopicName: topic, Content: payload},
	}
	if opts.Retain {
		pub.FixedHeader.Retain = 1
	}
	if c.opts.Version == packet.VERSION500 {
		props := &packet.PublishProperties{UserProperty: opts.Properties}
		if alias, outcome := c.outAliases.Assign(topic); outcome != topicAliasNone {
			props.TopicAlias = packet.TopicAlias(alias)
		}
		pub.Props = props
	}

	// Track before writing: the acknowledgement can be dispatched the
	// moment the bytes leave, and it must find the exchange recorded.
	if opts.QoS > 0 {
		c.qos.TrackOutbound(pub)
	}
	if err := conn.send(pub, c.writeDeadline()); err != nil {
		if opts.QoS > 0 {
			c.qos.Untrack(id)
			c.ids.Release(id)
			c.flow.Release()
		}
		return 0, err
	}
	c.stat.PacketSent.Inc()
	return id, nil
}

// Subscribe sends one SUBSCRIBE covering every filter and waits for
// the matching SUBACK, recording the granted QoS in the subscription
// registry for session restore.
func (c *Client) Subscribe(ctx context.Context, filters []string, opts SubscribeOptions) ([]SubscribeResult, error) {
	conn, err := c.currentConn()
	if err != nil {
		return nil, err
	}
	id, err := c.ids.Allocate()
	if err != nil {
		return nil, err
	}
	defer c.ids.Release(id)

	subs := make([]packet.Subscription, len(filters))
	for i, f := range filters {
		subs[i] = packet.Subscription{
			TopicFilter:       f,
			MaximumQoS:        opts.QoS,
			NoLocal:           boolToUint8(opts.NoLocal),
			RetainAsPublished: boolToUint8(opts.RetainAsPublished),
			RetainHandling:    opts.RetainHandling,
		}
	}
	pkt := &packet.SUBSCRIBE{
		FixedHeader:   &packet.FixedHeader{Version: c.opts.Version, Kind: SUBSCRIBE, QoS: 1},
		PacketID:      id,
		Subscriptions: subs,
	}

	replyCh := c.registerReply(id)
	if err := conn.send(pkt, c.writeDeadline()); err != nil {
		c.unregisterReply(id)
		return nil, err
	}
	c.stat.PacketSent.Inc()

	select {
	case <-ctx.Done():
		c.unregisterReply(id)
		return nil, &TimeoutError{Operation: "subscribe"}
	case reply := <-replyCh:
		suback := reply.(*packet.SUBACK)
		results := make([]SubscribeResult, len(filters))
		for i, f := range filters {
			rc := packet.CodeSuccess
			if i < len(suback.ReasonCode) {
				rc = suback.ReasonCode[i]
			}
			results[i] = SubscribeResult{Filter: f, ReasonCode: rc}
			if rc.Code < 0x80 {
				c.subs.Put(f, SubscriptionEntry{GrantedQoS: rc.Code, Options: &opts})
			}
		}
		return results, nil
	}
}

// Unsubscribe sends one UNSUBSCRIBE covering every filter and waits
// for the matching UNSUBACK, returning the per-filter reason codes
// (success placeholders for v3.1.1, whose UNSUBACK carries none). A
// filter leaves the subscription registry unless the broker rejected
// its removal.
func (c *Client) Unsubscribe(ctx context.Context, filters []string) ([]SubscribeResult, error) {
	conn, err := c.currentConn()
	if err != nil {
		return nil, err
	}
	id, err := c.ids.Allocate()
	if err != nil {
		return nil, err
	}
	defer c.ids.Release(id)

	subs := make([]packet.Subscription, len(filters))
	for i, f := range filters {
		subs[i] = packet.Subscription{TopicFilter: f}
	}
	pkt := &packet.UNSUBSCRIBE{PacketID: id, Subscriptions: subs}
	pkt.FixedHeader = &packet.FixedHeader{Version: c.opts.Version, Kind: UNSUBSCRIBE, QoS: 1}

	replyCh := c.registerReply(id)
	if err := conn.send(pkt, c.writeDeadline()); err != nil {
		c.unregisterReply(id)
		return nil, err
	}
	c.stat.PacketSent.Inc()

	select {
	case <-ctx.Done():
		c.unregisterReply(id)
		return nil, &TimeoutError{Operation: "unsubscribe"}
	case reply := <-replyCh:
		unsuback := reply.(*packet.UNSUBACK)
		results := make([]SubscribeResult, len(filters))
		for i, f := range filters {
			rc := packet.CodeSuccess
			if i < len(unsuback.ReasonCode) {
				rc = unsuback.ReasonCode[i]
			}
			results[i] = SubscribeResult{Filter: f, ReasonCode: rc}
			if rc.Code < 0x80 {
				c.subs.Remove(f)
			}
		}
		return results, nil
	}
}

// Disconnect sends a graceful DISCONNECT, persists session state if a
// Store is configured, and tears down the connection without
// triggering auto-reconnect.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	cancel := c.runCancel
	done := c.runDone
	c.state = StateClosed
	c.mu.Unlock()

	if conn != nil {
		dc := packet.NewDISCONNECT(c.opts.Version, packet.CodeDisconnect)
		_ = conn.send(dc, c.writeDeadline())
	}

	c.saveSession()
	c.closeClientOnce.Do(func() { close(c.closedCh) })

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return nil
}

func (c *Client) saveSession() {
	if c.opts.SessionStore == nil || c.opts.CleanSession {
		return
	}
	state := SessionState{Subscriptions: c.subs.Entries(), PendingQoS2: c.qos.PendingRel()}
	if err := c.opts.SessionStore.Save(c.opts.ClientID, state); err != nil {
		c.opts.logger().Printf("[MQTT_SESSION_SAVE_ERROR] client_id=%s error=%v", c.opts.ClientID, err)
	}
}

// reconnectWithBackoff retries connectOnce with exponential backoff
// and jitter until it succeeds, ctx is cancelled, or
// ReconnectPolicy.MaxAttempts is exhausted.
func (c *Client) reconnectWithBackoff(ctx context.Context) (*connection, <-chan error, bool) {
	policy := c.opts.ReconnectPolicy
	for attempt := 1; policy.MaxAttempts == 0 || attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, nil, false
		case <-time.After(jitter(backoffDelay(policy, attempt), policy.JitterFraction)):
		}

		conn, _, errCh, err := c.connectOnce(ctx)
		if err == nil {
			return conn, errCh, true
		}
		c.opts.logger().Printf("[MQTT_RECONNECT_FAILED] client_id=%s attempt=%d error=%v", c.opts.ClientID, attempt, err)
	}
	return nil, nil, false
}

// backoffDelay computes the attempt-th reconnect delay in
// milliseconds: min(max, base * 2^(attempt-1)), before jitter.
func backoffDelay(policy ReconnectPolicy, attempt int) int64 {
	delay := policy.BaseDelayMS
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= policy.MaxDelayMS {
			return policy.MaxDelayMS
		}
	}
	if delay > policy.MaxDelayMS {
		delay = policy.MaxDelayMS
	}
	return delay
}

func jitter(baseMS int64, fraction float64) time.Duration {
	if fraction <= 0 {
		return time.Duration(baseMS) * time.Millisecond
	}
	spread := float64(baseMS) * fraction
	delta := (rand.Float64()*2 - 1) * spread
	ms := float64(baseMS) + delta
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
