package mqtt

import (
	"context"
	"crypto/tls"
	"log"

	"github.com/golang-io/requests"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wireproto/mqttc/packet"
)

// Will describes the message a broker publishes on the client's
// behalf if the connection terminates abnormally [MQTT-3.1.2-8].
type Will struct {
	Topic      string
	Payload    []byte
	QoS        uint8
	Retain     bool
	Properties map[string][]string // v5 user-properties only; other will properties are left to the broker defaults
}

// ReconnectPolicy configures the exponential-backoff retry loop the
// connection manager runs after an abnormal disconnect.
type ReconnectPolicy struct {
	MaxAttempts    int     // 0 means unlimited
	BaseDelayMS    int64   // delay before the first retry
	MaxDelayMS     int64   // backoff ceiling
	JitterFraction float64 // e.g. 0.2 applies +/-20% jitter
}

// DefaultReconnectPolicy is a conservative backoff: 1s base, 30s
// ceiling, +/-20% jitter.
var DefaultReconnectPolicy = ReconnectPolicy{
	MaxAttempts:    0,
	BaseDelayMS:    1000,
	MaxDelayMS:     30000,
	JitterFraction: 0.2,
}

// ClientOptions is the immutable configuration for a Client. It is
// built with New() plus a chain of With* derivations, each of which
// returns a modified copy rather than mutating the receiver, so a
// base options value can be shared and forked freely between
// clients.
type ClientOptions struct {
	Host    string
	Port    int
	Version byte // packet.VERSION311 or packet.VERSION500

	ClientID         string
	KeepAliveSeconds uint16
	CleanSession     bool
	Username         string
	Password         string

	TLS       bool
	TLSConfig *tls.Config

	// Scheme selects the transport: "tcp" (default), "tls", "ws", or
	// "wss". Left empty, it resolves from TLS. Set explicitly to run
	// over WebSocket (golang.org/x/net/websocket).
	Scheme string

	Will *Will

	// SessionExpirySeconds is a v5-only property. nil means the
	// property is omitted from CONNECT entirely, distinct from the
	// explicit value 0 (expire immediately on disconnect).
	SessionExpirySeconds *uint32

	AutoReconnect   bool
	ReconnectPolicy ReconnectPolicy

	// OutboundTopicAliasMaximum bounds how many outbound topic aliases
	// this client will assign; 0 disables outbound aliasing.
	OutboundTopicAliasMaximum uint16

	// ReceiveMaximum bounds outstanding QoS>=1 exchanges this client
	// will accept from the broker; 1..65535, default 65535.
	ReceiveMaximum uint16

	// Filters is an optional allow-list of topic-filter patterns; an
	// empty list disables filtering and every inbound PUBLISH is
	// delivered (see filters.go).
	Filters []string

	SessionStore Store

	// DialContext, if non-nil, replaces the built-in transport dialing.
	// Tests use it to splice in a net.Pipe() double instead of a real
	// socket.
	DialContext func(ctx context.Context) (Transport, error)

	Logger *log.Logger

	// MetricsRegisterer, if non-nil, is where the client's prometheus
	// metrics (stat.go) are registered. Left nil, metrics are created
	// but never exposed.
	MetricsRegisterer prometheus.Registerer

	// ConnectTimeoutMS bounds the CONNECT/CONNACK handshake.
	ConnectTimeoutMS int64

	// AdmissionTimeoutMS bounds how long Publish blocks waiting for a
	// free flow-control slot before returning a Timeout error.
	AdmissionTimeoutMS int64
}

// New builds a ClientOptions with working defaults: an auto-generated
// client-id ("mqtt-" + requests.GenId()), protocol 3.1.1, clean
// sessions, and a 60s keep-alive.
func New(host string, port int) ClientOptions {
	return ClientOptions{
		Host:               host,
		Port:               port,
		Version:            packet.VERSION311,
		ClientID:           "mqtt-" + requests.GenId(),
		KeepAliveSeconds:   60,
		CleanSession:       true,
		ReceiveMaximum:     65535,
		ReconnectPolicy:    DefaultReconnectPolicy,
		Logger:             log.Default(),
		ConnectTimeoutMS:   10000,
		AdmissionTimeoutMS: 5000,
	}
}

func (o ClientOptions) WithClientID(id string) ClientOptions {
	o.ClientID = id
	return o
}

// WithUUIDClientID derives the client-id from google/uuid instead of
// the default requests.GenId() scheme, for callers who want RFC 4122
// identifiers (e.g. for correlation with other services that already
// key on uuid strings).
func (o ClientOptions) WithUUIDClientID() ClientOptions {
	o.ClientID = "mqtt-" + uuid.NewString()
	return o
}

func (o ClientOptions) WithVersion(version byte) ClientOptions {
	o.Version = version
	return o
}

func (o ClientOptions) WithKeepAlive(seconds uint16) ClientOptions {
	o.KeepAliveSeconds = seconds
	return o
}

func (o ClientOptions) WithCleanSession(clean bool) ClientOptions {
	o.CleanSession = clean
	return o
}

func (o ClientOptions) WithAuth(username, password string) ClientOptions {
	o.Username = username
	o.Password = password
	return o
}

func (o ClientOptions) WithTLS(cfg *tls.Config) ClientOptions {
	o.TLS = true
	o.TLSConfig = cfg
	return o
}

// WithScheme overrides transport selection, e.g. "ws" or "wss" to run
// over WebSocket instead of a raw TCP/TLS socket.
func (o ClientOptions) WithScheme(scheme string) ClientOptions {
	o.Scheme = scheme
	return o
}

func (o ClientOptions) scheme() string {
	if o.Scheme != "" {
		return o.Scheme
	}
	if o.TLS {
		return "tls"
	}
	return "tcp"
}

func (o ClientOptions) WithWill(will Will) ClientOptions {
	o.Will = &will
	return o
}

func (o ClientOptions) WithSessionExpiry(seconds uint32) ClientOptions {
	o.SessionExpirySeconds = &seconds
	return o
}

func (o ClientOptions) WithAutoReconnect(policy ReconnectPolicy) ClientOptions {
	o.AutoReconnect = true
	o.ReconnectPolicy = policy
	return o
}

func (o ClientOptions) WithOutboundTopicAliasMaximum(max uint16) ClientOptions {
	o.OutboundTopicAliasMaximum = max
	return o
}

func (o ClientOptions) WithReceiveMaximum(max uint16) ClientOptions {
	if max == 0 {
		max = 65535
	}
	o.ReceiveMaximum = max
	return o
}

func (o ClientOptions) WithFilters(filters ...string) ClientOptions {
	o.Filters = append([]string(nil), filters...)
	return o
}

func (o ClientOptions) WithSessionStore(store Store) ClientOptions {
	o.SessionStore = store
	return o
}

func (o ClientOptions) WithDialContext(dial func(ctx context.Context) (Transport, error)) ClientOptions {
	o.DialContext = dial
	return o
}

func (o ClientOptions) WithLogger(logger *log.Logger) ClientOptions {
	o.Logger = logger
	return o
}

func (o ClientOptions) WithMetricsRegisterer(reg prometheus.Registerer) ClientOptions {
	o.MetricsRegisterer = reg
	return o
}

// PublishOptions configures a single Publish call.
type PublishOptions struct {
	QoS        uint8
	Retain     bool
	Properties map[string][]string // v5 user-properties
}

// SubscribeOptions configures a single filter within a Subscribe call.
// Only meaningful for v5 connections; ignored (zero values sent) for
// v3.1.1 where the wire format has no room for them.
type SubscribeOptions struct {
	QoS               uint8
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    uint8
}

func (o ClientOptions) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}
