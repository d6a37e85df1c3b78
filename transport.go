package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	"golang.org/x/net/websocket"
)

// Transport is the opaque byte-stream contract the client runs over:
// read with a deadline, write-all, close. The wire codec and
// connection manager never see a net.Conn directly, only this
// interface, so a WebSocket or an in-memory net.Pipe() double is
// interchangeable with a real TCP/TLS dial.
type Transport interface {
	ReadExact(buf []byte, deadline time.Time) error
	WriteAll(b []byte, deadline time.Time) error
	Close() error
	RemoteAddr() string
}

// netTransport adapts a net.Conn (plain TCP, tls.Conn, or the
// websocket.Conn returned by golang.org/x/net/websocket, which also
// satisfies net.Conn) to the Transport contract.
type netTransport struct {
	conn net.Conn
}

func (t *netTransport) ReadExact(buf []byte, deadline time.Time) error {
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	_, err := readFull(t.conn, buf)
	return err
}

func (t *netTransport) WriteAll(b []byte, deadline time.Time) error {
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := t.conn.Write(b)
	return err
}

func (t *netTransport) Close() error { return t.conn.Close() }

func (t *netTransport) RemoteAddr() string {
	if ra := t.conn.RemoteAddr(); ra != nil {
		return ra.String()
	}
	return ""
}

func readFull(r net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// dial opens a Transport to host:port for the given options: plain
// TCP, TLS, or WebSocket (binary frames, "mqtt" subprotocol) via
// golang.org/x/net/websocket. scheme is one of "tcp", "tls", "ws",
// "wss".
func dial(ctx context.Context, scheme, host string, port int, opts ClientOptions) (Transport, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	switch scheme {
	case "", "tcp":
		conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return &netTransport{conn: conn}, nil
	case "tls":
		dialer := &tls.Dialer{Config: opts.TLSConfig}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return &netTransport{conn: conn}, nil
	case "ws", "wss":
		loc := &url.URL{Scheme: scheme, Host: addr, Path: "/mqtt"}
		originScheme := "http"
		if scheme == "wss" {
			originScheme = "https"
		}
		origin := &url.URL{Scheme: originScheme, Host: addr}

		cfg, err := websocket.NewConfig(loc.String(), origin.String())
		if err != nil {
			return nil, err
		}
		cfg.Protocol = []string{"mqtt"}
		if scheme == "wss" {
			cfg.TlsConfig = opts.TLSConfig
		}
		ws, err := websocket.DialConfig(cfg)
		if err != nil {
			return nil, err
		}
		ws.PayloadType = websocket.BinaryFrame
		return &netTransport{conn: ws}, nil
	default:
		return nil, fmt.Errorf("mqtt: unknown transport scheme %q", scheme)
	}
}
