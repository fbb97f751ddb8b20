package network

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/physync/internal/core/systems/physics"
)

const (
	// ALPN is the protocol negotiated on QUIC connections.
	ALPN         = "physync"
	maxFrameSize = 16 << 20
	writeWait    = 5 * time.Second
)

// Conn is a message-oriented, bidirectional connection. ReadMessage is
// called from one goroutine; WriteMessage may be called concurrently.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens a Conn to the state source.
type Dialer func(ctx context.Context, cfg physics.NetworkConfig) (Conn, error)

// Dial selects the transport by URL scheme: ws, wss or quic.
func Dial(ctx context.Context, cfg physics.NetworkConfig) (Conn, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse network url")
	}
	if cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.HandshakeTimeout)
		defer cancel()
	}
	switch u.Scheme {
	case "ws", "wss":
		return dialWebsocket(ctx, cfg)
	case "quic":
		return dialQUIC(ctx, u.Host, cfg)
	default:
		return nil, errors.Errorf("unsupported url scheme %q", u.Scheme)
	}
}

type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func dialWebsocket(ctx context.Context, cfg physics.NetworkConfig) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec // opt-in for development servers
	}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", cfg.URL)
	}
	return &wsConn{conn: conn}, nil
}

func newWSConn(conn *websocket.Conn) *wsConn { return &wsConn{conn: conn} }

// ReadMessage blocks until a message arrives or the connection closes.
func (c *wsConn) ReadMessage(context.Context) ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}

// quicConn carries length-prefixed frames over one bidirectional stream.
type quicConn struct {
	conn   *quic.Conn
	stream *quic.Stream
	wmu    sync.Mutex
	header [4]byte
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

// ListenQUIC opens a QUIC listener for a Publisher using a self-signed
// certificate.
func ListenQUIC(addr string) (*quic.Listener, error) {
	tlsConf, err := SelfSignedTLS()
	if err != nil {
		return nil, err
	}
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, errors.Wrap(err, "listen quic")
	}
	return ln, nil
}

func dialQUIC(ctx context.Context, addr string, cfg physics.NetworkConfig) (Conn, error) {
	tlsConf := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for development servers
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return nil, errors.Wrapf(err, "dial quic %s", addr)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream")
		return nil, errors.Wrap(err, "open quic stream")
	}
	c := &quicConn{conn: conn, stream: stream}
	// the peer only sees the stream once data is written on it
	if err := c.WriteMessage(ctx, nil); err != nil {
		_ = c.Close()
		return nil, errors.Wrap(err, "quic hello")
	}
	return c, nil
}

// acceptQUIC waits for the client stream of an accepted connection and
// consumes its hello frame.
func acceptQUIC(ctx context.Context, conn *quic.Conn) (*quicConn, error) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "accept quic stream")
	}
	c := &quicConn{conn: conn, stream: stream}
	if _, err := c.ReadMessage(ctx); err != nil {
		return nil, errors.Wrap(err, "quic hello")
	}
	return c, nil
}

func (c *quicConn) ReadMessage(context.Context) ([]byte, error) {
	if _, err := io.ReadFull(c.stream, c.header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(c.header[:])
	if n > maxFrameSize {
		return nil, errors.Errorf("frame of %d bytes exceeds limit", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(c.stream, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *quicConn) WriteMessage(_ context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.stream.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)
	_, err := c.stream.Write(frame)
	return err
}

func (c *quicConn) Close() error {
	_ = c.stream.Close()
	return c.conn.CloseWithError(0, "closed")
}
