// Package transport provides the listening endpoints a server accepts
// sessions on. Every endpoint yields plain byte-stream connections.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
)

// Transport names, used in logs and metric labels.
const (
	NameTCP       = "tcp"
	NameQUIC      = "quic"
	NameWebSocket = "ws"
)

// Conn is a byte-stream connection owned by one session. Close is idempotent.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

// Listener accepts connections until closed. After Close, blocked and future
// Accept calls return net.ErrClosed.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
	Name() string
}

// Dial connects to target. A "quic://host:port" target uses QUIC, a
// "ws://" or "wss://" URL uses WebSocket, and anything else is a TCP address.
func Dial(ctx context.Context, target string) (Conn, error) {
	switch {
	case strings.HasPrefix(target, "quic://"):
		return DialQUIC(ctx, strings.TrimPrefix(target, "quic://"), ClientTLSConfig())
	case strings.HasPrefix(target, "ws://"), strings.HasPrefix(target, "wss://"):
		return DialWebSocket(ctx, target)
	default:
		var d net.Dialer
		c, err := d.DialContext(ctx, "tcp", strings.TrimPrefix(target, "tcp://"))
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", target, err)
		}
		return newOnceConn(c), nil
	}
}

// onceConn makes Close on a net.Conn idempotent.
type onceConn struct {
	net.Conn
	once sync.Once
	err  error
}

func newOnceConn(c net.Conn) *onceConn {
	return &onceConn{Conn: c}
}

func (c *onceConn) Close() error {
	c.once.Do(func() {
		c.err = c.Conn.Close()
	})
	return c.err
}
