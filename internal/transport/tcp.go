package transport

import (
	"context"
	"fmt"
	"net"
)

// TCPListener accepts TCP connections.
type TCPListener struct {
	ln net.Listener
}

// ListenTCP binds addr with SO_REUSEADDR set on the socket.
func ListenTCP(ctx context.Context, addr string) (*TCPListener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &TCPListener{ln: ln}, nil
}

// Accept waits for the next connection. The context is only checked before
// blocking; Close unblocks a pending Accept.
func (l *TCPListener) Accept(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return newOnceConn(c), nil
}

func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }

func (l *TCPListener) Close() error { return l.ln.Close() }

func (l *TCPListener) Name() string { return NameTCP }
