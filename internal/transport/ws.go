package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
)

// WebSocketPath is where sessions are upgraded.
const WebSocketPath = "/ws"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

// WebSocketListener serves HTTP on its own socket and turns every upgraded
// request on WebSocketPath into a session connection.
type WebSocketListener struct {
	ln     net.Listener
	srv    *http.Server
	conns  chan Conn
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// ListenWebSocket binds addr and starts serving upgrades in the background.
func ListenWebSocket(ctx context.Context, addr string, logger *slog.Logger) (*WebSocketListener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	l := &WebSocketListener{
		ln:     ln,
		conns:  make(chan Conn),
		done:   make(chan struct{}),
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, l.handleUpgrade)

	l.srv = &http.Server{
		Handler:           HTTPMiddleware(mux, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("websocket server stopped", "error", err)
		}
	}()
	return l, nil
}

// HTTPMiddleware wraps h with panic recovery and request logging.
func HTTPMiddleware(h http.Handler, logger *slog.Logger) http.Handler {
	logged := handlers.CustomLoggingHandler(io.Discard, h, func(_ io.Writer, p handlers.LogFormatterParams) {
		logger.Debug("http request",
			"method", p.Request.Method,
			"path", p.URL.Path,
			"status", p.StatusCode,
			"size", p.Size,
			"remote_addr", p.Request.RemoteAddr,
		)
	})
	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{logger}))(logged)
}

type recoveryLogger struct {
	logger *slog.Logger
}

func (r recoveryLogger) Println(v ...interface{}) {
	r.logger.Error("http handler panic", "detail", fmt.Sprint(v...))
}

func (l *WebSocketListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	c := &wsConn{conn: ws}
	select {
	case l.conns <- c:
	case <-l.done:
		c.Close()
	}
}

// Accept waits for the next upgraded connection.
func (l *WebSocketListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *WebSocketListener) Addr() net.Addr { return l.ln.Addr() }

// Close stops the HTTP server. Sessions already accepted stay open.
func (l *WebSocketListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}

func (l *WebSocketListener) Name() string { return NameWebSocket }

// DialWebSocket connects to a ws:// or wss:// URL.
func DialWebSocket(ctx context.Context, url string) (Conn, error) {
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("websocket upgrade failed (%d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &wsConn{conn: ws}, nil
}

// wsConn presents a WebSocket as a byte stream. Each Write is one binary
// message; reads drain messages in order and may span message boundaries
// only when the caller's buffer is smaller than a message.
type wsConn struct {
	conn *websocket.Conn

	readMu sync.Mutex
	reader io.Reader

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if c.reader == nil {
			_, r, err := c.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
