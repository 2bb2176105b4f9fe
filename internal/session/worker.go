package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/sheerbytes/filegate/internal/logging"
	"github.com/sheerbytes/filegate/internal/metrics"
	"github.com/sheerbytes/filegate/internal/transfer"
	"github.com/sheerbytes/filegate/pkg/protocol"
)

// Executor runs parsed file commands on a connection.
type Executor interface {
	Execute(ctx context.Context, rw io.ReadWriter, cmd protocol.Command) error
}

// Worker owns one connection for its whole life.
type Worker struct {
	conn    io.ReadWriteCloser
	peer    Peer
	handler Handler
	files   Executor
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewWorker creates a worker. files must not be nil; a nil handler falls
// back to Echo.
func NewWorker(conn io.ReadWriteCloser, peer Peer, handler Handler, files Executor, logger *slog.Logger) *Worker {
	if handler == nil {
		handler = Echo
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Worker{
		conn:    conn,
		peer:    peer,
		handler: handler,
		files:   files,
		logger:  logger,
	}
}

// Run reads messages until the peer disconnects, the handler ends the
// session, or a transport error occurs. The connection is closed before Run
// returns. A nil error means the session ended normally.
func (w *Worker) Run(ctx context.Context) error {
	defer w.Close()

	buf := make([]byte, protocol.MessageBufferSize)
	for {
		n, err := w.conn.Read(buf)
		if n > 0 {
			end, derr := w.dispatch(ctx, string(buf[:n]))
			if derr != nil {
				return derr
			}
			if end {
				w.logger.Info("session ended by handler")
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				w.logger.Info("client disconnected")
				return nil
			}
			return fmt.Errorf("read message: %w: %w", transfer.ErrTransport, err)
		}
		if n == 0 {
			w.logger.Info("client disconnected")
			return nil
		}
	}
}

// Close closes the connection once.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

func (w *Worker) dispatch(ctx context.Context, raw string) (end bool, err error) {
	// a bare line ending still gets a reply
	msg := strings.TrimRight(raw, "\r\n")

	if protocol.IsFileCommand(msg) {
		return false, w.runFileCommand(ctx, msg)
	}

	metrics.MessageHandled()
	w.logger.Debug("message received", "bytes", len(msg))

	reply := w.handler.Handle(ctx, w.peer, msg)
	if reply.Text != "" {
		if err := protocol.WriteFull(w.conn, []byte(reply.Text)); err != nil {
			return true, fmt.Errorf("write reply: %w: %w", transfer.ErrTransport, err)
		}
	}
	return reply.Close, nil
}

func (w *Worker) runFileCommand(ctx context.Context, msg string) error {
	cmd := protocol.ParseCommand(msg)
	w.logger.Info("file command", "action", cmd.Action.String(), "file", cmd.Filename, "size", cmd.Size)
	err := w.files.Execute(ctx, w.conn, cmd)
	switch {
	case err == nil:
		return nil
	case endsSession(err):
		return err
	case errors.Is(err, transfer.ErrInvalidCommand):
		w.logger.Warn("invalid file command", "reason", cmd.Reason)
	default:
		w.logger.Warn("file command failed", "action", cmd.Action.String(), "file", cmd.Filename, "error", err)
	}
	return nil
}

// endsSession reports whether err leaves the connection unusable.
func endsSession(err error) bool {
	return errors.Is(err, transfer.ErrTransport) ||
		errors.Is(err, transfer.ErrAborted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
