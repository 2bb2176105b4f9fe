// Package transfer executes parsed FILE: commands against the file root,
// writing every reply and moving raw file bytes over the connection.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sheerbytes/filegate/internal/bufpool"
	"github.com/sheerbytes/filegate/internal/logging"
	"github.com/sheerbytes/filegate/internal/metrics"
	"github.com/sheerbytes/filegate/internal/progress"
	"github.com/sheerbytes/filegate/pkg/protocol"
)

var (
	// ErrTransport wraps read and write failures on the connection. The
	// session cannot continue after one.
	ErrTransport = errors.New("transport error")
	// ErrNotFound indicates a download target that is missing, unreadable or not a regular file.
	ErrNotFound = errors.New("file not found")
	// ErrNotConfirmed indicates the client answered FILE_INFO without READY.
	ErrNotConfirmed = errors.New("download not confirmed")
	// ErrAborted indicates a transfer stopped before all declared bytes moved.
	ErrAborted = errors.New("transfer aborted")
	// ErrInvalidCommand indicates a command rejected by the parser.
	ErrInvalidCommand = errors.New("invalid file command")
)

// Engine serves LIST, UPLOAD and DOWNLOAD for one file root. It holds no
// per-connection state and is safe for concurrent use.
type Engine struct {
	root   string
	logger *slog.Logger
	chunks *bufpool.Pool
}

// NewEngine returns an engine rooted at root.
func NewEngine(root string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{
		root:   root,
		logger: logger,
		chunks: bufpool.New(protocol.ChunkSize),
	}
}

// Root is the directory the engine serves.
func (e *Engine) Root() string {
	return e.root
}

// Execute runs cmd against the connection. The returned error is nil when the
// command succeeded; failures the client was told about are still returned so
// the caller can log them. Errors wrapping ErrTransport or ErrAborted mean the
// connection is no longer usable.
func (e *Engine) Execute(ctx context.Context, rw io.ReadWriter, cmd protocol.Command) error {
	start := time.Now()

	var err error
	switch cmd.Action {
	case protocol.List:
		err = e.List(ctx, rw)
	case protocol.Upload:
		err = e.Upload(ctx, rw, cmd.Filename, cmd.Size)
	case protocol.Download:
		err = e.Download(ctx, rw, cmd.Filename)
	default:
		reason := cmd.Reason
		if reason == "" {
			reason = protocol.ReasonBadFormat
		}
		err = e.reject(rw, reason)
	}

	metrics.RecordCommand(cmd.Action.String(), commandResult(err), time.Since(start))
	return err
}

func (e *Engine) reject(w io.Writer, reason string) error {
	if err := writeString(w, protocol.ErrorLine(reason)); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrInvalidCommand, reason)
}

// fail tells the client msg and returns cause, unless the reply itself could
// not be written.
func (e *Engine) fail(w io.Writer, msg string, cause error) error {
	if err := writeString(w, protocol.ErrorLine(msg)); err != nil {
		return err
	}
	return cause
}

func (e *Engine) logProgress(op, name string, m *progress.Meter) {
	s := m.Snapshot()
	e.logger.Debug("transfer progress",
		"op", op,
		"file", name,
		"bytes", s.Transferred,
		"total", s.Total,
		"percent", fmt.Sprintf("%.1f", s.Percent),
		"rate_bps", int64(s.RateBps),
	)
}

func commandResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, ErrInvalidCommand):
		return metrics.ResultInvalid
	default:
		return metrics.ResultError
	}
}
