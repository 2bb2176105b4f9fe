// Package client speaks the filegate line protocol from the client side.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sheerbytes/filegate/internal/logging"
	"github.com/sheerbytes/filegate/internal/progress"
	"github.com/sheerbytes/filegate/internal/transport"
	"github.com/sheerbytes/filegate/pkg/protocol"
)

var (
	// ErrServer wraps an ERROR reply.
	ErrServer = errors.New("server error")
	// ErrInvalidName indicates a remote name the line protocol cannot carry.
	ErrInvalidName = errors.New("invalid remote name")
	// ErrShortTransfer indicates fewer bytes moved than were declared.
	ErrShortTransfer = errors.New("short transfer")
)

// ProgressFunc receives a snapshot at every whole MiB and on completion.
type ProgressFunc func(stats progress.Stats)

// Client is one session with a server. It is not safe for concurrent use.
type Client struct {
	conn   transport.Conn
	r      *bufio.Reader
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to target (see transport.Dial for the accepted forms).
func Dial(ctx context.Context, target string, logger *slog.Logger) (*Client, error) {
	conn, err := transport.Dial(ctx, target)
	if err != nil {
		return nil, err
	}
	return New(conn, logger), nil
}

// New wraps an established connection.
func New(conn transport.Conn, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		conn:   conn,
		r:      bufio.NewReaderSize(conn, protocol.ChunkSize),
		logger: logger,
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// guard closes the connection if ctx ends before the returned func is called.
// Blocked reads and writes then fail and the client is unusable.
func (c *Client) guard(ctx context.Context) func() {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	return func() { stop() }
}

func (c *Client) write(s string) error {
	if err := protocol.WriteFull(c.conn, []byte(s)); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	return nil
}

func (c *Client) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read reply: %w", err)
	}
	return line, nil
}

func serverErr(reply string) error {
	reason := strings.TrimSpace(strings.TrimPrefix(reply, protocol.ErrorPrefix))
	return fmt.Errorf("%w: %s", ErrServer, reason)
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, ":\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Send writes a free-text message and returns the reply as read in one go.
func (c *Client) Send(ctx context.Context, msg string) (string, error) {
	defer c.guard(ctx)()

	if err := c.write(msg); err != nil {
		return "", err
	}
	buf := make([]byte, protocol.MessageBufferSize)
	n, err := c.r.Read(buf)
	if err != nil {
		return "", fmt.Errorf("failed to read reply: %w", err)
	}
	return string(buf[:n]), nil
}

// List returns the regular files in the server's root.
func (c *Client) List(ctx context.Context) ([]protocol.Entry, error) {
	defer c.guard(ctx)()

	if err := c.write(protocol.ListLine()); err != nil {
		return nil, err
	}

	first, err := c.readLine()
	if err != nil {
		return nil, err
	}
	if protocol.IsError(first) {
		return nil, serverErr(first)
	}

	var b strings.Builder
	b.WriteString(first)
	for line := first; line != protocol.ListTerminator; {
		line, err = c.readLine()
		if err != nil {
			return nil, err
		}
		b.WriteString(line)
	}
	return protocol.ParseList(b.String())
}

// Upload sends size bytes from r as name.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader, size uint64, onProgress ProgressFunc) error {
	if err := checkName(name); err != nil {
		return err
	}
	defer c.guard(ctx)()

	if err := c.write(protocol.UploadLine(name, size)); err != nil {
		return err
	}
	reply, err := c.readLine()
	if err != nil {
		return err
	}
	if protocol.IsError(reply) {
		return serverErr(reply)
	}
	if strings.TrimRight(reply, "\r\n") != protocol.Ready {
		return fmt.Errorf("%w: %q", protocol.ErrMalformedReply, reply)
	}

	meter := progress.NewMeter(size)
	w := &meteredWriter{w: c.conn, meter: meter, onProgress: onProgress}
	n, err := io.CopyBuffer(w, io.LimitReader(r, int64(size)), make([]byte, protocol.ChunkSize))
	if err != nil {
		// the stream is out of step with the server now
		c.Close()
		return fmt.Errorf("failed to send %s: %w", name, err)
	}
	if !meter.Done() {
		c.Close()
		return fmt.Errorf("%w: sent %d of %d bytes, %d missing", ErrShortTransfer, n, size, meter.Remaining())
	}
	if size == 0 && onProgress != nil {
		onProgress(meter.Snapshot())
	}

	reply, err = c.readLine()
	if err != nil {
		return err
	}
	if protocol.IsError(reply) {
		return serverErr(reply)
	}
	if !protocol.IsSuccess(reply) {
		return fmt.Errorf("%w: %q", protocol.ErrMalformedReply, reply)
	}
	c.logger.Debug("uploaded", "file", name, "size", size)
	return nil
}

// UploadFile uploads the local file at local as remote. An empty remote uses
// the file's base name.
func (c *Client) UploadFile(ctx context.Context, local, remote string, onProgress ProgressFunc) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", local)
	}
	if remote == "" {
		remote = filepath.Base(local)
	}
	return c.Upload(ctx, remote, f, uint64(info.Size()), onProgress)
}

// UploadDir uploads every regular file below dir, naming each one by its
// slash-separated path relative to dir, under prefix when set. It returns the
// number of files uploaded.
func (c *Client) UploadDir(ctx context.Context, dir, prefix string, onFile func(remote string, stats progress.Stats)) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		remote := filepath.ToSlash(rel)
		if prefix != "" {
			remote = path.Join(prefix, remote)
		}

		var last progress.Stats
		if err := c.UploadFile(ctx, p, remote, func(s progress.Stats) { last = s }); err != nil {
			return fmt.Errorf("upload %s: %w", remote, err)
		}
		count++
		if onFile != nil {
			onFile(remote, last)
		}
		return nil
	})
	return count, err
}

// Download writes the remote file name to w and returns its size.
func (c *Client) Download(ctx context.Context, name string, w io.Writer, onProgress ProgressFunc) (uint64, error) {
	if err := checkName(name); err != nil {
		return 0, err
	}
	defer c.guard(ctx)()

	if err := c.write(protocol.DownloadLine(name)); err != nil {
		return 0, err
	}
	reply, err := c.readLine()
	if err != nil {
		return 0, err
	}
	if protocol.IsError(reply) {
		return 0, serverErr(reply)
	}
	size, err := protocol.ParseFileInfo(reply)
	if err != nil {
		return 0, err
	}

	if err := c.write(protocol.Ready); err != nil {
		return 0, err
	}

	meter := progress.NewMeter(size)
	mw := &meteredWriter{w: w, meter: meter, onProgress: onProgress}
	n, err := io.CopyN(mw, c.r, int64(size))
	if err != nil {
		c.Close()
		if errors.Is(err, io.EOF) {
			return uint64(n), fmt.Errorf("%w: received %d of %d bytes, %d missing", ErrShortTransfer, n, size, meter.Remaining())
		}
		return uint64(n), fmt.Errorf("failed to receive %s: %w", name, err)
	}
	if size == 0 && onProgress != nil {
		onProgress(meter.Snapshot())
	}
	c.logger.Debug("downloaded", "file", name, "size", size)
	return size, nil
}

// DownloadFile downloads name into dir, keeping only its base name, and
// returns the local path. A failed download leaves no file behind.
func (c *Client) DownloadFile(ctx context.Context, name, dir string, onProgress ProgressFunc) (string, error) {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	dest := filepath.Join(dir, base)

	tmp, err := os.CreateTemp(dir, "."+base+".part-*")
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := c.Download(ctx, name, tmp, onProgress); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}
	return dest, nil
}

type meteredWriter struct {
	w          io.Writer
	meter      *progress.Meter
	onProgress ProgressFunc
}

func (m *meteredWriter) Write(p []byte) (int, error) {
	n, err := m.w.Write(p)
	if m.meter.Add(n) && m.onProgress != nil {
		m.onProgress(m.meter.Snapshot())
	}
	return n, err
}
