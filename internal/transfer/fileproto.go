package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sheerbytes/filegate/internal/fsroot"
	"github.com/sheerbytes/filegate/internal/metrics"
	"github.com/sheerbytes/filegate/internal/progress"
	"github.com/sheerbytes/filegate/pkg/protocol"
)

// Upload receives exactly size raw bytes into name under the root.
//
// The target is opened before READY is sent, so an unwritable target is
// reported without the client ever sending data. A disk write error does not
// stop the read loop: the declared bytes are still drained so the next
// command starts at a message boundary.
func (e *Engine) Upload(ctx context.Context, rw io.ReadWriter, name string, size uint64) error {
	path, err := fsroot.Resolve(e.root, name, e.logger)
	if err != nil {
		e.logger.Warn("upload rejected", "file", name, "error", err)
		return e.fail(rw, protocol.MsgUploadFailed, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		e.logger.Error("failed to create file", "path", path, "error", err)
		return e.fail(rw, protocol.MsgUploadFailed, fmt.Errorf("failed to create file: %w", err))
	}

	if err := writeString(rw, protocol.Ready+"\n"); err != nil {
		f.Close()
		e.remove(path)
		return err
	}
	e.logger.Info("upload started", "file", name, "size", size)

	diskErr, readErr := e.receive(ctx, rw, f, name, size)
	closeErr := f.Close()

	if readErr != nil {
		e.remove(path)
		e.logger.Warn("upload aborted", "file", name, "error", readErr)
		// best effort; the peer is usually gone
		_ = writeString(rw, protocol.ErrorLine(protocol.MsgUploadFailed))
		return fmt.Errorf("%w: %w", ErrAborted, readErr)
	}
	if diskErr == nil && closeErr != nil {
		diskErr = fmt.Errorf("failed to close file: %w", closeErr)
	}
	if diskErr != nil {
		e.remove(path)
		e.logger.Error("upload failed", "file", name, "error", diskErr)
		return e.fail(rw, protocol.MsgUploadFailed, diskErr)
	}

	if err := writeString(rw, protocol.SuccessLine(protocol.MsgUploadOK)); err != nil {
		return err
	}
	e.logger.Info("upload complete", "file", name, "size", size)
	return nil
}

// receive reads size bytes from r in chunks and writes them to f. The first
// disk error is returned as diskErr while reading continues; readErr ends the
// loop.
func (e *Engine) receive(ctx context.Context, r io.Reader, f *os.File, name string, size uint64) (diskErr, readErr error) {
	buf := e.chunks.Get()
	defer e.chunks.Put(buf)

	meter := progress.NewMeter(size)
	remaining := size

	for remaining > 0 {
		// Check context cancellation
		if err := ctx.Err(); err != nil {
			return diskErr, err
		}

		want := uint64(len(buf))
		if remaining < want {
			want = remaining
		}
		n, err := r.Read(buf[:want])
		if n > 0 {
			if diskErr == nil {
				if _, werr := f.Write(buf[:n]); werr != nil {
					diskErr = fmt.Errorf("failed to write file: %w", werr)
					e.logger.Error("write failed, draining upload", "file", name, "remaining", remaining-uint64(n), "error", werr)
				}
			}
			remaining -= uint64(n)
			metrics.AddBytesUploaded(n)
			if meter.Add(n) {
				e.logProgress("upload", name, meter)
			}
		}
		if err != nil {
			if remaining == 0 {
				break
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return diskErr, transportErr("read upload data", err)
		}
	}
	if size == 0 {
		// empty files complete without a single Add
		e.logProgress("upload", name, meter)
	}
	return diskErr, nil
}

// Download announces the size of name, waits for the client to confirm with
// READY, then streams the raw bytes. Nothing is written after the data.
func (e *Engine) Download(ctx context.Context, rw io.ReadWriter, name string) error {
	path, err := fsroot.Resolve(e.root, name, e.logger)
	if err != nil {
		e.logger.Warn("download rejected", "file", name, "error", err)
		return e.fail(rw, protocol.MsgDownloadFailed, fmt.Errorf("%w: %w", ErrNotFound, err))
	}

	f, err := os.Open(path)
	if err != nil {
		e.logger.Warn("failed to open file", "path", path, "error", err)
		return e.fail(rw, protocol.MsgDownloadFailed, fmt.Errorf("%w: %w", ErrNotFound, err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return e.fail(rw, protocol.MsgDownloadFailed, fmt.Errorf("%w: failed to stat file: %w", ErrNotFound, err))
	}
	if !info.Mode().IsRegular() {
		e.logger.Warn("not a regular file", "path", path)
		return e.fail(rw, protocol.MsgDownloadFailed, fmt.Errorf("%w: %s is not a regular file", ErrNotFound, name))
	}
	size := uint64(info.Size())

	if err := writeString(rw, protocol.FileInfoLine(size)); err != nil {
		return err
	}

	reply, err := readMessage(rw)
	if err != nil {
		return err
	}
	if !protocol.ConfirmsReady(reply) {
		e.logger.Warn("download not confirmed", "file", name)
		return e.fail(rw, protocol.MsgDownloadFailed, ErrNotConfirmed)
	}

	e.logger.Info("download started", "file", name, "size", size)
	if err := e.send(ctx, rw, f, name, size); err != nil {
		e.logger.Warn("download aborted", "file", name, "error", err)
		return err
	}
	e.logger.Info("download complete", "file", name, "size", size)
	return nil
}

// send streams exactly size bytes of f. Bytes appended after the size was
// announced are not sent; a file that shrank aborts the transfer.
func (e *Engine) send(ctx context.Context, w io.Writer, f *os.File, name string, size uint64) error {
	buf := e.chunks.Get()
	defer e.chunks.Put(buf)

	meter := progress.NewMeter(size)
	src := io.LimitReader(f, int64(size))
	var sent uint64

	for sent < size {
		// Check context cancellation
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrAborted, err)
		}

		n, err := src.Read(buf)
		if n > 0 {
			if werr := writeFull(w, buf[:n]); werr != nil {
				return fmt.Errorf("%w: %w", ErrAborted, transportErr("write download data", werr))
			}
			sent += uint64(n)
			metrics.AddBytesDownloaded(n)
			if meter.Add(n) {
				e.logProgress("download", name, meter)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: failed to read file: %w", ErrAborted, err)
		}
	}

	if sent < size {
		return fmt.Errorf("%w: file shrank to %d of %d bytes", ErrAborted, sent, size)
	}
	if size == 0 {
		e.logProgress("download", name, meter)
	}
	return nil
}

func (e *Engine) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.logger.Error("failed to remove partial file", "path", path, "error", err)
	}
}
