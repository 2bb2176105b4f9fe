package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/sheerbytes/filegate/pkg/protocol"
)

// List writes the framed listing of regular files directly under the root.
// A missing root lists as empty.
func (e *Engine) List(ctx context.Context, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := e.Entries()
	if err != nil {
		e.logger.Error("failed to list files", "root", e.root, "error", err)
		return e.fail(w, protocol.MsgListFailed, fmt.Errorf("failed to list files: %w", err))
	}

	if err := writeString(w, protocol.FormatList(entries)); err != nil {
		return err
	}
	e.logger.Debug("listed files", "count", len(entries))
	return nil
}

// Entries returns the regular files directly under the root, sorted by name.
func (e *Engine) Entries() ([]protocol.Entry, error) {
	dirents, err := os.ReadDir(e.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	entries := make([]protocol.Entry, 0, len(dirents))
	for _, d := range dirents {
		if !d.Type().IsRegular() {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		entries = append(entries, protocol.Entry{Name: d.Name(), Size: uint64(info.Size())})
	}
	return entries, nil
}
