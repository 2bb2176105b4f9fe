// Package inventory tracks how many regular files sit directly under the
// file root.
package inventory

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Count returns the number of regular files directly under dir. A missing
// directory counts as empty.
func Count(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() {
			n++
		}
	}
	return n, nil
}

// Watcher recounts dir whenever an entry is created, removed or renamed and
// reports the new count.
type Watcher struct {
	dir      string
	logger   *slog.Logger
	onChange func(int)
	fsw      *fsnotify.Watcher

	closeOnce sync.Once
	done      chan struct{}
}

// Watch starts watching dir. onChange is called once with the initial count
// and again after every change, always from the same goroutine.
func Watch(dir string, logger *slog.Logger, onChange func(int)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w := &Watcher{
		dir:      dir,
		logger:   logger,
		onChange: onChange,
		fsw:      fsw,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)

	last := -1
	report := func() {
		n, err := Count(w.dir)
		if err != nil {
			w.logger.Warn("failed to count files", "dir", w.dir, "error", err)
			return
		}
		if n != last {
			last = n
			w.onChange(n)
		}
	}
	report()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				report()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "dir", w.dir, "error", err)
		}
	}
}

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fsw.Close()
		<-w.done
	})
	return err
}
