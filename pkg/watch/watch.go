// Package watch re-detects the intensity range of open stacks when their
// files change on disk.
//
// Events are read from fsnotify, but Rescan always runs on the goroutine
// calling Next, so frame stores stay single-threaded.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Next after Close
var ErrClosed = errors.New("watcher closed")

// Rescanner is implemented by *framestore.FrameStore
type Rescanner interface {
	Rescan() error
}

// Watcher tracks stack files. Directories are watched rather than the files
// themselves so that files replaced by rename are still seen.
type Watcher struct {
	fs      *fsnotify.Watcher
	targets map[string]Rescanner
	dirs    map[string]int
	log     *logrus.Entry
}

// New starts an fsnotify watcher
func New() (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	return &Watcher{
		fs:      fs,
		targets: make(map[string]Rescanner),
		dirs:    make(map[string]int),
		log:     logrus.WithField("component", "watch"),
	}, nil
}

// Add rescans r whenever the file at path is written or recreated
func (w *Watcher) Add(path string, r Rescanner) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, ok := w.targets[abs]; ok {
		w.targets[abs] = r
		return nil
	}

	dir := filepath.Dir(abs)
	if w.dirs[dir] == 0 {
		if err := w.fs.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.targets[abs] = r
	w.log.WithField("path", abs).Debug("watching stack")
	return nil
}

// Remove stops tracking path
func (w *Watcher) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, ok := w.targets[abs]; !ok {
		return nil
	}
	delete(w.targets, abs)

	dir := filepath.Dir(abs)
	w.dirs[dir]--
	if w.dirs[dir] > 0 {
		return nil
	}
	delete(w.dirs, dir)
	return w.fs.Remove(dir)
}

// Len returns the number of tracked files
func (w *Watcher) Len() int {
	return len(w.targets)
}

// Next blocks until a tracked file is written or created, rescans it and
// returns its path together with the rescan error.
func (w *Watcher) Next(ctx context.Context) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return "", ErrClosed
			}
			w.log.WithError(err).Warn("file watcher error")
		case ev, ok := <-w.fs.Events:
			if !ok {
				return "", ErrClosed
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			path := filepath.Clean(ev.Name)
			r, tracked := w.targets[path]
			if !tracked {
				continue
			}
			w.log.WithFields(logrus.Fields{"path": path, "op": ev.Op.String()}).Debug("stack changed")
			return path, r.Rescan()
		}
	}
}

// Close stops the watcher
func (w *Watcher) Close() error {
	return w.fs.Close()
}
