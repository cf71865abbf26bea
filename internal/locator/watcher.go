package locator

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"void/internal/fits"
	"void/internal/fsutil"
)

// Watcher reports FITS files appearing below a directory tree.
type Watcher struct {
	sniffer *Sniffer
	watcher *fsnotify.Watcher
	Paths   chan string
	settle  time.Duration
	pending map[string]time.Time
	emitted int
}

// NewWatcher watches root and all of its subdirectories. Accepted files are
// validated with the sniffer's flag and time rules.
func NewWatcher(s *Sniffer) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		sniffer: s,
		watcher: fw,
		Paths:   make(chan string, 100),
		settle:  2 * time.Second,
		pending: make(map[string]time.Time),
	}
	dirs, err := fsutil.ListDirs(s.SearchDir)
	if err != nil {
		fw.Close()
		return nil, err
	}
	for _, dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
		s.logger().Info("watching directory", "dir", dir)
	}
	return w, nil
}

// Run processes events until ctx is cancelled or the sniffer's MaxN files
// have been emitted, then closes Paths. A file is emitted once it has been
// quiet for the settle interval, so partially written frames are not read.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.Paths)
	defer w.watcher.Close()

	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.sniffer.logger().Error("filesystem watcher error", "error", err)

		case now := <-ticker.C:
			w.flush(ctx, now)
			if w.exhausted() {
				w.sniffer.logger().Info("watcher reached maxn", "maxn", w.sniffer.MaxN)
				return nil
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		delete(w.pending, event.Name)
		return
	default:
		return
	}

	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			if err := w.watcher.Add(event.Name); err != nil {
				w.sniffer.logger().Warn("failed to watch new directory", "dir", event.Name, "error", err)
			}
		}
		return
	}
	if !fsutil.IsFITSFile(event.Name) {
		return
	}
	w.pending[event.Name] = time.Now()
}

func (w *Watcher) exhausted() bool {
	return w.sniffer.MaxN > 0 && w.emitted >= w.sniffer.MaxN
}

func (w *Watcher) flush(ctx context.Context, now time.Time) {
	for path, seen := range w.pending {
		if w.exhausted() {
			return
		}
		if now.Sub(seen) < w.settle {
			continue
		}
		delete(w.pending, path)

		ok, err := w.sniffer.Validate(path)
		if err != nil {
			w.sniffer.logger().Warn("skipping unreadable file", "path", path, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if w.sniffer.UpdateFlag && w.sniffer.flagEnabled() {
			if err := fits.SetCard(path, w.sniffer.FlagName, "True"); err != nil {
				w.sniffer.logger().Error("failed to flag file", "path", path, "error", err)
				continue
			}
		}
		select {
		case w.Paths <- path:
			w.emitted++
		case <-ctx.Done():
			return
		}
	}
}
