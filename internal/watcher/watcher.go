// Package watcher turns fsnotify notifications for a directory tree into a
// bounded stream of ChangeEvent values.
package watcher

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"

	ferrors "git.home.luguber.info/inful/indexwatch/internal/foundation/errors"
	"git.home.luguber.info/inful/indexwatch/internal/logfields"
)

// DefaultBuffer is the capacity of the event channel.
const DefaultBuffer = 256

// ChangeEvent is a qualifying change to a file under the watched root.
type ChangeEvent struct {
	Path        string
	Op          string
	IsDirectory bool
	Time        time.Time
}

// Options configures a Watcher.
type Options struct {
	Buffer           int
	Ignore           []string
	IgnoreTempFiles  bool
	RespectGitignore bool
	Clock            clockwork.Clock
	Logger           *slog.Logger
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// Watcher delivers change events for one root. Start may be called once;
// Stop is idempotent and may be called at any time.
type Watcher struct {
	opts   Options
	clock  clockwork.Clock
	logger *slog.Logger

	events chan ChangeEvent
	errs   chan error
	done   chan struct{}

	mu        sync.Mutex
	state     state
	fsw       *fsnotify.Watcher
	root      string
	recursive bool
	filter    *Filter
	dirs      map[string]struct{}
	loopDone  chan struct{}

	stopOnce sync.Once
	stopErr  error
}

// New creates an idle watcher.
func New(opts Options) *Watcher {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		opts:   opts,
		clock:  opts.Clock,
		logger: opts.Logger,
		events: make(chan ChangeEvent, opts.Buffer),
		errs:   make(chan error, 8),
		done:   make(chan struct{}),
		dirs:   make(map[string]struct{}),
	}
}

// Events returns the event stream. It is closed by Stop.
func (w *Watcher) Events() <-chan ChangeEvent { return w.events }

// Errors returns non-event failures reported by the notification source. It
// is closed by Stop.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Root returns the absolute watched root once started.
func (w *Watcher) Root() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.root
}

// Start validates root and begins delivering events.
func (w *Watcher) Start(root string, recursive bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case stateStopped:
		return ErrStopped
	case stateRunning:
		return ErrStarted
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryPath, msgPathNotFound).WithContext("path", root).Build()
	}
	info, err := os.Stat(abs)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryPath, msgPathNotFound).WithContext("path", abs).Build()
	}
	if !info.IsDir() {
		return ferrors.PathError(msgNotDirectory).WithContext("path", abs).Build()
	}

	filter, err := NewFilter(abs, w.opts.Ignore, w.opts.IgnoreTempFiles, w.opts.RespectGitignore)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryWatcher, msgSetupFailed).WithContext("path", abs).Build()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryWatcher, msgSetupFailed).WithContext("path", abs).Build()
	}

	w.fsw = fsw
	w.root = abs
	w.recursive = recursive
	w.filter = filter

	if err := w.addDir(abs); err != nil {
		_ = fsw.Close()
		w.fsw = nil
		return ferrors.WrapError(err, ferrors.CategoryWatcher, msgSetupFailed).WithContext("path", abs).Build()
	}
	if recursive {
		w.addDirsRecursive(abs)
	}

	w.loopDone = make(chan struct{})
	w.state = stateRunning
	go w.loop(fsw, w.loopDone)

	w.logger.Info("Watching for changes",
		logfields.Path(abs),
		slog.Bool("recursive", recursive),
		slog.Int("directories", len(w.dirs)))
	return nil
}

// addDir must be called with mu held.
func (w *Watcher) addDir(dir string) error {
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = struct{}{}
	return nil
}

// addDirsRecursive must be called with mu held.
func (w *Watcher) addDirsRecursive(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && w.filter.Ignored(path, true) {
			return filepath.SkipDir
		}
		if _, ok := w.dirs[path]; ok {
			return nil
		}
		if err := w.addDir(path); err != nil {
			w.logger.Warn("watch add failed", logfields.Path(path), logfields.Error(err))
		}
		return nil
	})
}

func (w *Watcher) loop(fsw *fsnotify.Watcher, loopDone chan struct{}) {
	defer close(loopDone)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !w.handle(ev) {
				return
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.reportError(err)
		}
	}
}

// handle returns false once the watcher is stopping.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	w.mu.Lock()
	if w.state != stateRunning {
		w.mu.Unlock()
		return false
	}
	path := filepath.Clean(ev.Name)
	isDir := w.isDir(path, ev.Op)

	if path == w.root && (ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename)) {
		w.mu.Unlock()
		w.reportError(ferrors.WatcherError(msgRootRemoved).WithContext("path", path).Build())
		return true
	}
	if w.filter.Ignored(path, isDir) {
		w.mu.Unlock()
		w.logger.Debug("Ignoring change", logfields.Path(path), logfields.Op(ev.Op.String()))
		return true
	}
	if isDir {
		if ev.Op.Has(fsnotify.Create) && w.recursive {
			w.addDirsRecursive(path)
		}
		if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
			delete(w.dirs, path)
		}
		w.mu.Unlock()
		return true
	}
	w.mu.Unlock()

	ce := ChangeEvent{
		Path: path,
		Op:   ev.Op.String(),
		Time: w.clock.Now(),
	}
	select {
	case w.events <- ce:
		return true
	case <-w.done:
		return false
	}
}

// isDir must be called with mu held.
func (w *Watcher) isDir(path string, op fsnotify.Op) bool {
	if _, ok := w.dirs[path]; ok {
		return true
	}
	if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
		return false
	}
	info, err := os.Lstat(path)
	return err == nil && info.IsDir()
}

func (w *Watcher) reportError(err error) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		w.logger.Warn("Filesystem event queue overflowed; changes may have been missed", logfields.Error(err))
	}
	select {
	case w.errs <- err:
	case <-w.done:
	default:
		w.logger.Warn("Watcher error dropped", logfields.Error(err))
	}
}

// Stop releases the OS watches and closes Events and Errors. Events still
// buffered are discarded, so nothing is received after Stop returns.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.state = stateStopped
		fsw, loopDone, root := w.fsw, w.loopDone, w.root
		w.mu.Unlock()

		close(w.done)
		if fsw != nil {
			w.stopErr = fsw.Close()
			<-loopDone
		}

		dropped := 0
	drain:
		for {
			select {
			case _, ok := <-w.events:
				if !ok {
					break drain
				}
				dropped++
			default:
				break drain
			}
		}
		close(w.events)
		close(w.errs)

		if fsw != nil {
			w.logger.Info("Watcher stopped", logfields.Path(root), slog.Int("dropped_events", dropped))
		}
	})
	return w.stopErr
}
