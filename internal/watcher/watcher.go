// Package watcher coalesces kernel file-change notifications over a set of
// paths into a single wakeable wait, with settle-delay debouncing.
package watcher

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// EventMask selects which fsnotify operations count as "an event" for a
// given watcher instance. fsnotify exposes no raw inotify mask, so IN_ACCESS
// is approximated with Chmod (see SPEC_FULL §4.1).
type EventMask fsnotify.Op

const (
	MaskModify EventMask = EventMask(fsnotify.Write | fsnotify.Create | fsnotify.Chmod)
	MaskAccess EventMask = EventMask(fsnotify.Chmod)
)

// Watcher wraps an fsnotify.Watcher with a single-slot event signal and a
// settle delay, so a caller can block until a burst of changes has quieted.
type Watcher struct {
	log   zerolog.Logger
	paths []string
	mask  EventMask

	mu     sync.Mutex
	fsw    *fsnotify.Watcher
	notify chan struct{} // capacity 1: a pending, not-yet-consumed event
	stop   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New constructs a Watcher over the given absolute paths with the given
// event mask. Construction does not start watching; call Initialize.
func New(log zerolog.Logger, paths []string, mask EventMask) *Watcher {
	return &Watcher{log: log, paths: paths, mask: mask}
}

// Initialize registers watches on all configured paths and starts the
// internal demultiplexing goroutine. A partial success (at least one path
// watched) is accepted; zero successes is reported as an error.
func (w *Watcher) Initialize() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	var watched int
	for _, p := range w.paths {
		if err := fsw.Add(p); err != nil {
			w.log.Warn().Str("path", p).Err(err).Msg("failed to watch path")
			continue
		}
		watched++
	}
	if watched == 0 {
		fsw.Close()
		return errNoPathsWatched
	}

	w.mu.Lock()
	w.fsw = fsw
	w.stop = make(chan struct{})
	w.notify = make(chan struct{}, 1)
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run()
	return nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if fsnotify.Op(w.mask)&ev.Op == 0 {
				continue
			}
			select {
			case w.notify <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("watcher error")
		}
	}
}

// Wait blocks on the event channel until an event arrives, timeout elapses,
// or Cleanup is called — matching the source's blocking select() over the
// inotify fd rather than polling a flag. On wake by event it sleeps
// settleDelay to coalesce tightly-spaced changes, draining any events that
// arrived during the settle window, then returns true. Returns false on
// timeout or shutdown with no event.
func (w *Watcher) Wait(timeout, settleDelay time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.notify:
	case <-w.stop:
		return false
	case <-timer.C:
		return false
	}

	time.Sleep(settleDelay)
	for {
		select {
		case <-w.notify:
			continue
		default:
		}
		break
	}
	return true
}

// Cleanup invalidates the watch set and signals the internal goroutine to
// exit. Wait returns promptly afterward even with an unconsumed event.
func (w *Watcher) Cleanup() {
	if !w.closed.CompareAndSwap(false, true) {
		return
	}
	w.mu.Lock()
	if w.stop != nil {
		close(w.stop)
	}
	fsw := w.fsw
	w.mu.Unlock()
	if fsw != nil {
		fsw.Close()
	}
	w.wg.Wait()
}

type watcherError string

func (e watcherError) Error() string { return string(e) }

const errNoPathsWatched = watcherError("watcher: no paths could be watched")
