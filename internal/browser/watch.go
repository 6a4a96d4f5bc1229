package browser

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

// dirWatcher debounces filesystem events on the sessions directory into a
// single change signal. Snapshot writes are temp-file renames, so several
// events arrive per finished session.
type dirWatcher struct {
	watcher  *fsnotify.Watcher
	changes  chan struct{}
	done     chan struct{}
	debounce time.Duration
}

func newDirWatcher(dir string, debounce time.Duration) (*dirWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &dirWatcher{
		watcher:  watcher,
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		debounce: debounce,
	}
	go w.loop()
	return w, nil
}

func (w *dirWatcher) Changes() <-chan struct{} { return w.changes }

func (w *dirWatcher) loop() {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case _, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-fire:
			fire = nil
			select {
			case w.changes <- struct{}{}:
			default:
			}
		}
	}
}

func (w *dirWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
