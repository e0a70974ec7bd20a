package taskboard

import (
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/tabbroker/tabbroker/internal/logging"
)

// Watcher tolerates out-of-band edits to the board file (§3): a human (or
// another tool) editing tasks-<hex>.md directly should still be reflected
// without waiting for the next command. onChange is invoked with a fresh
// summary line whenever the file is written.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	log     *logging.Logger
	done    chan struct{}
}

// NewWatcher starts watching path and calls onChange(summary) on every
// write event.
func NewWatcher(path string, log *logging.Logger, onChange func(summary string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{watcher: fw, path: path, log: log, done: make(chan struct{})}
	go w.loop(onChange)
	return w, nil
}

func (w *Watcher) loop(onChange func(summary string)) {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			board := Load(w.path)
			onChange(board.Summary())
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("task board watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
