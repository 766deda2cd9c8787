package pyenv

import (
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a virtualenv/script directory for changes (a redeployed
// venv, an edited script) and invokes a callback so a Pool can recycle
// workers built against the old filesystem state. It follows the usual
// fsnotify lifecycle: add one directory, drain Events/Errors on a
// goroutine, Close to stop. Any write/create/remove under the watched root
// invalidates the resolver cache and fires the callback.
type Watcher struct {
	watcher  *fsnotify.Watcher
	resolver *Resolver
	opts     Options
	onChange func()
	done     chan struct{}
}

// NewWatcher constructs a Watcher over opts.VirtualEnv. onChange is called
// once per observed filesystem event, after the resolver's cached path for
// opts has already been invalidated.
func NewWatcher(resolver *Resolver, opts Options, onChange func()) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(opts.VirtualEnv); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &Watcher{
		watcher:  w,
		resolver: resolver,
		opts:     opts,
		onChange: onChange,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop closes the underlying watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	_ = w.watcher.Close()
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case _, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.resolver.Invalidate(w.opts)
			if w.onChange != nil {
				w.onChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("pyenv: watcher error: %v", err)
		}
	}
}
