package controller

import (
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/harmony/internal/persist"
)

// FileWatcher watches the directories holding entities' declared files and
// notifies the controller when file bytes change, since such changes never
// pass through a container commit.
type FileWatcher struct {
	c       *Controller
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	dirs    map[string]struct{}
}

// NewFileWatcher creates a watcher for c. It must be started with Start.
func NewFileWatcher(c *Controller) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &FileWatcher{
		c:       c,
		watcher: watcher,
		done:    make(chan struct{}),
		dirs:    make(map[string]struct{}),
	}, nil
}

// Start watches every directory that currently holds a declared file, plus
// any extra directories given.
func (fw *FileWatcher) Start(extra ...string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	dirs := slices.Clone(extra)
	for path := range fw.index() {
		dirs = append(dirs, filepath.Dir(path))
	}
	for _, dir := range dirs {
		if err := fw.addLocked(dir); err != nil {
			return err
		}
	}

	fw.running = true
	fw.c.fileWatcher.Store(fw)
	fw.wg.Add(1)
	go fw.processEvents()
	return nil
}

// Add starts watching dir.
func (fw *FileWatcher) Add(dir string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.addLocked(dir)
}

func (fw *FileWatcher) addLocked(dir string) error {
	dir = filepath.Clean(dir)
	if _, ok := fw.dirs[dir]; ok {
		return nil
	}
	if err := fw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	fw.dirs[dir] = struct{}{}
	return nil
}

// Stop stops watching and blocks until event processing has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return nil
	}
	fw.running = false
	fw.c.fileWatcher.CompareAndSwap(fw, nil)
	fw.mu.Unlock()

	close(fw.done)
	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	fw.wg.Wait()
	return nil
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handle(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.c.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (fw *FileWatcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	owners := fw.index()[filepath.Clean(event.Name)]
	for _, id := range owners {
		if err := fw.c.NotifyChanged(id); err != nil {
			fw.c.logger.Debug("dropping file change", "path", event.Name, "object", id.String(), "error", err)
			continue
		}
		fw.c.logger.Debug("file changed", "path", event.Name, "op", event.Op.String(), "object", id.String())
	}
}

// watchFiles adds the directories of id's declared files to the running
// file watcher, if any.
func (c *Controller) watchFiles(id persist.ObjectID) {
	fw := c.fileWatcher.Load()
	if fw == nil {
		return
	}
	obj, ok := c.container.Object(id)
	if !ok {
		return
	}
	e, err := c.registry.Bind(obj, c.container)
	if err != nil {
		return
	}
	for _, f := range e.SyncableFiles() {
		if err := fw.Add(filepath.Dir(f.Path)); err != nil {
			c.logger.Debug("not watching file directory", "path", f.Path, "error", err)
		}
	}
}

// index maps every declared file path to the entities that own it.
func (fw *FileWatcher) index() map[string][]persist.ObjectID {
	out := make(map[string][]persist.ObjectID)
	for _, obj := range fw.c.container.All() {
		e, err := fw.c.registry.Bind(obj, fw.c.container)
		if err != nil {
			continue
		}
		for _, f := range e.SyncableFiles() {
			path := filepath.Clean(f.Path)
			out[path] = append(out[path], obj.ID)
		}
	}
	return out
}
