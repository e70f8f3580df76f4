package shmem

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Registry tracks currently-open shared-memory views, for the admin
// server's /debug/segments endpoint, and optionally watches the shared
// memory directory so an externally-deleted segment is logged the moment
// it disappears rather than only surfacing as a mapping error on the node's
// next open attempt.
type Registry struct {
	mu      sync.Mutex
	open    map[string]int
	watcher *fsnotify.Watcher
}

// NewRegistry creates an empty segment registry.
func NewRegistry() *Registry {
	return &Registry{open: make(map[string]int)}
}

// Track records that sharedMemoryID has been mapped once more.
func (r *Registry) Track(sharedMemoryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[sharedMemoryID]++
}

// Untrack records that one mapping of sharedMemoryID has been released.
func (r *Registry) Untrack(sharedMemoryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open[sharedMemoryID] <= 1 {
		delete(r.open, sharedMemoryID)
		return
	}
	r.open[sharedMemoryID]--
}

// Snapshot returns the set of currently-mapped segment ids and how many
// live views reference each.
func (r *Registry) Snapshot() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.open))
	for id, count := range r.open {
		out[id] = count
	}
	return out
}

// WatchDir starts watching Dir for removals, logging a warning whenever a
// segment this registry still considers open disappears from disk. The
// returned stop function closes the underlying watcher.
func (r *Registry) WatchDir() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(Dir); err != nil {
		w.Close()
		return nil, err
	}
	r.watcher = w

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				id := segmentID(event.Name)
				r.mu.Lock()
				_, tracked := r.open[id]
				r.mu.Unlock()
				if tracked {
					log.WithField("shared_memory_id", id).
						Warn("shared memory segment removed from disk while still mapped")
				}
			case werr, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithError(werr).Warn("shared memory directory watch error")
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		w.Close()
	}, nil
}

func segmentID(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
