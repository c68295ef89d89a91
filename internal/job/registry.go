package job

import (
	"sort"
	"sync"
	"weak"
)

// Registry is the set of live handles. It holds only weak references, so
// registration never keeps a Handle alive.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]weak.Pointer[Handle]
}

func newRegistry() *Registry {
	return &Registry{entries: make(map[string]weak.Pointer[Handle])}
}

func (r *Registry) add(h *Handle) weak.Pointer[Handle] {
	wp := weak.Make(h)
	r.mu.Lock()
	r.entries[h.id] = wp
	r.mu.Unlock()
	return wp
}

// remove drops id if it still refers to wp. A handle re-attached under the
// same id is not affected by the cleanup of its predecessor.
func (r *Registry) remove(id string, wp weak.Pointer[Handle]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[id]; ok && cur == wp {
		delete(r.entries, id)
	}
}

// Snapshot returns strong references to every live handle, oldest first.
// Handles collected but not yet cleaned up are skipped.
func (r *Registry) Snapshot() []*Handle {
	r.mu.RLock()
	handles := make([]*Handle, 0, len(r.entries))
	for _, wp := range r.entries {
		if h := wp.Value(); h != nil {
			handles = append(handles, h)
		}
	}
	r.mu.RUnlock()

	sort.Slice(handles, func(i, j int) bool {
		if handles[i].createdAt.Equal(handles[j].createdAt) {
			return handles[i].id < handles[j].id
		}
		return handles[i].createdAt.Before(handles[j].createdAt)
	})
	return handles
}

// Lookup returns the live handle with id, or nil.
func (r *Registry) Lookup(id string) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wp, ok := r.entries[id]
	if !ok {
		return nil
	}
	return wp.Value()
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, wp := range r.entries {
		if wp.Value() != nil {
			n++
		}
	}
	return n
}
