// Package registry holds the desired subscription state of a connection manager.
//
// Keys are destinations; values are the opaque handles returned by the protocol
// session. A key stays registered across reconnects until it is explicitly removed.
package registry

import (
	"sort"
	"sync"
)

// Registry is a concurrency-safe destination -> handle map.
type Registry[H any] struct {
	mu      sync.RWMutex
	entries map[string]H
}

// New creates an empty registry.
func New[H any]() *Registry[H] {
	return &Registry[H]{entries: make(map[string]H)}
}

// Has reports whether destination is registered.
func (r *Registry[H]) Has(destination string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[destination]
	return ok
}

// Get returns the handle for destination.
func (r *Registry[H]) Get(destination string) (H, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.entries[destination]
	return h, ok
}

// Put records handle for destination, replacing any previous handle.
func (r *Registry[H]) Put(destination string, handle H) {
	r.mu.Lock()
	r.entries[destination] = handle
	r.mu.Unlock()
}

// PutIfAbsent records handle for destination unless it is already registered.
// It reports whether handle was stored.
func (r *Registry[H]) PutIfAbsent(destination string, handle H) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[destination]; ok {
		return false
	}
	r.entries[destination] = handle
	return true
}

// Remove deletes destination and returns the handle it held.
func (r *Registry[H]) Remove(destination string) (H, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.entries[destination]
	if ok {
		delete(r.entries, destination)
	}
	return h, ok
}

// Keys returns a sorted snapshot of the registered destinations.
// The snapshot is safe to range over while the registry is mutated.
func (r *Registry[H]) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of registered destinations.
func (r *Registry[H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
