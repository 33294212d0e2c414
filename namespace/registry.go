package namespace

import (
	"sort"
	"sync"
)

// Registry holds one bucket of callables per module id. Buckets are
// created at instantiation and deleted at unload; two modules with
// different ids never observe or overwrite each other's same-named
// functions.
type Registry struct {
	mu      sync.RWMutex
	buckets map[string]map[string]Callable
}

// NewRegistry creates an empty bucket registry
func NewRegistry() *Registry {
	return &Registry{buckets: make(map[string]map[string]Callable)}
}

// CreateBucket ensures a bucket exists for the module id
func (r *Registry) CreateBucket(moduleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.buckets[moduleID]; !ok {
		r.buckets[moduleID] = make(map[string]Callable)
	}
}

// Register places a callable in the module's bucket, creating the
// bucket if needed. Overwrites an existing entry with the same name.
func (r *Registry) Register(moduleID, name string, fn Callable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.buckets[moduleID]
	if !ok {
		bucket = make(map[string]Callable)
		r.buckets[moduleID] = bucket
	}
	bucket[name] = fn
}

// Lookup resolves a callable by (moduleID, name)
func (r *Registry) Lookup(moduleID, name string) (Callable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket, ok := r.buckets[moduleID]
	if !ok {
		return nil, false
	}
	fn, ok := bucket[name]
	return fn, ok
}

// Remove deletes a single entry from the module's bucket
func (r *Registry) Remove(moduleID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bucket, ok := r.buckets[moduleID]; ok {
		delete(bucket, name)
	}
}

// Names returns the sorted function names in the module's bucket
func (r *Registry) Names(moduleID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket, ok := r.buckets[moduleID]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(bucket))
	for name := range bucket {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a bucket exists for the module id
func (r *Registry) Has(moduleID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.buckets[moduleID]
	return ok
}

// Drop deletes the module's bucket entirely. Called at unload.
func (r *Registry) Drop(moduleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buckets, moduleID)
}
