package namespace

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Callable is a host-invocable function published by a module.
type Callable func(ctx context.Context, args ...any) (any, error)

// Scope is a mutable key space that modules publish into. The real
// shared scope is a GlobalScope; a VirtualScope stands in for it when
// proactive isolation is enabled.
type Scope interface {
	Get(name string) (any, bool)
	Set(name string, value any)
	Delete(name string)
	Keys() []string
}

// GlobalScope is the shared global key space of the host process.
// All modules loaded without proactive isolation publish into it
// during initialization; the diff isolator relocates their entries
// afterwards. Safe for concurrent use.
type GlobalScope struct {
	mu      sync.RWMutex
	entries map[string]any
}

// NewGlobalScope creates an empty shared scope
func NewGlobalScope() *GlobalScope {
	return &GlobalScope{entries: make(map[string]any)}
}

func (s *GlobalScope) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[name]
	return v, ok
}

func (s *GlobalScope) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = value
}

func (s *GlobalScope) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// Keys returns a sorted snapshot of the current key set
func (s *GlobalScope) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// internalPrefix marks bookkeeping and readiness-signal keys that are
// never relocated out of the shared scope.
const internalPrefix = "__"

// Reserved reports whether a key belongs to the recognized set of
// internal, bookkeeping, or readiness-signal keys that stay global.
func Reserved(name string) bool {
	return strings.HasPrefix(name, internalPrefix)
}

// IsFunction reports whether a scope value is function-valued: either
// a Callable or any Go func. Only function-valued entries are subject
// to relocation and interception.
func IsFunction(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.(Callable); ok {
		return true
	}
	return reflect.TypeOf(v).Kind() == reflect.Func
}

// Snapshot captures the key set of a scope as a membership map.
// The instantiator takes one immediately before a module's entry
// point starts; the diff isolator uses it afterwards.
func Snapshot(s Scope) map[string]struct{} {
	keys := s.Keys()
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}
