// Package registry stores discovered merchant capabilities and discloses them
// to agents on demand.
package registry

import (
	"fmt"
	"log/slog"
	"regexp"
	"sync"
)

// Capability is one advertised remote operation.
type Capability struct {
	Name    string `json:"name"`
	Spec    string `json:"spec"`
	Version string `json:"version"`
}

// Descriptor is the tool description handed to an agent.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Registry keeps capabilities in two sets: deferred (everything discovered)
// and loaded (fetched at least once). Loaded is always a subset of deferred.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	deferred map[string]Capability
	loaded   map[string]Capability
	logger   *slog.Logger
}

// New returns an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		deferred: make(map[string]Capability),
		loaded:   make(map[string]Capability),
		logger:   logger,
	}
}

// Register inserts or overwrites each capability by name. A capability that
// was already loaded stays loaded and picks up the new definition.
func (r *Registry) Register(capabilities []Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, capability := range capabilities {
		if _, exists := r.deferred[capability.Name]; !exists {
			r.order = append(r.order, capability.Name)
		}
		r.deferred[capability.Name] = capability
		if _, loaded := r.loaded[capability.Name]; loaded {
			r.loaded[capability.Name] = capability
		}
	}
	r.logger.Debug("registered capabilities", "count", len(capabilities), "total", len(r.deferred))
}

// Search returns descriptors for every capability whose name contains a
// case-insensitive match for pattern, in registration order. An empty pattern
// matches nothing.
func (r *Registry) Search(pattern string) ([]Descriptor, error) {
	if pattern == "" {
		return []Descriptor{}, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compile search pattern: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	results := []Descriptor{}
	for _, name := range r.order {
		if re.MatchString(name) {
			results = append(results, describe(r.deferred[name]))
		}
	}
	return results, nil
}

// Fetch looks up a capability by exact name and marks it loaded. The boolean
// is false when the name is unknown.
func (r *Registry) Fetch(name string) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	capability, ok := r.deferred[name]
	if !ok {
		return Descriptor{}, false
	}
	r.loaded[name] = capability
	return describe(capability), true
}

// IsLoaded reports whether name has been fetched.
func (r *Registry) IsLoaded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loaded[name]
	return ok
}

// Len returns the number of known capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.deferred)
}

func describe(capability Capability) Descriptor {
	return Descriptor{
		Name:        capability.Name,
		Description: fmt.Sprintf("UCP Capability: %s (Spec: %s)", capability.Name, capability.Spec),
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"payload": map[string]any{"type": "object"},
			},
		},
	}
}
