// Package schema holds the in-memory schema registry and metadata loading.
package schema

import (
	"sort"

	"datagate/internal/domain"
)

// Registry maps schema names to their definitions. It is populated once at
// startup and read-only afterwards, so concurrent reads need no locking.
type Registry struct {
	schemas map[string]*domain.Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*domain.Schema)}
}

// Register adds a schema. Duplicate names are a ConflictError.
func (r *Registry) Register(s *domain.Schema) error {
	if s.Name == "" {
		return domain.ErrValidation("schema name is required")
	}
	if _, ok := r.schemas[s.Name]; ok {
		return domain.ErrConflict("schema %q is already registered", s.Name)
	}
	r.schemas[s.Name] = s
	return nil
}

// Resolve returns the schema with the given name. The returned pointer is
// shared and must be treated as immutable.
func (r *Registry) Resolve(name string) (*domain.Schema, error) {
	s, ok := r.schemas[name]
	if !ok {
		return nil, domain.ErrNotFound("schema %q is not registered", name)
	}
	return s, nil
}

// Names returns all registered schema names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered schemas.
func (r *Registry) Len() int { return len(r.schemas) }
