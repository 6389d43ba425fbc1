// Package registry holds the static stage templates that define the shape
// of a campaign pipeline: which capabilities run, in what order, for a
// given template kind.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnknownTemplate is returned when a template kind has not been registered
	ErrUnknownTemplate = errors.New("unknown template kind")

	// ErrDuplicateTemplate is returned when registering an already known kind
	ErrDuplicateTemplate = errors.New("template kind already registered")

	// ErrEmptyTemplate is returned when a template declares no stages
	ErrEmptyTemplate = errors.New("template must declare at least one stage")
)

// StageDefinition is one ordered step of a template. Order is 1-based and
// contiguous within a template.
type StageDefinition struct {
	Order      int    `json:"order"`
	Capability string `json:"capability"`
}

// Registry maps template kinds to their ordered stage definitions.
// Templates are registered at startup and read-only afterwards; lookups
// never perform I/O.
type Registry struct {
	mu        sync.RWMutex
	templates map[string][]StageDefinition
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		templates: make(map[string][]StageDefinition),
	}
}

// Register adds a template kind with its capabilities in declared order
func (r *Registry) Register(kind string, capabilities ...string) error {
	if kind == "" {
		return fmt.Errorf("template kind cannot be empty")
	}
	if len(capabilities) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyTemplate, kind)
	}
	for i, capability := range capabilities {
		if capability == "" {
			return fmt.Errorf("template %s: capability at position %d is empty", kind, i+1)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.templates[kind]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTemplate, kind)
	}

	stages := make([]StageDefinition, len(capabilities))
	for i, capability := range capabilities {
		stages[i] = StageDefinition{
			Order:      i + 1,
			Capability: capability,
		}
	}
	r.templates[kind] = stages

	return nil
}

// Stages returns the ordered stage definitions for a template kind.
// An unknown kind is a configuration error surfaced at campaign creation,
// never at execution time.
func (r *Registry) Stages(kind string) ([]StageDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stages, exists := r.templates[kind]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, kind)
	}

	out := make([]StageDefinition, len(stages))
	copy(out, stages)
	return out, nil
}

// Capabilities returns just the capability names for a template kind,
// in declared order.
func (r *Registry) Capabilities(kind string) ([]string, error) {
	stages, err := r.Stages(kind)
	if err != nil {
		return nil, err
	}

	capabilities := make([]string, len(stages))
	for i, stage := range stages {
		capabilities[i] = stage.Capability
	}
	return capabilities, nil
}

// Kinds returns all registered template kinds
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.templates))
	for kind := range r.templates {
		kinds = append(kinds, kind)
	}
	return kinds
}
