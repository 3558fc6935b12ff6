// Package registry holds the named database and LLM connection descriptors
// the pipeline resolves at run time.
package registry

import (
	"fmt"
	"sync"

	"github.com/ekaya-inc/insightpilot/pkg/apperrors"
	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// secretRefs remembers which environment variables supplied a descriptor's
// credentials so SaveFile can write the reference back instead of the value.
type secretRefs struct {
	PasswordEnv string
	APIKeyEnv   string
}

// Registry is a concurrency-safe store of connection descriptors.
// Every read returns a copy.
type Registry struct {
	mu              sync.RWMutex
	conns           map[string]models.ConnectionDescriptor
	refs            map[string]secretRefs
	defaultProvider string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		conns: make(map[string]models.ConnectionDescriptor),
		refs:  make(map[string]secretRefs),
	}
}

// Upsert validates desc and stores it under desc.Name, replacing any
// previous descriptor with that name.
func (r *Registry) Upsert(desc models.ConnectionDescriptor) error {
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[desc.Name] = desc.Clone()
	return nil
}

func (r *Registry) upsertWithRefs(desc models.ConnectionDescriptor, refs secretRefs) error {
	if err := r.Upsert(desc); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if refs == (secretRefs{}) {
		delete(r.refs, desc.Name)
	} else {
		r.refs[desc.Name] = refs
	}
	return nil
}

// Remove deletes a descriptor. Removing the default provider clears the default.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[name]; !ok {
		return fmt.Errorf("connection %q: %w", name, apperrors.ErrNotFound)
	}
	delete(r.conns, name)
	delete(r.refs, name)
	if r.defaultProvider == name {
		r.defaultProvider = ""
	}
	return nil
}

func (r *Registry) resolve(name string, kind models.ConnectionKind) (models.ConnectionDescriptor, error) {
	r.mu.RLock()
	desc, ok := r.conns[name]
	r.mu.RUnlock()
	if !ok {
		return models.ConnectionDescriptor{}, fmt.Errorf("connection %q: %w", name, apperrors.ErrNotFound)
	}
	if desc.Kind != kind {
		return models.ConnectionDescriptor{}, fmt.Errorf("connection %q is a %s connection, not %s: %w",
			name, desc.Kind, kind, apperrors.ErrInvalidInput)
	}
	if !desc.Enabled {
		return models.ConnectionDescriptor{}, fmt.Errorf("connection %q is disabled: %w", name, apperrors.ErrInvalidInput)
	}
	return desc.Clone(), nil
}

// ResolveDB returns a copy of the named database descriptor.
func (r *Registry) ResolveDB(name string) (models.ConnectionDescriptor, error) {
	return r.resolve(name, models.KindDB)
}

// ResolveProvider returns a copy of the named LLM descriptor.
func (r *Registry) ResolveProvider(name string) (models.ConnectionDescriptor, error) {
	return r.resolve(name, models.KindLLM)
}

// DefaultProvider returns the configured default LLM connection.
func (r *Registry) DefaultProvider() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultProvider, r.defaultProvider != ""
}

// SetDefaultProvider marks an enabled LLM connection as the default.
func (r *Registry) SetDefaultProvider(name string) error {
	if _, err := r.ResolveProvider(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultProvider = name
	return nil
}

// List returns copies of every descriptor of kind, sorted by name. An empty
// kind lists everything.
func (r *Registry) List(kind models.ConnectionKind) []models.ConnectionDescriptor {
	r.mu.RLock()
	out := make([]models.ConnectionDescriptor, 0, len(r.conns))
	for _, d := range r.conns {
		if kind == "" || d.Kind == kind {
			out = append(out, d.Clone())
		}
	}
	r.mu.RUnlock()
	models.SortDescriptors(out)
	return out
}

// Len returns the number of descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
