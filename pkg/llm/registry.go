package llm

import (
	"sync"

	apperrors "github.com/deepagents-dev/deepagents/pkg/errors"
)

// ProviderRegistry manages LLM providers
type ProviderRegistry interface {
	// Register registers a provider
	Register(provider Provider) error

	// Get retrieves a provider by name
	Get(name string) (Provider, error)

	// List returns all registered provider names
	List() []string
}

// registry implements ProviderRegistry
type registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a new provider registry
func NewRegistry() ProviderRegistry {
	return &registry{
		providers: make(map[string]Provider),
	}
}

// Register registers a provider
func (r *registry) Register(provider Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return apperrors.New(apperrors.ErrCodeInvalidInput,
			"provider "+name+" already registered", nil)
	}

	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name
func (r *registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, apperrors.New(apperrors.ErrCodeProviderNotFound,
			"provider "+name+" not found", nil)
	}

	return provider, nil
}

// List returns all registered provider names
func (r *registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
