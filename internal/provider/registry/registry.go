// Package registry maps service names to adapter factories.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/davidbz/conduit/internal/domain"
	"github.com/davidbz/conduit/internal/provider/anthropic"
	"github.com/davidbz/conduit/internal/provider/google"
	"github.com/davidbz/conduit/internal/provider/ollama"
	"github.com/davidbz/conduit/internal/provider/openai"
	"github.com/davidbz/conduit/internal/provider/openaicompat"
)

// Settings carries the per-service values a factory needs.
type Settings struct {
	APIKey  string
	BaseURL string
}

// Factory creates an adapter from settings.
type Factory func(settings Settings) (domain.Adapter, error)

// Registry is a concurrency-safe service name to factory map. Services may
// also claim model name prefixes so a bare model can be routed.
type Registry struct {
	mu              sync.RWMutex
	factories       map[string]Factory
	prefixToService map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		mu:              sync.RWMutex{},
		factories:       make(map[string]Factory),
		prefixToService: make(map[string]string),
	}
}

// Register adds a factory under a service name, claiming the given model
// prefixes for ServiceForModel.
func (r *Registry) Register(service string, factory Factory, modelPrefixes ...string) error {
	if factory == nil {
		return errors.New("factory cannot be nil")
	}
	if service == "" {
		return errors.New("service name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[service]; exists {
		return fmt.Errorf("service %s already registered", service)
	}

	r.factories[service] = factory
	for _, prefix := range modelPrefixes {
		r.prefixToService[prefix] = service
	}

	return nil
}

// New builds an adapter for a registered service.
func (r *Registry) New(service string, settings Settings) (domain.Adapter, error) {
	if service == "" {
		return nil, &domain.ConfigurationError{Message: "service name cannot be empty"}
	}

	r.mu.RLock()
	factory, exists := r.factories[service]
	r.mu.RUnlock()

	if !exists {
		return nil, &domain.ConfigurationError{Service: service, Message: "unknown service"}
	}
	return factory(settings)
}

// Has reports whether a service is registered.
func (r *Registry) Has(service string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.factories[service]
	return exists
}

// List returns the registered service names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// ServiceForModel returns the service claiming the longest prefix of model.
func (r *Registry) ServiceForModel(model string) (string, error) {
	if model == "" {
		return "", errors.New("model cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	best := ""
	for prefix := range r.prefixToService {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return "", fmt.Errorf("no service found for model: %s", model)
	}
	return r.prefixToService[best], nil
}

//nolint:gochecknoglobals // Built-in registry is created once
var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns a registry with every built-in service registered.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewBuiltin()
	})
	return defaultRegistry
}

// NewBuiltin creates a fresh registry with every built-in service.
func NewBuiltin() *Registry {
	r := NewRegistry()

	mustRegister(r, "openai", func(s Settings) (domain.Adapter, error) {
		cfg := openai.DefaultConfig(s.APIKey)
		if s.BaseURL != "" {
			cfg.BaseURL = s.BaseURL
		}
		return openai.New(cfg), nil
	}, "gpt-", "o1", "o3", "o4", "chatgpt-")
	mustRegister(r, "anthropic", func(s Settings) (domain.Adapter, error) {
		return anthropic.New(s.APIKey, s.BaseURL), nil
	}, "claude-")
	mustRegister(r, "google", func(s Settings) (domain.Adapter, error) {
		return google.New(s.APIKey, s.BaseURL), nil
	}, "gemini-")
	mustRegister(r, "ollama", func(s Settings) (domain.Adapter, error) {
		return ollama.New(s.BaseURL), nil
	})

	compatPrefixes := map[string][]string{
		"deepseek": {"deepseek-"},
		"xai":      {"grok-"},
		"mistral":  {"mistral-", "magistral-", "codestral-"},
		"echo":     {"echo"},
	}
	for _, service := range openaicompat.Services() {
		mustRegister(r, service, func(s Settings) (domain.Adapter, error) {
			return openaicompat.New(service, s.APIKey, s.BaseURL)
		}, compatPrefixes[service]...)
	}

	return r
}

func mustRegister(r *Registry, service string, factory Factory, prefixes ...string) {
	if err := r.Register(service, factory, prefixes...); err != nil {
		panic(err)
	}
}
