package flow

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/oauth2"
)

// Variant is the protocol generation a provider speaks.
type Variant int

const (
	OAuth1 Variant = iota + 1
	OAuth2
)

func (v Variant) String() string {
	switch v {
	case OAuth1:
		return "oauth1"
	case OAuth2:
		return "oauth2"
	default:
		return "unknown"
	}
}

// ParseVariant maps "oauth1"/"oauth2" (and "oidc", which is OAuth2) to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch normalizeName(s) {
	case "oauth1":
		return OAuth1, nil
	case "oauth2", "oidc":
		return OAuth2, nil
	default:
		return 0, fmt.Errorf("unknown protocol variant %q", s)
	}
}

// Endpoint holds the wire-level locations of a provider. For OAuth1, AuthURL
// is the user authorization endpoint and TokenURL the access token endpoint.
type Endpoint struct {
	AuthURL         string
	TokenURL        string
	RequestTokenURL string
	AuthStyle       oauth2.AuthStyle
	SignatureMethod string
	AuthParams      map[string]string
}

// Descriptor identifies a resolved provider.
type Descriptor struct {
	Name    string
	Variant Variant
}

// DriverFactory builds the driver for one provider. It returns an
// OAuth1Driver or an OAuth2Driver matching the registered variant.
type DriverFactory func(settings ProviderSettings) (any, error)

type registration struct {
	variant Variant
	factory DriverFactory
}

// Registry is the explicit set of supported providers.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// NewBuiltinRegistry returns a registry holding every builtin provider.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for name, b := range builtinProviders {
		b := b
		_ = r.Register(name, b.variant, func() Endpoint { return b.endpoint })
	}
	return r
}

// Register adds a provider whose driver is derived from the endpoint returned by
// endpoint. It fails when name is empty or already registered.
func (r *Registry) Register(name string, variant Variant, endpoint func() Endpoint) error {
	if endpoint == nil {
		return fmt.Errorf("provider %q: endpoint constructor is nil", name)
	}
	var factory DriverFactory
	switch variant {
	case OAuth1:
		factory = func(settings ProviderSettings) (any, error) {
			return newOAuth1Driver(endpoint(), settings)
		}
	case OAuth2:
		factory = func(settings ProviderSettings) (any, error) {
			return newOAuth2Driver(endpoint(), settings)
		}
	default:
		return fmt.Errorf("provider %q: unknown variant %d", name, variant)
	}
	return r.RegisterDriver(name, variant, factory)
}

// RegisterDriver adds a provider with a custom driver factory.
func (r *Registry) RegisterDriver(name string, variant Variant, factory DriverFactory) error {
	key := normalizeName(name)
	if key == "" {
		return fmt.Errorf("provider name is required")
	}
	if factory == nil {
		return fmt.Errorf("provider %q: driver factory is nil", key)
	}
	if variant != OAuth1 && variant != OAuth2 {
		return fmt.Errorf("provider %q: unknown variant %d", key, variant)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("provider already registered: %s", key)
	}
	r.entries[key] = registration{variant: variant, factory: factory}
	return nil
}

// Resolve returns the descriptor for name or ErrUnsupportedProvider.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	key := normalizeName(name)
	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return Descriptor{}, unsupported(name)
	}
	return Descriptor{Name: key, Variant: entry.variant}, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[normalizeName(name)]
	return ok
}

func (r *Registry) driver(desc Descriptor, settings ProviderSettings) (any, error) {
	r.mu.RLock()
	entry, ok := r.entries[desc.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, unsupported(desc.Name)
	}
	d, err := entry.factory(settings)
	if err != nil {
		return nil, fmt.Errorf("build %s driver: %w", desc.Name, err)
	}
	switch entry.variant {
	case OAuth1:
		if _, ok := d.(OAuth1Driver); !ok {
			return nil, fmt.Errorf("provider %s: driver %T does not speak oauth1", desc.Name, d)
		}
	case OAuth2:
		if _, ok := d.(OAuth2Driver); !ok {
			return nil, fmt.Errorf("provider %s: driver %T does not speak oauth2", desc.Name, d)
		}
	}
	return d, nil
}
