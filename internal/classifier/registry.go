package classifier

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/tjfontaine/feedfilter/internal/config"
)

// ProviderFactory defines how to create a vision provider of one type.
//
// Provider packages expose a RegisterProviderFactory function that adds
// their factory here; internal/registration calls them explicitly.
type ProviderFactory struct {
	// Type is the identifier used in vision.provider.
	Type string

	// Description provides a human-readable description of the provider.
	Description string

	// Create instantiates a provider. httpClient carries the process
	// transport (tracing, timeout) and may be nil.
	Create func(cfg config.VisionConfig, httpClient *http.Client) (Provider, error)

	// ValidateConfig performs provider-specific configuration validation.
	// Optional: if nil, no additional validation is performed.
	ValidateConfig func(cfg config.VisionConfig) error
}

var (
	factoryMu  sync.RWMutex
	factoryMap = make(map[string]ProviderFactory)
)

// RegisterFactory registers a provider factory. Registering a type twice
// keeps the first factory.
func RegisterFactory(f ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if f.Type == "" {
		panic("provider factory type cannot be empty")
	}
	if f.Create == nil {
		panic(fmt.Sprintf("provider factory %q must have a Create function", f.Type))
	}
	if _, exists := factoryMap[f.Type]; exists {
		return
	}
	factoryMap[f.Type] = f
}

// GetFactory returns the factory for a provider type, if registered.
func GetFactory(providerType string) (ProviderFactory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factoryMap[providerType]
	return f, ok
}

// ListProviderTypes returns all registered provider type names, sorted.
func ListProviderTypes() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	types := make([]string, 0, len(factoryMap))
	for t := range factoryMap {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ValidateProviderConfig checks cfg against the registered factory.
func ValidateProviderConfig(cfg config.VisionConfig) error {
	f, ok := GetFactory(cfg.Provider)
	if !ok {
		return fmt.Errorf("unknown vision provider: %s (registered types: %v)", cfg.Provider, ListProviderTypes())
	}
	if f.ValidateConfig != nil {
		return f.ValidateConfig(cfg)
	}
	return nil
}

// CreateProvider validates cfg and creates its provider.
func CreateProvider(cfg config.VisionConfig, httpClient *http.Client) (Provider, error) {
	if err := ValidateProviderConfig(cfg); err != nil {
		return nil, err
	}
	f, _ := GetFactory(cfg.Provider)
	return f.Create(cfg, httpClient)
}

// ClearFactories removes all registered factories (for testing only).
func ClearFactories() {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	factoryMap = make(map[string]ProviderFactory)
}
