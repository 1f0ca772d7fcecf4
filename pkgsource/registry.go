package pkgsource

import (
	"sort"
	"sync"

	"github.com/bringpkg/bring/bringerr"
)

// Factory builds a VersionSource from a validated Descriptor. Concrete
// source/* packages register one Factory per source type from their own
// init(), giving bring a closed, compile-time-known set of source types
// rather than a reflection-based plugin loader (Design Note §9).
type Factory func(d Descriptor) (VersionSource, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds f as the Factory for sourceType. It panics on a duplicate
// registration, since that can only happen from a programming error at
// init() time, never from user input.
func Register(sourceType string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[sourceType]; exists {
		panic("pkgsource: duplicate registration for source type " + sourceType)
	}
	registry[sourceType] = f
}

// Build looks up the Factory for d.Type and invokes it, returning
// *bringerr.UnknownSourceTypeError if no plugin claims that type.
func Build(d Descriptor) (VersionSource, error) {
	registryMu.RLock()
	f, ok := registry[d.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, &bringerr.UnknownSourceTypeError{SourceType: d.Type}
	}
	return f(d)
}

// RegisteredTypes returns the sorted list of currently registered source
// types.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
