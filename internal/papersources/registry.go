package papersources

import (
	"sort"
	"sync"

	"github.com/helixir/slr-pipeline/internal/domain"
)

// Registry holds the configured connectors keyed by source type.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	connectors map[domain.SourceType]Connector
}

// NewRegistry creates an empty registry.
func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{connectors: make(map[domain.SourceType]Connector)}
	for _, c := range connectors {
		r.Register(c)
	}
	return r
}

// Register adds c, replacing any connector with the same source type.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.SourceType()] = c
}

// Get returns the connector for source, or nil.
func (r *Registry) Get(source domain.SourceType) Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connectors[source]
}

// Enabled returns the enabled connectors ordered by source type.
func (r *Registry) Enabled() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connector, 0, len(r.connectors))
	for _, c := range r.connectors {
		if c.IsEnabled() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceType() < out[j].SourceType() })
	return out
}

// Select resolves the requested sources. An empty request selects every
// enabled connector. Requested sources that are unknown or disabled are
// returned separately.
func (r *Registry) Select(requested []domain.SourceType) (selected []Connector, unavailable []domain.SourceType) {
	if len(requested) == 0 {
		return r.Enabled(), nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[domain.SourceType]bool, len(requested))
	for _, st := range requested {
		if seen[st] {
			continue
		}
		seen[st] = true
		c, ok := r.connectors[st]
		if !ok || !c.IsEnabled() {
			unavailable = append(unavailable, st)
			continue
		}
		selected = append(selected, c)
	}
	return selected, unavailable
}
