package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Provider ids of the built-in connectors.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Registry holds the known connectors and the credential resolver used to
// decide which of them are usable. There is no package-level instance;
// callers construct one and pass it down.
type Registry struct {
	mu         sync.RWMutex
	creds      CredentialResolver
	connectors map[string]Connector
}

// NewRegistry builds a registry with the built-in connector set.
func NewRegistry(creds CredentialResolver) *Registry {
	r := &Registry{
		creds:      creds,
		connectors: make(map[string]Connector),
	}
	r.Register(NewOpenAIConnector())
	r.Register(NewAnthropicConnector())
	r.Register(NewGoogleConnector())
	return r
}

// Register adds or replaces a connector under its own id.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.ID()] = c
}

// Get returns the connector for id. An unregistered id yields
// ErrUnknownProvider; a registered connector with no resolvable
// credential yields ErrConnectorUnavailable, both wrapped with the id.
func (r *Registry) Get(id string) (Connector, error) {
	r.mu.RLock()
	c, ok := r.connectors[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrUnknownProvider)
	}
	if _, hasKey := r.creds.Resolve(id); !hasKey {
		return nil, fmt.Errorf("%q: %w", id, ErrConnectorUnavailable)
	}
	return c, nil
}

// NewModel resolves the connector for providerID and mints a model handle.
// An empty modelID selects the connector's default model.
func (r *Registry) NewModel(providerID, modelID string) (Model, error) {
	c, err := r.Get(providerID)
	if err != nil {
		return nil, err
	}
	return c.NewModel(modelID, r.creds)
}

// List returns all registered connectors ordered by id, regardless of
// credential availability.
func (r *Registry) List() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connector, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Available returns the ids of connectors whose credentials resolve.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id := range r.connectors {
		if _, ok := r.creds.Resolve(id); ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// DefaultModelID returns the id of the connector's default model, or the
// first listed model when none is flagged.
func DefaultModelID(c Connector) string {
	models := c.Models()
	for _, m := range models {
		if m.Default {
			return m.ID
		}
	}
	if len(models) > 0 {
		return models[0].ID
	}
	return ""
}
