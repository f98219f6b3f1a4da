package connector

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/postpipe/internal/config"
)

// Destination describes a registered connector.
type Destination struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// Registry resolves destination ids to connectors.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
	info       map[string]Destination
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
		info:       make(map[string]Destination),
	}
}

// Register adds or replaces a connector.
func (r *Registry) Register(dest Destination, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dest.Name == "" {
		dest.Name = dest.ID
	}
	r.connectors[dest.ID] = c
	r.info[dest.ID] = dest
}

// Get returns the connector registered under id.
func (r *Registry) Get(id string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[id]
	return c, ok
}

// Destinations lists registered destinations ordered by id.
func (r *Registry) Destinations() []Destination {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Destination, 0, len(r.info))
	for _, d := range r.info {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FromConfig builds a registry from destination settings. A nil client gets a
// default *http.Client; per-call deadlines come from the caller's context.
func FromConfig(dests []config.DestinationConfig, client HTTPDoer) (*Registry, error) {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	registry := NewRegistry()
	for _, d := range dests {
		var c Connector
		switch d.Type {
		case "wordpress":
			c = NewWordPress(d.ID, d.BaseURL, d.Username, d.AppPassword, d.PublishAs, client)
		case "medium":
			c = NewMedium(d.ID, d.BaseURL, d.Token, d.PublishAs, client)
		case "ghost":
			c = NewGhost(d.ID, d.BaseURL, d.AdminKey, d.PublishAs, client)
		case "stub":
			c = NewStub(d.ID, d.BaseURL)
		default:
			return nil, fmt.Errorf("destination %q: unknown type %q", d.ID, d.Type)
		}
		registry.Register(Destination{ID: d.ID, Type: d.Type, Name: d.Name}, c)
	}
	return registry, nil
}
