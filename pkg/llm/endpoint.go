package llm

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

// Endpoint is one configured backend.
type Endpoint struct {
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	APIBase  string `json:"api_base" mapstructure:"api_base"`
	Provider string `json:"provider,omitempty" mapstructure:"provider"`
	Model    string `json:"model,omitempty" mapstructure:"model"`
}

// Label identifies the endpoint in logs without exposing the key.
func (e Endpoint) Label() string {
	key := e.APIKey
	if len(key) > 7 {
		key = key[:7]
	}
	base := e.APIBase
	if base == "" {
		base = "default"
	}
	return fmt.Sprintf("%s@%s", key, base)
}

// ParseModelSettings parses a pool declaration of the form
// "api_key=K1,api_base=B1;api_key=K2,api_base=B2". Items are separated by
// ';', pairs by ',' and keys from values by the first '='. Items without an
// api_key are skipped.
func ParseModelSettings(settings string) []Endpoint {
	var endpoints []Endpoint
	for _, item := range strings.Split(settings, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		var e Endpoint
		for _, kv := range strings.Split(item, ",") {
			key, value, ok := strings.Cut(strings.TrimSpace(kv), "=")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)
			switch strings.TrimSpace(key) {
			case "api_key":
				e.APIKey = value
			case "api_base":
				e.APIBase = value
			case "provider":
				e.Provider = value
			case "model":
				e.Model = value
			}
		}
		if e.APIKey == "" {
			continue
		}
		endpoints = append(endpoints, e)
	}
	return endpoints
}

type handle struct {
	endpoint Endpoint
	backend  Backend
}

// endpointPool hands out a backend per attempt and caches the handles.
type endpointPool struct {
	endpoints []Endpoint
	factory   BackendFactory
	pick      func(n int) int

	mu      sync.Mutex
	handles map[int]Backend
}

func newEndpointPool(endpoints []Endpoint, fallback Endpoint, factory BackendFactory, pick func(n int) int) *endpointPool {
	if len(endpoints) == 0 {
		endpoints = []Endpoint{fallback}
	}
	if pick == nil {
		pick = rand.Intn
	}
	return &endpointPool{
		endpoints: endpoints,
		factory:   factory,
		pick:      pick,
		handles:   make(map[int]Backend),
	}
}

func (p *endpointPool) acquire() (handle, error) {
	idx := 0
	if len(p.endpoints) > 1 {
		idx = p.pick(len(p.endpoints))
	}
	endpoint := p.endpoints[idx]

	p.mu.Lock()
	defer p.mu.Unlock()

	if backend, ok := p.handles[idx]; ok {
		return handle{endpoint: endpoint, backend: backend}, nil
	}

	backend, err := p.factory.NewBackend(endpoint)
	if err != nil {
		return handle{}, fmt.Errorf("failed to create backend for %s: %w", endpoint.Label(), err)
	}
	p.handles[idx] = backend
	return handle{endpoint: endpoint, backend: backend}, nil
}

// reset drops every cached handle so the next attempt opens fresh connections.
func (p *endpointPool) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handles = make(map[int]Backend)
}
