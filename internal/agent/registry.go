package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnavailable is returned when an agent is missing or deactivated.
var ErrUnavailable = errors.New("agent unavailable")

// Registry holds the set of agent profiles the coordinator can dispatch to.
// All methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Profile
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Profile)}
}

// DefaultRegistry returns a registry populated with the built-in agents.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range defaultProfiles() {
		r.Register(p)
	}
	return r
}

func defaultProfiles() []Profile {
	return []Profile{
		{
			ID:             "search-agent",
			Role:           "information retrieval",
			Capabilities:   []string{"search", "lookup", "retrieval"},
			Model:          "anthropic/claude-3.5-haiku",
			Temperature:    0.1,
			MaxTokens:      1024,
			PromptTemplate: "You are a retrieval specialist for a travel agency. Find the facts relevant to: %s",
			Active:         true,
		},
		{
			ID:             "analysis-agent",
			Role:           "data analysis",
			Capabilities:   []string{"analyze", "compare", "evaluate"},
			Model:          "anthropic/claude-sonnet-4",
			Temperature:    0.3,
			MaxTokens:      2048,
			PromptTemplate: "You are an analyst for a travel agency. Analyze the following and state your conclusions: %s",
			Active:         true,
		},
		{
			ID:             "synthesis-agent",
			Role:           "response synthesis",
			Capabilities:   []string{"synthesize", "summarize", "compose"},
			Model:          "anthropic/claude-sonnet-4",
			Temperature:    0.5,
			MaxTokens:      2048,
			PromptTemplate: "You are a writer for a travel agency. Combine the findings below into one coherent answer: %s",
			Active:         true,
		},
		{
			ID:             "validation-agent",
			Role:           "fact validation",
			Capabilities:   []string{"validate", "verify", "check"},
			Model:          "anthropic/claude-3.5-haiku",
			Temperature:    0.0,
			MaxTokens:      1024,
			PromptTemplate: "You are a validator for a travel agency. Check the following answer for errors and contradictions: %s",
			Active:         true,
		},
		{
			ID:             "execution-agent",
			Role:           "action execution",
			Capabilities:   []string{"execute", "book", "modify"},
			Model:          "anthropic/claude-sonnet-4",
			Temperature:    0.1,
			MaxTokens:      1024,
			PromptTemplate: "You are an operations agent for a travel agency. Carry out this instruction precisely: %s",
			Active:         true,
		},
	}
}

// Register adds or replaces a profile by ID.
func (r *Registry) Register(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[p.ID] = p
}

// Get returns the profile for id. Missing or deactivated agents return
// ErrUnavailable.
func (r *Registry) Get(id string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.agents[id]
	if !ok {
		return Profile{}, fmt.Errorf("agent %q: %w", id, ErrUnavailable)
	}
	if !p.Active {
		return Profile{}, fmt.Errorf("agent %q is deactivated: %w", id, ErrUnavailable)
	}
	return p, nil
}

// Activate marks the agent as available for dispatch.
func (r *Registry) Activate(id string) error {
	return r.setActive(id, true)
}

// Deactivate removes the agent from dispatch without unregistering it.
func (r *Registry) Deactivate(id string) error {
	return r.setActive(id, false)
}

func (r *Registry) setActive(id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("agent %q: %w", id, ErrUnavailable)
	}
	p.Active = active
	r.agents[id] = p
	return nil
}

// List returns all registered profiles, active or not, sorted by ID.
func (r *Registry) List() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Profile, 0, len(r.agents))
	for _, p := range r.agents {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindByCapability returns active agents that list the capability, sorted by ID.
func (r *Registry) FindByCapability(name string) []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Profile
	for _, p := range r.agents {
		if p.Active && p.HasCapability(name) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
