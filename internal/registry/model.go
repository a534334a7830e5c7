// Package registry implements the durable write-through catalog of agent
// records, grounded on an internal/registry/model/agent.go-style entity
// shape and the interface-over-pluggable-backend pattern used to separate
// validation from storage, generalized from a Postgres-backed store to a
// file-based JSON catalog.
package registry

import "time"

// Capability describes one capability an agent record advertises.
type Capability struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Version     string `json:"version,omitempty"`
}

// Record is the registry's entity: an agent's full capability manifest.
type Record struct {
	URN          string                `json:"urn"`
	Name         string                `json:"name"`
	Version      string                `json:"version"`
	Description  string                `json:"description"`
	Capabilities map[string]Capability `json:"capabilities"`
	Endpoints    map[string]string     `json:"endpoints,omitempty"`
	Auth         map[string]any        `json:"auth,omitempty"`
	RegisteredAt time.Time             `json:"registeredAt"`
	LastUpdated  time.Time             `json:"lastUpdated"`
}

// CapabilityNames returns the record's capability names in unspecified
// order, for use in index maintenance.
func (r Record) CapabilityNames() []string {
	names := make([]string, 0, len(r.Capabilities))
	for name := range r.Capabilities {
		names = append(names, name)
	}
	return names
}

// Stats summarizes the registry's current state.
type Stats struct {
	TotalAgents       int            `json:"totalAgents"`
	TotalDomains      int            `json:"totalDomains"`
	TotalCapabilities int            `json:"totalCapabilities"`
	AgentsByDomain    map[string]int `json:"agentsByDomain"`
	LastSaved         time.Time      `json:"lastSaved"`
}

// Health summarizes the registry's operational health.
type Health struct {
	Status      string    `json:"status"` // "healthy", "degraded"
	TotalAgents int       `json:"totalAgents"`
	DataDir     string    `json:"dataDir"`
	CheckedAt   time.Time `json:"checkedAt"`
}

// Event is the payload passed to listeners registered with Store.OnEvent
// (Type "agentRegistered").
type Event struct {
	Type      string    `json:"type"`
	URN       string    `json:"urn"`
	Timestamp time.Time `json:"timestamp"`
}
