// Package meshcard defines the well-known capability manifest JSON shapes
// the registry exposes (the ACM and the per-domain capability list),
// grounded on a pkg/agentcard/schema.go-style card shape, generalized
// from product-specific card fields to the mesh's
// URN-addressed manifest.
package meshcard

import (
	"time"

	"github.com/ossp-agi/agentmesh/internal/registry"
)

// Generator identifies the producer stamped into every manifest's metadata.
const (
	Generator        = "agentmesh"
	GeneratorVersion = "1.0.0"
)

// HealthSummary is the manifest's embedded health snapshot.
type HealthSummary struct {
	Status      string    `json:"status"`
	LastChecked time.Time `json:"lastChecked,omitempty"`
}

// ManifestMetadata carries the record's identity and lifecycle fields.
type ManifestMetadata struct {
	URN              string    `json:"urn"`
	Name             string    `json:"name"`
	Version          string    `json:"version"`
	Description      string    `json:"description"`
	CreatedAt        time.Time `json:"createdAt"`
	Generator        string    `json:"generator"`
	GeneratorVersion string    `json:"generatorVersion"`
}

// ManifestSpec carries the record's capability/endpoint/auth/health shape.
type ManifestSpec struct {
	Capabilities map[string]registry.Capability `json:"capabilities"`
	Endpoints    map[string]string              `json:"endpoints,omitempty"`
	Auth         map[string]any                 `json:"auth,omitempty"`
	Health       HealthSummary                  `json:"health"`
}

// Manifest is the Agent Capability Manifest (ACM) served at the
// per-agent well-known endpoint.
type Manifest struct {
	APIVersion string           `json:"apiVersion"`
	Kind       string           `json:"kind"`
	Metadata   ManifestMetadata `json:"metadata"`
	Spec       ManifestSpec     `json:"spec"`
}

// FromRecord builds a Manifest from a registered agent record.
func FromRecord(r registry.Record) Manifest {
	return Manifest{
		APIVersion: "acm.ossp-agi.io/v1",
		Kind:       "AgentCapabilityManifest",
		Metadata: ManifestMetadata{
			URN:              r.URN,
			Name:             r.Name,
			Version:          r.Version,
			Description:      r.Description,
			CreatedAt:        r.RegisteredAt,
			Generator:        Generator,
			GeneratorVersion: GeneratorVersion,
		},
		Spec: ManifestSpec{
			Capabilities: r.Capabilities,
			Endpoints:    r.Endpoints,
			Auth:         r.Auth,
			Health:       HealthSummary{Status: "unknown"},
		},
	}
}

// ListMetadata is the List envelope's metadata block.
type ListMetadata struct {
	Domain      string    `json:"domain,omitempty"`
	Count       int       `json:"count"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// List is the AgentCapabilityList well-known shape.
type List struct {
	APIVersion string       `json:"apiVersion"`
	Kind       string       `json:"kind"`
	Metadata   ListMetadata `json:"metadata"`
	Items      []Manifest   `json:"items"`
}
