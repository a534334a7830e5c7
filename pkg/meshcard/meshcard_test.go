package meshcard

import (
	"testing"
	"time"

	"github.com/ossp-agi/agentmesh/internal/registry"
)

func TestFromRecordCarriesIdentityAndCapabilities(t *testing.T) {
	r := registry.Record{
		URN:         "urn:agent:ai:ml-agent",
		Name:        "ml-agent",
		Version:     "1.0.0",
		Description: "classifies things",
		Capabilities: map[string]registry.Capability{
			"classify": {Type: "inference", Description: "classifies input"},
		},
		Endpoints:    map[string]string{"health": "https://ml.example/health"},
		RegisteredAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	m := FromRecord(r)
	if m.APIVersion != "acm.ossp-agi.io/v1" {
		t.Errorf("APIVersion = %q", m.APIVersion)
	}
	if m.Metadata.URN != r.URN {
		t.Errorf("Metadata.URN = %q, want %q", m.Metadata.URN, r.URN)
	}
	if _, ok := m.Spec.Capabilities["classify"]; !ok {
		t.Error("expected the classify capability to be carried through")
	}
	if m.Spec.Health.Status != "unknown" {
		t.Errorf("Health.Status = %q, want unknown", m.Spec.Health.Status)
	}
}
