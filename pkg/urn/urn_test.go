package urn

import "testing"

func TestParseValid(t *testing.T) {
	cases := []struct {
		raw     string
		domain  string
		name    string
		version string
		hasVer  bool
	}{
		{"urn:agent:ai:ml-agent@1.0.0", "ai", "ml-agent", "1.0.0", true},
		{"urn:agent:finance:ledger-bot", "finance", "ledger-bot", "latest", false},
		{"urn:agent:acme.com:support@2026.1", "acme.com", "support", "2026.1", true},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			u, err := Parse(tc.raw)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tc.raw, err)
			}
			if u.Domain() != tc.domain {
				t.Errorf("Domain() = %q, want %q", u.Domain(), tc.domain)
			}
			if u.Name() != tc.name {
				t.Errorf("Name() = %q, want %q", u.Name(), tc.name)
			}
			if u.Version() != tc.version {
				t.Errorf("Version() = %q, want %q", u.Version(), tc.version)
			}
			if u.HasExplicitVersion() != tc.hasVer {
				t.Errorf("HasExplicitVersion() = %v, want %v", u.HasExplicitVersion(), tc.hasVer)
			}
			if got := u.String(); got != tc.raw {
				t.Errorf("String() round-trip = %q, want %q", got, tc.raw)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []string{
		"",
		"not-a-urn",
		"urn:agent:",
		"urn:agent:domain",
		"urn:agent::name",
		"urn:agent:domain:",
		"urn:agent:domain:name@",
		"agent:domain:name",
	}

	for _, raw := range cases {
		t.Run(raw, func(t *testing.T) {
			if _, err := Parse(raw); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", raw)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	a := MustParse("urn:agent:ai:ml-agent@1.0.0")
	b := MustParse("urn:agent:ai:ml-agent@1.0.0")
	c := MustParse("urn:agent:ai:ml-agent@1.0.1")

	if !a.Equal(b) {
		t.Error("expected equal URNs to compare equal")
	}
	if a.Equal(c) {
		t.Error("expected differing versions to compare unequal")
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected MustParse to panic on invalid input")
		}
	}()
	MustParse("bad")
}
