// Package urn provides parsing and validation for agent Uniform Resource
// Names.
//
// Canonical form: urn:agent:<domain>:<name>[@<version>]
//
// Examples:
//
//	urn:agent:ai:ml-agent@1.0.0
//	urn:agent:finance:ledger-bot
//
// domain and name are required; version is optional and defaults to the
// literal "latest" when resolving (String still round-trips the input
// exactly as written — a URN parsed without "@version" serializes back
// without one).
package urn

import (
	"fmt"
	"strings"
)

const (
	prefix        = "urn:agent:"
	defaultVersion = "latest"
)

// URN represents a parsed agent URN.
type URN struct {
	domain   string
	name     string
	version  string // "" if not present in the original string
	hadVer   bool
	raw      string
}

// Parse parses a URN string of the form urn:agent:<domain>:<name>[@<version>].
//
//	domain  matches [^:]+
//	name    matches [^@]+
//	version matches .+ (optional)
func Parse(raw string) (*URN, error) {
	if !strings.HasPrefix(raw, prefix) {
		return nil, fmt.Errorf("urn: missing %q prefix in %q", prefix, raw)
	}

	rest := raw[len(prefix):]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return nil, fmt.Errorf("urn: missing domain/name separator in %q", raw)
	}

	domain := rest[:colon]
	nameAndVersion := rest[colon+1:]

	if domain == "" {
		return nil, fmt.Errorf("urn: domain must not be empty in %q", raw)
	}
	if strings.Contains(domain, ":") {
		return nil, fmt.Errorf("urn: domain must not contain %q in %q", ":", raw)
	}

	name := nameAndVersion
	version := ""
	hadVer := false
	if at := strings.IndexByte(nameAndVersion, '@'); at >= 0 {
		name = nameAndVersion[:at]
		version = nameAndVersion[at+1:]
		hadVer = true
	}

	if name == "" {
		return nil, fmt.Errorf("urn: name must not be empty in %q", raw)
	}
	if hadVer && version == "" {
		return nil, fmt.Errorf("urn: version must not be empty when %q is present in %q", "@", raw)
	}

	return &URN{
		domain:  domain,
		name:    name,
		version: version,
		hadVer:  hadVer,
		raw:     raw,
	}, nil
}

// MustParse parses a URN and panics on error. Useful in tests and init blocks.
func MustParse(raw string) *URN {
	u, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// Domain returns the domain segment.
func (u *URN) Domain() string { return u.domain }

// Name returns the name segment.
func (u *URN) Name() string { return u.name }

// Version returns the version segment, defaulting to "latest" when the
// original URN carried none.
func (u *URN) Version() string {
	if !u.hadVer {
		return defaultVersion
	}
	return u.version
}

// HasExplicitVersion reports whether the parsed URN carried an "@version"
// suffix.
func (u *URN) HasExplicitVersion() bool { return u.hadVer }

// String returns the canonical URN string, round-tripping exactly what was
// parsed (no "@version" is synthesized when the input had none).
func (u *URN) String() string {
	if u.hadVer {
		return fmt.Sprintf("%s%s:%s@%s", prefix, u.domain, u.name, u.version)
	}
	return fmt.Sprintf("%s%s:%s", prefix, u.domain, u.name)
}

// Equal reports case-sensitive, exact-string equality between two URNs.
func (u *URN) Equal(other *URN) bool {
	if u == nil || other == nil {
		return u == other
	}
	return u.String() == other.String()
}
