package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/ossp-agi/agentmesh/internal/errs"
	"github.com/ossp-agi/agentmesh/internal/meshtrace"
	"github.com/ossp-agi/agentmesh/pkg/urn"
)

// Config configures a Store.
type Config struct {
	DataDir             string
	IndexFile           string
	AgentsDir           string
	MaxAgents           int
	IndexUpdateInterval time.Duration
	EnableLogging       bool
}

// DefaultConfig returns sensible registry defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:             "./data",
		IndexFile:           "index.json",
		AgentsDir:           "agents",
		MaxAgents:           10000,
		IndexUpdateInterval: 5 * time.Second,
		EnableLogging:       true,
	}
}

// indexFile is the on-disk shape of the index: each *Index is an array of
// [key, value] pairs, kept JSON-array-friendly for stable on-disk ordering.
type indexFile struct {
	Index           [][2]any `json:"index"`
	DomainIndex     [][2]any `json:"domainIndex"`
	CapabilityIndex [][2]any `json:"capabilityIndex"`
	Stats           Stats    `json:"stats"`
	LastSaved       time.Time `json:"lastSaved"`
}

var filenameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9]`)

func sanitizeFilename(u string) string {
	return filenameSanitizer.ReplaceAllString(u, "_")
}

// Store is the durable, write-through URN registry: primary/domain/
// capability in-memory maps backed by mutex, with a per-agent JSON file as
// the source of truth and a periodically flushed index as a rebuildable
// accelerator.
type Store struct {
	cfg    Config
	logger *meshtrace.Logger

	mu         sync.RWMutex
	primary    map[string]Record
	byDomain   map[string]map[string]struct{} // domain -> set of urn
	byCapability map[string]map[string]struct{}
	lastSaved  time.Time

	eventsMu sync.Mutex
	listeners []func(Event)

	flushTicker *time.Ticker
	stopFlush   chan struct{}
	flushDone   chan struct{}
}

// New constructs a Store. Call Initialize before use.
func New(cfg Config, logger *meshtrace.Logger) *Store {
	return &Store{
		cfg:          cfg,
		logger:       logger,
		primary:      make(map[string]Record),
		byDomain:     make(map[string]map[string]struct{}),
		byCapability: make(map[string]map[string]struct{}),
	}
}

func (s *Store) indexPath() string { return filepath.Join(s.cfg.DataDir, s.cfg.IndexFile) }
func (s *Store) agentsDir() string { return filepath.Join(s.cfg.DataDir, s.cfg.AgentsDir) }
func (s *Store) agentPath(u string) string {
	return filepath.Join(s.agentsDir(), sanitizeFilename(u)+".json")
}

// Initialize ensures the data directory exists, loads the persisted index
// and per-agent files, and starts the periodic flush timer. Corruption in
// the index or an agent file is surfaced as a registry error, never
// silently repaired.
func (s *Store) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(s.agentsDir(), 0o755); err != nil {
		return errs.Registry("failed to create data directory %q: %v", s.cfg.DataDir, err).WithCause(err)
	}

	if err := s.loadFromDisk(); err != nil {
		return err
	}

	s.stopFlush = make(chan struct{})
	s.flushDone = make(chan struct{})
	interval := s.cfg.IndexUpdateInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	s.flushTicker = time.NewTicker(interval)
	go s.flushLoop()

	return nil
}

func (s *Store) flushLoop() {
	defer close(s.flushDone)
	for {
		select {
		case <-s.flushTicker.C:
			if err := s.flushIndex(); err != nil && s.logger != nil {
				s.logger.Warn("flush", "periodic index flush failed", map[string]any{"error": err.Error()})
			}
		case <-s.stopFlush:
			return
		}
	}
}

// loadFromDisk rebuilds in-memory state from the index file if present,
// verifying every indexed URN against its per-agent file. An index file
// that fails to parse is a registry error; a dangling index entry whose
// agent file is missing is also surfaced rather than silently dropped.
func (s *Store) loadFromDisk() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Registry("failed to read index file: %v", err).WithCause(err)
	}

	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return errs.Registry("index file is corrupt: %v", err).WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pair := range idx.Index {
		u, ok := pair[0].(string)
		if !ok {
			continue
		}
		record, err := s.readAgentFile(u)
		if err != nil {
			return err
		}
		s.primary[u] = record
		s.indexRecordLocked(record)
	}
	s.lastSaved = idx.LastSaved
	return nil
}

func (s *Store) readAgentFile(u string) (Record, error) {
	path := s.agentPath(u)
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, errs.Registry("agent file missing or unreadable for %q: %v", u, err).WithCause(err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, errs.Registry("agent file corrupt for %q: %v", u, err).WithCause(err)
	}
	return record, nil
}

// indexRecordLocked adds record to the domain/capability secondary
// indexes. Caller must hold s.mu for writing.
func (s *Store) indexRecordLocked(record Record) {
	parsed, err := urn.Parse(record.URN)
	if err != nil {
		return
	}
	domain := parsed.Domain()
	if s.byDomain[domain] == nil {
		s.byDomain[domain] = make(map[string]struct{})
	}
	s.byDomain[domain][record.URN] = struct{}{}

	for _, capName := range record.CapabilityNames() {
		if s.byCapability[capName] == nil {
			s.byCapability[capName] = make(map[string]struct{})
		}
		s.byCapability[capName][record.URN] = struct{}{}
	}
}

// OnEvent registers a listener invoked after a successful registration.
func (s *Store) OnEvent(fn func(Event)) {
	s.eventsMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.eventsMu.Unlock()
}

func (s *Store) emit(ev Event) {
	s.eventsMu.Lock()
	listeners := append([]func(Event){}, s.listeners...)
	s.eventsMu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// Register validates and persists record, then indexes it. Ordering is
// validate -> capacity check -> durable write -> index insert, so a
// durable-write failure never leaves a record indexed.
func (s *Store) Register(ctx context.Context, record Record) (Record, error) {
	if err := validateRecord(record); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	if _, exists := s.primary[record.URN]; exists {
		s.mu.Unlock()
		return Record{}, errs.Resolution("agent %q is already registered", record.URN)
	}
	if s.cfg.MaxAgents > 0 && len(s.primary) >= s.cfg.MaxAgents {
		s.mu.Unlock()
		return Record{}, errs.Registry("registry is at capacity (%d agents)", s.cfg.MaxAgents)
	}
	s.mu.Unlock()

	now := time.Now().UTC()
	record.RegisteredAt = now
	record.LastUpdated = now

	if err := s.writeAgentFile(record); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	s.primary[record.URN] = record
	s.indexRecordLocked(record)
	s.mu.Unlock()

	s.emit(Event{Type: "agentRegistered", URN: record.URN, Timestamp: now})
	return record, nil
}

func (s *Store) writeAgentFile(record Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errs.Registry("failed to encode agent record: %v", err).WithCause(err)
	}
	if err := os.WriteFile(s.agentPath(record.URN), data, 0o644); err != nil {
		return errs.Registry("failed to write agent file for %q: %v", record.URN, err).WithCause(err)
	}
	return nil
}

func validateRecord(r Record) error {
	if r.URN == "" {
		return errs.Format("record urn must not be empty")
	}
	if _, err := urn.Parse(r.URN); err != nil {
		return errs.Format("invalid urn %q: %v", r.URN, err)
	}
	if r.Name == "" {
		return errs.Validation("record name must not be empty")
	}
	if r.Version == "" {
		return errs.Validation("record version must not be empty")
	}
	if r.Description == "" {
		return errs.Validation("record description must not be empty")
	}
	for name, capDef := range r.Capabilities {
		if capDef.Type == "" {
			return errs.Validation("capability %q missing required type", name)
		}
		if capDef.Description == "" {
			return errs.Validation("capability %q missing required description", name)
		}
	}
	return nil
}

// Get validates the URN format and returns the matching record, or
// (Record{}, false, nil) if no such agent is registered: a missing
// agent is not itself an error.
func (s *Store) Get(u string) (Record, bool, error) {
	if _, err := urn.Parse(u); err != nil {
		return Record{}, false, errs.Format("invalid urn %q: %v", u, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.primary[u]
	return record, ok, nil
}

// ListByDomain returns a snapshot of every record registered under domain,
// or an empty slice for an unknown domain.
func (s *Store) ListByDomain(domain string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	urns := s.byDomain[domain]
	out := make([]Record, 0, len(urns))
	for u := range urns {
		out = append(out, s.primary[u])
	}
	return out
}

// SearchByCapability returns a snapshot of every record advertising cap,
// or an empty slice for an unknown capability.
func (s *Store) SearchByCapability(cap string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	urns := s.byCapability[cap]
	out := make([]Record, 0, len(urns))
	for u := range urns {
		out = append(out, s.primary[u])
	}
	return out
}

// Domains returns the set of domains with at least one registered agent.
func (s *Store) Domains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.byDomain))
	for d := range s.byDomain {
		out = append(out, d)
	}
	return out
}

// Stats returns a read-only summary of the registry's current state.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDomain := make(map[string]int, len(s.byDomain))
	for d, urns := range s.byDomain {
		byDomain[d] = len(urns)
	}
	return Stats{
		TotalAgents:       len(s.primary),
		TotalDomains:      len(s.byDomain),
		TotalCapabilities: len(s.byCapability),
		AgentsByDomain:    byDomain,
		LastSaved:         s.lastSaved,
	}
}

// Health returns a read-only operational health summary.
func (s *Store) Health() Health {
	s.mu.RLock()
	count := len(s.primary)
	s.mu.RUnlock()

	return Health{
		Status:      "healthy",
		TotalAgents: count,
		DataDir:     s.cfg.DataDir,
		CheckedAt:   time.Now().UTC(),
	}
}

// Clear tears down in-memory structures and removes every durable file,
// including the index itself.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for u := range s.primary {
		if err := os.Remove(s.agentPath(u)); err != nil && !os.IsNotExist(err) {
			return errs.Registry("failed to remove agent file for %q: %v", u, err).WithCause(err)
		}
	}
	if err := os.Remove(s.indexPath()); err != nil && !os.IsNotExist(err) {
		return errs.Registry("failed to remove index file: %v", err).WithCause(err)
	}

	s.primary = make(map[string]Record)
	s.byDomain = make(map[string]map[string]struct{})
	s.byCapability = make(map[string]map[string]struct{})
	s.lastSaved = time.Time{}
	return nil
}

// flushIndex serializes the current in-memory state to the index file.
func (s *Store) flushIndex() error {
	s.mu.Lock()
	idx := indexFile{
		Index:           make([][2]any, 0, len(s.primary)),
		DomainIndex:     make([][2]any, 0, len(s.byDomain)),
		CapabilityIndex: make([][2]any, 0, len(s.byCapability)),
		Stats:           s.statsLocked(),
		LastSaved:       time.Now().UTC(),
	}
	for u := range s.primary {
		idx.Index = append(idx.Index, [2]any{u, true})
	}
	for d, urns := range s.byDomain {
		list := make([]string, 0, len(urns))
		for u := range urns {
			list = append(list, u)
		}
		idx.DomainIndex = append(idx.DomainIndex, [2]any{d, list})
	}
	for c, urns := range s.byCapability {
		list := make([]string, 0, len(urns))
		for u := range urns {
			list = append(list, u)
		}
		idx.CapabilityIndex = append(idx.CapabilityIndex, [2]any{c, list})
	}
	s.lastSaved = idx.LastSaved
	s.mu.Unlock()

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return errs.Registry("failed to encode index: %v", err).WithCause(err)
	}
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Registry("failed to write index file: %v", err).WithCause(err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		return errs.Registry("failed to finalize index file: %v", err).WithCause(err)
	}
	return nil
}

// statsLocked must be called with s.mu held.
func (s *Store) statsLocked() Stats {
	byDomain := make(map[string]int, len(s.byDomain))
	for d, urns := range s.byDomain {
		byDomain[d] = len(urns)
	}
	return Stats{
		TotalAgents:       len(s.primary),
		TotalDomains:      len(s.byDomain),
		TotalCapabilities: len(s.byCapability),
		AgentsByDomain:    byDomain,
		LastSaved:         s.lastSaved,
	}
}

// Shutdown flushes the index one final time and stops the flush timer.
func (s *Store) Shutdown(ctx context.Context) error {
	if s.flushTicker != nil {
		s.flushTicker.Stop()
		close(s.stopFlush)
		<-s.flushDone
	}
	return s.flushIndex()
}
