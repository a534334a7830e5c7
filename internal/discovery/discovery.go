// Package discovery implements the read-side query engine over the
// registry: filter, sort, paginate, and an optional health
// probe, behind a bounded TTL cache invalidated on every registration.
// Grounded on an internal/health/checker.go-style elapsed-time health
// probe pattern and its mutex-guarded cache-of-results idiom.
package discovery

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ossp-agi/agentmesh/internal/errs"
	"github.com/ossp-agi/agentmesh/internal/registry"
	"github.com/ossp-agi/agentmesh/pkg/urn"
)

// Config configures a Service.
type Config struct {
	MaxResults    int
	CacheTTL      time.Duration
	EnableCaching bool
	EnableLogging bool
	// HealthProbeTimeout bounds each per-agent health check issued when a
	// query sets IncludeHealth.
	HealthProbeTimeout time.Duration
}

// DefaultConfig returns sensible discovery defaults.
func DefaultConfig() Config {
	return Config{
		MaxResults:         100,
		CacheTTL:           30 * time.Second,
		EnableCaching:      true,
		EnableLogging:      true,
		HealthProbeTimeout: 3 * time.Second,
	}
}

// Sort describes the requested ordering.
type Sort struct {
	Field string // "name", "version", "registeredAt", "lastUpdated"
	Order string // "asc", "desc"
}

// Query describes a discovery request: domain/capability/name filters,
type Query struct {
	Domain        string
	Capabilities  []string
	Version       string
	Name          string
	Sort          *Sort
	Limit         int
	Offset        int
	IncludeHealth bool
}

var validSortFields = map[string]bool{"name": true, "version": true, "registeredAt": true, "lastUpdated": true}
var validSortOrders = map[string]bool{"asc": true, "desc": true}

func (q Query) validate(maxResults int) error {
	if q.Limit < 0 || q.Limit > maxResults {
		return errs.Validation("limit must be within [0, %d]", maxResults)
	}
	if q.Offset < 0 {
		return errs.Validation("offset must be >= 0")
	}
	if q.Sort != nil {
		if !validSortFields[q.Sort.Field] {
			return errs.Validation("unrecognized sort field %q", q.Sort.Field)
		}
		if !validSortOrders[q.Sort.Order] {
			return errs.Validation("unrecognized sort order %q", q.Sort.Order)
		}
	}
	return nil
}

// AgentHealth is attached per-record when Query.IncludeHealth is set.
type AgentHealth struct {
	Status       string        `json:"status"` // "healthy", "unhealthy", "unknown"
	LastChecked  time.Time     `json:"lastChecked"`
	ResponseTime time.Duration `json:"responseTime,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// ResultAgent pairs a record with its optional health snapshot.
type ResultAgent struct {
	registry.Record
	Health *AgentHealth `json:"health,omitempty"`
}

// Result is the DiscoveryResult value object.
type Result struct {
	Agents        []ResultAgent `json:"agents"`
	Total         int           `json:"total"`
	Returned      int           `json:"returned"`
	Query         Query         `json:"query"`
	ExecutedAt    time.Time     `json:"executedAt"`
	ExecutionTime time.Duration `json:"executionTime"`
}

type cacheEntry struct {
	result    Result
	expiresAt time.Time
}

// Service is the query engine over a registry.Store with a TTL'd,
// invalidate-on-write result cache.
type Service struct {
	cfg   Config
	store *registry.Store
	httpClient *http.Client

	cacheMu sync.Mutex
	cache   map[string]cacheEntry

	hitsMu sync.Mutex
	hits   int64
	misses int64
}

// New constructs a Service over store and subscribes to its registration
// events so the cache is invalidated the moment a new agent is indexed.
func New(cfg Config, store *registry.Store) *Service {
	s := &Service{
		cfg:   cfg,
		store: store,
		cache: make(map[string]cacheEntry),
		httpClient: &http.Client{
			Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: false}},
		},
	}
	store.OnEvent(func(registry.Event) { s.invalidateCache() })
	return s
}

func (s *Service) invalidateCache() {
	s.cacheMu.Lock()
	s.cache = make(map[string]cacheEntry)
	s.cacheMu.Unlock()
}

// cacheKey builds a canonical JSON key with stable field order so
// structurally identical queries always hash to the same string.
func cacheKey(q Query) string {
	type canonical struct {
		Domain        string   `json:"domain"`
		Capabilities  []string `json:"capabilities"`
		Version       string   `json:"version"`
		Name          string   `json:"name"`
		SortField     string   `json:"sortField"`
		SortOrder     string   `json:"sortOrder"`
		Limit         int      `json:"limit"`
		Offset        int      `json:"offset"`
		IncludeHealth bool     `json:"includeHealth"`
	}
	c := canonical{
		Domain:        q.Domain,
		Capabilities:  append([]string{}, q.Capabilities...),
		Version:       q.Version,
		Name:          strings.ToLower(q.Name),
		Limit:         q.Limit,
		Offset:        q.Offset,
		IncludeHealth: q.IncludeHealth,
	}
	sort.Strings(c.Capabilities)
	if q.Sort != nil {
		c.SortField = q.Sort.Field
		c.SortOrder = q.Sort.Order
	}
	data, _ := json.Marshal(c)
	return string(data)
}

// Discover runs q against the registry, serving from cache when possible.
func (s *Service) Discover(ctx context.Context, q Query) (Result, error) {
	if err := q.validate(s.cfg.MaxResults); err != nil {
		return Result{}, err
	}

	key := cacheKey(q)
	if s.cfg.EnableCaching {
		if cached, ok := s.lookupCache(key); ok {
			return cached, nil
		}
	}

	start := time.Now()
	candidates := s.gatherCandidates(q.Domain)
	filtered := filterRecords(candidates, q)
	sortRecords(filtered, q.Sort)

	total := len(filtered)
	limit := q.Limit
	if limit <= 0 {
		limit = s.cfg.MaxResults
	}
	page := paginate(filtered, q.Offset, limit)

	agents := make([]ResultAgent, len(page))
	for i, r := range page {
		agents[i] = ResultAgent{Record: r}
	}
	if q.IncludeHealth {
		s.attachHealth(ctx, agents)
	}

	result := Result{
		Agents:        agents,
		Total:         total,
		Returned:      len(page),
		Query:         q,
		ExecutedAt:    start,
		ExecutionTime: time.Since(start),
	}

	if s.cfg.EnableCaching {
		s.storeCache(key, result)
	}
	return result, nil
}

func (s *Service) lookupCache(key string) (Result, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	entry, ok := s.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		s.recordMiss()
		return Result{}, false
	}
	s.recordHit()
	return entry.result, true
}

func (s *Service) storeCache(key string, result Result) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache[key] = cacheEntry{result: result, expiresAt: time.Now().Add(s.cfg.CacheTTL)}
}

func (s *Service) recordHit() {
	s.hitsMu.Lock()
	s.hits++
	s.hitsMu.Unlock()
}

func (s *Service) recordMiss() {
	s.hitsMu.Lock()
	s.misses++
	s.hitsMu.Unlock()
}

// CacheStats reports the real observed hit/miss counts and derived ratio.
func (s *Service) CacheStats() (hits, misses int64, ratio float64) {
	s.hitsMu.Lock()
	defer s.hitsMu.Unlock()
	total := s.hits + s.misses
	if total == 0 {
		return s.hits, s.misses, 0
	}
	return s.hits, s.misses, float64(s.hits) / float64(total)
}

func (s *Service) gatherCandidates(domain string) []registry.Record {
	if domain != "" {
		return s.store.ListByDomain(domain)
	}
	var all []registry.Record
	for _, d := range s.store.Domains() {
		all = append(all, s.store.ListByDomain(d)...)
	}
	return all
}

func filterRecords(records []registry.Record, q Query) []registry.Record {
	out := make([]registry.Record, 0, len(records))
	nameLower := strings.ToLower(q.Name)

	for _, r := range records {
		if q.Version != "" && r.Version != q.Version {
			continue
		}
		if q.Name != "" && !strings.Contains(strings.ToLower(r.Name), nameLower) {
			continue
		}
		if !hasAllCapabilities(r, q.Capabilities) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func hasAllCapabilities(r registry.Record, required []string) bool {
	for _, c := range required {
		if _, ok := r.Capabilities[c]; !ok {
			return false
		}
	}
	return true
}

func sortRecords(records []registry.Record, s *Sort) {
	if s == nil {
		return
	}
	less := func(i, j int) bool {
		var cmp int
		switch s.Field {
		case "name":
			cmp = strings.Compare(strings.ToLower(records[i].Name), strings.ToLower(records[j].Name))
		case "version":
			cmp = strings.Compare(strings.ToLower(records[i].Version), strings.ToLower(records[j].Version))
		case "registeredAt":
			cmp = compareTime(records[i].RegisteredAt, records[j].RegisteredAt)
		case "lastUpdated":
			cmp = compareTime(records[i].LastUpdated, records[j].LastUpdated)
		}
		if s.Order == "desc" {
			return cmp > 0
		}
		return cmp < 0
	}
	sort.SliceStable(records, less)
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

func paginate(records []registry.Record, offset, limit int) []registry.Record {
	if offset >= len(records) {
		return nil
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	return records[offset:end]
}

// attachHealth probes each agent's endpoints.health concurrently, bounded
// by cfg.HealthProbeTimeout, and records a genuine elapsed-time
// measurement (replacing the naive same-instant measurement the source
// system's probe was prone to).
func (s *Service) attachHealth(ctx context.Context, agents []ResultAgent) {
	var wg sync.WaitGroup
	for i := range agents {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agents[i].Health = s.probeHealth(ctx, agents[i].Record)
		}(i)
	}
	wg.Wait()
}

func (s *Service) probeHealth(ctx context.Context, r registry.Record) *AgentHealth {
	now := time.Now().UTC()
	healthURL, ok := r.Endpoints["health"]
	if !ok || healthURL == "" {
		return &AgentHealth{Status: "unknown", LastChecked: now, Reason: "no health endpoint configured"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.HealthProbeTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, healthURL, nil)
	if err != nil {
		return &AgentHealth{Status: "unhealthy", LastChecked: now, Error: err.Error()}
	}

	resp, err := s.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return &AgentHealth{Status: "unhealthy", LastChecked: now, ResponseTime: elapsed, Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &AgentHealth{Status: "healthy", LastChecked: now, ResponseTime: elapsed}
	}
	return &AgentHealth{Status: "unhealthy", LastChecked: now, ResponseTime: elapsed, Reason: resp.Status}
}

// NormalizeURN is a convenience helper for callers building a Query from a
// raw path segment that may be URL-encoded.
func NormalizeURN(raw string) (string, error) {
	u, err := urn.Parse(raw)
	if err != nil {
		return "", errs.Format("invalid urn %q: %v", raw, err)
	}
	return u.String(), nil
}
