// Package api exposes the registry and discovery service over HTTP,
// built on gin for routing, gin-contrib/cors for preflight, and a
// golang.org/x/time/rate per-IP limiter generalized from a
// ratelimit.go-style token bucket.
package api

import (
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ossp-agi/agentmesh/internal/discovery"
	"github.com/ossp-agi/agentmesh/internal/errs"
	"github.com/ossp-agi/agentmesh/internal/meshtrace"
	"github.com/ossp-agi/agentmesh/internal/registry"
	"github.com/ossp-agi/agentmesh/pkg/meshcard"
	"github.com/ossp-agi/agentmesh/pkg/urn"
)

// Config configures the API surface.
type Config struct {
	Port          int
	Host          string
	CORSOrigins   []string
	CORSMethods   []string
	CORSHeaders   []string
	RateLimit     RateLimitConfig
	EnableLogging bool
}

// RateLimitConfig configures the per-IP limiter: a token bucket holding
// Max tokens that refill continuously over WindowMs.
type RateLimitConfig struct {
	WindowMs int
	Max      int
}

// DefaultConfig returns sensible API server defaults.
func DefaultConfig() Config {
	return Config{
		Port:        8080,
		Host:        "0.0.0.0",
		CORSOrigins: []string{"*"},
		CORSMethods: []string{"GET", "POST", "OPTIONS"},
		CORSHeaders: []string{"Content-Type", "Authorization", "x-agent-delegation"},
		RateLimit:   RateLimitConfig{WindowMs: 60_000, Max: 100},
		EnableLogging: true,
	}
}

var startTime = time.Now()

// Server wires the registry and discovery service behind a gin router.
type Server struct {
	cfg     Config
	store   *registry.Store
	discSvc *discovery.Service
	logger  *meshtrace.Logger
	limiter *ipRateLimiter
	engine  *gin.Engine
}

// NewServer builds a Server; call Engine to obtain the http.Handler.
func NewServer(cfg Config, store *registry.Store, discSvc *discovery.Service, logger *meshtrace.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		discSvc: discSvc,
		logger:  logger,
		limiter: newIPRateLimiter(cfg.RateLimit),
	}
	s.engine = s.buildEngine()
	return s
}

// Engine returns the underlying http.Handler.
func (s *Server) Engine() http.Handler { return s.engine }

func (s *Server) buildEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestIDMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORSOrigins,
		AllowMethods:     s.cfg.CORSMethods,
		AllowHeaders:     s.cfg.CORSHeaders,
		AllowCredentials: false,
	}))
	r.Use(s.rateLimitMiddleware())

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)
		v1.GET("/stats", s.handleStats)
		v1.GET("/agents", s.handleListAgents)
		v1.POST("/agents", s.handleRegisterAgent)
		v1.GET("/agents/domain/:domain", s.handleAgentsByDomain)
		v1.GET("/agents/capability/:capability", s.handleAgentsByCapability)
		v1.GET("/agents/:urn", s.handleGetAgent)
		v1.GET("/discover", s.handleDiscover)
	}

	r.GET("/.well-known/agent-capabilities", s.handleWellKnownList)
	r.GET("/.well-known/agent-capabilities/:urn", s.handleWellKnownManifest)

	r.NoRoute(s.handleNoRoute)
	return r
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := meshtrace.NewID()
		c.Set("requestId", reqID)
		c.Writer.Header().Set("x-request-id", reqID)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	if v, ok := c.Get("requestId"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"registry":  s.store.Health(),
		"discovery": gin.H{"status": "healthy"},
	})
}

func (s *Server) handleStats(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	hits, misses, ratio := s.discSvc.CacheStats()

	c.JSON(http.StatusOK, gin.H{
		"registry": s.store.Stats(),
		"discovery": gin.H{
			"cacheHits":   hits,
			"cacheMisses": misses,
			"cacheHitRatio": ratio,
		},
		"process": gin.H{
			"uptimeSeconds": time.Since(startTime).Seconds(),
			"memAllocBytes": mem.Alloc,
			"goroutines":    runtime.NumGoroutine(),
		},
	})
}

func (s *Server) handleListAgents(c *gin.Context) {
	s.runDiscovery(c, discovery.Query{})
}

func (s *Server) handleRegisterAgent(c *gin.Context) {
	var record registry.Record
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": err.Error()})
		return
	}

	registered, err := s.store.Register(c.Request.Context(), record)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, registered)
}

func (s *Server) handleGetAgent(c *gin.Context) {
	raw, err := url.QueryUnescape(c.Param("urn"))
	if err != nil {
		raw = c.Param("urn")
	}
	record, ok, err := s.store.Get(raw)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "resolution", "message": "agent not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleAgentsByDomain(c *gin.Context) {
	domain := c.Param("domain")
	c.JSON(http.StatusOK, gin.H{"domain": domain, "agents": s.store.ListByDomain(domain)})
}

func (s *Server) handleAgentsByCapability(c *gin.Context) {
	capability := c.Param("capability")
	c.JSON(http.StatusOK, gin.H{"capability": capability, "agents": s.store.SearchByCapability(capability)})
}

func (s *Server) handleDiscover(c *gin.Context) {
	q := discovery.Query{
		Domain:        c.Query("domain"),
		Version:       c.Query("version"),
		Name:          c.Query("name"),
		IncludeHealth: c.Query("includeHealth") == "true",
	}
	if caps := c.Query("capabilities"); caps != "" {
		q.Capabilities = strings.Split(caps, ",")
	}
	if limit := c.Query("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			q.Limit = n
		}
	}
	if offset := c.Query("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			q.Offset = n
		}
	}
	if sortField := c.Query("sort"); sortField != "" {
		order := c.Query("order")
		if order == "" {
			order = "asc"
		}
		q.Sort = &discovery.Sort{Field: sortField, Order: order}
	}
	s.runDiscovery(c, q)
}

func (s *Server) runDiscovery(c *gin.Context, q discovery.Query) {
	result, err := s.discSvc.Discover(c.Request.Context(), q)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleWellKnownList(c *gin.Context) {
	domain := c.Query("domain")
	var records []registry.Record
	if domain != "" {
		records = s.store.ListByDomain(domain)
	} else {
		result, err := s.discSvc.Discover(c.Request.Context(), discovery.Query{})
		if err != nil {
			s.writeDomainError(c, err)
			return
		}
		for _, a := range result.Agents {
			records = append(records, a.Record)
		}
	}

	items := make([]meshcard.Manifest, 0, len(records))
	for _, r := range records {
		items = append(items, meshcard.FromRecord(r))
	}

	c.JSON(http.StatusOK, meshcard.List{
		APIVersion: "well-known.ossp-agi.io/v1",
		Kind:       "AgentCapabilityList",
		Metadata: meshcard.ListMetadata{
			Domain:      domain,
			Count:       len(items),
			GeneratedAt: time.Now().UTC(),
		},
		Items: items,
	})
}

func (s *Server) handleWellKnownManifest(c *gin.Context) {
	raw, err := url.QueryUnescape(c.Param("urn"))
	if err != nil {
		raw = c.Param("urn")
	}
	if _, err := urn.Parse(raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format", "message": err.Error()})
		return
	}

	record, ok, err := s.store.Get(raw)
	if err != nil {
		s.writeDomainError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "resolution", "message": "agent not found"})
		return
	}
	c.JSON(http.StatusOK, meshcard.FromRecord(record))
}

func (s *Server) handleNoRoute(c *gin.Context) {
	routes := make([]string, 0, len(s.engine.Routes()))
	for _, r := range s.engine.Routes() {
		routes = append(routes, r.Method+" "+r.Path)
	}
	c.JSON(http.StatusNotFound, gin.H{
		"error":            "not_found",
		"message":          "unknown route",
		"availableRoutes": routes,
	})
}

// writeDomainError maps an errs.Error kind to the HTTP status discipline
// maps each error Kind to an HTTP status, falling back to 500 with a generated request ID for
// anything unrecognized.
func (s *Server) writeDomainError(c *gin.Context, err error) {
	e, ok := errs.As(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "internal",
			"message":   "an unexpected error occurred",
			"requestId": requestID(c),
		})
		return
	}

	switch e.Kind {
	case errs.KindFormat, errs.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": string(e.Kind), "message": e.Message})
	case errs.KindResolution:
		c.JSON(http.StatusConflict, gin.H{"error": string(e.Kind), "message": e.Message})
	case errs.KindAuth:
		c.JSON(http.StatusUnauthorized, gin.H{"error": string(e.Kind), "message": e.Message})
	case errs.KindRateLimit:
		c.JSON(http.StatusTooManyRequests, gin.H{"error": string(e.Kind), "message": e.Message})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     string(e.Kind),
			"message":   e.Message,
			"requestId": requestID(c),
		})
	}
}
