// Package auth implements a pluggable source of bearer credentials
// attached to outbound A2A and MCP calls. StaticJWT is grounded on an
// internal/identity/token.go-style TokenIssuer/TaskTokenClaims pair,
// generalized from task-scoped tokens to the mesh's agent-to-agent
// delegation claims.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ossp-agi/agentmesh/internal/errs"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Provider supplies a bearer token for outbound calls. Implementations
// must be safe for concurrent use.
type Provider interface {
	// Token returns a valid bearer token, refreshing it if the
	// implementation's cached token has expired.
	Token(ctx context.Context) (string, error)
	// HasToken reports whether the provider currently holds an
	// unexpired token without triggering a refresh.
	HasToken(ctx context.Context) bool
}

// DelegationClaims mirrors a TaskTokenClaims shape, generalized to
// the mesh's delegation-chain header (x-agent-delegation) instead of a
// single task scope.
type DelegationClaims struct {
	jwt.RegisteredClaims
	SourceURN   string   `json:"sourceUrn"`
	TargetURN   string   `json:"targetUrn,omitempty"`
	Delegation  []string `json:"delegation,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
}

// StaticJWT issues and caches HMAC-signed bearer tokens for a single
// source agent, re-signing only once the cached token is within
// refreshSkew of expiry.
type StaticJWT struct {
	sourceURN string
	secret    []byte
	ttl       time.Duration
	refreshSkew time.Duration

	mu        sync.Mutex
	cached    string
	expiresAt time.Time
}

// NewStaticJWT builds a StaticJWT provider. ttl is the lifetime of each
// minted token; refreshSkew controls how long before expiry a fresh token
// is minted on the next Token call.
func NewStaticJWT(sourceURN string, secret []byte, ttl, refreshSkew time.Duration) *StaticJWT {
	return &StaticJWT{sourceURN: sourceURN, secret: secret, ttl: ttl, refreshSkew: refreshSkew}
}

// Token returns a cached token or mints a fresh one when the cached token
// has expired or is within refreshSkew of expiring.
func (s *StaticJWT) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != "" && time.Until(s.expiresAt) > s.refreshSkew {
		return s.cached, nil
	}

	now := time.Now()
	claims := DelegationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   s.sourceURN,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		SourceURN: s.sourceURN,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", errs.Auth("failed to sign token: %v", err).WithCause(err)
	}

	s.cached = signed
	s.expiresAt = claims.ExpiresAt.Time
	return s.cached, nil
}

// HasToken reports whether a cached, unexpired token is present.
func (s *StaticJWT) HasToken(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached != "" && time.Now().Before(s.expiresAt)
}

// ParseAndVerify parses and verifies a token minted by a StaticJWT sharing
// secret, returning its delegation claims.
func ParseAndVerify(tokenStr string, secret []byte) (*DelegationClaims, error) {
	claims := &DelegationClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errs.Auth("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, errs.Auth("token verification failed: %v", err).WithCause(err)
	}
	if !token.Valid {
		return nil, errs.Auth("token is not valid")
	}
	return claims, nil
}

// OAuth2ClientCredentials wraps golang.org/x/oauth2/clientcredentials for
// agents that authenticate against an external OAuth2 authorization
// server instead of the mesh's own static JWT issuer.
type OAuth2ClientCredentials struct {
	cfg    clientcredentials.Config
	source oauth2.TokenSource
}

// NewOAuth2ClientCredentials builds a provider backed by the client
// credentials grant against tokenURL.
func NewOAuth2ClientCredentials(ctx context.Context, clientID, clientSecret, tokenURL string, scopes []string) *OAuth2ClientCredentials {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	return &OAuth2ClientCredentials{cfg: cfg, source: cfg.TokenSource(ctx)}
}

// Token returns the current access token, refreshing it via the
// underlying oauth2.TokenSource when expired.
func (o *OAuth2ClientCredentials) Token(ctx context.Context) (string, error) {
	tok, err := o.source.Token()
	if err != nil {
		return "", errs.Auth("oauth2 client credentials exchange failed: %v", err).WithCause(err)
	}
	return tok.AccessToken, nil
}

// HasToken reports whether the underlying token source yields a valid
// token. oauth2's TokenSource has no peek API, so this calls Token: a
// cached unexpired token is returned without a network round trip,
// otherwise the client-credentials exchange runs. A failed exchange is
// reported as false.
func (o *OAuth2ClientCredentials) HasToken(ctx context.Context) bool {
	tok, err := o.source.Token()
	return err == nil && tok.Valid()
}

// NoAuth is a Provider that never attaches credentials, for unauthenticated
// local development mesh deployments.
type NoAuth struct{}

// Token always returns an empty token.
func (NoAuth) Token(ctx context.Context) (string, error) { return "", nil }

// HasToken always returns false.
func (NoAuth) HasToken(ctx context.Context) bool { return false }
