// Package a2a implements the outbound agent-to-agent HTTP client,
// grounded on a pkg/client/client.go-style functional-options constructor
// and request envelope, generalized from trust-ledger-specific routes to
// URN-addressed agent routes wrapped in the circuit breaker and retry
// policy.
package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ossp-agi/agentmesh/internal/auth"
	"github.com/ossp-agi/agentmesh/internal/errs"
	"github.com/ossp-agi/agentmesh/internal/meshbreaker"
	"github.com/ossp-agi/agentmesh/internal/retry"
	"github.com/ossp-agi/agentmesh/pkg/urn"
)

const (
	productName    = "agentmesh"
	productVersion = "1.0.0"
)

// Response is the triple every successful call returns.
type Response struct {
	Status  int
	Header  http.Header
	Data    any
	RawBody []byte
}

// Client issues authenticated HTTP requests to other agents addressed by
// URN, behind a circuit breaker and retry policy.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	timeout      time.Duration
	authProvider auth.Provider
	breaker      *meshbreaker.Breaker
	retryPolicy  retry.Policy
	delegation   string // this agent's own URN, appended to outbound delegation chains
}

// Option configures a Client, mirroring a functional-options
// constructor for pkg/client.Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// WithAuthProvider sets the credential source for outbound requests.
func WithAuthProvider(p auth.Provider) Option { return func(c *Client) { c.authProvider = p } }

// WithBreaker sets the circuit breaker guarding every call.
func WithBreaker(b *meshbreaker.Breaker) Option { return func(c *Client) { c.breaker = b } }

// WithRetryPolicy sets the retry policy applied after the circuit breaker.
func WithRetryPolicy(p retry.Policy) Option { return func(c *Client) { c.retryPolicy = p } }

// WithDelegation sets this client's own URN, appended to any inbound
// delegation chain on outbound requests.
func WithDelegation(selfURN string) Option { return func(c *Client) { c.delegation = selfURN } }

// New constructs a Client addressing agents relative to baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		httpClient:  &http.Client{},
		timeout:     10 * time.Second,
		breaker:     meshbreaker.New("a2a", meshbreaker.DefaultConfig()),
		retryPolicy: retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// buildURL composes <baseUrl>/agents/<domain>-<name><cleanRoute> per
// the mesh's agent-addressing URL construction rule.
func (c *Client) buildURL(target *urn.URN, route string) string {
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return fmt.Sprintf("%s/agents/%s-%s%s", c.baseURL, target.Domain(), target.Name(), route)
}

// Call issues method to target's route, with body marshaled as JSON when
// non-nil, under the circuit breaker and retry policy. delegationChain is
// the inbound x-agent-delegation header value, if any; the client's own
// URN (WithDelegation) is appended before the header is sent.
func (c *Client) Call(ctx context.Context, method string, target *urn.URN, route string, body any, delegationChain string) (*Response, error) {
	url := c.buildURL(target, route)

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errs.A2A("failed to encode request body: %v", err).WithCause(err)
		}
		payload = encoded
	}

	var resp *Response
	execErr := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, c.retryPolicy, func(ctx context.Context) error {
			r, err := c.doOnce(ctx, method, url, payload, delegationChain)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
	})
	if execErr != nil {
		return nil, execErr
	}
	return resp, nil
}

func (c *Client) doOnce(ctx context.Context, method, url string, payload []byte, delegationChain string) (*Response, error) {
	reqCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, bodyReader)
	if err != nil {
		return nil, errs.A2A("failed to build request: %v", err).WithCause(err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("%s/%s", productName, productVersion))

	if c.authProvider != nil && c.authProvider.HasToken(ctx) {
		token, err := c.authProvider.Token(ctx)
		if err != nil {
			return nil, errs.Auth("failed to obtain bearer token: %v", err).WithCause(err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	chain := c.delegation
	if delegationChain != "" {
		chain = delegationChain + " -> " + c.delegation
	}
	if chain != "" {
		req.Header.Set("x-agent-delegation", chain)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, errs.Timeout("request to %q timed out: %v", url, err)
		}
		return nil, errs.Network("request to %q failed: %v", url, err).WithCause(err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errs.Network("failed to read response body: %v", err).WithCause(err)
	}

	if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
		return nil, errs.Auth("request to %q returned %d", url, httpResp.StatusCode).WithContext("status", httpResp.StatusCode)
	}
	if errs.RetryableHTTPStatus(httpResp.StatusCode) {
		return nil, errs.Network("request to %q returned retryable status %d", url, httpResp.StatusCode).WithContext("status", httpResp.StatusCode)
	}
	if httpResp.StatusCode >= 400 {
		return nil, errs.A2A("request to %q returned %d", url, httpResp.StatusCode).
			WithContext("status", httpResp.StatusCode).
			WithRetryable(false)
	}

	resp := &Response{Status: httpResp.StatusCode, Header: httpResp.Header, RawBody: raw}

	contentType := httpResp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") && len(raw) > 0 {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, errs.Protocol(0, method, "malformed JSON response from %q: %v", url, err)
		}
		resp.Data = decoded
	} else {
		resp.Data = string(raw)
	}
	return resp, nil
}

// Get issues a GET to target's route.
func (c *Client) Get(ctx context.Context, target *urn.URN, route, delegationChain string) (*Response, error) {
	return c.Call(ctx, http.MethodGet, target, route, nil, delegationChain)
}

// Post issues a POST with body to target's route.
func (c *Client) Post(ctx context.Context, target *urn.URN, route string, body any, delegationChain string) (*Response, error) {
	return c.Call(ctx, http.MethodPost, target, route, body, delegationChain)
}
