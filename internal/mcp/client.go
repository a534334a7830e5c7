// Package mcp implements a JSON-RPC 2.0 client for the Model Context
// Protocol spoken over a subprocess's stdio. The wire
// framing — newline-delimited JSON objects, an auto-incrementing request
// id, a pending-map demultiplexer — is grounded on an
// internal/mcpbridge/server.go-style stdio speaker, which uses the same
// framing from the opposite (server) role; this client spawns the
// subprocess and owns the other end of the same pipe instead of reading
// os.Stdin directly.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ossp-agi/agentmesh/internal/errs"
	"github.com/ossp-agi/agentmesh/internal/meshtrace"
	"github.com/ossp-agi/agentmesh/internal/retry"
)

const protocolVersion = "2024-11-05"

// Endpoint configures the subprocess to spawn.
type Endpoint struct {
	Command string
	Args    []string
	Env     []string
}

// Config configures a Client.
type Config struct {
	Endpoint          Endpoint
	Timeout           time.Duration
	HeartbeatInterval time.Duration
	MaxRetries        int
	ReconnectDelay    time.Duration
	ReconnectBackoff  float64
	ReconnectJitter   float64
}

// DefaultConfig returns sensible MCP client defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:           15 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxRetries:        5,
		ReconnectDelay:    500 * time.Millisecond,
		ReconnectBackoff:  2.0,
		ReconnectJitter:   0.2,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type pendingRequest struct {
	method string
	ch     chan rpcResponse
}

// ToolSchema describes one tool the MCP server advertises.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolResult is the outcome of a tools/call invocation.
type ToolResult struct {
	Success  bool           `json:"success"`
	Content  []any          `json:"content"`
	Metadata ToolResultMeta `json:"metadata"`
}

// ToolResultMeta carries invocation bookkeeping fields.
type ToolResultMeta struct {
	ToolName  string    `json:"toolName"`
	RequestID int64     `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

// Client owns a single MCP subprocess and its JSON-RPC session.
type Client struct {
	cfg    Config
	logger *meshtrace.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	shutdown bool

	nextID int64

	pendingMu sync.Mutex
	pending   map[int64]pendingRequest

	toolsMu sync.Mutex
	tools   map[string]ToolSchema

	heartbeatStop chan struct{}
	readerDone    chan struct{}
}

// New constructs a Client; call Open to spawn the subprocess.
func New(cfg Config, logger *meshtrace.Logger) *Client {
	return &Client{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[int64]pendingRequest),
		tools:   make(map[string]ToolSchema),
	}
}

// Open spawns the configured subprocess, wires its stdio, and negotiates
// the MCP `initialize` handshake. On failure the subprocess is torn down.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := exec.CommandContext(context.Background(), c.cfg.Endpoint.Command, c.cfg.Endpoint.Args...)
	if len(c.cfg.Endpoint.Env) > 0 {
		cmd.Env = c.cfg.Endpoint.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errs.MCP("failed to open stdin pipe: %v", err).WithCause(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errs.MCP("failed to open stdout pipe: %v", err).WithCause(err)
	}

	if err := cmd.Start(); err != nil {
		return errs.MCP("failed to start mcp subprocess %q: %v", c.cfg.Endpoint.Command, err).WithCause(err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.shutdown = false
	c.readerDone = make(chan struct{})
	c.heartbeatStop = make(chan struct{})

	go c.readLoop(stdout)
	go c.waitLoop()

	initCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "agentmesh", "version": "1.0.0"},
	}
	if _, err := c.callLocked(initCtx, "initialize", params); err != nil {
		c.teardownLocked()
		return errs.MCP("initialize handshake failed: %v", err).WithCause(err)
	}

	go c.heartbeatLoop()
	return nil
}

// readLoop accumulates stdout into newline-delimited JSON objects,
// skipping (and warning on) malformed lines, and demultiplexes responses
// to their pending caller by id.
func (c *Client) readLoop(stdout io.Reader) {
	defer close(c.readerDone)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			if c.logger != nil {
				c.logger.Warn("mcp", "malformed JSON-RPC line from subprocess", map[string]any{"line": string(line)})
			}
			continue
		}

		c.pendingMu.Lock()
		pr, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendingMu.Unlock()

		if ok {
			pr.ch <- resp
		}
	}
}

// waitLoop watches for subprocess exit and, unless a clean shutdown is in
// progress, schedules a reconnect.
func (c *Client) waitLoop() {
	cmd := c.cmd
	_ = cmd.Wait()

	c.mu.Lock()
	shutdown := c.shutdown
	c.mu.Unlock()
	if shutdown {
		return
	}

	c.rejectAllPending(errs.MCP("mcp subprocess exited unexpectedly"))
	c.reconnect()
}

func (c *Client) rejectAllPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, pr := range c.pending {
		pr.ch <- rpcResponse{ID: id, Error: &rpcError{Code: -32000, Message: err.Error()}}
		delete(c.pending, id)
	}
}

// reconnect retries Open with the same backoff formula retry.Policy uses,
// capped at cfg.MaxRetries. It surfaces a terminal failure via an
// error-level log once the cap is exhausted, since this client exposes
// no separate event bus.
func (c *Client) reconnect() {
	policy := retry.Policy{
		MaxAttempts: c.cfg.MaxRetries,
		Strategy:    retry.StrategyExponential,
		BaseDelay:   c.cfg.ReconnectDelay,
		MaxDelay:    c.cfg.ReconnectDelay * 32,
		Jitter:      c.cfg.ReconnectJitter,
	}
	err := retry.Do(context.Background(), policy, func(ctx context.Context) error {
		return c.Open(ctx)
	})
	if err != nil && c.logger != nil {
		c.logger.Error("mcp", "reconnect attempts exhausted", map[string]any{"error": err.Error()})
	}
}

// heartbeatLoop issues a cheap tools/list call on an interval as a
// liveness probe; a failure triggers the same disconnect handling a
// subprocess exit would.
func (c *Client) heartbeatLoop() {
	if c.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
			_, err := c.ListTools(ctx)
			cancel()
			if err != nil {
				c.mu.Lock()
				shutdown := c.shutdown
				c.mu.Unlock()
				if !shutdown {
					c.rejectAllPending(errs.MCP("mcp heartbeat failed"))
					c.reconnect()
				}
				return
			}
		case <-c.heartbeatStop:
			return
		}
	}
}

// Close marks the client shut down, rejects all pending requests, and
// kills the subprocess.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return nil
	}
	c.shutdown = true
	c.teardownLocked()
	return nil
}

// teardownLocked must be called with c.mu held.
func (c *Client) teardownLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	c.rejectAllPending(errs.MCP("mcp client closed"))
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	return c.callWithStdin(ctx, stdin, method, params)
}

// callLocked is used during Open, before the client's own mu would
// otherwise be safe to re-acquire from call().
func (c *Client) callLocked(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.callWithStdin(ctx, c.stdin, method, params)
}

func (c *Client) callWithStdin(ctx context.Context, stdin io.Writer, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, errs.MCP("failed to encode request: %v", err).WithCause(err)
	}
	data = append(data, '\n')

	ch := make(chan rpcResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = pendingRequest{method: method, ch: ch}
	c.pendingMu.Unlock()

	if _, err := stdin.Write(data); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, errs.MCP("failed to write request to subprocess stdin: %v", err).WithCause(err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, errs.Protocol(resp.Error.Code, method, "%s", resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		if ctx.Err() == context.Canceled {
			return nil, errs.Cancellation("mcp call %q canceled: %v", method, ctx.Err())
		}
		return nil, errs.Timeout("mcp call %q timed out: %v", method, ctx.Err())
	}
}

// ListTools refreshes the in-memory tool schema cache from the server and
// returns the current set.
func (c *Client) ListTools(ctx context.Context) ([]ToolSchema, error) {
	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Tools []ToolSchema `json:"tools"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, errs.Protocol(0, "tools/list", "malformed tools/list response: %v", err)
	}

	c.toolsMu.Lock()
	c.tools = make(map[string]ToolSchema, len(payload.Tools))
	for _, t := range payload.Tools {
		c.tools[t.Name] = t
	}
	c.toolsMu.Unlock()

	return payload.Tools, nil
}

// GetToolSchema serves name from the cache, refreshing it once on a miss.
func (c *Client) GetToolSchema(ctx context.Context, name string) (ToolSchema, error) {
	c.toolsMu.Lock()
	schema, ok := c.tools[name]
	c.toolsMu.Unlock()
	if ok {
		return schema, nil
	}

	if _, err := c.ListTools(ctx); err != nil {
		return ToolSchema{}, err
	}

	c.toolsMu.Lock()
	schema, ok = c.tools[name]
	c.toolsMu.Unlock()
	if !ok {
		return ToolSchema{}, errs.MCP("unknown tool %q", name)
	}
	return schema, nil
}

// ExecuteTool invokes a tool by name with input, honoring ctx's deadline
// and cancellation.
func (c *Client) ExecuteTool(ctx context.Context, name string, input map[string]any) (*ToolResult, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	result, err := c.call(callCtx, "tools/call", map[string]any{"name": name, "arguments": input})
	id := atomic.LoadInt64(&c.nextID) // best-effort label; call() assigned the authoritative request id
	if err != nil {
		return nil, err
	}

	var payload struct {
		Content []any `json:"content"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, errs.Protocol(0, "tools/call", "malformed tools/call response: %v", err)
	}

	return &ToolResult{
		Success: true,
		Content: payload.Content,
		Metadata: ToolResultMeta{
			ToolName:  name,
			RequestID: id,
			Timestamp: time.Now().UTC(),
		},
	}, nil
}
