// Package mcpclient speaks the tool-server protocol against exactly one
// configured server. Stdio servers are spawned as child processes and driven
// through an MCP session; HTTP servers are reached through a REST surface
// (/health, /tools, /tools/call, /resources, /resources/read) with optional
// bearer authentication.
//
// A Client instance serializes its operations internally: only one request
// may be in flight at a time. Callers needing concurrent invocations against
// the same server must hold one Client per caller.
package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gerdsenai/optimac-control/pkg/discovery"
)

const (
	clientName     = "OptiMac"
	clientVersion  = "1.0.0"
	defaultTimeout = 30 * time.Second
)

// Options configure a Client.
type Options struct {
	// Timeout bounds every network- or process-facing operation. Defaults to
	// 30 seconds.
	Timeout time.Duration
	// HTTPClient overrides the base HTTP client for http-transport servers.
	HTTPClient *http.Client
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Client drives one tool server for its whole lifetime. The zero value is
// not usable; construct with New.
type Client struct {
	mu sync.Mutex

	config discovery.ServerConfig
	opts   Options
	logger *slog.Logger

	connected  bool
	cmd        *exec.Cmd
	session    *mcp.ClientSession
	httpClient *http.Client

	tools           []ToolDescriptor
	toolsLoaded     bool
	resources       []ResourceDescriptor
	resourcesLoaded bool
}

// New constructs a Client for the given server config. Pass nil options for
// the defaults. No connection is attempted until Connect or the first
// operation.
func New(config discovery.ServerConfig, opts *Options) *Client {
	options := opts.withDefaults()
	return &Client{config: config, opts: options, logger: options.Logger}
}

// Config returns the config the client was built from.
func (c *Client) Config() discovery.ServerConfig { return c.config }

// Connected reports whether a session is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Pid returns the child process id for a connected stdio server, or zero.
func (c *Client) Pid() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected && c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Pid
	}
	return 0
}

// Connect establishes the transport session. Idempotent: an already
// connected client returns true without side effects. Failures of any kind
// result in false, never an error.
func (c *Client) Connect(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) bool {
	if c.connected {
		return true
	}
	switch c.config.Transport {
	case discovery.TransportStdio:
		return c.connectStdio(ctx)
	case discovery.TransportHTTP:
		return c.connectHTTP(ctx)
	default:
		return false
	}
}

// connectStdio spawns the configured command and performs the MCP initialize
// handshake through the SDK session. The child environment is the control
// plane's own environment overlaid with the config's overrides.
func (c *Client) connectStdio(ctx context.Context) bool {
	cmd := exec.Command(c.config.Command, c.config.Args...)
	if len(c.config.Env) > 0 {
		env := os.Environ()
		for k, v := range c.config.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	client := mcp.NewClient(&mcp.Implementation{Name: clientName, Version: clientVersion}, nil)

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	// Connect blocks on reading the handshake response. A child that never
	// answers keeps its stdout open, which keeps the session's read loop and
	// therefore Connect itself blocked past the deadline. Killing the child
	// when the deadline passes closes its pipes and lets Connect unwind with
	// the context error.
	stop := context.AfterFunc(ctx, func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	})
	session, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	stop()
	if err != nil {
		// Reap the child so a failed handshake leaves no orphan behind.
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}
		c.logger.Debug("stdio connect failed", "server", c.config.Name, "error", err)
		return false
	}

	c.cmd = cmd
	c.session = session
	c.connected = true
	return true
}

// connectHTTP opens a client session carrying bearer auth when configured
// and probes <url>/health. Connected only on HTTP 200.
func (c *Client) connectHTTP(ctx context.Context) bool {
	base := c.opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	httpClient := *base
	if token, ok := c.config.BearerToken(); ok {
		httpClient.Transport = &bearerTransport{next: baseRoundTripper(base.Transport), token: token}
	}
	c.httpClient = &httpClient

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("http connect failed", "server", c.config.Name, "error", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	c.connected = true
	return true
}

// ListTools enumerates the server's tools. The result is memoized for the
// lifetime of the client; failures yield an empty list and are not cached.
func (c *Client) ListTools(ctx context.Context) []ToolDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.toolsLoaded {
		return c.tools
	}
	if !c.connectLocked(ctx) {
		return []ToolDescriptor{}
	}

	var tools []ToolDescriptor
	switch c.config.Transport {
	case discovery.TransportStdio:
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		res, err := c.session.ListTools(ctx, nil)
		if err != nil {
			c.logger.Debug("tools/list failed", "server", c.config.Name, "error", err)
			return []ToolDescriptor{}
		}
		tools = make([]ToolDescriptor, 0, len(res.Tools))
		for _, tool := range res.Tools {
			desc := ToolDescriptor{Name: tool.Name, Description: tool.Description}
			if tool.InputSchema != nil {
				if raw, err := json.Marshal(tool.InputSchema); err == nil {
					desc.InputSchema = raw
				}
			}
			tools = append(tools, desc)
		}
	case discovery.TransportHTTP:
		var body struct {
			Tools []ToolDescriptor `json:"tools"`
		}
		if !c.getJSON(ctx, c.config.URL+"/tools", &body) {
			return []ToolDescriptor{}
		}
		tools = body.Tools
		if tools == nil {
			tools = []ToolDescriptor{}
		}
	}

	c.tools = tools
	c.toolsLoaded = true
	return tools
}

// ListResources enumerates the server's resources, with the same caching
// policy as ListTools.
func (c *Client) ListResources(ctx context.Context) []ResourceDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resourcesLoaded {
		return c.resources
	}
	if !c.connectLocked(ctx) {
		return []ResourceDescriptor{}
	}

	var resources []ResourceDescriptor
	switch c.config.Transport {
	case discovery.TransportStdio:
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		res, err := c.session.ListResources(ctx, nil)
		if err != nil {
			c.logger.Debug("resources/list failed", "server", c.config.Name, "error", err)
			return []ResourceDescriptor{}
		}
		resources = make([]ResourceDescriptor, 0, len(res.Resources))
		for _, r := range res.Resources {
			resources = append(resources, ResourceDescriptor{URI: r.URI, Name: r.Name, Description: r.Description})
		}
	case discovery.TransportHTTP:
		var body struct {
			Resources []ResourceDescriptor `json:"resources"`
		}
		if !c.getJSON(ctx, c.config.URL+"/resources", &body) {
			return []ResourceDescriptor{}
		}
		resources = body.Resources
		if resources == nil {
			resources = []ResourceDescriptor{}
		}
	}

	c.resources = resources
	c.resourcesLoaded = true
	return resources
}

// ExecuteTool invokes a named tool. Never memoized and never returns a Go
// error: server-side failures and client-side failures alike surface as a
// ToolResult with IsError set.
func (c *Client) ExecuteTool(ctx context.Context, name string, arguments map[string]any) ToolResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connectLocked(ctx) {
		return errorResult("Not connected")
	}

	switch c.config.Transport {
	case discovery.TransportStdio:
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		res, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: arguments})
		if err != nil {
			msg := err.Error()
			if msg == "" {
				msg = "Unknown error"
			}
			return errorResult(msg)
		}
		return ToolResult{Content: fromSDKContent(res.Content), IsError: res.IsError}
	case discovery.TransportHTTP:
		payload, err := json.Marshal(map[string]any{"name": name, "arguments": arguments})
		if err != nil {
			return errorResult("Unknown error")
		}
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL+"/tools/call", bytes.NewReader(payload))
		if err != nil {
			return errorResult("Unknown error")
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errorResult("Unknown error")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errorResult(fmt.Sprintf("HTTP %d", resp.StatusCode))
		}
		var result ToolResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return errorResult("Unknown error")
		}
		return result
	}
	return errorResult("Not connected")
}

// ReadResource returns the first text content of the resource at uri, or the
// empty string when the resource has no text or the call fails. Callers
// cannot distinguish the two through this interface.
func (c *Client) ReadResource(ctx context.Context, uri string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connectLocked(ctx) {
		return ""
	}

	switch c.config.Transport {
	case discovery.TransportStdio:
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		res, err := c.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
		if err != nil || len(res.Contents) == 0 {
			return ""
		}
		return res.Contents[0].Text
	case discovery.TransportHTTP:
		var body struct {
			Contents []Content `json:"contents"`
		}
		endpoint := c.config.URL + "/resources/read?uri=" + url.QueryEscape(uri)
		if !c.getJSON(ctx, endpoint, &body) || len(body.Contents) == 0 {
			return ""
		}
		return body.Contents[0].Text
	}
	return ""
}

// Disconnect tears the session down. For stdio the child process is
// terminated and reaped before returning. Safe to call when never connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		// Closing the session terminates the child and waits for it to exit.
		_ = c.session.Close()
		c.session = nil
		c.cmd = nil
	}
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
		c.httpClient = nil
	}
	c.connected = false
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) bool {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("http request failed", "server", c.config.Name, "url", endpoint, "error", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	return json.NewDecoder(resp.Body).Decode(out) == nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opts.Timeout)
}

func fromSDKContent(items []mcp.Content) []Content {
	out := make([]Content, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case *mcp.TextContent:
			out = append(out, Content{Type: "text", Text: v.Text})
		default:
			raw, err := json.Marshal(item)
			if err != nil {
				continue
			}
			var converted Content
			if json.Unmarshal(raw, &converted) == nil {
				out = append(out, converted)
			}
		}
	}
	return out
}

// bearerTransport injects the configured bearer token on every outbound
// request.
type bearerTransport struct {
	next  http.RoundTripper
	token string
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.next.RoundTrip(req)
}

func baseRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}
