// Package registry owns the authoritative set of known tool servers and
// their supervision state. It delegates session establishment to the
// protocol client, tracks process ids for stdio servers, and persists its
// full state to a single JSON file after every mutating operation so the
// control plane can be restarted without losing the server roster.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gerdsenai/optimac-control/pkg/discovery"
	"github.com/gerdsenai/optimac-control/pkg/mcpclient"
)

// restartDelay lets an OS-level port or socket release between the stop and
// start halves of a restart.
const restartDelay = 500 * time.Millisecond

// ProtocolClient is the slice of the protocol client the registry drives.
// *mcpclient.Client satisfies it; tests substitute fakes.
type ProtocolClient interface {
	Connect(ctx context.Context) bool
	Pid() int
	ListTools(ctx context.Context) []mcpclient.ToolDescriptor
	ListResources(ctx context.Context) []mcpclient.ResourceDescriptor
	ExecuteTool(ctx context.Context, name string, arguments map[string]any) mcpclient.ToolResult
	ReadResource(ctx context.Context, uri string) string
	Disconnect()
}

// ClientFactory builds a fresh protocol client for a server config.
type ClientFactory func(cfg discovery.ServerConfig) ProtocolClient

// Options configure a Registry.
type Options struct {
	// StatePath locates the persisted state file. Defaults to
	// ~/.optimac/mcp_state.json.
	StatePath string
	// RequestTimeout bounds protocol operations issued through clients the
	// registry constructs itself.
	RequestTimeout time.Duration
	// ClientFactory overrides protocol client construction.
	ClientFactory ClientFactory
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.StatePath == "" {
		opts.StatePath = DefaultStatePath()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ClientFactory == nil {
		timeout := opts.RequestTimeout
		logger := opts.Logger
		opts.ClientFactory = func(cfg discovery.ServerConfig) ProtocolClient {
			return mcpclient.New(cfg, &mcpclient.Options{Timeout: timeout, Logger: logger})
		}
	}
	return opts
}

// Registry is the authoritative map from server name to ServerInfo. All
// mutating operations are read-modify-persist under a single lock; they are
// user-driven and infrequent, not a hot path.
type Registry struct {
	mu sync.Mutex

	statePath string
	logger    *slog.Logger
	newClient ClientFactory

	servers map[string]*ServerInfo
	order   []string
	clients map[string]ProtocolClient
}

// New constructs a Registry, loading any persisted state. Servers recorded
// as running by a previous control-plane process come back as stopped.
func New(opts *Options) *Registry {
	options := opts.withDefaults()
	servers, order, err := loadState(options.StatePath)
	if err != nil {
		options.Logger.Warn("ignoring unreadable registry state", "path", options.StatePath, "error", err)
	}
	return &Registry{
		statePath: options.StatePath,
		logger:    options.Logger,
		newClient: options.ClientFactory,
		servers:   servers,
		order:     order,
		clients:   make(map[string]ProtocolClient),
	}
}

// Register inserts (or replaces) a server record in status stopped and
// persists immediately.
func (r *Registry) Register(name string, cfg discovery.ServerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.servers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.servers[name] = &ServerInfo{Name: name, Config: cfg, Status: StatusStopped}
	r.persistLocked()
}

// RegisterDiscovered registers every config the locator produced, keeping
// existing records for names already known.
func (r *Registry) RegisterDiscovered(configs []discovery.ServerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := false
	for _, cfg := range configs {
		if _, exists := r.servers[cfg.Name]; exists {
			continue
		}
		r.order = append(r.order, cfg.Name)
		r.servers[cfg.Name] = &ServerInfo{Name: cfg.Name, Config: cfg, Status: StatusStopped}
		changed = true
	}
	if changed {
		r.persistLocked()
	}
}

// Start brings a server up. Idempotent for a running stdio server whose pid
// is still alive. On failure the server lands in status error with a
// human-readable message and Start returns false.
func (r *Registry) Start(ctx context.Context, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.servers[name]
	if !ok {
		return false
	}
	if info.Status == StatusRunning {
		if info.PID != 0 && processAlive(info.PID) {
			return true
		}
		if info.Config.IsHTTP() && r.clients[name] != nil {
			return true
		}
	}

	info.Status = StatusStarting
	info.Error = ""

	if prev := r.clients[name]; prev != nil {
		prev.Disconnect()
		delete(r.clients, name)
	}

	client := r.newClient(info.Config)
	if !client.Connect(ctx) {
		info.Status = StatusError
		info.Error = "Failed to connect"
		r.persistLocked()
		return false
	}

	if info.Config.IsStdio() {
		info.PID = client.Pid()
	}
	now := time.Now()
	info.Status = StatusRunning
	info.StartedAt = &now
	r.clients[name] = client
	r.persistLocked()
	r.logger.Info("server started", "server", name, "pid", info.PID)
	return true
}

// Stop brings a server down. Returns false only for an unknown name; a
// server that is not running is a no-op success. A tracked pid that no
// longer exists is reconciled silently as already stopped.
func (r *Registry) Stop(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.servers[name]
	if !ok {
		return false
	}
	if info.Status != StatusRunning {
		return true
	}

	if client := r.clients[name]; client != nil {
		client.Disconnect()
		delete(r.clients, name)
	} else if info.Config.IsStdio() {
		terminateProcess(info.PID)
	}

	info.Status = StatusStopped
	info.PID = 0
	info.StartedAt = nil
	r.persistLocked()
	r.logger.Info("server stopped", "server", name)
	return true
}

// Restart stops the server, pauses briefly, and starts it again, returning
// whatever Start returns.
func (r *Registry) Restart(ctx context.Context, name string) bool {
	if !r.Stop(name) {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(restartDelay):
	}
	return r.Start(ctx, name)
}

// GetStatus projects one server's state, or nil for an unknown name.
func (r *Registry) GetStatus(name string) *StatusSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.servers[name]
	if !ok {
		return nil
	}
	snap := r.snapshotLocked(info)
	return &snap
}

// ListAll projects every registered server in insertion order.
func (r *Registry) ListAll() []StatusSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StatusSnapshot, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.snapshotLocked(r.servers[name]))
	}
	return out
}

func (r *Registry) snapshotLocked(info *ServerInfo) StatusSnapshot {
	snap := StatusSnapshot{
		Name:         info.Name,
		Status:       info.Status,
		PID:          info.PID,
		RequestCount: info.RequestCount,
		Error:        info.Error,
	}
	if info.Status == StatusRunning && info.StartedAt != nil {
		uptime := int64(time.Since(*info.StartedAt) / time.Second)
		snap.UptimeSeconds = &uptime
	}
	return snap
}

// IncrementRequestCount attributes one tool invocation to the server and
// persists. Unknown names are a no-op.
func (r *Registry) IncrementRequestCount(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.servers[name]
	if !ok {
		return
	}
	info.RequestCount++
	r.persistLocked()
}

// ExecuteTool invokes a tool through the protocol client held for the
// server, creating one from the stored config when necessary, and attributes
// the invocation to the server's request count.
func (r *Registry) ExecuteTool(ctx context.Context, name, tool string, arguments map[string]any) mcpclient.ToolResult {
	client, err := r.clientFor(name)
	if err != nil {
		return mcpclient.ToolResult{
			Content: []mcpclient.Content{{Type: "text", Text: err.Error()}},
			IsError: true,
		}
	}
	result := client.ExecuteTool(ctx, tool, arguments)
	r.IncrementRequestCount(name)
	return result
}

// ListTools enumerates a server's tools through the held client.
func (r *Registry) ListTools(ctx context.Context, name string) ([]mcpclient.ToolDescriptor, error) {
	client, err := r.clientFor(name)
	if err != nil {
		return nil, err
	}
	return client.ListTools(ctx), nil
}

// ListResources enumerates a server's resources through the held client.
func (r *Registry) ListResources(ctx context.Context, name string) ([]mcpclient.ResourceDescriptor, error) {
	client, err := r.clientFor(name)
	if err != nil {
		return nil, err
	}
	return client.ListResources(ctx), nil
}

// ReadResource reads a resource through the held client. The empty string is
// the designated nothing-found value.
func (r *Registry) ReadResource(ctx context.Context, name, uri string) (string, error) {
	client, err := r.clientFor(name)
	if err != nil {
		return "", err
	}
	return client.ReadResource(ctx, uri), nil
}

// clientFor returns the held protocol client for a server, creating and
// caching one when absent. The protocol operation itself runs outside the
// registry lock; the client serializes its own traffic.
func (r *Registry) clientFor(name string) (ProtocolClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.servers[name]
	if !ok {
		return nil, fmt.Errorf("registry: unknown server %q", name)
	}
	client := r.clients[name]
	if client == nil {
		client = r.newClient(info.Config)
		r.clients[name] = client
	}
	return client, nil
}

// Names returns the registered server names in insertion order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Close disconnects every held client. Registered state remains persisted.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, client := range r.clients {
		client.Disconnect()
		delete(r.clients, name)
	}
}
