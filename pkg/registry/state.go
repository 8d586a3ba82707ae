package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gerdsenai/optimac-control/pkg/discovery"
)

// Status is the supervision state of a registered server.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
)

// ServerInfo is the registry-owned record for one server. It is mutated only
// by the registry's operations, under the registry lock.
type ServerInfo struct {
	Name   string                 `json:"name"`
	Config discovery.ServerConfig `json:"config"`
	// PID is tracked only for stdio servers while running.
	PID          int        `json:"pid,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	Status       Status     `json:"status"`
	Error        string     `json:"error,omitempty"`
	RequestCount int        `json:"request_count"`
}

// StatusSnapshot is the read-only projection returned to callers.
type StatusSnapshot struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	PID    int    `json:"pid,omitempty"`
	// UptimeSeconds is present only while the server is running.
	UptimeSeconds *int64 `json:"uptime_seconds,omitempty"`
	RequestCount  int    `json:"request_count"`
	Error         string `json:"error,omitempty"`
}

// persistedState is the on-disk document shape.
type persistedState struct {
	Servers []*ServerInfo `json:"servers"`
}

// DefaultStatePath returns ~/.optimac/mcp_state.json.
func DefaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".optimac", "mcp_state.json")
	}
	return filepath.Join(home, ".optimac", "mcp_state.json")
}

// loadState reads the persisted registry state. A missing or unparsable file
// is no prior state. Records persisted as running are reset to stopped with
// the pid cleared: a previous control-plane process's "running" claim is
// never trusted without a fresh start.
func loadState(path string) (map[string]*ServerInfo, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*ServerInfo{}, nil, nil
		}
		return map[string]*ServerInfo{}, nil, fmt.Errorf("registry: read state: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return map[string]*ServerInfo{}, nil, fmt.Errorf("registry: parse state: %w", err)
	}

	servers := make(map[string]*ServerInfo, len(state.Servers))
	order := make([]string, 0, len(state.Servers))
	for _, info := range state.Servers {
		if info == nil || info.Name == "" {
			continue
		}
		if info.Status == StatusRunning || info.Status == StatusStarting {
			info.Status = StatusStopped
			info.PID = 0
			info.StartedAt = nil
		}
		if _, dup := servers[info.Name]; dup {
			continue
		}
		servers[info.Name] = info
		order = append(order, info.Name)
	}
	return servers, order, nil
}

// persistLocked writes the full registry state atomically (temp file, then
// rename). Callers must hold the registry lock.
func (r *Registry) persistLocked() {
	state := persistedState{Servers: make([]*ServerInfo, 0, len(r.order))}
	for _, name := range r.order {
		state.Servers = append(state.Servers, r.servers[name])
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		r.logger.Warn("failed to marshal registry state", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.statePath), 0o755); err != nil {
		r.logger.Warn("failed to create state directory", "path", r.statePath, "error", err)
		return
	}
	tmp := r.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		r.logger.Warn("failed to write registry state", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, r.statePath); err != nil {
		os.Remove(tmp)
		r.logger.Warn("failed to replace registry state", "path", r.statePath, "error", err)
	}
}

// processAlive reports whether pid refers to a live process, using signal 0
// which checks existence without delivering a signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// terminateProcess sends SIGTERM to pid. A process that is already gone is
// treated as stopped, not as an error.
func terminateProcess(pid int) {
	if pid <= 0 {
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	_ = proc.Signal(syscall.SIGTERM)
}
