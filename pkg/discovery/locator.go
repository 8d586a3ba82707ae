// Package discovery locates tool-server definitions in well-known config
// files and normalizes them into a single canonical list. It holds no state
// of its own: every Discover call is a fresh read of the filesystem, and the
// registry remains the sole owner of long-lived mutable state.
package discovery

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// DefaultConfigPaths returns the ordered candidate config files: the
// Anthropic SDK default, the Claude Desktop config, and the OptiMac custom
// file. Any of them may be absent.
func DefaultConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, ".config", "anthropic", "config.json"),
		filepath.Join(home, "Library", "Application Support", "Claude", "claude_desktop_config.json"),
		filepath.Join(home, ".optimac", "mcp_servers.json"),
	}
}

// LocatorOptions configure a Locator.
type LocatorOptions struct {
	// Paths replaces the default candidate list entirely when non-empty.
	Paths []string
	// ExtraPaths are appended after the candidate list.
	ExtraPaths []string
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *LocatorOptions) withDefaults() LocatorOptions {
	if o == nil {
		o = &LocatorOptions{}
	}
	opts := *o
	if len(opts.Paths) == 0 {
		opts.Paths = DefaultConfigPaths()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Locator reads the candidate config files and produces normalized
// ServerConfig values. It caches nothing: repeated calls re-read every file.
type Locator struct {
	paths  []string
	logger *slog.Logger
}

// NewLocator constructs a Locator. Pass nil options for the defaults.
func NewLocator(opts *LocatorOptions) *Locator {
	options := opts.withDefaults()
	paths := append([]string(nil), options.Paths...)
	paths = append(paths, options.ExtraPaths...)
	return &Locator{paths: paths, logger: options.Logger}
}

// rawServer is the per-server shape accepted from config files. Entries with
// neither a command nor a URL are dropped during normalization.
type rawServer struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	URL     string            `json:"url"`
	Auth    *Auth             `json:"auth"`
}

// Discover reads every candidate file and returns the combined normalized
// server list. Missing files are skipped silently; files that exist but fail
// to parse are skipped with a diagnostic. One malformed file never prevents
// discovery of servers from the others.
func (l *Locator) Discover() []ServerConfig {
	var servers []ServerConfig
	for _, path := range l.paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				l.logger.Warn("skipping unreadable config file", "path", path, "error", err)
			}
			continue
		}
		entries, err := parseFile(data)
		if err != nil {
			l.logger.Warn("skipping malformed config file", "path", path, "error", err)
			continue
		}
		for i := range entries {
			entries[i].Source = path
		}
		servers = append(servers, entries...)
	}
	return servers
}

// ServerByName filters Discover for a single named server. The second return
// value reports whether the name was found.
func (l *Locator) ServerByName(name string) (ServerConfig, bool) {
	for _, cfg := range l.Discover() {
		if cfg.Name == name {
			return cfg, true
		}
	}
	return ServerConfig{}, false
}

// parseFile normalizes one config document. The servers mapping is resolved
// by checking for a top-level "mcpServers" key (Claude Desktop shape), then
// "servers", then falling back to treating the whole document as the map.
func parseFile(data []byte) ([]ServerConfig, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	mapping := doc
	for _, key := range []string{"mcpServers", "servers"} {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, err
		}
		mapping = inner
		break
	}

	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	sort.Strings(names)

	var servers []ServerConfig
	for _, name := range names {
		var entry rawServer
		if err := json.Unmarshal(mapping[name], &entry); err != nil {
			// Heterogeneous documents carry non-server values; drop them.
			continue
		}
		if cfg, ok := normalize(name, entry); ok {
			servers = append(servers, cfg)
		}
	}
	return servers, nil
}

// normalize classifies a raw entry. A command key wins over a url key when
// both are present; entries with neither are dropped.
func normalize(name string, entry rawServer) (ServerConfig, bool) {
	switch {
	case entry.Command != "":
		args := entry.Args
		if args == nil {
			args = []string{}
		}
		env := entry.Env
		if env == nil {
			env = map[string]string{}
		}
		return ServerConfig{
			Name:      name,
			Transport: TransportStdio,
			Command:   entry.Command,
			Args:      args,
			Env:       env,
		}, true
	case entry.URL != "":
		return ServerConfig{
			Name:      name,
			Transport: TransportHTTP,
			URL:       entry.URL,
			Auth:      entry.Auth,
		}, true
	default:
		return ServerConfig{}, false
	}
}
