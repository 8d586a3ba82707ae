// Package settings loads the optional control-plane settings file
// ~/.optimac/config.yaml. Zero values mean "use the component default"; the
// file may be absent entirely.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings are the control-plane-level knobs. They never describe individual
// servers; those come from the discovery config files.
type Settings struct {
	// StatePath overrides the registry state file location.
	StatePath string `yaml:"state_path"`
	// RequestTimeoutSeconds bounds protocol operations.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
	// APIAddr is the status API listen address.
	APIAddr string `yaml:"api_addr"`
	// ConfigPaths are appended to the default discovery candidates.
	ConfigPaths []string `yaml:"config_paths"`
}

// RequestTimeout converts the configured seconds into a duration, zero when
// unset.
func (s Settings) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// DefaultPath returns ~/.optimac/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".optimac", "config.yaml")
	}
	return filepath.Join(home, ".optimac", "config.yaml")
}

// Load reads the settings file at path. A missing file yields zero settings
// and no error; a file that exists but does not parse is an error.
func Load(path string) (Settings, error) {
	var s Settings
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("settings: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("settings: parse %s: %w", path, err)
	}
	return s, nil
}
