package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gerdsenai/optimac-control/pkg/discovery"
	"github.com/gerdsenai/optimac-control/pkg/registry"
	"github.com/gerdsenai/optimac-control/pkg/settings"
)

var (
	flagSettings string
	flagState    string
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "optimac",
	Short: "Control plane for MCP tool servers",
	Long: `optimac discovers MCP tool servers from well-known config files,
supervises their running/stopped lifecycle with persisted state, and
invokes their tools over stdio or HTTP transports.`,
	Example: `  optimac discover                 # Show servers found in config files
  optimac start --all              # Start every discovered server
  optimac status                   # Show supervision state and uptimes
  optimac call fs read_file --args '{"path": "/tmp/x"}'
  optimac serve                    # Expose the registry over HTTP`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initLogging)
	rootCmd.PersistentFlags().StringVar(&flagSettings, "settings", "", "Settings file (default ~/.optimac/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagState, "state", "", "Registry state file (default ~/.optimac/mcp_state.json)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

func initLogging() {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// environment wires settings, locator, and registry for the subcommands.
type environment struct {
	settings settings.Settings
	locator  *discovery.Locator
	registry *registry.Registry
}

func loadEnvironment() (*environment, error) {
	path := flagSettings
	if path == "" {
		path = settings.DefaultPath()
	}
	cfg, err := settings.Load(path)
	if err != nil {
		return nil, err
	}

	statePath := flagState
	if statePath == "" {
		statePath = cfg.StatePath
	}

	locator := discovery.NewLocator(&discovery.LocatorOptions{
		ExtraPaths: cfg.ConfigPaths,
	})
	reg := registry.New(&registry.Options{
		StatePath:      statePath,
		RequestTimeout: cfg.RequestTimeout(),
	})
	return &environment{settings: cfg, locator: locator, registry: reg}, nil
}

// syncDiscovered registers every discovered server that is not yet known.
func (e *environment) syncDiscovered() {
	e.registry.RegisterDiscovered(e.locator.Discover())
}
