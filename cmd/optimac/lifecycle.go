package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var startAll bool

var startCmd = &cobra.Command{
	Use:   "start [server...]",
	Short: "Start one or more servers",
	Long: `Starts the named servers, or every registered server with --all.
Different servers start concurrently; each start is independent.`,
	RunE: runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop <server>",
	Short: "Stop a running server",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

var restartCmd = &cobra.Command{
	Use:   "restart <server>",
	Short: "Restart a server",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestart,
}

func init() {
	startCmd.Flags().BoolVar(&startAll, "all", false, "Start every registered server")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	env.syncDiscovered()

	names := args
	if startAll {
		names = env.registry.Names()
	}
	if len(names) == 0 {
		return fmt.Errorf("name at least one server, or pass --all")
	}

	// Operations against different servers are fully independent.
	var g errgroup.Group
	for _, name := range names {
		g.Go(func() error {
			if !env.registry.Start(cmd.Context(), name) {
				snap := env.registry.GetStatus(name)
				if snap == nil {
					return fmt.Errorf("unknown server %q", name)
				}
				return fmt.Errorf("start %s: %s", name, snap.Error)
			}
			fmt.Printf("started %s\n", name)
			return nil
		})
	}
	return g.Wait()
}

func runStop(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	if !env.registry.Stop(args[0]) {
		return fmt.Errorf("unknown server %q", args[0])
	}
	fmt.Printf("stopped %s\n", args[0])
	return nil
}

func runRestart(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	env.syncDiscovered()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if !env.registry.Restart(ctx, args[0]) {
		snap := env.registry.GetStatus(args[0])
		if snap == nil {
			return fmt.Errorf("unknown server %q", args[0])
		}
		return fmt.Errorf("restart %s: %s", args[0], snap.Error)
	}
	fmt.Printf("restarted %s\n", args[0])
	return nil
}
