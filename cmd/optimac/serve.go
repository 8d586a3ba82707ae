package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gerdsenai/optimac-control/pkg/statusapi"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the registry over a local HTTP API",
	Long: `Runs the status API until interrupted. The desktop UI and scripts use
this surface to inspect servers, drive start/stop/restart, and invoke
tools without linking the control plane directly.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default 127.0.0.1:8700)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	env.syncDiscovered()
	defer env.registry.Close()

	addr := serveAddr
	if addr == "" {
		addr = env.settings.APIAddr
	}
	api := statusapi.New(env.registry, &statusapi.Options{Addr: addr})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("status API listening on %s\n", addrOrDefault(addr))
	if err := api.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func addrOrDefault(addr string) string {
	if addr == "" {
		return "127.0.0.1:8700"
	}
	return addr
}
