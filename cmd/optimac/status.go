package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [server]",
	Short: "Show supervision state for registered servers",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	env.syncDiscovered()

	snapshots := env.registry.ListAll()
	if len(args) == 1 {
		snap := env.registry.GetStatus(args[0])
		if snap == nil {
			return fmt.Errorf("unknown server %q", args[0])
		}
		snapshots = snapshots[:0]
		snapshots = append(snapshots, *snap)
	}
	if len(snapshots) == 0 {
		fmt.Println("No servers registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tPID\tUPTIME\tREQUESTS\tERROR")
	for _, s := range snapshots {
		pid := "-"
		if s.PID != 0 {
			pid = fmt.Sprintf("%d", s.PID)
		}
		uptime := "-"
		if s.UptimeSeconds != nil {
			uptime = fmt.Sprintf("%ds", *s.UptimeSeconds)
		}
		errText := s.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", s.Name, s.Status, pid, uptime, s.RequestCount, errText)
	}
	return w.Flush()
}
