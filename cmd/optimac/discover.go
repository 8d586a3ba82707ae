package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List tool servers found in config files",
	Long: `Reads the well-known config files (Anthropic SDK, Claude Desktop, and
~/.optimac/mcp_servers.json plus any settings-file extras) and prints the
normalized server list. Nothing is registered or started.`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	servers := env.locator.Discover()
	if len(servers) == 0 {
		fmt.Println("No servers found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTRANSPORT\tTARGET\tSOURCE")
	for _, s := range servers {
		target := s.Command
		if s.IsHTTP() {
			target = s.URL
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Transport, target, s.Source)
	}
	return w.Flush()
}
