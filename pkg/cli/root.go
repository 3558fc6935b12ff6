// Package cli is the insightpilot command line: ask questions, browse
// history, inspect connections and run the HTTP and MCP servers.
package cli

import (
	"context"
	"errors"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// errReported marks a failure whose details were already printed.
var errReported = errors.New("command failed")

type rootOptions struct {
	configPath string
	verbose    bool
	version    string
}

func newRootCmd(version string) *cobra.Command {
	opts := &rootOptions{version: version}

	cmd := &cobra.Command{
		Use:   "insightpilot",
		Short: "Ask questions of your databases in plain language",
		Long: `InsightPilot turns natural-language questions into read-only database queries,
runs them, repairs them when the database rejects them, and explains the result.

Connections to databases and LLM providers are read from the connections file
named in config.yaml (connections.yaml by default).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config.yaml")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(
		newAskCmd(opts),
		newHistoryCmd(opts),
		newConnectionsCmd(opts),
		newProvidersCmd(opts),
		newServeCmd(opts),
		newMCPCmd(opts),
	)
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute(version string) int {
	if err := newRootCmd(version).ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errReported) {
			pterm.Error.Println(err)
		}
		return 1
	}
	return 0
}

