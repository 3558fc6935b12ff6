package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/insightpilot/pkg/models"
)

type askOptions struct {
	provider string
	failover bool
	json     bool
}

func newAskCmd(root *rootOptions) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask <connection> <question>",
		Short: "Ask a question of a database",
		Long: `Ask turns the question into a read-only query for the named database connection,
runs it and explains the result. When the database rejects the query with an error
that can be fixed, the query is repaired and retried up to pipeline.max_retries times.

Press Ctrl+C to cancel a run in progress.`,
		Example: `  insightpilot ask shop "How many orders were placed last week?"
  insightpilot ask shop "Top 5 customers by revenue" --provider anthropic --failover`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			req := models.QueryRequest{
				ConnectionName: args[0],
				Question:       strings.Join(args[1:], " "),
				ProviderName:   opts.provider,
				AllowFailover:  opts.failover,
			}
			return withApp(ctx, root, func(ctx context.Context, a *app) error {
				return runAsk(ctx, a, req, opts.json)
			})
		},
	}
	cmd.Flags().StringVarP(&opts.provider, "provider", "p", "", "LLM connection to use (default provider when empty)")
	cmd.Flags().BoolVar(&opts.failover, "failover", false, "Fall back to other providers if the chosen one fails")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the outcome as JSON")
	return cmd
}

func runAsk(ctx context.Context, a *app, req models.QueryRequest, asJSON bool) error {
	var outcome *models.QueryOutcome
	if asJSON {
		outcome = a.orchestrator.Run(ctx, req, nil)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcome); err != nil {
			return err
		}
		if !outcome.Success {
			return errReported
		}
		return nil
	}

	spinner, err := pterm.DefaultSpinner.WithRemoveWhenDone(true).Start("Starting")
	if err != nil {
		return err
	}
	_, events, result := a.orchestrator.RunAsync(ctx, req)
	for e := range events {
		spinner.UpdateText(stageLabel(e))
	}
	outcome = <-result
	_ = spinner.Stop()

	return printOutcome(outcome)
}

func printOutcome(outcome *models.QueryOutcome) error {
	if outcome.FinalQueryText != "" {
		pterm.DefaultBox.WithTitle("Query").WithPadding(1).Println(outcome.FinalQueryText)
	}

	if !outcome.Success {
		pterm.Error.Printfln("%s: %s", outcome.Kind(), outcome.Error.Message)
		if outcome.Error.Suggestion != "" {
			pterm.Info.Println(outcome.Error.Suggestion)
		}
		return errReported
	}

	if res := outcome.Result; res != nil && len(res.Columns) > 0 {
		data, hidden := resultTable(res)
		if err := renderTable(data); err != nil {
			return err
		}
		if hidden > 0 {
			pterm.Info.Printfln("%d more rows not shown", hidden)
		}
	}
	pterm.Println()
	pterm.DefaultSection.Println("Explanation")
	pterm.Println(outcome.Explanation)
	pterm.Println()
	rows := 0
	if outcome.Result != nil {
		rows = outcome.Result.RowCount
	}
	pterm.Success.Printfln("%d rows in %d ms (attempts: %d, provider: %s)",
		rows, outcome.TotalTimeMs, outcome.Attempts, outcome.Provider)
	return nil
}
