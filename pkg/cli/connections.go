package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	"github.com/ekaya-inc/insightpilot/pkg/logging"
	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// connectionTestTimeout bounds connect plus schema fetch in "connections test".
const connectionTestTimeout = 30 * time.Second

func newConnectionsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "connections",
		Aliases: []string{"conn"},
		Short:   "Inspect database and LLM connections",
	}

	var kind string
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered connections (credentials are never shown)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k := models.ConnectionKind(kind)
			if k != "" && k != models.KindDB && k != models.KindLLM {
				return fmt.Errorf("--kind must be db or llm")
			}
			return withApp(cmd.Context(), root, func(ctx context.Context, a *app) error {
				return printConnections(a.registry.List(k), a.pool.Default())
			})
		},
	}
	list.Flags().StringVar(&kind, "kind", "", "Only db or llm connections")

	test := &cobra.Command{
		Use:   "test <name>",
		Short: "Connect to a database and read its schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(ctx context.Context, a *app) error {
				return testConnection(ctx, a, args[0])
			})
		},
	}

	var limit int
	sample := &cobra.Command{
		Use:   "sample <name> <table>",
		Short: "Show the first rows of a table or collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 || limit > datasource.MaxQueryLimit {
				return fmt.Errorf("--limit must be between 1 and %d", datasource.MaxQueryLimit)
			}
			return withApp(cmd.Context(), root, func(ctx context.Context, a *app) error {
				return sampleTable(ctx, a, args[0], args[1], limit)
			})
		},
	}
	sample.Flags().IntVar(&limit, "limit", 10, "Rows to fetch")

	cmd.AddCommand(list, test, sample)
	return cmd
}

func printConnections(descs []models.ConnectionDescriptor, defaultProvider string) error {
	if len(descs) == 0 {
		pterm.Info.Println("No connections registered")
		return nil
	}
	data := pterm.TableData{{"Name", "Kind", "Type", "Target", "Enabled"}}
	for _, d := range descs {
		target := ""
		switch {
		case d.DB != nil && d.DB.Host != "":
			target = fmt.Sprintf("%s:%d/%s", d.DB.Host, d.DB.Port, d.DB.Database)
		case d.DB != nil:
			target = d.DB.Database
		case d.LLM != nil:
			target = d.LLM.Model
			if d.Name == defaultProvider {
				target += " (default)"
			}
		}
		data = append(data, []string{d.Name, string(d.Kind), d.Subtype(), target, strconv.FormatBool(d.Enabled)})
	}
	return renderTable(data)
}

func testConnection(ctx context.Context, a *app, name string) error {
	desc, err := a.registry.ResolveDB(name)
	if err != nil {
		return err
	}
	adapter, err := a.factory.NewAdapter(desc)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, connectionTestTimeout)
	defer cancel()

	spinner, err := pterm.DefaultSpinner.Start("Connecting to " + name)
	if err != nil {
		return err
	}
	if err := adapter.Connect(ctx); err != nil {
		spinner.Fail("Connection failed: " + logging.SanitizeError(err))
		return errReported
	}
	defer func() { _ = adapter.Disconnect() }()

	spinner.UpdateText("Reading schema")
	tables, err := adapter.GetSchema(ctx)
	if err != nil {
		spinner.Fail("Schema read failed: " + logging.SanitizeError(err))
		return errReported
	}
	spinner.Success(fmt.Sprintf("Connected to %s (%s): %d tables", name, desc.Subtype(), len(tables)))

	items := make([]pterm.BulletListItem, 0, len(tables))
	for _, t := range tables {
		items = append(items, pterm.BulletListItem{Text: fmt.Sprintf("%s (%d columns)", t.Name, len(t.Columns))})
	}
	return pterm.DefaultBulletList.WithItems(items).Render()
}

func sampleTable(ctx context.Context, a *app, name, table string, limit int) error {
	desc, err := a.registry.ResolveDB(name)
	if err != nil {
		return err
	}
	adapter, err := a.factory.NewAdapter(desc)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, connectionTestTimeout)
	defer cancel()

	if err := adapter.Connect(ctx); err != nil {
		pterm.Error.Println("Connection failed: " + logging.SanitizeError(err))
		return errReported
	}
	defer func() { _ = adapter.Disconnect() }()

	res := adapter.GetSample(ctx, table, limit)
	if res.Error != "" {
		pterm.Error.Printfln("Sample of %s failed: %s", table, res.Error)
		return errReported
	}
	if len(res.Columns) == 0 {
		pterm.Info.Printfln("%s has no rows", table)
		return nil
	}
	data, hidden := resultTable(&res)
	if err := renderTable(data); err != nil {
		return err
	}
	if hidden > 0 {
		pterm.Info.Printfln("%d more rows not shown", hidden)
	}
	return nil
}

func newProvidersCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect LLM providers",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(ctx context.Context, a *app) error {
				names := a.pool.Names()
				if len(names) == 0 {
					pterm.Warning.Println("No LLM providers are available")
					return nil
				}
				data := pterm.TableData{{"Name", "Type", "Default"}}
				for _, n := range names {
					subtype := ""
					if d, err := a.registry.ResolveProvider(n); err == nil {
						subtype = d.Subtype()
					}
					def := ""
					if n == a.pool.Default() {
						def = "*"
					}
					data = append(data, []string{n, subtype, def})
				}
				return renderTable(data)
			})
		},
	}

	health := &cobra.Command{
		Use:   "health",
		Short: "Check that every provider answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(ctx context.Context, a *app) error {
				report := a.pool.HealthReport(ctx)
				names := make([]string, 0, len(report))
				for n := range report {
					names = append(names, n)
				}
				sort.Strings(names)

				failed := 0
				for _, n := range names {
					if report[n] {
						pterm.Success.Println(n)
					} else {
						pterm.Error.Println(n)
						failed++
					}
				}
				if failed > 0 {
					return errReported
				}
				return nil
			})
		},
	}

	modelsCmd := &cobra.Command{
		Use:   "models <name>",
		Short: "List the models a provider offers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(ctx context.Context, a *app) error {
				names, err := a.pool.ListModels(ctx, args[0])
				if err != nil {
					return err
				}
				items := make([]pterm.BulletListItem, 0, len(names))
				for _, n := range names {
					items = append(items, pterm.BulletListItem{Text: n})
				}
				return pterm.DefaultBulletList.WithItems(items).Render()
			})
		},
	}

	cmd.AddCommand(list, health, modelsCmd)
	return cmd
}
