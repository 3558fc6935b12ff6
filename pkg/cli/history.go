package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/insightpilot/pkg/models"
	"github.com/ekaya-inc/insightpilot/pkg/services"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse and manage the query history",
	}
	cmd.AddCommand(
		newHistoryListCmd(root),
		newHistorySearchCmd(root),
		newHistoryFavoritesCmd(root),
		newHistoryFavoriteCmd(root),
		newHistoryDeleteCmd(root),
		newHistoryExportCmd(root),
		newHistoryStatsCmd(root),
		newHistoryPruneCmd(root),
	)
	return cmd
}

func printEntries(entries []models.HistoryEntry) error {
	if len(entries) == 0 {
		pterm.Info.Println("No history entries")
		return nil
	}
	return renderTable(historyTable(entries))
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid history id %q", s)
	}
	return id, nil
}

func newHistoryListCmd(root *rootOptions) *cobra.Command {
	var (
		limit      int
		connection string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(ctx context.Context, a *app) error {
				var (
					entries []models.HistoryEntry
					err     error
				)
				if connection != "" {
					entries, err = a.history.ByConnection(ctx, connection, limit)
				} else {
					entries, err = a.history.RecentN(ctx, limit)
				}
				if err != nil {
					return err
				}
				return printEntries(entries)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show")
	cmd.Flags().StringVar(&connection, "connection", "", "Only entries for this connection")
	return cmd
}

func newHistorySearchCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Find entries whose question or query contains term",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(ctx context.Context, a *app) error {
				entries, err := a.history.Search(ctx, strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				return printEntries(entries)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show")
	return cmd
}

func newHistoryFavoritesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "favorites",
		Short: "List favorite entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(ctx context.Context, a *app) error {
				entries, err := a.history.Favorites(ctx)
				if err != nil {
					return err
				}
				return printEntries(entries)
			})
		},
	}
}

func newHistoryFavoriteCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "favorite <id>",
		Short: "Toggle the favorite flag of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), root, func(ctx context.Context, a *app) error {
				fav, err := a.history.ToggleFavorite(ctx, id)
				if err != nil {
					return err
				}
				if fav {
					pterm.Success.Printfln("Entry %d marked as favorite", id)
				} else {
					pterm.Success.Printfln("Entry %d is no longer a favorite", id)
				}
				return nil
			})
		},
	}
}

func newHistoryDeleteCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), root, func(ctx context.Context, a *app) error {
				if err := a.history.Delete(ctx, id); err != nil {
					return err
				}
				pterm.Success.Printfln("Entry %d deleted", id)
				return nil
			})
		},
	}
}

func newHistoryExportCmd(root *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Write the whole history to a JSON or CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(ctx context.Context, a *app) error {
				n, err := a.history.Export(ctx, args[0], strings.ToLower(format))
				if err != nil {
					return err
				}
				pterm.Success.Printfln("Exported %d entries to %s", n, args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", services.ExportJSON, "Export format: json or csv")
	return cmd
}

func newHistoryStatsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise the history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(ctx context.Context, a *app) error {
				stats, err := a.history.Statistics(ctx)
				if err != nil {
					return err
				}
				printStats(stats)
				return nil
			})
		},
	}
}

func printStats(stats *models.HistoryStatistics) {
	pterm.DefaultSection.Println("Query history")
	pterm.Printfln("Total:        %d", stats.Total)
	pterm.Printfln("Successful:   %d (%.1f%%)", stats.Successful, stats.SuccessRate*100)
	pterm.Printfln("Favorites:    %d", stats.Favorites)

	if len(stats.TopConnections) > 0 {
		items := make([]pterm.BulletListItem, 0, len(stats.TopConnections))
		for _, c := range stats.TopConnections {
			items = append(items, pterm.BulletListItem{Text: fmt.Sprintf("%s: %d", c.Name, c.Count)})
		}
		pterm.DefaultSection.WithLevel(2).Println("Top connections")
		_ = pterm.DefaultBulletList.WithItems(items).Render()
	}
	if len(stats.RecentActivity) > 0 {
		items := make([]pterm.BulletListItem, 0, len(stats.RecentActivity))
		for _, d := range stats.RecentActivity {
			items = append(items, pterm.BulletListItem{Text: fmt.Sprintf("%s: %d", d.Date, d.Count)})
		}
		pterm.DefaultSection.WithLevel(2).Println("Recent activity")
		_ = pterm.DefaultBulletList.WithItems(items).Render()
	}
}

func newHistoryPruneCmd(root *rootOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete entries older than the retention period",
		Long: `Prune deletes history entries older than --days (history.retention_days when not
given). Favorites are kept when history.keep_favorites is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(ctx context.Context, a *app) error {
				if !cmd.Flags().Changed("days") {
					days = a.cfg.History.RetentionDays
				}
				n, err := a.retention.Prune(ctx, days)
				if err != nil {
					return err
				}
				pterm.Success.Printfln("Deleted %d entries", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Delete entries older than this many days")
	return cmd
}
