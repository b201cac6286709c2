package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/axellelanca/linkcloak/cmd"
	"github.com/axellelanca/linkcloak/internal/database"
	customerrors "github.com/axellelanca/linkcloak/internal/errors"
	"github.com/axellelanca/linkcloak/internal/repository"
	"github.com/axellelanca/linkcloak/internal/services"
)

// StatsCmd prints the counters and ledger breakdown of a link.
var StatsCmd = &cobra.Command{
	Use:   "stats [slug]",
	Short: "Get click statistics for a cloaked link",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func init() {
	cmd.RootCmd.AddCommand(StatsCmd)
}

func runStats(c *cobra.Command, args []string) error {
	slug := args[0]

	db, err := cmd.OpenDatabase()
	if err != nil {
		return err
	}
	defer database.Close(db)

	linkService := services.NewLinkService(repository.NewLinkRepository(db), repository.NewClickRepository(db), cmd.Logger)
	stats, err := linkService.GetLinkStats(c.Context(), slug)
	if err != nil {
		if errors.Is(err, customerrors.ErrLinkNotFound) {
			return fmt.Errorf("slug %q not found", slug)
		}
		return fmt.Errorf("retrieve statistics: %w", err)
	}

	out := c.OutOrStdout()
	link := stats.Link
	fmt.Fprintf(out, "Statistics for: %s\n", link.Slug)
	fmt.Fprintf(out, "Target: %s\n", link.TargetURL)
	fmt.Fprintf(out, "Available: %t\n", link.IsAvailable())
	fmt.Fprintf(out, "Total clicks: %d\n", link.TotalClicks)
	fmt.Fprintf(out, "Valid clicks: %d\n", link.ValidClicks)
	fmt.Fprintf(out, "Ledger events: %d\n", stats.Events)
	fmt.Fprintf(out, "Created: %s\n", link.CreatedAt.Format("2006-01-02 15:04:05"))

	if b := stats.Breakdown; b != nil {
		printCounts(c, "By device", b.ByDevice)
		printCounts(c, "By invalid reason", b.ByInvalidReason)
		if b.LastClickAt != nil {
			fmt.Fprintf(out, "Last click: %s\n", b.LastClickAt.Format("2006-01-02 15:04:05"))
		}
	}
	return nil
}

func printCounts[K ~string](c *cobra.Command, title string, counts map[K]int64) {
	if len(counts) == 0 {
		return
	}
	keys := make([]K, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	fmt.Fprintf(c.OutOrStdout(), "%s:\n", title)
	for _, k := range keys {
		label := string(k)
		if label == "" {
			label = "(none)"
		}
		fmt.Fprintf(c.OutOrStdout(), "  %-12s %d\n", label, counts[k])
	}
}
