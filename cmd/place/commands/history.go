package commands

import (
	"context"
	"fmt"

	"github.com/dyluth/place/internal/history"
	"github.com/dyluth/place/internal/printer"
	"github.com/dyluth/place/internal/timespec"
	"github.com/dyluth/place/pkg/place"
	"github.com/spf13/cobra"
)

var (
	historyRedisURL     string
	historyInstanceName string
	historyOutputFormat string
	historySince        string
	historyUntil        string
	historyOwner        string
	historyColor        string
	historyLimit        int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List mirrored placements with filtering",
	Long: `List placements recorded in the Redis mirror, oldest first.

The mirror keeps the most recent history_limit placements (10000 by default).

Output Formats:
  table - Human-readable table with position, colour, owner and age
  jsonl - Line-delimited JSON, one placement per line

Time Filters:
  --since  - Show placements at or after this time
  --until  - Show placements at or before this time
  Both accept durations ("2h" ago), RFC3339 timestamps, dates or Unix milliseconds.

Content Filters:
  --owner  - Only placements by this name (exact match)
  --color  - Only placements of this colour (name, index or hex digit)
  --limit  - Only the newest N matches

Examples:
  # Everything in the mirror
  place history

  # What alice painted in the last hour
  place history --owner alice --since 1h

  # Blue placements as JSONL for jq
  place history --color blue -o jsonl | jq .owner`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	addMirrorFlags(historyCmd, &historyRedisURL, &historyInstanceName)
	historyCmd.Flags().StringVarP(&historyOutputFormat, "output", "o", "table", "Output format: table or jsonl")

	historyCmd.Flags().StringVar(&historySince, "since", "", "Show placements after time (duration, RFC3339 or Unix ms)")
	historyCmd.Flags().StringVar(&historyUntil, "until", "", "Show placements before time (duration, RFC3339 or Unix ms)")

	historyCmd.Flags().StringVar(&historyOwner, "owner", "", "Filter by owner name (exact match)")
	historyCmd.Flags().StringVar(&historyColor, "color", "", "Filter by colour")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Show at most N placements, newest kept (0 = all)")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	format, err := history.ParseOutputFormat(historyOutputFormat)
	if err != nil {
		return printer.Error(
			"invalid output format",
			err.Error(),
			[]string{"Valid formats: table, jsonl"},
		)
	}

	timeRange, err := timespec.ParseRange(historySince, historyUntil)
	if err != nil {
		return printer.Error(
			"invalid time filter",
			err.Error(),
			[]string{
				"Use a duration:\n  --since 2h",
				"Or an RFC3339 timestamp:\n  --since 2025-10-29T13:00:00Z",
			},
		)
	}

	criteria := history.FilterCriteria{
		Range: timeRange,
		Owner: historyOwner,
		Limit: historyLimit,
	}
	if historyColor != "" {
		c, err := place.ParseColor(historyColor)
		if err != nil {
			return printer.Error(
				"invalid colour",
				err.Error(),
				[]string{fmt.Sprintf("Valid colours: %v", place.Palette())},
			)
		}
		criteria.Color = &c
	}
	if historyLimit < 0 {
		return printer.Error("invalid limit", fmt.Sprintf("--limit must be >= 0, got %d", historyLimit), nil)
	}

	client, err := connectMirror(ctx, historyRedisURL, historyInstanceName)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := history.ListTiles(ctx, client, historyInstanceName, criteria, format, cmd.OutOrStdout()); err != nil {
		return fmt.Errorf("failed to list placements: %w", err)
	}
	return nil
}
