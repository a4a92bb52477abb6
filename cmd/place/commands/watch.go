package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/place/internal/printer"
	"github.com/dyluth/place/internal/watch"
	"github.com/spf13/cobra"
)

var (
	watchRedisURL     string
	watchInstanceName string
	watchOutputFormat string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream placements as they happen",
	Long: `Stream every accepted placement from the Redis mirror of a running server.

The server must have been started with a redis_url. Events are read from the
instance's tile_events channel; placements made before watch starts are not
shown (use 'place history' for those).

Output Formats:
  default - Human-readable output with timestamps and colour swatches
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch the default instance on a local Redis
  place watch

  # Watch another instance
  place watch --instance prod --redis-url redis://cache:6379

  # Export events as JSON
  place watch --output=json > placements.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	addMirrorFlags(watchCmd, &watchRedisURL, &watchInstanceName)
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	var outputFormat watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		outputFormat = watch.OutputFormatDefault
	case "json":
		outputFormat = watch.OutputFormatJSON
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := connectMirror(ctx, watchRedisURL, watchInstanceName)
	if err != nil {
		return err
	}
	defer client.Close()

	return watch.StreamActivity(ctx, client, watchInstanceName, outputFormat, cmd.OutOrStdout())
}
