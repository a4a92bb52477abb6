package commands

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dyluth/place/internal/bot"
	"github.com/dyluth/place/internal/printer"
	"github.com/dyluth/place/pkg/place"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	botStrategy string
	botName     string
	botInterval time.Duration
	botMoves    int
	botVerbose  bool
)

var botCmd = &cobra.Command{
	Use:   "bot HOST PORT",
	Short: "Run a scripted player",
	Long: `Connect a scripted player that paints on its own.

Strategies:
  ocean    - paints random tiles in shades of blue
  random   - paints random tiles in random colours
  stripes  - sweeps the board column by column in black and yellow
  eraser   - repaints every changed tile white
  darkness - repaints every changed tile black
  mirror   - copies every placement to its transposed position

Without --name the bot logs in as <Prefix>-NNNN, e.g. Ocean-0042.

Examples:
  place bot localhost 5000 --strategy ocean
  place bot localhost 5000 --strategy eraser --interval 100ms`,
	Args: cobra.ExactArgs(2),
	RunE: runBot,
}

func init() {
	botCmd.Flags().StringVarP(&botStrategy, "strategy", "s", "ocean", "Strategy: "+strings.Join(bot.Names(), ", "))
	botCmd.Flags().StringVar(&botName, "name", "", "Login name (default: generated from the strategy)")
	botCmd.Flags().DurationVar(&botInterval, "interval", bot.DefaultInterval, "Pause between moves")
	botCmd.Flags().IntVar(&botMoves, "moves", 0, "Stop after N moves (0 = run until interrupted)")
	botCmd.Flags().BoolVarP(&botVerbose, "verbose", "v", false, "Log every move")
	rootCmd.AddCommand(botCmd)
}

func runBot(cmd *cobra.Command, args []string) error {
	addr, err := serverAddr(args[0], args[1])
	if err != nil {
		return printer.Error("invalid address", err.Error(), nil)
	}

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	strategy, err := bot.New(botStrategy, rng)
	if err != nil {
		return printer.Error(
			"unknown strategy",
			err.Error(),
			[]string{fmt.Sprintf("Valid strategies: %s", strings.Join(bot.Names(), ", "))},
		)
	}
	if botInterval <= 0 {
		return printer.Error("invalid interval", fmt.Sprintf("--interval must be positive, got %s", botInterval), nil)
	}

	name := botName
	if name == "" {
		name = bot.LoginName(strategy, rng)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if botVerbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The runner paces moves itself.
	client, err := dialServer(ctx, addr, name, place.WithCooldown(0))
	if err != nil {
		return err
	}
	defer client.Close()

	printer.Success("Joined as %s (%s strategy)\n", name, botStrategy)

	stats, err := bot.NewRunner(client, strategy, botInterval, botMoves, logger).Run(ctx)
	if err != nil {
		return printer.Error(
			"bot stopped",
			err.Error(),
			[]string{fmt.Sprintf("Moves made before stopping: %d", stats.Moves)},
		)
	}

	if err := client.Leave("bye"); err != nil {
		logger.WithError(err).Debug("Leave failed")
	}
	printer.Info("%s made %d moves (%d skipped)\n", name, stats.Moves, stats.Skipped)
	return nil
}
