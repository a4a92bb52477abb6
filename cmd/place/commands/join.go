package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dyluth/place/internal/printer"
	"github.com/dyluth/place/pkg/place"
	"github.com/spf13/cobra"
)

const dialTimeout = 10 * time.Second

var joinCmd = &cobra.Command{
	Use:   "join HOST PORT NAME",
	Short: "Join a Place server from the terminal",
	Long: `Log in to a Place server as NAME and paint tiles from the terminal.

The board is printed after login and again after every placement. Enter
moves one per line as:

  ROW COL COLOR

where COLOR is a palette name (blue), index (13) or hex digit (d).
Enter -1 to leave.

Examples:
  place join localhost 5000 alice`,
	Args: cobra.ExactArgs(3),
	RunE: runJoin,
}

func init() {
	rootCmd.AddCommand(joinCmd)
}

func runJoin(cmd *cobra.Command, args []string) error {
	addr, err := serverAddr(args[0], args[1])
	if err != nil {
		return printer.Error("invalid address", err.Error(), nil)
	}
	name := args[2]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := dialServer(ctx, addr, name)
	if err != nil {
		return err
	}
	defer client.Close()

	printer.Success("%s\n", client.Welcome())
	printer.Board(client.Board())
	printer.Legend(printer.Stdout)
	printer.Faint("Enter moves as: row col color (-1 quits)\n")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return leave(client)

		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "-1" {
				return leave(client)
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := playMove(client, line); err != nil {
				return err
			}

		case tile, ok := <-client.Updates():
			if !ok {
				return disconnected(client)
			}
			printer.Board(client.Board())
			printer.Faint("%s\n", printer.TileLine(tile))
		}
	}
}

// playMove parses and sends one move. Input mistakes are reported and
// ignored; only a broken connection is returned.
func playMove(client *place.Client, line string) error {
	row, col, color, err := parseMove(line)
	if err != nil {
		printer.Warning("%v\n", err)
		return nil
	}
	if !client.Board().InBounds(row, col) {
		dim := client.Board().Dim()
		printer.Warning("(%d,%d) is off the board; rows and columns run 0-%d\n", row, col, dim-1)
		return nil
	}

	err = client.SendTile(row, col, color)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, place.ErrCoolingDown):
		printer.Warning("Wait before making another move\n")
		return nil
	case errors.Is(err, place.ErrClientClosed):
		return disconnected(client)
	default:
		return fmt.Errorf("failed to send move: %w", err)
	}
}

// parseMove reads "ROW COL COLOR".
func parseMove(line string) (row, col int, color place.Color, err error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return 0, 0, 0, fmt.Errorf("expected: row col color, got %q", line)
	}
	if row, err = strconv.Atoi(fields[0]); err != nil {
		return 0, 0, 0, fmt.Errorf("row must be a number, got %q", fields[0])
	}
	if col, err = strconv.Atoi(fields[1]); err != nil {
		return 0, 0, 0, fmt.Errorf("col must be a number, got %q", fields[1])
	}
	if color, err = place.ParseColor(fields[2]); err != nil {
		return 0, 0, 0, err
	}
	return row, col, color, nil
}

func leave(client *place.Client) error {
	if err := client.Leave("bye"); err != nil {
		return fmt.Errorf("failed to leave: %w", err)
	}
	printer.Info("Bye\n")
	return nil
}

func disconnected(client *place.Client) error {
	reason := "connection closed"
	if err := client.Err(); err != nil {
		reason = err.Error()
	}
	return printer.Error("disconnected from server", reason, nil)
}

func serverAddr(host, port string) (string, error) {
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("port must be between 1 and 65535, got %q", port)
	}
	return net.JoinHostPort(host, port), nil
}

// dialServer connects and logs in, reporting failures as printer errors.
func dialServer(ctx context.Context, addr, name string, opts ...place.ClientOption) (*place.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	client, err := place.Dial(dialCtx, addr, name, opts...)
	if err == nil {
		return client, nil
	}

	var loginErr *place.LoginError
	if errors.As(err, &loginErr) {
		return nil, printer.Error(
			"login rejected",
			loginErr.Reason,
			[]string{"Choose another name"},
		)
	}
	return nil, printer.Error(
		"failed to connect",
		err.Error(),
		[]string{fmt.Sprintf("Check that a server is running:\n  place serve %s <dim>", portOf(addr))},
	)
}

func portOf(addr string) string {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "<port>"
	}
	return port
}
