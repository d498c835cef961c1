package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/mchmarny/credscore/pkg/data"
)

var (
	yesFlag = &cli.BoolFlag{
		Name:    "yes",
		Aliases: []string{"y"},
		Usage:   "Skip the confirmation prompt",
	}

	resetCmd = &cli.Command{
		Name:            "reset",
		Usage:           "Delete all recorded pipeline runs and scores",
		HideHelpCommand: true,
		Flags:           []cli.Flag{yesFlag},
		Action:          cmdReset,
	}
)

func cmdReset(_ context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)
	out := writer(cmd)

	if !cmd.Bool(yesFlag.Name) {
		fmt.Fprintf(out, "This will permanently delete all runs and scores in %s\n", cfg.DSN)
		fmt.Fprint(out, "Are you sure? [y/N]: ")

		reader := bufio.NewReader(cmd.Root().Reader)
		answer, err := reader.ReadString('\n')
		if err != nil && answer == "" {
			return fmt.Errorf("reading input: %w", err)
		}

		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	runs, err := data.DeleteRuns(cfg.DB)
	if err != nil {
		return fmt.Errorf("deleting runs: %w", err)
	}
	scores, err := data.DeleteScores(cfg.DB)
	if err != nil {
		return fmt.Errorf("deleting scores: %w", err)
	}

	slog.Info("data deleted", "runs", runs, "scores", scores)
	fmt.Fprintln(out, "Reset complete.")
	return nil
}
