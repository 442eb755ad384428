package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"botdesk/internal/models"
	"botdesk/internal/store"
)

// addRunsCommands registers run lifecycle commands. A run groups trades
// and accumulates their realized outcomes.
func addRunsCommands(root *cobra.Command, app *App) {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage trading runs",
	}

	createCmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a new run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run := &models.Run{
				ID:        uuid.NewString(),
				Name:      args[0],
				CreatedAt: time.Now().UTC(),
			}
			if err := app.Store.CreateRun(cmd.Context(), run); err != nil {
				return fmt.Errorf("creating run: %w", err)
			}

			out := NewOutput(cmd)
			if out.IsJSON() {
				return out.JSON(run)
			}
			out.Printf("Run %s created (%s)\n", run.ID, run.Name)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := app.Store.ListRuns(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing runs: %w", err)
			}

			out := NewOutput(cmd)
			if out.IsJSON() {
				return out.JSON(runs)
			}

			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					r.ID, r.Name, r.CreatedAt.Format(time.RFC3339),
					strconv.FormatFloat(r.TotalPnL, 'f', 2, 64),
					strconv.Itoa(r.WinCount), strconv.Itoa(r.LossCount),
				})
			}
			out.Table([]string{"ID", "NAME", "CREATED", "TOTAL_PNL", "WINS", "LOSSES"}, rows)
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats [run-id]",
		Short: "Show aggregate results for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := app.Store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("loading run: %w", err)
			}

			trades, err := app.Store.ListTrades(cmd.Context(), store.TradeFilter{RunID: run.ID})
			if err != nil {
				return fmt.Errorf("listing run trades: %w", err)
			}

			var open, closed, cancelled int
			for _, t := range trades {
				switch t.Status {
				case models.StatusClosed:
					closed++
				case models.StatusCancelled:
					cancelled++
				default:
					open++
				}
			}

			out := NewOutput(cmd)
			if out.IsJSON() {
				return out.JSON(map[string]interface{}{
					"run":       run,
					"open":      open,
					"closed":    closed,
					"cancelled": cancelled,
				})
			}

			winRate := 0.0
			if run.WinCount+run.LossCount > 0 {
				winRate = float64(run.WinCount) / float64(run.WinCount+run.LossCount) * 100
			}
			out.Printf("Run:        %s (%s)\n", run.Name, run.ID)
			out.Printf("Created:    %s\n", run.CreatedAt.Format(time.RFC3339))
			out.Printf("Total P&L:  %.2f\n", run.TotalPnL)
			out.Printf("Wins/Losses: %d/%d (%.1f%% win rate)\n", run.WinCount, run.LossCount, winRate)
			out.Printf("Trades:     %d open, %d closed, %d cancelled\n", open, closed, cancelled)
			return nil
		},
	}

	runsCmd.AddCommand(createCmd, listCmd, statsCmd)
	root.AddCommand(runsCmd)
}
