package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// addReconCommand registers the batch trigger: one reconciliation pass
// over all open trades, or a looping scheduler with --interval.
func addReconCommand(root *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "recon",
		Short: "Run a reconciliation pass over all open trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cmd)
			interval, _ := cmd.Flags().GetDuration("interval")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if interval <= 0 {
				return runOnce(ctx, app, out)
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			app.Logger.Info().Dur("interval", interval).Msg("Reconciliation scheduler started")
			if err := runOnce(ctx, app, out); err != nil {
				return err
			}
			for {
				select {
				case <-ctx.Done():
					app.Logger.Info().Msg("Reconciliation scheduler stopped")
					return nil
				case <-ticker.C:
					if err := runOnce(ctx, app, out); err != nil {
						app.Logger.Error().Err(err).Msg("Reconciliation pass failed")
					}
				}
			}
		},
	}
	cmd.Flags().Duration("interval", 0, "repeat passes on this interval until interrupted")
	root.AddCommand(cmd)
}

func runOnce(ctx context.Context, app *App, out *Output) error {
	summary, err := app.Reconciler.RunPass(ctx)
	if err != nil {
		return fmt.Errorf("running reconciliation pass: %w", err)
	}

	if out.IsJSON() {
		return out.JSON(summary)
	}

	out.Printf("Pass finished in %s\n", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))
	out.Printf("checked=%d filled=%d closed=%d cancelled=%d still-open=%d skipped=%d errors=%d\n",
		summary.Checked, summary.Filled, summary.Closed, summary.Cancelled,
		summary.StillOpen, summary.Skipped, summary.Errors)

	if len(summary.Outcomes) > 0 {
		rows := make([][]string, 0, len(summary.Outcomes))
		for _, o := range summary.Outcomes {
			rows = append(rows, []string{o.TradeID, o.Symbol, string(o.Action), string(o.Status), string(o.Reason), o.Error})
		}
		out.Table([]string{"TRADE", "SYMBOL", "ACTION", "STATUS", "REASON", "ERROR"}, rows)
	}
	return nil
}
