package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"botdesk/pkg/utils"
)

// addCandlesCommands registers candle cache maintenance commands.
func addCandlesCommands(root *cobra.Command, app *App) {
	candlesCmd := &cobra.Command{
		Use:   "candles",
		Short: "Inspect and backfill the candle cache",
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Backfill complete candles for a symbol and timeframe",
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, _ := cmd.Flags().GetString("symbol")
			timeframe, _ := cmd.Flags().GetString("timeframe")
			bars, _ := cmd.Flags().GetInt("bars")

			step, err := utils.TimeframeStep(timeframe)
			if err != nil {
				return err
			}

			to := time.Now().UTC()
			from := to.Add(-time.Duration(bars) * step)
			series, err := app.Candles.GetCandles(cmd.Context(), symbol, timeframe, from, to)
			if err != nil {
				return fmt.Errorf("syncing candles: %w", err)
			}

			out := NewOutput(cmd)
			if out.IsJSON() {
				return out.JSON(map[string]interface{}{
					"symbol":    symbol,
					"timeframe": timeframe,
					"count":     len(series),
				})
			}
			if len(series) == 0 {
				out.Printf("No complete candles available for %s %s yet\n", symbol, timeframe)
				return nil
			}
			out.Printf("Synced %d candles for %s %s (%s .. %s)\n",
				len(series), symbol, timeframe,
				series[0].Start.Format(time.RFC3339),
				series[len(series)-1].Start.Format(time.RFC3339))
			return nil
		},
	}
	syncCmd.Flags().String("symbol", "", "instrument symbol")
	syncCmd.Flags().String("timeframe", "1h", "bar timeframe")
	syncCmd.Flags().Int("bars", 200, "number of bars back from now")
	_ = syncCmd.MarkFlagRequired("symbol")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print cached candles for a symbol and timeframe",
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, _ := cmd.Flags().GetString("symbol")
			timeframe, _ := cmd.Flags().GetString("timeframe")
			bars, _ := cmd.Flags().GetInt("bars")

			step, err := utils.TimeframeStep(timeframe)
			if err != nil {
				return err
			}

			to := time.Now().UTC()
			from := to.Add(-time.Duration(bars) * step)
			series, err := app.Store.GetCandles(cmd.Context(), symbol, timeframe, from, to)
			if err != nil {
				return fmt.Errorf("reading candles: %w", err)
			}

			out := NewOutput(cmd)
			if out.IsJSON() {
				return out.JSON(series)
			}

			rows := make([][]string, 0, len(series))
			for _, c := range series {
				rows = append(rows, []string{
					c.Start.Format(time.RFC3339),
					strconv.FormatFloat(c.Open, 'f', -1, 64),
					strconv.FormatFloat(c.High, 'f', -1, 64),
					strconv.FormatFloat(c.Low, 'f', -1, 64),
					strconv.FormatFloat(c.Close, 'f', -1, 64),
					strconv.FormatFloat(c.Volume, 'f', -1, 64),
				})
			}
			out.Table([]string{"START", "OPEN", "HIGH", "LOW", "CLOSE", "VOLUME"}, rows)
			return nil
		},
	}
	showCmd.Flags().String("symbol", "", "instrument symbol")
	showCmd.Flags().String("timeframe", "1h", "bar timeframe")
	showCmd.Flags().Int("bars", 50, "number of bars back from now")
	_ = showCmd.MarkFlagRequired("symbol")

	candlesCmd.AddCommand(syncCmd, showCmd)
	root.AddCommand(candlesCmd)
}
