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

// addTradesCommands registers trade intake and listing.
func addTradesCommands(root *cobra.Command, app *App) {
	tradesCmd := &cobra.Command{
		Use:   "trades",
		Short: "Manage paper trades",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a pending paper trade",
		RunE: func(cmd *cobra.Command, args []string) error {
			trade, err := tradeFromFlags(cmd)
			if err != nil {
				return err
			}
			if err := app.Store.CreateTrade(cmd.Context(), trade); err != nil {
				return fmt.Errorf("creating trade: %w", err)
			}

			out := NewOutput(cmd)
			if out.IsJSON() {
				return out.JSON(trade)
			}
			out.Printf("Trade %s created (%s %s %s @ %v)\n",
				trade.ID, trade.Side, trade.Symbol, trade.Kind, trade.EntryPrice)
			return nil
		},
	}
	addCmd.Flags().String("run", "", "owning run id")
	addCmd.Flags().String("symbol", "", "instrument symbol (perp suffix preserved)")
	addCmd.Flags().String("timeframe", "1h", "bar timeframe (1m, 5m, 1h, 4h, 1d, ...)")
	addCmd.Flags().String("side", "long", "long or short")
	addCmd.Flags().String("kind", "price", "price or spread")
	addCmd.Flags().Float64("entry", 0, "entry price")
	addCmd.Flags().Float64("qty", 0, "quantity")
	addCmd.Flags().Float64("sl", 0, "stop-loss level (price kind)")
	addCmd.Flags().Float64("tp", 0, "take-profit level (price kind)")
	addCmd.Flags().String("pair-symbol", "", "counter-instrument symbol (spread kind)")
	addCmd.Flags().Float64("pair-entry", 0, "pair leg entry price (spread kind)")
	addCmd.Flags().Float64("pair-qty", 0, "pair leg quantity (spread kind)")
	addCmd.Flags().Int("lookback", 0, "bars of history the strategy needs before the signal")
	addCmd.Flags().String("signal-at", "", "signal time, RFC3339 (defaults to now)")
	_ = addCmd.MarkFlagRequired("symbol")
	_ = addCmd.MarkFlagRequired("entry")
	_ = addCmd.MarkFlagRequired("qty")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, _ := cmd.Flags().GetString("run")
			symbol, _ := cmd.Flags().GetString("symbol")
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			trades, err := app.Store.ListTrades(cmd.Context(), store.TradeFilter{
				RunID:  runID,
				Symbol: symbol,
				Status: models.TradeStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return fmt.Errorf("listing trades: %w", err)
			}

			out := NewOutput(cmd)
			if out.IsJSON() {
				return out.JSON(trades)
			}

			rows := make([][]string, 0, len(trades))
			for _, t := range trades {
				pnl := ""
				if t.PnL != nil {
					pnl = strconv.FormatFloat(*t.PnL, 'f', 2, 64)
				}
				rows = append(rows, []string{
					t.ID, t.Symbol, string(t.Side), string(t.Kind), string(t.Status),
					strconv.FormatFloat(t.EntryPrice, 'f', -1, 64), string(t.ExitReason), pnl,
				})
			}
			out.Table([]string{"ID", "SYMBOL", "SIDE", "KIND", "STATUS", "ENTRY", "REASON", "PNL"}, rows)
			return nil
		},
	}
	listCmd.Flags().String("run", "", "filter by run id")
	listCmd.Flags().String("symbol", "", "filter by symbol")
	listCmd.Flags().String("status", "", "filter by status")
	listCmd.Flags().Int("limit", 50, "max trades to list")

	tradesCmd.AddCommand(addCmd, listCmd)
	root.AddCommand(tradesCmd)
}

func tradeFromFlags(cmd *cobra.Command) (*models.Trade, error) {
	runID, _ := cmd.Flags().GetString("run")
	symbol, _ := cmd.Flags().GetString("symbol")
	timeframe, _ := cmd.Flags().GetString("timeframe")
	side, _ := cmd.Flags().GetString("side")
	kind, _ := cmd.Flags().GetString("kind")
	entry, _ := cmd.Flags().GetFloat64("entry")
	qty, _ := cmd.Flags().GetFloat64("qty")
	sl, _ := cmd.Flags().GetFloat64("sl")
	tp, _ := cmd.Flags().GetFloat64("tp")
	pairSymbol, _ := cmd.Flags().GetString("pair-symbol")
	pairEntry, _ := cmd.Flags().GetFloat64("pair-entry")
	pairQty, _ := cmd.Flags().GetFloat64("pair-qty")
	lookback, _ := cmd.Flags().GetInt("lookback")
	signalAtStr, _ := cmd.Flags().GetString("signal-at")

	if side != string(models.SideLong) && side != string(models.SideShort) {
		return nil, fmt.Errorf("side must be long or short, got %q", side)
	}
	if kind != string(models.KindPrice) && kind != string(models.KindSpread) {
		return nil, fmt.Errorf("kind must be price or spread, got %q", kind)
	}

	now := time.Now().UTC()
	signalAt := now
	if signalAtStr != "" {
		parsed, err := time.Parse(time.RFC3339, signalAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing --signal-at: %w", err)
		}
		signalAt = parsed.UTC()
	}

	return &models.Trade{
		ID:             uuid.NewString(),
		RunID:          runID,
		Symbol:         symbol,
		Timeframe:      timeframe,
		Side:           models.TradeSide(side),
		Kind:           models.StrategyKind(kind),
		EntryPrice:     entry,
		Quantity:       qty,
		StopLoss:       sl,
		TakeProfit:     tp,
		PairSymbol:     pairSymbol,
		PairEntryPrice: pairEntry,
		PairQuantity:   pairQty,
		Lookback:       lookback,
		SignalAt:       signalAt,
		Status:         models.StatusPendingFill,
		CreatedAt:      now,
	}, nil
}
