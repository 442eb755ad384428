package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"botdesk/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testCandles(n int) []models.Candle {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		candles = append(candles, models.Candle{
			Symbol:    "BTCUSDT",
			Timeframe: "1h",
			Start:     base.Add(time.Duration(i) * time.Hour),
			Open:      100 + float64(i),
			High:      102 + float64(i),
			Low:       99 + float64(i),
			Close:     101 + float64(i),
			Volume:    10,
			Turnover:  1000,
		})
	}
	return candles
}

func TestSaveCandles_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	candles := testCandles(5)

	if err := store.SaveCandles(ctx, candles); err != nil {
		t.Fatalf("first save: %v", err)
	}
	// Re-saving the same bars, and an overlapping batch, must not error
	// or duplicate.
	if err := store.SaveCandles(ctx, candles); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if err := store.SaveCandles(ctx, candles[2:]); err != nil {
		t.Fatalf("overlapping save: %v", err)
	}

	got, err := store.GetCandles(ctx, "BTCUSDT", "1h", candles[0].Start, candles[4].Start)
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d candles, want 5", len(got))
	}
	for i, c := range got {
		if !c.Start.Equal(candles[i].Start) || c.Close != candles[i].Close {
			t.Errorf("candle %d = %+v, want %+v", i, c, candles[i])
		}
	}
}

func TestLatestCandleStart(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	latest, err := store.LatestCandleStart(ctx, "BTCUSDT", "1h")
	if err != nil {
		t.Fatalf("LatestCandleStart: %v", err)
	}
	if !latest.IsZero() {
		t.Fatalf("latest = %v, want zero time on empty cache", latest)
	}

	candles := testCandles(3)
	if err := store.SaveCandles(ctx, candles); err != nil {
		t.Fatalf("SaveCandles: %v", err)
	}

	latest, err = store.LatestCandleStart(ctx, "BTCUSDT", "1h")
	if err != nil {
		t.Fatalf("LatestCandleStart: %v", err)
	}
	if !latest.Equal(candles[2].Start) {
		t.Errorf("latest = %v, want %v", latest, candles[2].Start)
	}

	// Other series do not leak in.
	latest, err = store.LatestCandleStart(ctx, "ETHUSDT", "1h")
	if err != nil {
		t.Fatalf("LatestCandleStart: %v", err)
	}
	if !latest.IsZero() {
		t.Errorf("latest for other symbol = %v, want zero", latest)
	}
}

func newStoredTrade(id, runID string) *models.Trade {
	return &models.Trade{
		ID:         id,
		RunID:      runID,
		Symbol:     "BTCUSDT",
		Timeframe:  "1h",
		Side:       models.SideLong,
		Kind:       models.KindPrice,
		EntryPrice: 100,
		Quantity:   2,
		StopLoss:   95,
		TakeProfit: 110,
		Status:     models.StatusPendingFill,
		CreatedAt:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestTradeLifecycleRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade := newStoredTrade("t1", "")
	trade.SignalAt = trade.CreatedAt
	if err := store.CreateTrade(ctx, trade); err != nil {
		t.Fatalf("CreateTrade: %v", err)
	}

	got, err := store.GetTrade(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTrade: %v", err)
	}
	if got.Status != models.StatusPendingFill || got.FilledAt != nil || got.PnL != nil {
		t.Fatalf("fresh trade = %+v", got)
	}
	if !got.CreatedAt.Equal(trade.CreatedAt) || !got.SignalAt.Equal(trade.SignalAt) {
		t.Errorf("timestamps: created=%v signal=%v", got.CreatedAt, got.SignalAt)
	}

	filledAt := trade.CreatedAt.Add(time.Hour)
	if err := store.MarkFilled(ctx, "t1", 100, 0, filledAt); err != nil {
		t.Fatalf("MarkFilled: %v", err)
	}
	got, _ = store.GetTrade(ctx, "t1")
	if got.Status != models.StatusFilled || got.FilledAt == nil || !got.FilledAt.Equal(filledAt) {
		t.Fatalf("after fill = %+v", got)
	}
	if got.FillPrice != 100 {
		t.Errorf("fill price = %v, want 100", got.FillPrice)
	}

	// Replaying the fill must not move filled_ts.
	if err := store.MarkFilled(ctx, "t1", 101, 0, filledAt.Add(time.Hour)); err != nil {
		t.Fatalf("replayed MarkFilled: %v", err)
	}
	got, _ = store.GetTrade(ctx, "t1")
	if !got.FilledAt.Equal(filledAt) || got.FillPrice != 100 {
		t.Errorf("replayed fill mutated trade: %+v", got)
	}

	closedAt := filledAt.Add(2 * time.Hour)
	pnl, pct := -10.0, -5.0
	got.Status = models.StatusClosed
	got.ClosedAt = &closedAt
	got.ExitPrice = 95
	got.ExitReason = models.ReasonSLHit
	got.PnL = &pnl
	got.PnLPercent = &pct
	if err := store.CloseTrade(ctx, got, models.RunDelta{PnL: pnl, Losses: 1}); err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}

	final, _ := store.GetTrade(ctx, "t1")
	if final.Status != models.StatusClosed || final.ExitReason != models.ReasonSLHit {
		t.Fatalf("after close = %+v", final)
	}
	if final.PnL == nil || *final.PnL != -10 {
		t.Errorf("pnl = %v, want -10", final.PnL)
	}
	if final.ClosedAt == nil || !final.ClosedAt.Equal(closedAt) {
		t.Errorf("closed_at = %v, want %v", final.ClosedAt, closedAt)
	}
}

// A replayed close must not double-count the run aggregates.
func TestCloseTrade_AggregateExactlyOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := &models.Run{ID: "run-1", Name: "march", CreatedAt: time.Now().UTC()}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	trade := newStoredTrade("t1", "run-1")
	if err := store.CreateTrade(ctx, trade); err != nil {
		t.Fatalf("CreateTrade: %v", err)
	}
	filledAt := trade.CreatedAt.Add(time.Hour)
	if err := store.MarkFilled(ctx, "t1", 100, 0, filledAt); err != nil {
		t.Fatalf("MarkFilled: %v", err)
	}

	closedAt := filledAt.Add(time.Hour)
	pnl, pct := 20.0, 10.0
	closing, _ := store.GetTrade(ctx, "t1")
	closing.Status = models.StatusClosed
	closing.ClosedAt = &closedAt
	closing.ExitPrice = 110
	closing.ExitReason = models.ReasonTPHit
	closing.PnL = &pnl
	closing.PnLPercent = &pct
	delta := models.RunDelta{PnL: pnl, Wins: 1}

	if err := store.CloseTrade(ctx, closing, delta); err != nil {
		t.Fatalf("CloseTrade: %v", err)
	}
	// Replay the identical close twice more.
	if err := store.CloseTrade(ctx, closing, delta); err != nil {
		t.Fatalf("replayed CloseTrade: %v", err)
	}
	if err := store.CloseTrade(ctx, closing, delta); err != nil {
		t.Fatalf("replayed CloseTrade: %v", err)
	}

	gotRun, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if gotRun.TotalPnL != 20 || gotRun.WinCount != 1 || gotRun.LossCount != 0 {
		t.Errorf("aggregates = (%v, %d, %d), want (20, 1, 0)", gotRun.TotalPnL, gotRun.WinCount, gotRun.LossCount)
	}
}

func TestCancelPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade := newStoredTrade("t1", "")
	if err := store.CreateTrade(ctx, trade); err != nil {
		t.Fatalf("CreateTrade: %v", err)
	}

	cancelledAt := trade.CreatedAt.Add(6 * time.Hour)
	if err := store.CancelPending(ctx, "t1", models.ReasonMaxBarsPending, cancelledAt); err != nil {
		t.Fatalf("CancelPending: %v", err)
	}

	got, _ := store.GetTrade(ctx, "t1")
	if got.Status != models.StatusCancelled || got.ExitReason != models.ReasonMaxBarsPending {
		t.Fatalf("after cancel = %+v", got)
	}
	// Never filled: no fill timestamp, no P&L.
	if got.FilledAt != nil || got.PnL != nil {
		t.Errorf("cancelled pending trade has fill data: %+v", got)
	}

	// Cancelling a non-pending trade is a no-op.
	if err := store.CancelPending(ctx, "t1", models.ReasonMaxBarsPending, cancelledAt.Add(time.Hour)); err != nil {
		t.Fatalf("replayed CancelPending: %v", err)
	}
	again, _ := store.GetTrade(ctx, "t1")
	if !again.ClosedAt.Equal(cancelledAt) {
		t.Errorf("replayed cancel moved closed_ts to %v", again.ClosedAt)
	}
}

func TestListOpenTrades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := newStoredTrade("older", "")
	newer := newStoredTrade("newer", "")
	newer.CreatedAt = older.CreatedAt.Add(time.Hour)
	done := newStoredTrade("done", "")
	done.CreatedAt = older.CreatedAt.Add(2 * time.Hour)

	for _, tr := range []*models.Trade{newer, older, done} {
		if err := store.CreateTrade(ctx, tr); err != nil {
			t.Fatalf("CreateTrade(%s): %v", tr.ID, err)
		}
	}
	if err := store.CancelPending(ctx, "done", models.ReasonMaxBarsPending, done.CreatedAt.Add(time.Hour)); err != nil {
		t.Fatalf("CancelPending: %v", err)
	}

	open, err := store.ListOpenTrades(ctx)
	if err != nil {
		t.Fatalf("ListOpenTrades: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("got %d open trades, want 2", len(open))
	}
	// Oldest first.
	if open[0].ID != "older" || open[1].ID != "newer" {
		t.Errorf("order = [%s, %s], want [older, newer]", open[0].ID, open[1].ID)
	}
}

func TestListTrades_Filters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := newStoredTrade("a", "run-1")
	b := newStoredTrade("b", "run-1")
	b.Symbol = "ETHUSDT"
	c := newStoredTrade("c", "run-2")

	for _, tr := range []*models.Trade{a, b, c} {
		if err := store.CreateTrade(ctx, tr); err != nil {
			t.Fatalf("CreateTrade(%s): %v", tr.ID, err)
		}
	}

	byRun, err := store.ListTrades(ctx, TradeFilter{RunID: "run-1"})
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(byRun) != 2 {
		t.Errorf("run filter: got %d, want 2", len(byRun))
	}

	bySymbol, err := store.ListTrades(ctx, TradeFilter{Symbol: "ETHUSDT"})
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(bySymbol) != 1 || bySymbol[0].ID != "b" {
		t.Errorf("symbol filter: got %+v", bySymbol)
	}

	limited, err := store.ListTrades(ctx, TradeFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit filter: got %d, want 1", len(limited))
	}
}

func TestGetTrade_NotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetTrade(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := store.GetRun(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("run err = %v, want ErrNotFound", err)
	}
}
