// Package models provides domain models for the trading console.
package models

import (
	"time"
)

// TradeSide represents the direction of a trade.
type TradeSide string

const (
	SideLong  TradeSide = "long"
	SideShort TradeSide = "short"
)

// StrategyKind distinguishes how a trade enters and exits.
type StrategyKind string

const (
	// KindPrice is a single-instrument trade with fixed stop-loss and
	// take-profit levels.
	KindPrice StrategyKind = "price"
	// KindSpread is a paired-instrument trade whose entry and exit are
	// governed by a relative-value signal.
	KindSpread StrategyKind = "spread"
)

// TradeStatus represents the lifecycle state of a trade.
type TradeStatus string

const (
	StatusPendingFill TradeStatus = "pending_fill"
	StatusFilled      TradeStatus = "filled"
	StatusClosed      TradeStatus = "closed"
	StatusCancelled   TradeStatus = "cancelled"
)

// ExitReason explains why a position was closed or cancelled.
type ExitReason string

const (
	ReasonSLHit          ExitReason = "sl_hit"
	ReasonTPHit          ExitReason = "tp_hit"
	ReasonStrategyExit   ExitReason = "strategy_exit"
	ReasonMaxBarsPending ExitReason = "max_bars_pending"
	ReasonMaxBarsOpen    ExitReason = "max_bars_open"
)

// Candle represents one complete OHLCV bar. Identity is
// (Symbol, Timeframe, Start); bars are immutable once stored.
type Candle struct {
	Symbol    string
	Timeframe string
	Start     time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Turnover  float64
}

// Trade represents a provisionally opened paper trade and its realized
// outcome once the reconciler has resolved it against candle history.
type Trade struct {
	ID        string
	RunID     string
	Symbol    string
	Timeframe string
	Side      TradeSide
	Kind      StrategyKind

	EntryPrice float64
	Quantity   float64
	StopLoss   float64 // price kind only
	TakeProfit float64 // price kind only

	// Counter-instrument leg, spread kind only. The pair leg always
	// carries the opposite side of the main leg.
	PairSymbol     string
	PairEntryPrice float64
	PairQuantity   float64

	// Lookback is the number of bars the strategy needs before the
	// signal time to compute its indicators.
	Lookback int

	// SignalAt is the analyzed time of the originating recommendation.
	// It can diverge from CreatedAt after a manual reset; the reconciler
	// prefers it when present.
	SignalAt time.Time

	Status    TradeStatus
	CreatedAt time.Time
	FilledAt  *time.Time
	ClosedAt  *time.Time // set on close and on post-fill cancellation

	FillPrice     float64
	PairFillPrice float64
	ExitPrice     float64
	PairExitPrice float64
	ExitReason    ExitReason

	PnL        *float64
	PnLPercent *float64
}

// IsTerminal reports whether the trade has reached a final state.
func (t *Trade) IsTerminal() bool {
	return t.Status == StatusClosed || t.Status == StatusCancelled
}

// Run groups trades and accumulates their realized results.
type Run struct {
	ID        string
	Name      string
	CreatedAt time.Time
	TotalPnL  float64
	WinCount  int
	LossCount int
}

// RunDelta is an additive update applied to a run's aggregates when one
// of its trades reaches a terminal state with realized P&L.
type RunDelta struct {
	PnL    float64
	Wins   int
	Losses int
}
