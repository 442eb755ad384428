// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"botdesk/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Candles. SaveCandles is idempotent: re-inserting an existing
	// (symbol, timeframe, start) bar is a no-op.
	SaveCandles(ctx context.Context, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
	LatestCandleStart(ctx context.Context, symbol, timeframe string) (time.Time, error)

	// Trades
	CreateTrade(ctx context.Context, trade *models.Trade) error
	GetTrade(ctx context.Context, id string) (*models.Trade, error)
	ListTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)
	ListOpenTrades(ctx context.Context) ([]models.Trade, error)

	// Trade transitions. Each guards on the expected current status so
	// a replayed transition is a no-op rather than a double commit.
	MarkFilled(ctx context.Context, id string, fillPrice, pairFillPrice float64, filledAt time.Time) error
	CloseTrade(ctx context.Context, trade *models.Trade, delta models.RunDelta) error
	CancelPending(ctx context.Context, id string, reason models.ExitReason, cancelledAt time.Time) error

	// Runs
	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context) ([]models.Run, error)

	Close() error
}

// TradeFilter narrows ListTrades results.
type TradeFilter struct {
	RunID  string
	Symbol string
	Status models.TradeStatus
	Limit  int
}
