package recon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"botdesk/internal/logging"
	"botdesk/internal/models"
	"botdesk/pkg/utils"
)

// TradeStore is the persistence surface the reconciler mutates through.
// All transitions are status-guarded so a replayed pass cannot commit a
// transition twice.
type TradeStore interface {
	ListOpenTrades(ctx context.Context) ([]models.Trade, error)
	MarkFilled(ctx context.Context, id string, fillPrice, pairFillPrice float64, filledAt time.Time) error
	CloseTrade(ctx context.Context, trade *models.Trade, delta models.RunDelta) error
	CancelPending(ctx context.Context, id string, reason models.ExitReason, cancelledAt time.Time) error
}

// CandleSource supplies gap-free candle history.
type CandleSource interface {
	GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
}

// PriceSource supplies the current market price for forced cancellations.
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// Reconciler runs discrete reconciliation passes over all open trades.
// Each pass pulls candles, establishes fills and exits, applies the
// stale-order policy, and commits invariant-checked transitions. Per-
// trade failures are isolated; the batch always completes.
type Reconciler struct {
	trades    TradeStore
	candles   CandleSource
	prices    PriceSource
	evaluator StrategyEvaluator
	policy    CancelPolicy
	logger    zerolog.Logger

	maxParallel int
	now         func() time.Time
}

// Options holds reconciler construction options.
type Options struct {
	Trades      TradeStore
	Candles     CandleSource
	Prices      PriceSource
	Evaluator   StrategyEvaluator
	Policy      CancelPolicy
	Logger      zerolog.Logger
	MaxParallel int
}

// NewReconciler creates a reconciler.
func NewReconciler(opts Options) *Reconciler {
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Reconciler{
		trades:      opts.Trades,
		candles:     opts.Candles,
		prices:      opts.Prices,
		evaluator:   opts.Evaluator,
		policy:      opts.Policy,
		logger:      opts.Logger,
		maxParallel: maxParallel,
		now:         time.Now,
	}
}

// RunPass executes one reconciliation pass over all open trades and
// returns a summary plus per-trade outcomes. It is idempotent: a pass
// over state that produced no transitions last time produces the same
// summary again.
func (r *Reconciler) RunPass(ctx context.Context) (*models.PassSummary, error) {
	summary := &models.PassSummary{StartedAt: r.now().UTC()}

	open, err := r.trades.ListOpenTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing open trades: %w", err)
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, r.maxParallel)
	)

	for i := range open {
		if ctx.Err() != nil {
			// Pass cancelled: let in-flight trades finish, start no more.
			break
		}
		trade := open[i]

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := r.reconcileTrade(ctx, &trade)

			mu.Lock()
			summary.Record(outcome)
			mu.Unlock()
		}()
	}
	wg.Wait()

	summary.FinishedAt = r.now().UTC()
	r.logger.Info().
		Int("checked", summary.Checked).
		Int("filled", summary.Filled).
		Int("closed", summary.Closed).
		Int("cancelled", summary.Cancelled).
		Int("skipped", summary.Skipped).
		Int("errors", summary.Errors).
		Msg("Reconciliation pass finished")

	return summary, nil
}

// reconcileTrade takes one trade through the state machine for this
// pass. Any error is folded into the outcome, never propagated, so one
// malformed trade cannot abort the batch.
func (r *Reconciler) reconcileTrade(ctx context.Context, trade *models.Trade) models.TradeOutcome {
	outcome := models.TradeOutcome{
		TradeID: trade.ID,
		Symbol:  trade.Symbol,
		Action:  models.ActionNone,
		Status:  trade.Status,
	}
	logger := logging.WithTrade(r.logger, trade.ID, trade.Symbol)

	if err := validateTrade(trade); err != nil {
		logger.Warn().Err(err).Msg("Trade skipped")
		outcome.Action = models.ActionSkipped
		outcome.Error = err.Error()
		return outcome
	}

	step, err := utils.TimeframeStep(trade.Timeframe)
	if err != nil {
		outcome.Action = models.ActionSkipped
		outcome.Error = fmt.Sprintf("%v: %v", ErrInsufficientData, err)
		return outcome
	}

	signalAt := trade.SignalAt
	if signalAt.IsZero() {
		signalAt = trade.CreatedAt
	}
	signalBar := utils.AlignToStep(signalAt, step)

	now := r.now().UTC()
	from := signalBar.Add(-time.Duration(trade.Lookback) * step)

	candles, err := r.candles.GetCandles(ctx, trade.Symbol, trade.Timeframe, from, now)
	if err != nil {
		logger.Warn().Err(err).Msg("Candle fetch failed, trade left for retry")
		outcome.Error = fmt.Sprintf("%v: %v", ErrExternalFailure, err)
		return outcome
	}

	sigIdx := indexAtOrAfter(candles, signalBar)
	if sigIdx < trade.Lookback {
		outcome.Action = models.ActionSkipped
		outcome.Error = fmt.Sprintf("%v: lookback needs %d bars, have %d", ErrInsufficientData, trade.Lookback, sigIdx)
		return outcome
	}

	var pairCandles []models.Candle
	if trade.Kind == models.KindSpread {
		pairCandles, err = r.candles.GetCandles(ctx, trade.PairSymbol, trade.Timeframe, from, now)
		if err != nil {
			logger.Warn().Err(err).Str("pair_symbol", trade.PairSymbol).
				Msg("Pair candle fetch failed, trade left for retry")
			outcome.Error = fmt.Sprintf("%v: %v", ErrExternalFailure, err)
			return outcome
		}
		if indexAtOrAfter(pairCandles, signalBar) < trade.Lookback {
			outcome.Action = models.ActionSkipped
			outcome.Error = fmt.Sprintf("%v: pair lookback insufficient", ErrInsufficientData)
			return outcome
		}
	}

	fillIdx := -1

	if trade.Status == models.StatusPendingFill {
		fill := DetectFill(trade, candles[sigIdx:], signalBar)
		if !fill.Filled {
			return r.maybeCancelPending(ctx, trade, len(candles)-sigIdx, outcome, logger)
		}

		filledAt := fill.Time
		if err := CheckTimestamps(trade.CreatedAt, &filledAt, nil); err != nil {
			logging.LogInvariantViolation(logger, trade.ID, trade.Symbol, err)
			outcome.Action = models.ActionSkipped
			outcome.Error = err.Error()
			return outcome
		}

		if err := r.trades.MarkFilled(ctx, trade.ID, fill.Price, fill.PairPrice, filledAt); err != nil {
			outcome.Error = fmt.Sprintf("committing fill: %v", err)
			return outcome
		}
		logging.LogTransition(logger, trade.ID, trade.Symbol,
			string(models.StatusPendingFill), string(models.StatusFilled), "entry condition met")

		trade.Status = models.StatusFilled
		trade.FilledAt = &filledAt
		trade.FillPrice = fill.Price
		trade.PairFillPrice = fill.PairPrice
		fillIdx = sigIdx + fill.Index

		outcome.Action = models.ActionFilled
		outcome.Status = models.StatusFilled
	} else {
		fillIdx = indexAtOrAfter(candles, *trade.FilledAt)
	}

	switch trade.Kind {
	case models.KindPrice:
		// The fill bar itself is never examined for exit.
		return r.resolvePriceExit(ctx, trade, candles, fillIdx+1, fillIdx, outcome, logger)
	case models.KindSpread:
		// Fill is immediate at the signal, so exits may trigger on the
		// fill bar itself.
		return r.resolveSpreadExit(ctx, trade, candles, pairCandles, fillIdx, outcome, logger)
	default:
		outcome.Action = models.ActionSkipped
		outcome.Error = fmt.Sprintf("%v: %q", ErrUnknownStrategy, trade.Kind)
		return outcome
	}
}

// maybeCancelPending applies the pending-fill stale-order cap.
func (r *Reconciler) maybeCancelPending(ctx context.Context, trade *models.Trade, elapsedBars int, outcome models.TradeOutcome, logger zerolog.Logger) models.TradeOutcome {
	maxBars, ok := r.policy.MaxBars(trade.Timeframe, PhasePending, trade.Kind)
	if !ok || elapsedBars < maxBars {
		return outcome
	}

	cancelledAt := r.now().UTC()
	if err := CheckCancelledPending(trade.CreatedAt, cancelledAt); err != nil {
		logging.LogInvariantViolation(logger, trade.ID, trade.Symbol, err)
		outcome.Action = models.ActionSkipped
		outcome.Error = err.Error()
		return outcome
	}

	if err := r.trades.CancelPending(ctx, trade.ID, models.ReasonMaxBarsPending, cancelledAt); err != nil {
		outcome.Error = fmt.Sprintf("committing cancellation: %v", err)
		return outcome
	}
	logging.LogTransition(logger, trade.ID, trade.Symbol,
		string(models.StatusPendingFill), string(models.StatusCancelled), string(models.ReasonMaxBarsPending))

	outcome.Action = models.ActionCancelled
	outcome.Status = models.StatusCancelled
	outcome.Reason = models.ReasonMaxBarsPending
	return outcome
}

// resolvePriceExit scans SL/TP levels from scanIdx forward and falls
// back to the max-open-bars policy when nothing triggered.
func (r *Reconciler) resolvePriceExit(ctx context.Context, trade *models.Trade, candles []models.Candle, scanIdx, fillIdx int, outcome models.TradeOutcome, logger zerolog.Logger) models.TradeOutcome {
	decision := ScanPriceExit(trade, candles, scanIdx)
	if decision.Exit {
		return r.commitClose(ctx, trade, models.StatusClosed, decision.Reason,
			decision.Price, 0, decision.Time, outcome, logger)
	}

	elapsedOpen := len(candles) - 1 - fillIdx
	return r.maybeCancelOpen(ctx, trade, elapsedOpen, outcome, logger)
}

// resolveSpreadExit delegates to the external strategy evaluator.
func (r *Reconciler) resolveSpreadExit(ctx context.Context, trade *models.Trade, candles, pairCandles []models.Candle, fillIdx int, outcome models.TradeOutcome, logger zerolog.Logger) models.TradeOutcome {
	if r.evaluator == nil {
		outcome.Error = fmt.Sprintf("%v: no strategy evaluator configured", ErrExternalFailure)
		return outcome
	}

	decision, err := r.evaluator.Evaluate(ctx, EvalRequest{
		Trade:       *trade,
		Candles:     candles,
		PairCandles: pairCandles,
	})
	if err != nil {
		// A failed check is not "no exit": surface it and retry next pass.
		logger.Warn().Err(err).Msg("Strategy exit check failed")
		outcome.Error = err.Error()
		return outcome
	}

	if decision.Exit {
		if decision.Reason == string(models.ReasonSLHit) || decision.Reason == string(models.ReasonTPHit) {
			// Spread trades exit only via spread-specific reasons.
			logging.LogEvaluatorMisuse(logger, trade.ID, trade.Symbol, decision.Reason)
		} else {
			reason := models.ExitReason(decision.Reason)
			if reason == "" {
				reason = models.ReasonStrategyExit
			}
			exitAt := decision.Time
			if exitAt.IsZero() {
				exitAt = r.now().UTC()
			}
			return r.commitClose(ctx, trade, models.StatusClosed, reason,
				decision.Price, decision.PairPrice, exitAt, outcome, logger)
		}
	}

	elapsedOpen := len(candles) - 1 - fillIdx
	return r.maybeCancelOpen(ctx, trade, elapsedOpen, outcome, logger)
}

// maybeCancelOpen applies the max-open-bars cap: the position is force-
// cancelled at the then-current market price with realized P&L.
func (r *Reconciler) maybeCancelOpen(ctx context.Context, trade *models.Trade, elapsedBars int, outcome models.TradeOutcome, logger zerolog.Logger) models.TradeOutcome {
	maxBars, ok := r.policy.MaxBars(trade.Timeframe, PhaseOpen, trade.Kind)
	if !ok || elapsedBars < maxBars {
		return outcome
	}

	price, err := r.prices.GetCurrentPrice(ctx, trade.Symbol)
	if err != nil {
		logger.Warn().Err(err).Msg("Current price fetch failed, forced cancel deferred")
		outcome.Error = fmt.Sprintf("%v: %v", ErrExternalFailure, err)
		return outcome
	}
	var pairPrice float64
	if trade.Kind == models.KindSpread {
		pairPrice, err = r.prices.GetCurrentPrice(ctx, trade.PairSymbol)
		if err != nil {
			logger.Warn().Err(err).Msg("Pair current price fetch failed, forced cancel deferred")
			outcome.Error = fmt.Sprintf("%v: %v", ErrExternalFailure, err)
			return outcome
		}
	}

	return r.commitClose(ctx, trade, models.StatusCancelled, models.ReasonMaxBarsOpen,
		price, pairPrice, r.now().UTC(), outcome, logger)
}

// commitClose realizes P&L, validates the timestamp invariants, and
// commits the terminal transition together with the run aggregate
// update. A violation aborts the transition and goes to the audit log.
func (r *Reconciler) commitClose(ctx context.Context, trade *models.Trade, status models.TradeStatus, reason models.ExitReason, exitPrice, pairExitPrice float64, closedAt time.Time, outcome models.TradeOutcome, logger zerolog.Logger) models.TradeOutcome {
	if err := CheckTimestamps(trade.CreatedAt, trade.FilledAt, &closedAt); err != nil {
		logging.LogInvariantViolation(logger, trade.ID, trade.Symbol, err)
		outcome.Action = models.ActionSkipped
		outcome.Error = err.Error()
		return outcome
	}

	pnl, pct := realizePnL(trade, exitPrice, pairExitPrice)

	trade.Status = status
	trade.ClosedAt = &closedAt
	trade.ExitPrice = exitPrice
	trade.PairExitPrice = pairExitPrice
	trade.ExitReason = reason
	trade.PnL = &pnl
	trade.PnLPercent = &pct

	if err := r.trades.CloseTrade(ctx, trade, runDelta(pnl)); err != nil {
		outcome.Error = fmt.Sprintf("committing close: %v", err)
		return outcome
	}
	logging.LogTransition(logger, trade.ID, trade.Symbol,
		string(models.StatusFilled), string(status), string(reason))

	if status == models.StatusCancelled {
		outcome.Action = models.ActionCancelled
	} else {
		outcome.Action = models.ActionClosed
	}
	outcome.Status = status
	outcome.Reason = reason
	return outcome
}

// validateTrade checks the fields a reconciliation needs. Missing data
// skips the trade for the pass; it is retried once backfilled.
func validateTrade(t *models.Trade) error {
	if t.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrInsufficientData)
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing created_at", ErrInsufficientData)
	}
	if t.Quantity <= 0 {
		return fmt.Errorf("%w: non-positive quantity", ErrInsufficientData)
	}
	if t.EntryPrice <= 0 {
		return fmt.Errorf("%w: non-positive entry price", ErrInsufficientData)
	}
	switch t.Kind {
	case models.KindPrice:
		if t.StopLoss <= 0 && t.TakeProfit <= 0 {
			return fmt.Errorf("%w: price trade without stop-loss or take-profit", ErrInsufficientData)
		}
	case models.KindSpread:
		if t.PairSymbol == "" {
			return fmt.Errorf("%w: spread trade without pair symbol", ErrInsufficientData)
		}
		if t.PairQuantity <= 0 || t.PairEntryPrice <= 0 {
			return fmt.Errorf("%w: spread trade without pair leg pricing", ErrInsufficientData)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, t.Kind)
	}
	if t.Status == models.StatusFilled && t.FilledAt == nil {
		return fmt.Errorf("%w: filled trade without filled_at", ErrInsufficientData)
	}
	return nil
}

// indexAtOrAfter returns the index of the first bar starting at or
// after ts, or len(candles) when none does.
func indexAtOrAfter(candles []models.Candle, ts time.Time) int {
	for i, c := range candles {
		if !c.Start.Before(ts) {
			return i
		}
	}
	return len(candles)
}
