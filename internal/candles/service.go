// Package candles provides the cached candle store. It serves gap-free,
// current OHLC series out of the local store and falls back to the
// remote market-data provider when the cache is stale or holey.
package candles

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"botdesk/internal/marketdata"
	"botdesk/internal/models"
	"botdesk/pkg/utils"
)

// RemoteSource fetches klines from the market-data provider.
type RemoteSource interface {
	GetKlines(ctx context.Context, symbol, timeframe string, limit int, end time.Time) ([]marketdata.Kline, error)
}

// Store is the persistence surface the service needs.
type Store interface {
	SaveCandles(ctx context.Context, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
	LatestCandleStart(ctx context.Context, symbol, timeframe string) (time.Time, error)
}

// Config holds candle service configuration.
type Config struct {
	// FetchLimit is the maximum bars requested per remote call.
	FetchLimit int
	// GapToleranceSteps widens the accepted gap between consecutive
	// bars; 0 means strictly contiguous.
	GapToleranceSteps int
}

// Service implements the candle store contract: callers receive an
// ordered, gap-free series whose newest bar is fully complete, or the
// best cached approximation when the remote source is unreachable.
type Service struct {
	store  Store
	remote RemoteSource
	cfg    Config
	logger zerolog.Logger

	// now is swappable for tests.
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a new candle service.
func NewService(store Store, remote RemoteSource, cfg Config, logger zerolog.Logger) *Service {
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 200
	}
	return &Service{
		store:  store,
		remote: remote,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// keyLock serializes fetch-and-upsert per (symbol, timeframe). Upserts
// are duplicate-safe anyway; the lock just avoids redundant remote calls
// from concurrent trades on the same series.
func (s *Service) keyLock(symbol, timeframe string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := symbol + "|" + timeframe
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// GetCandles returns the candle series for [from, to], bars in
// chronological order. On remote failure it degrades to whatever the
// cache holds rather than failing the caller outright.
func (s *Service) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	step, err := utils.TimeframeStep(timeframe)
	if err != nil {
		return nil, err
	}

	lock := s.keyLock(symbol, timeframe)
	lock.Lock()
	defer lock.Unlock()

	lastComplete := utils.LastCompleteBar(s.now(), step)
	fromBar := utils.AlignToStep(from, step)
	toBar := utils.AlignToStep(to, step)
	if toBar.After(lastComplete) {
		toBar = lastComplete
	}
	if toBar.Before(fromBar) {
		return nil, nil
	}

	degraded := false

	// Top up the cache when it is behind wall-clock.
	latest, err := s.store.LatestCandleStart(ctx, symbol, timeframe)
	if err != nil {
		return nil, fmt.Errorf("reading cache freshness for %s %s: %w", symbol, timeframe, err)
	}
	if latest.Before(lastComplete) {
		if err := s.topUp(ctx, symbol, timeframe, step, lastComplete); err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Str("timeframe", timeframe).
				Msg("Remote top-up failed, serving cached candles")
			degraded = true
		}
	}

	cached, err := s.store.GetCandles(ctx, symbol, timeframe, fromBar, toBar)
	if err != nil {
		return nil, fmt.Errorf("reading cached candles for %s %s: %w", symbol, timeframe, err)
	}

	if s.seriesIsComplete(cached, fromBar, toBar, step) {
		return cached, nil
	}
	if degraded {
		return cached, nil
	}

	// Gap or uncovered range: fetch the whole window remotely, persist
	// the complete bars, and return the fetched series directly.
	fetched, err := s.fetchWindow(ctx, symbol, timeframe, step, fromBar, toBar)
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Str("timeframe", timeframe).
			Msg("Remote window fetch failed, serving cached candles")
		if len(cached) > 0 {
			return cached, nil
		}
		return nil, fmt.Errorf("fetching candle window for %s %s: %w", symbol, timeframe, err)
	}

	if err := s.store.SaveCandles(ctx, fetched); err != nil {
		return nil, fmt.Errorf("caching candle window for %s %s: %w", symbol, timeframe, err)
	}

	return fetched, nil
}

// topUp fetches the most recent bars and upserts the complete ones.
func (s *Service) topUp(ctx context.Context, symbol, timeframe string, step time.Duration, lastComplete time.Time) error {
	klines, err := s.remote.GetKlines(ctx, symbol, timeframe, s.cfg.FetchLimit, time.Time{})
	if err != nil {
		return err
	}
	candles := s.toCandles(symbol, timeframe, klines, lastComplete)
	return s.store.SaveCandles(ctx, candles)
}

// fetchWindow pages backwards from toBar until fromBar is covered.
func (s *Service) fetchWindow(ctx context.Context, symbol, timeframe string, step time.Duration, fromBar, toBar time.Time) ([]models.Candle, error) {
	var window []models.Candle
	end := toBar.Add(step) // provider end bound is exclusive of the forming bar

	for {
		klines, err := s.remote.GetKlines(ctx, symbol, timeframe, s.cfg.FetchLimit, end)
		if err != nil {
			return nil, err
		}
		if len(klines) == 0 {
			break
		}

		batch := s.toCandles(symbol, timeframe, klines, toBar)
		if len(batch) == 0 {
			// Every returned bar was still forming; there is no older
			// history to page into.
			break
		}
		// Prepend bars that fall inside the window.
		var keep []models.Candle
		for _, c := range batch {
			if !c.Start.Before(fromBar) && !c.Start.After(toBar) {
				keep = append(keep, c)
			}
		}
		window = append(keep, window...)

		oldest := batch[0].Start
		if !oldest.After(fromBar) {
			break
		}
		if len(klines) < s.cfg.FetchLimit {
			// Provider has no older history.
			break
		}
		end = oldest
	}

	if len(window) == 0 {
		return nil, fmt.Errorf("remote returned no bars for %s %s", symbol, timeframe)
	}
	return dedupe(window), nil
}

// toCandles converts provider rows, dropping any bar newer than the most
// recent complete one. A bar still forming is never persisted.
func (s *Service) toCandles(symbol, timeframe string, klines []marketdata.Kline, lastComplete time.Time) []models.Candle {
	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		if k.Start.After(lastComplete) {
			continue
		}
		candles = append(candles, models.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			Start:     k.Start,
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Volume,
			Turnover:  k.Turnover,
		})
	}
	return candles
}

// seriesIsComplete checks coverage of [fromBar, toBar] and internal
// contiguity. Consecutive bar starts must differ by exactly one step,
// within the configured tolerance for market-specific pauses.
func (s *Service) seriesIsComplete(series []models.Candle, fromBar, toBar time.Time, step time.Duration) bool {
	if len(series) == 0 {
		return false
	}
	if series[0].Start.After(fromBar) {
		return false
	}
	if series[len(series)-1].Start.Before(toBar) {
		return false
	}
	maxDelta := time.Duration(1+s.cfg.GapToleranceSteps) * step
	for i := 1; i < len(series); i++ {
		delta := series[i].Start.Sub(series[i-1].Start)
		if delta <= 0 || delta > maxDelta {
			return false
		}
	}
	return true
}

func dedupe(series []models.Candle) []models.Candle {
	out := series[:0]
	var last time.Time
	for _, c := range series {
		if !last.IsZero() && !c.Start.After(last) {
			continue
		}
		out = append(out, c)
		last = c.Start
	}
	return out
}
