package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"botdesk/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Candles table for historical OHLCV data. Bars are complete and
	-- immutable; bar identity is (symbol, timeframe, start_ts).
	CREATE TABLE IF NOT EXISTS candles (
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		start_ts INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL DEFAULT 0,
		turnover REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (symbol, timeframe, start_ts)
	);

	-- Trades table covering the full paper-trade lifecycle.
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL DEFAULT '',
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		side TEXT NOT NULL,
		kind TEXT NOT NULL,
		entry_price REAL NOT NULL,
		quantity REAL NOT NULL,
		stop_loss REAL NOT NULL DEFAULT 0,
		take_profit REAL NOT NULL DEFAULT 0,
		pair_symbol TEXT NOT NULL DEFAULT '',
		pair_entry_price REAL NOT NULL DEFAULT 0,
		pair_quantity REAL NOT NULL DEFAULT 0,
		lookback INTEGER NOT NULL DEFAULT 0,
		signal_ts INTEGER,
		status TEXT NOT NULL,
		created_ts INTEGER NOT NULL,
		filled_ts INTEGER,
		closed_ts INTEGER,
		fill_price REAL NOT NULL DEFAULT 0,
		pair_fill_price REAL NOT NULL DEFAULT 0,
		exit_price REAL NOT NULL DEFAULT 0,
		pair_exit_price REAL NOT NULL DEFAULT 0,
		exit_reason TEXT NOT NULL DEFAULT '',
		pnl REAL,
		pnl_percent REAL
	);

	-- Runs accumulate realized results across their trades.
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_ts INTEGER NOT NULL,
		total_pnl REAL NOT NULL DEFAULT 0,
		win_count INTEGER NOT NULL DEFAULT 0,
		loss_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_candles_symbol_timeframe ON candles(symbol, timeframe);
	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
	CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Candles
// ============================================================================

// SaveCandles saves candles to the database. Duplicate bars are ignored,
// so concurrent fetches for the same window cannot corrupt the cache.
func (s *SQLiteStore) SaveCandles(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO candles (symbol, timeframe, start_ts, open, high, low, close, volume, turnover)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, c.Symbol, c.Timeframe, c.Start.UnixMilli(),
			c.Open, c.High, c.Low, c.Close, c.Volume, c.Turnover)
		if err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetCandles retrieves candles in chronological order.
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT start_ts, open, high, low, close, volume, turnover
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND start_ts >= ? AND start_ts <= ?
		ORDER BY start_ts ASC
	`, symbol, timeframe, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		c := models.Candle{Symbol: symbol, Timeframe: timeframe}
		var startMs int64
		if err := rows.Scan(&startMs, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Turnover); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.Start = time.UnixMilli(startMs).UTC()
		candles = append(candles, c)
	}

	return candles, rows.Err()
}

// LatestCandleStart returns the start of the newest cached bar, or the
// zero time when nothing is cached.
func (s *SQLiteStore) LatestCandleStart(ctx context.Context, symbol, timeframe string) (time.Time, error) {
	var startMs sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(start_ts) FROM candles WHERE symbol = ? AND timeframe = ?
	`, symbol, timeframe).Scan(&startMs)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("failed to get latest candle: %w", err)
	}
	if !startMs.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(startMs.Int64).UTC(), nil
}

// ============================================================================
// Trades
// ============================================================================

const tradeColumns = `id, run_id, symbol, timeframe, side, kind, entry_price, quantity,
	stop_loss, take_profit, pair_symbol, pair_entry_price, pair_quantity, lookback,
	signal_ts, status, created_ts, filled_ts, closed_ts, fill_price, pair_fill_price,
	exit_price, pair_exit_price, exit_reason, pnl, pnl_percent`

// CreateTrade inserts a new trade.
func (s *SQLiteStore) CreateTrade(ctx context.Context, t *models.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.RunID, t.Symbol, t.Timeframe, t.Side, t.Kind, t.EntryPrice, t.Quantity,
		t.StopLoss, t.TakeProfit, t.PairSymbol, t.PairEntryPrice, t.PairQuantity, t.Lookback,
		msOrNil(t.SignalAt), t.Status, t.CreatedAt.UnixMilli(), msPtr(t.FilledAt), msPtr(t.ClosedAt),
		t.FillPrice, t.PairFillPrice, t.ExitPrice, t.PairExitPrice, string(t.ExitReason),
		t.PnL, t.PnLPercent)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// GetTrade retrieves a single trade by id.
func (s *SQLiteStore) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return t, nil
}

// ListTrades retrieves trades matching the filter, newest first.
func (s *SQLiteStore) ListTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE 1=1`
	args := []interface{}{}

	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY created_ts DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *t)
	}

	return trades, rows.Err()
}

// ListOpenTrades retrieves all non-terminal trades, oldest first, so a
// reconciliation pass works through them in creation order.
func (s *SQLiteStore) ListOpenTrades(ctx context.Context) ([]models.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE status IN (?, ?) ORDER BY created_ts ASC
	`, string(models.StatusPendingFill), string(models.StatusFilled))
	if err != nil {
		return nil, fmt.Errorf("failed to query open trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *t)
	}

	return trades, rows.Err()
}

// MarkFilled transitions a pending trade to filled. A trade that is no
// longer pending is left untouched.
func (s *SQLiteStore) MarkFilled(ctx context.Context, id string, fillPrice, pairFillPrice float64, filledAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE trades
		SET status = ?, filled_ts = ?, fill_price = ?, pair_fill_price = ?
		WHERE id = ? AND status = ?
	`, string(models.StatusFilled), filledAt.UnixMilli(), fillPrice, pairFillPrice,
		id, string(models.StatusPendingFill))
	if err != nil {
		return fmt.Errorf("failed to mark trade filled: %w", err)
	}
	return nil
}

// CloseTrade commits a terminal transition (closed, or cancelled with
// realized P&L) together with the owning run's aggregate update in one
// transaction. Guarding on status 'filled' makes a replayed close a
// no-op, so aggregates are never double-counted.
func (s *SQLiteStore) CloseTrade(ctx context.Context, t *models.Trade, delta models.RunDelta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE trades
		SET status = ?, closed_ts = ?, exit_price = ?, pair_exit_price = ?,
		    exit_reason = ?, pnl = ?, pnl_percent = ?
		WHERE id = ? AND status = ?
	`, string(t.Status), msPtr(t.ClosedAt), t.ExitPrice, t.PairExitPrice,
		string(t.ExitReason), t.PnL, t.PnLPercent,
		t.ID, string(models.StatusFilled))
	if err != nil {
		return fmt.Errorf("failed to close trade: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		// Already terminal; nothing to commit.
		return nil
	}

	if t.RunID != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE runs
			SET total_pnl = total_pnl + ?, win_count = win_count + ?, loss_count = loss_count + ?
			WHERE id = ?
		`, delta.PnL, delta.Wins, delta.Losses, t.RunID)
		if err != nil {
			return fmt.Errorf("failed to update run aggregates: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// CancelPending cancels a trade that never filled. No P&L is recorded: a
// trade without a fill never had a position.
func (s *SQLiteStore) CancelPending(ctx context.Context, id string, reason models.ExitReason, cancelledAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE trades
		SET status = ?, closed_ts = ?, exit_reason = ?
		WHERE id = ? AND status = ?
	`, string(models.StatusCancelled), cancelledAt.UnixMilli(), string(reason),
		id, string(models.StatusPendingFill))
	if err != nil {
		return fmt.Errorf("failed to cancel trade: %w", err)
	}
	return nil
}

// ============================================================================
// Runs
// ============================================================================

// CreateRun inserts a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *models.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, name, created_ts, total_pnl, win_count, loss_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.Name, r.CreatedAt.UnixMilli(), r.TotalPnL, r.WinCount, r.LossCount)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var r models.Run
	var createdMs int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_ts, total_pnl, win_count, loss_count FROM runs WHERE id = ?
	`, id).Scan(&r.ID, &r.Name, &createdMs, &r.TotalPnL, &r.WinCount, &r.LossCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	r.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &r, nil
}

// ListRuns retrieves all runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]models.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_ts, total_pnl, win_count, loss_count
		FROM runs ORDER BY created_ts DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var r models.Run
		var createdMs int64
		if err := rows.Scan(&r.ID, &r.Name, &createdMs, &r.TotalPnL, &r.WinCount, &r.LossCount); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdMs).UTC()
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// ============================================================================
// Scan helpers
// ============================================================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (*models.Trade, error) {
	var t models.Trade
	var signalMs, filledMs, closedMs sql.NullInt64
	var createdMs int64
	var side, kind, status, reason string

	err := row.Scan(&t.ID, &t.RunID, &t.Symbol, &t.Timeframe, &side, &kind,
		&t.EntryPrice, &t.Quantity, &t.StopLoss, &t.TakeProfit,
		&t.PairSymbol, &t.PairEntryPrice, &t.PairQuantity, &t.Lookback,
		&signalMs, &status, &createdMs, &filledMs, &closedMs,
		&t.FillPrice, &t.PairFillPrice, &t.ExitPrice, &t.PairExitPrice,
		&reason, &t.PnL, &t.PnLPercent)
	if err != nil {
		return nil, err
	}

	t.Side = models.TradeSide(side)
	t.Kind = models.StrategyKind(kind)
	t.Status = models.TradeStatus(status)
	t.ExitReason = models.ExitReason(reason)
	t.CreatedAt = time.UnixMilli(createdMs).UTC()
	if signalMs.Valid {
		t.SignalAt = time.UnixMilli(signalMs.Int64).UTC()
	}
	if filledMs.Valid {
		ft := time.UnixMilli(filledMs.Int64).UTC()
		t.FilledAt = &ft
	}
	if closedMs.Valid {
		ct := time.UnixMilli(closedMs.Int64).UTC()
		t.ClosedAt = &ct
	}
	return &t, nil
}

func msPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func msOrNil(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
