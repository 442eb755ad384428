package candles

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"botdesk/internal/marketdata"
	"botdesk/internal/models"
)

var base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func hourBar(i int) models.Candle {
	return models.Candle{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Start:     base.Add(time.Duration(i) * time.Hour),
		Open:      100,
		High:      101,
		Low:       99,
		Close:     100,
		Volume:    10,
	}
}

func hourKline(i int) marketdata.Kline {
	return marketdata.Kline{
		Start: base.Add(time.Duration(i) * time.Hour),
		Open:  100, High: 101, Low: 99, Close: 100, Volume: 10,
	}
}

type memStore struct {
	mu      sync.Mutex
	candles map[time.Time]models.Candle
	saves   int
}

func newMemStore(candles ...models.Candle) *memStore {
	s := &memStore{candles: make(map[time.Time]models.Candle)}
	for _, c := range candles {
		s.candles[c.Start] = c
	}
	return s
}

func (s *memStore) SaveCandles(ctx context.Context, candles []models.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	for _, c := range candles {
		if _, exists := s.candles[c.Start]; exists {
			continue // insert-or-ignore semantics
		}
		s.candles[c.Start] = c
	}
	return nil
}

func (s *memStore) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Candle
	for _, c := range s.candles {
		if !c.Start.Before(from) && !c.Start.After(to) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *memStore) LatestCandleStart(ctx context.Context, symbol, timeframe string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	for start := range s.candles {
		if start.After(latest) {
			latest = start
		}
	}
	return latest, nil
}

func (s *memStore) has(start time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.candles[start]
	return ok
}

type memRemote struct {
	klines []marketdata.Kline
	err    error
	calls  int
}

func (r *memRemote) GetKlines(ctx context.Context, symbol, timeframe string, limit int, end time.Time) ([]marketdata.Kline, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	var out []marketdata.Kline
	for _, k := range r.klines {
		// The provider's end bound is inclusive of the bar containing it.
		if !end.IsZero() && k.Start.After(end) {
			continue
		}
		out = append(out, k)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func newTestService(store *memStore, remote *memRemote, now time.Time) *Service {
	svc := NewService(store, remote, Config{FetchLimit: 200}, zerolog.Nop())
	svc.now = func() time.Time { return now }
	return svc
}

func assertContiguousHourly(t *testing.T, series []models.Candle) {
	t.Helper()
	for i := 1; i < len(series); i++ {
		if series[i].Start.Sub(series[i-1].Start) != time.Hour {
			t.Fatalf("gap between %v and %v", series[i-1].Start, series[i].Start)
		}
	}
}

func TestGetCandles_ServedFromFreshCache(t *testing.T) {
	cached := make([]models.Candle, 0, 10)
	for i := 0; i < 10; i++ {
		cached = append(cached, hourBar(i))
	}
	store := newMemStore(cached...)
	remote := &memRemote{}
	// lastComplete = base+9h, matching the newest cached bar.
	svc := newTestService(store, remote, base.Add(10*time.Hour+30*time.Minute))

	got, err := svc.GetCandles(context.Background(), "BTCUSDT", "1h", base, base.Add(10*time.Hour+30*time.Minute))
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d bars, want 10", len(got))
	}
	if remote.calls != 0 {
		t.Errorf("remote called %d times, want 0 for a fresh complete cache", remote.calls)
	}
	// Only-complete-bars: nothing newer than base+9h is ever returned.
	if last := got[len(got)-1].Start; !last.Equal(base.Add(9 * time.Hour)) {
		t.Errorf("newest bar = %v, want the last complete bar", last)
	}
}

// A hole in the middle of the requested window must trigger a remote
// refetch and yield a gap-free series.
func TestGetCandles_GapTriggersRefetch(t *testing.T) {
	var cached []models.Candle
	for i := 0; i < 10; i++ {
		if i == 4 {
			continue // the hole
		}
		cached = append(cached, hourBar(i))
	}
	store := newMemStore(cached...)

	remote := &memRemote{}
	for i := 0; i < 10; i++ {
		remote.klines = append(remote.klines, hourKline(i))
	}

	svc := newTestService(store, remote, base.Add(10*time.Hour+30*time.Minute))
	got, err := svc.GetCandles(context.Background(), "BTCUSDT", "1h", base, base.Add(9*time.Hour))
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}

	if len(got) != 10 {
		t.Fatalf("got %d bars, want 10", len(got))
	}
	assertContiguousHourly(t, got)
	if remote.calls == 0 {
		t.Error("gap did not trigger a remote fetch")
	}
	// The refetched bar is persisted for the next caller.
	if !store.has(base.Add(4 * time.Hour)) {
		t.Error("hole bar not cached after refetch")
	}
}

func TestGetCandles_StaleCacheToppedUp(t *testing.T) {
	var cached []models.Candle
	for i := 0; i < 6; i++ {
		cached = append(cached, hourBar(i))
	}
	store := newMemStore(cached...)

	remote := &memRemote{}
	for i := 4; i <= 10; i++ { // includes the forming bar at base+10h
		remote.klines = append(remote.klines, hourKline(i))
	}

	// lastComplete = base+9h; cache ends at base+5h.
	svc := newTestService(store, remote, base.Add(10*time.Hour+30*time.Minute))
	got, err := svc.GetCandles(context.Background(), "BTCUSDT", "1h", base, base.Add(10*time.Hour))
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}

	if len(got) != 10 {
		t.Fatalf("got %d bars, want 10 after top-up", len(got))
	}
	assertContiguousHourly(t, got)
	if remote.calls != 1 {
		t.Errorf("remote calls = %d, want exactly one top-up", remote.calls)
	}
	// The still-forming bar is never persisted or served.
	if store.has(base.Add(10 * time.Hour)) {
		t.Error("forming bar was persisted")
	}
}

func TestGetCandles_DegradesToCacheOnRemoteFailure(t *testing.T) {
	var cached []models.Candle
	for i := 0; i < 4; i++ {
		cached = append(cached, hourBar(i))
	}
	store := newMemStore(cached...)
	remote := &memRemote{err: errors.New("connection refused")}

	svc := newTestService(store, remote, base.Add(10*time.Hour+30*time.Minute))
	got, err := svc.GetCandles(context.Background(), "BTCUSDT", "1h", base, base.Add(9*time.Hour))
	if err != nil {
		t.Fatalf("degraded mode must not error: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d bars, want the 4 cached ones", len(got))
	}
}

// A freshly listed symbol can answer a window fetch with nothing but
// its still-forming bar. The service must report the empty history, not
// fall over on it.
func TestGetCandles_RemoteReturnsOnlyFormingBar(t *testing.T) {
	store := newMemStore()
	// lastComplete = base+9h; the provider only has the bar at base+10h,
	// which is still forming.
	remote := &memRemote{klines: []marketdata.Kline{hourKline(10)}}

	svc := newTestService(store, remote, base.Add(10*time.Hour+30*time.Minute))
	got, err := svc.GetCandles(context.Background(), "NEWUSDT", "1h", base, base.Add(9*time.Hour))
	if err == nil {
		t.Fatalf("got %d bars, want an error when no complete bar exists", len(got))
	}
	if store.has(base.Add(10 * time.Hour)) {
		t.Error("forming bar was persisted")
	}
}

func TestGetCandles_EmptyWindow(t *testing.T) {
	store := newMemStore()
	remote := &memRemote{}
	svc := newTestService(store, remote, base.Add(10*time.Hour))

	// Window entirely in the future of the last complete bar.
	got, err := svc.GetCandles(context.Background(), "BTCUSDT", "1h", base.Add(20*time.Hour), base.Add(30*time.Hour))
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d bars, want none for a future window", len(got))
	}
	if remote.calls != 0 {
		t.Errorf("remote called for an empty window")
	}
}

func TestGetCandles_UnknownTimeframe(t *testing.T) {
	svc := newTestService(newMemStore(), &memRemote{}, base)
	if _, err := svc.GetCandles(context.Background(), "BTCUSDT", "7m", base, base.Add(time.Hour)); err == nil {
		t.Fatal("expected an error for an unknown timeframe")
	}
}
