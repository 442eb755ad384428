package recon

import (
	"time"

	"botdesk/internal/models"
)

// FillResult describes whether and where a trade's entry condition was
// met within a candle series. Index is the fill bar's position in the
// scanned slice; exit scanning for price trades starts strictly after
// it, while signal-based trades may exit on the fill bar itself.
type FillResult struct {
	Filled    bool
	Price     float64
	PairPrice float64
	Time      time.Time
	Index     int
}

// DetectFill locates the bar at which the trade's entry occurred.
//
// Price trades fill at the first bar whose [low, high] range contains
// the entry price; the fill price is the entry level itself, not the
// bar's open or close, and the fill time is the bar start.
//
// Spread trades fill at the first bar at or after the signal time using
// the entry prices recorded at signal time for both legs: the opening
// condition was the signal, not a level, so no price search happens.
func DetectFill(trade *models.Trade, candles []models.Candle, signalAt time.Time) FillResult {
	switch trade.Kind {
	case models.KindPrice:
		for i, c := range candles {
			if c.Low <= trade.EntryPrice && trade.EntryPrice <= c.High {
				return FillResult{
					Filled: true,
					Price:  trade.EntryPrice,
					Time:   c.Start,
					Index:  i,
				}
			}
		}
	case models.KindSpread:
		for i, c := range candles {
			if !c.Start.Before(signalAt) {
				return FillResult{
					Filled:    true,
					Price:     trade.EntryPrice,
					PairPrice: trade.PairEntryPrice,
					Time:      c.Start,
					Index:     i,
				}
			}
		}
	}
	return FillResult{}
}
