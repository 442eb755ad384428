package recon

import (
	"math"
	"time"

	"botdesk/internal/models"
)

// ExitDecision describes whether and where a filled position should
// close, derived from bar scanning or the strategy evaluator.
type ExitDecision struct {
	Exit      bool
	Reason    models.ExitReason
	Price     float64
	PairPrice float64
	Time      time.Time
	Index     int
}

// ScanPriceExit scans candles from startIdx forward for the first bar
// that touches the trade's stop-loss or take-profit level. The exit
// price is the triggered level, never the bar's own prices, and the
// exit time is that bar's start.
//
// When both levels are touched within one bar, the level closer to the
// bar's open is assumed hit first. OHLC bars do not record the true
// intrabar path; this is a deterministic policy choice, with ties
// resolved toward the stop-loss.
func ScanPriceExit(trade *models.Trade, candles []models.Candle, startIdx int) ExitDecision {
	if startIdx < 0 {
		startIdx = 0
	}
	for i := startIdx; i < len(candles); i++ {
		c := candles[i]

		var slHit, tpHit bool
		switch trade.Side {
		case models.SideLong:
			slHit = trade.StopLoss > 0 && c.Low <= trade.StopLoss
			tpHit = trade.TakeProfit > 0 && c.High >= trade.TakeProfit
		case models.SideShort:
			slHit = trade.StopLoss > 0 && c.High >= trade.StopLoss
			tpHit = trade.TakeProfit > 0 && c.Low <= trade.TakeProfit
		}

		if !slHit && !tpHit {
			continue
		}

		reason := models.ReasonSLHit
		price := trade.StopLoss
		if tpHit && !slHit {
			reason = models.ReasonTPHit
			price = trade.TakeProfit
		} else if tpHit && slHit {
			distSL := math.Abs(c.Open - trade.StopLoss)
			distTP := math.Abs(c.Open - trade.TakeProfit)
			if distTP < distSL {
				reason = models.ReasonTPHit
				price = trade.TakeProfit
			}
		}

		return ExitDecision{
			Exit:   true,
			Reason: reason,
			Price:  price,
			Time:   c.Start,
			Index:  i,
		}
	}
	return ExitDecision{}
}
