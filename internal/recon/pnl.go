package recon

import "botdesk/internal/models"

// legPnL computes a single leg's realized P&L, signed by side.
func legPnL(side models.TradeSide, entry, exit, qty float64) float64 {
	if side == models.SideShort {
		return (entry - exit) * qty
	}
	return (exit - entry) * qty
}

// oppositeSide returns the counter leg's side.
func oppositeSide(side models.TradeSide) models.TradeSide {
	if side == models.SideLong {
		return models.SideShort
	}
	return models.SideLong
}

// realizePnL computes absolute and percent P&L for a trade exiting at
// the given prices. For spread trades both legs' signed P&Ls are summed
// and the percentage is normalized against the combined entry notional.
func realizePnL(trade *models.Trade, exitPrice, pairExitPrice float64) (pnl, pct float64) {
	entry := trade.FillPrice
	if entry == 0 {
		entry = trade.EntryPrice
	}
	pnl = legPnL(trade.Side, entry, exitPrice, trade.Quantity)
	notional := entry * trade.Quantity

	if trade.Kind == models.KindSpread {
		pairEntry := trade.PairFillPrice
		if pairEntry == 0 {
			pairEntry = trade.PairEntryPrice
		}
		pnl += legPnL(oppositeSide(trade.Side), pairEntry, pairExitPrice, trade.PairQuantity)
		notional += pairEntry * trade.PairQuantity
	}

	if notional != 0 {
		pct = pnl / notional * 100
	}
	return pnl, pct
}

// runDelta maps realized P&L to the owning run's aggregate update: one
// win or loss increment and one P&L delta per terminal trade.
func runDelta(pnl float64) models.RunDelta {
	d := models.RunDelta{PnL: pnl}
	if pnl >= 0 {
		d.Wins = 1
	} else {
		d.Losses = 1
	}
	return d
}
