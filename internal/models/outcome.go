package models

import "time"

// OutcomeAction describes what a reconciliation pass did with one trade.
type OutcomeAction string

const (
	ActionNone      OutcomeAction = "none"      // checked, nothing triggered
	ActionFilled    OutcomeAction = "filled"    // entry condition met this pass
	ActionClosed    OutcomeAction = "closed"    // exit condition met this pass
	ActionCancelled OutcomeAction = "cancelled" // stale-order policy triggered
	ActionSkipped   OutcomeAction = "skipped"   // insufficient data or failed check
)

// TradeOutcome is the per-trade record returned from a reconciliation pass.
type TradeOutcome struct {
	TradeID string        `json:"trade_id"`
	Symbol  string        `json:"symbol"`
	Action  OutcomeAction `json:"action"`
	Status  TradeStatus   `json:"status"`
	Reason  ExitReason    `json:"reason,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// PassSummary is the result of one reconciliation pass over all open trades.
type PassSummary struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Checked    int            `json:"checked"`
	Filled     int            `json:"filled"`
	Closed     int            `json:"closed"`
	Cancelled  int            `json:"cancelled"`
	StillOpen  int            `json:"still_open"`
	Skipped    int            `json:"skipped"`
	Errors     int            `json:"errors"`
	Outcomes   []TradeOutcome `json:"outcomes"`
}

// Record folds one outcome into the summary counters.
func (s *PassSummary) Record(o TradeOutcome) {
	s.Checked++
	switch o.Action {
	case ActionFilled:
		s.Filled++
		s.StillOpen++
	case ActionClosed:
		s.Closed++
	case ActionCancelled:
		s.Cancelled++
	case ActionSkipped:
		s.Skipped++
	default:
		s.StillOpen++
	}
	if o.Error != "" {
		s.Errors++
	}
	s.Outcomes = append(s.Outcomes, o)
}
