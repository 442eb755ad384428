package recon

import (
	"botdesk/internal/config"
	"botdesk/internal/models"
)

// Phase is the trade-status phase a cancellation cap applies to.
type Phase string

const (
	PhasePending Phase = "pending_fill"
	PhaseOpen    Phase = "filled"
)

type policyKey struct {
	Timeframe string
	Phase     Phase
	Kind      models.StrategyKind
}

// CancelPolicy caps how many bars a trade may sit in a phase before the
// reconciler cancels it. An absent (timeframe, phase, kind) combination
// disables the check for that combination: the policy fails safe toward
// "never auto-cancel", not toward a default threshold.
type CancelPolicy struct {
	maxBars map[policyKey]int
}

// NewCancelPolicy builds the typed policy from configuration, resolved
// once rather than looked up dynamically per trade.
func NewCancelPolicy(entries []config.MaxBarsEntry) CancelPolicy {
	m := make(map[policyKey]int, len(entries))
	for _, e := range entries {
		m[policyKey{
			Timeframe: e.Timeframe,
			Phase:     Phase(e.Phase),
			Kind:      models.StrategyKind(e.Kind),
		}] = e.Bars
	}
	return CancelPolicy{maxBars: m}
}

// MaxBars returns the configured cap and whether one exists.
func (p CancelPolicy) MaxBars(timeframe string, phase Phase, kind models.StrategyKind) (int, bool) {
	bars, ok := p.maxBars[policyKey{Timeframe: timeframe, Phase: phase, Kind: kind}]
	return bars, ok
}
