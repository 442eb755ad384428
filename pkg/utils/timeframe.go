// Package utils provides small shared helpers.
package utils

import (
	"fmt"
	"time"
)

var timeframeSteps = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// TimeframeStep returns the bar interval for a timeframe string.
func TimeframeStep(timeframe string) (time.Duration, error) {
	step, ok := timeframeSteps[timeframe]
	if !ok {
		return 0, fmt.Errorf("unknown timeframe: %s", timeframe)
	}
	return step, nil
}

// AlignToStep truncates t down to the start of its bar.
func AlignToStep(t time.Time, step time.Duration) time.Time {
	return t.UTC().Truncate(step)
}

// LastCompleteBar returns the start of the most recent bar that has
// fully elapsed as of now. The bar that contains now is still forming
// and must never be persisted.
func LastCompleteBar(now time.Time, step time.Duration) time.Time {
	return AlignToStep(now, step).Add(-step)
}
