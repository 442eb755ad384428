package recon

import (
	"fmt"
	"time"
)

// CheckTimestamps enforces causal ordering across a trade's lifecycle
// timestamps: created_at <= filled_at <= closed_at for whichever are
// present, and closed_at never without filled_at. It is pure and is
// invoked before every mutating commit; a violation aborts that trade's
// transition for the cycle.
func CheckTimestamps(createdAt time.Time, filledAt, closedAt *time.Time) error {
	if createdAt.IsZero() {
		return fmt.Errorf("%w: created_at is missing", ErrInvariantViolation)
	}
	if closedAt != nil && filledAt == nil {
		return fmt.Errorf("%w: closed_at %s present without filled_at", ErrInvariantViolation, closedAt.Format(time.RFC3339))
	}
	if filledAt != nil && filledAt.Before(createdAt) {
		return fmt.Errorf("%w: filled_at %s precedes created_at %s", ErrInvariantViolation,
			filledAt.Format(time.RFC3339), createdAt.Format(time.RFC3339))
	}
	if closedAt != nil && closedAt.Before(*filledAt) {
		return fmt.Errorf("%w: closed_at %s precedes filled_at %s", ErrInvariantViolation,
			closedAt.Format(time.RFC3339), filledAt.Format(time.RFC3339))
	}
	return nil
}

// CheckCancelledPending validates the one ordering a never-filled
// cancellation carries: created_at <= cancelled_at.
func CheckCancelledPending(createdAt, cancelledAt time.Time) error {
	if createdAt.IsZero() {
		return fmt.Errorf("%w: created_at is missing", ErrInvariantViolation)
	}
	if cancelledAt.Before(createdAt) {
		return fmt.Errorf("%w: cancelled_at %s precedes created_at %s", ErrInvariantViolation,
			cancelledAt.Format(time.RFC3339), createdAt.Format(time.RFC3339))
	}
	return nil
}
