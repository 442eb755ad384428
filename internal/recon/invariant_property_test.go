package recon

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: CheckTimestamps accepts a lifecycle exactly when the
// present timestamps are causally ordered, created <= filled <= closed,
// and closed never appears without filled.
func TestProperty_TimestampOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Offsets in seconds from a fixed base; signs produce both ordered
	// and violating lifecycles.
	offsetGen := gen.Int64Range(-86400, 86400)

	properties.Property("full lifecycle accepted iff ordered", prop.ForAll(
		func(fillOff, closeOff int64) bool {
			created := base
			filled := base.Add(time.Duration(fillOff) * time.Second)
			closed := filled.Add(time.Duration(closeOff) * time.Second)

			err := CheckTimestamps(created, &filled, &closed)
			ordered := !filled.Before(created) && !closed.Before(filled)
			return (err == nil) == ordered
		},
		offsetGen,
		offsetGen,
	))

	properties.Property("fill-only lifecycle accepted iff filled not before created", prop.ForAll(
		func(fillOff int64) bool {
			created := base
			filled := base.Add(time.Duration(fillOff) * time.Second)

			err := CheckTimestamps(created, &filled, nil)
			return (err == nil) == !filled.Before(created)
		},
		offsetGen,
	))

	properties.Property("closed without filled always rejected", prop.ForAll(
		func(closeOff int64) bool {
			created := base
			closed := base.Add(time.Duration(closeOff) * time.Second)
			return CheckTimestamps(created, nil, &closed) != nil
		},
		offsetGen,
	))

	properties.Property("pending lifecycle with created present always accepted", prop.ForAll(
		func(dayOff int64) bool {
			created := base.Add(time.Duration(dayOff) * time.Second)
			return CheckTimestamps(created, nil, nil) == nil
		},
		offsetGen,
	))

	properties.TestingRun(t)
}

func TestCheckTimestamps_MissingCreated(t *testing.T) {
	if err := CheckTimestamps(time.Time{}, nil, nil); err == nil {
		t.Fatal("zero created_at must be rejected")
	}
}

func TestCheckCancelledPending(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := CheckCancelledPending(created, created.Add(time.Hour)); err != nil {
		t.Fatalf("ordered cancellation rejected: %v", err)
	}
	if err := CheckCancelledPending(created, created); err != nil {
		t.Fatalf("same-instant cancellation rejected: %v", err)
	}
	if err := CheckCancelledPending(created, created.Add(-time.Minute)); err == nil {
		t.Fatal("cancelled before created must be rejected")
	}
}
