// Package progress turns elapsed processing time into a cosmetic percentage.
// It is never a timeout or cancellation signal.
package progress

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Cap is the highest percentage the estimator reports; only a COMPLETED row shows 100.
const Cap = 90

type band struct {
	name     string
	until    time.Duration
	from, to int
}

// Bands follow the job steps: fetch the source, stage it with the provider,
// wait for generation, then save the result.
var bands = []band{
	{name: "fetch", until: 5 * time.Second, from: 0, to: 10},
	{name: "upload", until: 15 * time.Second, from: 10, to: 25},
	{name: "generate", until: 75 * time.Second, from: 25, to: 85},
	{name: "save", until: 90 * time.Second, from: 85, to: Cap},
}

// Percent maps elapsed time since first observation to a percentage.
// It is non-decreasing in elapsed and never exceeds Cap.
func Percent(elapsed time.Duration) int {
	if elapsed <= 0 {
		return 0
	}

	var start time.Duration
	for _, b := range bands {
		if elapsed < b.until {
			span := b.until - start
			return b.from + int(int64(b.to-b.from)*int64(elapsed-start)/int64(span))
		}
		start = b.until
	}
	return Cap
}

// Stage names the band elapsed falls into.
func Stage(elapsed time.Duration) string {
	for _, b := range bands {
		if elapsed < b.until {
			return b.name
		}
	}
	return bands[len(bands)-1].name
}

// Store remembers when an image was first observed in PROCESSING.
type Store interface {
	// FirstSeen records now for imageID unless a time is already recorded,
	// and returns the recorded time.
	FirstSeen(ctx context.Context, imageID uuid.UUID, now time.Time) (time.Time, error)
	Forget(ctx context.Context, imageIDs ...uuid.UUID) error
}

// Estimate is the cosmetic progress of one image in flight.
type Estimate struct {
	Percent int
	Stage   string
}

type Estimator struct {
	store Store
	now   func() time.Time
}

func NewEstimator(store Store) *Estimator {
	return &Estimator{store: store, now: time.Now}
}

// WithClock replaces the time source.
func (e *Estimator) WithClock(now func() time.Time) *Estimator {
	e.now = now
	return e
}

// Observe returns the estimate for each processing image.
func (e *Estimator) Observe(ctx context.Context, processing []uuid.UUID) (map[uuid.UUID]Estimate, error) {
	now := e.now()
	out := make(map[uuid.UUID]Estimate, len(processing))
	for _, id := range processing {
		start, err := e.store.FirstSeen(ctx, id, now)
		if err != nil {
			return nil, err
		}
		elapsed := now.Sub(start)
		out[id] = Estimate{Percent: Percent(elapsed), Stage: Stage(elapsed)}
	}
	return out, nil
}

// Forget drops the clocks of images that reached a terminal state.
func (e *Estimator) Forget(ctx context.Context, imageIDs ...uuid.UUID) error {
	if len(imageIDs) == 0 {
		return nil
	}
	return e.store.Forget(ctx, imageIDs...)
}
