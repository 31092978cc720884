package executor

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Slots bounds how many attempts are in flight at once and keeps counters
// that let callers check the bound was honoured.
type Slots struct {
	sem  *semaphore.Weighted
	size int64

	inFlight atomic.Int64
	peak     atomic.Int64
	acquired atomic.Int64
	released atomic.Int64
}

// SlotStats is a snapshot of slot usage
type SlotStats struct {
	Size     int64 `json:"size" yaml:"size"`
	InFlight int64 `json:"inFlight" yaml:"inFlight"`
	Peak     int64 `json:"peak" yaml:"peak"`
	Acquired int64 `json:"acquired" yaml:"acquired"`
	Released int64 `json:"released" yaml:"released"`
}

// NewSlots creates n slots; n below 1 is treated as 1
func NewSlots(n int) *Slots {
	if n < 1 {
		n = 1
	}
	return &Slots{
		sem:  semaphore.NewWeighted(int64(n)),
		size: int64(n),
	}
}

// Acquire blocks until a slot is free or ctx is done
func (s *Slots) Acquire(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	s.track()
	return nil
}

// TryAcquire takes a slot only if one is free right now
func (s *Slots) TryAcquire() bool {
	if !s.sem.TryAcquire(1) {
		return false
	}
	s.track()
	return true
}

func (s *Slots) track() {
	s.acquired.Add(1)
	current := s.inFlight.Add(1)
	for {
		peak := s.peak.Load()
		if current <= peak || s.peak.CompareAndSwap(peak, current) {
			return
		}
	}
}

// Release returns a slot. The in-flight counter drops before the slot is
// handed to the next waiter, so it never exceeds Size.
func (s *Slots) Release() {
	s.inFlight.Add(-1)
	s.released.Add(1)
	s.sem.Release(1)
}

// Size returns the total number of slots
func (s *Slots) Size() int {
	return int(s.size)
}

// Stats returns the current counters
func (s *Slots) Stats() SlotStats {
	return SlotStats{
		Size:     s.size,
		InFlight: s.inFlight.Load(),
		Peak:     s.peak.Load(),
		Acquired: s.acquired.Load(),
		Released: s.released.Load(),
	}
}
