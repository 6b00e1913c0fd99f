// Package status tracks the progress of the single active extraction run.
package status

import (
	"errors"
	"sync"
	"time"
)

// ErrRunActive is returned when a run is requested while another is in flight.
var ErrRunActive = errors.New("an extraction run is already active")

// Snapshot is a point-in-time copy of the register.
type Snapshot struct {
	Active     bool      `json:"active"`
	Current    int       `json:"current"`
	Total      int       `json:"total"`
	Error      *string   `json:"error"`
	RunID      string    `json:"run_id,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Register is shared between the worker goroutine and status readers.
type Register struct {
	mu       sync.RWMutex
	reserved bool
	snap     Snapshot
	now      func() time.Time
}

// NewRegister returns an idle register. now defaults to time.Now.
func NewRegister(now func() time.Time) *Register {
	if now == nil {
		now = time.Now
	}
	return &Register{now: now}
}

// TryReserve claims the register for a new run. It fails with ErrRunActive
// while another run is reserved or active.
func (r *Register) TryReserve() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reserved || r.snap.Active {
		return ErrRunActive
	}
	r.reserved = true
	return nil
}

// Release drops a reservation that never reached Begin.
func (r *Register) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.snap.Active {
		r.reserved = false
	}
}

// Begin resets the counters for a run of total items.
func (r *Register) Begin(runID string, total int) {
	if total < 0 {
		total = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reserved = true
	r.snap = Snapshot{
		Active:    true,
		Total:     total,
		RunID:     runID,
		StartedAt: r.now().UTC(),
	}
}

// SetCurrent records the 1-based position of the item being processed,
// clamped to [0, total].
func (r *Register) SetCurrent(current int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case current < 0:
		current = 0
	case current > r.snap.Total:
		current = r.snap.Total
	}
	r.snap.Current = current
}

// Finish marks the run inactive. A non-nil err becomes the run's terminal
// error; counters are left as they were.
func (r *Register) Finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Active = false
	r.snap.FinishedAt = r.now().UTC()
	if err != nil {
		msg := err.Error()
		r.snap.Error = &msg
	}
	r.reserved = false
}

// Snapshot returns a copy of the current state.
func (r *Register) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.snap
	if r.snap.Error != nil {
		msg := *r.snap.Error
		out.Error = &msg
	}
	return out
}
