// Package retry decides, attempt by attempt, whether an item is retried, how
// long to wait first, and when to give up.
package retry

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Default schedule used by the extraction worker.
const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = 2 * time.Second
	DefaultFixedDelay   = 2 * time.Second
)

// Class groups attempt errors by how they are retried.
type Class int

// Error classes.
const (
	ClassTransient Class = iota
	ClassRateLimited
)

func (c Class) String() string {
	if c == ClassRateLimited {
		return "rate_limited"
	}
	return "transient"
}

// Phase is the state of an item's retry machine.
type Phase int

// Retry phases.
const (
	PhaseAttempting Phase = iota
	PhaseSuccess
	PhaseFatal
)

// State tracks one item's progress through its attempt budget.
type State struct {
	Phase   Phase
	Attempt int
	// Delay is the rate-limit base; the next rate-limited wait is Delay*2.
	Delay time.Duration
}

// Decision is the outcome of feeding one failed attempt into the policy.
type Decision struct {
	Next State
	Wait time.Duration
}

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// Policy holds the retry schedule.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	FixedDelay   time.Duration
}

// NewPolicy builds the default five-attempt schedule.
func NewPolicy() Policy {
	return Policy{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		FixedDelay:   DefaultFixedDelay,
	}
}

// Start returns the state for an item's first attempt.
func (p Policy) Start() State {
	return State{Phase: PhaseAttempting, Attempt: 1, Delay: p.InitialDelay}
}

// Succeed moves s to the success phase.
func (p Policy) Succeed(s State) State {
	s.Phase = PhaseSuccess
	return s
}

// Next maps a failed attempt to the wait before the following attempt, or to
// the fatal phase once the budget is spent. The final attempt never waits.
func (p Policy) Next(s State, class Class) Decision {
	if s.Phase != PhaseAttempting {
		return Decision{Next: s}
	}
	if s.Attempt >= p.MaxAttempts {
		s.Phase = PhaseFatal
		return Decision{Next: s}
	}
	next := State{Phase: PhaseAttempting, Attempt: s.Attempt + 1, Delay: s.Delay}
	if class == ClassRateLimited {
		wait := s.Delay * 2
		next.Delay = wait
		return Decision{Next: next, Wait: wait}
	}
	return Decision{Next: next, Wait: p.FixedDelay}
}

// Classify treats provider 429 responses as rate limits and everything else
// as transient.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}
	var coder StatusCoder
	if errors.As(err, &coder) && coder.StatusCode() == http.StatusTooManyRequests {
		return ClassRateLimited
	}
	if strings.Contains(err.Error(), strconv.Itoa(http.StatusTooManyRequests)) {
		return ClassRateLimited
	}
	return ClassTransient
}
