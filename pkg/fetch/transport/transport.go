// Package transport implements the three dial primitives a repository
// synchronization attempt can use: an rsync child process, a plain HTTP
// conditional GET, and a TCP connect probe. Each
// primitive reports a uniform Result so the repository state machine in
// pkg/fetch can apply one retry/failure policy across all of them.
package transport

import (
	"context"
	"time"
)

// Protocol names a repository's synchronization transport.
type Protocol string

const (
	ProtocolRsync Protocol = "rsync"
	ProtocolRRDP  Protocol = "rrdp"
)

// Result is the outcome of a single dial attempt.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Dialer is the interface every transport primitive implements.
type Dialer interface {
	Dial(ctx context.Context) Result
	Protocol() Protocol
}

// Policy holds the timeout and failure-threshold settings applied
// uniformly across repositories (spec.md 4.4's per-repository timeout).
type Policy struct {
	// Timeout bounds a single dial attempt.
	Timeout time.Duration

	// Retries is the consecutive-failure threshold: pkg/fetch opens a
	// repository's circuit breaker after this many failed dials, its HTTP
	// client retries up to this many times, and Status.Update marks the
	// repository down. A single failed sync already moves a repository
	// to FAIL.
	Retries int
}

// DefaultPolicy returns the policy used for repository synchronization:
// a generous per-attempt timeout and a threshold of three consecutive
// failures.
func DefaultPolicy() Policy {
	return Policy{
		Timeout: 5 * time.Minute,
		Retries: 3,
	}
}

// Status tracks a repository's rolling dial history for diagnostics;
// pkg/fetch's state transitions do not read it.
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastAttempt          time.Time
	LastResult           Result
	Up                   bool
}

// NewStatus returns a Status that assumes the repository is reachable
// until a dial attempt says otherwise.
func NewStatus() *Status {
	return &Status{Up: true}
}

// Update folds one dial Result into the rolling status, applying
// policy's failure threshold.
func (s *Status) Update(result Result, policy Policy) {
	s.LastAttempt = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Up = true
		return
	}

	s.ConsecutiveFailures++
	s.ConsecutiveSuccesses = 0
	if s.ConsecutiveFailures >= policy.Retries {
		s.Up = false
	}
}
