// Package poller implements the client side of the async request protocol:
// re-issue the same logical request until the record turns terminal, the
// budget runs out, or the caller cancels.
package poller

import (
	"context"
	"time"

	"mtd-vat-service/internal/models"
)

// State is the poller's terminal condition. TimedOut means the operation's
// fate is unknown; it must never be conflated with Failure.
type State string

const (
	StateSuccess   State = "terminal-success"
	StateFailure   State = "terminal-failure"
	StateTimedOut  State = "timed-out"
	StateCancelled State = "cancelled"
)

// Response is one answer from the server: either still pending, or a decided
// outcome.
type Response struct {
	Pending   bool
	RequestID string
	Outcome   models.Outcome
}

// RequestFunc re-issues the logical request. firstAttempt is true only for
// the very first call; every re-poll carries the same request id with the
// initial-request marker cleared.
type RequestFunc func(ctx context.Context, firstAttempt bool) (Response, error)

// Schedule yields the delay before re-poll number attempt (1-based).
type Schedule interface {
	Next(attempt int) time.Duration
}

type fixedInterval time.Duration

func (f fixedInterval) Next(int) time.Duration { return time.Duration(f) }

// FixedInterval polls on a constant cadence. The default for operations that
// normally complete quickly.
func FixedInterval(d time.Duration) Schedule { return fixedInterval(d) }

type doublingBackoff time.Duration

func (b doublingBackoff) Next(attempt int) time.Duration {
	unit := time.Duration(b)
	switch {
	case attempt <= 1:
		return unit
	case attempt == 2:
		return 2 * unit
	default:
		return 4 * unit
	}
}

// DoublingBackoff starts at one unit and doubles per attempt, capped at four
// units. Meant for operations that call out to slow third-party systems.
func DoublingBackoff(unit time.Duration) Schedule { return doublingBackoff(unit) }

// Config bounds one polling run.
type Config struct {
	// Budget is the total wall-clock allowance, operation-specific.
	Budget   time.Duration
	Schedule Schedule
}

// Result is the final word of a polling run. Outcome is meaningful only for
// StateSuccess and StateFailure.
type Result struct {
	State     State
	RequestID string
	Outcome   models.Outcome
}

// Poll drives the request until a terminal state. Transport errors on an
// individual poll are retried within the budget: an unreachable server says
// nothing about the operation's fate. Context cancellation stops scheduling
// immediately and reports StateCancelled, never an error.
func Poll(ctx context.Context, cfg Config, fn RequestFunc) Result {
	deadline := time.Now().Add(cfg.Budget)
	requestID := ""
	first := true

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return Result{State: StateCancelled, RequestID: requestID}
		}

		resp, err := fn(ctx, first)
		first = false
		if err == nil {
			if resp.RequestID != "" {
				requestID = resp.RequestID
			}
			if !resp.Pending {
				state := StateSuccess
				if resp.Outcome.Failure() {
					state = StateFailure
				}
				return Result{State: state, RequestID: requestID, Outcome: resp.Outcome}
			}
		} else if ctx.Err() != nil {
			return Result{State: StateCancelled, RequestID: requestID}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Result{State: StateTimedOut, RequestID: requestID}
		}
		delay := cfg.Schedule.Next(attempt)
		if delay >= remaining {
			// Sleeping past the deadline cannot observe a new result.
			if !wait(ctx, remaining) {
				return Result{State: StateCancelled, RequestID: requestID}
			}
			return Result{State: StateTimedOut, RequestID: requestID}
		}
		if !wait(ctx, delay) {
			return Result{State: StateCancelled, RequestID: requestID}
		}
	}
}

// wait sleeps cooperatively; false means the context was cancelled.
func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
