package research

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Cownjackson/open-deep-research/internal/engine"
	"github.com/Cownjackson/open-deep-research/internal/telemetry"
)

// WaitState is the terminal state of one completion wait.
type WaitState int

const (
	// WaitSucceeded: the run reached success and the thread state was fetched.
	WaitSucceeded WaitState = iota
	// WaitFailed: the run reached a terminal failure status, or polling
	// itself broke down.
	WaitFailed
	// WaitTimedOut: the deadline passed first. The remote run may still be
	// executing; the session must be kept for recovery.
	WaitTimedOut
)

// WaitResult carries the outcome of a wait.
type WaitResult struct {
	State    WaitState
	Status   engine.RunStatus    // terminal status when the run itself finished
	Snapshot *engine.ThreadState // set on WaitSucceeded
	Err      error               // diagnostic when polling broke down
	Waited   time.Duration
}

// Waiter polls run status at a fixed interval until a terminal status or a
// deadline. Each wait suspends on a timer between polls, so concurrent
// waits never block each other. A lost poll is retried on the next
// interval; only several consecutive failures abort the wait.
type Waiter struct {
	engine          Engine
	interval        time.Duration
	maxPollFailures int
	logger          *log.Logger
	metrics         *telemetry.Metrics
}

func NewWaiter(eng Engine, interval time.Duration, maxPollFailures int, logger *log.Logger, metrics *telemetry.Metrics) *Waiter {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if maxPollFailures <= 0 {
		maxPollFailures = 3
	}
	return &Waiter{engine: eng, interval: interval, maxPollFailures: maxPollFailures, logger: logger, metrics: metrics}
}

// Wait blocks the calling goroutine until the run reaches a terminal
// status, the deadline passes, or ctx is cancelled. Cancellation counts as
// a timeout: the caller abandoned the wait, the remote run keeps going.
func (w *Waiter) Wait(ctx context.Context, threadID, runID string, deadline time.Duration) WaitResult {
	start := time.Now()
	failures := 0

	for {
		if time.Since(start) >= deadline {
			return WaitResult{State: WaitTimedOut, Waited: time.Since(start)}
		}

		w.metrics.Polls.Inc()
		status, err := w.engine.RunStatus(ctx, threadID, runID)
		switch {
		case err != nil:
			failures++
			w.logger.Printf("poll %s/%s failed (%d/%d): %v", threadID, runID, failures, w.maxPollFailures, err)
			if failures >= w.maxPollFailures {
				return WaitResult{
					State:  WaitFailed,
					Err:    fmt.Errorf("polling thread %s run %s: %w", threadID, runID, err),
					Waited: time.Since(start),
				}
			}
		case status == engine.StatusSuccess:
			snapshot, err := w.engine.ThreadState(ctx, threadID)
			if err != nil {
				return WaitResult{
					State:  WaitFailed,
					Status: status,
					Err:    fmt.Errorf("run succeeded but thread %s state fetch failed: %w", threadID, err),
					Waited: time.Since(start),
				}
			}
			w.metrics.WaitSeconds.Observe(time.Since(start).Seconds())
			return WaitResult{State: WaitSucceeded, Status: status, Snapshot: snapshot, Waited: time.Since(start)}
		case status.Failed():
			w.metrics.WaitSeconds.Observe(time.Since(start).Seconds())
			return WaitResult{State: WaitFailed, Status: status, Waited: time.Since(start)}
		default:
			failures = 0
		}

		select {
		case <-time.After(w.interval):
		case <-ctx.Done():
			return WaitResult{State: WaitTimedOut, Err: ctx.Err(), Waited: time.Since(start)}
		}
	}
}
