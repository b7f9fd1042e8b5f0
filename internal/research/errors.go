package research

import (
	"errors"
	"fmt"
	"time"

	"github.com/Cownjackson/open-deep-research/internal/engine"
)

var (
	// ErrEngineUnavailable means the engine failed its liveness probe or a
	// required call could not connect.
	ErrEngineUnavailable = errors.New("research engine unavailable")

	// ErrSessionNotFound means the session id does not map to a live session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNoSessions means a most-recent-session lookup found nothing.
	ErrNoSessions = errors.New("no active research sessions")

	// ErrNoUsableResult means a run finished without a report or a
	// clarification request.
	ErrNoUsableResult = errors.New("no usable result")

	// ErrRunInFlight means the session's current run has not reached a
	// terminal status, so a new run may not be submitted on its thread.
	ErrRunInFlight = errors.New("run still in flight")

	// ErrRunNotFinished means a result was requested before the run
	// reached a terminal status.
	ErrRunNotFinished = errors.New("run not finished")
)

// RunFailedError reports a run that reached a terminal failure status.
// Session and thread ids are carried so the caller can recover without
// restating the question.
type RunFailedError struct {
	SessionID string
	ThreadID  string
	Status    engine.RunStatus
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("session %s (thread %s): run failed with status %s", e.SessionID, e.ThreadID, e.Status)
}

// WaitTimeoutError reports a wait that hit its deadline before the run
// reached a terminal status. The remote run may still be executing and the
// session is retained, so the thread id stays discoverable.
type WaitTimeoutError struct {
	SessionID string
	ThreadID  string
	Waited    time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("session %s (thread %s): still running after %s; poll again or recover by thread id",
		e.SessionID, e.ThreadID, e.Waited.Round(time.Second))
}
