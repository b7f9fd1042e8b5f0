// Package research implements the session/run orchestration core: it
// submits research questions to a remote workflow engine, tracks every run
// in a session registry, waits for terminal statuses without blocking
// concurrent callers, and interprets finished threads into caller-facing
// outcomes.
package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Cownjackson/open-deep-research/internal/engine"
	"github.com/Cownjackson/open-deep-research/internal/telemetry"
)

// Config carries orchestration tunables.
type Config struct {
	// PollInterval between run status fetches. Default 2s.
	PollInterval time.Duration
	// WaitDeadline bounds synchronous waits. Default 720s.
	WaitDeadline time.Duration
	// MaxPollFailures is how many consecutive poll errors are tolerated
	// before a wait gives up. Default 3.
	MaxPollFailures int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.WaitDeadline <= 0 {
		c.WaitDeadline = 720 * time.Second
	}
	if c.MaxPollFailures <= 0 {
		c.MaxPollFailures = 3
	}
	return c
}

// Options configures one research request.
type Options struct {
	// AllowClarification lets the agent pause and ask the user a question
	// instead of guessing.
	AllowClarification bool
}

// Progress is a point-in-time view of a session.
type Progress struct {
	SessionID string           `json:"session_id"`
	Status    SessionStatus    `json:"status"`
	RunStatus engine.RunStatus `json:"run_status"`
	Elapsed   time.Duration    `json:"elapsed"`
}

// Service is the orchestration facade every front end calls. All shared
// state lives in the injected registry and resolver; the service itself is
// safe for concurrent use.
type Service struct {
	engine   Engine
	resolver *Resolver
	sessions Store
	waiter   *Waiter
	deadline time.Duration
	logger   *log.Logger
	metrics  *telemetry.Metrics

	lockMu   sync.Mutex
	sessLock map[string]*sync.Mutex
}

func NewService(eng Engine, resolver *Resolver, sessions Store, cfg Config, logger *log.Logger, metrics *telemetry.Metrics) *Service {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	}
	return &Service{
		engine:   eng,
		resolver: resolver,
		sessions: sessions,
		waiter:   NewWaiter(eng, cfg.PollInterval, cfg.MaxPollFailures, logger, metrics),
		deadline: cfg.WaitDeadline,
		logger:   logger,
		metrics:  metrics,
		sessLock: make(map[string]*sync.Mutex),
	}
}

// lockSession serializes state transitions for one session. Each registry
// operation is atomic on its own, but the check-then-act sequences here
// span engine calls and registry writes; without this lock two concurrent
// continuations could both pass the in-flight guard and submit two runs on
// the same thread.
func (s *Service) lockSession(id string) func() {
	s.lockMu.Lock()
	mu, ok := s.sessLock[id]
	if !ok {
		mu = &sync.Mutex{}
		s.sessLock[id] = mu
	}
	s.lockMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// forgetLock drops the lock entry once the session is gone from the
// registry. A straggler acquiring a fresh lock afterwards just observes
// ErrSessionNotFound.
func (s *Service) forgetLock(id string) {
	s.lockMu.Lock()
	delete(s.sessLock, id)
	s.lockMu.Unlock()
}

// Health reports whether the remote engine answers its liveness probe.
func (s *Service) Health(ctx context.Context) bool {
	up := s.engine.Health(ctx)
	if up {
		s.metrics.EngineUp.Set(1)
	} else {
		s.metrics.EngineUp.Set(0)
	}
	return up
}

// StartResearch submits a question as a new run on a fresh thread and
// registers a session for it. It returns as soon as the run is submitted;
// callers monitor with PollProgress and collect with FetchResult.
func (s *Service) StartResearch(ctx context.Context, question string, opts Options) (string, error) {
	if question == "" {
		return "", errors.New("question is required")
	}
	if !s.Health(ctx) {
		return "", ErrEngineUnavailable
	}

	assistantID, err := s.resolver.Resolve(ctx)
	if err != nil {
		return "", err
	}
	threadID, err := s.engine.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	runID, err := s.engine.SubmitRun(ctx, threadID, assistantID, question, &engine.RunOptions{
		AllowClarification: opts.AllowClarification,
	})
	if err != nil {
		return "", err
	}

	sess, err := s.sessions.Create(ctx, question, threadID, runID)
	if err != nil {
		return "", fmt.Errorf("register session: %w", err)
	}
	s.metrics.RunsStarted.Inc()
	s.logger.Printf("session %s started: thread=%s run=%s", sess.ID, threadID, runID)
	return sess.ID, nil
}

// PollProgress reports the session's current state. Repeated calls on a
// non-terminal session keep returning running with non-decreasing elapsed
// time; a session that already reached a terminal outcome is never mutated
// back.
func (s *Service) PollProgress(ctx context.Context, sessionID string) (Progress, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return Progress{}, err
	}
	if sess.Status != SessionRunning {
		status := engine.StatusSuccess
		if sess.Status == SessionError {
			status = engine.StatusError
		}
		return Progress{SessionID: sess.ID, Status: sess.Status, RunStatus: status, Elapsed: sess.Elapsed()}, nil
	}

	status, err := s.engine.RunStatus(ctx, sess.ThreadID, sess.RunID)
	if err != nil {
		// One lost poll is not fatal; the caller just polls again.
		return Progress{}, fmt.Errorf("session %s (thread %s): %w", sess.ID, sess.ThreadID, err)
	}
	switch {
	case status == engine.StatusSuccess:
		sess.Status = SessionCompleted
		if err := s.sessions.Update(ctx, sess); err != nil {
			return Progress{}, err
		}
	case status.Failed():
		sess.Status = SessionError
		if err := s.sessions.Update(ctx, sess); err != nil {
			return Progress{}, err
		}
	}
	return Progress{SessionID: sess.ID, Status: sess.Status, RunStatus: status, Elapsed: sess.Elapsed()}, nil
}

// FetchResult interprets a completed session's thread. On a report the
// session is removed from the registry (delivery is final); clarification
// and failure outcomes keep it so the caller can continue or recover.
func (s *Service) FetchResult(ctx context.Context, sessionID string) (Outcome, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}

	status, err := s.engine.RunStatus(ctx, sess.ThreadID, sess.RunID)
	if err != nil {
		return Outcome{}, fmt.Errorf("session %s (thread %s): %w", sess.ID, sess.ThreadID, err)
	}
	if status.Failed() {
		sess.Status = SessionError
		_ = s.sessions.Update(ctx, sess)
		return Outcome{}, &RunFailedError{SessionID: sess.ID, ThreadID: sess.ThreadID, Status: status}
	}
	if status != engine.StatusSuccess {
		return Outcome{}, fmt.Errorf("session %s (thread %s): status %s: %w", sess.ID, sess.ThreadID, status, ErrRunNotFinished)
	}

	state, err := s.engine.ThreadState(ctx, sess.ThreadID)
	if err != nil {
		return Outcome{}, fmt.Errorf("session %s (thread %s): %w", sess.ID, sess.ThreadID, err)
	}
	return s.deliver(ctx, sess, state)
}

// deliver classifies a snapshot and settles the session accordingly.
// Callers hold the session lock.
func (s *Service) deliver(ctx context.Context, sess *Session, state *engine.ThreadState) (Outcome, error) {
	outcome := ExtractOutcome(state)
	switch outcome.Kind {
	case OutcomeReport:
		if err := s.sessions.Remove(ctx, sess.ID); err != nil {
			return Outcome{}, err
		}
		s.forgetLock(sess.ID)
		s.metrics.RunsFinished.WithLabelValues(telemetry.OutcomeReport).Inc()
		s.logger.Printf("session %s delivered report (%d bytes)", sess.ID, len(outcome.Report))
		return outcome, nil
	case OutcomeClarification:
		sess.Status = SessionCompleted
		if err := s.sessions.Update(ctx, sess); err != nil {
			return Outcome{}, err
		}
		s.metrics.RunsFinished.WithLabelValues(telemetry.OutcomeClarification).Inc()
		return outcome, nil
	default:
		s.metrics.RunsFinished.WithLabelValues(telemetry.OutcomeEmpty).Inc()
		return Outcome{}, fmt.Errorf("session %s (thread %s): %w", sess.ID, sess.ThreadID, ErrNoUsableResult)
	}
}

// Continue submits an answer as a new run on the session's existing thread.
// With an empty sessionID it targets the most recently started session. The
// current run must already be terminal: a session owns at most one in-flight
// run at a time.
func (s *Service) Continue(ctx context.Context, sessionID, answer string) (string, error) {
	if answer == "" {
		return "", errors.New("answer is required")
	}
	if sessionID == "" {
		latest, err := s.sessions.MostRecent(ctx)
		if err != nil {
			return "", err
		}
		sessionID = latest.ID
	}

	// Check-submit-update must be serialized: exactly one continuation may
	// pass the in-flight guard, each submission is a paid run.
	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}

	status, err := s.engine.RunStatus(ctx, sess.ThreadID, sess.RunID)
	if err != nil {
		return "", fmt.Errorf("session %s (thread %s): %w", sess.ID, sess.ThreadID, err)
	}
	if !status.Terminal() {
		return "", fmt.Errorf("session %s (thread %s): status %s: %w", sess.ID, sess.ThreadID, status, ErrRunInFlight)
	}

	assistantID, err := s.resolver.Resolve(ctx)
	if err != nil {
		return "", err
	}
	runID, err := s.engine.SubmitRun(ctx, sess.ThreadID, assistantID, answer, nil)
	if err != nil {
		return "", err
	}

	sess.RunID = runID
	sess.Status = SessionRunning
	sess.StartedAt = time.Now()
	if err := s.sessions.Update(ctx, sess); err != nil {
		return "", err
	}
	s.metrics.RunsStarted.Inc()
	s.logger.Printf("session %s continued: thread=%s run=%s", sess.ID, sess.ThreadID, runID)
	return sess.ID, nil
}

// Research is the synchronous convenience: start, wait up to the configured
// deadline, and fetch. A timeout is not fatal: the session survives and the
// returned error names it so the caller can keep monitoring.
func (s *Service) Research(ctx context.Context, question string, opts Options) (Outcome, error) {
	sessionID, err := s.StartResearch(ctx, question, opts)
	if err != nil {
		return Outcome{}, err
	}
	return s.WaitAndFetch(ctx, sessionID)
}

// WaitAndFetch waits for the session's current run and delivers its outcome.
func (s *Service) WaitAndFetch(ctx context.Context, sessionID string) (Outcome, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}

	// The wait itself runs unlocked; holding the session lock for up to the
	// full deadline would block progress polls.
	res := s.waiter.Wait(ctx, sess.ThreadID, sess.RunID, s.deadline)

	unlock := s.lockSession(sessionID)
	defer unlock()
	// Re-read: the registry may have moved on while the wait was parked.
	sess, err = s.sessions.Get(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}

	switch res.State {
	case WaitSucceeded:
		sess.Status = SessionCompleted
		if err := s.sessions.Update(ctx, sess); err != nil {
			return Outcome{}, err
		}
		return s.deliver(ctx, sess, res.Snapshot)
	case WaitTimedOut:
		// Session stays running: the remote run may still finish.
		s.metrics.RunsFinished.WithLabelValues(telemetry.OutcomeTimeout).Inc()
		return Outcome{}, &WaitTimeoutError{SessionID: sess.ID, ThreadID: sess.ThreadID, Waited: res.Waited}
	default:
		sess.Status = SessionError
		_ = s.sessions.Update(ctx, sess)
		s.metrics.RunsFinished.WithLabelValues(telemetry.OutcomeFailed).Inc()
		if res.Status.Failed() {
			return Outcome{}, &RunFailedError{SessionID: sess.ID, ThreadID: sess.ThreadID, Status: res.Status}
		}
		return Outcome{}, fmt.Errorf("session %s: %w", sess.ID, res.Err)
	}
}

// RecoverByThread extracts an outcome directly from a thread id, bypassing
// the registry. This is the escape hatch after a timeout or a process
// restart: any known thread id can still yield its report. If a registered
// session owns the thread and a report is delivered, that session is
// removed.
func (s *Service) RecoverByThread(ctx context.Context, threadID string) (Outcome, error) {
	if threadID == "" {
		return Outcome{}, errors.New("thread id is required")
	}
	state, err := s.engine.ThreadState(ctx, threadID)
	if err != nil {
		return Outcome{}, fmt.Errorf("thread %s: %w", threadID, err)
	}
	outcome := ExtractOutcome(state)
	switch outcome.Kind {
	case OutcomeReport:
		if sess := s.sessionByThread(ctx, threadID); sess != nil {
			unlock := s.lockSession(sess.ID)
			err := s.sessions.Remove(ctx, sess.ID)
			unlock()
			if err != nil {
				return Outcome{}, err
			}
			s.forgetLock(sess.ID)
			s.logger.Printf("session %s recovered via thread %s", sess.ID, threadID)
		}
		s.metrics.RunsFinished.WithLabelValues(telemetry.OutcomeReport).Inc()
		return outcome, nil
	case OutcomeClarification:
		return outcome, nil
	default:
		return Outcome{}, fmt.Errorf("thread %s: %w", threadID, ErrNoUsableResult)
	}
}

// ListSessions returns live sessions in insertion order.
func (s *Service) ListSessions(ctx context.Context) ([]*Session, error) {
	return s.sessions.List(ctx)
}

func (s *Service) sessionByThread(ctx context.Context, threadID string) *Session {
	all, err := s.sessions.List(ctx)
	if err != nil {
		return nil
	}
	for _, sess := range all {
		if sess.ThreadID == threadID {
			return sess
		}
	}
	return nil
}
