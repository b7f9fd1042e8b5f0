package research

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Cownjackson/open-deep-research/internal/engine"
	"github.com/Cownjackson/open-deep-research/internal/telemetry"
)

// fakeEngine implements Engine with overridable behavior per test. The
// defaults describe a healthy engine that runs everything to success
// instantly and produces a "Paris." report.
type fakeEngine struct {
	healthFn          func(ctx context.Context) bool
	searchFn          func(ctx context.Context) ([]engine.Assistant, error)
	createAssistantFn func(ctx context.Context, graphID, name string) (string, error)
	createThreadFn    func(ctx context.Context) (string, error)
	submitFn          func(ctx context.Context, threadID, assistantID, message string, opts *engine.RunOptions) (string, error)
	statusFn          func(ctx context.Context, threadID, runID string) (engine.RunStatus, error)
	stateFn           func(ctx context.Context, threadID string) (*engine.ThreadState, error)

	threads          atomic.Int64
	runs             atomic.Int64
	assistantCreates atomic.Int64
	polls            atomic.Int64
}

func (f *fakeEngine) Health(ctx context.Context) bool {
	if f.healthFn != nil {
		return f.healthFn(ctx)
	}
	return true
}

func (f *fakeEngine) SearchAssistants(ctx context.Context) ([]engine.Assistant, error) {
	if f.searchFn != nil {
		return f.searchFn(ctx)
	}
	return nil, nil
}

func (f *fakeEngine) CreateAssistant(ctx context.Context, graphID, name string) (string, error) {
	f.assistantCreates.Add(1)
	if f.createAssistantFn != nil {
		return f.createAssistantFn(ctx, graphID, name)
	}
	return "assistant-1", nil
}

func (f *fakeEngine) CreateThread(ctx context.Context) (string, error) {
	if f.createThreadFn != nil {
		return f.createThreadFn(ctx)
	}
	return fmt.Sprintf("thread-%d", f.threads.Add(1)), nil
}

func (f *fakeEngine) SubmitRun(ctx context.Context, threadID, assistantID, message string, opts *engine.RunOptions) (string, error) {
	if f.submitFn != nil {
		return f.submitFn(ctx, threadID, assistantID, message, opts)
	}
	return fmt.Sprintf("run-%d", f.runs.Add(1)), nil
}

func (f *fakeEngine) RunStatus(ctx context.Context, threadID, runID string) (engine.RunStatus, error) {
	f.polls.Add(1)
	if f.statusFn != nil {
		return f.statusFn(ctx, threadID, runID)
	}
	return engine.StatusSuccess, nil
}

func (f *fakeEngine) ThreadState(ctx context.Context, threadID string) (*engine.ThreadState, error) {
	if f.stateFn != nil {
		return f.stateFn(ctx, threadID)
	}
	return reportState("Paris."), nil
}

func reportState(report string) *engine.ThreadState {
	return &engine.ThreadState{Values: engine.ThreadValues{FinalReport: report}}
}

func messageState(content string) *engine.ThreadState {
	return &engine.ThreadState{Values: engine.ThreadValues{
		Messages: []engine.Message{{Role: "ai", Content: content}},
	}}
}

func testMetrics() *telemetry.Metrics {
	return telemetry.New(prometheus.NewRegistry())
}

func testLogger() *log.Logger {
	return log.New(log.Writer(), "[TEST] ", log.LstdFlags)
}

// fastConfig keeps poll loops in the millisecond range for tests.
func fastConfig() Config {
	return Config{PollInterval: 2 * time.Millisecond, WaitDeadline: 50 * time.Millisecond, MaxPollFailures: 3}
}

func newTestService(eng *fakeEngine, sessions Store, cfg Config) *Service {
	resolver := NewResolver(eng, "Deep Researcher", "Research Assistant")
	return NewService(eng, resolver, sessions, cfg, testLogger(), testMetrics())
}
