package research

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Cownjackson/open-deep-research/internal/engine"
)

// Engine is the slice of the remote engine client the orchestration core
// uses. *engine.Client satisfies it; tests substitute stubs.
type Engine interface {
	Health(ctx context.Context) bool
	CreateThread(ctx context.Context) (string, error)
	SearchAssistants(ctx context.Context) ([]engine.Assistant, error)
	CreateAssistant(ctx context.Context, graphID, name string) (string, error)
	SubmitRun(ctx context.Context, threadID, assistantID, message string, opts *engine.RunOptions) (string, error)
	RunStatus(ctx context.Context, threadID, runID string) (engine.RunStatus, error)
	ThreadState(ctx context.Context, threadID string) (*engine.ThreadState, error)
}

// Resolver resolves the process-wide assistant identity: search first, and
// only create when nothing matches. The id is memoized for the process
// lifetime and never invalidated, which means a replaced remote graph is
// not picked up without a restart. The first resolution is single-flight so
// N concurrent cold calls issue at most one create.
type Resolver struct {
	engine  Engine
	graphID string
	name    string

	group singleflight.Group
	mu    sync.RWMutex
	id    string
}

func NewResolver(eng Engine, graphID, name string) *Resolver {
	return &Resolver{engine: eng, graphID: graphID, name: name}
}

// Resolve returns the cached assistant id, resolving it remotely on first
// use.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	r.mu.RLock()
	id := r.id
	r.mu.RUnlock()
	if id != "" {
		return id, nil
	}

	v, err, _ := r.group.Do("assistant", func() (any, error) {
		// Re-check under the flight: a previous flight may have filled it.
		r.mu.RLock()
		cached := r.id
		r.mu.RUnlock()
		if cached != "" {
			return cached, nil
		}

		resolved, err := r.resolve(ctx)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.id = resolved
		r.mu.Unlock()
		return resolved, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) resolve(ctx context.Context) (string, error) {
	assistants, err := r.engine.SearchAssistants(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve assistant: %w", err)
	}
	if len(assistants) > 0 {
		return assistants[0].ID, nil
	}
	id, err := r.engine.CreateAssistant(ctx, r.graphID, r.name)
	if err != nil {
		return "", fmt.Errorf("resolve assistant: %w", err)
	}
	return id, nil
}
