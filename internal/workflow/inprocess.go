package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"sse-relay-go/internal/activity"
)

// InProcessEngine is a minimal Engine used when no sidecar runtime binding
// is linked in: it holds registrations and can invoke activities locally.
// Demos and tests run against it; a real deployment swaps in the sidecar
// SDK's binding through the same interface.
type InProcessEngine struct {
	logger *slog.Logger

	mu         sync.RWMutex
	activities map[string]activity.Func
	started    bool
}

// NewInProcessEngine creates an InProcessEngine.
func NewInProcessEngine(logger *slog.Logger) *InProcessEngine {
	return &InProcessEngine{
		logger:     logger.With("component", "inprocess_engine"),
		activities: make(map[string]activity.Func),
	}
}

// RegisterActivity records the activity. Registration after Start is rejected:
// the runtime's view of the activity set is fixed at start.
func (e *InProcessEngine) RegisterActivity(name string, fn activity.Func) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started; cannot register %q", name)
	}
	if _, exists := e.activities[name]; exists {
		return fmt.Errorf("activity %q already registered with engine", name)
	}
	e.activities[name] = fn
	return nil
}

// Start marks the engine as running.
func (e *InProcessEngine) Start(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.logger.Info("in-process engine started", "activities", len(e.activities))
	return nil
}

// Shutdown marks the engine as stopped.
func (e *InProcessEngine) Shutdown(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.started = false
	e.logger.Info("in-process engine stopped")
	return nil
}

// Invoke runs a registered activity by name. Used by local demos and tests;
// a real runtime dispatches activities itself.
func (e *InProcessEngine) Invoke(ctx context.Context, name string, input json.RawMessage) (any, error) {
	e.mu.RLock()
	fn, ok := e.activities[name]
	started := e.started
	e.mu.RUnlock()

	if !started {
		return nil, fmt.Errorf("engine not started")
	}
	if !ok {
		return nil, fmt.Errorf("no activity registered as %q", name)
	}
	return fn(ctx, input)
}
