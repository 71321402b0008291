// Package workflow manages the lifecycle of the external orchestration
// engine's runtime: it registers the activity set before start and drives
// start/shutdown from the application lifecycle.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"sse-relay-go/internal/activity"
)

// Engine is the contract implemented by a workflow runtime binding. The
// engine itself is an external collaborator; this package only drives it.
type Engine interface {
	RegisterActivity(name string, fn activity.Func) error
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Manager drives one Engine through its lifecycle. Start registers every
// activity from the registry before starting the runtime; Stop is idempotent.
type Manager struct {
	engine   Engine
	registry *activity.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewManager creates a Manager for the given engine and activity registry.
func NewManager(engine Engine, registry *activity.Registry, logger *slog.Logger) *Manager {
	return &Manager{
		engine:   engine,
		registry: registry,
		logger:   logger.With("component", "workflow_manager"),
	}
}

// Start registers all activities and starts the runtime.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	for _, name := range m.registry.Names() {
		fn, _ := m.registry.Lookup(name)
		if err := m.engine.RegisterActivity(name, fn); err != nil {
			return fmt.Errorf("register activity %s: %w", name, err)
		}
		m.logger.Info("activity registered", "activity", name)
	}

	if err := m.engine.Start(ctx); err != nil {
		return fmt.Errorf("start workflow runtime: %w", err)
	}

	m.running = true
	m.logger.Info("workflow runtime started", "activities", len(m.registry.Names()))
	return nil
}

// Stop shuts the runtime down. Calling Stop on a stopped Manager is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	if err := m.engine.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown workflow runtime: %w", err)
	}

	m.running = false
	m.logger.Info("workflow runtime stopped")
	return nil
}

// Running reports whether the runtime has been started and not yet stopped.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
