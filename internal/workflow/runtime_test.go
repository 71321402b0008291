package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"sse-relay-go/internal/activity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingEngine captures the lifecycle calls the Manager makes.
type recordingEngine struct {
	registered []string
	startErr   error
	starts     int
	shutdowns  int
}

func (e *recordingEngine) RegisterActivity(name string, fn activity.Func) error {
	e.registered = append(e.registered, name)
	return nil
}

func (e *recordingEngine) Start(_ context.Context) error {
	e.starts++
	return e.startErr
}

func (e *recordingEngine) Shutdown(_ context.Context) error {
	e.shutdowns++
	return nil
}

func TestManager_StartRegistersAllActivities(t *testing.T) {
	reg := activity.NewRegistry()
	for _, name := range []string{"beta", "alpha"} {
		reg.MustRegister(name, func(ctx context.Context, input json.RawMessage) (any, error) {
			return nil, nil
		})
	}

	eng := &recordingEngine{}
	m := NewManager(eng, reg, testLogger())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !m.Running() {
		t.Error("Running() = false after Start")
	}
	if len(eng.registered) != 2 {
		t.Fatalf("registered %d activities, want 2", len(eng.registered))
	}
	// Registration happens in sorted registry order, before Start.
	if eng.registered[0] != "alpha" || eng.registered[1] != "beta" {
		t.Errorf("registration order = %v, want [alpha beta]", eng.registered)
	}
	if eng.starts != 1 {
		t.Errorf("engine starts = %d, want 1", eng.starts)
	}
}

func TestManager_StartIdempotent(t *testing.T) {
	eng := &recordingEngine{}
	m := NewManager(eng, activity.NewRegistry(), testLogger())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if eng.starts != 1 {
		t.Errorf("engine starts = %d, want 1", eng.starts)
	}
}

func TestManager_StartFailurePropagates(t *testing.T) {
	wantErr := errors.New("runtime unavailable")
	eng := &recordingEngine{startErr: wantErr}
	m := NewManager(eng, activity.NewRegistry(), testLogger())

	if err := m.Start(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("Start() error = %v, want wrapped %v", err, wantErr)
	}
	if m.Running() {
		t.Error("Running() = true after failed Start")
	}
}

func TestManager_StopIdempotent(t *testing.T) {
	eng := &recordingEngine{}
	m := NewManager(eng, activity.NewRegistry(), testLogger())

	// Stop before Start is a no-op.
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() before Start error = %v", err)
	}
	if eng.shutdowns != 0 {
		t.Errorf("shutdowns = %d before Start, want 0", eng.shutdowns)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if eng.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", eng.shutdowns)
	}
	if m.Running() {
		t.Error("Running() = true after Stop")
	}
}
