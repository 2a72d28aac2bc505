package workflow

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rogersf/backdp/internal/domain"
	"github.com/rogersf/backdp/internal/store"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(newTestDB(t))
}

func startRun(t *testing.T, eng *Engine, runID string) {
	t.Helper()
	if err := eng.StartRun(context.Background(), domain.Run{RunID: runID, Gamma: 1, TimeSteps: 3}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
}

func engineCode(err error) int {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		return engErr.Code
	}
	return 0
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to domain.RunStatus
		want     bool
	}{
		{domain.RunCreated, domain.RunSolved, true},
		{domain.RunCreated, domain.RunFailed, true},
		{domain.RunSolved, domain.RunSimulated, true},
		{domain.RunSolved, domain.RunFailed, true},
		{domain.RunCreated, domain.RunSimulated, false},
		{domain.RunSolved, domain.RunCreated, false},
		{domain.RunSimulated, domain.RunFailed, false},
		{domain.RunFailed, domain.RunCreated, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := IsValidTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("IsValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestEngine_StartRun(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	startRun(t, eng, "run-1")

	run, err := eng.GetState(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if run.Status != domain.RunCreated {
		t.Errorf("Status = %q, want created", run.Status)
	}
	if run.StateVersion != 1 || run.LastEventSeq != 1 {
		t.Errorf("StateVersion/LastEventSeq = %d/%d, want 1/1", run.StateVersion, run.LastEventSeq)
	}

	events, err := eng.Events(ctx, "run-1", 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != "run_created" {
		t.Fatalf("events = %+v, want one run_created", events)
	}
	if !strings.Contains(events[0].PayloadJSON, `"time_steps":3`) {
		t.Errorf("payload = %s", events[0].PayloadJSON)
	}
}

func TestEngine_StartRun_Duplicate(t *testing.T) {
	eng := newTestEngine(t)
	startRun(t, eng, "run-1")

	err := eng.StartRun(context.Background(), domain.Run{RunID: "run-1"})
	if engineCode(err) != domain.ErrDuplicateRun.Code {
		t.Fatalf("error = %v, want ErrDuplicateRun", err)
	}
}

func TestEngine_FullLifecycle(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	startRun(t, eng, "run-1")

	err := eng.Advance(ctx, "run-1", domain.RunSolved, map[string]any{"optimal_value": 4.5},
		func(_ context.Context, _ *sql.Tx, run *domain.Run) error {
			run.OptimalValue = 4.5
			return nil
		})
	if err != nil {
		t.Fatalf("Advance to solved: %v", err)
	}
	if err := eng.Advance(ctx, "run-1", domain.RunSimulated, nil, nil); err != nil {
		t.Fatalf("Advance to simulated: %v", err)
	}

	run, err := eng.GetState(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if run.Status != domain.RunSimulated {
		t.Errorf("Status = %q, want simulated", run.Status)
	}
	if run.OptimalValue != 4.5 {
		t.Errorf("OptimalValue = %v, want 4.5", run.OptimalValue)
	}
	if run.StateVersion != 3 || run.LastEventSeq != 3 {
		t.Errorf("StateVersion/LastEventSeq = %d/%d, want 3/3", run.StateVersion, run.LastEventSeq)
	}

	events, err := eng.Events(ctx, "run-1", 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	var types []string
	for _, e := range events {
		types = append(types, e.EventType)
	}
	if got := strings.Join(types, ","); got != "run_created,run_solved,run_simulated" {
		t.Errorf("event types = %s", got)
	}
	if !strings.Contains(events[1].PayloadJSON, `"from":"created"`) ||
		!strings.Contains(events[1].PayloadJSON, `"optimal_value":4.5`) {
		t.Errorf("solved payload = %s", events[1].PayloadJSON)
	}
}

func TestEngine_Advance_InvalidTransition(t *testing.T) {
	eng := newTestEngine(t)
	startRun(t, eng, "run-1")

	err := eng.Advance(context.Background(), "run-1", domain.RunSimulated, nil, nil)
	if engineCode(err) != domain.ErrInvalidTransition.Code {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestEngine_Advance_AfterTerminal(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	startRun(t, eng, "run-1")

	if err := eng.Fail(ctx, "run-1", "boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	err := eng.Advance(ctx, "run-1", domain.RunSolved, nil, nil)
	if engineCode(err) != domain.ErrRunAlreadyDone.Code {
		t.Fatalf("error = %v, want ErrRunAlreadyDone", err)
	}

	run, err := eng.GetState(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if run.Status != domain.RunFailed || run.FailureReason != "boom" {
		t.Errorf("run = %+v, want failed with reason boom", run)
	}
}

func TestEngine_Advance_HookErrorRollsBack(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	startRun(t, eng, "run-1")

	hookErr := errors.New("disk full")
	err := eng.Advance(ctx, "run-1", domain.RunSolved, nil,
		func(context.Context, *sql.Tx, *domain.Run) error { return hookErr })
	if !errors.Is(err, hookErr) {
		t.Fatalf("error = %v, want hook error", err)
	}

	run, err := eng.GetState(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if run.Status != domain.RunCreated || run.StateVersion != 1 {
		t.Errorf("run changed after failed hook: %+v", run)
	}
	events, err := eng.Events(ctx, "run-1", 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("got %d events, want 1", len(events))
	}
}

func TestEngine_UnknownRun(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.Advance(ctx, "missing", domain.RunSolved, nil, nil); !errors.Is(err, domain.ErrRunNotFound) {
		t.Errorf("Advance error = %v, want ErrRunNotFound", err)
	}
	if _, err := eng.Events(ctx, "missing", 0); !errors.Is(err, domain.ErrRunNotFound) {
		t.Errorf("Events error = %v, want ErrRunNotFound", err)
	}
}
