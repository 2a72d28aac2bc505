package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rogersf/backdp/internal/domain"
)

func TestEventRepo_AppendAndList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &EventRepo{}
	now := time.Now().Unix()

	events := []domain.RunEvent{
		{RunID: "run-1", SeqNo: 1, EventType: "run_created", PayloadJSON: "{}", CreatedAt: now},
		{RunID: "run-1", SeqNo: 2, EventType: "run_solved", PayloadJSON: "{}", CreatedAt: now + 1},
		{RunID: "run-2", SeqNo: 1, EventType: "run_created", PayloadJSON: "{}", CreatedAt: now + 2},
	}
	for _, e := range events {
		tx, err := db.Begin()
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := repo.AppendTx(ctx, tx, e); err != nil {
			t.Fatalf("AppendTx seq=%d: %v", e.SeqNo, err)
		}
		tx.Commit()
	}

	got, err := repo.ListByRun(ctx, db, "run-1", 0)
	if err != nil {
		t.Fatalf("ListByRun: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}

	got, err = repo.ListByRun(ctx, db, "run-1", 1)
	if err != nil {
		t.Fatalf("ListByRun sinceSeq=1: %v", err)
	}
	if len(got) != 1 || got[0].EventType != "run_solved" {
		t.Fatalf("since 1: %+v", got)
	}
}

func TestEventRepo_DuplicateSeq(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &EventRepo{}
	ev := domain.RunEvent{RunID: "run-1", SeqNo: 1, EventType: "run_created", PayloadJSON: "{}"}

	tx, _ := db.Begin()
	if err := repo.AppendTx(ctx, tx, ev); err != nil {
		t.Fatalf("AppendTx: %v", err)
	}
	tx.Commit()

	tx, _ = db.Begin()
	defer tx.Rollback()
	err := repo.AppendTx(ctx, tx, ev)
	var engErr *domain.EngineError
	if !errors.As(err, &engErr) || engErr.Code != domain.ErrDuplicateEvent.Code {
		t.Fatalf("error = %v, want ErrDuplicateEvent code", err)
	}
}

func TestPolicyRepo_SaveGetList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &PolicyRepo{}

	entries := []domain.PolicyEntry{
		{RunID: "run-1", Step: 0, StateKey: "2/0", Value: 10.21, Action: 1},
		{RunID: "run-1", Step: 0, StateKey: "1/0", Value: 6.32, Action: 0},
		{RunID: "run-1", Step: 1, StateKey: "2/0", Value: 7.5, Action: 2},
	}
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.SaveTx(ctx, tx, entries); err != nil {
		t.Fatalf("SaveTx: %v", err)
	}
	tx.Commit()

	got, err := repo.Get(ctx, db, "run-1", 0, "2/0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Action != 1 || got.Value != 10.21 {
		t.Errorf("Get = %+v", got)
	}

	if _, err := repo.Get(ctx, db, "run-1", 5, "2/0"); !errors.Is(err, domain.ErrPolicyNotFound) {
		t.Errorf("Get missing step error = %v, want ErrPolicyNotFound", err)
	}

	step0, err := repo.ListByStep(ctx, db, "run-1", 0)
	if err != nil {
		t.Fatalf("ListByStep: %v", err)
	}
	if len(step0) != 2 || step0[0].StateKey != "1/0" {
		t.Errorf("ListByStep = %+v", step0)
	}
}

func TestPolicyRepo_SaveTxRejectsDuplicates(t *testing.T) {
	db := newTestDB(t)
	entry := domain.PolicyEntry{RunID: "run-1", Step: 0, StateKey: "0/0"}

	tx, _ := db.Begin()
	defer tx.Rollback()
	if err := (&PolicyRepo{}).SaveTx(context.Background(), tx, []domain.PolicyEntry{entry, entry}); err == nil {
		t.Fatal("expected primary key violation")
	}
}

func TestPerformanceRepo_SaveAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := &PerformanceRepo{}

	rec := domain.PerformanceRecord{
		RunID: "run-1", Traces: 100, OptimalValue: 10.2, TotalValue: 20,
		Revenue: 10.1, Markdown: 3.1, Salvage: 6.8,
		Remaining: []float64{1.2, 0.68}, Actions: []float64{0.3, 0.5},
		CreatedAt: time.Now().Unix(),
	}
	tx, _ := db.Begin()
	if err := repo.SaveTx(ctx, tx, rec); err != nil {
		t.Fatalf("SaveTx: %v", err)
	}
	tx.Commit()

	got, err := repo.GetByRun(ctx, db, "run-1")
	if err != nil {
		t.Fatalf("GetByRun: %v", err)
	}
	if got == nil {
		t.Fatal("expected record, got nil")
	}
	if got.Revenue != 10.1 || len(got.Remaining) != 2 || got.Remaining[1] != 0.68 || got.Actions[1] != 0.5 {
		t.Errorf("GetByRun = %+v", got)
	}

	missing, err := repo.GetByRun(ctx, db, "run-2")
	if err != nil {
		t.Fatalf("GetByRun missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unsimulated run, got %+v", missing)
	}
}
