package commander

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/metorial/agentsched/internal/models"
)

func setupLedger(t *testing.T) (*DB, *Ledger, *models.Agent) {
	t.Helper()
	db := setupTestDB(t)
	agent := insertTestAgent(t, db, "10.0.0.1", 5000)
	insertTestTask(t, db, "t1", agent.ID, "", true)
	insertTestTask(t, db, "t2", agent.ID, "", true)
	return db, NewLedger(db), agent
}

func TestLedgerCreateIsRunning(t *testing.T) {
	_, ledger, agent := setupLedger(t)
	ctx := context.Background()

	exec := &models.Execution{ID: "e1", TaskID: "t1", AgentID: agent.ID}
	if err := ledger.Create(ctx, exec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := ledger.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != models.ExecutionRunning {
		t.Errorf("Expected running, got %s", got.Status)
	}
	if got.FinishedAt != nil || got.DurationMs != nil {
		t.Errorf("Expected no terminal fields on a running execution, got %+v", got)
	}
	if got.TaskName != "task t1" || got.AgentHostname != agent.Hostname {
		t.Errorf("Expected joined task and agent names, got %q / %q", got.TaskName, got.AgentHostname)
	}
}

func TestLedgerFinalize(t *testing.T) {
	_, ledger, agent := setupLedger(t)
	ctx := context.Background()

	if err := ledger.Create(ctx, &models.Execution{ID: "e1", TaskID: "t1", AgentID: agent.ID}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := ledger.Finalize(ctx, "e1", models.Outcome{
		Status:   models.ExecutionSuccess,
		Output:   "hello\n",
		Duration: 1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if got.Status != models.ExecutionSuccess || got.Output != "hello\n" {
		t.Errorf("Unexpected execution: %+v", got)
	}
	if got.FinishedAt == nil || got.FinishedAt.Before(got.StartedAt) {
		t.Errorf("Expected finished_at after started_at, got %v / %v", got.FinishedAt, got.StartedAt)
	}
	if got.DurationMs == nil || *got.DurationMs != 1500 {
		t.Errorf("Expected duration 1500ms, got %v", got.DurationMs)
	}
}

func TestLedgerSecondFinalizeRejected(t *testing.T) {
	_, ledger, agent := setupLedger(t)
	ctx := context.Background()

	if err := ledger.Create(ctx, &models.Execution{ID: "e1", TaskID: "t1", AgentID: agent.ID}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	first, err := ledger.Finalize(ctx, "e1", models.Outcome{
		Status:      models.ExecutionFailed,
		FailureKind: models.FailureAgent,
		Error:       "exit status 1",
		Duration:    20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("First finalize failed: %v", err)
	}

	_, err = ledger.Finalize(ctx, "e1", models.Outcome{
		Status:   models.ExecutionSuccess,
		Output:   "overwritten",
		Duration: time.Hour,
	})
	if !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("Expected ErrAlreadyFinalized, got %v", err)
	}

	after, err := ledger.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if after.Status != first.Status || after.Output != first.Output || after.ErrorMessage != first.ErrorMessage ||
		after.FailureKind != first.FailureKind || *after.DurationMs != *first.DurationMs ||
		!after.FinishedAt.Equal(*first.FinishedAt) {
		t.Errorf("First terminal record was modified:\nfirst %+v\nafter %+v", first, after)
	}
}

func TestLedgerConcurrentFinalizeOneWinner(t *testing.T) {
	_, ledger, agent := setupLedger(t)
	ctx := context.Background()

	if err := ledger.Create(ctx, &models.Execution{ID: "e1", TaskID: "t1", AgentID: agent.ID}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.Finalize(ctx, "e1", models.Outcome{
				Status: models.ExecutionSuccess,
				Output: fmt.Sprintf("writer %d", i),
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyFinalized):
		default:
			t.Errorf("Unexpected finalize error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("Expected exactly one successful finalize, got %d", wins)
	}
}

func TestLedgerFinalizeErrors(t *testing.T) {
	_, ledger, agent := setupLedger(t)
	ctx := context.Background()

	_, err := ledger.Finalize(ctx, "missing", models.Outcome{Status: models.ExecutionSuccess})
	if !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("Expected ErrExecutionNotFound, got %v", err)
	}

	if err := ledger.Create(ctx, &models.Execution{ID: "e1", TaskID: "t1", AgentID: agent.ID}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err = ledger.Finalize(ctx, "e1", models.Outcome{Status: models.ExecutionRunning})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for a non-terminal status, got %v", err)
	}

	got, _ := ledger.Get(ctx, "e1")
	if got.Status != models.ExecutionRunning {
		t.Errorf("Expected execution to remain running, got %s", got.Status)
	}
}

func TestLedgerList(t *testing.T) {
	_, ledger, agent := setupLedger(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		taskID := "t1"
		if i%2 == 1 {
			taskID = "t2"
		}
		exec := &models.Execution{
			ID:        fmt.Sprintf("e%d", i),
			TaskID:    taskID,
			AgentID:   agent.ID,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := ledger.Create(ctx, exec); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	all, err := ledger.List(ctx, ExecutionFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 5 || all[0].ID != "e4" || all[4].ID != "e0" {
		t.Errorf("Expected newest first, got %v", executionIDs(all))
	}

	byTask, err := ledger.List(ctx, ExecutionFilter{TaskID: "t2"})
	if err != nil {
		t.Fatalf("List by task failed: %v", err)
	}
	if len(byTask) != 2 || byTask[0].ID != "e3" || byTask[1].ID != "e1" {
		t.Errorf("Expected e3, e1 for t2, got %v", executionIDs(byTask))
	}

	limited, err := ledger.List(ctx, ExecutionFilter{Limit: 2})
	if err != nil {
		t.Fatalf("List with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected 2 executions, got %d", len(limited))
	}
}

func TestLedgerSweepOrphaned(t *testing.T) {
	_, ledger, agent := setupLedger(t)
	ctx := context.Background()

	old := &models.Execution{ID: "old", TaskID: "t1", AgentID: agent.ID, StartedAt: time.Now().Add(-10 * time.Minute)}
	fresh := &models.Execution{ID: "fresh", TaskID: "t1", AgentID: agent.ID}
	done := &models.Execution{ID: "done", TaskID: "t2", AgentID: agent.ID, StartedAt: time.Now().Add(-time.Hour)}
	for _, e := range []*models.Execution{old, fresh, done} {
		if err := ledger.Create(ctx, e); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	if _, err := ledger.Finalize(ctx, "done", models.Outcome{Status: models.ExecutionSuccess}); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	n, err := ledger.SweepOrphaned(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("SweepOrphaned failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 orphan swept, got %d", n)
	}

	got, _ := ledger.Get(ctx, "old")
	if got.Status != models.ExecutionFailed || got.FailureKind != models.FailureOrphaned {
		t.Errorf("Expected old execution failed/orphaned, got %s/%s", got.Status, got.FailureKind)
	}
	if got.ErrorMessage != orphanedMessage || got.FinishedAt == nil {
		t.Errorf("Unexpected orphaned record: %+v", got)
	}
	if got.DurationMs == nil || *got.DurationMs < (10*time.Minute).Milliseconds()-1000 {
		t.Errorf("Expected duration around 10 minutes, got %v", got.DurationMs)
	}

	if got, _ := ledger.Get(ctx, "fresh"); got.Status != models.ExecutionRunning {
		t.Errorf("Expected fresh execution to stay running, got %s", got.Status)
	}
	if got, _ := ledger.Get(ctx, "done"); got.Status != models.ExecutionSuccess {
		t.Errorf("Expected finished execution untouched, got %s", got.Status)
	}

	if _, err := ledger.Finalize(ctx, "old", models.Outcome{Status: models.ExecutionSuccess}); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("Expected late finalize of a swept execution to be rejected, got %v", err)
	}
}

func executionIDs(execs []models.Execution) []string {
	ids := make([]string, len(execs))
	for i, e := range execs {
		ids[i] = e.ID
	}
	return ids
}
