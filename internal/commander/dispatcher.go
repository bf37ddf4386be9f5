package commander

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/metorial/agentsched/internal/models"
)

// Dispatcher turns a task into one recorded execution attempt on its agent.
type Dispatcher struct {
	db     *DB
	ledger *Ledger
	dial   DialFunc

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewDispatcher(db *DB, ledger *Ledger, dial DialFunc) *Dispatcher {
	return &Dispatcher{
		db:       db,
		ledger:   ledger,
		dial:     dial,
		inflight: make(map[string]struct{}),
	}
}

// Execute runs the task once and returns its finalized execution record.
// Only lookup failures, ErrTaskBusy and store failures are returned as
// errors; anything that goes wrong talking to the agent is recorded on the
// execution instead.
func (d *Dispatcher) Execute(ctx context.Context, taskID string) (*models.Execution, error) {
	task, err := d.db.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	agent, err := d.db.GetAgent(ctx, task.AgentID)
	if err != nil {
		return nil, err
	}

	if !d.acquire(task.ID) {
		return nil, fmt.Errorf("%w: %s", ErrTaskBusy, task.ID)
	}
	defer d.release(task.ID)

	exec := &models.Execution{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		AgentID:   agent.ID,
		StartedAt: time.Now(),
	}
	if err := d.ledger.Create(ctx, exec); err != nil {
		return nil, err
	}

	req := models.ExecuteRequest{
		ScriptName:    task.ScriptName,
		ScriptContent: task.ScriptContent,
		Parameters:    task.Parameters,
		ExecutionID:   exec.ID,
	}

	start := time.Now()
	resp, callErr := d.dial(agent.Address()).Execute(ctx, req)
	outcome := classify(resp, callErr, time.Since(start))

	// The record is finalized even when the caller has gone away.
	final, err := d.ledger.Finalize(context.WithoutCancel(ctx), exec.ID, outcome)
	if err != nil {
		return nil, fmt.Errorf("finalize execution %s: %w", exec.ID, err)
	}

	log.Printf("Task %s (%s) on %s finished: %s %s", task.Name, task.ID, agent.Hostname,
		final.Status, final.FailureKind)
	return final, nil
}

// InFlight reports whether a dispatch of taskID is running.
func (d *Dispatcher) InFlight(taskID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[taskID]
	return ok
}

func (d *Dispatcher) acquire(taskID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[taskID]; busy {
		return false
	}
	d.inflight[taskID] = struct{}{}
	return true
}

func (d *Dispatcher) release(taskID string) {
	d.mu.Lock()
	delete(d.inflight, taskID)
	d.mu.Unlock()
}

func classify(resp *models.ExecuteResponse, err error, elapsed time.Duration) models.Outcome {
	if err != nil || resp == nil {
		detail := "no response from agent"
		if err != nil {
			detail = err.Error()
		}
		return models.Outcome{
			Status:      models.ExecutionFailed,
			FailureKind: models.FailureCommunication,
			Error:       "communication failure: " + detail,
			Duration:    elapsed,
		}
	}

	if resp.Status == models.ResultSuccess {
		return models.Outcome{
			Status:   models.ExecutionSuccess,
			Output:   resp.Output,
			Duration: elapsed,
		}
	}

	msg := resp.Error
	if msg == "" {
		msg = "agent reported failure"
	}
	return models.Outcome{
		Status:      models.ExecutionFailed,
		FailureKind: models.FailureAgent,
		Output:      resp.Output,
		Error:       msg,
		Duration:    elapsed,
	}
}
