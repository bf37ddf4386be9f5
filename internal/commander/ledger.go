package commander

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/metorial/agentsched/internal/models"
)

// DefaultExecutionLimit caps execution listings when no limit is given.
const DefaultExecutionLimit = 100

const orphanedMessage = "orphaned: controller stopped before the execution finished"

// Ledger is the durable record of dispatch attempts. A record is created
// running and finalized exactly once.
type Ledger struct {
	db *DB
}

func NewLedger(db *DB) *Ledger {
	return &Ledger{db: db}
}

type ExecutionFilter struct {
	TaskID string
	Limit  int
}

const executionSelect = `SELECT e.id, e.task_id, COALESCE(t.name, ''), e.agent_id, COALESCE(a.hostname, ''),
	e.status, e.failure_kind, e.output, e.error_message, e.started_at, e.finished_at, e.duration
	FROM task_executions e
	LEFT JOIN tasks t ON t.id = e.task_id
	LEFT JOIN agents a ON a.id = e.agent_id`

func scanExecution(row rowScanner) (*models.Execution, error) {
	var e models.Execution
	var finishedAt sql.NullTime
	var duration sql.NullInt64
	err := row.Scan(&e.ID, &e.TaskID, &e.TaskName, &e.AgentID, &e.AgentHostname,
		&e.Status, &e.FailureKind, &e.Output, &e.ErrorMessage, &e.StartedAt, &finishedAt, &duration)
	if err != nil {
		return nil, err
	}
	e.FinishedAt = timePtr(finishedAt)
	if duration.Valid {
		ms := duration.Int64
		e.DurationMs = &ms
	}
	return &e, nil
}

// Create inserts exec in the running state. It must be called before any
// network call for the attempt is made.
func (l *Ledger) Create(ctx context.Context, exec *models.Execution) error {
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now()
	}
	exec.Status = models.ExecutionRunning
	exec.FailureKind = models.FailureNone
	exec.FinishedAt = nil
	exec.DurationMs = nil

	query := `INSERT INTO task_executions (id, task_id, agent_id, status, started_at)
	          VALUES (?, ?, ?, ?, ?)`
	_, err := l.db.conn.ExecContext(ctx, query, exec.ID, exec.TaskID, exec.AgentID,
		exec.Status, exec.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// Finalize writes the terminal fields of a running execution. The update is
// conditional on the record still being running, so the first terminal
// write wins and later ones fail with ErrAlreadyFinalized.
func (l *Ledger) Finalize(ctx context.Context, id string, outcome models.Outcome) (*models.Execution, error) {
	if !outcome.Status.Terminal() {
		return nil, fmt.Errorf("%w: finalize status %q is not terminal", ErrInvalidInput, outcome.Status)
	}

	finished := time.Now().UTC()
	query := `UPDATE task_executions
	          SET status = ?, failure_kind = ?, output = ?, error_message = ?, finished_at = ?, duration = ?
	          WHERE id = ? AND finished_at IS NULL`
	res, err := l.db.conn.ExecContext(ctx, query, outcome.Status, outcome.FailureKind,
		outcome.Output, outcome.Error, finished, outcome.Duration.Milliseconds(), id)
	if err != nil {
		return nil, fmt.Errorf("finalize execution: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := l.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrAlreadyFinalized, id)
	}

	return l.Get(ctx, id)
}

func (l *Ledger) Get(ctx context.Context, id string) (*models.Execution, error) {
	e, err := scanExecution(l.db.conn.QueryRowContext(ctx, executionSelect+` WHERE e.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	return e, err
}

// List returns executions newest first.
func (l *Ledger) List(ctx context.Context, filter ExecutionFilter) ([]models.Execution, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultExecutionLimit
	}

	query := executionSelect
	var args []any
	if filter.TaskID != "" {
		query += ` WHERE e.task_id = ?`
		args = append(args, filter.TaskID)
	}
	query += ` ORDER BY e.started_at DESC, e.id LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	execs := []models.Execution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *e)
	}
	return execs, rows.Err()
}

// SweepOrphaned fails running executions started more than olderThan ago.
// They were left behind by a controller that stopped mid-dispatch.
func (l *Ledger) SweepOrphaned(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := time.Now().UTC()
	query := `UPDATE task_executions
	          SET status = ?, failure_kind = ?, error_message = ?, finished_at = ?,
	              duration = CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER)
	          WHERE finished_at IS NULL AND started_at < ?`
	res, err := l.db.conn.ExecContext(ctx, query, models.ExecutionFailed, models.FailureOrphaned,
		orphanedMessage, now, now, now.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("sweep orphaned executions: %w", err)
	}
	return res.RowsAffected()
}
