package commander

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/metorial/agentsched/internal/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type DB struct {
	conn *sql.DB
}

const pragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate&_time_format=sqlite"

func NewDB(path string) (*DB, error) {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&" + pragmas
	} else {
		dsn += "?" + pragmas
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		hostname TEXT NOT NULL,
		ip TEXT NOT NULL,
		port INTEGER NOT NULL DEFAULT 5000,
		status TEXT NOT NULL DEFAULT 'offline',
		os TEXT NOT NULL DEFAULT '',
		arch TEXT NOT NULL DEFAULT '',
		cpu TEXT NOT NULL DEFAULT '',
		ram TEXT NOT NULL DEFAULT '',
		last_seen TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (ip, port)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		agent_id TEXT NOT NULL,
		script_name TEXT NOT NULL,
		script_content TEXT NOT NULL DEFAULT '',
		parameters TEXT NOT NULL DEFAULT '',
		schedule TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_agent_id ON tasks(agent_id);

	CREATE TABLE IF NOT EXISTS task_executions (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		status TEXT NOT NULL,
		failure_kind TEXT NOT NULL DEFAULT '',
		output TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		duration INTEGER,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE,
		FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_executions_task_id ON task_executions(task_id);
	CREATE INDEX IF NOT EXISTS idx_task_executions_started_at ON task_executions(started_at);
	CREATE INDEX IF NOT EXISTS idx_task_executions_status ON task_executions(status);

	CREATE TABLE IF NOT EXISTS scripts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		type TEXT NOT NULL,
		parameters TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// Agents

const agentColumns = `id, hostname, ip, port, status, os, arch, cpu, ram, last_seen, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	var a models.Agent
	var lastSeen sql.NullTime
	err := row.Scan(&a.ID, &a.Hostname, &a.IP, &a.Port, &a.Status, &a.OS, &a.Arch,
		&a.CPU, &a.RAM, &lastSeen, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.LastSeen = timePtr(lastSeen)
	return &a, nil
}

func (db *DB) InsertAgent(ctx context.Context, a *models.Agent) error {
	query := `INSERT INTO agents (` + agentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query, a.ID, a.Hostname, a.IP, a.Port, a.Status,
		a.OS, a.Arch, a.CPU, a.RAM, nullTime(a.LastSeen), a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, a.Address())
	}
	return err
}

func (db *DB) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return a, err
}

// FindAgentByAddress returns the agent registered at ip and port, or nil.
func (db *DB) FindAgentByAddress(ctx context.Context, ip string, port int) (*models.Agent, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE ip = ? AND port = ?`, ip, port)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (db *DB) ListAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY hostname, ip, port`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := []models.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (db *DB) CountAgents(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&n)
	return n, err
}

// UpdateAgentStatus records the outcome of a liveness check. last_seen is
// only moved forward when seen is non-nil.
func (db *DB) UpdateAgentStatus(ctx context.Context, id string, status models.AgentStatus, seen *time.Time) error {
	now := time.Now().UTC()
	var res sql.Result
	var err error
	if seen != nil {
		res, err = db.conn.ExecContext(ctx,
			`UPDATE agents SET status = ?, last_seen = ?, updated_at = ? WHERE id = ?`,
			status, seen.UTC(), now, id)
	} else {
		res, err = db.conn.ExecContext(ctx,
			`UPDATE agents SET status = ?, updated_at = ? WHERE id = ?`,
			status, now, id)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return nil
}

// DeleteAgent removes the agent, its tasks and their executions in one
// transaction.
func (db *DB) DeleteAgent(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM task_executions WHERE agent_id = ? OR task_id IN (SELECT id FROM tasks WHERE agent_id = ?)`,
		id, id); err != nil {
		return fmt.Errorf("delete executions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE agent_id = ?`, id); err != nil {
		return fmt.Errorf("delete tasks: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}

	return tx.Commit()
}

// Tasks

const taskSelect = `SELECT t.id, t.name, t.description, t.agent_id, COALESCE(a.hostname, ''),
	t.script_name, t.script_content, t.parameters, t.schedule, t.active, t.created_at, t.updated_at
	FROM tasks t LEFT JOIN agents a ON a.id = t.agent_id`

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.AgentID, &t.AgentHostname,
		&t.ScriptName, &t.ScriptContent, &t.Parameters, &t.Schedule, &t.Active,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (db *DB) InsertTask(ctx context.Context, t *models.Task) error {
	query := `INSERT INTO tasks (id, name, description, agent_id, script_name, script_content,
	          parameters, schedule, active, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query, t.ID, t.Name, t.Description, t.AgentID,
		t.ScriptName, t.ScriptContent, t.Parameters, t.Schedule, t.Active,
		t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	return err
}

func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanTask(db.conn.QueryRowContext(ctx, taskSelect+` WHERE t.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t, err
}

func (db *DB) ListTasks(ctx context.Context) ([]models.Task, error) {
	return db.queryTasks(ctx, taskSelect+` ORDER BY t.created_at DESC, t.id`)
}

// ListScheduledTasks returns active tasks with a non-empty schedule.
func (db *DB) ListScheduledTasks(ctx context.Context) ([]models.Task, error) {
	return db.queryTasks(ctx, taskSelect+` WHERE t.active = 1 AND TRIM(t.schedule) != '' ORDER BY t.id`)
}

func (db *DB) queryTasks(ctx context.Context, query string, args ...any) ([]models.Task, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// DeleteTask removes the task and its executions.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_executions WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("delete executions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	return tx.Commit()
}

// Scripts

const scriptColumns = `id, name, description, content, type, parameters, created_at`

func scanScript(row rowScanner) (*models.Script, error) {
	var s models.Script
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.Content, &s.Type, &s.Parameters, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (db *DB) InsertScript(ctx context.Context, s *models.Script) error {
	query := `INSERT INTO scripts (id, name, description, content, type, parameters, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query, s.ID, s.Name, s.Description, s.Content, s.Type,
		s.Parameters, s.CreatedAt.UTC(), s.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateScript, s.Name)
	}
	return err
}

func (db *DB) GetScript(ctx context.Context, id string) (*models.Script, error) {
	s, err := scanScript(db.conn.QueryRowContext(ctx, `SELECT `+scriptColumns+` FROM scripts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, id)
	}
	return s, err
}

func (db *DB) GetScriptByName(ctx context.Context, name string) (*models.Script, error) {
	s, err := scanScript(db.conn.QueryRowContext(ctx, `SELECT `+scriptColumns+` FROM scripts WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrScriptNotFound, name)
	}
	return s, err
}

func (db *DB) ListScripts(ctx context.Context) ([]models.Script, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+scriptColumns+` FROM scripts ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scripts := []models.Script{}
	for rows.Next() {
		s, err := scanScript(rows)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, *s)
	}
	return scripts, rows.Err()
}
