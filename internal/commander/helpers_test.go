package commander

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/metorial/agentsched/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := t.TempDir() + "/test.db"
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// fakeAgent is an in-memory AgentConn.
type fakeAgent struct {
	mu       sync.Mutex
	online   bool
	info     *models.AgentInfo
	infoErr  error
	scripts  []string
	execute  func(ctx context.Context, req models.ExecuteRequest) (*models.ExecuteResponse, error)
	requests []models.ExecuteRequest

	infoCalls atomic.Int32
}

func newFakeAgent(hostname string) *fakeAgent {
	return &fakeAgent{
		online: true,
		info: &models.AgentInfo{
			Hostname: hostname,
			OS:       "Linux 6.1",
			Arch:     "x86_64",
			CPU:      "Test CPU",
			RAM:      "8GB",
		},
		scripts: []string{"hello.sh"},
		execute: func(ctx context.Context, req models.ExecuteRequest) (*models.ExecuteResponse, error) {
			return &models.ExecuteResponse{
				ExecutionID: req.ExecutionID,
				Status:      models.ResultSuccess,
				Output:      "ok\n",
			}, nil
		},
	}
}

func (f *fakeAgent) setOnline(v bool) {
	f.mu.Lock()
	f.online = v
	f.mu.Unlock()
}

func (f *fakeAgent) Ping(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeAgent) Info(ctx context.Context) (*models.AgentInfo, error) {
	f.infoCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	info := *f.info
	return &info, nil
}

func (f *fakeAgent) Execute(ctx context.Context, req models.ExecuteRequest) (*models.ExecuteResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	exec := f.execute
	f.mu.Unlock()
	return exec(ctx, req)
}

func (f *fakeAgent) ListScripts(ctx context.Context) ([]string, error) {
	return f.scripts, nil
}

// fakeNetwork dials fake agents by address; unknown addresses are
// unreachable.
type fakeNetwork struct {
	mu     sync.Mutex
	agents map[string]*fakeAgent
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{agents: make(map[string]*fakeAgent)}
}

func (n *fakeNetwork) add(address string, agent *fakeAgent) *fakeAgent {
	n.mu.Lock()
	n.agents[address] = agent
	n.mu.Unlock()
	return agent
}

func (n *fakeNetwork) dial(address string) AgentConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	if agent, ok := n.agents[address]; ok {
		return agent
	}
	return unreachableAgent{}
}

var errNoRoute = errors.New("connect: connection refused")

type unreachableAgent struct{}

func (unreachableAgent) Ping(context.Context) bool { return false }
func (unreachableAgent) Info(context.Context) (*models.AgentInfo, error) {
	return nil, errNoRoute
}
func (unreachableAgent) Execute(context.Context, models.ExecuteRequest) (*models.ExecuteResponse, error) {
	return nil, errNoRoute
}
func (unreachableAgent) ListScripts(context.Context) ([]string, error) {
	return []string{}, errNoRoute
}

func insertTestAgent(t *testing.T, db *DB, ip string, port int) *models.Agent {
	t.Helper()
	now := time.Now()
	agent := &models.Agent{
		ID:        "agent-" + ip,
		Hostname:  "host-" + ip,
		IP:        ip,
		Port:      port,
		Status:    models.AgentOnline,
		LastSeen:  &now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.InsertAgent(context.Background(), agent); err != nil {
		t.Fatalf("Failed to insert agent: %v", err)
	}
	return agent
}

func insertTestTask(t *testing.T, db *DB, id, agentID, sched string, active bool) *models.Task {
	t.Helper()
	now := time.Now()
	task := &models.Task{
		ID:            id,
		Name:          "task " + id,
		AgentID:       agentID,
		ScriptName:    "hello.sh",
		ScriptContent: "echo hello",
		Parameters:    models.Parameters{"name": "world"},
		Schedule:      sched,
		Active:        active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.InsertTask(context.Background(), task); err != nil {
		t.Fatalf("Failed to insert task: %v", err)
	}
	return task
}

func countRows(t *testing.T, db *DB, table string) int {
	t.Helper()
	var n int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return n
}
