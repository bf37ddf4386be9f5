package commander

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/metorial/agentsched/internal/models"
	"github.com/metorial/agentsched/internal/schedule"
)

// Tasks creates, lists and deletes task definitions. Tasks are never
// partially updated.
type Tasks struct {
	db *DB

	// changed is called after a task is created or deleted.
	changed func()
}

func NewTasks(db *DB) *Tasks {
	return &Tasks{db: db}
}

// OnChange registers fn to run after every create or delete.
func (t *Tasks) OnChange(fn func()) {
	t.changed = fn
}

func (t *Tasks) notify() {
	if t.changed != nil {
		t.changed()
	}
}

// Create validates def and stores a new task. When def names a script
// template, empty script fields are taken from it and its parameters act as
// defaults.
func (t *Tasks) Create(ctx context.Context, def models.TaskDefinition) (*models.Task, error) {
	params := map[string]any{}

	if def.TemplateID != "" {
		tmpl, err := t.db.GetScript(ctx, def.TemplateID)
		if errors.Is(err, ErrScriptNotFound) {
			tmpl, err = t.db.GetScriptByName(ctx, def.TemplateID)
		}
		if err != nil {
			return nil, err
		}
		if def.ScriptName == "" {
			def.ScriptName = tmpl.Name
		}
		if def.ScriptContent == "" {
			def.ScriptContent = tmpl.Content
		}
		maps.Copy(params, tmpl.Parameters)
	}
	maps.Copy(params, def.Parameters)

	def.Name = strings.TrimSpace(def.Name)
	def.Schedule = strings.TrimSpace(def.Schedule)
	if def.Name == "" || def.AgentID == "" || def.ScriptName == "" {
		return nil, fmt.Errorf("%w: name, agent_id and script_name are required", ErrInvalidInput)
	}

	if def.Schedule != "" {
		sched, err := schedule.Parse(def.Schedule)
		if err != nil {
			return nil, err
		}
		if _, err := sched.Next(time.Now()); err != nil {
			return nil, fmt.Errorf("%w: %w", schedule.ErrInvalidSchedule, err)
		}
	}

	normalized, err := models.NormalizeParameters(params)
	if err != nil {
		return nil, err
	}

	agent, err := t.db.GetAgent(ctx, def.AgentID)
	if err != nil {
		return nil, err
	}

	active := true
	if def.Active != nil {
		active = *def.Active
	}

	now := time.Now()
	task := &models.Task{
		ID:            uuid.New().String(),
		Name:          def.Name,
		Description:   def.Description,
		AgentID:       agent.ID,
		AgentHostname: agent.Hostname,
		ScriptName:    def.ScriptName,
		ScriptContent: def.ScriptContent,
		Parameters:    normalized,
		Schedule:      def.Schedule,
		Active:        active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := t.db.InsertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	t.notify()
	return task, nil
}

func (t *Tasks) Get(ctx context.Context, id string) (*models.Task, error) {
	return t.db.GetTask(ctx, id)
}

func (t *Tasks) List(ctx context.Context) ([]models.Task, error) {
	return t.db.ListTasks(ctx)
}

// Delete removes the task and its executions.
func (t *Tasks) Delete(ctx context.Context, id string) error {
	if err := t.db.DeleteTask(ctx, id); err != nil {
		return err
	}
	t.notify()
	return nil
}
