package commander

import (
	"context"
	"errors"
	"testing"

	"github.com/metorial/agentsched/internal/models"
	"github.com/metorial/agentsched/internal/schedule"
)

func TestCreateTask(t *testing.T) {
	db := setupTestDB(t)
	agent := insertTestAgent(t, db, "10.0.0.1", 5000)
	tasks := NewTasks(db)

	changes := 0
	tasks.OnChange(func() { changes++ })

	task, err := tasks.Create(context.Background(), models.TaskDefinition{
		Name:          "  nightly backup ",
		AgentID:       agent.ID,
		ScriptName:    "backup.sh",
		ScriptContent: "tar czf /tmp/b.tgz /srv",
		Parameters:    map[string]any{"retention": 7, "verbose": true},
		Schedule:      " 0 2 * * * ",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if task.ID == "" || task.Name != "nightly backup" || task.Schedule != "0 2 * * *" {
		t.Errorf("Unexpected task: %+v", task)
	}
	if !task.Active {
		t.Error("Expected task to default to active")
	}
	if task.Parameters["retention"] != float64(7) || task.Parameters["verbose"] != true {
		t.Errorf("Expected normalized parameters, got %v", task.Parameters)
	}
	if changes != 1 {
		t.Errorf("Expected one change notification, got %d", changes)
	}

	stored, err := tasks.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.AgentHostname != agent.Hostname || stored.Parameters["retention"] != float64(7) {
		t.Errorf("Unexpected stored task: %+v", stored)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	db := setupTestDB(t)
	agent := insertTestAgent(t, db, "10.0.0.1", 5000)
	tasks := NewTasks(db)

	changes := 0
	tasks.OnChange(func() { changes++ })

	valid := models.TaskDefinition{Name: "t", AgentID: agent.ID, ScriptName: "x.sh"}

	tests := []struct {
		name    string
		mutate  func(d *models.TaskDefinition)
		wantErr error
	}{
		{"missing name", func(d *models.TaskDefinition) { d.Name = " " }, ErrInvalidInput},
		{"missing agent", func(d *models.TaskDefinition) { d.AgentID = "" }, ErrInvalidInput},
		{"missing script", func(d *models.TaskDefinition) { d.ScriptName = "" }, ErrInvalidInput},
		{"bad schedule", func(d *models.TaskDefinition) { d.Schedule = "61 * * * *" }, schedule.ErrInvalidSchedule},
		{"four fields", func(d *models.TaskDefinition) { d.Schedule = "* * * *" }, schedule.ErrInvalidSchedule},
		{"never matching schedule", func(d *models.TaskDefinition) { d.Schedule = "0 0 31 2 *" }, schedule.ErrNoMatch},
		{"never matching schedule is invalid", func(d *models.TaskDefinition) { d.Schedule = "0 0 30 2 *" }, schedule.ErrInvalidSchedule},
		{"nested parameter", func(d *models.TaskDefinition) {
			d.Parameters = map[string]any{"list": []any{1, 2}}
		}, models.ErrInvalidParameters},
		{"bad parameter key", func(d *models.TaskDefinition) {
			d.Parameters = map[string]any{"bad-key": "x"}
		}, models.ErrInvalidParameters},
		{"parameter keys differing in case", func(d *models.TaskDefinition) {
			d.Parameters = map[string]any{"foo": 1, "FOO": 2}
		}, models.ErrInvalidParameters},
		{"unknown agent", func(d *models.TaskDefinition) { d.AgentID = "nope" }, ErrAgentNotFound},
		{"unknown template", func(d *models.TaskDefinition) { d.TemplateID = "nope" }, ErrScriptNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := valid
			tt.mutate(&def)
			if _, err := tasks.Create(context.Background(), def); !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if n := countRows(t, db, "tasks"); n != 0 {
		t.Errorf("Expected no tasks after rejected creates, got %d", n)
	}
	if changes != 0 {
		t.Errorf("Expected no change notifications, got %d", changes)
	}
}

func TestCreateTaskManualAndInactive(t *testing.T) {
	db := setupTestDB(t)
	agent := insertTestAgent(t, db, "10.0.0.1", 5000)
	tasks := NewTasks(db)

	inactive := false
	task, err := tasks.Create(context.Background(), models.TaskDefinition{
		Name: "paused", AgentID: agent.ID, ScriptName: "x.sh", Schedule: "* * * * *", Active: &inactive,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if task.Active || task.Scheduled() {
		t.Errorf("Expected inactive task, got %+v", task)
	}

	manual, err := tasks.Create(context.Background(), models.TaskDefinition{
		Name: "manual", AgentID: agent.ID, ScriptName: "x.sh",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if manual.Schedule != "" || manual.Scheduled() {
		t.Errorf("Expected manual-only task, got %+v", manual)
	}
}

func TestCreateTaskFromTemplate(t *testing.T) {
	db := setupTestDB(t)
	agent := insertTestAgent(t, db, "10.0.0.1", 5000)
	library := NewLibrary(db)
	tasks := NewTasks(db)
	ctx := context.Background()

	tmpl, err := library.Create(ctx, models.Script{
		Name:       "disk.sh",
		Content:    "df -h $PARAM_PATH",
		Type:       "bash",
		Parameters: models.Parameters{"path": "/", "human": true},
	})
	if err != nil {
		t.Fatalf("Failed to create template: %v", err)
	}

	byID, err := tasks.Create(ctx, models.TaskDefinition{
		Name:       "disk root",
		AgentID:    agent.ID,
		TemplateID: tmpl.ID,
		Parameters: map[string]any{"path": "/var"},
	})
	if err != nil {
		t.Fatalf("Create from template failed: %v", err)
	}
	if byID.ScriptName != "disk.sh" || byID.ScriptContent != "df -h $PARAM_PATH" {
		t.Errorf("Expected script fields from template, got %+v", byID)
	}
	if byID.Parameters["path"] != "/var" || byID.Parameters["human"] != true {
		t.Errorf("Expected template defaults overridden by task parameters, got %v", byID.Parameters)
	}

	byName, err := tasks.Create(ctx, models.TaskDefinition{
		Name:       "disk custom",
		AgentID:    agent.ID,
		TemplateID: "disk.sh",
		ScriptName: "custom.sh",
	})
	if err != nil {
		t.Fatalf("Create from template name failed: %v", err)
	}
	if byName.ScriptName != "custom.sh" || byName.ScriptContent != tmpl.Content {
		t.Errorf("Expected explicit script name to win, got %+v", byName)
	}
}

func TestDeleteTask(t *testing.T) {
	db := setupTestDB(t)
	agent := insertTestAgent(t, db, "10.0.0.1", 5000)
	insertTestTask(t, db, "t1", agent.ID, "", true)
	tasks := NewTasks(db)
	ctx := context.Background()

	if err := NewLedger(db).Create(ctx, &models.Execution{ID: "e1", TaskID: "t1", AgentID: agent.ID}); err != nil {
		t.Fatalf("Failed to create execution: %v", err)
	}

	changes := 0
	tasks.OnChange(func() { changes++ })

	if err := tasks.Delete(ctx, "t1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n := countRows(t, db, "task_executions"); n != 0 {
		t.Errorf("Expected executions to be removed with the task, got %d", n)
	}
	if err := tasks.Delete(ctx, "t1"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
	if changes != 1 {
		t.Errorf("Expected one change notification, got %d", changes)
	}
}
