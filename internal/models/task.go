package models

import "time"

type Task struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	AgentID       string     `json:"agent_id"`
	AgentHostname string     `json:"agent_hostname,omitempty"`
	ScriptName    string     `json:"script_name"`
	ScriptContent string     `json:"script_content"`
	Parameters    Parameters `json:"parameters"`
	Schedule      string     `json:"schedule"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Scheduled reports whether the task takes part in automatic firing.
// A task with an empty schedule is manual-only.
func (t *Task) Scheduled() bool {
	return t.Active && t.Schedule != ""
}

// TaskDefinition is the input to task creation. When TemplateID names a
// script template, empty script fields are filled from it.
type TaskDefinition struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	AgentID       string         `json:"agent_id"`
	ScriptName    string         `json:"script_name"`
	ScriptContent string         `json:"script_content"`
	Parameters    map[string]any `json:"parameters"`
	Schedule      string         `json:"schedule"`
	Active        *bool          `json:"active"`
	TemplateID    string         `json:"template_id,omitempty"`
}

// UpcomingTask is one entry of the next-due ranking.
type UpcomingTask struct {
	TaskID    string    `json:"task_id"`
	Name      string    `json:"name"`
	Agent     string    `json:"agent"`
	Schedule  string    `json:"schedule"`
	NextRun   time.Time `json:"next_run"`
	TimeUntil string    `json:"time_until"`
}
