package models

// AgentInfo is the payload of an agent's info query.
type AgentInfo struct {
	Hostname string `json:"hostname"`
	IP       string `json:"ip,omitempty"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	CPU      string `json:"cpu"`
	RAM      string `json:"ram"`
	Status   string `json:"status,omitempty"`
}

type ExecuteRequest struct {
	ScriptName    string     `json:"script_name"`
	ScriptContent string     `json:"script_content"`
	Parameters    Parameters `json:"parameters"`
	ExecutionID   string     `json:"execution_id"`
}

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

type ExecuteResponse struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	Output      string `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
	Duration    int64  `json:"duration"`
}

// AgentStatusReport is returned by an agent's status endpoint.
type AgentStatusReport struct {
	Status       string  `json:"status"`
	Hostname     string  `json:"hostname"`
	Uptime       uint64  `json:"uptime"`
	CPUUsage     float64 `json:"cpu_usage"`
	MemoryUsage  float64 `json:"memory_usage"`
	DiskUsage    float64 `json:"disk_usage"`
	RunningTasks int     `json:"running_tasks"`
	Timestamp    string  `json:"timestamp"`
}
