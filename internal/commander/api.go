package commander

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/metorial/agentsched/internal/models"
	"github.com/metorial/agentsched/internal/schedule"
)

type API struct {
	db         *DB
	registry   *Registry
	tasks      *Tasks
	library    *Library
	ledger     *Ledger
	dispatcher *Dispatcher
	scheduler  *Scheduler
}

func NewAPI(db *DB, registry *Registry, tasks *Tasks, library *Library, ledger *Ledger,
	dispatcher *Dispatcher, scheduler *Scheduler) *API {
	return &API{
		db:         db,
		registry:   registry,
		tasks:      tasks,
		library:    library,
		ledger:     ledger,
		dispatcher: dispatcher,
		scheduler:  scheduler,
	}
}

func (api *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/health", api.handleHealth)
	mux.HandleFunc("/api/v1/agents", api.handleAgents)
	mux.HandleFunc("/api/v1/agents/", api.handleAgent)
	mux.HandleFunc("/api/v1/tasks", api.handleTasks)
	mux.HandleFunc("/api/v1/tasks/", api.handleTask)
	mux.HandleFunc("/api/v1/executions", api.handleExecutions)
	mux.HandleFunc("/api/v1/executions/", api.handleExecution)
	mux.HandleFunc("/api/v1/scripts", api.handleScripts)
	mux.HandleFunc("/api/v1/scripts/", api.handleScript)
}

func (api *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := api.db.Ping(r.Context()); err != nil {
		http.Error(w, fmt.Sprintf("Database unhealthy: %v", err), http.StatusServiceUnavailable)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"database": "connected",
	})
}

// Agents

func (api *API) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		agents, err := api.registry.List(r.Context())
		if err != nil {
			respondError(w, "list agents", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"agents": agents,
			"count":  len(agents),
		})
	case http.MethodPost:
		api.registerAgent(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (api *API) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
		IP      string `json:"ip"`
		Port    int    `json:"port"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	address := req.Address
	if address == "" && req.IP != "" {
		address = req.IP
		if req.Port != 0 {
			address = net.JoinHostPort(req.IP, strconv.Itoa(req.Port))
		}
	}
	if address == "" {
		http.Error(w, "Address or IP is required", http.StatusBadRequest)
		return
	}

	agent, err := api.registry.Register(r.Context(), address)
	if err != nil {
		respondError(w, "register agent", err)
		return
	}
	respondJSON(w, http.StatusCreated, agent)
}

func (api *API) handleAgent(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(r.URL.Path[len("/api/v1/agents/"):], "/")
	agentID, action, _ := strings.Cut(rest, "/")
	if agentID == "" {
		http.Error(w, "Agent ID required", http.StatusBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		agent, err := api.registry.Get(r.Context(), agentID)
		if err != nil {
			respondError(w, "get agent", err)
			return
		}
		respondJSON(w, http.StatusOK, agent)

	case action == "" && r.Method == http.MethodDelete:
		if err := api.registry.Remove(r.Context(), agentID); err != nil {
			respondError(w, "remove agent", err)
			return
		}
		if api.scheduler != nil {
			api.scheduler.Reload()
		}
		respondJSON(w, http.StatusOK, map[string]string{
			"message": "Agent deleted successfully",
		})

	case action == "ping" && r.Method == http.MethodPost:
		agent, err := api.registry.RefreshStatus(r.Context(), agentID)
		if err != nil {
			respondError(w, "ping agent", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"status": agent.Status,
			"online": agent.Status == models.AgentOnline,
			"agent":  agent,
		})

	case action == "scripts" && r.Method == http.MethodGet:
		scripts, err := api.registry.AgentScripts(r.Context(), agentID)
		if err != nil && errors.Is(err, ErrAgentNotFound) {
			respondError(w, "list agent scripts", err)
			return
		}
		if err != nil {
			log.Printf("Error listing scripts on agent %s: %v", agentID, err)
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"scripts": scripts,
			"count":   len(scripts),
		})

	case action == "" || action == "ping" || action == "scripts":
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)

	default:
		http.NotFound(w, r)
	}
}

// Tasks

func (api *API) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks, err := api.tasks.List(r.Context())
		if err != nil {
			respondError(w, "list tasks", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"tasks": tasks,
			"count": len(tasks),
		})
	case http.MethodPost:
		var def models.TaskDefinition
		if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		task, err := api.tasks.Create(r.Context(), def)
		if err != nil {
			respondError(w, "create task", err)
			return
		}
		respondJSON(w, http.StatusCreated, task)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (api *API) handleTask(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(r.URL.Path[len("/api/v1/tasks/"):], "/")
	if rest == "upcoming" {
		api.handleUpcoming(w, r)
		return
	}

	taskID, action, _ := strings.Cut(rest, "/")
	if taskID == "" {
		http.Error(w, "Task ID required", http.StatusBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		task, err := api.tasks.Get(r.Context(), taskID)
		if err != nil {
			respondError(w, "get task", err)
			return
		}
		respondJSON(w, http.StatusOK, task)

	case action == "" && r.Method == http.MethodDelete:
		if err := api.tasks.Delete(r.Context(), taskID); err != nil {
			respondError(w, "delete task", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{
			"message": "Task deleted successfully",
		})

	case action == "execute" && r.Method == http.MethodPost:
		exec, err := api.dispatcher.Execute(r.Context(), taskID)
		if err != nil {
			respondError(w, "execute task", err)
			return
		}
		respondJSON(w, http.StatusOK, exec)

	case action == "" || action == "execute":
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)

	default:
		http.NotFound(w, r)
	}
}

func (api *API) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := queryLimit(r, DefaultUpcomingLimit)
	upcoming, err := api.scheduler.Upcoming(r.Context(), time.Now(), limit)
	if err != nil {
		respondError(w, "rank upcoming tasks", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"upcoming": upcoming,
		"count":    len(upcoming),
	})
}

// Executions

func (api *API) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	execs, err := api.ledger.List(r.Context(), ExecutionFilter{
		TaskID: r.URL.Query().Get("task_id"),
		Limit:  queryLimit(r, DefaultExecutionLimit),
	})
	if err != nil {
		respondError(w, "list executions", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"executions": execs,
		"count":      len(execs),
	})
}

func (api *API) handleExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	execID := strings.Trim(r.URL.Path[len("/api/v1/executions/"):], "/")
	if execID == "" {
		http.Error(w, "Execution ID required", http.StatusBadRequest)
		return
	}

	exec, err := api.ledger.Get(r.Context(), execID)
	if err != nil {
		respondError(w, "get execution", err)
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

// Scripts

func (api *API) handleScripts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		scripts, err := api.library.List(r.Context())
		if err != nil {
			respondError(w, "list scripts", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"scripts": scripts,
			"count":   len(scripts),
		})
	case http.MethodPost:
		var req models.Script
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		script, err := api.library.Create(r.Context(), req)
		if err != nil {
			respondError(w, "create script", err)
			return
		}
		respondJSON(w, http.StatusCreated, script)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (api *API) handleScript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	scriptID := strings.Trim(r.URL.Path[len("/api/v1/scripts/"):], "/")
	if scriptID == "" {
		http.Error(w, "Script ID required", http.StatusBadRequest)
		return
	}

	script, err := api.library.Get(r.Context(), scriptID)
	if err != nil {
		respondError(w, "get script", err)
		return
	}
	respondJSON(w, http.StatusOK, script)
}

func queryLimit(r *http.Request, fallback int) int {
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			return l
		}
	}
	return fallback
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrAgentNotFound), errors.Is(err, ErrTaskNotFound),
		errors.Is(err, ErrExecutionNotFound), errors.Is(err, ErrScriptNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateAgent), errors.Is(err, ErrDuplicateScript),
		errors.Is(err, ErrTaskBusy), errors.Is(err, ErrAlreadyFinalized):
		return http.StatusConflict
	case errors.Is(err, ErrHandshakeFailure):
		return http.StatusBadGateway
	case errors.Is(err, ErrInvalidInput), errors.Is(err, schedule.ErrInvalidSchedule),
		errors.Is(err, models.ErrInvalidParameters):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("Error in %s: %v", op, err)
		respondJSON(w, status, map[string]string{"error": "Internal server error"})
		return
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
