package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/metorial/agentsched/internal/models"
)

// Server exposes the agent protocol over HTTP.
type Server struct {
	echo     *echo.Echo
	facts    *Facts
	executor *Executor
}

func NewServer(facts *Facts, executor *Executor) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	s := &Server{echo: e, facts: facts, executor: executor}
	e.GET("/ping", s.handlePing)
	e.GET("/info", s.handleInfo)
	e.GET("/status", s.handleStatus)
	e.GET("/scripts", s.handleScripts)
	e.POST("/execute", s.handleExecute)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	log.Printf("Agent listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handlePing(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, s.facts.Info(c.Request().Context()))
}

func (s *Server) handleStatus(c echo.Context) error {
	report, err := s.facts.Status(c.Request().Context(), s.executor.Running())
	if err != nil {
		log.Printf("Error collecting status: %v", err)
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":        string(models.AgentOnline),
			"hostname":      s.facts.Hostname(),
			"running_tasks": s.executor.Running(),
			"error":         err.Error(),
			"timestamp":     time.Now().Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleScripts(c echo.Context) error {
	names, err := s.executor.ListScripts()
	if err != nil {
		log.Printf("Error listing scripts: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list scripts"})
	}
	return c.JSON(http.StatusOK, names)
}

func (s *Server) handleExecute(c echo.Context) error {
	var req models.ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if req.ScriptName == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Missing required field: script_name"})
	}
	if req.ExecutionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Missing required field: execution_id"})
	}

	content := req.ScriptContent
	if content == "" {
		loaded, err := s.executor.LoadScript(req.ScriptName)
		if errors.Is(err, ErrScriptNotFound) {
			return c.JSON(http.StatusNotFound, &models.ExecuteResponse{
				ExecutionID: req.ExecutionID,
				Status:      models.ResultError,
				Error:       fmt.Sprintf("Script '%s' not found and no content provided", req.ScriptName),
			})
		}
		if err != nil {
			log.Printf("Error loading script %s: %v", req.ScriptName, err)
			return c.JSON(http.StatusInternalServerError, &models.ExecuteResponse{
				ExecutionID: req.ExecutionID,
				Status:      models.ResultError,
				Error:       err.Error(),
			})
		}
		content = loaded
	}

	log.Printf("Executing %s (execution %s)", req.ScriptName, req.ExecutionID)
	resp := s.executor.Run(c.Request().Context(), req.ScriptName, content, req.Parameters, req.ExecutionID)
	log.Printf("Execution %s finished: %s in %dms", req.ExecutionID, resp.Status, resp.Duration)

	return c.JSON(http.StatusOK, resp)
}
