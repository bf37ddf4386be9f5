package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/metorial/agentsched/internal/models"
)

// ErrScriptNotFound is returned when a request carries no script content and
// the scripts directory has no file of that name.
var ErrScriptNotFound = errors.New("script not found")

// Executor runs scripts as child processes, one temporary file per run.
type Executor struct {
	scriptsDir string
	timeout    time.Duration
	running    atomic.Int32
}

func NewExecutor(scriptsDir string, timeout time.Duration) *Executor {
	return &Executor{
		scriptsDir: scriptsDir,
		timeout:    timeout,
	}
}

// Running returns the number of scripts currently executing.
func (e *Executor) Running() int {
	return int(e.running.Load())
}

// LoadScript reads name from the scripts directory.
func (e *Executor) LoadScript(name string) (string, error) {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrScriptNotFound, name)
	}

	data, err := os.ReadFile(filepath.Join(e.scriptsDir, name))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %q", ErrScriptNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("read script %s: %w", name, err)
	}
	return string(data), nil
}

// ListScripts returns the names of regular files in the scripts directory,
// sorted. A missing directory yields an empty list.
func (e *Executor) ListScripts() ([]string, error) {
	entries, err := os.ReadDir(e.scriptsDir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}

	names := []string{}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// Run executes content as script name and reports the result. Faults while
// running are reported in the response, never as an error.
func (e *Executor) Run(ctx context.Context, name, content string, params models.Parameters, executionID string) *models.ExecuteResponse {
	e.running.Add(1)
	defer e.running.Add(-1)

	start := time.Now()
	resp := &models.ExecuteResponse{ExecutionID: executionID}

	stdout, stderr, err := e.run(ctx, name, content, params)
	resp.Duration = time.Since(start).Milliseconds()
	resp.Output = stdout

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		resp.Status = models.ResultSuccess
	case errors.Is(err, context.DeadlineExceeded):
		resp.Status = models.ResultError
		resp.Error = fmt.Sprintf("script execution timed out after %s", e.timeout)
	case errors.As(err, &exitErr):
		resp.Status = models.ResultError
		resp.Error = stderr
		if resp.Error == "" {
			resp.Error = fmt.Sprintf("exit status %d", exitErr.ExitCode())
		}
	default:
		resp.Status = models.ResultError
		resp.Error = err.Error()
	}
	return resp
}

func (e *Executor) run(ctx context.Context, name, content string, params models.Parameters) (string, string, error) {
	ext := scriptExtension(name)

	tmpFile, err := os.CreateTemp("", "agentsched-*"+ext)
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(content); err != nil {
		tmpFile.Close()
		return "", "", fmt.Errorf("write script: %w", err)
	}

	if err := tmpFile.Chmod(0700); err != nil {
		tmpFile.Close()
		return "", "", fmt.Errorf("chmod script: %w", err)
	}
	tmpFile.Close()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, interpreter(ext), tmpFile.Name())
	cmd.Env = append(os.Environ(), paramEnv(params)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		err = ctx.Err()
	}
	return stdout.String(), stderr.String(), err
}

func scriptExtension(name string) string {
	switch {
	case strings.HasSuffix(name, ".py"):
		return ".py"
	case strings.HasSuffix(name, ".js"):
		return ".js"
	default:
		return ".sh"
	}
}

func interpreter(ext string) string {
	switch ext {
	case ".py":
		return "python3"
	case ".js":
		return "node"
	default:
		return "bash"
	}
}

// paramEnv renders parameters as PARAM_<KEY> variables with upper-cased keys.
func paramEnv(params models.Parameters) []string {
	env := make([]string, 0, len(params))
	for key, value := range params {
		env = append(env, "PARAM_"+strings.ToUpper(key)+"="+paramString(value))
	}
	slices.Sort(env)
	return env
}

func paramString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
