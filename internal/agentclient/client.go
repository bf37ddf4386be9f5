// Package agentclient speaks the agent wire protocol: HTTP/JSON calls to a
// single agent address, each bounded by its own timeout. Calls are never
// retried.
package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/metorial/agentsched/internal/models"
)

var (
	// ErrUnreachable covers transport faults, timeouts and non-2xx replies.
	ErrUnreachable       = errors.New("agent unreachable")
	ErrMalformedResponse = errors.New("malformed agent response")
)

type Timeouts struct {
	Ping        time.Duration
	Info        time.Duration
	Execute     time.Duration
	ListScripts time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Ping:        5 * time.Second,
		Info:        10 * time.Second,
		Execute:     300 * time.Second,
		ListScripts: 10 * time.Second,
	}
}

// shared is the resty client all Clients issue requests through, so
// connections to the same agent are pooled across Client values.
var shared = sync.OnceValue(func() *resty.Client {
	return resty.New().
		SetHeader("Accept", "application/json").
		SetRetryCount(0).
		SetLogger(logger{})
})

type Client struct {
	rc       *resty.Client
	baseURL  string
	timeouts Timeouts
}

// New returns a client for the agent listening on address (host:port, or
// a full http:// base URL).
func New(address string, timeouts Timeouts) *Client {
	base := strings.TrimRight(address, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		rc:       shared(),
		baseURL:  base,
		timeouts: timeouts,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping reports whether the agent answered its liveness endpoint with a 2xx
// within the ping budget. It never returns an error.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Ping)
	defer cancel()

	resp, err := c.rc.R().SetContext(ctx).Get(c.baseURL + "/ping")
	if err != nil {
		return false
	}
	return resp.IsSuccess()
}

// Info fetches the agent's host facts. A reply without a hostname is
// treated as malformed.
func (c *Client) Info(ctx context.Context) (*models.AgentInfo, error) {
	var info models.AgentInfo
	if err := c.getJSON(ctx, c.timeouts.Info, "/info", &info); err != nil {
		return nil, err
	}
	if strings.TrimSpace(info.Hostname) == "" {
		return nil, fmt.Errorf("%w: info from %s has no hostname", ErrMalformedResponse, c.baseURL)
	}
	return &info, nil
}

// Execute asks the agent to run a script and waits for the result under the
// execute budget. A nil response means no result was obtained; a response
// with Status "error" is a failure reported by the agent itself.
func (c *Client) Execute(ctx context.Context, req models.ExecuteRequest) (*models.ExecuteResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Execute)
	defer cancel()

	if req.Parameters == nil {
		req.Parameters = models.Parameters{}
	}

	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(c.baseURL + "/execute")
	if err != nil {
		return nil, fmt.Errorf("%w: execute on %s: %v", ErrUnreachable, c.baseURL, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: execute on %s: HTTP %d", ErrUnreachable, c.baseURL, resp.StatusCode())
	}

	var result models.ExecuteResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("%w: execute on %s: %v", ErrUnreachable, c.baseURL, err)
	}
	if result.Status != models.ResultSuccess && result.Status != models.ResultError {
		return nil, fmt.Errorf("%w: execute on %s: unknown status %q", ErrUnreachable, c.baseURL, result.Status)
	}
	return &result, nil
}

// ListScripts returns the script names available locally on the agent. On
// failure the list is empty, never nil.
func (c *Client) ListScripts(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.getJSON(ctx, c.timeouts.ListScripts, "/scripts", &names); err != nil {
		return []string{}, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func (c *Client) getJSON(ctx context.Context, timeout time.Duration, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.rc.R().SetContext(ctx).Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("%w: GET %s%s: %v", ErrUnreachable, c.baseURL, path, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: GET %s%s: HTTP %d", ErrUnreachable, c.baseURL, path, resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%w: GET %s%s: %v", ErrMalformedResponse, c.baseURL, path, err)
	}
	return nil
}

// logger routes resty's diagnostics to the standard logger. Request errors
// are already returned to callers, so only warnings are printed.
type logger struct{}

func (logger) Errorf(format string, v ...any) {}
func (logger) Warnf(format string, v ...any)  { log.Printf("agentclient: "+format, v...) }
func (logger) Debugf(format string, v ...any) {}
