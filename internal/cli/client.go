package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client calls the controller's HTTP API and returns decoded JSON objects.
type Client struct {
	rc *resty.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		rc: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(330 * time.Second).
			SetHeader("Accept", "application/json"),
	}
}

func (c *Client) Health() (map[string]interface{}, error) {
	return c.do("GET", "/api/v1/health", nil)
}

// Agents

func (c *Client) ListAgents() (map[string]interface{}, error) {
	return c.do("GET", "/api/v1/agents", nil)
}

func (c *Client) GetAgent(id string) (map[string]interface{}, error) {
	return c.do("GET", "/api/v1/agents/"+url.PathEscape(id), nil)
}

func (c *Client) AddAgent(address string) (map[string]interface{}, error) {
	return c.do("POST", "/api/v1/agents", map[string]string{"address": address})
}

func (c *Client) RemoveAgent(id string) (map[string]interface{}, error) {
	return c.do("DELETE", "/api/v1/agents/"+url.PathEscape(id), nil)
}

func (c *Client) PingAgent(id string) (map[string]interface{}, error) {
	return c.do("POST", "/api/v1/agents/"+url.PathEscape(id)+"/ping", nil)
}

func (c *Client) AgentScripts(id string) (map[string]interface{}, error) {
	return c.do("GET", "/api/v1/agents/"+url.PathEscape(id)+"/scripts", nil)
}

// Tasks

func (c *Client) ListTasks() (map[string]interface{}, error) {
	return c.do("GET", "/api/v1/tasks", nil)
}

func (c *Client) GetTask(id string) (map[string]interface{}, error) {
	return c.do("GET", "/api/v1/tasks/"+url.PathEscape(id), nil)
}

func (c *Client) CreateTask(def map[string]interface{}) (map[string]interface{}, error) {
	return c.do("POST", "/api/v1/tasks", def)
}

func (c *Client) DeleteTask(id string) (map[string]interface{}, error) {
	return c.do("DELETE", "/api/v1/tasks/"+url.PathEscape(id), nil)
}

func (c *Client) ExecuteTask(id string) (map[string]interface{}, error) {
	return c.do("POST", "/api/v1/tasks/"+url.PathEscape(id)+"/execute", nil)
}

func (c *Client) Upcoming(limit int) (map[string]interface{}, error) {
	path := "/api/v1/tasks/upcoming"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	return c.do("GET", path, nil)
}

// Executions

func (c *Client) ListExecutions(taskID string, limit int) (map[string]interface{}, error) {
	q := url.Values{}
	if taskID != "" {
		q.Set("task_id", taskID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/executions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return c.do("GET", path, nil)
}

func (c *Client) GetExecution(id string) (map[string]interface{}, error) {
	return c.do("GET", "/api/v1/executions/"+url.PathEscape(id), nil)
}

// Scripts

func (c *Client) ListScripts() (map[string]interface{}, error) {
	return c.do("GET", "/api/v1/scripts", nil)
}

func (c *Client) GetScript(id string) (map[string]interface{}, error) {
	return c.do("GET", "/api/v1/scripts/"+url.PathEscape(id), nil)
}

func (c *Client) CreateScript(script map[string]interface{}) (map[string]interface{}, error) {
	return c.do("POST", "/api/v1/scripts", script)
}

func (c *Client) do(method, path string, body interface{}) (map[string]interface{}, error) {
	req := c.rc.R()
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), errorMessage(resp.Body()))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return result, nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}
