package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// APIClient talks to a running agentctl daemon over its HTTP API.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080/api"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// IsReachable checks whether the daemon answers at all.
func (c *APIClient) IsReachable() bool {
	resp, err := c.client.Get(c.baseURL + "/agents")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// ListAgents fetches all agent records.
func (c *APIClient) ListAgents() ([]map[string]any, error) {
	resp, err := c.client.Get(c.baseURL + "/agents")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}
	var out []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// AgentStatus fetches one agent record.
func (c *APIClient) AgentStatus(name string) (map[string]any, error) {
	resp, err := c.client.Get(c.baseURL + "/agents/status?name=" + url.QueryEscape(name))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartAgent starts an agent by name.
func (c *APIClient) StartAgent(name string) error {
	return c.post("/agents/start?name="+url.QueryEscape(name), nil)
}

// StopAgent stops an agent by name.
func (c *APIClient) StopAgent(name string) error {
	return c.post("/agents/stop?name="+url.QueryEscape(name), nil)
}

// SubmitTask submits a task and returns its id.
func (c *APIClient) SubmitTask(agent, action string, params map[string]any, priority int) (string, error) {
	body, err := json.Marshal(map[string]any{
		"agent":    agent,
		"action":   action,
		"params":   params,
		"priority": priority,
	})
	if err != nil {
		return "", err
	}
	resp, err := c.client.Post(c.baseURL+"/tasks", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", decodeAPIError(resp)
	}
	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

func (c *APIClient) post(path string, body []byte) error {
	resp, err := c.client.Post(c.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var errorResp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		return fmt.Errorf("API error: status %d", resp.StatusCode)
	}
	return fmt.Errorf("API error: %s", errorResp.Error)
}
