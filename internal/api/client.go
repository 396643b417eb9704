package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the /_shim/ endpoints of a running server.
type Client struct {
	baseURL string
	token   string
	client  HTTPDoer
}

// NewClient builds a client for baseURL. A nil doer gets a 10s client.
func NewClient(baseURL, token string, doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		client:  doer,
	}
}

// Status fetches /_shim/status.
func (c *Client) Status(ctx context.Context) (*ServerStatus, error) {
	var status ServerStatus
	if err := c.doJSON(ctx, http.MethodGet, "/_shim/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// StatusWithChecks fetches /_shim/status and runs the preflight checks.
func (c *Client) StatusWithChecks(ctx context.Context) (*ServerStatus, error) {
	var status ServerStatus
	if err := c.doJSON(ctx, http.MethodGet, "/_shim/status?checks=1", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Install triggers a reinstall on the running server.
func (c *Client) Install(ctx context.Context) (*InstallResponse, error) {
	var resp InstallResponse
	if err := c.doJSON(ctx, http.MethodPost, "/_shim/install", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Join(fmt.Errorf("decode %s response", path), err)
	}
	return nil
}
