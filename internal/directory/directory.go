// ABOUTME: Client for the external user-directory REST endpoint
// ABOUTME: Non-critical; callers log a warning and continue on failure

// Package directory lists the principals a user can start conversations
// with. The directory is owned by the main application; this client only
// reads it, and every caller treats a failure as an empty directory.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// User is one directory entry.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type listResponse struct {
	Success bool   `json:"success"`
	Users   []User `json:"users"`
	Error   string `json:"error,omitempty"`
}

// Client reads the user directory over HTTP.
type Client struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a directory client for the given endpoint URL.
// Pass zero timeout for the default.
func NewClient(url string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "directory"),
	}
}

// ListUsers fetches the full directory. The bearer token identifies the
// caller; the endpoint scopes the list server-side (clients see coaches,
// coaches see their clients).
func (c *Client) ListUsers(ctx context.Context, bearerToken string) ([]User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building directory request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling directory: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	var listResp listResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, fmt.Errorf("decoding directory response: %w", err)
	}
	if !listResp.Success {
		return nil, fmt.Errorf("directory refused request: %s", listResp.Error)
	}

	c.logger.Debug("directory listed", "count", len(listResp.Users))
	return listResp.Users, nil
}
