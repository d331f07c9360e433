/**
 * @description
 * This package provides a client for communicating with the directory-service.
 * It encapsulates the logic for resolving which users hold a given role within
 * an organization, which the escalation dispatcher uses to find notification
 * recipients.
 */
package directoryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client is a client for the directory service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new directory service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type roleMembersResponse struct {
	Users []uuid.UUID `json:"users"`
}

// UsersWithRole calls the directory-service to resolve the members of a role
// scoped to an organization.
func (c *Client) UsersWithRole(ctx context.Context, role string, orgID uuid.UUID) ([]uuid.UUID, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("directory service base url is empty")
	}

	endpoint := fmt.Sprintf("%s/internal/roles/%s/members?org_id=%s", c.baseURL, url.PathEscape(role), orgID)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to directory service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("directory service returned error status %d", resp.StatusCode)
	}

	var response roleMembersResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return response.Users, nil
}
