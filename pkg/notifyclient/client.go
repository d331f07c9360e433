/**
 * @description
 * This package provides a client for communicating with the notification-service.
 * Delivery is best-effort: Notify reports success or failure per call and never
 * propagates transport errors, because the escalation dispatcher must keep
 * going when one recipient cannot be reached.
 */
package notifyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client is a client for the notification service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new notification service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type notificationRequest struct {
	UserID   uuid.UUID `json:"user_id"`
	Category string    `json:"category"`
	Message  string    `json:"message"`
}

// Notify delivers one escalation notification to one user. It returns false on
// any failure instead of an error.
func (c *Client) Notify(ctx context.Context, userID uuid.UUID, message string) bool {
	if c.baseURL == "" {
		log.Printf("level=warn component=notifyclient msg=\"notification service base url is empty; dropping notification\" user_id=%s", userID)
		return false
	}

	payload := notificationRequest{
		UserID:   userID,
		Category: "budget_escalation",
		Message:  message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("level=error component=notifyclient msg=\"marshal failed\" user_id=%s err=%v", userID, err)
		return false
	}

	endpoint := fmt.Sprintf("%s/internal/notifications", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(body))
	if err != nil {
		log.Printf("level=error component=notifyclient msg=\"request build failed\" user_id=%s err=%v", userID, err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("level=warn component=notifyclient msg=\"delivery failed\" user_id=%s err=%v", userID, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Printf("level=warn component=notifyclient msg=\"delivery rejected\" user_id=%s status=%d", userID, resp.StatusCode)
		return false
	}
	return true
}
