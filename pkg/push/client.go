// Package push delivers notifications through an HTTP push gateway.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/statsor/notify/internal/channel"
)

// Client represents a push gateway client. It implements channel.Sender.
type Client struct {
	url    string
	token  string
	client *http.Client
}

// NewClient creates a new push client for the given gateway URL.
func NewClient(url, token string) *Client {
	return &Client{
		url:    url,
		token:  token,
		client: &http.Client{},
	}
}

// sendRequest represents the gateway's push payload.
type sendRequest struct {
	UserID   string            `json:"user_id"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Priority string            `json:"priority"`
	Data     map[string]string `json:"data,omitempty"`
}

// Send pushes one message to the recipient's registered devices. A 404 or
// 410 from the gateway means no registered device token remains, which is
// a permanent rejection.
func (c *Client) Send(ctx context.Context, msg channel.Message) error {
	reqBody := sendRequest{
		UserID:   msg.RecipientID,
		Title:    msg.Title,
		Body:     msg.Body,
		Priority: string(msg.Priority),
		Data:     msg.Metadata,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("push gateway %s: %w", resp.Status, channel.ErrBounced)
	default:
		return fmt.Errorf("push gateway error: %s", resp.Status)
	}
}
