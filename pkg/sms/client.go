// Package sms delivers notifications through an HTTP SMS gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/statsor/notify/internal/channel"
)

// Client represents an SMS gateway client. It implements channel.Sender.
type Client struct {
	url    string
	token  string
	from   string
	client *http.Client
}

// NewClient creates a new SMS client for the given gateway URL.
func NewClient(url, token, from string) *Client {
	return &Client{
		url:    url,
		token:  token,
		from:   from,
		client: &http.Client{},
	}
}

// sendRequest represents the gateway's message payload.
type sendRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
	Text string `json:"text"`
}

// Send delivers one SMS. SMS bodies are short, so only the title is sent.
// A 404 or 410 from the gateway means the number is unroutable, which is a
// permanent rejection.
func (c *Client) Send(ctx context.Context, msg channel.Message) error {
	reqBody := sendRequest{
		To:   msg.RecipientID,
		From: c.from,
		Text: msg.Title,
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
		return fmt.Errorf("sms gateway %s: %w", resp.Status, channel.ErrBounced)
	default:
		return fmt.Errorf("sms gateway error: %s", resp.Status)
	}
}
