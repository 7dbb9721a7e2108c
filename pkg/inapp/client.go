// Package inapp delivers notifications to the recipient's in-app feed
// stored in Redis.
package inapp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/statsor/notify/internal/channel"
)

// feedLimit caps how many entries one recipient's feed keeps.
const feedLimit = 200

// Client writes notifications into per-recipient Redis lists and announces
// them on a pub/sub channel for connected clients. It implements
// channel.Sender.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new in-app feed client.
func NewClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

type feedEntry struct {
	NotificationID string            `json:"notification_id"`
	TrackingID     string            `json:"tracking_id"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Priority       string            `json:"priority"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Send appends the message to the recipient's feed and publishes it for
// live subscribers. The feed is trimmed to a fixed length.
func (c *Client) Send(ctx context.Context, msg channel.Message) error {
	entry := feedEntry{
		NotificationID: msg.NotificationID.String(),
		TrackingID:     msg.TrackingID.String(),
		Title:          msg.Title,
		Body:           msg.Body,
		Priority:       string(msg.Priority),
		Metadata:       msg.Metadata,
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal feed entry: %w", err)
	}

	key := feedKey(msg.RecipientID)

	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, key, body)
	pipe.LTrim(ctx, key, 0, feedLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append feed entry: %w", err)
	}

	if err := c.rdb.Publish(ctx, feedChannel(msg.RecipientID), body).Err(); err != nil {
		return fmt.Errorf("publish feed entry: %w", err)
	}

	return nil
}

func feedKey(recipientID string) string {
	return "inapp:feed:" + recipientID
}

func feedChannel(recipientID string) string {
	return "inapp:events:" + recipientID
}
