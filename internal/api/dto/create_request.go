// Package dto holds the API request and response shapes.
package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/statsor/notify/internal/model"
)

// CreateRequest is the JSON body for creating one notification. Omitted
// type, priority, channels and retry budget get server-side defaults.
type CreateRequest struct {
	Title       string     `json:"title" validate:"required"`
	Message     string     `json:"message" validate:"required"`
	Type        string     `json:"type,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	Category    string     `json:"category,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	RecipientID string     `json:"recipient_id" validate:"required"`
	SenderID    string     `json:"sender_id,omitempty"`
	Channels    []string   `json:"channels,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	MaxRetries  int        `json:"max_retries,omitempty"`
}

// ToModel converts the request into the domain model.
func (r CreateRequest) ToModel() model.Notification {
	channels := make([]model.Channel, 0, len(r.Channels))
	for _, c := range r.Channels {
		channels = append(channels, model.Channel(c))
	}

	return model.Notification{
		Title:       r.Title,
		Message:     r.Message,
		Type:        model.Type(r.Type),
		Priority:    model.Priority(r.Priority),
		Category:    r.Category,
		Tags:        r.Tags,
		RecipientID: r.RecipientID,
		SenderID:    r.SenderID,
		Channels:    channels,
		ScheduledAt: r.ScheduledAt,
		ExpiresAt:   r.ExpiresAt,
		MaxRetries:  r.MaxRetries,
	}
}

// CreateBatchRequest is the JSON body for fanning one message out to many
// recipients. RecipientID on the template is ignored; the template itself
// is validated by the service against each recipient.
type CreateBatchRequest struct {
	Notification CreateRequest `json:"notification" validate:"-"`
	Recipients   []string      `json:"recipients" validate:"required,min=1,dive,required"`
}

// CreateResponse is returned after a single create.
type CreateResponse struct {
	ID         uuid.UUID `json:"id"`
	TrackingID uuid.UUID `json:"tracking_id"`
	Status     string    `json:"status"`
}

// CreateBatchResponse is returned after a batch create.
type CreateBatchResponse struct {
	BatchID uuid.UUID   `json:"batch_id"`
	IDs     []uuid.UUID `json:"ids"`
}
