package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrValidation is returned when a notification fails creation-time checks.
var ErrValidation = errors.New("invalid notification")

// Status is the lifecycle state of a notification.
type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusClicked   Status = "clicked"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusBounced   Status = "bounced"
)

var statuses = map[Status]struct{}{
	StatusPending: {}, StatusScheduled: {}, StatusSent: {}, StatusDelivered: {},
	StatusRead: {}, StatusClicked: {}, StatusFailed: {}, StatusExpired: {},
	StatusCancelled: {}, StatusBounced: {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statuses[s]
	return ok
}

// Type classifies the content of a notification.
type Type string

const (
	TypeInfo               Type = "info"
	TypeSuccess            Type = "success"
	TypeWarning            Type = "warning"
	TypeError              Type = "error"
	TypeReminder           Type = "reminder"
	TypeAlert              Type = "alert"
	TypePerformanceInsight Type = "performance_insight"
	TypeTrainingReminder   Type = "training_reminder"
	TypeMatchAlert         Type = "match_alert"
	TypeInjuryAlert        Type = "injury_alert"
	TypeRecommendation     Type = "recommendation"
	TypeSystemUpdate       Type = "system_update"
	TypePromotional        Type = "promotional"
)

var types = map[Type]struct{}{
	TypeInfo: {}, TypeSuccess: {}, TypeWarning: {}, TypeError: {},
	TypeReminder: {}, TypeAlert: {}, TypePerformanceInsight: {},
	TypeTrainingReminder: {}, TypeMatchAlert: {}, TypeInjuryAlert: {},
	TypeRecommendation: {}, TypeSystemUpdate: {}, TypePromotional: {},
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	_, ok := types[t]
	return ok
}

// Priority ranks how urgently a notification should be treated.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

var priorities = map[Priority]struct{}{
	PriorityLow: {}, PriorityMedium: {}, PriorityHigh: {},
	PriorityUrgent: {}, PriorityCritical: {},
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	_, ok := priorities[p]
	return ok
}

// High reports whether p is high priority or above.
func (p Priority) High() bool {
	return p == PriorityHigh || p == PriorityUrgent || p == PriorityCritical
}

// Channel is one delivery mechanism.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

var channels = map[Channel]struct{}{
	ChannelEmail: {}, ChannelPush: {}, ChannelSMS: {}, ChannelInApp: {},
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	_, ok := channels[c]
	return ok
}

// DefaultMaxRetries is applied when a notification is created without an
// explicit retry bound.
const DefaultMaxRetries = 3

// Notification represents one unit of outbound communication and its full
// delivery trace.
type Notification struct {
	ID         uuid.UUID `json:"id"`          // unique identifier
	TrackingID uuid.UUID `json:"tracking_id"` // externally shareable correlation id
	BatchID    uuid.UUID `json:"batch_id"`    // shared by all members of one fan-out, Nil otherwise

	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Type     Type     `json:"type"`
	Priority Priority `json:"priority"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`

	RecipientID string    `json:"recipient_id"`
	SenderID    string    `json:"sender_id,omitempty"`
	Channels    []Channel `json:"channels"`

	Status      Status     `json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	ClickedAt   *time.Time `json:"clicked_at,omitempty"`

	DeliveryAttempts int    `json:"delivery_attempts"`
	RetryCount       int    `json:"retry_count"`
	MaxRetries       int    `json:"max_retries"`
	ErrorMessage     string `json:"error_message,omitempty"`

	IsRead     bool `json:"is_read"`
	IsClicked  bool `json:"is_clicked"`
	IsArchived bool `json:"is_archived"`
	IsStarred  bool `json:"is_starred"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks creation-time requirements. All failures wrap ErrValidation.
func (n *Notification) Validate() error {
	if n.RecipientID == "" {
		return fmt.Errorf("%w: missing recipient", ErrValidation)
	}
	if n.Title == "" {
		return fmt.Errorf("%w: empty title", ErrValidation)
	}
	if n.Message == "" {
		return fmt.Errorf("%w: empty message", ErrValidation)
	}
	if !n.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrValidation, n.Type)
	}
	if !n.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, n.Priority)
	}
	for _, ch := range n.Channels {
		if !ch.Valid() {
			return fmt.Errorf("%w: unknown channel %q", ErrValidation, ch)
		}
	}
	return nil
}

// Terminal reports whether the notification has reached a state the engine
// will never transition out of. FAILED is terminal only once retries are
// exhausted.
func (n *Notification) Terminal() bool {
	switch n.Status {
	case StatusExpired, StatusCancelled, StatusBounced:
		return true
	case StatusFailed:
		return n.RetryCount >= n.MaxRetries
	default:
		return false
	}
}

// Delivered reports whether the notification reached the recipient,
// including the engagement states that follow delivery.
func (n *Notification) Delivered() bool {
	return n.Status == StatusDelivered || n.Status == StatusRead || n.Status == StatusClicked
}

// FailedDelivery reports whether delivery failed, permanently or not.
func (n *Notification) FailedDelivery() bool {
	return n.Status == StatusFailed || n.Status == StatusBounced
}

// AwaitingDispatch reports whether the notification has not been handed to
// the channel transports yet.
func (n *Notification) AwaitingDispatch() bool {
	return n.Status == StatusPending || n.Status == StatusScheduled
}

// CanRetry reports whether another delivery attempt is allowed.
func (n *Notification) CanRetry() bool {
	return n.Status == StatusFailed && n.RetryCount < n.MaxRetries
}

// Due reports whether a scheduled notification should be dispatched at now.
// A notification scheduled exactly at now is due.
func (n *Notification) Due(now time.Time) bool {
	if n.ScheduledAt == nil {
		return true
	}
	return !n.ScheduledAt.After(now)
}

// ExpiredAt reports whether the notification's expiry deadline has passed.
func (n *Notification) ExpiredAt(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}
