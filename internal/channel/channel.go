// Package channel defines the transport boundary between the engine and
// the external delivery providers (email, push, SMS, in-app).
package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/statsor/notify/internal/model"
)

// ErrBounced marks a permanent, non-retryable rejection reported by a
// channel provider (dead mailbox, unregistered device token). Senders wrap
// it so the dispatcher can tell a bounce from a transient failure.
var ErrBounced = errors.New("permanently rejected")

// Message is the payload handed to a channel sender.
type Message struct {
	NotificationID uuid.UUID
	TrackingID     uuid.UUID
	RecipientID    string
	Title          string
	Body           string
	Priority       model.Priority
	Metadata       map[string]string
}

// Sender delivers a message over one channel. Implementations must respect
// ctx cancellation; the dispatcher bounds every call with a timeout.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Registry maps channels to their senders.
type Registry struct {
	senders map[model.Channel]Sender
}

// NewRegistry creates a registry with the given senders.
func NewRegistry(senders map[model.Channel]Sender) *Registry {
	if senders == nil {
		senders = make(map[model.Channel]Sender)
	}
	return &Registry{senders: senders}
}

// Register adds or replaces the sender for a channel.
func (r *Registry) Register(ch model.Channel, s Sender) {
	r.senders[ch] = s
}

// Sender returns the sender for a channel.
func (r *Registry) Sender(ch model.Channel) (Sender, error) {
	s, ok := r.senders[ch]
	if !ok {
		return nil, fmt.Errorf("no sender registered for channel %q", ch)
	}
	return s, nil
}

// Resolver returns the channels a notification to the given recipient and
// type is allowed to use.
type Resolver interface {
	Resolve(recipientID string, t model.Type) []model.Channel
}

// TypeResolver resolves channels from the notification type alone: urgent
// categories fan out wide, informational ones stay in-app. Unknown types
// fall back to in-app.
type TypeResolver struct{}

// Resolve implements Resolver.
func (TypeResolver) Resolve(_ string, t model.Type) []model.Channel {
	switch t {
	case model.TypeInjuryAlert, model.TypeError, model.TypeAlert:
		return []model.Channel{model.ChannelPush, model.ChannelEmail, model.ChannelSMS}
	case model.TypeMatchAlert:
		return []model.Channel{model.ChannelPush, model.ChannelEmail}
	case model.TypeTrainingReminder, model.TypeReminder:
		return []model.Channel{model.ChannelPush, model.ChannelInApp}
	default:
		return []model.Channel{model.ChannelInApp}
	}
}
