// Package lifecycle validates and applies notification status transitions.
//
// Every mutation of a notification's status goes through this package; the
// transition table below is the single source of truth for which moves are
// legal. Callers are expected to persist the mutated record with a
// compare-and-transition update keyed on the pre-state.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/statsor/notify/internal/model"
)

var (
	// ErrInvalidTransition is returned for any transition not in the table,
	// including any transition attempted from a terminal state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrRetryExhausted is returned when a retry is requested for a record
	// that has used up its retry budget.
	ErrRetryExhausted = errors.New("retry exhausted")

	// ErrNotDue is returned when a scheduled notification is dispatched
	// before its scheduled time.
	ErrNotDue = errors.New("notification not due yet")
)

// Event names a lifecycle transition.
type Event string

const (
	EventDispatch          Event = "dispatch"
	EventDeliverySucceeded Event = "delivery_succeeded"
	EventDeliveryFailed    Event = "delivery_failed"
	EventBounce            Event = "bounce"
	EventMarkRead          Event = "mark_read"
	EventMarkClicked       Event = "mark_clicked"
	EventRetry             Event = "retry"
	EventExpire            Event = "expire"
	EventCancel            Event = "cancel"
)

// transitions maps each event to the set of states it may be applied from.
// EventExpire is absent: it is allowed from any non-terminal state.
var transitions = map[Event][]model.Status{
	EventDispatch:          {model.StatusPending, model.StatusScheduled},
	EventDeliverySucceeded: {model.StatusSent},
	EventDeliveryFailed:    {model.StatusSent, model.StatusPending, model.StatusScheduled},
	EventBounce:            {model.StatusSent},
	EventMarkRead:          {model.StatusDelivered, model.StatusSent},
	EventMarkClicked:       {model.StatusRead, model.StatusDelivered},
	EventRetry:             {model.StatusFailed},
	EventCancel:            {model.StatusPending, model.StatusScheduled},
}

func allowed(ev Event, from model.Status) bool {
	for _, s := range transitions[ev] {
		if s == from {
			return true
		}
	}
	return false
}

func check(n *model.Notification, ev Event) error {
	if n.Terminal() {
		return fmt.Errorf("%w: %s from terminal state %s", ErrInvalidTransition, ev, n.Status)
	}
	if !allowed(ev, n.Status) {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev, n.Status)
	}
	return nil
}

// Dispatch moves a pending or due scheduled notification to SENT.
func Dispatch(n *model.Notification, now time.Time) error {
	if err := check(n, EventDispatch); err != nil {
		return err
	}
	if n.Status == model.StatusScheduled && !n.Due(now) {
		return fmt.Errorf("%w: scheduled at %s", ErrNotDue, n.ScheduledAt)
	}

	n.Status = model.StatusSent
	n.SentAt = &now
	n.DeliveryAttempts++
	n.UpdatedAt = now

	return nil
}

// DeliverySucceeded moves a sent notification to DELIVERED. The reason
// string carries any partial per-channel failures for diagnostics.
func DeliverySucceeded(n *model.Notification, reason string, now time.Time) error {
	if err := check(n, EventDeliverySucceeded); err != nil {
		return err
	}

	n.Status = model.StatusDelivered
	n.DeliveredAt = &now
	n.ErrorMessage = reason
	n.UpdatedAt = now

	return nil
}

// DeliveryFailed moves a notification to FAILED and records the reason.
func DeliveryFailed(n *model.Notification, reason string, now time.Time) error {
	if err := check(n, EventDeliveryFailed); err != nil {
		return err
	}

	n.Status = model.StatusFailed
	n.ErrorMessage = reason
	n.DeliveryAttempts++
	n.UpdatedAt = now

	return nil
}

// Bounce records a channel-reported permanent rejection. Bounced
// notifications are never retried.
func Bounce(n *model.Notification, reason string, now time.Time) error {
	if err := check(n, EventBounce); err != nil {
		return err
	}

	n.Status = model.StatusBounced
	n.ErrorMessage = reason
	n.UpdatedAt = now

	return nil
}

// MarkRead records recipient read engagement. It is a no-op on a record
// that is already read or clicked.
func MarkRead(n *model.Notification, now time.Time) error {
	if n.Status == model.StatusRead || n.Status == model.StatusClicked {
		return nil
	}
	if err := check(n, EventMarkRead); err != nil {
		return err
	}

	n.Status = model.StatusRead
	n.IsRead = true
	n.ReadAt = &now
	n.UpdatedAt = now

	return nil
}

// MarkClicked records recipient click engagement. Clicking an unread
// notification marks it read first, so readAt never trails clickedAt.
func MarkClicked(n *model.Notification, now time.Time) error {
	if err := check(n, EventMarkClicked); err != nil {
		return err
	}

	if !n.IsRead {
		if err := MarkRead(n, now); err != nil {
			return err
		}
	}

	n.Status = model.StatusClicked
	n.IsClicked = true
	n.ClickedAt = &now
	n.UpdatedAt = now

	return nil
}

// Retry moves a failed notification back to PENDING for another delivery
// attempt, consuming one unit of the retry budget.
func Retry(n *model.Notification, now time.Time) error {
	if n.Status == model.StatusFailed && n.RetryCount >= n.MaxRetries {
		return ErrRetryExhausted
	}
	if err := check(n, EventRetry); err != nil {
		return err
	}

	n.Status = model.StatusPending
	n.RetryCount++
	n.UpdatedAt = now

	return nil
}

// Expire moves any non-terminal notification to EXPIRED.
func Expire(n *model.Notification, now time.Time) error {
	if n.Terminal() {
		return fmt.Errorf("%w: %s from terminal state %s", ErrInvalidTransition, EventExpire, n.Status)
	}

	n.Status = model.StatusExpired
	n.UpdatedAt = now

	return nil
}

// Cancel stops a notification that has not been dispatched yet.
func Cancel(n *model.Notification, now time.Time) error {
	if err := check(n, EventCancel); err != nil {
		return err
	}

	n.Status = model.StatusCancelled
	n.UpdatedAt = now

	return nil
}
