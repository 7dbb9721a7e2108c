// Package notification handles dispatch messages taken off the queue.
package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/statsor/notify/internal/lifecycle"
	"github.com/statsor/notify/internal/rabbitmq/queue"
	repo "github.com/statsor/notify/internal/repository/notification"
)

//go:generate mockgen -source=handler.go -destination=../../../mocks/rabbitmq/handlers/notification/mock.go -package=mocks

type dispatchService interface {
	Dispatch(ctx context.Context, id uuid.UUID) error
}

// Handler drives one dispatch attempt per queue message.
type Handler struct {
	service dispatchService

	now func() time.Time
}

// NewHandler creates a new message handler.
func NewHandler(svc dispatchService) *Handler {
	return &Handler{
		service: svc,
		now:     time.Now,
	}
}

// WithClock overrides the handler's time source, for tests.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// HandleMessage waits out any remaining schedule delay, then dispatches
// the notification once. Race-lost and invalid-state results mean another
// worker or an operator already decided the record's fate, so they are
// logged and dropped rather than requeued.
func (h *Handler) HandleMessage(ctx context.Context, msg queue.DispatchMessage) {
	if msg.ScheduledAt != nil {
		if delay := msg.ScheduledAt.Sub(h.now()); delay > 0 {
			zlog.Logger.Info().
				Str("id", msg.ID.String()).
				Dur("delay", delay).
				Msg("waiting for scheduled time")

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}

	err := h.service.Dispatch(ctx, msg.ID)
	switch {
	case err == nil:
		zlog.Logger.Info().Str("id", msg.ID.String()).Msg("notification dispatched")
	case errors.Is(err, repo.ErrStaleStatus), errors.Is(err, lifecycle.ErrInvalidTransition):
		zlog.Logger.Info().Str("id", msg.ID.String()).Msg("notification already handled, skipping")
	case errors.Is(err, repo.ErrNotificationNotFound):
		zlog.Logger.Warn().Str("id", msg.ID.String()).Msg("notification not found, dropping message")
	default:
		zlog.Logger.Error().Err(err).Str("id", msg.ID.String()).Msg("failed to dispatch notification")
	}
}
