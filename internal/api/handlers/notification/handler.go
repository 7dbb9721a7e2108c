// Package notification exposes the engine over HTTP.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/statsor/notify/internal/analytics"
	"github.com/statsor/notify/internal/api/dto"
	"github.com/statsor/notify/internal/api/respond"
	"github.com/statsor/notify/internal/lifecycle"
	"github.com/statsor/notify/internal/model"
	repo "github.com/statsor/notify/internal/repository/notification"
	service "github.com/statsor/notify/internal/service/notification"
)

//go:generate mockgen -source=handler.go -destination=../../../mocks/api/handlers/notification/mock.go -package=mocks

type notificationService interface {
	CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error)
	CreateBatch(ctx context.Context, template model.Notification, recipients []string) (uuid.UUID, []model.Notification, error)
	GetNotification(ctx context.Context, id uuid.UUID) (model.Notification, error)
	GetStatus(ctx context.Context, id uuid.UUID) (model.Status, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	MarkClicked(ctx context.Context, id uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID) error
	Retry(ctx context.Context, id uuid.UUID) error
	SetArchived(ctx context.Context, id uuid.UUID, archived bool) error
	SetStarred(ctx context.Context, id uuid.UUID, starred bool) error
	ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]model.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	GetBatchStatistics(ctx context.Context, batchID uuid.UUID) (analytics.Stats, error)
	GetGlobalStatistics(ctx context.Context) (analytics.GlobalStats, error)
}

// Handler handles HTTP requests related to notifications.
type Handler struct {
	service   notificationService
	validator *validator.Validate
}

// NewHandler creates a new Handler instance.
func NewHandler(s notificationService, v *validator.Validate) *Handler {
	return &Handler{service: s, validator: v}
}

// Create handles POST requests to create a single notification.
func (h *Handler) Create(c *ginext.Context) {
	var req dto.CreateRequest

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	created, err := h.service.CreateNotification(c.Request.Context(), req.ToModel())
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			respond.Fail(c.Writer, http.StatusBadRequest, err)
			return
		}

		zlog.Logger.Error().Err(err).Str("title", req.Title).Msg("failed to create notification")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.Created(c.Writer, dto.CreateResponse{
		ID:         created.ID,
		TrackingID: created.TrackingID,
		Status:     string(created.Status),
	})
}

// CreateBatch handles POST requests to fan one notification out to many
// recipients.
func (h *Handler) CreateBatch(c *ginext.Context) {
	var req dto.CreateBatchRequest

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	batchID, siblings, err := h.service.CreateBatch(c.Request.Context(), req.Notification.ToModel(), req.Recipients)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			respond.Fail(c.Writer, http.StatusBadRequest, err)
			return
		}

		zlog.Logger.Error().Err(err).Int("recipients", len(req.Recipients)).Msg("failed to create batch")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	ids := make([]uuid.UUID, 0, len(siblings))
	for _, n := range siblings {
		ids = append(ids, n.ID)
	}

	respond.Created(c.Writer, dto.CreateBatchResponse{BatchID: batchID, IDs: ids})
}

// Get handles GET requests for one notification.
func (h *Handler) Get(c *ginext.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	n, err := h.service.GetNotification(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, id, err, "failed to get notification")
		return
	}

	respond.OK(c.Writer, n)
}

// GetStatus handles GET requests for a notification's status only.
func (h *Handler) GetStatus(c *ginext.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	status, err := h.service.GetStatus(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, id, err, "failed to get notification status")
		return
	}

	respond.OK(c.Writer, status)
}

// List handles GET requests for a recipient's notifications.
func (h *Handler) List(c *ginext.Context) {
	recipientID := c.Request.URL.Query().Get("recipient_id")
	if recipientID == "" {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing recipient_id"))
		return
	}

	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	notifications, err := h.service.ListByRecipient(c.Request.Context(), recipientID, limit, offset)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("recipient_id", recipientID).Msg("failed to list notifications")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, notifications)
}

// UnreadCount handles GET requests for a recipient's unread counter.
func (h *Handler) UnreadCount(c *ginext.Context) {
	recipientID := c.Request.URL.Query().Get("recipient_id")
	if recipientID == "" {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing recipient_id"))
		return
	}

	count, err := h.service.CountUnread(c.Request.Context(), recipientID)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("recipient_id", recipientID).Msg("failed to count unread")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, map[string]int{"unread": count})
}

// MarkAllRead handles PUT requests to mark all of a recipient's unread
// notifications as read.
func (h *Handler) MarkAllRead(c *ginext.Context) {
	recipientID := c.Request.URL.Query().Get("recipient_id")
	if recipientID == "" {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing recipient_id"))
		return
	}

	updated, err := h.service.MarkAllRead(c.Request.Context(), recipientID)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("recipient_id", recipientID).Msg("failed to mark all read")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, map[string]int64{"updated": updated})
}

// MarkRead handles PUT requests to record read engagement.
func (h *Handler) MarkRead(c *ginext.Context) {
	h.applyTransition(c, h.service.MarkRead, "notification marked as read")
}

// MarkClicked handles PUT requests to record click engagement.
func (h *Handler) MarkClicked(c *ginext.Context) {
	h.applyTransition(c, h.service.MarkClicked, "notification marked as clicked")
}

// Cancel handles DELETE requests to cancel a pending or scheduled
// notification.
func (h *Handler) Cancel(c *ginext.Context) {
	h.applyTransition(c, h.service.Cancel, "notification cancelled")
}

// Retry handles POST requests to resubmit a failed notification.
func (h *Handler) Retry(c *ginext.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	err := h.service.Retry(c.Request.Context(), id)
	switch {
	case err == nil:
		respond.OK(c.Writer, "notification requeued")
	case errors.Is(err, lifecycle.ErrRetryExhausted):
		respond.Fail(c.Writer, http.StatusConflict, fmt.Errorf("retry budget exhausted"))
	default:
		h.respondError(c, id, err, "failed to retry notification")
	}
}

// Archive handles PUT requests to archive a notification.
func (h *Handler) Archive(c *ginext.Context) {
	h.setFlag(c, true, h.service.SetArchived, "notification archived")
}

// Unarchive handles PUT requests to unarchive a notification.
func (h *Handler) Unarchive(c *ginext.Context) {
	h.setFlag(c, false, h.service.SetArchived, "notification unarchived")
}

// Star handles PUT requests to star a notification.
func (h *Handler) Star(c *ginext.Context) {
	h.setFlag(c, true, h.service.SetStarred, "notification starred")
}

// Unstar handles PUT requests to unstar a notification.
func (h *Handler) Unstar(c *ginext.Context) {
	h.setFlag(c, false, h.service.SetStarred, "notification unstarred")
}

// BatchStats handles GET requests for one batch's delivery statistics.
func (h *Handler) BatchStats(c *ginext.Context) {
	idStr := c.Param("batchId")
	batchID, err := uuid.Parse(idStr)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("batchId", idStr).Msg("failed to parse batch id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid batch id"))
		return
	}

	stats, err := h.service.GetBatchStatistics(c.Request.Context(), batchID)
	if err != nil {
		if errors.Is(err, service.ErrBatchNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("batch not found"))
			return
		}

		zlog.Logger.Error().Err(err).Str("batch_id", batchID.String()).Msg("failed to get batch statistics")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, stats)
}

// GlobalStats handles GET requests for system-wide statistics.
func (h *Handler) GlobalStats(c *ginext.Context) {
	stats, err := h.service.GetGlobalStatistics(c.Request.Context())
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to get global statistics")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, stats)
}

func (h *Handler) applyTransition(c *ginext.Context, op func(context.Context, uuid.UUID) error, message string) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	if err := op(c.Request.Context(), id); err != nil {
		h.respondError(c, id, err, "failed to apply transition")
		return
	}

	respond.OK(c.Writer, message)
}

func (h *Handler) setFlag(c *ginext.Context, value bool, op func(context.Context, uuid.UUID, bool) error, message string) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	if err := op(c.Request.Context(), id, value); err != nil {
		h.respondError(c, id, err, "failed to update flag")
		return
	}

	respond.OK(c.Writer, message)
}

func (h *Handler) parseID(c *ginext.Context) (uuid.UUID, bool) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil || id == uuid.Nil {
		zlog.Logger.Warn().Str("idStr", idStr).Msg("invalid notification id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondError(c *ginext.Context, id uuid.UUID, err error, logMsg string) {
	switch {
	case errors.Is(err, repo.ErrNotificationNotFound):
		zlog.Logger.Warn().Str("id", id.String()).Err(err).Msg("notification not found")
		respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("notification not found"))
	case errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, repo.ErrStaleStatus):
		respond.Fail(c.Writer, http.StatusConflict, fmt.Errorf("conflicting notification state"))
	default:
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg(logMsg)
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
	}
}

func queryInt(c *ginext.Context, key string, fallback int) int {
	raw := c.Request.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
