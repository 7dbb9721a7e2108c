// Package notification implements the engine's operations: creation and
// fan-out, dispatch, engagement tracking, retries, cancellation, sweeps
// and statistics. All status mutations go through the lifecycle package
// and are persisted with compare-and-transition updates.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/statsor/notify/internal/analytics"
	"github.com/statsor/notify/internal/channel"
	"github.com/statsor/notify/internal/dispatch"
	"github.com/statsor/notify/internal/lifecycle"
	"github.com/statsor/notify/internal/model"
	"github.com/statsor/notify/internal/rabbitmq/queue"
	repo "github.com/statsor/notify/internal/repository/notification"
)

//go:generate mockgen -source=service.go -destination=../../mocks/service/notification/mock.go -package=mocks

var (
	// ErrBatchNotFound is returned when batch statistics are requested for
	// an unknown batch ID.
	ErrBatchNotFound = errors.New("batch not found")
)

type notificationRepository interface {
	CreateNotification(ctx context.Context, n model.Notification) (uuid.UUID, error)
	CreateBatch(ctx context.Context, notifications []model.Notification) ([]uuid.UUID, error)
	GetNotificationByID(ctx context.Context, id uuid.UUID) (model.Notification, error)
	GetNotificationStatusByID(ctx context.Context, id uuid.UUID) (model.Status, error)
	UpdateFromStatus(ctx context.Context, expected model.Status, n model.Notification) error
	SetArchived(ctx context.Context, id uuid.UUID, archived bool, now time.Time) error
	SetStarred(ctx context.Context, id uuid.UUID, starred bool, now time.Time) error
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]model.Notification, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]model.Notification, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Notification, error)
	ListByBatchID(ctx context.Context, batchID uuid.UUID) ([]model.Notification, error)
	ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]model.Notification, error)
	CountUnreadByRecipient(ctx context.Context, recipientID string) (int, error)
	MarkAllReadForRecipient(ctx context.Context, recipientID string, now time.Time) (int64, error)
	ListAllNotifications(ctx context.Context) ([]model.Notification, error)
	ArchiveOlderThan(ctx context.Context, cutoff, now time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type notificationPublisher interface {
	Publish(msg queue.DispatchMessage, strategy retry.Strategy) error
}

type channelDispatcher interface {
	Dispatch(ctx context.Context, n model.Notification) dispatch.Outcome
}

type cache interface {
	SetWithRetry(ctx context.Context, strategy retry.Strategy, key string, value interface{}) error
	GetWithRetry(ctx context.Context, strategy retry.Strategy, key string) (string, error)
}

// Service coordinates the repository, the queue, the channel dispatcher
// and the status cache.
type Service struct {
	repo       notificationRepository
	queue      notificationPublisher
	dispatcher channelDispatcher
	resolver   channel.Resolver
	cache      cache
	strategy   retry.Strategy

	now func() time.Time
}

// NewService creates a new notification service.
func NewService(
	repo notificationRepository,
	queue notificationPublisher,
	dispatcher channelDispatcher,
	resolver channel.Resolver,
	cache cache,
	strategy retry.Strategy,
) *Service {
	return &Service{
		repo:       repo,
		queue:      queue,
		dispatcher: dispatcher,
		resolver:   resolver,
		cache:      cache,
		strategy:   strategy,
		now:        time.Now,
	}
}

// WithClock overrides the service's time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// applyDefaults fills the fields callers may omit. A scheduled time in the
// past is treated as immediate delivery.
func (s *Service) applyDefaults(n *model.Notification, now time.Time) {
	if n.TrackingID == uuid.Nil {
		n.TrackingID = uuid.New()
	}
	if n.Type == "" {
		n.Type = model.TypeInfo
	}
	if n.Priority == "" {
		n.Priority = model.PriorityMedium
	}
	if n.MaxRetries == 0 {
		n.MaxRetries = model.DefaultMaxRetries
	}
	if len(n.Channels) == 0 {
		n.Channels = s.resolver.Resolve(n.RecipientID, n.Type)
	}

	if n.ScheduledAt != nil && n.ScheduledAt.After(now) {
		n.Status = model.StatusScheduled
	} else {
		n.Status = model.StatusPending
	}

	n.CreatedAt = now
	n.UpdatedAt = now
}

// CreateNotification validates, persists and enqueues a notification.
// Notifications scheduled for the future are not enqueued here; the
// scheduler publishes them once due.
func (s *Service) CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	now := s.now()
	s.applyDefaults(&n, now)

	if err := n.Validate(); err != nil {
		return model.Notification{}, err
	}

	id, err := s.repo.CreateNotification(ctx, n)
	if err != nil {
		return model.Notification{}, fmt.Errorf("failed to create notification: %w", err)
	}
	n.ID = id

	s.cacheStatus(ctx, n.ID, n.Status)

	if n.Status == model.StatusPending {
		s.publish(n)
	}

	return n, nil
}

// CreateBatch fans one message template out to many recipients. All
// sibling records share a freshly minted batch ID and are inserted
// atomically; each recipient gets its own tracking ID.
func (s *Service) CreateBatch(ctx context.Context, template model.Notification, recipients []string) (uuid.UUID, []model.Notification, error) {
	if len(recipients) == 0 {
		return uuid.Nil, nil, fmt.Errorf("%w: recipients must not be empty", model.ErrValidation)
	}

	now := s.now()
	batchID := uuid.New()

	siblings := make([]model.Notification, 0, len(recipients))
	for _, recipient := range recipients {
		n := template
		n.BatchID = batchID
		n.TrackingID = uuid.Nil
		n.RecipientID = recipient
		s.applyDefaults(&n, now)

		if err := n.Validate(); err != nil {
			return uuid.Nil, nil, err
		}
		siblings = append(siblings, n)
	}

	ids, err := s.repo.CreateBatch(ctx, siblings)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("failed to create batch: %w", err)
	}

	for i := range siblings {
		siblings[i].ID = ids[i]
		s.cacheStatus(ctx, siblings[i].ID, siblings[i].Status)
		if siblings[i].Status == model.StatusPending {
			s.publish(siblings[i])
		}
	}

	return batchID, siblings, nil
}

// GetNotification retrieves one notification.
func (s *Service) GetNotification(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	return s.repo.GetNotificationByID(ctx, id)
}

// GetStatus returns a notification's status, serving from the cache when
// possible.
func (s *Service) GetStatus(ctx context.Context, id uuid.UUID) (model.Status, error) {
	cached, err := s.cache.GetWithRetry(ctx, s.strategy, statusKey(id))
	if err == nil && cached != "" {
		return model.Status(cached), nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		zlog.Logger.Warn().Err(err).Str("id", id.String()).Msg("failed to get status from cache")
	}

	status, err := s.repo.GetNotificationStatusByID(ctx, id)
	if err != nil {
		return "", err
	}

	s.cacheStatus(ctx, id, status)

	return status, nil
}

// Dispatch delivers one notification end to end: it claims the record by
// moving it to SENT, fans out to the channels, and folds the outcome into
// DELIVERED, BOUNCED or FAILED. Losing the claim to a concurrent worker is
// not an error.
func (s *Service) Dispatch(ctx context.Context, id uuid.UUID) error {
	n, err := s.repo.GetNotificationByID(ctx, id)
	if err != nil {
		return err
	}

	prev := n.Status
	now := s.now()

	if err := lifecycle.Dispatch(&n, now); err != nil {
		return err
	}
	if err := s.repo.UpdateFromStatus(ctx, prev, n); err != nil {
		return err
	}
	s.cacheStatus(ctx, n.ID, n.Status)

	outcome := s.dispatcher.Dispatch(ctx, n)

	return s.settle(ctx, n, outcome)
}

// settle applies the dispatch outcome to a record that is in SENT.
func (s *Service) settle(ctx context.Context, n model.Notification, outcome dispatch.Outcome) error {
	now := s.now()
	prev := n.Status

	var err error
	switch {
	case outcome.Delivered:
		err = lifecycle.DeliverySucceeded(&n, outcome.ErrorMessage(), now)
	case outcome.Bounced:
		err = lifecycle.Bounce(&n, outcome.ErrorMessage(), now)
	default:
		err = lifecycle.DeliveryFailed(&n, outcome.ErrorMessage(), now)
	}
	if err != nil {
		return err
	}

	if err := s.repo.UpdateFromStatus(ctx, prev, n); err != nil {
		return err
	}
	s.cacheStatus(ctx, n.ID, n.Status)

	zlog.Logger.Info().
		Str("id", n.ID.String()).
		Str("status", string(n.Status)).
		Int("attempts", n.DeliveryAttempts).
		Msg("notification settled")

	return nil
}

// MarkFailed moves a notification to FAILED with the given reason. Used
// when delivery could not even be attempted.
func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.transition(ctx, id, func(n *model.Notification, now time.Time) error {
		return lifecycle.DeliveryFailed(n, reason, now)
	})
}

// MarkRead records that the recipient read the notification.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, lifecycle.MarkRead)
}

// MarkClicked records that the recipient clicked the notification.
func (s *Service) MarkClicked(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, lifecycle.MarkClicked)
}

// Cancel stops a notification that has not been dispatched yet.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, lifecycle.Cancel)
}

// Retry moves a failed notification back to PENDING and re-enqueues it.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) error {
	n, err := s.repo.GetNotificationByID(ctx, id)
	if err != nil {
		return err
	}

	prev := n.Status
	if err := lifecycle.Retry(&n, s.now()); err != nil {
		return err
	}
	if err := s.repo.UpdateFromStatus(ctx, prev, n); err != nil {
		return err
	}
	s.cacheStatus(ctx, n.ID, n.Status)

	s.publish(n)

	zlog.Logger.Info().
		Str("id", n.ID.String()).
		Int("retry_count", n.RetryCount).
		Msg("notification requeued for retry")

	return nil
}

// transition applies a lifecycle mutation and persists it with a
// compare-and-transition update.
func (s *Service) transition(ctx context.Context, id uuid.UUID, apply func(*model.Notification, time.Time) error) error {
	n, err := s.repo.GetNotificationByID(ctx, id)
	if err != nil {
		return err
	}

	prev := n.Status
	if err := apply(&n, s.now()); err != nil {
		return err
	}

	if n.Status == prev {
		// No-op transitions (e.g. marking a read record read) change nothing.
		return nil
	}

	if err := s.repo.UpdateFromStatus(ctx, prev, n); err != nil {
		return err
	}
	s.cacheStatus(ctx, n.ID, n.Status)

	return nil
}

// SetArchived flips the archive flag.
func (s *Service) SetArchived(ctx context.Context, id uuid.UUID, archived bool) error {
	return s.repo.SetArchived(ctx, id, archived, s.now())
}

// SetStarred flips the star flag.
func (s *Service) SetStarred(ctx context.Context, id uuid.UUID, starred bool) error {
	return s.repo.SetStarred(ctx, id, starred, s.now())
}

// ListByRecipient returns a recipient's non-archived notifications, newest
// first.
func (s *Service) ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]model.Notification, error) {
	return s.repo.ListByRecipient(ctx, recipientID, limit, offset)
}

// CountUnread counts a recipient's unread notifications.
func (s *Service) CountUnread(ctx context.Context, recipientID string) (int, error) {
	return s.repo.CountUnreadByRecipient(ctx, recipientID)
}

// MarkAllRead marks every unread notification of a recipient as read and
// returns how many records changed. This is a recipient-facing bulk flag
// update; individual lifecycle statuses are left alone.
func (s *Service) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	return s.repo.MarkAllReadForRecipient(ctx, recipientID, s.now())
}

// ProcessDueScheduled publishes a dispatch message for every scheduled
// notification whose time has arrived. The records stay SCHEDULED until a
// worker claims them; re-publishing a record twice is harmless because the
// claim is a compare-and-transition.
func (s *Service) ProcessDueScheduled(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.ListDueScheduled(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list due scheduled: %w", err)
	}

	published := 0
	for _, n := range due {
		if err := s.queue.Publish(queue.DispatchMessage{ID: n.ID, ScheduledAt: n.ScheduledAt}, s.strategy); err != nil {
			zlog.Logger.Error().Err(err).Str("id", n.ID.String()).Msg("failed to publish due notification")
			continue
		}
		published++
	}

	return published, nil
}

// RepublishStalePending re-enqueues PENDING records whose last update is
// older than age. A record is left PENDING with no queue message when its
// create-time publish fails after exhausting the retry strategy; without
// this sweep nothing would ever dispatch it. Double publication is
// harmless because the SENT claim is a compare-and-transition.
func (s *Service) RepublishStalePending(ctx context.Context, age time.Duration, limit int) (int, error) {
	stale, err := s.repo.ListStalePending(ctx, s.now().Add(-age), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale pending: %w", err)
	}

	published := 0
	for _, n := range stale {
		if err := s.queue.Publish(queue.DispatchMessage{ID: n.ID, ScheduledAt: n.ScheduledAt}, s.strategy); err != nil {
			zlog.Logger.Error().Err(err).Str("id", n.ID.String()).Msg("failed to republish stale notification")
			continue
		}
		published++
	}

	return published, nil
}

// ExpireStale moves every notification past its expiry deadline to
// EXPIRED. Records another worker transitions concurrently are skipped.
func (s *Service) ExpireStale(ctx context.Context, limit int) (int, error) {
	stale, err := s.repo.ListExpirable(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list expirable: %w", err)
	}

	expired := 0
	for _, n := range stale {
		prev := n.Status
		if err := lifecycle.Expire(&n, s.now()); err != nil {
			continue
		}

		err := s.repo.UpdateFromStatus(ctx, prev, n)
		switch {
		case err == nil:
			s.cacheStatus(ctx, n.ID, n.Status)
			expired++
		case errors.Is(err, repo.ErrStaleStatus):
			// Lost the race; whoever won decides the record's fate.
		default:
			zlog.Logger.Error().Err(err).Str("id", n.ID.String()).Msg("failed to expire notification")
		}
	}

	return expired, nil
}

// GetBatchStatistics aggregates delivery and engagement counters over one
// batch's sibling notifications.
func (s *Service) GetBatchStatistics(ctx context.Context, batchID uuid.UUID) (analytics.Stats, error) {
	siblings, err := s.repo.ListByBatchID(ctx, batchID)
	if err != nil {
		return analytics.Stats{}, fmt.Errorf("failed to list batch: %w", err)
	}
	if len(siblings) == 0 {
		return analytics.Stats{}, ErrBatchNotFound
	}

	return analytics.Compute(siblings), nil
}

// GetGlobalStatistics aggregates counters over every notification.
func (s *Service) GetGlobalStatistics(ctx context.Context) (analytics.GlobalStats, error) {
	all, err := s.repo.ListAllNotifications(ctx)
	if err != nil {
		return analytics.GlobalStats{}, fmt.Errorf("failed to list notifications: %w", err)
	}

	return analytics.ComputeGlobal(all, s.now()), nil
}

// ArchiveOlderThan archives every notification created before the cutoff.
func (s *Service) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.ArchiveOlderThan(ctx, cutoff, s.now())
}

// DeleteOlderThan removes notifications created before the cutoff.
func (s *Service) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.DeleteOlderThan(ctx, cutoff)
}

// publish enqueues a dispatch message. Publish failures are logged, not
// returned: the record is already persisted and the stale-pending sweep
// re-enqueues it.
func (s *Service) publish(n model.Notification) {
	msg := queue.DispatchMessage{ID: n.ID, ScheduledAt: n.ScheduledAt}
	if err := s.queue.Publish(msg, s.strategy); err != nil {
		zlog.Logger.Error().Err(err).Str("id", n.ID.String()).Msg("failed to publish notification")
	}
}

func (s *Service) cacheStatus(ctx context.Context, id uuid.UUID, status model.Status) {
	if err := s.cache.SetWithRetry(ctx, s.strategy, statusKey(id), string(status)); err != nil {
		zlog.Logger.Warn().Err(err).Str("id", id.String()).Msg("failed to cache status")
	}
}

func statusKey(id uuid.UUID) string {
	return "notification:status:" + id.String()
}
