package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"

	"github.com/statsor/notify/internal/model"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrStaleStatus means a conditional update found the record in a
	// different state than expected: another worker already applied a
	// transition. Callers treat it as a benign race-lost result.
	ErrStaleStatus = errors.New("notification status changed concurrently")
)

const columns = `
	id, tracking_id, batch_id, title, message, type, priority, category, tags,
	recipient_id, sender_id, channels, status, scheduled_at, expires_at,
	sent_at, delivered_at, read_at, clicked_at, delivery_attempts, retry_count,
	max_retries, error_message, is_read, is_clicked, is_archived, is_starred,
	created_at, updated_at`

// Repository provides methods to interact with the notifications table.
// Every status mutation is a conditional update keyed on the expected
// pre-state so that concurrent sweeps cannot both win the same record.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new notification repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// CreateNotification inserts a new notification and returns its ID.
func (r *Repository) CreateNotification(ctx context.Context, n model.Notification) (uuid.UUID, error) {
	query := `
		INSERT INTO notifications (
			tracking_id, batch_id, title, message, type, priority, category, tags,
			recipient_id, sender_id, channels, status, scheduled_at, expires_at,
			retry_count, max_retries, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id;
    `

	err := r.db.Master.QueryRowContext(ctx, query,
		n.TrackingID, nullUUID(n.BatchID), n.Title, n.Message, n.Type, n.Priority,
		n.Category, pq.Array(n.Tags), n.RecipientID, n.SenderID,
		pq.Array(channelStrings(n.Channels)), n.Status, n.ScheduledAt, n.ExpiresAt,
		n.RetryCount, n.MaxRetries, n.CreatedAt, n.UpdatedAt,
	).Scan(&n.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create notification: %w", err)
	}

	return n.ID, nil
}

// CreateBatch inserts all sibling records of one fan-out atomically and
// returns their IDs in input order.
func (r *Repository) CreateBatch(ctx context.Context, notifications []model.Notification) ([]uuid.UUID, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO notifications (
			tracking_id, batch_id, title, message, type, priority, category, tags,
			recipient_id, sender_id, channels, status, scheduled_at, expires_at,
			retry_count, max_retries, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id;
    `

	ids := make([]uuid.UUID, 0, len(notifications))
	for _, n := range notifications {
		var id uuid.UUID
		err := tx.QueryRowContext(ctx, query,
			n.TrackingID, nullUUID(n.BatchID), n.Title, n.Message, n.Type, n.Priority,
			n.Category, pq.Array(n.Tags), n.RecipientID, n.SenderID,
			pq.Array(channelStrings(n.Channels)), n.Status, n.ScheduledAt, n.ExpiresAt,
			n.RetryCount, n.MaxRetries, n.CreatedAt, n.UpdatedAt,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to create batch notification: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}

	return ids, nil
}

// GetNotificationByID retrieves one notification.
func (r *Repository) GetNotificationByID(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	query := `
		SELECT ` + columns + `
		FROM notifications
		WHERE id = $1;
    `

	n, err := scanNotification(r.db.Master.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Notification{}, ErrNotificationNotFound
		}
		return model.Notification{}, fmt.Errorf("failed to get notification: %w", err)
	}

	return n, nil
}

// GetNotificationStatusByID retrieves only the status of a notification.
func (r *Repository) GetNotificationStatusByID(ctx context.Context, id uuid.UUID) (model.Status, error) {
	query := `
		SELECT status
		FROM notifications
		WHERE id = $1;
    `

	var status model.Status
	err := r.db.Master.QueryRowContext(ctx, query, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotificationNotFound
		}
		return "", fmt.Errorf("failed to get notification status: %w", err)
	}

	return status, nil
}

// UpdateFromStatus persists the record's mutable lifecycle fields, but only
// if the stored status still equals expected (compare-and-transition).
// Returns ErrStaleStatus when another worker transitioned the record first.
func (r *Repository) UpdateFromStatus(ctx context.Context, expected model.Status, n model.Notification) error {
	query := `
		UPDATE notifications
		SET status = $1,
		    sent_at = $2,
		    delivered_at = $3,
		    read_at = $4,
		    clicked_at = $5,
		    delivery_attempts = $6,
		    retry_count = $7,
		    error_message = $8,
		    is_read = $9,
		    is_clicked = $10,
		    updated_at = $11
		WHERE id = $12 AND status = $13;
    `

	res, err := r.db.ExecContext(ctx, query,
		n.Status, n.SentAt, n.DeliveredAt, n.ReadAt, n.ClickedAt,
		n.DeliveryAttempts, n.RetryCount, n.ErrorMessage, n.IsRead, n.IsClicked,
		n.UpdatedAt, n.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		if _, err := r.GetNotificationStatusByID(ctx, n.ID); err != nil {
			return err
		}
		return ErrStaleStatus
	}

	return nil
}

// SetArchived flips the archive flag. Archival is caller-initiated and
// independent of the lifecycle, so no status condition applies.
func (r *Repository) SetArchived(ctx context.Context, id uuid.UUID, archived bool, now time.Time) error {
	return r.setFlag(ctx, "is_archived", id, archived, now)
}

// SetStarred flips the star flag.
func (r *Repository) SetStarred(ctx context.Context, id uuid.UUID, starred bool, now time.Time) error {
	return r.setFlag(ctx, "is_starred", id, starred, now)
}

func (r *Repository) setFlag(ctx context.Context, column string, id uuid.UUID, value bool, now time.Time) error {
	query := fmt.Sprintf(`
		UPDATE notifications
		SET %s = $1, updated_at = $2
		WHERE id = $3;
    `, column)

	res, err := r.db.ExecContext(ctx, query, value, now, id)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", column, err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrNotificationNotFound
	}

	return nil
}

// ListDueScheduled retrieves scheduled notifications whose scheduled time
// has arrived, oldest first.
func (r *Repository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]model.Notification, error) {
	query := `
		SELECT ` + columns + `
		FROM notifications
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2;
    `

	return r.list(ctx, query, now, limit)
}

// ListExpirable retrieves non-terminal notifications whose expiry deadline
// has passed.
func (r *Repository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]model.Notification, error) {
	query := `
		SELECT ` + columns + `
		FROM notifications
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		  AND status NOT IN ('expired', 'cancelled', 'bounced')
		  AND NOT (status = 'failed' AND retry_count >= max_retries)
		ORDER BY expires_at ASC
		LIMIT $2;
    `

	return r.list(ctx, query, now, limit)
}

// ListRetryCandidates retrieves failed notifications that still have retry
// budget, oldest failure first.
func (r *Repository) ListRetryCandidates(ctx context.Context, limit int) ([]model.Notification, error) {
	query := `
		SELECT ` + columns + `
		FROM notifications
		WHERE status = 'failed' AND retry_count < max_retries
		ORDER BY updated_at ASC
		LIMIT $1;
    `

	return r.list(ctx, query, limit)
}

// ListStalePending retrieves pending notifications that have not been
// touched since the cutoff. These are records whose create-time queue
// publish was lost; the scheduler re-enqueues them.
func (r *Repository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]model.Notification, error) {
	query := `
		SELECT ` + columns + `
		FROM notifications
		WHERE status = 'pending' AND updated_at <= $1
		ORDER BY updated_at ASC
		LIMIT $2;
    `

	return r.list(ctx, query, cutoff, limit)
}

// ListByBatchID retrieves all sibling notifications of one fan-out.
func (r *Repository) ListByBatchID(ctx context.Context, batchID uuid.UUID) ([]model.Notification, error) {
	query := `
		SELECT ` + columns + `
		FROM notifications
		WHERE batch_id = $1
		ORDER BY created_at ASC;
    `

	return r.list(ctx, query, batchID)
}

// ListByRecipient retrieves a recipient's notifications, newest first.
func (r *Repository) ListByRecipient(ctx context.Context, recipientID string, limit, offset int) ([]model.Notification, error) {
	query := `
		SELECT ` + columns + `
		FROM notifications
		WHERE recipient_id = $1 AND NOT is_archived
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3;
    `

	return r.list(ctx, query, recipientID, limit, offset)
}

// CountUnreadByRecipient counts a recipient's unread notifications.
func (r *Repository) CountUnreadByRecipient(ctx context.Context, recipientID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM notifications
		WHERE recipient_id = $1 AND NOT is_read AND NOT is_archived;
    `

	var count int
	if err := r.db.Master.QueryRowContext(ctx, query, recipientID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}

	return count, nil
}

// MarkAllReadForRecipient marks every unread notification of a recipient
// as read and returns how many records changed.
func (r *Repository) MarkAllReadForRecipient(ctx context.Context, recipientID string, now time.Time) (int64, error) {
	query := `
		UPDATE notifications
		SET is_read = TRUE, read_at = $1, updated_at = $1
		WHERE recipient_id = $2 AND NOT is_read;
    `

	res, err := r.db.ExecContext(ctx, query, now, recipientID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all read: %w", err)
	}

	rows, _ := res.RowsAffected()
	return rows, nil
}

// ListAllNotifications retrieves a full snapshot for global statistics.
func (r *Repository) ListAllNotifications(ctx context.Context) ([]model.Notification, error) {
	query := `
		SELECT ` + columns + `
		FROM notifications
		ORDER BY created_at DESC;
    `

	return r.list(ctx, query)
}

// ArchiveOlderThan archives every notification created before the cutoff.
func (r *Repository) ArchiveOlderThan(ctx context.Context, cutoff, now time.Time) (int64, error) {
	query := `
		UPDATE notifications
		SET is_archived = TRUE, updated_at = $1
		WHERE created_at < $2 AND NOT is_archived;
    `

	res, err := r.db.ExecContext(ctx, query, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to archive old notifications: %w", err)
	}

	rows, _ := res.RowsAffected()
	return rows, nil
}

// DeleteOlderThan removes notifications created before the cutoff.
// Deletion is a caller-initiated maintenance operation, outside the
// lifecycle proper.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM notifications
		WHERE created_at < $1;
    `

	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old notifications: %w", err)
	}

	rows, _ := res.RowsAffected()
	return rows, nil
}

func (r *Repository) list(ctx context.Context, query string, args ...interface{}) ([]model.Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}

	return notifications, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row scanner) (model.Notification, error) {
	var (
		n        model.Notification
		batchID  sql.NullString
		senderID sql.NullString
		category sql.NullString
		errMsg   sql.NullString
		tags     pq.StringArray
		chans    pq.StringArray
	)

	err := row.Scan(
		&n.ID, &n.TrackingID, &batchID, &n.Title, &n.Message, &n.Type, &n.Priority,
		&category, &tags, &n.RecipientID, &senderID, &chans, &n.Status,
		&n.ScheduledAt, &n.ExpiresAt, &n.SentAt, &n.DeliveredAt, &n.ReadAt,
		&n.ClickedAt, &n.DeliveryAttempts, &n.RetryCount, &n.MaxRetries,
		&errMsg, &n.IsRead, &n.IsClicked, &n.IsArchived, &n.IsStarred,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return model.Notification{}, err
	}

	if batchID.Valid {
		id, err := uuid.Parse(batchID.String)
		if err != nil {
			return model.Notification{}, fmt.Errorf("failed to parse batch id: %w", err)
		}
		n.BatchID = id
	}
	n.SenderID = senderID.String
	n.Category = category.String
	n.ErrorMessage = errMsg.String
	n.Tags = tags

	n.Channels = make([]model.Channel, 0, len(chans))
	for _, c := range chans {
		n.Channels = append(n.Channels, model.Channel(c))
	}

	return n, nil
}

func channelStrings(chans []model.Channel) []string {
	out := make([]string, 0, len(chans))
	for _, c := range chans {
		out = append(out, string(c))
	}
	return out
}

func nullUUID(id uuid.UUID) interface{} {
	if id == uuid.Nil {
		return nil
	}
	return id
}
