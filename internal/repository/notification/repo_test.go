package notification

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/dbpg"

	"github.com/statsor/notify/internal/model"
)

func setupMockDB(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open mock db: %v", err)
	}

	wrappedDB := &dbpg.DB{Master: db}
	repo := NewRepository(wrappedDB)

	return repo, mock
}

var allColumns = []string{
	"id", "tracking_id", "batch_id", "title", "message", "type", "priority",
	"category", "tags", "recipient_id", "sender_id", "channels", "status",
	"scheduled_at", "expires_at", "sent_at", "delivered_at", "read_at",
	"clicked_at", "delivery_attempts", "retry_count", "max_retries",
	"error_message", "is_read", "is_clicked", "is_archived", "is_starred",
	"created_at", "updated_at",
}

func addNotificationRow(rows *sqlmock.Rows, n model.Notification) *sqlmock.Rows {
	var batchID interface{}
	if n.BatchID != uuid.Nil {
		batchID = n.BatchID.String()
	}

	return rows.AddRow(
		n.ID, n.TrackingID, batchID, n.Title, n.Message, string(n.Type),
		string(n.Priority), n.Category, pq.StringArray(n.Tags), n.RecipientID,
		n.SenderID, pq.StringArray(channelStrings(n.Channels)), string(n.Status),
		n.ScheduledAt, n.ExpiresAt, n.SentAt, n.DeliveredAt, n.ReadAt,
		n.ClickedAt, n.DeliveryAttempts, n.RetryCount, n.MaxRetries,
		n.ErrorMessage, n.IsRead, n.IsClicked, n.IsArchived, n.IsStarred,
		n.CreatedAt, n.UpdatedAt,
	)
}

func sample() model.Notification {
	now := time.Now()
	return model.Notification{
		ID:          uuid.New(),
		TrackingID:  uuid.New(),
		Title:       "Hi",
		Message:     "m",
		Type:        model.TypeInfo,
		Priority:    model.PriorityMedium,
		RecipientID: "u1",
		Channels:    []model.Channel{model.ChannelEmail},
		Status:      model.StatusPending,
		MaxRetries:  3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestCreateNotification(t *testing.T) {
	repo, mock := setupMockDB(t)

	n := sample()
	wantID := uuid.New()

	mock.ExpectQuery("INSERT INTO notifications").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(wantID))

	id, err := repo.CreateNotification(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, wantID, id)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBatch(t *testing.T) {
	repo, mock := setupMockDB(t)

	n1, n2 := sample(), sample()
	batchID := uuid.New()
	n1.BatchID, n2.BatchID = batchID, batchID

	id1, id2 := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO notifications").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id1))
	mock.ExpectQuery("INSERT INTO notifications").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id2))
	mock.ExpectCommit()

	ids, err := repo.CreateBatch(context.Background(), []model.Notification{n1, n2})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id1, id2}, ids)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotificationByID(t *testing.T) {
	repo, mock := setupMockDB(t)

	n := sample()
	rows := addNotificationRow(sqlmock.NewRows(allColumns), n)

	mock.ExpectQuery("SELECT(.|\n)+FROM notifications").
		WithArgs(n.ID).
		WillReturnRows(rows)

	got, err := repo.GetNotificationByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, n.Status, got.Status)
	assert.Equal(t, n.Channels, got.Channels)

	mock.ExpectQuery("SELECT(.|\n)+FROM notifications").
		WithArgs(n.ID).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.GetNotificationByID(context.Background(), n.ID)
	assert.ErrorIs(t, err, ErrNotificationNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateFromStatus(t *testing.T) {
	repo, mock := setupMockDB(t)

	n := sample()
	n.Status = model.StatusSent

	mock.ExpectExec("UPDATE notifications").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateFromStatus(context.Background(), model.StatusPending, n)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateFromStatus_RaceLost(t *testing.T) {
	repo, mock := setupMockDB(t)

	n := sample()
	n.Status = model.StatusSent

	// No row matched the expected status, but the record exists: another
	// worker already transitioned it.
	mock.ExpectExec("UPDATE notifications").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status")).
		WithArgs(n.ID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("sent"))

	err := repo.UpdateFromStatus(context.Background(), model.StatusPending, n)
	assert.ErrorIs(t, err, ErrStaleStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateFromStatus_NotFound(t *testing.T) {
	repo, mock := setupMockDB(t)

	n := sample()

	mock.ExpectExec("UPDATE notifications").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status")).
		WithArgs(n.ID).
		WillReturnError(sql.ErrNoRows)

	err := repo.UpdateFromStatus(context.Background(), model.StatusPending, n)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDueScheduled(t *testing.T) {
	repo, mock := setupMockDB(t)

	now := time.Now()
	due := sample()
	due.Status = model.StatusScheduled
	past := now.Add(-time.Minute)
	due.ScheduledAt = &past

	rows := addNotificationRow(sqlmock.NewRows(allColumns), due)

	mock.ExpectQuery("SELECT(.|\n)+WHERE status = 'scheduled'").
		WithArgs(now, 100).
		WillReturnRows(rows)

	list, err := repo.ListDueScheduled(context.Background(), now, 100)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, due.ID, list[0].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListExpirable_ExcludesTerminalStatuses(t *testing.T) {
	repo, mock := setupMockDB(t)

	now := time.Now()
	overdue := sample()
	overdue.Status = model.StatusSent
	past := now.Add(-time.Hour)
	overdue.ExpiresAt = &past

	rows := addNotificationRow(sqlmock.NewRows(allColumns), overdue)

	// The selection itself must exclude already-settled records and
	// exhausted failures, so a second sweep over the same rows finds
	// nothing to do.
	mock.ExpectQuery(
		regexp.QuoteMeta("status NOT IN ('expired', 'cancelled', 'bounced')") +
			"(.|\n)+" +
			regexp.QuoteMeta("NOT (status = 'failed' AND retry_count >= max_retries)"),
	).
		WithArgs(now, 100).
		WillReturnRows(rows)

	list, err := repo.ListExpirable(context.Background(), now, 100)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, overdue.ID, list[0].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRetryCandidates(t *testing.T) {
	repo, mock := setupMockDB(t)

	failed := sample()
	failed.Status = model.StatusFailed
	failed.RetryCount = 1

	rows := addNotificationRow(sqlmock.NewRows(allColumns), failed)

	mock.ExpectQuery(regexp.QuoteMeta("status = 'failed' AND retry_count < max_retries")).
		WithArgs(50).
		WillReturnRows(rows)

	list, err := repo.ListRetryCandidates(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, failed.ID, list[0].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListStalePending(t *testing.T) {
	repo, mock := setupMockDB(t)

	cutoff := time.Now().Add(-5 * time.Minute)
	stuck := sample()

	rows := addNotificationRow(sqlmock.NewRows(allColumns), stuck)

	mock.ExpectQuery(regexp.QuoteMeta("status = 'pending' AND updated_at <= $1")).
		WithArgs(cutoff, 100).
		WillReturnRows(rows)

	list, err := repo.ListStalePending(context.Background(), cutoff, 100)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, stuck.ID, list[0].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountUnreadByRecipient(t *testing.T) {
	repo, mock := setupMockDB(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.CountUnreadByRecipient(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAllReadForRecipient(t *testing.T) {
	repo, mock := setupMockDB(t)

	now := time.Now()

	mock.ExpectExec("UPDATE notifications").
		WithArgs(now, "u1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	updated, err := repo.MarkAllReadForRecipient(context.Background(), "u1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}
