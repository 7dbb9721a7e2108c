package retrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statsor/notify/internal/lifecycle"
	"github.com/statsor/notify/internal/model"
	repo "github.com/statsor/notify/internal/repository/notification"
)

type stubSource struct {
	candidates []model.Notification
	err        error
}

func (s *stubSource) ListRetryCandidates(_ context.Context, _ int) ([]model.Notification, error) {
	return s.candidates, s.err
}

func failedAt(updatedAt time.Time, retryCount int) model.Notification {
	return model.Notification{
		ID:         uuid.New(),
		Status:     model.StatusFailed,
		RetryCount: retryCount,
		MaxRetries: model.DefaultMaxRetries,
		UpdatedAt:  updatedAt,
	}
}

func TestDelayClampsToLastEntry(t *testing.T) {
	c := New(&stubSource{}, nil, WithBackoff([]time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}))

	assert.Equal(t, time.Minute, c.Delay(0))
	assert.Equal(t, 5*time.Minute, c.Delay(1))
	assert.Equal(t, 15*time.Minute, c.Delay(2))
	assert.Equal(t, 15*time.Minute, c.Delay(9))
	assert.Equal(t, time.Minute, c.Delay(-1))
}

func TestEligible(t *testing.T) {
	now := time.Now()
	c := New(&stubSource{}, nil, WithBackoff([]time.Duration{time.Minute}))

	fresh := failedAt(now.Add(-10*time.Second), 0)
	assert.False(t, c.Eligible(&fresh, now))

	aged := failedAt(now.Add(-2*time.Minute), 0)
	assert.True(t, c.Eligible(&aged, now))

	boundary := failedAt(now.Add(-time.Minute), 0)
	assert.True(t, c.Eligible(&boundary, now))

	exhausted := failedAt(now.Add(-time.Hour), model.DefaultMaxRetries)
	assert.False(t, c.Eligible(&exhausted, now))
}

func TestSweepBuckets(t *testing.T) {
	now := time.Now()
	aged := now.Add(-time.Hour)

	ok := failedAt(aged, 0)
	waiting := failedAt(now.Add(-time.Second), 0)
	exhausted := failedAt(aged, 1)
	raced := failedAt(aged, 0)
	broken := failedAt(aged, 0)

	src := &stubSource{candidates: []model.Notification{ok, waiting, exhausted, raced, broken}}

	retryErrs := map[uuid.UUID]error{
		ok.ID:        nil,
		exhausted.ID: lifecycle.ErrRetryExhausted,
		raced.ID:     repo.ErrStaleStatus,
		broken.ID:    errors.New("publish failed"),
	}

	var called []uuid.UUID
	c := New(src,
		func(_ context.Context, id uuid.UUID) error {
			called = append(called, id)
			return retryErrs[id]
		},
		WithBackoff([]time.Duration{time.Minute}),
		WithClock(func() time.Time { return now }),
	)

	sum, err := c.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, sum.Selected)
	assert.Equal(t, 1, sum.Retried)
	assert.Equal(t, 1, sum.Waiting)
	assert.Equal(t, 1, sum.Exhausted)
	assert.Equal(t, 1, sum.RaceLost)
	assert.Equal(t, 1, sum.Errors)

	// The waiting record is never resubmitted.
	assert.NotContains(t, called, waiting.ID)
	assert.Len(t, called, 4)
}

func TestSweepSourceError(t *testing.T) {
	wantErr := errors.New("db down")
	c := New(&stubSource{err: wantErr}, nil)

	_, err := c.Sweep(context.Background())
	assert.ErrorIs(t, err, wantErr)
}
