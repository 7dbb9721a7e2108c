// Package retrier finds failed notifications that still have retry budget
// and resubmits them under a backoff schedule.
package retrier

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/statsor/notify/internal/lifecycle"
	"github.com/statsor/notify/internal/model"
	repo "github.com/statsor/notify/internal/repository/notification"
)

// DefaultBackoff is the delay schedule applied when none is configured,
// indexed by retry count.
var DefaultBackoff = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}

// DefaultLimit bounds how many candidates one sweep processes.
const DefaultLimit = 100

type candidateSource interface {
	ListRetryCandidates(ctx context.Context, limit int) ([]model.Notification, error)
}

// RetryFunc applies the retry transition to one notification and
// re-enqueues it for dispatch.
type RetryFunc func(ctx context.Context, id uuid.UUID) error

// Summary reports the outcome of one retry sweep. A sweep never aborts on
// a single record: every candidate is accounted for in exactly one bucket.
type Summary struct {
	Selected  int // candidates returned by the store
	Retried   int // moved back to pending
	Waiting   int // still inside their backoff window
	Exhausted int // lost eligibility between selection and retry
	RaceLost  int // another worker transitioned the record first
	Errors    int // unexpected failures
}

// Coordinator drives retry sweeps.
type Coordinator struct {
	store   candidateSource
	retry   RetryFunc
	backoff []time.Duration
	limit   int

	now func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBackoff replaces the delay schedule.
func WithBackoff(schedule []time.Duration) Option {
	return func(c *Coordinator) {
		if len(schedule) > 0 {
			c.backoff = schedule
		}
	}
}

// WithLimit bounds the number of candidates per sweep.
func WithLimit(limit int) Option {
	return func(c *Coordinator) {
		if limit > 0 {
			c.limit = limit
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator that selects candidates from store and
// resubmits them through retry.
func New(store candidateSource, retry RetryFunc, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		retry:   retry,
		backoff: DefaultBackoff,
		limit:   DefaultLimit,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Delay returns the backoff delay before the given retry attempt. Counts
// past the end of the schedule get the last entry.
func (c *Coordinator) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(c.backoff) {
		retryCount = len(c.backoff) - 1
	}
	return c.backoff[retryCount]
}

// Eligible reports whether a failed notification has waited out its
// backoff window. UpdatedAt is the time of the last failure.
func (c *Coordinator) Eligible(n *model.Notification, now time.Time) bool {
	if !n.CanRetry() {
		return false
	}
	return !now.Before(n.UpdatedAt.Add(c.Delay(n.RetryCount)))
}

// Sweep selects retry candidates and resubmits each one independently.
// A failure on one record never aborts the sweep for the rest.
func (c *Coordinator) Sweep(ctx context.Context) (Summary, error) {
	candidates, err := c.store.ListRetryCandidates(ctx, c.limit)
	if err != nil {
		return Summary{}, err
	}

	now := c.now()
	sum := Summary{Selected: len(candidates)}

	for i := range candidates {
		n := &candidates[i]

		if !c.Eligible(n, now) {
			if n.CanRetry() {
				sum.Waiting++
			} else {
				sum.Exhausted++
			}
			continue
		}

		switch err := c.retry(ctx, n.ID); {
		case err == nil:
			sum.Retried++
		case errors.Is(err, lifecycle.ErrRetryExhausted):
			sum.Exhausted++
		case errors.Is(err, repo.ErrStaleStatus), errors.Is(err, lifecycle.ErrInvalidTransition):
			// Another worker got there first; their transition stands.
			sum.RaceLost++
		default:
			sum.Errors++
			zlog.Logger.Error().Err(err).Str("id", n.ID.String()).Msg("failed to retry notification")
		}
	}

	return sum, nil
}
