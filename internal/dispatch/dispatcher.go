// Package dispatch fans a notification out to its delivery channels and
// folds the per-channel results into a single outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/statsor/notify/internal/channel"
	"github.com/statsor/notify/internal/model"
)

// DefaultTimeout bounds a single channel send when none is configured.
const DefaultTimeout = 10 * time.Second

// Result is the outcome of one channel attempt.
type Result struct {
	Channel model.Channel
	Err     error
}

// Outcome is the folded result of dispatching one notification.
type Outcome struct {
	// Delivered is true when the resolution policy considers the
	// notification delivered (at least one channel succeeded, or all of
	// them when require-all is set).
	Delivered bool

	// Bounced is true when nothing was delivered and every failure was a
	// permanent rejection. Bounced notifications must not be retried.
	Bounced bool

	Results []Result
}

// ErrorMessage joins the per-channel failures for the record's diagnostics
// field. Empty when every channel succeeded.
func (o Outcome) ErrorMessage() string {
	var parts []string
	for _, r := range o.Results {
		if r.Err != nil {
			parts = append(parts, fmt.Sprintf("%s: %v", r.Channel, r.Err))
		}
	}
	return strings.Join(parts, "; ")
}

// Dispatcher sends notifications through registered channel senders.
// Channel attempts run concurrently: a slow SMS gateway must not hold up
// email delivery.
type Dispatcher struct {
	registry   *channel.Registry
	timeout    time.Duration
	requireAll bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout bounds each per-channel send.
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.timeout = d }
}

// WithRequireAll makes delivery require every requested channel to succeed
// instead of at least one.
func WithRequireAll(requireAll bool) Option {
	return func(dp *Dispatcher) { dp.requireAll = requireAll }
}

// New creates a Dispatcher over the given sender registry.
func New(registry *channel.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers the notification to every requested channel
// concurrently and resolves the results. An empty channel set falls back
// to in-app. Per-channel failures are captured in the outcome, never
// returned as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, n model.Notification) Outcome {
	chans := n.Channels
	if len(chans) == 0 {
		chans = []model.Channel{model.ChannelInApp}
	}

	msg := channel.Message{
		NotificationID: n.ID,
		TrackingID:     n.TrackingID,
		RecipientID:    n.RecipientID,
		Title:          n.Title,
		Body:           n.Message,
		Priority:       n.Priority,
		Metadata: map[string]string{
			"type":     string(n.Type),
			"category": n.Category,
		},
	}

	results := make([]Result, len(chans))

	var wg sync.WaitGroup
	for i, ch := range chans {
		wg.Add(1)
		go func(i int, ch model.Channel) {
			defer wg.Done()
			results[i] = Result{Channel: ch, Err: d.sendOne(ctx, ch, msg)}
		}(i, ch)
	}
	wg.Wait()

	// Stable order for ErrorMessage regardless of goroutine timing.
	sort.Slice(results, func(i, j int) bool { return results[i].Channel < results[j].Channel })

	return d.resolve(n.ID.String(), results)
}

func (d *Dispatcher) sendOne(ctx context.Context, ch model.Channel, msg channel.Message) error {
	sender, err := d.registry.Sender(ch)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sender.Send(ctx, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("timeout after %s", d.timeout)
	}
}

func (d *Dispatcher) resolve(id string, results []Result) Outcome {
	o := Outcome{Results: results}

	succeeded, bounces := 0, 0
	for _, r := range results {
		switch {
		case r.Err == nil:
			succeeded++
		case errors.Is(r.Err, channel.ErrBounced):
			bounces++
		}
		if r.Err != nil {
			zlog.Logger.Warn().
				Err(r.Err).
				Str("id", id).
				Str("channel", string(r.Channel)).
				Msg("channel delivery failed")
		}
	}

	if d.requireAll {
		o.Delivered = succeeded == len(results)
	} else {
		o.Delivered = succeeded > 0
	}
	o.Bounced = succeeded == 0 && bounces == len(results)

	return o
}
