package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statsor/notify/internal/channel"
	"github.com/statsor/notify/internal/model"
)

type stubSender struct {
	err   error
	delay time.Duration
	sent  chan channel.Message
}

func (s *stubSender) Send(ctx context.Context, msg channel.Message) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.sent != nil {
		s.sent <- msg
	}
	return s.err
}

func notification(chans ...model.Channel) model.Notification {
	return model.Notification{
		ID:          uuid.New(),
		TrackingID:  uuid.New(),
		RecipientID: "u1",
		Title:       "Hi",
		Message:     "m",
		Type:        model.TypeInfo,
		Priority:    model.PriorityMedium,
		Channels:    chans,
		Status:      model.StatusPending,
		MaxRetries:  3,
	}
}

func TestDispatch_AllSucceed(t *testing.T) {
	reg := channel.NewRegistry(map[model.Channel]channel.Sender{
		model.ChannelEmail: &stubSender{},
		model.ChannelPush:  &stubSender{},
	})
	d := New(reg)

	out := d.Dispatch(context.Background(), notification(model.ChannelEmail, model.ChannelPush))

	assert.True(t, out.Delivered)
	assert.False(t, out.Bounced)
	assert.Empty(t, out.ErrorMessage())
	assert.Len(t, out.Results, 2)
}

func TestDispatch_PartialSuccessIsDelivered(t *testing.T) {
	reg := channel.NewRegistry(map[model.Channel]channel.Sender{
		model.ChannelEmail: &stubSender{err: errors.New("smtp refused")},
		model.ChannelPush:  &stubSender{},
	})
	d := New(reg)

	out := d.Dispatch(context.Background(), notification(model.ChannelEmail, model.ChannelPush))

	assert.True(t, out.Delivered)
	assert.Contains(t, out.ErrorMessage(), "email: smtp refused")
}

func TestDispatch_AllFail(t *testing.T) {
	reg := channel.NewRegistry(map[model.Channel]channel.Sender{
		model.ChannelEmail: &stubSender{err: errors.New("smtp refused")},
		model.ChannelSMS:   &stubSender{err: errors.New("gateway down")},
	})
	d := New(reg)

	out := d.Dispatch(context.Background(), notification(model.ChannelEmail, model.ChannelSMS))

	assert.False(t, out.Delivered)
	assert.False(t, out.Bounced)
	assert.Contains(t, out.ErrorMessage(), "email: smtp refused")
	assert.Contains(t, out.ErrorMessage(), "sms: gateway down")
}

func TestDispatch_RequireAll(t *testing.T) {
	reg := channel.NewRegistry(map[model.Channel]channel.Sender{
		model.ChannelEmail: &stubSender{err: errors.New("smtp refused")},
		model.ChannelPush:  &stubSender{},
	})
	d := New(reg, WithRequireAll(true))

	out := d.Dispatch(context.Background(), notification(model.ChannelEmail, model.ChannelPush))
	assert.False(t, out.Delivered)
}

func TestDispatch_AllBounced(t *testing.T) {
	reg := channel.NewRegistry(map[model.Channel]channel.Sender{
		model.ChannelEmail: &stubSender{err: fmt.Errorf("mailbox gone: %w", channel.ErrBounced)},
	})
	d := New(reg)

	out := d.Dispatch(context.Background(), notification(model.ChannelEmail))

	assert.False(t, out.Delivered)
	assert.True(t, out.Bounced)
}

func TestDispatch_BounceMixedWithTransientIsNotBounce(t *testing.T) {
	reg := channel.NewRegistry(map[model.Channel]channel.Sender{
		model.ChannelEmail: &stubSender{err: fmt.Errorf("mailbox gone: %w", channel.ErrBounced)},
		model.ChannelSMS:   &stubSender{err: errors.New("gateway down")},
	})
	d := New(reg)

	out := d.Dispatch(context.Background(), notification(model.ChannelEmail, model.ChannelSMS))

	assert.False(t, out.Delivered)
	assert.False(t, out.Bounced, "a transient failure leaves the record retryable")
}

func TestDispatch_EmptyChannelsDefaultsToInApp(t *testing.T) {
	sent := make(chan channel.Message, 1)
	reg := channel.NewRegistry(map[model.Channel]channel.Sender{
		model.ChannelInApp: &stubSender{sent: sent},
	})
	d := New(reg)

	out := d.Dispatch(context.Background(), notification())

	assert.True(t, out.Delivered)
	require.Len(t, out.Results, 1)
	assert.Equal(t, model.ChannelInApp, out.Results[0].Channel)
}

func TestDispatch_UnregisteredChannelFails(t *testing.T) {
	reg := channel.NewRegistry(nil)
	d := New(reg)

	out := d.Dispatch(context.Background(), notification(model.ChannelSMS))

	assert.False(t, out.Delivered)
	assert.Contains(t, out.ErrorMessage(), "no sender registered")
}

func TestDispatch_SlowChannelTimesOutWithoutBlockingOthers(t *testing.T) {
	reg := channel.NewRegistry(map[model.Channel]channel.Sender{
		model.ChannelSMS:  &stubSender{delay: time.Second},
		model.ChannelPush: &stubSender{},
	})
	d := New(reg, WithTimeout(20*time.Millisecond))

	start := time.Now()
	out := d.Dispatch(context.Background(), notification(model.ChannelSMS, model.ChannelPush))

	assert.True(t, out.Delivered, "push succeeds while sms times out")
	assert.Contains(t, out.ErrorMessage(), "sms: timeout")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
