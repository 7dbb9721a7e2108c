package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	valid := Notification{
		RecipientID: "u1",
		Title:       "Hi",
		Message:     "m",
		Type:        TypeInfo,
		Priority:    PriorityMedium,
		Channels:    []Channel{ChannelEmail},
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Notification)
	}{
		{"missing recipient", func(n *Notification) { n.RecipientID = "" }},
		{"empty title", func(n *Notification) { n.Title = "" }},
		{"empty message", func(n *Notification) { n.Message = "" }},
		{"unknown type", func(n *Notification) { n.Type = "telepathy" }},
		{"unknown priority", func(n *Notification) { n.Priority = "extreme" }},
		{"unknown channel", func(n *Notification) { n.Channels = []Channel{"fax"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := valid
			tt.mutate(&n)
			assert.ErrorIs(t, n.Validate(), ErrValidation)
		})
	}
}

func TestTerminal(t *testing.T) {
	n := Notification{MaxRetries: 3}

	for status, want := range map[Status]bool{
		StatusPending:   false,
		StatusScheduled: false,
		StatusSent:      false,
		StatusDelivered: false,
		StatusRead:      false,
		StatusClicked:   false,
		StatusExpired:   true,
		StatusCancelled: true,
		StatusBounced:   true,
	} {
		n.Status = status
		assert.Equal(t, want, n.Terminal(), "status %s", status)
	}

	n.Status = StatusFailed
	n.RetryCount = 2
	assert.False(t, n.Terminal())

	n.RetryCount = 3
	assert.True(t, n.Terminal())
}

func TestCanRetry(t *testing.T) {
	n := Notification{Status: StatusFailed, RetryCount: 2, MaxRetries: 3}
	assert.True(t, n.CanRetry())

	n.RetryCount = 3
	assert.False(t, n.CanRetry())

	n.Status = StatusSent
	n.RetryCount = 0
	assert.False(t, n.CanRetry())
}

func TestDue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	n := Notification{}
	assert.True(t, n.Due(now), "no schedule means immediately due")

	n.ScheduledAt = &past
	assert.True(t, n.Due(now))

	n.ScheduledAt = &now
	assert.True(t, n.Due(now), "boundary: scheduled exactly at now is due")

	n.ScheduledAt = &future
	assert.False(t, n.Due(now))
}

func TestExpiredAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	n := Notification{}
	assert.False(t, n.ExpiredAt(now))

	n.ExpiresAt = &past
	assert.True(t, n.ExpiredAt(now))

	n.ExpiresAt = &future
	assert.False(t, n.ExpiredAt(now))
}
