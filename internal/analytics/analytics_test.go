package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/statsor/notify/internal/model"
)

func withStatus(status model.Status) model.Notification {
	return model.Notification{Status: status, MaxRetries: 3}
}

func TestCompute_Empty(t *testing.T) {
	s := Compute(nil)

	assert.Equal(t, 0, s.Total)
	assert.Equal(t, 0.0, s.DeliveryRate)
	assert.Equal(t, 0.0, s.ReadRate)
	assert.Equal(t, 0.0, s.ClickRate)
}

func TestCompute_Counts(t *testing.T) {
	read := withStatus(model.StatusRead)
	read.IsRead = true

	clicked := withStatus(model.StatusClicked)
	clicked.IsRead = true
	clicked.IsClicked = true

	records := []model.Notification{
		withStatus(model.StatusPending),
		withStatus(model.StatusScheduled),
		withStatus(model.StatusSent),
		withStatus(model.StatusDelivered),
		read,
		clicked,
		withStatus(model.StatusFailed),
		withStatus(model.StatusBounced),
	}

	s := Compute(records)

	assert.Equal(t, 8, s.Total)
	assert.Equal(t, 2, s.Pending)
	assert.Equal(t, 1, s.Sent)
	assert.Equal(t, 3, s.Delivered, "read and clicked still count as delivered")
	assert.Equal(t, 2, s.Read)
	assert.Equal(t, 1, s.Clicked)
	assert.Equal(t, 2, s.Failed)

	assert.LessOrEqual(t, s.Sent+s.Delivered+s.Failed, s.Total)

	assert.InDelta(t, 75.0, s.DeliveryRate, 0.001)        // 3 / (1+3)
	assert.InDelta(t, 200.0/3.0, s.ReadRate, 0.001)       // 2 / 3
	assert.InDelta(t, 50.0, s.ClickRate, 0.001)           // 1 / 2
}

func TestCompute_ZeroDenominators(t *testing.T) {
	// Only pending records: every denominator is zero.
	s := Compute([]model.Notification{
		withStatus(model.StatusPending),
		withStatus(model.StatusPending),
	})

	assert.Equal(t, 0.0, s.DeliveryRate)
	assert.Equal(t, 0.0, s.ReadRate)
	assert.Equal(t, 0.0, s.ClickRate)
}

func TestComputeGlobal_Windows(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	today := withStatus(model.StatusDelivered)
	today.CreatedAt = now.Add(-2 * time.Hour)

	thisWeek := withStatus(model.StatusSent)
	thisWeek.CreatedAt = now.AddDate(0, 0, -3)

	old := withStatus(model.StatusRead)
	old.CreatedAt = now.AddDate(0, 0, -30)

	g := ComputeGlobal([]model.Notification{today, thisWeek, old}, now)

	assert.Equal(t, 3, g.Total)
	assert.Equal(t, 1, g.CreatedToday)
	assert.Equal(t, 2, g.CreatedThisWeek)
}
