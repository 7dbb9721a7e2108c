// Package analytics computes delivery and engagement metrics over a
// snapshot of notification records. The aggregator holds no state of its
// own: callers pass the subset they care about (a batch, everything), which
// keeps the same formulas valid at any scope.
package analytics

import (
	"time"

	"github.com/statsor/notify/internal/model"
)

// Stats summarizes delivery and engagement for a set of notifications.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Read      int `json:"read"`
	Clicked   int `json:"clicked"`
	Failed    int `json:"failed"`

	DeliveryRate float64 `json:"delivery_rate"`
	ReadRate     float64 `json:"read_rate"`
	ClickRate    float64 `json:"click_rate"`
}

// GlobalStats extends Stats with creation volume over recent windows.
type GlobalStats struct {
	Stats

	CreatedToday    int `json:"created_today"`
	CreatedThisWeek int `json:"created_this_week"`
}

// Compute aggregates the given records.
//
// Delivered counts records that reached the recipient, including those the
// recipient has since read or clicked. Read and clicked are counted from
// the engagement flags, not the status, so a clicked record still counts
// as read. All rates are 0.0 when their denominator is zero.
func Compute(records []model.Notification) Stats {
	var s Stats
	s.Total = len(records)

	for i := range records {
		n := &records[i]

		switch {
		case n.AwaitingDispatch():
			s.Pending++
		case n.Status == model.StatusSent:
			s.Sent++
		case n.Delivered():
			s.Delivered++
		case n.FailedDelivery():
			s.Failed++
		}

		if n.IsRead {
			s.Read++
		}
		if n.IsClicked {
			s.Clicked++
		}
	}

	s.DeliveryRate = rate(s.Delivered, s.Sent+s.Delivered)
	s.ReadRate = rate(s.Read, s.Delivered)
	s.ClickRate = rate(s.Clicked, s.Read)

	return s
}

// ComputeGlobal aggregates the given records and adds today/this-week
// creation counts relative to now.
func ComputeGlobal(records []model.Notification, now time.Time) GlobalStats {
	g := GlobalStats{Stats: Compute(records)}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := now.AddDate(0, 0, -7)

	for i := range records {
		created := records[i].CreatedAt
		if !created.Before(dayStart) {
			g.CreatedToday++
		}
		if !created.Before(weekStart) {
			g.CreatedThisWeek++
		}
	}

	return g
}

func rate(num, den int) float64 {
	if den == 0 {
		return 0.0
	}
	return float64(num) / float64(den) * 100.0
}
