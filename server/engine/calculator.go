package engine

import (
	"time"

	"github.com/Daskott/deadman/server/models"
)

// Status is the temporal state of a switch at a given instant.
type Status struct {
	DueAt      time.Time `json:"due_at"`
	DeadlineAt time.Time `json:"deadline_at"`
	IsOverdue  bool      `json:"is_overdue"`
}

// Evaluate is the single overdue judgement used everywhere. A switch that
// never checked in is measured from its creation time.
func Evaluate(sw *models.Switch, now time.Time) Status {
	anchor := sw.CreatedAt
	if sw.LastCheckIn != nil {
		anchor = *sw.LastCheckIn
	}

	dueAt := anchor.Add(sw.CheckInInterval)
	deadlineAt := dueAt.Add(sw.GracePeriod)

	return Status{
		DueAt:      dueAt,
		DeadlineAt: deadlineAt,
		IsOverdue:  now.After(deadlineAt),
	}
}

// Remaining is the time left until the check-in is due, zero once it is.
func (s Status) Remaining(now time.Time) time.Duration {
	if !now.Before(s.DueAt) {
		return 0
	}
	return s.DueAt.Sub(now)
}
