package engine

import (
	"time"

	"github.com/Daskott/deadman/server/models"
	"github.com/pkg/errors"
)

// errUnchanged tells the caller the switch is already in the requested
// state and nothing needs to be written.
var errUnchanged = errors.New("switch already in requested state")

// A transitionFunc computes the next state of 'sw' or refuses the event.
// It must not modify 'sw'.
type transitionFunc func(sw *models.Switch) (models.SwitchFields, error)

func checkIn(userID uint, now time.Time) transitionFunc {
	return func(sw *models.Switch) (models.SwitchFields, error) {
		// Switches of other users are invisible
		if sw.UserID != userID {
			return models.SwitchFields{}, errors.Wrapf(models.ErrNotFound, "switch %d", sw.ID)
		}

		if !sw.AcceptsCheckIns() {
			return models.SwitchFields{}, errors.Wrapf(models.ErrInvalidState,
				"switch %d is %s and not accepting check-ins", sw.ID, sw.Status)
		}

		fields := sw.Fields()
		fields.Status = models.SWITCH_ACTIVE
		fields.LastCheckIn = &now
		fields.NextCheckInDue = now.Add(sw.CheckInInterval)
		fields.TriggeredAt = nil
		return fields, nil
	}
}

func trigger(now time.Time) transitionFunc {
	return func(sw *models.Switch) (models.SwitchFields, error) {
		if !sw.IsEnabled || sw.Status != models.SWITCH_ACTIVE {
			return models.SwitchFields{}, errors.Wrapf(models.ErrInvalidState,
				"switch %d is %s", sw.ID, sw.Status)
		}

		if !Evaluate(sw, now).IsOverdue {
			return models.SwitchFields{}, errors.Wrapf(models.ErrInvalidState,
				"switch %d is not overdue", sw.ID)
		}

		fields := sw.Fields()
		fields.Status = models.SWITCH_TRIGGERED
		fields.TriggeredAt = &now
		return fields, nil
	}
}

// setEnabled pauses or resumes a switch on behalf of its owner. Resuming
// re-arms the switch from 'now' so the calculator and NextCheckInDue agree.
func setEnabled(enabled bool, now time.Time) transitionFunc {
	return func(sw *models.Switch) (models.SwitchFields, error) {
		if sw.Status == models.SWITCH_DISABLED {
			return models.SwitchFields{}, errors.Wrapf(models.ErrInvalidState,
				"switch %d was disabled by an administrator", sw.ID)
		}

		if enabled == sw.IsEnabled {
			return models.SwitchFields{}, errUnchanged
		}

		fields := sw.Fields()
		if !enabled {
			fields.Status = models.SWITCH_PAUSED
			fields.IsEnabled = false
			return fields, nil
		}

		fields.Status = models.SWITCH_ACTIVE
		fields.IsEnabled = true
		fields.LastCheckIn = &now
		fields.NextCheckInDue = now.Add(sw.CheckInInterval)
		fields.TriggeredAt = nil
		return fields, nil
	}
}

// setDisabled applies or lifts the administrative lock. A lifted lock
// leaves the switch paused for its owner to resume.
func setDisabled(disabled bool) transitionFunc {
	return func(sw *models.Switch) (models.SwitchFields, error) {
		if disabled == (sw.Status == models.SWITCH_DISABLED) {
			return models.SwitchFields{}, errUnchanged
		}

		fields := sw.Fields()
		fields.IsEnabled = false
		fields.Status = models.SWITCH_PAUSED
		if disabled {
			fields.Status = models.SWITCH_DISABLED
		}
		return fields, nil
	}
}
