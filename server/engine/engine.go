// Package engine owns every change to a switch's state. Check-ins, pause,
// resume, admin locks and overdue triggers all go through a single
// compare-and-set on the switch version.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/Daskott/deadman/server/clock"
	"github.com/Daskott/deadman/server/gateway"
	"github.com/Daskott/deadman/server/logger"
	"github.com/Daskott/deadman/server/metrics"
	"github.com/Daskott/deadman/server/models"
	"github.com/go-playground/validator"
	"github.com/pkg/errors"
)

const RECENT_CHECK_IN_WINDOW = 24 * time.Hour

var logg = logger.NewLogger()

// TestNotifier fans a test notification out to a switch's contacts.
type TestNotifier interface {
	RequestTest(ctx context.Context, switchID uint) (int, error)
}

type Engine struct {
	gateway  gateway.Gateway
	clock    clock.Clock
	notifier TestNotifier
	validate *validator.Validate
}

func New(gw gateway.Gateway, clk clock.Clock, notifier TestNotifier) *Engine {
	return &Engine{
		gateway:  gw,
		clock:    clk,
		notifier: notifier,
		validate: validator.New(),
	}
}

type NewSwitch struct {
	UserID          uint          `json:"user_id" validate:"required"`
	Name            string        `json:"name" validate:"required,max=255"`
	Description     string        `json:"description" validate:"max=1000"`
	CheckInInterval time.Duration `json:"check_in_interval" validate:"gt=0"`
	GracePeriod     time.Duration `json:"grace_period" validate:"gte=0"`
}

type CheckInParams struct {
	Notes     string `json:"notes"`
	Location  string `json:"location" validate:"max=255"`
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

type ContactParams struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship"`
	Priority     int    `json:"priority"`
	IsActive     *bool  `json:"is_active"`
}

// CreateSwitch registers an active, enabled switch due one interval from now.
func (e *Engine) CreateSwitch(ctx context.Context, params NewSwitch) (*models.Switch, error) {
	params.Name = strings.TrimSpace(params.Name)
	if err := e.validate.Struct(params); err != nil {
		return nil, errors.Wrap(models.ErrInvalidInput, err.Error())
	}

	now := e.clock.Now()
	sw := &models.Switch{
		BaseModel:       models.BaseModel{CreatedAt: now},
		UserID:          params.UserID,
		Name:            params.Name,
		Description:     params.Description,
		CheckInInterval: params.CheckInInterval,
		GracePeriod:     params.GracePeriod,
		Status:          models.SWITCH_ACTIVE,
		IsEnabled:       true,
		NextCheckInDue:  now.Add(params.CheckInInterval),
		Version:         1,
	}

	if err := e.gateway.CreateSwitch(ctx, sw); err != nil {
		return nil, err
	}

	logg.Infof("Created switch id=%v for user id=%v", sw.ID, sw.UserID)
	return sw, nil
}

func (e *Engine) AddContact(ctx context.Context, switchID uint, params ContactParams) (*models.EmergencyContact, error) {
	contact := &models.EmergencyContact{
		SwitchID:     switchID,
		Name:         strings.TrimSpace(params.Name),
		Email:        strings.TrimSpace(params.Email),
		Phone:        strings.TrimSpace(params.Phone),
		Relationship: params.Relationship,
		Priority:     params.Priority,
		IsActive:     true,
	}
	if contact.Priority == 0 {
		contact.Priority = 1
	}
	if params.IsActive != nil {
		contact.IsActive = *params.IsActive
	}

	if err := e.validate.Struct(contact); err != nil {
		return nil, errors.Wrap(models.ErrInvalidInput, err.Error())
	}

	if err := e.gateway.CreateContact(ctx, contact); err != nil {
		return nil, err
	}
	return contact, nil
}

// GetSwitch returns the switch along with its status as of now.
func (e *Engine) GetSwitch(ctx context.Context, switchID uint) (*models.Switch, Status, error) {
	sw, err := e.gateway.GetSwitch(ctx, switchID)
	if err != nil {
		return nil, Status{}, err
	}
	return sw, e.EvaluateStatus(sw), nil
}

// EvaluateStatus evaluates 'sw' against the engine's clock.
func (e *Engine) EvaluateStatus(sw *models.Switch) Status {
	return Evaluate(sw, e.clock.Now())
}

// CheckIn re-arms the switch and records the check-in. A triggered switch
// returns to active. Paused and disabled switches refuse check-ins with
// models.ErrInvalidState and are left untouched.
func (e *Engine) CheckIn(ctx context.Context, switchID, userID uint, params CheckInParams) (*models.Switch, error) {
	if err := e.validate.Struct(params); err != nil {
		return nil, errors.Wrap(models.ErrInvalidInput, err.Error())
	}

	now := e.clock.Now()
	wasTriggered := false

	record := &models.CheckIn{
		UserID:      userID,
		CheckInTime: now,
		IPAddress:   params.IPAddress,
		UserAgent:   params.UserAgent,
		Location:    params.Location,
		Notes:       params.Notes,
	}
	write := func(ctx context.Context, sw *models.Switch, fields models.SwitchFields) error {
		return e.gateway.CheckInSwitch(ctx, sw.ID, sw.Version, fields, record)
	}

	sw, err := e.gateway.GetSwitch(ctx, switchID)
	if err != nil {
		return nil, err
	}

	sw, err = e.transitionWith(ctx, sw, func(sw *models.Switch) (models.SwitchFields, error) {
		wasTriggered = sw.Status == models.SWITCH_TRIGGERED
		return checkIn(userID, now)(sw)
	}, write)
	if err != nil {
		return nil, err
	}

	metrics.CheckIns.Inc()
	if wasTriggered {
		logg.Infof("Switch id=%v recovered from triggered by check-in", sw.ID)
	}

	return sw, nil
}

// TriggerOverdue moves an overdue active switch to triggered. 'sw' is the
// snapshot the caller evaluated; if it is stale the switch is re-read and
// re-evaluated once. A switch that is no longer overdue yields
// models.ErrInvalidState.
func (e *Engine) TriggerOverdue(ctx context.Context, sw *models.Switch) (*models.Switch, error) {
	return e.transitionFrom(ctx, sw, trigger(e.clock.Now()))
}

// SetEnabled pauses (false) or resumes (true) a switch. Resuming re-arms it
// from now. Switches locked by an administrator refuse both.
func (e *Engine) SetEnabled(ctx context.Context, switchID uint, enabled bool) (*models.Switch, error) {
	return e.transition(ctx, switchID, setEnabled(enabled, e.clock.Now()))
}

// SetDisabled applies (true) or lifts (false) the administrative lock.
func (e *Engine) SetDisabled(ctx context.Context, switchID uint, disabled bool) (*models.Switch, error) {
	return e.transition(ctx, switchID, setDisabled(disabled))
}

func (e *Engine) DeleteSwitch(ctx context.Context, switchID uint) error {
	if err := e.gateway.DeleteSwitch(ctx, switchID); err != nil {
		return err
	}

	logg.Infof("Deleted switch id=%v", switchID)
	return nil
}

// DeleteUserSwitches removes every switch owned by a user that is being deleted.
func (e *Engine) DeleteUserSwitches(ctx context.Context, userID uint) (int64, error) {
	deleted, err := e.gateway.DeleteSwitchesForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	logg.Infof("Deleted %v switch(es) of user id=%v", deleted, userID)
	return deleted, nil
}

func (e *Engine) ListCheckIns(ctx context.Context, switchID uint, limit int) ([]models.CheckIn, error) {
	if _, err := e.gateway.GetSwitch(ctx, switchID); err != nil {
		return nil, err
	}
	return e.gateway.ListCheckIns(ctx, switchID, limit)
}

func (e *Engine) ListNotifications(ctx context.Context, switchID uint, page, pageSize int) ([]models.Notification, *models.Paging, error) {
	if _, err := e.gateway.GetSwitch(ctx, switchID); err != nil {
		return nil, nil, err
	}
	return e.gateway.ListNotifications(ctx, switchID, page, pageSize)
}

// RequestTestNotification sends a test message to every active contact of
// the switch and returns how many were queued. Switch state is untouched.
func (e *Engine) RequestTestNotification(ctx context.Context, switchID uint) (int, error) {
	if _, err := e.gateway.GetSwitch(ctx, switchID); err != nil {
		return 0, err
	}

	if e.notifier == nil {
		return 0, errors.New("no notifier configured")
	}
	return e.notifier.RequestTest(ctx, switchID)
}

func (e *Engine) Stats(ctx context.Context) (*models.Stats, error) {
	return e.gateway.Stats(ctx, e.clock.Now().Add(-RECENT_CHECK_IN_WINDOW))
}

// ---------------------------------------------------------------------------------//
// Transitions
// --------------------------------------------------------------------------------//

func (e *Engine) transition(ctx context.Context, switchID uint, next transitionFunc) (*models.Switch, error) {
	sw, err := e.gateway.GetSwitch(ctx, switchID)
	if err != nil {
		return nil, err
	}
	return e.transitionFrom(ctx, sw, next)
}

// transitionFrom applies 'next' to 'sw' with a compare-and-set on its
// version. A lost race is retried once against a fresh read; a second
// loss surfaces models.ErrConflict.
func (e *Engine) transitionFrom(ctx context.Context, sw *models.Switch, next transitionFunc) (*models.Switch, error) {
	return e.transitionWith(ctx, sw, next, e.updateState)
}

// writeFunc stores 'fields' for 'sw' if its version is unchanged.
type writeFunc func(ctx context.Context, sw *models.Switch, fields models.SwitchFields) error

func (e *Engine) updateState(ctx context.Context, sw *models.Switch, fields models.SwitchFields) error {
	return e.gateway.UpdateSwitchState(ctx, sw.ID, sw.Version, fields)
}

func (e *Engine) transitionWith(ctx context.Context, sw *models.Switch, next transitionFunc, write writeFunc) (*models.Switch, error) {
	for attempt := 1; ; attempt++ {
		fields, err := next(sw)
		if errors.Is(err, errUnchanged) {
			return sw, nil
		}
		if err != nil {
			return nil, err
		}

		err = write(ctx, sw, fields)
		if err == nil {
			updated := *sw
			updated.Apply(fields)
			return &updated, nil
		}

		if !errors.Is(err, models.ErrConflict) || attempt == 2 {
			return nil, err
		}

		logg.Debugf("Switch id=%v changed concurrently, retrying", sw.ID)
		if sw, err = e.gateway.GetSwitch(ctx, sw.ID); err != nil {
			return nil, err
		}
	}
}
