// Package gateway declares the persistence contract consumed by the engine,
// scanner and dispatcher. Implementations translate their own "no rows"
// errors into models.ErrNotFound and storage failures into
// *models.PersistenceError.
package gateway

import (
	"context"
	"time"

	"github.com/Daskott/deadman/server/models"
)

type Switches interface {
	CreateSwitch(ctx context.Context, sw *models.Switch) error
	GetSwitch(ctx context.Context, id uint) (*models.Switch, error)

	// ListEnabledActiveSwitches returns up to 'limit' enabled switches in
	// status active with ID > afterID, ordered by ID.
	ListEnabledActiveSwitches(ctx context.Context, afterID uint, limit int) ([]models.Switch, error)

	// ListTriggeredSwitches pages through triggered switches the same way.
	ListTriggeredSwitches(ctx context.Context, afterID uint, limit int) ([]models.Switch, error)

	// UpdateSwitchState writes 'fields' and bumps the version only if the
	// stored version still equals expectedVersion. Returns models.ErrConflict
	// when it does not and models.ErrNotFound when the switch is gone.
	UpdateSwitchState(ctx context.Context, id, expectedVersion uint, fields models.SwitchFields) error

	// CheckInSwitch is UpdateSwitchState plus the insert of 'checkIn' in
	// the same transaction. Either both are stored or neither is.
	CheckInSwitch(ctx context.Context, id, expectedVersion uint, fields models.SwitchFields, checkIn *models.CheckIn) error

	// DeleteSwitch removes the switch with its check-ins, contacts and
	// notifications.
	DeleteSwitch(ctx context.Context, id uint) error
	DeleteSwitchesForUser(ctx context.Context, userID uint) (int64, error)
}

type CheckIns interface {
	ListCheckIns(ctx context.Context, switchID uint, limit int) ([]models.CheckIn, error)
}

type Contacts interface {
	CreateContact(ctx context.Context, contact *models.EmergencyContact) error

	// ListActiveContacts returns active contacts ordered by priority
	// ascending, ties broken by ID.
	ListActiveContacts(ctx context.Context, switchID uint) ([]models.EmergencyContact, error)
}

type Notifications interface {
	CreateNotification(ctx context.Context, notification *models.Notification) error
	GetNotification(ctx context.Context, id uint) (*models.Notification, error)
	UpdateNotificationStatus(ctx context.Context, id uint, update models.NotificationUpdate) error

	// FindNotification returns the latest non-failed notification for the
	// episode and contact, or models.ErrNotFound.
	FindNotification(ctx context.Context, switchID uint, triggeredAt time.Time, contactID uint) (*models.Notification, error)

	// ListNotifications returns one page of the switch's notifications in
	// creation order. Pages start at 1; the page size is clamped by
	// models.PageSize.
	ListNotifications(ctx context.Context, switchID uint, page, pageSize int) ([]models.Notification, *models.Paging, error)
}

type Reports interface {
	Stats(ctx context.Context, since time.Time) (*models.Stats, error)
}

// Gateway is everything the engine needs from storage.
type Gateway interface {
	Switches
	CheckIns
	Contacts
	Notifications
	Reports
}
