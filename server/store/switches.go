package store

import (
	"context"
	"time"

	"github.com/Daskott/deadman/server/models"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ---------------------------------------------------------------------------------//
// Switches
// --------------------------------------------------------------------------------//

func (s *Store) CreateSwitch(ctx context.Context, sw *models.Switch) error {
	return translate("create switch", s.db.WithContext(ctx).Create(sw).Error)
}

func (s *Store) GetSwitch(ctx context.Context, id uint) (*models.Switch, error) {
	sw := models.Switch{}
	err := s.db.WithContext(ctx).First(&sw, id).Error
	if err != nil {
		return nil, translate("get switch", err)
	}
	return &sw, nil
}

func (s *Store) ListEnabledActiveSwitches(ctx context.Context, afterID uint, limit int) ([]models.Switch, error) {
	switches := []models.Switch{}
	err := s.db.WithContext(ctx).
		Where("is_enabled = ? AND status = ? AND id > ?", true, models.SWITCH_ACTIVE, afterID).
		Order("id").Limit(models.PageSize(limit)).
		Find(&switches).Error
	if err != nil {
		return nil, translate("list active switches", err)
	}
	return switches, nil
}

func (s *Store) ListTriggeredSwitches(ctx context.Context, afterID uint, limit int) ([]models.Switch, error) {
	switches := []models.Switch{}
	err := s.db.WithContext(ctx).
		Where("status = ? AND id > ?", models.SWITCH_TRIGGERED, afterID).
		Order("id").Limit(models.PageSize(limit)).
		Find(&switches).Error
	if err != nil {
		return nil, translate("list triggered switches", err)
	}
	return switches, nil
}

func (s *Store) UpdateSwitchState(ctx context.Context, id, expectedVersion uint, fields models.SwitchFields) error {
	return updateSwitchState(s.db.WithContext(ctx), id, expectedVersion, fields)
}

func (s *Store) CheckInSwitch(ctx context.Context, id, expectedVersion uint, fields models.SwitchFields, checkIn *models.CheckIn) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updateSwitchState(tx, id, expectedVersion, fields); err != nil {
			return err
		}

		checkIn.SwitchID = id
		return translate("append check-in", tx.Create(checkIn).Error)
	})
}

func updateSwitchState(db *gorm.DB, id, expectedVersion uint, fields models.SwitchFields) error {
	res := db.Model(&models.Switch{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]interface{}{
			"status":            fields.Status,
			"is_enabled":        fields.IsEnabled,
			"last_check_in":     fields.LastCheckIn,
			"next_check_in_due": fields.NextCheckInDue,
			"triggered_at":      fields.TriggeredAt,
			"version":           gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return translate("update switch", res.Error)
	}

	if res.RowsAffected > 0 {
		return nil
	}

	// Nothing matched, either the switch is gone or another writer got there first
	var count int64
	err := db.Model(&models.Switch{}).Where("id = ?", id).Count(&count).Error
	if err != nil {
		return translate("update switch", err)
	}

	if count == 0 {
		return errors.Wrapf(models.ErrNotFound, "switch %d", id)
	}
	return errors.Wrapf(models.ErrConflict, "switch %d changed since version %d", id, expectedVersion)
}

func (s *Store) DeleteSwitch(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteSwitchChildren(tx, id); err != nil {
			return err
		}

		res := tx.Delete(&models.Switch{}, id)
		if res.Error != nil {
			return translate("delete switch", res.Error)
		}

		if res.RowsAffected == 0 {
			return errors.Wrapf(models.ErrNotFound, "switch %d", id)
		}
		return nil
	})
}

func (s *Store) DeleteSwitchesForUser(ctx context.Context, userID uint) (int64, error) {
	var deleted int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := []uint{}
		err := tx.Model(&models.Switch{}).Where("user_id = ?", userID).Pluck("id", &ids).Error
		if err != nil {
			return translate("delete user switches", err)
		}

		for _, id := range ids {
			if err := deleteSwitchChildren(tx, id); err != nil {
				return err
			}
		}

		res := tx.Where("user_id = ?", userID).Delete(&models.Switch{})
		if res.Error != nil {
			return translate("delete user switches", res.Error)
		}
		deleted = res.RowsAffected

		return nil
	})

	return deleted, err
}

// deleteSwitchChildren removes dependent rows explicitly, sqlite only
// enforces the cascade when foreign_keys is switched on.
func deleteSwitchChildren(tx *gorm.DB, switchID uint) error {
	for _, model := range []interface{}{&models.CheckIn{}, &models.EmergencyContact{}, &models.Notification{}} {
		err := tx.Where("switch_id = ?", switchID).Delete(model).Error
		if err != nil {
			return translate("delete switch children", err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------------//
// Check-ins & contacts
// --------------------------------------------------------------------------------//

func (s *Store) ListCheckIns(ctx context.Context, switchID uint, limit int) ([]models.CheckIn, error) {
	checkIns := []models.CheckIn{}
	err := s.db.WithContext(ctx).
		Where("switch_id = ?", switchID).
		Order("check_in_time desc, id desc").Limit(models.PageSize(limit)).
		Find(&checkIns).Error
	if err != nil {
		return nil, translate("list check-ins", err)
	}
	return checkIns, nil
}

func (s *Store) CreateContact(ctx context.Context, contact *models.EmergencyContact) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Switch{}).Where("id = ?", contact.SwitchID).Count(&count).Error
	if err != nil {
		return translate("create contact", err)
	}

	if count == 0 {
		return errors.Wrapf(models.ErrNotFound, "switch %d", contact.SwitchID)
	}

	return translate("create contact", s.db.WithContext(ctx).Create(contact).Error)
}

func (s *Store) ListActiveContacts(ctx context.Context, switchID uint) ([]models.EmergencyContact, error) {
	contacts := []models.EmergencyContact{}
	err := s.db.WithContext(ctx).
		Where("switch_id = ? AND is_active = ?", switchID, true).
		Order("priority, id").
		Find(&contacts).Error
	if err != nil {
		return nil, translate("list contacts", err)
	}
	return contacts, nil
}

// ---------------------------------------------------------------------------------//
// Reports
// --------------------------------------------------------------------------------//

func (s *Store) Stats(ctx context.Context, since time.Time) (*models.Stats, error) {
	stats := models.Stats{}
	db := s.db.WithContext(ctx)

	counts := []struct {
		dest  *int64
		model interface{}
		query string
		args  []interface{}
	}{
		{&stats.TotalSwitches, &models.Switch{}, "1 = 1", nil},
		{&stats.ActiveSwitches, &models.Switch{}, "status = ? AND is_enabled = ?", []interface{}{models.SWITCH_ACTIVE, true}},
		{&stats.TriggeredSwitches, &models.Switch{}, "status = ?", []interface{}{models.SWITCH_TRIGGERED}},
		{&stats.PausedSwitches, &models.Switch{}, "status = ?", []interface{}{models.SWITCH_PAUSED}},
		{&stats.DisabledSwitches, &models.Switch{}, "status = ?", []interface{}{models.SWITCH_DISABLED}},
		{&stats.RecentCheckIns, &models.CheckIn{}, "check_in_time >= ?", []interface{}{since}},
		{&stats.PendingNotifications, &models.Notification{}, "status = ?", []interface{}{models.PENDING_NOTIFICATION}},
		{&stats.FailedNotifications, &models.Notification{}, "status = ?", []interface{}{models.FAILED_NOTIFICATION}},
	}

	for _, c := range counts {
		err := db.Model(c.model).Where(c.query, c.args...).Count(c.dest).Error
		if err != nil {
			return nil, translate("stats", err)
		}
	}

	return &stats, nil
}
