package store

import (
	"context"
	"time"

	"github.com/Daskott/deadman/server/models"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

func (s *Store) CreateNotification(ctx context.Context, notification *models.Notification) error {
	return translate("create notification", s.db.WithContext(ctx).Create(notification).Error)
}

func (s *Store) GetNotification(ctx context.Context, id uint) (*models.Notification, error) {
	notification := models.Notification{}
	err := s.db.WithContext(ctx).First(&notification, id).Error
	if err != nil {
		return nil, translate("get notification", err)
	}
	return &notification, nil
}

func (s *Store) UpdateNotificationStatus(ctx context.Context, id uint, update models.NotificationUpdate) error {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        update.Status,
			"attempts":      update.Attempts,
			"sent_at":       update.SentAt,
			"error_message": update.ErrorMessage,
		})
	if res.Error != nil {
		return translate("update notification", res.Error)
	}

	if res.RowsAffected == 0 {
		return errors.Wrapf(models.ErrNotFound, "notification %d", id)
	}
	return nil
}

func (s *Store) FindNotification(ctx context.Context, switchID uint, triggeredAt time.Time, contactID uint) (*models.Notification, error) {
	notification := models.Notification{}
	err := s.db.WithContext(ctx).
		Where("switch_id = ? AND episode = ? AND contact_id = ? AND type = ? AND status <> ?",
			switchID, models.EpisodeKey(triggeredAt), contactID, models.TRIGGER_NOTIFICATION, models.FAILED_NOTIFICATION).
		Order("id desc").
		First(&notification).Error
	if err != nil {
		return nil, translate("find notification", err)
	}
	return &notification, nil
}

func (s *Store) ListNotifications(ctx context.Context, switchID uint, page, pageSize int) ([]models.Notification, *models.Paging, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).Where("switch_id = ?", switchID).Count(&total).Error
	if err != nil {
		return nil, nil, translate("list notifications", err)
	}

	notifications := []models.Notification{}
	err = s.db.WithContext(ctx).
		Scopes(paginate(page, pageSize)).
		Where("switch_id = ?", switchID).
		Order("id").
		Find(&notifications).Error
	if err != nil {
		return nil, nil, translate("list notifications", err)
	}

	return notifications, models.NewPaging(int64(page), int64(models.PageSize(pageSize)), total), nil
}

func paginate(page, pageSize int) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if page <= 0 {
			page = 1
		}

		pageSize = models.PageSize(pageSize)
		return db.Offset((page - 1) * pageSize).Limit(pageSize)
	}
}
