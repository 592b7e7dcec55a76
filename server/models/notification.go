package models

import "time"

type NotificationType string
type NotificationStatus string

const (
	WARNING_NOTIFICATION NotificationType = "warning"
	TRIGGER_NOTIFICATION NotificationType = "trigger"
	TEST_NOTIFICATION    NotificationType = "test"

	PENDING_NOTIFICATION NotificationStatus = "pending"
	SENT_NOTIFICATION    NotificationStatus = "sent"
	FAILED_NOTIFICATION  NotificationStatus = "failed"
)

// Notification is an audit record of one message to one contact. Recipient
// details are a snapshot taken when the record is created. Rows are never
// deleted except together with their switch.
type Notification struct {
	BaseModel
	SwitchID  uint `json:"switch_id" gorm:"not null;index:idx_notifications_episode,priority:1"`
	ContactID uint `json:"contact_id" gorm:"not null;index:idx_notifications_episode,priority:3"`
	// Episode is TriggeredAt in unix microseconds, 0 for test notifications.
	Episode        int64              `json:"episode" gorm:"not null;index:idx_notifications_episode,priority:2"`
	TriggeredAt    *time.Time         `json:"triggered_at,omitempty"`
	RecipientName  string             `json:"recipient_name"`
	RecipientEmail string             `json:"recipient_email"`
	RecipientPhone string             `json:"recipient_phone" gorm:"size:20"`
	Subject        string             `json:"subject" gorm:"size:500"`
	Message        string             `json:"message" gorm:"not null"`
	Type           NotificationType   `json:"type" gorm:"size:50;not null"`
	Status         NotificationStatus `json:"status" gorm:"size:20;not null;index"`
	Attempts       int                `json:"attempts"`
	ScheduledFor   time.Time          `json:"scheduled_for"`
	SentAt         *time.Time         `json:"sent_at,omitempty"`
	ErrorMessage   string             `json:"error_message,omitempty"`
}

// NotificationUpdate is the set of fields a delivery attempt may change.
type NotificationUpdate struct {
	Status       NotificationStatus
	Attempts     int
	SentAt       *time.Time
	ErrorMessage string
}

func EpisodeKey(triggeredAt time.Time) int64 {
	return triggeredAt.UnixMicro()
}
