package models

import "time"

type SwitchStatus string

const (
	SWITCH_ACTIVE    SwitchStatus = "active"
	SWITCH_TRIGGERED SwitchStatus = "triggered"
	SWITCH_PAUSED    SwitchStatus = "paused"
	SWITCH_DISABLED  SwitchStatus = "disabled"
)

// Switch must be re-armed by a check-in at least once every CheckInInterval.
// Version is bumped by every state transition and guards concurrent writers.
type Switch struct {
	BaseModel
	UserID          uint          `json:"user_id" gorm:"not null;index"`
	Name            string        `json:"name" gorm:"not null"`
	Description     string        `json:"description"`
	CheckInInterval time.Duration `json:"check_in_interval" gorm:"not null"`
	GracePeriod     time.Duration `json:"grace_period" gorm:"not null"`
	Status          SwitchStatus  `json:"status" gorm:"size:20;not null;index:idx_switches_scan,priority:2"`
	IsEnabled       bool          `json:"is_enabled" gorm:"index:idx_switches_scan,priority:1"`
	LastCheckIn     *time.Time    `json:"last_check_in"`
	NextCheckInDue  time.Time     `json:"next_check_in_due"`
	TriggeredAt     *time.Time    `json:"triggered_at"`
	Version         uint          `json:"version" gorm:"not null"`

	CheckIns          []CheckIn          `json:"check_ins,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	EmergencyContacts []EmergencyContact `json:"emergency_contacts,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Notifications     []Notification     `json:"notifications,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

// SwitchFields is the mutable state of a switch. A transition always
// writes all of it at once.
type SwitchFields struct {
	Status         SwitchStatus
	IsEnabled      bool
	LastCheckIn    *time.Time
	NextCheckInDue time.Time
	TriggeredAt    *time.Time
}

func (sw *Switch) Fields() SwitchFields {
	return SwitchFields{
		Status:         sw.Status,
		IsEnabled:      sw.IsEnabled,
		LastCheckIn:    copyTime(sw.LastCheckIn),
		NextCheckInDue: sw.NextCheckInDue,
		TriggeredAt:    copyTime(sw.TriggeredAt),
	}
}

// Apply copies fields onto the switch and bumps its version, mirroring a
// successful compare-and-set in the store.
func (sw *Switch) Apply(fields SwitchFields) {
	sw.Status = fields.Status
	sw.IsEnabled = fields.IsEnabled
	sw.LastCheckIn = copyTime(fields.LastCheckIn)
	sw.NextCheckInDue = fields.NextCheckInDue
	sw.TriggeredAt = copyTime(fields.TriggeredAt)
	sw.Version++
}

func (sw *Switch) AcceptsCheckIns() bool {
	return sw.IsEnabled && (sw.Status == SWITCH_ACTIVE || sw.Status == SWITCH_TRIGGERED)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
