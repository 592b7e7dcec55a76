package models

import "time"

// CheckIn is append-only history; rows are never updated.
type CheckIn struct {
	BaseModel
	SwitchID    uint      `json:"switch_id" gorm:"not null;index"`
	UserID      uint      `json:"user_id" gorm:"not null"`
	CheckInTime time.Time `json:"check_in_time" gorm:"not null;index"`
	IPAddress   string    `json:"ip_address,omitempty" gorm:"size:45"`
	UserAgent   string    `json:"user_agent,omitempty"`
	Location    string    `json:"location,omitempty" gorm:"size:255"`
	Notes       string    `json:"notes,omitempty"`
}
