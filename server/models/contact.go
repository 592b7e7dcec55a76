package models

type EmergencyContact struct {
	BaseModel
	SwitchID     uint   `json:"switch_id" gorm:"not null;index"`
	Name         string `json:"name" validate:"required,max=255" gorm:"not null"`
	Email        string `json:"email" validate:"required_without=Phone,omitempty,email"`
	Phone        string `json:"phone" validate:"required_without=Email,omitempty,e164" gorm:"size:20"`
	Relationship string `json:"relationship" validate:"max=100" gorm:"size:100"`
	// Lower values are notified first.
	Priority int  `json:"priority" validate:"min=1"`
	IsActive bool `json:"is_active"`
}
