package models

import "time"

// ExtensionCode is a one-time code the web session hands to the browser extension.
type ExtensionCode struct {
	Code       string     `gorm:"primaryKey;size:64"`
	Subject    string     `gorm:"size:255;not null"`
	ExpiresAt  time.Time  `gorm:"not null;index"`
	ConsumedAt *time.Time `gorm:"index"`
	CreatedAt  time.Time  `gorm:"autoCreateTime"`
}

func (ExtensionCode) TableName() string { return "extension_codes" }
