package models

import "time"

// ClickEvent is one immutable row of the click ledger.
// Rows are inserted once and never updated or deleted by the application.
type ClickEvent struct {
	// ID is a random UUID so events can be correlated with the kafka feed
	ID string `gorm:"primaryKey;size:36" json:"id"`

	// Slug identifies the link that was hit. Events keep the slug rather than a
	// foreign key so the ledger survives link deletion by the CRUD layer.
	Slug string `gorm:"size:64;not null;index" json:"slug"`

	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`

	// IPAddress stores the caller address, size:64 covers IPv6 with zone
	IPAddress string `gorm:"size:64" json:"ip_address"`
	UserAgent string `gorm:"size:512" json:"user_agent"`
	Referer   string `gorm:"size:1024" json:"referer"`

	DeviceType    DeviceType    `gorm:"size:16" json:"device_type"`
	CountryCode   string        `gorm:"size:2" json:"country_code,omitempty"`
	IsDatacenter  *bool         `json:"is_datacenter,omitempty"`
	IsValid       bool          `gorm:"not null;index" json:"is_valid"`
	InvalidReason InvalidReason `gorm:"size:48" json:"invalid_reason,omitempty"`
}

// TableName keeps the ledger table name stable across model renames.
func (ClickEvent) TableName() string { return "click_events" }

// Totals are the post-increment link counters returned by the ledger.
type Totals struct {
	TotalClicks int64 `json:"total_clicks"`
	ValidClicks int64 `json:"valid_clicks"`
}

// Breakdown aggregates ledger rows of one link for fraud review.
type Breakdown struct {
	ByInvalidReason map[InvalidReason]int64 `json:"by_invalid_reason"`
	ByDevice        map[DeviceType]int64    `json:"by_device"`
	LastClickAt     *time.Time              `json:"last_click_at,omitempty"`
}
