package models

import "time"

// Link represents a cloaked affiliate link in the database.
// The core only reads it; counters change through atomic increments issued by the ledger.
type Link struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Slug        string     `gorm:"uniqueIndex;size:64;not null" json:"slug"`
	TargetURL   string     `gorm:"not null" json:"target_url"`
	Title       string     `gorm:"size:255" json:"title"`
	Description string     `gorm:"size:1024" json:"description"`
	ImageURL    string     `gorm:"size:1024" json:"image_url"`
	Content     string     `gorm:"type:text" json:"content"`
	IsActive    bool       `gorm:"not null" json:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	TotalClicks int64      `gorm:"not null;default:0" json:"total_clicks"`
	ValidClicks int64      `gorm:"not null;default:0" json:"valid_clicks"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsAvailableAt reports whether the link is active and not expired at now.
func (l *Link) IsAvailableAt(now time.Time) bool {
	if !l.IsActive {
		return false
	}
	return l.ExpiresAt == nil || l.ExpiresAt.After(now)
}

// IsAvailable is IsAvailableAt evaluated against the wall clock.
func (l *Link) IsAvailable() bool {
	return l.IsAvailableAt(time.Now())
}
