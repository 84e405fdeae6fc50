package models

import (
	"time"

	"gorm.io/gorm"
)

// Post is a shared link or text submitted by a user. Score is the running sum of its votes.
type Post struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	Score     int       `gorm:"not null;default:0" json:"score"`
	CreatorID uint      `gorm:"index;not null" json:"creator_id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate stores CreatedAt in UTC at millisecond precision so feed cursors round-trip exactly.
func (p *Post) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.CreatedAt = p.CreatedAt.UTC().Truncate(time.Millisecond)
	p.UpdatedAt = now
	return nil
}
