package models

import "time"

// ContentItem is one ingested source article a post can be generated from.
// Acquisition and deduplication happen upstream; this core only consumes
// unprocessed items and marks them processed.
type ContentItem struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	UserID  uint   `gorm:"not null;index" json:"user_id"`
	Title   string `gorm:"size:512;not null" json:"title"`
	URL     string `gorm:"size:2048;not null" json:"url"`
	Summary string `gorm:"type:text" json:"summary"`
	// RelevanceScore in [0,100]; only high-scoring items are auto-generated.
	RelevanceScore int       `gorm:"not null;default:0" json:"relevance_score"`
	Processed      bool      `gorm:"not null;default:false;index" json:"processed"`
	FetchedAt      time.Time `gorm:"not null" json:"fetched_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (ContentItem) TableName() string {
	return "content_items"
}
