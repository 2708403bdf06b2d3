package models

import "time"

// User owns content, credentials, and posts. Only the fields the lifecycle
// needs are modeled here; identity management lives elsewhere.
type User struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	Email          string `gorm:"size:255;not null;uniqueIndex" json:"email"`
	TelegramChatID string `gorm:"size:64" json:"telegram_chat_id,omitempty"`
	// AutoPublish skips human approval for generated posts.
	AutoPublish bool      `gorm:"not null;default:false" json:"auto_publish"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (User) TableName() string {
	return "users"
}

// ApprovalReachable reports whether an approval prompt can be delivered to
// this user at all.
func (u *User) ApprovalReachable() bool {
	return u.TelegramChatID != ""
}
