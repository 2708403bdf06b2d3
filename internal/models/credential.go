package models

import "time"

// PlatformCredential holds per (user, platform) authorization material.
// The access token is never used for publishing once expired; the credential
// service refreshes it first or fails the publish attempt.
type PlatformCredential struct {
	ID           uint     `gorm:"primaryKey" json:"id"`
	UserID       uint     `gorm:"not null;index:idx_cred_user_platform,unique" json:"user_id"`
	Platform     Platform `gorm:"type:varchar(20);not null;index:idx_cred_user_platform,unique" json:"platform"`
	AccessToken  string   `gorm:"type:text;not null" json:"-"`
	RefreshToken string   `gorm:"type:text" json:"-"`
	ExpiresAt    time.Time `gorm:"not null" json:"expires_at"`
	// AccountRef is the platform-side account identifier (user id or URN).
	AccountRef string `gorm:"size:128" json:"account_ref"`
	// AccountHandle is the human-readable account name used to build post URLs.
	AccountHandle string    `gorm:"size:128" json:"account_handle"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (PlatformCredential) TableName() string {
	return "platform_credentials"
}

// Expired reports whether the access token is unusable at the given instant.
func (c *PlatformCredential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
