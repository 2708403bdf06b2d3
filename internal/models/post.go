// Package models contains data structures for the application's domain models.
package models

import (
	"time"

	"gorm.io/gorm"
)

// Platform identifies a publishing target.
type Platform string

const (
	// PlatformTwitter targets Twitter/X.
	PlatformTwitter Platform = "twitter"
	// PlatformLinkedIn targets LinkedIn.
	PlatformLinkedIn Platform = "linkedin"
)

// PostStatus is the lifecycle state of a post.
type PostStatus string

const (
	// PostStatusDraft is the initial state right after generation.
	PostStatusDraft PostStatus = "draft"
	// PostStatusPendingApproval means the post is waiting on a human decision.
	PostStatusPendingApproval PostStatus = "pending_approval"
	// PostStatusScheduled means the post is eligible for a future publish sweep.
	PostStatusScheduled PostStatus = "scheduled"
	// PostStatusPublishing means a sweep holds the claim for this post.
	PostStatusPublishing PostStatus = "publishing"
	// PostStatusPublished is terminal success.
	PostStatusPublished PostStatus = "published"
	// PostStatusFailed is terminal failure after exhausting attempts.
	PostStatusFailed PostStatus = "failed"
	// PostStatusRejected is terminal; a human declined the post.
	PostStatusRejected PostStatus = "rejected"
	// PostStatusCancelled is terminal; the approval window elapsed.
	PostStatusCancelled PostStatus = "cancelled"
)

// ApprovalStatus is the approval sub-state of a post.
type ApprovalStatus string

const (
	// ApprovalPending means an approval request is outstanding.
	ApprovalPending ApprovalStatus = "pending"
	// ApprovalApproved means a human approved the post.
	ApprovalApproved ApprovalStatus = "approved"
	// ApprovalRejected means a human rejected the post.
	ApprovalRejected ApprovalStatus = "rejected"
	// ApprovalExpired means the approval window elapsed without a decision.
	ApprovalExpired ApprovalStatus = "expired"
	// ApprovalAuto means the post skipped human approval entirely.
	ApprovalAuto ApprovalStatus = "auto_approved"
)

// Post represents one platform-targeted unit of generated content tracked
// through the lifecycle. Status and ApprovalStatus are only ever mutated
// through conditional updates; see repository.PostRepository.UpdateIf.
type Post struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	UserID        uint           `gorm:"not null;index" json:"user_id"`
	User          User           `gorm:"foreignKey:UserID" json:"user,omitempty"`
	ContentItemID uint           `gorm:"index" json:"content_item_id"`
	Platform      Platform       `gorm:"type:varchar(20);not null;index" json:"platform"`
	Content       string         `gorm:"type:text;not null" json:"content"`
	Hashtags      []string       `gorm:"serializer:json" json:"hashtags"`
	Status        PostStatus     `gorm:"type:varchar(20);not null;index" json:"status"`
	ApprovalState ApprovalStatus `gorm:"column:approval_status;type:varchar(20);not null;index" json:"approval_status"`
	ScheduledFor  *time.Time     `gorm:"index" json:"scheduled_for,omitempty"`
	// NextAttemptAt gates rescheduled retries of transient publish failures.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	ExternalID    string     `json:"external_id,omitempty"`
	ExternalURL   string     `json:"external_url,omitempty"`
	ErrorMessage  string     `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount    int        `gorm:"not null;default:0" json:"retry_count"`
	// ApprovalMessageRef links to the channel message carrying the approval prompt.
	ApprovalMessageRef string         `json:"approval_message_ref,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for GORM.
func (Post) TableName() string {
	return "posts"
}

// Terminal reports whether the post has reached a terminal lifecycle state.
func (p *Post) Terminal() bool {
	switch p.Status {
	case PostStatusPublished, PostStatusFailed, PostStatusRejected, PostStatusCancelled:
		return true
	}
	return false
}

// validPairs is the closed set of (status, approvalStatus) combinations a
// post may occupy. Anything outside this table is a bug.
var validPairs = map[PostStatus]map[ApprovalStatus]bool{
	PostStatusDraft:           {ApprovalPending: true, ApprovalAuto: true},
	PostStatusPendingApproval: {ApprovalPending: true},
	PostStatusScheduled:       {ApprovalApproved: true, ApprovalAuto: true},
	PostStatusPublishing:      {ApprovalApproved: true, ApprovalAuto: true},
	PostStatusPublished:       {ApprovalApproved: true, ApprovalAuto: true},
	PostStatusFailed:          {ApprovalApproved: true, ApprovalAuto: true},
	PostStatusRejected:        {ApprovalRejected: true},
	PostStatusCancelled:       {ApprovalExpired: true},
}

// ValidStatePair reports whether the (status, approvalStatus) combination is
// reachable under the lifecycle transition table.
func ValidStatePair(status PostStatus, approval ApprovalStatus) bool {
	return validPairs[status][approval]
}
