package models

import "time"

// ApprovalResolution records how an approval request was settled.
type ApprovalResolution string

const (
	// ResolutionApproved means a human approved the request.
	ResolutionApproved ApprovalResolution = "approved"
	// ResolutionRejected means a human rejected the request.
	ResolutionRejected ApprovalResolution = "rejected"
	// ResolutionExpired means the expiry sweep settled the request.
	ResolutionExpired ApprovalResolution = "expired"
)

// ApprovalRequest is one outstanding or resolved human-approval message.
// At most one unresolved request exists per post; it is resolved exactly
// once, by whichever of the human response or the expiry sweep acts first.
type ApprovalRequest struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	RequestID   string `gorm:"size:36;not null;uniqueIndex" json:"request_id"`
	PostID      uint   `gorm:"not null;index" json:"post_id"`
	Destination string `gorm:"size:64;not null;index" json:"destination"`
	// MessageRef is the channel's identifier for the delivered prompt.
	MessageRef string             `gorm:"size:64" json:"message_ref"`
	SentAt     time.Time          `gorm:"not null" json:"sent_at"`
	ExpiresAt  time.Time          `gorm:"not null;index" json:"expires_at"`
	Resolved   bool               `gorm:"not null;default:false;index" json:"resolved"`
	Resolution ApprovalResolution `gorm:"type:varchar(20)" json:"resolution,omitempty"`
	ResolvedBy string             `gorm:"size:128" json:"resolved_by,omitempty"`
	ResolvedAt *time.Time         `json:"resolved_at,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (ApprovalRequest) TableName() string {
	return "approval_requests"
}

// ApprovalDecision is a human verdict arriving through the approval channel.
type ApprovalDecision string

const (
	// DecisionApprove schedules the post for publication.
	DecisionApprove ApprovalDecision = "approve"
	// DecisionReject terminates the post.
	DecisionReject ApprovalDecision = "reject"
)

// ApprovalAction is the closed set of machine-decodable actions a channel
// message may carry. Dispatch on this type must be exhaustive.
type ApprovalAction string

const (
	// ActionApprove approves the linked post.
	ActionApprove ApprovalAction = "approve"
	// ActionReject rejects the linked post.
	ActionReject ApprovalAction = "reject"
	// ActionEdit requests an edit flow (acknowledged, not yet supported).
	ActionEdit ApprovalAction = "edit"
	// ActionSchedule requests a custom schedule (acknowledged, not yet supported).
	ActionSchedule ApprovalAction = "schedule"
)

// ApprovalPrompt is the material a channel renders into one approval message.
type ApprovalPrompt struct {
	RequestID string
	Post      *Post
	ExpiresAt time.Time
	// ApproveURL and RejectURL are signed one-click action links for clients
	// where inline buttons are unavailable.
	ApproveURL string
	RejectURL  string
}

// InboundEvent is one event received from the approval channel: either a
// structured action callback or a free-text reply.
type InboundEvent struct {
	// CallbackID is set for button callbacks and must be acknowledged quickly.
	CallbackID string
	// Destination is the channel address the event originated from.
	Destination string
	// Actor identifies the human who produced the event.
	Actor string
	// ActionToken is the signed token attached to a button callback.
	ActionToken string
	// Text is the free-text body of a plain reply.
	Text string
	// MessageRef identifies the message the event refers to, when known.
	MessageRef string
}
