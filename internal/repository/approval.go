package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"postpilot/internal/models"
)

// ApprovalRepository defines the interface for approval request data access.
type ApprovalRepository interface {
	Create(ctx context.Context, req *models.ApprovalRequest) error
	GetByRequestID(ctx context.Context, requestID string) (*models.ApprovalRequest, error)
	// UnresolvedByPost returns the outstanding request for a post, if any.
	UnresolvedByPost(ctx context.Context, postID uint) (*models.ApprovalRequest, error)
	// LatestUnresolvedByDestination finds the newest outstanding request sent
	// to a destination. Free-text replies resolve against this.
	LatestUnresolvedByDestination(ctx context.Context, destination string) (*models.ApprovalRequest, error)
	// UnresolvedByDestination returns every outstanding request for a
	// destination, newest first.
	UnresolvedByDestination(ctx context.Context, destination string) ([]models.ApprovalRequest, error)
	// ExpiredUnresolved returns outstanding requests whose window has elapsed.
	ExpiredUnresolved(ctx context.Context, now time.Time) ([]models.ApprovalRequest, error)
	// ResolveIf settles the request only if it is still unresolved. It reports
	// whether this caller won the resolution.
	ResolveIf(ctx context.Context, id uint, resolution models.ApprovalResolution, resolvedBy string, at time.Time) (bool, error)
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type approvalRepository struct {
	db *gorm.DB
}

// NewApprovalRepository creates a new approval repository instance.
func NewApprovalRepository(db *gorm.DB) ApprovalRepository {
	return &approvalRepository{db: db}
}

func (r *approvalRepository) Create(ctx context.Context, req *models.ApprovalRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *approvalRepository) GetByRequestID(ctx context.Context, requestID string) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("approval request", requestID)
		}
		return nil, err
	}
	return &req, nil
}

func (r *approvalRepository) UnresolvedByPost(ctx context.Context, postID uint) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	err := r.db.WithContext(ctx).
		Where("post_id = ? AND resolved = ?", postID, false).
		Order("created_at DESC").
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("approval request for post", postID)
		}
		return nil, err
	}
	return &req, nil
}

func (r *approvalRepository) LatestUnresolvedByDestination(ctx context.Context, destination string) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	err := r.db.WithContext(ctx).
		Where("destination = ? AND resolved = ?", destination, false).
		Order("sent_at DESC").
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("approval request for destination", destination)
		}
		return nil, err
	}
	return &req, nil
}

func (r *approvalRepository) UnresolvedByDestination(ctx context.Context, destination string) ([]models.ApprovalRequest, error) {
	var reqs []models.ApprovalRequest
	err := r.db.WithContext(ctx).
		Where("destination = ? AND resolved = ?", destination, false).
		Order("sent_at DESC").
		Find(&reqs).Error
	return reqs, err
}

func (r *approvalRepository) ExpiredUnresolved(ctx context.Context, now time.Time) ([]models.ApprovalRequest, error) {
	var reqs []models.ApprovalRequest
	err := r.db.WithContext(ctx).
		Where("resolved = ? AND expires_at <= ?", false, now).
		Find(&reqs).Error
	return reqs, err
}

func (r *approvalRepository) ResolveIf(ctx context.Context, id uint, resolution models.ApprovalResolution, resolvedBy string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ApprovalRequest{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]any{
			"resolved":    true,
			"resolution":  resolution,
			"resolved_by": resolvedBy,
			"resolved_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *approvalRepository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("resolved = ? AND resolved_at < ?", true, cutoff).
		Delete(&models.ApprovalRequest{})
	return res.RowsAffected, res.Error
}
