// Package repository provides data access to the domain models. All lifecycle
// state changes go through conditional updates so overlapping trigger firings
// and racing resolutions settle to exactly one winner.
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"postpilot/internal/models"
)

// PostFilter narrows a post listing.
type PostFilter struct {
	Status   models.PostStatus
	Platform models.Platform
	UserID   uint
	Page     int
	PerPage  int
}

// PostRepository defines the interface for post data access.
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id uint) (*models.Post, error)
	List(ctx context.Context, filter PostFilter) ([]models.Post, int64, error)
	// DuePosts returns scheduled posts whose time has come and whose retry
	// gate, if set, has opened.
	DuePosts(ctx context.Context, now time.Time) ([]models.Post, error)
	// StalePublishing returns posts stuck in publishing since before cutoff,
	// i.e. claims orphaned by a crashed sweep.
	StalePublishing(ctx context.Context, cutoff time.Time) ([]models.Post, error)
	// StaleDrafts returns posts stuck in draft since before cutoff. Drafts
	// only persist when the generation handshake was interrupted.
	StaleDrafts(ctx context.Context, cutoff time.Time) ([]models.Post, error)
	// UpdateIf applies updates to the post only if every expected column still
	// holds its expected value. It reports whether the update was applied.
	UpdateIf(ctx context.Context, id uint, expected map[string]any, updates map[string]any) (bool, error)
}

type postRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new post repository instance.
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	if !models.ValidStatePair(post.Status, post.ApprovalState) {
		return models.NewValidationError("invalid lifecycle state pair")
	}
	return r.db.WithContext(ctx).Create(post).Error
}

func (r *postRepository) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	err := r.db.WithContext(ctx).First(&post, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("post", id)
		}
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) List(ctx context.Context, filter PostFilter) ([]models.Post, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Post{})

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Platform != "" {
		query = query.Where("platform = ?", filter.Platform)
	}
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	var posts []models.Post
	err := query.Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&posts).Error
	return posts, total, err
}

func (r *postRepository) DuePosts(ctx context.Context, now time.Time) ([]models.Post, error) {
	var posts []models.Post
	err := r.db.WithContext(ctx).
		Where("status = ?", models.PostStatusScheduled).
		Where("scheduled_for IS NOT NULL AND scheduled_for <= ?", now).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("scheduled_for ASC").
		Find(&posts).Error
	return posts, err
}

func (r *postRepository) StalePublishing(ctx context.Context, cutoff time.Time) ([]models.Post, error) {
	var posts []models.Post
	err := r.db.WithContext(ctx).
		Where("status = ?", models.PostStatusPublishing).
		Where("updated_at < ?", cutoff).
		Find(&posts).Error
	return posts, err
}

func (r *postRepository) StaleDrafts(ctx context.Context, cutoff time.Time) ([]models.Post, error) {
	var posts []models.Post
	err := r.db.WithContext(ctx).
		Where("status = ?", models.PostStatusDraft).
		Where("created_at < ?", cutoff).
		Find(&posts).Error
	return posts, err
}

// UpdateIf is the single write path for lifecycle transitions. The expected
// columns ride in the WHERE clause, so a concurrent writer that already moved
// the row causes RowsAffected == 0 rather than a double transition.
func (r *postRepository) UpdateIf(ctx context.Context, id uint, expected map[string]any, updates map[string]any) (bool, error) {
	query := r.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id)
	for col, val := range expected {
		query = query.Where(col+" = ?", val)
	}
	res := query.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
