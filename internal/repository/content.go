package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"postpilot/internal/models"
)

// ContentRepository defines the interface for content item data access.
type ContentRepository interface {
	Create(ctx context.Context, item *models.ContentItem) error
	// ListUnprocessed returns unprocessed items at or above the relevance
	// floor, most relevant first.
	ListUnprocessed(ctx context.Context, minRelevance, limit int) ([]models.ContentItem, error)
	MarkProcessed(ctx context.Context, id uint) error
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type contentRepository struct {
	db *gorm.DB
}

// NewContentRepository creates a new content repository instance.
func NewContentRepository(db *gorm.DB) ContentRepository {
	return &contentRepository{db: db}
}

func (r *contentRepository) Create(ctx context.Context, item *models.ContentItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *contentRepository) ListUnprocessed(ctx context.Context, minRelevance, limit int) ([]models.ContentItem, error) {
	if limit <= 0 {
		limit = 10
	}
	var items []models.ContentItem
	err := r.db.WithContext(ctx).
		Where("processed = ? AND relevance_score >= ?", false, minRelevance).
		Order("relevance_score DESC, fetched_at DESC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *contentRepository) MarkProcessed(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.ContentItem{}).
		Where("id = ?", id).
		Update("processed", true).Error
}

func (r *contentRepository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("processed = ? AND fetched_at < ?", true, cutoff).
		Delete(&models.ContentItem{})
	return res.RowsAffected, res.Error
}
