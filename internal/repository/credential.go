package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"postpilot/internal/models"
)

// CredentialRepository defines the interface for platform credential data access.
type CredentialRepository interface {
	GetByUserPlatform(ctx context.Context, userID uint, platform models.Platform) (*models.PlatformCredential, error)
	Upsert(ctx context.Context, cred *models.PlatformCredential) error
	// UpdateTokenIf writes the refreshed token only if the stored access token
	// is still the one the refresh started from. A lost write means another
	// refresher already succeeded, which is fine.
	UpdateTokenIf(ctx context.Context, id uint, oldAccessToken, newAccessToken, newRefreshToken string, expiresAt time.Time) (bool, error)
}

type credentialRepository struct {
	db *gorm.DB
}

// NewCredentialRepository creates a new credential repository instance.
func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &credentialRepository{db: db}
}

func (r *credentialRepository) GetByUserPlatform(ctx context.Context, userID uint, platform models.Platform) (*models.PlatformCredential, error) {
	var cred models.PlatformCredential
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, platform).
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &models.CredentialError{Reason: models.CredentialMissing, Platform: platform}
		}
		return nil, err
	}
	return &cred, nil
}

func (r *credentialRepository) Upsert(ctx context.Context, cred *models.PlatformCredential) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_token", "refresh_token", "expires_at", "account_ref", "account_handle", "updated_at",
		}),
	}).Create(cred).Error
}

func (r *credentialRepository) UpdateTokenIf(ctx context.Context, id uint, oldAccessToken, newAccessToken, newRefreshToken string, expiresAt time.Time) (bool, error) {
	updates := map[string]any{
		"access_token": newAccessToken,
		"expires_at":   expiresAt,
	}
	if newRefreshToken != "" {
		updates["refresh_token"] = newRefreshToken
	}
	res := r.db.WithContext(ctx).Model(&models.PlatformCredential{}).
		Where("id = ? AND access_token = ?", id, oldAccessToken).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
