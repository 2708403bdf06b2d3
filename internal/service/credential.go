package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"postpilot/internal/config"
	"postpilot/internal/middleware"
	"postpilot/internal/models"
	"postpilot/internal/observability"
	"postpilot/internal/repository"
)

// TokenRefresher exchanges a refresh token for fresh token material.
type TokenRefresher interface {
	Refresh(ctx context.Context, platform models.Platform, refreshToken string) (*oauth2.Token, error)
}

// OAuthRefresher performs refresh_token grants against the per-platform
// OAuth token endpoints. The initial consent handshake happens elsewhere.
type OAuthRefresher struct {
	configs map[models.Platform]*oauth2.Config
}

// NewOAuthRefresher builds a refresher from the configured client settings.
func NewOAuthRefresher(cfg *config.Config) *OAuthRefresher {
	return &OAuthRefresher{
		configs: map[models.Platform]*oauth2.Config{
			models.PlatformTwitter: {
				ClientID:     cfg.TwitterClientID,
				ClientSecret: cfg.TwitterClientSecret,
				Endpoint:     oauth2.Endpoint{TokenURL: cfg.TwitterTokenURL},
			},
			models.PlatformLinkedIn: {
				ClientID:     cfg.LinkedInClientID,
				ClientSecret: cfg.LinkedInClientSecret,
				Endpoint:     oauth2.Endpoint{TokenURL: cfg.LinkedInTokenURL},
			},
		},
	}
}

// Refresh exchanges the refresh token at the platform's token endpoint.
func (r *OAuthRefresher) Refresh(ctx context.Context, platform models.Platform, refreshToken string) (*oauth2.Token, error) {
	conf, ok := r.configs[platform]
	if !ok || conf.ClientID == "" {
		return nil, fmt.Errorf("no oauth client configured for %s", platform)
	}
	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh grant failed: %w", err)
	}
	return token, nil
}

// CredentialService owns valid-token lookup with on-demand refresh.
type CredentialService interface {
	// GetValidToken returns a credential whose access token is valid at call
	// time, refreshing it first when necessary.
	GetValidToken(ctx context.Context, userID uint, platform models.Platform) (*models.PlatformCredential, error)
}

type credentialService struct {
	repo      repository.CredentialRepository
	refresher TokenRefresher
	now       func() time.Time

	// mu guards locks; each (user, platform) pair gets its own mutex so
	// refreshes against one refresh token are serialized. Concurrent refreshes
	// would invalidate each other at most providers.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCredentialService creates a credential service instance.
func NewCredentialService(repo repository.CredentialRepository, refresher TokenRefresher) CredentialService {
	return &credentialService{
		repo:      repo,
		refresher: refresher,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *credentialService) keyLock(userID uint, platform models.Platform) *sync.Mutex {
	key := fmt.Sprintf("%d:%s", userID, platform)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *credentialService) GetValidToken(ctx context.Context, userID uint, platform models.Platform) (*models.PlatformCredential, error) {
	cred, err := s.repo.GetByUserPlatform(ctx, userID, platform)
	if err != nil {
		return nil, err
	}
	if !cred.Expired(s.now()) {
		return cred, nil
	}

	lock := s.keyLock(userID, platform)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a concurrent caller may have refreshed already.
	cred, err = s.repo.GetByUserPlatform(ctx, userID, platform)
	if err != nil {
		return nil, err
	}
	if !cred.Expired(s.now()) {
		return cred, nil
	}

	if cred.RefreshToken == "" {
		return nil, &models.CredentialError{Reason: models.CredentialExpired, Platform: platform}
	}

	token, err := s.refresher.Refresh(ctx, platform, cred.RefreshToken)
	if err != nil {
		observability.CredentialRefreshes.WithLabelValues(string(platform), "error").Inc()
		return nil, &models.CredentialError{Reason: models.CredentialRefreshFailed, Platform: platform, Err: err}
	}

	applied, err := s.repo.UpdateTokenIf(ctx, cred.ID, cred.AccessToken, token.AccessToken, token.RefreshToken, token.Expiry)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Another writer got there first; their token is the live one.
		middleware.Logger.InfoContext(ctx, "credential refresh lost conditional write",
			slog.Uint64("user_id", uint64(userID)), slog.String("platform", string(platform)))
	}
	observability.CredentialRefreshes.WithLabelValues(string(platform), "ok").Inc()

	cred, err = s.repo.GetByUserPlatform(ctx, userID, platform)
	if err != nil {
		return nil, err
	}
	if cred.Expired(s.now()) {
		return nil, &models.CredentialError{Reason: models.CredentialExpired, Platform: platform}
	}
	return cred, nil
}
