package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"postpilot/internal/config"
	"postpilot/internal/featureflags"
	"postpilot/internal/middleware"
	"postpilot/internal/models"
	"postpilot/internal/repository"
	"postpilot/internal/service"
)

func setupHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "server_test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Post{},
		&models.ApprovalRequest{},
		&models.PlatformCredential{},
		&models.ContentItem{},
	))
	return db
}

func newTestServer(t *testing.T) (*Server, *gorm.DB) {
	t.Helper()

	db := setupHandlerTestDB(t)
	approvals := repository.NewApprovalRepository(db)
	posts := repository.NewPostRepository(db)
	tokens := service.NewActionTokenCodec("handler-test-secret")
	gateway := service.NewApprovalGateway(approvals, posts, nil, tokens, "http://localhost:8464", 24*time.Hour)

	s := &Server{
		App:     fiber.New(),
		cfg:     &config.Config{TelegramWebhookSecret: "hook-secret"},
		db:      db,
		posts:   posts,
		gateway: gateway,
		flags:   featureflags.NewManager(""),
	}
	s.setupRoutes()
	s.startWebhookWorker()
	return s, db
}

func TestLivenessEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListPostsFiltersByStatus(t *testing.T) {
	t.Parallel()

	s, db := newTestServer(t)
	user := models.User{Email: "list@example.com"}
	require.NoError(t, db.Create(&user).Error)

	for _, status := range []models.PostStatus{models.PostStatusDraft, models.PostStatusScheduled, models.PostStatusScheduled} {
		post := models.Post{
			UserID:        user.ID,
			Platform:      models.PlatformTwitter,
			Content:       "queued post",
			Status:        status,
			ApprovalState: models.ApprovalAuto,
		}
		require.NoError(t, db.Create(&post).Error)
	}

	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/api/posts?status=scheduled", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body postListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(2), body.Total)
	for _, p := range body.Posts {
		assert.Equal(t, models.PostStatusScheduled, p.Status)
	}
}

func TestGetPostNotFound(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/api/posts/9999", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetPostRejectsBadID(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/api/posts/not-a-number", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestActionLinkRequiresToken(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/api/approvals/act", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestActionLinkRejectsTamperedToken(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/api/approvals/act?token=not.a.jwt", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookRequiresSecret(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/telegram", strings.NewReader(`{}`))
	resp, err := s.App.Test(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/webhook/telegram", strings.NewReader(`{}`))
	req.Header.Set(middleware.TelegramSecretHeader, "hook-secret")
	resp, err = s.App.Test(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFlagsEndpointListsDefaults(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	resp, err := s.App.Test(httptest.NewRequest(http.MethodGet, "/api/flags", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var flags map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&flags))
	assert.True(t, flags["publish_retries"])
}

func TestWebhookBurstIsBoundedAndAcked(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	// Swap in a queue nothing drains so saturation is observable.
	s.webhookJobs = make(chan []byte, webhookQueueCap)

	for i := 0; i < webhookQueueCap+5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook/telegram", strings.NewReader(`{}`))
		req.Header.Set(middleware.TelegramSecretHeader, "hook-secret")
		resp, err := s.App.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "overflow deliveries are still acked")
		_ = resp.Body.Close()
	}

	assert.Len(t, s.webhookJobs, webhookQueueCap, "queued updates never exceed the cap")
}
