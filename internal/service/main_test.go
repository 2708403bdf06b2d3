package service

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"postpilot/internal/featureflags"
	"postpilot/internal/models"
	"postpilot/internal/platform"
	"postpilot/internal/repository"
)

func newTestFlags() *featureflags.Manager {
	return featureflags.NewManager("")
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.User{},
		&models.ContentItem{},
		&models.Post{},
		&models.ApprovalRequest{},
		&models.PlatformCredential{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// fakeChannel records channel traffic and fails on demand.
type fakeChannel struct {
	mu        sync.Mutex
	sendErr   error
	sent      []models.ApprovalPrompt
	notices   []string
	acks      []string
	disabled  []string
	nextRef   int
	destsSeen []string
}

func (c *fakeChannel) SendApproval(_ context.Context, destination string, prompt models.ApprovalPrompt) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.sent = append(c.sent, prompt)
	c.destsSeen = append(c.destsSeen, destination)
	c.nextRef++
	return "msg-" + strconv.Itoa(c.nextRef), nil
}

func (c *fakeChannel) AcknowledgeCallback(_ context.Context, callbackID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acks = append(c.acks, callbackID+":"+text)
	return nil
}

func (c *fakeChannel) DisableActions(_ context.Context, _, messageRef string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled = append(c.disabled, messageRef)
	return nil
}

func (c *fakeChannel) Notify(_ context.Context, _, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, text)
	return nil
}

// fakePublisher counts publish calls and returns a scripted outcome.
type fakePublisher struct {
	platform models.Platform
	mu       sync.Mutex
	calls    int
	result   *platform.PublishResult
	err      error
}

func (p *fakePublisher) Platform() models.Platform { return p.platform }

func (p *fakePublisher) Format(text string, hashtags []string) string {
	out := text
	for _, h := range hashtags {
		out += " #" + h
	}
	return out
}

func (p *fakePublisher) Publish(_ context.Context, _ platform.PublishRequest) (*platform.PublishResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if p.result != nil {
		return p.result, nil
	}
	return &platform.PublishResult{ExternalID: "ext-1", ExternalURL: "https://example.com/ext-1"}, nil
}

func (p *fakePublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeGenerator returns fixed text or a scripted error per platform.
type fakeGenerator struct {
	errFor map[models.Platform]error
}

func (g *fakeGenerator) Generate(_ context.Context, item *models.ContentItem, plat models.Platform) (string, []string, error) {
	if g.errFor != nil {
		if err := g.errFor[plat]; err != nil {
			return "", nil, err
		}
	}
	return item.Title, []string{"tag"}, nil
}

// fakeCredentials returns a fixed credential or error.
type fakeCredentials struct {
	cred *models.PlatformCredential
	err  error
}

func (c *fakeCredentials) GetValidToken(_ context.Context, _ uint, _ models.Platform) (*models.PlatformCredential, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.cred != nil {
		return c.cred, nil
	}
	return &models.PlatformCredential{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

// stubRefresher scripts the credential refresh outcome.
type stubRefresher struct {
	mu    sync.Mutex
	calls int
	token *oauth2.Token
	err   error
	delay time.Duration
}

func (r *stubRefresher) Refresh(_ context.Context, _ models.Platform, _ string) (*oauth2.Token, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.token, nil
}

func (r *stubRefresher) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// testEnv wires an orchestrator and gateway over a sqlite store with fakes
// for every external collaborator.
type testEnv struct {
	db          *gorm.DB
	posts       repository.PostRepository
	approvals   repository.ApprovalRepository
	contents    repository.ContentRepository
	users       repository.UserRepository
	channel     *fakeChannel
	publisher   *fakePublisher
	credentials *fakeCredentials
	gateway     *ApprovalGateway
	orch        *Orchestrator
	now         time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	env := &testEnv{
		db:          db,
		posts:       repository.NewPostRepository(db),
		approvals:   repository.NewApprovalRepository(db),
		contents:    repository.NewContentRepository(db),
		users:       repository.NewUserRepository(db),
		channel:     &fakeChannel{},
		publisher:   &fakePublisher{platform: models.PlatformTwitter},
		credentials: &fakeCredentials{},
		now:         time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
	}

	env.gateway = NewApprovalGateway(env.approvals, env.posts, env.channel,
		NewActionTokenCodec("test-secret"), "http://localhost:8464", 24*time.Hour)
	env.gateway.now = func() time.Time { return env.now }

	env.orch = NewOrchestrator(
		env.posts, env.approvals, env.contents, env.users,
		env.credentials,
		[]platform.Publisher{env.publisher},
		&fakeGenerator{},
		env.gateway,
		newTestFlags(),
		OrchestratorConfig{
			ApprovalWindow:     24 * time.Hour,
			PublishHours:       []int{9, 14, 18},
			PublishWorkers:     3,
			MaxPublishAttempts: 3,
			RetryBaseDelay:     15 * time.Minute,
		},
	)
	env.orch.now = func() time.Time { return env.now }
	env.gateway.SetResolver(env.orch)
	return env
}

func (env *testEnv) createUser(t *testing.T, autoPublish bool, chatID string) *models.User {
	t.Helper()
	user := &models.User{Email: "u" + chatID + "@example.com", TelegramChatID: chatID, AutoPublish: autoPublish}
	if err := env.users.Create(context.Background(), user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func (env *testEnv) createItem(t *testing.T, userID uint, relevance int) *models.ContentItem {
	t.Helper()
	item := &models.ContentItem{
		UserID:         userID,
		Title:          "Go 1.26 released",
		URL:            "https://example.com/go",
		RelevanceScore: relevance,
		FetchedAt:      env.now,
	}
	if err := env.contents.Create(context.Background(), item); err != nil {
		t.Fatalf("failed to create content item: %v", err)
	}
	return item
}
