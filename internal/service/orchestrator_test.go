package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/models"
	"postpilot/internal/repository"
)

func (env *testEnv) createDuePost(t *testing.T, userID uint) *models.Post {
	t.Helper()
	at := env.now.Add(-time.Hour)
	post := &models.Post{
		UserID:        userID,
		Platform:      models.PlatformTwitter,
		Content:       "due content",
		Status:        models.PostStatusScheduled,
		ApprovalState: models.ApprovalAuto,
		ScheduledFor:  &at,
	}
	require.NoError(t, env.posts.Create(context.Background(), post))
	return post
}

func TestNextSlot(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		after time.Time
		want  time.Time
	}{
		{
			name:  "between slots",
			after: time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
			want:  time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		},
		{
			name:  "exactly on a slot is strictly after",
			after: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
			want:  time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC),
		},
		{
			name:  "past last slot rolls to next day",
			after: time.Date(2026, 3, 2, 19, 0, 0, 0, time.UTC),
			want:  time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
		},
		{
			name:  "before first slot",
			after: time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC),
			want:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, env.orch.NextSlot(tt.after))
		})
	}
}

func TestGenerateAutoPublish(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.createUser(t, true, "chat-1")
	item := env.createItem(t, user.ID, 90)

	results := env.orch.Generate(ctx, item, user, env.orch.Platforms(), false)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, models.PostStatusScheduled, results[0].Status)

	post, err := env.posts.GetByID(ctx, results[0].PostID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalAuto, post.ApprovalState)
	require.NotNil(t, post.ScheduledFor)
	assert.Equal(t, time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC), post.ScheduledFor.UTC())
	assert.Empty(t, env.channel.sent, "auto-publish must not send approval requests")
}

func TestGenerateWithApprovalThenApprove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.createUser(t, false, "chat-2")
	item := env.createItem(t, user.ID, 90)

	results := env.orch.Generate(ctx, item, user, env.orch.Platforms(), true)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, models.PostStatusPendingApproval, results[0].Status)
	require.Len(t, env.channel.sent, 1)

	post, err := env.posts.GetByID(ctx, results[0].PostID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, post.ApprovalState)
	assert.NotEmpty(t, post.ApprovalMessageRef)

	req, err := env.approvals.UnresolvedByPost(ctx, post.ID)
	require.NoError(t, err)

	env.gateway.HandleInboundEvent(ctx, &models.InboundEvent{
		CallbackID:  "cb-1",
		ActionToken: models.EncodeCallback(models.ActionApprove, req.RequestID),
		Actor:       "@alice",
	})

	post, err = env.posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusScheduled, post.Status)
	assert.Equal(t, models.ApprovalApproved, post.ApprovalState)
	require.NotNil(t, post.ScheduledFor)
	assert.Equal(t, time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC), post.ScheduledFor.UTC())

	settled, err := env.approvals.GetByRequestID(ctx, req.RequestID)
	require.NoError(t, err)
	assert.True(t, settled.Resolved)
	assert.Equal(t, models.ResolutionApproved, settled.Resolution)
	assert.Equal(t, "@alice", settled.ResolvedBy)

	// Duplicate and contradictory events change nothing.
	env.gateway.HandleInboundEvent(ctx, &models.InboundEvent{
		CallbackID:  "cb-2",
		ActionToken: models.EncodeCallback(models.ActionReject, req.RequestID),
		Actor:       "@bob",
	})
	post, err = env.posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusScheduled, post.Status)
	assert.Equal(t, models.ApprovalApproved, post.ApprovalState)
}

func TestGenerateApprovalSendFailureFallsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.createUser(t, false, "chat-3")
	item := env.createItem(t, user.ID, 90)
	env.channel.sendErr = assert.AnError

	results := env.orch.Generate(ctx, item, user, env.orch.Platforms(), true)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, models.PostStatusScheduled, results[0].Status)

	post, err := env.posts.GetByID(ctx, results[0].PostID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusScheduled, post.Status)
	assert.Equal(t, models.ApprovalAuto, post.ApprovalState)
}

func TestGenerateGeneratorFailureIsIsolated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	second := &fakePublisher{platform: models.PlatformLinkedIn}
	env.orch.publishers[models.PlatformLinkedIn] = second
	env.orch.generator = &fakeGenerator{errFor: map[models.Platform]error{
		models.PlatformLinkedIn: models.NewGenerationError(models.PlatformLinkedIn, assert.AnError),
	}}

	user := env.createUser(t, true, "chat-4")
	item := env.createItem(t, user.ID, 90)

	results := env.orch.Generate(ctx, item, user, env.orch.Platforms(), false)
	require.Len(t, results, 2)

	byPlatform := map[models.Platform]GenerateResult{}
	for _, r := range results {
		byPlatform[r.Platform] = r
	}
	assert.Error(t, byPlatform[models.PlatformLinkedIn].Err)
	require.NoError(t, byPlatform[models.PlatformTwitter].Err)
	assert.Equal(t, models.PostStatusScheduled, byPlatform[models.PlatformTwitter].Status)
}

func TestGenerateFromContentRespectsRelevance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.createUser(t, true, "chat-5")
	relevant := env.createItem(t, user.ID, 85)
	irrelevant := env.createItem(t, user.ID, 30)

	require.NoError(t, env.orch.GenerateFromContent(ctx))

	posts, total, err := env.posts.List(ctx, repository.PostFilter{UserID: user.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, relevant.ID, posts[0].ContentItemID)

	remaining, err := env.contents.ListUnprocessed(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, irrelevant.ID, remaining[0].ID)
}

func TestExpireStalePendingApprovals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.createUser(t, false, "chat-6")
	item := env.createItem(t, user.ID, 90)
	results := env.orch.Generate(ctx, item, user, env.orch.Platforms(), true)
	require.NoError(t, results[0].Err)

	req, err := env.approvals.UnresolvedByPost(ctx, results[0].PostID)
	require.NoError(t, err)

	env.now = env.now.Add(25 * time.Hour)
	require.NoError(t, env.orch.ExpireStalePendingApprovals(ctx))

	post, err := env.posts.GetByID(ctx, results[0].PostID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusCancelled, post.Status)
	assert.Equal(t, models.ApprovalExpired, post.ApprovalState)

	settled, err := env.approvals.GetByRequestID(ctx, req.RequestID)
	require.NoError(t, err)
	assert.True(t, settled.Resolved)
	assert.Equal(t, models.ResolutionExpired, settled.Resolution)
	assert.Contains(t, env.channel.disabled, req.MessageRef)
}

func TestExpiryApprovalRaceHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.createUser(t, false, "chat-7")
	item := env.createItem(t, user.ID, 90)
	results := env.orch.Generate(ctx, item, user, env.orch.Platforms(), true)
	require.NoError(t, results[0].Err)
	postID := results[0].PostID

	req, err := env.approvals.UnresolvedByPost(ctx, postID)
	require.NoError(t, err)

	env.now = env.now.Add(25 * time.Hour)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = env.orch.ExpireStalePendingApprovals(ctx)
	}()
	go func() {
		defer wg.Done()
		env.gateway.HandleInboundEvent(ctx, &models.InboundEvent{
			CallbackID:  "cb-race",
			ActionToken: models.EncodeCallback(models.ActionApprove, req.RequestID),
			Actor:       "@alice",
		})
	}()
	wg.Wait()

	post, err := env.posts.GetByID(ctx, postID)
	require.NoError(t, err)
	assert.Contains(t, []models.PostStatus{models.PostStatusCancelled, models.PostStatusScheduled}, post.Status)
	assert.True(t, models.ValidStatePair(post.Status, post.ApprovalState),
		"post ended in mixed state (%s, %s)", post.Status, post.ApprovalState)
}

func TestPublishDueBatchPublishes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.createUser(t, true, "chat-8")
	post := env.createDuePost(t, user.ID)

	require.NoError(t, env.orch.PublishDueBatch(ctx))

	got, err := env.posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusPublished, got.Status)
	assert.Equal(t, "ext-1", got.ExternalID)
	assert.Equal(t, "https://example.com/ext-1", got.ExternalURL)
	require.NotNil(t, got.PublishedAt)
	assert.Equal(t, 1, env.publisher.callCount())
	assert.NotEmpty(t, env.channel.notices)
}

func TestPublishClaimExclusivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.createUser(t, true, "chat-9")
	env.createDuePost(t, user.ID)

	const sweeps = 6
	var wg sync.WaitGroup
	for i := 0; i < sweeps; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = env.orch.PublishDueBatch(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, env.publisher.callCount(), "exactly one sweep may publish")
}

func TestPublishRetryOnRateLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.createUser(t, true, "chat-10")
	post := env.createDuePost(t, user.ID)
	env.publisher.err = &models.PlatformError{
		Kind: models.PlatformRateLimited, Platform: models.PlatformTwitter, StatusCode: 429, Message: "slow down",
	}

	require.NoError(t, env.orch.PublishDueBatch(ctx))

	got, err := env.posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusScheduled, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.NextAttemptAt)
	assert.Equal(t, env.now.Add(15*time.Minute).UTC(), got.NextAttemptAt.UTC())
	assert.Contains(t, got.ErrorMessage, "slow down")

	// The retry gate keeps the post out of an immediate second sweep.
	require.NoError(t, env.orch.PublishDueBatch(ctx))
	assert.Equal(t, 1, env.publisher.callCount())

	// Once the gate opens and the platform recovers, the post publishes.
	env.now = env.now.Add(20 * time.Minute)
	env.publisher.err = nil
	require.NoError(t, env.orch.PublishDueBatch(ctx))

	got, err = env.posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusPublished, got.Status)
}

func TestPublishValidationFailureIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.createUser(t, true, "chat-11")
	post := env.createDuePost(t, user.ID)
	env.publisher.err = &models.PlatformError{
		Kind: models.PlatformValidation, Platform: models.PlatformTwitter, StatusCode: 400, Message: "bad payload",
	}

	require.NoError(t, env.orch.PublishDueBatch(ctx))

	got, err := env.posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Contains(t, got.ErrorMessage, "bad payload")
	assert.NotEmpty(t, env.channel.notices)
}

func TestPublishRetryCeilingExhausts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.createUser(t, true, "chat-12")
	post := env.createDuePost(t, user.ID)
	_, err := env.posts.UpdateIf(ctx, post.ID,
		map[string]any{"status": models.PostStatusScheduled},
		map[string]any{"retry_count": 2})
	require.NoError(t, err)

	env.publisher.err = &models.PlatformError{
		Kind: models.PlatformRateLimited, Platform: models.PlatformTwitter, StatusCode: 429, Message: "still throttled",
	}

	require.NoError(t, env.orch.PublishDueBatch(ctx))

	got, err := env.posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
}

func TestPublishCredentialErrorIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.createUser(t, true, "chat-13")
	post := env.createDuePost(t, user.ID)
	env.credentials.err = &models.CredentialError{Reason: models.CredentialExpired, Platform: models.PlatformTwitter}

	require.NoError(t, env.orch.PublishDueBatch(ctx))

	got, err := env.posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "expired")
	assert.Equal(t, 0, env.publisher.callCount(), "no platform call on credential failure")
}

func TestRecoverStaleClaims(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.createUser(t, true, "chat-14")
	post := env.createDuePost(t, user.ID)

	claimed, err := env.posts.UpdateIf(ctx, post.ID,
		map[string]any{"status": models.PostStatusScheduled},
		map[string]any{"status": models.PostStatusPublishing})
	require.NoError(t, err)
	require.True(t, claimed)

	// Age the claim past the stale threshold; the next sweep fails it out.
	require.NoError(t, env.db.Model(&models.Post{}).Where("id = ?", post.ID).
		Update("updated_at", env.now.Add(-2*time.Hour)).Error)
	require.NoError(t, env.orch.PublishDueBatch(ctx))

	got, err := env.posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusFailed, got.Status)
	assert.Equal(t, "publish attempt interrupted", got.ErrorMessage)
	assert.Equal(t, 0, env.publisher.callCount())
}

func TestCleanupOldData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.createUser(t, true, "chat-15")

	oldItem := env.createItem(t, user.ID, 50)
	require.NoError(t, env.contents.MarkProcessed(ctx, oldItem.ID))
	require.NoError(t, env.db.Model(&models.ContentItem{}).Where("id = ?", oldItem.ID).
		Update("fetched_at", env.now.AddDate(0, 0, -45)).Error)

	freshItem := env.createItem(t, user.ID, 50)
	require.NoError(t, env.contents.MarkProcessed(ctx, freshItem.ID))

	require.NoError(t, env.orch.CleanupOldData(ctx))

	var count int64
	require.NoError(t, env.db.Model(&models.ContentItem{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

// flakyApprovalRepo fails request creation on demand while delegating
// everything else to the real repository.
type flakyApprovalRepo struct {
	repository.ApprovalRepository
	createErr error
}

func (r *flakyApprovalRepo) Create(ctx context.Context, req *models.ApprovalRequest) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.ApprovalRepository.Create(ctx, req)
}

func TestStaleDraftRecoveredAfterRequestRecordFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.createUser(t, false, "chat-60")
	item := env.createItem(t, user.ID, 90)

	env.gateway.approvals = &flakyApprovalRepo{
		ApprovalRepository: env.approvals,
		createErr:          errors.New("insert failed"),
	}

	results := env.orch.Generate(ctx, item, user, env.orch.Platforms(), true)
	require.Error(t, results[0].Err)
	require.Len(t, env.channel.sent, 1, "the prompt was delivered before the record failure")

	post, err := env.posts.GetByID(ctx, results[0].PostID)
	require.NoError(t, err)
	require.Equal(t, models.PostStatusDraft, post.Status)

	// A fresh draft is left alone by both sweeps.
	require.NoError(t, env.orch.PublishDueBatch(ctx))
	require.NoError(t, env.orch.ExpireStalePendingApprovals(ctx))
	got, err := env.posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	require.Equal(t, models.PostStatusDraft, got.Status)
	assert.Equal(t, 0, env.publisher.callCount())

	// Past the approval window the expiry sweep cancels it.
	require.NoError(t, env.db.Model(&models.Post{}).Where("id = ?", post.ID).
		Update("created_at", env.now.Add(-25*time.Hour)).Error)
	require.NoError(t, env.orch.ExpireStalePendingApprovals(ctx))

	got, err = env.posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusCancelled, got.Status)
	assert.Equal(t, models.ApprovalExpired, got.ApprovalState)
	assert.True(t, models.ValidStatePair(got.Status, got.ApprovalState))
}

func TestStaleDraftWithRecordedRequestSettlesBoth(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user := env.createUser(t, false, "chat-61")
	post := &models.Post{
		UserID:        user.ID,
		Platform:      models.PlatformTwitter,
		Content:       "orphaned draft",
		Status:        models.PostStatusDraft,
		ApprovalState: models.ApprovalPending,
	}
	require.NoError(t, env.posts.Create(ctx, post))

	// The request row landed but the pending_approval transition never did.
	req := &models.ApprovalRequest{
		RequestID:   "req-orphan-draft",
		PostID:      post.ID,
		Destination: user.TelegramChatID,
		MessageRef:  "msg-9",
		SentAt:      env.now,
		ExpiresAt:   env.now.Add(24 * time.Hour),
	}
	require.NoError(t, env.approvals.Create(ctx, req))

	require.NoError(t, env.db.Model(&models.Post{}).Where("id = ?", post.ID).
		Update("created_at", env.now.Add(-25*time.Hour)).Error)
	require.NoError(t, env.orch.ExpireStalePendingApprovals(ctx))

	got, err := env.posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusCancelled, got.Status)

	settled, err := env.approvals.GetByRequestID(ctx, req.RequestID)
	require.NoError(t, err)
	assert.True(t, settled.Resolved)
	assert.Equal(t, models.ResolutionExpired, settled.Resolution)
	assert.Contains(t, env.channel.disabled, "msg-9", "the delivered prompt's buttons are disabled")
	assert.NotEmpty(t, env.channel.notices)
}
