package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"postpilot/internal/cache"
	"postpilot/internal/featureflags"
	"postpilot/internal/generator"
	"postpilot/internal/middleware"
	"postpilot/internal/models"
	"postpilot/internal/observability"
	"postpilot/internal/platform"
	"postpilot/internal/repository"
)

// OrchestratorConfig holds the lifecycle tuning knobs.
type OrchestratorConfig struct {
	ApprovalWindow     time.Duration
	PublishHours       []int
	PublishWorkers     int
	MaxPublishAttempts int
	RetryBaseDelay     time.Duration
	RetentionDays      int
	MinRelevance       int
	GenerateBatchSize  int
	// StaleClaimAge is how long a post may sit in publishing before the claim
	// is treated as orphaned by a crashed sweep.
	StaleClaimAge time.Duration
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.ApprovalWindow <= 0 {
		c.ApprovalWindow = 24 * time.Hour
	}
	if c.PublishWorkers <= 0 {
		c.PublishWorkers = 5
	}
	if c.MaxPublishAttempts <= 0 {
		c.MaxPublishAttempts = 3
	}
	if c.MinRelevance <= 0 {
		c.MinRelevance = 70
	}
	if c.GenerateBatchSize <= 0 {
		c.GenerateBatchSize = 5
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 15 * time.Minute
	}
	if c.StaleClaimAge <= 0 {
		c.StaleClaimAge = time.Hour
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
}

// Orchestrator owns every post lifecycle transition. All state changes run
// through the repository's conditional updates, which is what makes
// overlapping trigger firings and racing resolutions safe.
type Orchestrator struct {
	posts       repository.PostRepository
	approvals   repository.ApprovalRepository
	contents    repository.ContentRepository
	users       repository.UserRepository
	credentials CredentialService
	publishers  map[models.Platform]platform.Publisher
	generator   generator.ContentGenerator
	gateway     *ApprovalGateway
	flags       *featureflags.Manager
	cfg         OrchestratorConfig
	now         func() time.Time
}

// NewOrchestrator creates the lifecycle orchestrator.
func NewOrchestrator(
	posts repository.PostRepository,
	approvals repository.ApprovalRepository,
	contents repository.ContentRepository,
	users repository.UserRepository,
	credentials CredentialService,
	publishers []platform.Publisher,
	gen generator.ContentGenerator,
	gateway *ApprovalGateway,
	flags *featureflags.Manager,
	cfg OrchestratorConfig,
) *Orchestrator {
	cfg.applyDefaults()

	byPlatform := make(map[models.Platform]platform.Publisher, len(publishers))
	for _, p := range publishers {
		byPlatform[p.Platform()] = p
	}

	return &Orchestrator{
		posts:       posts,
		approvals:   approvals,
		contents:    contents,
		users:       users,
		credentials: credentials,
		publishers:  byPlatform,
		generator:   gen,
		gateway:     gateway,
		flags:       flags,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Platforms returns the configured publishing targets in stable order.
func (o *Orchestrator) Platforms() []models.Platform {
	out := make([]models.Platform, 0, len(o.publishers))
	for p := range o.publishers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NextSlot computes the earliest preferred publish time strictly after the
// given instant, rolling over to the next day's first slot when needed.
func (o *Orchestrator) NextSlot(after time.Time) time.Time {
	hours := append([]int(nil), o.cfg.PublishHours...)
	if len(hours) == 0 {
		return after.Add(time.Hour)
	}
	sort.Ints(hours)

	for day := 0; day <= 1; day++ {
		d := after.AddDate(0, 0, day)
		for _, h := range hours {
			slot := time.Date(d.Year(), d.Month(), d.Day(), h, 0, 0, 0, after.Location())
			if slot.After(after) {
				return slot
			}
		}
	}
	return after.Add(24 * time.Hour)
}

// GenerateResult reports the outcome of one platform's post creation.
type GenerateResult struct {
	Platform models.Platform
	PostID   uint
	Status   models.PostStatus
	Err      error
}

// GenerateFromContent is the generation sweep: it turns unprocessed
// high-relevance content items into posts for every configured platform.
func (o *Orchestrator) GenerateFromContent(ctx context.Context) error {
	if !o.flags.Enabled(featureflags.AutoGenerate) {
		return nil
	}
	defer observability.TrackBatch("generate")()

	items, err := o.contents.ListUnprocessed(ctx, o.cfg.MinRelevance, o.cfg.GenerateBatchSize)
	if err != nil {
		return err
	}

	for i := range items {
		item := &items[i]
		user, err := o.users.GetByID(ctx, item.UserID)
		if err != nil {
			middleware.Logger.WarnContext(ctx, "skipping content item with unknown owner",
				slog.Uint64("content_item_id", uint64(item.ID)), slog.String("error", err.Error()))
			continue
		}

		results := o.Generate(ctx, item, user, o.Platforms(), !user.AutoPublish)
		for _, res := range results {
			if res.Err != nil {
				middleware.Logger.WarnContext(ctx, "post generation failed",
					slog.Uint64("content_item_id", uint64(item.ID)),
					slog.String("platform", string(res.Platform)),
					slog.String("error", res.Err.Error()))
			}
		}

		if err := o.contents.MarkProcessed(ctx, item.ID); err != nil {
			middleware.Logger.ErrorContext(ctx, "failed to mark content item processed",
				slog.Uint64("content_item_id", uint64(item.ID)), slog.String("error", err.Error()))
		}
	}
	return nil
}

// Generate produces one post per requested platform. A generator failure on
// one platform never aborts the siblings. With approval required and the
// channel reachable, posts wait in pending_approval; a failed approval send
// falls back to the auto-approved path rather than stranding the post.
func (o *Orchestrator) Generate(ctx context.Context, item *models.ContentItem, user *models.User, platforms []models.Platform, requireApproval bool) []GenerateResult {
	results := make([]GenerateResult, 0, len(platforms))

	for _, plat := range platforms {
		res := o.generateOne(ctx, item, user, plat, requireApproval)
		results = append(results, res)
		if res.Err == nil {
			observability.PostsGenerated.WithLabelValues(string(plat), string(res.Status)).Inc()
		}
	}
	return results
}

func (o *Orchestrator) generateOne(ctx context.Context, item *models.ContentItem, user *models.User, plat models.Platform, requireApproval bool) GenerateResult {
	pub, ok := o.publishers[plat]
	if !ok {
		return GenerateResult{Platform: plat, Err: models.NewGenerationError(plat, errors.New("no publisher adapter configured"))}
	}

	text, hashtags, err := o.generator.Generate(ctx, item, plat)
	if err != nil {
		return GenerateResult{Platform: plat, Err: err}
	}

	now := o.now()
	scheduledFor := o.NextSlot(now)

	post := &models.Post{
		UserID:        user.ID,
		ContentItemID: item.ID,
		Platform:      plat,
		// Content is frozen in its platform-conformant form at generation
		// time; the publish path sends it verbatim.
		Content:      pub.Format(text, hashtags),
		Hashtags:     hashtags,
		ScheduledFor: &scheduledFor,
	}

	if !requireApproval {
		post.Status = models.PostStatusScheduled
		post.ApprovalState = models.ApprovalAuto
		if err := o.posts.Create(ctx, post); err != nil {
			return GenerateResult{Platform: plat, Err: err}
		}
		return GenerateResult{Platform: plat, PostID: post.ID, Status: post.Status}
	}

	post.Status = models.PostStatusDraft
	post.ApprovalState = models.ApprovalPending
	if err := o.posts.Create(ctx, post); err != nil {
		return GenerateResult{Platform: plat, Err: err}
	}

	req, err := o.gateway.SendApprovalRequest(ctx, post, user)
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) && appErr.Code == "APPROVAL_SEND_ERROR" {
			// Documented delivery-degradation policy: an unreachable approval
			// channel auto-approves rather than stranding the post in draft.
			middleware.Logger.WarnContext(ctx, "approval send failed, falling back to auto-approve",
				slog.Uint64("post_id", uint64(post.ID)), slog.String("error", err.Error()))
			applied, uerr := o.posts.UpdateIf(ctx, post.ID,
				map[string]any{"status": models.PostStatusDraft, "approval_status": models.ApprovalPending},
				map[string]any{"status": models.PostStatusScheduled, "approval_status": models.ApprovalAuto})
			if uerr != nil {
				return GenerateResult{Platform: plat, PostID: post.ID, Err: uerr}
			}
			if applied {
				return GenerateResult{Platform: plat, PostID: post.ID, Status: models.PostStatusScheduled}
			}
			return GenerateResult{Platform: plat, PostID: post.ID, Status: post.Status}
		}
		return GenerateResult{Platform: plat, PostID: post.ID, Err: err}
	}

	applied, err := o.posts.UpdateIf(ctx, post.ID,
		map[string]any{"status": models.PostStatusDraft, "approval_status": models.ApprovalPending},
		map[string]any{"status": models.PostStatusPendingApproval, "approval_message_ref": req.MessageRef})
	if err != nil {
		return GenerateResult{Platform: plat, PostID: post.ID, Err: err}
	}
	status := models.PostStatusPendingApproval
	if !applied {
		status = post.Status
	}
	return GenerateResult{Platform: plat, PostID: post.ID, Status: status}
}

// ResolveApproval is the atomic conditional approval transition. It succeeds
// only while the post is still pending; a second call, any duplicate human
// input, or a lost race against the expiry sweep is a no-op, not an error.
func (o *Orchestrator) ResolveApproval(ctx context.Context, postID uint, decision models.ApprovalDecision) (bool, error) {
	ctx = middleware.WithPostID(ctx, postID)

	expected := map[string]any{
		"status":          models.PostStatusPendingApproval,
		"approval_status": models.ApprovalPending,
	}

	var updates map[string]any
	var outcome string
	switch decision {
	case models.DecisionApprove:
		updates = map[string]any{
			"status":          models.PostStatusScheduled,
			"approval_status": models.ApprovalApproved,
			"scheduled_for":   o.NextSlot(o.now()),
		}
		outcome = string(models.ResolutionApproved)
	case models.DecisionReject:
		updates = map[string]any{
			"status":          models.PostStatusRejected,
			"approval_status": models.ApprovalRejected,
		}
		outcome = string(models.ResolutionRejected)
	default:
		return false, models.NewValidationError("unknown approval decision")
	}

	applied, err := o.posts.UpdateIf(ctx, postID, expected, updates)
	if err != nil {
		return false, err
	}
	if applied {
		observability.ApprovalResolutions.WithLabelValues(outcome).Inc()
		o.invalidatePost(ctx, postID)
		middleware.Logger.InfoContext(ctx, "approval resolved",
			slog.String("decision", string(decision)))
	}
	return applied, nil
}

// ExpireStalePendingApprovals cancels posts whose approval window elapsed.
// It races the human-response path per post; the first conditional write
// wins and the loser's attempt is a quiet no-op.
func (o *Orchestrator) ExpireStalePendingApprovals(ctx context.Context) error {
	defer observability.TrackBatch("expire")()

	o.recoverStaleDrafts(ctx)

	reqs, err := o.approvals.ExpiredUnresolved(ctx, o.now())
	if err != nil {
		return err
	}

	for i := range reqs {
		req := &reqs[i]
		ctx := middleware.WithPostID(ctx, req.PostID)

		applied, err := o.posts.UpdateIf(ctx, req.PostID,
			map[string]any{"status": models.PostStatusPendingApproval, "approval_status": models.ApprovalPending},
			map[string]any{"status": models.PostStatusCancelled, "approval_status": models.ApprovalExpired})
		if err != nil {
			middleware.Logger.ErrorContext(ctx, "expiry transition failed", slog.String("error", err.Error()))
			continue
		}

		if applied {
			if _, err := o.approvals.ResolveIf(ctx, req.ID, models.ResolutionExpired, "system", o.now()); err != nil {
				middleware.Logger.ErrorContext(ctx, "failed to settle expired request", slog.String("error", err.Error()))
			}
			observability.ApprovalResolutions.WithLabelValues(string(models.ResolutionExpired)).Inc()
			o.invalidatePost(ctx, req.PostID)
			o.gateway.CloseExpired(ctx, req)
			middleware.Logger.InfoContext(ctx, "approval expired, post cancelled")
			continue
		}

		// Lost the race: the post already moved on. Settle the request record
		// to match the post so the sweep stops revisiting it.
		o.settleOrphanedRequest(ctx, req)
	}
	return nil
}

// recoverStaleDrafts cancels posts stuck in draft past the approval window.
// A draft only persists when the generation handshake was interrupted, by a
// crash or a failed write between the channel send and the pending_approval
// transition. Any prompt that did go out resolves nothing, so the post is
// cancelled rather than re-driven with a duplicate prompt.
func (o *Orchestrator) recoverStaleDrafts(ctx context.Context) {
	stale, err := o.posts.StaleDrafts(ctx, o.now().Add(-o.cfg.ApprovalWindow))
	if err != nil {
		middleware.Logger.ErrorContext(ctx, "stale draft scan failed", slog.String("error", err.Error()))
		return
	}

	for _, post := range stale {
		ctx := middleware.WithPostID(ctx, post.ID)

		applied, err := o.posts.UpdateIf(ctx, post.ID,
			map[string]any{"status": models.PostStatusDraft, "approval_status": models.ApprovalPending},
			map[string]any{"status": models.PostStatusCancelled, "approval_status": models.ApprovalExpired})
		if err != nil || !applied {
			continue
		}

		observability.ApprovalResolutions.WithLabelValues(string(models.ResolutionExpired)).Inc()
		o.invalidatePost(ctx, post.ID)

		// A request row exists when the crash hit after it was recorded;
		// settle it and close the channel side so the buttons die too.
		if req, err := o.approvals.UnresolvedByPost(ctx, post.ID); err == nil {
			if _, err := o.approvals.ResolveIf(ctx, req.ID, models.ResolutionExpired, "system", o.now()); err != nil {
				middleware.Logger.WarnContext(ctx, "failed to settle stale draft request",
					slog.String("request_id", req.RequestID), slog.String("error", err.Error()))
			}
			o.gateway.CloseExpired(ctx, req)
		}

		middleware.Logger.WarnContext(ctx, "stale draft cancelled")
	}
}

// settleOrphanedRequest closes a request whose post transitioned without the
// request being resolved (e.g. a crash between the two writes).
func (o *Orchestrator) settleOrphanedRequest(ctx context.Context, req *models.ApprovalRequest) {
	post, err := o.posts.GetByID(ctx, req.PostID)
	if err != nil {
		return
	}

	var resolution models.ApprovalResolution
	switch post.Status {
	case models.PostStatusScheduled, models.PostStatusPublishing, models.PostStatusPublished, models.PostStatusFailed:
		resolution = models.ResolutionApproved
	case models.PostStatusRejected:
		resolution = models.ResolutionRejected
	default:
		resolution = models.ResolutionExpired
	}
	if _, err := o.approvals.ResolveIf(ctx, req.ID, resolution, "system", o.now()); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to settle orphaned approval request",
			slog.String("request_id", req.RequestID), slog.String("error", err.Error()))
	}
}

// PublishDueBatch claims and publishes every due post with a bounded worker
// pool. Overlapping sweeps are safe: the conditional claim guarantees at most
// one publisher call per post, and a lost claim is a defined no-op.
func (o *Orchestrator) PublishDueBatch(ctx context.Context) error {
	defer observability.TrackBatch("publish")()

	o.recoverStaleClaims(ctx)

	due, err := o.posts.DuePosts(ctx, o.now())
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	jobs := make(chan models.Post)
	var wg sync.WaitGroup
	for w := 0; w < o.cfg.PublishWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for post := range jobs {
				o.publishOne(ctx, post)
			}
		}()
	}
	for _, post := range due {
		jobs <- post
	}
	close(jobs)
	wg.Wait()
	return nil
}

// recoverStaleClaims fails posts stuck in publishing since before the stale
// threshold. A crashed sweep may or may not have reached the platform, so the
// recovery is terminal rather than a re-publish that could duplicate.
func (o *Orchestrator) recoverStaleClaims(ctx context.Context) {
	stale, err := o.posts.StalePublishing(ctx, o.now().Add(-o.cfg.StaleClaimAge))
	if err != nil {
		middleware.Logger.ErrorContext(ctx, "stale claim scan failed", slog.String("error", err.Error()))
		return
	}
	for _, post := range stale {
		applied, err := o.posts.UpdateIf(ctx, post.ID,
			map[string]any{"status": models.PostStatusPublishing},
			map[string]any{
				"status":        models.PostStatusFailed,
				"error_message": "publish attempt interrupted",
			})
		if err != nil || !applied {
			continue
		}
		observability.PublishFailures.WithLabelValues(string(post.Platform), "interrupted").Inc()
		middleware.Logger.WarnContext(middleware.WithPostID(ctx, post.ID), "orphaned publish claim failed out")
	}
}

func (o *Orchestrator) publishOne(ctx context.Context, post models.Post) {
	ctx = middleware.WithPostID(ctx, post.ID)

	claimed, err := o.posts.UpdateIf(ctx, post.ID,
		map[string]any{"status": models.PostStatusScheduled},
		map[string]any{"status": models.PostStatusPublishing})
	if err != nil {
		middleware.Logger.ErrorContext(ctx, "publish claim failed", slog.String("error", err.Error()))
		return
	}
	if !claimed {
		observability.ClaimConflicts.Inc()
		return
	}

	span, ctx := observability.NewSpan(ctx, "publish_post")
	defer span.End()
	span.AddAttributes(
		attribute.Int64("post.id", int64(post.ID)),
		attribute.String("post.platform", string(post.Platform)),
	)

	destination := o.notifyDestination(ctx, post.UserID)

	cred, err := o.credentials.GetValidToken(ctx, post.UserID, post.Platform)
	if err != nil {
		span.SetError(err)
		o.failTerminal(ctx, &post, destination, "credential", err)
		return
	}

	pub, ok := o.publishers[post.Platform]
	if !ok {
		o.failTerminal(ctx, &post, destination, "no_adapter", errors.New("no publisher adapter configured"))
		return
	}

	result, err := pub.Publish(ctx, platform.PublishRequest{
		AccessToken:   cred.AccessToken,
		AccountRef:    cred.AccountRef,
		AccountHandle: cred.AccountHandle,
		Text:          post.Content,
	})
	if err != nil {
		span.SetError(err)
		o.handlePublishFailure(ctx, &post, destination, err)
		return
	}

	applied, err := o.posts.UpdateIf(ctx, post.ID,
		map[string]any{"status": models.PostStatusPublishing},
		map[string]any{
			"status":        models.PostStatusPublished,
			"published_at":  o.now(),
			"external_id":   result.ExternalID,
			"external_url":  result.ExternalURL,
			"error_message": "",
		})
	if err != nil || !applied {
		middleware.Logger.ErrorContext(ctx, "failed to record publish success",
			slog.String("external_id", result.ExternalID))
		return
	}

	observability.PostsPublished.WithLabelValues(string(post.Platform)).Inc()
	o.invalidatePost(ctx, post.ID)
	middleware.Logger.InfoContext(ctx, "post published",
		slog.String("platform", string(post.Platform)),
		slog.String("external_url", result.ExternalURL))

	post.Status = models.PostStatusPublished
	post.ExternalURL = result.ExternalURL
	o.notifyOutcome(ctx, destination, &post)
}

// handlePublishFailure decides between a bounded retry and a terminal
// failure. Rate limits and unknown transients retry with exponential backoff
// below the attempt ceiling; validation and expired-auth failures are final.
func (o *Orchestrator) handlePublishFailure(ctx context.Context, post *models.Post, destination string, pubErr error) {
	var platErr *models.PlatformError
	retryable := errors.As(pubErr, &platErr) && platErr.Retryable()

	attempts := post.RetryCount + 1
	if retryable && o.flags.Enabled(featureflags.PublishRetries) && attempts < o.cfg.MaxPublishAttempts {
		nextAttempt := o.now().Add(o.retryDelay(post.RetryCount))
		applied, err := o.posts.UpdateIf(ctx, post.ID,
			map[string]any{"status": models.PostStatusPublishing},
			map[string]any{
				"status":          models.PostStatusScheduled,
				"retry_count":     attempts,
				"next_attempt_at": nextAttempt,
				"error_message":   pubErr.Error(),
			})
		if err != nil || !applied {
			middleware.Logger.ErrorContext(ctx, "failed to reschedule publish retry", slog.String("error", pubErr.Error()))
			return
		}
		observability.PublishRetries.WithLabelValues(string(post.Platform)).Inc()
		o.invalidatePost(ctx, post.ID)
		middleware.Logger.WarnContext(ctx, "publish failed, retry scheduled",
			slog.Int("attempt", attempts),
			slog.Time("next_attempt_at", nextAttempt),
			slog.String("error", pubErr.Error()))
		return
	}

	kind := "unknown"
	if platErr != nil {
		kind = string(platErr.Kind)
	}
	o.failTerminal(ctx, post, destination, kind, pubErr)
}

func (o *Orchestrator) failTerminal(ctx context.Context, post *models.Post, destination, kind string, cause error) {
	applied, err := o.posts.UpdateIf(ctx, post.ID,
		map[string]any{"status": models.PostStatusPublishing},
		map[string]any{
			"status":        models.PostStatusFailed,
			"retry_count":   post.RetryCount + 1,
			"error_message": cause.Error(),
		})
	if err != nil || !applied {
		middleware.Logger.ErrorContext(ctx, "failed to record publish failure", slog.String("error", cause.Error()))
		return
	}

	observability.PublishFailures.WithLabelValues(string(post.Platform), kind).Inc()
	o.invalidatePost(ctx, post.ID)
	middleware.Logger.ErrorContext(ctx, "post failed",
		slog.String("platform", string(post.Platform)),
		slog.String("kind", kind),
		slog.String("error", cause.Error()))

	post.Status = models.PostStatusFailed
	post.ErrorMessage = cause.Error()
	o.notifyOutcome(ctx, destination, post)
}

// retryDelay computes the backoff before attempt retryCount+1.
func (o *Orchestrator) retryDelay(retryCount int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.RetryBaseDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = 6 * time.Hour

	delay := bo.NextBackOff()
	for i := 0; i < retryCount; i++ {
		delay = bo.NextBackOff()
	}
	return delay
}

// CleanupOldData removes processed content items and resolved approval
// requests older than the retention window. Posts are never deleted here.
func (o *Orchestrator) CleanupOldData(ctx context.Context) error {
	defer observability.TrackBatch("cleanup")()

	cutoff := o.now().AddDate(0, 0, -o.cfg.RetentionDays)

	approvals, err := o.approvals.DeleteResolvedBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	contents, err := o.contents.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	middleware.Logger.InfoContext(ctx, "cleanup completed",
		slog.Int64("approval_requests_deleted", approvals),
		slog.Int64("content_items_deleted", contents))
	return nil
}

func (o *Orchestrator) notifyDestination(ctx context.Context, userID uint) string {
	if !o.flags.Enabled(featureflags.OutcomeNotifications) {
		return ""
	}
	user, err := o.users.GetByID(ctx, userID)
	if err != nil {
		return ""
	}
	return user.TelegramChatID
}

func (o *Orchestrator) notifyOutcome(ctx context.Context, destination string, post *models.Post) {
	if destination == "" {
		return
	}
	o.gateway.NotifyOutcome(ctx, destination, post)
}

func (o *Orchestrator) invalidatePost(ctx context.Context, postID uint) {
	cache.Invalidate(ctx, cache.PostKey(postID))
	cache.InvalidatePattern(ctx, "posts:*")
}
