package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"postpilot/internal/middleware"
	"postpilot/internal/models"
	"postpilot/internal/repository"
)

// MessageChannel is the transport the gateway delivers approval traffic over.
type MessageChannel interface {
	SendApproval(ctx context.Context, destination string, prompt models.ApprovalPrompt) (messageRef string, err error)
	AcknowledgeCallback(ctx context.Context, callbackID, text string) error
	DisableActions(ctx context.Context, destination, messageRef string) error
	Notify(ctx context.Context, destination, text string) error
}

// ApprovalResolver is the orchestrator's conditional transition API. The
// gateway never mutates post state directly; every decision goes through
// this, which is what keeps racing resolutions single-winner.
type ApprovalResolver interface {
	ResolveApproval(ctx context.Context, postID uint, decision models.ApprovalDecision) (bool, error)
}

// ApprovalGateway bridges the orchestrator and the human approval channel.
type ApprovalGateway struct {
	approvals repository.ApprovalRepository
	posts     repository.PostRepository
	channel   MessageChannel
	resolver  ApprovalResolver
	tokens    *ActionTokenCodec
	baseURL   string
	window    time.Duration
	now       func() time.Time
}

// NewApprovalGateway creates an approval gateway. The resolver is attached
// separately because gateway and orchestrator reference each other.
func NewApprovalGateway(
	approvals repository.ApprovalRepository,
	posts repository.PostRepository,
	channel MessageChannel,
	tokens *ActionTokenCodec,
	baseURL string,
	window time.Duration,
) *ApprovalGateway {
	return &ApprovalGateway{
		approvals: approvals,
		posts:     posts,
		channel:   channel,
		tokens:    tokens,
		baseURL:   strings.TrimRight(baseURL, "/"),
		window:    window,
		now:       time.Now,
	}
}

// SetResolver attaches the orchestrator's transition API.
func (g *ApprovalGateway) SetResolver(r ApprovalResolver) {
	g.resolver = r
}

// SendApprovalRequest delivers an approval prompt for the post and records
// the outstanding request. The returned request carries the channel message
// reference. A delivery failure surfaces as ApprovalSendError so the caller
// can take its documented fallback.
func (g *ApprovalGateway) SendApprovalRequest(ctx context.Context, post *models.Post, user *models.User) (*models.ApprovalRequest, error) {
	if g.channel == nil || !user.ApprovalReachable() {
		return nil, models.NewApprovalSendError(fmt.Errorf("user %d has no approval destination", user.ID))
	}

	requestID := uuid.NewString()
	expiresAt := g.now().Add(g.window)

	approveURL, rejectURL := g.actionLinks(ctx, requestID, expiresAt)

	messageRef, err := g.channel.SendApproval(ctx, user.TelegramChatID, models.ApprovalPrompt{
		RequestID:  requestID,
		Post:       post,
		ExpiresAt:  expiresAt,
		ApproveURL: approveURL,
		RejectURL:  rejectURL,
	})
	if err != nil {
		return nil, models.NewApprovalSendError(err)
	}

	req := &models.ApprovalRequest{
		RequestID:   requestID,
		PostID:      post.ID,
		Destination: user.TelegramChatID,
		MessageRef:  messageRef,
		SentAt:      g.now(),
		ExpiresAt:   expiresAt,
	}
	if err := g.approvals.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to record approval request: %w", err)
	}

	middleware.Logger.InfoContext(ctx, "approval request sent",
		slog.Uint64("post_id", uint64(post.ID)),
		slog.String("request_id", requestID),
		slog.String("destination", user.TelegramChatID))
	return req, nil
}

// actionLinks builds the signed one-click URLs for a prompt. When signing is
// unavailable the prompt still goes out with buttons only, but the degradation
// is logged so a bad signing secret does not stay invisible.
func (g *ApprovalGateway) actionLinks(ctx context.Context, requestID string, expiresAt time.Time) (string, string) {
	if g.tokens == nil {
		middleware.Logger.WarnContext(ctx, "no action token codec configured, prompt sent without one-click links",
			slog.String("request_id", requestID))
		return "", ""
	}
	approveToken, err := g.tokens.Issue(requestID, models.ActionApprove, expiresAt)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "failed to sign approve action token, prompt sent without one-click links",
			slog.String("request_id", requestID), slog.String("error", err.Error()))
		return "", ""
	}
	rejectToken, err := g.tokens.Issue(requestID, models.ActionReject, expiresAt)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "failed to sign reject action token, prompt sent without one-click links",
			slog.String("request_id", requestID), slog.String("error", err.Error()))
		return "", ""
	}
	base := g.baseURL + "/api/approvals/act?token="
	return base + approveToken, base + rejectToken
}

// affirmatives and negatives map free-text replies to decisions.
var (
	affirmatives = map[string]bool{"yes": true, "y": true, "ok": true, "approve": true, "approved": true, "si": true, "sí": true, "👍": true}
	negatives    = map[string]bool{"no": true, "n": true, "reject": true, "rejected": true, "nope": true, "👎": true}
)

// HandleInboundEvent processes one channel event. Unrecognized or duplicate
// events are absorbed here; the webhook caller always gets a fast success so
// the channel does not redeliver.
func (g *ApprovalGateway) HandleInboundEvent(ctx context.Context, ev *models.InboundEvent) {
	if ev == nil {
		return
	}

	if ev.ActionToken != "" {
		g.handleCallback(ctx, ev)
		return
	}
	if ev.Text != "" {
		g.handleFreeText(ctx, ev)
	}
}

func (g *ApprovalGateway) handleCallback(ctx context.Context, ev *models.InboundEvent) {
	action, requestID, err := models.DecodeCallback(ev.ActionToken)
	if err != nil {
		g.ack(ctx, ev.CallbackID, "Unrecognized action.")
		return
	}

	switch action {
	case models.ActionApprove:
		g.resolveRequest(ctx, requestID, models.DecisionApprove, ev.Actor, ev.CallbackID)
	case models.ActionReject:
		g.resolveRequest(ctx, requestID, models.DecisionReject, ev.Actor, ev.CallbackID)
	case models.ActionEdit:
		g.ack(ctx, ev.CallbackID, "Editing from chat is not supported yet.")
	case models.ActionSchedule:
		g.ack(ctx, ev.CallbackID, "Rescheduling from chat is not supported yet.")
	}
}

func (g *ApprovalGateway) handleFreeText(ctx context.Context, ev *models.InboundEvent) {
	word := strings.ToLower(strings.TrimSpace(ev.Text))

	if strings.HasPrefix(word, "/") {
		g.handleCommand(ctx, ev.Destination, word)
		return
	}

	var decision models.ApprovalDecision
	switch {
	case affirmatives[word]:
		decision = models.DecisionApprove
	case negatives[word]:
		decision = models.DecisionReject
	default:
		g.notify(ctx, ev.Destination, "Reply \"yes\" to approve or \"no\" to reject the latest pending post.")
		return
	}

	req, err := g.approvals.LatestUnresolvedByDestination(ctx, ev.Destination)
	if err != nil {
		g.notify(ctx, ev.Destination, "There is no post waiting for your approval.")
		return
	}
	g.resolveRequest(ctx, req.RequestID, decision, ev.Actor, "")
}

// handleCommand serves the bot's chat commands. Group chats may suffix the
// bot name, as in "/status@postpilot_bot".
func (g *ApprovalGateway) handleCommand(ctx context.Context, destination, command string) {
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	switch command {
	case "/start":
		g.notify(ctx, destination, "Hi! I deliver generated posts for approval. Use the buttons on each prompt, or reply \"yes\" / \"no\" to settle the latest one. Send /status to see what is waiting.")
	case "/status":
		g.sendStatus(ctx, destination)
	default:
		g.notify(ctx, destination, "Unknown command. Try /status.")
	}
}

// sendStatus lists every post still waiting on this destination's decision.
func (g *ApprovalGateway) sendStatus(ctx context.Context, destination string) {
	reqs, err := g.approvals.UnresolvedByDestination(ctx, destination)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "status listing failed",
			slog.String("destination", destination), slog.String("error", err.Error()))
	}
	if len(reqs) == 0 {
		g.notify(ctx, destination, "No posts are waiting for your approval.")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d post(s) awaiting approval:", len(reqs))
	for i := range reqs {
		req := &reqs[i]
		expires := req.ExpiresAt.Format("Mon, 02 Jan 15:04 MST")
		if post, err := g.posts.GetByID(ctx, req.PostID); err == nil {
			fmt.Fprintf(&b, "\n• %s: %s (expires %s)", post.Platform, snippet(post.Content, 60), expires)
		} else {
			fmt.Fprintf(&b, "\n• post %d (expires %s)", req.PostID, expires)
		}
	}
	g.notify(ctx, destination, b.String())
}

func snippet(text string, max int) string {
	runes := []rune(strings.ReplaceAll(text, "\n", " "))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max-1]) + "…"
}

// HandleActionToken processes a signed one-click action link.
func (g *ApprovalGateway) HandleActionToken(ctx context.Context, token, actor string) error {
	requestID, action, err := g.tokens.Verify(token)
	if err != nil {
		return err
	}

	decision := models.DecisionApprove
	if action == models.ActionReject {
		decision = models.DecisionReject
	}
	g.resolveRequest(ctx, requestID, decision, actor, "")
	return nil
}

// resolveRequest routes one decision through the orchestrator and settles the
// request record if the post transition applied. A lost transition means
// someone else decided first; that is a quiet no-op.
func (g *ApprovalGateway) resolveRequest(ctx context.Context, requestID string, decision models.ApprovalDecision, actor, callbackID string) {
	req, err := g.approvals.GetByRequestID(ctx, requestID)
	if err != nil {
		g.ack(ctx, callbackID, "This approval request no longer exists.")
		return
	}
	if req.Resolved {
		g.ack(ctx, callbackID, "Already settled.")
		return
	}

	applied, err := g.resolver.ResolveApproval(ctx, req.PostID, decision)
	if err != nil {
		middleware.Logger.ErrorContext(ctx, "approval resolution failed",
			slog.String("request_id", requestID), slog.String("error", err.Error()))
		g.ack(ctx, callbackID, "Something went wrong, try again.")
		return
	}
	if !applied {
		g.ack(ctx, callbackID, "Too late, this post was already settled.")
		return
	}

	resolution := models.ResolutionApproved
	confirmation := "Approved ✅ The post is scheduled."
	if decision == models.DecisionReject {
		resolution = models.ResolutionRejected
		confirmation = "Rejected ❌ The post will not be published."
	}

	if _, err := g.approvals.ResolveIf(ctx, req.ID, resolution, actor, g.now()); err != nil {
		middleware.Logger.ErrorContext(ctx, "failed to settle approval request",
			slog.String("request_id", requestID), slog.String("error", err.Error()))
	}

	if req.MessageRef != "" {
		if err := g.channel.DisableActions(ctx, req.Destination, req.MessageRef); err != nil {
			middleware.Logger.WarnContext(ctx, "failed to disable approval buttons",
				slog.String("request_id", requestID), slog.String("error", err.Error()))
		}
	}
	g.ack(ctx, callbackID, confirmation)
	if callbackID == "" {
		g.notify(ctx, req.Destination, confirmation)
	}
}

// CloseExpired settles the channel side of a request the expiry sweep
// cancelled: buttons off, best-effort notice. Post state is already final.
func (g *ApprovalGateway) CloseExpired(ctx context.Context, req *models.ApprovalRequest) {
	if req.MessageRef != "" {
		if err := g.channel.DisableActions(ctx, req.Destination, req.MessageRef); err != nil {
			middleware.Logger.WarnContext(ctx, "failed to disable expired approval buttons",
				slog.String("request_id", req.RequestID), slog.String("error", err.Error()))
		}
	}
	g.notify(ctx, req.Destination, "An approval request expired; the post was cancelled.")
}

// NotifyOutcome reports a publish result to the originating actor.
// Fire-and-forget: a delivery failure never alters post state.
func (g *ApprovalGateway) NotifyOutcome(ctx context.Context, destination string, post *models.Post) {
	if g.channel == nil || destination == "" {
		return
	}

	var text string
	if post.Status == models.PostStatusPublished {
		text = fmt.Sprintf("Published to %s ✅ %s", post.Platform, post.ExternalURL)
	} else {
		text = fmt.Sprintf("Publishing to %s failed: %s", post.Platform, post.ErrorMessage)
	}
	g.notify(ctx, destination, text)
}

func (g *ApprovalGateway) ack(ctx context.Context, callbackID, text string) {
	if callbackID == "" || g.channel == nil {
		return
	}
	if err := g.channel.AcknowledgeCallback(ctx, callbackID, text); err != nil {
		middleware.Logger.WarnContext(ctx, "callback acknowledgment failed",
			slog.String("error", err.Error()))
	}
}

func (g *ApprovalGateway) notify(ctx context.Context, destination, text string) {
	if g.channel == nil || destination == "" {
		return
	}
	if err := g.channel.Notify(ctx, destination, text); err != nil {
		middleware.Logger.WarnContext(ctx, "channel notification failed",
			slog.String("destination", destination), slog.String("error", err.Error()))
	}
}
