package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"postpilot/internal/models"
)

const (
	linkedInMaxChars = 3000
	linkedInAPIURL   = "https://api.linkedin.com/v2/ugcPosts"
)

// LinkedInPublisher publishes posts through the LinkedIn UGC API.
type LinkedInPublisher struct {
	client *retryablehttp.Client
	apiURL string
}

// NewLinkedInPublisher creates a LinkedIn publisher adapter.
func NewLinkedInPublisher() *LinkedInPublisher {
	return &LinkedInPublisher{
		client: newHTTPClient(),
		apiURL: linkedInAPIURL,
	}
}

// Platform returns the platform this adapter targets.
func (p *LinkedInPublisher) Platform() models.Platform {
	return models.PlatformLinkedIn
}

// Format appends hashtags as a trailing block separated from the body by a
// blank line, within the 3000-character limit.
func (p *LinkedInPublisher) Format(text string, hashtags []string) string {
	tags := normalizeHashtags(hashtags)

	body := text
	if len(tags) > 0 {
		body = text + "\n\n" + strings.Join(tags, " ")
	}
	return truncateRunes(body, linkedInMaxChars)
}

type ugcPostRequest struct {
	Author          string         `json:"author"`
	LifecycleState  string         `json:"lifecycleState"`
	SpecificContent map[string]any `json:"specificContent"`
	Visibility      map[string]any `json:"visibility"`
}

type ugcPostResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Publish creates a UGC post and returns its URN and public URL.
func (p *LinkedInPublisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	body := p.Format(req.Text, req.Hashtags)

	payload, err := json.Marshal(ugcPostRequest{
		Author:         req.AccountRef,
		LifecycleState: "PUBLISHED",
		SpecificContent: map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]string{"text": body},
				"shareMediaCategory": "NONE",
			},
		},
		Visibility: map[string]any{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ugc payload: %w", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build ugc request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &models.PlatformError{
			Kind:     models.PlatformUnknown,
			Platform: models.PlatformLinkedIn,
			Message:  err.Error(),
		}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var parsed ugcPostResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := parsed.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, classifyStatus(models.PlatformLinkedIn, resp.StatusCode, msg)
	}

	urn := parsed.ID
	if urn == "" {
		urn = resp.Header.Get("X-RestLi-Id")
	}
	if urn == "" {
		return nil, &models.PlatformError{
			Kind:       models.PlatformUnknown,
			Platform:   models.PlatformLinkedIn,
			StatusCode: resp.StatusCode,
			Message:    "response missing post urn",
		}
	}

	return &PublishResult{
		ExternalID:  urn,
		ExternalURL: "https://www.linkedin.com/feed/update/" + urn,
	}, nil
}
