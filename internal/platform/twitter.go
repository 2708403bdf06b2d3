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
	twitterMaxChars = 280
	twitterAPIURL   = "https://api.twitter.com/2/tweets"
)

// TwitterPublisher publishes posts through the Twitter v2 API.
type TwitterPublisher struct {
	client *retryablehttp.Client
	apiURL string
}

// NewTwitterPublisher creates a Twitter publisher adapter.
func NewTwitterPublisher() *TwitterPublisher {
	return &TwitterPublisher{
		client: newHTTPClient(),
		apiURL: twitterAPIURL,
	}
}

// Platform returns the platform this adapter targets.
func (p *TwitterPublisher) Platform() models.Platform {
	return models.PlatformTwitter
}

// Format renders the body with hashtags inline, within the 280-character
// limit. When everything does not fit, hashtags are dropped from the end
// first, then the body is truncated, but the first hashtag always survives.
func (p *TwitterPublisher) Format(text string, hashtags []string) string {
	tags := normalizeHashtags(hashtags)

	if len(tags) == 0 {
		return truncateRunes(text, twitterMaxChars)
	}

	// Prefer the fullest rendering that fits, shedding trailing tags.
	for n := len(tags); n >= 1; n-- {
		candidate := text + "\n\n" + strings.Join(tags[:n], " ")
		if runeLen(candidate) <= twitterMaxChars {
			return candidate
		}
	}

	// Even one tag does not fit alongside the full body. Keep the first tag
	// and cut the body to make room.
	suffix := "\n\n" + tags[0]
	budget := twitterMaxChars - runeLen(suffix)
	return truncateRunes(text, budget) + suffix
}

type tweetRequest struct {
	Text string `json:"text"`
}

type tweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

// Publish creates a tweet and returns its id and public URL.
func (p *TwitterPublisher) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	body := p.Format(req.Text, req.Hashtags)

	payload, err := json.Marshal(tweetRequest{Text: body})
	if err != nil {
		return nil, fmt.Errorf("failed to encode tweet payload: %w", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build tweet request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &models.PlatformError{
			Kind:     models.PlatformUnknown,
			Platform: models.PlatformTwitter,
			Message:  err.Error(),
		}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var parsed tweetResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := parsed.Detail
		if msg == "" {
			msg = parsed.Title
		}
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, classifyStatus(models.PlatformTwitter, resp.StatusCode, msg)
	}

	if parsed.Data.ID == "" {
		return nil, &models.PlatformError{
			Kind:       models.PlatformUnknown,
			Platform:   models.PlatformTwitter,
			StatusCode: resp.StatusCode,
			Message:    "response missing tweet id",
		}
	}

	return &PublishResult{
		ExternalID:  parsed.Data.ID,
		ExternalURL: fmt.Sprintf("https://twitter.com/%s/status/%s", req.AccountHandle, parsed.Data.ID),
	}, nil
}

// normalizeHashtags prefixes bare tags with '#' and drops empties.
func normalizeHashtags(hashtags []string) []string {
	tags := make([]string, 0, len(hashtags))
	for _, h := range hashtags {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if !strings.HasPrefix(h, "#") {
			h = "#" + h
		}
		tags = append(tags, h)
	}
	return tags
}

func runeLen(s string) int {
	return len([]rune(s))
}

// truncateRunes cuts s to at most max runes, replacing the tail with an
// ellipsis when something was removed.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return strings.TrimRight(string(runes[:max-1]), " ") + "…"
}
