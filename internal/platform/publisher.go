// Package platform contains publisher adapters for the supported social
// networks. Each adapter formats content to platform constraints and
// classifies API failures so the lifecycle can decide between retry and
// terminal failure.
package platform

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"postpilot/internal/models"
)

// PublishRequest carries everything an adapter needs for one publish call.
type PublishRequest struct {
	AccessToken string
	// AccountRef is the platform-side account identifier (user id or URN).
	AccountRef string
	// AccountHandle is used to construct the public post URL where the API
	// response does not include one.
	AccountHandle string
	Text          string
	Hashtags      []string
}

// PublishResult is the outcome of a successful publish.
type PublishResult struct {
	ExternalID  string
	ExternalURL string
}

// Publisher is one platform adapter.
type Publisher interface {
	Platform() models.Platform
	// Format renders text and hashtags into a single platform-conformant body.
	Format(text string, hashtags []string) string
	Publish(ctx context.Context, req PublishRequest) (*PublishResult, error)
}

// newHTTPClient builds the retrying HTTP client shared by the adapters.
// Retries here cover transport-level flakiness only; semantic failures are
// classified and surfaced as PlatformError.
func newHTTPClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 3 * time.Second
	client.Logger = nil
	// Only transport errors are retried here. Semantic statuses (429, 5xx)
	// must reach the adapter so the lifecycle classifies them itself.
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil, nil
	}
	return client
}

// classifyStatus maps an HTTP status to a platform error kind.
func classifyStatus(platform models.Platform, status int, message string) *models.PlatformError {
	kind := models.PlatformUnknown
	switch {
	case status == 401:
		kind = models.PlatformAuthExpired
	case status == 429:
		kind = models.PlatformRateLimited
	case status == 400 || status == 403 || status == 422:
		kind = models.PlatformValidation
	}
	return &models.PlatformError{
		Kind:       kind,
		Platform:   platform,
		StatusCode: status,
		Message:    message,
	}
}
