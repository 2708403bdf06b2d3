// Package observability provides metrics and tracing for the post lifecycle.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PostsGenerated counts generated posts by platform and initial status.
	PostsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postpilot_posts_generated_total",
		Help: "Total number of posts generated by platform and initial status",
	}, []string{"platform", "status"})

	// PostsPublished counts successfully published posts by platform.
	PostsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postpilot_posts_published_total",
		Help: "Total number of posts published by platform",
	}, []string{"platform"})

	// PublishFailures counts publish failures by platform and error kind.
	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postpilot_publish_failures_total",
		Help: "Total number of publish failures by platform and error kind",
	}, []string{"platform", "kind"})

	// PublishRetries counts rescheduled publish attempts by platform.
	PublishRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postpilot_publish_retries_total",
		Help: "Total number of publish attempts rescheduled after a transient failure",
	}, []string{"platform"})

	// ApprovalResolutions counts approval outcomes.
	ApprovalResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postpilot_approval_resolutions_total",
		Help: "Total number of approval resolutions by outcome",
	}, []string{"outcome"})

	// ClaimConflicts counts publish claims lost to a concurrent sweep.
	ClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postpilot_claim_conflicts_total",
		Help: "Total number of publish claims skipped because another sweep already held them",
	})

	// CredentialRefreshes counts token refreshes by platform and result.
	CredentialRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postpilot_credential_refreshes_total",
		Help: "Total number of credential refreshes by platform and result",
	}, []string{"platform", "result"})

	// BatchDuration records trigger batch durations.
	BatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "postpilot_batch_duration_seconds",
		Help:    "Duration of trigger batch operations in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"trigger"})

	// RedisErrors counts Redis errors by operation type.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postpilot_redis_error_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})
)

// TrackBatch returns a function that records the batch duration when called (e.g. defer).
func TrackBatch(trigger string) func() {
	start := time.Now()
	return func() {
		BatchDuration.WithLabelValues(trigger).Observe(time.Since(start).Seconds())
	}
}
