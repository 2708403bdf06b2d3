package cache

import (
	"fmt"
	"time"
)

// Key builders and TTLs for cached read surfaces. Writers invalidate the
// affected keys; readers fall through to the database on a miss.

const (
	// PostTTL bounds staleness of a cached single post.
	PostTTL = 5 * time.Minute
	// PostListTTL bounds staleness of a cached post listing.
	PostListTTL = 30 * time.Second
)

// PostKey returns the cache key for a single post.
func PostKey(id uint) string {
	return fmt.Sprintf("post:%d", id)
}

// PostListKey returns the cache key for a filtered post listing.
func PostListKey(status, platform string, page int) string {
	return fmt.Sprintf("posts:%s:%s:%d", status, platform, page)
}
