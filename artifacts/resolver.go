// Package artifacts resolves content references into time-limited fetch
// URLs the recipient can use to retrieve the delivered content.
package artifacts

import (
	"context"
	"time"
)

// Resolver produces a time-limited fetch URL for a content reference.
// The TTL governs how long the recipient can use the link, not how long
// delivery itself may take.
type Resolver interface {
	ResolveURL(ctx context.Context, contentRef string, ttl time.Duration) (string, error)
}
