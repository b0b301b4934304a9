// Package cache provides content-addressed storage for rendered sketches.
//
// The [Cache] interface is implemented by:
//   - [FileCache]: JSON entries on the local filesystem (CLI, single instance)
//   - [RedisCache]: shared Redis storage (multi-instance bot deployments)
//   - [NullCache]: caching disabled
//
// Keys are produced by a [Keyer] so every caller derives identical keys for
// identical inputs. A sketch key combines the SHA-256 of the source bytes
// with every option that changes the output (format, quality, size limit,
// filter revision).
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key/value store with per-entry TTL.
type Cache interface {
	// Get returns the value for key. The bool reports whether it was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A ttl of 0 means no expiration.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// TTLs for cached artifacts.
const (
	// TTLArtifact is how long an encoded sketch stays cached.
	TTLArtifact = 24 * time.Hour

	// TTLFile is how long a Telegram file ID stays mapped to its sketch.
	// Telegram file IDs are stable for a long time, but photos are rarely resent.
	TTLFile = 6 * time.Hour
)
