// Package users tracks who talks to the bot and how many photos they sent.
//
// The [Store] interface is implemented by several backends:
//   - [FileStore]: a single JSON file (users.json) for small deployments
//   - [RedisStore]: Redis hashes, for bots running several instances
//   - [MongoStore]: a MongoDB collection
//   - [SQLiteStore]: an embedded SQLite database (modernc.org/sqlite, no cgo)
//
// [Open] selects a backend from [Options]. [Summarize] derives the admin
// statistics (total, active in the last week, images, average) from any store.
//
// All stores are safe for concurrent use.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a user ID is not in the store.
var ErrNotFound = errors.New("user not found")

// ActiveWindow is how recently a user must have interacted to count as active.
const ActiveWindow = 7 * 24 * time.Hour

// Backend names accepted by [Open].
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
	BackendSQLite = "sqlite"
)

// User is a bot user's activity record.
type User struct {
	ID              int64     `json:"id" bson:"_id"`
	Username        string    `json:"username" bson:"username"`
	FirstSeen       time.Time `json:"first_seen" bson:"first_seen"`
	LastActive      time.Time `json:"last_active" bson:"last_active"`
	ImagesProcessed int64     `json:"images_processed" bson:"images_processed"`
}

// Store persists user records and the global image counter.
type Store interface {
	// Track records an interaction. A new user gets FirstSeen and LastActive
	// set to now; a known user gets LastActive and Username updated.
	Track(ctx context.Context, id int64, username string) error

	// IncrementImages adds one to the user's and the global image count.
	// It returns ErrNotFound for an untracked user.
	IncrementImages(ctx context.Context, id int64) error

	// Get returns the user or ErrNotFound.
	Get(ctx context.Context, id int64) (*User, error)

	// List returns all users ordered by ID.
	List(ctx context.Context) ([]User, error)

	// TotalImages returns the global image count.
	TotalImages(ctx context.Context) (int64, error)

	Close() error
}

// Clock returns the current time. Stores use time.Now when nil.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}

// Stats summarizes a store for the /stats command.
type Stats struct {
	TotalUsers    int     `json:"total_users"`
	ActiveUsers   int     `json:"active_users"`
	TotalImages   int64   `json:"total_images"`
	AverageImages float64 `json:"average_images"`
}

// Summarize computes [Stats] as of now. A user is active when their last
// interaction is strictly after now minus [ActiveWindow].
func Summarize(ctx context.Context, s Store, now time.Time) (Stats, error) {
	list, err := s.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list users: %w", err)
	}
	total, err := s.TotalImages(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("total images: %w", err)
	}

	cutoff := now.Add(-ActiveWindow)
	st := Stats{TotalUsers: len(list), TotalImages: total}
	for _, u := range list {
		if u.LastActive.After(cutoff) {
			st.ActiveUsers++
		}
	}
	if st.TotalUsers > 0 {
		st.AverageImages = float64(total) / float64(st.TotalUsers)
	}
	return st, nil
}

// Options selects and configures a backend.
type Options struct {
	// Backend is one of "file" (default), "redis", "mongo", "sqlite".
	Backend string

	// Path is the users.json file or the SQLite database file.
	Path string

	// URL is the Redis URL (redis://...) or MongoDB URI (mongodb://...).
	URL string

	// Database is the MongoDB database name.
	Database string

	// Prefix namespaces Redis keys.
	Prefix string

	// Clock overrides time.Now.
	Clock Clock
}

// Open creates the store described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendFile:
		s, err := NewFileStore(opts.Path)
		if err != nil {
			return nil, err
		}
		s.Clock = opts.Clock
		return s, nil
	case BackendRedis:
		s, err := NewRedisStore(ctx, opts.URL, opts.Prefix)
		if err != nil {
			return nil, err
		}
		s.Clock = opts.Clock
		return s, nil
	case BackendMongo:
		s, err := NewMongoStore(ctx, opts.URL, opts.Database)
		if err != nil {
			return nil, err
		}
		s.Clock = opts.Clock
		return s, nil
	case BackendSQLite:
		s, err := NewSQLiteStore(ctx, opts.Path)
		if err != nil {
			return nil, err
		}
		s.Clock = opts.Clock
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want file, redis, mongo or sqlite)", opts.Backend)
	}
}
