package users

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"
)

// DefaultFile is the users file name used when no path is configured.
const DefaultFile = "users.json"

// timeLayout writes naive local timestamps with microseconds
// ("2025-03-01T14:05:09.123456"), the format existing users.json files use.
const timeLayout = "2006-01-02T15:04:05.000000"

// FileStore keeps every user in one JSON document:
//
//	{"users": {"<id>": {"username": ..., "first_seen": ..., "last_active": ...,
//	  "images_processed": n}}, "total_images": n}
//
// The document is loaded once and rewritten on every change through a
// temporary file and rename.
type FileStore struct {
	mu    sync.RWMutex
	path  string
	db    fileDB
	Clock Clock
}

type fileDB struct {
	Users       map[string]*fileUser `json:"users"`
	TotalImages int64                `json:"total_images"`
}

type fileUser struct {
	Username        string `json:"username"`
	FirstSeen       string `json:"first_seen"`
	LastActive      string `json:"last_active"`
	ImagesProcessed int64  `json:"images_processed"`
}

// NewFileStore opens (or creates on first write) the users file at path.
// If path is empty, DefaultFile in the working directory is used.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = DefaultFile
	}
	s := &FileStore{path: path, db: fileDB{Users: map[string]*fileUser{}}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	if err := json.Unmarshal(data, &s.db); err != nil {
		return nil, fmt.Errorf("parse users file %s: %w", path, err)
	}
	if s.db.Users == nil {
		s.db.Users = map[string]*fileUser{}
	}
	return s, nil
}

// Path returns the users file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Track(ctx context.Context, id int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Clock.now().In(time.Local).Format(timeLayout)
	key := strconv.FormatInt(id, 10)
	if u, ok := s.db.Users[key]; ok {
		u.LastActive = now
		u.Username = username
	} else {
		s.db.Users[key] = &fileUser{
			Username:   username,
			FirstSeen:  now,
			LastActive: now,
		}
	}
	return s.save()
}

func (s *FileStore) IncrementImages(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.db.Users[strconv.FormatInt(id, 10)]
	if !ok {
		return ErrNotFound
	}
	u.ImagesProcessed++
	s.db.TotalImages++
	return s.save()
}

func (s *FileStore) Get(ctx context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.db.Users[strconv.FormatInt(id, 10)]
	if !ok {
		return nil, ErrNotFound
	}
	user := u.toUser(id)
	return &user, nil
}

func (s *FileStore) List(ctx context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]User, 0, len(s.db.Users))
	for key, u := range s.db.Users {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		list = append(list, u.toUser(id))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *FileStore) TotalImages(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.TotalImages, nil
}

func (s *FileStore) Close() error { return nil }

// save writes the document atomically. Callers hold s.mu.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.db, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create users dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".users-*.json")
	if err != nil {
		return fmt.Errorf("write users file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write users file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write users file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace users file: %w", err)
	}
	return nil
}

func (u *fileUser) toUser(id int64) User {
	return User{
		ID:              id,
		Username:        u.Username,
		FirstSeen:       parseTime(u.FirstSeen),
		LastActive:      parseTime(u.LastActive),
		ImagesProcessed: u.ImagesProcessed,
	}
}

// parseTime accepts naive ISO timestamps (read as local time) and RFC 3339.
// Unparseable values yield the zero time.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	for _, layout := range []string{timeLayout, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

var _ Store = (*FileStore)(nil)
