package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultSQLiteFile is the database file used when no path is configured.
const DefaultSQLiteFile = "users.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id               INTEGER PRIMARY KEY,
	username         TEXT    NOT NULL DEFAULT '',
	first_seen       TEXT    NOT NULL,
	last_active      TEXT    NOT NULL,
	images_processed INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS counters (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);`

// SQLiteStore keeps users in an embedded SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	Clock Clock
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = DefaultSQLiteFile
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite %s: %w", path, err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Track(ctx context.Context, id int64, username string) error {
	now := s.Clock.now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, first_seen, last_active, images_processed)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET username = excluded.username, last_active = excluded.last_active`,
		id, username, now, now)
	if err != nil {
		return fmt.Errorf("track user %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) IncrementImages(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE users SET images_processed = images_processed + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment images for %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO counters (name, value) VALUES ('total_images', 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1`)
	if err != nil {
		return fmt.Errorf("increment total images: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, first_seen, last_active, images_processed FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, first_seen, last_active, images_processed FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var list []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

func (s *SQLiteStore) TotalImages(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = 'total_images'`).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("total images: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (User, error) {
	var (
		u                 User
		first, lastActive string
	)
	if err := r.Scan(&u.ID, &u.Username, &first, &lastActive, &u.ImagesProcessed); err != nil {
		return User{}, err
	}
	u.FirstSeen = parseTime(first)
	u.LastActive = parseTime(lastActive)
	return u, nil
}

var _ Store = (*SQLiteStore)(nil)
