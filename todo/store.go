package todo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = fmt.Errorf("not found")
var ErrAlreadyExists = fmt.Errorf("already exists")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	title      TEXT NOT NULL,
	done       INTEGER NOT NULL DEFAULT 0,
	deleted_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_user ON items(user_id, deleted_at);
`

// Store persists users and items in SQLite. Items are
// soft-deleted so an audit can see what was removed.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the database at path. WAL mode
// allows reads to proceed during writes; a single writer
// connection avoids SQLITE_BUSY under our write rates.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open '%v': %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping '%v': %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%v: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const sqliteTimeLayout = time.RFC3339Nano

func (s *Store) CreateUser(ctx context.Context, name, email string) (*User, error) {
	u := &User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.CreatedAt.Format(sqliteTimeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("user with email '%v' %w", email, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateUser applies the non-nil fields and returns the user
// as stored afterwards.
func (s *Store) UpdateUser(ctx context.Context, id string, name, email *string) (*User, error) {
	cur, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != nil {
		cur.Name = *name
	}
	if email != nil {
		cur.Email = *email
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET name = ?, email = ? WHERE id = ?`,
		cur.Name, cur.Email, id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("user with email '%v' %w", cur.Email, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return cur, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user '%v' %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) CreateItem(ctx context.Context, userID, title string) (*Item, error) {
	// the foreign key catches dangling users, but give a
	// clearer error than the driver's.
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	it := &Item{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (id, user_id, title, done, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		it.ID, it.UserID, it.Title,
		it.CreatedAt.Format(sqliteTimeLayout), it.UpdatedAt.Format(sqliteTimeLayout))
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	return it, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, done, created_at, updated_at
		 FROM items WHERE id = ? AND deleted_at IS NULL`, id)
	return scanItem(row)
}

func (s *Store) ListItems(ctx context.Context, userID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, done, created_at, updated_at
		 FROM items WHERE user_id = ? AND deleted_at IS NULL ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// UpdateItem applies the non-nil fields and returns the item
// as stored afterwards.
func (s *Store) UpdateItem(ctx context.Context, id string, title *string, done *bool) (*Item, error) {
	cur, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if title != nil {
		cur.Title = *title
	}
	if done != nil {
		cur.Done = *done
	}
	cur.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE items SET title = ?, done = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		cur.Title, boolToInt(cur.Done), cur.UpdatedAt.Format(sqliteTimeLayout), id)
	if err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	return cur, nil
}

// DeleteItem is a soft delete.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(sqliteTimeLayout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("item '%v' %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var created string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &created)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt, err = time.Parse(sqliteTimeLayout, created)
	if err != nil {
		return nil, fmt.Errorf("bad created_at: %w", err)
	}
	return &u, nil
}

func scanItem(row rowScanner) (*Item, error) {
	var it Item
	var done int
	var created, updated string
	err := row.Scan(&it.ID, &it.UserID, &it.Title, &done, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}
	it.Done = done != 0
	if it.CreatedAt, err = time.Parse(sqliteTimeLayout, created); err != nil {
		return nil, fmt.Errorf("bad created_at: %w", err)
	}
	if it.UpdatedAt, err = time.Parse(sqliteTimeLayout, updated); err != nil {
		return nil, fmt.Errorf("bad updated_at: %w", err)
	}
	return &it, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
