// Package store persists conversations in a SQLite database. Each
// conversation is kept as the versioned JSON form of its chat record together
// with a few columns for listing.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/Chanpoe/ModelHub/pkg/chats/chat"
	"github.com/Chanpoe/ModelHub/pkg/chats/content"
	"github.com/Chanpoe/ModelHub/pkg/chats/role"
)

// ErrNotFound is returned when no conversation has the requested ID.
var ErrNotFound = errors.New("store: conversation not found")

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	provider   TEXT NOT NULL DEFAULT '',
	model      TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	messages   INTEGER NOT NULL DEFAULT 0,
	record     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
`

const titleLen = 60

// Conversation is one stored dialog.
type Conversation struct {
	ID        string
	Provider  string
	Model     string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Record    chat.Record
}

// Summary describes a stored conversation without its messages.
type Summary struct {
	ID        string
	Provider  string
	Model     string
	Title     string
	Messages  int
	UpdatedAt time.Time
}

// Store is a conversation store backed by SQLite. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: initialize schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// SetNowFunc overrides the clock used for timestamps. For tests.
func (s *Store) SetNowFunc(fn func() time.Time) { s.now = fn }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces a conversation. An empty ID is filled with a new
// UUID and an empty Title with the start of the first user message. The
// conversation's ID and timestamps are updated in place.
func (s *Store) Save(ctx context.Context, conv *Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}

	if conv.Title == "" {
		conv.Title = title(conv.Record)
	}

	if conv.Record.Version == 0 {
		conv.Record.Version = chat.RecordVersion
	}

	data, err := json.Marshal(conv.Record)
	if err != nil {
		return fmt.Errorf("store: encode record: %w", err)
	}

	now := s.now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, provider, model, title, messages, record, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			model = excluded.model,
			title = excluded.title,
			messages = excluded.messages,
			record = excluded.record,
			updated_at = excluded.updated_at`,
		conv.ID, conv.Provider, conv.Model, conv.Title, len(conv.Record.Messages), string(data),
		conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: save %s: %w", conv.ID, err)
	}

	return nil
}

// Load returns the conversation with the given ID.
func (s *Store) Load(ctx context.Context, id string) (Conversation, error) {
	var (
		conv             Conversation
		data             string
		created, updated int64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, provider, model, title, record, created_at, updated_at
		FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.Provider, &conv.Model, &conv.Title, &data, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("store: load %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(data), &conv.Record); err != nil {
		return Conversation{}, fmt.Errorf("store: decode record %s: %w", id, err)
	}

	conv.CreatedAt = time.Unix(0, created)
	conv.UpdatedAt = time.Unix(0, updated)

	return conv, nil
}

// List returns summaries of all conversations, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider, model, title, messages, updated_at
		FROM conversations ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			updated int64
		)
		if err := rows.Scan(&sum.ID, &sum.Provider, &sum.Model, &sum.Title, &sum.Messages, &updated); err != nil {
			return nil, fmt.Errorf("store: list: %w", err)
		}
		sum.UpdatedAt = time.Unix(0, updated)
		out = append(out, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}

	return out, nil
}

// Delete removes the conversation with the given ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}

// title derives a listing title from the first user message.
func title(rec chat.Record) string {
	for _, m := range rec.Messages {
		if m.Role != role.User.String() {
			continue
		}
		for _, p := range m.Content {
			if p.Kind != content.KindText || p.Value == "" {
				continue
			}
			t := p.Value
			if utf8.RuneCountInString(t) > titleLen {
				r := []rune(t)
				t = string(r[:titleLen]) + "…"
			}
			return t
		}
	}
	return ""
}
