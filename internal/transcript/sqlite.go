package transcript

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	v1 "github.com/chanbridge/chanbridge/pkg/bridge/v1"
)

// SQLiteStore provides SQLite-based transcript persistence
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite transcript store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database tables if they don't exist
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcript_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		role TEXT DEFAULT '',
		content TEXT DEFAULT '',
		payload TEXT DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transcript_channel ON transcript_entries(channel_id, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Append records one entry and returns it with its assigned id.
func (s *SQLiteStore) Append(ctx context.Context, entry *v1.TranscriptEntry) (*v1.TranscriptEntry, error) {
	stamp(entry)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript_entries (channel_id, kind, role, content, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ChannelID, entry.Kind, entry.Role, entry.Content, entry.Payload, entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transcript entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read inserted id: %w", err)
	}

	stored := *entry
	stored.ID = id
	return &stored, nil
}

// List returns a channel's entries in insertion order.
func (s *SQLiteStore) List(ctx context.Context, channelID string, limit int, sinceID int64) ([]*v1.TranscriptEntry, error) {
	query := `SELECT id, channel_id, kind, role, content, payload, created_at
		 FROM transcript_entries WHERE channel_id = ? AND id > ? ORDER BY id`
	args := []interface{}{channelID, sinceID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript entries: %w", err)
	}
	defer rows.Close()

	var out []*v1.TranscriptEntry
	for rows.Next() {
		var e v1.TranscriptEntry
		if err := rows.Scan(&e.ID, &e.ChannelID, &e.Kind, &e.Role, &e.Content, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transcript entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// TruncateAfter removes all entries with an id greater than entryID.
func (s *SQLiteStore) TruncateAfter(ctx context.Context, channelID string, entryID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM transcript_entries WHERE channel_id = ? AND id > ?`,
		channelID, entryID)
	return err
}

// DeleteChannel removes all entries for a channel.
func (s *SQLiteStore) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM transcript_entries WHERE channel_id = ?`, channelID)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
