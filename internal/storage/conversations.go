// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides local conversation persistence for lexchat.
//
// Conversations are cached in a SQLite database so history browsing and
// search work offline; the backend remains the source of truth and the
// cache is refreshed whenever a conversation is loaded from it.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/lexforge/lexchat/internal/model"
	"github.com/lexforge/lexchat/internal/protocol"
	"github.com/lexforge/lexchat/internal/util"
)

// ErrNotFound is returned when a conversation id is not in the store.
var ErrNotFound = errors.New("conversation not found")

// maxConversations caps the local cache; the least recently updated
// conversations are pruned on save. The backend keeps the full history.
const maxConversations = 200

// schema is applied on open; all statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	conversation_id   TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	position          INTEGER NOT NULL,
	id                TEXT NOT NULL,
	server_message_id TEXT NOT NULL DEFAULT '',
	role              TEXT NOT NULL,
	content           TEXT NOT NULL,
	timestamp         INTEGER NOT NULL,
	action_data       TEXT,
	action_status     TEXT NOT NULL DEFAULT '',
	action_response   TEXT NOT NULL DEFAULT '',
	action_metadata   TEXT,
	PRIMARY KEY (conversation_id, position)
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated
	ON conversations(updated_at DESC);
`

// =============================================================================
// STORE
// =============================================================================

// Meta contains conversation metadata for list views.
type Meta struct {
	ID           string
	Title        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
	Preview      string
}

// Store is a SQLite-backed conversation cache.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store at the given path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// SAVE
// =============================================================================

// Save upserts a conversation and replaces its message rows. A
// conversation without a backend-assigned id is not persisted; it will
// be saved once the id arrives mid-stream.
func (s *Store) Save(conv *model.Conversation) error {
	if conv.ID == "" {
		return errors.New("conversation has no id")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, updated_at = excluded.updated_at
	`, conv.ID, conv.Title, conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli())
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conv.ID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages (
			conversation_id, position, id, server_message_id, role,
			content, timestamp, action_data, action_status,
			action_response, action_metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, msg := range conv.Messages {
		actionData, err := marshalNullable(msg.ActionData)
		if err != nil {
			return err
		}
		actionMeta, err := marshalNullable(msg.ActionMetadata)
		if err != nil {
			return err
		}
		_, err = stmt.Exec(
			conv.ID, i, msg.ID, msg.ServerMessageID, string(msg.Role),
			msg.Content, msg.Timestamp.UnixMilli(), actionData,
			string(msg.ActionStatus), msg.ActionResponse, actionMeta,
		)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(`
		DELETE FROM conversations WHERE id IN (
			SELECT id FROM conversations
			ORDER BY updated_at DESC
			LIMIT -1 OFFSET ?
		)
	`, maxConversations)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// marshalNullable JSON-encodes v, mapping nil to SQL NULL.
func marshalNullable(v any) (any, error) {
	switch t := v.(type) {
	case *protocol.ActionDirective:
		if t == nil {
			return nil, nil
		}
	case map[string]any:
		if t == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// =============================================================================
// LOAD
// =============================================================================

// Load returns one stored conversation with all its messages. Loaded
// messages are always sealed.
func (s *Store) Load(id string) (*model.Conversation, error) {
	conv := &model.Conversation{ID: id}

	var created, updated int64
	err := s.db.QueryRow(`
		SELECT title, created_at, updated_at FROM conversations WHERE id = ?
	`, id).Scan(&conv.Title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	conv.CreatedAt = time.UnixMilli(created)
	conv.UpdatedAt = time.UnixMilli(updated)

	rows, err := s.db.Query(`
		SELECT id, server_message_id, role, content, timestamp,
		       action_data, action_status, action_response, action_metadata
		FROM messages WHERE conversation_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msg        model.Message
			role       string
			ts         int64
			status     string
			actionData sql.NullString
			actionMeta sql.NullString
		)
		err := rows.Scan(
			&msg.ID, &msg.ServerMessageID, &role, &msg.Content, &ts,
			&actionData, &status, &msg.ActionResponse, &actionMeta,
		)
		if err != nil {
			return nil, err
		}
		msg.Role = model.Role(role)
		msg.Timestamp = time.UnixMilli(ts)
		msg.ActionStatus = model.ActionStatus(status)
		if actionData.Valid {
			var d protocol.ActionDirective
			if err := json.Unmarshal([]byte(actionData.String), &d); err != nil {
				return nil, fmt.Errorf("corrupt action data for message %s: %w", msg.ID, err)
			}
			msg.ActionData = &d
		}
		if actionMeta.Valid {
			if err := json.Unmarshal([]byte(actionMeta.String), &msg.ActionMetadata); err != nil {
				return nil, fmt.Errorf("corrupt action metadata for message %s: %w", msg.ID, err)
			}
		}
		m := msg
		conv.Messages = append(conv.Messages, &m)
	}
	return conv, rows.Err()
}

// =============================================================================
// LIST / SEARCH / DELETE
// =============================================================================

// List returns stored conversations, most recently updated first.
func (s *Store) List(limit int) ([]Meta, error) {
	return s.query(`
		SELECT c.id, c.title, c.created_at, c.updated_at,
		       COUNT(m.id),
		       COALESCE((
		           SELECT content FROM messages
		           WHERE conversation_id = c.id AND role = 'user'
		           ORDER BY position LIMIT 1
		       ), '')
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		GROUP BY c.id
		ORDER BY c.updated_at DESC
		LIMIT ?
	`, limit)
}

// Search returns conversations whose title or message content matches
// the query, most recently updated first.
func (s *Store) Search(query string, limit int) ([]Meta, error) {
	pattern := "%" + query + "%"
	return s.query(`
		SELECT c.id, c.title, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages WHERE conversation_id = c.id),
		       COALESCE((
		           SELECT content FROM messages
		           WHERE conversation_id = c.id AND role = 'user'
		           ORDER BY position LIMIT 1
		       ), '')
		FROM conversations c
		WHERE c.title LIKE ? OR EXISTS (
			SELECT 1 FROM messages
			WHERE conversation_id = c.id AND content LIKE ?
		)
		ORDER BY c.updated_at DESC
		LIMIT ?
	`, pattern, pattern, limit)
}

// query runs a metadata select with the fixed column layout.
func (s *Store) query(q string, args ...any) ([]Meta, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var (
			meta             Meta
			created, updated int64
			preview          string
		)
		if err := rows.Scan(&meta.ID, &meta.Title, &created, &updated, &meta.MessageCount, &preview); err != nil {
			return nil, err
		}
		meta.CreatedAt = time.UnixMilli(created)
		meta.UpdatedAt = time.UnixMilli(updated)
		meta.Preview = util.TruncateRunes(preview, 80)
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// Delete removes a conversation and its messages.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
