package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"assistant-bot/internal/domain"
)

// sqliteStore implements Store using SQLite. The record's slot bindings and
// chat history are stored as JSON columns; scalar preferences get their own
// columns so they stay inspectable with plain SQL.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dbPath string) (Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &sqliteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *sqliteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id INTEGER PRIMARY KEY,
		mode TEXT NOT NULL,
		model TEXT NOT NULL,
		label TEXT NOT NULL,
		chat_prefix TEXT NOT NULL,
		messages_json TEXT NOT NULL,
		message_count INTEGER NOT NULL,
		history_chars INTEGER NOT NULL,
		slots_json TEXT NOT NULL,
		active_slot INTEGER NOT NULL,
		voice_reply INTEGER NOT NULL,
		system_prompt TEXT NOT NULL,
		image_quality TEXT NOT NULL,
		image_size TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// GetUser retrieves a user record by id.
func (s *sqliteStore) GetUser(userID int64) (*domain.UserRecord, bool, error) {
	query := `
		SELECT user_id, mode, model, label, chat_prefix, messages_json,
		       message_count, history_chars, slots_json, active_slot,
		       voice_reply, system_prompt, image_quality, image_size
		FROM users WHERE user_id = ?`

	row := s.db.QueryRow(query, userID)

	var rec domain.UserRecord
	var mode, messagesJSON, slotsJSON string
	var voiceReply int

	err := row.Scan(
		&rec.UserID, &mode, &rec.Model, &rec.Label, &rec.ChatPrefix,
		&messagesJSON, &rec.MessageCount, &rec.HistoryChars, &slotsJSON,
		&rec.ActiveSlot, &voiceReply, &rec.SystemPrompt,
		&rec.ImageQuality, &rec.ImageSize,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("scan user row: %w", err)
	}

	rec.Mode = domain.Mode(mode)
	rec.VoiceReply = voiceReply != 0
	if err := json.Unmarshal([]byte(messagesJSON), &rec.Messages); err != nil {
		return nil, false, fmt.Errorf("decode messages for user %d: %w", userID, err)
	}
	if err := json.Unmarshal([]byte(slotsJSON), &rec.Slots); err != nil {
		return nil, false, fmt.Errorf("decode slots for user %d: %w", userID, err)
	}

	return &rec, true, nil
}

// PutUser creates or updates a user record.
func (s *sqliteStore) PutUser(rec *domain.UserRecord) error {
	messagesJSON, err := json.Marshal(rec.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	slotsJSON, err := json.Marshal(rec.Slots)
	if err != nil {
		return fmt.Errorf("encode slots: %w", err)
	}

	voiceReply := 0
	if rec.VoiceReply {
		voiceReply = 1
	}

	query := `
	INSERT INTO users (
		user_id, mode, model, label, chat_prefix, messages_json,
		message_count, history_chars, slots_json, active_slot,
		voice_reply, system_prompt, image_quality, image_size, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		mode = excluded.mode,
		model = excluded.model,
		label = excluded.label,
		chat_prefix = excluded.chat_prefix,
		messages_json = excluded.messages_json,
		message_count = excluded.message_count,
		history_chars = excluded.history_chars,
		slots_json = excluded.slots_json,
		active_slot = excluded.active_slot,
		voice_reply = excluded.voice_reply,
		system_prompt = excluded.system_prompt,
		image_quality = excluded.image_quality,
		image_size = excluded.image_size,
		updated_at = excluded.updated_at`

	_, err = s.db.Exec(query,
		rec.UserID, string(rec.Mode), rec.Model, rec.Label, rec.ChatPrefix,
		string(messagesJSON), rec.MessageCount, rec.HistoryChars,
		string(slotsJSON), rec.ActiveSlot, voiceReply, rec.SystemPrompt,
		rec.ImageQuality, rec.ImageSize, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// ListUserIDs returns all stored user ids.
func (s *sqliteStore) ListUserIDs() ([]int64, error) {
	rows, err := s.db.Query(`SELECT user_id FROM users`)
	if err != nil {
		return nil, fmt.Errorf("query user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user ids: %w", err)
	}
	return ids, nil
}

// Close closes the database connection.
func (s *sqliteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
