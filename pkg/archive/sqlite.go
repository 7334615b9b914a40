package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/stepwise/internal/observability"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Config holds SQLite store configuration.
type Config struct {
	DBPath string
	Logger zerolog.Logger
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// SQLiteStore is a Store backed by a SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (and creates) the archive database.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	observability.EnsureRegistered()

	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	db, err := OpenDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{
		db:     db,
		logger: cfg.Logger,
		now:    cfg.Now,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Debug().Str("path", cfg.DBPath).Msg("Archive store initialized")
	return s, nil
}

// OpenDB opens a SQLite file in WAL mode with a single writer connection.
func OpenDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	return db, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chat_history_messages (
			msg_id TEXT PRIMARY KEY,
			message TEXT NOT NULL,
			msg_size INTEGER NOT NULL,
			create_time INTEGER NOT NULL,
			access_time INTEGER NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_messages_access ON chat_history_messages(access_time);

		CREATE TABLE IF NOT EXISTS map_session_message (
			msg_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			create_time INTEGER NOT NULL,
			PRIMARY KEY (msg_id, session_id)
		);
		CREATE INDEX IF NOT EXISTS idx_map_session ON map_session_message(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// AddMessage implements Store.
func (s *SQLiteStore) AddMessage(ctx context.Context, rec Record) error {
	if rec.MsgID == "" {
		rec.MsgID = MessageID(rec.Message)
	}
	now := s.now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO chat_history_messages
			(msg_id, message, msg_size, create_time, access_time, access_count)
		VALUES (?, ?, ?, ?, ?, 0)`,
		rec.MsgID, rec.Message, len(rec.Message), now, now,
	); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if rec.SessionID != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO map_session_message (msg_id, session_id, create_time)
			VALUES (?, ?, ?)`,
			rec.MsgID, rec.SessionID, now,
		); err != nil {
			return fmt.Errorf("failed to map message to session: %w", err)
		}
	}

	return tx.Commit()
}

// GetMessage implements Store.
func (s *SQLiteStore) GetMessage(ctx context.Context, msgID string) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE chat_history_messages
		SET access_time = ?, access_count = access_count + 1
		WHERE msg_id = ?`,
		s.now().UnixMilli(), msgID,
	)
	if err != nil {
		return Record{}, fmt.Errorf("failed to update access: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Record{}, ErrNotFound
	}

	row := tx.QueryRowContext(ctx, `
		SELECT msg_id, message, msg_size, create_time, access_time, access_count
		FROM chat_history_messages WHERE msg_id = ?`, msgID)
	rec, err := scanRecord(row)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("failed to commit: %w", err)
	}
	return rec, nil
}

// GetMessagesBySession implements Store.
func (s *SQLiteStore) GetMessagesBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.msg_id, m.message, m.msg_size, m.create_time, m.access_time, m.access_count
		FROM map_session_message AS sm
		JOIN chat_history_messages AS m ON m.msg_id = sm.msg_id
		WHERE sm.session_id = ?
		ORDER BY sm.rowid ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session messages: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		rec.SessionID = sessionID
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DelMessages implements Store. At least one of msgID and sessionID is required.
func (s *SQLiteStore) DelMessages(ctx context.Context, msgID, sessionID string) (int, error) {
	if msgID == "" && sessionID == "" {
		return 0, errors.New("msg_id or session_id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var conds []string
	var args []interface{}
	if msgID != "" {
		conds = append(conds, "msg_id = ?")
		args = append(args, msgID)
	}
	if sessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, sessionID)
	}
	where := strings.Join(conds, " AND ")

	candidates, err := queryIDs(ctx, tx, "SELECT DISTINCT msg_id FROM map_session_message WHERE "+where, args...)
	if err != nil {
		return 0, err
	}
	if msgID != "" && sessionID == "" {
		candidates = appendUnique(candidates, msgID)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM map_session_message WHERE "+where, args...); err != nil {
		return 0, fmt.Errorf("failed to delete mappings: %w", err)
	}

	deleted := 0
	for _, id := range candidates {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM chat_history_messages
			WHERE msg_id = ? AND NOT EXISTS (
				SELECT 1 FROM map_session_message WHERE msg_id = ?
			)`, id, id)
		if err != nil {
			return 0, fmt.Errorf("failed to delete message %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Info().
		Str("msg_id", msgID).
		Str("session_id", sessionID).
		Int("deleted", deleted).
		Msg("Archived messages deleted")
	return deleted, nil
}

// CleanMessages implements Store.
func (s *SQLiteStore) CleanMessages(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM map_session_message WHERE msg_id IN (
			SELECT msg_id FROM chat_history_messages WHERE access_time < ?
		)`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete stale mappings: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM chat_history_messages WHERE access_time < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale messages: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Info().Dur("older_than", olderThan).Int64("deleted", n).Msg("Archive cleaned")
	return int(n), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec                    Record
		createTime, accessTime int64
	)
	err := row.Scan(&rec.MsgID, &rec.Message, &rec.Size, &createTime, &accessTime, &rec.AccessCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to scan message: %w", err)
	}
	rec.CreateTime = time.UnixMilli(createTime)
	rec.AccessTime = time.UnixMilli(accessTime)
	return rec, nil
}

func queryIDs(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
