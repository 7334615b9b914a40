package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/stepwise/internal/observability"
	"github.com/harun/stepwise/pkg/archive"
	"github.com/harun/stepwise/pkg/llm"
	"github.com/rs/zerolog"
)

// DefaultMaxSessions is how many sessions are kept.
const DefaultMaxSessions = 100

// timeLayout stamps stored messages.
const timeLayout = "2006-01-02 15:04:05.000"

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session not found")

// Session is one stored session.
type Session struct {
	ID         string    `json:"session_id"`
	Name       string    `json:"session_name,omitempty"`
	Task       string    `json:"task"`
	CreateTime time.Time `json:"create_time"`
}

// MessageStore is the message side of the store, used by Hook.
type MessageStore interface {
	AddSessionMessage(ctx context.Context, sessionID string, msg llm.Message) error
	GetMessagesBySession(ctx context.Context, sessionID string) ([]llm.Message, error)
}

// Config holds session store configuration.
type Config struct {
	DBPath string
	// Archive stores the session messages.
	Archive     archive.Store
	MaxSessions int
	Logger      zerolog.Logger
	Now         func() time.Time
}

// SQLiteStore keeps the session table in SQLite.
type SQLiteStore struct {
	db      *sql.DB
	archive archive.Store
	max     int
	logger  zerolog.Logger
	now     func() time.Time
}

// NewSQLiteStore opens (and creates) the session database.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	observability.EnsureRegistered()

	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.Archive == nil {
		return nil, errors.New("archive store is required")
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	db, err := archive.OpenDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	schema := `
		CREATE TABLE IF NOT EXISTS session (
			session_id TEXT PRIMARY KEY,
			session_name TEXT,
			task TEXT NOT NULL,
			create_time INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_created ON session(create_time);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{
		db:      db,
		archive: cfg.Archive,
		max:     cfg.MaxSessions,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}, nil
}

// ValidateID checks that a session id is safe to use in file names.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

// CreateSession inserts s and evicts sessions beyond the newest MaxSessions.
func (st *SQLiteStore) CreateSession(ctx context.Context, s Session) error {
	if err := ValidateID(s.ID); err != nil {
		return err
	}
	if s.CreateTime.IsZero() {
		s.CreateTime = st.now()
	}

	if _, err := st.db.ExecContext(ctx,
		"INSERT INTO session (session_id, session_name, task, create_time) VALUES (?, ?, ?, ?)",
		s.ID, s.Name, s.Task, s.CreateTime.UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to create session %s: %w", s.ID, err)
	}
	st.logger.Info().Str("session_id", s.ID).Str("task", s.Task).Msg("Session created")

	evicted, err := st.oldestBeyondLimit(ctx)
	if err != nil {
		return err
	}
	for _, id := range evicted {
		if err := st.DeleteSession(ctx, id); err != nil {
			return fmt.Errorf("failed to evict session %s: %w", id, err)
		}
	}
	if len(evicted) > 0 {
		st.logger.Info().Int("evicted", len(evicted)).Msg("Oldest sessions cleared")
	}
	return nil
}

func (st *SQLiteStore) oldestBeyondLimit(ctx context.Context) ([]string, error) {
	rows, err := st.db.QueryContext(ctx,
		"SELECT session_id FROM session ORDER BY create_time DESC, rowid DESC LIMIT -1 OFFSET ?", st.max)
	if err != nil {
		return nil, fmt.Errorf("failed to query old sessions: %w", err)
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

// ExistsSession reports whether id is stored.
func (st *SQLiteStore) ExistsSession(ctx context.Context, id string) (bool, error) {
	_, err := st.GetSession(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetSession returns one session.
func (st *SQLiteStore) GetSession(ctx context.Context, id string) (Session, error) {
	row := st.db.QueryRowContext(ctx,
		"SELECT session_id, session_name, task, create_time FROM session WHERE session_id = ?", id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, err
}

// ListSessions returns all sessions, newest first.
func (st *SQLiteStore) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := st.db.QueryContext(ctx,
		"SELECT session_id, session_name, task, create_time FROM session ORDER BY create_time DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its messages.
func (st *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	res, err := st.db.ExecContext(ctx, "DELETE FROM session WHERE session_id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := st.archive.DelMessages(ctx, "", id); err != nil {
		return fmt.Errorf("failed to delete messages of session %s: %w", id, err)
	}
	st.logger.Info().Str("session_id", id).Msg("Session deleted")
	return nil
}

// CleanSessions deletes sessions created more than olderThan ago.
func (st *SQLiteStore) CleanSessions(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := st.now().Add(-olderThan).UnixMilli()

	rows, err := st.db.QueryContext(ctx, "SELECT session_id FROM session WHERE create_time < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to query stale sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := st.DeleteSession(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// AddSessionMessage stores msg for the session. Non-system messages are
// stamped with create_time first, so repeated identical turns stay distinct.
func (st *SQLiteStore) AddSessionMessage(ctx context.Context, sessionID string, msg llm.Message) error {
	stored := storedMessage{Message: msg}
	if msg.Role != llm.RoleSystem {
		stored.CreateTime = st.now().Format(timeLayout)
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	rec := archive.NewRecord(string(data), sessionID)
	if err := st.archive.AddMessage(ctx, rec); err != nil {
		return err
	}
	st.logger.Debug().Str("session_id", sessionID).Str("msg_id", rec.MsgID).Msg("Session message added")
	return nil
}

// GetMessagesBySession returns the session's messages in order.
func (st *SQLiteStore) GetMessagesBySession(ctx context.Context, sessionID string) ([]llm.Message, error) {
	recs, err := st.archive.GetMessagesBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := make([]llm.Message, 0, len(recs))
	for _, rec := range recs {
		var stored storedMessage
		if err := json.Unmarshal([]byte(rec.Message), &stored); err != nil || stored.Role == "" {
			st.logger.Warn().Str("msg_id", rec.MsgID).Msg("Skipping undecodable session message")
			continue
		}
		out = append(out, stored.Message)
	}
	return out, nil
}

// Close closes the database.
func (st *SQLiteStore) Close() error {
	return st.db.Close()
}

type storedMessage struct {
	CreateTime string `json:"create_time,omitempty"`
	llm.Message
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (Session, error) {
	var (
		s       Session
		name    sql.NullString
		created int64
	)
	if err := row.Scan(&s.ID, &name, &s.Task, &created); err != nil {
		return Session{}, err
	}
	s.Name = name.String
	s.CreateTime = time.UnixMilli(created)
	return s, nil
}
