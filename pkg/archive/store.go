package archive

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"time"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("archived message not found")

// Record is one archived message.
type Record struct {
	MsgID       string    `json:"msg_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Message     string    `json:"message"`
	Size        int       `json:"msg_size"`
	CreateTime  time.Time `json:"create_time"`
	AccessTime  time.Time `json:"access_time"`
	AccessCount int       `json:"access_count"`
}

// MessageID derives the content id of message.
func MessageID(message string) string {
	sum := md5.Sum([]byte(message))
	return hex.EncodeToString(sum[:])
}

// NewRecord builds a record keyed by the content id.
func NewRecord(message, sessionID string) Record {
	return Record{
		MsgID:     MessageID(message),
		SessionID: sessionID,
		Message:   message,
		Size:      len(message),
	}
}

// Store persists archived messages and their session mappings.
type Store interface {
	// AddMessage stores rec once per id and maps it to rec.SessionID when set.
	AddMessage(ctx context.Context, rec Record) error
	// GetMessage returns the record and bumps its access time and count.
	GetMessage(ctx context.Context, msgID string) (Record, error)
	// GetMessagesBySession returns the session's records in insertion order.
	GetMessagesBySession(ctx context.Context, sessionID string) ([]Record, error)
	// DelMessages removes mappings by id and/or session plus the records they orphan.
	DelMessages(ctx context.Context, msgID, sessionID string) (int, error)
	// CleanMessages deletes records not accessed within olderThan.
	CleanMessages(ctx context.Context, olderThan time.Duration) (int, error)
}
