// Package memory holds conversation transcripts and user profiles and
// assembles them into the context block the agent prompt carries.
package memory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("memory: not found")

// DefaultUserID owns sessions created without an explicit user.
const DefaultUserID = "default_user"

// SessionInfo is the listing metadata of one session.
type SessionInfo struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	LastUpdated time.Time `json:"last_updated"`
}

// Store is the durable backend for transcripts and profiles.
//
// AppendTranscript and MergeProfile must be atomic per key: two
// overlapping calls for the same session (or user) never lose each
// other's writes. Calls for different keys must not block each other.
type Store interface {
	// Transcript returns the full transcript of a session, or "" when
	// the session does not exist.
	Transcript(ctx context.Context, sessionID string) (string, error)

	// AppendTranscript appends text to the session transcript, creating
	// the session owned by userID when it does not exist.
	AppendTranscript(ctx context.Context, sessionID, userID, text string) error

	// Profile returns the stored profile of userID. A user without a
	// profile gets an empty, non-nil map.
	Profile(ctx context.Context, userID string) (map[string]any, error)

	// MergeProfile overwrites the keys in info and keeps every other
	// stored key.
	MergeProfile(ctx context.Context, userID string, info map[string]any) error

	// ListSessions returns every session, most recently updated first.
	ListSessions(ctx context.Context) ([]SessionInfo, error)

	// DeleteSession removes a session. It returns ErrNotFound when the
	// session does not exist.
	DeleteSession(ctx context.Context, sessionID string) error

	Close() error
}

// Pinger is implemented by stores backed by a server or file that can
// become unreachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// sortSessions orders newest first, breaking ties by session id.
func sortSessions(s []SessionInfo) {
	slices.SortFunc(s, func(a, b SessionInfo) int {
		if c := b.LastUpdated.Compare(a.LastUpdated); c != 0 {
			return c
		}
		return strings.Compare(a.SessionID, b.SessionID)
	})
}
