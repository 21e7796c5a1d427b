// Package storage defines the session and rate-limit store consumed by the
// real-time gateway.
//
// The store owns ephemeral connection state only: session records, the
// user and discussion connection indexes derived from them, fixed-window
// rate counters, and per-discussion turn state. Durable discussion data
// lives in the discussions backend and never passes through this layer.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Record lifetimes. Sessions carry a generous TTL as a safety net against
// leaked records; the cleanup pass reconciles indexes well before expiry.
const (
	SessionTTL      = 24 * time.Hour
	RateLimitWindow = time.Minute
	CleanupInterval = 5 * time.Minute
)

// Rate-limited action classes tracked per connection.
const (
	ActionMessages  = "messages"
	ActionTyping    = "typing"
	ActionReactions = "reactions"
	ActionTurns     = "turns"
)

// ErrNotFound indicates the requested record does not exist or has expired.
var ErrNotFound = errors.New("storage: record not found")

// Session is the per-connection runtime record created at authentication
// and removed on disconnect.
type Session struct {
	ConnectionID  string
	UserID        string
	DiscussionID  string
	ParticipantID string
	SecurityLevel int
	Authenticated bool
	ConnectedAt   time.Time
	LastActivity  time.Time
	MessageCount  int
	IPAddress     string
	UserAgent     string
}

// TurnState tracks whose turn it is within one discussion. TurnNumber is
// non-decreasing; transitions happen only through the orchestrator.
type TurnState struct {
	CurrentParticipantID string          `json:"current_participant_id,omitempty"`
	TurnNumber           int             `json:"turn_number"`
	StartedAt            time.Time       `json:"started_at,omitempty"`
	ExpectedEndAt        time.Time       `json:"expected_end_at,omitempty"`
	StrategyConfig       json.RawMessage `json:"strategy_config,omitempty"`
}

// Stats reports approximate live counts derived from key scans. Advisory
// only; never used for correctness decisions.
type Stats struct {
	Sessions    int
	Users       int
	Discussions int
}

// Store is the session and rate-limit store contract.
//
// All operations honor the caller's context deadline. Only CheckRateLimit
// has fail-closed semantics: a store failure there denies the action,
// because the counter exists to prevent abuse.
type Store interface {
	// CreateSession writes the session record and registers the connection
	// in the user index (and discussion index when already joined).
	CreateSession(ctx context.Context, session Session) error

	// Session returns the live session for a connection.
	Session(ctx context.Context, connectionID string) (Session, error)

	// TouchSession records inbound activity: bumps LastActivity and
	// increments MessageCount.
	TouchSession(ctx context.Context, connectionID string, at time.Time) error

	// SetSessionDiscussion binds the session to a discussion after a
	// successful join and registers the connection in the discussion index.
	SetSessionDiscussion(ctx context.Context, connectionID, discussionID, participantID string) error

	// ClearSessionDiscussion unbinds the session from its discussion.
	ClearSessionDiscussion(ctx context.Context, connectionID string) error

	// RemoveSession deletes the session, its index entries, and its rate
	// counters. Best effort: a missing session still triggers deletion of
	// possibly-orphaned keys.
	RemoveSession(ctx context.Context, connectionID string) error

	// CheckRateLimit atomically counts one action against the connection's
	// current window and reports whether it is allowed. On store failure it
	// returns false along with the error.
	CheckRateLimit(ctx context.Context, connectionID, action string, maxPerMinute int) (bool, error)

	// UserConnections lists live connection IDs for a user.
	UserConnections(ctx context.Context, userID string) ([]string, error)

	// DiscussionConnections lists live connection IDs joined to a discussion.
	DiscussionConnections(ctx context.Context, discussionID string) ([]string, error)

	// CheckConnectionLimit reports whether the user may open one more
	// connection under the given cap.
	CheckConnectionLimit(ctx context.Context, userID string, max int) (bool, error)

	// TurnState returns the persisted turn state for a discussion.
	TurnState(ctx context.Context, discussionID string) (TurnState, error)

	// SetTurnState persists the turn state for a discussion.
	SetTurnState(ctx context.Context, discussionID string, state TurnState) error

	// ClearTurnState removes the turn state for a discussion.
	ClearTurnState(ctx context.Context, discussionID string) error

	// CleanupExpiredSessions drops index entries whose session record has
	// expired and returns how many entries were reconciled.
	CleanupExpiredSessions(ctx context.Context) (int, error)

	// Stats returns approximate live counts.
	Stats(ctx context.Context) (Stats, error)

	// Close releases the underlying store connection.
	Close() error
}
