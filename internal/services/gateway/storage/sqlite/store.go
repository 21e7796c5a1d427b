// Package sqlite provides a SQLite-backed session and rate-limit store for
// single-node deployments and tests.
//
// Record expiry is modeled with expires_at columns: reads filter expired
// rows and the periodic cleanup pass deletes them, which stands in for the
// TTL semantics the Redis backend gets natively.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/roundtablehq/roundtable/internal/platform/storage/sqlitemigrate"
	"github.com/roundtablehq/roundtable/internal/services/gateway/storage"
	"github.com/roundtablehq/roundtable/internal/services/gateway/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists gateway sessions and rate counters in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite session store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateSession writes the session record.
func (s *Store) CreateSession(ctx context.Context, session storage.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	connectionID := strings.TrimSpace(session.ConnectionID)
	userID := strings.TrimSpace(session.UserID)
	if connectionID == "" {
		return fmt.Errorf("connection id is required")
	}
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	connectedAt := session.ConnectedAt
	if connectedAt.IsZero() {
		connectedAt = s.now()
	}
	lastActivity := session.LastActivity
	if lastActivity.IsZero() {
		lastActivity = connectedAt
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO sessions (
		   connection_id, user_id, discussion_id, participant_id,
		   security_level, authenticated, connected_at, last_activity,
		   message_count, ip_address, user_agent, expires_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		connectionID,
		userID,
		session.DiscussionID,
		session.ParticipantID,
		session.SecurityLevel,
		boolToInt(session.Authenticated),
		toMillis(connectedAt),
		toMillis(lastActivity),
		session.MessageCount,
		session.IPAddress,
		session.UserAgent,
		toMillis(s.now().Add(storage.SessionTTL)),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Session returns the live session for a connection.
func (s *Store) Session(ctx context.Context, connectionID string) (storage.Session, error) {
	if err := ctx.Err(); err != nil {
		return storage.Session{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT connection_id, user_id, discussion_id, participant_id,
		        security_level, authenticated, connected_at, last_activity,
		        message_count, ip_address, user_agent
		   FROM sessions
		  WHERE connection_id = ? AND expires_at > ?`,
		connectionID,
		toMillis(s.now()),
	)
	return scanSession(row)
}

// TouchSession bumps LastActivity and increments MessageCount.
func (s *Store) TouchSession(ctx context.Context, connectionID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE sessions
		    SET last_activity = ?, message_count = message_count + 1
		  WHERE connection_id = ? AND expires_at > ?`,
		toMillis(at),
		connectionID,
		toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return requireRow(result)
}

// SetSessionDiscussion binds the session to a discussion after a join.
func (s *Store) SetSessionDiscussion(ctx context.Context, connectionID, discussionID, participantID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE sessions
		    SET discussion_id = ?, participant_id = ?
		  WHERE connection_id = ? AND expires_at > ?`,
		discussionID,
		participantID,
		connectionID,
		toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("bind session to discussion: %w", err)
	}
	return requireRow(result)
}

// ClearSessionDiscussion unbinds the session from its discussion.
func (s *Store) ClearSessionDiscussion(ctx context.Context, connectionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE sessions
		    SET discussion_id = '', participant_id = ''
		  WHERE connection_id = ? AND expires_at > ?`,
		connectionID,
		toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("unbind session: %w", err)
	}
	return requireRow(result)
}

// RemoveSession deletes the session and its rate counters. Tolerant of a
// session that no longer exists.
func (s *Store) RemoveSession(ctx context.Context, connectionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE connection_id = ?`, connectionID); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM rate_limits WHERE connection_id = ?`, connectionID); err != nil {
		return fmt.Errorf("remove rate counters: %w", err)
	}
	return nil
}

// CheckRateLimit counts one action against the current window in a single
// upsert so concurrent first requests cannot slip past the cap.
func (s *Store) CheckRateLimit(ctx context.Context, connectionID, action string, maxPerMinute int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if maxPerMinute <= 0 {
		return false, nil
	}
	nowMillis := toMillis(s.now())
	resetMillis := toMillis(s.now().Add(storage.RateLimitWindow))

	row := s.sqlDB.QueryRowContext(
		ctx,
		`INSERT INTO rate_limits (connection_id, action, count, reset_at)
		 VALUES (?, ?, 1, ?)
		 ON CONFLICT (connection_id, action) DO UPDATE SET
		   count = CASE WHEN ? > rate_limits.reset_at THEN 1 ELSE rate_limits.count + 1 END,
		   reset_at = CASE WHEN ? > rate_limits.reset_at THEN ? ELSE rate_limits.reset_at END
		 RETURNING count`,
		connectionID,
		action,
		resetMillis,
		nowMillis,
		nowMillis,
		resetMillis,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("rate limit %s/%s: %w", connectionID, action, err)
	}
	return count <= maxPerMinute, nil
}

// UserConnections lists live connection IDs for a user.
func (s *Store) UserConnections(ctx context.Context, userID string) ([]string, error) {
	return s.connectionIDs(ctx, `SELECT connection_id FROM sessions WHERE user_id = ? AND expires_at > ?`, userID)
}

// DiscussionConnections lists live connection IDs joined to a discussion.
func (s *Store) DiscussionConnections(ctx context.Context, discussionID string) ([]string, error) {
	return s.connectionIDs(ctx, `SELECT connection_id FROM sessions WHERE discussion_id = ? AND expires_at > ?`, discussionID)
}

func (s *Store) connectionIDs(ctx context.Context, query, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, key, toMillis(s.now()))
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list connections: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return ids, nil
}

// CheckConnectionLimit reports whether the user may open one more connection.
func (s *Store) CheckConnectionLimit(ctx context.Context, userID string, max int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM sessions WHERE user_id = ? AND expires_at > ?`,
		userID,
		toMillis(s.now()),
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("connection count: %w", err)
	}
	return count < max, nil
}

// TurnState returns the persisted turn state for a discussion.
func (s *Store) TurnState(ctx context.Context, discussionID string) (storage.TurnState, error) {
	if err := ctx.Err(); err != nil {
		return storage.TurnState{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT state FROM turn_states WHERE discussion_id = ? AND expires_at > ?`,
		discussionID,
		toMillis(s.now()),
	)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.TurnState{}, storage.ErrNotFound
		}
		return storage.TurnState{}, fmt.Errorf("get turn state: %w", err)
	}
	var state storage.TurnState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return storage.TurnState{}, fmt.Errorf("decode turn state: %w", err)
	}
	return state, nil
}

// SetTurnState persists the turn state for a discussion.
func (s *Store) SetTurnState(ctx context.Context, discussionID string, state storage.TurnState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode turn state: %w", err)
	}
	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO turn_states (discussion_id, state, expires_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (discussion_id) DO UPDATE SET state = excluded.state, expires_at = excluded.expires_at`,
		discussionID,
		raw,
		toMillis(s.now().Add(storage.SessionTTL)),
	)
	if err != nil {
		return fmt.Errorf("set turn state: %w", err)
	}
	return nil
}

// ClearTurnState removes the turn state for a discussion.
func (s *Store) ClearTurnState(ctx context.Context, discussionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM turn_states WHERE discussion_id = ?`, discussionID); err != nil {
		return fmt.Errorf("clear turn state: %w", err)
	}
	return nil
}

// CleanupExpiredSessions deletes rows past their expiry and stale rate
// windows, returning how many rows were removed.
func (s *Store) CleanupExpiredSessions(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	nowMillis := toMillis(s.now())
	removed := 0

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, nowMillis)
	if err != nil {
		return removed, fmt.Errorf("cleanup sessions: %w", err)
	}
	removed += affectedRows(result)

	result, err = s.sqlDB.ExecContext(ctx, `DELETE FROM rate_limits WHERE reset_at <= ?`, nowMillis)
	if err != nil {
		return removed, fmt.Errorf("cleanup rate windows: %w", err)
	}
	removed += affectedRows(result)

	result, err = s.sqlDB.ExecContext(ctx, `DELETE FROM turn_states WHERE expires_at <= ?`, nowMillis)
	if err != nil {
		return removed, fmt.Errorf("cleanup turn states: %w", err)
	}
	removed += affectedRows(result)
	return removed, nil
}

// Stats returns approximate live counts.
func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return storage.Stats{}, err
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT COUNT(*),
		        COUNT(DISTINCT user_id),
		        COUNT(DISTINCT CASE WHEN discussion_id != '' THEN discussion_id END)
		   FROM sessions
		  WHERE expires_at > ?`,
		toMillis(s.now()),
	)
	var stats storage.Stats
	if err := row.Scan(&stats.Sessions, &stats.Users, &stats.Discussions); err != nil {
		return storage.Stats{}, fmt.Errorf("session stats: %w", err)
	}
	return stats, nil
}

func scanSession(row *sql.Row) (storage.Session, error) {
	var session storage.Session
	var authenticated int
	var connectedAt int64
	var lastActivity int64
	err := row.Scan(
		&session.ConnectionID,
		&session.UserID,
		&session.DiscussionID,
		&session.ParticipantID,
		&session.SecurityLevel,
		&authenticated,
		&connectedAt,
		&lastActivity,
		&session.MessageCount,
		&session.IPAddress,
		&session.UserAgent,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Session{}, storage.ErrNotFound
		}
		return storage.Session{}, fmt.Errorf("get session: %w", err)
	}
	session.Authenticated = authenticated != 0
	session.ConnectedAt = fromMillis(connectedAt)
	session.LastActivity = fromMillis(lastActivity)
	return session, nil
}

func requireRow(result sql.Result) error {
	if affectedRows(result) == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func affectedRows(result sql.Result) int {
	if result == nil {
		return 0
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

var _ storage.Store = (*Store)(nil)
