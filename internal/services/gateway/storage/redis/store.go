// Package redis provides the Redis-backed session and rate-limit store.
//
// All keys live in a dedicated database index so ephemeral real-time state
// never collides with durable application data in a shared cache.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roundtablehq/roundtable/internal/services/gateway/storage"
)

const (
	sessionKeyPrefix    = "session:"
	userIndexPrefix     = "user_sessions:"
	discussionIdxPrefix = "discussion_sessions:"
	rateKeyPrefix       = "rate:"
	turnStateKeyPrefix  = "turn_state:"
)

// rateLimitScript counts one action and sets the window expiry in a single
// atomic step, closing the check-then-increment race called out in the
// original design.
var rateLimitScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Config defines the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store persists gateway sessions and rate counters in Redis.
type Store struct {
	client *redis.Client
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client}, nil
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func sessionKey(connectionID string) string   { return sessionKeyPrefix + connectionID }
func userIndexKey(userID string) string       { return userIndexPrefix + userID }
func discussionIndexKey(id string) string     { return discussionIdxPrefix + id }
func turnStateKey(discussionID string) string { return turnStateKeyPrefix + discussionID }

func rateKey(connectionID, action string) string {
	return rateKeyPrefix + connectionID + ":" + action
}

// CreateSession writes the session hash and registers the connection in the
// user index (and discussion index when already joined).
func (s *Store) CreateSession(ctx context.Context, session storage.Session) error {
	connectionID := strings.TrimSpace(session.ConnectionID)
	if connectionID == "" {
		return fmt.Errorf("connection id is required")
	}
	if strings.TrimSpace(session.UserID) == "" {
		return fmt.Errorf("user id is required")
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(connectionID), sessionFields(session))
	pipe.Expire(ctx, sessionKey(connectionID), storage.SessionTTL)
	pipe.SAdd(ctx, userIndexKey(session.UserID), connectionID)
	pipe.Expire(ctx, userIndexKey(session.UserID), storage.SessionTTL)
	if session.DiscussionID != "" {
		pipe.SAdd(ctx, discussionIndexKey(session.DiscussionID), connectionID)
		pipe.Expire(ctx, discussionIndexKey(session.DiscussionID), storage.SessionTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create session %s: %w", connectionID, err)
	}
	return nil
}

// Session returns the live session for a connection.
func (s *Store) Session(ctx context.Context, connectionID string) (storage.Session, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(connectionID)).Result()
	if err != nil {
		return storage.Session{}, fmt.Errorf("get session %s: %w", connectionID, err)
	}
	if len(fields) == 0 {
		return storage.Session{}, storage.ErrNotFound
	}
	return sessionFromFields(connectionID, fields), nil
}

// TouchSession bumps LastActivity and increments MessageCount.
func (s *Store) TouchSession(ctx context.Context, connectionID string, at time.Time) error {
	key := sessionKey(connectionID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("touch session %s: %w", connectionID, err)
	}
	if exists == 0 {
		return storage.ErrNotFound
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "last_activity", at.UTC().UnixMilli())
	pipe.HIncrBy(ctx, key, "message_count", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touch session %s: %w", connectionID, err)
	}
	return nil
}

// SetSessionDiscussion binds the session to a discussion and registers the
// connection in the discussion index.
func (s *Store) SetSessionDiscussion(ctx context.Context, connectionID, discussionID, participantID string) error {
	key := sessionKey(connectionID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("bind session %s: %w", connectionID, err)
	}
	if exists == 0 {
		return storage.ErrNotFound
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "discussion_id", discussionID, "participant_id", participantID)
	pipe.SAdd(ctx, discussionIndexKey(discussionID), connectionID)
	pipe.Expire(ctx, discussionIndexKey(discussionID), storage.SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bind session %s to discussion %s: %w", connectionID, discussionID, err)
	}
	return nil
}

// ClearSessionDiscussion unbinds the session from its discussion.
func (s *Store) ClearSessionDiscussion(ctx context.Context, connectionID string) error {
	session, err := s.Session(ctx, connectionID)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(connectionID), "discussion_id", "", "participant_id", "")
	if session.DiscussionID != "" {
		pipe.SRem(ctx, discussionIndexKey(session.DiscussionID), connectionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("unbind session %s: %w", connectionID, err)
	}
	return nil
}

// RemoveSession deletes the session, its index entries, and its rate
// counters. Missing sessions still trigger deletion of orphaned keys.
func (s *Store) RemoveSession(ctx context.Context, connectionID string) error {
	session, err := s.Session(ctx, connectionID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(connectionID))
	if session.UserID != "" {
		pipe.SRem(ctx, userIndexKey(session.UserID), connectionID)
	}
	if session.DiscussionID != "" {
		pipe.SRem(ctx, discussionIndexKey(session.DiscussionID), connectionID)
	}
	for _, action := range []string{
		storage.ActionMessages, storage.ActionTyping, storage.ActionReactions, storage.ActionTurns,
	} {
		pipe.Del(ctx, rateKey(connectionID, action))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove session %s: %w", connectionID, err)
	}
	return nil
}

// CheckRateLimit atomically counts one action against the current window.
// Store failures deny the action.
func (s *Store) CheckRateLimit(ctx context.Context, connectionID, action string, maxPerMinute int) (bool, error) {
	if maxPerMinute <= 0 {
		return false, nil
	}
	count, err := rateLimitScript.Run(
		ctx,
		s.client,
		[]string{rateKey(connectionID, action)},
		storage.RateLimitWindow.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit %s/%s: %w", connectionID, action, err)
	}
	return count <= int64(maxPerMinute), nil
}

// UserConnections lists live connection IDs for a user.
func (s *Store) UserConnections(ctx context.Context, userID string) ([]string, error) {
	members, err := s.client.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("user connections %s: %w", userID, err)
	}
	return members, nil
}

// DiscussionConnections lists live connection IDs joined to a discussion.
func (s *Store) DiscussionConnections(ctx context.Context, discussionID string) ([]string, error) {
	members, err := s.client.SMembers(ctx, discussionIndexKey(discussionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("discussion connections %s: %w", discussionID, err)
	}
	return members, nil
}

// CheckConnectionLimit reports whether the user may open one more connection.
func (s *Store) CheckConnectionLimit(ctx context.Context, userID string, max int) (bool, error) {
	count, err := s.client.SCard(ctx, userIndexKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("connection count %s: %w", userID, err)
	}
	return count < int64(max), nil
}

// TurnState returns the persisted turn state for a discussion.
func (s *Store) TurnState(ctx context.Context, discussionID string) (storage.TurnState, error) {
	raw, err := s.client.Get(ctx, turnStateKey(discussionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return storage.TurnState{}, storage.ErrNotFound
		}
		return storage.TurnState{}, fmt.Errorf("get turn state %s: %w", discussionID, err)
	}
	var state storage.TurnState
	if err := json.Unmarshal(raw, &state); err != nil {
		return storage.TurnState{}, fmt.Errorf("decode turn state %s: %w", discussionID, err)
	}
	return state, nil
}

// SetTurnState persists the turn state for a discussion.
func (s *Store) SetTurnState(ctx context.Context, discussionID string, state storage.TurnState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode turn state %s: %w", discussionID, err)
	}
	if err := s.client.Set(ctx, turnStateKey(discussionID), raw, storage.SessionTTL).Err(); err != nil {
		return fmt.Errorf("set turn state %s: %w", discussionID, err)
	}
	return nil
}

// ClearTurnState removes the turn state for a discussion.
func (s *Store) ClearTurnState(ctx context.Context, discussionID string) error {
	if err := s.client.Del(ctx, turnStateKey(discussionID)).Err(); err != nil {
		return fmt.Errorf("clear turn state %s: %w", discussionID, err)
	}
	return nil
}

// CleanupExpiredSessions removes index members whose session hash has
// expired. TTL expiry deletes session keys but leaves set entries behind.
func (s *Store) CleanupExpiredSessions(ctx context.Context) (int, error) {
	removed := 0
	for _, prefix := range []string{userIndexPrefix, discussionIdxPrefix} {
		n, err := s.cleanupIndex(ctx, prefix)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (s *Store) cleanupIndex(ctx context.Context, prefix string) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		indexKey := iter.Val()
		members, err := s.client.SMembers(ctx, indexKey).Result()
		if err != nil {
			return removed, fmt.Errorf("scan index %s: %w", indexKey, err)
		}
		for _, connectionID := range members {
			exists, err := s.client.Exists(ctx, sessionKey(connectionID)).Result()
			if err != nil {
				return removed, fmt.Errorf("check session %s: %w", connectionID, err)
			}
			if exists == 0 {
				if err := s.client.SRem(ctx, indexKey, connectionID).Err(); err != nil {
					return removed, fmt.Errorf("reconcile index %s: %w", indexKey, err)
				}
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan indexes: %w", err)
	}
	return removed, nil
}

// Stats returns approximate live counts from key scans.
func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	stats := storage.Stats{}
	counts := []struct {
		prefix string
		target *int
	}{
		{sessionKeyPrefix, &stats.Sessions},
		{userIndexPrefix, &stats.Users},
		{discussionIdxPrefix, &stats.Discussions},
	}
	for _, c := range counts {
		iter := s.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			*c.target++
		}
		if err := iter.Err(); err != nil {
			return storage.Stats{}, fmt.Errorf("scan %s keys: %w", c.prefix, err)
		}
	}
	return stats, nil
}

func sessionFields(session storage.Session) map[string]any {
	connectedAt := session.ConnectedAt
	if connectedAt.IsZero() {
		connectedAt = time.Now()
	}
	lastActivity := session.LastActivity
	if lastActivity.IsZero() {
		lastActivity = connectedAt
	}
	return map[string]any{
		"user_id":        session.UserID,
		"discussion_id":  session.DiscussionID,
		"participant_id": session.ParticipantID,
		"security_level": session.SecurityLevel,
		"authenticated":  strconv.FormatBool(session.Authenticated),
		"connected_at":   connectedAt.UTC().UnixMilli(),
		"last_activity":  lastActivity.UTC().UnixMilli(),
		"message_count":  session.MessageCount,
		"ip_address":     session.IPAddress,
		"user_agent":     session.UserAgent,
	}
}

func sessionFromFields(connectionID string, fields map[string]string) storage.Session {
	securityLevel, _ := strconv.Atoi(fields["security_level"])
	messageCount, _ := strconv.Atoi(fields["message_count"])
	connectedAt, _ := strconv.ParseInt(fields["connected_at"], 10, 64)
	lastActivity, _ := strconv.ParseInt(fields["last_activity"], 10, 64)
	return storage.Session{
		ConnectionID:  connectionID,
		UserID:        fields["user_id"],
		DiscussionID:  fields["discussion_id"],
		ParticipantID: fields["participant_id"],
		SecurityLevel: securityLevel,
		Authenticated: fields["authenticated"] == "true",
		ConnectedAt:   time.UnixMilli(connectedAt).UTC(),
		LastActivity:  time.UnixMilli(lastActivity).UTC(),
		MessageCount:  messageCount,
		IPAddress:     fields["ip_address"],
		UserAgent:     fields["user_agent"],
	}
}

var _ storage.Store = (*Store)(nil)
