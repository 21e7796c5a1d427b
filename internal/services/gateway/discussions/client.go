// Package discussions is the gateway's client for the discussions backend.
//
// The backend owns access control, participant records, and durable
// persistence of discussion activity. The gateway consumes it through this
// narrow surface only and never touches its storage directly.
package discussions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roundtablehq/roundtable/internal/platform/timeouts"
)

const (
	resourceSecretHeader = "X-Resource-Secret"
	maxAttempts          = 3
	retryBackoff         = 100 * time.Millisecond
)

// ErrNotFound indicates the backend has no record for the request.
var ErrNotFound = errors.New("discussions: not found")

// Participant is a discussion member, human or persona.
type Participant struct {
	ID               string     `json:"id"`
	DiscussionID     string     `json:"discussion_id"`
	UserID           string     `json:"user_id,omitempty"`
	AgentID          string     `json:"agent_id,omitempty"`
	Name             string     `json:"name"`
	Role             string     `json:"role"`
	IsActive         bool       `json:"is_active"`
	JoinedAt         time.Time  `json:"joined_at"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty"`
	Priority         int        `json:"priority,omitempty"`
	Expertise        []string   `json:"expertise,omitempty"`
	ExpertiseWeight  float64    `json:"expertise_weight,omitempty"`
	EngagementWeight float64    `json:"engagement_weight,omitempty"`

	// Persona is set only for AI participants.
	Persona *PersonaProfile `json:"persona,omitempty"`
}

// PersonaProfile describes an AI participant's speaking disposition. The
// gateway reads it for contribution scoring; the persona service owns it.
type PersonaProfile struct {
	TriggerKeywords []string `json:"trigger_keywords,omitempty"`
	Assertiveness   float64  `json:"assertiveness"`
	Verbose         bool     `json:"verbose,omitempty"`
	Clarifier       bool     `json:"clarifier,omitempty"`
}

// Discussion carries the settings the gateway needs for turn policy.
type Discussion struct {
	ID             string          `json:"id"`
	Topic          string          `json:"topic,omitempty"`
	Phase          string          `json:"phase,omitempty"`
	StrategyConfig json.RawMessage `json:"turn_strategy,omitempty"`
}

// Message is a persisted discussion message echoed back by the backend.
type Message struct {
	ID            string    `json:"id"`
	DiscussionID  string    `json:"discussion_id"`
	ParticipantID string    `json:"participant_id"`
	Content       string    `json:"content"`
	MessageType   string    `json:"message_type,omitempty"`
	ReplyToID     string    `json:"reply_to_id,omitempty"`
	ThreadID      string    `json:"thread_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SendMessageRequest is the payload for persisting one message.
type SendMessageRequest struct {
	DiscussionID  string `json:"discussion_id"`
	ParticipantID string `json:"participant_id"`
	Content       string `json:"content"`
	MessageType   string `json:"message_type,omitempty"`
	ReplyToID     string `json:"reply_to_id,omitempty"`
	ThreadID      string `json:"thread_id,omitempty"`
}

// Reaction is a persisted message reaction.
type Reaction struct {
	ID            string `json:"id"`
	MessageID     string `json:"message_id"`
	ParticipantID string `json:"participant_id"`
	Emoji         string `json:"emoji"`
}

// ReactionRequest is the payload for persisting one reaction.
type ReactionRequest struct {
	DiscussionID  string `json:"discussion_id"`
	MessageID     string `json:"message_id"`
	ParticipantID string `json:"participant_id"`
	Emoji         string `json:"emoji"`
}

// Client calls the discussions backend over HTTP.
type Client struct {
	baseURL        string
	resourceSecret string
	httpClient     *http.Client
}

// NewClient builds a discussions client for the given base URL.
func NewClient(baseURL, resourceSecret string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("discussions base url is required")
	}
	return &Client{
		baseURL:        baseURL,
		resourceSecret: strings.TrimSpace(resourceSecret),
		httpClient: &http.Client{
			Timeout: timeouts.CollaboratorClient,
		},
	}, nil
}

// VerifyParticipantAccess reports whether the user may join the discussion.
func (c *Client) VerifyParticipantAccess(ctx context.Context, discussionID, userID string) (bool, error) {
	var payload struct {
		Allowed bool `json:"allowed"`
	}
	path := fmt.Sprintf("/internal/discussions/%s/access?user_id=%s",
		url.PathEscape(discussionID), url.QueryEscape(userID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &payload); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("verify participant access: %w", err)
	}
	return payload.Allowed, nil
}

// ParticipantByUserID resolves the user's participant record in a discussion.
func (c *Client) ParticipantByUserID(ctx context.Context, discussionID, userID string) (Participant, error) {
	var participant Participant
	path := fmt.Sprintf("/internal/discussions/%s/participants/by-user/%s",
		url.PathEscape(discussionID), url.PathEscape(userID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &participant); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Participant{}, ErrNotFound
		}
		return Participant{}, fmt.Errorf("get participant: %w", err)
	}
	return participant, nil
}

// ListParticipants returns the discussion roster.
func (c *Client) ListParticipants(ctx context.Context, discussionID string) ([]Participant, error) {
	var payload struct {
		Participants []Participant `json:"participants"`
	}
	path := fmt.Sprintf("/internal/discussions/%s/participants", url.PathEscape(discussionID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return payload.Participants, nil
}

// Discussion returns the discussion settings.
func (c *Client) Discussion(ctx context.Context, discussionID string) (Discussion, error) {
	var discussion Discussion
	path := fmt.Sprintf("/internal/discussions/%s", url.PathEscape(discussionID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &discussion); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Discussion{}, ErrNotFound
		}
		return Discussion{}, fmt.Errorf("get discussion: %w", err)
	}
	return discussion, nil
}

// SendMessage persists one message through the backend.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (Message, error) {
	var message Message
	path := fmt.Sprintf("/internal/discussions/%s/messages", url.PathEscape(req.DiscussionID))
	if err := c.doJSON(ctx, http.MethodPost, path, req, &message); err != nil {
		return Message{}, fmt.Errorf("send message: %w", err)
	}
	return message, nil
}

// RequestTurn records a turn request with the backend.
func (c *Client) RequestTurn(ctx context.Context, discussionID, participantID string) error {
	return c.lifecycleCall(ctx, discussionID, "turns/request", participantID)
}

// EndTurn records a turn end with the backend.
func (c *Client) EndTurn(ctx context.Context, discussionID, participantID string) error {
	return c.lifecycleCall(ctx, discussionID, "turns/end", participantID)
}

// AddReaction persists one reaction through the backend.
func (c *Client) AddReaction(ctx context.Context, req ReactionRequest) (Reaction, error) {
	var reaction Reaction
	path := fmt.Sprintf("/internal/discussions/%s/reactions", url.PathEscape(req.DiscussionID))
	if err := c.doJSON(ctx, http.MethodPost, path, req, &reaction); err != nil {
		return Reaction{}, fmt.Errorf("add reaction: %w", err)
	}
	return reaction, nil
}

// StartDiscussion asks the backend to start the discussion lifecycle.
func (c *Client) StartDiscussion(ctx context.Context, discussionID, actorID string) error {
	return c.lifecycleCall(ctx, discussionID, "start", actorID)
}

// PauseDiscussion asks the backend to pause the discussion.
func (c *Client) PauseDiscussion(ctx context.Context, discussionID, actorID string) error {
	return c.lifecycleCall(ctx, discussionID, "pause", actorID)
}

// ResumeDiscussion asks the backend to resume the discussion.
func (c *Client) ResumeDiscussion(ctx context.Context, discussionID, actorID string) error {
	return c.lifecycleCall(ctx, discussionID, "resume", actorID)
}

// StopDiscussion asks the backend to stop the discussion.
func (c *Client) StopDiscussion(ctx context.Context, discussionID, actorID string) error {
	return c.lifecycleCall(ctx, discussionID, "stop", actorID)
}

func (c *Client) lifecycleCall(ctx context.Context, discussionID, action, actorID string) error {
	body := struct {
		ActorID string `json:"actor_id,omitempty"`
	}{ActorID: actorID}
	path := fmt.Sprintf("/internal/discussions/%s/%s", url.PathEscape(discussionID), action)
	if err := c.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("%s discussion: %w", strings.ReplaceAll(action, "/", " "), err)
	}
	return nil
}

// doJSON performs one backend call with bounded per-attempt timeouts and
// limited retries on transient failures.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, target any) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt-1)):
			}
		}

		err := c.attempt(ctx, method, path, encoded, target)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("backend unavailable after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte, target any) error {
	callCtx, cancel := context.WithTimeout(ctx, timeouts.CollaboratorRequest)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.resourceSecret != "" {
		req.Header.Set(resourceSecretHeader, c.resourceSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transientError{cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return &transientError{cause: fmt.Errorf("backend status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return fmt.Errorf("backend status %d", resp.StatusCode)
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type transientError struct {
	cause error
}

func (e *transientError) Error() string {
	return e.cause.Error()
}

func (e *transientError) Unwrap() error {
	return e.cause
}

func isTransient(err error) bool {
	var transient *transientError
	return errors.As(err, &transient)
}
