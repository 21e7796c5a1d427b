package orchestrator

import "time"

// Event payloads fanned out to room subscribers. Field names follow the
// client wire contract, which is camelCase.

// ParticipantEvent announces a membership change in a room.
type ParticipantEvent struct {
	DiscussionID  string `json:"discussionId"`
	ParticipantID string `json:"participantId"`
	Name          string `json:"name,omitempty"`
	Role          string `json:"role,omitempty"`
}

// MessageEvent fans a persisted message out to the room.
type MessageEvent struct {
	DiscussionID  string    `json:"discussionId"`
	MessageID     string    `json:"messageId"`
	ParticipantID string    `json:"participantId"`
	Content       string    `json:"content"`
	MessageType   string    `json:"messageType,omitempty"`
	ReplyToID     string    `json:"replyToId,omitempty"`
	ThreadID      string    `json:"threadId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// TurnEvent announces a turn request, grant, or end. ParticipantID is
// empty on a turn_changed when the floor opens with no speaker.
type TurnEvent struct {
	DiscussionID  string    `json:"discussionId"`
	ParticipantID string    `json:"participantId,omitempty"`
	TurnNumber    int       `json:"turnNumber,omitempty"`
	ExpectedEndAt time.Time `json:"expectedEndAt,omitzero"`
}

// ReactionEvent fans a persisted reaction out to the room.
type ReactionEvent struct {
	DiscussionID  string `json:"discussionId"`
	MessageID     string `json:"messageId"`
	ParticipantID string `json:"participantId"`
	Emoji         string `json:"emoji"`
}

// LifecycleEvent announces a discussion phase transition.
type LifecycleEvent struct {
	DiscussionID string `json:"discussionId"`
	Phase        string `json:"phase"`
	ActorID      string `json:"actorId,omitempty"`
}
