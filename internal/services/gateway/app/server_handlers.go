package server

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/roundtablehq/roundtable/internal/services/gateway/discussions"
	"github.com/roundtablehq/roundtable/internal/services/gateway/orchestrator"
	"github.com/roundtablehq/roundtable/internal/services/gateway/storage"
)

type discussionPayload struct {
	DiscussionID string `json:"discussionId"`
}

type sendMessagePayload struct {
	DiscussionID string `json:"discussionId"`
	Content      string `json:"content"`
	MessageType  string `json:"messageType,omitempty"`
	ReplyToID    string `json:"replyToId,omitempty"`
	ThreadID     string `json:"threadId,omitempty"`
}

type reactionPayload struct {
	DiscussionID string `json:"discussionId"`
	MessageID    string `json:"messageId"`
	Emoji        string `json:"emoji"`
}

type startDiscussionPayload struct {
	DiscussionID string `json:"discussionId"`
	StartedBy    string `json:"startedBy,omitempty"`
}

type joinedPayload struct {
	DiscussionID  string `json:"discussionId"`
	ParticipantID string `json:"participantId"`
	Name          string `json:"name,omitempty"`
	Role          string `json:"role,omitempty"`
	Phase         string `json:"phase"`
}

type leftPayload struct {
	DiscussionID string `json:"discussionId"`
}

type typingPayload struct {
	DiscussionID  string `json:"discussionId"`
	ParticipantID string `json:"participantId"`
}

// validDiscussionID checks the payload's discussion id and reports a
// validation error to the peer when it is not a UUID.
func validDiscussionID(peer *wsPeer, requestID, discussionID string) bool {
	if err := uuid.Validate(strings.TrimSpace(discussionID)); err != nil {
		_ = writeWSErrorDetails(peer, requestID, "VALIDATION_ERROR", "discussionId must be a UUID", map[string]any{
			"field": "discussionId",
		})
		return false
	}
	return true
}

func decodePayload(peer *wsPeer, frame wsFrame, v any) bool {
	if err := json.Unmarshal(frame.Payload, v); err != nil {
		_ = writeWSError(peer, frame.RequestID, "VALIDATION_ERROR", "invalid event payload")
		return false
	}
	return true
}

func writeOpError(peer *wsPeer, requestID string, err error) {
	_ = writeWSError(peer, requestID, orchestrator.ErrorCode(err), err.Error())
}

func (g *gateway) handleJoinFrame(ctx context.Context, wsc *wsConn, session storage.Session, frame wsFrame) {
	var payload discussionPayload
	if !decodePayload(wsc.peer, frame, &payload) {
		return
	}
	discussionID := strings.TrimSpace(payload.DiscussionID)
	if !validDiscussionID(wsc.peer, frame.RequestID, discussionID) {
		return
	}

	// one room per connection: joining elsewhere leaves the current room
	if session.DiscussionID != "" && session.DiscussionID != discussionID {
		if err := g.orchestrator.Leave(ctx, session); err != nil {
			writeOpError(wsc.peer, frame.RequestID, err)
			return
		}
		g.hub.leave(session.DiscussionID, wsc.connectionID)
		session.DiscussionID = ""
		session.ParticipantID = ""
	}

	participant, err := g.orchestrator.Join(ctx, session, discussionID)
	if err != nil {
		writeOpError(wsc.peer, frame.RequestID, err)
		return
	}
	g.hub.join(discussionID, wsc.connectionID, wsc.peer)

	_ = wsc.peer.writeFrame(wsFrame{
		Type:      "joined_discussion",
		RequestID: frame.RequestID,
		Payload: mustJSON(joinedPayload{
			DiscussionID:  discussionID,
			ParticipantID: participant.ID,
			Name:          participant.Name,
			Role:          participant.Role,
			Phase:         string(g.orchestrator.Phase(discussionID)),
		}),
	})
}

func (g *gateway) handleLeaveFrame(ctx context.Context, wsc *wsConn, session storage.Session, frame wsFrame) {
	var payload discussionPayload
	if !decodePayload(wsc.peer, frame, &payload) {
		return
	}
	discussionID := strings.TrimSpace(payload.DiscussionID)
	if !validDiscussionID(wsc.peer, frame.RequestID, discussionID) {
		return
	}
	if session.DiscussionID != discussionID {
		_ = writeWSError(wsc.peer, frame.RequestID, "NOT_IN_DISCUSSION", "not joined to this discussion")
		return
	}

	if err := g.orchestrator.Leave(ctx, session); err != nil {
		writeOpError(wsc.peer, frame.RequestID, err)
		return
	}
	g.hub.leave(discussionID, wsc.connectionID)

	_ = wsc.peer.writeFrame(wsFrame{
		Type:      "left_discussion",
		RequestID: frame.RequestID,
		Payload:   mustJSON(leftPayload{DiscussionID: discussionID}),
	})
}

func (g *gateway) handleSendMessageFrame(ctx context.Context, wsc *wsConn, session storage.Session, frame wsFrame) {
	var payload sendMessagePayload
	if !decodePayload(wsc.peer, frame, &payload) {
		return
	}
	if !validDiscussionID(wsc.peer, frame.RequestID, payload.DiscussionID) {
		return
	}
	if strings.TrimSpace(payload.DiscussionID) != session.DiscussionID {
		_ = writeWSError(wsc.peer, frame.RequestID, "NOT_IN_DISCUSSION", "not joined to this discussion")
		return
	}

	content := strings.TrimSpace(payload.Content)
	if content == "" {
		_ = writeWSErrorDetails(wsc.peer, frame.RequestID, "VALIDATION_ERROR", "content is required", map[string]any{
			"field": "content",
		})
		return
	}
	if utf8.RuneCountInString(content) > maxMessageContentRunes {
		_ = writeWSErrorDetails(wsc.peer, frame.RequestID, "VALIDATION_ERROR", "content must be at most 10000 characters", map[string]any{
			"field": "content",
		})
		return
	}

	_, err := g.orchestrator.SendMessage(ctx, session, discussions.SendMessageRequest{
		Content:     content,
		MessageType: strings.TrimSpace(payload.MessageType),
		ReplyToID:   strings.TrimSpace(payload.ReplyToID),
		ThreadID:    strings.TrimSpace(payload.ThreadID),
	})
	if err != nil {
		writeOpError(wsc.peer, frame.RequestID, err)
	}
}

func (g *gateway) handleTypingStartFrame(ctx context.Context, wsc *wsConn, session storage.Session, frame wsFrame) {
	g.broadcastTyping(wsc, session, frame, "user_typing")
}

func (g *gateway) handleTypingStopFrame(ctx context.Context, wsc *wsConn, session storage.Session, frame wsFrame) {
	g.broadcastTyping(wsc, session, frame, "user_stopped_typing")
}

// broadcastTyping relays a typing indicator to the rest of the room.
// Indicators are ephemeral: nothing persists and the sender gets no reply.
func (g *gateway) broadcastTyping(wsc *wsConn, session storage.Session, frame wsFrame, event string) {
	var payload discussionPayload
	if !decodePayload(wsc.peer, frame, &payload) {
		return
	}
	if !validDiscussionID(wsc.peer, frame.RequestID, payload.DiscussionID) {
		return
	}
	if strings.TrimSpace(payload.DiscussionID) != session.DiscussionID {
		_ = writeWSError(wsc.peer, frame.RequestID, "NOT_IN_DISCUSSION", "not joined to this discussion")
		return
	}

	g.hub.BroadcastExcept(session.DiscussionID, wsc.connectionID, event, typingPayload{
		DiscussionID:  session.DiscussionID,
		ParticipantID: session.ParticipantID,
	})
}

func (g *gateway) handleRequestTurnFrame(ctx context.Context, wsc *wsConn, session storage.Session, frame wsFrame) {
	var payload discussionPayload
	if !decodePayload(wsc.peer, frame, &payload) {
		return
	}
	if !validDiscussionID(wsc.peer, frame.RequestID, payload.DiscussionID) {
		return
	}
	if strings.TrimSpace(payload.DiscussionID) != session.DiscussionID {
		_ = writeWSError(wsc.peer, frame.RequestID, "NOT_IN_DISCUSSION", "not joined to this discussion")
		return
	}

	if err := g.orchestrator.RequestTurn(ctx, session); err != nil {
		writeOpError(wsc.peer, frame.RequestID, err)
	}
}

func (g *gateway) handleEndTurnFrame(ctx context.Context, wsc *wsConn, session storage.Session, frame wsFrame) {
	var payload discussionPayload
	if !decodePayload(wsc.peer, frame, &payload) {
		return
	}
	if !validDiscussionID(wsc.peer, frame.RequestID, payload.DiscussionID) {
		return
	}
	if strings.TrimSpace(payload.DiscussionID) != session.DiscussionID {
		_ = writeWSError(wsc.peer, frame.RequestID, "NOT_IN_DISCUSSION", "not joined to this discussion")
		return
	}

	if err := g.orchestrator.EndTurn(ctx, session, session.SecurityLevel); err != nil {
		writeOpError(wsc.peer, frame.RequestID, err)
	}
}

func (g *gateway) handleAddReactionFrame(ctx context.Context, wsc *wsConn, session storage.Session, frame wsFrame) {
	var payload reactionPayload
	if !decodePayload(wsc.peer, frame, &payload) {
		return
	}
	if !validDiscussionID(wsc.peer, frame.RequestID, payload.DiscussionID) {
		return
	}
	if strings.TrimSpace(payload.DiscussionID) != session.DiscussionID {
		_ = writeWSError(wsc.peer, frame.RequestID, "NOT_IN_DISCUSSION", "not joined to this discussion")
		return
	}
	messageID := strings.TrimSpace(payload.MessageID)
	if err := uuid.Validate(messageID); err != nil {
		_ = writeWSErrorDetails(wsc.peer, frame.RequestID, "VALIDATION_ERROR", "messageId must be a UUID", map[string]any{
			"field": "messageId",
		})
		return
	}
	emoji := strings.TrimSpace(payload.Emoji)
	if runes := utf8.RuneCountInString(emoji); runes < 1 || runes > maxReactionEmojiRunes {
		_ = writeWSErrorDetails(wsc.peer, frame.RequestID, "VALIDATION_ERROR", "emoji must be 1 to 10 characters", map[string]any{
			"field": "emoji",
		})
		return
	}

	_, err := g.orchestrator.AddReaction(ctx, session, discussions.ReactionRequest{
		MessageID: messageID,
		Emoji:     emoji,
	})
	if err != nil {
		writeOpError(wsc.peer, frame.RequestID, err)
	}
}

func (g *gateway) handleStartDiscussionFrame(ctx context.Context, wsc *wsConn, session storage.Session, frame wsFrame) {
	var payload startDiscussionPayload
	if !decodePayload(wsc.peer, frame, &payload) {
		return
	}
	if !validDiscussionID(wsc.peer, frame.RequestID, payload.DiscussionID) {
		return
	}
	if err := g.orchestrator.StartDiscussion(ctx, session, strings.TrimSpace(payload.DiscussionID), strings.TrimSpace(payload.StartedBy)); err != nil {
		writeOpError(wsc.peer, frame.RequestID, err)
	}
}

func (g *gateway) handlePauseDiscussionFrame(ctx context.Context, wsc *wsConn, session storage.Session, frame wsFrame) {
	g.handleLifecycleFrame(ctx, wsc, session, frame, g.orchestrator.PauseDiscussion)
}

func (g *gateway) handleResumeDiscussionFrame(ctx context.Context, wsc *wsConn, session storage.Session, frame wsFrame) {
	g.handleLifecycleFrame(ctx, wsc, session, frame, g.orchestrator.ResumeDiscussion)
}

func (g *gateway) handleStopDiscussionFrame(ctx context.Context, wsc *wsConn, session storage.Session, frame wsFrame) {
	g.handleLifecycleFrame(ctx, wsc, session, frame, g.orchestrator.StopDiscussion)
}

func (g *gateway) handleLifecycleFrame(ctx context.Context, wsc *wsConn, session storage.Session, frame wsFrame, op func(context.Context, storage.Session, string) error) {
	var payload discussionPayload
	if !decodePayload(wsc.peer, frame, &payload) {
		return
	}
	if !validDiscussionID(wsc.peer, frame.RequestID, payload.DiscussionID) {
		return
	}
	if err := op(ctx, session, strings.TrimSpace(payload.DiscussionID)); err != nil {
		writeOpError(wsc.peer, frame.RequestID, err)
	}
}
