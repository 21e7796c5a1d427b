package server

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/roundtablehq/roundtable/internal/platform/timeouts"
	"github.com/roundtablehq/roundtable/internal/services/gateway/storage"
)

// frameHandler binds one wire event to its handler plus the checks the
// dispatch loop applies before invoking it.
type frameHandler struct {
	// rateAction names the rate-limit bucket, empty for unlimited events.
	rateAction string
	// silentOnLimit drops rate-denied frames without an error reply.
	silentOnLimit bool
	// Membership checks run inside the handlers, after payload
	// validation, so a malformed frame always answers VALIDATION_ERROR.
	handle func(g *gateway, ctx context.Context, wsc *wsConn, session storage.Session, frame wsFrame)
}

// frameHandlers is the inbound event dispatch table.
var frameHandlers = map[string]frameHandler{
	"join_discussion": {
		handle: (*gateway).handleJoinFrame,
	},
	"leave_discussion": {
		handle: (*gateway).handleLeaveFrame,
	},
	"send_message": {
		rateAction:      storage.ActionMessages,
		handle:          (*gateway).handleSendMessageFrame,
	},
	"typing_start": {
		rateAction:      storage.ActionTyping,
		silentOnLimit:   true,
		handle:          (*gateway).handleTypingStartFrame,
	},
	"typing_stop": {
		rateAction:      storage.ActionTyping,
		silentOnLimit:   true,
		handle:          (*gateway).handleTypingStopFrame,
	},
	"request_turn": {
		rateAction:      storage.ActionTurns,
		handle:          (*gateway).handleRequestTurnFrame,
	},
	"end_turn": {
		rateAction:      storage.ActionTurns,
		handle:          (*gateway).handleEndTurnFrame,
	},
	"add_reaction": {
		rateAction:      storage.ActionReactions,
		handle:          (*gateway).handleAddReactionFrame,
	},
	"start_discussion": {
		handle: (*gateway).handleStartDiscussionFrame,
	},
	"pause_discussion": {
		handle: (*gateway).handlePauseDiscussionFrame,
	},
	"resume_discussion": {
		handle: (*gateway).handleResumeDiscussionFrame,
	},
	"stop_discussion": {
		handle: (*gateway).handleStopDiscussionFrame,
	},
}

func (g *gateway) limitFor(action string) int {
	switch action {
	case storage.ActionMessages:
		return g.limits.Messages
	case storage.ActionTyping:
		return g.limits.Typing
	case storage.ActionReactions:
		return g.limits.Reactions
	case storage.ActionTurns:
		return g.limits.Turns
	default:
		return 0
	}
}

// dispatchFrame applies the shared inbound pipeline: touch the session,
// enforce the event's rate limit, then hand off. Every failure is
// isolated to this one frame.
func (g *gateway) dispatchFrame(ctx context.Context, wsc *wsConn, frame wsFrame) {
	handler, ok := frameHandlers[frame.Type]
	if !ok {
		_ = writeWSError(wsc.peer, frame.RequestID, "VALIDATION_ERROR", "unsupported event type")
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, timeouts.StoreOp)
	defer cancel()

	now := time.Now().UTC()
	if err := g.store.TouchSession(storeCtx, wsc.connectionID, now); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("gateway: session touch failed conn=%q err=%v", wsc.connectionID, err)
	}

	session, err := g.store.Session(storeCtx, wsc.connectionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = writeWSError(wsc.peer, frame.RequestID, "SESSION_EXPIRED", "session record expired, reconnect required")
			return
		}
		log.Printf("gateway: session lookup failed conn=%q err=%v", wsc.connectionID, err)
		_ = writeWSError(wsc.peer, frame.RequestID, "INTERNAL_ERROR", "session lookup failed")
		return
	}

	if handler.rateAction != "" {
		// fail closed: a store error counts as a denial
		allowed, err := g.store.CheckRateLimit(storeCtx, wsc.connectionID, handler.rateAction, g.limitFor(handler.rateAction))
		if err != nil {
			log.Printf("gateway: rate limit check failed conn=%q action=%q err=%v", wsc.connectionID, handler.rateAction, err)
		}
		if !allowed {
			if !handler.silentOnLimit {
				_ = writeWSErrorDetails(wsc.peer, frame.RequestID, "RATE_LIMIT_EXCEEDED", "rate limit exceeded", map[string]any{
					"action": handler.rateAction,
				})
			}
			return
		}
	}

	handler.handle(g, ctx, wsc, session, frame)
}
