// Package orchestrator owns per-discussion room membership and turn state.
//
// It validates actions against the current phase and turn state, applies
// the turn strategy engine on advances, persists shared state through the
// session store, and fans lifecycle events out through the broadcaster.
// Durable writes and authorization stay with the discussions backend; a
// backend failure is logged, surfaced as a named *_FAILED error, and never
// mutates room state.
//
// One orchestrator instance evaluates turn strategy per discussion.
// Cross-process coordination of turn-state writes is an open scaling
// concern and deliberately not solved here.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/roundtablehq/roundtable/internal/platform/timeouts"
	"github.com/roundtablehq/roundtable/internal/services/gateway/discussions"
	"github.com/roundtablehq/roundtable/internal/services/gateway/scoring"
	"github.com/roundtablehq/roundtable/internal/services/gateway/storage"
	"github.com/roundtablehq/roundtable/internal/services/gateway/turn"
)

// Discussion phases. Conclusion is terminal.
type Phase string

const (
	PhaseInitialization Phase = "INITIALIZATION"
	PhaseDiscussion     Phase = "DISCUSSION"
	PhaseSynthesis      Phase = "SYNTHESIS"
	PhaseConclusion     Phase = "CONCLUSION"
)

// Broadcast event names fanned out to room subscribers.
const (
	EventParticipantJoined       = "participant_joined"
	EventParticipantLeft         = "participant_left"
	EventParticipantDisconnected = "participant_disconnected"
	EventMessageReceived         = "message_received"
	EventTurnRequested           = "turn_requested"
	EventTurnChanged             = "turn_changed"
	EventTurnEnded               = "turn_ended"
	EventReactionAdded           = "reaction_added"
	EventDiscussionStarted       = "discussion_started"
	EventDiscussionPaused        = "discussion_paused"
	EventDiscussionResumed       = "discussion_resumed"
	EventDiscussionStopped       = "discussion_stopped"
)

// Operation failure codes surfaced to the acting client.
const (
	CodeAccessDenied      = "ACCESS_DENIED"
	CodeJoinFailed        = "JOIN_FAILED"
	CodeLeaveFailed       = "LEAVE_FAILED"
	CodeMessageFailed     = "MESSAGE_FAILED"
	CodeTurnRequestFailed = "TURN_REQUEST_FAILED"
	CodeTurnEndFailed     = "TURN_END_FAILED"
	CodeNotCurrentSpeaker = "NOT_CURRENT_SPEAKER"
	CodeReactionFailed    = "REACTION_FAILED"
	CodeStartFailed       = "DISCUSSION_START_FAILED"
	CodePauseFailed       = "DISCUSSION_PAUSE_FAILED"
	CodeResumeFailed      = "DISCUSSION_RESUME_FAILED"
	CodeStopFailed        = "DISCUSSION_STOP_FAILED"
	CodeDiscussionEnded   = "DISCUSSION_ENDED"
)

// OpError is an operation failure with a wire-level error code.
type OpError struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *OpError) Unwrap() error {
	return e.Cause
}

// ErrorCode extracts the operation failure code from err.
func ErrorCode(err error) string {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Code
	}
	return "INTERNAL_ERROR"
}

// Backend is the narrow surface of the discussions service the
// orchestrator consumes.
type Backend interface {
	VerifyParticipantAccess(ctx context.Context, discussionID, userID string) (bool, error)
	ParticipantByUserID(ctx context.Context, discussionID, userID string) (discussions.Participant, error)
	ListParticipants(ctx context.Context, discussionID string) ([]discussions.Participant, error)
	Discussion(ctx context.Context, discussionID string) (discussions.Discussion, error)
	SendMessage(ctx context.Context, req discussions.SendMessageRequest) (discussions.Message, error)
	RequestTurn(ctx context.Context, discussionID, participantID string) error
	EndTurn(ctx context.Context, discussionID, participantID string) error
	AddReaction(ctx context.Context, req discussions.ReactionRequest) (discussions.Reaction, error)
	StartDiscussion(ctx context.Context, discussionID, actorID string) error
	PauseDiscussion(ctx context.Context, discussionID, actorID string) error
	ResumeDiscussion(ctx context.Context, discussionID, actorID string) error
	StopDiscussion(ctx context.Context, discussionID, actorID string) error
}

// Broadcaster fans an event out to every connection in a room.
type Broadcaster interface {
	Broadcast(discussionID, event string, payload any)
	BroadcastExcept(discussionID, exceptConnectionID, event string, payload any)
}

// ContributionNotifier receives personas whose contribution score cleared
// the threshold after a message. The persona driver consuming it lives
// outside this core.
type ContributionNotifier interface {
	PersonaShouldContribute(discussionID string, result scoring.Result)
}

// conversation is the ephemeral per-discussion state feeding contribution
// scoring. It never persists; a restart simply starts cold.
type conversation struct {
	lastSpeakerID string
	momentum      string
	energy        float64
}

// Orchestrator coordinates room membership, turn state, and broadcasts
// for live discussions.
type Orchestrator struct {
	store       storage.Store
	backend     Backend
	broadcaster Broadcaster
	notifier    ContributionNotifier
	threshold   float64
	now         func() time.Time

	mu            sync.Mutex
	phases        map[string]Phase
	paused        map[string]bool
	conversations map[string]*conversation
	turnTimers    map[string]*time.Timer
	closed        bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier installs a contribution notifier.
func WithNotifier(notifier ContributionNotifier) Option {
	return func(o *Orchestrator) { o.notifier = notifier }
}

// WithContributionThreshold overrides the default scoring threshold.
func WithContributionThreshold(threshold float64) Option {
	return func(o *Orchestrator) { o.threshold = threshold }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New builds an orchestrator over the given store, backend, and broadcaster.
func New(store storage.Store, backend Backend, broadcaster Broadcaster, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:         store,
		backend:       backend,
		broadcaster:   broadcaster,
		now:           time.Now,
		phases:        make(map[string]Phase),
		paused:        make(map[string]bool),
		conversations: make(map[string]*conversation),
		turnTimers:    make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Close cancels outstanding turn timers. Pending auto-advances are dropped.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	for discussionID, timer := range o.turnTimers {
		timer.Stop()
		delete(o.turnTimers, discussionID)
	}
}

// Join admits a user into a discussion room after the backend authorizes
// them, binds the session, and announces the participant to the room.
func (o *Orchestrator) Join(ctx context.Context, session storage.Session, discussionID string) (discussions.Participant, error) {
	allowed, err := o.backend.VerifyParticipantAccess(ctx, discussionID, session.UserID)
	if err != nil {
		log.Printf("gateway: access check failed user=%q discussion=%q err=%v", session.UserID, discussionID, err)
		return discussions.Participant{}, &OpError{Code: CodeJoinFailed, Message: "access verification unavailable", Cause: err}
	}
	if !allowed {
		return discussions.Participant{}, &OpError{Code: CodeAccessDenied, Message: "participant access required for discussion"}
	}

	participant, err := o.backend.ParticipantByUserID(ctx, discussionID, session.UserID)
	if err != nil {
		if errors.Is(err, discussions.ErrNotFound) {
			return discussions.Participant{}, &OpError{Code: CodeAccessDenied, Message: "no participant record for discussion"}
		}
		log.Printf("gateway: participant lookup failed user=%q discussion=%q err=%v", session.UserID, discussionID, err)
		return discussions.Participant{}, &OpError{Code: CodeJoinFailed, Message: "participant lookup unavailable", Cause: err}
	}

	if err := o.store.SetSessionDiscussion(ctx, session.ConnectionID, discussionID, participant.ID); err != nil {
		log.Printf("gateway: session bind failed conn=%q discussion=%q err=%v", session.ConnectionID, discussionID, err)
		return discussions.Participant{}, &OpError{Code: CodeJoinFailed, Message: "session binding failed", Cause: err}
	}

	o.seedPhase(ctx, discussionID)

	o.broadcaster.BroadcastExcept(discussionID, session.ConnectionID, EventParticipantJoined, ParticipantEvent{
		DiscussionID:  discussionID,
		ParticipantID: participant.ID,
		Name:          participant.Name,
		Role:          participant.Role,
	})
	return participant, nil
}

// Leave unbinds the session from its discussion and announces the exit.
func (o *Orchestrator) Leave(ctx context.Context, session storage.Session) error {
	if session.DiscussionID == "" {
		return nil
	}
	if err := o.store.ClearSessionDiscussion(ctx, session.ConnectionID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("gateway: session unbind failed conn=%q err=%v", session.ConnectionID, err)
		return &OpError{Code: CodeLeaveFailed, Message: "session unbind failed", Cause: err}
	}
	o.broadcaster.BroadcastExcept(session.DiscussionID, session.ConnectionID, EventParticipantLeft, ParticipantEvent{
		DiscussionID:  session.DiscussionID,
		ParticipantID: session.ParticipantID,
	})
	return nil
}

// Disconnect announces a dropped connection to its room. It only fires for
// sessions that completed a join; bare connections vanish silently.
func (o *Orchestrator) Disconnect(session storage.Session) {
	if session.DiscussionID == "" || session.ParticipantID == "" {
		return
	}
	o.broadcaster.Broadcast(session.DiscussionID, EventParticipantDisconnected, ParticipantEvent{
		DiscussionID:  session.DiscussionID,
		ParticipantID: session.ParticipantID,
	})
}

// SendMessage persists a message through the backend, fans it out, and
// evaluates persona contribution scores against the updated conversation.
func (o *Orchestrator) SendMessage(ctx context.Context, session storage.Session, req discussions.SendMessageRequest) (discussions.Message, error) {
	req.DiscussionID = session.DiscussionID
	req.ParticipantID = session.ParticipantID

	message, err := o.backend.SendMessage(ctx, req)
	if err != nil {
		log.Printf("gateway: send message failed conn=%q discussion=%q err=%v", session.ConnectionID, session.DiscussionID, err)
		return discussions.Message{}, &OpError{Code: CodeMessageFailed, Message: "message delivery failed", Cause: err}
	}

	o.observeMessage(session.DiscussionID, session.ParticipantID, message.Content)

	o.broadcaster.Broadcast(session.DiscussionID, EventMessageReceived, MessageEvent{
		DiscussionID:  message.DiscussionID,
		MessageID:     message.ID,
		ParticipantID: message.ParticipantID,
		Content:       message.Content,
		MessageType:   message.MessageType,
		ReplyToID:     message.ReplyToID,
		ThreadID:      message.ThreadID,
		CreatedAt:     message.CreatedAt,
	})

	o.evaluateContributions(ctx, session.DiscussionID)
	return message, nil
}

// RequestTurn records a turn request. When the floor is free and the
// strategy permits, the turn is granted immediately; otherwise the request
// stays queued until the moderator or the next advance resolves it.
func (o *Orchestrator) RequestTurn(ctx context.Context, session storage.Session) error {
	if err := o.backend.RequestTurn(ctx, session.DiscussionID, session.ParticipantID); err != nil {
		log.Printf("gateway: turn request failed conn=%q discussion=%q err=%v", session.ConnectionID, session.DiscussionID, err)
		return &OpError{Code: CodeTurnRequestFailed, Message: "turn request failed", Cause: err}
	}

	o.broadcaster.Broadcast(session.DiscussionID, EventTurnRequested, TurnEvent{
		DiscussionID:  session.DiscussionID,
		ParticipantID: session.ParticipantID,
	})

	state, cfg, err := o.turnState(ctx, session.DiscussionID)
	if err != nil {
		log.Printf("gateway: turn state load failed discussion=%q err=%v", session.DiscussionID, err)
		return nil
	}
	if state.CurrentParticipantID != "" {
		return nil
	}
	switch cfg.Strategy {
	case turn.StrategyModerated:
		if !cfg.AutoAdvance && cfg.NextSpeakerID != session.ParticipantID {
			return nil
		}
	}
	o.grantTurn(ctx, session.DiscussionID, session.ParticipantID, state, cfg)
	return nil
}

// EndTurn ends the current turn and advances to the next speaker chosen
// by the configured strategy.
func (o *Orchestrator) EndTurn(ctx context.Context, session storage.Session, securityLevel int) error {
	state, cfg, err := o.turnState(ctx, session.DiscussionID)
	if err != nil {
		return &OpError{Code: CodeTurnEndFailed, Message: "turn state unavailable", Cause: err}
	}
	if state.CurrentParticipantID != "" &&
		state.CurrentParticipantID != session.ParticipantID &&
		securityLevel < 3 {
		return &OpError{Code: CodeNotCurrentSpeaker, Message: "only the current speaker or a moderator may end the turn"}
	}

	if err := o.backend.EndTurn(ctx, session.DiscussionID, session.ParticipantID); err != nil {
		log.Printf("gateway: turn end failed conn=%q discussion=%q err=%v", session.ConnectionID, session.DiscussionID, err)
		return &OpError{Code: CodeTurnEndFailed, Message: "turn end failed", Cause: err}
	}

	o.broadcaster.Broadcast(session.DiscussionID, EventTurnEnded, TurnEvent{
		DiscussionID:  session.DiscussionID,
		ParticipantID: state.CurrentParticipantID,
		TurnNumber:    state.TurnNumber,
	})

	o.advanceTurn(ctx, session.DiscussionID, state, cfg)
	return nil
}

// AddReaction persists a reaction and fans it out.
func (o *Orchestrator) AddReaction(ctx context.Context, session storage.Session, req discussions.ReactionRequest) (discussions.Reaction, error) {
	req.DiscussionID = session.DiscussionID
	req.ParticipantID = session.ParticipantID

	reaction, err := o.backend.AddReaction(ctx, req)
	if err != nil {
		log.Printf("gateway: reaction failed conn=%q discussion=%q err=%v", session.ConnectionID, session.DiscussionID, err)
		return discussions.Reaction{}, &OpError{Code: CodeReactionFailed, Message: "reaction delivery failed", Cause: err}
	}

	o.broadcaster.Broadcast(session.DiscussionID, EventReactionAdded, ReactionEvent{
		DiscussionID:  session.DiscussionID,
		MessageID:     reaction.MessageID,
		ParticipantID: reaction.ParticipantID,
		Emoji:         reaction.Emoji,
	})
	return reaction, nil
}

// StartDiscussion delegates the lifecycle transition to the backend and
// broadcasts the result.
func (o *Orchestrator) StartDiscussion(ctx context.Context, session storage.Session, discussionID, startedBy string) error {
	actor := startedBy
	if actor == "" {
		actor = session.UserID
	}
	if err := o.backend.StartDiscussion(ctx, discussionID, actor); err != nil {
		log.Printf("gateway: discussion start failed discussion=%q err=%v", discussionID, err)
		return &OpError{Code: CodeStartFailed, Message: "discussion start failed", Cause: err}
	}
	o.setPhase(discussionID, PhaseDiscussion, false)
	o.broadcaster.Broadcast(discussionID, EventDiscussionStarted, LifecycleEvent{
		DiscussionID: discussionID,
		Phase:        string(PhaseDiscussion),
		ActorID:      actor,
	})
	return nil
}

// PauseDiscussion pauses the discussion and cancels any running turn timer.
func (o *Orchestrator) PauseDiscussion(ctx context.Context, session storage.Session, discussionID string) error {
	if err := o.backend.PauseDiscussion(ctx, discussionID, session.UserID); err != nil {
		log.Printf("gateway: discussion pause failed discussion=%q err=%v", discussionID, err)
		return &OpError{Code: CodePauseFailed, Message: "discussion pause failed", Cause: err}
	}
	o.setPhase(discussionID, o.Phase(discussionID), true)
	o.stopTurnTimer(discussionID)
	o.broadcaster.Broadcast(discussionID, EventDiscussionPaused, LifecycleEvent{
		DiscussionID: discussionID,
		Phase:        string(o.Phase(discussionID)),
		ActorID:      session.UserID,
	})
	return nil
}

// ResumeDiscussion resumes a paused discussion.
func (o *Orchestrator) ResumeDiscussion(ctx context.Context, session storage.Session, discussionID string) error {
	if err := o.backend.ResumeDiscussion(ctx, discussionID, session.UserID); err != nil {
		log.Printf("gateway: discussion resume failed discussion=%q err=%v", discussionID, err)
		return &OpError{Code: CodeResumeFailed, Message: "discussion resume failed", Cause: err}
	}
	o.setPhase(discussionID, o.Phase(discussionID), false)
	o.broadcaster.Broadcast(discussionID, EventDiscussionResumed, LifecycleEvent{
		DiscussionID: discussionID,
		Phase:        string(o.Phase(discussionID)),
		ActorID:      session.UserID,
	})
	return nil
}

// StopDiscussion concludes the discussion, clears turn state, and cancels
// its timer. Conclusion is terminal.
func (o *Orchestrator) StopDiscussion(ctx context.Context, session storage.Session, discussionID string) error {
	if err := o.backend.StopDiscussion(ctx, discussionID, session.UserID); err != nil {
		log.Printf("gateway: discussion stop failed discussion=%q err=%v", discussionID, err)
		return &OpError{Code: CodeStopFailed, Message: "discussion stop failed", Cause: err}
	}
	o.setPhase(discussionID, PhaseConclusion, false)
	o.stopTurnTimer(discussionID)
	if err := o.store.ClearTurnState(ctx, discussionID); err != nil {
		log.Printf("gateway: turn state clear failed discussion=%q err=%v", discussionID, err)
	}
	o.broadcaster.Broadcast(discussionID, EventDiscussionStopped, LifecycleEvent{
		DiscussionID: discussionID,
		Phase:        string(PhaseConclusion),
		ActorID:      session.UserID,
	})
	return nil
}

// Phase returns the tracked phase for a discussion, defaulting to
// INITIALIZATION for discussions this process has not touched.
func (o *Orchestrator) Phase(discussionID string) Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	if phase, ok := o.phases[discussionID]; ok {
		return phase
	}
	return PhaseInitialization
}

func (o *Orchestrator) setPhase(discussionID string, phase Phase, paused bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases[discussionID] = phase
	o.paused[discussionID] = paused
}

// seedPhase adopts the backend's reported phase for a discussion this
// process has not tracked yet. The backend owns phase progression past
// DISCUSSION (synthesis runs there); the local view only mirrors it.
func (o *Orchestrator) seedPhase(ctx context.Context, discussionID string) {
	o.mu.Lock()
	_, tracked := o.phases[discussionID]
	o.mu.Unlock()
	if tracked {
		return
	}
	d, err := o.backend.Discussion(ctx, discussionID)
	if err != nil {
		return
	}
	switch Phase(d.Phase) {
	case PhaseInitialization, PhaseDiscussion, PhaseSynthesis, PhaseConclusion:
		o.mu.Lock()
		if _, ok := o.phases[discussionID]; !ok {
			o.phases[discussionID] = Phase(d.Phase)
		}
		o.mu.Unlock()
	}
}

// turnState loads the persisted turn state and the discussion's strategy
// configuration, falling back to defaults when either is missing.
func (o *Orchestrator) turnState(ctx context.Context, discussionID string) (storage.TurnState, turn.Config, error) {
	state, err := o.store.TurnState(ctx, discussionID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return storage.TurnState{}, turn.Config{}, err
	}

	raw := state.StrategyConfig
	if len(raw) == 0 {
		discussion, err := o.backend.Discussion(ctx, discussionID)
		if err == nil {
			raw = discussion.StrategyConfig
		}
	}
	cfg, err := turn.ParseConfig(raw)
	if err != nil {
		log.Printf("gateway: bad strategy config discussion=%q err=%v", discussionID, err)
		cfg = turn.DefaultConfig()
	}
	return state, cfg, nil
}

// grantTurn hands the floor to a participant and starts the turn timer.
func (o *Orchestrator) grantTurn(ctx context.Context, discussionID, participantID string, state storage.TurnState, cfg turn.Config) {
	now := o.now().UTC()
	state.CurrentParticipantID = participantID
	state.TurnNumber++
	state.StartedAt = now
	state.ExpectedEndAt = time.Time{}
	if timeout := cfg.TurnTimeout(); timeout > 0 {
		state.ExpectedEndAt = now.Add(timeout)
	}

	if err := o.store.SetTurnState(ctx, discussionID, state); err != nil {
		log.Printf("gateway: turn state persist failed discussion=%q err=%v", discussionID, err)
		return
	}

	o.broadcaster.Broadcast(discussionID, EventTurnChanged, TurnEvent{
		DiscussionID:  discussionID,
		ParticipantID: participantID,
		TurnNumber:    state.TurnNumber,
		ExpectedEndAt: state.ExpectedEndAt,
	})
	o.resetTurnTimer(discussionID, cfg)
}

// advanceTurn asks the strategy engine for the next speaker and applies
// the result. The strategy runs exactly once per advance.
func (o *Orchestrator) advanceTurn(ctx context.Context, discussionID string, state storage.TurnState, cfg turn.Config) {
	roster, topic, err := o.roster(ctx, discussionID)
	if err != nil {
		log.Printf("gateway: roster load failed discussion=%q err=%v", discussionID, err)
		return
	}

	next, ok := turn.NextSpeaker(turn.Request{
		Roster: roster,
		State: turn.State{
			CurrentParticipantID: state.CurrentParticipantID,
			TurnNumber:           state.TurnNumber,
		},
		Config: cfg,
		Topic:  topic,
		Now:    o.now().UTC(),
	})

	now := o.now().UTC()
	state.TurnNumber++
	state.StartedAt = now
	state.ExpectedEndAt = time.Time{}
	if ok {
		state.CurrentParticipantID = next
		if timeout := cfg.TurnTimeout(); timeout > 0 {
			state.ExpectedEndAt = now.Add(timeout)
		}
	} else {
		// moderated without assignment, or nobody eligible: floor stays open
		state.CurrentParticipantID = ""
	}

	if err := o.store.SetTurnState(ctx, discussionID, state); err != nil {
		log.Printf("gateway: turn state persist failed discussion=%q err=%v", discussionID, err)
		return
	}

	o.broadcaster.Broadcast(discussionID, EventTurnChanged, TurnEvent{
		DiscussionID:  discussionID,
		ParticipantID: state.CurrentParticipantID,
		TurnNumber:    state.TurnNumber,
		ExpectedEndAt: state.ExpectedEndAt,
	})

	o.stopTurnTimer(discussionID)
	if ok {
		o.resetTurnTimer(discussionID, cfg)
	}
}

// resetTurnTimer arms the auto-advance timer for the active turn. Timer
// expiry takes the same transition as an explicit end_turn.
func (o *Orchestrator) resetTurnTimer(discussionID string, cfg turn.Config) {
	timeout := cfg.TurnTimeout()
	if timeout <= 0 {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if existing, ok := o.turnTimers[discussionID]; ok {
		existing.Stop()
	}
	o.turnTimers[discussionID] = time.AfterFunc(timeout, func() {
		o.autoAdvance(discussionID)
	})
}

func (o *Orchestrator) stopTurnTimer(discussionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if timer, ok := o.turnTimers[discussionID]; ok {
		timer.Stop()
		delete(o.turnTimers, discussionID)
	}
}

// autoAdvance fires when the current speaker idles past the turn timeout.
func (o *Orchestrator) autoAdvance(discussionID string) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	delete(o.turnTimers, discussionID)
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeouts.StoreOp)
	defer cancel()

	state, cfg, err := o.turnState(ctx, discussionID)
	if err != nil {
		log.Printf("gateway: auto-advance state load failed discussion=%q err=%v", discussionID, err)
		return
	}
	if state.CurrentParticipantID == "" {
		return
	}
	log.Printf("gateway: turn timeout discussion=%q participant=%q turn=%d", discussionID, state.CurrentParticipantID, state.TurnNumber)

	o.broadcaster.Broadcast(discussionID, EventTurnEnded, TurnEvent{
		DiscussionID:  discussionID,
		ParticipantID: state.CurrentParticipantID,
		TurnNumber:    state.TurnNumber,
	})
	o.advanceTurn(ctx, discussionID, state, cfg)
}

// roster maps the backend participant list into the strategy engine's view.
func (o *Orchestrator) roster(ctx context.Context, discussionID string) ([]turn.Participant, string, error) {
	participants, err := o.backend.ListParticipants(ctx, discussionID)
	if err != nil {
		return nil, "", fmt.Errorf("list participants: %w", err)
	}

	topic := ""
	if discussion, err := o.backend.Discussion(ctx, discussionID); err == nil {
		topic = discussion.Topic
	}

	roster := make([]turn.Participant, 0, len(participants))
	for _, participant := range participants {
		entry := turn.Participant{
			ID:               participant.ID,
			IsActive:         participant.IsActive,
			JoinedAt:         participant.JoinedAt,
			Priority:         participant.Priority,
			Expertise:        participant.Expertise,
			ExpertiseWeight:  participant.ExpertiseWeight,
			EngagementWeight: participant.EngagementWeight,
		}
		if participant.LastMessageAt != nil {
			entry.LastMessageAt = *participant.LastMessageAt
		}
		roster = append(roster, entry)
	}
	return roster, topic, nil
}

// observeMessage updates the ephemeral conversation state feeding
// contribution scoring. Energy rises with traffic; a trailing question
// flips momentum to clarifying.
func (o *Orchestrator) observeMessage(discussionID, participantID, content string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	convo, ok := o.conversations[discussionID]
	if !ok {
		convo = &conversation{}
		o.conversations[discussionID] = convo
	}
	convo.lastSpeakerID = participantID
	convo.energy = convo.energy*0.8 + 0.2
	if convo.energy > 1 {
		convo.energy = 1
	}
	if strings.HasSuffix(strings.TrimSpace(content), "?") {
		convo.momentum = scoring.MomentumClarifying
	} else {
		convo.momentum = "flowing"
	}
}

// evaluateContributions scores every active persona against the current
// conversation and notifies the persona driver for each one that clears
// the threshold.
func (o *Orchestrator) evaluateContributions(ctx context.Context, discussionID string) {
	if o.notifier == nil {
		return
	}

	participants, err := o.backend.ListParticipants(ctx, discussionID)
	if err != nil {
		log.Printf("gateway: contribution roster load failed discussion=%q err=%v", discussionID, err)
		return
	}

	topic := ""
	if discussion, err := o.backend.Discussion(ctx, discussionID); err == nil {
		topic = discussion.Topic
	}

	o.mu.Lock()
	convo, ok := o.conversations[discussionID]
	if !ok {
		convo = &conversation{}
	}
	scoringCtx := scoring.Context{
		Topic:         topic,
		Momentum:      convo.momentum,
		Energy:        convo.energy,
		LastSpeakerID: convo.lastSpeakerID,
	}
	o.mu.Unlock()

	for _, participant := range participants {
		if participant.AgentID == "" || !participant.IsActive || participant.Persona == nil {
			continue
		}
		persona := scoring.Persona{
			ID:              participant.ID,
			TriggerKeywords: participant.Persona.TriggerKeywords,
			Assertiveness:   participant.Persona.Assertiveness,
			Verbose:         participant.Persona.Verbose,
			Clarifier:       participant.Persona.Clarifier,
		}
		result, contribute := scoring.ShouldContribute(persona, scoringCtx, o.threshold)
		if contribute {
			o.notifier.PersonaShouldContribute(discussionID, result)
		}
	}
}
