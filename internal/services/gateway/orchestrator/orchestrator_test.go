package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/roundtablehq/roundtable/internal/services/gateway/discussions"
	"github.com/roundtablehq/roundtable/internal/services/gateway/scoring"
	"github.com/roundtablehq/roundtable/internal/services/gateway/storage"
)

type memStore struct {
	mu         sync.Mutex
	sessions   map[string]storage.Session
	turnStates map[string]storage.TurnState
}

func newMemStore() *memStore {
	return &memStore{
		sessions:   make(map[string]storage.Session),
		turnStates: make(map[string]storage.TurnState),
	}
}

func (s *memStore) CreateSession(_ context.Context, session storage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ConnectionID] = session
	return nil
}

func (s *memStore) Session(_ context.Context, connectionID string) (storage.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[connectionID]
	if !ok {
		return storage.Session{}, storage.ErrNotFound
	}
	return session, nil
}

func (s *memStore) TouchSession(_ context.Context, connectionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[connectionID]
	if !ok {
		return storage.ErrNotFound
	}
	session.LastActivity = at
	session.MessageCount++
	s.sessions[connectionID] = session
	return nil
}

func (s *memStore) SetSessionDiscussion(_ context.Context, connectionID, discussionID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[connectionID]
	if !ok {
		return storage.ErrNotFound
	}
	session.DiscussionID = discussionID
	session.ParticipantID = participantID
	s.sessions[connectionID] = session
	return nil
}

func (s *memStore) ClearSessionDiscussion(_ context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[connectionID]
	if !ok {
		return storage.ErrNotFound
	}
	session.DiscussionID = ""
	session.ParticipantID = ""
	s.sessions[connectionID] = session
	return nil
}

func (s *memStore) RemoveSession(_ context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, connectionID)
	return nil
}

func (s *memStore) CheckRateLimit(context.Context, string, string, int) (bool, error) {
	return true, nil
}

func (s *memStore) UserConnections(context.Context, string) ([]string, error) {
	return nil, nil
}

func (s *memStore) DiscussionConnections(context.Context, string) ([]string, error) {
	return nil, nil
}

func (s *memStore) CheckConnectionLimit(context.Context, string, int) (bool, error) {
	return true, nil
}

func (s *memStore) TurnState(_ context.Context, discussionID string) (storage.TurnState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.turnStates[discussionID]
	if !ok {
		return storage.TurnState{}, storage.ErrNotFound
	}
	return state, nil
}

func (s *memStore) SetTurnState(_ context.Context, discussionID string, state storage.TurnState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnStates[discussionID] = state
	return nil
}

func (s *memStore) ClearTurnState(_ context.Context, discussionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turnStates, discussionID)
	return nil
}

func (s *memStore) CleanupExpiredSessions(context.Context) (int, error) { return 0, nil }

func (s *memStore) Stats(context.Context) (storage.Stats, error) { return storage.Stats{}, nil }

func (s *memStore) Close() error { return nil }

type fakeBackend struct {
	allowAccess  bool
	accessErr    error
	participant  discussions.Participant
	lookupErr    error
	participants []discussions.Participant
	discussion   discussions.Discussion
	message      discussions.Message
	messageErr   error
	reaction     discussions.Reaction
	reactionErr  error
	turnErr      error
	lifecycleErr error

	endedTurns []string
}

func (b *fakeBackend) VerifyParticipantAccess(context.Context, string, string) (bool, error) {
	return b.allowAccess, b.accessErr
}

func (b *fakeBackend) ParticipantByUserID(context.Context, string, string) (discussions.Participant, error) {
	return b.participant, b.lookupErr
}

func (b *fakeBackend) ListParticipants(context.Context, string) ([]discussions.Participant, error) {
	return b.participants, nil
}

func (b *fakeBackend) Discussion(context.Context, string) (discussions.Discussion, error) {
	return b.discussion, nil
}

func (b *fakeBackend) SendMessage(context.Context, discussions.SendMessageRequest) (discussions.Message, error) {
	return b.message, b.messageErr
}

func (b *fakeBackend) RequestTurn(context.Context, string, string) error {
	return b.turnErr
}

func (b *fakeBackend) EndTurn(_ context.Context, _ string, participantID string) error {
	if b.turnErr != nil {
		return b.turnErr
	}
	b.endedTurns = append(b.endedTurns, participantID)
	return nil
}

func (b *fakeBackend) AddReaction(context.Context, discussions.ReactionRequest) (discussions.Reaction, error) {
	return b.reaction, b.reactionErr
}

func (b *fakeBackend) StartDiscussion(context.Context, string, string) error {
	return b.lifecycleErr
}

func (b *fakeBackend) PauseDiscussion(context.Context, string, string) error {
	return b.lifecycleErr
}

func (b *fakeBackend) ResumeDiscussion(context.Context, string, string) error {
	return b.lifecycleErr
}

func (b *fakeBackend) StopDiscussion(context.Context, string, string) error {
	return b.lifecycleErr
}

type broadcastRecord struct {
	discussionID string
	except       string
	event        string
	payload      any
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	records []broadcastRecord
}

func (b *recordingBroadcaster) Broadcast(discussionID, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, broadcastRecord{discussionID: discussionID, event: event, payload: payload})
}

func (b *recordingBroadcaster) BroadcastExcept(discussionID, except, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, broadcastRecord{discussionID: discussionID, except: except, event: event, payload: payload})
}

func (b *recordingBroadcaster) events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, len(b.records))
	for i, record := range b.records {
		names[i] = record.event
	}
	return names
}

type recordingNotifier struct {
	mu      sync.Mutex
	results []scoring.Result
}

func (n *recordingNotifier) PersonaShouldContribute(_ string, result scoring.Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, result)
}

func roundRobinConfig(t *testing.T, timeoutSeconds int) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"strategy":             "round_robin",
		"turn_timeout_seconds": timeoutSeconds,
	})
	if err != nil {
		t.Fatalf("marshal strategy config: %v", err)
	}
	return raw
}

func activeParticipant(id string, joinedAt time.Time) discussions.Participant {
	return discussions.Participant{ID: id, IsActive: true, JoinedAt: joinedAt}
}

func TestJoinDeniedWithoutAccess(t *testing.T) {
	store := newMemStore()
	backend := &fakeBackend{allowAccess: false}
	broadcaster := &recordingBroadcaster{}
	orch := New(store, backend, broadcaster)
	t.Cleanup(orch.Close)

	session := storage.Session{ConnectionID: "conn-1", UserID: "user-1"}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	_, err := orch.Join(context.Background(), session, "disc-1")
	if err == nil {
		t.Fatal("expected join to be denied")
	}
	if code := ErrorCode(err); code != CodeAccessDenied {
		t.Fatalf("error code = %q, want %q", code, CodeAccessDenied)
	}
	if len(broadcaster.events()) != 0 {
		t.Fatalf("unexpected broadcasts: %v", broadcaster.events())
	}
	stored, err := store.Session(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("read session: %v", err)
	}
	if stored.DiscussionID != "" {
		t.Fatalf("session bound to %q after denied join", stored.DiscussionID)
	}
}

func TestJoinBindsSessionAndAnnounces(t *testing.T) {
	store := newMemStore()
	backend := &fakeBackend{
		allowAccess: true,
		participant: discussions.Participant{ID: "part-1", Name: "Ada", Role: "member"},
	}
	broadcaster := &recordingBroadcaster{}
	orch := New(store, backend, broadcaster)
	t.Cleanup(orch.Close)

	session := storage.Session{ConnectionID: "conn-1", UserID: "user-1"}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	participant, err := orch.Join(context.Background(), session, "disc-1")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if participant.ID != "part-1" {
		t.Fatalf("participant ID = %q, want part-1", participant.ID)
	}

	stored, err := store.Session(context.Background(), "conn-1")
	if err != nil {
		t.Fatalf("read session: %v", err)
	}
	if stored.DiscussionID != "disc-1" || stored.ParticipantID != "part-1" {
		t.Fatalf("session binding = (%q, %q), want (disc-1, part-1)", stored.DiscussionID, stored.ParticipantID)
	}

	if len(broadcaster.records) != 1 {
		t.Fatalf("broadcasts = %v, want one participant_joined", broadcaster.events())
	}
	record := broadcaster.records[0]
	if record.event != EventParticipantJoined {
		t.Fatalf("event = %q, want %q", record.event, EventParticipantJoined)
	}
	if record.except != "conn-1" {
		t.Fatalf("join announcement must exclude the joining connection, excluded %q", record.except)
	}
}

func TestJoinMissingParticipantIsAccessDenied(t *testing.T) {
	store := newMemStore()
	backend := &fakeBackend{allowAccess: true, lookupErr: discussions.ErrNotFound}
	orch := New(store, backend, &recordingBroadcaster{})
	t.Cleanup(orch.Close)

	_, err := orch.Join(context.Background(), storage.Session{ConnectionID: "conn-1", UserID: "user-1"}, "disc-1")
	if code := ErrorCode(err); code != CodeAccessDenied {
		t.Fatalf("error code = %q, want %q", code, CodeAccessDenied)
	}
}

func TestSendMessageBroadcastsAndScoresPersonas(t *testing.T) {
	store := newMemStore()
	backend := &fakeBackend{
		message: discussions.Message{
			ID:            "msg-1",
			DiscussionID:  "disc-1",
			ParticipantID: "part-1",
			Content:       "let's talk about the database migration",
		},
		discussion: discussions.Discussion{ID: "disc-1", Topic: "database migration plan"},
		participants: []discussions.Participant{
			activeParticipant("part-1", time.Now()),
			{
				ID:       "part-ai",
				AgentID:  "agent-1",
				IsActive: true,
				JoinedAt: time.Now(),
				Persona: &discussions.PersonaProfile{
					TriggerKeywords: []string{"database"},
					Assertiveness:   0.9,
					Verbose:         true,
				},
			},
		},
	}
	broadcaster := &recordingBroadcaster{}
	notifier := &recordingNotifier{}
	orch := New(store, backend, broadcaster, WithNotifier(notifier))
	t.Cleanup(orch.Close)

	session := storage.Session{ConnectionID: "conn-1", UserID: "user-1", DiscussionID: "disc-1", ParticipantID: "part-1"}
	message, err := orch.SendMessage(context.Background(), session, discussions.SendMessageRequest{Content: "let's talk about the database migration"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if message.ID != "msg-1" {
		t.Fatalf("message ID = %q, want msg-1", message.ID)
	}

	events := broadcaster.events()
	if len(events) != 1 || events[0] != EventMessageReceived {
		t.Fatalf("broadcasts = %v, want [%s]", events, EventMessageReceived)
	}

	// topic match 1.0 + momentum 0.2 + assertiveness 0.9 + energy bonus
	// clears the 1.2 threshold
	if len(notifier.results) != 1 {
		t.Fatalf("notified personas = %d, want 1", len(notifier.results))
	}
	if notifier.results[0].PersonaID != "part-ai" {
		t.Fatalf("notified persona = %q, want part-ai", notifier.results[0].PersonaID)
	}
}

func TestSendMessageBackendFailure(t *testing.T) {
	store := newMemStore()
	backend := &fakeBackend{messageErr: errors.New("boom")}
	broadcaster := &recordingBroadcaster{}
	orch := New(store, backend, broadcaster)
	t.Cleanup(orch.Close)

	session := storage.Session{ConnectionID: "conn-1", DiscussionID: "disc-1", ParticipantID: "part-1"}
	_, err := orch.SendMessage(context.Background(), session, discussions.SendMessageRequest{Content: "hello"})
	if code := ErrorCode(err); code != CodeMessageFailed {
		t.Fatalf("error code = %q, want %q", code, CodeMessageFailed)
	}
	if len(broadcaster.events()) != 0 {
		t.Fatalf("delivery failure must not broadcast, got %v", broadcaster.events())
	}
}

func TestEndTurnAdvancesRoundRobin(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	store := newMemStore()
	backend := &fakeBackend{
		participants: []discussions.Participant{
			activeParticipant("part-a", base),
			activeParticipant("part-b", base.Add(time.Minute)),
			activeParticipant("part-c", base.Add(2*time.Minute)),
		},
	}
	broadcaster := &recordingBroadcaster{}
	orch := New(store, backend, broadcaster)
	t.Cleanup(orch.Close)

	if err := store.SetTurnState(context.Background(), "disc-1", storage.TurnState{
		CurrentParticipantID: "part-a",
		TurnNumber:           1,
		StrategyConfig:       roundRobinConfig(t, 0),
	}); err != nil {
		t.Fatalf("seed turn state: %v", err)
	}

	session := storage.Session{ConnectionID: "conn-a", DiscussionID: "disc-1", ParticipantID: "part-a", SecurityLevel: 2}
	if err := orch.EndTurn(context.Background(), session, session.SecurityLevel); err != nil {
		t.Fatalf("EndTurn: %v", err)
	}

	events := broadcaster.events()
	if len(events) != 2 || events[0] != EventTurnEnded || events[1] != EventTurnChanged {
		t.Fatalf("broadcasts = %v, want [turn_ended turn_changed]", events)
	}

	state, err := store.TurnState(context.Background(), "disc-1")
	if err != nil {
		t.Fatalf("read turn state: %v", err)
	}
	if state.CurrentParticipantID != "part-b" {
		t.Fatalf("next speaker = %q, want part-b", state.CurrentParticipantID)
	}
	if state.TurnNumber != 2 {
		t.Fatalf("turn number = %d, want 2", state.TurnNumber)
	}
}

func TestEndTurnRejectsNonSpeaker(t *testing.T) {
	store := newMemStore()
	backend := &fakeBackend{}
	orch := New(store, backend, &recordingBroadcaster{})
	t.Cleanup(orch.Close)

	if err := store.SetTurnState(context.Background(), "disc-1", storage.TurnState{
		CurrentParticipantID: "part-a",
		TurnNumber:           1,
		StrategyConfig:       roundRobinConfig(t, 0),
	}); err != nil {
		t.Fatalf("seed turn state: %v", err)
	}

	session := storage.Session{ConnectionID: "conn-b", DiscussionID: "disc-1", ParticipantID: "part-b", SecurityLevel: 2}
	err := orch.EndTurn(context.Background(), session, session.SecurityLevel)
	if code := ErrorCode(err); code != CodeNotCurrentSpeaker {
		t.Fatalf("error code = %q, want %q", code, CodeNotCurrentSpeaker)
	}
	if len(backend.endedTurns) != 0 {
		t.Fatalf("backend EndTurn called for non-speaker: %v", backend.endedTurns)
	}
}

func TestEndTurnAllowsModeratorOverride(t *testing.T) {
	store := newMemStore()
	backend := &fakeBackend{
		participants: []discussions.Participant{
			activeParticipant("part-a", time.Now()),
			activeParticipant("part-b", time.Now().Add(time.Minute)),
		},
	}
	orch := New(store, backend, &recordingBroadcaster{})
	t.Cleanup(orch.Close)

	if err := store.SetTurnState(context.Background(), "disc-1", storage.TurnState{
		CurrentParticipantID: "part-a",
		TurnNumber:           1,
		StrategyConfig:       roundRobinConfig(t, 0),
	}); err != nil {
		t.Fatalf("seed turn state: %v", err)
	}

	session := storage.Session{ConnectionID: "conn-m", DiscussionID: "disc-1", ParticipantID: "part-m", SecurityLevel: 3}
	if err := orch.EndTurn(context.Background(), session, session.SecurityLevel); err != nil {
		t.Fatalf("moderator EndTurn: %v", err)
	}
}

func TestRequestTurnGrantsOpenFloor(t *testing.T) {
	store := newMemStore()
	backend := &fakeBackend{
		discussion: discussions.Discussion{ID: "disc-1", StrategyConfig: roundRobinConfig(t, 0)},
	}
	broadcaster := &recordingBroadcaster{}
	orch := New(store, backend, broadcaster)
	t.Cleanup(orch.Close)

	session := storage.Session{ConnectionID: "conn-a", DiscussionID: "disc-1", ParticipantID: "part-a"}
	if err := orch.RequestTurn(context.Background(), session); err != nil {
		t.Fatalf("RequestTurn: %v", err)
	}

	events := broadcaster.events()
	if len(events) != 2 || events[0] != EventTurnRequested || events[1] != EventTurnChanged {
		t.Fatalf("broadcasts = %v, want [turn_requested turn_changed]", events)
	}

	state, err := store.TurnState(context.Background(), "disc-1")
	if err != nil {
		t.Fatalf("read turn state: %v", err)
	}
	if state.CurrentParticipantID != "part-a" || state.TurnNumber != 1 {
		t.Fatalf("turn state = (%q, %d), want (part-a, 1)", state.CurrentParticipantID, state.TurnNumber)
	}
}

func TestRequestTurnModeratedStaysQueued(t *testing.T) {
	raw, err := json.Marshal(map[string]any{"strategy": "moderated"})
	if err != nil {
		t.Fatalf("marshal strategy config: %v", err)
	}

	store := newMemStore()
	backend := &fakeBackend{discussion: discussions.Discussion{ID: "disc-1", StrategyConfig: raw}}
	broadcaster := &recordingBroadcaster{}
	orch := New(store, backend, broadcaster)
	t.Cleanup(orch.Close)

	session := storage.Session{ConnectionID: "conn-a", DiscussionID: "disc-1", ParticipantID: "part-a"}
	if err := orch.RequestTurn(context.Background(), session); err != nil {
		t.Fatalf("RequestTurn: %v", err)
	}

	events := broadcaster.events()
	if len(events) != 1 || events[0] != EventTurnRequested {
		t.Fatalf("broadcasts = %v, want [turn_requested]", events)
	}
	if _, err := store.TurnState(context.Background(), "disc-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("moderated request must not grant a turn, state err = %v", err)
	}
}

func TestTurnTimeoutAutoAdvances(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	store := newMemStore()
	backend := &fakeBackend{
		participants: []discussions.Participant{
			activeParticipant("part-a", base),
			activeParticipant("part-b", base.Add(time.Minute)),
		},
	}
	broadcaster := &recordingBroadcaster{}
	orch := New(store, backend, broadcaster)
	t.Cleanup(orch.Close)

	if err := store.SetTurnState(context.Background(), "disc-1", storage.TurnState{
		CurrentParticipantID: "part-a",
		TurnNumber:           3,
		StrategyConfig:       roundRobinConfig(t, 120),
	}); err != nil {
		t.Fatalf("seed turn state: %v", err)
	}

	orch.autoAdvance("disc-1")

	events := broadcaster.events()
	if len(events) != 2 || events[0] != EventTurnEnded || events[1] != EventTurnChanged {
		t.Fatalf("broadcasts = %v, want [turn_ended turn_changed]", events)
	}
	state, err := store.TurnState(context.Background(), "disc-1")
	if err != nil {
		t.Fatalf("read turn state: %v", err)
	}
	if state.CurrentParticipantID != "part-b" || state.TurnNumber != 4 {
		t.Fatalf("turn state = (%q, %d), want (part-b, 4)", state.CurrentParticipantID, state.TurnNumber)
	}
	if state.ExpectedEndAt.IsZero() {
		t.Fatal("expected end must be set when a timeout is configured")
	}
}

func TestStopDiscussionConcludesAndClearsTurnState(t *testing.T) {
	store := newMemStore()
	backend := &fakeBackend{}
	broadcaster := &recordingBroadcaster{}
	orch := New(store, backend, broadcaster)
	t.Cleanup(orch.Close)

	if err := store.SetTurnState(context.Background(), "disc-1", storage.TurnState{
		CurrentParticipantID: "part-a",
		TurnNumber:           5,
	}); err != nil {
		t.Fatalf("seed turn state: %v", err)
	}

	session := storage.Session{ConnectionID: "conn-1", UserID: "user-1"}
	if err := orch.StopDiscussion(context.Background(), session, "disc-1"); err != nil {
		t.Fatalf("StopDiscussion: %v", err)
	}

	if phase := orch.Phase("disc-1"); phase != PhaseConclusion {
		t.Fatalf("phase = %q, want %q", phase, PhaseConclusion)
	}
	if _, err := store.TurnState(context.Background(), "disc-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("turn state should be cleared, err = %v", err)
	}
	events := broadcaster.events()
	if len(events) != 1 || events[0] != EventDiscussionStopped {
		t.Fatalf("broadcasts = %v, want [discussion_stopped]", events)
	}
}

func TestLifecycleFailureSurfacesCode(t *testing.T) {
	store := newMemStore()
	backend := &fakeBackend{lifecycleErr: errors.New("backend down")}
	orch := New(store, backend, &recordingBroadcaster{})
	t.Cleanup(orch.Close)

	session := storage.Session{ConnectionID: "conn-1", UserID: "user-1"}
	err := orch.StartDiscussion(context.Background(), session, "disc-1", "")
	if code := ErrorCode(err); code != CodeStartFailed {
		t.Fatalf("error code = %q, want %q", code, CodeStartFailed)
	}
	if phase := orch.Phase("disc-1"); phase != PhaseInitialization {
		t.Fatalf("phase changed on failed start: %q", phase)
	}
}

func TestJoinAdoptsBackendPhase(t *testing.T) {
	store := newMemStore()
	backend := &fakeBackend{
		allowAccess: true,
		participant: discussions.Participant{ID: "part-1", Name: "Ada", Role: "member"},
		discussion:  discussions.Discussion{ID: "disc-1", Phase: "SYNTHESIS"},
	}
	orch := New(store, backend, &recordingBroadcaster{})
	t.Cleanup(orch.Close)

	session := storage.Session{ConnectionID: "conn-1", UserID: "user-1"}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if _, err := orch.Join(context.Background(), session, "disc-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	if got := orch.Phase("disc-1"); got != PhaseSynthesis {
		t.Fatalf("Phase = %q, want %q", got, PhaseSynthesis)
	}
}

func TestDisconnectAnnouncesOnlyJoinedSessions(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	orch := New(newMemStore(), &fakeBackend{}, broadcaster)
	t.Cleanup(orch.Close)

	orch.Disconnect(storage.Session{ConnectionID: "conn-1", UserID: "user-1"})
	if len(broadcaster.records) != 0 {
		t.Fatalf("bare disconnect broadcast %v, want none", broadcaster.events())
	}

	orch.Disconnect(storage.Session{
		ConnectionID:  "conn-2",
		UserID:        "user-2",
		DiscussionID:  "disc-1",
		ParticipantID: "part-2",
	})
	if len(broadcaster.records) != 1 {
		t.Fatalf("broadcasts = %v, want one participant_disconnected", broadcaster.events())
	}
	if got := broadcaster.records[0].event; got != EventParticipantDisconnected {
		t.Fatalf("event = %q, want %q", got, EventParticipantDisconnected)
	}
}
