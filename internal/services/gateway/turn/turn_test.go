package turn

import (
	"testing"
	"time"
)

var rosterBase = time.Date(2026, 5, 20, 14, 0, 0, 0, time.UTC)

func testRoster(ids ...string) []Participant {
	roster := make([]Participant, 0, len(ids))
	for i, id := range ids {
		roster = append(roster, Participant{
			ID:       id,
			IsActive: true,
			JoinedAt: rosterBase.Add(time.Duration(i) * time.Minute),
		})
	}
	return roster
}

func TestRoundRobinSkipsInactive(t *testing.T) {
	roster := testRoster("A", "B", "C")
	roster[1].IsActive = false

	cfg := DefaultConfig()
	cfg.SkipInactive = true

	state := State{}
	var sequence []string
	for i := 0; i < 3; i++ {
		speaker, ok := NextSpeaker(Request{Roster: roster, State: state, Config: cfg})
		if !ok {
			t.Fatalf("advance %d: expected a speaker", i+1)
		}
		sequence = append(sequence, speaker)
		state.CurrentParticipantID = speaker
		state.TurnNumber++
	}

	want := []string{"A", "C", "A"}
	for i := range want {
		if sequence[i] != want[i] {
			t.Fatalf("expected sequence %v, got %v", want, sequence)
		}
	}
}

func TestRoundRobinForcesAfterMaxSkips(t *testing.T) {
	roster := testRoster("A", "B")
	roster[0].IsActive = false
	roster[1].IsActive = false

	cfg := DefaultConfig()
	cfg.SkipInactive = true
	cfg.MaxSkips = 1

	speaker, ok := NextSpeaker(Request{Roster: roster, Config: cfg})
	if !ok {
		t.Fatal("expected a forced speaker once the skip budget is spent")
	}
	if speaker != "B" {
		t.Fatalf("expected forced speaker B, got %s", speaker)
	}
}

func TestRoundRobinWithoutSkipInactive(t *testing.T) {
	roster := testRoster("A", "B", "C")
	roster[1].IsActive = false

	cfg := DefaultConfig()
	cfg.SkipInactive = false

	speaker, ok := NextSpeaker(Request{
		Roster: roster,
		State:  State{CurrentParticipantID: "A"},
		Config: cfg,
	})
	if !ok || speaker != "B" {
		t.Fatalf("expected B regardless of activity, got %s ok=%v", speaker, ok)
	}
}

func TestRoundRobinEmptyRoster(t *testing.T) {
	if _, ok := NextSpeaker(Request{Config: DefaultConfig()}); ok {
		t.Fatal("expected no speaker for an empty roster")
	}
}

func TestModeratedBlocksWithoutAssignment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyModerated

	if _, ok := NextSpeaker(Request{Roster: testRoster("A", "B"), Config: cfg}); ok {
		t.Fatal("expected moderated strategy to block without an assignment")
	}

	cfg.NextSpeakerID = "B"
	speaker, ok := NextSpeaker(Request{Roster: testRoster("A", "B"), Config: cfg})
	if !ok || speaker != "B" {
		t.Fatalf("expected assigned speaker B, got %s ok=%v", speaker, ok)
	}
}

func TestModeratedIgnoresUnknownAssignment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyModerated
	cfg.NextSpeakerID = "Z"

	if _, ok := NextSpeaker(Request{Roster: testRoster("A", "B"), Config: cfg}); ok {
		t.Fatal("expected unknown assignment to block the advance")
	}
}

func TestContextAwareHighestScoreWins(t *testing.T) {
	roster := testRoster("A", "B", "C")
	roster[0].Expertise = []string{"caching"}
	roster[0].ExpertiseWeight = 0.2
	roster[1].Expertise = []string{"consensus", "raft"}
	roster[1].ExpertiseWeight = 0.9
	roster[1].EngagementWeight = 0.5
	roster[2].ExpertiseWeight = 0.3

	cfg := DefaultConfig()
	cfg.Strategy = StrategyContextAware

	speaker, ok := NextSpeaker(Request{
		Roster: roster,
		Config: cfg,
		Topic:  "raft consensus tradeoffs",
	})
	if !ok || speaker != "B" {
		t.Fatalf("expected B to win on score, got %s ok=%v", speaker, ok)
	}
}

func TestContextAwareTieBreaksOnEarliestJoin(t *testing.T) {
	roster := testRoster("B", "A")
	// identical weights: B joined first and must win the tie
	roster[0].ExpertiseWeight = 0.5
	roster[1].ExpertiseWeight = 0.5

	cfg := DefaultConfig()
	cfg.Strategy = StrategyContextAware

	speaker, ok := NextSpeaker(Request{Roster: roster, Config: cfg})
	if !ok || speaker != "B" {
		t.Fatalf("expected earliest joiner B, got %s ok=%v", speaker, ok)
	}
}

func TestPriorityHighestEligibleWins(t *testing.T) {
	roster := testRoster("A", "B", "C")
	roster[0].Priority = 10
	roster[1].Priority = 50
	roster[2].Priority = 30
	roster[1].IsActive = false

	cfg := DefaultConfig()
	cfg.Strategy = StrategyPriority

	speaker, ok := NextSpeaker(Request{Roster: roster, Config: cfg})
	if !ok || speaker != "C" {
		t.Fatalf("expected highest active priority C, got %s ok=%v", speaker, ok)
	}
}

func TestPriorityAvoidsCurrentSpeakerWhenPossible(t *testing.T) {
	roster := testRoster("A", "B")
	roster[0].Priority = 50
	roster[1].Priority = 10

	cfg := DefaultConfig()
	cfg.Strategy = StrategyPriority

	speaker, ok := NextSpeaker(Request{
		Roster: roster,
		State:  State{CurrentParticipantID: "A"},
		Config: cfg,
	})
	if !ok || speaker != "B" {
		t.Fatalf("expected the floor to move to B, got %s ok=%v", speaker, ok)
	}
}

func TestExpertiseThreshold(t *testing.T) {
	roster := testRoster("A", "B")
	roster[0].Expertise = []string{"databases"}
	roster[1].Expertise = []string{"indexing", "databases"}

	cfg := DefaultConfig()
	cfg.Strategy = StrategyExpertise
	cfg.ExpertiseThreshold = 0.6

	speaker, ok := NextSpeaker(Request{
		Roster: roster,
		Config: cfg,
		Topic:  "databases indexing",
	})
	if !ok || speaker != "B" {
		t.Fatalf("expected B above threshold, got %s ok=%v", speaker, ok)
	}

	cfg.ExpertiseThreshold = 1.1
	if _, ok := NextSpeaker(Request{Roster: roster, Config: cfg, Topic: "databases indexing"}); ok {
		t.Fatal("expected nobody above an unreachable threshold")
	}
}

func TestFreeFormHonorsCooldown(t *testing.T) {
	now := rosterBase.Add(time.Hour)
	roster := testRoster("A", "B")
	roster[0].LastMessageAt = now.Add(-10 * time.Second)
	roster[1].LastMessageAt = now.Add(-2 * time.Minute)

	cfg := DefaultConfig()
	cfg.Strategy = StrategyFreeForm
	cfg.CooldownSeconds = 30

	speaker, ok := NextSpeaker(Request{Roster: roster, Config: cfg, Now: now})
	if !ok || speaker != "B" {
		t.Fatalf("expected B past cooldown, got %s ok=%v", speaker, ok)
	}

	roster[1].LastMessageAt = now.Add(-5 * time.Second)
	if _, ok := NextSpeaker(Request{Roster: roster, Config: cfg, Now: now}); ok {
		t.Fatal("expected everyone inside cooldown to be ineligible")
	}
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	if err != nil {
		t.Fatalf("parse nil config: %v", err)
	}
	if cfg.Strategy != StrategyRoundRobin || !cfg.SkipInactive || cfg.MaxSkips != 3 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	cfg, err = ParseConfig([]byte(`{"strategy":"moderated","turn_timeout_seconds":120}`))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Strategy != StrategyModerated {
		t.Fatalf("expected moderated strategy, got %s", cfg.Strategy)
	}
	if cfg.TurnTimeout() != 2*time.Minute {
		t.Fatalf("expected 2m turn timeout, got %v", cfg.TurnTimeout())
	}

	if _, err := ParseConfig([]byte(`{broken`)); err == nil {
		t.Fatal("expected decode error")
	}
}
