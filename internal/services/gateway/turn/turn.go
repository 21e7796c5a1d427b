// Package turn computes who speaks next in a discussion.
//
// Every strategy is a pure function over the participant roster, the
// current turn state, and a strategy configuration. The orchestrator owns
// when the engine runs and what happens with the result; nothing in this
// package performs I/O or keeps state between calls.
package turn

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Strategy names accepted in discussion settings.
type Strategy string

const (
	StrategyRoundRobin   Strategy = "round_robin"
	StrategyModerated    Strategy = "moderated"
	StrategyContextAware Strategy = "context_aware"
	StrategyPriority     Strategy = "priority"
	StrategyExpertise    Strategy = "expertise"
	StrategyFreeForm     Strategy = "free_form"
)

// Participant is the roster view the engine evaluates. It mirrors the
// participant record owned by the discussions backend.
type Participant struct {
	ID               string
	IsActive         bool
	JoinedAt         time.Time
	LastMessageAt    time.Time
	Priority         int
	Expertise        []string
	ExpertiseWeight  float64
	EngagementWeight float64
}

// State is the slice of turn state the engine needs.
type State struct {
	CurrentParticipantID string
	TurnNumber           int
}

// Config selects and parameterizes a strategy.
type Config struct {
	Strategy Strategy `json:"strategy"`

	// Round-robin.
	SkipInactive bool `json:"skip_inactive,omitempty"`
	MaxSkips     int  `json:"max_skips,omitempty"`

	// Moderated.
	AutoAdvance   bool   `json:"auto_advance,omitempty"`
	ModeratorID   string `json:"moderator_id,omitempty"`
	NextSpeakerID string `json:"next_speaker_id,omitempty"`

	// Context-aware weights.
	TopicWeight      float64 `json:"topic_weight,omitempty"`
	ExpertiseWeight  float64 `json:"expertise_weight,omitempty"`
	EngagementWeight float64 `json:"engagement_weight,omitempty"`

	// Expertise-driven.
	ExpertiseThreshold float64 `json:"expertise_threshold,omitempty"`

	// Free-form.
	CooldownSeconds int `json:"cooldown_seconds,omitempty"`

	// Turn timeout in seconds; zero disables auto-advance.
	TurnTimeoutSeconds int `json:"turn_timeout_seconds,omitempty"`
}

// Request bundles the inputs for one next-speaker evaluation.
type Request struct {
	Roster []Participant
	State  State
	Config Config
	Topic  string
	Now    time.Time
}

// DefaultConfig returns the configuration applied when a discussion
// declares no turn settings.
func DefaultConfig() Config {
	return Config{
		Strategy:           StrategyRoundRobin,
		SkipInactive:       true,
		MaxSkips:           3,
		TopicWeight:        1.0,
		ExpertiseWeight:    1.0,
		EngagementWeight:   1.0,
		ExpertiseThreshold: 0.5,
		CooldownSeconds:    30,
	}
}

// ParseConfig decodes a strategy configuration, applying defaults for
// missing fields. Nil or empty input yields the default configuration.
func ParseConfig(raw json.RawMessage) (Config, error) {
	cfg := DefaultConfig()
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode strategy config: %w", err)
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyRoundRobin
	}
	return cfg, nil
}

// TurnTimeout returns the configured per-turn timeout, zero when disabled.
func (c Config) TurnTimeout() time.Duration {
	if c.TurnTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TurnTimeoutSeconds) * time.Second
}

// Cooldown returns the free-form cooldown period.
func (c Config) Cooldown() time.Duration {
	if c.CooldownSeconds <= 0 {
		return 0
	}
	return time.Duration(c.CooldownSeconds) * time.Second
}

// NextSpeaker evaluates the configured strategy and returns the
// participant who should speak next. ok is false when no participant is
// eligible, which for the moderated strategy means the moderator has not
// assigned a speaker yet.
func NextSpeaker(req Request) (string, bool) {
	roster := orderedRoster(req.Roster)
	if len(roster) == 0 {
		return "", false
	}
	switch req.Config.Strategy {
	case StrategyModerated:
		return nextModerated(roster, req.Config)
	case StrategyContextAware:
		return nextContextAware(roster, req.State, req.Config, req.Topic)
	case StrategyPriority:
		return nextPriority(roster, req.State)
	case StrategyExpertise:
		return nextExpertise(roster, req.State, req.Config, req.Topic)
	case StrategyFreeForm:
		return nextFreeForm(roster, req.State, req.Config, req.Now)
	default:
		return nextRoundRobin(roster, req.State, req.Config)
	}
}

// orderedRoster returns a stable speaking order: join time, then ID.
func orderedRoster(roster []Participant) []Participant {
	ordered := make([]Participant, len(roster))
	copy(ordered, roster)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].JoinedAt.Equal(ordered[j].JoinedAt) {
			return ordered[i].JoinedAt.Before(ordered[j].JoinedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

// topicRelevance measures how much of the topic a participant's declared
// expertise covers, as a fraction of matched topic keywords.
func topicRelevance(topic string, expertise []string) float64 {
	words := strings.Fields(strings.ToLower(topic))
	if len(words) == 0 || len(expertise) == 0 {
		return 0
	}
	declared := make(map[string]struct{}, len(expertise))
	for _, keyword := range expertise {
		declared[strings.ToLower(strings.TrimSpace(keyword))] = struct{}{}
	}
	matched := 0
	for _, word := range words {
		if _, ok := declared[strings.Trim(word, ".,!?;:")]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(words))
}

// pickHighest returns the eligible participant with the highest score,
// breaking ties by earliest join. The current speaker is only considered
// when nobody else is eligible.
func pickHighest(roster []Participant, current string, score func(Participant) (float64, bool)) (string, bool) {
	bestID := ""
	bestScore := 0.0
	currentEligible := false

	for _, participant := range roster {
		value, eligible := score(participant)
		if !eligible {
			continue
		}
		if participant.ID == current {
			currentEligible = true
			continue
		}
		if bestID == "" || value > bestScore {
			bestID = participant.ID
			bestScore = value
		}
	}
	if bestID != "" {
		return bestID, true
	}
	if currentEligible {
		return current, true
	}
	return "", false
}
