// Package scoring decides whether an AI persona should proactively speak.
//
// The computation is deterministic and side-effect free over the persona
// profile and the current conversation context, so the policy can be
// property-tested without mocking any I/O.
package scoring

import "strings"

// DefaultThreshold is the score a persona must exceed to contribute.
const DefaultThreshold = 1.2

// MomentumClarifying marks a conversation waiting on a clarification.
const MomentumClarifying = "clarifying"

// Persona is the profile slice the scorer reads.
type Persona struct {
	ID              string
	TriggerKeywords []string
	// Assertiveness is the persona's conversational chattiness in [0, 1].
	Assertiveness float64
	Verbose       bool
	Clarifier     bool
}

// Context captures the conversation state at evaluation time.
type Context struct {
	Topic         string
	Momentum      string
	Energy        float64
	LastSpeakerID string
}

// Factors itemizes each scoring component.
type Factors struct {
	TopicMatch        float64 `json:"topic_match"`
	MomentumMatch     float64 `json:"momentum_match"`
	ChattinessFactor  float64 `json:"chattiness_factor"`
	ContinuityPenalty float64 `json:"continuity_penalty"`
	EnergyBonus       float64 `json:"energy_bonus"`
}

// Result is one persona's contribution score. It is ephemeral: recomputed
// per evaluation, never persisted.
type Result struct {
	PersonaID string  `json:"persona_id"`
	Score     float64 `json:"score"`
	Factors   Factors `json:"factors"`
}

// Score computes the contribution score for one persona.
func Score(persona Persona, ctx Context) Result {
	factors := Factors{
		TopicMatch:       topicMatch(persona.TriggerKeywords, ctx.Topic),
		MomentumMatch:    momentumMatch(persona, ctx),
		ChattinessFactor: persona.Assertiveness,
	}
	if persona.ID != "" && persona.ID == ctx.LastSpeakerID {
		factors.ContinuityPenalty = -0.8
	}
	if persona.Verbose {
		factors.EnergyBonus = ctx.Energy * 0.2
	}

	return Result{
		PersonaID: persona.ID,
		Score: factors.TopicMatch +
			factors.MomentumMatch +
			factors.ChattinessFactor +
			factors.ContinuityPenalty +
			factors.EnergyBonus,
		Factors: factors,
	}
}

// ShouldContribute reports whether the persona's score clears the
// threshold. A non-positive threshold selects the default.
func ShouldContribute(persona Persona, ctx Context, threshold float64) (Result, bool) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	result := Score(persona, ctx)
	return result, result.Score > threshold
}

func topicMatch(keywords []string, topic string) float64 {
	topic = strings.ToLower(topic)
	if topic == "" {
		return 0
	}
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" && strings.Contains(topic, keyword) {
			return 1.0
		}
	}
	return 0
}

func momentumMatch(persona Persona, ctx Context) float64 {
	if ctx.Momentum == MomentumClarifying && persona.Clarifier {
		return 0.5
	}
	return 0.2
}
