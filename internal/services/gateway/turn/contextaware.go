package turn

// nextContextAware scores active participants by a weighted sum of topic
// relevance, declared expertise weight, and engagement weight. Highest
// score wins; ties break toward the earliest-joined participant through
// the roster's stable ordering.
func nextContextAware(roster []Participant, state State, cfg Config, topic string) (string, bool) {
	return pickHighest(roster, state.CurrentParticipantID, func(p Participant) (float64, bool) {
		if !p.IsActive {
			return 0, false
		}
		score := cfg.TopicWeight*topicRelevance(topic, p.Expertise) +
			cfg.ExpertiseWeight*p.ExpertiseWeight +
			cfg.EngagementWeight*p.EngagementWeight
		return score, true
	})
}
