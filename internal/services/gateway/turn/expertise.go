package turn

// nextExpertise matches current-topic keywords against declared expertise
// and considers only participants whose relevance clears the configured
// threshold.
func nextExpertise(roster []Participant, state State, cfg Config, topic string) (string, bool) {
	return pickHighest(roster, state.CurrentParticipantID, func(p Participant) (float64, bool) {
		if !p.IsActive {
			return 0, false
		}
		relevance := topicRelevance(topic, p.Expertise)
		if relevance < cfg.ExpertiseThreshold {
			return 0, false
		}
		return relevance, true
	})
}
