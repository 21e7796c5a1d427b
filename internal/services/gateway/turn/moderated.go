package turn

// nextModerated yields the speaker the moderator assigned, or nothing
// when no assignment is pending. The orchestrator blocks turn advances
// until the moderator acts unless AutoAdvance is set.
func nextModerated(roster []Participant, cfg Config) (string, bool) {
	assigned := cfg.NextSpeakerID
	if assigned == "" {
		return "", false
	}
	for _, participant := range roster {
		if participant.ID == assigned && participant.IsActive {
			return assigned, true
		}
	}
	return "", false
}
