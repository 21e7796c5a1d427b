package turn

// nextRoundRobin walks the roster in speaking order starting after the
// current speaker. With SkipInactive set, inactive participants are
// bypassed until MaxSkips is exhausted, after which the next participant
// is forced regardless of activity.
func nextRoundRobin(roster []Participant, state State, cfg Config) (string, bool) {
	start := 0
	if state.CurrentParticipantID != "" {
		for i, participant := range roster {
			if participant.ID == state.CurrentParticipantID {
				start = i + 1
				break
			}
		}
	}

	maxSkips := cfg.MaxSkips
	if maxSkips <= 0 {
		maxSkips = len(roster)
	}

	skips := 0
	for offset := 0; offset < len(roster); offset++ {
		candidate := roster[(start+offset)%len(roster)]
		if candidate.ID == state.CurrentParticipantID && len(roster) > 1 {
			continue
		}
		if cfg.SkipInactive && !candidate.IsActive {
			skips++
			if skips <= maxSkips {
				continue
			}
			// skip budget exhausted: force this participant
		}
		return candidate.ID, true
	}
	return "", false
}
