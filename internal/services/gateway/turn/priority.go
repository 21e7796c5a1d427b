package turn

// nextPriority grants the turn to the highest static priority among
// active participants, preferring anyone over the current speaker so a
// lone high-priority participant cannot monopolize the floor.
func nextPriority(roster []Participant, state State) (string, bool) {
	return pickHighest(roster, state.CurrentParticipantID, func(p Participant) (float64, bool) {
		if !p.IsActive {
			return 0, false
		}
		return float64(p.Priority), true
	})
}
