package turn

import "time"

// nextFreeForm lets any active participant take the floor once their
// cooldown since last speaking has elapsed. The longest-waiting
// participant goes first.
func nextFreeForm(roster []Participant, state State, cfg Config, now time.Time) (string, bool) {
	cooldown := cfg.Cooldown()
	return pickHighest(roster, state.CurrentParticipantID, func(p Participant) (float64, bool) {
		if !p.IsActive {
			return 0, false
		}
		if !p.LastMessageAt.IsZero() && now.Sub(p.LastMessageAt) < cooldown {
			return 0, false
		}
		if p.LastMessageAt.IsZero() {
			return float64(now.Unix()), true
		}
		return float64(now.Sub(p.LastMessageAt)) / float64(time.Second), true
	})
}
