package meta

import (
	"time"
)

const DefaultTurnSeconds = 60

// RecordVote moves voterID's choice to duration and returns the updated
// tally. A non-positive duration withdraws the voter's choice instead.
func RecordVote(v TurnTimerVote, voterID string, duration int, now time.Time) TurnTimerVote {
	out := cloneVote(v)
	if voterID == "" {
		return out
	}

	if prev, ok := out.Voters[voterID]; ok {
		out.Selections[prev]--
		if out.Selections[prev] <= 0 {
			delete(out.Selections, prev)
		}
		delete(out.Voters, voterID)
	}

	if duration > 0 {
		out.Selections[duration]++
		out.Voters[voterID] = duration
		out.LastSelection = NonNeg(duration)
	}
	out.UpdatedAt = NonNeg(now.UnixMilli())
	return out
}

// ResolveBaseDuration picks the most voted duration, preferring the shorter
// one on a tie. With no votes it keeps previousBase, or DefaultTurnSeconds.
func ResolveBaseDuration(v TurnTimerVote, previousBase int) int {
	best, bestCount := 0, 0
	for d, n := range v.Selections {
		if n <= 0 || d <= 0 {
			continue
		}
		if n > bestCount || (n == bestCount && d < best) {
			best, bestCount = d, n
		}
	}
	if bestCount > 0 {
		return best
	}
	if previousBase > 0 {
		return previousBase
	}
	return DefaultTurnSeconds
}

// CastVote records a vote on m and re-resolves the turn timer's base
// duration from the new tally.
func CastVote(m SessionMeta, voterID string, duration int, now time.Time) SessionMeta {
	next := Clone(m)
	next.Vote = RecordVote(m.Vote, voterID, duration, now)
	next.TurnTimer.BaseSeconds = NonNeg(ResolveBaseDuration(next.Vote, int(m.TurnTimer.BaseSeconds)))
	next.UpdatedAt = now.UnixMilli()
	return next
}
