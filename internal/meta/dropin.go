package meta

import "time"

// GrantDropInBonus extends the current turn's deadline by the configured
// drop-in bonus. The bonus is granted at most once per turn; the second
// return value reports whether it was granted.
func GrantDropInBonus(m SessionMeta, turn int, now time.Time) (SessionMeta, bool) {
	bonus := m.DropIn.BonusSeconds
	if bonus <= 0 || turn < 0 {
		return m, false
	}
	if m.DropIn.AppliedAt > 0 && int(m.DropIn.AppliedTurn) == turn {
		return m, false
	}

	next := Clone(m)
	if next.TurnTimer.DeadlineAt > 0 {
		next.TurnTimer.DeadlineAt += bonus * 1000
	}
	next.DropIn.AppliedTurn = NonNeg(turn)
	next.DropIn.AppliedAt = NonNeg(now.UnixMilli())
	next.DropIn.Arrivals++
	next.UpdatedAt = now.UnixMilli()
	return next, true
}
