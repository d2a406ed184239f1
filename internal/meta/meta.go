package meta

import (
	"github.com/DoyleJ11/matchstate/internal/engine"
)

type TurnTimer struct {
	BaseSeconds NonNeg `json:"baseSeconds"`
	TurnNumber  NonNeg `json:"turnNumber"`
	StartedAt   NonNeg `json:"startedAt"`
	DeadlineAt  NonNeg `json:"deadlineAt"`
}

// TurnTimerVote tallies turn-duration votes. Selections always sums to the
// number of voters holding a choice.
type TurnTimerVote struct {
	Selections    map[int]int    `json:"selections"`
	Voters        map[string]int `json:"voters"`
	LastSelection NonNeg         `json:"lastSelection"`
	UpdatedAt     NonNeg         `json:"updatedAt"`
}

// DropIn is the one-per-turn time bonus granted when someone joins mid-match.
type DropIn struct {
	BonusSeconds NonNeg `json:"bonusSeconds"`
	AppliedTurn  NonNeg `json:"appliedTurn"`
	AppliedAt    NonNeg `json:"appliedAt"`
	Arrivals     NonNeg `json:"arrivals"`
}

type TurnState struct {
	TurnNumber    NonNeg `json:"turnNumber"`
	ActiveOwnerID string `json:"activeOwnerId,omitempty"`
	Phase         string `json:"phase,omitempty"`
	UpdatedAt     NonNeg `json:"updatedAt"`
}

type SessionMeta struct {
	TurnTimer TurnTimer                 `json:"turnTimer"`
	Vote      TurnTimerVote             `json:"vote"`
	DropIn    DropIn                    `json:"dropIn"`
	AsyncFill *engine.AsyncFillSnapshot `json:"asyncFill,omitempty"`
	TurnState TurnState                 `json:"turnState"`
	Extras    map[string]any            `json:"extras"`
	Source    string                    `json:"source,omitempty"`
	UpdatedAt int64                     `json:"updatedAt"`
}

func EmptyVote() TurnTimerVote {
	return TurnTimerVote{Selections: map[int]int{}, Voters: map[string]int{}}
}

func Empty() SessionMeta {
	return SessionMeta{
		Vote:   EmptyVote(),
		Extras: map[string]any{},
	}
}

// Clone deep-copies m so the copy shares no maps or slices with it.
func Clone(m SessionMeta) SessionMeta {
	out := m
	out.Vote = cloneVote(m.Vote)
	out.AsyncFill = cloneFill(m.AsyncFill)
	out.Extras = cloneExtras(m.Extras)
	return out
}

func cloneVote(v TurnTimerVote) TurnTimerVote {
	out := v
	out.Selections = make(map[int]int, len(v.Selections))
	for k, n := range v.Selections {
		out.Selections[k] = n
	}
	out.Voters = make(map[string]int, len(v.Voters))
	for k, d := range v.Voters {
		out.Voters[k] = d
	}
	return out
}

func cloneFill(f *engine.AsyncFillSnapshot) *engine.AsyncFillSnapshot {
	if f == nil {
		return nil
	}
	out := *f
	out.SeatIndexes = append([]int{}, f.SeatIndexes...)
	out.PendingSeatIndexes = append([]int{}, f.PendingSeatIndexes...)
	out.Assigned = append([]engine.RosterSeat{}, f.Assigned...)
	out.Overflow = append([]engine.RosterSeat{}, f.Overflow...)
	out.FillQueue = append([]engine.FillCandidate{}, f.FillQueue...)
	return &out
}

func cloneExtras(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneExtras(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
