package meta

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/DoyleJ11/matchstate/internal/engine"
)

type op uint8

const (
	opUnchanged op = iota
	opClear
	opSet
)

// Field is one patch entry. The zero value leaves the target untouched; JSON
// null decodes to Clear and any other JSON value to Set.
type Field[T any] struct {
	op    op
	value T
}

func Set[T any](v T) Field[T] { return Field[T]{op: opSet, value: v} }

func Clear[T any]() Field[T] { return Field[T]{op: opClear} }

func (f Field[T]) IsZero() bool { return f.op == opUnchanged }

func (f Field[T]) IsClear() bool { return f.op == opClear }

func (f Field[T]) Value() (T, bool) { return f.value, f.op == opSet }

func (f *Field[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*f = Clear[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Set(v)
	return nil
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.op != opSet {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

type Patch struct {
	TurnTimer Field[TurnTimer]                `json:"turnTimer,omitzero"`
	Vote      Field[TurnTimerVote]            `json:"vote,omitzero"`
	DropIn    Field[DropIn]                   `json:"dropIn,omitzero"`
	AsyncFill Field[engine.AsyncFillSnapshot] `json:"asyncFill,omitzero"`
	TurnState Field[TurnState]                `json:"turnState,omitzero"`
	Extras    Field[map[string]any]           `json:"extras,omitzero"`
	Source    Field[string]                   `json:"source,omitzero"`
}

// Apply merges p over prev and returns a new record; prev is not modified and
// the result shares nothing with p or prev.
func Apply(prev SessionMeta, p Patch, now time.Time) SessionMeta {
	next := Clone(prev)

	next.TurnTimer = merge(prev.TurnTimer, p.TurnTimer, TurnTimer{}, TurnTimer.coerce)
	next.Vote = merge(next.Vote, p.Vote, EmptyVote(), func(v, _ TurnTimerVote) TurnTimerVote {
		return normalizeVote(v)
	})
	next.DropIn = merge(prev.DropIn, p.DropIn, DropIn{}, DropIn.coerce)
	next.TurnState = merge(prev.TurnState, p.TurnState, TurnState{}, TurnState.coerce)
	next.Extras = merge(next.Extras, p.Extras, map[string]any{}, func(v, _ map[string]any) map[string]any {
		return cloneExtras(v)
	})
	next.Source = merge(prev.Source, p.Source, "", func(v, _ string) string {
		return strings.TrimSpace(v)
	})

	if p.AsyncFill.IsClear() {
		next.AsyncFill = nil
	} else if v, ok := p.AsyncFill.Value(); ok {
		next.AsyncFill = cloneFill(&v)
	}

	next.UpdatedAt = now.UnixMilli()
	return next
}

func merge[T any](cur T, f Field[T], empty T, set func(v, prev T) T) T {
	switch f.op {
	case opClear:
		return empty
	case opSet:
		return set(f.value, cur)
	}
	return cur
}

func (t TurnTimer) coerce(prev TurnTimer) TurnTimer {
	return TurnTimer{
		BaseSeconds: t.BaseSeconds.or(prev.BaseSeconds),
		TurnNumber:  t.TurnNumber.or(prev.TurnNumber),
		StartedAt:   t.StartedAt.or(prev.StartedAt),
		DeadlineAt:  t.DeadlineAt.or(prev.DeadlineAt),
	}
}

func (d DropIn) coerce(prev DropIn) DropIn {
	return DropIn{
		BonusSeconds: d.BonusSeconds.or(prev.BonusSeconds),
		AppliedTurn:  d.AppliedTurn.or(prev.AppliedTurn),
		AppliedAt:    d.AppliedAt.or(prev.AppliedAt),
		Arrivals:     d.Arrivals.or(prev.Arrivals),
	}
}

func (s TurnState) coerce(prev TurnState) TurnState {
	return TurnState{
		TurnNumber:    s.TurnNumber.or(prev.TurnNumber),
		ActiveOwnerID: strings.TrimSpace(s.ActiveOwnerID),
		Phase:         strings.TrimSpace(s.Phase),
		UpdatedAt:     s.UpdatedAt.or(prev.UpdatedAt),
	}
}

// normalizeVote drops voters without a positive duration and rebuilds the
// tallies from the voters that remain.
func normalizeVote(v TurnTimerVote) TurnTimerVote {
	out := TurnTimerVote{
		Selections:    map[int]int{},
		Voters:        map[string]int{},
		LastSelection: v.LastSelection.or(0),
		UpdatedAt:     v.UpdatedAt.or(0),
	}
	for voter, d := range v.Voters {
		if voter == "" || d <= 0 {
			continue
		}
		out.Voters[voter] = d
		out.Selections[d]++
	}
	return out
}

// NonNeg is a non-negative integer that decodes leniently from JSON numbers
// and numeric strings. Anything else decodes to Invalid, which merges discard
// in favour of the previous value.
type NonNeg int64

const Invalid NonNeg = -1

func (n *NonNeg) UnmarshalJSON(b []byte) error {
	*n = parseNonNeg(b)
	return nil
}

func parseNonNeg(b []byte) NonNeg {
	s := strings.TrimSpace(string(b))
	s = strings.Trim(s, `"`)
	if s == "" || s == "null" {
		return Invalid
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > math.MaxInt64 {
		return Invalid
	}
	return NonNeg(math.Floor(f))
}

func (n NonNeg) or(prev NonNeg) NonNeg {
	if n >= 0 {
		return n
	}
	if prev >= 0 {
		return prev
	}
	return 0
}
