package meta

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/matchstate/internal/engine"
)

var (
	t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
)

func decodePatch(t *testing.T, raw string) Patch {
	t.Helper()
	var p Patch
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return p
}

func TestRecordVote_Transition(t *testing.T) {
	v := RecordVote(EmptyVote(), "A", 30, t0)
	v = RecordVote(v, "A", 60, t1)

	assert.Equal(t, map[int]int{60: 1}, v.Selections)
	assert.Equal(t, 60, v.Voters["A"])
	assert.EqualValues(t, 60, v.LastSelection)
	assert.EqualValues(t, t1.UnixMilli(), v.UpdatedAt)
}

func TestRecordVote_Cases(t *testing.T) {
	base := RecordVote(RecordVote(EmptyVote(), "A", 30, t0), "B", 30, t0)

	cases := []struct {
		name     string
		voter    string
		duration int
		want     map[int]int
	}{
		{"second vote for same duration", "C", 30, map[int]int{30: 3}},
		{"moving a vote keeps the old tally", "A", 45, map[int]int{30: 1, 45: 1}},
		{"withdrawing", "B", 0, map[int]int{30: 1}},
		{"anonymous votes are ignored", "", 45, map[int]int{30: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RecordVote(base, tc.voter, tc.duration, t1)
			assert.Equal(t, tc.want, got.Selections)

			sum := 0
			for _, n := range got.Selections {
				sum += n
			}
			assert.Equal(t, len(got.Voters), sum)
		})
	}
	assert.Equal(t, map[int]int{30: 2}, base.Selections, "input must not be modified")
}

func TestResolveBaseDuration(t *testing.T) {
	cases := []struct {
		name       string
		selections map[int]int
		prev       int
		want       int
	}{
		{"highest tally", map[int]int{30: 1, 90: 2}, 60, 90},
		{"tie prefers shorter", map[int]int{90: 2, 45: 2}, 60, 45},
		{"no votes keeps previous", map[int]int{}, 75, 75},
		{"no votes no previous", nil, 0, DefaultTurnSeconds},
		{"zero tallies ignored", map[int]int{30: 0}, 0, DefaultTurnSeconds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveBaseDuration(TurnTimerVote{Selections: tc.selections}, tc.prev))
		})
	}
}

func TestCastVote_ResolvesBase(t *testing.T) {
	m := Empty()
	m.TurnTimer.BaseSeconds = 60

	m = CastVote(m, "A", 30, t0)
	m = CastVote(m, "B", 90, t0)
	m = CastVote(m, "C", 90, t1)

	assert.EqualValues(t, 90, m.TurnTimer.BaseSeconds)
	assert.Equal(t, t1.UnixMilli(), m.UpdatedAt)

	m = CastVote(m, "B", 0, t1)
	assert.EqualValues(t, 30, m.TurnTimer.BaseSeconds, "tie between 30 and 90 goes to the shorter")
}

func TestApply_ClearSemantics(t *testing.T) {
	prev := Empty()
	prev.TurnTimer = TurnTimer{BaseSeconds: 45, TurnNumber: 3, StartedAt: 100, DeadlineAt: 200}
	prev.Extras = map[string]any{"k": "v"}
	prev.UpdatedAt = t0.UnixMilli()

	cleared := Apply(prev, decodePatch(t, `{"turnTimer": null}`), t1)
	assert.Equal(t, TurnTimer{}, cleared.TurnTimer)
	assert.Equal(t, t1.UnixMilli(), cleared.UpdatedAt)
	assert.Equal(t, "v", cleared.Extras["k"])

	untouched := Apply(prev, decodePatch(t, `{}`), t1)
	assert.Equal(t, prev.TurnTimer, untouched.TurnTimer)
	assert.Equal(t, t1.UnixMilli(), untouched.UpdatedAt)

	assert.EqualValues(t, 45, prev.TurnTimer.BaseSeconds, "prev must not be modified")
}

func TestApply_LenientNumbers(t *testing.T) {
	prev := Empty()
	prev.TurnTimer = TurnTimer{BaseSeconds: 45, TurnNumber: 3, StartedAt: 100, DeadlineAt: 200}

	p := decodePatch(t, `{"turnTimer": {"baseSeconds": "90", "turnNumber": "abc", "startedAt": -5, "deadlineAt": 12.7}}`)
	got := Apply(prev, p, t1)

	assert.Equal(t, TurnTimer{BaseSeconds: 90, TurnNumber: 3, StartedAt: 100, DeadlineAt: 12}, got.TurnTimer)
}

func TestApply_VoteIsNormalized(t *testing.T) {
	p := decodePatch(t, `{"vote": {"voters": {"A": 30, "B": 30, "C": 0, "": 45}, "selections": {"99": 7}}}`)
	got := Apply(Empty(), p, t1)

	assert.Equal(t, map[string]int{"A": 30, "B": 30}, got.Vote.Voters)
	assert.Equal(t, map[int]int{30: 2}, got.Vote.Selections)
}

func TestApply_SetValuesAreCopied(t *testing.T) {
	extras := map[string]any{"nested": map[string]any{"x": 1.0}}
	fill := engine.AsyncFillSnapshot{SeatIndexes: []int{1, 2}}

	got := Apply(Empty(), Patch{Extras: Set(extras), AsyncFill: Set(fill), Source: Set("  host ")}, t1)

	extras["nested"].(map[string]any)["x"] = 2.0
	fill.SeatIndexes[0] = 9

	assert.Equal(t, 1.0, got.Extras["nested"].(map[string]any)["x"])
	require.NotNil(t, got.AsyncFill)
	assert.Equal(t, []int{1, 2}, got.AsyncFill.SeatIndexes)
	assert.Equal(t, "host", got.Source)

	cleared := Apply(got, decodePatch(t, `{"asyncFill": null, "extras": null}`), t1)
	assert.Nil(t, cleared.AsyncFill)
	assert.Empty(t, cleared.Extras)
	assert.NotNil(t, cleared.Extras)
}

func TestPatch_MarshalOmitsUnchanged(t *testing.T) {
	raw, err := json.Marshal(Patch{TurnTimer: Clear[TurnTimer](), Source: Set("x")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"turnTimer": null, "source": "x"}`, string(raw))
}

func TestClone_IsDeep(t *testing.T) {
	m := Empty()
	m.Vote = RecordVote(m.Vote, "A", 30, t0)
	m.Extras["list"] = []any{map[string]any{"a": 1.0}}
	m.AsyncFill = &engine.AsyncFillSnapshot{FillQueue: []engine.FillCandidate{{OwnerID: "u1"}}}

	c := Clone(m)
	c.Vote.Voters["B"] = 45
	c.Extras["list"].([]any)[0].(map[string]any)["a"] = 2.0
	c.AsyncFill.FillQueue[0].OwnerID = "u2"

	assert.NotContains(t, m.Vote.Voters, "B")
	assert.Equal(t, 1.0, m.Extras["list"].([]any)[0].(map[string]any)["a"])
	assert.Equal(t, "u1", m.AsyncFill.FillQueue[0].OwnerID)
}

func TestGrantDropInBonus(t *testing.T) {
	m := Empty()
	m.TurnTimer.DeadlineAt = 10_000
	m.DropIn.BonusSeconds = 20

	got, ok := GrantDropInBonus(m, 1, t0)
	require.True(t, ok)
	assert.EqualValues(t, 30_000, got.TurnTimer.DeadlineAt)
	assert.EqualValues(t, 1, got.DropIn.Arrivals)
	assert.EqualValues(t, 1, got.DropIn.AppliedTurn)

	_, ok = GrantDropInBonus(got, 1, t1)
	assert.False(t, ok, "second bonus in the same turn")

	noBonus := Empty()
	_, ok = GrantDropInBonus(noBonus, 1, t0)
	assert.False(t, ok)

	assert.EqualValues(t, 10_000, m.TurnTimer.DeadlineAt, "input must not be modified")
}
