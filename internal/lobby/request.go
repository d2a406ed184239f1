package lobby

import (
	"context"

	"github.com/DoyleJ11/matchstate/internal/meta"
)

// Patch applies p and waits for the resulting snapshot.
func (l *Lobby) Patch(ctx context.Context, p meta.Patch) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	return l.await(ctx, ApplyPatch{Patch: p, Reply: reply}, reply)
}

func (l *Lobby) Vote(ctx context.Context, voterID string, duration int) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	return l.await(ctx, CastVote{VoterID: voterID, Duration: duration, Reply: reply}, reply)
}

// GrantDropIn asks for the drop-in bonus of turn; Snapshot.Changed reports
// whether it was granted.
func (l *Lobby) GrantDropIn(ctx context.Context, turn int) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	return l.await(ctx, DropIn{Turn: turn, Reply: reply}, reply)
}

func (l *Lobby) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if !l.Send(GetState{Reply: reply}) {
		return View{}, ErrClosed
	}
	select {
	case v := <-reply:
		return v, nil
	case <-l.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (l *Lobby) await(ctx context.Context, m Msg, reply chan Snapshot) (Snapshot, error) {
	if !l.Send(m) {
		return Snapshot{}, ErrClosed
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-l.done:
		return Snapshot{}, ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

