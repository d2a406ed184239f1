package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/matchstate/internal/meta"
	"github.com/DoyleJ11/matchstate/internal/metasync"
	"github.com/DoyleJ11/matchstate/internal/metrics"
	"github.com/DoyleJ11/matchstate/internal/store"
)

var ErrClosed = errors.New("lobby closed")

type Msg interface{ isLobbyMsg() }

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this client wants to receive snapshots
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

type ApplyPatch struct {
	Patch meta.Patch
	Reply chan Snapshot
}

func (ApplyPatch) isLobbyMsg() {}

type CastVote struct {
	VoterID  string
	Duration int
	Reply    chan Snapshot
}

func (CastVote) isLobbyMsg() {}

type DropIn struct {
	Turn  int
	Reply chan Snapshot
}

func (DropIn) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// Snapshot is a deep copy of the session meta; receivers own it.
type Snapshot struct {
	MatchID string
	Version int
	Meta    meta.SessionMeta
	Changed bool
}

type View struct {
	Version    int
	NumClients int
	Meta       meta.SessionMeta
}

// Syncer receives every committed meta change for delivery to the sync
// endpoint. *metasync.Dispatcher satisfies it.
type Syncer interface {
	Enqueue(req metasync.SyncRequest)
}

type Config struct {
	MatchID string
	GameID  string
	Store   store.SessionStore // nil keeps the record in memory only
	Syncer  Syncer
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Lobby owns the session meta of one match. All mutations run on its loop
// goroutine, one at a time.
type Lobby struct {
	matchID string
	gameID  string
	inbox   chan Msg
	meta    meta.SessionMeta
	version int
	clients map[string]chan Snapshot

	store   store.SessionStore
	syncer  Syncer
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	lastActive atomic.Int64
	done       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
}

const storeTimeout = 2 * time.Second

func NewLobby(parent context.Context, cfg Config) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	l := &Lobby{
		matchID: cfg.MatchID,
		gameID:  cfg.GameID,
		inbox:   make(chan Msg, 64), // Small buffer
		meta:    meta.Empty(),
		clients: make(map[string]chan Snapshot),
		store:   cfg.Store,
		syncer:  cfg.Syncer,
		log:     cfg.Log.Named("lobby").With(zap.String("match_id", cfg.MatchID)),
		metrics: cfg.Metrics,
		now:     cfg.Now,
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	l.touch()

	go l.loop()
	return l
}

func (l *Lobby) loop() {
	defer close(l.done)
	l.hydrate()

	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			l.touch()
			switch msg := m.(type) {
			case Join:
				if prev, ok := l.clients[msg.ClientID]; ok && prev != msg.Outbox {
					close(prev)
				}
				// Register client + send current snapshot immediately
				select {
				case msg.Outbox <- l.snapshot(false):
					l.clients[msg.ClientID] = msg.Outbox
				default:
					close(msg.Outbox)
					delete(l.clients, msg.ClientID)
				}

			case Leave:
				if ch, ok := l.clients[msg.ClientID]; ok {
					close(ch)
					delete(l.clients, msg.ClientID)
				}

			case ApplyPatch:
				next := meta.Apply(l.meta, msg.Patch, l.now())
				var event *meta.TurnState
				if _, ok := msg.Patch.TurnState.Value(); ok {
					event = &next.TurnState
				}
				l.commit(next, "patch", event)
				reply(msg.Reply, l.snapshot(true))

			case CastVote:
				l.commit(meta.CastVote(l.meta, msg.VoterID, msg.Duration, l.now()), "vote", nil)
				reply(msg.Reply, l.snapshot(true))

			case DropIn:
				next, granted := meta.GrantDropInBonus(l.meta, msg.Turn, l.now())
				if granted {
					l.commit(next, "drop_in", nil)
				}
				reply(msg.Reply, l.snapshot(granted))

			case GetState:
				l.refresh()
				msg.Reply <- View{
					Version:    l.version,
					NumClients: len(l.clients),
					Meta:       meta.Clone(l.meta),
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

// commit replaces the record, persists it, queues a sync and notifies every
// subscriber, in that order.
func (l *Lobby) commit(next meta.SessionMeta, kind string, event *meta.TurnState) {
	l.meta = next
	l.version++
	l.metrics.MetaMutated(kind)
	l.persist()

	if l.syncer != nil {
		req := metasync.SyncRequest{
			SessionID: l.matchID,
			GameID:    l.gameID,
			Meta:      meta.Clone(l.meta),
			Source:    l.meta.Source,
		}
		if event != nil {
			ts := *event
			req.TurnStateEvent = &ts
		}
		if req.Source == "" {
			req.Source = "matchstate"
		}
		l.syncer.Enqueue(req)
	}
	l.broadcast()
}

func (l *Lobby) snapshot(changed bool) Snapshot {
	return Snapshot{MatchID: l.matchID, Version: l.version, Meta: meta.Clone(l.meta), Changed: changed}
}

func reply(ch chan Snapshot, snap Snapshot) {
	if ch == nil {
		return
	}
	select {
	case ch <- snap:
	default:
	}
}

func (l *Lobby) hydrate() {
	if rec, ok := l.load(); ok {
		l.meta = rec
	}
}

// refresh adopts a persisted record written by another process if it is
// newer than the one held here.
func (l *Lobby) refresh() {
	rec, ok := l.load()
	if !ok || rec.UpdatedAt <= l.meta.UpdatedAt {
		return
	}
	l.meta = rec
	l.version++
	l.broadcast()
}

func (l *Lobby) load() (meta.SessionMeta, bool) {
	if l.store == nil {
		return meta.SessionMeta{}, false
	}
	ctx, cancel := context.WithTimeout(l.ctx, storeTimeout)
	defer cancel()

	raw, err := l.store.Get(ctx, store.MetaKey(l.matchID))
	if err != nil {
		if !errors.Is(err, store.ErrMiss) {
			l.metrics.StoreError("get")
			l.log.Warn("session store read failed", zap.Error(err))
		}
		return meta.SessionMeta{}, false
	}
	rec := meta.Empty()
	if err := json.Unmarshal(raw, &rec); err != nil {
		l.log.Warn("discarding unreadable session record", zap.Error(err))
		return meta.SessionMeta{}, false
	}
	if rec.Vote.Selections == nil || rec.Vote.Voters == nil {
		rec.Vote = meta.EmptyVote()
	}
	if rec.Extras == nil {
		rec.Extras = map[string]any{}
	}
	return rec, true
}

func (l *Lobby) persist() {
	if l.store == nil {
		return
	}
	raw, err := json.Marshal(l.meta)
	if err != nil {
		l.log.Error("encode session record", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(l.ctx, storeTimeout)
	defer cancel()
	if err := l.store.Set(ctx, store.MetaKey(l.matchID), raw); err != nil {
		l.metrics.StoreError("set")
		l.log.Warn("session store write failed", zap.Error(err))
	}
}

func (l *Lobby) shutdown() {
	for id, ch := range l.clients {
		close(ch) // Tell client no more snapshots
		delete(l.clients, id)
	}
	l.cancel()
}

func (l *Lobby) broadcast() {
	for id, ch := range l.clients {
		select {
		case ch <- l.snapshot(true):
			//ok
		default:
			// Client is slow/full - drop them.
			close(ch)
			delete(l.clients, id)
		}
	}
}

func (l *Lobby) touch() { l.lastActive.Store(l.now().UnixNano()) }

// LastActive reports when the lobby last handled a message. Safe to call from
// any goroutine.
func (l *Lobby) LastActive() time.Time { return time.Unix(0, l.lastActive.Load()) }

func (l *Lobby) MatchID() string { return l.matchID }

// Done is closed once the loop has exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Send delivers m unless the lobby has already stopped.
func (l *Lobby) Send(m Msg) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.inbox <- m:
		return true
	case <-l.done:
		return false
	}
}

// Expose the inbox so tests or WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }
