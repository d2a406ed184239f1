package hub

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/matchstate/internal/lobby"
	"github.com/DoyleJ11/matchstate/internal/metrics"
	"github.com/DoyleJ11/matchstate/internal/store"
)

var ErrHubClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

type GetLobby struct {
	MatchID string
	Reply   chan *lobby.Lobby
}

// EnsureLobby returns the lobby for MatchID, creating and hydrating it on
// first access.
type EnsureLobby struct {
	MatchID string
	GameID  string // only used if creation happens
	Reply   chan *lobby.Lobby
}

type RemoveLobby struct {
	MatchID string
}

type CountLobbies struct {
	Reply chan int
}

type sweep struct{ now time.Time }

type ShutdownHub struct{}

func (GetLobby) isHubMsg()     {}
func (EnsureLobby) isHubMsg()  {}
func (RemoveLobby) isHubMsg()  {}
func (CountLobbies) isHubMsg() {}
func (sweep) isHubMsg()        {}
func (ShutdownHub) isHubMsg()  {}

type Config struct {
	Store         store.SessionStore
	Syncer        lobby.Syncer
	Log           *zap.Logger
	Metrics       *metrics.Metrics
	TTL           time.Duration // idle time before a match record is evicted
	SweepInterval time.Duration
	Now           func() time.Time
	OnEvict       func(matchID string) // called from the hub loop; must not block
}

// Hub is the match state registry: one lobby per match id, created lazily
// and evicted by a TTL sweep that runs on its own ticker.
type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	cfg     Config
	log     *zap.Logger
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

const (
	DefaultTTL           = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

func NewHub(parent context.Context, cfg Config) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		cfg:     cfg,
		log:     cfg.Log.Named("hub"),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.loop()
	go h.sweeper()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetLobby:
				msg.Reply <- h.live(msg.MatchID) // May be nil

			case EnsureLobby:
				if lb := h.live(msg.MatchID); lb != nil {
					msg.Reply <- lb
					break
				}
				lb := lobby.NewLobby(h.ctx, lobby.Config{
					MatchID: msg.MatchID,
					GameID:  msg.GameID,
					Store:   h.cfg.Store,
					Syncer:  h.cfg.Syncer,
					Log:     h.cfg.Log,
					Metrics: h.cfg.Metrics,
					Now:     h.cfg.Now,
				})
				h.lobbies[msg.MatchID] = lb
				h.cfg.Metrics.SetActiveMatches(len(h.lobbies))
				msg.Reply <- lb

			case RemoveLobby:
				if lb := h.lobbies[msg.MatchID]; lb != nil {
					lb.Send(lobby.Shutdown{})
					delete(h.lobbies, msg.MatchID)
					h.cfg.Metrics.SetActiveMatches(len(h.lobbies))
				}

			case CountLobbies:
				msg.Reply <- len(h.lobbies)

			case sweep:
				h.evictIdle(msg.now)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// live returns the registered lobby unless its loop has already exited.
func (h *Hub) live(matchID string) *lobby.Lobby {
	lb := h.lobbies[matchID]
	if lb == nil {
		return nil
	}
	select {
	case <-lb.Done():
		delete(h.lobbies, matchID)
		return nil
	default:
		return lb
	}
}

func (h *Hub) evictIdle(now time.Time) {
	for id, lb := range h.lobbies {
		if now.Sub(lb.LastActive()) < h.cfg.TTL {
			continue
		}
		// The lobby persisted its record on every commit, so a later
		// EnsureLobby re-hydrates it.
		go lb.Send(lobby.Shutdown{})
		delete(h.lobbies, id)
		if h.cfg.OnEvict != nil {
			h.cfg.OnEvict(id)
		}
		h.log.Debug("evicted idle match", zap.String("match_id", id))
	}
	h.cfg.Metrics.SetActiveMatches(len(h.lobbies))
}

// sweeper only posts sweep requests; it never touches a lobby directly, so a
// slow sweep cannot hold up a lobby mutation.
func (h *Hub) sweeper() {
	t := time.NewTicker(h.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-t.C:
			select {
			case h.inbox <- sweep{now: h.cfg.Now()}:
			case <-h.ctx.Done():
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		lb.Send(lobby.Shutdown{})
	}
	clear(h.lobbies)
	h.cfg.Metrics.SetActiveMatches(0)
	h.cancel()
}

// Sweep runs one eviction pass as of now.
func (h *Hub) Sweep(now time.Time) {
	h.send(sweep{now: now})
}

func (h *Hub) send(m HubMsg) bool {
	select {
	case h.inbox <- m:
		return true
	case <-h.done:
		return false
	}
}

// Ensure returns the lobby for matchID, creating it if needed.
func (h *Hub) Ensure(ctx context.Context, matchID, gameID string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	if !h.send(EnsureLobby{MatchID: matchID, GameID: gameID, Reply: reply}) {
		return nil, ErrHubClosed
	}
	select {
	case lb := <-reply:
		return lb, nil
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Lookup returns the live lobby for matchID or nil.
func (h *Hub) Lookup(ctx context.Context, matchID string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	if !h.send(GetLobby{MatchID: matchID, Reply: reply}) {
		return nil, ErrHubClosed
	}
	select {
	case lb := <-reply:
		return lb, nil
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if !h.send(CountLobbies{Reply: reply}) {
		return 0, ErrHubClosed
	}
	select {
	case n := <-reply:
		return n, nil
	case <-h.done:
		return 0, ErrHubClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close shuts every lobby down and stops the hub.
func (h *Hub) Close() {
	if h.send(ShutdownHub{}) {
		<-h.done
	}
}
