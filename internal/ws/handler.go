package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/matchstate/internal/hub"
	"github.com/DoyleJ11/matchstate/internal/lobby"
	"github.com/DoyleJ11/matchstate/internal/types"
)

const (
	writeTimeout = 3 * time.Second
	outboxSize   = 8
)

// pingInterval paces keepalive pings. Reads carry no deadline.
var pingInterval = 15 * time.Second

// Handler streams the session meta of one match (?match=) and accepts
// patch, vote and drop-in messages from the client.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		matchID := r.URL.Query().Get("match")
		if matchID == "" {
			http.Error(w, "missing match", http.StatusBadRequest)
			return
		}

		lb, err := h.Ensure(r.Context(), matchID, r.URL.Query().Get("game"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan lobby.Snapshot, outboxSize)
		clientID := uuid.NewString()
		clog := log.With(zap.String("match_id", matchID), zap.String("client_id", clientID))

		if !lb.Send(lobby.Join{ClientID: clientID, Outbox: out}) {
			conn.Close(websocket.StatusTryAgainLater, "match closed")
			return
		}
		defer lb.Send(lobby.Leave{ClientID: clientID})

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			ping := time.NewTicker(pingInterval)
			defer ping.Stop()
			for {
				select {
				case snap, ok := <-out:
					if !ok {
						// Lobby dropped us (slow consumer or shutdown).
						conn.Close(websocket.StatusGoingAway, "unsubscribed")
						return
					}
					m := snap.Meta
					write(writeCtx, conn, types.ServerMessage{
						Type:    "MetaSnapshot",
						MatchID: snap.MatchID,
						Version: snap.Version,
						Meta:    &m,
					})
				case <-ping.C:
					ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
					err := conn.Ping(ctx)
					cancel()
					if err != nil {
						clog.Debug("ping failed", zap.Error(err))
						conn.Close(websocket.StatusGoingAway, "ping timeout")
						return
					}
				case <-writeCtx.Done():
					return
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					clog.Debug("read ended", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				write(r.Context(), conn, types.ServerMessage{Type: "Error", Error: "bad json"})
				continue
			}
			if err := apply(r.Context(), lb, cm); err != nil {
				write(r.Context(), conn, types.ServerMessage{Type: "Error", Error: err.Error()})
			}
		}
	}
}

type clientError string

func (e clientError) Error() string { return string(e) }

const (
	errUnknownType = clientError("unknown type")
	errMissingArg  = clientError("missing field")
)

// apply forwards one client message to the lobby. The resulting snapshot
// reaches the client through its subscription.
func apply(ctx context.Context, lb *lobby.Lobby, m types.ClientMessage) error {
	var err error
	switch m.Type {
	case "Patch":
		if m.Patch == nil {
			return errMissingArg
		}
		_, err = lb.Patch(ctx, *m.Patch)
	case "Vote":
		if m.VoterID == "" {
			return errMissingArg
		}
		_, err = lb.Vote(ctx, m.VoterID, m.Duration)
	case "DropIn":
		_, err = lb.GrantDropIn(ctx, m.Turn)
	default:
		return errUnknownType
	}
	return err
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, payload)
}
