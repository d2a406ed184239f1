package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/matchstate/internal/engine"
	"github.com/DoyleJ11/matchstate/internal/hub"
	"github.com/DoyleJ11/matchstate/internal/lobby"
	"github.com/DoyleJ11/matchstate/internal/meta"
	"github.com/DoyleJ11/matchstate/internal/metrics"
	"github.com/DoyleJ11/matchstate/internal/types"
)

const (
	codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength  = 8
	maxBody     = 1 << 20
)

// Deps are the collaborators the handlers need.
type Deps struct {
	Hub        *hub.Hub
	Reconciler *engine.Reconciler
	Metrics    *metrics.Metrics
	Log        *zap.Logger
	Now        func() time.Time
}

func GenerateCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[num.Int64()]
	}
	return string(code), nil
}

// CreateMatch allocates an unused match id and opens its session.
func CreateMatch(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := r.URL.Query().Get("game")
		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				http.Error(w, "failed to generate match id", http.StatusInternalServerError)
				return
			}
			lb, err := d.Hub.Lookup(r.Context(), c)
			if err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			if lb == nil {
				code = c
				break
			}
			d.Log.Debug("match id collision, regenerating", zap.String("match_id", c))
		}

		if _, err := d.Hub.Ensure(r.Context(), code, gameID); err != nil {
			http.Error(w, "failed to create match", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, struct {
			MatchID string `json:"matchId"`
		}{MatchID: code})
	}
}

func Reconcile(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ReconcileRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res := d.Reconciler.Reconcile(r.Context(), engine.ReconcileInput{
			GameID:        chi.URLParam(r, "gameID"),
			Assignments:   req.Assignments,
			Rooms:         req.Rooms,
			Capacity:      req.Capacity,
			DeclaredRoles: req.DeclaredRoles,
		})
		for _, rm := range res.RemovedMembers {
			d.Metrics.MemberRemoved(string(rm.Reason))
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func ResolveRoles(w http.ResponseWriter, r *http.Request) {
	var req types.ResolveRolesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, engine.ResolveRoles(engine.RoleSource{
		RoleSlots: req.RoleSlots,
		Slots:     engine.ParseSlotRows(req.Slots),
		Roles:     engine.ParseRoleDeclarations(req.Roles),
	}))
}

// Fill builds the async fill snapshot for a match and stores it in the
// session meta. Realtime matches get applied=false and their meta keeps
// whatever snapshot it had.
func Fill(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.FillRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		pool := make([]engine.ParticipantRecord, 0, len(req.Pool))
		for _, row := range req.Pool {
			if rec, ok := engine.ParseParticipant(row); ok {
				pool = append(pool, rec)
			}
		}
		snap, ok := engine.BuildAsyncFill(engine.FillInput{
			Mode:          req.Mode,
			Roster:        req.Roster,
			Pool:          pool,
			HostOwnerID:   req.HostOwnerID,
			HostRole:      req.HostRole,
			HostRoleLimit: req.HostRoleLimit,
			Now:           d.Now(),
		})
		if !ok {
			writeJSON(w, http.StatusOK, types.FillResponse{Applied: false})
			return
		}

		lb, ok := ensure(w, r, d, req.GameID)
		if !ok {
			return
		}
		res, err := lb.Patch(r.Context(), meta.Patch{AsyncFill: meta.Set(snap)})
		if err != nil {
			lobbyError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.FillResponse{Applied: true, Snapshot: res.Meta.AsyncFill, Version: res.Version})
	}
}

func GetMeta(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lb, ok := ensure(w, r, d, r.URL.Query().Get("game"))
		if !ok {
			return
		}
		v, err := lb.View(r.Context())
		if err != nil {
			lobbyError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.MetaResponse{MatchID: lb.MatchID(), Version: v.Version, Meta: v.Meta})
	}
}

func PatchMeta(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p meta.Patch
		if !decodeJSON(w, r, &p) {
			return
		}
		lb, ok := ensure(w, r, d, r.URL.Query().Get("game"))
		if !ok {
			return
		}
		snap, err := lb.Patch(r.Context(), p)
		writeSnapshot(w, snap, err)
	}
}

func Vote(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.VoteRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.VoterID == "" {
			http.Error(w, "missing voterId", http.StatusBadRequest)
			return
		}
		lb, ok := ensure(w, r, d, r.URL.Query().Get("game"))
		if !ok {
			return
		}
		snap, err := lb.Vote(r.Context(), req.VoterID, req.Duration)
		writeSnapshot(w, snap, err)
	}
}

func DropIn(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.DropInRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		lb, ok := ensure(w, r, d, r.URL.Query().Get("game"))
		if !ok {
			return
		}
		snap, err := lb.GrantDropIn(r.Context(), req.Turn)
		writeSnapshot(w, snap, err)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func ensure(w http.ResponseWriter, r *http.Request, d Deps, gameID string) (*lobby.Lobby, bool) {
	matchID := chi.URLParam(r, "matchID")
	if matchID == "" {
		http.Error(w, "missing match id", http.StatusBadRequest)
		return nil, false
	}
	lb, err := d.Hub.Ensure(r.Context(), matchID, gameID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return nil, false
	}
	return lb, true
}

func writeSnapshot(w http.ResponseWriter, snap lobby.Snapshot, err error) {
	if err != nil {
		lobbyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.MetaResponse{
		MatchID: snap.MatchID,
		Version: snap.Version,
		Changed: snap.Changed,
		Meta:    snap.Meta,
	})
}

func lobbyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lobby.ErrClosed), errors.Is(err, hub.ErrHubClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
