package types

import (
	"github.com/DoyleJ11/matchstate/internal/engine"
	"github.com/DoyleJ11/matchstate/internal/meta"
)

type ReconcileRequest struct {
	Assignments   []engine.Assignment    `json:"assignments"`
	Rooms         []engine.Room          `json:"rooms,omitempty"`
	Capacity      engine.RoleCapacityMap `json:"capacity,omitempty"`
	DeclaredRoles []string               `json:"declaredRoles,omitempty"`
}

// ResolveRolesRequest carries raw slot and role rows as the host database
// returns them; RoleSlots is an optional inline layout.
type ResolveRolesRequest struct {
	RoleSlots []string     `json:"roleSlots,omitempty"`
	Slots     []engine.Row `json:"slots,omitempty"`
	Roles     []engine.Row `json:"roles,omitempty"`
}

type FillRequest struct {
	Mode          engine.RealtimeMode `json:"mode"`
	Roster        []engine.RosterSeat `json:"roster"`
	Pool          []engine.Row        `json:"pool,omitempty"`
	HostOwnerID   string              `json:"hostOwnerId,omitempty"`
	HostRole      string              `json:"hostRole,omitempty"`
	HostRoleLimit *int                `json:"hostRoleLimit,omitempty"`
	GameID        string              `json:"gameId,omitempty"`
}

type FillResponse struct {
	Applied  bool                      `json:"applied"`
	Snapshot *engine.AsyncFillSnapshot `json:"snapshot,omitempty"`
	Version  int                       `json:"version"`
}

type VoteRequest struct {
	VoterID  string `json:"voterId"`
	Duration int    `json:"duration"`
}

type DropInRequest struct {
	Turn int `json:"turn"`
}

type MetaResponse struct {
	MatchID string           `json:"matchId"`
	Version int              `json:"version"`
	Changed bool             `json:"changed"`
	Meta    meta.SessionMeta `json:"meta"`
}

type ClientMessage struct {
	Type     string      `json:"type"` // "Patch" | "Vote" | "DropIn"
	Patch    *meta.Patch `json:"patch,omitempty"`
	VoterID  string      `json:"voterId,omitempty"`
	Duration int         `json:"duration,omitempty"`
	Turn     int         `json:"turn,omitempty"`
}

type ServerMessage struct {
	Type    string            `json:"type"` // "MetaSnapshot" | "Error"
	MatchID string            `json:"matchId,omitempty"`
	Version int               `json:"version,omitempty"`
	Meta    *meta.SessionMeta `json:"meta,omitempty"`
	Error   string            `json:"error,omitempty"`
}
