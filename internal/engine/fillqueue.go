package engine

import (
	"sort"
	"time"
)

type RealtimeMode string

const (
	RealtimeOff      RealtimeMode = "off"
	RealtimeStandard RealtimeMode = "standard"
)

const (
	DefaultHostSeatCap = 3
	UnassignedRole     = "unassigned"
)

type RosterSeat struct {
	SlotIndex int    `json:"slotIndex"`
	OwnerID   string `json:"ownerId,omitempty"`
	HeroID    string `json:"heroId,omitempty"`
	Role      string `json:"role"`
}

type SeatLimit struct {
	Allowed int `json:"allowed"`
	Total   int `json:"total"`
}

type FillCandidate struct {
	OwnerID string `json:"ownerId"`
	HeroID  string `json:"heroId,omitempty"`
	Role    string `json:"role"`
	Score   int    `json:"score"`
}

type AsyncFillSnapshot struct {
	Mode               RealtimeMode    `json:"mode"`
	HostOwnerID        string          `json:"hostOwnerId,omitempty"`
	HostRole           string          `json:"hostRole"`
	SeatLimit          SeatLimit       `json:"seatLimit"`
	SeatIndexes        []int           `json:"seatIndexes"`
	PendingSeatIndexes []int           `json:"pendingSeatIndexes"`
	Assigned           []RosterSeat    `json:"assigned"`
	Overflow           []RosterSeat    `json:"overflow"`
	FillQueue          []FillCandidate `json:"fillQueue"`
	PoolSize           int             `json:"poolSize"`
	GeneratedAt        int64           `json:"generatedAt"`
}

type FillInput struct {
	Mode          RealtimeMode
	Roster        []RosterSeat
	Pool          []ParticipantRecord
	HostOwnerID   string
	HostRole      string
	HostRoleLimit *int // nil applies DefaultHostSeatCap
	Now           time.Time
}

// BuildAsyncFill computes which host-role seats are open for asynchronous
// filling and who is next in line for them. It returns false when the match
// is realtime. The output depends only on the input, including Now.
func BuildAsyncFill(in FillInput) (AsyncFillSnapshot, bool) {
	if in.Mode != RealtimeOff {
		return AsyncFillSnapshot{}, false
	}

	seats := make([]RosterSeat, len(in.Roster))
	copy(seats, in.Roster)
	sort.SliceStable(seats, func(i, j int) bool { return seats[i].SlotIndex < seats[j].SlotIndex })

	hostRole := resolveHostRole(in.HostRole, in.HostOwnerID, seats)
	hostKey := roleKey(hostRole)

	var hostSeats []RosterSeat
	for _, s := range seats {
		if roleKey(s.Role) == hostKey {
			hostSeats = append(hostSeats, s)
		}
	}
	total := len(hostSeats)

	allowed := min(total, DefaultHostSeatCap)
	if in.HostRoleLimit != nil {
		allowed = min(max(*in.HostRoleLimit, 1), total)
	}

	snap := AsyncFillSnapshot{
		Mode:               in.Mode,
		HostOwnerID:        in.HostOwnerID,
		HostRole:           hostRole,
		SeatLimit:          SeatLimit{Allowed: allowed, Total: total},
		SeatIndexes:        []int{},
		PendingSeatIndexes: []int{},
		Assigned:           []RosterSeat{},
		Overflow:           []RosterSeat{},
		FillQueue:          []FillCandidate{},
		GeneratedAt:        in.Now.UnixMilli(),
	}

	for i, s := range hostSeats {
		if i >= allowed {
			snap.Overflow = append(snap.Overflow, s)
			continue
		}
		snap.SeatIndexes = append(snap.SeatIndexes, s.SlotIndex)
		if s.OwnerID == "" {
			snap.PendingSeatIndexes = append(snap.PendingSeatIndexes, s.SlotIndex)
		} else {
			snap.Assigned = append(snap.Assigned, s)
		}
	}

	seated := map[string]bool{}
	for _, s := range seats {
		if s.OwnerID != "" {
			seated[s.OwnerID] = true
		}
	}

	var eligible []FillCandidate
	for _, p := range in.Pool {
		if p.OwnerID == "" || seated[p.OwnerID] || roleKey(p.Role) != hostKey {
			continue
		}
		seated[p.OwnerID] = true
		eligible = append(eligible, FillCandidate{OwnerID: p.OwnerID, HeroID: p.HeroID, Role: p.Role, Score: p.Score})
	}
	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].OwnerID < eligible[j].OwnerID })

	snap.PoolSize = len(eligible)
	if n := len(snap.PendingSeatIndexes); len(eligible) > n {
		eligible = eligible[:n]
	}
	snap.FillQueue = append(snap.FillQueue, eligible...)
	return snap, true
}

func resolveHostRole(explicit, hostOwner string, seats []RosterSeat) string {
	if r := normalizeRole(explicit); r != "" {
		return r
	}
	if hostOwner != "" {
		for _, s := range seats {
			if s.OwnerID == hostOwner {
				if r := normalizeRole(s.Role); r != "" {
					return r
				}
			}
		}
	}
	for _, s := range seats {
		if r := normalizeRole(s.Role); r != "" {
			return r
		}
	}
	return UnassignedRole
}
