package engine

import (
	"context"

	"go.uber.org/zap"
)

type RemovalReason string

const (
	ReasonRoleMismatch       RemovalReason = "role_mismatch"
	ReasonDuplicateRole      RemovalReason = "duplicate_role"
	ReasonDuplicateAmbiguous RemovalReason = "duplicate_ambiguous"
	ReasonExceedsCapacity    RemovalReason = "exceeds_capacity"
)

type Member struct {
	OwnerID string `json:"ownerId,omitempty"`
	HeroID  string `json:"heroId,omitempty"`
	Role    string `json:"role,omitempty"`
	Score   int    `json:"score,omitempty"`
}

func (m Member) empty() bool { return m.OwnerID == "" && m.HeroID == "" }

type Slot struct {
	SlotIndex int     `json:"slotIndex"`
	Role      string  `json:"role"`
	Occupant  *Member `json:"occupant,omitempty"`
	Occupied  bool    `json:"occupied"`
}

func (s Slot) occupant() (Member, bool) {
	if s.Occupant == nil || s.Occupant.empty() {
		return Member{}, false
	}
	return *s.Occupant, true
}

type Assignment struct {
	Role         string   `json:"role"`
	Members      []Member `json:"members"`
	Slots        []Slot   `json:"slots,omitempty"`
	FilledSlots  int      `json:"filledSlots"`
	MissingSlots int      `json:"missingSlots"`
	Ready        bool     `json:"ready"`
}

type Room struct {
	ID           string `json:"id,omitempty"`
	Slots        []Slot `json:"slots"`
	FilledSlots  int    `json:"filledSlots"`
	MissingSlots int    `json:"missingSlots"`
	Ready        bool   `json:"ready"`
}

type RemovedMember struct {
	HeroID  string        `json:"heroId,omitempty"`
	OwnerID string        `json:"ownerId,omitempty"`
	Role    string        `json:"role"`
	Reason  RemovalReason `json:"reason"`
}

type ReconciliationResult struct {
	Assignments    []Assignment      `json:"assignments"`
	Rooms          []Room            `json:"rooms"`
	RemovedMembers []RemovedMember   `json:"removedMembers"`
	RoleOverrides  map[string]string `json:"roleOverrides"`
}

type ReconcileInput struct {
	GameID        string
	Assignments   []Assignment
	Rooms         []Room
	Capacity      RoleCapacityMap
	DeclaredRoles []string
}

// RosterLookup fetches authoritative participation records for a batch of
// owners. Implementations may fail; the reconciler then proceeds without
// roster data.
type RosterLookup interface {
	LookupRoster(ctx context.Context, gameID string, ownerIDs []string) (Roster, error)
}

type RosterLookupFunc func(ctx context.Context, gameID string, ownerIDs []string) (Roster, error)

func (f RosterLookupFunc) LookupRoster(ctx context.Context, gameID string, ownerIDs []string) (Roster, error) {
	return f(ctx, gameID, ownerIDs)
}

// LookupRoster lets an in-memory roster serve as a lookup.
func (r Roster) LookupRoster(_ context.Context, _ string, ownerIDs []string) (Roster, error) {
	out := make(Roster, len(ownerIDs))
	for _, id := range ownerIDs {
		if recs, ok := r[id]; ok {
			out[id] = recs
		}
	}
	return out, nil
}

type Reconciler struct {
	lookup RosterLookup
	log    *zap.Logger
}

func NewReconciler(lookup RosterLookup, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{lookup: lookup, log: log.Named("reconcile")}
}

type entryOrigin int

const (
	fromAssignment entryOrigin = iota
	fromRoom
)

type entry struct {
	order     int
	origin    entryOrigin
	container int
	position  int
	member    Member
	declared  string
	expected  string
	bucket    string
	removed   RemovalReason
	effective string
}

func (e *entry) alive() bool { return e.removed == "" }

func bucketKey(m Member) string {
	if m.HeroID != "" {
		return m.HeroID
	}
	return "owner:" + m.OwnerID
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = normalizeRole(v); v != "" {
			return v
		}
	}
	return ""
}

// Reconcile strips role-mismatched, duplicated and over-capacity occupants
// from proposed assignments and rooms. It never fails: a roster lookup error
// is logged and reconciliation continues with no roster data.
func (rc *Reconciler) Reconcile(ctx context.Context, in ReconcileInput) ReconciliationResult {
	entries, mirrors := flatten(in)

	roster := rc.fetchRoster(ctx, in.GameID, entries)

	known := map[string]bool{}
	for role := range in.Capacity {
		known[normalizeRole(role)] = true
	}
	for _, role := range in.DeclaredRoles {
		if role = normalizeRole(role); role != "" {
			known[role] = true
		}
	}

	buckets := map[string][]*entry{}
	var keys []string
	for _, e := range entries {
		if _, ok := buckets[e.bucket]; !ok {
			keys = append(keys, e.bucket)
		}
		buckets[e.bucket] = append(buckets[e.bucket], e)
	}

	overrides := map[string]string{}
	for _, key := range keys {
		if role := reconcileBucket(buckets[key], roster, known); role != "" {
			overrides[key] = role
		}
	}

	for _, e := range entries {
		e.effective = e.declared
		if role, ok := overrides[e.bucket]; ok {
			e.effective = role
		}
	}
	enforceCapacity(entries, in.Capacity)

	rooms, droppedMirrors := rebuildRooms(in, entries, mirrors)
	res := ReconciliationResult{
		Assignments:    rebuildAssignments(in, entries),
		Rooms:          rooms,
		RemovedMembers: []RemovedMember{},
		RoleOverrides:  overrides,
	}
	for _, e := range entries {
		if !e.alive() {
			res.RemovedMembers = append(res.RemovedMembers, RemovedMember{
				HeroID:  e.member.HeroID,
				OwnerID: e.member.OwnerID,
				Role:    e.declared,
				Reason:  e.removed,
			})
		}
	}
	res.RemovedMembers = append(res.RemovedMembers, droppedMirrors...)
	if len(res.RemovedMembers) > 0 {
		rc.log.Debug("reconciliation removed members",
			zap.String("game_id", in.GameID),
			zap.Int("removed", len(res.RemovedMembers)))
	}
	return res
}

func (rc *Reconciler) fetchRoster(ctx context.Context, gameID string, entries []*entry) Roster {
	if rc.lookup == nil || len(entries) == 0 {
		return Roster{}
	}
	seen := map[string]bool{}
	var owners []string
	for _, e := range entries {
		if id := e.member.OwnerID; id != "" && !seen[id] {
			seen[id] = true
			owners = append(owners, id)
		}
	}
	if len(owners) == 0 {
		return Roster{}
	}

	roster, err := rc.lookup.LookupRoster(ctx, gameID, owners)
	if err != nil {
		rc.log.Warn("roster lookup failed, reconciling without roster",
			zap.String("game_id", gameID),
			zap.Int("owners", len(owners)),
			zap.Error(err))
		return Roster{}
	}
	if roster == nil {
		return Roster{}
	}
	return roster
}

type mirrorRef struct {
	room, slot int
}

// flatten lists every occupant in assignment order, then room occupants whose
// hero is not already claimed by an assignment. Room occupants that do
// repeat an assignment hero are returned as mirrors and follow that
// assignment entry's fate.
func flatten(in ReconcileInput) ([]*entry, map[mirrorRef]bool) {
	var entries []*entry
	add := func(e *entry) {
		e.order = len(entries)
		e.bucket = bucketKey(e.member)
		entries = append(entries, e)
	}

	for ai, a := range in.Assignments {
		if len(a.Slots) > 0 {
			for si, s := range a.Slots {
				m, ok := s.occupant()
				if !ok {
					continue
				}
				add(&entry{origin: fromAssignment, container: ai, position: si, member: m,
					declared: firstNonEmpty(s.Role, a.Role, m.Role)})
			}
			continue
		}
		for mi, m := range a.Members {
			if m.empty() {
				continue
			}
			add(&entry{origin: fromAssignment, container: ai, position: mi, member: m,
				declared: firstNonEmpty(a.Role, m.Role)})
		}
	}

	claimed := map[string]bool{}
	for _, e := range entries {
		claimed[e.bucket] = true
	}
	mirrors := map[mirrorRef]bool{}
	for ri, room := range in.Rooms {
		for si, s := range room.Slots {
			m, ok := s.occupant()
			if !ok {
				continue
			}
			if claimed[bucketKey(m)] {
				mirrors[mirrorRef{ri, si}] = true
				continue
			}
			add(&entry{origin: fromRoom, container: ri, position: si, member: m,
				declared: firstNonEmpty(s.Role, m.Role)})
		}
	}
	return entries, mirrors
}

// reconcileBucket resolves every claim on one hero. Buckets share no state,
// so the order buckets are processed in does not matter. It returns the
// roster-verified role of the surviving entry, if known.
func reconcileBucket(bucket []*entry, roster Roster, known map[string]bool) string {
	for _, e := range bucket {
		if e.member.HeroID != "" {
			e.expected = normalizeRole(roster.RoleFor(e.member.OwnerID, e.member.HeroID))
		}
	}

	for _, e := range bucket {
		if e.expected != "" && e.declared != e.expected && known[e.declared] {
			e.removed = ReasonRoleMismatch
		}
	}

	keepFirst(bucket, func(e *entry) bool { return e.expected != "" && e.declared == e.expected }, ReasonDuplicateRole)
	keepFirst(bucket, func(e *entry) bool { return e.expected == "" }, ReasonDuplicateAmbiguous)

	var survivors []*entry
	for _, e := range bucket {
		if e.alive() {
			survivors = append(survivors, e)
		}
	}
	if len(survivors) == 0 {
		return ""
	}

	keeper := survivors[0]
	for _, e := range survivors {
		if e.expected != "" && e.declared == e.expected {
			keeper = e
			break
		}
	}
	for _, e := range survivors {
		if e == keeper {
			continue
		}
		if e.expected != "" {
			e.removed = ReasonDuplicateRole
		} else {
			e.removed = ReasonDuplicateAmbiguous
		}
	}
	return keeper.expected
}

func keepFirst(bucket []*entry, match func(*entry) bool, reason RemovalReason) {
	kept := false
	for _, e := range bucket {
		if !e.alive() || !match(e) {
			continue
		}
		if !kept {
			kept = true
			continue
		}
		e.removed = reason
	}
}

// enforceCapacity keeps the first capacity[role] survivors of each role in
// original order. Roles the map does not name are left unconstrained.
func enforceCapacity(entries []*entry, capacity RoleCapacityMap) {
	if len(capacity) == 0 {
		return
	}
	limits := make(map[string]int, len(capacity))
	for role, n := range capacity {
		limits[normalizeRole(role)] = max(n, 0)
	}
	used := map[string]int{}
	for _, e := range entries {
		if !e.alive() {
			continue
		}
		limit, ok := limits[e.effective]
		if !ok {
			continue
		}
		if used[e.effective] >= limit {
			e.removed = ReasonExceedsCapacity
			continue
		}
		used[e.effective]++
	}
}

func survivingMember(e *entry) *Member {
	m := e.member
	m.Role = e.effective
	return &m
}

func rebuildAssignments(in ReconcileInput, entries []*entry) []Assignment {
	byPos := map[[2]int]*entry{}
	for _, e := range entries {
		if e.origin == fromAssignment {
			byPos[[2]int{e.container, e.position}] = e
		}
	}

	out := make([]Assignment, 0, len(in.Assignments))
	for ai, a := range in.Assignments {
		role := normalizeRole(a.Role)
		res := Assignment{Role: a.Role}

		if len(a.Slots) > 0 {
			res.Slots = make([]Slot, len(a.Slots))
			for si, s := range a.Slots {
				slot := Slot{SlotIndex: s.SlotIndex, Role: firstNonEmpty(s.Role, role)}
				if e, ok := byPos[[2]int{ai, si}]; ok && e.alive() {
					slot.Occupant = survivingMember(e)
					slot.Role = e.effective
					slot.Occupied = true
				}
				res.Slots[si] = slot
			}
		} else {
			var kept []*Member
			for mi := range a.Members {
				if e, ok := byPos[[2]int{ai, mi}]; ok && e.alive() {
					kept = append(kept, survivingMember(e))
				}
			}
			total := len(a.Members)
			if n, ok := in.Capacity[role]; ok {
				total = n
			}
			total = max(total, len(kept))

			res.Slots = make([]Slot, total)
			for i := range res.Slots {
				res.Slots[i] = Slot{SlotIndex: i, Role: role}
				if i < len(kept) {
					res.Slots[i].Occupant = kept[i]
					res.Slots[i].Role = kept[i].Role
					res.Slots[i].Occupied = true
				}
			}
		}

		res.Members = []Member{}
		for _, s := range res.Slots {
			if s.Occupied {
				res.Members = append(res.Members, *s.Occupant)
			}
		}
		res.FilledSlots, res.MissingSlots, res.Ready = tally(res.Slots)
		out = append(out, res)
	}
	return out
}

// rebuildRooms also reports every mirrored room occupant that could not be
// seated again.
func rebuildRooms(in ReconcileInput, entries []*entry, mirrors map[mirrorRef]bool) ([]Room, []RemovedMember) {
	survivors := map[string][]*entry{}
	claims := map[string][]*entry{}
	roomEntries := map[mirrorRef]*entry{}
	for _, e := range entries {
		switch e.origin {
		case fromAssignment:
			claims[e.bucket] = append(claims[e.bucket], e)
			if e.alive() {
				survivors[e.bucket] = append(survivors[e.bucket], e)
			}
		case fromRoom:
			roomEntries[mirrorRef{e.container, e.position}] = e
		}
	}
	mirrored := map[*entry]bool{}
	var dropped []RemovedMember

	out := make([]Room, 0, len(in.Rooms))
	for ri, room := range in.Rooms {
		res := Room{ID: room.ID, Slots: make([]Slot, len(room.Slots))}
		for si, s := range room.Slots {
			slot := Slot{SlotIndex: s.SlotIndex, Role: normalizeRole(s.Role)}
			ref := mirrorRef{ri, si}

			if mirrors[ref] {
				m, _ := s.occupant()
				key := bucketKey(m)
				if e := pickMirror(survivors[key], m, slot.Role, mirrored); e != nil {
					mirrored[e] = true
					slot.Occupant = survivingMember(e)
					slot.Role = e.effective
					slot.Occupied = true
				} else {
					dropped = append(dropped, RemovedMember{
						HeroID:  m.HeroID,
						OwnerID: m.OwnerID,
						Role:    firstNonEmpty(s.Role, m.Role),
						Reason:  mirrorReason(claims[key], survivors[key], m),
					})
				}
			} else if e, ok := roomEntries[ref]; ok && e.alive() {
				slot.Occupant = survivingMember(e)
				slot.Role = e.effective
				slot.Occupied = true
			}
			res.Slots[si] = slot
		}
		res.FilledSlots, res.MissingSlots, res.Ready = tally(res.Slots)
		out = append(out, res)
	}
	return out, dropped
}

// mirrorReason explains an unseated mirror. With no surviving claim it
// inherits the removal reason of the claim it copied; otherwise it lost to a
// survivor and counts as a duplicate.
func mirrorReason(claims, survivors []*entry, m Member) RemovalReason {
	if len(survivors) == 0 {
		for _, e := range claims {
			if e.member.OwnerID == m.OwnerID {
				return e.removed
			}
		}
		if len(claims) > 0 {
			return claims[0].removed
		}
	}
	for _, e := range survivors {
		if e.expected != "" {
			return ReasonDuplicateRole
		}
	}
	return ReasonDuplicateAmbiguous
}

func pickMirror(candidates []*entry, m Member, slotRole string, used map[*entry]bool) *entry {
	for _, e := range candidates {
		if used[e] {
			continue
		}
		if m.OwnerID != "" && e.member.OwnerID != m.OwnerID {
			continue
		}
		if slotRole != "" && slotRole != e.declared && slotRole != e.effective {
			continue
		}
		return e
	}
	return nil
}

func tally(slots []Slot) (filled, missing int, ready bool) {
	for _, s := range slots {
		if s.Occupied {
			filled++
		}
	}
	missing = len(slots) - filled
	return filled, missing, missing == 0 && len(slots) > 0
}
