package engine

import (
	"sort"
	"time"
)

const DefaultScore = 1000

type ParticipantSource string

const (
	SourceParticipant ParticipantSource = "participant"
	SourceExplicit    ParticipantSource = "explicit"
	SourceFallback    ParticipantSource = "fallback"
)

type ParticipantRecord struct {
	OwnerID   string            `json:"ownerId"`
	HeroID    string            `json:"heroId,omitempty"`
	HeroIDs   []string          `json:"heroIds,omitempty"`
	Role      string            `json:"role,omitempty"`
	Score     int               `json:"score"`
	SlotIndex int               `json:"slotIndex"` // -1 when the row carried no usable hint
	Status    string            `json:"status,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt"`
	Source    ParticipantSource `json:"source,omitempty"`
}

// Roster maps owner id to that owner's records, most recent first.
type Roster map[string][]ParticipantRecord

// HasHero reports whether the record references heroID directly or through
// its alternate list.
func (p ParticipantRecord) HasHero(heroID string) bool {
	if heroID == "" {
		return false
	}
	if p.HeroID == heroID {
		return true
	}
	for _, h := range p.HeroIDs {
		if h == heroID {
			return true
		}
	}
	return false
}

var (
	ownerKeys   = []string{"owner_id", "ownerId", "owner", "user_id", "userId"}
	heroKeys    = []string{"hero_id", "heroId"}
	heroIDsKeys = []string{"hero_ids", "heroIds"}
	roleKeys    = []string{"role", "role_name", "roleName"}
	scoreKeys   = []string{"score", "rating"}
	slotKeys    = []string{"slot_index", "slotIndex", "slot_no"}
	updatedKeys = []string{"updated_at", "updatedAt", "created_at", "createdAt"}
)

// ParseParticipant turns one raw row into a record. ok is false when the row
// has no owner id.
func ParseParticipant(row Row) (ParticipantRecord, bool) {
	owner := row.str(ownerKeys...)
	if owner == "" {
		return ParticipantRecord{}, false
	}

	rec := ParticipantRecord{
		OwnerID:   owner,
		HeroIDs:   row.strList(heroIDsKeys...),
		Role:      normalizeRole(row.str(roleKeys...)),
		Score:     DefaultScore,
		SlotIndex: -1,
		Status:    row.str("status"),
		UpdatedAt: row.timeField(updatedKeys...),
		Source:    SourceParticipant,
	}
	rec.HeroID = resolveHeroID(row, rec.HeroIDs)

	if score, ok, valid := row.intField(scoreKeys...); ok && valid && score > 0 {
		rec.Score = score
	}
	if idx, ok, valid := row.intField(slotKeys...); ok && valid && idx >= 0 {
		rec.SlotIndex = idx
	}
	return rec, true
}

func resolveHeroID(row Row, alternates []string) string {
	if id := row.str(heroKeys...); id != "" {
		return id
	}
	if hero := row.nested("hero"); hero != nil {
		if id := hero.str("id"); id != "" {
			return id
		}
	}
	if len(alternates) > 0 {
		return alternates[0]
	}
	return ""
}

// NormalizeRoster groups rows by owner. Rows without an owner are dropped.
func NormalizeRoster(rows []Row) Roster {
	roster := Roster{}
	for _, row := range rows {
		rec, ok := ParseParticipant(row)
		if !ok {
			continue
		}
		roster[rec.OwnerID] = append(roster[rec.OwnerID], rec)
	}
	for owner := range roster {
		sortRecords(roster[owner])
	}
	return roster
}

func sortRecords(recs []ParticipantRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.SlotIndex > b.SlotIndex
	})
}

// Latest returns the canonical record for every owner.
func (r Roster) Latest() map[string]ParticipantRecord {
	out := make(map[string]ParticipantRecord, len(r))
	for owner, recs := range r {
		if len(recs) > 0 {
			out[owner] = recs[0]
		}
	}
	return out
}

// RoleFor returns the roster role recorded for the (owner, hero) pair.
func (r Roster) RoleFor(ownerID, heroID string) string {
	for _, rec := range r[ownerID] {
		if rec.HasHero(heroID) && rec.Role != "" {
			return rec.Role
		}
	}
	return ""
}

// GuessOwnerParticipant picks the best record for an owner and never fails:
// it falls back to a synthetic record when the roster knows nothing useful.
func GuessOwnerParticipant(ownerID string, roster Roster, rolePreference, fallbackHeroID string) ParticipantRecord {
	recs := roster[ownerID]
	rolePreference = normalizeRole(rolePreference)

	pick := func(match func(ParticipantRecord) bool) (ParticipantRecord, bool) {
		for _, rec := range recs {
			if match(rec) {
				return rec, true
			}
		}
		return ParticipantRecord{}, false
	}

	choosers := []func(ParticipantRecord) bool{
		func(p ParticipantRecord) bool { return rolePreference != "" && p.Role == rolePreference && p.HeroID != "" },
		func(p ParticipantRecord) bool { return p.HeroID != "" },
		func(ParticipantRecord) bool { return true },
	}
	for _, c := range choosers {
		if rec, ok := pick(c); ok {
			rec.Source = SourceParticipant
			return rec
		}
	}

	src := SourceFallback
	if fallbackHeroID != "" {
		src = SourceExplicit
	}
	return ParticipantRecord{
		OwnerID:   ownerID,
		HeroID:    fallbackHeroID,
		Role:      rolePreference,
		Score:     DefaultScore,
		SlotIndex: -1,
		Source:    src,
	}
}
