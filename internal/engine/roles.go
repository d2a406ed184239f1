package engine

import (
	"sort"
)

type RoleDeclaration struct {
	Name      string `json:"name"`
	SlotCount int    `json:"slotCount"`
}

type SlotLayoutEntry struct {
	SlotIndex int    `json:"slotIndex"`
	Role      string `json:"role"`
	HeroID    string `json:"heroId,omitempty"`
	OwnerID   string `json:"ownerId,omitempty"`
}

func (e SlotLayoutEntry) occupied() bool { return e.HeroID != "" || e.OwnerID != "" }

type RoleCapacityMap map[string]int

type LayoutSource string

const (
	LayoutInline       LayoutSource = "inline"
	LayoutSlotRows     LayoutSource = "slots"
	LayoutDeclarations LayoutSource = "declarations"
	LayoutNone         LayoutSource = "none"
)

// RoleSource holds the three ways upstream producers declare seats, in
// priority order: an inline role-per-seat list, explicit slot rows, and role
// declarations with counts.
type RoleSource struct {
	RoleSlots []string          `json:"roleSlots,omitempty"`
	Slots     []SlotLayoutEntry `json:"slots,omitempty"`
	Roles     []RoleDeclaration `json:"roles,omitempty"`
}

type Resolution struct {
	Layout     []SlotLayoutEntry `json:"layout"`
	Capacity   RoleCapacityMap   `json:"capacity"`
	Source     LayoutSource      `json:"source"`
	KnownRoles []string          `json:"knownRoles"`
}

var (
	slotIndexKeys = []string{"slot_index", "slotIndex", "slot_no", "index"}
	slotHeroKeys  = []string{"hero_id", "heroId", "occupant_hero_id", "occupantHeroId"}
	slotOwnerKeys = []string{"owner_id", "ownerId", "occupant_owner_id", "occupantOwnerId"}
	slotCountKeys = []string{"slot_count", "slotCount", "slots", "count"}
	roleNameKeys  = []string{"name", "role", "role_name", "roleName"}
)

// ParseSlotRows keeps rows with a numeric, non-negative slot index. Rows
// without a role are kept so their occupants can still be merged by index.
func ParseSlotRows(rows []Row) []SlotLayoutEntry {
	out := make([]SlotLayoutEntry, 0, len(rows))
	for _, row := range rows {
		idx, ok, valid := row.intField(slotIndexKeys...)
		if !ok || !valid || idx < 0 {
			continue
		}
		out = append(out, SlotLayoutEntry{
			SlotIndex: idx,
			Role:      normalizeRole(row.str(roleKeys...)),
			HeroID:    row.str(slotHeroKeys...),
			OwnerID:   row.str(slotOwnerKeys...),
		})
	}
	return out
}

func ParseRoleDeclarations(rows []Row) []RoleDeclaration {
	decls := make([]RoleDeclaration, 0, len(rows))
	for _, row := range rows {
		count, _, _ := row.intField(slotCountKeys...)
		decls = append(decls, RoleDeclaration{Name: row.str(roleNameKeys...), SlotCount: count})
	}
	return NormalizeRoleDeclarations(decls)
}

// NormalizeRoleDeclarations drops unnamed roles, clamps counts at zero and
// merges duplicate names by summing, keeping first-seen order.
func NormalizeRoleDeclarations(decls []RoleDeclaration) []RoleDeclaration {
	out := make([]RoleDeclaration, 0, len(decls))
	pos := map[string]int{}
	for _, d := range decls {
		name := normalizeRole(d.Name)
		if name == "" {
			continue
		}
		count := max(d.SlotCount, 0)
		if i, ok := pos[name]; ok {
			out[i].SlotCount += count
			continue
		}
		pos[name] = len(out)
		out = append(out, RoleDeclaration{Name: name, SlotCount: count})
	}
	return out
}

// normalizeLayout sorts by slot index, drops roleless entries and keeps the
// first entry for a repeated index.
func normalizeLayout(entries []SlotLayoutEntry) []SlotLayoutEntry {
	out := make([]SlotLayoutEntry, 0, len(entries))
	for _, e := range entries {
		e.Role = normalizeRole(e.Role)
		if e.Role == "" || e.SlotIndex < 0 {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SlotIndex < out[j].SlotIndex })

	deduped := out[:0]
	seen := map[int]bool{}
	for _, e := range out {
		if seen[e.SlotIndex] {
			continue
		}
		seen[e.SlotIndex] = true
		deduped = append(deduped, e)
	}
	return deduped
}

type layoutRule struct {
	source  LayoutSource
	applies func(RoleSource, []RoleDeclaration) bool
	build   func(RoleSource, []RoleDeclaration) []SlotLayoutEntry
}

// Evaluated top to bottom; the first rule that applies and yields a
// non-empty layout wins.
var layoutRules = []layoutRule{
	{
		source: LayoutInline,
		applies: func(src RoleSource, _ []RoleDeclaration) bool {
			return len(inlineLayout(src.RoleSlots)) > 0
		},
		build: func(src RoleSource, _ []RoleDeclaration) []SlotLayoutEntry {
			return mergeOccupants(inlineLayout(src.RoleSlots), src.Slots)
		},
	},
	{
		source: LayoutSlotRows,
		applies: func(src RoleSource, decls []RoleDeclaration) bool {
			return len(normalizeLayout(src.Slots)) > 0 && !declarationsSupersede(decls, src.Slots)
		},
		build: func(src RoleSource, _ []RoleDeclaration) []SlotLayoutEntry {
			return normalizeLayout(src.Slots)
		},
	},
	{
		source: LayoutDeclarations,
		applies: func(_ RoleSource, decls []RoleDeclaration) bool {
			for _, d := range decls {
				if d.SlotCount > 0 {
					return true
				}
			}
			return false
		},
		build: func(src RoleSource, decls []RoleDeclaration) []SlotLayoutEntry {
			return mergeOccupants(declarationLayout(decls), src.Slots)
		},
	},
}

// ResolveSlotLayout returns the authoritative ordered seat layout and which
// declaration source produced it.
func ResolveSlotLayout(src RoleSource) ([]SlotLayoutEntry, LayoutSource) {
	decls := NormalizeRoleDeclarations(src.Roles)
	for _, rule := range layoutRules {
		if !rule.applies(src, decls) {
			continue
		}
		if layout := rule.build(src, decls); len(layout) > 0 {
			return layout, rule.source
		}
	}
	return nil, LayoutNone
}

func inlineLayout(roleSlots []string) []SlotLayoutEntry {
	out := make([]SlotLayoutEntry, 0, len(roleSlots))
	for i, name := range roleSlots {
		if name = normalizeRole(name); name != "" {
			out = append(out, SlotLayoutEntry{SlotIndex: i, Role: name})
		}
	}
	return out
}

func declarationLayout(decls []RoleDeclaration) []SlotLayoutEntry {
	var out []SlotLayoutEntry
	for _, d := range decls {
		for range d.SlotCount {
			out = append(out, SlotLayoutEntry{SlotIndex: len(out), Role: d.Name})
		}
	}
	return out
}

// declarationsSupersede decides whether explicit slot rows lose to declared
// role counts. Declarations win only when the slot rows name no roles, or
// when they name fewer roles than declared, miss some declared role, and
// also introduce roles nobody declared.
func declarationsSupersede(decls []RoleDeclaration, slots []SlotLayoutEntry) bool {
	declared := map[string]bool{}
	for _, d := range decls {
		declared[d.Name] = true
	}
	if len(declared) == 0 {
		return false
	}

	layoutRoles := map[string]bool{}
	for _, s := range slots {
		if r := normalizeRole(s.Role); r != "" {
			layoutRoles[r] = true
		}
	}
	if len(layoutRoles) == 0 {
		return true
	}

	coversAll := true
	for name := range declared {
		if !layoutRoles[name] {
			coversAll = false
			break
		}
	}
	introducesUndeclared := false
	for name := range layoutRoles {
		if !declared[name] {
			introducesUndeclared = true
			break
		}
	}
	return len(layoutRoles) < len(declared) && !coversAll && introducesUndeclared
}

type occupantMatcher func(row SlotLayoutEntry, layout []SlotLayoutEntry, byIndex map[int]int, claimed []bool) int

// Producers disagree on 0- vs 1-based seat numbering, so an occupant is
// placed at its own index, then one below, then the first free seat of its role.
var occupantMatchers = []occupantMatcher{
	func(row SlotLayoutEntry, layout []SlotLayoutEntry, byIndex map[int]int, claimed []bool) int {
		return indexMatch(row, row.SlotIndex, layout, byIndex, claimed)
	},
	func(row SlotLayoutEntry, layout []SlotLayoutEntry, byIndex map[int]int, claimed []bool) int {
		return indexMatch(row, row.SlotIndex-1, layout, byIndex, claimed)
	},
	func(row SlotLayoutEntry, layout []SlotLayoutEntry, _ map[int]int, claimed []bool) int {
		if row.Role == "" {
			return -1
		}
		for i, e := range layout {
			if !claimed[i] && roleKey(e.Role) == roleKey(row.Role) {
				return i
			}
		}
		return -1
	},
}

func indexMatch(row SlotLayoutEntry, idx int, layout []SlotLayoutEntry, byIndex map[int]int, claimed []bool) int {
	pos, ok := byIndex[idx]
	if !ok || claimed[pos] {
		return -1
	}
	if row.Role != "" && roleKey(row.Role) != roleKey(layout[pos].Role) {
		return -1
	}
	return pos
}

func mergeOccupants(layout []SlotLayoutEntry, rows []SlotLayoutEntry) []SlotLayoutEntry {
	out := make([]SlotLayoutEntry, len(layout))
	copy(out, layout)
	if len(rows) == 0 {
		return out
	}

	byIndex := make(map[int]int, len(out))
	for i, e := range out {
		byIndex[e.SlotIndex] = i
	}
	claimed := make([]bool, len(out))

	ordered := make([]SlotLayoutEntry, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].SlotIndex < ordered[j].SlotIndex })

	for _, row := range ordered {
		row.Role = normalizeRole(row.Role)
		if !row.occupied() {
			continue
		}
		for _, match := range occupantMatchers {
			if pos := match(row, out, byIndex, claimed); pos >= 0 {
				out[pos].HeroID = row.HeroID
				out[pos].OwnerID = row.OwnerID
				claimed[pos] = true
				break
			}
		}
	}
	return out
}

// BuildRoleCapacityMap counts seats per role. A layout is always
// authoritative over declared counts; without one, positive declared counts
// are used.
func BuildRoleCapacityMap(layout []SlotLayoutEntry, decls []RoleDeclaration) RoleCapacityMap {
	capacity := RoleCapacityMap{}
	if len(layout) > 0 {
		for _, e := range layout {
			if r := normalizeRole(e.Role); r != "" {
				capacity[r]++
			}
		}
		return capacity
	}
	for _, d := range NormalizeRoleDeclarations(decls) {
		if d.SlotCount > 0 {
			capacity[d.Name] = d.SlotCount
		}
	}
	return capacity
}

// ResolveRoles runs layout resolution and capacity derivation in one call.
func ResolveRoles(src RoleSource) Resolution {
	layout, source := ResolveSlotLayout(src)
	res := Resolution{
		Layout:   layout,
		Capacity: BuildRoleCapacityMap(layout, src.Roles),
		Source:   source,
	}
	if res.Layout == nil {
		res.Layout = []SlotLayoutEntry{}
	}

	seen := map[string]bool{}
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			res.KnownRoles = append(res.KnownRoles, name)
		}
	}
	for _, e := range layout {
		add(e.Role)
	}
	for _, d := range NormalizeRoleDeclarations(src.Roles) {
		add(d.Name)
	}
	return res
}
