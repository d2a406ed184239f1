package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRoleCapacityMap_FromDeclarations(t *testing.T) {
	decls := ParseRoleDeclarations([]Row{
		{"role": "Tank", "slotCount": 1},
		{"role": "DPS", "slotCount": 2},
		{"role": "Healer", "slotCount": 1},
	})

	got := BuildRoleCapacityMap(nil, decls)
	assert.Equal(t, RoleCapacityMap{"Tank": 1, "DPS": 2, "Healer": 1}, got)
}

func TestBuildRoleCapacityMap_LayoutIsAuthoritative(t *testing.T) {
	layout := []SlotLayoutEntry{{SlotIndex: 0, Role: "Tank"}, {SlotIndex: 1, Role: "Tank"}, {SlotIndex: 2, Role: "DPS"}}
	decls := []RoleDeclaration{{Name: "Tank", SlotCount: 1}, {Name: "Healer", SlotCount: 3}}

	assert.Equal(t, RoleCapacityMap{"Tank": 2, "DPS": 1}, BuildRoleCapacityMap(layout, decls))
}

func TestNormalizeRoleDeclarations(t *testing.T) {
	got := NormalizeRoleDeclarations([]RoleDeclaration{
		{Name: " DPS ", SlotCount: 1},
		{Name: "", SlotCount: 4},
		{Name: "Tank", SlotCount: -2},
		{Name: "DPS", SlotCount: 2},
	})
	assert.Equal(t, []RoleDeclaration{{Name: "DPS", SlotCount: 3}, {Name: "Tank", SlotCount: 0}}, got)
}

func TestParseSlotRows_DropsBadIndexes(t *testing.T) {
	got := ParseSlotRows([]Row{
		{"slot_index": 1, "role": "DPS", "hero_id": "h1", "owner_id": "u1"},
		{"slot_index": "x", "role": "Tank"},
		{"slot_index": -1, "role": "Tank"},
		{"role": "Healer"},
		{"slotIndex": float64(0), "roleName": "Tank"},
	})
	assert.Equal(t, []SlotLayoutEntry{
		{SlotIndex: 1, Role: "DPS", HeroID: "h1", OwnerID: "u1"},
		{SlotIndex: 0, Role: "Tank"},
	}, got)
}

func TestResolveSlotLayout(t *testing.T) {
	decls := []RoleDeclaration{{Name: "Tank", SlotCount: 1}, {Name: "DPS", SlotCount: 2}}

	cases := []struct {
		name       string
		src        RoleSource
		wantSource LayoutSource
		wantRoles  []string
	}{
		{
			name:       "inline role slots win",
			src:        RoleSource{RoleSlots: []string{"DPS", " ", "Tank"}, Roles: decls},
			wantSource: LayoutInline,
			wantRoles:  []string{"DPS", "Tank"},
		},
		{
			name: "slot rows beat declarations",
			src: RoleSource{
				Slots: []SlotLayoutEntry{{SlotIndex: 2, Role: "DPS"}, {SlotIndex: 0, Role: "Tank"}, {SlotIndex: 2, Role: "Tank"}},
				Roles: decls,
			},
			wantSource: LayoutSlotRows,
			wantRoles:  []string{"Tank", "DPS"},
		},
		{
			name: "declarations replace roleless slot rows",
			src: RoleSource{
				Slots: []SlotLayoutEntry{{SlotIndex: 0}, {SlotIndex: 1}},
				Roles: decls,
			},
			wantSource: LayoutDeclarations,
			wantRoles:  []string{"Tank", "DPS", "DPS"},
		},
		{
			name: "declarations replace slot rows that miss and invent roles",
			src: RoleSource{
				Slots: []SlotLayoutEntry{{SlotIndex: 0, Role: "Support"}},
				Roles: decls,
			},
			wantSource: LayoutDeclarations,
			wantRoles:  []string{"Tank", "DPS", "DPS"},
		},
		{
			name: "partial slot rows without new roles are kept",
			src: RoleSource{
				Slots: []SlotLayoutEntry{{SlotIndex: 0, Role: "Tank"}},
				Roles: decls,
			},
			wantSource: LayoutSlotRows,
			wantRoles:  []string{"Tank"},
		},
		{
			name:       "nothing declared",
			src:        RoleSource{Roles: []RoleDeclaration{{Name: "Tank", SlotCount: 0}}},
			wantSource: LayoutNone,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			layout, source := ResolveSlotLayout(tc.src)
			assert.Equal(t, tc.wantSource, source)

			var roles []string
			for i, e := range layout {
				roles = append(roles, e.Role)
				if i > 0 {
					assert.Less(t, layout[i-1].SlotIndex, e.SlotIndex, "layout must be sorted with unique indexes")
				}
			}
			assert.Equal(t, tc.wantRoles, roles)
		})
	}
}

func TestResolveSlotLayout_MergesOccupantsIntoInlineLayout(t *testing.T) {
	src := RoleSource{
		RoleSlots: []string{"Tank", "DPS", "DPS"},
		Slots: []SlotLayoutEntry{
			{SlotIndex: 3, Role: "DPS", HeroID: "h3", OwnerID: "u3"}, // 1-based: lands on index 2
			{SlotIndex: 0, Role: "Tank", HeroID: "h1", OwnerID: "u1"},
			{SlotIndex: 9, Role: "dps", HeroID: "h9", OwnerID: "u9"}, // no index match: first free DPS
		},
	}

	layout, source := ResolveSlotLayout(src)
	require.Equal(t, LayoutInline, source)
	assert.Equal(t, []SlotLayoutEntry{
		{SlotIndex: 0, Role: "Tank", HeroID: "h1", OwnerID: "u1"},
		{SlotIndex: 1, Role: "DPS", HeroID: "h9", OwnerID: "u9"},
		{SlotIndex: 2, Role: "DPS", HeroID: "h3", OwnerID: "u3"},
	}, layout)
}

func TestResolveSlotLayout_IndexMatchRequiresCompatibleRole(t *testing.T) {
	src := RoleSource{
		RoleSlots: []string{"Tank", "Healer"},
		Slots:     []SlotLayoutEntry{{SlotIndex: 0, HeroID: "h2", OwnerID: "u2", Role: "Healer"}},
	}

	layout, source := ResolveSlotLayout(src)
	require.Equal(t, LayoutInline, source)
	assert.Empty(t, layout[0].HeroID, "tank seat must not take a healer occupant")
	assert.Equal(t, "h2", layout[1].HeroID)
}

func TestResolveRoles(t *testing.T) {
	res := ResolveRoles(RoleSource{
		RoleSlots: []string{"DPS", "Tank"},
		Roles:     []RoleDeclaration{{Name: "Healer", SlotCount: 1}},
	})

	assert.Equal(t, LayoutInline, res.Source)
	assert.Equal(t, RoleCapacityMap{"DPS": 1, "Tank": 1}, res.Capacity)
	assert.Equal(t, []string{"DPS", "Tank", "Healer"}, res.KnownRoles)

	empty := ResolveRoles(RoleSource{})
	assert.Equal(t, LayoutNone, empty.Source)
	assert.NotNil(t, empty.Layout)
	assert.Empty(t, empty.Capacity)
}
