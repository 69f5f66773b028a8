// Package jail manages jail scene instantiation, prisoner bookkeeping and
// return-to-origin transport. Jail map templates are code-resident and
// read-only; scene instances are created lazily on first use.
package jail

import (
	"sort"

	"nightwatch/engine/internal/geom"
)

// ConfigFlagKey marks a scene as the instance of a jail template.
const ConfigFlagKey = "nightwatch.jailConfig"

// PreparedFlagKey marks a jail scene whose guards have been spawned.
const PreparedFlagKey = "nightwatch.jailPrepared"

// GuardScaling is the linear stat template applied to spawned jail guards:
// stat = Base + PerLevel * max(0, targetLevel - BaseLevel).
type GuardScaling struct {
	BaseLevel  int
	BaseHP     int
	HPPerLevel int
	BaseAC     int
	ACPerLevel int
}

// HPAt returns the scaled hit points for a target level.
func (g GuardScaling) HPAt(level int) int {
	return g.BaseHP + g.HPPerLevel*levelDelta(level, g.BaseLevel)
}

// ACAt returns the scaled armor class for a target level.
func (g GuardScaling) ACAt(level int) int {
	return g.BaseAC + g.ACPerLevel*levelDelta(level, g.BaseLevel)
}

func levelDelta(target, base int) int {
	if target <= base {
		return 0
	}
	return target - base
}

// Template declares one bundled jail map.
type Template struct {
	ID           string
	Name         string
	MapPath      string
	Width        float64
	Height       float64
	GridSize     float64
	Spawn        geom.Vec2
	Cells        []geom.Vec2
	GuardAnchors []geom.Vec2
	PatrolRoutes [][]geom.Vec2
	Guards       GuardScaling
}

// Templates is the read-only table of bundled jails.
var Templates = map[string]Template{
	"stone-keep": {
		ID:       "stone-keep",
		Name:     "Stone Keep Dungeon",
		MapPath:  "maps/jails/stone-keep.webp",
		Width:    2000,
		Height:   1400,
		GridSize: 100,
		Spawn:    geom.Vec2{X: 1050, Y: 1250},
		Cells: []geom.Vec2{
			{X: 250, Y: 250},
			{X: 550, Y: 250},
			{X: 850, Y: 250},
			{X: 1150, Y: 250},
		},
		GuardAnchors: []geom.Vec2{
			{X: 450, Y: 650},
			{X: 1050, Y: 650},
		},
		PatrolRoutes: [][]geom.Vec2{
			{{X: 450, Y: 650}, {X: 1050, Y: 650}, {X: 1050, Y: 1050}, {X: 450, Y: 1050}},
		},
		Guards: GuardScaling{BaseLevel: 1, BaseHP: 16, HPPerLevel: 7, BaseAC: 14, ACPerLevel: 0},
	},
	"harbor-brig": {
		ID:       "harbor-brig",
		Name:     "Harbor Brig",
		MapPath:  "maps/jails/harbor-brig.webp",
		Width:    1600,
		Height:   1200,
		GridSize: 100,
		Spawn:    geom.Vec2{X: 850, Y: 1050},
		Cells: []geom.Vec2{
			{X: 250, Y: 250},
			{X: 250, Y: 550},
			{X: 250, Y: 850},
		},
		GuardAnchors: []geom.Vec2{
			{X: 750, Y: 550},
		},
		Guards: GuardScaling{BaseLevel: 1, BaseHP: 12, HPPerLevel: 5, BaseAC: 13, ACPerLevel: 0},
	},
	"manor-cellar": {
		ID:       "manor-cellar",
		Name:     "Manor Cellar",
		MapPath:  "maps/jails/manor-cellar.webp",
		Width:    1200,
		Height:   1200,
		GridSize: 100,
		Spawn:    geom.Vec2{X: 650, Y: 950},
		Cells: []geom.Vec2{
			{X: 250, Y: 250},
			{X: 950, Y: 250},
		},
		GuardAnchors: []geom.Vec2{
			{X: 650, Y: 650},
		},
		Guards: GuardScaling{BaseLevel: 1, BaseHP: 10, HPPerLevel: 4, BaseAC: 12, ACPerLevel: 1},
	},
}

// TemplateIDs returns the template ids in sorted order for deterministic
// draws.
func TemplateIDs() []string {
	ids := make([]string, 0, len(Templates))
	for id := range Templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
