// Package engine animates guard patrols across 2D tactical scenes: blink and
// walk movement over waypoint routes, range/cone/line-of-sight detection of
// player tokens, a weighted capture pipeline, jail transport, reinforcement
// waves and a bleed-out capture gate. The engine owns no globals; every host
// capability arrives through host.Runtime at construction and all scheduling
// runs through Advance(now) so tests can drive a virtual clock.
package engine

import "time"

// Outcome labels a capture pipeline branch.
type Outcome string

const (
	OutcomeCombat    Outcome = "combat"
	OutcomeTheft     Outcome = "theft"
	OutcomeBlindfold Outcome = "blindfold"
	OutcomeDisregard Outcome = "disregard"
	OutcomeJail      Outcome = "jail"

	OutcomeBribeSuccess  Outcome = "bribe_success"
	OutcomeBribeGenerous Outcome = "bribe_generous"
	OutcomeBribeBetrayal Outcome = "bribe_betrayal"
)

// TheftTarget labels a theft sub-draw category.
type TheftTarget string

const (
	TheftCurrency  TheftTarget = "currency"
	TheftEquipment TheftTarget = "equipment"
	TheftMisc      TheftTarget = "misc"
)

// Config carries the engine tunables. Zero values are replaced by
// DefaultConfig at construction.
type Config struct {
	MaxActivePatrols int

	// GlobalColor is the waypoint color of last resort.
	GlobalColor string

	// DetectionInterval is the sampling cadence during visible/dwell phases.
	DetectionInterval time.Duration

	// WalkSpeed is the token translation speed in scene pixels per second.
	WalkSpeed float64

	OutcomeWeights map[Outcome]int
	TheftWeights   map[TheftTarget]int
	TheftPercent   int

	BriberyEnabled  bool
	BriberyChance   float64
	BriberyBaseCost int
	BribeMultiplier float64

	BlindfoldMinSec float64
	BlindfoldMaxSec float64

	AlertRadius float64

	ReinforcementCooldown time.Duration
	TelegraphDelay        time.Duration
	ReinforcementLifetime time.Duration

	BleedOutThresholdPct int
	BleedOutBaseDC       int

	ApprovalRequired bool
}

// DefaultConfig returns the shipped tunables.
func DefaultConfig() Config {
	return Config{
		MaxActivePatrols:  20,
		GlobalColor:       "#ff6400",
		DetectionInterval: 500 * time.Millisecond,
		WalkSpeed:         200,
		OutcomeWeights: map[Outcome]int{
			OutcomeCombat:    30,
			OutcomeTheft:     25,
			OutcomeBlindfold: 20,
			OutcomeDisregard: 15,
			OutcomeJail:      10,
		},
		TheftWeights: map[TheftTarget]int{
			TheftCurrency:  70,
			TheftEquipment: 25,
			TheftMisc:      5,
		},
		TheftPercent:          25,
		BriberyEnabled:        true,
		BriberyChance:         50,
		BriberyBaseCost:       50,
		BribeMultiplier:       1.0,
		BlindfoldMinSec:       4,
		BlindfoldMaxSec:       10,
		AlertRadius:           600,
		ReinforcementCooldown: 90 * time.Second,
		TelegraphDelay:        2 * time.Second,
		ReinforcementLifetime: 30 * time.Second,
		BleedOutThresholdPct:  25,
		BleedOutBaseDC:        10,
	}
}

// normalized fills zero fields with defaults so partially populated configs
// stay usable.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MaxActivePatrols == 0 {
		c.MaxActivePatrols = def.MaxActivePatrols
	}
	if c.GlobalColor == "" {
		c.GlobalColor = def.GlobalColor
	}
	if c.DetectionInterval == 0 {
		c.DetectionInterval = def.DetectionInterval
	}
	if c.WalkSpeed == 0 {
		c.WalkSpeed = def.WalkSpeed
	}
	if len(c.OutcomeWeights) == 0 {
		c.OutcomeWeights = def.OutcomeWeights
	}
	if len(c.TheftWeights) == 0 {
		c.TheftWeights = def.TheftWeights
	}
	if c.TheftPercent == 0 {
		c.TheftPercent = def.TheftPercent
	}
	if c.BriberyChance == 0 {
		c.BriberyChance = def.BriberyChance
	}
	if c.BriberyBaseCost == 0 {
		c.BriberyBaseCost = def.BriberyBaseCost
	}
	if c.BribeMultiplier == 0 {
		c.BribeMultiplier = def.BribeMultiplier
	}
	if c.BlindfoldMinSec == 0 {
		c.BlindfoldMinSec = def.BlindfoldMinSec
	}
	if c.BlindfoldMaxSec == 0 {
		c.BlindfoldMaxSec = def.BlindfoldMaxSec
	}
	if c.AlertRadius == 0 {
		c.AlertRadius = def.AlertRadius
	}
	if c.ReinforcementCooldown == 0 {
		c.ReinforcementCooldown = def.ReinforcementCooldown
	}
	if c.TelegraphDelay == 0 {
		c.TelegraphDelay = def.TelegraphDelay
	}
	if c.ReinforcementLifetime == 0 {
		c.ReinforcementLifetime = def.ReinforcementLifetime
	}
	if c.BleedOutThresholdPct == 0 {
		c.BleedOutThresholdPct = def.BleedOutThresholdPct
	}
	if c.BleedOutBaseDC == 0 {
		c.BleedOutBaseDC = def.BleedOutBaseDC
	}
	return c
}
