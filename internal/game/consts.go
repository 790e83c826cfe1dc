package game

import (
	"math"
	"time"

	"TacticalCore/internal/fleet"
)

const (
	TickInterval = 60 * time.Millisecond
	SimHz        = float64(time.Second) / float64(TickInterval) // ~16.7
	Dt           = 1.0 / SimHz

	DefaultSnapshotEvery         = 5     // ticks between BATTLE_UPDATE events
	DefaultMaxTicks              = 30000 // ~30 minutes
	DefaultDrag                  = 0.5   // 1/s
	DefaultMoraleLossPerHit      = 3.0
	DefaultMoraleLossHPScale     = 50.0 // morale lost per full MaxHP of hull damage
	DefaultShieldRegenPerTick    = 0.5
	DefaultFuelPerUnit           = 0.01 // fuel per unit travelled
	DefaultRetreatEscapeDistance = 1500.0
	DefaultEffectTTL             = 10 // ticks a shot effect stays in snapshots
	DefaultMissileSpeed          = 250.0

	ArrivalEpsilon   = 1.0
	RetreatDistance  = 3000.0
	ChaseRangeFactor = 0.8 // close to this share of weapon range before holding
	MinHitChance     = 0.05
	MaxHitChance     = 0.95
	FuelStarvedSpeed = 0.2
	MissileHitRadius = 10.0
	MissileLifetime  = 200 // ticks
)

// Params tunes one battle. Zero or invalid fields fall back to defaults in
// SanitizeParams.
type Params struct {
	TickInterval          time.Duration `json:"tick_interval"`
	SnapshotEvery         int64         `json:"snapshot_every"`
	MaxTicks              int64         `json:"max_ticks"`
	Drag                  float64       `json:"drag"`
	MoraleLossPerHit      float64       `json:"morale_loss_per_hit"`
	MoraleLossHPScale     float64       `json:"morale_loss_hp_scale"`
	ShieldRegenPerTick    float64       `json:"shield_regen_per_tick"`
	FuelPerUnit           float64       `json:"fuel_per_unit"`
	RetreatEscapeDistance float64       `json:"retreat_escape_distance"`
	EffectTTL             int64         `json:"effect_ttl"`
	MissileSpeed          float64       `json:"missile_speed"`
}

func DefaultParams() Params {
	return Params{
		TickInterval:          TickInterval,
		SnapshotEvery:         DefaultSnapshotEvery,
		MaxTicks:              DefaultMaxTicks,
		Drag:                  DefaultDrag,
		MoraleLossPerHit:      DefaultMoraleLossPerHit,
		MoraleLossHPScale:     DefaultMoraleLossHPScale,
		ShieldRegenPerTick:    DefaultShieldRegenPerTick,
		FuelPerUnit:           DefaultFuelPerUnit,
		RetreatEscapeDistance: DefaultRetreatEscapeDistance,
		EffectTTL:             DefaultEffectTTL,
		MissileSpeed:          DefaultMissileSpeed,
	}
}

func SanitizeParams(p Params) Params {
	d := DefaultParams()
	if p.TickInterval <= 0 {
		p.TickInterval = d.TickInterval
	}
	if p.SnapshotEvery < 1 {
		p.SnapshotEvery = d.SnapshotEvery
	}
	if p.MaxTicks < 1 {
		p.MaxTicks = d.MaxTicks
	}
	p.Drag = nonNegative(p.Drag, d.Drag)
	p.MoraleLossPerHit = nonNegative(p.MoraleLossPerHit, d.MoraleLossPerHit)
	p.MoraleLossHPScale = nonNegative(p.MoraleLossHPScale, d.MoraleLossHPScale)
	p.ShieldRegenPerTick = nonNegative(p.ShieldRegenPerTick, d.ShieldRegenPerTick)
	p.FuelPerUnit = nonNegative(p.FuelPerUnit, d.FuelPerUnit)
	if !(p.RetreatEscapeDistance > 0) {
		p.RetreatEscapeDistance = d.RetreatEscapeDistance
	}
	if p.EffectTTL < 1 {
		p.EffectTTL = d.EffectTTL
	}
	if !(p.MissileSpeed > 0) {
		p.MissileSpeed = d.MissileSpeed
	}
	return p
}

func nonNegative(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fallback
	}
	return v
}

// Dt is the simulated seconds per tick.
func (p Params) Dt() float64 { return p.TickInterval.Seconds() }

// weaponProfile captures how a weapon type interacts with shields, ammo and
// energy.
type weaponProfile struct {
	ShieldPenetration float64
	Accuracy          float64
	UsesAmmo          bool
	Projectile        bool
}

var weaponProfiles = map[fleet.WeaponType]weaponProfile{
	fleet.WeaponBeam:    {ShieldPenetration: 0, Accuracy: 1.0},
	fleet.WeaponGun:     {ShieldPenetration: 0.2, Accuracy: 0.9, UsesAmmo: true},
	fleet.WeaponMissile: {ShieldPenetration: 0.1, Accuracy: 1.1, UsesAmmo: true, Projectile: true},
}

// weaponChannel is the energy channel powering a weapon type.
func weaponChannel(w fleet.WeaponType, e fleet.EnergyDistribution) float64 {
	if w == fleet.WeaponBeam {
		return e.Beam
	}
	return e.Gun
}

func hullEvasion(h fleet.HullSize) float64 {
	switch h {
	case fleet.HullSmall:
		return 0.15
	case fleet.HullMedium:
		return 0.1
	default:
		return 0.05
	}
}
