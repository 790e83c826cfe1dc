package damage

import (
	"TacticalCore/internal/fleet"
)

type ComponentType string

const (
	Hull            ComponentType = "HULL"
	Engine          ComponentType = "ENGINE"
	Bridge          ComponentType = "BRIDGE"
	MainWeapon      ComponentType = "MAIN_WEAPON"
	Sensor          ComponentType = "SENSOR"
	ShieldGenerator ComponentType = "SHIELD_GENERATOR"
	Hangar          ComponentType = "HANGAR"
)

// componentOrder fixes iteration order so weighted picks are reproducible.
var componentOrder = []ComponentType{Hull, Engine, Bridge, MainWeapon, Sensor, ShieldGenerator, Hangar}

// componentShare is each component's max health as a fraction of unit MaxHP.
var componentShare = map[ComponentType]float64{
	Hull:            0.40,
	Engine:          0.15,
	Bridge:          0.10,
	MainWeapon:      0.15,
	Sensor:          0.10,
	ShieldGenerator: 0.10,
	Hangar:          0.15,
}

// hitWeights biases which component absorbs a hit by the facing struck.
var hitWeights = map[fleet.Facing]map[ComponentType]float64{
	fleet.FacingFront: {Hull: 30, Engine: 5, Bridge: 25, MainWeapon: 25, Sensor: 10, ShieldGenerator: 5, Hangar: 10},
	fleet.FacingRear:  {Hull: 30, Engine: 40, Bridge: 5, MainWeapon: 5, Sensor: 5, ShieldGenerator: 15, Hangar: 10},
	fleet.FacingLeft:  {Hull: 40, Engine: 15, Bridge: 10, MainWeapon: 15, Sensor: 10, ShieldGenerator: 10, Hangar: 15},
	fleet.FacingRight: {Hull: 40, Engine: 15, Bridge: 10, MainWeapon: 15, Sensor: 10, ShieldGenerator: 10, Hangar: 15},
}

func (c ComponentType) Valid() bool {
	_, ok := componentShare[c]
	return ok
}

type Component struct {
	Type      ComponentType `json:"type"`
	Health    float64       `json:"health"`
	MaxHealth float64       `json:"max_health"`
	Destroyed bool          `json:"destroyed"`
}

// Fraction is health over max, 0 when the component has no pool.
func (c Component) Fraction() float64 {
	return fleet.Ratio(c.Health, c.MaxHealth, 0)
}

func (c *Component) setHealth(h float64) {
	c.Health = fleet.Clamp(h, 0, c.MaxHealth)
	c.Destroyed = c.Health <= 0
}

// ComponentsFor builds the fixed component set of a unit. Carriers carry a
// hangar.
func ComponentsFor(u *fleet.Unit) []*Component {
	out := make([]*Component, 0, len(componentOrder))
	for _, ct := range componentOrder {
		if ct == Hangar && u.Spec.Role != fleet.RoleCarrier {
			continue
		}
		pool := u.MaxHP * componentShare[ct]
		out = append(out, &Component{Type: ct, Health: pool, MaxHealth: pool})
	}
	return out
}

type DebuffType string

const (
	DebuffBridgeDamaged      DebuffType = "BRIDGE_DAMAGED"
	DebuffBridgeDestroyed    DebuffType = "BRIDGE_DESTROYED"
	DebuffEngineDamaged      DebuffType = "ENGINE_DAMAGED"
	DebuffEngineDestroyed    DebuffType = "ENGINE_DESTROYED"
	DebuffWeaponDamaged      DebuffType = "WEAPON_DAMAGED"
	DebuffWeaponDestroyed    DebuffType = "WEAPON_DESTROYED"
	DebuffSensorDamaged      DebuffType = "SENSOR_DAMAGED"
	DebuffSensorDestroyed    DebuffType = "SENSOR_DESTROYED"
	DebuffShieldGenDamaged   DebuffType = "SHIELD_GENERATOR_DAMAGED"
	DebuffShieldGenDestroyed DebuffType = "SHIELD_GENERATOR_DESTROYED"
	DebuffHangarDamaged      DebuffType = "HANGAR_DAMAGED"
	DebuffHangarDestroyed    DebuffType = "HANGAR_DESTROYED"
	DebuffRepairing          DebuffType = "REPAIRING"
)

// DamagedThreshold is the health fraction at or below which a component
// starts imposing its damaged debuff.
const DamagedThreshold = 0.5

var thresholdDebuffs = map[ComponentType][2]DebuffType{
	Bridge:          {DebuffBridgeDamaged, DebuffBridgeDestroyed},
	Engine:          {DebuffEngineDamaged, DebuffEngineDestroyed},
	MainWeapon:      {DebuffWeaponDamaged, DebuffWeaponDestroyed},
	Sensor:          {DebuffSensorDamaged, DebuffSensorDestroyed},
	ShieldGenerator: {DebuffShieldGenDamaged, DebuffShieldGenDestroyed},
	Hangar:          {DebuffHangarDamaged, DebuffHangarDestroyed},
}

type Debuff struct {
	Type      DebuffType    `json:"type"`
	Component ComponentType `json:"component"`
	Source    string        `json:"source,omitempty"`
	SinceTick int64         `json:"since_tick"`
	UntilTick int64         `json:"until_tick,omitempty"` // 0 while the cause persists
}

// Effects folds a unit's debuffs into multipliers for the session.
type Effects struct {
	Accuracy          float64 `json:"accuracy"`
	Speed             float64 `json:"speed"`
	Firepower         float64 `json:"firepower"`
	CommandCapability float64 `json:"command_capability"`
	ShieldRegen       float64 `json:"shield_regen"`
	CanReceiveOrders  bool    `json:"can_receive_orders"`
}

func NeutralEffects() Effects {
	return Effects{Accuracy: 1, Speed: 1, Firepower: 1, CommandCapability: 1, ShieldRegen: 1, CanReceiveOrders: true}
}

func (e *Effects) apply(t DebuffType) {
	switch t {
	case DebuffBridgeDamaged:
		e.Accuracy *= 0.8
		e.CommandCapability *= 0.7
	case DebuffBridgeDestroyed:
		e.Accuracy *= 0.6
		e.CommandCapability = 0
		e.CanReceiveOrders = false
	case DebuffEngineDamaged:
		e.Speed *= 0.7
	case DebuffEngineDestroyed:
		e.Speed *= 0.2
	case DebuffWeaponDamaged:
		e.Firepower *= 0.7
	case DebuffWeaponDestroyed:
		e.Firepower *= 0.3
	case DebuffSensorDamaged:
		e.Accuracy *= 0.85
	case DebuffSensorDestroyed:
		e.Accuracy *= 0.6
	case DebuffShieldGenDamaged:
		e.ShieldRegen *= 0.5
	case DebuffShieldGenDestroyed:
		e.ShieldRegen = 0
	case DebuffHangarDamaged:
		e.Firepower *= 0.85
	case DebuffHangarDestroyed:
		e.Firepower *= 0.6
	case DebuffRepairing:
		e.Speed *= 0.5
		e.Firepower *= 0.8
	}
}
