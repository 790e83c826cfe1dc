package fleet

import (
	"errors"
	"fmt"
	"math"
)

// Facing indexes the four directional shield arcs.
type Facing int

const (
	FacingFront Facing = iota
	FacingRear
	FacingLeft
	FacingRight
)

func (f Facing) String() string {
	switch f {
	case FacingFront:
		return "front"
	case FacingRear:
		return "rear"
	case FacingLeft:
		return "left"
	case FacingRight:
		return "right"
	}
	return "unknown"
}

// FacingFrom classifies where a shot coming from `from` strikes a unit at pos
// heading along yaw.
func FacingFrom(pos Vec3, yaw float64, from Vec3) Facing {
	d := from.Sub(pos)
	if d.X == 0 && d.Y == 0 {
		return FacingFront
	}
	rel := WrapAngle(math.Atan2(d.Y, d.X) - yaw)
	switch {
	case math.Abs(rel) <= math.Pi/4:
		return FacingFront
	case math.Abs(rel) >= 3*math.Pi/4:
		return FacingRear
	case rel > 0:
		return FacingLeft
	default:
		return FacingRight
	}
}

// EnergyDistribution splits reactor output across six channels. A
// distribution is only accepted when the channels sum to exactly 100.
type EnergyDistribution struct {
	Beam   float64 `json:"beam" yaml:"beam" msgpack:"beam"`
	Gun    float64 `json:"gun" yaml:"gun" msgpack:"gun"`
	Shield float64 `json:"shield" yaml:"shield" msgpack:"shield"`
	Engine float64 `json:"engine" yaml:"engine" msgpack:"engine"`
	Warp   float64 `json:"warp" yaml:"warp" msgpack:"warp"`
	Sensor float64 `json:"sensor" yaml:"sensor" msgpack:"sensor"`
}

const EnergyTotal = 100.0

var ErrInvalidEnergy = errors.New("fleet: energy distribution must sum to 100")

func DefaultEnergy() EnergyDistribution {
	return EnergyDistribution{Beam: 20, Gun: 20, Shield: 20, Engine: 20, Warp: 0, Sensor: 20}
}

func (e EnergyDistribution) Sum() float64 {
	return e.Beam + e.Gun + e.Shield + e.Engine + e.Warp + e.Sensor
}

func (e EnergyDistribution) Validate() error {
	for _, v := range []float64{e.Beam, e.Gun, e.Shield, e.Engine, e.Warp, e.Sensor} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: negative or non-finite channel", ErrInvalidEnergy)
		}
	}
	if sum := e.Sum(); sum != EnergyTotal {
		return fmt.Errorf("%w: got %.2f", ErrInvalidEnergy, sum)
	}
	return nil
}

// Factor returns channel/20, the multiplier relative to an even split.
func Factor(channel float64) float64 {
	return Clamp(channel/20.0, 0, 5)
}

// Unit is one simulated ship-group. It is owned by exactly one session and
// mutated only from that session's tick.
type Unit struct {
	ID          string
	FactionID   string
	FleetID     string
	CommanderID string
	Class       ShipClass
	Spec        ClassSpec

	Position        Vec3
	Rotation        Vec3 // pitch, roll, yaw in Z
	Velocity        Vec3
	AngularVelocity Vec3

	HP        float64
	MaxHP     float64
	Shields   [4]float64
	MaxShield float64
	Armor     float64
	MaxArmor  float64
	Morale    float64
	Fuel      float64
	Ammo      int

	ShipCount    int
	MaxShipCount int
	Energy       EnergyDistribution

	Destroyed  bool
	Chaos      bool
	Retreating bool

	TargetID  string
	TargetPos *Vec3

	NextFireTick int64
}

const MaxMorale = 100.0

func NewUnit(id string, spec ClassSpec, shipCount int) *Unit {
	if shipCount < 1 {
		shipCount = 1
	}
	u := &Unit{
		ID:           id,
		Class:        spec.Class,
		Spec:         spec,
		HP:           spec.MaxHP,
		MaxHP:        spec.MaxHP,
		MaxShield:    spec.Shield,
		Armor:        spec.Armor,
		MaxArmor:     spec.Armor,
		Morale:       MaxMorale,
		Fuel:         spec.MaxFuel,
		Ammo:         spec.MaxAmmo,
		ShipCount:    shipCount,
		MaxShipCount: shipCount,
		Energy:       DefaultEnergy(),
	}
	for i := range u.Shields {
		u.Shields[i] = spec.Shield
	}
	return u
}

func (u *Unit) Alive() bool { return u != nil && !u.Destroyed }

func (u *Unit) Yaw() float64 { return u.Rotation.Z }

func (u *Unit) SetYaw(yaw float64) { u.Rotation.Z = WrapAngle(yaw) }

// Strength is the remaining fraction of the group, 0..1.
func (u *Unit) Strength() float64 {
	return Clamp(Ratio(float64(u.ShipCount), float64(u.MaxShipCount), 0), 0, 1)
}

// SetHP clamps and writes HP, keeping ship count in step with it.
func (u *Unit) SetHP(hp float64) {
	u.HP = Clamp(hp, 0, u.MaxHP)
	frac := Ratio(u.HP, u.MaxHP, 0)
	u.ShipCount = int(math.Ceil(float64(u.MaxShipCount) * frac))
	if u.HP <= 0 {
		u.ShipCount = 0
	}
}

func (u *Unit) SetMorale(m float64) { u.Morale = Clamp(m, 0, MaxMorale) }

func (u *Unit) SetShield(f Facing, v float64) {
	u.Shields[f] = Clamp(v, 0, u.MaxShield)
}

func (u *Unit) SetArmor(v float64) { u.Armor = Clamp(v, 0, u.MaxArmor) }

func (u *Unit) SetFuel(v float64) { u.Fuel = Clamp(v, 0, u.Spec.MaxFuel) }

func (u *Unit) TotalShield() float64 {
	var sum float64
	for _, s := range u.Shields {
		sum += s
	}
	return sum
}

// CombatPower is the unit's contribution to its side's fighting strength.
func (u *Unit) CombatPower() float64 {
	if !u.Alive() || u.HP <= 0 {
		return 0
	}
	return (u.Spec.Firepower + 1) * float64(u.ShipCount)
}

// ShipSpec requests count ships of one class in a fleet.
type ShipSpec struct {
	Class ShipClass `json:"class" yaml:"class"`
	Count int       `json:"count" yaml:"count"`
}

// FleetSpec is the externally supplied description of a fleet to spawn.
type FleetSpec struct {
	FleetID     string     `json:"fleet_id" yaml:"fleet_id"`
	FactionID   string     `json:"faction_id" yaml:"faction_id"`
	CommanderID string     `json:"commander_id" yaml:"commander_id"`
	Formation   string     `json:"formation,omitempty" yaml:"formation,omitempty"`
	Heading     float64    `json:"heading,omitempty" yaml:"heading,omitempty"` // yaw, radians
	Ships       []ShipSpec `json:"ships" yaml:"ships"`
}

var ErrInvalidFleet = errors.New("fleet: invalid fleet spec")

func (f FleetSpec) Validate(catalog *Catalog) error {
	if f.FleetID == "" {
		return fmt.Errorf("%w: missing fleet id", ErrInvalidFleet)
	}
	if f.FactionID == "" {
		return fmt.Errorf("%w: %s: missing faction id", ErrInvalidFleet, f.FleetID)
	}
	if len(f.Ships) == 0 {
		return fmt.Errorf("%w: %s: no ships", ErrInvalidFleet, f.FleetID)
	}
	for _, s := range f.Ships {
		if s.Count < 1 {
			return fmt.Errorf("%w: %s: %s count %d", ErrInvalidFleet, f.FleetID, s.Class, s.Count)
		}
		if _, err := catalog.Lookup(s.Class); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidFleet, f.FleetID, err)
		}
	}
	return nil
}
