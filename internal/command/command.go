package command

import (
	"math"

	"TacticalCore/internal/fleet"
	"TacticalCore/internal/formation"
)

type Kind string

const (
	KindMove               Kind = "MOVE"
	KindAttack             Kind = "ATTACK"
	KindStop               Kind = "STOP"
	KindRetreat            Kind = "RETREAT"
	KindEnergyDistribution Kind = "ENERGY_DISTRIBUTION"
	KindChangeFormation    Kind = "CHANGE_FORMATION"
	KindManeuver           Kind = "MANEUVER"
)

// Command is the closed set of orders a commander can issue. Only the types
// in this package implement it.
type Command interface {
	Kind() Kind
	// UnitIDs lists the units the order addresses; fleet-level orders return nil.
	UnitIDs() []string
	Validate() error
	isCommand()
}

type Move struct {
	Units  []string
	Target fleet.Vec3
}

type Attack struct {
	Units    []string
	TargetID string
}

type Stop struct {
	Units []string
}

type Retreat struct {
	Units []string
}

type EnergyDistribution struct {
	Units  []string
	Energy fleet.EnergyDistribution
}

type ChangeFormation struct {
	FleetID   string
	Formation formation.Type
	Priority  formation.ChangePriority
}

type Maneuver struct {
	Units  []string
	Type   formation.ManeuverType
	Params formation.ManeuverParams
}

func (Move) Kind() Kind               { return KindMove }
func (Attack) Kind() Kind             { return KindAttack }
func (Stop) Kind() Kind               { return KindStop }
func (Retreat) Kind() Kind            { return KindRetreat }
func (EnergyDistribution) Kind() Kind { return KindEnergyDistribution }
func (ChangeFormation) Kind() Kind    { return KindChangeFormation }
func (Maneuver) Kind() Kind           { return KindManeuver }

func (c Move) UnitIDs() []string               { return c.Units }
func (c Attack) UnitIDs() []string             { return c.Units }
func (c Stop) UnitIDs() []string               { return c.Units }
func (c Retreat) UnitIDs() []string            { return c.Units }
func (c EnergyDistribution) UnitIDs() []string { return c.Units }
func (ChangeFormation) UnitIDs() []string      { return nil }
func (c Maneuver) UnitIDs() []string           { return c.Units }

func (Move) isCommand()               {}
func (Attack) isCommand()             {}
func (Stop) isCommand()               {}
func (Retreat) isCommand()            {}
func (EnergyDistribution) isCommand() {}
func (ChangeFormation) isCommand()    {}
func (Maneuver) isCommand()           {}

func validateUnits(units []string) error {
	if len(units) == 0 {
		return Reject(CodeInvalidCommand, "no units")
	}
	seen := make(map[string]struct{}, len(units))
	for _, id := range units {
		if id == "" {
			return Reject(CodeInvalidCommand, "empty unit id")
		}
		if _, dup := seen[id]; dup {
			return Reject(CodeInvalidCommand, "duplicate unit %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func finite(v fleet.Vec3) bool {
	for _, f := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func (c Move) Validate() error {
	if err := validateUnits(c.Units); err != nil {
		return err
	}
	if !finite(c.Target) {
		return Reject(CodeInvalidCommand, "non-finite move target")
	}
	return nil
}

func (c Attack) Validate() error {
	if err := validateUnits(c.Units); err != nil {
		return err
	}
	if c.TargetID == "" {
		return Reject(CodeInvalidCommand, "missing attack target")
	}
	for _, id := range c.Units {
		if id == c.TargetID {
			return Reject(CodeInvalidCommand, "unit %s cannot target itself", id)
		}
	}
	return nil
}

func (c Stop) Validate() error    { return validateUnits(c.Units) }
func (c Retreat) Validate() error { return validateUnits(c.Units) }

func (c EnergyDistribution) Validate() error {
	if err := validateUnits(c.Units); err != nil {
		return err
	}
	if err := c.Energy.Validate(); err != nil {
		return Reject(CodeInvalidEnergy, "%v", err)
	}
	return nil
}

func (c ChangeFormation) Validate() error {
	if c.FleetID == "" {
		return Reject(CodeInvalidFormation, "missing fleet id")
	}
	if !c.Formation.Valid() {
		return Reject(CodeInvalidFormation, "unknown formation %q", c.Formation)
	}
	if c.Priority != "" && !c.Priority.Valid() {
		return Reject(CodeInvalidFormation, "unknown priority %q", c.Priority)
	}
	return nil
}

func (c Maneuver) Validate() error {
	if err := validateUnits(c.Units); err != nil {
		return err
	}
	if !c.Type.Valid() {
		return Reject(CodeInvalidManeuver, "unknown maneuver %q", c.Type)
	}
	if c.Type == formation.ManeuverParallelMove {
		if !(c.Params.Distance > 0) || c.Params.Direction.Len() < 1e-9 || !finite(c.Params.Direction) {
			return Reject(CodeInvalidManeuver, "parallel move needs a direction and a positive distance")
		}
	}
	return nil
}
