package formation

import (
	"math"

	"TacticalCore/internal/fleet"
)

// Layout assigns slots to wingmen for formation t. Slot 0 is nearest the
// leader.
func Layout(t Type, wingmen []string) []Wingman {
	n := len(wingmen)
	out := make([]Wingman, n)
	for i, id := range wingmen {
		off := slotOffset(t, i, n)
		out[i] = Wingman{UnitID: id, Offset: off, Role: roleFor(off)}
	}
	return out
}

func slotOffset(t Type, i, n int) fleet.Vec3 {
	rank := float64(i/2 + 1)
	side := 1.0
	if i%2 == 1 {
		side = -1
	}
	s := Spacing
	switch t {
	case Spindle:
		return fleet.Vec3{X: -rank * s, Y: side * rank * s * 0.35}
	case Line:
		return fleet.Vec3{Y: side * rank * s}
	case Circular:
		r := math.Max(s, float64(n+1)*s/(2*math.Pi))
		a := 2 * math.Pi * float64(i+1) / float64(n+1)
		return fleet.Vec3{X: r*math.Cos(a) - r, Y: r * math.Sin(a)}
	case Echelon:
		k := float64(i + 1)
		return fleet.Vec3{X: -k * s * 0.7, Y: -k * s * 0.7}
	case Wedge:
		return fleet.Vec3{X: -rank * s * 0.5, Y: side * rank * s}
	case Encircle:
		const arc = 4 * math.Pi / 3
		r := 2 * s
		a := 0.0
		if n > 1 {
			a = -arc/2 + arc*float64(i)/float64(n-1)
		}
		return fleet.Vec3{X: r * math.Cos(a), Y: r * math.Sin(a)}
	case Retreat:
		col := float64(i%3 - 1)
		row := float64(i/3 + 1)
		return fleet.Vec3{X: -row * s * 0.6, Y: col * s * 0.6}
	default: // Standard V
		return fleet.Vec3{X: -rank * s, Y: side * rank * s * 0.7}
	}
}

func roleFor(off fleet.Vec3) Role {
	switch {
	case off.X > Spacing*0.25:
		return RoleVanguard
	case math.Abs(off.Y) > math.Abs(off.X):
		return RoleFlank
	default:
		return RoleRearguard
	}
}
