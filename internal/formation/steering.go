package formation

import (
	"math"

	"TacticalCore/internal/fleet"
)

const (
	SeparationRadius = 30.0
	DeviationScale   = 50.0

	seekGain         = 1.0 // 1/s: desired speed per unit of slot error
	separationWeight = 1.0
	alignmentWeight  = 0.5
)

// SlotPosition is where a wingman with the given offset should be.
func SlotPosition(leader *fleet.Unit, offset fleet.Vec3) fleet.Vec3 {
	return leader.Position.Add(fleet.RotateYaw(offset, leader.Yaw()))
}

// Cohesion maps an average slot deviation to a 0..100 score.
func Cohesion(avgDeviation float64) float64 {
	if !(avgDeviation > 0) {
		return MaxCohesion
	}
	return fleet.Clamp(MaxCohesion/(1+avgDeviation/DeviationScale), 0, MaxCohesion)
}

// Detached reports whether a wingman is acting on its own orders or state
// and should not be steered back into its slot.
func Detached(u *fleet.Unit) bool {
	return u.TargetPos != nil || u.TargetID != "" || u.Retreating || u.Chaos
}

// UpdateWingmanPositions runs one boid steering step for every wingman of a
// fleet and sets their velocities; the caller integrates positions. roster
// is every unit in the battle. Returns the fleet's new cohesion.
func (e *Engine) UpdateWingmanPositions(fleetID string, roster []*fleet.Unit, dt float64) (float64, error) {
	st, ok := e.formations[fleetID]
	if !ok {
		return 0, ErrUnknownFleet
	}
	byID := make(map[string]*fleet.Unit, len(roster))
	for _, u := range roster {
		byID[u.ID] = u
	}
	leader := byID[st.LeaderID]
	if !leader.Alive() {
		return st.Cohesion, nil
	}
	heading := fleet.Heading(leader.Yaw())
	leaderSpeed := leader.Velocity.Len()

	var total float64
	var count int
	for _, w := range st.Wingmen {
		u := byID[w.UnitID]
		if !u.Alive() {
			continue
		}
		slot := SlotPosition(leader, w.Offset)
		total += u.Position.Dist(slot)
		count++
		if e.IsManeuvering(u.ID) || dt <= 0 || Detached(u) {
			continue
		}

		maxSpeed := u.Spec.MaxSpeed
		desired := slot.Sub(u.Position).Scale(seekGain)
		for _, o := range roster {
			if o == u || !o.Alive() || o.FactionID != u.FactionID {
				continue
			}
			d := u.Position.Dist(o.Position)
			if d >= SeparationRadius {
				continue
			}
			away := u.Position.Sub(o.Position).Unit()
			if d == 0 {
				away = fleet.RotateYaw(heading, math.Pi/2)
			}
			desired = desired.Add(away.Scale(separationWeight * maxSpeed * (SeparationRadius - d) / SeparationRadius))
		}
		desired = desired.Add(heading.Scale(leaderSpeed * alignmentWeight))
		u.Velocity = desired.ClampLen(maxSpeed)
		if u.Velocity.Len() > 1e-6 {
			u.SetYaw(fleet.TurnToward(u.Yaw(), leader.Yaw(), u.Spec.TurnRate*dt))
		}
	}

	c := MaxCohesion
	if count > 0 {
		c = Cohesion(total / float64(count))
	}
	// A transition's cohesion cost holds until the transition completes.
	if st.Changing && st.Cohesion < c {
		c = st.Cohesion
	}
	st.Cohesion = c
	return c, nil
}
