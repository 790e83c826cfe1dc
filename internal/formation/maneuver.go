package formation

import (
	"math"

	"TacticalCore/internal/fleet"
)

type ManeuverType string

const (
	ManeuverParallelMove ManeuverType = "PARALLEL_MOVE"
	ManeuverTurn180      ManeuverType = "TURN_180"
	ManeuverTurn90Left   ManeuverType = "TURN_90_LEFT"
	ManeuverTurn90Right  ManeuverType = "TURN_90_RIGHT"
)

// ManeuverSpec is the fixed timing and penalty of one maneuver type.
type ManeuverSpec struct {
	Duration float64 // seconds
	Speed    float64 // max-speed multiplier while active
	Evasion  float64 // evasion multiplier while active
	Yaw      float64 // total heading change, radians
}

var maneuverSpecs = map[ManeuverType]ManeuverSpec{
	ManeuverParallelMove: {Duration: 5, Speed: 0.5, Evasion: 0.8},
	ManeuverTurn180:      {Duration: 6, Speed: 0, Evasion: 0, Yaw: math.Pi},
	ManeuverTurn90Left:   {Duration: 3, Speed: 0.7, Evasion: 0.9, Yaw: math.Pi / 2},
	ManeuverTurn90Right:  {Duration: 3, Speed: 0.7, Evasion: 0.9, Yaw: -math.Pi / 2},
}

func (m ManeuverType) Valid() bool {
	_, ok := maneuverSpecs[m]
	return ok
}

func (m ManeuverType) Spec() (ManeuverSpec, bool) {
	s, ok := maneuverSpecs[m]
	return s, ok
}

// ManeuverParams carries the parallel-move translation; turns ignore it.
type ManeuverParams struct {
	Direction fleet.Vec3 `json:"direction"`
	Distance  float64    `json:"distance"`
}

// ManeuverState is one unit's in-flight maneuver.
type ManeuverState struct {
	UnitID   string         `json:"unit_id"`
	Type     ManeuverType   `json:"type"`
	Params   ManeuverParams `json:"params"`
	Duration float64        `json:"duration"`
	Elapsed  float64        `json:"elapsed"`
	Progress float64        `json:"progress"`
	StartYaw float64        `json:"start_yaw"`
}

type ManeuverComplete struct {
	UnitID string
	Type   ManeuverType
}

// ExecuteManeuver starts the maneuver on every unit, or on none if any unit
// is already maneuvering.
func (e *Engine) ExecuteManeuver(units []*fleet.Unit, mt ManeuverType, params ManeuverParams) error {
	spec, ok := mt.Spec()
	if !ok {
		return ErrInvalidManeuver
	}
	if len(units) == 0 {
		return ErrNoManeuverTarget
	}
	if mt == ManeuverParallelMove {
		if !(params.Distance > 0) || params.Direction.Len() < 1e-9 {
			return ErrInvalidManeuver
		}
		params.Direction = params.Direction.Unit()
	}
	for _, u := range units {
		if !u.Alive() {
			return ErrNoManeuverTarget
		}
		if _, busy := e.maneuvers[u.ID]; busy {
			return ErrUnitManeuvering
		}
	}
	for _, u := range units {
		e.maneuvers[u.ID] = &ManeuverState{
			UnitID:   u.ID,
			Type:     mt,
			Params:   params,
			Duration: spec.Duration,
			StartYaw: u.Yaw(),
		}
	}
	return nil
}

// UpdateManeuvers advances maneuvers by dt seconds in the order of units and
// applies their kinematics. Parallel moves translate without turning; turns
// interpolate yaw. Completed maneuvers are cleared and returned.
func (e *Engine) UpdateManeuvers(units []*fleet.Unit, dt float64) []ManeuverComplete {
	var done []ManeuverComplete
	for _, u := range units {
		m, ok := e.maneuvers[u.ID]
		if !ok {
			continue
		}
		if !u.Alive() {
			delete(e.maneuvers, u.ID)
			continue
		}
		spec := maneuverSpecs[m.Type]
		prev := m.Progress
		if dt > 0 {
			m.Elapsed += dt
		}
		m.Progress = fleet.Clamp(fleet.Ratio(m.Elapsed, m.Duration, 1), 0, 1)

		if m.Type == ManeuverParallelMove {
			step := (m.Progress - prev) * m.Params.Distance
			u.Position = u.Position.Add(m.Params.Direction.Scale(step))
		} else {
			u.SetYaw(m.StartYaw + spec.Yaw*m.Progress)
			u.AngularVelocity = fleet.Vec3{Z: fleet.Ratio(spec.Yaw, m.Duration, 0)}
		}

		if m.Progress >= 1 {
			if m.Type != ManeuverParallelMove {
				u.AngularVelocity = fleet.Vec3{}
				// Carry momentum through the turn.
				speed := u.Velocity.Len()
				u.Velocity = fleet.Heading(u.Yaw()).Scale(speed)
			}
			delete(e.maneuvers, u.ID)
			done = append(done, ManeuverComplete{UnitID: u.ID, Type: m.Type})
		}
	}
	return done
}

func (e *Engine) IsManeuvering(unitID string) bool {
	_, ok := e.maneuvers[unitID]
	return ok
}

func (e *Engine) Maneuver(unitID string) (ManeuverState, bool) {
	m, ok := e.maneuvers[unitID]
	if !ok {
		return ManeuverState{}, false
	}
	return *m, true
}

// ManeuverSpeed is the max-speed multiplier for the unit's active maneuver,
// 1 when idle.
func (e *Engine) ManeuverSpeed(unitID string) float64 {
	if m, ok := e.maneuvers[unitID]; ok {
		return maneuverSpecs[m.Type].Speed
	}
	return 1
}

func (e *Engine) ManeuverEvasion(unitID string) float64 {
	if m, ok := e.maneuvers[unitID]; ok {
		return maneuverSpecs[m.Type].Evasion
	}
	return 1
}
