package formation

import (
	"errors"
	"math"
	"sort"
	"strings"

	"TacticalCore/internal/fleet"
)

type Type string

const (
	Standard Type = "STANDARD"
	Spindle  Type = "SPINDLE"
	Line     Type = "LINE"
	Circular Type = "CIRCULAR"
	Echelon  Type = "ECHELON"
	Wedge    Type = "WEDGE"
	Encircle Type = "ENCIRCLE"
	Retreat  Type = "RETREAT"
)

var allTypes = []Type{Standard, Spindle, Line, Circular, Echelon, Wedge, Encircle, Retreat}

func Types() []Type { return append([]Type(nil), allTypes...) }

func (t Type) Valid() bool {
	_, ok := baseModifiers[t]
	return ok
}

func ParseType(s string) (Type, bool) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.Valid()
}

// ChangePriority controls how fast a formation change happens and what it
// costs in cohesion.
type ChangePriority string

const (
	PriorityNormal    ChangePriority = "NORMAL"
	PriorityUrgent    ChangePriority = "URGENT"
	PriorityEmergency ChangePriority = "EMERGENCY"
)

func (p ChangePriority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityUrgent, PriorityEmergency:
		return true
	}
	return false
}

type Role string

const (
	RoleLeader    Role = "LEADER"
	RoleVanguard  Role = "VANGUARD"
	RoleFlank     Role = "FLANK"
	RoleRearguard Role = "REARGUARD"
)

// Wingman holds one follower's slot relative to the leader. Offset is in the
// leader's frame: +X ahead, +Y to port.
type Wingman struct {
	UnitID string     `json:"unit_id"`
	Offset fleet.Vec3 `json:"offset"`
	Role   Role       `json:"role"`
}

// State is one fleet's formation.
type State struct {
	FleetID  string    `json:"fleet_id"`
	Type     Type      `json:"type"`
	LeaderID string    `json:"leader_id"`
	Wingmen  []Wingman `json:"wingmen"`
	Cohesion float64   `json:"cohesion"`

	Changing bool    `json:"changing"`
	Target   Type    `json:"target,omitempty"`
	Progress float64 `json:"progress"`
	Duration float64 `json:"duration"` // seconds
	Elapsed  float64 `json:"elapsed"`
}

func (s State) clone() State {
	s.Wingmen = append([]Wingman(nil), s.Wingmen...)
	return s
}

// Changed reports a completed formation change.
type Changed struct {
	FleetID string
	From    Type
	To      Type
}

var (
	ErrUnknownFleet     = errors.New("formation: unknown fleet")
	ErrInvalidType      = errors.New("formation: invalid formation type")
	ErrInvalidPriority  = errors.New("formation: invalid change priority")
	ErrAlreadyChanging  = errors.New("formation: change already in progress")
	ErrSameFormation    = errors.New("formation: already in target formation")
	ErrNoLeader         = errors.New("formation: leader required")
	ErrInvalidManeuver  = errors.New("formation: invalid maneuver")
	ErrUnitManeuvering  = errors.New("formation: unit already maneuvering")
	ErrNoManeuverTarget = errors.New("formation: no units for maneuver")
)

const (
	Spacing = 50.0

	MaxCohesion = 100.0

	ChangeBaseSeconds     = 8.0
	ChangePerUnitSeconds  = 0.5
	ChangeMaxSeconds      = 30.0
	UrgentCohesionCost    = 20.0
	EmergencyCohesionCost = 30.0
)

// Engine tracks formations and maneuvers for one battle. It is not safe for
// concurrent use; the owning session's tick is its only caller.
type Engine struct {
	formations map[string]*State
	maneuvers  map[string]*ManeuverState
}

func NewEngine() *Engine {
	return &Engine{
		formations: make(map[string]*State),
		maneuvers:  make(map[string]*ManeuverState),
	}
}

// InitializeFormation (re)creates a fleet's formation. units are the
// wingmen in slot order; the leader is skipped if present.
func (e *Engine) InitializeFormation(fleetID, leaderID string, units []string, t Type) (State, error) {
	if leaderID == "" {
		return State{}, ErrNoLeader
	}
	if !t.Valid() {
		return State{}, ErrInvalidType
	}
	wingmen := make([]string, 0, len(units))
	for _, id := range units {
		if id != leaderID && id != "" {
			wingmen = append(wingmen, id)
		}
	}
	st := &State{
		FleetID:  fleetID,
		Type:     t,
		LeaderID: leaderID,
		Wingmen:  Layout(t, wingmen),
		Cohesion: MaxCohesion,
	}
	e.formations[fleetID] = st
	return st.clone(), nil
}

func (e *Engine) State(fleetID string) (State, bool) {
	st, ok := e.formations[fleetID]
	if !ok {
		return State{}, false
	}
	return st.clone(), true
}

// Fleets returns the fleet ids with a formation, sorted.
func (e *Engine) Fleets() []string {
	ids := make([]string, 0, len(e.formations))
	for id := range e.formations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RemoveUnit drops a unit's maneuver and its wingman slot. If it led a
// fleet, the first remaining wingman takes over and slots are recomputed.
func (e *Engine) RemoveUnit(unitID string) {
	delete(e.maneuvers, unitID)
	for _, fleetID := range e.Fleets() {
		st := e.formations[fleetID]
		var rest []string
		found := st.LeaderID == unitID
		for _, w := range st.Wingmen {
			if w.UnitID == unitID {
				found = true
				continue
			}
			rest = append(rest, w.UnitID)
		}
		if !found {
			continue
		}
		if st.LeaderID == unitID {
			if len(rest) == 0 {
				delete(e.formations, fleetID)
				continue
			}
			st.LeaderID, rest = rest[0], rest[1:]
		}
		st.Wingmen = Layout(st.Type, rest)
	}
}

func (e *Engine) wingmanIDs(st *State) []string {
	ids := make([]string, len(st.Wingmen))
	for i, w := range st.Wingmen {
		ids[i] = w.UnitID
	}
	return ids
}

// ChangeDuration is the transition time in seconds for a fleet of n units.
func ChangeDuration(n int, priority ChangePriority) float64 {
	d := math.Min(ChangeBaseSeconds+ChangePerUnitSeconds*float64(n), ChangeMaxSeconds)
	if priority == PriorityUrgent || priority == PriorityEmergency {
		d /= 2
	}
	return d
}

func (e *Engine) StartFormationChange(fleetID string, target Type, priority ChangePriority) (State, error) {
	st, ok := e.formations[fleetID]
	if !ok {
		return State{}, ErrUnknownFleet
	}
	if priority == "" {
		priority = PriorityNormal
	}
	if !priority.Valid() {
		return State{}, ErrInvalidPriority
	}
	if !target.Valid() {
		return State{}, ErrInvalidType
	}
	if st.Changing {
		return State{}, ErrAlreadyChanging
	}
	if target == st.Type {
		return State{}, ErrSameFormation
	}
	st.Changing = true
	st.Target = target
	st.Progress = 0
	st.Elapsed = 0
	st.Duration = ChangeDuration(1+len(st.Wingmen), priority)
	switch priority {
	case PriorityUrgent:
		st.Cohesion = fleet.Clamp(st.Cohesion-UrgentCohesionCost, 0, MaxCohesion)
	case PriorityEmergency:
		st.Cohesion = fleet.Clamp(st.Cohesion-EmergencyCohesionCost, 0, MaxCohesion)
	}
	return st.clone(), nil
}

// UpdateFormationChange advances a transition by dt seconds and returns a
// record when it completes.
func (e *Engine) UpdateFormationChange(fleetID string, dt float64) *Changed {
	st, ok := e.formations[fleetID]
	if !ok || !st.Changing {
		return nil
	}
	if dt > 0 {
		st.Elapsed += dt
	}
	st.Progress = fleet.Clamp(fleet.Ratio(st.Elapsed, st.Duration, 1), 0, 1)
	if st.Progress < 1 {
		return nil
	}
	from := st.Type
	st.Type = st.Target
	st.Wingmen = Layout(st.Type, e.wingmanIDs(st))
	st.Changing = false
	st.Target = ""
	st.Progress = 0
	st.Elapsed = 0
	st.Duration = 0
	return &Changed{FleetID: fleetID, From: from, To: st.Type}
}

// UpdateAll advances every fleet's transition in fleet id order.
func (e *Engine) UpdateAll(dt float64) []Changed {
	var out []Changed
	for _, id := range e.Fleets() {
		if c := e.UpdateFormationChange(id, dt); c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// Modifiers returns the fleet's combat multipliers scaled by cohesion and
// halved in effect while a change is in progress. Unknown fleets get the
// neutral table.
func (e *Engine) Modifiers(fleetID string) Modifiers {
	st, ok := e.formations[fleetID]
	if !ok {
		return Neutral()
	}
	return ScaledModifiers(st.Type, st.Cohesion, st.Changing)
}

// IsWingman reports whether the unit holds a slot behind some leader.
func (e *Engine) IsWingman(unitID string) bool {
	for _, st := range e.formations {
		for _, w := range st.Wingmen {
			if w.UnitID == unitID {
				return true
			}
		}
	}
	return false
}
