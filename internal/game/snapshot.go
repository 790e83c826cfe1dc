package game

import (
	"TacticalCore/internal/damage"
	"TacticalCore/internal/ewar"
	"TacticalCore/internal/fleet"
	"TacticalCore/internal/formation"
)

// UnitView is the externally visible state of one unit.
type UnitView struct {
	ID           string                   `json:"id"`
	FactionID    string                   `json:"faction_id"`
	FleetID      string                   `json:"fleet_id"`
	CommanderID  string                   `json:"commander_id,omitempty"`
	Class        fleet.ShipClass          `json:"class"`
	Position     fleet.Vec3               `json:"position"`
	Rotation     fleet.Vec3               `json:"rotation"`
	Velocity     fleet.Vec3               `json:"velocity"`
	HP           float64                  `json:"hp"`
	MaxHP        float64                  `json:"max_hp"`
	Shields      [4]float64               `json:"shields"`
	MaxShield    float64                  `json:"max_shield"`
	Armor        float64                  `json:"armor"`
	MaxArmor     float64                  `json:"max_armor"`
	Morale       float64                  `json:"morale"`
	Fuel         float64                  `json:"fuel"`
	Ammo         int                      `json:"ammo"`
	ShipCount    int                      `json:"ship_count"`
	MaxShipCount int                      `json:"max_ship_count"`
	Energy       fleet.EnergyDistribution `json:"energy"`
	Destroyed    bool                     `json:"destroyed"`
	Chaos        bool                     `json:"chaos"`
	Retreating   bool                     `json:"retreating"`
	Escaped      bool                     `json:"escaped"`
	TargetID     string                   `json:"target_id,omitempty"`
	TargetPos    *fleet.Vec3              `json:"target_pos,omitempty"`
	Maneuver     *formation.ManeuverState `json:"maneuver,omitempty"`
	Components   []damage.Component       `json:"components"`
	Debuffs      []damage.Debuff          `json:"debuffs,omitempty"`
}

type Snapshot struct {
	BattleID     string              `json:"battle_id"`
	Status       Status              `json:"status"`
	Tick         int64               `json:"tick"`
	Units        []UnitView          `json:"units"`
	Projectiles  []Projectile        `json:"projectiles"`
	Effects      []Effect            `json:"effects"`
	Formations   []formation.State   `json:"formations"`
	Jamming      []ewar.State        `json:"jamming"`
	Participants []Participant       `json:"participants"`
	Repairs      []damage.RepairTask `json:"repairs,omitempty"`
	Result       *Result             `json:"result,omitempty"`
}

// Snapshot captures the full battle state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		BattleID:    s.ID,
		Status:      s.status,
		Tick:        s.tick,
		Units:       make([]UnitView, 0, len(s.unitOrder)),
		Projectiles: make([]Projectile, 0, len(s.projectiles)),
		Effects:     append([]Effect(nil), s.effects...),
		Jamming:     s.ewar.States(s.ID),
		Repairs:     s.damage.RepairTasks(),
	}
	for _, u := range s.roster() {
		snap.Units = append(snap.Units, s.viewOf(u))
	}
	for _, p := range s.projectiles {
		snap.Projectiles = append(snap.Projectiles, *p)
	}
	for _, id := range s.formations.Fleets() {
		if st, ok := s.formations.State(id); ok {
			snap.Formations = append(snap.Formations, st)
		}
	}
	for _, f := range s.factionOrder {
		snap.Participants = append(snap.Participants, s.participants[f].clone())
	}
	if s.result != nil {
		r := s.result.clone()
		snap.Result = &r
	}
	return snap
}

func (s *Session) viewOf(u *fleet.Unit) UnitView {
	v := UnitView{
		ID:           u.ID,
		FactionID:    u.FactionID,
		FleetID:      u.FleetID,
		CommanderID:  u.CommanderID,
		Class:        u.Class,
		Position:     u.Position,
		Rotation:     u.Rotation,
		Velocity:     u.Velocity,
		HP:           u.HP,
		MaxHP:        u.MaxHP,
		Shields:      u.Shields,
		MaxShield:    u.MaxShield,
		Armor:        u.Armor,
		MaxArmor:     u.MaxArmor,
		Morale:       u.Morale,
		Fuel:         u.Fuel,
		Ammo:         u.Ammo,
		ShipCount:    u.ShipCount,
		MaxShipCount: u.MaxShipCount,
		Energy:       u.Energy,
		Destroyed:    u.Destroyed,
		Chaos:        u.Chaos,
		Retreating:   u.Retreating,
		Escaped:      s.escaped[u.ID],
		TargetID:     u.TargetID,
		Components:   s.damage.Components(u.ID),
		Debuffs:      s.damage.Debuffs(u.ID),
	}
	if u.TargetPos != nil {
		p := *u.TargetPos
		v.TargetPos = &p
	}
	if m, ok := s.formations.Maneuver(u.ID); ok {
		v.Maneuver = &m
	}
	return v
}

// Unit returns the view of a single unit.
func (s *Session) Unit(id string) (UnitView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok {
		return UnitView{}, false
	}
	return s.viewOf(u), true
}

// Formation returns a fleet's formation state.
func (s *Session) Formation(fleetID string) (formation.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.formations.State(fleetID)
}

// FormationModifiers returns the fleet's current cohesion-scaled modifiers.
func (s *Session) FormationModifiers(fleetID string) formation.Modifiers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.formations.Modifiers(fleetID)
}

// Effects folds the unit's component debuffs.
func (s *Session) Effects(unitID string) damage.Effects {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.damage.Effects(unitID)
}
