package server

import (
	"strings"

	"TacticalCore/internal/command"
	"TacticalCore/internal/ewar"
	"TacticalCore/internal/fleet"
	"TacticalCore/internal/formation"
	"TacticalCore/internal/game"
)

type vec3DTO struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v vec3DTO) toVec3() fleet.Vec3 { return fleet.Vec3{X: v.X, Y: v.Y, Z: v.Z} }

type createBattleDTO struct {
	GameSessionID string `json:"game_session_id"`
	GridID        string `json:"grid_id"`
	BattleID      string `json:"battle_id,omitempty"`
	Seed          *int64 `json:"seed,omitempty"`
}

type battleDTO struct {
	ID            string      `json:"id"`
	GameSessionID string      `json:"game_session_id"`
	GridID        string      `json:"grid_id"`
	Status        game.Status `json:"status"`
	Tick          int64       `json:"tick"`
	Seed          int64       `json:"seed"`
}

func battleOf(s *game.Session) battleDTO {
	return battleDTO{
		ID:            s.ID,
		GameSessionID: s.GameSessionID,
		GridID:        s.GridID,
		Status:        s.Status(),
		Tick:          s.Tick(),
		Seed:          s.Seed(),
	}
}

type participantDTO struct {
	FactionID       string             `json:"faction_id"`
	FleetIDs        []string           `json:"fleet_ids"`
	CommanderIDs    []string           `json:"commander_ids"`
	CommanderSkills map[string]float64 `json:"commander_skills,omitempty"`
}

type spawnFleetDTO struct {
	Fleet fleet.FleetSpec `json:"fleet"`
	Spawn vec3DTO         `json:"spawn"`
}

type spawnedDTO struct {
	UnitIDs []string `json:"unit_ids"`
}

type readyDTO struct {
	FactionID string `json:"faction_id"`
	Ready     *bool  `json:"ready,omitempty"` // defaults to true
}

type factionDTO struct {
	FactionID string `json:"faction_id"`
}

// commandDTO is the wire form of every command kind. Only the fields the
// kind needs are read.
type commandDTO struct {
	CommanderID string `json:"commander_id"`
	FactionID   string `json:"faction_id"`
	Kind        string `json:"kind"`
	Priority    string `json:"priority,omitempty"`

	Units    []string                  `json:"units,omitempty"`
	Target   *vec3DTO                  `json:"target,omitempty"`
	TargetID string                    `json:"target_id,omitempty"`
	Energy   *fleet.EnergyDistribution `json:"energy,omitempty"`

	FleetID           string `json:"fleet_id,omitempty"`
	Formation         string `json:"formation,omitempty"`
	FormationPriority string `json:"formation_priority,omitempty"`

	Maneuver  string   `json:"maneuver,omitempty"`
	Direction *vec3DTO `json:"direction,omitempty"`
	Distance  float64  `json:"distance,omitempty"`
}

func (c commandDTO) toCommand() (command.Command, command.Priority, error) {
	prio, ok := command.ParsePriority(c.Priority)
	if !ok {
		return nil, 0, command.Reject(command.CodeInvalidCommand, "unknown priority %q", c.Priority)
	}
	var cmd command.Command
	switch command.Kind(strings.ToUpper(strings.TrimSpace(c.Kind))) {
	case command.KindMove:
		if c.Target == nil {
			return nil, 0, command.Reject(command.CodeInvalidCommand, "move needs a target position")
		}
		cmd = command.Move{Units: c.Units, Target: c.Target.toVec3()}
	case command.KindAttack:
		cmd = command.Attack{Units: c.Units, TargetID: c.TargetID}
	case command.KindStop:
		cmd = command.Stop{Units: c.Units}
	case command.KindRetreat:
		cmd = command.Retreat{Units: c.Units}
	case command.KindEnergyDistribution:
		if c.Energy == nil {
			return nil, 0, command.Reject(command.CodeInvalidEnergy, "energy distribution missing")
		}
		cmd = command.EnergyDistribution{Units: c.Units, Energy: *c.Energy}
	case command.KindChangeFormation:
		fp := formation.ChangePriority(strings.ToUpper(strings.TrimSpace(c.FormationPriority)))
		if fp == "" {
			fp = formation.PriorityNormal
		}
		ft, _ := formation.ParseType(c.Formation)
		cmd = command.ChangeFormation{FleetID: c.FleetID, Formation: ft, Priority: fp}
	case command.KindManeuver:
		var params formation.ManeuverParams
		if c.Direction != nil {
			params.Direction = c.Direction.toVec3()
		}
		params.Distance = c.Distance
		cmd = command.Maneuver{
			Units:  c.Units,
			Type:   formation.ManeuverType(strings.ToUpper(strings.TrimSpace(c.Maneuver))),
			Params: params,
		}
	default:
		return nil, 0, command.Reject(command.CodeInvalidCommand, "unknown command kind %q", c.Kind)
	}
	return cmd, prio, nil
}

type cancelResultDTO struct {
	Command          game.CommandPayload `json:"command"`
	ChaosProbability float64             `json:"chaos_probability"`
}

type ewAttackDTO struct {
	AttackerFactionID string  `json:"attacker_faction_id"`
	TargetFactionID   string  `json:"target_faction_id"`
	Intensity         float64 `json:"intensity"`
	Duration          int     `json:"duration"`
}

type ewSpreadDTO struct {
	FactionID string  `json:"faction_id"`
	Intensity float64 `json:"intensity"`
	Duration  int     `json:"duration"`
	Scope     string  `json:"scope"`
}

func (d ewSpreadDTO) scope() ewar.Scope {
	s := ewar.Scope(strings.ToUpper(strings.TrimSpace(d.Scope)))
	if s == "" {
		return ewar.ScopeLocal
	}
	return s
}

type jammingDTO struct {
	ewar.State
	LevelName string `json:"level_name"`
}

type repairDTO struct {
	FactionID  string `json:"faction_id"`
	TargetID   string `json:"target_id"`
	RepairerID string `json:"repairer_id"`
	Component  string `json:"component"`
	RepairType string `json:"repair_type"`
}

type civilWarDTO struct {
	Mapping map[string]string `json:"mapping"`
}

type civilSurrenderDTO struct {
	CivilFactionID string `json:"civil_faction_id"`
}

type legitimacyDTO struct {
	CivilFactionID string   `json:"civil_faction_id"`
	Legitimacy     float64  `json:"legitimacy"`
	FriendlyFire   float64  `json:"friendly_fire_probability"`
	BaseFactionIDs []string `json:"base_faction_ids"`
}

type errorDTO struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// wsEnvelope is every frame sent on the event stream.
type wsEnvelope struct {
	Type     string               `json:"type"` // event | snapshot | command:ack | command:reject
	Event    *game.Event          `json:"event,omitempty"`
	Snapshot *game.Snapshot       `json:"snapshot,omitempty"`
	Command  *game.CommandPayload `json:"command,omitempty"`
	Error    *errorDTO            `json:"error,omitempty"`
}
