// Package ewar tracks electronic warfare state per (battle, faction): the
// minovsky particle density and the jamming level derived from it.
//
// The System is shared by every battle of a manager; per-battle maps are
// created on Initialize and dropped by ClearBattle.
package ewar

import (
	"errors"
	"sort"
	"sync"
)

type Level int

const (
	LevelClear Level = iota
	LevelInterference
	LevelHeavy
	LevelBlackout
)

func (l Level) String() string {
	switch l {
	case LevelClear:
		return "CLEAR"
	case LevelInterference:
		return "INTERFERENCE"
	case LevelHeavy:
		return "HEAVY"
	case LevelBlackout:
		return "BLACKOUT"
	}
	return "UNKNOWN"
}

// Multiplier scales the jamming component of command delay.
func (l Level) Multiplier() float64 {
	switch l {
	case LevelInterference:
		return 0.5
	case LevelHeavy:
		return 1.0
	case LevelBlackout:
		return 2.0
	}
	return 0
}

type Scope string

const (
	ScopeLocal  Scope = "LOCAL"
	ScopeGlobal Scope = "GLOBAL"
)

var (
	ErrUnknownFaction = errors.New("ewar: faction not initialized for battle")
	ErrInvalidScope   = errors.New("ewar: invalid scope")
)

// State is the jamming picture of one faction in one battle.
type State struct {
	BattleID        string  `json:"battle_id"`
	FactionID       string  `json:"faction_id"`
	Density         float64 `json:"density"`
	Level           Level   `json:"level"`
	UnderAttack     bool    `json:"under_attack"`
	AttackSource    string  `json:"attack_source,omitempty"`
	AttackRemaining int     `json:"attack_remaining"`
}

// LevelChange records a jamming level transition.
type LevelChange struct {
	BattleID  string
	FactionID string
	From      Level
	To        Level
	Density   float64
}

type System struct {
	mu     sync.RWMutex
	params Params
	states map[string]map[string]*State
}

func NewSystem(params Params) *System {
	return &System{
		params: SanitizeParams(params),
		states: make(map[string]map[string]*State),
	}
}

func (s *System) Params() Params { return s.params }

// LevelForDensity maps density onto the fixed breakpoints.
func (p Params) LevelForDensity(density float64) Level {
	switch {
	case density >= p.BlackoutAt:
		return LevelBlackout
	case density >= p.HeavyAt:
		return LevelHeavy
	case density >= p.InterferenceAt:
		return LevelInterference
	}
	return LevelClear
}

// LevelForDensity uses the default breakpoints.
func LevelForDensity(density float64) Level {
	return DefaultParams().LevelForDensity(density)
}

func clampDensity(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > MaxDensity {
		return MaxDensity
	}
	return v
}

func (s *System) Initialize(battleID, factionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	battle, ok := s.states[battleID]
	if !ok {
		battle = make(map[string]*State)
		s.states[battleID] = battle
	}
	battle[factionID] = &State{BattleID: battleID, FactionID: factionID, Level: LevelClear}
}

func (s *System) stateLocked(battleID, factionID string) (*State, error) {
	st, ok := s.states[battleID][factionID]
	if !ok {
		return nil, ErrUnknownFaction
	}
	return st, nil
}

// setDensityLocked writes density and reports a level transition, if any.
func (s *System) setDensityLocked(st *State, density float64) *LevelChange {
	st.Density = clampDensity(density)
	next := s.params.LevelForDensity(st.Density)
	if next == st.Level {
		return nil
	}
	change := &LevelChange{
		BattleID:  st.BattleID,
		FactionID: st.FactionID,
		From:      st.Level,
		To:        next,
		Density:   st.Density,
	}
	st.Level = next
	return change
}

// Attack raises the target faction's density by intensity (0..100) and marks
// it under attack for duration ticks.
func (s *System) Attack(battleID, attackerID, targetID string, intensity float64, duration int) (*LevelChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.stateLocked(battleID, targetID)
	if err != nil {
		return nil, err
	}
	intensity = clampDensity(intensity)
	if duration < 0 {
		duration = 0
	}
	if duration > 0 {
		st.UnderAttack = true
		st.AttackSource = attackerID
		if duration > st.AttackRemaining {
			st.AttackRemaining = duration
		}
	}
	return s.setDensityLocked(st, st.Density+intensity), nil
}

// Spread releases particles. LOCAL affects only the source faction; GLOBAL
// affects every other faction in the battle.
func (s *System) Spread(battleID, sourceID string, intensity float64, duration int, scope Scope) ([]LevelChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	battle, ok := s.states[battleID]
	if !ok {
		return nil, ErrUnknownFaction
	}
	if _, ok := battle[sourceID]; !ok {
		return nil, ErrUnknownFaction
	}
	var targets []string
	switch scope {
	case ScopeLocal:
		targets = []string{sourceID}
	case ScopeGlobal:
		for _, id := range sortedFactions(battle) {
			if id != sourceID {
				targets = append(targets, id)
			}
		}
	default:
		return nil, ErrInvalidScope
	}
	intensity = clampDensity(intensity)
	var changes []LevelChange
	for _, id := range targets {
		st := battle[id]
		if duration > 0 {
			st.UnderAttack = true
			st.AttackSource = sourceID
			if duration > st.AttackRemaining {
				st.AttackRemaining = duration
			}
		}
		if c := s.setDensityLocked(st, st.Density+intensity); c != nil {
			changes = append(changes, *c)
		}
	}
	return changes, nil
}

// Tick decays density for every faction in the battle and counts down
// attack windows.
func (s *System) Tick(battleID string, _ int64) []LevelChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	battle, ok := s.states[battleID]
	if !ok {
		return nil
	}
	var changes []LevelChange
	for _, id := range sortedFactions(battle) {
		st := battle[id]
		rate := s.params.DecayRate
		if st.UnderAttack {
			rate = s.params.AttackDecayRate
			st.AttackRemaining--
			if st.AttackRemaining <= 0 {
				st.AttackRemaining = 0
				st.UnderAttack = false
				st.AttackSource = ""
			}
		}
		if c := s.setDensityLocked(st, st.Density-rate); c != nil {
			changes = append(changes, *c)
		}
	}
	return changes
}

// Clear is the player countermeasure: it lowers density by ClearAmount.
func (s *System) Clear(battleID, factionID string) (*LevelChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.stateLocked(battleID, factionID)
	if err != nil {
		return nil, err
	}
	return s.setDensityLocked(st, st.Density-s.params.ClearAmount), nil
}

// Level returns the faction's jamming level; unknown factions read as CLEAR.
func (s *System) Level(battleID, factionID string) Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[battleID][factionID]; ok {
		return st.Level
	}
	return LevelClear
}

func (s *System) State(battleID, factionID string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[battleID][factionID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// States returns copies of every faction state in the battle, sorted by faction.
func (s *System) States(battleID string) []State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	battle := s.states[battleID]
	out := make([]State, 0, len(battle))
	for _, id := range sortedFactions(battle) {
		out = append(out, *battle[id])
	}
	return out
}

func (s *System) ClearBattle(battleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, battleID)
}

func (s *System) BattleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

func sortedFactions(battle map[string]*State) []string {
	ids := make([]string, 0, len(battle))
	for id := range battle {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
