package damage

import (
	"math"

	"TacticalCore/internal/fleet"

	"github.com/google/uuid"
)

type RepairType string

const (
	RepairField RepairType = "FIELD"
	RepairDock  RepairType = "DOCK"
)

// RepairProfile fixes the limits of one repair type.
type RepairProfile struct {
	Cap           float64 // max health fraction restorable
	RatePerTick   float64 // fraction of max health per tick
	MaterialPerHP float64
}

var repairProfiles = map[RepairType]RepairProfile{
	RepairField: {Cap: 0.8, RatePerTick: 0.01, MaterialPerHP: 1.0},
	RepairDock:  {Cap: 1.0, RatePerTick: 0.03, MaterialPerHP: 0.6},
}

const FieldRepairRange = 300.0

func (t RepairType) Profile() (RepairProfile, bool) {
	p, ok := repairProfiles[t]
	return p, ok
}

type RepairTask struct {
	ID                  string        `json:"id"`
	TargetID            string        `json:"target_id"`
	RepairerID          string        `json:"repairer_id"`
	Component           ComponentType `json:"component"`
	Type                RepairType    `json:"type"`
	StartTick           int64         `json:"start_tick"`
	EstimatedCompletion int64         `json:"estimated_completion"`
	MaterialCost        float64       `json:"material_cost"`
	TargetHealth        float64       `json:"target_health"`
	RatePerTick         float64       `json:"rate_per_tick"`
	Restored            float64       `json:"restored"`
}

// StartRepair assigns an engineering ship to restore one component of a
// friendly unit. Field repairs need the repairer within range and cannot
// revive a destroyed component.
func (s *System) StartRepair(target, repairer *fleet.Unit, ct ComponentType, rt RepairType, tick int64) (RepairTask, error) {
	prof, ok := rt.Profile()
	if !ok {
		return RepairTask{}, ErrInvalidRepairType
	}
	if !target.Alive() || !repairer.Alive() {
		return RepairTask{}, ErrUnitUnavailable
	}
	if repairer.Spec.Role != fleet.RoleEngineering {
		return RepairTask{}, ErrNotEngineering
	}
	if repairer.FactionID != target.FactionID {
		return RepairTask{}, ErrFactionMismatch
	}
	st := s.state(target)
	c := st.find(ct)
	if c == nil {
		return RepairTask{}, ErrUnknownComponent
	}
	if rt == RepairField {
		if target.Position.Dist(repairer.Position) > FieldRepairRange {
			return RepairTask{}, ErrOutOfRange
		}
		if c.Destroyed {
			return RepairTask{}, ErrComponentDestroyed
		}
	}
	for _, t := range s.tasks {
		if t.TargetID == target.ID && t.Component == ct {
			return RepairTask{}, ErrAlreadyRepairing
		}
	}
	goal := c.MaxHealth * prof.Cap
	missing := goal - c.Health
	if missing <= 0 {
		return RepairTask{}, ErrNothingToRepair
	}
	rate := c.MaxHealth * prof.RatePerTick
	ticks := int64(math.Ceil(fleet.Ratio(missing, rate, 1)))
	task := &RepairTask{
		ID:                  uuid.NewString(),
		TargetID:            target.ID,
		RepairerID:          repairer.ID,
		Component:           ct,
		Type:                rt,
		StartTick:           tick,
		EstimatedCompletion: tick + ticks,
		MaterialCost:        missing * prof.MaterialPerHP,
		TargetHealth:        goal,
		RatePerTick:         rate,
	}
	s.tasks = append(s.tasks, task)
	st.addRepairing(task.EstimatedCompletion, repairer.ID, tick)
	return *task, nil
}

func (st *unitState) addRepairing(until int64, source string, tick int64) {
	for i, d := range st.debuffs {
		if d.Type == DebuffRepairing {
			if until > d.UntilTick {
				st.debuffs[i].UntilTick = until
			}
			return
		}
	}
	st.debuffs = append(st.debuffs, Debuff{Type: DebuffRepairing, Source: source, SinceTick: tick, UntilTick: until})
}

// RepairTasks returns the active tasks in start order.
func (s *System) RepairTasks() []RepairTask {
	out := make([]RepairTask, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = *t
	}
	return out
}

// RepairTickResult lists the tasks that left the queue this tick.
type RepairTickResult struct {
	Completed []RepairTask
	Aborted   []RepairTask
}

// ProcessRepairTasks advances every task one tick. Tasks whose target is
// gone, or whose field repairer died or drifted out of range, are aborted.
func (s *System) ProcessRepairTasks(tick int64, units map[string]*fleet.Unit) RepairTickResult {
	var res RepairTickResult
	kept := s.tasks[:0]
	touched := make(map[string]bool)
	for _, t := range s.tasks {
		target := units[t.TargetID]
		repairer := units[t.RepairerID]
		st, ok := s.units[t.TargetID]
		if !target.Alive() || !ok {
			res.Aborted = append(res.Aborted, *t)
			touched[t.TargetID] = true
			continue
		}
		if t.Type == RepairField && (!repairer.Alive() || target.Position.Dist(repairer.Position) > FieldRepairRange) {
			res.Aborted = append(res.Aborted, *t)
			touched[t.TargetID] = true
			continue
		}
		c := st.find(t.Component)
		before := c.Health
		c.setHealth(math.Min(c.Health+t.RatePerTick, t.TargetHealth))
		t.Restored += c.Health - before
		st.applyThresholds(c, t.RepairerID, tick)
		if c.Health >= t.TargetHealth-1e-9 {
			res.Completed = append(res.Completed, *t)
			touched[t.TargetID] = true
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(s.tasks); i++ {
		s.tasks[i] = nil
	}
	s.tasks = kept

	for id := range touched {
		if st, ok := s.units[id]; ok && !s.hasTask(id) {
			st.remove(DebuffRepairing)
		}
	}
	s.expireDebuffs(tick)
	return res
}

func (s *System) hasTask(unitID string) bool {
	for _, t := range s.tasks {
		if t.TargetID == unitID {
			return true
		}
	}
	return false
}

func (s *System) expireDebuffs(tick int64) {
	for id, st := range s.units {
		kept := st.debuffs[:0]
		for _, d := range st.debuffs {
			if d.UntilTick > 0 && tick >= d.UntilTick && !(d.Type == DebuffRepairing && s.hasTask(id)) {
				continue
			}
			kept = append(kept, d)
		}
		st.debuffs = kept
	}
}
