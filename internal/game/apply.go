package game

import (
	"fmt"

	"TacticalCore/internal/command"
	"TacticalCore/internal/damage"
	"TacticalCore/internal/ewar"
	"TacticalCore/internal/fleet"
)

// QueueCommand validates an order and hands it to the delay scheduler.
// Every rejection happens before any state changes.
func (s *Session) QueueCommand(commanderID, factionID string, cmd command.Command, priority command.Priority) (command.Delayed, error) {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return command.Delayed{}, command.Reject(command.CodeSessionNotActive, "battle %s is %s", s.ID, s.status)
	}
	p, ok := s.participants[factionID]
	if !ok || !p.hasCommander(commanderID) {
		return command.Delayed{}, command.Reject(command.CodeNotParticipant, "commander %s is not registered for %s", commanderID, factionID)
	}
	if p.Retreated || p.Surrendered {
		return command.Delayed{}, command.Reject(command.CodeNotParticipant, "faction %s has left the battle", factionID)
	}
	if cmd == nil {
		return command.Delayed{}, command.Reject(command.CodeInvalidCommand, "nil command")
	}
	if err := cmd.Validate(); err != nil {
		return command.Delayed{}, err
	}
	for _, id := range cmd.UnitIDs() {
		if err := s.checkOrderable(factionID, id); err != nil {
			return command.Delayed{}, err
		}
	}
	addressed := s.addressed(cmd)
	switch c := cmd.(type) {
	case command.Attack:
		t, ok := s.units[c.TargetID]
		if !ok || !s.active(t) {
			return command.Delayed{}, command.Reject(command.CodeInvalidCommand, "unknown or destroyed target %s", c.TargetID)
		}
		if t.FactionID == factionID {
			return command.Delayed{}, command.Reject(command.CodeInvalidCommand, "target %s belongs to %s", c.TargetID, factionID)
		}
	case command.ChangeFormation:
		st, ok := s.formations.State(c.FleetID)
		if !ok {
			return command.Delayed{}, command.Reject(command.CodeInvalidFormation, "unknown fleet %s", c.FleetID)
		}
		if leader := s.units[st.LeaderID]; leader == nil || leader.FactionID != factionID {
			return command.Delayed{}, command.Reject(command.CodeUnitNotOwned, "fleet %s is not owned by %s", c.FleetID, factionID)
		}
	}

	d, err := s.scheduler.QueueCommand(command.Request{
		BattleID:          s.ID,
		CommanderID:       commanderID,
		FactionID:         factionID,
		Command:           cmd,
		Priority:          priority,
		CurrentTick:       s.tick,
		Distance:          s.commandDistance(commanderID, factionID, addressed),
		CommanderSkill:    p.CommanderSkills[commanderID],
		CommandCapability: s.commandCapability(addressed),
	})
	if err != nil {
		return command.Delayed{}, err
	}
	s.emit(EventCommandQueued, CommandPayloadOf(d))
	return d, nil
}

func (s *Session) checkOrderable(factionID, unitID string) error {
	u, ok := s.units[unitID]
	if !ok || u.FactionID != factionID {
		return command.Reject(command.CodeUnitNotOwned, "unit %s is not owned by %s", unitID, factionID)
	}
	if !s.active(u) || u.Chaos || !s.damage.Effects(u.ID).CanReceiveOrders {
		return command.Reject(command.CodeUnitUnavailable, "unit %s cannot receive orders", unitID)
	}
	return nil
}

// addressed lists the units an order reaches; fleet-level orders reach the
// fleet's current members.
func (s *Session) addressed(cmd command.Command) []*fleet.Unit {
	var ids []string
	if c, ok := cmd.(command.ChangeFormation); ok {
		if st, ok := s.formations.State(c.FleetID); ok {
			ids = append(ids, st.LeaderID)
			for _, w := range st.Wingmen {
				ids = append(ids, w.UnitID)
			}
		}
	} else {
		ids = cmd.UnitIDs()
	}
	out := make([]*fleet.Unit, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.units[id]; ok {
			out = append(out, u)
		}
	}
	return out
}

// commandDistance is how far the order travels: from the commander's
// flagship to the farthest addressed unit.
func (s *Session) commandDistance(commanderID, factionID string, units []*fleet.Unit) float64 {
	var flagship *fleet.Unit
	for _, u := range s.roster() {
		if u.CommanderID == commanderID && u.FactionID == factionID && s.active(u) {
			flagship = u
			break
		}
	}
	if flagship == nil {
		return 0
	}
	var far float64
	for _, u := range units {
		if d := flagship.Position.Dist(u.Position); d > far {
			far = d
		}
	}
	return far
}

// commandCapability is the worst bridge-limited capability among the
// addressed units; the slowest receiver sets the pace.
func (s *Session) commandCapability(units []*fleet.Unit) float64 {
	capability := 1.0
	for _, u := range units {
		if c := s.damage.Effects(u.ID).CommandCapability; c < capability {
			capability = c
		}
	}
	return capability
}

func (s *Session) stepCommands() {
	res := s.scheduler.ProcessTick(s.ID, s.tick)
	for _, d := range res.Failed {
		s.emit(EventCommandFailed, CommandPayloadOf(d))
	}
	for _, d := range res.Executed {
		s.emit(EventCommandExecuting, CommandPayloadOf(d))
		applyErr := s.apply(d)
		done, err := s.scheduler.Finish(d.ID, applyErr)
		if err != nil {
			continue
		}
		if done.Status == command.StatusCompleted {
			s.emit(EventCommandCompleted, CommandPayloadOf(done))
		} else {
			s.emit(EventCommandFailed, CommandPayloadOf(done))
		}
	}
}

// orderable filters the addressed units down to those that can still act.
// Units may have died or lost their bridge while the order was in transit.
func (s *Session) orderable(factionID string, ids []string) ([]*fleet.Unit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]*fleet.Unit, 0, len(ids))
	for _, id := range ids {
		if s.checkOrderable(factionID, id) == nil {
			out = append(out, s.units[id])
		}
	}
	if len(out) == 0 {
		return nil, ErrNoOrderableUnits
	}
	return out, nil
}

// apply carries out an executing order. The switch covers every command
// kind; anything else is a programming error and fails the command.
func (s *Session) apply(d command.Delayed) error {
	units, err := s.orderable(d.FactionID, d.Command.UnitIDs())
	if err != nil {
		return err
	}
	switch c := d.Command.(type) {
	case command.Move:
		for _, u := range units {
			target := c.Target
			u.TargetPos = &target
			u.TargetID = ""
			u.Retreating = false
		}
	case command.Attack:
		t, ok := s.units[c.TargetID]
		if !ok || !s.active(t) {
			return ErrTargetLost
		}
		for _, u := range units {
			u.TargetID = c.TargetID
			u.TargetPos = nil
			u.Retreating = false
		}
	case command.Stop:
		for _, u := range units {
			u.TargetID = ""
			u.TargetPos = nil
			u.Retreating = false
		}
	case command.Retreat:
		for _, u := range units {
			s.orderRetreat(u)
		}
	case command.EnergyDistribution:
		if err := c.Energy.Validate(); err != nil {
			return err
		}
		for _, u := range units {
			u.Energy = c.Energy
		}
	case command.ChangeFormation:
		if _, err := s.formations.StartFormationChange(c.FleetID, c.Formation, c.Priority); err != nil {
			return err
		}
	case command.Maneuver:
		if err := s.formations.ExecuteManeuver(units, c.Type, c.Params); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnhandledCommand, c)
	}
	return nil
}

// CancelCommand cancels a QUEUED order of this battle and lets the cancel
// policy penalize the units it addressed.
func (s *Session) CancelCommand(commandID string) (command.CancelResult, error) {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.scheduler.Get(commandID)
	if !ok || d.BattleID != s.ID {
		return command.CancelResult{}, command.Reject(command.CodeNotFound, "command %s", commandID)
	}
	res, err := s.scheduler.CancelCommand(commandID)
	if err != nil {
		return command.CancelResult{}, err
	}
	s.emit(EventCommandCancelled, CommandPayloadOf(res.Command))

	var live []*fleet.Unit
	for _, u := range s.addressed(res.Command.Command) {
		if s.active(u) && !u.Chaos {
			live = append(live, u)
		}
	}
	for _, id := range s.cancelPolicy.OnCancel(live, res.ChaosProbability, s.rng.Float64) {
		if u, ok := s.units[id]; ok {
			s.checkMorale(u)
		}
	}
	return res, nil
}

// CommandProgress is how far an order has travelled at Tick.
type CommandProgress struct {
	CommandID      string         `json:"command_id"`
	Status         command.Status `json:"status"`
	Tick           int64          `json:"tick"`
	Progress       float64        `json:"progress"`
	RemainingTicks int64          `json:"remaining_ticks"`
}

// CommandProgress reports the delay progress of one of this battle's orders
// at the current tick.
func (s *Session) CommandProgress(commandID string) (CommandProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.scheduler.Get(commandID)
	if !ok || d.BattleID != s.ID {
		return CommandProgress{}, command.Reject(command.CodeNotFound, "command %s", commandID)
	}
	progress, err := s.scheduler.Progress(commandID, s.tick)
	if err != nil {
		return CommandProgress{}, err
	}
	remaining, err := s.scheduler.RemainingDelay(commandID, s.tick)
	if err != nil {
		return CommandProgress{}, err
	}
	return CommandProgress{
		CommandID:      commandID,
		Status:         d.Status,
		Tick:           s.tick,
		Progress:       progress,
		RemainingTicks: remaining,
	}, nil
}

// PendingCommands lists this battle's queued orders in submission order.
func (s *Session) PendingCommands() []command.Delayed {
	return s.scheduler.Pending(s.ID)
}

func (s *Session) requireParticipant(factionID string) error {
	if _, ok := s.participants[factionID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFaction, factionID)
	}
	return nil
}

func (s *Session) requireRunning() error {
	if s.destroyed {
		return ErrSessionDestroyed
	}
	if s.status == StatusEnded {
		return ErrNotActive
	}
	return nil
}

// ExecuteEWAttack jams the target faction.
func (s *Session) ExecuteEWAttack(attackerFaction, targetFaction string, intensity float64, duration int) error {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRunning(); err != nil {
		return err
	}
	if err := s.requireParticipant(attackerFaction); err != nil {
		return err
	}
	if err := s.requireParticipant(targetFaction); err != nil {
		return err
	}
	change, err := s.ewar.Attack(s.ID, attackerFaction, targetFaction, intensity, duration)
	if err != nil {
		return err
	}
	if change != nil {
		s.emit(EventJammingLevelChanged, jammingPayload(*change))
	}
	return nil
}

func (s *Session) SpreadMinovskyParticles(factionID string, intensity float64, duration int, scope ewar.Scope) error {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRunning(); err != nil {
		return err
	}
	if err := s.requireParticipant(factionID); err != nil {
		return err
	}
	changes, err := s.ewar.Spread(s.ID, factionID, intensity, duration, scope)
	if err != nil {
		return err
	}
	for _, c := range changes {
		s.emit(EventJammingLevelChanged, jammingPayload(c))
	}
	return nil
}

func (s *Session) ClearJamming(factionID string) error {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRunning(); err != nil {
		return err
	}
	if err := s.requireParticipant(factionID); err != nil {
		return err
	}
	change, err := s.ewar.Clear(s.ID, factionID)
	if err != nil {
		return err
	}
	if change != nil {
		s.emit(EventJammingLevelChanged, jammingPayload(*change))
	}
	return nil
}

// Jamming returns the faction's EW state.
func (s *Session) Jamming(factionID string) (ewar.State, bool) {
	return s.ewar.State(s.ID, factionID)
}

// StartRepair assigns one of the faction's engineering ships to a
// component of a friendly unit.
func (s *Session) StartRepair(factionID, targetID, repairerID string, component damage.ComponentType, repairType damage.RepairType) (damage.RepairTask, error) {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return damage.RepairTask{}, ErrNotActive
	}
	target, ok := s.units[targetID]
	if !ok {
		return damage.RepairTask{}, fmt.Errorf("%w: %s", ErrUnknownUnit, targetID)
	}
	repairer, ok := s.units[repairerID]
	if !ok {
		return damage.RepairTask{}, fmt.Errorf("%w: %s", ErrUnknownUnit, repairerID)
	}
	if repairer.FactionID != factionID {
		return damage.RepairTask{}, command.Reject(command.CodeUnitNotOwned, "unit %s is not owned by %s", repairerID, factionID)
	}
	if s.escaped[targetID] || s.escaped[repairerID] {
		return damage.RepairTask{}, damage.ErrUnitUnavailable
	}
	task, err := s.damage.StartRepair(target, repairer, component, repairType, s.tick)
	if err != nil {
		return damage.RepairTask{}, err
	}
	s.emit(EventRepairStarted, RepairPayload{Task: task})
	return task, nil
}
