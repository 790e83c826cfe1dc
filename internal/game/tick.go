package game

import (
	"math"

	"TacticalCore/internal/fleet"
	"TacticalCore/internal/formation"
)

// Step advances the battle by one tick. The phase order is fixed; two
// sessions with the same seed and the same command stream evolve
// identically. Returns false when the session is not active.
func (s *Session) Step() bool {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive || s.destroyed {
		return false
	}
	s.tick++
	dt := s.params.Dt()

	s.stepPhysics(dt)
	s.stepFormations(dt)
	s.stepCommands()
	s.stepCombat(dt)
	s.stepDamageControl()
	s.stepEWar()
	s.stepRetreats()
	if s.tick%s.params.SnapshotEvery == 0 {
		s.emit(EventBattleUpdate, s.snapshotLocked())
	}
	s.checkTermination()
	return true
}

// maxSpeed folds every speed factor that applies to the unit right now.
func (s *Session) maxSpeed(u *fleet.Unit) float64 {
	engine := fleet.Clamp(0.5+0.5*fleet.Factor(u.Energy.Engine), 0.5, 2)
	v := u.Spec.MaxSpeed * engine *
		s.formations.Modifiers(u.FleetID).Speed *
		s.damage.Effects(u.ID).Speed *
		s.formations.ManeuverSpeed(u.ID)
	if u.Spec.MaxFuel > 0 && u.Fuel <= 0 {
		v *= FuelStarvedSpeed
	}
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

// EffectiveMaxSpeed reports the unit's current speed cap.
func (s *Session) EffectiveMaxSpeed(unitID string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[unitID]
	if !ok {
		return 0, false
	}
	return s.maxSpeed(u), true
}

// goal returns where the unit is trying to go and how close it wants to get.
func (s *Session) goal(u *fleet.Unit) (fleet.Vec3, float64, bool) {
	if u.TargetPos != nil {
		return *u.TargetPos, 0, true
	}
	if u.TargetID == "" || u.Retreating {
		return fleet.Vec3{}, 0, false
	}
	t, ok := s.units[u.TargetID]
	if !ok || !s.active(t) {
		return fleet.Vec3{}, 0, false
	}
	standoff := u.Spec.Range * ChaseRangeFactor
	if u.Position.Dist(t.Position) <= u.Spec.Range {
		// In range: hold position and face the target.
		return t.Position, math.Inf(1), true
	}
	return t.Position, standoff, true
}

func (s *Session) stepPhysics(dt float64) {
	drag := s.params.Drag
	for _, u := range s.roster() {
		if !u.Alive() {
			u.Velocity = fleet.Vec3{}
			u.AngularVelocity = fleet.Vec3{}
			continue
		}
		maxSpeed := s.maxSpeed(u)
		turn := u.Spec.TurnRate * s.formations.Modifiers(u.FleetID).TurnRate * dt
		maneuvering := s.formations.IsManeuvering(u.ID)
		wingman := s.formations.IsWingman(u.ID) && !formation.Detached(u)

		switch {
		case u.Chaos:
			// Adrift: drag only.
			u.Velocity = u.Velocity.Scale(math.Max(0, 1-drag*dt))
		case maneuvering || wingman:
			// Velocity comes from the maneuver or from formation steering.
		default:
			desired := fleet.Vec3{}
			if goal, standoff, ok := s.goal(u); ok {
				to := goal.Sub(u.Position)
				dist := to.Len()
				if standoff > 0 || dist > ArrivalEpsilon {
					if dist > 1e-9 {
						u.SetYaw(fleet.TurnToward(u.Yaw(), math.Atan2(to.Y, to.X), turn))
					}
				}
				if !math.IsInf(standoff, 1) {
					remaining := dist - standoff
					if u.TargetPos != nil && remaining <= ArrivalEpsilon {
						u.TargetPos = nil
					} else if remaining > 0 {
						// Slow down on approach so the unit does not overshoot.
						speed := math.Min(maxSpeed, math.Sqrt(2*u.Spec.Acceleration*remaining))
						desired = to.Unit().Scale(speed)
					}
				}
			}
			dv := desired.Sub(u.Velocity).ClampLen(u.Spec.Acceleration * dt)
			u.Velocity = u.Velocity.Add(dv).Scale(math.Max(0, 1-drag*dt))
		}
		u.Velocity = u.Velocity.ClampLen(maxSpeed)

		step := u.Velocity.Scale(dt)
		u.Position = u.Position.Add(step)
		if moved := step.Len(); moved > 0 && s.params.FuelPerUnit > 0 {
			u.SetFuel(u.Fuel - moved*s.params.FuelPerUnit)
		}
	}
}

func (s *Session) stepFormations(dt float64) {
	for _, c := range s.formations.UpdateAll(dt) {
		s.emit(EventFormationChanged, FormationPayload{FleetID: c.FleetID, From: c.From, To: c.To})
	}
	roster := s.roster()
	for _, m := range s.formations.UpdateManeuvers(roster, dt) {
		s.emit(EventManeuverComplete, ManeuverPayload{UnitID: m.UnitID, Type: m.Type})
	}
	for _, id := range s.formations.Fleets() {
		_, _ = s.formations.UpdateWingmanPositions(id, roster, dt)
	}
}

func (s *Session) stepDamageControl() {
	repairs := s.damage.ProcessRepairTasks(s.tick, s.units)
	for _, t := range repairs.Completed {
		s.emit(EventRepairCompleted, RepairPayload{Task: t})
	}
	for _, t := range repairs.Aborted {
		s.emit(EventRepairCompleted, RepairPayload{Task: t, Aborted: true})
	}
	for _, u := range s.roster() {
		if s.active(u) {
			s.damage.RegenerateShields(u, s.params.ShieldRegenPerTick)
		}
	}
	// Explosions cascade: a unit destroyed by a blast queues its own.
	for len(s.explosions) > 0 {
		id := s.explosions[0]
		s.explosions = s.explosions[1:]
		src := s.units[id]
		ex := s.damage.ProcessChainExplosion(src, s.roster(), s.tick)
		s.emit(EventChainExplosion, ex)
		for _, h := range ex.Hits {
			t := s.units[h.UnitID]
			s.recordDamage(src.FactionID, t.FactionID, h.Result.Total())
			s.moraleHit(t, h.Result.HullDamage)
			s.emit(EventDamage, DamagePayload{
				AttackerID:      src.ID,
				AttackerFaction: src.FactionID,
				TargetID:        t.ID,
				TargetFaction:   t.FactionID,
				Chain:           true,
				Hit:             h.Result,
				After:           vitalsOf(t),
			})
			if !h.Result.Destroyed {
				s.checkMorale(t)
			}
		}
		for _, id := range ex.Destroyed() {
			s.destroyUnit(s.units[id], src.ID)
		}
	}
}

func (s *Session) stepEWar() {
	for _, c := range s.ewar.Tick(s.ID, s.tick) {
		s.emit(EventJammingLevelChanged, jammingPayload(c))
	}
}

// stepRetreats takes retreating units out of the battle once they are clear
// of every enemy. A retreated faction whose units have all escaped or died
// is marked retreated.
func (s *Session) stepRetreats() {
	for _, u := range s.roster() {
		if !u.Retreating || !s.active(u) {
			continue
		}
		if s.nearestEnemy(u) <= s.params.RetreatEscapeDistance {
			continue
		}
		s.escaped[u.ID] = true
		u.Velocity = fleet.Vec3{}
		u.TargetPos = nil
		s.formations.RemoveUnit(u.ID)
	}
	for _, f := range s.factionOrder {
		p := s.participants[f]
		if p.Retreated {
			continue
		}
		escaped, remaining := 0, 0
		for _, u := range s.roster() {
			if u.FactionID != f {
				continue
			}
			if s.escaped[u.ID] {
				escaped++
			} else if u.Alive() {
				remaining++
			}
		}
		if escaped > 0 && remaining == 0 {
			p.Retreated = true
		}
	}
}

func (s *Session) nearestEnemy(u *fleet.Unit) float64 {
	best := math.Inf(1)
	for _, o := range s.roster() {
		if o.FactionID == u.FactionID || !s.active(o) {
			continue
		}
		if d := u.Position.Dist(o.Position); d < best {
			best = d
		}
	}
	return best
}

// orderRetreat points the unit away from the enemy centroid.
func (s *Session) orderRetreat(u *fleet.Unit) {
	var sum fleet.Vec3
	n := 0
	for _, o := range s.roster() {
		if o.FactionID != u.FactionID && s.active(o) {
			sum = sum.Add(o.Position)
			n++
		}
	}
	away := fleet.Heading(u.Yaw()).Scale(-1)
	if n > 0 {
		if d := u.Position.Sub(sum.Scale(1 / float64(n))).Unit(); d.Len() > 0 {
			away = d
		}
	}
	dest := u.Position.Add(away.Scale(RetreatDistance))
	u.Retreating = true
	u.TargetID = ""
	u.TargetPos = &dest
}

func (s *Session) combatPower(factionID string) float64 {
	var total float64
	for _, u := range s.roster() {
		if u.FactionID == factionID && s.active(u) {
			total += u.CombatPower()
		}
	}
	return total
}

func (s *Session) checkTermination() {
	if s.status != StatusActive {
		return
	}
	var standing []string
	for _, f := range s.factionOrder {
		p := s.participants[f]
		if p.Retreated || p.Surrendered {
			continue
		}
		if s.combatPower(f) > 0 {
			standing = append(standing, f)
		}
	}
	switch {
	case len(standing) == 1:
		s.end(standing[0], s.endReason(standing[0]))
	case len(standing) == 0:
		s.end("", EndDraw)
	case s.tick >= s.params.MaxTicks:
		s.end(s.strongest(standing), EndTimeout)
	}
}

func (s *Session) endReason(winner string) EndReason {
	reason := EndAnnihilation
	for _, f := range s.factionOrder {
		if f == winner {
			continue
		}
		p := s.participants[f]
		switch {
		case p.Surrendered:
			return EndSurrender
		case p.Retreated:
			reason = EndRetreat
		}
	}
	return reason
}

// strongest picks the faction with the most combat power, or "" on a tie.
func (s *Session) strongest(factions []string) string {
	best, bestPower, tie := "", -1.0, false
	for _, f := range factions {
		p := s.combatPower(f)
		switch {
		case p > bestPower:
			best, bestPower, tie = f, p, false
		case p == bestPower:
			tie = true
		}
	}
	if tie {
		return ""
	}
	return best
}

func (s *Session) end(winner string, reason EndReason) {
	s.status = StatusEnded
	s.result = &Result{
		Winner:     winner,
		Reason:     reason,
		EndTick:    s.tick,
		Casualties: s.casualties(),
	}
	s.projectiles = nil
	s.emit(EventBattleEnd, s.result.clone())
	s.logger.Printf("battle %s: ended at tick %d, winner=%q reason=%s", s.ID, s.tick, winner, reason)
}

func (s *Session) casualties() map[string]Casualties {
	out := make(map[string]Casualties, len(s.factionOrder))
	for _, f := range s.factionOrder {
		var c Casualties
		for _, u := range s.roster() {
			if u.FactionID != f {
				continue
			}
			c.UnitsTotal++
			c.ShipsTotal += u.MaxShipCount
			c.ShipsLost += u.MaxShipCount - u.ShipCount
			switch {
			case u.Destroyed:
				c.UnitsLost++
			case s.escaped[u.ID]:
				c.UnitsEscaped++
			}
		}
		if st := s.stats[f]; st != nil {
			c.DamageTaken = st.damageTaken
			c.DamageDealt = st.damageDealt
		}
		out[f] = c
	}
	return out
}
