package game

import (
	"fmt"
	"math"

	"TacticalCore/internal/damage"
	"TacticalCore/internal/fleet"
)

// Projectile is a missile in flight. Its hit roll happens on arrival.
type Projectile struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id"`
	OwnerFaction   string     `json:"owner_faction"`
	TargetID       string     `json:"target_id"`
	Position       fleet.Vec3 `json:"position"`
	Velocity       fleet.Vec3 `json:"velocity"`
	Damage         float64    `json:"damage"`
	Penetration    float64    `json:"penetration"`
	HitChance      float64    `json:"hit_chance"`
	LaunchTick     int64      `json:"launch_tick"`
	ExpireTick     int64      `json:"expire_tick"`
	launchPosition fleet.Vec3
}

type EffectKind string

const (
	EffectBeam      EffectKind = "beam"
	EffectGun       EffectKind = "gun"
	EffectMissile   EffectKind = "missile_impact"
	EffectExplosion EffectKind = "explosion"
)

// Effect is a short-lived visual cue carried in snapshots.
type Effect struct {
	Kind       EffectKind `json:"kind"`
	SourceID   string     `json:"source_id,omitempty"`
	TargetID   string     `json:"target_id,omitempty"`
	Position   fleet.Vec3 `json:"position"`
	Hit        bool       `json:"hit"`
	Tick       int64      `json:"tick"`
	ExpireTick int64      `json:"expire_tick"`
}

// UnitVitals is a unit's defensive state after a hit.
type UnitVitals struct {
	Shields   [4]float64 `json:"shields"`
	Armor     float64    `json:"armor"`
	HP        float64    `json:"hp"`
	Morale    float64    `json:"morale"`
	ShipCount int        `json:"ship_count"`
}

func vitalsOf(u *fleet.Unit) UnitVitals {
	return UnitVitals{Shields: u.Shields, Armor: u.Armor, HP: u.HP, Morale: u.Morale, ShipCount: u.ShipCount}
}

func (s *Session) stepCombat(dt float64) {
	s.advanceProjectiles(dt)
	for _, a := range s.roster() {
		if !s.active(a) || a.Chaos || a.Retreating || a.TargetID == "" {
			continue
		}
		t, ok := s.units[a.TargetID]
		if !ok || !s.active(t) {
			a.TargetID = ""
			continue
		}
		if s.tick < a.NextFireTick {
			continue
		}
		d := a.Position.Dist(t.Position)
		if d > a.Spec.Range {
			continue
		}
		prof := weaponProfiles[a.Spec.Weapon]
		if prof.UsesAmmo {
			if a.Ammo <= 0 {
				continue
			}
			a.Ammo--
		}
		a.NextFireTick = s.tick + int64(a.Spec.FireInterval)
		chance := s.hitChance(a, t, d, prof)
		if prof.Projectile {
			s.launchMissile(a, t, chance, prof)
			continue
		}
		hit := s.rng.Float64() < chance
		kind := EffectGun
		if a.Spec.Weapon == fleet.WeaponBeam {
			kind = EffectBeam
		}
		s.addEffect(Effect{Kind: kind, SourceID: a.ID, TargetID: t.ID, Position: t.Position, Hit: hit})
		if !hit {
			continue
		}
		amount := s.damageAmount(a, t)
		s.applyHit(a.ID, a.FactionID, a.Position, t, amount, s.penetration(a, prof), a.Spec.Weapon)
	}
	s.pruneEffects()
}

// hitChance combines attacker accuracy, sensors, range falloff and the
// target's evasion, clamped to [MinHitChance, MaxHitChance].
func (s *Session) hitChance(a, t *fleet.Unit, d float64, prof weaponProfile) float64 {
	am := s.formations.Modifiers(a.FleetID)
	tm := s.formations.Modifiers(t.FleetID)
	sensor := math.Min(0.75+0.25*fleet.Factor(a.Energy.Sensor), 1.5)
	falloff := 1 - 0.3*fleet.Ratio(d, a.Spec.Range, 0)
	chance := a.Spec.Accuracy * prof.Accuracy * am.Accuracy * s.damage.Effects(a.ID).Accuracy *
		sensor * falloff * tm.ExposedArea

	speedFrac := fleet.Ratio(t.Velocity.Len(), t.Spec.MaxSpeed, 0)
	evasion := hullEvasion(t.Spec.Hull) * tm.Evasion * s.formations.ManeuverEvasion(t.ID) * (1 + 0.5*fleet.Clamp(speedFrac, 0, 1))
	chance -= evasion
	if math.IsNaN(chance) {
		return MinHitChance
	}
	return fleet.Clamp(chance, MinHitChance, MaxHitChance)
}

// damageAmount is one volley's raw damage before shields and armor.
func (s *Session) damageAmount(a, t *fleet.Unit) float64 {
	am := s.formations.Modifiers(a.FleetID)
	tm := s.formations.Modifiers(t.FleetID)
	amount := a.Spec.Firepower * (0.5 + 0.5*a.Strength()) *
		fleet.Factor(weaponChannel(a.Spec.Weapon, a.Energy)) *
		am.Attack * s.damage.Effects(a.ID).Firepower
	switch fleet.FacingFrom(a.Position, a.Yaw(), t.Position) {
	case fleet.FacingLeft, fleet.FacingRight:
		amount *= am.Broadside
	}
	amount /= math.Max(tm.Defense, 0.1)
	if fleet.FacingFrom(t.Position, t.Yaw(), a.Position) == fleet.FacingRear {
		amount *= 1 + 0.25*math.Max(tm.BlindSpot, 0)
	}
	amount *= 0.9 + 0.2*s.rng.Float64()
	if math.IsNaN(amount) || amount < 0 {
		return 0
	}
	return amount
}

func (s *Session) penetration(a *fleet.Unit, prof weaponProfile) float64 {
	return fleet.Clamp(prof.ShieldPenetration+(s.formations.Modifiers(a.FleetID).Penetration-1)*0.5, 0, 1)
}

func (s *Session) launchMissile(a, t *fleet.Unit, chance float64, prof weaponProfile) {
	s.nextMissile++
	dir := t.Position.Sub(a.Position).Unit()
	if dir.Len() == 0 {
		dir = fleet.Heading(a.Yaw())
	}
	s.projectiles = append(s.projectiles, &Projectile{
		ID:             fmt.Sprintf("%s-m%d", s.ID, s.nextMissile),
		OwnerID:        a.ID,
		OwnerFaction:   a.FactionID,
		TargetID:       t.ID,
		Position:       a.Position,
		Velocity:       dir.Scale(s.params.MissileSpeed),
		Damage:         s.damageAmount(a, t),
		Penetration:    s.penetration(a, prof),
		HitChance:      chance,
		LaunchTick:     s.tick,
		ExpireTick:     s.tick + MissileLifetime,
		launchPosition: a.Position,
	})
}

// advanceProjectiles homes missiles on their targets and resolves arrivals.
func (s *Session) advanceProjectiles(dt float64) {
	kept := s.projectiles[:0]
	for _, p := range s.projectiles {
		t, ok := s.units[p.TargetID]
		if !ok || !s.active(t) || s.tick >= p.ExpireTick {
			continue
		}
		to := t.Position.Sub(p.Position)
		step := s.params.MissileSpeed * dt
		if to.Len() > step+MissileHitRadius {
			p.Velocity = to.Unit().Scale(s.params.MissileSpeed)
			p.Position = p.Position.Add(p.Velocity.Scale(dt))
			kept = append(kept, p)
			continue
		}
		hit := s.rng.Float64() < p.HitChance
		s.addEffect(Effect{Kind: EffectMissile, SourceID: p.OwnerID, TargetID: t.ID, Position: t.Position, Hit: hit})
		if hit {
			// Facing is judged from the launch point.
			s.applyHit(p.OwnerID, p.OwnerFaction, p.launchPosition, t, p.Damage, p.Penetration, fleet.WeaponMissile)
		}
	}
	for i := len(kept); i < len(s.projectiles); i++ {
		s.projectiles[i] = nil
	}
	s.projectiles = kept
}

// applyHit resolves one hit on t through damage control, then morale and
// destruction.
func (s *Session) applyHit(attackerID, attackerFaction string, from fleet.Vec3, t *fleet.Unit, amount, pen float64, weapon fleet.WeaponType) damage.HitResult {
	res := s.damage.ResolveHit(t, damage.Hit{
		Amount:            amount,
		Facing:            fleet.FacingFrom(t.Position, t.Yaw(), from),
		Source:            attackerID,
		ShieldPenetration: pen,
		Tick:              s.tick,
	})
	s.recordDamage(attackerFaction, t.FactionID, res.Total())
	s.moraleHit(t, res.HullDamage)
	s.emit(EventDamage, DamagePayload{
		AttackerID:      attackerID,
		AttackerFaction: attackerFaction,
		TargetID:        t.ID,
		TargetFaction:   t.FactionID,
		Weapon:          weapon,
		Hit:             res,
		After:           vitalsOf(t),
	})
	if res.Destroyed {
		s.destroyUnit(t, attackerID)
	} else {
		s.checkMorale(t)
	}
	return res
}

func (s *Session) recordDamage(attackerFaction, targetFaction string, amount float64) {
	if st := s.stats[attackerFaction]; st != nil {
		st.damageDealt += amount
	}
	if st := s.stats[targetFaction]; st != nil {
		st.damageTaken += amount
	}
}

// moraleHit applies the flat per-hit morale loss plus a share scaled by the
// hull damage taken.
func (s *Session) moraleHit(t *fleet.Unit, hullDamage float64) {
	if !t.Alive() {
		return
	}
	loss := s.params.MoraleLossPerHit + fleet.Ratio(hullDamage, t.MaxHP, 0)*s.params.MoraleLossHPScale
	t.SetMorale(t.Morale - loss)
}

func (s *Session) checkMorale(u *fleet.Unit) {
	if u.Alive() && !u.Chaos && u.Morale <= 0 {
		s.enterChaos(u, "MORALE_COLLAPSE")
	}
}

// enterChaos drops every order; a unit in chaos drifts and ignores commands.
func (s *Session) enterChaos(u *fleet.Unit, cause string) {
	u.Chaos = true
	u.TargetID = ""
	u.TargetPos = nil
	s.emit(EventUnitChaos, UnitChaosPayload{UnitID: u.ID, FactionID: u.FactionID, Cause: cause})
}

func (s *Session) destroyUnit(u *fleet.Unit, by string) {
	u.Velocity = fleet.Vec3{}
	u.AngularVelocity = fleet.Vec3{}
	u.TargetID = ""
	u.TargetPos = nil
	s.formations.RemoveUnit(u.ID)
	s.explosions = append(s.explosions, u.ID)
	s.addEffect(Effect{Kind: EffectExplosion, SourceID: u.ID, Position: u.Position, Hit: true})
	s.emit(EventUnitDestroyed, UnitDestroyedPayload{UnitID: u.ID, FactionID: u.FactionID, FleetID: u.FleetID, By: by})
}

func (s *Session) addEffect(e Effect) {
	e.Tick = s.tick
	e.ExpireTick = s.tick + s.params.EffectTTL
	s.effects = append(s.effects, e)
}

func (s *Session) pruneEffects() {
	kept := s.effects[:0]
	for _, e := range s.effects {
		if s.tick < e.ExpireTick {
			kept = append(kept, e)
		}
	}
	s.effects = kept
}
