package damage

import (
	"errors"
	"math"
	"math/rand"

	"TacticalCore/internal/fleet"
)

var (
	ErrUnknownUnit        = errors.New("damage: unknown unit")
	ErrUnknownComponent   = errors.New("damage: unknown component")
	ErrNotEngineering     = errors.New("damage: repairer is not an engineering ship")
	ErrUnitUnavailable    = errors.New("damage: unit destroyed or missing")
	ErrFactionMismatch    = errors.New("damage: repairer belongs to another faction")
	ErrOutOfRange         = errors.New("damage: repairer out of field repair range")
	ErrComponentDestroyed = errors.New("damage: destroyed components need a dock repair")
	ErrNothingToRepair    = errors.New("damage: component already at repair cap")
	ErrAlreadyRepairing   = errors.New("damage: component already under repair")
	ErrInvalidRepairType  = errors.New("damage: invalid repair type")
)

// Hit is one incoming damage event on a unit.
type Hit struct {
	Amount float64
	Facing fleet.Facing
	Source string
	// ShieldPenetration is the fraction of Amount that passes shields
	// untouched, 0..1.
	ShieldPenetration float64
	Tick              int64
}

// HitResult breaks a resolved hit down per layer.
type HitResult struct {
	UnitID          string        `json:"unit_id"`
	Source          string        `json:"source,omitempty"`
	Facing          fleet.Facing  `json:"facing"`
	ShieldDamage    float64       `json:"shield_damage"`
	ArmorDamage     float64       `json:"armor_damage"`
	HullDamage      float64       `json:"hull_damage"`
	Component       ComponentType `json:"component,omitempty"`
	ComponentDamage float64       `json:"component_damage"`
	NewDebuffs      []Debuff      `json:"new_debuffs,omitempty"`
	Destroyed       bool          `json:"destroyed"`
}

// Total is the damage absorbed across all layers.
func (r HitResult) Total() float64 { return r.ShieldDamage + r.ArmorDamage + r.HullDamage }

type unitState struct {
	components []*Component
	debuffs    []Debuff
}

// System holds component health, debuffs and repair tasks for one battle.
// It is driven only by the owning session's tick.
type System struct {
	rng   *rand.Rand
	units map[string]*unitState
	tasks []*RepairTask
}

func NewSystem(seed int64) *System {
	return &System{
		rng:   rand.New(rand.NewSource(seed)),
		units: make(map[string]*unitState),
	}
}

// Register creates the component set for a unit. Registering again resets
// it.
func (s *System) Register(u *fleet.Unit) {
	s.units[u.ID] = &unitState{components: ComponentsFor(u)}
}

func (s *System) state(u *fleet.Unit) *unitState {
	st, ok := s.units[u.ID]
	if !ok {
		st = &unitState{components: ComponentsFor(u)}
		s.units[u.ID] = st
	}
	return st
}

// Components returns copies of a unit's components in fixed order.
func (s *System) Components(unitID string) []Component {
	st, ok := s.units[unitID]
	if !ok {
		return nil
	}
	out := make([]Component, len(st.components))
	for i, c := range st.components {
		out[i] = *c
	}
	return out
}

func (s *System) Component(unitID string, ct ComponentType) (Component, bool) {
	st, ok := s.units[unitID]
	if !ok {
		return Component{}, false
	}
	if c := st.find(ct); c != nil {
		return *c, true
	}
	return Component{}, false
}

func (st *unitState) find(ct ComponentType) *Component {
	for _, c := range st.components {
		if c.Type == ct {
			return c
		}
	}
	return nil
}

func (s *System) Debuffs(unitID string) []Debuff {
	st, ok := s.units[unitID]
	if !ok {
		return nil
	}
	return append([]Debuff(nil), st.debuffs...)
}

// Effects folds the unit's active debuffs; unknown units are unaffected.
func (s *System) Effects(unitID string) Effects {
	e := NeutralEffects()
	st, ok := s.units[unitID]
	if !ok {
		return e
	}
	for _, d := range st.debuffs {
		e.apply(d.Type)
	}
	return e
}

func sanitizeAmount(v float64) float64 {
	if math.IsNaN(v) || v < 0 || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ResolveHit applies damage in the fixed order shield (struck facing), then
// ablative armor, then HP. HP loss is routed to a component. Marks the unit
// destroyed when HP reaches zero.
func (s *System) ResolveHit(u *fleet.Unit, h Hit) HitResult {
	res := HitResult{UnitID: u.ID, Source: h.Source, Facing: h.Facing}
	if !u.Alive() {
		return res
	}
	remaining := sanitizeAmount(h.Amount)
	pen := fleet.Clamp(h.ShieldPenetration, 0, 1)
	if math.IsNaN(pen) {
		pen = 0
	}
	facing := h.Facing
	if facing < fleet.FacingFront || facing > fleet.FacingRight {
		facing = fleet.FacingFront
	}

	shieldable := remaining * (1 - pen)
	res.ShieldDamage = math.Min(u.Shields[facing], shieldable)
	u.SetShield(facing, u.Shields[facing]-res.ShieldDamage)
	remaining -= res.ShieldDamage

	res.ArmorDamage = math.Min(u.Armor, remaining)
	u.SetArmor(u.Armor - res.ArmorDamage)
	remaining -= res.ArmorDamage

	res.HullDamage = math.Min(u.HP, remaining)
	if res.HullDamage > 0 {
		u.SetHP(u.HP - res.HullDamage)
		ch := s.ApplyComponentDamage(u, res.HullDamage, facing, h.Source, h.Tick)
		res.Component = ch.Component
		res.ComponentDamage = ch.Damage
		res.NewDebuffs = ch.NewDebuffs
	}
	if u.HP <= 0 {
		u.Destroyed = true
		u.ShipCount = 0
		res.Destroyed = true
	}
	return res
}

// ComponentHit reports which component absorbed damage and any debuffs the
// hit newly imposed.
type ComponentHit struct {
	Component  ComponentType
	Damage     float64
	NewDebuffs []Debuff
}

// ApplyComponentDamage picks a component weighted by the facing struck and
// reduces its health, imposing threshold debuffs. With nothing left to pick
// the hull absorbs it.
func (s *System) ApplyComponentDamage(u *fleet.Unit, amount float64, facing fleet.Facing, source string, tick int64) ComponentHit {
	st := s.state(u)
	amount = sanitizeAmount(amount)
	c := s.pick(st, facing)
	if c == nil {
		return ComponentHit{}
	}
	before := c.Health
	c.setHealth(c.Health - amount)
	hit := ComponentHit{Component: c.Type, Damage: before - c.Health}
	hit.NewDebuffs = st.applyThresholds(c, source, tick)
	return hit
}

func (s *System) pick(st *unitState, facing fleet.Facing) *Component {
	weights := hitWeights[facing]
	var total float64
	for _, c := range st.components {
		if !c.Destroyed {
			total += weights[c.Type]
		}
	}
	if total <= 0 {
		return st.find(Hull)
	}
	r := s.rng.Float64() * total
	var last *Component
	for _, c := range st.components {
		if c.Destroyed || weights[c.Type] <= 0 {
			continue
		}
		last = c
		r -= weights[c.Type]
		if r < 0 {
			return c
		}
	}
	return last
}

func (st *unitState) has(t DebuffType) bool {
	for _, d := range st.debuffs {
		if d.Type == t {
			return true
		}
	}
	return false
}

func (st *unitState) remove(t DebuffType) {
	kept := st.debuffs[:0]
	for _, d := range st.debuffs {
		if d.Type != t {
			kept = append(kept, d)
		}
	}
	st.debuffs = kept
}

// applyThresholds brings a component's threshold debuffs in line with its
// health and returns the ones it added.
func (st *unitState) applyThresholds(c *Component, source string, tick int64) []Debuff {
	pair, ok := thresholdDebuffs[c.Type]
	if !ok {
		return nil
	}
	damaged, destroyed := pair[0], pair[1]
	var want DebuffType
	switch {
	case c.Destroyed:
		want = destroyed
	case c.Fraction() <= DamagedThreshold:
		want = damaged
	}
	for _, t := range pair {
		if t != want {
			st.remove(t)
		}
	}
	if want == "" || st.has(want) {
		return nil
	}
	d := Debuff{Type: want, Component: c.Type, Source: source, SinceTick: tick}
	st.debuffs = append(st.debuffs, d)
	return []Debuff{d}
}

// RegenerateShields restores every facing by base scaled with the unit's
// shield channel and its shield generator state.
func (s *System) RegenerateShields(u *fleet.Unit, base float64) {
	if !u.Alive() {
		return
	}
	amt := sanitizeAmount(base) * fleet.Factor(u.Energy.Shield) * s.Effects(u.ID).ShieldRegen
	if amt <= 0 {
		return
	}
	for f := fleet.FacingFront; f <= fleet.FacingRight; f++ {
		u.SetShield(f, u.Shields[f]+amt)
	}
}

// ChainHit is one unit caught in a chain explosion.
type ChainHit struct {
	UnitID   string    `json:"unit_id"`
	Distance float64   `json:"distance"`
	Damage   float64   `json:"damage"`
	Result   HitResult `json:"result"`
}

type ChainExplosion struct {
	SourceID string     `json:"source_id"`
	Origin   fleet.Vec3 `json:"origin"`
	Radius   float64    `json:"radius"`
	Hits     []ChainHit `json:"hits"`
}

// Destroyed lists units the explosion destroyed, in roster order.
func (c ChainExplosion) Destroyed() []string {
	var ids []string
	for _, h := range c.Hits {
		if h.Result.Destroyed {
			ids = append(ids, h.UnitID)
		}
	}
	return ids
}

const ChainDamageFraction = 0.25

// ExplosionRadius grows with hull size.
func ExplosionRadius(h fleet.HullSize) float64 {
	switch h {
	case fleet.HullLarge:
		return 90
	case fleet.HullMedium:
		return 60
	default:
		return 40
	}
}

// ProcessChainExplosion damages every other live unit within the destroyed
// unit's blast radius, falling off linearly with distance.
func (s *System) ProcessChainExplosion(destroyed *fleet.Unit, roster []*fleet.Unit, tick int64) ChainExplosion {
	ex := ChainExplosion{
		SourceID: destroyed.ID,
		Origin:   destroyed.Position,
		Radius:   ExplosionRadius(destroyed.Spec.Hull),
	}
	for _, u := range roster {
		if u == destroyed || u.ID == destroyed.ID || !u.Alive() {
			continue
		}
		d := u.Position.Dist(destroyed.Position)
		if d >= ex.Radius {
			continue
		}
		amount := destroyed.MaxHP * ChainDamageFraction * (1 - d/ex.Radius)
		res := s.ResolveHit(u, Hit{
			Amount: amount,
			Facing: fleet.FacingFrom(u.Position, u.Yaw(), destroyed.Position),
			Source: destroyed.ID,
			Tick:   tick,
		})
		ex.Hits = append(ex.Hits, ChainHit{UnitID: u.ID, Distance: d, Damage: res.Total(), Result: res})
	}
	return ex
}
