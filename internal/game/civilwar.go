package game

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"TacticalCore/internal/fleet"
)

const (
	DefaultLegitimacy = 50.0
	MaxLegitimacy     = 100.0

	LegitimacyWin       = 10.0
	LegitimacyLoss      = -10.0
	LegitimacySurrender = -15.0

	BaseFriendlyFire  = 0.05
	ExtraFriendlyFire = 0.10
)

// CivilWarContext is attached to every event a civil-war battle forwards.
type CivilWarContext struct {
	CivilFactionID       string  `json:"civil_faction_id,omitempty"`
	TargetCivilFactionID string  `json:"target_civil_faction_id,omitempty"`
	FriendlyFire         bool    `json:"friendly_fire,omitempty"`
	Legitimacy           float64 `json:"legitimacy,omitempty"`
}

type FriendlyFirePayload struct {
	AttackerID     string  `json:"attacker_id"`
	TargetID       string  `json:"target_id"`
	CivilFactionID string  `json:"civil_faction_id"`
	Damage         float64 `json:"damage"`
	Probability    float64 `json:"probability"`
}

type LegitimacyPayload struct {
	CivilFactionID string  `json:"civil_faction_id"`
	From           float64 `json:"from"`
	To             float64 `json:"to"`
	Reason         string  `json:"reason"`
}

// Capture records a commander taken after the battle.
type Capture struct {
	CommanderID    string `json:"commander_id"`
	BaseFactionID  string `json:"base_faction_id"`
	CivilFactionID string `json:"civil_faction_id"`
	CapturedBy     string `json:"captured_by"`
}

// CivilWarSession wraps a base session for an intra-faction war. Each base
// faction of the battle belongs to one civil-war faction; combat itself is
// untouched and only its interpretation changes.
type CivilWarSession struct {
	base *Session

	mu          sync.Mutex
	toCivil     map[string]string
	legitimacy  map[string]float64
	surrendered map[string]bool
	captured    map[string]bool
	settled     bool

	pubMu  sync.Mutex
	seq    uint64
	bus    *EventBus
	detach func()
}

// NewCivilWarSession wraps base. mapping sends base faction ids to civil-war
// faction ids; several base factions may fight for the same civil faction.
func NewCivilWarSession(base *Session, mapping map[string]string) (*CivilWarSession, error) {
	if base == nil {
		return nil, fmt.Errorf("%w: nil base session", ErrInvalidCivilWar)
	}
	c := &CivilWarSession{
		base:        base,
		toCivil:     make(map[string]string, len(mapping)),
		legitimacy:  make(map[string]float64),
		surrendered: make(map[string]bool),
		captured:    make(map[string]bool),
		bus:         NewEventBus(),
	}
	for baseID, civilID := range mapping {
		if err := c.mapLocked(baseID, civilID); err != nil {
			return nil, err
		}
	}
	c.detach = base.OnEvent(c.forward)
	return c, nil
}

func (c *CivilWarSession) mapLocked(baseID, civilID string) error {
	if baseID == "" || civilID == "" {
		return fmt.Errorf("%w: empty faction id", ErrInvalidCivilWar)
	}
	c.toCivil[baseID] = civilID
	if _, ok := c.legitimacy[civilID]; !ok {
		c.legitimacy[civilID] = DefaultLegitimacy
	}
	return nil
}

// MapFaction adds or moves a base faction to a civil-war faction.
func (c *CivilWarSession) MapFaction(baseID, civilID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mapLocked(baseID, civilID)
}

func (c *CivilWarSession) Base() *Session { return c.base }

// CivilFaction returns the civil-war faction a base faction fights for.
func (c *CivilWarSession) CivilFaction(baseID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.toCivil[baseID]
	return id, ok
}

// BaseFactions returns the base factions mapped to a civil-war faction,
// sorted.
func (c *CivilWarSession) BaseFactions(civilID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseFactionsLocked(civilID)
}

func (c *CivilWarSession) baseFactionsLocked(civilID string) []string {
	var out []string
	for b, cv := range c.toCivil {
		if cv == civilID {
			out = append(out, b)
		}
	}
	sort.Strings(out)
	return out
}

func (c *CivilWarSession) Legitimacy(civilID string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.legitimacy[civilID]
	return l, ok
}

// FriendlyFireProbability grows as legitimacy falls: 5% at full legitimacy,
// 15% at none.
func (c *CivilWarSession) FriendlyFireProbability(civilID string) float64 {
	l, ok := c.Legitimacy(civilID)
	if !ok {
		l = DefaultLegitimacy
	}
	return BaseFriendlyFire + ExtraFriendlyFire*(1-fleet.Clamp(l, 0, MaxLegitimacy)/MaxLegitimacy)
}

func (c *CivilWarSession) Subscribe(buffer int) (<-chan Event, func()) {
	return c.bus.Subscribe(buffer)
}

func (c *CivilWarSession) OnEvent(fn func(Event)) func() {
	return c.bus.OnEvent(fn)
}

func (c *CivilWarSession) publish(ev Event) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	c.seq++
	ev.Seq = c.seq
	c.bus.Publish(ev)
}

// forward runs synchronously inside the base session's publish.
func (c *CivilWarSession) forward(ev Event) {
	c.mu.Lock()
	ctx := c.contextLocked(ev)
	c.mu.Unlock()

	out := ev
	out.CivilWar = ctx
	c.publish(out)

	switch p := ev.Payload.(type) {
	case DamagePayload:
		if ctx != nil && ctx.FriendlyFire {
			c.publish(Event{
				BattleID: ev.BattleID,
				Tick:     ev.Tick,
				Type:     EventFriendlyFire,
				Payload: FriendlyFirePayload{
					AttackerID:     p.AttackerID,
					TargetID:       p.TargetID,
					CivilFactionID: ctx.CivilFactionID,
					Damage:         p.Hit.Total(),
					Probability:    c.FriendlyFireProbability(ctx.CivilFactionID),
				},
				CivilWar: ctx,
			})
		}
	case Result:
		for _, ch := range c.settle(p) {
			c.publish(Event{
				BattleID: ev.BattleID,
				Tick:     ev.Tick,
				Type:     EventLegitimacyChanged,
				Payload:  ch,
				CivilWar: &CivilWarContext{CivilFactionID: ch.CivilFactionID, Legitimacy: ch.To},
			})
		}
	}
}

func (c *CivilWarSession) contextLocked(ev Event) *CivilWarContext {
	switch p := ev.Payload.(type) {
	case DamagePayload:
		a, aok := c.toCivil[p.AttackerFaction]
		t, tok := c.toCivil[p.TargetFaction]
		if !aok && !tok {
			return nil
		}
		return &CivilWarContext{
			CivilFactionID:       a,
			TargetCivilFactionID: t,
			FriendlyFire:         aok && tok && a == t,
		}
	case UnitDestroyedPayload:
		return c.factionContextLocked(p.FactionID)
	case UnitChaosPayload:
		return c.factionContextLocked(p.FactionID)
	case CommandPayload:
		return c.factionContextLocked(p.FactionID)
	case JammingPayload:
		return c.factionContextLocked(p.FactionID)
	case Result:
		return c.factionContextLocked(p.Winner)
	}
	return &CivilWarContext{}
}

func (c *CivilWarSession) factionContextLocked(baseID string) *CivilWarContext {
	id, ok := c.toCivil[baseID]
	if !ok {
		return &CivilWarContext{}
	}
	return &CivilWarContext{CivilFactionID: id, Legitimacy: c.legitimacy[id]}
}

// settle applies the battle outcome to legitimacy exactly once.
func (c *CivilWarSession) settle(r Result) []LegitimacyPayload {
	surrendered := make(map[string]bool)
	for _, p := range c.base.Participants() {
		if p.Surrendered {
			surrendered[p.FactionID] = true
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settled {
		return nil
	}
	c.settled = true
	winner, hasWinner := c.toCivil[r.Winner]
	if !hasWinner {
		return nil
	}
	for b, cv := range c.toCivil {
		if surrendered[b] {
			c.surrendered[cv] = true
		}
	}
	var changes []LegitimacyPayload
	for _, id := range sortedCivil(c.legitimacy) {
		delta, reason := LegitimacyLoss, "DEFEAT"
		switch {
		case id == winner:
			delta, reason = LegitimacyWin, "VICTORY"
		case c.surrendered[id]:
			delta, reason = LegitimacySurrender, "SURRENDER"
		}
		from := c.legitimacy[id]
		to := fleet.Clamp(from+delta, 0, MaxLegitimacy)
		c.legitimacy[id] = to
		changes = append(changes, LegitimacyPayload{CivilFactionID: id, From: from, To: to, Reason: reason})
	}
	return changes
}

// Surrender gives up the battle for every base faction of a civil-war
// faction. Only an ACTIVE battle can be surrendered.
func (c *CivilWarSession) Surrender(civilID string) error {
	c.mu.Lock()
	if _, ok := c.legitimacy[civilID]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownCivilWar, civilID)
	}
	if c.surrendered[civilID] {
		c.mu.Unlock()
		return ErrAlreadySurrendered
	}
	if c.base.Status() != StatusActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	c.surrendered[civilID] = true
	bases := c.baseFactionsLocked(civilID)
	c.mu.Unlock()

	// The base session publishes synchronously into forward, so c.mu must
	// not be held here. A base faction surrendering can end the battle,
	// after which the remaining ones report ErrNotActive.
	var gaveUp bool
	var firstErr error
	for _, b := range bases {
		err := c.base.Surrender(b)
		switch {
		case err == nil, errors.Is(err, ErrAlreadySurrendered):
			gaveUp = true
		case errors.Is(err, ErrNotActive):
		default:
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if gaveUp {
		return firstErr
	}
	c.mu.Lock()
	delete(c.surrendered, civilID)
	c.mu.Unlock()
	if firstErr != nil {
		return firstErr
	}
	return ErrNotActive
}

// ProcessCaptures takes every commander of the defeated civil-war factions
// prisoner. Each commander is captured at most once.
func (c *CivilWarSession) ProcessCaptures() ([]Capture, error) {
	r, ok := c.base.Result()
	if !ok {
		return nil, ErrBattleNotEnded
	}
	participants := c.base.Participants()

	c.mu.Lock()
	winner, hasWinner := c.toCivil[r.Winner]
	var caps []Capture
	if hasWinner {
		for _, p := range participants {
			civ, ok := c.toCivil[p.FactionID]
			if !ok || civ == winner {
				continue
			}
			for _, cmd := range p.CommanderIDs {
				if c.captured[cmd] {
					continue
				}
				c.captured[cmd] = true
				caps = append(caps, Capture{
					CommanderID:    cmd,
					BaseFactionID:  p.FactionID,
					CivilFactionID: civ,
					CapturedBy:     winner,
				})
			}
		}
	}
	c.mu.Unlock()

	for _, cp := range caps {
		c.publish(Event{
			BattleID: c.base.ID,
			Tick:     r.EndTick,
			Type:     EventCommanderCaptured,
			Payload:  cp,
			CivilWar: &CivilWarContext{CivilFactionID: cp.CivilFactionID, TargetCivilFactionID: cp.CapturedBy},
		})
	}
	return caps, nil
}

// Close detaches from the base session and closes the civil-war stream.
func (c *CivilWarSession) Close() {
	c.detach()
	c.bus.Close()
}

func sortedCivil(m map[string]float64) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
