package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"TacticalCore/internal/command"
	"TacticalCore/internal/damage"
	"TacticalCore/internal/ewar"
	"TacticalCore/internal/fleet"
	"TacticalCore/internal/formation"
)

type Status string

const (
	StatusWaiting Status = "WAITING"
	StatusActive  Status = "ACTIVE"
	StatusEnded   Status = "ENDED"
)

type EndReason string

const (
	EndAnnihilation EndReason = "ANNIHILATION"
	EndRetreat      EndReason = "RETREAT"
	EndSurrender    EndReason = "SURRENDER"
	EndDraw         EndReason = "DRAW"
	EndTimeout      EndReason = "TIMEOUT"
)

var (
	ErrNotWaiting         = errors.New("game: session no longer accepts setup")
	ErrNotActive          = errors.New("game: session is not active")
	ErrSessionDestroyed   = errors.New("game: session destroyed")
	ErrUnknownFaction     = errors.New("game: faction is not a participant")
	ErrDuplicateFaction   = errors.New("game: faction already participating")
	ErrDuplicateFleet     = errors.New("game: fleet already spawned")
	ErrUnknownUnit        = errors.New("game: unknown unit")
	ErrNoOrderableUnits   = errors.New("game: no unit can carry out the order")
	ErrTargetLost         = errors.New("game: attack target no longer available")
	ErrUnhandledCommand   = errors.New("game: unhandled command kind")
	ErrSessionExists      = errors.New("game: battle id already in use")
	ErrBattleNotEnded     = errors.New("game: battle has not ended")
	ErrUnknownCivilWar    = errors.New("game: faction has no civil-war mapping")
	ErrInvalidCivilWar    = errors.New("game: invalid civil-war mapping")
	ErrAlreadySurrendered = errors.New("game: faction already surrendered")
)

// Participant is one side of a battle.
type Participant struct {
	FactionID       string             `json:"faction_id"`
	FleetIDs        []string           `json:"fleet_ids"`
	CommanderIDs    []string           `json:"commander_ids"`
	CommanderSkills map[string]float64 `json:"commander_skills,omitempty"`
	Ready           bool               `json:"ready"`
	Retreated       bool               `json:"retreated"`
	Surrendered     bool               `json:"surrendered"`
}

func (p *Participant) clone() Participant {
	c := *p
	c.FleetIDs = append([]string(nil), p.FleetIDs...)
	c.CommanderIDs = append([]string(nil), p.CommanderIDs...)
	if p.CommanderSkills != nil {
		c.CommanderSkills = make(map[string]float64, len(p.CommanderSkills))
		for k, v := range p.CommanderSkills {
			c.CommanderSkills[k] = v
		}
	}
	return c
}

func (p *Participant) hasCommander(id string) bool {
	return contains(p.CommanderIDs, id)
}

// Casualties is one faction's loss report.
type Casualties struct {
	UnitsTotal    int     `json:"units_total"`
	UnitsLost     int     `json:"units_lost"`
	UnitsEscaped  int     `json:"units_escaped"`
	ShipsTotal    int     `json:"ships_total"`
	ShipsLost     int     `json:"ships_lost"`
	DamageTaken   float64 `json:"damage_taken"`
	DamageDealt   float64 `json:"damage_dealt"`
	FriendlyFired float64 `json:"friendly_fired,omitempty"`
}

type Result struct {
	Winner     string                `json:"winner,omitempty"`
	Reason     EndReason             `json:"reason"`
	EndTick    int64                 `json:"end_tick"`
	Casualties map[string]Casualties `json:"casualties"`
}

type factionStats struct {
	damageTaken float64
	damageDealt float64
}

// sessionDeps are the arena-owned collaborators a session borrows.
type sessionDeps struct {
	params       Params
	catalog      *fleet.Catalog
	ewar         *ewar.System
	scheduler    *command.Scheduler
	cancelPolicy CancelPolicy
	logger       *log.Logger
	onActivate   func(*Session)
}

// Session is one battle. All simulation state is guarded by mu and mutated
// only by Step and the setup/command methods; events queue in outbox and are
// published after mu is released so subscribers may call back in.
type Session struct {
	ID            string
	GameSessionID string
	GridID        string

	mu     sync.Mutex
	pubMu  sync.Mutex
	outbox []Event
	seq    uint64

	status Status
	tick   int64
	seed   int64
	rng    *rand.Rand
	params Params

	catalog      *fleet.Catalog
	participants map[string]*Participant
	factionOrder []string
	units        map[string]*fleet.Unit
	unitOrder    []string
	escaped      map[string]bool

	formations *formation.Engine
	damage     *damage.System
	ewar       *ewar.System
	scheduler  *command.Scheduler
	bus        *EventBus

	cancelPolicy CancelPolicy
	logger       *log.Logger
	onActivate   func(*Session)

	projectiles []*Projectile
	nextMissile int64
	effects     []Effect
	explosions  []string
	stats       map[string]*factionStats
	result      *Result
	destroyed   bool
	done        chan struct{}
}

func newSession(id, gameSessionID, gridID string, seed int64, deps sessionDeps) *Session {
	if deps.catalog == nil {
		deps.catalog = fleet.DefaultCatalog()
	}
	if deps.cancelPolicy == nil {
		deps.cancelPolicy = IgnoreCancelChaos{}
	}
	if deps.logger == nil {
		deps.logger = log.Default()
	}
	s := &Session{
		ID:            id,
		GameSessionID: gameSessionID,
		GridID:        gridID,
		status:        StatusWaiting,
		seed:          seed,
		rng:           rand.New(rand.NewSource(seed)),
		params:        SanitizeParams(deps.params),
		catalog:       deps.catalog,
		participants:  make(map[string]*Participant),
		units:         make(map[string]*fleet.Unit),
		escaped:       make(map[string]bool),
		formations:    formation.NewEngine(),
		damage:        damage.NewSystem(seed ^ 0x5eed),
		ewar:          deps.ewar,
		scheduler:     deps.scheduler,
		bus:           NewEventBus(),
		cancelPolicy:  deps.cancelPolicy,
		logger:        deps.logger,
		onActivate:    deps.onActivate,
		stats:         make(map[string]*factionStats),
		done:          make(chan struct{}),
	}
	s.scheduler.OpenBattle(id, seed)
	return s
}

func (s *Session) emit(t EventType, payload any) {
	s.seq++
	s.outbox = append(s.outbox, Event{
		Seq:      s.seq,
		BattleID: s.ID,
		Tick:     s.tick,
		Type:     t,
		Payload:  payload,
	})
}

// flush publishes queued events in order. Callers defer it ahead of their
// unlock so it runs with mu released.
func (s *Session) flush() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.mu.Lock()
	evs := s.outbox
	s.outbox = nil
	s.mu.Unlock()
	for _, ev := range evs {
		s.bus.Publish(ev)
	}
}

// Subscribe streams this battle's events. See EventBus.Subscribe.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	return s.bus.Subscribe(buffer)
}

// OnEvent registers a synchronous event callback. The callback must not
// call session methods that mutate state.
func (s *Session) OnEvent(fn func(Event)) func() {
	return s.bus.OnEvent(fn)
}

// DroppedEvents counts events lost to full subscriber buffers.
func (s *Session) DroppedEvents() uint64 { return s.bus.Dropped() }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Tick() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

func (s *Session) Seed() int64 { return s.seed }

func (s *Session) Params() Params { return s.params }

// AddParticipant registers a faction with its fleets and commanders.
func (s *Session) AddParticipant(factionID string, fleetIDs, commanderIDs []string) error {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusWaiting {
		return ErrNotWaiting
	}
	if factionID == "" {
		return fmt.Errorf("%w: empty faction id", ErrUnknownFaction)
	}
	if _, dup := s.participants[factionID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateFaction, factionID)
	}
	s.participants[factionID] = &Participant{
		FactionID:       factionID,
		FleetIDs:        append([]string(nil), fleetIDs...),
		CommanderIDs:    append([]string(nil), commanderIDs...),
		CommanderSkills: make(map[string]float64),
	}
	s.factionOrder = append(s.factionOrder, factionID)
	sort.Strings(s.factionOrder)
	s.stats[factionID] = &factionStats{}
	s.ewar.Initialize(s.ID, factionID)
	return nil
}

// SetCommanderSkill records a commander's 0..100 skill, used to discount
// command delays.
func (s *Session) SetCommanderSkill(factionID, commanderID string, skill float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[factionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFaction, factionID)
	}
	if !p.hasCommander(commanderID) {
		return command.Reject(command.CodeNotParticipant, "commander %s not registered for %s", commanderID, factionID)
	}
	p.CommanderSkills[commanderID] = fleet.Clamp(skill, 0, 100)
	return nil
}

// AddFleetUnits spawns one unit per ship entry of spec. The first unit leads
// and is placed at spawn; the rest take their formation slots. Malformed
// specs fail with fleet.ErrInvalidFleet and spawn nothing.
func (s *Session) AddFleetUnits(spec fleet.FleetSpec, spawn fleet.Vec3) ([]string, error) {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusWaiting {
		return nil, ErrNotWaiting
	}
	if err := spec.Validate(s.catalog); err != nil {
		return nil, err
	}
	p, ok := s.participants[spec.FactionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFaction, spec.FactionID)
	}
	if !contains(p.FleetIDs, spec.FleetID) {
		return nil, fmt.Errorf("%w: fleet %s is not registered for %s", fleet.ErrInvalidFleet, spec.FleetID, spec.FactionID)
	}
	if _, dup := s.formations.State(spec.FleetID); dup {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateFleet, spec.FleetID)
	}
	ftype := formation.Standard
	if spec.Formation != "" {
		t, ok := formation.ParseType(spec.Formation)
		if !ok {
			return nil, fmt.Errorf("%w: %s: unknown formation %q", fleet.ErrInvalidFleet, spec.FleetID, spec.Formation)
		}
		ftype = t
	}
	commanderID := spec.CommanderID
	if commanderID == "" && len(p.CommanderIDs) > 0 {
		commanderID = p.CommanderIDs[0]
	}
	if commanderID != "" && !p.hasCommander(commanderID) {
		return nil, fmt.Errorf("%w: %s: commander %s not registered", fleet.ErrInvalidFleet, spec.FleetID, commanderID)
	}

	units := make([]*fleet.Unit, 0, len(spec.Ships))
	ids := make([]string, 0, len(spec.Ships))
	for i, ship := range spec.Ships {
		cs, err := s.catalog.Lookup(ship.Class)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", fleet.ErrInvalidFleet, spec.FleetID, err)
		}
		id := fmt.Sprintf("%s-%02d", spec.FleetID, i+1)
		if _, dup := s.units[id]; dup {
			return nil, fmt.Errorf("%w: unit %s", ErrDuplicateFleet, id)
		}
		u := fleet.NewUnit(id, cs, ship.Count)
		u.FactionID = spec.FactionID
		u.FleetID = spec.FleetID
		u.CommanderID = commanderID
		u.SetYaw(spec.Heading)
		units = append(units, u)
		ids = append(ids, id)
	}

	st, err := s.formations.InitializeFormation(spec.FleetID, ids[0], ids[1:], ftype)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", fleet.ErrInvalidFleet, spec.FleetID, err)
	}
	units[0].Position = spawn
	slots := make(map[string]fleet.Vec3, len(st.Wingmen))
	for _, w := range st.Wingmen {
		slots[w.UnitID] = w.Offset
	}
	for _, u := range units[1:] {
		u.Position = spawn.Add(fleet.RotateYaw(slots[u.ID], spec.Heading))
	}
	for _, u := range units {
		s.units[u.ID] = u
		s.unitOrder = append(s.unitOrder, u.ID)
		s.damage.Register(u)
	}
	return ids, nil
}

// SetReady flags a faction ready. The battle activates once at least two
// factions are registered, all are ready and all have units.
func (s *Session) SetReady(factionID string, ready bool) error {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusWaiting {
		return ErrNotWaiting
	}
	p, ok := s.participants[factionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFaction, factionID)
	}
	p.Ready = ready
	s.maybeActivate()
	return nil
}

func (s *Session) maybeActivate() {
	if len(s.factionOrder) < 2 {
		return
	}
	for _, f := range s.factionOrder {
		if !s.participants[f].Ready || s.unitCount(f) == 0 {
			return
		}
	}
	s.status = StatusActive
	s.emit(EventBattleStart, BattleStartPayload{
		Factions: append([]string(nil), s.factionOrder...),
		Units:    len(s.unitOrder),
	})
	s.logger.Printf("battle %s: active with %d factions and %d units", s.ID, len(s.factionOrder), len(s.unitOrder))
	if s.onActivate != nil {
		s.onActivate(s)
	}
}

func (s *Session) unitCount(factionID string) int {
	n := 0
	for _, id := range s.unitOrder {
		if s.units[id].FactionID == factionID {
			n++
		}
	}
	return n
}

// Run ticks the session every TickInterval until it ends, is destroyed or
// ctx is cancelled. Ticks before activation are skipped.
func (s *Session) Run(ctx context.Context) {
	ticker := time.NewTicker(s.params.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if !s.Step() && s.Status() == StatusEnded {
				return
			}
		}
	}
}

// Retreat withdraws a whole faction. Its units turn away from the enemy
// and it stops counting toward the battle outcome.
func (s *Session) Retreat(factionID string) error {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return ErrNotActive
	}
	p, ok := s.participants[factionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFaction, factionID)
	}
	p.Retreated = true
	for _, u := range s.roster() {
		if u.FactionID == factionID && s.active(u) {
			s.orderRetreat(u)
		}
	}
	s.checkTermination()
	return nil
}

func (s *Session) Surrender(factionID string) error {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		return ErrNotActive
	}
	p, ok := s.participants[factionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFaction, factionID)
	}
	if p.Surrendered {
		return ErrAlreadySurrendered
	}
	p.Surrendered = true
	for _, u := range s.roster() {
		if u.FactionID == factionID {
			u.TargetID = ""
			u.TargetPos = nil
		}
	}
	s.checkTermination()
	return nil
}

// Result returns the outcome once the battle has ended.
func (s *Session) Result() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return Result{}, false
	}
	return s.result.clone(), true
}

func (r *Result) clone() Result {
	c := *r
	c.Casualties = make(map[string]Casualties, len(r.Casualties))
	for k, v := range r.Casualties {
		c.Casualties[k] = v
	}
	return c
}

// Participants returns copies of every participant in faction order.
func (s *Session) Participants() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Participant, 0, len(s.factionOrder))
	for _, f := range s.factionOrder {
		out = append(out, s.participants[f].clone())
	}
	return out
}

// Destroy ends the session for good and releases its scheduler and EW
// state. Safe to call more than once.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	if s.status != StatusEnded {
		s.status = StatusEnded
		s.logger.Printf("battle %s: destroyed at tick %d before it ended", s.ID, s.tick)
	}
	s.scheduler.ClearBattle(s.ID)
	s.ewar.ClearBattle(s.ID)
	close(s.done)
	s.mu.Unlock()
	s.flush()
	s.bus.Close()
}

// Done is closed when the session is destroyed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) roster() []*fleet.Unit {
	out := make([]*fleet.Unit, len(s.unitOrder))
	for i, id := range s.unitOrder {
		out[i] = s.units[id]
	}
	return out
}

// active reports whether a unit is still taking part in the battle.
func (s *Session) active(u *fleet.Unit) bool {
	return u.Alive() && !s.escaped[u.ID]
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
