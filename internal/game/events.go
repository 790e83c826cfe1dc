package game

import (
	"sort"
	"sync"
	"sync/atomic"

	"TacticalCore/internal/command"
	"TacticalCore/internal/damage"
	"TacticalCore/internal/ewar"
	"TacticalCore/internal/fleet"
	"TacticalCore/internal/formation"
)

type EventType string

const (
	EventBattleStart         EventType = "BATTLE_START"
	EventBattleUpdate        EventType = "BATTLE_UPDATE"
	EventDamage              EventType = "DAMAGE"
	EventUnitDestroyed       EventType = "UNIT_DESTROYED"
	EventUnitChaos           EventType = "UNIT_CHAOS"
	EventChainExplosion      EventType = "CHAIN_EXPLOSION"
	EventFormationChanged    EventType = "FORMATION_CHANGED"
	EventManeuverComplete    EventType = "MANEUVER_COMPLETE"
	EventCommandQueued       EventType = "COMMAND_QUEUED"
	EventCommandExecuting    EventType = "COMMAND_EXECUTING"
	EventCommandCompleted    EventType = "COMMAND_COMPLETED"
	EventCommandCancelled    EventType = "COMMAND_CANCELLED"
	EventCommandFailed       EventType = "COMMAND_FAILED"
	EventJammingLevelChanged EventType = "JAMMING_LEVEL_CHANGED"
	EventRepairStarted       EventType = "REPAIR_STARTED"
	EventRepairCompleted     EventType = "REPAIR_COMPLETED"
	EventBattleEnd           EventType = "BATTLE_END"

	EventFriendlyFire      EventType = "FRIENDLY_FIRE"
	EventLegitimacyChanged EventType = "LEGITIMACY_CHANGED"
	EventCommanderCaptured EventType = "COMMANDER_CAPTURED"
)

// Event is one entry of a battle's ordered outbound stream. Payload holds
// the struct matching Type.
type Event struct {
	Seq      uint64           `json:"seq"`
	BattleID string           `json:"battle_id"`
	Tick     int64            `json:"tick"`
	Type     EventType        `json:"type"`
	Payload  any              `json:"payload,omitempty"`
	CivilWar *CivilWarContext `json:"civil_war,omitempty"`
}

type BattleStartPayload struct {
	Factions []string `json:"factions"`
	Units    int      `json:"units"`
}

type DamagePayload struct {
	AttackerID      string           `json:"attacker_id"`
	AttackerFaction string           `json:"attacker_faction"`
	TargetID        string           `json:"target_id"`
	TargetFaction   string           `json:"target_faction"`
	Weapon          fleet.WeaponType `json:"weapon,omitempty"`
	Chain           bool             `json:"chain,omitempty"`
	Hit             damage.HitResult `json:"hit"`
	After           UnitVitals       `json:"after"`
}

type UnitDestroyedPayload struct {
	UnitID    string `json:"unit_id"`
	FactionID string `json:"faction_id"`
	FleetID   string `json:"fleet_id"`
	By        string `json:"by,omitempty"`
}

type UnitChaosPayload struct {
	UnitID    string `json:"unit_id"`
	FactionID string `json:"faction_id"`
	Cause     string `json:"cause"`
}

type CommandPayload struct {
	CommandID   string                 `json:"command_id"`
	Kind        command.Kind           `json:"kind"`
	Status      command.Status         `json:"status"`
	CommanderID string                 `json:"commander_id"`
	FactionID   string                 `json:"faction_id"`
	Priority    string                 `json:"priority"`
	IssueTick   int64                  `json:"issue_tick"`
	ExecuteTick int64                  `json:"execute_tick"`
	Delay       command.DelayBreakdown `json:"delay"`
	Reason      string                 `json:"reason,omitempty"`
}

type ManeuverPayload struct {
	UnitID string                 `json:"unit_id"`
	Type   formation.ManeuverType `json:"type"`
}

type FormationPayload struct {
	FleetID string         `json:"fleet_id"`
	From    formation.Type `json:"from"`
	To      formation.Type `json:"to"`
}

type JammingPayload struct {
	FactionID string  `json:"faction_id"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Density   float64 `json:"density"`
}

func jammingPayload(c ewar.LevelChange) JammingPayload {
	return JammingPayload{FactionID: c.FactionID, From: c.From.String(), To: c.To.String(), Density: c.Density}
}

type RepairPayload struct {
	Task    damage.RepairTask `json:"task"`
	Aborted bool              `json:"aborted,omitempty"`
}

// CommandPayloadOf is the wire view of a delayed command.
func CommandPayloadOf(d command.Delayed) CommandPayload {
	return CommandPayload{
		CommandID:   d.ID,
		Kind:        d.Command.Kind(),
		Status:      d.Status,
		CommanderID: d.CommanderID,
		FactionID:   d.FactionID,
		Priority:    d.Priority.String(),
		IssueTick:   d.IssueTick,
		ExecuteTick: d.ExecuteTick,
		Delay:       d.Delay,
		Reason:      d.FailReason,
	}
}

// EventBus fans events out to synchronous callbacks and buffered channel
// subscribers. Publishing never blocks: a full subscriber drops the event
// and the drop is counted.
type EventBus struct {
	mu        sync.RWMutex
	nextID    int
	callbacks map[int]func(Event)
	subs      map[int]chan Event
	closed    bool
	dropped   atomic.Uint64
}

func NewEventBus() *EventBus {
	return &EventBus{
		callbacks: make(map[int]func(Event)),
		subs:      make(map[int]chan Event),
	}
}

// OnEvent registers a callback run synchronously on every publish. The
// returned func unregisters it.
func (b *EventBus) OnEvent(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.callbacks[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.callbacks, id)
		b.mu.Unlock()
	}
}

// Subscribe returns a channel receiving every event published after the
// call. The channel closes when the bus closes or the cancel func runs.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish runs the callbacks with the bus unlocked, so a callback may
// register or subscribe, then offers the event to every subscriber.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	ids := sortedKeys(b.callbacks)
	fns := make([]func(Event), len(ids))
	for i, id := range ids {
		fns[i] = b.callbacks[id]
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped counts events discarded because a subscriber was full.
func (b *EventBus) Dropped() uint64 { return b.dropped.Load() }

func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	b.callbacks = make(map[int]func(Event))
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
