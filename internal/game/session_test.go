package game

import (
	"errors"
	"io"
	"log"
	"math"
	"testing"

	"TacticalCore/internal/command"
	"TacticalCore/internal/damage"
	"TacticalCore/internal/fleet"
	"TacticalCore/internal/formation"
)

const (
	redUnit  = "red-fleet-01"
	blueUnit = "blue-fleet-01"
)

func initTestManager(t *testing.T, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	if mutate != nil {
		mutate(&cfg)
	}
	m := NewManager(cfg)
	t.Cleanup(m.Close)
	return m
}

// initTestDuel sets up a red battleship at the origin facing a blue cruiser
// 100 units away and activates the battle.
func initTestDuel(t *testing.T, m *Manager, battleID string, seed int64) *Session {
	t.Helper()
	s, err := m.CreateSessionWithSeed("game-1", "grid-1", battleID, seed)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := s.AddParticipant("red", []string{"red-fleet"}, []string{"red-cmdr"}); err != nil {
		t.Fatalf("add red: %v", err)
	}
	if err := s.AddParticipant("blue", []string{"blue-fleet"}, []string{"blue-cmdr"}); err != nil {
		t.Fatalf("add blue: %v", err)
	}
	if _, err := s.AddFleetUnits(fleet.FleetSpec{
		FleetID: "red-fleet", FactionID: "red", CommanderID: "red-cmdr",
		Ships: []fleet.ShipSpec{{Class: fleet.ClassBattleship, Count: 1}},
	}, fleet.Vec3{}); err != nil {
		t.Fatalf("red fleet: %v", err)
	}
	if _, err := s.AddFleetUnits(fleet.FleetSpec{
		FleetID: "blue-fleet", FactionID: "blue", CommanderID: "blue-cmdr", Heading: math.Pi,
		Ships: []fleet.ShipSpec{{Class: fleet.ClassCruiser, Count: 1}},
	}, fleet.Vec3{X: 100}); err != nil {
		t.Fatalf("blue fleet: %v", err)
	}
	for _, f := range []string{"red", "blue"} {
		if err := s.SetReady(f, true); err != nil {
			t.Fatalf("ready %s: %v", f, err)
		}
	}
	if s.Status() != StatusActive {
		t.Fatalf("expected ACTIVE, got %s", s.Status())
	}
	return s
}

func mustUnit(t *testing.T, s *Session, id string) UnitView {
	t.Helper()
	u, ok := s.Unit(id)
	if !ok {
		t.Fatalf("unit %s missing", id)
	}
	return u
}

func TestSessionLifecycleGuards(t *testing.T) {
	m := initTestManager(t, nil)
	s := m.CreateSession("game-1", "grid-1")
	if s.Status() != StatusWaiting {
		t.Fatalf("new session should wait, got %s", s.Status())
	}
	if _, err := s.QueueCommand("c", "red", command.Stop{Units: []string{"x"}}, command.PriorityNormal); command.CodeOf(err) != command.CodeSessionNotActive {
		t.Fatalf("expected SESSION_NOT_ACTIVE, got %v", err)
	}
	if err := s.AddParticipant("red", []string{"red-fleet"}, []string{"red-cmdr"}); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	if err := s.AddParticipant("red", nil, nil); !errors.Is(err, ErrDuplicateFaction) {
		t.Fatalf("expected duplicate faction, got %v", err)
	}
	if _, err := s.AddFleetUnits(fleet.FleetSpec{FleetID: "red-fleet", FactionID: "red",
		Ships: []fleet.ShipSpec{{Class: "dreadnought", Count: 1}}}, fleet.Vec3{}); !errors.Is(err, fleet.ErrInvalidFleet) {
		t.Fatalf("expected invalid fleet for unknown class, got %v", err)
	}
	if _, err := s.AddFleetUnits(fleet.FleetSpec{FleetID: "red-fleet", FactionID: "red", Formation: "blob",
		Ships: []fleet.ShipSpec{{Class: fleet.ClassCruiser, Count: 1}}}, fleet.Vec3{}); !errors.Is(err, fleet.ErrInvalidFleet) {
		t.Fatalf("expected invalid fleet for unknown formation, got %v", err)
	}
	if _, err := s.AddFleetUnits(fleet.FleetSpec{FleetID: "other", FactionID: "red",
		Ships: []fleet.ShipSpec{{Class: fleet.ClassCruiser, Count: 1}}}, fleet.Vec3{}); !errors.Is(err, fleet.ErrInvalidFleet) {
		t.Fatalf("expected invalid fleet for unregistered fleet, got %v", err)
	}
	if got := len(s.Snapshot().Units); got != 0 {
		t.Fatalf("rejected fleets must not spawn units, got %d", got)
	}

	// A single ready faction does not start the battle.
	if _, err := s.AddFleetUnits(fleet.FleetSpec{FleetID: "red-fleet", FactionID: "red",
		Ships: []fleet.ShipSpec{{Class: fleet.ClassCruiser, Count: 1}}}, fleet.Vec3{}); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := s.SetReady("red", true); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if s.Status() != StatusWaiting {
		t.Fatalf("one faction must not activate the battle")
	}
	if s.Step() {
		t.Fatalf("Step must not advance a waiting battle")
	}
}

func TestAddFleetUnitsLaysOutFormation(t *testing.T) {
	m := initTestManager(t, nil)
	s := m.CreateSession("game-1", "grid-1")
	if err := s.AddParticipant("red", []string{"red-fleet"}, []string{"red-cmdr"}); err != nil {
		t.Fatalf("add participant: %v", err)
	}
	ids, err := s.AddFleetUnits(fleet.FleetSpec{
		FleetID: "red-fleet", FactionID: "red", Formation: "line",
		Ships: []fleet.ShipSpec{
			{Class: fleet.ClassBattleship, Count: 3},
			{Class: fleet.ClassDestroyer, Count: 5},
			{Class: fleet.ClassDestroyer, Count: 5},
		},
	}, fleet.Vec3{X: 500, Y: 500})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if len(ids) != 3 || ids[0] != "red-fleet-01" || ids[2] != "red-fleet-03" {
		t.Fatalf("unexpected ids %v", ids)
	}
	leader := mustUnit(t, s, ids[0])
	if leader.Position != (fleet.Vec3{X: 500, Y: 500}) || leader.ShipCount != 3 {
		t.Fatalf("leader misplaced: %+v", leader)
	}
	st, ok := s.Formation("red-fleet")
	if !ok || st.Type != formation.Line || st.LeaderID != ids[0] || len(st.Wingmen) != 2 {
		t.Fatalf("unexpected formation %+v", st)
	}
	for _, w := range st.Wingmen {
		u := mustUnit(t, s, w.UnitID)
		want := fleet.Vec3{X: 500, Y: 500}.Add(w.Offset)
		if u.Position.Dist(want) > 1e-9 {
			t.Fatalf("wingman %s at %+v, want %+v", w.UnitID, u.Position, want)
		}
		if len(u.Components) == 0 {
			t.Fatalf("wingman %s has no components", w.UnitID)
		}
	}
}

func TestEndToEndDuelDamageOrderAndMorale(t *testing.T) {
	m := initTestManager(t, nil)
	s := initTestDuel(t, m, "duel", 7)
	events, cancel := s.Subscribe(1 << 14)
	defer cancel()

	if _, err := s.QueueCommand("red-cmdr", "red", command.Attack{Units: []string{redUnit}, TargetID: blueUnit}, command.PriorityNormal); err != nil {
		t.Fatalf("queue attack: %v", err)
	}

	before := mustUnit(t, s, blueUnit)
	var shieldTick, armorTick, hpTick int64
	for i := 0; i < 2000 && s.Status() == StatusActive; i++ {
		s.Step()
		u := mustUnit(t, s, blueUnit)
		tick := s.Tick()
		shield := u.Shields[0] + u.Shields[1] + u.Shields[2] + u.Shields[3]
		if shieldTick == 0 && shield < before.Shields[0]*4 {
			shieldTick = tick
		}
		if armorTick == 0 && u.Armor < before.Armor {
			armorTick = tick
		}
		if hpTick == 0 && u.HP < before.HP {
			hpTick = tick
		}
	}
	if shieldTick == 0 || armorTick == 0 || hpTick == 0 {
		t.Fatalf("expected all layers to take damage, got shield=%d armor=%d hp=%d", shieldTick, armorTick, hpTick)
	}
	if !(shieldTick <= armorTick && armorTick <= hpTick) {
		t.Fatalf("layers hit out of order: shield=%d armor=%d hp=%d", shieldTick, armorTick, hpTick)
	}

	var sawDamage, sawExecuting, sawEnd bool
	lastSeq := uint64(0)
	for len(events) > 0 {
		ev := <-events
		if ev.Seq <= lastSeq {
			t.Fatalf("event seq not increasing: %d after %d", ev.Seq, lastSeq)
		}
		lastSeq = ev.Seq
		switch p := ev.Payload.(type) {
		case DamagePayload:
			if p.TargetID != blueUnit {
				continue
			}
			if !sawDamage && !(p.After.Morale < fleet.MaxMorale) {
				t.Fatalf("first hit should cost morale, got %.2f", p.After.Morale)
			}
			sawDamage = true
			if p.Hit.HullDamage > 0 && (p.After.Armor > 0 || p.After.Shields[p.Hit.Facing] > 0) {
				t.Fatalf("hull damaged while shield %.2f / armor %.2f remained", p.After.Shields[p.Hit.Facing], p.After.Armor)
			}
			if p.Hit.ArmorDamage > 0 && p.After.Shields[p.Hit.Facing] > 0 {
				t.Fatalf("armor damaged while shield %.2f remained", p.After.Shields[p.Hit.Facing])
			}
		case CommandPayload:
			if ev.Type == EventCommandExecuting {
				sawExecuting = true
			}
		case Result:
			sawEnd = true
			if p.Winner != "red" || p.Reason != EndAnnihilation {
				t.Fatalf("unexpected result %+v", p)
			}
		}
	}
	if !sawDamage || !sawExecuting || !sawEnd {
		t.Fatalf("missing events: damage=%v executing=%v end=%v", sawDamage, sawExecuting, sawEnd)
	}
	res, ok := s.Result()
	if !ok || res.Casualties["blue"].UnitsLost != 1 || res.Casualties["red"].DamageDealt <= 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestMoraleCollapseTriggersChaos(t *testing.T) {
	m := initTestManager(t, nil)
	s := initTestDuel(t, m, "chaos", 11)
	s.mu.Lock()
	s.units[blueUnit].Morale = 1
	s.mu.Unlock()

	if _, err := s.QueueCommand("red-cmdr", "red", command.Attack{Units: []string{redUnit}, TargetID: blueUnit}, command.PriorityNormal); err != nil {
		t.Fatalf("queue attack: %v", err)
	}
	for i := 0; i < 1000 && !mustUnit(t, s, blueUnit).Chaos; i++ {
		s.Step()
	}
	u := mustUnit(t, s, blueUnit)
	if !u.Chaos || u.Morale != 0 {
		t.Fatalf("expected chaos at zero morale, got chaos=%v morale=%.2f", u.Chaos, u.Morale)
	}
	if _, err := s.QueueCommand("blue-cmdr", "blue", command.Stop{Units: []string{blueUnit}}, command.PriorityNormal); command.CodeOf(err) != command.CodeUnitUnavailable {
		t.Fatalf("units in chaos must refuse orders, got %v", err)
	}
}

func TestEnergyDistributionMustSumTo100(t *testing.T) {
	m := initTestManager(t, nil)
	s := initTestDuel(t, m, "energy", 3)
	bad := fleet.EnergyDistribution{Beam: 50, Gun: 10, Shield: 10, Engine: 10, Sensor: 10}
	_, err := s.QueueCommand("red-cmdr", "red", command.EnergyDistribution{Units: []string{redUnit}, Energy: bad}, command.PriorityNormal)
	if !errors.Is(err, command.ErrInvalidEnergy) {
		t.Fatalf("expected INVALID_ENERGY, got %v", err)
	}
	if len(s.PendingCommands()) != 0 {
		t.Fatalf("rejected command must not be queued")
	}
	if got := mustUnit(t, s, redUnit).Energy; got != fleet.DefaultEnergy() {
		t.Fatalf("energy changed on rejection: %+v", got)
	}

	good := fleet.EnergyDistribution{Beam: 40, Gun: 0, Shield: 20, Engine: 20, Warp: 0, Sensor: 20}
	d, err := s.QueueCommand("red-cmdr", "red", command.EnergyDistribution{Units: []string{redUnit}, Energy: good}, command.PriorityHigh)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if d.ExecuteTick != d.IssueTick+d.Delay.Total || d.Delay.Total < 0 {
		t.Fatalf("bad delay bookkeeping: %+v", d)
	}
	for s.Tick() < d.ExecuteTick {
		s.Step()
	}
	if got := mustUnit(t, s, redUnit).Energy; got != good {
		t.Fatalf("energy not applied: %+v", got)
	}
	if done, _ := m.Scheduler().Get(d.ID); done.Status != command.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", done.Status)
	}
}

func TestCommandOwnershipAndParticipants(t *testing.T) {
	m := initTestManager(t, nil)
	s := initTestDuel(t, m, "owner", 5)
	cases := []struct {
		name      string
		commander string
		faction   string
		cmd       command.Command
		code      command.Code
	}{
		{"unknown commander", "ghost", "red", command.Stop{Units: []string{redUnit}}, command.CodeNotParticipant},
		{"commander of other faction", "blue-cmdr", "red", command.Stop{Units: []string{redUnit}}, command.CodeNotParticipant},
		{"foreign unit", "red-cmdr", "red", command.Stop{Units: []string{blueUnit}}, command.CodeUnitNotOwned},
		{"missing unit", "red-cmdr", "red", command.Stop{Units: []string{"nope"}}, command.CodeUnitNotOwned},
		{"friendly target", "blue-cmdr", "blue", command.Attack{Units: []string{blueUnit}, TargetID: blueUnit}, command.CodeInvalidCommand},
		{"foreign fleet", "red-cmdr", "red", command.ChangeFormation{FleetID: "blue-fleet", Formation: formation.Line}, command.CodeUnitNotOwned},
		{"unknown formation", "red-cmdr", "red", command.ChangeFormation{FleetID: "red-fleet", Formation: "BLOB"}, command.CodeInvalidFormation},
		{"bad maneuver", "red-cmdr", "red", command.Maneuver{Units: []string{redUnit}, Type: formation.ManeuverParallelMove}, command.CodeInvalidManeuver},
	}
	for _, tc := range cases {
		if _, err := s.QueueCommand(tc.commander, tc.faction, tc.cmd, command.PriorityNormal); command.CodeOf(err) != tc.code {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.code, err)
		}
	}
	if n := len(s.PendingCommands()); n != 0 {
		t.Fatalf("rejections must not queue anything, got %d", n)
	}
}

func TestBlackoutRejectsAndFailsCommands(t *testing.T) {
	m := initTestManager(t, nil)
	s := initTestDuel(t, m, "blackout", 9)
	d, err := s.QueueCommand("red-cmdr", "red", command.Move{Units: []string{redUnit}, Target: fleet.Vec3{Y: 200}}, command.PriorityNormal)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := s.ExecuteEWAttack("blue", "red", 90, 100); err != nil {
		t.Fatalf("ew attack: %v", err)
	}
	if st, _ := s.Jamming("red"); st.Level.String() != "BLACKOUT" {
		t.Fatalf("expected BLACKOUT, got %s", st.Level)
	}
	if _, err := s.QueueCommand("red-cmdr", "red", command.Stop{Units: []string{redUnit}}, command.PriorityEmergency); !errors.Is(err, command.ErrBlackout) {
		t.Fatalf("expected blackout rejection, got %v", err)
	}
	for s.Tick() < d.ExecuteTick {
		s.Step()
	}
	got, _ := m.Scheduler().Get(d.ID)
	if got.Status != command.StatusFailed {
		t.Fatalf("in-flight command should fail during blackout, got %s", got.Status)
	}
	if u := mustUnit(t, s, redUnit); u.TargetPos != nil {
		t.Fatalf("failed move must not be applied")
	}
	if err := s.ClearJamming("red"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if st, _ := s.Jamming("red"); st.Level.String() == "BLACKOUT" {
		t.Fatalf("countermeasure should lift blackout, density %.2f", st.Density)
	}
}

func TestMoveCommandSteersWithoutTeleport(t *testing.T) {
	m := initTestManager(t, nil)
	s := initTestDuel(t, m, "move", 13)
	d, err := s.QueueCommand("red-cmdr", "red", command.Move{Units: []string{redUnit}, Target: fleet.Vec3{X: -300}}, command.PriorityNormal)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	for s.Tick() <= d.ExecuteTick {
		s.Step()
	}
	u := mustUnit(t, s, redUnit)
	if u.TargetPos == nil {
		t.Fatalf("move target not set")
	}
	speed, _ := s.EffectiveMaxSpeed(redUnit)
	maxStep := speed * s.Params().Dt()
	prev := u.Position
	for i := 0; i < 50; i++ {
		s.Step()
		cur := mustUnit(t, s, redUnit).Position
		if cur.Dist(prev) > maxStep+1e-9 {
			t.Fatalf("unit jumped %.3f in one tick", cur.Dist(prev))
		}
		prev = cur
	}
	if !(prev.X < 0) {
		t.Fatalf("unit should head toward -X, at %+v", prev)
	}
	spec, err := m.Catalog().Lookup(fleet.ClassBattleship)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if u := mustUnit(t, s, redUnit); u.Fuel >= spec.MaxFuel {
		t.Fatalf("moving should burn fuel, fuel %.2f", u.Fuel)
	}
}

func TestParallelMoveHalvesMaxSpeed(t *testing.T) {
	m := initTestManager(t, nil)
	s := initTestDuel(t, m, "parallel", 17)
	full, _ := s.EffectiveMaxSpeed(redUnit)
	if full <= 0 {
		t.Fatalf("expected positive max speed, got %.2f", full)
	}
	_, err := s.QueueCommand("red-cmdr", "red", command.Maneuver{
		Units:  []string{redUnit},
		Type:   formation.ManeuverParallelMove,
		Params: formation.ManeuverParams{Direction: fleet.Vec3{Y: 1}, Distance: 100},
	}, command.PriorityNormal)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	start := mustUnit(t, s, redUnit)
	for i := 0; i < 40 && mustUnit(t, s, redUnit).Maneuver == nil; i++ {
		s.Step()
	}
	if mustUnit(t, s, redUnit).Maneuver == nil {
		t.Fatalf("maneuver never started")
	}
	if got, _ := s.EffectiveMaxSpeed(redUnit); math.Abs(got-full/2) > 1e-9 {
		t.Fatalf("expected %.2f during parallel move, got %.2f", full/2, got)
	}
	for i := 0; i < 200 && mustUnit(t, s, redUnit).Maneuver != nil; i++ {
		s.Step()
	}
	end := mustUnit(t, s, redUnit)
	if end.Maneuver != nil {
		t.Fatalf("maneuver never completed")
	}
	if got, _ := s.EffectiveMaxSpeed(redUnit); math.Abs(got-full) > 1e-9 {
		t.Fatalf("expected max speed restored to %.2f, got %.2f", full, got)
	}
	if math.Abs(end.Position.Y-start.Position.Y-100) > 1e-6 || end.Rotation.Z != start.Rotation.Z {
		t.Fatalf("parallel move should translate 100 along Y without turning: %+v -> %+v", start.Position, end.Position)
	}
}

func TestCancelCommandAndPolicy(t *testing.T) {
	m := initTestManager(t, func(c *Config) {
		c.Command.CancelChaosProbability = 1
		c.CancelPolicy = MoraleShockPolicy{MoraleLoss: 200}
	})
	s := initTestDuel(t, m, "cancel", 19)
	d, err := s.QueueCommand("red-cmdr", "red", command.Stop{Units: []string{redUnit}}, command.PriorityLow)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	res, err := s.CancelCommand(d.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Command.Status != command.StatusCancelled || res.ChaosProbability != 1 {
		t.Fatalf("unexpected cancel result %+v", res)
	}
	if _, err := s.CancelCommand(d.ID); !errors.Is(err, command.ErrNotCancellable) {
		t.Fatalf("second cancel should fail, got %v", err)
	}
	if _, err := s.CancelCommand("missing"); !errors.Is(err, command.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if u := mustUnit(t, s, redUnit); !u.Chaos {
		t.Fatalf("morale shock policy should have broken the unit, morale %.2f", u.Morale)
	}
}

func TestCommandProgressTracksDelay(t *testing.T) {
	m := initTestManager(t, nil)
	s := initTestDuel(t, m, "progress", 29)
	other := initTestDuel(t, m, "progress-other", 29)
	d, err := s.QueueCommand("red-cmdr", "red", command.Stop{Units: []string{redUnit}}, command.PriorityNormal)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	total := d.ExecuteTick - d.IssueTick
	if total < 2 {
		t.Fatalf("expected a multi-tick delay, got %d", total)
	}
	for s.Tick() < d.IssueTick+total/2 {
		if !s.Step() {
			t.Fatalf("battle stopped at tick %d", s.Tick())
		}
	}
	p, err := s.CommandProgress(d.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	want := float64(total/2) / float64(total)
	if math.Abs(p.Progress-want) > 1e-9 || p.RemainingTicks != d.ExecuteTick-s.Tick() || p.Status != command.StatusQueued {
		t.Fatalf("unexpected progress %+v, want %.3f", p, want)
	}
	if _, err := other.CommandProgress(d.ID); !errors.Is(err, command.ErrNotFound) {
		t.Fatalf("another battle's command should not be visible, got %v", err)
	}
	for s.Tick() < d.ExecuteTick {
		if !s.Step() {
			t.Fatalf("battle stopped at tick %d", s.Tick())
		}
	}
	p, err = s.CommandProgress(d.ID)
	if err != nil {
		t.Fatalf("progress after execution: %v", err)
	}
	if p.Progress != 1 || p.RemainingTicks != 0 || p.Status != command.StatusCompleted {
		t.Fatalf("executed command progress %+v", p)
	}
}

func TestCancelAfterExecutionFails(t *testing.T) {
	m := initTestManager(t, nil)
	s := initTestDuel(t, m, "cancel-late", 23)
	d, err := s.QueueCommand("red-cmdr", "red", command.Stop{Units: []string{redUnit}}, command.PriorityNormal)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	for s.Tick() < d.ExecuteTick {
		s.Step()
	}
	if _, err := s.CancelCommand(d.ID); !errors.Is(err, command.ErrNotCancellable) {
		t.Fatalf("executed command must not cancel, got %v", err)
	}
	if u := mustUnit(t, s, redUnit); u.Chaos {
		t.Fatalf("default policy must not penalize")
	}
}

func TestRetreatAndSurrenderEndBattle(t *testing.T) {
	m := initTestManager(t, nil)
	s := initTestDuel(t, m, "retreat", 29)
	if err := s.Retreat("blue"); err != nil {
		t.Fatalf("retreat: %v", err)
	}
	res, ok := s.Result()
	if !ok || res.Winner != "red" || res.Reason != EndRetreat {
		t.Fatalf("unexpected retreat result %+v", res)
	}
	if u := mustUnit(t, s, blueUnit); !u.Retreating || u.TargetPos == nil || !(u.TargetPos.X > 100) {
		t.Fatalf("blue should head away from red: %+v", u)
	}

	s2 := initTestDuel(t, m, "surrender", 31)
	if err := s2.Surrender("red"); err != nil {
		t.Fatalf("surrender: %v", err)
	}
	res, ok = s2.Result()
	if !ok || res.Winner != "blue" || res.Reason != EndSurrender {
		t.Fatalf("unexpected surrender result %+v", res)
	}
	if err := s2.Surrender("blue"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("ended battle should refuse surrender, got %v", err)
	}
}

func TestTimeoutEndsBattle(t *testing.T) {
	m := initTestManager(t, func(c *Config) { c.Params.MaxTicks = 20 })
	s := initTestDuel(t, m, "timeout", 37)
	for i := 0; i < 25; i++ {
		s.Step()
	}
	res, ok := s.Result()
	if !ok || res.Reason != EndTimeout || res.EndTick != 20 {
		t.Fatalf("unexpected timeout result %+v", res)
	}
	// The battleship outguns the cruiser.
	if res.Winner != "red" {
		t.Fatalf("expected red to win on power, got %q", res.Winner)
	}
}

func TestRepairThroughSession(t *testing.T) {
	m := initTestManager(t, nil)
	s, err := m.CreateSessionWithSeed("game-1", "grid-1", "repair", 41)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.AddParticipant("red", []string{"red-fleet"}, []string{"red-cmdr"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddParticipant("blue", []string{"blue-fleet"}, []string{"blue-cmdr"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddFleetUnits(fleet.FleetSpec{FleetID: "red-fleet", FactionID: "red", Ships: []fleet.ShipSpec{
		{Class: fleet.ClassBattleship, Count: 1}, {Class: fleet.ClassEngineering, Count: 1},
	}}, fleet.Vec3{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddFleetUnits(fleet.FleetSpec{FleetID: "blue-fleet", FactionID: "blue", Ships: []fleet.ShipSpec{
		{Class: fleet.ClassCruiser, Count: 1},
	}}, fleet.Vec3{X: 2000}); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{"red", "blue"} {
		if err := s.SetReady(f, true); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := s.StartRepair("red", "red-fleet-02", "red-fleet-01", damage.Engine, damage.RepairField); !errors.Is(err, damage.ErrNotEngineering) {
		t.Fatalf("battleship cannot repair, got %v", err)
	}
	if _, err := s.StartRepair("blue", "red-fleet-01", "red-fleet-02", damage.Engine, damage.RepairField); command.CodeOf(err) != command.CodeUnitNotOwned {
		t.Fatalf("foreign repairer must be refused, got %v", err)
	}
	if _, err := s.StartRepair("red", "red-fleet-01", "red-fleet-02", damage.Engine, damage.RepairField); !errors.Is(err, damage.ErrNothingToRepair) {
		t.Fatalf("intact engine has nothing to repair, got %v", err)
	}
}

func TestDamagedBridgeSlowsOrders(t *testing.T) {
	m := initTestManager(t, nil)
	clean := initTestDuel(t, m, "bridge-clean", 11)
	hurt := initTestDuel(t, m, "bridge-hurt", 11)

	u := hurt.units[redUnit]
	bridge, _ := hurt.damage.Component(redUnit, damage.Bridge)
	for i := 0; i < 10000 && bridge.Fraction() > damage.DamagedThreshold; i++ {
		hurt.damage.ApplyComponentDamage(u, bridge.MaxHealth*0.01, fleet.FacingFront, "test", 0)
		bridge, _ = hurt.damage.Component(redUnit, damage.Bridge)
	}
	fx := hurt.Effects(redUnit)
	if bridge.Destroyed || !fx.CanReceiveOrders || fx.CommandCapability >= 1 {
		t.Fatalf("expected a damaged but working bridge, got %+v (%+v)", bridge, fx)
	}

	stop := command.Stop{Units: []string{redUnit}}
	want, err := clean.QueueCommand("red-cmdr", "red", stop, command.PriorityNormal)
	if err != nil {
		t.Fatalf("queue clean: %v", err)
	}
	got, err := hurt.QueueCommand("red-cmdr", "red", stop, command.PriorityNormal)
	if err != nil {
		t.Fatalf("queue hurt: %v", err)
	}
	if got.Delay.Base != want.Delay.Base {
		t.Fatalf("same seed should draw the same base delay: %v vs %v", got.Delay.Base, want.Delay.Base)
	}
	if got.Delay.Impairment <= 0 || got.Delay.Total <= want.Delay.Total {
		t.Fatalf("damaged bridge should lengthen the delay: %+v vs %+v", got.Delay, want.Delay)
	}
}
