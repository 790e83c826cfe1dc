package game

import (
	"math/rand"
	"testing"
	"time"

	"TacticalCore/internal/fleet"
)

func TestEventBusCallbacksRunInRegistrationOrder(t *testing.T) {
	b := NewEventBus()
	var got []string
	b.OnEvent(func(Event) { got = append(got, "first") })
	off := b.OnEvent(func(Event) { got = append(got, "second") })
	b.OnEvent(func(Event) { got = append(got, "third") })

	b.Publish(Event{Seq: 1})
	off()
	b.Publish(Event{Seq: 2})

	want := []string{"first", "second", "third", "first", "third"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestEventBusCallbackMayRegister(t *testing.T) {
	b := NewEventBus()
	var late int
	var ch <-chan Event
	b.OnEvent(func(ev Event) {
		if ev.Seq != 1 {
			return
		}
		b.OnEvent(func(Event) { late++ })
		ch, _ = b.Subscribe(4)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Publish(Event{Seq: 1})
		b.Publish(Event{Seq: 2})
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish deadlocked when a callback registered on the same bus")
	}
	if late != 1 {
		t.Fatalf("late callback ran %d times, want 1", late)
	}
	if len(ch) != 2 {
		t.Fatalf("subscriber added mid-publish got %d events, want 2", len(ch))
	}
}

func TestEventBusDropsWhenSubscriberFull(t *testing.T) {
	b := NewEventBus()
	ch, cancel := b.Subscribe(2)
	for i := uint64(1); i <= 5; i++ {
		b.Publish(Event{Seq: i})
	}
	if b.Dropped() != 3 {
		t.Fatalf("expected 3 drops, got %d", b.Dropped())
	}
	if ev := <-ch; ev.Seq != 1 {
		t.Fatalf("expected oldest event first, got %d", ev.Seq)
	}
	if ev := <-ch; ev.Seq != 2 {
		t.Fatalf("expected seq 2, got %d", ev.Seq)
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("cancelled subscription should be closed")
	}
}

func TestEventBusCloseEndsStreams(t *testing.T) {
	b := NewEventBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()
	b.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	b.Publish(Event{Seq: 1})
	late, _ := b.Subscribe(1)
	if _, ok := <-late; ok {
		t.Fatalf("subscribing to a closed bus should return a closed channel")
	}
}

func TestCancelPolicies(t *testing.T) {
	units := []*fleet.Unit{
		fleet.NewUnit("a", fleet.DefaultClassSpecs()[0], 1),
		fleet.NewUnit("b", fleet.DefaultClassSpecs()[1], 1),
	}
	always := func() float64 { return 0 }
	never := func() float64 { return 0.99 }

	if hit := (IgnoreCancelChaos{}).OnCancel(units, 1, always); len(hit) != 0 {
		t.Fatalf("ignore policy affected %v", hit)
	}
	if hit := (MoraleShockPolicy{}).OnCancel(units, 0.5, never); len(hit) != 0 {
		t.Fatalf("missed rolls affected %v", hit)
	}
	hit := (MoraleShockPolicy{}).OnCancel(units, 0.5, always)
	if len(hit) != 2 || units[0].Morale != fleet.MaxMorale-DefaultCancelMoraleLoss {
		t.Fatalf("expected both units shocked by %.0f, got %v morale %.2f", DefaultCancelMoraleLoss, hit, units[0].Morale)
	}

	rng := rand.New(rand.NewSource(1))
	p := ParseCancelPolicy("morale_shock", 500)
	p.OnCancel(units[:1], 1, rng.Float64)
	if units[0].Morale != 0 {
		t.Fatalf("expected morale floored at 0, got %.2f", units[0].Morale)
	}
	if _, ok := ParseCancelPolicy("bogus", 0).(IgnoreCancelChaos); !ok {
		t.Fatalf("unknown policy names should fall back to IgnoreCancelChaos")
	}
}
