package game

import "TacticalCore/internal/fleet"

// CancelPolicy decides what cancelling a queued order costs. probability is
// the scheduler's cancel chaos probability; roll draws from the battle's
// seeded RNG. It returns the ids of units it affected.
type CancelPolicy interface {
	OnCancel(units []*fleet.Unit, probability float64, roll func() float64) []string
}

// IgnoreCancelChaos makes cancellation free.
type IgnoreCancelChaos struct{}

func (IgnoreCancelChaos) OnCancel([]*fleet.Unit, float64, func() float64) []string { return nil }

// MoraleShockPolicy rolls once per addressed unit; on a hit the unit loses
// MoraleLoss morale. A unit driven to zero morale falls into chaos.
type MoraleShockPolicy struct {
	MoraleLoss float64
}

const DefaultCancelMoraleLoss = 25.0

func (p MoraleShockPolicy) OnCancel(units []*fleet.Unit, probability float64, roll func() float64) []string {
	loss := p.MoraleLoss
	if !(loss > 0) {
		loss = DefaultCancelMoraleLoss
	}
	var hit []string
	for _, u := range units {
		if roll() < probability {
			u.SetMorale(u.Morale - loss)
			hit = append(hit, u.ID)
		}
	}
	return hit
}

// ParseCancelPolicy maps a config name to a policy; unknown names get
// IgnoreCancelChaos.
func ParseCancelPolicy(name string, moraleLoss float64) CancelPolicy {
	switch name {
	case "morale_shock", "MORALE_SHOCK":
		return MoraleShockPolicy{MoraleLoss: moraleLoss}
	}
	return IgnoreCancelChaos{}
}
