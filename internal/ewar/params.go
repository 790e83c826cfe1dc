package ewar

// Params tunes the minovsky density model. Density rises when a faction is
// attacked or particles are spread, and decays every tick.
type Params struct {
	InterferenceAt  float64 // density where Interference begins (e.g., 25)
	HeavyAt         float64 // density where Heavy begins (e.g., 50)
	BlackoutAt      float64 // density where Blackout begins (e.g., 80)
	DecayRate       float64 // density lost per tick when not under attack
	AttackDecayRate float64 // density lost per tick while under attack
	ClearAmount     float64 // density removed by a countermeasure
}

const (
	MaxDensity = 100.0

	DefaultInterferenceAt  = 25.0
	DefaultHeavyAt         = 50.0
	DefaultBlackoutAt      = 80.0
	DefaultDecayRate       = 0.25
	DefaultAttackDecayRate = 0.05
	DefaultClearAmount     = 30.0
)

func DefaultParams() Params {
	return Params{
		InterferenceAt:  DefaultInterferenceAt,
		HeavyAt:         DefaultHeavyAt,
		BlackoutAt:      DefaultBlackoutAt,
		DecayRate:       DefaultDecayRate,
		AttackDecayRate: DefaultAttackDecayRate,
		ClearAmount:     DefaultClearAmount,
	}
}

// SanitizeParams restores defaults for any field that would break the
// ordering InterferenceAt < HeavyAt < BlackoutAt <= MaxDensity.
func SanitizeParams(p Params) Params {
	d := DefaultParams()
	if !(p.InterferenceAt > 0 && p.InterferenceAt < MaxDensity) {
		p.InterferenceAt = d.InterferenceAt
	}
	if !(p.HeavyAt > p.InterferenceAt && p.HeavyAt < MaxDensity) {
		p.HeavyAt = d.HeavyAt
	}
	if !(p.BlackoutAt > p.HeavyAt && p.BlackoutAt <= MaxDensity) {
		p.BlackoutAt = d.BlackoutAt
	}
	if !(p.InterferenceAt < p.HeavyAt && p.HeavyAt < p.BlackoutAt) {
		p.InterferenceAt, p.HeavyAt, p.BlackoutAt = d.InterferenceAt, d.HeavyAt, d.BlackoutAt
	}
	if !(p.DecayRate >= 0) {
		p.DecayRate = d.DecayRate
	}
	if !(p.AttackDecayRate >= 0) {
		p.AttackDecayRate = d.AttackDecayRate
	}
	if !(p.ClearAmount > 0) {
		p.ClearAmount = d.ClearAmount
	}
	return p
}
