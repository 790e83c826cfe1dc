package formation

import (
	"math"

	"TacticalCore/internal/fleet"
)

// Modifiers are multiplicative combat factors; 1 is neutral.
type Modifiers struct {
	Attack      float64 `json:"attack"`
	Defense     float64 `json:"defense"`
	Accuracy    float64 `json:"accuracy"`
	Evasion     float64 `json:"evasion"`
	TurnRate    float64 `json:"turn_rate"`
	Broadside   float64 `json:"broadside"`
	ExposedArea float64 `json:"exposed_area"`
	BlindSpot   float64 `json:"blind_spot"`
	Penetration float64 `json:"penetration"`
	Speed       float64 `json:"speed"`
}

func Neutral() Modifiers {
	return Modifiers{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
}

var baseModifiers = map[Type]Modifiers{
	Standard: Neutral(),
	Spindle:  {Attack: 1.3, Defense: 0.9, Accuracy: 1.0, Evasion: 0.9, TurnRate: 0.7, Broadside: 0.6, ExposedArea: 0.8, BlindSpot: 1.2, Penetration: 1.5, Speed: 1.1},
	Line:     {Attack: 1.1, Defense: 0.9, Accuracy: 1.1, Evasion: 1.0, TurnRate: 0.8, Broadside: 1.4, ExposedArea: 1.2, BlindSpot: 1.1, Penetration: 0.8, Speed: 0.9},
	Circular: {Attack: 0.9, Defense: 1.3, Accuracy: 1.0, Evasion: 0.9, TurnRate: 1.1, Broadside: 1.0, ExposedArea: 0.9, BlindSpot: 0, Penetration: 0.7, Speed: 0.7},
	Echelon:  {Attack: 1.05, Defense: 1.0, Accuracy: 1.05, Evasion: 1.05, TurnRate: 0.9, Broadside: 1.2, ExposedArea: 1.0, BlindSpot: 0.9, Penetration: 1.0, Speed: 1.0},
	Wedge:    {Attack: 1.2, Defense: 0.95, Accuracy: 1.05, Evasion: 0.95, TurnRate: 0.85, Broadside: 0.8, ExposedArea: 0.9, BlindSpot: 1.1, Penetration: 1.3, Speed: 1.05},
	Encircle: {Attack: 1.15, Defense: 0.85, Accuracy: 1.1, Evasion: 0.9, TurnRate: 0.7, Broadside: 1.3, ExposedArea: 1.3, BlindSpot: 0.5, Penetration: 0.7, Speed: 0.85},
	Retreat:  {Attack: 0.5, Defense: 1.1, Accuracy: 0.7, Evasion: 1.4, TurnRate: 1.1, Broadside: 0.5, ExposedArea: 0.8, BlindSpot: 1.3, Penetration: 0.5, Speed: 1.3},
}

// BaseModifiers is the unscaled table for t, or Neutral for unknown types.
func BaseModifiers(t Type) Modifiers {
	if m, ok := baseModifiers[t]; ok {
		return m
	}
	return Neutral()
}

// EffectFactor is the share of a formation's effect that applies: 50% at
// zero cohesion up to 100% at full, halved again while changing.
func EffectFactor(cohesion float64, changing bool) float64 {
	if math.IsNaN(cohesion) {
		cohesion = 0
	}
	cohesion = fleet.Clamp(cohesion, 0, MaxCohesion)
	k := 0.5 + 0.5*cohesion/MaxCohesion
	if changing {
		k *= 0.5
	}
	return k
}

func ScaledModifiers(t Type, cohesion float64, changing bool) Modifiers {
	return BaseModifiers(t).scale(EffectFactor(cohesion, changing))
}

// scale moves each factor toward 1 by k. A zero entry is an absolute
// property of the formation and stays zero.
func (m Modifiers) scale(k float64) Modifiers {
	f := func(v float64) float64 {
		if v == 0 {
			return 0
		}
		return 1 + (v-1)*k
	}
	return Modifiers{
		Attack:      f(m.Attack),
		Defense:     f(m.Defense),
		Accuracy:    f(m.Accuracy),
		Evasion:     f(m.Evasion),
		TurnRate:    f(m.TurnRate),
		Broadside:   f(m.Broadside),
		ExposedArea: f(m.ExposedArea),
		BlindSpot:   f(m.BlindSpot),
		Penetration: f(m.Penetration),
		Speed:       f(m.Speed),
	}
}
