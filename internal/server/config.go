package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"TacticalCore/internal/command"
	"TacticalCore/internal/ewar"
	"TacticalCore/internal/game"
)

type battleConfig struct {
	TickIntervalMs        *float64 `json:"tickIntervalMs"`
	SnapshotEvery         *int64   `json:"snapshotEvery"`
	MaxTicks              *int64   `json:"maxTicks"`
	Drag                  *float64 `json:"drag"`
	MoraleLossPerHit      *float64 `json:"moraleLossPerHit"`
	MoraleLossHPScale     *float64 `json:"moraleLossHpScale"`
	ShieldRegenPerTick    *float64 `json:"shieldRegenPerTick"`
	FuelPerUnit           *float64 `json:"fuelPerUnit"`
	RetreatEscapeDistance *float64 `json:"retreatEscapeDistance"`
	EffectTTL             *int64   `json:"effectTtl"`
	MissileSpeed          *float64 `json:"missileSpeed"`
}

type ewarConfig struct {
	InterferenceAt  *float64 `json:"interferenceAt"`
	HeavyAt         *float64 `json:"heavyAt"`
	BlackoutAt      *float64 `json:"blackoutAt"`
	DecayRate       *float64 `json:"decayRate"`
	AttackDecayRate *float64 `json:"attackDecayRate"`
	ClearAmount     *float64 `json:"clearAmount"`
}

type commandConfig struct {
	BaseDelayMin           *int64   `json:"baseDelayMin"`
	BaseDelayMax           *int64   `json:"baseDelayMax"`
	DistanceFactor         *float64 `json:"distanceFactor"`
	MaxSkillDiscount       *float64 `json:"maxSkillDiscount"`
	CancelChaosProbability *float64 `json:"cancelChaosProbability"`
}

type cancelConfig struct {
	Policy     *string  `json:"policy"`
	MoraleLoss *float64 `json:"moraleLoss"`
}

type worldConfig struct {
	Battle  *battleConfig  `json:"battle"`
	EWar    *ewarConfig    `json:"ewar"`
	Command *commandConfig `json:"command"`
	Cancel  *cancelConfig  `json:"cancel"`
}

// WorldParams is the resolved tuning for every battle of the process.
type WorldParams struct {
	Battle           game.Params
	EWar             ewar.Params
	Command          command.Params
	CancelPolicy     string
	CancelMoraleLoss float64
}

func DefaultWorldParams() WorldParams {
	return WorldParams{
		Battle:           game.DefaultParams(),
		EWar:             ewar.DefaultParams(),
		Command:          command.DefaultParams(),
		CancelPolicy:     "ignore",
		CancelMoraleLoss: game.DefaultCancelMoraleLoss,
	}
}

func sanitizeWorldParams(p WorldParams) WorldParams {
	p.Battle = game.SanitizeParams(p.Battle)
	p.EWar = ewar.SanitizeParams(p.EWar)
	p.Command = command.SanitizeParams(p.Command)
	if p.CancelPolicy == "" {
		p.CancelPolicy = "ignore"
	}
	if !(p.CancelMoraleLoss > 0) {
		p.CancelMoraleLoss = game.DefaultCancelMoraleLoss
	}
	return p
}

// BattleParamOverrides represents optional command-line overrides for battle tuning.
type BattleParamOverrides struct {
	TickIntervalMs         *float64
	MaxTicks               *float64
	SnapshotEvery          *float64
	Drag                   *float64
	MoraleLossPerHit       *float64
	BlackoutAt             *float64
	JammingDecayRate       *float64
	CancelChaosProbability *float64
	CancelPolicy           *string
}

func (o BattleParamOverrides) apply(base WorldParams) WorldParams {
	if o.TickIntervalMs != nil {
		base.Battle.TickInterval = msToDuration(*o.TickIntervalMs)
	}
	if o.MaxTicks != nil {
		base.Battle.MaxTicks = int64(*o.MaxTicks)
	}
	if o.SnapshotEvery != nil {
		base.Battle.SnapshotEvery = int64(*o.SnapshotEvery)
	}
	if o.Drag != nil {
		base.Battle.Drag = *o.Drag
	}
	if o.MoraleLossPerHit != nil {
		base.Battle.MoraleLossPerHit = *o.MoraleLossPerHit
	}
	if o.BlackoutAt != nil {
		base.EWar.BlackoutAt = *o.BlackoutAt
	}
	if o.JammingDecayRate != nil {
		base.EWar.DecayRate = *o.JammingDecayRate
	}
	if o.CancelChaosProbability != nil {
		base.Command.CancelChaosProbability = *o.CancelChaosProbability
	}
	if o.CancelPolicy != nil {
		base.CancelPolicy = *o.CancelPolicy
	}
	return sanitizeWorldParams(base)
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

func mergeBattleConfig(base game.Params, cfg *battleConfig) game.Params {
	if cfg == nil {
		return base
	}
	if cfg.TickIntervalMs != nil {
		base.TickInterval = msToDuration(*cfg.TickIntervalMs)
	}
	if cfg.SnapshotEvery != nil {
		base.SnapshotEvery = *cfg.SnapshotEvery
	}
	if cfg.MaxTicks != nil {
		base.MaxTicks = *cfg.MaxTicks
	}
	if cfg.Drag != nil {
		base.Drag = *cfg.Drag
	}
	if cfg.MoraleLossPerHit != nil {
		base.MoraleLossPerHit = *cfg.MoraleLossPerHit
	}
	if cfg.MoraleLossHPScale != nil {
		base.MoraleLossHPScale = *cfg.MoraleLossHPScale
	}
	if cfg.ShieldRegenPerTick != nil {
		base.ShieldRegenPerTick = *cfg.ShieldRegenPerTick
	}
	if cfg.FuelPerUnit != nil {
		base.FuelPerUnit = *cfg.FuelPerUnit
	}
	if cfg.RetreatEscapeDistance != nil {
		base.RetreatEscapeDistance = *cfg.RetreatEscapeDistance
	}
	if cfg.EffectTTL != nil {
		base.EffectTTL = *cfg.EffectTTL
	}
	if cfg.MissileSpeed != nil {
		base.MissileSpeed = *cfg.MissileSpeed
	}
	return base
}

func mergeEWarConfig(base ewar.Params, cfg *ewarConfig) ewar.Params {
	if cfg == nil {
		return base
	}
	if cfg.InterferenceAt != nil {
		base.InterferenceAt = *cfg.InterferenceAt
	}
	if cfg.HeavyAt != nil {
		base.HeavyAt = *cfg.HeavyAt
	}
	if cfg.BlackoutAt != nil {
		base.BlackoutAt = *cfg.BlackoutAt
	}
	if cfg.DecayRate != nil {
		base.DecayRate = *cfg.DecayRate
	}
	if cfg.AttackDecayRate != nil {
		base.AttackDecayRate = *cfg.AttackDecayRate
	}
	if cfg.ClearAmount != nil {
		base.ClearAmount = *cfg.ClearAmount
	}
	return base
}

func mergeCommandConfig(base command.Params, cfg *commandConfig) command.Params {
	if cfg == nil {
		return base
	}
	if cfg.BaseDelayMin != nil {
		base.BaseDelayMin = *cfg.BaseDelayMin
	}
	if cfg.BaseDelayMax != nil {
		base.BaseDelayMax = *cfg.BaseDelayMax
	}
	if cfg.DistanceFactor != nil {
		base.DistanceFactor = *cfg.DistanceFactor
	}
	if cfg.MaxSkillDiscount != nil {
		base.MaxSkillDiscount = *cfg.MaxSkillDiscount
	}
	if cfg.CancelChaosProbability != nil {
		base.CancelChaosProbability = *cfg.CancelChaosProbability
	}
	return base
}

func mergeWorldConfig(base WorldParams, cfg worldConfig) WorldParams {
	base.Battle = mergeBattleConfig(base.Battle, cfg.Battle)
	base.EWar = mergeEWarConfig(base.EWar, cfg.EWar)
	base.Command = mergeCommandConfig(base.Command, cfg.Command)
	if cfg.Cancel != nil {
		if cfg.Cancel.Policy != nil {
			base.CancelPolicy = *cfg.Cancel.Policy
		}
		if cfg.Cancel.MoraleLoss != nil {
			base.CancelMoraleLoss = *cfg.Cancel.MoraleLoss
		}
	}
	return sanitizeWorldParams(base)
}

func parseWorldConfig(data []byte, base WorldParams) (WorldParams, error) {
	var cfg worldConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return sanitizeWorldParams(base), err
	}
	return mergeWorldConfig(base, cfg), nil
}

func loadWorldParamsFromFile(path string, base WorldParams) (WorldParams, error) {
	if path == "" {
		return sanitizeWorldParams(base), nil
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return sanitizeWorldParams(base), nil
		}
		return sanitizeWorldParams(base), fmt.Errorf("read world config %q: %w", cleanPath, err)
	}
	params, err := parseWorldConfig(data, base)
	if err != nil {
		return params, fmt.Errorf("parse world config %q: %w", cleanPath, err)
	}
	return params, nil
}
