package main

import (
	"flag"
	"math"
	"time"

	"TacticalCore/internal/server"
)

func main() {
	addr := flag.String("addr", ":8080", "address to listen on (e.g., 127.0.0.1:8080)")
	worldConfigPath := flag.String("world-config", "configs/world.json", "path to battle tuning JSON")
	catalogPath := flag.String("ships", "configs/ships.yaml", "path to ship-class catalog YAML")
	cleanup := flag.Duration("cleanup", 60*time.Second, "interval between sweeps of finished battles")
	tickMs := flag.Float64("tick-ms", math.NaN(), "override simulation tick interval in milliseconds")
	maxTicks := flag.Float64("max-ticks", math.NaN(), "override battle timeout in ticks")
	snapshotEvery := flag.Float64("snapshot-every", math.NaN(), "override ticks between BATTLE_UPDATE events")
	drag := flag.Float64("drag", math.NaN(), "override velocity drag (1/s)")
	moraleLoss := flag.Float64("morale-loss", math.NaN(), "override morale lost per hit")
	blackoutAt := flag.Float64("blackout-at", math.NaN(), "override minovsky density where blackout begins")
	jamDecay := flag.Float64("jam-decay", math.NaN(), "override minovsky density decay per tick")
	cancelChaos := flag.Float64("cancel-chaos", math.NaN(), "override chaos probability reported on cancel (0-1)")
	cancelPolicy := flag.String("cancel-policy", "", "override cancel policy (ignore, morale_shock)")
	flag.Parse()

	cfg := server.DefaultAppConfig()
	cfg.WorldConfigPath = *worldConfigPath
	cfg.CatalogPath = *catalogPath
	cfg.CleanupInterval = *cleanup

	var overrides server.BattleParamOverrides

	if !math.IsNaN(*tickMs) {
		val := *tickMs
		overrides.TickIntervalMs = &val
	}
	if !math.IsNaN(*maxTicks) {
		val := *maxTicks
		overrides.MaxTicks = &val
	}
	if !math.IsNaN(*snapshotEvery) {
		val := *snapshotEvery
		overrides.SnapshotEvery = &val
	}
	if !math.IsNaN(*drag) {
		val := *drag
		overrides.Drag = &val
	}
	if !math.IsNaN(*moraleLoss) {
		val := *moraleLoss
		overrides.MoraleLossPerHit = &val
	}
	if !math.IsNaN(*blackoutAt) {
		val := *blackoutAt
		overrides.BlackoutAt = &val
	}
	if !math.IsNaN(*jamDecay) {
		val := *jamDecay
		overrides.JammingDecayRate = &val
	}
	if !math.IsNaN(*cancelChaos) {
		val := *cancelChaos
		overrides.CancelChaosProbability = &val
	}
	if *cancelPolicy != "" {
		val := *cancelPolicy
		overrides.CancelPolicy = &val
	}

	cfg.Overrides = overrides

	server.StartApp(*addr, cfg)
}
