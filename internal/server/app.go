package server

import (
	"log"
	"time"

	"TacticalCore/internal/fleet"
	"TacticalCore/internal/game"
)

type AppConfig struct {
	WorldConfigPath string
	CatalogPath     string
	Overrides       BattleParamOverrides
	CleanupInterval time.Duration
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		WorldConfigPath: "configs/world.json",
		CatalogPath:     "configs/ships.yaml",
		CleanupInterval: 60 * time.Second,
	}
}

func resolveWorldParams(cfg AppConfig) WorldParams {
	params := DefaultWorldParams()
	loaded, err := loadWorldParamsFromFile(cfg.WorldConfigPath, params)
	if err != nil {
		log.Printf("world config: %v (using defaults)", err)
	} else {
		params = loaded
	}
	return cfg.Overrides.apply(params)
}

// resolveGameConfig builds the manager config. A malformed ship catalog is
// fatal.
func resolveGameConfig(cfg AppConfig) (game.Config, WorldParams) {
	world := resolveWorldParams(cfg)
	catalog, err := fleet.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("ship catalog: %v", err)
	}
	gc := game.DefaultConfig()
	gc.Params = world.Battle
	gc.EWar = world.EWar
	gc.Command = world.Command
	gc.Catalog = catalog
	gc.CancelPolicy = game.ParseCancelPolicy(world.CancelPolicy, world.CancelMoraleLoss)
	gc.AutoTick = true
	return gc, world
}

func StartApp(addr string, cfg AppConfig) {
	gc, world := resolveGameConfig(cfg)
	manager := game.NewManager(gc)
	a := newAPI(manager)

	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	// Periodic cleanup of finished battles
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			if n := a.sweep(); n > 0 {
				log.Printf("cleanup: removed %d finished battles", n)
			}
		}
	}()

	log.Printf("starting battle server on %s (tick %s, %d ship classes, blackout at %.0f, cancel policy %s)\n",
		addr, world.Battle.TickInterval, len(gc.Catalog.Classes()), world.EWar.BlackoutAt, world.CancelPolicy)
	startServer(a, addr)
}
