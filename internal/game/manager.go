package game

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"TacticalCore/internal/command"
	"TacticalCore/internal/ewar"
	"TacticalCore/internal/fleet"

	"github.com/google/uuid"
)

// Config wires a Manager. Zero values fall back to defaults.
type Config struct {
	Params       Params
	EWar         ewar.Params
	Command      command.Params
	Catalog      *fleet.Catalog
	CancelPolicy CancelPolicy
	Logger       *log.Logger

	// AutoTick starts a Run loop for each session when it activates.
	AutoTick bool
}

func DefaultConfig() Config {
	return Config{
		Params:       DefaultParams(),
		EWar:         ewar.DefaultParams(),
		Command:      command.DefaultParams(),
		Catalog:      fleet.DefaultCatalog(),
		CancelPolicy: IgnoreCancelChaos{},
	}
}

// Manager owns every battle of one process together with the shared EW
// system and delay scheduler. Sessions are indexed by battle id.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg       Config
	ewar      *ewar.System
	scheduler *command.Scheduler
	logger    *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg Config) *Manager {
	if cfg.Catalog == nil {
		cfg.Catalog = fleet.DefaultCatalog()
	}
	if cfg.CancelPolicy == nil {
		cfg.CancelPolicy = IgnoreCancelChaos{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	cfg.Params = SanitizeParams(cfg.Params)
	ew := ewar.NewSystem(cfg.EWar)
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sessions:  make(map[string]*Session),
		cfg:       cfg,
		ewar:      ew,
		scheduler: command.NewScheduler(cfg.Command, ew),
		logger:    cfg.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (m *Manager) EWar() *ewar.System            { return m.ewar }
func (m *Manager) Scheduler() *command.Scheduler { return m.scheduler }
func (m *Manager) Catalog() *fleet.Catalog       { return m.cfg.Catalog }
func (m *Manager) Params() Params                { return m.cfg.Params }

// CreateSession allocates a battle with a fresh id. Its seed derives from
// the id.
func (m *Manager) CreateSession(gameSessionID, gridID string) *Session {
	for {
		id := uuid.NewString()
		s, err := m.CreateSessionWithSeed(gameSessionID, gridID, id, command.DeriveSeed(id))
		if err == nil {
			return s
		}
	}
}

// CreateSessionWithSeed allocates a battle with a caller-chosen id and seed,
// for replays and tests.
func (m *Manager) CreateSessionWithSeed(gameSessionID, gridID, battleID string, seed int64) (*Session, error) {
	if battleID == "" {
		return nil, fmt.Errorf("%w: empty battle id", ErrSessionExists)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.sessions[battleID]; dup {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, battleID)
	}
	s := newSession(battleID, gameSessionID, gridID, seed, sessionDeps{
		params:       m.cfg.Params,
		catalog:      m.cfg.Catalog,
		ewar:         m.ewar,
		scheduler:    m.scheduler,
		cancelPolicy: m.cfg.CancelPolicy,
		logger:       m.logger,
		onActivate:   m.activated,
	})
	m.sessions[battleID] = s
	m.logger.Printf("battle %s: created (game=%s grid=%s)", battleID, gameSessionID, gridID)
	return s, nil
}

func (m *Manager) activated(s *Session) {
	if !m.cfg.AutoTick {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.Run(m.ctx)
	}()
}

func (m *Manager) GetSession(battleID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[battleID]
	return s, ok
}

// RemoveSession destroys and unindexes a battle.
func (m *Manager) RemoveSession(battleID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[battleID]
	delete(m.sessions, battleID)
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.Destroy()
	m.logger.Printf("battle %s: removed", battleID)
	return true
}

// RemoveEnded drops every battle that has finished and returns how many
// were removed.
func (m *Manager) RemoveEnded() int {
	var ended []string
	m.mu.RLock()
	for id, s := range m.sessions {
		if s.Status() == StatusEnded {
			ended = append(ended, id)
		}
	}
	m.mu.RUnlock()
	sort.Strings(ended)
	n := 0
	for _, id := range ended {
		if m.RemoveSession(id) {
			n++
		}
	}
	return n
}

// Sessions returns every battle sorted by id.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close stops every Run loop and destroys all battles.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
	for _, s := range m.Sessions() {
		m.RemoveSession(s.ID)
	}
}
