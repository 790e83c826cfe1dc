package command

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"TacticalCore/internal/ewar"

	"github.com/google/uuid"
)

type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityEmergency
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityEmergency:
		return "EMERGENCY"
	}
	return "UNKNOWN"
}

// Multiplier is applied to the delay subtotal: low priority is slower,
// emergency faster.
func (p Priority) Multiplier() float64 {
	switch p {
	case PriorityLow:
		return 1.5
	case PriorityHigh:
		return 0.75
	case PriorityEmergency:
		return 0.5
	}
	return 1.0
}

func ParsePriority(s string) (Priority, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return PriorityLow, true
	case "", "NORMAL":
		return PriorityNormal, true
	case "HIGH":
		return PriorityHigh, true
	case "EMERGENCY":
		return PriorityEmergency, true
	}
	return PriorityNormal, false
}

type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusExecuting Status = "EXECUTING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// DelayBreakdown explains how a command's delay was computed. All components
// are in ticks; Total is what the command actually waits.
type DelayBreakdown struct {
	Base               float64 `json:"base"`
	Distance           float64 `json:"distance"`
	Jamming            float64 `json:"jamming"`
	Skill              float64 `json:"skill"`
	Impairment         float64 `json:"impairment,omitempty"`
	PriorityMultiplier float64 `json:"priority_multiplier"`
	Total              int64   `json:"total"`
}

// Delayed is a command waiting for its execute tick.
type Delayed struct {
	ID          string
	BattleID    string
	CommanderID string
	FactionID   string
	Command     Command
	IssueTick   int64
	ExecuteTick int64
	Delay       DelayBreakdown
	Status      Status
	Priority    Priority
	Cancellable bool
	FailReason  string

	seq uint64
}

// Progress is the elapsed fraction of the delay at tick, 0..1.
func (d *Delayed) Progress(tick int64) float64 {
	total := d.ExecuteTick - d.IssueTick
	if total <= 0 {
		return 1
	}
	p := float64(tick-d.IssueTick) / float64(total)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Remaining is the number of ticks left until execution, never negative.
func (d *Delayed) Remaining(tick int64) int64 {
	r := d.ExecuteTick - tick
	if r < 0 {
		return 0
	}
	return r
}

// Params tunes delay computation.
type Params struct {
	BaseDelayMin           int64   // ticks
	BaseDelayMax           int64   // ticks
	DistanceFactor         float64 // ticks per unit of commander-to-unit distance
	MaxSkillDiscount       float64 // fraction removed at skill 100
	CancelChaosProbability float64
}

const (
	DefaultBaseDelayMin           = 5
	DefaultBaseDelayMax           = 15
	DefaultDistanceFactor         = 0.01
	DefaultMaxSkillDiscount       = 0.5
	DefaultCancelChaosProbability = 0.1
)

func DefaultParams() Params {
	return Params{
		BaseDelayMin:           DefaultBaseDelayMin,
		BaseDelayMax:           DefaultBaseDelayMax,
		DistanceFactor:         DefaultDistanceFactor,
		MaxSkillDiscount:       DefaultMaxSkillDiscount,
		CancelChaosProbability: DefaultCancelChaosProbability,
	}
}

func SanitizeParams(p Params) Params {
	d := DefaultParams()
	if p.BaseDelayMin < 0 {
		p.BaseDelayMin = d.BaseDelayMin
	}
	if p.BaseDelayMax < p.BaseDelayMin {
		p.BaseDelayMax = p.BaseDelayMin
	}
	if !(p.DistanceFactor >= 0) {
		p.DistanceFactor = d.DistanceFactor
	}
	if !(p.MaxSkillDiscount >= 0 && p.MaxSkillDiscount <= 1) {
		p.MaxSkillDiscount = d.MaxSkillDiscount
	}
	if !(p.CancelChaosProbability >= 0 && p.CancelChaosProbability <= 1) {
		p.CancelChaosProbability = d.CancelChaosProbability
	}
	return p
}

// JammingReader exposes the jamming level the scheduler needs.
type JammingReader interface {
	Level(battleID, factionID string) ewar.Level
}

// Request is one submission to QueueCommand. Distance, CommanderSkill and
// CommandCapability are optional; zero means no penalty, no discount and an
// unimpaired chain of command.
type Request struct {
	BattleID          string
	CommanderID       string
	FactionID         string
	Command           Command
	Priority          Priority
	CurrentTick       int64
	Distance          float64
	CommanderSkill    float64 // 0..100
	CommandCapability float64 // 0..1
}

// TickResult lists commands that left the queue during ProcessTick, in
// execution order.
type TickResult struct {
	Executed []Delayed
	Failed   []Delayed
}

type CancelResult struct {
	Command          Delayed
	ChaosProbability float64
}

type battleQueue struct {
	rng      *rand.Rand
	pending  []*Delayed
	finished map[string]*Delayed
}

// Scheduler holds per-battle delayed command queues. It is shared by all
// sessions of a manager.
type Scheduler struct {
	mu      sync.Mutex
	params  Params
	jamming JammingReader
	queues  map[string]*battleQueue
	index   map[string]string // command id -> battle id
	seq     uint64
}

func NewScheduler(params Params, jamming JammingReader) *Scheduler {
	return &Scheduler{
		params:  SanitizeParams(params),
		jamming: jamming,
		queues:  make(map[string]*battleQueue),
		index:   make(map[string]string),
	}
}

func (s *Scheduler) Params() Params { return s.params }

// DeriveSeed hashes a battle id into a stable RNG seed.
func DeriveSeed(battleID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(battleID))
	return int64(h.Sum64())
}

// OpenBattle (re)creates the battle's queue with a seeded RNG so base delays
// are reproducible.
func (s *Scheduler) OpenBattle(battleID string, seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(battleID)
	s.queues[battleID] = newBattleQueue(seed)
}

func newBattleQueue(seed int64) *battleQueue {
	return &battleQueue{
		rng:      rand.New(rand.NewSource(seed)),
		finished: make(map[string]*Delayed),
	}
}

func (s *Scheduler) queueLocked(battleID string) *battleQueue {
	q, ok := s.queues[battleID]
	if !ok {
		q = newBattleQueue(DeriveSeed(battleID))
		s.queues[battleID] = q
	}
	return q
}

// ComputeDelay is the pure delay formula for a given base delay.
func (s *Scheduler) ComputeDelay(level ewar.Level, base, distance, skill float64, priority Priority) DelayBreakdown {
	return s.computeDelay(level, base, distance, skill, 1, priority)
}

// minCapability bounds how far a damaged bridge can stretch a delay.
const minCapability = 0.1

// computeDelay is ComputeDelay for a chain of command working at capability
// (0..1]. Impaired command adds subtotal*(1/capability-1) ticks before the
// priority multiplier; zero is treated as unimpaired.
func (s *Scheduler) computeDelay(level ewar.Level, base, distance, skill, capability float64, priority Priority) DelayBreakdown {
	if distance < 0 || math.IsNaN(distance) {
		distance = 0
	}
	if capability <= 0 || capability > 1 || math.IsNaN(capability) {
		capability = 1
	}
	capability = math.Max(capability, minCapability)
	skill = math.Max(0, math.Min(100, skill))
	b := DelayBreakdown{
		Base:               base,
		Distance:           distance * s.params.DistanceFactor,
		PriorityMultiplier: priority.Multiplier(),
	}
	b.Jamming = (b.Base + b.Distance) * level.Multiplier()
	b.Skill = (skill / 100) * s.params.MaxSkillDiscount * (b.Base + b.Distance + b.Jamming)
	subtotal := b.Base + b.Distance + b.Jamming - b.Skill
	if subtotal < 0 {
		subtotal = 0
	}
	b.Impairment = subtotal * (1/capability - 1)
	b.Total = int64(math.Round((subtotal + b.Impairment) * b.PriorityMultiplier))
	if b.Total < 0 {
		b.Total = 0
	}
	return b
}

func (s *Scheduler) level(battleID, factionID string) ewar.Level {
	if s.jamming == nil {
		return ewar.LevelClear
	}
	return s.jamming.Level(battleID, factionID)
}

// QueueCommand validates the request and stores it QUEUED. A faction in
// BLACKOUT is rejected with CodeBlackout and nothing is stored.
func (s *Scheduler) QueueCommand(req Request) (Delayed, error) {
	if req.Command == nil {
		return Delayed{}, Reject(CodeInvalidCommand, "nil command")
	}
	if err := req.Command.Validate(); err != nil {
		return Delayed{}, err
	}
	level := s.level(req.BattleID, req.FactionID)
	if level == ewar.LevelBlackout {
		return Delayed{}, Reject(CodeBlackout, "faction %s is in communication blackout", req.FactionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queueLocked(req.BattleID)
	span := s.params.BaseDelayMax - s.params.BaseDelayMin + 1
	base := s.params.BaseDelayMin + q.rng.Int63n(span)
	delay := s.computeDelay(level, float64(base), req.Distance, req.CommanderSkill, req.CommandCapability, req.Priority)

	s.seq++
	d := &Delayed{
		ID:          uuid.NewString(),
		BattleID:    req.BattleID,
		CommanderID: req.CommanderID,
		FactionID:   req.FactionID,
		Command:     req.Command,
		IssueTick:   req.CurrentTick,
		ExecuteTick: req.CurrentTick + delay.Total,
		Delay:       delay,
		Status:      StatusQueued,
		Priority:    req.Priority,
		Cancellable: true,
		seq:         s.seq,
	}
	q.pending = append(q.pending, d)
	s.index[d.ID] = req.BattleID
	return *d, nil
}

// ProcessTick moves every due command out of the queue. Commands whose
// faction is now in BLACKOUT fail; the rest are returned EXECUTING for the
// caller to apply and then report through Finish.
func (s *Scheduler) ProcessTick(battleID string, tick int64) TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[battleID]
	if !ok {
		return TickResult{}
	}
	var due []*Delayed
	kept := q.pending[:0]
	for _, d := range q.pending {
		if d.Status == StatusQueued && d.ExecuteTick <= tick {
			due = append(due, d)
			continue
		}
		kept = append(kept, d)
	}
	for i := len(kept); i < len(q.pending); i++ {
		q.pending[i] = nil
	}
	q.pending = kept

	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if a.ExecuteTick != b.ExecuteTick {
			return a.ExecuteTick < b.ExecuteTick
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.seq < b.seq
	})

	var res TickResult
	for _, d := range due {
		d.Cancellable = false
		if s.level(battleID, d.FactionID) == ewar.LevelBlackout {
			d.Status = StatusFailed
			d.FailReason = string(CodeBlackout)
			res.Failed = append(res.Failed, *d)
		} else {
			d.Status = StatusExecuting
			res.Executed = append(res.Executed, *d)
		}
		q.finished[d.ID] = d
	}
	return res
}

// Finish closes an EXECUTING command. A non-nil applyErr marks it FAILED.
func (s *Scheduler) Finish(id string, applyErr error) (Delayed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.findLocked(id)
	if !ok {
		return Delayed{}, Reject(CodeNotFound, "command %s", id)
	}
	if d.Status != StatusExecuting {
		return *d, nil
	}
	if applyErr != nil {
		d.Status = StatusFailed
		d.FailReason = applyErr.Error()
	} else {
		d.Status = StatusCompleted
	}
	return *d, nil
}

// CancelCommand cancels a command that is still QUEUED.
func (s *Scheduler) CancelCommand(id string) (CancelResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.findLocked(id)
	if !ok {
		return CancelResult{}, Reject(CodeNotFound, "command %s", id)
	}
	if !d.Cancellable || d.Status != StatusQueued {
		return CancelResult{}, Reject(CodeNotCancellable, "command %s is %s", id, d.Status)
	}
	q := s.queues[d.BattleID]
	for i, p := range q.pending {
		if p == d {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	d.Status = StatusCancelled
	d.Cancellable = false
	q.finished[d.ID] = d
	return CancelResult{Command: *d, ChaosProbability: s.params.CancelChaosProbability}, nil
}

func (s *Scheduler) findLocked(id string) (*Delayed, bool) {
	battleID, ok := s.index[id]
	if !ok {
		return nil, false
	}
	q, ok := s.queues[battleID]
	if !ok {
		return nil, false
	}
	if d, ok := q.finished[id]; ok {
		return d, true
	}
	for _, d := range q.pending {
		if d.ID == id {
			return d, true
		}
	}
	return nil, false
}

func (s *Scheduler) Get(id string) (Delayed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.findLocked(id)
	if !ok {
		return Delayed{}, false
	}
	return *d, true
}

func (s *Scheduler) Progress(id string, tick int64) (float64, error) {
	d, ok := s.Get(id)
	if !ok {
		return 0, Reject(CodeNotFound, "command %s", id)
	}
	return d.Progress(tick), nil
}

func (s *Scheduler) RemainingDelay(id string, tick int64) (int64, error) {
	d, ok := s.Get(id)
	if !ok {
		return 0, Reject(CodeNotFound, "command %s", id)
	}
	return d.Remaining(tick), nil
}

// Pending returns the queued commands of a battle in submission order.
func (s *Scheduler) Pending(battleID string) []Delayed {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[battleID]
	if !ok {
		return nil
	}
	out := make([]Delayed, 0, len(q.pending))
	for _, d := range q.pending {
		out = append(out, *d)
	}
	return out
}

// ClearBattle drops every queue entry and index row of a finished battle.
func (s *Scheduler) ClearBattle(battleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(battleID)
}

func (s *Scheduler) dropLocked(battleID string) {
	q, ok := s.queues[battleID]
	if !ok {
		return
	}
	for _, d := range q.pending {
		delete(s.index, d.ID)
	}
	for id := range q.finished {
		delete(s.index, id)
	}
	delete(s.queues, battleID)
}

func (s *Scheduler) BattleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}
