package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"sync"

	"TacticalCore/internal/command"
	"TacticalCore/internal/damage"
	"TacticalCore/internal/ewar"
	"TacticalCore/internal/fleet"
	"TacticalCore/internal/game"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// api is the inbound interface over a Manager. Civil-war wrappers live here
// since they are a view over a base battle.
type api struct {
	manager *game.Manager

	mu    sync.Mutex
	civil map[string]*game.CivilWarSession
}

func newAPI(m *game.Manager) *api {
	return &api{manager: m, civil: make(map[string]*game.CivilWarSession)}
}

// NewRouter exposes a manager's battles over HTTP and WebSocket.
func NewRouter(m *game.Manager) http.Handler {
	return newAPI(m).routes()
}

func (a *api) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/battles", a.handleListBattles).Methods(http.MethodGet)
	r.HandleFunc("/battles", a.handleCreateBattle).Methods(http.MethodPost)

	b := r.PathPrefix("/battles/{id}").Subrouter()
	b.HandleFunc("", a.handleSnapshot).Methods(http.MethodGet)
	b.HandleFunc("", a.handleDeleteBattle).Methods(http.MethodDelete)
	b.HandleFunc("/result", a.handleResult).Methods(http.MethodGet)
	b.HandleFunc("/participants", a.handleAddParticipant).Methods(http.MethodPost)
	b.HandleFunc("/fleets", a.handleAddFleet).Methods(http.MethodPost)
	b.HandleFunc("/ready", a.handleReady).Methods(http.MethodPost)
	b.HandleFunc("/commands", a.handleListCommands).Methods(http.MethodGet)
	b.HandleFunc("/commands", a.handleQueueCommand).Methods(http.MethodPost)
	b.HandleFunc("/commands/{cmd}", a.handleCommandProgress).Methods(http.MethodGet)
	b.HandleFunc("/commands/{cmd}", a.handleCancelCommand).Methods(http.MethodDelete)
	b.HandleFunc("/ew/attack", a.handleEWAttack).Methods(http.MethodPost)
	b.HandleFunc("/ew/spread", a.handleEWSpread).Methods(http.MethodPost)
	b.HandleFunc("/ew/clear", a.handleEWClear).Methods(http.MethodPost)
	b.HandleFunc("/ew/{faction}", a.handleJamming).Methods(http.MethodGet)
	b.HandleFunc("/repairs", a.handleStartRepair).Methods(http.MethodPost)
	b.HandleFunc("/retreat", a.handleRetreat).Methods(http.MethodPost)
	b.HandleFunc("/surrender", a.handleSurrender).Methods(http.MethodPost)

	b.HandleFunc("/civil-war", a.handleCreateCivilWar).Methods(http.MethodPost)
	b.HandleFunc("/civil-war/surrender", a.handleCivilSurrender).Methods(http.MethodPost)
	b.HandleFunc("/civil-war/captures", a.handleCaptures).Methods(http.MethodPost)
	b.HandleFunc("/civil-war/legitimacy", a.handleLegitimacy).Methods(http.MethodGet)

	r.HandleFunc("/ws/battles/{id}", a.serveWS)
	return r
}

// sweep removes finished battles and the civil-war views over them.
func (a *api) sweep() int {
	n := a.manager.RemoveEnded()
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, c := range a.civil {
		select {
		case <-c.Base().Done():
			c.Close()
			delete(a.civil, id)
		default:
		}
	}
	return n
}

func startServer(a *api, addr string) {
	log.Fatal(http.ListenAndServe(addr, a.routes()))
}

/* ------------------------------ helpers ------------------------------ */

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorOf(err))
}

func errorOf(err error) *errorDTO {
	return &errorDTO{Error: err.Error(), Code: string(command.CodeOf(err))}
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	var re *command.RejectError
	if errors.As(err, &re) {
		switch re.Code {
		case command.CodeNotFound:
			return http.StatusNotFound
		case command.CodeNotParticipant, command.CodeUnitNotOwned:
			return http.StatusForbidden
		case command.CodeBlackout, command.CodeUnitUnavailable, command.CodeSessionNotActive, command.CodeNotCancellable:
			return http.StatusConflict
		}
		return http.StatusBadRequest
	}
	switch {
	case errors.Is(err, errBattleNotFound),
		errors.Is(err, errNoCivilWar),
		errors.Is(err, game.ErrUnknownFaction),
		errors.Is(err, game.ErrUnknownUnit),
		errors.Is(err, game.ErrUnknownCivilWar),
		errors.Is(err, damage.ErrUnknownUnit),
		errors.Is(err, ewar.ErrUnknownFaction):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, fleet.ErrInvalidFleet),
		errors.Is(err, fleet.ErrUnknownClass),
		errors.Is(err, game.ErrInvalidCivilWar),
		errors.Is(err, damage.ErrUnknownComponent),
		errors.Is(err, damage.ErrInvalidRepairType),
		errors.Is(err, ewar.ErrInvalidScope):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrSessionDestroyed):
		return http.StatusGone
	}
	return http.StatusConflict
}

var (
	errBattleNotFound = errors.New("server: battle not found")
	errNoCivilWar     = errors.New("server: battle has no civil war")
	errBadRequest     = errors.New("server: malformed request")
)

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func (a *api) session(w http.ResponseWriter, r *http.Request) (*game.Session, bool) {
	s, ok := a.manager.GetSession(mux.Vars(r)["id"])
	if !ok {
		writeError(w, errBattleNotFound)
		return nil, false
	}
	return s, true
}

func (a *api) civilWar(w http.ResponseWriter, r *http.Request) (*game.CivilWarSession, bool) {
	a.mu.Lock()
	c, ok := a.civil[mux.Vars(r)["id"]]
	a.mu.Unlock()
	if !ok {
		writeError(w, errNoCivilWar)
		return nil, false
	}
	return c, true
}

/* ------------------------------ battles ------------------------------ */

func (a *api) handleListBattles(w http.ResponseWriter, r *http.Request) {
	sessions := a.manager.Sessions()
	out := make([]battleDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, battleOf(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleCreateBattle(w http.ResponseWriter, r *http.Request) {
	var req createBattleDTO
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var s *game.Session
	id := req.BattleID
	if id == "" && req.Seed == nil {
		s = a.manager.CreateSession(req.GameSessionID, req.GridID)
	} else {
		if id == "" {
			id = uuid.NewString()
		}
		seed := command.DeriveSeed(id)
		if req.Seed != nil {
			seed = *req.Seed
		}
		var err error
		if s, err = a.manager.CreateSessionWithSeed(req.GameSessionID, req.GridID, id, seed); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, battleOf(s))
}

func (a *api) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (a *api) handleDeleteBattle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !a.manager.RemoveSession(id) {
		writeError(w, errBattleNotFound)
		return
	}
	a.mu.Lock()
	if c, ok := a.civil[id]; ok {
		c.Close()
		delete(a.civil, id)
	}
	a.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleResult(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	res, ended := s.Result()
	if !ended {
		writeError(w, game.ErrBattleNotEnded)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req participantDTO
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.AddParticipant(req.FactionID, req.FleetIDs, req.CommanderIDs); err != nil {
		writeError(w, err)
		return
	}
	// Sorted so repeated setups are reproducible.
	ids := make([]string, 0, len(req.CommanderSkills))
	for id := range req.CommanderSkills {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := s.SetCommanderSkill(req.FactionID, id, req.CommanderSkills[id]); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, req)
}

func (a *api) handleAddFleet(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req spawnFleetDTO
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ids, err := s.AddFleetUnits(req.Fleet, req.Spawn.toVec3())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, spawnedDTO{UnitIDs: ids})
}

func (a *api) handleReady(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req readyDTO
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ready := req.Ready == nil || *req.Ready
	if err := s.SetReady(req.FactionID, ready); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, battleOf(s))
}

func (a *api) handleRetreat(w http.ResponseWriter, r *http.Request) {
	a.factionAction(w, r, (*game.Session).Retreat)
}

func (a *api) handleSurrender(w http.ResponseWriter, r *http.Request) {
	a.factionAction(w, r, (*game.Session).Surrender)
}

func (a *api) factionAction(w http.ResponseWriter, r *http.Request, act func(*game.Session, string) error) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req factionDTO
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := act(s, req.FactionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, battleOf(s))
}

/* ------------------------------ commands ----------------------------- */

// queueCommand is shared by the REST and WebSocket paths.
func queueCommand(s *game.Session, req commandDTO) (game.CommandPayload, error) {
	cmd, prio, err := req.toCommand()
	if err != nil {
		return game.CommandPayload{}, err
	}
	d, err := s.QueueCommand(req.CommanderID, req.FactionID, cmd, prio)
	if err != nil {
		return game.CommandPayload{}, err
	}
	return game.CommandPayloadOf(d), nil
}

func (a *api) handleQueueCommand(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req commandDTO
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	out, err := queueCommand(s, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, out)
}

func (a *api) handleListCommands(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	pending := s.PendingCommands()
	out := make([]game.CommandPayload, 0, len(pending))
	for _, d := range pending {
		out = append(out, game.CommandPayloadOf(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) handleCommandProgress(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	p, err := s.CommandProgress(mux.Vars(r)["cmd"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *api) handleCancelCommand(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	res, err := s.CancelCommand(mux.Vars(r)["cmd"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResultDTO{
		Command:          game.CommandPayloadOf(res.Command),
		ChaosProbability: res.ChaosProbability,
	})
}

/* --------------------------- electronic war --------------------------- */

func (a *api) handleEWAttack(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req ewAttackDTO
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.ExecuteEWAttack(req.AttackerFactionID, req.TargetFactionID, req.Intensity, req.Duration); err != nil {
		writeError(w, err)
		return
	}
	a.writeJamming(w, s, req.TargetFactionID)
}

func (a *api) handleEWSpread(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req ewSpreadDTO
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.SpreadMinovskyParticles(req.FactionID, req.Intensity, req.Duration, req.scope()); err != nil {
		writeError(w, err)
		return
	}
	a.writeJamming(w, s, req.FactionID)
}

func (a *api) handleEWClear(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req factionDTO
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.ClearJamming(req.FactionID); err != nil {
		writeError(w, err)
		return
	}
	a.writeJamming(w, s, req.FactionID)
}

func (a *api) handleJamming(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	a.writeJamming(w, s, mux.Vars(r)["faction"])
}

func (a *api) writeJamming(w http.ResponseWriter, s *game.Session, factionID string) {
	st, ok := s.Jamming(factionID)
	if !ok {
		writeError(w, ewar.ErrUnknownFaction)
		return
	}
	writeJSON(w, http.StatusOK, jammingDTO{State: st, LevelName: st.Level.String()})
}

/* ------------------------------- repairs ------------------------------ */

func (a *api) handleStartRepair(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req repairDTO
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	task, err := s.StartRepair(req.FactionID, req.TargetID, req.RepairerID,
		damage.ComponentType(req.Component), damage.RepairType(req.RepairType))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

/* ------------------------------ civil war ----------------------------- */

func (a *api) handleCreateCivilWar(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req civilWarDTO
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, exists := a.civil[s.ID]; exists {
		for baseID, civilID := range req.Mapping {
			if err := c.MapFaction(baseID, civilID); err != nil {
				writeError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, legitimacyOf(c))
		return
	}
	c, err := game.NewCivilWarSession(s, req.Mapping)
	if err != nil {
		writeError(w, err)
		return
	}
	a.civil[s.ID] = c
	log.Printf("battle %s: civil war declared (%d factions mapped)", s.ID, len(req.Mapping))
	writeJSON(w, http.StatusCreated, legitimacyOf(c))
}

func (a *api) handleCivilSurrender(w http.ResponseWriter, r *http.Request) {
	c, ok := a.civilWar(w, r)
	if !ok {
		return
	}
	var req civilSurrenderDTO
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := c.Surrender(req.CivilFactionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, legitimacyOf(c))
}

func (a *api) handleCaptures(w http.ResponseWriter, r *http.Request) {
	c, ok := a.civilWar(w, r)
	if !ok {
		return
	}
	caps, err := c.ProcessCaptures()
	if err != nil {
		writeError(w, err)
		return
	}
	if caps == nil {
		caps = []game.Capture{}
	}
	writeJSON(w, http.StatusOK, caps)
}

func (a *api) handleLegitimacy(w http.ResponseWriter, r *http.Request) {
	c, ok := a.civilWar(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, legitimacyOf(c))
}

func legitimacyOf(c *game.CivilWarSession) []legitimacyDTO {
	seen := make(map[string]bool)
	var out []legitimacyDTO
	for _, p := range c.Base().Participants() {
		civ, ok := c.CivilFaction(p.FactionID)
		if !ok || seen[civ] {
			continue
		}
		seen[civ] = true
		l, _ := c.Legitimacy(civ)
		out = append(out, legitimacyDTO{
			CivilFactionID: civ,
			Legitimacy:     l,
			FriendlyFire:   c.FriendlyFireProbability(civ),
			BaseFactionIDs: c.BaseFactions(civ),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CivilFactionID < out[j].CivilFactionID })
	return out
}
