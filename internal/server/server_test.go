package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"TacticalCore/internal/command"
	"TacticalCore/internal/damage"
	"TacticalCore/internal/fleet"
	"TacticalCore/internal/game"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func initTestServer(t *testing.T) (*httptest.Server, *game.Manager) {
	t.Helper()
	cfg := game.DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	m := game.NewManager(cfg)
	t.Cleanup(m.Close)
	srv := httptest.NewServer(newAPI(m).routes())
	t.Cleanup(srv.Close)
	return srv, m
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal %s body: %v", path, err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// initTestDuel sets up a red battleship against a blue cruiser over REST,
// leaving both factions unready.
func initTestDuel(t *testing.T, srv *httptest.Server, battleID string) {
	t.Helper()
	seed := int64(7)
	var b battleDTO
	if code := doJSON(t, srv, http.MethodPost, "/battles", createBattleDTO{
		GameSessionID: "game-1", GridID: "grid-1", BattleID: battleID, Seed: &seed,
	}, &b); code != http.StatusCreated {
		t.Fatalf("create battle: status %d", code)
	}
	if b.ID != battleID || b.Seed != seed || b.Status != game.StatusWaiting {
		t.Fatalf("unexpected battle %+v", b)
	}
	base := "/battles/" + battleID
	for _, f := range []string{"red", "blue"} {
		if code := doJSON(t, srv, http.MethodPost, base+"/participants", participantDTO{
			FactionID: f, FleetIDs: []string{f + "-fleet"}, CommanderIDs: []string{f + "-cmdr"},
			CommanderSkills: map[string]float64{f + "-cmdr": 50},
		}, nil); code != http.StatusCreated {
			t.Fatalf("participant %s: status %d", f, code)
		}
	}
	fleets := []spawnFleetDTO{
		{Fleet: fleet.FleetSpec{FleetID: "red-fleet", FactionID: "red", CommanderID: "red-cmdr",
			Ships: []fleet.ShipSpec{{Class: fleet.ClassBattleship, Count: 1}}}},
		{Fleet: fleet.FleetSpec{FleetID: "blue-fleet", FactionID: "blue", CommanderID: "blue-cmdr", Heading: math.Pi,
			Ships: []fleet.ShipSpec{{Class: fleet.ClassCruiser, Count: 1}}}, Spawn: vec3DTO{X: 100}},
	}
	for _, req := range fleets {
		var out spawnedDTO
		if code := doJSON(t, srv, http.MethodPost, base+"/fleets", req, &out); code != http.StatusCreated {
			t.Fatalf("fleet %s: status %d", req.Fleet.FleetID, code)
		}
		if len(out.UnitIDs) != 1 || out.UnitIDs[0] != req.Fleet.FleetID+"-01" {
			t.Fatalf("unexpected unit ids %v", out.UnitIDs)
		}
	}
}

func readyAll(t *testing.T, srv *httptest.Server, battleID string) {
	t.Helper()
	for _, f := range []string{"red", "blue"} {
		if code := doJSON(t, srv, http.MethodPost, "/battles/"+battleID+"/ready", readyDTO{FactionID: f}, nil); code != http.StatusOK {
			t.Fatalf("ready %s: status %d", f, code)
		}
	}
}

func TestRESTBattleLifecycle(t *testing.T) {
	srv, _ := initTestServer(t)
	initTestDuel(t, srv, "rest")

	if code := doJSON(t, srv, http.MethodPost, "/battles", createBattleDTO{BattleID: "rest"}, nil); code != http.StatusConflict {
		t.Fatalf("duplicate battle id: expected 409, got %d", code)
	}
	bad := spawnFleetDTO{Fleet: fleet.FleetSpec{FleetID: "red-fleet", FactionID: "red",
		Ships: []fleet.ShipSpec{{Class: "dreadnought", Count: 1}}}}
	if code := doJSON(t, srv, http.MethodPost, "/battles/rest/fleets", bad, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown class: expected 400, got %d", code)
	}
	if code := doJSON(t, srv, http.MethodPost, "/battles/rest/commands", commandDTO{
		CommanderID: "red-cmdr", FactionID: "red", Kind: "stop", Units: []string{"red-fleet-01"},
	}, nil); code != http.StatusConflict {
		t.Fatalf("command before activation: expected 409, got %d", code)
	}

	readyAll(t, srv, "rest")
	var list []battleDTO
	doJSON(t, srv, http.MethodGet, "/battles", nil, &list)
	if len(list) != 1 || list[0].Status != game.StatusActive {
		t.Fatalf("expected one ACTIVE battle, got %+v", list)
	}
	var snap game.Snapshot
	if code := doJSON(t, srv, http.MethodGet, "/battles/rest", nil, &snap); code != http.StatusOK || len(snap.Units) != 2 {
		t.Fatalf("snapshot: status %d with %d units", code, len(snap.Units))
	}

	var queued game.CommandPayload
	if code := doJSON(t, srv, http.MethodPost, "/battles/rest/commands", commandDTO{
		CommanderID: "red-cmdr", FactionID: "red", Kind: "attack", Priority: "high",
		Units: []string{"red-fleet-01"}, TargetID: "blue-fleet-01",
	}, &queued); code != http.StatusAccepted {
		t.Fatalf("queue attack: status %d", code)
	}
	if queued.Kind != command.KindAttack || queued.Status != command.StatusQueued || queued.Priority != "HIGH" {
		t.Fatalf("unexpected queued command %+v", queued)
	}
	if queued.ExecuteTick <= queued.IssueTick {
		t.Fatalf("command must be delayed, issue %d execute %d", queued.IssueTick, queued.ExecuteTick)
	}

	var pending []game.CommandPayload
	doJSON(t, srv, http.MethodGet, "/battles/rest/commands", nil, &pending)
	if len(pending) != 1 || pending[0].CommandID != queued.CommandID {
		t.Fatalf("expected the attack pending, got %+v", pending)
	}

	var progress game.CommandProgress
	if code := doJSON(t, srv, http.MethodGet, "/battles/rest/commands/"+queued.CommandID, nil, &progress); code != http.StatusOK {
		t.Fatalf("progress: status %d", code)
	}
	if progress.Progress != 0 || progress.RemainingTicks != queued.ExecuteTick-progress.Tick || progress.Status != command.StatusQueued {
		t.Fatalf("unexpected progress %+v for %+v", progress, queued)
	}
	if code := doJSON(t, srv, http.MethodGet, "/battles/rest/commands/missing", nil, nil); code != http.StatusNotFound {
		t.Fatalf("progress of unknown command: expected 404, got %d", code)
	}

	var cancelled cancelResultDTO
	if code := doJSON(t, srv, http.MethodDelete, "/battles/rest/commands/"+queued.CommandID, nil, &cancelled); code != http.StatusOK {
		t.Fatalf("cancel: status %d", code)
	}
	if cancelled.Command.Status != command.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Command.Status)
	}
	var e errorDTO
	if code := doJSON(t, srv, http.MethodDelete, "/battles/rest/commands/"+queued.CommandID, nil, &e); code != http.StatusConflict || e.Code != string(command.CodeNotCancellable) {
		t.Fatalf("second cancel: got %d %+v", code, e)
	}
	if code := doJSON(t, srv, http.MethodDelete, "/battles/rest/commands/missing", nil, &e); code != http.StatusNotFound || e.Code != string(command.CodeNotFound) {
		t.Fatalf("unknown command: got %d %+v", code, e)
	}

	if code := doJSON(t, srv, http.MethodGet, "/battles/rest/result", nil, nil); code != http.StatusConflict {
		t.Fatalf("result before end: expected 409, got %d", code)
	}
	if code := doJSON(t, srv, http.MethodPost, "/battles/rest/surrender", factionDTO{FactionID: "blue"}, nil); code != http.StatusOK {
		t.Fatalf("surrender: status %d", code)
	}
	var res game.Result
	if code := doJSON(t, srv, http.MethodGet, "/battles/rest/result", nil, &res); code != http.StatusOK {
		t.Fatalf("result: status %d", code)
	}
	if res.Winner != "red" || res.Reason != game.EndSurrender {
		t.Fatalf("unexpected result %+v", res)
	}

	if code := doJSON(t, srv, http.MethodDelete, "/battles/rest", nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete: status %d", code)
	}
	if code := doJSON(t, srv, http.MethodGet, "/battles/rest", nil, nil); code != http.StatusNotFound {
		t.Fatalf("deleted battle: expected 404, got %d", code)
	}
}

func TestRESTRejectionCodes(t *testing.T) {
	srv, _ := initTestServer(t)
	initTestDuel(t, srv, "codes")
	readyAll(t, srv, "codes")

	energy := fleet.EnergyDistribution{Beam: 30, Gun: 10, Shield: 20, Engine: 20, Warp: 5, Sensor: 5}
	cases := []struct {
		name   string
		req    commandDTO
		status int
		code   command.Code
	}{
		{"energy must sum to 100", commandDTO{CommanderID: "red-cmdr", FactionID: "red", Kind: "energy_distribution",
			Units: []string{"red-fleet-01"}, Energy: &energy}, http.StatusBadRequest, command.CodeInvalidEnergy},
		{"unknown commander", commandDTO{CommanderID: "ghost", FactionID: "red", Kind: "stop",
			Units: []string{"red-fleet-01"}}, http.StatusForbidden, command.CodeNotParticipant},
		{"foreign unit", commandDTO{CommanderID: "red-cmdr", FactionID: "red", Kind: "stop",
			Units: []string{"blue-fleet-01"}}, http.StatusForbidden, command.CodeUnitNotOwned},
		{"unknown kind", commandDTO{CommanderID: "red-cmdr", FactionID: "red", Kind: "warp",
			Units: []string{"red-fleet-01"}}, http.StatusBadRequest, command.CodeInvalidCommand},
		{"move without target", commandDTO{CommanderID: "red-cmdr", FactionID: "red", Kind: "move",
			Units: []string{"red-fleet-01"}}, http.StatusBadRequest, command.CodeInvalidCommand},
		{"unknown formation", commandDTO{CommanderID: "red-cmdr", FactionID: "red", Kind: "change_formation",
			FleetID: "red-fleet", Formation: "blob"}, http.StatusBadRequest, command.CodeInvalidFormation},
		{"unknown priority", commandDTO{CommanderID: "red-cmdr", FactionID: "red", Kind: "stop", Priority: "whenever",
			Units: []string{"red-fleet-01"}}, http.StatusBadRequest, command.CodeInvalidCommand},
	}
	for _, tc := range cases {
		var e errorDTO
		code := doJSON(t, srv, http.MethodPost, "/battles/codes/commands", tc.req, &e)
		if code != tc.status || e.Code != string(tc.code) {
			t.Fatalf("%s: expected %d %s, got %d %+v", tc.name, tc.status, tc.code, code, e)
		}
	}

	var jam jammingDTO
	if code := doJSON(t, srv, http.MethodPost, "/battles/codes/ew/attack", ewAttackDTO{
		AttackerFactionID: "blue", TargetFactionID: "red", Intensity: 90, Duration: 100,
	}, &jam); code != http.StatusOK || jam.LevelName != "BLACKOUT" {
		t.Fatalf("ew attack: got %d %+v", code, jam)
	}
	var e errorDTO
	if code := doJSON(t, srv, http.MethodPost, "/battles/codes/commands", commandDTO{
		CommanderID: "red-cmdr", FactionID: "red", Kind: "stop", Priority: "emergency", Units: []string{"red-fleet-01"},
	}, &e); code != http.StatusConflict || e.Code != string(command.CodeBlackout) {
		t.Fatalf("blackout: got %d %+v", code, e)
	}
	if code := doJSON(t, srv, http.MethodPost, "/battles/codes/ew/clear", factionDTO{FactionID: "red"}, &jam); code != http.StatusOK {
		t.Fatalf("clear: status %d", code)
	}
	if jam.LevelName == "BLACKOUT" {
		t.Fatalf("countermeasure should lift blackout, density %.1f", jam.Density)
	}
	if code := doJSON(t, srv, http.MethodPost, "/battles/codes/ew/spread", ewSpreadDTO{
		FactionID: "red", Intensity: 10, Duration: 5, Scope: "sideways",
	}, nil); code != http.StatusBadRequest {
		t.Fatalf("bad scope: expected 400, got %d", code)
	}
	if code := doJSON(t, srv, http.MethodPost, "/battles/codes/repairs", repairDTO{
		FactionID: "red", TargetID: "red-fleet-01", RepairerID: "red-fleet-01",
		Component: string(damage.Engine), RepairType: string(damage.RepairField),
	}, &e); code != http.StatusConflict {
		t.Fatalf("non-engineering repairer: expected 409, got %d %+v", code, e)
	}
	if code := doJSON(t, srv, http.MethodGet, "/battles/nope", nil, nil); code != http.StatusNotFound {
		t.Fatalf("unknown battle: expected 404, got %d", code)
	}
}

func TestStatusForDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{command.Reject(command.CodeBlackout, "x"), http.StatusConflict},
		{command.Reject(command.CodeInvalidManeuver, "x"), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", game.ErrUnknownFaction), http.StatusNotFound},
		{fmt.Errorf("%w: x", fleet.ErrInvalidFleet), http.StatusBadRequest},
		{errors.Join(errBadRequest, io.ErrUnexpectedEOF), http.StatusBadRequest},
		{game.ErrSessionDestroyed, http.StatusGone},
		{damage.ErrNothingToRepair, http.StatusConflict},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

// testFrame is the client-side view of a wsEnvelope.
type testFrame struct {
	Type  string `json:"type"`
	Event *struct {
		Seq      uint64 `json:"seq"`
		Type     string `json:"type"`
		CivilWar *struct {
			CivilFactionID string `json:"civil_faction_id"`
		} `json:"civil_war"`
	} `json:"event"`
	Snapshot *struct {
		BattleID string `json:"battle_id"`
	} `json:"snapshot"`
	Command *game.CommandPayload `json:"command"`
	Error   *errorDTO            `json:"error"`
}

// decodeFrame normalizes every codec through JSON so one struct reads them all.
func decodeFrame(t *testing.T, format string, msgType int, data []byte) testFrame {
	t.Helper()
	var generic any
	switch format {
	case "json":
		if msgType != websocket.TextMessage {
			t.Fatalf("json frames must be text")
		}
		var f testFrame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("json frame: %v", err)
		}
		return f
	case "proto":
		var st structpb.Struct
		if err := proto.Unmarshal(data, &st); err != nil {
			t.Fatalf("proto frame: %v", err)
		}
		generic = st.AsMap()
	case "msgpack":
		var m map[string]any
		if err := msgpack.Unmarshal(data, &m); err != nil {
			t.Fatalf("msgpack frame: %v", err)
		}
		generic = m
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("%s frames must be binary", format)
	}
	raw, err := json.Marshal(generic)
	if err != nil {
		t.Fatalf("re-encode %s frame: %v", format, err)
	}
	var f testFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("decode %s frame: %v", format, err)
	}
	return f
}

func dialStream(t *testing.T, srv *httptest.Server, battleID, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/battles/" + battleID + "?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", url, err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, format string, match func(testFrame) bool) testFrame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	if err := conn.SetReadDeadline(deadline); err != nil {
		t.Fatalf("deadline: %v", err)
	}
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if f := decodeFrame(t, format, msgType, data); match(f) {
			return f
		}
	}
}

func isEvent(eventType game.EventType) func(testFrame) bool {
	return func(f testFrame) bool {
		return f.Type == "event" && f.Event != nil && f.Event.Type == string(eventType)
	}
}

func TestEventStreamCodecs(t *testing.T) {
	for _, format := range []string{"json", "proto", "msgpack"} {
		t.Run(format, func(t *testing.T) {
			srv, _ := initTestServer(t)
			id := "ws-" + format
			initTestDuel(t, srv, id)
			conn := dialStream(t, srv, id, "format="+format)

			first := readUntil(t, conn, format, func(testFrame) bool { return true })
			if first.Type != "snapshot" || first.Snapshot == nil || first.Snapshot.BattleID != id {
				t.Fatalf("expected an initial snapshot, got %+v", first)
			}
			readyAll(t, srv, id)
			start := readUntil(t, conn, format, isEvent(game.EventBattleStart))
			if start.Event.Seq == 0 {
				t.Fatalf("events must carry a sequence number")
			}

			send := func(req commandDTO) {
				payload, err := json.Marshal(req)
				if err != nil {
					t.Fatalf("marshal: %v", err)
				}
				msg, err := json.Marshal(inboundMessage{Type: "command", Payload: payload})
				if err != nil {
					t.Fatalf("marshal: %v", err)
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					t.Fatalf("write: %v", err)
				}
			}
			send(commandDTO{CommanderID: "red-cmdr", FactionID: "red", Kind: "attack",
				Units: []string{"red-fleet-01"}, TargetID: "blue-fleet-01"})
			ack := readUntil(t, conn, format, func(f testFrame) bool { return f.Type == "command:ack" })
			if ack.Command == nil || ack.Command.Kind != command.KindAttack || ack.Command.Status != command.StatusQueued {
				t.Fatalf("unexpected ack %+v", ack.Command)
			}

			send(commandDTO{CommanderID: "blue-cmdr", FactionID: "blue", Kind: "stop", Units: []string{"red-fleet-01"}})
			rej := readUntil(t, conn, format, func(f testFrame) bool { return f.Type == "command:reject" })
			if rej.Error == nil || rej.Error.Code != string(command.CodeUnitNotOwned) {
				t.Fatalf("unexpected reject %+v", rej.Error)
			}
		})
	}
}

func TestEventStreamClosesWithBattle(t *testing.T) {
	srv, _ := initTestServer(t)
	initTestDuel(t, srv, "closing")
	conn := dialStream(t, srv, "closing", "format=json")
	readUntil(t, conn, "json", func(f testFrame) bool { return f.Type == "snapshot" })

	if code := doJSON(t, srv, http.MethodDelete, "/battles/closing", nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete: status %d", code)
	}
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("deadline: %v", err)
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("expected a normal close, got %v", err)
			}
			return
		}
	}
}

func TestStreamRejectsUnknownFormat(t *testing.T) {
	srv, _ := initTestServer(t)
	initTestDuel(t, srv, "fmt")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/battles/fmt?format=xml"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", resp)
	}
}

func TestCivilWarOverREST(t *testing.T) {
	srv, _ := initTestServer(t)
	initTestDuel(t, srv, "civil")

	var legit []legitimacyDTO
	if code := doJSON(t, srv, http.MethodPost, "/battles/civil/civil-war", civilWarDTO{
		Mapping: map[string]string{"red": "loyal", "blue": "rebel"},
	}, &legit); code != http.StatusCreated {
		t.Fatalf("declare civil war: status %d", code)
	}
	if len(legit) != 2 || legit[0].CivilFactionID != "loyal" || legit[0].Legitimacy != game.DefaultLegitimacy {
		t.Fatalf("unexpected legitimacy %+v", legit)
	}
	conn := dialStream(t, srv, "civil", "format=json&civil=1")
	readUntil(t, conn, "json", func(f testFrame) bool { return f.Type == "snapshot" })
	readyAll(t, srv, "civil")

	if code := doJSON(t, srv, http.MethodPost, "/battles/civil/civil-war/surrender", civilSurrenderDTO{CivilFactionID: "rebel"}, &legit); code != http.StatusOK {
		t.Fatalf("civil surrender: status %d", code)
	}
	end := readUntil(t, conn, "json", isEvent(game.EventBattleEnd))
	if end.Event.CivilWar == nil || end.Event.CivilWar.CivilFactionID != "loyal" {
		t.Fatalf("battle end should name the winning civil faction, got %+v", end.Event.CivilWar)
	}
	readUntil(t, conn, "json", isEvent(game.EventLegitimacyChanged))

	byID := make(map[string]float64)
	for _, l := range legit {
		byID[l.CivilFactionID] = l.Legitimacy
	}
	if byID["loyal"] != game.DefaultLegitimacy+game.LegitimacyWin || byID["rebel"] != game.DefaultLegitimacy+game.LegitimacySurrender {
		t.Fatalf("unexpected legitimacy after surrender %+v", byID)
	}

	var caps []game.Capture
	if code := doJSON(t, srv, http.MethodPost, "/battles/civil/civil-war/captures", nil, &caps); code != http.StatusOK {
		t.Fatalf("captures: status %d", code)
	}
	if len(caps) != 1 || caps[0].CommanderID != "blue-cmdr" || caps[0].CapturedBy != "loyal" {
		t.Fatalf("unexpected captures %+v", caps)
	}
	if code := doJSON(t, srv, http.MethodGet, "/battles/rest/civil-war/legitimacy", nil, nil); code != http.StatusNotFound {
		t.Fatalf("battle without civil war: expected 404, got %d", code)
	}
}
