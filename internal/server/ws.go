package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"TacticalCore/internal/game"

	"github.com/gorilla/websocket"
)

const (
	defaultStreamBuffer = 256
	maxStreamBuffer     = 1 << 14
	maxInboundBytes     = 64 << 10
	closeGrace          = time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func streamBuffer(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return defaultStreamBuffer
	}
	if n > maxStreamBuffer {
		return maxStreamBuffer
	}
	return n
}

// serveWS streams one battle's events. Query: format=json|proto|msgpack,
// buffer=<events>, civil=1 for the civil-war stream when one is declared.
// Clients may send {"type":"command","payload":{...}} or {"type":"snapshot"}
// as JSON text frames.
func (a *api) serveWS(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	codec, ok := codecFor(query.Get("format"))
	if !ok {
		writeError(w, errBadRequest)
		return
	}
	buffer := streamBuffer(query.Get("buffer"))

	// Subscribe before the upgrade so nothing published after the client's
	// handshake completes is missed.
	var (
		events      <-chan game.Event
		unsubscribe func()
	)
	if query.Get("civil") == "1" {
		c, ok := a.civilWar(w, r)
		if !ok {
			return
		}
		events, unsubscribe = c.Subscribe(buffer)
	} else {
		events, unsubscribe = s.Subscribe(buffer)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		unsubscribe()
		log.Println("upgrade:", err)
		return
	}
	defer conn.Close()
	defer unsubscribe()
	conn.SetReadLimit(maxInboundBytes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	replies := make(chan wsEnvelope, 16)

	go func() {
		defer cancel()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			var inbound inboundMessage
			if err := json.Unmarshal(data, &inbound); err != nil {
				log.Printf("invalid JSON message: %v", err)
				continue
			}
			reply, ok := handleInbound(s, inbound)
			if !ok {
				continue
			}
			select {
			case replies <- reply:
			case <-ctx.Done():
				return
			}
		}
	}()

	snap := s.Snapshot()
	if err := writeFrame(conn, codec, wsEnvelope{Type: "snapshot", Snapshot: &snap}); err != nil {
		return
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "battle closed")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
				return
			}
			if err := writeFrame(conn, codec, wsEnvelope{Type: "event", Event: &ev}); err != nil {
				log.Printf("battle %s: %s stream write: %v", s.ID, codec.Name(), err)
				return
			}
		case reply := <-replies:
			if err := writeFrame(conn, codec, reply); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func handleInbound(s *game.Session, msg inboundMessage) (wsEnvelope, bool) {
	switch msg.Type {
	case "command":
		var req commandDTO
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return wsEnvelope{Type: "command:reject", Error: &errorDTO{Error: err.Error()}}, true
		}
		out, err := queueCommand(s, req)
		if err != nil {
			return wsEnvelope{Type: "command:reject", Error: errorOf(err)}, true
		}
		return wsEnvelope{Type: "command:ack", Command: &out}, true
	case "snapshot":
		snap := s.Snapshot()
		return wsEnvelope{Type: "snapshot", Snapshot: &snap}, true
	default:
		log.Printf("unknown message type: %q", msg.Type)
	}
	return wsEnvelope{}, false
}
