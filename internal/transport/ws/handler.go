package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/jiaweing/IoT-Quiz/internal/app"
	"github.com/jiaweing/IoT-Quiz/internal/domain"
	"github.com/jiaweing/IoT-Quiz/internal/transport"
	membus "github.com/jiaweing/IoT-Quiz/internal/transport/memory"
)

// Handler bridges websocket clients onto the quiz bus. Dashboards receive
// every topic including the answer key; players receive everything else and
// may send join and response commands.
type Handler struct {
	engine   *app.Engine
	bus      *membus.Bus
	upgrader websocket.Upgrader
}

func NewHandler(engine *app.Engine, bus *membus.Bus) *Handler {
	return &Handler{
		engine: engine,
		bus:    bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	SessionID string `json:"sessionId"`
	Auth      string `json:"auth"`
}

type responsePayload struct {
	QuestionID string   `json:"questionId"`
	OptionID   string   `json:"optionId,omitempty"`
	OptionIDs  []string `json:"optionIds,omitempty"`
	Timestamp  int64    `json:"timestamp"`
}

type envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// ServeWS upgrades the connection and pumps bus messages out while reading
// join/response commands in.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	identity := r.URL.Query().Get("identity")
	name := r.URL.Query().Get("name")
	if role == "" {
		role = "player"
	}
	if role == "player" && identity == "" {
		http.Error(w, "missing identity", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.bus.Subscribe()
	defer cancel()

	send := make(chan envelope, 16)
	done := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case msg, ok := <-updates:
				if !ok {
					return
				}
				if !visibleTo(role, msg.Topic) {
					continue
				}
				select {
				case send <- envelope{Topic: msg.Topic, Payload: msg.Payload}:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	// Whether this connection may publish responses; flipped by a
	// successful join.
	authorized := false

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "join":
			var payload joinPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				log.Printf("ws: bad join payload from %s: %v", identity, err)
				continue
			}
			player, err := h.engine.AuthorizeJoin(r.Context(), payload.SessionID, payload.Auth, identity, name)
			if err != nil {
				// Rejections are silent on the wire; the engine logged it.
				continue
			}
			authorized = true
			data, _ := json.Marshal(player)
			// The writer may already be gone on a write error; never block
			// the read loop on a full send buffer.
			select {
			case send <- envelope{Topic: "joined", Payload: data}:
			case <-writerDone:
			}
		case "response":
			if !authorized {
				log.Printf("[SECURITY] blocked response from unauthorized ws client %s", identity)
				continue
			}
			var payload responsePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				log.Printf("ws: bad response payload from %s: %v", identity, err)
				continue
			}
			selection := decodeSelection(payload)
			if selection == nil {
				log.Printf("ws: response from %s carries no selection", identity)
				continue
			}
			h.engine.SubmitResponse(r.Context(), identity, payload.QuestionID, selection, payload.Timestamp)
		default:
			log.Printf("ws: unsupported message type %q from %s", inbound.Type, identity)
		}
	}

	close(done)
	<-updatesDone
	close(send)
	<-writerDone
}

// decodeSelection maps the wire shape onto the selection sum type. The core
// never sees raw payload fields. An explicit empty optionIds array is a valid
// multi-select answer; a payload with neither field is not a selection.
func decodeSelection(p responsePayload) domain.Selection {
	if p.OptionID != "" {
		return domain.SingleChoice{OptionID: p.OptionID}
	}
	if p.OptionIDs != nil {
		return domain.MultiChoice{OptionIDs: p.OptionIDs}
	}
	return nil
}

// visibleTo hides the dashboard-only answer key from player connections.
func visibleTo(role, topic string) bool {
	if role == "dashboard" {
		return true
	}
	return !strings.HasPrefix(topic, transport.TopicQuestionKey)
}
