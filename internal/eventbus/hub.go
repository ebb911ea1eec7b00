package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader handles the HTTP → websocket protocol upgrade for the event
// channel endpoint.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// client wraps a single websocket connection. All writes go through send,
// so writePump is the only goroutine that ever calls conn.WriteMessage —
// gorilla/websocket connections are not safe for concurrent writers.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// hub owns the set of connected clients. A single goroutine (run) mutates
// the connection set, so no lock is needed around it — every mutation
// flows through a channel (grounded on the dashboard activity-feed hub
// pattern: one goroutine owns the map, membership changes and broadcasts
// are both just messages into that goroutine).
type hub struct {
	clients map[*client]bool

	broadcastCh  chan []byte
	registerCh   chan *client
	unregisterCh chan *client
}

func newHub() *hub {
	return &hub{
		clients:      make(map[*client]bool),
		broadcastCh:  make(chan []byte, 256),
		registerCh:   make(chan *client),
		unregisterCh: make(chan *client),
	}
}

func (h *hub) run(ctx context.Context) {
	for {
		select {
		case c := <-h.registerCh:
			h.clients[c] = true

		case c := <-h.unregisterCh:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case msg := <-h.broadcastCh:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer: drop it rather than block the
					// whole broadcast (spec.md §4.9's EventBus
					// publication is non-blocking per subscriber).
					delete(h.clients, c)
					close(c.send)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// broadcast is non-blocking: a full buffer drops the message.
func (h *hub) broadcast(msg []byte) {
	select {
	case h.broadcastCh <- msg:
	default:
	}
}

func marshalEnvelope(kind Kind, payload any) []byte {
	raw, err := json.Marshal(envelope{Kind: kind, Payload: payload})
	if err != nil {
		slog.Error("eventbus_marshal_failed", slog.String("kind", string(kind)), slog.String("error", err.Error()))
		return nil
	}
	return raw
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readPump drains inbound client commands (request-update, get-logs,
// get-stats) and replies directly on this client's send channel; it never
// writes to the shared broadcast channel. Unregisters from the hub on
// disconnect.
func (c *client) readPump(h *hub, bus *EventBus) {
	defer func() {
		h.unregisterCh <- c
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			continue
		}
		reply := bus.handleCommand(context.Background(), cmd)
		if reply == nil {
			continue
		}
		select {
		case c.send <- reply:
		default:
		}
	}
}
