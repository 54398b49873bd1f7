package server

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/crate/internal/shared"
	"github.com/desertthunder/crate/internal/tasks"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// EventSource is what [EventsHandler] streams from.
type EventSource interface {
	Subscribe(buffer int) (<-chan tasks.Event, func())
}

// EventsHandler streams coordinator events to websocket clients as JSON messages.
//
// An optional ?item= query parameter restricts job and removal events to one item; queue events always pass.
type EventsHandler struct {
	source   EventSource
	upgrader websocket.Upgrader
	logger   *log.Logger
}

var _ Handler = (*EventsHandler)(nil)

// NewEventsHandler creates the handler. Only same-host origins may connect unless allowAnyOrigin is set.
func NewEventsHandler(source EventSource, allowAnyOrigin bool, logger *log.Logger) *EventsHandler {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	h := &EventsHandler{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: shared.WithLogger(logger, "component", "events"),
	}
	if allowAnyOrigin {
		h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	return h
}

// Routes returns the HTTP routes this handler serves.
func (h *EventsHandler) Routes() []string {
	return []string{"GET /api/events"}
}

// ServeHTTP upgrades the connection and pumps events until either side goes away.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes so the client sees every event published after it connects.
	events, unsubscribe := h.source.Subscribe(256)
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	item := r.URL.Query().Get("item")

	closed := make(chan struct{})
	go h.readPump(conn, closed)
	h.writePump(conn, events, item, closed)
}

// readPump discards client messages and keeps the read deadline fresh on pong.
func (h *EventsHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

func (h *EventsHandler) writePump(conn *websocket.Conn, events <-chan tasks.Event, item string, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case e, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if item != "" && e.ItemID != "" && e.ItemID != item {
				continue
			}
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			return
		}
	}
}
