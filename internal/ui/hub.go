package ui

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Renderers connect from the same host
		return true
	},
}

// Hub is the single consumer of the feed. Transcript lines land in history
// and every event is broadcast to the connected renderers, which receive the
// visible transcript and current indicators on connect.
type Hub struct {
	feed    *Feed
	history *History
	logger  zerolog.Logger

	mu            sync.Mutex
	clients       map[*websocket.Conn]bool
	lastStatus    *Event
	lastListening *Event
	stopped       bool

	done chan struct{}
}

// NewHub creates a hub over a feed and transcript history
func NewHub(feed *Feed, history *History, logger zerolog.Logger) *Hub {
	return &Hub{
		feed:    feed,
		history: history,
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		done:    make(chan struct{}),
	}
}

// Run consumes feed events until the feed is closed. Call it in its own
// goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for ev := range h.feed.Events() {
		h.apply(ev)
	}

	h.mu.Lock()
	h.stopped = true
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.mu.Unlock()
}

// Done is closed once the hub has drained the feed and dropped its clients
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// ServeWS upgrades a renderer connection, replays the transcript and current
// indicators, then keeps the client subscribed until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade renderer connection")
		return
	}

	if err := h.register(conn); err != nil {
		h.logger.Warn().Err(err).Msg("Renderer registration failed")
		conn.Close()
		return
	}

	// Renderers send nothing; reading only detects disconnect.
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) apply(ev Event) {
	switch ev.Type {
	case EventMessage:
		line := Line{Text: ev.Text, Tag: ev.Tag, Time: ev.Time}
		if ev.ReplaceLast {
			h.history.ReplaceLast(line)
		} else {
			h.history.Append(line)
		}
	case EventStatus:
		s := ev
		h.mu.Lock()
		h.lastStatus = &s
		h.mu.Unlock()
	case EventListening:
		s := ev
		h.mu.Lock()
		h.lastListening = &s
		h.mu.Unlock()
	}

	h.broadcast(ev)
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Debug().Err(err).Msg("Dropping unresponsive renderer")
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return errors.New("hub is stopped")
	}

	for _, line := range h.history.Lines() {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(Event{
			Type: EventMessage,
			Text: line.Text,
			Tag:  line.Tag,
			Time: line.Time,
		}); err != nil {
			return err
		}
	}
	if h.lastStatus != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(*h.lastStatus); err != nil {
			return err
		}
	}
	if h.lastListening != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(*h.lastListening); err != nil {
			return err
		}
	}

	h.clients[conn] = true
	h.logger.Info().Int("clients", len(h.clients)).Msg("Renderer connected")
	return nil
}

func (h *Hub) remove(conn *websocket.Conn) {
	conn.Close()

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		h.logger.Info().Int("clients", len(h.clients)).Msg("Renderer disconnected")
	}
}
