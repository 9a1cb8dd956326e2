package main

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const hubBacklog = 200

// Hub streams log lines to websocket clients. New clients first get the most
// recent lines so they see the job from its start.
type Hub struct {
	mu       sync.Mutex
	clients  map[*hubClient]struct{}
	backlog  []string
	upgrader websocket.Upgrader
}

type hubClient struct {
	conn *websocket.Conn
	send chan string
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Append implements printlog.Sink.
func (h *Hub) Append(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.backlog = append(h.backlog, line)
	if len(h.backlog) > hubBacklog {
		h.backlog = h.backlog[len(h.backlog)-hubBacklog:]
	}
	for c := range h.clients {
		select {
		case c.send <- line:
		default:
			// Client too slow, skip
		}
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Hub: upgrade error: %v", err)
		return
	}

	c := &hubClient{
		conn: conn,
		send: make(chan string, hubBacklog+64),
	}
	h.mu.Lock()
	for _, line := range h.backlog {
		c.send <- line
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Debugf("Hub: client connected (%d total)", n)

	go func() {
		defer conn.Close()
		for line := range c.send {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				break
			}
		}
	}()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, c)
			close(c.send)
			h.mu.Unlock()
			log.Debug("Hub: client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
