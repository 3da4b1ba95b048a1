package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nergy-se/airahome/pkg/coordinator"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12
	sendBuffer = 4
)

var upgrader = websocket.Upgrader{
	// served on the local network next to Home Assistant
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	send chan []byte
}

// Hub fans snapshots out to websocket clients. A client that cannot keep up
// is disconnected.
type Hub struct {
	clients map[*client]struct{}
	closed  bool
	sync.Mutex
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

func (h *Hub) Broadcast(snap *coordinator.Snapshot) {
	if snap == nil {
		return
	}
	b, err := json.Marshal(snap)
	if err != nil {
		logrus.Errorf("status: error encoding snapshot: %s", err)
		return
	}
	h.Lock()
	defer h.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			logrus.Debug("status: dropping slow websocket client")
			h.removeLocked(c)
		}
	}
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.Lock()
	defer h.Unlock()
	return len(h.clients)
}

func (h *Hub) Close() {
	h.Lock()
	defer h.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) add() *client {
	h.Lock()
	defer h.Unlock()
	if h.closed {
		return nil
	}
	c := &client{send: make(chan []byte, sendBuffer)}
	h.clients[c] = struct{}{}
	return c
}

func (h *Hub) remove(c *client) {
	h.Lock()
	defer h.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) serve(source Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.Debugf("status: websocket upgrade failed: %s", err)
			return
		}
		defer conn.Close()

		c := h.add()
		if c == nil {
			return
		}
		defer h.remove(c)

		if snap := source.Latest(); snap != nil {
			b, err := json.Marshal(snap)
			if err == nil {
				c.send <- b
			}
		}

		conn.SetReadLimit(maxMsgSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case b, ok := <-c.send:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if !ok {
					_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				err := conn.WriteMessage(websocket.TextMessage, b)
				if err != nil {
					logrus.Debugf("status: websocket write failed: %s", err)
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				if err != nil {
					return
				}
			}
		}
	}
}
