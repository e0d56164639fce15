// Package observer streams replication messages to spectators over websocket
// as JSON, one message per frame.
package observer

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/l1jgo/wield/internal/replication"
	"go.uber.org/zap"
)

// Message is the JSON form of a replication message.
type Message struct {
	Type   string `json:"type"`
	Object string `json:"object"`
	Owner  uint64 `json:"owner"`
	Prefab string `json:"prefab,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Node   string `json:"node,omitempty"` // parent only; empty = detached
}

func encode(m replication.Message) Message {
	out := Message{
		Type:   m.Kind.String(),
		Object: m.Object.String(),
		Owner:  uint64(m.Owner),
		Prefab: m.Prefab,
	}
	if m.Kind == replication.KindParent && m.Node != "" {
		out.Avatar = m.Avatar.String()
		out.Node = m.Node
	}
	return out
}

type client struct {
	id     uint64
	out    chan []byte
	closed bool // game loop only
}

// Hub fans replication messages out to websocket observers. Replicate and
// Pump run on the game loop; the HTTP handler hands clients over through
// channels, so the client set is never shared across goroutines.
type Hub struct {
	upgrader  websocket.Upgrader
	joinCh    chan *client
	leaveCh   chan *client
	clients   map[*client]struct{}
	snapshot  func() []replication.Message
	queueSize int
	nextID    atomic.Uint64
	log       *zap.Logger
}

// NewHub creates a hub. snapshot is called on the game loop to bring each
// new observer up to date before live messages.
func NewHub(queueSize int, snapshot func() []replication.Message, log *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		joinCh:    make(chan *client, 64),
		leaveCh:   make(chan *client, 64),
		clients:   make(map[*client]struct{}),
		snapshot:  snapshot,
		queueSize: queueSize,
		log:       log,
	}
}

// Handler upgrades the request and streams messages until either side closes.
func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := &client{id: h.nextID.Add(1), out: make(chan []byte, h.queueSize)}
		select {
		case h.joinCh <- c:
		default:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"),
				time.Now().Add(time.Second))
			return
		}
		h.log.Info("觀察者連線", zap.Uint64("observer", c.id), zap.String("ip", r.RemoteAddr))

		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			for b := range c.out {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(time.Second))
		}()

		// observers only listen; reads detect the close
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		select {
		case h.leaveCh <- c:
		default:
		}
		conn.Close()
		select {
		case <-writeDone:
		case <-time.After(500 * time.Millisecond):
		}
		h.log.Info("觀察者離線", zap.Uint64("observer", c.id))
	}
}

// Pump admits joining observers (after their snapshot) and drops leaving
// ones. Called once per tick on the game loop.
func (h *Hub) Pump() {
	for {
		select {
		case c := <-h.leaveCh:
			h.drop(c)
		default:
			goto joins
		}
	}
joins:
	for {
		select {
		case c := <-h.joinCh:
			if h.snapshot != nil {
				for _, m := range h.snapshot() {
					if !h.send(c, m) {
						break
					}
				}
			}
			if !c.closed {
				h.clients[c] = struct{}{}
			}
		default:
			return
		}
	}
}

// Replicate implements replication.Sink.
func (h *Hub) Replicate(m replication.Message) {
	if len(h.clients) == 0 {
		return
	}
	b, err := json.Marshal(encode(m))
	if err != nil {
		h.log.Error("observer encode", zap.Error(err))
		return
	}
	for c := range h.clients {
		h.push(c, b)
	}
}

// Clients returns the number of admitted observers.
func (h *Hub) Clients() int { return len(h.clients) }

// Close disconnects every observer.
func (h *Hub) Close() {
	for c := range h.clients {
		h.drop(c)
	}
}

func (h *Hub) send(c *client, m replication.Message) bool {
	b, err := json.Marshal(encode(m))
	if err != nil {
		return false
	}
	return h.push(c, b)
}

// push queues b for c; a full queue means a slow observer, which is dropped.
func (h *Hub) push(c *client, b []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.out <- b:
		return true
	default:
		h.log.Warn("觀察者佇列已滿，斷開", zap.Uint64("observer", c.id))
		h.drop(c)
		return false
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}
