package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/printdialog/printdialog/internal/printer"
)

const (
	sendBuffer = 64
	// writeWait bounds both a single frame write and how long a sender
	// waits for room in a full queue.
	writeWait = 10 * time.Second
)

var (
	// ErrTooManyConnections is returned by Register when the hub is full.
	ErrTooManyConnections = errors.New("too many websocket connections")
	// ErrNotConnected means no frontend is bound to the dialog id.
	ErrNotConnected = errors.New("no frontend connected for dialog")
	// ErrClientTooSlow means the frontend's send queue stayed full for a
	// whole write timeout. The connection is dropped.
	ErrClientTooSlow = errors.New("frontend send queue stalled")
)

type client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	send chan []byte
	// done is closed when the client is unbound. send is never closed.
	done chan struct{}
}

func newClient(h *Hub, id string, conn *websocket.Conn) *client {
	return &client{
		id:   id,
		conn: conn,
		hub:  h,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *client) writePump() {
	defer func() {
		c.conn.Close()
		c.hub.RemoveClient(c)
	}()
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Hub owns the websocket connections and maps each one to the sender id
// the frontend is known by. It implements notify.Emitter: a sender blocks
// while the target queue is full, so a large enumeration is paced by the
// frontend. Only a queue that makes no progress for writeWait gets the
// connection dropped.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*client
	maxConns  int
	writeWait time.Duration
	log       zerolog.Logger
}

// NewHub creates a hub. maxConns <= 0 means unlimited.
func NewHub(maxConns int, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:   make(map[string]*client),
		maxConns:  maxConns,
		writeWait: writeWait,
		log:       logger.With().Str("component", "ws").Logger(),
	}
}

// Register binds conn to a sender id and starts its write pump. The
// requested id is honoured when no live connection holds it, which lets a
// frontend come back under the identity its keep-alive dialog is stored
// under; otherwise a fresh id is assigned.
func (h *Hub) Register(conn *websocket.Conn, requested string) (*client, error) {
	h.mu.Lock()
	if h.maxConns > 0 && len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	id := requested
	if _, taken := h.clients[id]; id == "" || taken {
		id = uuid.NewString()
	}
	c := newClient(h, id, conn)
	h.clients[id] = c
	h.mu.Unlock()

	go c.writePump()
	return c, nil
}

// RemoveClient unbinds c and stops its write pump. Safe to call more than
// once.
func (h *Hub) RemoveClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
		close(c.done)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Connected reports whether a frontend is bound to id.
func (h *Hub) Connected(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[id]
	return ok
}

// Send queues msg for the frontend bound to id, waiting for room when the
// queue is full.
func (h *Hub) Send(id string, msg WSMessage) error {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	return h.enqueue(c, msg)
}

func (h *Hub) sendClient(c *client, msg WSMessage) error {
	h.mu.RLock()
	cur, ok := h.clients[c.id]
	h.mu.RUnlock()
	if !ok || cur != c {
		return ErrNotConnected
	}
	return h.enqueue(c, msg)
}

func (h *Hub) enqueue(c *client, msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrNotConnected
	default:
	}

	timer := time.NewTimer(h.writeWait)
	defer timer.Stop()
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrNotConnected
	case <-timer.C:
		h.dropSlow(c)
		return ErrClientTooSlow
	}
}

func (h *Hub) dropSlow(c *client) {
	h.log.Warn().Str("dialog_id", c.id).Dur("waited", h.writeWait).Msg("frontend send queue stalled, disconnecting")
	h.RemoveClient(c)
}

func (h *Hub) PrinterAdded(dialogID string, rec printer.Record) error {
	return h.Send(dialogID, WSMessage{
		Type: MsgPrinterAdded,
		Payload: PrinterAddedPayload{
			DialogID: dialogID,
			Printer:  rec,
		},
	})
}

func (h *Hub) PrinterStateChanged(dialogID string, rec printer.Record) error {
	return h.Send(dialogID, WSMessage{
		Type: MsgPrinterStateChanged,
		Payload: PrinterStateChangedPayload{
			DialogID:      dialogID,
			Name:          rec.Name,
			State:         rec.State,
			AcceptingJobs: rec.AcceptingJobs,
		},
	})
}

// Close disconnects every frontend. Each read loop then runs its normal
// disconnect handling.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for _, c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}
