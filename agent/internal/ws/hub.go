package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cmodtools/cmodparams/agent/internal/api"
	"github.com/cmodtools/cmodparams/agent/internal/store"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10 // must be less than pongWait
	sendBufSize  = 16
)

// Event names.
const (
	EventSnapshot = "snapshot" // every live shot, on connect and on each tick
	EventShots    = "shots"    // only the shots refreshed by the last poll cycle
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string               `json:"event"`
	Data  api.SnapshotResponse `json:"data"`
}

// Hub streams shot results to WebSocket clients. Each client may restrict the
// stream to a set of shots with ?shot=N[,N...].
type Hub struct {
	store    *store.Store
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
	pending map[int]struct{}
}

type client struct {
	conn  *websocket.Conn
	send  chan []byte
	shots map[int]bool // nil means every shot
}

func (c *client) wants(shot int) bool { return c.shots == nil || c.shots[shot] }

// New creates a Hub that reads from st and sends a full snapshot every
// interval.
func New(st *store.Store, interval time.Duration) *Hub {
	return &Hub{
		store:    st,
		interval: interval,
		clients:  make(map[*client]struct{}),
		pending:  make(map[int]struct{}),
	}
}

// Run sends snapshots every interval until ctx is cancelled, then closes all
// connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			h.Broadcast()
		}
	}
}

// ServeHTTP validates the shot filter, upgrades the connection and sends the
// current snapshot at once.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	shots, err := parseShots(r.URL.Query().Get("shot"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufSize), shots: shots}
	h.register(c)
	defer h.unregister(c)

	if data, err := h.snapshotFor(c); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	go c.writePump()
	c.readPump()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends every client the snapshot of the shots it follows.
func (h *Hub) Broadcast() {
	full, err := h.encode(EventSnapshot, api.BuildSnapshot(h.store))
	if err != nil {
		slog.Error("ws: encode snapshot", "err", err)
		return
	}
	for _, c := range h.targets() {
		data := full
		if c.shots != nil {
			if data, err = h.snapshotFor(c); err != nil {
				continue
			}
		}
		h.deliver(c, data)
	}
}

// Mark records that shot has a new result. The next Flush sends it.
func (h *Hub) Mark(shot int) {
	h.mu.Lock()
	h.pending[shot] = struct{}{}
	h.mu.Unlock()
}

// Flush sends each client the marked shots it follows as a "shots" event and
// clears the marks. Clients following none of them get nothing.
func (h *Hub) Flush() {
	h.mu.Lock()
	marked := make([]int, 0, len(h.pending))
	for shot := range h.pending {
		marked = append(marked, shot)
	}
	h.pending = make(map[int]struct{})
	h.mu.Unlock()
	if len(marked) == 0 {
		return
	}

	update := api.BuildShots(h.store, marked)
	for _, c := range h.targets() {
		resp := update
		if c.shots != nil {
			resp = filter(update, c)
			if len(resp.Shots) == 0 {
				continue
			}
		}
		data, err := h.encode(EventShots, resp)
		if err != nil {
			slog.Error("ws: encode shots", "err", err)
			continue
		}
		h.deliver(c, data)
	}
}

// --- internal ---------------------------------------------------------------

func (h *Hub) snapshotFor(c *client) ([]byte, error) {
	return h.encode(EventSnapshot, filter(api.BuildSnapshot(h.store), c))
}

func (h *Hub) encode(event string, resp api.SnapshotResponse) ([]byte, error) {
	return json.Marshal(Message{Event: event, Data: resp})
}

func filter(resp api.SnapshotResponse, c *client) api.SnapshotResponse {
	if c.shots == nil {
		return resp
	}
	out := api.SnapshotResponse{Shots: make([]api.ShotResponse, 0, len(c.shots)), GeneratedAt: resp.GeneratedAt}
	for _, s := range resp.Shots {
		if c.wants(s.Shot) {
			out.Shots = append(out.Shots, s)
		}
	}
	return out
}

// parseShots reads a comma-separated shot list. Empty means every shot.
func parseShots(raw string) (map[int]bool, error) {
	if raw == "" {
		return nil, nil
	}
	shots := make(map[int]bool)
	for _, f := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("shot filter: %q is not a shot number", f)
		}
		shots[n] = true
	}
	return shots, nil
}

func (h *Hub) targets() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// deliver queues data for c, dropping c when its buffer is full.
func (h *Hub) deliver(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		slog.Warn("ws: client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
		h.unregister(c)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (c *client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only watches for pongs and disconnects; clients send nothing.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
