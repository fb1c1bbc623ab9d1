// README: WebSocket hub tracking per-user connections and room membership.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub tracks the open WebSocket connections of this process and the room
// membership used to fan events out. A user may hold several connections;
// each gets its own send buffer and a client that cannot drain it is
// dropped rather than allowed to block publishers.
type Hub struct {
	log *zap.SugaredLogger

	mu    sync.RWMutex
	users map[string]map[*client]struct{}
	rooms map[string]map[string]struct{}
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		log:   log,
		users: make(map[string]map[*client]struct{}),
		rooms: make(map[string]map[string]struct{}),
	}
}

// Serve upgrades the request to a WebSocket and streams events for userID
// until the peer goes away. The caller must have authenticated userID.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)
	go c.writePump()
	go c.readPump(h)
	return nil
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.users[c.userID]
	if !ok {
		conns = make(map[*client]struct{})
		h.users[c.userID] = conns
	}
	conns[c] = struct{}{}
}

// unregister removes the client and closes its send channel exactly once;
// the registration check under the lock makes repeated calls safe.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.users[c.userID]
	if !ok {
		return
	}
	if _, live := conns[c]; !live {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.users, c.userID)
	}
	close(c.send)
}

// Online reports whether the user has at least one open connection here.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

func (h *Hub) JoinRoom(room, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[userID] = struct{}{}
}

func (h *Hub) LeaveRoom(room, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// CloseRoom drops the membership set once the underlying order or trip is
// terminal. Connections stay open; only the routing entry goes.
func (h *Hub) CloseRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, room)
}

func (h *Hub) RoomMembers(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		members = append(members, id)
	}
	return members
}

// PublishUser sends one event to every open connection of a user.
func (h *Hub) PublishUser(userID string, ev Event) {
	h.PublishUsers([]string{userID}, ev)
}

// PublishUsers marshals once and fans the event out to all listed users.
func (h *Hub) PublishUsers(userIDs []string, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Errorw("marshal event", "event", ev.Name, "error", err)
		return
	}

	var targets []*client
	h.mu.RLock()
	for _, id := range userIDs {
		for c := range h.users[id] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, payload)
	}
}

// PublishRoom resolves the room to its current members and fans out.
func (h *Hub) PublishRoom(room string, ev Event) {
	members := h.RoomMembers(room)
	if len(members) == 0 {
		return
	}
	h.PublishUsers(members, ev)
}

func (h *Hub) deliver(c *client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.log.Warnw("dropping slow websocket client", "user_id", c.userID)
		h.unregister(c)
	}
}

// Close tears down every open connection, used at shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*client
	for _, conns := range h.users {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.mu.Unlock()
	for _, c := range all {
		h.unregister(c)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the protocol is server to client only.
// It exists to run the pong handler and notice closed peers.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
