// Package events is the real-time fabric behind AgriMatch's two WebSocket
// surfaces: one "room" per order (state-sync + FSM transitions + new bids
// + escrow updates) and one GPS-location stream per middleman.
// Many small per-order hubs share one registry and one mutex.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agrimatch/core/internal/metrics"
	"github.com/agrimatch/core/pkg/logging"
)

// EventType identifies the kind of payload carried by an Event.
type EventType string

const (
	EventConnected      EventType = "CONNECTED"
	EventStateSync       EventType = "STATE_SYNC"
	EventFSMTransition   EventType = "FSM_TRANSITION"
	EventNewBid          EventType = "NEW_BID"
	EventEscrowUpdate    EventType = "ESCROW_UPDATE"
	EventGPSHeartbeatLost EventType = "GPS_HEARTBEAT_LOST"
	EventLocationUpdate  EventType = "LOCATION_UPDATE"
	EventPong            EventType = "PONG"
)

// Event is one message broadcast to a room or GPS stream.
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data"`
	Timestamp int64     `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one connected WebSocket subscriber, pinned to a single room
// key (an order id for order rooms, a middleman id for GPS streams).
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// LocationFrame is one `{latitude, longitude}` frame a middleman's app
// pushes on its GPS stream.
type LocationFrame struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// clientMessage is the minimal envelope read off an order-room connection;
// only {"type":"PING"} is meaningful today.
type clientMessage struct {
	Type string `json:"type"`
}

// Hub fans Event broadcasts out to subscribers of order rooms and GPS
// streams. One mutex guards both indices; broadcasts snapshot the
// subscriber list under lock and then write outside it, so slow client
// writes never block room registration or unrelated broadcasts.
type Hub struct {
	mu         sync.Mutex
	orderRooms map[string]map[*client]bool
	gpsStreams map[string]map[*client]bool
	log        *logging.Logger

	// OnLocationFrame is invoked for every GPS-stream frame received,
	// before it is re-broadcast as LOCATION_UPDATE. httpapi wires this to
	// persist every Nth frame rather than every single one.
	OnLocationFrame func(middlemanID string, frame LocationFrame)

	// OnSubscribe, when set, is invoked right after an order-room client
	// receives CONNECTED; its return value is sent immediately after as
	// STATE_SYNC, so a client always gets a snapshot before any relayed
	// event. Not invoked for GPS streams.
	OnSubscribe func(orderID string) any
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		orderRooms: make(map[string]map[*client]bool),
		gpsStreams: make(map[string]map[*client]bool),
		log:        logging.GetDefault().Component("events"),
	}
}

// ServeOrderRoom upgrades the request and subscribes the connection to
// orderID's room until it disconnects, sending an initial CONNECTED event
// and then relaying FSM transitions, new bids, and escrow updates.
func (h *Hub) ServeOrderRoom(w http.ResponseWriter, r *http.Request, orderID string) {
	h.serve(w, r, h.orderRooms, orderID, false, "")
}

// ServeGPSStream upgrades the request and subscribes the connection to
// middlemanID's GPS stream, used by a middleman's own app to push
// LOCATION_UPDATE frames for orderID. Frames are re-broadcast to orderID's
// room, not back to the GPS stream itself, so farmers and buyers watching
// the order see the truck move.
func (h *Hub) ServeGPSStream(w http.ResponseWriter, r *http.Request, middlemanID, orderID string) {
	h.serve(w, r, h.gpsStreams, middlemanID, true, orderID)
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request, rooms map[string]map[*client]bool, key string, isGPS bool, orderID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	if rooms[key] == nil {
		rooms[key] = make(map[*client]bool)
	}
	rooms[key][c] = true
	h.mu.Unlock()
	metrics.WebsocketConnections.Inc()

	h.log.Debug("client joined room", "key", key)

	c.send <- mustMarshal(&Event{Type: EventConnected, Timestamp: time.Now().Unix()})

	if !isGPS && h.OnSubscribe != nil {
		if snapshot := h.OnSubscribe(key); snapshot != nil {
			c.send <- mustMarshal(&Event{Type: EventStateSync, Data: snapshot, Timestamp: time.Now().Unix()})
		}
	}

	go c.writePump()
	if isGPS {
		h.readGPSPump(c, rooms, key, orderID)
	} else {
		h.readOrderPump(c, rooms, key)
	}
}

// readOrderPump relays {"type":"PING"} to a PONG reply and otherwise just
// watches for disconnect; order rooms are read-mostly from the client side.
func (h *Hub) readOrderPump(c *client, rooms map[string]map[*client]bool, key string) {
	defer h.cleanup(c, rooms, key)
	h.armReadDeadline(c)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			h.logReadErr(err)
			return
		}
		var msg clientMessage
		if json.Unmarshal(raw, &msg) == nil && msg.Type == "PING" {
			c.send <- mustMarshal(&Event{Type: EventPong, Timestamp: time.Now().Unix()})
		}
	}
}

// readGPSPump decodes each frame, invokes OnLocationFrame (persistence),
// and rebroadcasts it to orderID's room as LOCATION_UPDATE so farmers and
// buyers watching the order see the truck move; the pushing middleman's
// own GPS stream has no other subscribers to relay to.
func (h *Hub) readGPSPump(c *client, rooms map[string]map[*client]bool, key, orderID string) {
	defer h.cleanup(c, rooms, key)
	h.armReadDeadline(c)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			h.logReadErr(err)
			return
		}
		var frame LocationFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.log.Warn("malformed location frame", "middleman_id", key, "error", err)
			continue
		}
		if h.OnLocationFrame != nil {
			h.OnLocationFrame(key, frame)
		}
		h.broadcast(h.orderRooms, orderID, EventLocationUpdate, frame)
	}
}

func (h *Hub) armReadDeadline(c *client) {
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})
}

func (h *Hub) logReadErr(err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		h.log.Debug("websocket read error", "error", err)
	}
}

func (h *Hub) cleanup(c *client, rooms map[string]map[*client]bool, key string) {
	h.mu.Lock()
	if set, ok := rooms[key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(rooms, key)
		}
	}
	h.mu.Unlock()
	metrics.WebsocketConnections.Dec()
	close(c.send)
	c.conn.Close()
	h.log.Debug("client left room", "key", key)
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// BroadcastToOrder sends an event to every client subscribed to orderID's
// room.
func (h *Hub) BroadcastToOrder(orderID string, eventType EventType, data any) {
	h.broadcast(h.orderRooms, orderID, eventType, data)
}

// BroadcastToGPSStream sends an event to every client subscribed to
// middlemanID's GPS stream. GPS_HEARTBEAT_LOST alerts are sent to the
// order room through BroadcastToOrder, not through this method.
func (h *Hub) BroadcastToGPSStream(middlemanID string, eventType EventType, data any) {
	h.broadcast(h.gpsStreams, middlemanID, eventType, data)
}

// broadcast snapshots the subscriber set under lock, then writes outside
// it so a slow or blocked client write never holds up registration of
// other rooms or concurrent broadcasts.
func (h *Hub) broadcast(rooms map[string]map[*client]bool, key string, eventType EventType, data any) {
	h.mu.Lock()
	set, ok := rooms[key]
	if !ok || len(set) == 0 {
		h.mu.Unlock()
		return
	}
	snapshot := make([]*client, 0, len(set))
	for c := range set {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	payload := mustMarshal(&Event{Type: eventType, Data: data, Timestamp: time.Now().Unix()})
	for _, c := range snapshot {
		select {
		case c.send <- payload:
		default:
			h.log.Warn("client send buffer full, dropping event", "key", key, "type", eventType)
		}
	}
}

func mustMarshal(e *Event) []byte {
	data, err := json.Marshal(e)
	if err != nil {
		return []byte(`{"type":"INTERNAL_ERROR"}`)
	}
	return data
}
