// Package hub fans occupancy events out to live connections and mirrors the
// occupant-directed topics to browser push subscriptions.
package hub

import (
	"encoding/json"
	"log"
	"sync"
)

// Topics carried by hub messages.
const (
	TopicOccupancyUpdate = "occupancy_update"
	TopicOccupancyAlert  = "occupancy_alert"
	TopicUserAction      = "user_action"
	TopicUserRemoved     = "user_removed"
	TopicSessionExpired  = "session_expired"
	TopicStatusUpdate    = "status_update"
)

// Alert levels for occupancy_alert messages.
const (
	AlertNear = "NEAR_CAPACITY"
	AlertFull = "FULL"
)

// Message is one event delivered to a connection.
type Message struct {
	Topic string      `json:"topic"`
	Data  interface{} `json:"data"`
}

// JSON renders the message for wire transports.
func (m Message) JSON() []byte {
	b, err := json.Marshal(m)
	if err != nil {
		log.Printf("Failed to encode hub message %q: %v", m.Topic, err)
		return []byte("{}")
	}
	return b
}

// Conn is one live subscriber. Implementations must tolerate Send being
// called after the peer went away by returning an error.
type Conn interface {
	ID() string
	Send(Message) error
}

// Hub maps occupants to their live connections and keeps a broadcast set of
// every attached connection. A connection belongs to at most one occupant.
type Hub struct {
	mu         sync.Mutex
	all        map[string]Conn
	byOccupant map[int64]map[string]Conn
	occupantOf map[string]int64

	// Edge trigger state for capacity alerts.
	alertLevel string

	pusher *Pusher
}

// New returns an empty hub. pusher may be nil when web push is disabled.
func New(pusher *Pusher) *Hub {
	return &Hub{
		all:        make(map[string]Conn),
		byOccupant: make(map[int64]map[string]Conn),
		occupantOf: make(map[string]int64),
		pusher:     pusher,
	}
}

// Attach registers a connection. occupantID 0 means anonymous: the
// connection receives broadcasts only.
func (h *Hub) Attach(c Conn, occupantID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[c.ID()] = c
	if occupantID != 0 {
		conns, ok := h.byOccupant[occupantID]
		if !ok {
			conns = make(map[string]Conn)
			h.byOccupant[occupantID] = conns
		}
		conns[c.ID()] = c
		h.occupantOf[c.ID()] = occupantID
	}
	log.Printf("Hub connection %s attached (occupant %d), %d live", c.ID(), occupantID, len(h.all))
}

// Detach removes a connection. Safe to call twice.
func (h *Hub) Detach(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachLocked(c.ID())
}

func (h *Hub) detachLocked(id string) {
	if _, ok := h.all[id]; !ok {
		return
	}
	delete(h.all, id)
	if occ, ok := h.occupantOf[id]; ok {
		delete(h.occupantOf, id)
		if conns := h.byOccupant[occ]; conns != nil {
			delete(conns, id)
			if len(conns) == 0 {
				delete(h.byOccupant, occ)
			}
		}
	}
	log.Printf("Hub connection %s detached, %d live", id, len(h.all))
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.all)
}

// Broadcast delivers a message to every connection. Delivery is best
// effort: a failing connection is dropped, never retried.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.all {
		if err := c.Send(msg); err != nil {
			log.Printf("Dropping hub connection %s: %v", id, err)
			h.detachLocked(id)
		}
	}
}

// Unicast delivers a message to every live connection of one occupant and
// mirrors it to the occupant's push subscriptions for the topics that
// describe something happening to them.
func (h *Hub) Unicast(occupantID int64, msg Message) {
	h.mu.Lock()
	for id, c := range h.byOccupant[occupantID] {
		if err := c.Send(msg); err != nil {
			log.Printf("Dropping hub connection %s: %v", id, err)
			h.detachLocked(id)
		}
	}
	pusher := h.pusher
	h.mu.Unlock()

	if pusher != nil && pushWorthy(msg.Topic) {
		pusher.Dispatch(occupantID, msg)
	}
}

func pushWorthy(topic string) bool {
	switch topic {
	case TopicUserRemoved, TopicSessionExpired, TopicUserAction:
		return true
	}
	return false
}

// OccupancyUpdate is the payload of occupancy_update broadcasts.
type OccupancyUpdate struct {
	Count      int     `json:"count"`
	Max        int     `json:"max"`
	Percent    float64 `json:"percent"`
	IsFull     bool    `json:"is_full"`
	IsNear     bool    `json:"is_near"`
	LastUpdate string  `json:"last_update"`
}

// PublishOccupancy broadcasts the new occupancy and raises an edge-triggered
// capacity alert: NEAR when utilization first reaches 90 percent, FULL when
// it first reaches the cap. Falling back below re-arms the trigger.
func (h *Hub) PublishOccupancy(u OccupancyUpdate) {
	level := ""
	switch {
	case u.IsFull:
		level = AlertFull
	case u.IsNear:
		level = AlertNear
	}

	h.mu.Lock()
	fire := level != "" && level != h.alertLevel
	h.alertLevel = level
	h.mu.Unlock()

	h.Broadcast(Message{Topic: TopicOccupancyUpdate, Data: u})
	if fire {
		h.Broadcast(Message{Topic: TopicOccupancyAlert, Data: map[string]interface{}{
			"level":   level,
			"count":   u.Count,
			"max":     u.Max,
			"percent": u.Percent,
		}})
	}
}
