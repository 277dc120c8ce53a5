// Package server is the feed gateway: it bridges Postgres change
// notifications to per-restaurant WebSocket rooms and serves the REST
// surface board clients sync against.
package server

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/platewise/boardsync/internal/feed"
)

// roomChange routes one change event to a restaurant's room.
type roomChange struct {
	RestaurantID uuid.UUID
	Change       feed.Change
}

// Hub maintains the set of active board sessions and broadcasts change
// events to them, one room per restaurant.
type Hub struct {
	rooms map[uuid.UUID]map[*Session]bool

	register   chan *Session
	unregister chan *Session

	broadcast chan *roomChange

	// Latest presence record per session, as announced on connect.
	presence map[*Session]feed.Presence

	mu sync.RWMutex
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		broadcast:  make(chan *roomChange, 256),
		presence:   make(map[*Session]feed.Presence),
	}
}

// Run starts the hub's main loop.
// This should be called as a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			if h.rooms[s.restaurantID] == nil {
				h.rooms[s.restaurantID] = make(map[*Session]bool)
			}
			h.rooms[s.restaurantID][s] = true
			h.mu.Unlock()

		case s := <-h.unregister:
			h.mu.Lock()
			if sessions, ok := h.rooms[s.restaurantID]; ok {
				if _, exists := sessions[s]; exists {
					delete(sessions, s)
					delete(h.presence, s)
					close(s.send)
					if len(sessions) == 0 {
						delete(h.rooms, s.restaurantID)
					}
				}
			}
			h.mu.Unlock()

		case rc := <-h.broadcast:
			h.mu.Lock()
			sessions := h.rooms[rc.RestaurantID]

			message, err := json.Marshal(rc.Change)
			if err != nil {
				h.mu.Unlock()
				continue
			}

			for s := range sessions {
				select {
				case s.send <- message:
				default:
					// Session's send buffer is full, close and unregister
					close(s.send)
					delete(h.rooms[rc.RestaurantID], s)
					delete(h.presence, s)
					if len(h.rooms[rc.RestaurantID]) == 0 {
						delete(h.rooms, rc.RestaurantID)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a change event to every session in a restaurant's room.
func (h *Hub) Broadcast(restaurantID uuid.UUID, change feed.Change) {
	h.broadcast <- &roomChange{
		RestaurantID: restaurantID,
		Change:       change,
	}
}

// setPresence records the presence a session announced. A session may
// re-announce after a reconnect; the latest record wins.
func (h *Hub) setPresence(s *Session, p feed.Presence) {
	h.mu.Lock()
	h.presence[s] = p
	h.mu.Unlock()
}

// Presence returns the presence records of every session currently in a
// restaurant's room. Sessions that have not announced yet are omitted.
func (h *Hub) Presence(restaurantID uuid.UUID) []feed.Presence {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var records []feed.Presence
	for s := range h.rooms[restaurantID] {
		if p, ok := h.presence[s]; ok {
			records = append(records, p)
		}
	}
	return records
}
