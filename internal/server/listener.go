package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/platewise/boardsync/internal/feed"
)

// ListenChannel is the NOTIFY channel row triggers publish to.
const ListenChannel = "board_changes"

// notification is the payload the row triggers emit: one change event
// plus the restaurant it belongs to, for room routing.
type notification struct {
	RestaurantID uuid.UUID       `json:"restaurant_id"`
	Type         string          `json:"type"`
	Table        string          `json:"table"`
	New          json.RawMessage `json:"new,omitempty"`
	Old          json.RawMessage `json:"old,omitempty"`
}

// decodeNotification parses one NOTIFY payload and validates the change
// the same way the client side does, so malformed trigger output never
// reaches a room.
func decodeNotification(payload string) (uuid.UUID, feed.Change, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return uuid.Nil, feed.Change{}, fmt.Errorf("decode notification: %w", err)
	}
	if n.RestaurantID == uuid.Nil {
		return uuid.Nil, feed.Change{}, fmt.Errorf("notification missing restaurant_id")
	}
	change := feed.Change{
		Type:  n.Type,
		Table: n.Table,
		New:   n.New,
		Old:   n.Old,
	}
	if err := change.Validate(); err != nil {
		return uuid.Nil, feed.Change{}, err
	}
	return n.RestaurantID, change, nil
}

// Listener holds one dedicated connection on LISTEN and forwards every
// notification to the hub.
type Listener struct {
	pool *pgxpool.Pool
	hub  *Hub
}

// NewListener creates a Listener.
func NewListener(pool *pgxpool.Pool, hub *Hub) *Listener {
	return &Listener{pool: pool, hub: hub}
}

// Run blocks listening for notifications until ctx is cancelled. If the
// listen connection drops it re-acquires one and resumes; clients that
// missed events in the gap recover via their snapshot refresh.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if err := l.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("ERROR: feed listener: %v, retrying", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	poolConn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer poolConn.Release()

	conn := poolConn.Conn()
	if _, err := conn.Exec(ctx, "LISTEN "+ListenChannel); err != nil {
		return fmt.Errorf("listen %s: %w", ListenChannel, err)
	}

	for {
		note, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		restaurantID, change, err := decodeNotification(note.Payload)
		if err != nil {
			log.Printf("ERROR: dropping notification: %v", err)
			continue
		}
		l.hub.Broadcast(restaurantID, change)
	}
}
