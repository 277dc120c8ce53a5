// Package status defines the order lifecycle and which transitions are
// legal. Every component validates a proposed change here before applying
// or sending it.
package status

import "github.com/platewise/boardsync/internal/enum"

// boardTransitions defines valid kitchen-board moves.
// Key is current status, value is the set of statuses it can move to
// directly. Moving a ready order to served takes it off the board.
var boardTransitions = map[string][]string{
	enum.OrderStatusPending:   {enum.OrderStatusPreparing},
	enum.OrderStatusPreparing: {enum.OrderStatusPending, enum.OrderStatusReady},
	enum.OrderStatusReady:     {enum.OrderStatusPreparing, enum.OrderStatusServed},
}

// activeStatuses are the statuses of orders still open for billing.
// Served orders leave the kitchen board but remain active.
var activeStatuses = map[string]bool{
	enum.OrderStatusPending:   true,
	enum.OrderStatusPreparing: true,
	enum.OrderStatusReady:     true,
	enum.OrderStatusServed:    true,
}

// IsValid reports whether s is a member of the fixed status set.
func IsValid(s string) bool {
	switch s {
	case enum.OrderStatusPending,
		enum.OrderStatusPreparing,
		enum.OrderStatusReady,
		enum.OrderStatusServed,
		enum.OrderStatusCompleted,
		enum.OrderStatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether an order with status s is still open.
func IsActive(s string) bool {
	return activeStatuses[s]
}

// IsTerminal reports whether s is an absorbing terminal status.
func IsTerminal(s string) bool {
	return s == enum.OrderStatusCompleted || s == enum.OrderStatusCancelled
}

// ValidateTransition reports whether moving an order from current to
// proposed is a legal kitchen-board move. Unknown statuses are invalid.
// Terminal statuses are reached through explicit external actions, never
// through a board move, so they are rejected here.
func ValidateTransition(current, proposed string) bool {
	for _, s := range boardTransitions[current] {
		if s == proposed {
			return true
		}
	}
	return false
}

// CanCancel reports whether an order with the given status may be
// cancelled. Completed and already-cancelled orders may not.
func CanCancel(current string) bool {
	return activeStatuses[current]
}

// BoardStatuses returns the statuses shown as kitchen-board columns.
func BoardStatuses() []string {
	return []string{enum.OrderStatusPending, enum.OrderStatusPreparing, enum.OrderStatusReady}
}

// ActiveStatuses returns all statuses counted as active, in board order.
func ActiveStatuses() []string {
	return []string{
		enum.OrderStatusPending,
		enum.OrderStatusPreparing,
		enum.OrderStatusReady,
		enum.OrderStatusServed,
	}
}
