package store

import "github.com/google/uuid"

// Mutation captures the prior state of one optimistic local change so the
// change can be rolled back if its persistence call fails. One abstraction
// serves every entity type; the rollback contract is defined once.
type Mutation[T any] struct {
	Key     uuid.UUID
	Prior   T
	Existed bool
	Applied T
}

// applyMutation overwrites m[key] with next and returns the rollback record.
func applyMutation[T any](m map[uuid.UUID]T, key uuid.UUID, next T) Mutation[T] {
	prior, existed := m[key]
	m[key] = next
	return Mutation[T]{Key: key, Prior: prior, Existed: existed, Applied: next}
}

// revertMutation restores the prior value, but only if the current value is
// still the one the mutation wrote. An authoritative event that arrived in
// between wins; rolling back over it would resurrect stale state. Reports
// whether a rollback happened.
func revertMutation[T any](m map[uuid.UUID]T, mu Mutation[T], same func(a, b T) bool) bool {
	cur, ok := m[mu.Key]
	if !ok || !same(cur, mu.Applied) {
		return false
	}
	if mu.Existed {
		m[mu.Key] = mu.Prior
	} else {
		delete(m, mu.Key)
	}
	return true
}
