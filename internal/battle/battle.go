// Package battle implements the turn-based encounter state of a game session.
//
// A [Manager] owns at most one active [Battle]. Every successful mutation
// returns a deep-copied snapshot so callers can broadcast it without holding
// any lock and without observing a half-applied change.
package battle

import "slices"

// NoTurn is the value of [Battle.CurrentTurnIndex] when no combatant is
// active.
const NoTurn = -1

// Combatant is a participant in a [Battle].
type Combatant struct {
	Name         string `json:"name"`
	HP           int    `json:"hp"`
	MaxHP        int    `json:"max_hp"`
	AC           int    `json:"ac"`
	IsActiveTurn bool   `json:"is_active_turn"`
	Targeted     bool   `json:"targeted"`
}

// Battle is the roster and turn state of one encounter.
type Battle struct {
	ID               string      `json:"id"`
	Combatants       []Combatant `json:"combatants"`
	CurrentTurnIndex int         `json:"current_turn_index"`
	Active           bool        `json:"active"`
}

// clone returns a copy of b that shares no memory with it.
func (b *Battle) clone() Battle {
	c := *b
	c.Combatants = slices.Clone(b.Combatants)
	return c
}

// indexOf returns the roster position of the combatant with exactly the given
// name, or -1.
func (b *Battle) indexOf(name string) int {
	return slices.IndexFunc(b.Combatants, func(c Combatant) bool {
		return c.Name == name
	})
}
