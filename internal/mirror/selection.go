package mirror

import "github.com/kingrea/maidsync/internal/change"

// SelectionState is either NoSelection or Selected.
type SelectionState int

const (
	NoSelection SelectionState = iota
	Selected
)

func (s SelectionState) String() string {
	if s == Selected {
		return "selected"
	}
	return "none"
}

// Selection holds the entity the display currently mirrors. Engine.Select is
// its only mutation point.
type Selection struct {
	entity change.Entity
}

// State reports whether anything is selected.
func (s Selection) State() SelectionState {
	if s.entity.None() {
		return NoSelection
	}
	return Selected
}

// Current returns the selected entity and whether there is one.
func (s Selection) Current() (change.Entity, bool) {
	return s.entity, !s.entity.None()
}

// Is reports whether entity is the selected one.
func (s Selection) Is(entity change.Entity) bool {
	return !s.entity.None() && s.entity == entity
}

func (s *Selection) transition(entity change.Entity) {
	s.entity = entity
}
