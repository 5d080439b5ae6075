package mirror

import (
	"sort"

	"github.com/kingrea/maidsync/internal/change"
)

type flagKey struct {
	entity change.Entity
	tag    change.Tag
}

// flagSet is the storage shared by the lock and force registries.
type flagSet map[flagKey]struct{}

func (s flagSet) get(entity change.Entity, tag change.Tag) bool {
	_, ok := s[flagKey{entity, tag}]
	return ok
}

func (s flagSet) set(entity change.Entity, tag change.Tag, on bool) {
	if on {
		s[flagKey{entity, tag}] = struct{}{}
		return
	}
	delete(s, flagKey{entity, tag})
}

func (s flagSet) tags(entity change.Entity) []change.Tag {
	var out []change.Tag
	for key := range s {
		if key.entity == entity {
			out = append(out, key.tag)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Flag is one persisted registry entry.
type Flag struct {
	Entity change.Entity
	Tag    change.Tag
}

// LockRegistry records which (entity, tag) pairs are locked. A locked pair
// is an authoritative veto: no write for it may reach the domain model.
type LockRegistry struct {
	flags flagSet
}

// NewLockRegistry returns an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{flags: flagSet{}}
}

// IsLocked reports whether tag is locked on entity.
func (r *LockRegistry) IsLocked(entity change.Entity, tag change.Tag) bool {
	return r.flags.get(entity, tag)
}

// SetLocked locks or unlocks tag on entity.
func (r *LockRegistry) SetLocked(entity change.Entity, tag change.Tag, locked bool) {
	r.flags.set(entity, tag, locked)
}

// Locked lists the locked tags of entity in tag order.
func (r *LockRegistry) Locked(entity change.Entity) []change.Tag {
	return r.flags.tags(entity)
}

// Load marks every entry as locked.
func (r *LockRegistry) Load(entries []Flag) {
	for _, entry := range entries {
		r.flags.set(entry.Entity, entry.Tag, true)
	}
}

// ForceRegistry records which work slots are force-enabled per entity. It
// answers for every loaded entity, not only the selected one.
type ForceRegistry struct {
	flags flagSet
}

// NewForceRegistry returns an empty registry.
func NewForceRegistry() *ForceRegistry {
	return &ForceRegistry{flags: flagSet{}}
}

// IsForced reports whether the work slot tag is force-enabled on entity.
func (r *ForceRegistry) IsForced(entity change.Entity, tag change.Tag) bool {
	return r.flags.get(entity, tag)
}

// SetForced toggles the work slot tag on entity.
func (r *ForceRegistry) SetForced(entity change.Entity, tag change.Tag, forced bool) {
	r.flags.set(entity, tag, forced)
}

// Load marks every entry as forced.
func (r *ForceRegistry) Load(entries []Flag) {
	for _, entry := range entries {
		r.flags.set(entry.Entity, entry.Tag, true)
	}
}
