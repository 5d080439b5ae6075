package mirror

import (
	"context"
	"fmt"

	"github.com/kingrea/maidsync/internal/change"
)

// FieldChanged is the display's change-event entry point. A programmatic
// change is the echo of the engine's own refresh and never writes; a user
// change becomes exactly one UserEdited call.
func (e *Engine) FieldChanged(ctx context.Context, fc FieldChange) error {
	if fc.Origin != OriginUser {
		e.metrics.Programmatic.Inc()
		return nil
	}
	return e.UserEdited(ctx, fc.Tag, fc.Raw)
}

// UserEdited turns a user edit into one domain write. The tag's index is the
// edited row or id. Without a selection the edit is a no-op. A locked tag or
// a raw value that is not of the field's type performs no write and queues a
// read-back so the display returns to the authoritative value.
func (e *Engine) UserEdited(ctx context.Context, tag change.Tag, raw string) error {
	if !tag.Valid() || tag.Kind.Aggregate() {
		return fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}
	var entity change.Entity
	if !tag.Kind.Player() {
		current, ok := e.selection.Current()
		if !ok {
			e.debugf("mirror: edit of %s without selection ignored", tag)
			return ErrNoSelection
		}
		entity = current
		if e.locks.IsLocked(entity, tag) {
			e.metrics.Vetoed.Inc()
			if e.indicator != nil {
				e.indicator.ShowLocked(tag)
			}
			e.readBack(entity, tag)
			return fmt.Errorf("%w: %s", ErrLocked, tag)
		}
	}
	v, err := change.Classify(tag.Kind, raw)
	if err != nil {
		e.debugf("mirror: edit of %s not classified: %v", tag, err)
		e.readBack(entity, tag)
		return err
	}
	// Recording the value first lets the echo refresh recognise it.
	e.shown[tag] = v
	if err := e.model.Write(ctx, entity, tag, v); err != nil {
		e.readBack(entity, tag)
		return fmt.Errorf("mirror: write %s: %w", tag, err)
	}
	e.metrics.UserWrites.Inc()
	switch tag.Kind {
	case change.NoonWorkForced, change.NightWorkForced:
		if on, ok := v.AsBool(); ok {
			e.forced.SetForced(entity, tag, on)
		}
	}
	return nil
}

// SetForced toggles the force-enable flag of a work slot on entity and writes
// the matching field through the model. The entity need not be selected.
func (e *Engine) SetForced(ctx context.Context, entity change.Entity, tag change.Tag, forced bool) error {
	if entity.None() {
		return ErrNoSelection
	}
	if !tag.Valid() || (tag.Kind != change.NoonWorkForced && tag.Kind != change.NightWorkForced) {
		return fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}
	if e.locks.IsLocked(entity, tag) {
		e.metrics.Vetoed.Inc()
		if e.indicator != nil && e.selection.Is(entity) {
			e.indicator.ShowLocked(tag)
		}
		return fmt.Errorf("%w: %s", ErrLocked, tag)
	}
	v := change.Bool(forced)
	selected := e.selection.Is(entity)
	if selected {
		e.shown[tag] = v
	}
	if err := e.model.Write(ctx, entity, tag, v); err != nil {
		if selected {
			e.readBack(entity, tag)
		}
		return fmt.Errorf("mirror: force %s %s: %w", entity, tag, err)
	}
	e.forced.SetForced(entity, tag, forced)
	e.infof("mirror: %s %s forced=%t", entity, tag, forced)
	return nil
}
