package mirror

import (
	"context"

	"github.com/kingrea/maidsync/internal/change"
	"github.com/kingrea/maidsync/internal/hookbus"
)

type handler func(ctx context.Context, n hookbus.Notification) hookbus.Reply

func (e *Engine) dispatchTable() map[hookbus.Kind]handler {
	return map[hookbus.Kind]handler{
		hookbus.KindStatusChanged:            e.onStatusChanged,
		hookbus.KindStatusChangedID:          e.onFieldChanged,
		hookbus.KindStatusUpdated:            e.onFieldChanged,
		hookbus.KindClassUpdated:             e.onClassUpdated,
		hookbus.KindPropertyAdded:            e.onPropertyChanged,
		hookbus.KindPropertyRemoved:          e.onPropertyChanged,
		hookbus.KindFeaturePropensityUpdated: e.onFeaturePropensityUpdated,
		hookbus.KindWorkEnabledCheck:         e.onWorkEnabledCheck,
		hookbus.KindPlayerValueChanged:       e.onPlayerValueChanged,
		hookbus.KindValueLimit:               e.onValueLimit,
	}
}

// Dispatch implements hookbus.Dispatcher. It must run on the consumer.
func (e *Engine) Dispatch(ctx context.Context, n hookbus.Notification) hookbus.Reply {
	h, ok := e.handlers[n.Kind]
	if !ok {
		e.unhandled(n)
		return hookbus.Reply{}
	}
	reply := h(ctx, n)
	reply.Handled = true
	return reply
}

func (e *Engine) unhandled(n hookbus.Notification) {
	e.metrics.Unhandled.Inc()
	e.warnf("mirror: no handler for %s %s from %s, dropped", n.Kind, n.Tag, n.Entity)
}

// admit reports whether n belongs to the selected entity.
func (e *Engine) admit(n hookbus.Notification) bool {
	if e.selection.Is(n.Entity) {
		return true
	}
	e.metrics.Mismatched.Inc()
	current, _ := e.selection.Current()
	e.debugf("mirror: %s %s from %s ignored, selected %q", n.Kind, n.Tag, n.Entity, current)
	return false
}

// onStatusChanged handles the pre-write notification. A locked tag is vetoed
// whether or not its entity is on screen; otherwise the usual admission and
// enqueue apply.
func (e *Engine) onStatusChanged(_ context.Context, n hookbus.Notification) hookbus.Reply {
	if e.locks.IsLocked(n.Entity, n.Tag) {
		e.metrics.Vetoed.Inc()
		e.infof("mirror: %s %s locked, write vetoed", n.Entity, n.Tag)
		if e.indicator != nil && e.selection.Is(n.Entity) {
			e.indicator.ShowLocked(n.Tag)
		}
		return hookbus.Reply{Veto: true}
	}
	if !e.admit(n) {
		return hookbus.Reply{}
	}
	e.enqueueField(n)
	return hookbus.Reply{}
}

// onFieldChanged handles post-write notifications. A force-enable slot
// updates the force registry for any entity before admission.
func (e *Engine) onFieldChanged(ctx context.Context, n hookbus.Notification) hookbus.Reply {
	e.syncForced(ctx, n)
	if !e.admit(n) {
		return hookbus.Reply{}
	}
	e.enqueueField(n)
	return hookbus.Reply{}
}

// enqueueField queues the refresh for n. A locked tag queues nothing.
func (e *Engine) enqueueField(n hookbus.Notification) {
	if e.lockedOut(n) {
		return
	}
	key, action, ok := e.propagation(n.Entity, n.Tag)
	if !ok {
		e.unhandled(n)
		return
	}
	e.enqueue(e.queue, key, action)
}

func (e *Engine) lockedOut(n hookbus.Notification) bool {
	if !e.locks.IsLocked(n.Entity, n.Tag) {
		return false
	}
	e.debugf("mirror: %s %s from %s locked, not queued", n.Kind, n.Tag, n.Entity)
	return true
}

func (e *Engine) syncForced(ctx context.Context, n hookbus.Notification) {
	switch n.Tag.Kind {
	case change.NoonWorkForced, change.NightWorkForced:
	default:
		return
	}
	if n.Entity.None() || !n.Tag.Valid() {
		return
	}
	v, err := e.model.Read(ctx, n.Entity, n.Tag)
	if err != nil {
		e.warnf("mirror: read %s of %s: %v", n.Tag, n.Entity, err)
		return
	}
	if on, ok := v.AsBool(); ok {
		e.forced.SetForced(n.Entity, n.Tag, on)
	}
}

// onClassUpdated queues one aggregate refresh covering every affected class
// row; the combined kind also refreshes bonus values.
func (e *Engine) onClassUpdated(_ context.Context, n hookbus.Notification) hookbus.Reply {
	if !e.admit(n) {
		return hookbus.Reply{}
	}
	switch n.Tag.Kind {
	case change.MaidClassType, change.YotogiClassType, change.MaidAndYotogiClass:
		e.enqueue(e.queue, n.Tag, e.refreshExpanded(n.Entity, n.Tag))
	default:
		e.unhandled(n)
	}
	return hookbus.Reply{}
}

// onPropertyChanged refreshes the "has" flag and the level of a skill or
// work that was gained or lost.
func (e *Engine) onPropertyChanged(_ context.Context, n hookbus.Notification) hookbus.Reply {
	if !e.admit(n) {
		return hookbus.Reply{}
	}
	if _, _, ok := pairOf(n.Tag); !ok {
		e.unhandled(n)
		return hookbus.Reply{}
	}
	e.enqueueField(n)
	return hookbus.Reply{}
}

// onFeaturePropensityUpdated expands a bulk pass into one enqueue per
// feature or propensity, each coalesced on its own tag.
func (e *Engine) onFeaturePropensityUpdated(ctx context.Context, n hookbus.Notification) hookbus.Reply {
	if !e.admit(n) {
		return hookbus.Reply{}
	}
	switch n.Tag.Kind {
	case change.Feature, change.Propensity:
	default:
		e.unhandled(n)
		return hookbus.Reply{}
	}
	tags, err := e.model.Expand(ctx, n.Entity, change.Of(n.Tag.Kind))
	if err != nil {
		e.warnf("mirror: expand %s for %s: %v", n.Tag.Kind, n.Entity, err)
		return hookbus.Reply{}
	}
	e.infof("mirror: updating all %d %s values", len(tags), n.Tag.Kind)
	for _, tag := range tags {
		if e.locks.IsLocked(n.Entity, tag) {
			continue
		}
		e.enqueue(e.queue, tag, e.refreshField(n.Entity, tag))
	}
	return hookbus.Reply{}
}

// onWorkEnabledCheck answers for any entity, selected or not.
func (e *Engine) onWorkEnabledCheck(_ context.Context, n hookbus.Notification) hookbus.Reply {
	switch n.Tag.Kind {
	case change.NoonWorkForced, change.NightWorkForced:
		return hookbus.Reply{ForceEnabled: e.forced.IsForced(n.Entity, n.Tag)}
	default:
		e.unhandled(n)
		return hookbus.Reply{}
	}
}

func (e *Engine) onPlayerValueChanged(_ context.Context, n hookbus.Notification) hookbus.Reply {
	if !n.Tag.Kind.Player() || !n.Tag.Valid() {
		e.unhandled(n)
		return hookbus.Reply{}
	}
	e.enqueue(e.playerQueue, n.Tag, e.refreshPlayer(n.Tag))
	return hookbus.Reply{}
}

func (e *Engine) onValueLimit(context.Context, hookbus.Notification) hookbus.Reply {
	return hookbus.Reply{RemoveLimit: e.removeLimit}
}
