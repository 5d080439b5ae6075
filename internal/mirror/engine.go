// Package mirror is the change-synchronization engine. It admits
// notifications for the selected entity, coalesces them into one pending
// refresh per tag, vetoes writes to locked values, and turns display change
// events into domain writes only when the user made them.
//
// An Engine is owned by a single consumer goroutine. Nothing in this package
// is safe for concurrent use; hookbus marshals foreign goroutines onto the
// consumer before they reach the engine.
package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/kingrea/maidsync/internal/change"
	"github.com/kingrea/maidsync/internal/hookbus"
)

// Option customizes Engine construction.
type Option func(*Engine)

// WithDisplay attaches the display sink.
func WithDisplay(d Display) Option {
	return func(e *Engine) {
		if d != nil {
			e.attach(d)
		}
	}
}

// WithLogger injects a diagnostics logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics replaces the default unexported counters.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithLockStore persists lock changes made through SetLocked.
func WithLockStore(s LockStore) Option {
	return func(e *Engine) {
		e.lockStore = s
	}
}

// WithRemoveValueLimit sets the initial answer to value-limit requests.
func WithRemoveValueLimit(remove bool) Option {
	return func(e *Engine) {
		e.removeLimit = remove
	}
}

// Engine mirrors the selected entity onto a Display.
type Engine struct {
	model     Model
	display   Display
	indicator LockIndicator
	logger    Logger
	metrics   *Metrics
	lockStore LockStore

	queue       *Queue
	playerQueue *Queue
	locks       *LockRegistry
	forced      *ForceRegistry
	selection   Selection
	shown       map[change.Tag]change.Value
	removeLimit bool

	handlers map[hookbus.Kind]handler
}

// New builds an engine over model.
func New(model Model, opts ...Option) *Engine {
	e := &Engine{
		model:       model,
		display:     nopDisplay{},
		logger:      nopLogger{},
		queue:       NewQueue(),
		playerQueue: NewQueue(),
		locks:       NewLockRegistry(),
		forced:      NewForceRegistry(),
		shown:       map[change.Tag]change.Value{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	e.handlers = e.dispatchTable()
	return e
}

// Attach swaps the display sink. Used when the display is constructed after
// the engine.
func (e *Engine) Attach(d Display) {
	if d == nil {
		d = nopDisplay{}
	}
	e.attach(d)
}

func (e *Engine) attach(d Display) {
	e.display = d
	e.indicator, _ = d.(LockIndicator)
}

// Selection returns the current selection.
func (e *Engine) Selection() Selection {
	return e.selection
}

// Locks exposes the lock registry for read-only inspection.
func (e *Engine) Locks() *LockRegistry {
	return e.locks
}

// Forced exposes the force registry for read-only inspection.
func (e *Engine) Forced() *ForceRegistry {
	return e.forced
}

// Pending returns the number of actions waiting in both queues.
func (e *Engine) Pending() int {
	return e.queue.Len() + e.playerQueue.Len()
}

// PendingTags lists the queued tags in drain order, entity queue first.
func (e *Engine) PendingTags() []change.Tag {
	return append(e.queue.Tags(), e.playerQueue.Tags()...)
}

// RemoveValueLimit reports the current value-limit answer.
func (e *Engine) RemoveValueLimit() bool {
	return e.removeLimit
}

// SetRemoveValueLimit changes the answer given to value-limit requests.
func (e *Engine) SetRemoveValueLimit(remove bool) {
	e.removeLimit = remove
	e.infof("mirror: value limit removal set to %t", remove)
}

// Select transitions the selection. Pending actions for the previous entity
// are discarded before anything else happens, display fields are cleared,
// and when an entity is selected every tracked tag is queued for refresh.
// Selecting the current entity again forces a full resync.
func (e *Engine) Select(ctx context.Context, entity change.Entity) {
	gen := e.queue.Swap()
	e.selection.transition(entity)
	e.shown = map[change.Tag]change.Value{}
	e.display.ClearAllFields()
	if entity.None() {
		e.display.SetControlsEnabled(false)
		e.infof("mirror: selection cleared (generation %d)", gen)
		return
	}
	e.infof("mirror: selected %s (generation %d)", entity, gen)
	e.display.SetControlsEnabled(true)
	if e.indicator != nil {
		for _, tag := range e.locks.Locked(entity) {
			e.indicator.MarkLocked(tag, true)
		}
	}
	e.Resync(ctx)
}

// Resync queues a refresh for every tracked tag of the selected entity and
// returns how many were queued.
func (e *Engine) Resync(ctx context.Context) int {
	entity, ok := e.selection.Current()
	if !ok {
		return 0
	}
	tags, err := e.model.Tracked(ctx, entity)
	if err != nil {
		e.warnf("mirror: list tracked fields of %s: %v", entity, err)
		return 0
	}
	queued := 0
	for _, tag := range tags {
		key, action, ok := e.propagation(entity, tag)
		if !ok || e.queue.Pending(key) {
			continue
		}
		if e.enqueue(e.queue, key, action) {
			queued++
		}
	}
	return queued
}

// ResyncPlayer queues a refresh for every player field.
func (e *Engine) ResyncPlayer() int {
	queued := 0
	for _, kind := range change.Kinds() {
		if !kind.Player() {
			continue
		}
		tag := change.Of(kind)
		if e.enqueue(e.playerQueue, tag, e.refreshPlayer(tag)) {
			queued++
		}
	}
	return queued
}

// Drain runs every pending action, entity queue first, then player queue,
// and signals the display once when anything ran.
func (e *Engine) Drain(ctx context.Context) DrainReport {
	start := time.Now()
	report := e.queue.Drain(ctx).merge(e.playerQueue.Drain(ctx))
	e.metrics.DrainDuration.Observe(time.Since(start).Seconds())
	e.metrics.Drained.Add(float64(report.Ran))
	e.metrics.Stale.Add(float64(report.Stale))
	e.metrics.Failed.Add(float64(len(report.Failures)))
	for _, failure := range report.Failures {
		e.warnf("mirror: refresh %s failed: %v", failure.Tag, failure.Err)
	}
	if report.Ran > 0 {
		e.display.QueueDrained()
	}
	return report
}

// SetLocked locks or unlocks tag on entity, persists the change when a lock
// store is configured, and updates the display marker when entity is shown.
func (e *Engine) SetLocked(ctx context.Context, entity change.Entity, tag change.Tag, locked bool) error {
	if entity.None() {
		return ErrNoSelection
	}
	if !tag.Valid() || tag.Kind.Aggregate() {
		return fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}
	e.locks.SetLocked(entity, tag, locked)
	e.infof("mirror: %s %s locked=%t", entity, tag, locked)
	if e.indicator != nil && e.selection.Is(entity) {
		e.indicator.MarkLocked(tag, locked)
	}
	if e.lockStore != nil {
		if err := e.lockStore.SaveLock(ctx, entity, tag, locked); err != nil {
			return fmt.Errorf("mirror: persist lock %s %s: %w", entity, tag, err)
		}
	}
	return nil
}

func (e *Engine) enqueue(q *Queue, tag change.Tag, action Action) bool {
	if q.Enqueue(tag, action) {
		e.metrics.Enqueued.Inc()
		return true
	}
	e.metrics.Coalesced.Inc()
	e.debugf("mirror: %s already queued", tag)
	return false
}

// propagation returns the queue key and refresh action for a tag of the
// selected entity. A skill or work flag and its level share the flag's key
// and one action refreshing both, so whichever notification arrives first
// covers the other.
func (e *Engine) propagation(entity change.Entity, tag change.Tag) (change.Tag, Action, bool) {
	if has, level, ok := pairOf(tag); ok {
		return has, e.refreshField(entity, has, level), true
	}
	switch {
	case tag.Kind.Aggregate():
		return tag, e.refreshExpanded(entity, tag), true
	case tag.Valid() && !tag.Kind.Player():
		return tag, e.refreshField(entity, tag), true
	default:
		return change.Tag{}, nil, false
	}
}

// pairOf maps a skill or work row onto its flag and level tags.
func pairOf(tag change.Tag) (has, level change.Tag, ok bool) {
	if !tag.HasIndex() || tag.Index < 0 {
		return change.Tag{}, change.Tag{}, false
	}
	switch tag.Kind {
	case change.HasSkill, change.SkillLevel:
		return change.At(change.HasSkill, tag.Index), change.At(change.SkillLevel, tag.Index), true
	case change.HasWork, change.WorkLevel:
		return change.At(change.HasWork, tag.Index), change.At(change.WorkLevel, tag.Index), true
	}
	return change.Tag{}, change.Tag{}, false
}

func (e *Engine) refreshField(entity change.Entity, tags ...change.Tag) Action {
	return func(ctx context.Context) error {
		if !e.selection.Is(entity) {
			e.debugf("mirror: skip refresh of %v for deselected %s", tags, entity)
			return nil
		}
		for _, tag := range tags {
			v, err := e.model.Read(ctx, entity, tag)
			if err != nil {
				return fmt.Errorf("read %s: %w", tag, err)
			}
			e.show(tag, v)
		}
		return nil
	}
}

func (e *Engine) refreshExpanded(entity change.Entity, aggregate change.Tag) Action {
	return func(ctx context.Context) error {
		if !e.selection.Is(entity) {
			return nil
		}
		tags, err := e.model.Expand(ctx, entity, aggregate)
		if err != nil {
			return fmt.Errorf("expand %s: %w", aggregate, err)
		}
		return e.refreshField(entity, tags...)(ctx)
	}
}

func (e *Engine) refreshPlayer(tag change.Tag) Action {
	return func(ctx context.Context) error {
		v, err := e.model.Read(ctx, "", tag)
		if err != nil {
			return fmt.Errorf("read %s: %w", tag, err)
		}
		e.show(tag, v)
		return nil
	}
}

// show pushes v unless the display already holds it.
func (e *Engine) show(tag change.Tag, v change.Value) {
	if prev, ok := e.shown[tag]; ok && prev.Equal(v) {
		return
	}
	e.shown[tag] = v
	e.display.RefreshField(tag, v)
}

// readBack forgets what the display holds for tag and queues a refresh, so
// the authoritative value replaces whatever the widget shows.
func (e *Engine) readBack(entity change.Entity, tag change.Tag) {
	delete(e.shown, tag)
	if tag.Kind.Player() {
		e.enqueue(e.playerQueue, tag, e.refreshPlayer(tag))
		return
	}
	if key, action, ok := e.propagation(entity, tag); ok {
		e.enqueue(e.queue, key, action)
	}
}

func (e *Engine) debugf(format string, args ...any) {
	if l, ok := e.logger.(debugLogger); ok {
		l.Debugf(format, args...)
	}
}

func (e *Engine) infof(format string, args ...any) {
	e.logger.Printf(format, args...)
}

func (e *Engine) warnf(format string, args ...any) {
	if l, ok := e.logger.(warnLogger); ok {
		l.Warnf(format, args...)
		return
	}
	e.logger.Printf(format, args...)
}
