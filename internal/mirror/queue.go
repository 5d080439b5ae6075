package mirror

import (
	"context"
	"fmt"

	"github.com/kingrea/maidsync/internal/change"
)

// Action performs one propagation step. It must read current domain state
// when it runs, never a snapshot taken at enqueue time.
type Action func(ctx context.Context) error

type pending struct {
	action Action
	gen    uint64
}

// Queue holds at most one pending action per tag and drains them in
// insertion order. Every entry is stamped with the generation current when
// it was enqueued; Swap advances the generation so nothing enqueued before
// it can run afterwards.
type Queue struct {
	order   []change.Tag
	entries map[change.Tag]pending
	gen     uint64
}

// NewQueue returns an empty queue at generation zero.
func NewQueue() *Queue {
	return &Queue{entries: map[change.Tag]pending{}}
}

// Enqueue inserts action for tag unless one is already pending, in which case
// the call is coalesced and reports false.
func (q *Queue) Enqueue(tag change.Tag, action Action) bool {
	if action == nil {
		return false
	}
	if _, ok := q.entries[tag]; ok {
		return false
	}
	q.entries[tag] = pending{action: action, gen: q.gen}
	q.order = append(q.order, tag)
	return true
}

// Pending reports whether an action for tag is waiting.
func (q *Queue) Pending(tag change.Tag) bool {
	_, ok := q.entries[tag]
	return ok
}

// Len returns the number of pending actions.
func (q *Queue) Len() int {
	return len(q.order)
}

// Tags returns pending tags in drain order.
func (q *Queue) Tags() []change.Tag {
	out := make([]change.Tag, len(q.order))
	copy(out, q.order)
	return out
}

// Generation returns the active generation.
func (q *Queue) Generation() uint64 {
	return q.gen
}

// Clear discards every pending action without running it.
func (q *Queue) Clear() {
	q.order = nil
	q.entries = map[change.Tag]pending{}
}

// Swap makes the next generation active and clears the queue before
// returning. A drain already in progress skips the rest of its batch.
func (q *Queue) Swap() uint64 {
	q.gen++
	q.Clear()
	return q.gen
}

// Failure records one action that returned an error or panicked.
type Failure struct {
	Tag change.Tag
	Err error
}

// DrainReport summarizes one drain.
type DrainReport struct {
	Ran      int
	Stale    int
	Failures []Failure
}

// Empty reports whether the drain touched nothing.
func (r DrainReport) Empty() bool {
	return r.Ran == 0 && r.Stale == 0
}

func (r DrainReport) merge(other DrainReport) DrainReport {
	r.Ran += other.Ran
	r.Stale += other.Stale
	r.Failures = append(r.Failures, other.Failures...)
	return r
}

// Drain runs and removes every pending action in insertion order. A failing
// action does not stop the drain. Actions enqueued while draining wait for
// the next drain.
func (q *Queue) Drain(ctx context.Context) DrainReport {
	batch := q.order
	entries := q.entries
	q.order = nil
	q.entries = map[change.Tag]pending{}

	var report DrainReport
	for _, tag := range batch {
		entry := entries[tag]
		if entry.gen != q.gen {
			report.Stale++
			continue
		}
		report.Ran++
		if err := run(ctx, entry.action); err != nil {
			report.Failures = append(report.Failures, Failure{Tag: tag, Err: err})
		}
	}
	return report
}

func run(ctx context.Context, action Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mirror: action panicked: %v", r)
		}
	}()
	return action(ctx)
}
