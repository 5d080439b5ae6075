package mirror

import (
	"context"
	"errors"
	"testing"

	"github.com/kingrea/maidsync/internal/change"
)

func TestQueueCoalescesSameTag(t *testing.T) {
	q := NewQueue()
	runs := 0
	action := func(context.Context) error { runs++; return nil }
	if !q.Enqueue(change.At(change.SkillLevel, 7), action) {
		t.Fatalf("first enqueue must insert")
	}
	for i := 0; i < 10; i++ {
		if q.Enqueue(change.At(change.SkillLevel, 7), action) {
			t.Fatalf("enqueue %d should coalesce", i)
		}
	}
	report := q.Drain(context.Background())
	if report.Ran != 1 || runs != 1 {
		t.Fatalf("ran %d actions (%d calls), want 1", report.Ran, runs)
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty after drain")
	}
}

func TestQueueDrainsInInsertionOrder(t *testing.T) {
	q := NewQueue()
	var got []change.Tag
	tags := []change.Tag{change.Of(change.Love), change.Of(change.Hp), change.At(change.WorkLevel, 2), change.Of(change.FirstName)}
	for _, tag := range tags {
		tag := tag
		q.Enqueue(tag, func(context.Context) error { got = append(got, tag); return nil })
	}
	q.Enqueue(change.Of(change.Hp), func(context.Context) error { return nil })
	pending := q.Tags()
	if len(pending) != len(tags) {
		t.Fatalf("pending tags = %v, want %v", pending, tags)
	}
	for i := range tags {
		if pending[i] != tags[i] {
			t.Fatalf("pending position %d = %s, want %s", i, pending[i], tags[i])
		}
	}
	q.Drain(context.Background())
	if len(q.Tags()) != 0 {
		t.Fatalf("tags left after drain: %v", q.Tags())
	}
	for i := range tags {
		if got[i] != tags[i] {
			t.Fatalf("position %d = %s, want %s", i, got[i], tags[i])
		}
	}
}

func TestQueueFailuresDoNotStopDrain(t *testing.T) {
	q := NewQueue()
	ran := 0
	q.Enqueue(change.Of(change.Hp), func(context.Context) error { return errors.New("read failed") })
	q.Enqueue(change.Of(change.Mind), func(context.Context) error { panic("widget gone") })
	q.Enqueue(change.Of(change.Love), func(context.Context) error { ran++; return nil })
	report := q.Drain(context.Background())
	if ran != 1 {
		t.Fatalf("action after failures did not run")
	}
	if len(report.Failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(report.Failures))
	}
	if report.Failures[0].Tag != change.Of(change.Hp) || report.Failures[1].Tag != change.Of(change.Mind) {
		t.Fatalf("failures not tagged in order: %+v", report.Failures)
	}
}

func TestQueueClearDiscardsWithoutRunning(t *testing.T) {
	q := NewQueue()
	q.Enqueue(change.Of(change.Hp), func(context.Context) error {
		t.Fatalf("cleared action must not run")
		return nil
	})
	q.Clear()
	if report := q.Drain(context.Background()); !report.Empty() {
		t.Fatalf("expected empty drain, got %+v", report)
	}
}

func TestQueueSwapDuringDrainSkipsRemainder(t *testing.T) {
	q := NewQueue()
	ran := 0
	q.Enqueue(change.Of(change.Hp), func(context.Context) error {
		q.Swap()
		return nil
	})
	q.Enqueue(change.Of(change.Mind), func(context.Context) error { ran++; return nil })
	report := q.Drain(context.Background())
	if ran != 0 {
		t.Fatalf("action from the superseded generation ran")
	}
	if report.Ran != 1 || report.Stale != 1 {
		t.Fatalf("report = %+v, want 1 ran 1 stale", report)
	}
	if q.Generation() != 1 {
		t.Fatalf("generation = %d, want 1", q.Generation())
	}
}

func TestQueueEnqueueDuringDrainWaitsForNextDrain(t *testing.T) {
	q := NewQueue()
	second := 0
	q.Enqueue(change.Of(change.Hp), func(context.Context) error {
		q.Enqueue(change.Of(change.Hp), func(context.Context) error { second++; return nil })
		return nil
	})
	q.Drain(context.Background())
	if second != 0 || q.Len() != 1 {
		t.Fatalf("re-enqueued action should be pending, ran=%d len=%d", second, q.Len())
	}
	q.Drain(context.Background())
	if second != 1 {
		t.Fatalf("re-enqueued action never ran")
	}
}

func TestQueueRejectsNilAction(t *testing.T) {
	q := NewQueue()
	if q.Enqueue(change.Of(change.Hp), nil) {
		t.Fatalf("nil action must be rejected")
	}
	if q.Pending(change.Of(change.Hp)) {
		t.Fatalf("nil action must not occupy the tag")
	}
}
