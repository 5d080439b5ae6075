package hookbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/maidsync/internal/change"
)

// Kind names the hook a notification was raised from.
type Kind string

const (
	// KindStatusChanged is raised before a field assignment and may be vetoed.
	KindStatusChanged Kind = "status_changed"
	// KindStatusChangedID reports an indexed field change after the fact.
	KindStatusChangedID Kind = "status_changed_id"
	// KindClassUpdated reports a maid and/or yotogi class recomputation.
	KindClassUpdated Kind = "class_updated"
	// KindPropertyAdded reports a newly acquired skill or work.
	KindPropertyAdded Kind = "property_added"
	// KindPropertyRemoved reports a lost skill or work.
	KindPropertyRemoved Kind = "property_removed"
	// KindStatusUpdated reports a misc status (feature, propensity) update.
	KindStatusUpdated Kind = "status_updated"
	// KindFeaturePropensityUpdated reports a bulk feature or propensity pass.
	KindFeaturePropensityUpdated Kind = "feature_propensity_updated"
	// KindWorkEnabledCheck asks whether a work slot is force-enabled.
	KindWorkEnabledCheck Kind = "work_enabled_check"
	// KindPlayerValueChanged reports a player record change.
	KindPlayerValueChanged Kind = "player_value_changed"
	// KindValueLimit asks whether values should be clamped.
	KindValueLimit Kind = "value_limit"
)

// Requests reports whether raisers of this kind wait for a Reply.
func (k Kind) Requests() bool {
	switch k {
	case KindStatusChanged, KindWorkEnabledCheck, KindValueLimit:
		return true
	}
	return false
}

// EntityScoped reports whether the notification must name an entity.
func (k Kind) EntityScoped() bool {
	switch k {
	case KindPlayerValueChanged, KindValueLimit:
		return false
	}
	return true
}

// Notification is one hook raised by the domain model.
type Notification struct {
	ID       string        `json:"id"`
	Kind     Kind          `json:"kind"`
	Entity   change.Entity `json:"entity,omitempty"`
	Tag      change.Tag    `json:"tag"`
	Value    change.Value  `json:"value"`
	HasValue bool          `json:"has_value,omitempty"`
	Raised   time.Time     `json:"raised"`
}

// Normalize trims identifiers, stamps a fresh ID when none was supplied and
// records the raise time.
func (n *Notification) Normalize(now time.Time) {
	if n == nil {
		return
	}
	n.ID = strings.TrimSpace(n.ID)
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.Kind = Kind(strings.ToLower(strings.TrimSpace(string(n.Kind))))
	n.Entity = change.Entity(strings.TrimSpace(string(n.Entity)))
	if !n.Value.IsZero() {
		n.HasValue = true
	}
	if n.Raised.IsZero() {
		if now.IsZero() {
			now = time.Now()
		}
		n.Raised = now.UTC()
	}
}

// Validate enforces baseline shape requirements. Whether a handler exists
// for the tag is the dispatcher's concern, not the bus's.
func (n Notification) Validate() error {
	if n.Kind == "" {
		return errors.New("kind is required")
	}
	if n.Kind.EntityScoped() && n.Entity.None() {
		return fmt.Errorf("%s requires an entity", n.Kind)
	}
	if n.Kind != KindValueLimit && !n.Tag.Kind.Valid() {
		return fmt.Errorf("%s requires a tag", n.Kind)
	}
	return nil
}

// Reply carries the consumer's answer back to the raiser: the veto_out of a
// pre-write notification plus the answers to the request kinds.
type Reply struct {
	Handled      bool `json:"handled"`
	Veto         bool `json:"veto"`
	ForceEnabled bool `json:"force_enabled"`
	RemoveLimit  bool `json:"remove_limit"`
}

// Dispatcher consumes notifications on the consumer goroutine.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) Reply
}

// DispatcherFunc adapts a function into a Dispatcher.
type DispatcherFunc func(ctx context.Context, n Notification) Reply

// Dispatch executes f(ctx, n).
func (f DispatcherFunc) Dispatch(ctx context.Context, n Notification) Reply {
	if f == nil {
		return Reply{}
	}
	return f(ctx, n)
}

// Logger records bus diagnostics. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}
