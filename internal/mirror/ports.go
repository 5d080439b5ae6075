package mirror

import (
	"context"
	"errors"

	"github.com/kingrea/maidsync/internal/change"
)

var (
	// ErrNoSelection reports an edit attempted while nothing is selected.
	ErrNoSelection = errors.New("mirror: no entity selected")
	// ErrLocked reports an edit vetoed by the lock registry.
	ErrLocked = errors.New("mirror: value locked")
	// ErrTypeMismatch reports an edit whose raw value does not fit the field.
	ErrTypeMismatch = change.ErrTypeMismatch
	// ErrUnknownTag reports a tag with no propagation handler.
	ErrUnknownTag = errors.New("mirror: no handler for tag")
)

// Model is the domain model seen from the engine. Reads must be free of side
// effects: coalescing relies on a drain-time read standing in for every
// notification it absorbed.
type Model interface {
	// Read returns the authoritative value of tag. Player tags ignore entity.
	Read(ctx context.Context, entity change.Entity, tag change.Tag) (change.Value, error)
	// Write assigns v to tag. The model may raise notifications while doing so.
	Write(ctx context.Context, entity change.Entity, tag change.Tag, v change.Value) error
	// Tracked lists every field tag the display mirrors for entity.
	Tracked(ctx context.Context, entity change.Entity) ([]change.Tag, error)
	// Expand lists the field tags covered by an aggregate tag, or by a bare
	// indexed kind such as Of(Feature).
	Expand(ctx context.Context, entity change.Entity, tag change.Tag) ([]change.Tag, error)
}

// Display is the sink the engine refreshes. All calls happen on the consumer
// goroutine.
type Display interface {
	RefreshField(tag change.Tag, v change.Value)
	ClearAllFields()
	SetControlsEnabled(enabled bool)
	QueueDrained()
}

// LockIndicator is implemented by displays that mark locked fields.
type LockIndicator interface {
	// MarkLocked sets the persistent lock marker of a field.
	MarkLocked(tag change.Tag, locked bool)
	// ShowLocked flashes a momentary "locked" indication after a veto.
	ShowLocked(tag change.Tag)
}

// LockStore persists lock and force flags.
type LockStore interface {
	SaveLock(ctx context.Context, entity change.Entity, tag change.Tag, locked bool) error
}

// Logger records engine diagnostics. It matches logging.Logger's signature;
// loggers that also provide Debugf and Warnf get leveled output.
type Logger interface {
	Printf(format string, args ...any)
}

type debugLogger interface {
	Debugf(format string, args ...any)
}

type warnLogger interface {
	Warnf(format string, args ...any)
}

// Origin says who produced a display change event.
type Origin int

const (
	// OriginProgrammatic marks a change event caused by the engine's own refresh.
	OriginProgrammatic Origin = iota
	// OriginUser marks a change event caused by the user editing the field.
	OriginUser
)

func (o Origin) String() string {
	if o == OriginUser {
		return "user"
	}
	return "programmatic"
}

// FieldChange is a display widget's "value changed" event.
type FieldChange struct {
	Tag    change.Tag
	Raw    string
	Origin Origin
}

type nopDisplay struct{}

func (nopDisplay) RefreshField(change.Tag, change.Value) {}
func (nopDisplay) ClearAllFields()                       {}
func (nopDisplay) SetControlsEnabled(bool)               {}
func (nopDisplay) QueueDrained()                         {}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
