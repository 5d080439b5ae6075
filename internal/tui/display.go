package tui

import (
	"context"
	"sort"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/maidsync/internal/change"
	"github.com/kingrea/maidsync/internal/mirror"
)

// lockFlash is how long a vetoed field shows its "locked" badge.
const lockFlash = 1500 * time.Millisecond

// invokeMsg carries work posted to the consumer. Update runs it inline.
type invokeMsg struct {
	fn func(ctx context.Context)
}

// ProgramPoster posts hookbus work onto a running bubbletea program so the
// Update loop is the consumer goroutine.
type ProgramPoster struct {
	mu      sync.RWMutex
	program *tea.Program
	closed  bool
}

// Bind attaches the program. Posts before Bind are refused.
func (p *ProgramPoster) Bind(program *tea.Program) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.program = program
}

// Close refuses further posts. Call it once the program has returned.
func (p *ProgramPoster) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Post implements hookbus.Poster. It must never be called from Update.
func (p *ProgramPoster) Post(fn func(ctx context.Context)) bool {
	p.mu.RLock()
	program, closed := p.program, p.closed
	p.mu.RUnlock()
	if closed || program == nil {
		return false
	}
	program.Send(invokeMsg{fn: fn})
	return true
}

type field struct {
	value      change.Value
	locked     bool
	flashUntil time.Time
}

// RefreshField implements mirror.Display. A changed value fires the widget's
// change event as a programmatic one.
func (a *App) RefreshField(tag change.Tag, v change.Value) {
	if tag.Kind.Player() {
		a.player[tag] = v
		return
	}
	f := a.field(tag)
	prev := f.value
	f.value = v
	if prev.Equal(v) {
		return
	}
	if err := a.engine.FieldChanged(a.ctx, mirror.FieldChange{Tag: tag, Raw: v.String(), Origin: mirror.OriginProgrammatic}); err != nil {
		a.logbook.Failed(a.selected(), tag, err)
	}
}

// ClearAllFields implements mirror.Display. The player header is not scoped
// to the selection and survives.
func (a *App) ClearAllFields() {
	a.fields = map[change.Tag]*field{}
	a.order = nil
	a.cursor = 0
	a.editing = false
	a.editor.Blur()
}

// SetControlsEnabled implements mirror.Display.
func (a *App) SetControlsEnabled(enabled bool) {
	a.controls = enabled
	if !enabled {
		a.editing = false
		a.editor.Blur()
	}
}

// QueueDrained implements mirror.Display.
func (a *App) QueueDrained() {
	a.drains++
}

// MarkLocked implements mirror.LockIndicator.
func (a *App) MarkLocked(tag change.Tag, locked bool) {
	a.field(tag).locked = locked
}

// ShowLocked implements mirror.LockIndicator.
func (a *App) ShowLocked(tag change.Tag) {
	a.field(tag).flashUntil = a.clock().Add(lockFlash)
	a.logbook.Vetoed(a.selected(), tag)
}

func (a *App) field(tag change.Tag) *field {
	if f, ok := a.fields[tag]; ok {
		return f
	}
	f := &field{}
	a.fields[tag] = f
	idx := sort.Search(len(a.order), func(i int) bool { return !a.order[i].Less(tag) })
	a.order = append(a.order, change.Tag{})
	copy(a.order[idx+1:], a.order[idx:])
	a.order[idx] = tag
	return f
}
