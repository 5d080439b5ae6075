// Package logbook keeps the user-facing journal of a maidsync session: which
// maid was selected, what was edited, which fields were locked and which
// writes the locks refused. Entries are JSON lines so the TUI footer can
// render and color them by kind.
package logbook

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/maidsync/internal/change"
)

// Level is the severity shown next to an entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Action says what an entry records.
type Action string

const (
	ActionSession Action = "session"
	ActionSelect  Action = "select"
	ActionEdit    Action = "edit"
	ActionReject  Action = "reject"
	ActionForce   Action = "force"
	ActionLock    Action = "lock"
	ActionUnlock  Action = "unlock"
	ActionVeto    Action = "veto"
	ActionLimit   Action = "limit"
	ActionError   Action = "error"
)

// Level returns the severity of a.
func (a Action) Level() Level {
	switch a {
	case ActionReject, ActionVeto:
		return LevelWarn
	case ActionError:
		return LevelError
	default:
		return LevelInfo
	}
}

// Entry is one journal line. Entity and Tag are empty for session-wide
// entries.
type Entry struct {
	Time   time.Time     `json:"time"`
	Action Action        `json:"action"`
	Entity change.Entity `json:"entity,omitempty"`
	Tag    change.Tag    `json:"tag"`
	Detail string        `json:"detail,omitempty"`
}

// Level returns the entry's severity.
func (e Entry) Level() Level {
	return e.Action.Level()
}

// String renders the entry for the footer: time, severity, action, subject
// and detail.
func (e Entry) String() string {
	parts := []string{e.Time.Local().Format("15:04:05"), fmt.Sprintf("%-5s", e.Level()), string(e.Action)}
	if !e.Entity.None() {
		parts = append(parts, string(e.Entity))
	}
	if e.Tag != (change.Tag{}) {
		parts = append(parts, e.Tag.String())
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	return strings.Join(parts, " ")
}

// Option customizes a Logbook.
type Option func(*Logbook)

// WithClock stamps entries with clock instead of time.Now.
func WithClock(clock func() time.Time) Option {
	return func(l *Logbook) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// Logbook appends entries to a JSON-lines file.
type Logbook struct {
	path  string
	clock func() time.Time
	mu    sync.Mutex
}

// New creates a logbook writing to path.
func New(path string, opts ...Option) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	l := &Logbook{path: path, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Record appends e, stamping it when Time is unset. Write failures are
// dropped; the journal never blocks the session.
func (l *Logbook) Record(e Entry) {
	if l == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = l.clock()
	}
	e.Time = e.Time.UTC()
	e.Detail = strings.TrimSpace(e.Detail)
	line, err := json.Marshal(e)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.Write(append(line, '\n'))
}

// Recent returns up to n of the newest entries, oldest first, and the total
// number of entries. Lines that do not decode are skipped.
func (l *Logbook) Recent(n int) ([]Entry, int) {
	if l == nil || n <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var entries []Entry
	total := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		total++
		entries = append(entries, e)
		if len(entries) > n {
			entries = entries[1:]
		}
	}
	if total == 0 {
		return nil, 0
	}
	return entries, total
}

// Session records a session-wide note.
func (l *Logbook) Session(format string, args ...any) {
	l.Record(Entry{Action: ActionSession, Detail: fmt.Sprintf(format, args...)})
}

// Selected records a selection change; an empty entity clears it.
func (l *Logbook) Selected(entity change.Entity) {
	detail := ""
	if entity.None() {
		detail = "cleared"
	}
	l.Record(Entry{Action: ActionSelect, Entity: entity, Detail: detail})
}

// Edited records a user edit that reached the model.
func (l *Logbook) Edited(entity change.Entity, tag change.Tag, raw string) {
	l.Record(Entry{Action: ActionEdit, Entity: entity, Tag: tag, Detail: "= " + strings.TrimSpace(raw)})
}

// Rejected records a user edit the engine refused.
func (l *Logbook) Rejected(entity change.Entity, tag change.Tag, err error) {
	l.Record(Entry{Action: ActionReject, Entity: entity, Tag: tag, Detail: errText(err)})
}

// Forced records a force-enable toggle.
func (l *Logbook) Forced(entity change.Entity, tag change.Tag, on bool) {
	l.Record(Entry{Action: ActionForce, Entity: entity, Tag: tag, Detail: fmt.Sprintf("= %t", on)})
}

// Locked records a lock or unlock.
func (l *Logbook) Locked(entity change.Entity, tag change.Tag, locked bool) {
	action := ActionUnlock
	if locked {
		action = ActionLock
	}
	l.Record(Entry{Action: action, Entity: entity, Tag: tag})
}

// Vetoed records a write refused because its field is locked.
func (l *Logbook) Vetoed(entity change.Entity, tag change.Tag) {
	l.Record(Entry{Action: ActionVeto, Entity: entity, Tag: tag, Detail: "locked"})
}

// LimitChanged records the value-limit toggle.
func (l *Logbook) LimitChanged(remove bool) {
	detail := "limits apply"
	if remove {
		detail = "limits removed"
	}
	l.Record(Entry{Action: ActionLimit, Detail: detail})
}

// Failed records an error with no better home.
func (l *Logbook) Failed(entity change.Entity, tag change.Tag, err error) {
	l.Record(Entry{Action: ActionError, Entity: entity, Tag: tag, Detail: errText(err)})
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
