// internal/tui/app.go
//
// The terminal front end for maidsync. It follows The Elm Architecture and
// doubles as the mirror engine's display: bubbletea's Update loop is the one
// goroutine allowed to touch the engine, so hook notifications raised
// elsewhere arrive here as invokeMsg values and run inline.

package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/maidsync/internal/change"
	"github.com/kingrea/maidsync/internal/hookbus"
	"github.com/kingrea/maidsync/internal/logbook"
	"github.com/kingrea/maidsync/internal/maid"
	"github.com/kingrea/maidsync/internal/mirror"
)

const defaultDrainInterval = 50 * time.Millisecond

// Engine is the part of *mirror.Engine the UI drives. Every method is called
// from Update.
type Engine interface {
	Attach(d mirror.Display)
	Select(ctx context.Context, entity change.Entity)
	Resync(ctx context.Context) int
	ResyncPlayer() int
	Drain(ctx context.Context) mirror.DrainReport
	FieldChanged(ctx context.Context, fc mirror.FieldChange) error
	SetLocked(ctx context.Context, entity change.Entity, tag change.Tag, locked bool) error
	SetForced(ctx context.Context, entity change.Entity, tag change.Tag, forced bool) error
	Selection() mirror.Selection
	RemoveValueLimit() bool
	SetRemoveValueLimit(remove bool)
}

// Roster lists the maids available for selection.
type Roster interface {
	Roster() []maid.Summary
}

type focus int

const (
	focusRoster focus = iota
	focusFields
)

type drainTickMsg struct{}

type startMsg struct{}

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithLogbook shows and appends to the given logbook.
func WithLogbook(lb *logbook.Logbook) AppOption {
	return func(a *App) {
		a.logbook = lb
	}
}

// WithNameStyle sets how roster names are rendered.
func WithNameStyle(style maid.NameStyle) AppOption {
	return func(a *App) {
		a.style = style
	}
}

// WithDrainInterval sets how often the engine queue is drained.
func WithDrainInterval(d time.Duration) AppOption {
	return func(a *App) {
		if d > 0 {
			a.drainEvery = d
		}
	}
}

// WithValueLimitHook is called after the user flips the value-limit answer,
// typically to persist it.
func WithValueLimitHook(fn func(remove bool) error) AppOption {
	return func(a *App) {
		a.onValueLimit = fn
	}
}

// WithClock allows tests to control time.
func WithClock(clock func() time.Time) AppOption {
	return func(a *App) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// App is the main application model.
type App struct {
	ctx          context.Context
	engine       Engine
	roster       Roster
	logbook      *logbook.Logbook
	style        maid.NameStyle
	drainEvery   time.Duration
	onValueLimit func(bool) error
	clock        func() time.Time

	keys     keyMap
	help     help.Model
	maids    list.Model
	editor   textinput.Model
	editing  bool
	focus    focus
	showHelp bool

	fields   map[change.Tag]*field
	order    []change.Tag
	player   map[change.Tag]change.Value
	cursor   int
	controls bool
	drains   int

	statusMsg string
	width     int
	height    int
}

type maidItem struct {
	summary maid.Summary
	style   maid.NameStyle
}

func (i maidItem) Title() string { return i.summary.Name(i.style) }
func (i maidItem) Description() string {
	parts := []string{string(i.summary.ID)}
	if nick := strings.TrimSpace(i.summary.Nickname); nick != "" {
		parts = append(parts, "“"+nick+"”")
	}
	if !i.summary.Employed {
		parts = append(parts, "not employed")
	}
	return strings.Join(parts, " · ")
}
func (i maidItem) FilterValue() string { return i.summary.Name(i.style) }

// NewApp builds the UI and attaches it to engine as its display. ctx is the
// base context for everything Update runs; it is marked as the consumer's.
func NewApp(ctx context.Context, engine Engine, roster Roster, opts ...AppOption) *App {
	maids := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	maids.Title = "Maids"
	maids.SetShowStatusBar(false)
	maids.SetShowHelp(false)
	maids.SetFilteringEnabled(false)
	maids.SetSize(30, 20)

	editor := textinput.New()
	editor.Prompt = "› "
	editor.CharLimit = 64

	a := &App{
		ctx:        hookbus.WithinConsumer(ctx),
		engine:     engine,
		roster:     roster,
		style:      maid.FirstLast,
		drainEvery: defaultDrainInterval,
		clock:      time.Now,
		keys:       defaultKeyMap(),
		help:       help.New(),
		maids:      maids,
		editor:     editor,
		fields:     map[change.Tag]*field{},
		player:     map[change.Tag]change.Value{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.reloadRoster()
	engine.Attach(a)
	return a
}

func (a *App) reloadRoster() {
	if a.roster == nil {
		return
	}
	summaries := a.roster.Roster()
	items := make([]list.Item, len(summaries))
	for i, s := range summaries {
		items[i] = maidItem{summary: s, style: a.style}
	}
	idx := a.maids.Index()
	a.maids.SetItems(items)
	if idx < len(items) {
		a.maids.Select(idx)
	}
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return startMsg{} },
		a.scheduleDrain(),
	)
}

func (a *App) scheduleDrain() tea.Cmd {
	return tea.Tick(a.drainEvery, func(time.Time) tea.Msg { return drainTickMsg{} })
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case invokeMsg:
		if msg.fn != nil {
			msg.fn(a.ctx)
		}
		return a, nil

	case startMsg:
		a.engine.ResyncPlayer()
		a.logbook.Session("opened with %d maids on the roster", len(a.maids.Items()))
		return a, nil

	case drainTickMsg:
		a.engine.Drain(a.ctx)
		return a, a.scheduleDrain()

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.maids.SetSize(max(20, msg.Width/3-4), max(5, msg.Height-14))
		a.help.Width = msg.Width
		return a, nil

	case tea.KeyMsg:
		if a.editing {
			return a.updateEditor(msg)
		}
		switch {
		case key.Matches(msg, a.keys.quit):
			return a, tea.Quit
		case key.Matches(msg, a.keys.help):
			a.showHelp = !a.showHelp
			a.help.ShowAll = a.showHelp
			return a, nil
		case key.Matches(msg, a.keys.focus):
			if a.focus == focusRoster && a.controls {
				a.focus = focusFields
			} else {
				a.focus = focusRoster
			}
			return a, nil
		case key.Matches(msg, a.keys.deselect):
			a.selectMaid("")
			return a, nil
		case key.Matches(msg, a.keys.resync):
			a.reloadRoster()
			queued := a.engine.Resync(a.ctx) + a.engine.ResyncPlayer()
			a.statusMsg = fmt.Sprintf("Resync queued %d fields", queued)
			return a, nil
		case key.Matches(msg, a.keys.valueLimit):
			a.toggleValueLimit()
			return a, nil
		}
		if a.focus == focusFields {
			return a.updateFields(msg)
		}
		if key.Matches(msg, a.keys.selectMaid) {
			if item, ok := a.maids.SelectedItem().(maidItem); ok {
				a.selectMaid(item.summary.ID)
			}
			return a, nil
		}
	}

	if a.focus == focusRoster {
		var cmd tea.Cmd
		a.maids, cmd = a.maids.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) selectMaid(id change.Entity) {
	a.engine.Select(a.ctx, id)
	if id.None() {
		a.focus = focusRoster
		a.statusMsg = "Selection cleared"
		a.logbook.Selected(id)
		return
	}
	a.focus = focusFields
	a.statusMsg = fmt.Sprintf("Selected %s", id)
	a.logbook.Selected(id)
}

func (a *App) updateFields(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.up):
		if a.cursor > 0 {
			a.cursor--
		}
	case key.Matches(msg, a.keys.down):
		if a.cursor < len(a.order)-1 {
			a.cursor++
		}
	case key.Matches(msg, a.keys.edit):
		tag, f, ok := a.current()
		if !ok || !a.controls {
			return a, nil
		}
		a.editing = true
		a.editor.SetValue(f.value.String())
		a.editor.CursorEnd()
		a.statusMsg = fmt.Sprintf("Editing %s", tag)
		return a, a.editor.Focus()
	case key.Matches(msg, a.keys.toggle):
		a.toggleCurrent()
	case key.Matches(msg, a.keys.lock):
		a.toggleLock()
	}
	return a, nil
}

func (a *App) updateEditor(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		a.editing = false
		a.editor.Blur()
		a.statusMsg = "Edit cancelled"
		return a, nil
	case tea.KeyEnter:
		a.editing = false
		a.editor.Blur()
		if tag, _, ok := a.current(); ok {
			a.commit(tag, a.editor.Value())
		}
		return a, nil
	}
	var cmd tea.Cmd
	a.editor, cmd = a.editor.Update(msg)
	return a, cmd
}

// commit feeds a user edit to the engine as the widget's change event.
func (a *App) commit(tag change.Tag, raw string) {
	err := a.engine.FieldChanged(a.ctx, mirror.FieldChange{Tag: tag, Raw: raw, Origin: mirror.OriginUser})
	if err != nil {
		a.editFailed(tag, err)
		return
	}
	// The widget holds what the user typed; a clamped write is corrected by
	// the next drain.
	if v, err := change.Classify(tag.Kind, raw); err == nil {
		a.field(tag).value = v
	}
	a.statusMsg = fmt.Sprintf("%s set to %s", tag, strings.TrimSpace(raw))
	a.logbook.Edited(a.selected(), tag, raw)
}

func (a *App) editFailed(tag change.Tag, err error) {
	switch {
	case errors.Is(err, mirror.ErrLocked):
		a.statusMsg = fmt.Sprintf("%s is locked", tag)
	case errors.Is(err, change.ErrTypeMismatch):
		a.statusMsg = fmt.Sprintf("%s expects a %s", tag, tag.Kind.ValueType())
	default:
		a.statusMsg = fmt.Sprintf("Edit of %s failed: %v", tag, err)
	}
	// Locked edits were journaled by ShowLocked.
	if !errors.Is(err, mirror.ErrLocked) {
		a.logbook.Rejected(a.selected(), tag, err)
	}
}

// toggleCurrent flips a boolean field. Work-forced slots go through the
// force registry so the model can be asked about them later.
func (a *App) toggleCurrent() {
	tag, f, ok := a.current()
	if !ok || !a.controls || tag.Kind.ValueType() != change.TypeBool {
		return
	}
	on, _ := f.value.AsBool()
	switch tag.Kind {
	case change.NoonWorkForced, change.NightWorkForced:
		entity, _ := a.engine.Selection().Current()
		if err := a.engine.SetForced(a.ctx, entity, tag, !on); err != nil {
			a.editFailed(tag, err)
			return
		}
		f.value = change.Bool(!on)
		a.statusMsg = fmt.Sprintf("%s forced=%t", tag, !on)
		a.logbook.Forced(entity, tag, !on)
	default:
		a.commit(tag, fmt.Sprint(!on))
	}
}

func (a *App) toggleLock() {
	tag, f, ok := a.current()
	if !ok {
		return
	}
	entity, selected := a.engine.Selection().Current()
	if !selected {
		return
	}
	if err := a.engine.SetLocked(a.ctx, entity, tag, !f.locked); err != nil {
		a.statusMsg = fmt.Sprintf("Lock %s failed: %v", tag, err)
		a.logbook.Failed(entity, tag, err)
		return
	}
	state := "unlocked"
	if f.locked {
		state = "locked"
	}
	a.statusMsg = fmt.Sprintf("%s %s", tag, state)
	a.logbook.Locked(entity, tag, f.locked)
}

func (a *App) toggleValueLimit() {
	remove := !a.engine.RemoveValueLimit()
	a.engine.SetRemoveValueLimit(remove)
	a.statusMsg = fmt.Sprintf("Value limits removed: %t", remove)
	a.logbook.LimitChanged(remove)
	if a.onValueLimit != nil {
		if err := a.onValueLimit(remove); err != nil {
			a.logbook.Failed("", change.Tag{}, fmt.Errorf("persist value limit: %w", err))
		}
	}
}

func (a *App) selected() change.Entity {
	entity, _ := a.engine.Selection().Current()
	return entity
}

func (a *App) current() (change.Tag, *field, bool) {
	if len(a.order) == 0 {
		return change.Tag{}, nil, false
	}
	if a.cursor >= len(a.order) {
		a.cursor = len(a.order) - 1
	}
	tag := a.order[a.cursor]
	return tag, a.fields[tag], true
}

var (
	borderColor = lipgloss.Color("#444444")
	accentColor = lipgloss.Color("#5B8DEF")
	mutedColor  = lipgloss.Color("#888888")
	alertColor  = lipgloss.Color("#FF6B6B")
)

// View renders the UI.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	leftWidth := max(24, width/3)
	rightWidth := max(30, width-leftWidth-4)

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(alertColor).
		Render("⬡ MAIDSYNC") + "  " + a.renderPlayer()

	leftBox := a.panel(focusRoster, leftWidth).Render(a.maids.View())
	rightBox := a.panel(focusFields, rightWidth).Render(a.renderFields(rightWidth - 4))
	body := lipgloss.JoinHorizontal(lipgloss.Top, leftBox, rightBox)

	sections := []string{header, body}
	if a.editing {
		sections = append(sections, a.editor.View())
	}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().Foreground(mutedColor).Render(a.statusMsg)
	sections = append(sections, footer, a.help.View(a.keys))
	return strings.Join(sections, "\n")
}

func (a *App) panel(f focus, width int) lipgloss.Style {
	border := borderColor
	if a.focus == f {
		border = accentColor
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1).
		Width(width)
}

func (a *App) renderPlayer() string {
	var parts []string
	for _, kind := range change.Kinds() {
		if !kind.Player() {
			continue
		}
		v, ok := a.player[change.Of(kind)]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s", strings.TrimPrefix(kind.String(), "Player"), v))
	}
	limit := "limits on"
	if a.engine.RemoveValueLimit() {
		limit = "limits off"
	}
	parts = append(parts, limit)
	return lipgloss.NewStyle().Foreground(mutedColor).Render(strings.Join(parts, " · "))
}

func (a *App) renderFields(width int) string {
	if !a.controls {
		return lipgloss.NewStyle().Foreground(mutedColor).Render("Select a maid to mirror the record.")
	}
	if len(a.order) == 0 {
		return "Loading fields..."
	}
	now := a.clock()
	rows := max(5, a.height-14)
	start := 0
	if a.cursor >= rows {
		start = a.cursor - rows + 1
	}
	var lines []string
	var group change.Group
	for i := start; i < len(a.order) && i-start < rows; i++ {
		tag := a.order[i]
		if g := tag.Kind.Group(); g != group {
			group = g
			lines = append(lines, lipgloss.NewStyle().Bold(true).Foreground(accentColor).Render(strings.ToUpper(string(g))))
		}
		lines = append(lines, a.renderField(tag, a.fields[tag], i == a.cursor, now, width))
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderField(tag change.Tag, f *field, selected bool, now time.Time, width int) string {
	marker := "  "
	if selected {
		marker = "› "
	}
	badge := ""
	if f.locked {
		badge = " [L]"
	}
	line := fmt.Sprintf("%s%-22s %s%s", marker, tag.String(), f.value.String(), badge)
	style := lipgloss.NewStyle().MaxWidth(max(20, width))
	if selected {
		style = style.Bold(true)
	}
	if now.Before(f.flashUntil) {
		line += " LOCKED"
		style = style.Foreground(alertColor)
	}
	return style.Render(line)
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	entries, total := a.logbook.Recent(5)
	if len(entries) == 0 {
		return ""
	}
	lines := make([]string, len(entries))
	for i, entry := range entries {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
		if entry.Level() != logbook.LevelInfo {
			style = style.Foreground(alertColor)
		}
		lines[i] = style.Render(entry.String())
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(accentColor).
		Render(fmt.Sprintf("LOG · %s · %d entries", fileName, total))
	body := strings.Join(lines, "\n")
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}
