package mirror

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kingrea/maidsync/internal/change"
	"github.com/kingrea/maidsync/internal/hookbus"
)

type readCall struct {
	entity change.Entity
	tag    change.Tag
}

type writeCall struct {
	entity change.Entity
	tag    change.Tag
	value  change.Value
}

// fakeModel is a map-backed Model. onWrite lets a test stand in for the
// notifications a real model raises while writing.
type fakeModel struct {
	values  map[change.Entity]map[change.Tag]change.Value
	reads   []readCall
	writes  []writeCall
	failing map[change.Tag]error
	onWrite func(ctx context.Context, entity change.Entity, tag change.Tag, v change.Value)
}

func newFakeModel() *fakeModel {
	return &fakeModel{
		values:  map[change.Entity]map[change.Tag]change.Value{},
		failing: map[change.Tag]error{},
	}
}

func (m *fakeModel) set(entity change.Entity, tag change.Tag, v change.Value) {
	if m.values[entity] == nil {
		m.values[entity] = map[change.Tag]change.Value{}
	}
	m.values[entity][tag] = v
}

func (m *fakeModel) Read(_ context.Context, entity change.Entity, tag change.Tag) (change.Value, error) {
	m.reads = append(m.reads, readCall{entity, tag})
	if err := m.failing[tag]; err != nil {
		return change.Value{}, err
	}
	v, ok := m.values[entity][tag]
	if !ok {
		return change.Value{}, errors.New("no such field")
	}
	return v, nil
}

func (m *fakeModel) Write(ctx context.Context, entity change.Entity, tag change.Tag, v change.Value) error {
	m.writes = append(m.writes, writeCall{entity, tag, v})
	m.set(entity, tag, v)
	if m.onWrite != nil {
		m.onWrite(ctx, entity, tag, v)
	}
	return nil
}

func (m *fakeModel) Tracked(_ context.Context, entity change.Entity) ([]change.Tag, error) {
	var tags []change.Tag
	for tag := range m.values[entity] {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Less(tags[j]) })
	return tags, nil
}

func (m *fakeModel) Expand(_ context.Context, entity change.Entity, tag change.Tag) ([]change.Tag, error) {
	var want []change.Kind
	switch tag.Kind {
	case change.MaidClassType:
		want = []change.Kind{change.MaidClassLevel}
	case change.YotogiClassType:
		want = []change.Kind{change.YotogiClassLevel}
	case change.MaidAndYotogiClass:
		want = []change.Kind{change.MaidClassLevel, change.YotogiClassLevel}
	case change.Feature, change.Propensity:
		want = []change.Kind{tag.Kind}
	default:
		return nil, errors.New("not expandable")
	}
	var out []change.Tag
	for t := range m.values[entity] {
		for _, kind := range want {
			if t.Kind == kind {
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

func (m *fakeModel) readsOf(entity change.Entity) int {
	n := 0
	for _, r := range m.reads {
		if r.entity == entity {
			n++
		}
	}
	return n
}

type refresh struct {
	tag   change.Tag
	value change.Value
}

type fakeDisplay struct {
	refreshed []refresh
	cleared   int
	enabled   bool
	drained   int
	marked    map[change.Tag]bool
	flashed   []change.Tag
	onRefresh func(tag change.Tag, v change.Value)
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{marked: map[change.Tag]bool{}}
}

func (d *fakeDisplay) RefreshField(tag change.Tag, v change.Value) {
	d.refreshed = append(d.refreshed, refresh{tag, v})
	if d.onRefresh != nil {
		d.onRefresh(tag, v)
	}
}

func (d *fakeDisplay) ClearAllFields()                 { d.cleared++ }
func (d *fakeDisplay) SetControlsEnabled(enabled bool) { d.enabled = enabled }
func (d *fakeDisplay) QueueDrained()                   { d.drained++ }

func (d *fakeDisplay) MarkLocked(tag change.Tag, locked bool) { d.marked[tag] = locked }
func (d *fakeDisplay) ShowLocked(tag change.Tag)              { d.flashed = append(d.flashed, tag) }

func (d *fakeDisplay) refreshesOf(tag change.Tag) []refresh {
	var out []refresh
	for _, r := range d.refreshed {
		if r.tag == tag {
			out = append(out, r)
		}
	}
	return out
}

func (d *fakeDisplay) reset() {
	d.refreshed = nil
	d.flashed = nil
	d.drained = 0
}

const (
	e1 change.Entity = "E1"
	e2 change.Entity = "E2"
)

func fixture(t *testing.T) (*Engine, *fakeModel, *fakeDisplay) {
	t.Helper()
	model := newFakeModel()
	for _, entity := range []change.Entity{e1, e2} {
		model.set(entity, change.Of(change.FirstName), change.String(string(entity)))
		model.set(entity, change.Of(change.Hp), change.Int(100))
		model.set(entity, change.At(change.SkillLevel, 7), change.Int(1))
		model.set(entity, change.At(change.HasSkill, 7), change.Bool(true))
		model.set(entity, change.At(change.WorkLevel, 3), change.Int(2))
		model.set(entity, change.At(change.HasWork, 3), change.Bool(true))
		model.set(entity, change.At(change.HasWork, 5), change.Bool(false))
		model.set(entity, change.At(change.WorkLevel, 5), change.Int(0))
		model.set(entity, change.At(change.MaidClassLevel, 2), change.Int(4))
		model.set(entity, change.At(change.YotogiClassLevel, 1), change.Int(3))
		model.set(entity, change.At(change.Feature, 0), change.Bool(false))
		model.set(entity, change.At(change.Feature, 1), change.Bool(true))
		model.set(entity, change.At(change.Feature, 2), change.Bool(false))
	}
	model.set("", change.Of(change.PlayerMoney), change.Int(5000))
	model.set("", change.Of(change.PlayerName), change.String("Master"))
	display := newFakeDisplay()
	engine := New(model, WithDisplay(display), WithMetrics(NewMetrics(nil)))
	return engine, model, display
}

func selectAndSettle(t *testing.T, e *Engine, d *fakeDisplay, entity change.Entity) {
	t.Helper()
	ctx := context.Background()
	e.Select(ctx, entity)
	e.Drain(ctx)
	d.reset()
}

func notify(kind hookbus.Kind, entity change.Entity, tag change.Tag) hookbus.Notification {
	return hookbus.Notification{Kind: kind, Entity: entity, Tag: tag}
}

func TestRepeatedNotificationDrainsOnceWithLatestValue(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	skill := change.At(change.SkillLevel, 7)

	engine.Dispatch(ctx, notify(hookbus.KindStatusChangedID, e1, skill))
	model.set(e1, skill, change.Int(2))
	engine.Dispatch(ctx, notify(hookbus.KindStatusChangedID, e1, skill))
	model.set(e1, skill, change.Int(3))
	model.reads = nil

	report := engine.Drain(ctx)
	if report.Ran != 1 {
		t.Fatalf("expected one action, ran %d", report.Ran)
	}
	if len(model.reads) != 2 {
		t.Fatalf("expected one read each of flag and level, got %d", len(model.reads))
	}
	got := display.refreshesOf(skill)
	if len(got) != 1 || !got[0].value.Equal(change.Int(3)) {
		t.Fatalf("expected single refresh with drain-time value 3, got %+v", got)
	}
	if c := testutil.ToFloat64(engine.metrics.Coalesced); c != 1 {
		t.Fatalf("coalesced = %v, want 1", c)
	}
}

func TestLockedTagIsVetoedAndNeverRefreshed(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	work := change.At(change.WorkLevel, 3)
	if err := engine.SetLocked(ctx, e1, work, true); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !display.marked[work] {
		t.Fatalf("lock marker not shown for selected entity")
	}

	reply := engine.Dispatch(ctx, notify(hookbus.KindStatusChanged, e1, work))
	if !reply.Handled || !reply.Veto {
		t.Fatalf("expected handled veto, got %+v", reply)
	}
	if engine.Pending() != 0 {
		t.Fatalf("vetoed notification enqueued %d actions", engine.Pending())
	}
	engine.Drain(ctx)
	if len(display.refreshesOf(work)) != 0 {
		t.Fatalf("locked field was refreshed")
	}
	if len(display.flashed) != 1 || display.flashed[0] != work {
		t.Fatalf("expected one locked flash for %s, got %v", work, display.flashed)
	}
	if len(model.writes) != 0 {
		t.Fatalf("unexpected writes %+v", model.writes)
	}
}

func TestLockVetoHoldsUnderVolumeAndForUnselectedEntity(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	hp := change.Of(change.Hp)
	if err := engine.SetLocked(ctx, e2, hp, true); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, ok := display.marked[hp]; ok {
		t.Fatalf("lock on an unselected entity must not touch the display")
	}
	for i := 0; i < 500; i++ {
		if reply := engine.Dispatch(ctx, notify(hookbus.KindStatusChanged, e2, hp)); !reply.Veto {
			t.Fatalf("notification %d not vetoed", i)
		}
	}
	if v := testutil.ToFloat64(engine.metrics.Vetoed); v != 500 {
		t.Fatalf("vetoed = %v, want 500", v)
	}
	if reply := engine.Dispatch(ctx, notify(hookbus.KindStatusChanged, e1, hp)); reply.Veto {
		t.Fatalf("lock leaked to another entity")
	}
	if len(model.writes) != 0 || len(display.flashed) != 0 {
		t.Fatalf("unexpected writes %v or flashes %v", model.writes, display.flashed)
	}
}

func TestSelectionSwitchDiscardsPendingActions(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()

	engine.Dispatch(ctx, notify(hookbus.KindClassUpdated, e1, change.Of(change.MaidClassType)))
	if engine.Pending() != 1 {
		t.Fatalf("class update not queued")
	}
	model.reads = nil
	engine.Select(ctx, e2)
	engine.Drain(ctx)

	if n := model.readsOf(e1); n != 0 {
		t.Fatalf("drain after switch read %d fields of E1", n)
	}
	if model.readsOf(e2) == 0 {
		t.Fatalf("switch did not resync E2")
	}
	for _, r := range display.refreshesOf(change.Of(change.FirstName)) {
		if !r.value.Equal(change.String("E2")) {
			t.Fatalf("E1 value leaked onto display: %v", r.value)
		}
	}
	if display.cleared != 2 {
		t.Fatalf("expected a clear per selection, got %d", display.cleared)
	}
}

func TestProgrammaticRefreshNeverWrites(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	hasWork := change.At(change.HasWork, 5)

	display.onRefresh = func(tag change.Tag, v change.Value) {
		// The widget raises its change event synchronously, as a checkbox does.
		if err := engine.FieldChanged(ctx, FieldChange{Tag: tag, Raw: v.String(), Origin: OriginProgrammatic}); err != nil {
			t.Fatalf("programmatic change: %v", err)
		}
	}
	model.set(e1, hasWork, change.Bool(true))
	engine.Dispatch(ctx, notify(hookbus.KindPropertyAdded, e1, hasWork))
	engine.Drain(ctx)

	if got := display.refreshesOf(hasWork); len(got) != 1 || !got[0].value.Equal(change.Bool(true)) {
		t.Fatalf("expected HasWork#5 refreshed to true, got %+v", got)
	}
	if len(model.writes) != 0 {
		t.Fatalf("programmatic refresh wrote %+v", model.writes)
	}
	if p := testutil.ToFloat64(engine.metrics.Programmatic); p == 0 {
		t.Fatalf("programmatic change events not counted")
	}
}

func TestBatchedRefreshWithInterleavedUserEdit(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	edited := false
	display.onRefresh = func(tag change.Tag, v change.Value) {
		_ = engine.FieldChanged(ctx, FieldChange{Tag: tag, Raw: v.String(), Origin: OriginProgrammatic})
		if !edited && tag == change.At(change.MaidClassLevel, 2) {
			edited = true
			if err := engine.FieldChanged(ctx, FieldChange{Tag: change.Of(change.Love), Raw: "80", Origin: OriginUser}); err != nil {
				t.Fatalf("user edit: %v", err)
			}
		}
	}
	model.set(e1, change.At(change.MaidClassLevel, 2), change.Int(5))
	model.set(e1, change.At(change.YotogiClassLevel, 1), change.Int(6))
	engine.Dispatch(ctx, notify(hookbus.KindClassUpdated, e1, change.Of(change.MaidAndYotogiClass)))
	engine.Drain(ctx)

	if len(model.writes) != 1 || model.writes[0].tag != change.Of(change.Love) {
		t.Fatalf("expected exactly the user's Love write, got %+v", model.writes)
	}
}

func TestUserEditWritesOnceAndSuppressesEcho(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	hp := change.Of(change.Hp)
	model.onWrite = func(ctx context.Context, entity change.Entity, tag change.Tag, _ change.Value) {
		engine.Dispatch(ctx, notify(hookbus.KindStatusChangedID, entity, tag))
	}

	if err := engine.FieldChanged(ctx, FieldChange{Tag: hp, Raw: "250", Origin: OriginUser}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if len(model.writes) != 1 || !model.writes[0].value.Equal(change.Int(250)) {
		t.Fatalf("expected one write of 250, got %+v", model.writes)
	}
	engine.Drain(ctx)
	if got := display.refreshesOf(hp); len(got) != 0 {
		t.Fatalf("echo of own write reached the display: %+v", got)
	}
}

func TestUserEditShowsClampedValue(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	hp := change.Of(change.Hp)
	model.onWrite = func(ctx context.Context, entity change.Entity, tag change.Tag, v change.Value) {
		if n, _ := v.AsInt(); n > 999 {
			model.set(entity, tag, change.Int(999))
		}
		engine.Dispatch(ctx, notify(hookbus.KindStatusChangedID, entity, tag))
	}
	if err := engine.UserEdited(ctx, hp, "5000"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	engine.Drain(ctx)
	got := display.refreshesOf(hp)
	if len(got) != 1 || !got[0].value.Equal(change.Int(999)) {
		t.Fatalf("expected clamped value 999 on display, got %+v", got)
	}
}

func TestUserEditTypeMismatchReadsBack(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	hp := change.Of(change.Hp)

	err := engine.UserEdited(ctx, hp, "12a")
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	if len(model.writes) != 0 {
		t.Fatalf("mismatched edit wrote %+v", model.writes)
	}
	engine.Drain(ctx)
	got := display.refreshesOf(hp)
	if len(got) != 1 || !got[0].value.Equal(change.Int(100)) {
		t.Fatalf("expected read-back of 100, got %+v", got)
	}
}

func TestUserEditOnLockedTagVetoes(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	love := change.Of(change.Love)
	model.set(e1, love, change.Int(10))
	if err := engine.SetLocked(ctx, e1, love, true); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.UserEdited(ctx, love, "90"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if len(model.writes) != 0 {
		t.Fatalf("locked edit wrote %+v", model.writes)
	}
	engine.Drain(ctx)
	if got := display.refreshesOf(love); len(got) != 1 || !got[0].value.Equal(change.Int(10)) {
		t.Fatalf("expected read-back of locked value, got %+v", got)
	}
}

func TestUserEditWithoutSelectionIsNoop(t *testing.T) {
	engine, model, _ := fixture(t)
	if err := engine.UserEdited(context.Background(), change.Of(change.Hp), "5"); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
	if len(model.writes) != 0 || engine.Pending() != 0 {
		t.Fatalf("edit without selection had effects")
	}
}

func TestUserEditRejectsAggregateTags(t *testing.T) {
	engine, _, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	if err := engine.UserEdited(context.Background(), change.Of(change.BonusValues), "1"); !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
}

func TestNotificationsForOtherEntityAreIgnored(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	model.reads = nil
	for i := 0; i < 20; i++ {
		engine.Dispatch(ctx, notify(hookbus.KindStatusChangedID, e2, change.Of(change.Hp)))
		engine.Dispatch(ctx, notify(hookbus.KindStatusUpdated, e2, change.At(change.SkillLevel, 7)))
	}
	if engine.Pending() != 0 {
		t.Fatalf("foreign notifications queued %d actions", engine.Pending())
	}
	engine.Drain(ctx)
	if model.readsOf(e2) != 0 || len(display.refreshed) != 0 {
		t.Fatalf("foreign notifications touched model or display")
	}
	if m := testutil.ToFloat64(engine.metrics.Mismatched); m != 40 {
		t.Fatalf("mismatched = %v, want 40", m)
	}
}

func TestNotificationsWithoutSelectionAreIgnored(t *testing.T) {
	engine, _, _ := fixture(t)
	engine.Dispatch(context.Background(), notify(hookbus.KindStatusChangedID, e1, change.Of(change.Hp)))
	if engine.Pending() != 0 {
		t.Fatalf("notification queued without a selection")
	}
}

func TestUnknownKindAndTagAreDropped(t *testing.T) {
	engine, _, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	if reply := engine.Dispatch(ctx, notify(hookbus.Kind("bogus"), e1, change.Of(change.Hp))); reply.Handled {
		t.Fatalf("unknown kind reported handled")
	}
	engine.Dispatch(ctx, notify(hookbus.KindPropertyAdded, e1, change.Of(change.Hp)))
	engine.Dispatch(ctx, notify(hookbus.KindClassUpdated, e1, change.At(change.SkillLevel, 1)))
	if engine.Pending() != 0 {
		t.Fatalf("unhandled notifications queued actions")
	}
	if u := testutil.ToFloat64(engine.metrics.Unhandled); u != 3 {
		t.Fatalf("unhandled = %v, want 3", u)
	}
}

func TestPropertyChangeRefreshesHasAndLevel(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	model.set(e1, change.At(change.HasSkill, 7), change.Bool(false))
	model.set(e1, change.At(change.SkillLevel, 7), change.Int(0))
	engine.Dispatch(ctx, notify(hookbus.KindPropertyRemoved, e1, change.At(change.HasSkill, 7)))
	engine.Dispatch(ctx, notify(hookbus.KindPropertyRemoved, e1, change.At(change.SkillLevel, 7)))
	if engine.Pending() != 1 {
		t.Fatalf("has and level notifications should share one action, pending %d", engine.Pending())
	}
	engine.Drain(ctx)
	if len(display.refreshesOf(change.At(change.HasSkill, 7))) != 1 || len(display.refreshesOf(change.At(change.SkillLevel, 7))) != 1 {
		t.Fatalf("expected both has and level refreshed, got %+v", display.refreshed)
	}
}

func TestLevelRefreshedWhenFlagChangeFollowsPreWrite(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	has, level := change.At(change.HasSkill, 7), change.At(change.SkillLevel, 7)

	engine.Dispatch(ctx, notify(hookbus.KindStatusChanged, e1, has))
	model.set(e1, has, change.Bool(false))
	model.set(e1, level, change.Int(5))
	engine.Dispatch(ctx, notify(hookbus.KindPropertyAdded, e1, has))
	if engine.Pending() != 1 {
		t.Fatalf("pending = %d, want the two notifications coalesced", engine.Pending())
	}
	if pending := engine.PendingTags(); len(pending) != 1 || pending[0] != has {
		t.Fatalf("pending tags = %v, want [%s]", pending, has)
	}
	engine.Drain(ctx)
	got := display.refreshesOf(level)
	if len(got) != 1 || !got[0].value.Equal(change.Int(5)) {
		t.Fatalf("level not refreshed after flag change, got %+v", display.refreshed)
	}
	if len(display.refreshesOf(has)) != 1 {
		t.Fatalf("flag not refreshed, got %+v", display.refreshed)
	}
}

func TestLevelNotificationAlsoRefreshesFlag(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	has, level := change.At(change.HasWork, 5), change.At(change.WorkLevel, 5)
	model.set(e1, has, change.Bool(true))
	model.set(e1, level, change.Int(3))
	engine.Dispatch(ctx, notify(hookbus.KindStatusChangedID, e1, level))
	engine.Dispatch(ctx, notify(hookbus.KindPropertyAdded, e1, has))
	engine.Drain(ctx)
	if len(display.refreshesOf(has)) != 1 || len(display.refreshesOf(level)) != 1 {
		t.Fatalf("expected flag and level refreshed once, got %+v", display.refreshed)
	}
}

func TestLockedTagQueuesNothingFromAnyNotification(t *testing.T) {
	engine, _, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	work := change.At(change.HasWork, 3)
	if err := engine.SetLocked(ctx, e1, work, true); err != nil {
		t.Fatalf("lock: %v", err)
	}
	for _, kind := range []hookbus.Kind{hookbus.KindStatusChangedID, hookbus.KindStatusUpdated, hookbus.KindPropertyRemoved} {
		if reply := engine.Dispatch(ctx, notify(kind, e1, work)); reply.Veto {
			t.Fatalf("%s: only pre-write notifications veto", kind)
		}
	}
	if engine.Pending() != 0 {
		t.Fatalf("locked tag queued %d actions", engine.Pending())
	}
}

func TestFeatureStormSkipsLockedFeature(t *testing.T) {
	engine, _, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	if err := engine.SetLocked(ctx, e1, change.At(change.Feature, 1), true); err != nil {
		t.Fatalf("lock: %v", err)
	}
	engine.Dispatch(ctx, notify(hookbus.KindFeaturePropensityUpdated, e1, change.Of(change.Feature)))
	if engine.Pending() != 2 {
		t.Fatalf("pending = %d, want the two unlocked features", engine.Pending())
	}
}

func TestForeignForcedWriteUpdatesRegistry(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	night := change.At(change.NightWorkForced, 2)

	model.set(e2, night, change.Bool(true))
	engine.Dispatch(ctx, notify(hookbus.KindStatusChangedID, e2, night))
	if reply := engine.Dispatch(ctx, notify(hookbus.KindWorkEnabledCheck, e2, night)); !reply.ForceEnabled {
		t.Fatalf("forced slot written outside the engine not reported")
	}
	model.set(e2, night, change.Bool(false))
	engine.Dispatch(ctx, notify(hookbus.KindStatusChangedID, e2, night))
	if reply := engine.Dispatch(ctx, notify(hookbus.KindWorkEnabledCheck, e2, night)); reply.ForceEnabled {
		t.Fatalf("cleared forced slot still reported")
	}
}

func TestFeatureStormCoalescesPerFeature(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		model.set(e1, change.At(change.Feature, i), change.Bool(i%2 == 0))
	}
	for i := 0; i < 50; i++ {
		engine.Dispatch(ctx, notify(hookbus.KindFeaturePropensityUpdated, e1, change.Of(change.Feature)))
	}
	if engine.Pending() != 3 {
		t.Fatalf("pending = %d, want one per feature", engine.Pending())
	}
	model.reads = nil
	engine.Drain(ctx)
	if len(model.reads) != 3 {
		t.Fatalf("reads = %d, want 3", len(model.reads))
	}
}

func TestAggregateRefreshCoversEveryRow(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	model.set(e1, change.At(change.MaidClassLevel, 2), change.Int(7))
	model.set(e1, change.At(change.MaidClassLevel, 4), change.Int(1))
	engine.Dispatch(ctx, notify(hookbus.KindClassUpdated, e1, change.Of(change.MaidClassType)))
	engine.Drain(ctx)
	if len(display.refreshesOf(change.At(change.MaidClassLevel, 2))) != 1 || len(display.refreshesOf(change.At(change.MaidClassLevel, 4))) != 1 {
		t.Fatalf("aggregate refresh missed rows: %+v", display.refreshed)
	}
	if len(display.refreshesOf(change.At(change.YotogiClassLevel, 1))) != 0 {
		t.Fatalf("maid class refresh touched yotogi rows")
	}
}

func TestFailingReadDoesNotStopDrain(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	model.failing[change.Of(change.Hp)] = errors.New("boom")
	model.set(e1, change.Of(change.Love), change.Int(42))
	engine.Dispatch(ctx, notify(hookbus.KindStatusChangedID, e1, change.Of(change.Hp)))
	engine.Dispatch(ctx, notify(hookbus.KindStatusChangedID, e1, change.Of(change.Love)))
	report := engine.Drain(ctx)
	if len(report.Failures) != 1 || report.Failures[0].Tag != change.Of(change.Hp) {
		t.Fatalf("expected one Hp failure, got %+v", report.Failures)
	}
	if len(display.refreshesOf(change.Of(change.Love))) != 1 {
		t.Fatalf("later action did not run after failure")
	}
	if display.drained != 1 {
		t.Fatalf("drained signal = %d, want 1", display.drained)
	}
}

func TestWorkEnabledCheckAnswersForAnyEntity(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	noon := change.At(change.NoonWorkForced, 4)
	if err := engine.UserEdited(ctx, noon, "true"); err != nil {
		t.Fatalf("force edit: %v", err)
	}
	engine.Select(ctx, e2)
	if reply := engine.Dispatch(ctx, notify(hookbus.KindWorkEnabledCheck, e1, noon)); !reply.ForceEnabled {
		t.Fatalf("forced slot of unselected E1 not reported")
	}
	if reply := engine.Dispatch(ctx, notify(hookbus.KindWorkEnabledCheck, e2, noon)); reply.ForceEnabled {
		t.Fatalf("force flag leaked to E2")
	}
	if len(model.writes) != 1 {
		t.Fatalf("expected the force edit to write once, got %+v", model.writes)
	}
}

func TestValueLimitReply(t *testing.T) {
	engine, _, _ := fixture(t)
	ctx := context.Background()
	limit := hookbus.Notification{Kind: hookbus.KindValueLimit}
	if reply := engine.Dispatch(ctx, limit); reply.RemoveLimit {
		t.Fatalf("limit removed by default")
	}
	engine.SetRemoveValueLimit(true)
	if reply := engine.Dispatch(ctx, limit); !reply.RemoveLimit {
		t.Fatalf("limit removal not reported")
	}
}

func TestPlayerChangesNeedNoSelection(t *testing.T) {
	engine, model, display := fixture(t)
	ctx := context.Background()
	money := change.Of(change.PlayerMoney)
	engine.Dispatch(ctx, notify(hookbus.KindPlayerValueChanged, "", money))
	model.set("", money, change.Int(7000))
	engine.Dispatch(ctx, notify(hookbus.KindPlayerValueChanged, "", money))
	engine.Drain(ctx)
	got := display.refreshesOf(money)
	if len(got) != 1 || !got[0].value.Equal(change.Int(7000)) {
		t.Fatalf("expected one player refresh of 7000, got %+v", got)
	}
	if err := engine.UserEdited(ctx, change.Of(change.PlayerName), "Boss"); err != nil {
		t.Fatalf("player edit: %v", err)
	}
	if len(model.writes) != 1 || model.writes[0].entity != "" {
		t.Fatalf("player edit wrote %+v", model.writes)
	}
}

func TestPlayerQueueSurvivesSelectionSwitch(t *testing.T) {
	engine, _, display := fixture(t)
	ctx := context.Background()
	engine.ResyncPlayer()
	engine.Select(ctx, e1)
	engine.Drain(ctx)
	if len(display.refreshesOf(change.Of(change.PlayerMoney))) != 1 {
		t.Fatalf("player refresh lost on selection switch")
	}
}

func TestSelectNoneDisablesControls(t *testing.T) {
	engine, _, display := fixture(t)
	ctx := context.Background()
	engine.Select(ctx, e1)
	if !display.enabled {
		t.Fatalf("controls not enabled on selection")
	}
	engine.Select(ctx, "")
	if display.enabled {
		t.Fatalf("controls still enabled without selection")
	}
	if engine.Pending() != 0 {
		t.Fatalf("pending actions survived deselection")
	}
	if engine.Selection().State() != NoSelection {
		t.Fatalf("selection state = %v", engine.Selection().State())
	}
}

func TestReselectForcesFullResync(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	engine.Select(ctx, e1)
	engine.Drain(ctx)
	tracked, _ := model.Tracked(ctx, e1)
	if len(display.refreshed) != len(tracked) {
		t.Fatalf("reselect refreshed %d fields, want %d", len(display.refreshed), len(tracked))
	}
}

func TestSelectMarksLockedFields(t *testing.T) {
	engine, _, display := fixture(t)
	ctx := context.Background()
	lust := change.Of(change.Lust)
	engine.Locks().Load([]Flag{{Entity: e2, Tag: lust}})
	engine.Select(ctx, e2)
	if !display.marked[lust] {
		t.Fatalf("loaded lock not marked on selection")
	}
}

type recordingLockStore struct {
	saved []Flag
	err   error
}

func (s *recordingLockStore) SaveLock(_ context.Context, entity change.Entity, tag change.Tag, locked bool) error {
	if locked {
		s.saved = append(s.saved, Flag{Entity: entity, Tag: tag})
	}
	return s.err
}

func TestSetLockedPersists(t *testing.T) {
	store := &recordingLockStore{}
	engine := New(newFakeModel(), WithLockStore(store))
	ctx := context.Background()
	if err := engine.SetLocked(ctx, e1, change.Of(change.Hp), true); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("lock not persisted")
	}
	store.err = errors.New("disk full")
	if err := engine.SetLocked(ctx, e1, change.Of(change.Mind), true); err == nil {
		t.Fatalf("expected persistence error")
	}
	if !engine.Locks().IsLocked(e1, change.Of(change.Mind)) {
		t.Fatalf("in-memory lock should hold even when persisting fails")
	}
	if err := engine.SetLocked(ctx, "", change.Of(change.Hp), true); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection for empty entity, got %v", err)
	}
}

func TestBusDispatchThroughLoop(t *testing.T) {
	engine, _, _ := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loop := hookbus.NewLoop(8, nil)
	loop.Start(ctx)
	defer loop.Stop()
	bus := hookbus.New(loop, engine)

	if err := bus.Do(ctx, func(ctx context.Context) { engine.Select(ctx, e1) }); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := bus.Do(ctx, func(ctx context.Context) {
		_ = engine.SetLocked(ctx, e1, change.Of(change.Hp), true)
	}); err != nil {
		t.Fatalf("lock: %v", err)
	}
	reply, err := bus.Raise(ctx, hookbus.Notification{Kind: hookbus.KindStatusChanged, Entity: e1, Tag: change.Of(change.Hp)})
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if !reply.Veto {
		t.Fatalf("veto not carried back through the bus")
	}
}

func TestSetForcedForUnselectedEntity(t *testing.T) {
	engine, model, display := fixture(t)
	selectAndSettle(t, engine, display, e1)
	ctx := context.Background()
	night := change.At(change.NightWorkForced, 2)
	if err := engine.SetForced(ctx, e2, night, true); err != nil {
		t.Fatalf("force: %v", err)
	}
	if len(model.writes) != 1 || model.writes[0].entity != e2 {
		t.Fatalf("expected one write to E2, got %+v", model.writes)
	}
	if reply := engine.Dispatch(ctx, notify(hookbus.KindWorkEnabledCheck, e2, night)); !reply.ForceEnabled {
		t.Fatalf("force flag not answered")
	}
	if err := engine.SetForced(ctx, e2, change.At(change.HasWork, 2), true); !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
	if err := engine.SetLocked(ctx, e2, night, true); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.SetForced(ctx, e2, night, false); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if !engine.Forced().IsForced(e2, night) {
		t.Fatalf("locked force flag changed")
	}
}
