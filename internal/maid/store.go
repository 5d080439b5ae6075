package maid

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/kingrea/maidsync/internal/change"
	"github.com/kingrea/maidsync/internal/hookbus"
	"github.com/kingrea/maidsync/internal/mirror"
)

var (
	// ErrUnknownMaid reports an entity that is not on the roster.
	ErrUnknownMaid = errors.New("maid: unknown maid")
	// ErrVetoed reports a write refused by the pre-write notification.
	ErrVetoed = errors.New("maid: write vetoed")
)

// Raiser delivers notifications to the consumer. *hookbus.Bus satisfies it.
type Raiser interface {
	Raise(ctx context.Context, n hookbus.Notification) (hookbus.Reply, error)
}

// Logger matches the Printf-style loggers used across the module.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Option customizes Store construction.
type Option func(*Store)

// WithLogger injects a diagnostics logger.
func WithLogger(logger Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the journal timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Store keeps every record in memory and appends each mutation to the
// events journal. It is safe for concurrent use; no lock is held while a
// notification is being raised.
type Store struct {
	db     *sql.DB
	logger Logger
	clock  func() time.Time

	mu     sync.RWMutex
	maids  map[change.Entity]record
	order  []change.Entity
	player record
	raiser Raiser
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	entity TEXT NOT NULL,
	tag TEXT NOT NULL,
	value TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS locks (
	entity TEXT NOT NULL,
	tag TEXT NOT NULL,
	PRIMARY KEY (entity, tag)
);`

// Open opens (or creates) the journal at path and replays it.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("maid: store path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o750); err != nil {
		return nil, fmt.Errorf("maid: create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", cleanPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("maid: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("maid: create schema: %w", err)
	}
	s := &Store{
		db:     db,
		logger: nopLogger{},
		clock:  time.Now,
		maids:  map[change.Entity]record{},
		player: record{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if err := s.replay(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Attach sets where notifications are raised. Until then writes raise
// nothing.
func (s *Store) Attach(r Raiser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raiser = r
}

func (s *Store) replay(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, entity, tag, value FROM events ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("maid: select events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	replayed := 0
	for rows.Next() {
		var (
			seq          int64
			entity, raw  string
			tagText      string
			tag          change.Tag
			decoded, val change.Value
		)
		if err := rows.Scan(&seq, &entity, &tagText, &raw); err != nil {
			return fmt.Errorf("maid: scan event: %w", err)
		}
		if err := tag.UnmarshalText([]byte(tagText)); err != nil {
			s.logger.Printf("maid: skip event %d: %v", seq, err)
			continue
		}
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			s.logger.Printf("maid: skip event %d: %v", seq, err)
			continue
		}
		if val, err = change.Coerce(tag.Kind, decoded); err != nil {
			s.logger.Printf("maid: skip event %d: %v", seq, err)
			continue
		}
		s.apply(change.Entity(entity), tag, val)
		replayed++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("maid: iterate events: %w", err)
	}
	if replayed > 0 {
		s.logger.Printf("maid: replayed %d events, %d maids", replayed, len(s.order))
	}
	return nil
}

// apply mutates memory. Callers hold mu, or own the store exclusively.
func (s *Store) apply(entity change.Entity, tag change.Tag, v change.Value) {
	if tag.Kind.Player() {
		s.player[tag] = v
		return
	}
	rec, ok := s.maids[entity]
	if !ok {
		rec = record{}
		s.maids[entity] = rec
		s.order = append(s.order, entity)
	}
	rec[tag] = v
}

func (s *Store) journal(ctx context.Context, entity change.Entity, tag change.Tag, v change.Value) error {
	tagText, err := tag.MarshalText()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (entity, tag, value, recorded_at) VALUES (?, ?, ?, ?)`,
		string(entity), string(tagText), string(payload), s.clock().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("maid: append event: %w", err)
	}
	return nil
}

// commit journals then applies one assignment.
func (s *Store) commit(ctx context.Context, entity change.Entity, tag change.Tag, v change.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.journal(ctx, entity, tag, v); err != nil {
		return err
	}
	s.apply(entity, tag, v)
	return nil
}

// Hire adds a maid with the given fields without raising notifications.
func (s *Store) Hire(ctx context.Context, id change.Entity, fields map[change.Tag]change.Value) error {
	if id.None() {
		return fmt.Errorf("maid: hire: id is required")
	}
	tags := make([]change.Tag, 0, len(fields))
	for tag := range fields {
		if !tag.Valid() || tag.Kind.Aggregate() || tag.Kind.Player() {
			return fmt.Errorf("maid: hire %s: %w: %s", id, mirror.ErrUnknownTag, tag)
		}
		tags = append(tags, tag)
	}
	sortTags(tags)
	for _, tag := range tags {
		v, err := change.Coerce(tag.Kind, fields[tag])
		if err != nil {
			return fmt.Errorf("maid: hire %s: %w", id, err)
		}
		if err := s.commit(ctx, id, tag, v); err != nil {
			return err
		}
	}
	s.mu.Lock()
	if _, ok := s.maids[id]; !ok {
		s.maids[id] = record{}
		s.order = append(s.order, id)
	}
	s.mu.Unlock()
	return nil
}

// Len reports how many maids are on the roster.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Roster returns one summary per maid in hire order.
func (s *Store) Roster() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.order))
	for _, id := range s.order {
		rec := s.maids[id]
		employed, _ := rec[change.Of(change.Employed)].AsBool()
		out = append(out, Summary{
			ID:        id,
			FirstName: rec.str(change.FirstName),
			LastName:  rec.str(change.LastName),
			Nickname:  rec.str(change.Nickname),
			Employed:  employed,
		})
	}
	return out
}

// Read implements mirror.Model. Fields never assigned read as their type's
// zero value.
func (s *Store) Read(_ context.Context, entity change.Entity, tag change.Tag) (change.Value, error) {
	if !tag.Valid() || tag.Kind.Aggregate() {
		return change.Value{}, fmt.Errorf("maid: read: %w: %s", mirror.ErrUnknownTag, tag)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.player
	if !tag.Kind.Player() {
		var ok bool
		if rec, ok = s.maids[entity]; !ok {
			return change.Value{}, fmt.Errorf("%w: %s", ErrUnknownMaid, entity)
		}
	}
	if v, ok := rec[tag]; ok {
		return v, nil
	}
	return zeroOf(tag.Kind), nil
}

// Tracked implements mirror.Model: every scalar maid field plus each indexed
// field the maid holds.
func (s *Store) Tracked(_ context.Context, entity change.Entity) ([]change.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.maids[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMaid, entity)
	}
	var tags []change.Tag
	for _, kind := range scalarKinds() {
		tags = append(tags, change.Of(kind))
	}
	for tag := range rec {
		if tag.HasIndex() {
			tags = append(tags, tag)
		}
	}
	sortTags(tags)
	return tags, nil
}

// Expand implements mirror.Model.
func (s *Store) Expand(_ context.Context, entity change.Entity, tag change.Tag) ([]change.Tag, error) {
	indexed, scalar, ok := expansion(tag)
	if !ok {
		return nil, fmt.Errorf("maid: expand: %w: %s", mirror.ErrUnknownTag, tag)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.maids[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMaid, entity)
	}
	tags := rec.tagsOf(indexed...)
	for _, kind := range scalar {
		tags = append(tags, change.Of(kind))
	}
	return tags, nil
}

// Forced lists every work slot currently force-enabled, for loading into the
// engine's force registry.
func (s *Store) Forced() []mirror.Flag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []mirror.Flag
	for _, id := range s.order {
		for _, tag := range s.maids[id].tagsOf(change.NoonWorkForced, change.NightWorkForced) {
			if on, _ := s.maids[id][tag].AsBool(); on {
				out = append(out, mirror.Flag{Entity: id, Tag: tag})
			}
		}
	}
	return out
}

// SaveLock implements mirror.LockStore.
func (s *Store) SaveLock(ctx context.Context, entity change.Entity, tag change.Tag, locked bool) error {
	tagText, err := tag.MarshalText()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if locked {
		_, err = s.db.ExecContext(ctx, `INSERT OR IGNORE INTO locks (entity, tag) VALUES (?, ?)`, string(entity), string(tagText))
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM locks WHERE entity = ? AND tag = ?`, string(entity), string(tagText))
	}
	if err != nil {
		return fmt.Errorf("maid: save lock: %w", err)
	}
	return nil
}

// Locks loads the persisted lock set.
func (s *Store) Locks(ctx context.Context) ([]mirror.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT entity, tag FROM locks ORDER BY entity, tag`)
	if err != nil {
		return nil, fmt.Errorf("maid: select locks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []mirror.Flag
	for rows.Next() {
		var entity, tagText string
		if err := rows.Scan(&entity, &tagText); err != nil {
			return nil, fmt.Errorf("maid: scan lock: %w", err)
		}
		var tag change.Tag
		if err := tag.UnmarshalText([]byte(tagText)); err != nil {
			s.logger.Printf("maid: skip lock %s %q: %v", entity, tagText, err)
			continue
		}
		out = append(out, mirror.Flag{Entity: change.Entity(entity), Tag: tag})
	}
	return out, rows.Err()
}
