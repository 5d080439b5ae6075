package maid

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/kingrea/maidsync/internal/change"
)

const defaultSimInterval = 750 * time.Millisecond

// Simulator mutates random maids from its own goroutine to exercise the
// engine the way a running game does: steady stat drift, occasional skill
// and class changes, bulk feature passes and player income.
type Simulator struct {
	store    *Store
	interval time.Duration
	rng      *rand.Rand
	logger   Logger
}

// NewSimulator builds a simulator over store. A non-positive interval falls
// back to the default.
func NewSimulator(store *Store, interval time.Duration, seed uint64, logger Logger) *Simulator {
	if interval <= 0 {
		interval = defaultSimInterval
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Simulator{
		store:    store,
		interval: interval,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		logger:   logger,
	}
}

// Run ticks until ctx is cancelled.
func (sim *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(sim.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := sim.Step(ctx); err != nil && !errors.Is(err, context.Canceled) {
				sim.logger.Printf("maid: simulator step: %v", err)
			}
		}
	}
}

// Step performs one random mutation.
func (sim *Simulator) Step(ctx context.Context) error {
	roster := sim.store.Roster()
	if len(roster) == 0 {
		return nil
	}
	id := roster[sim.rng.IntN(len(roster))].ID
	switch roll := sim.rng.IntN(20); {
	case roll < 10:
		return sim.drift(ctx, id)
	case roll < 13:
		idx := sim.rng.IntN(8)
		return sim.toggle(ctx, id, change.At(change.HasSkill, idx), change.At(change.SkillLevel, idx))
	case roll < 15:
		idx := sim.rng.IntN(6)
		return sim.toggle(ctx, id, change.At(change.HasWork, idx), change.At(change.WorkLevel, idx))
	case roll < 17:
		return sim.classExp(ctx, id)
	case roll < 18:
		return sim.featurePass(ctx, id)
	default:
		return sim.income(ctx)
	}
}

var driftKinds = []change.Kind{
	change.Hp, change.Mind, change.Reason, change.Likability, change.Love,
	change.Lust, change.Evaluation, change.Sales, change.Popularity,
}

func (sim *Simulator) drift(ctx context.Context, id change.Entity) error {
	tag := change.Of(driftKinds[sim.rng.IntN(len(driftKinds))])
	return sim.add(ctx, id, tag, int64(sim.rng.IntN(21)-10))
}

func (sim *Simulator) add(ctx context.Context, id change.Entity, tag change.Tag, delta int64) error {
	cur, err := sim.store.Read(ctx, id, tag)
	if err != nil {
		return err
	}
	n, _ := cur.AsInt()
	err = sim.store.Write(ctx, id, tag, change.Int(n+delta))
	if errors.Is(err, ErrVetoed) {
		return nil
	}
	return err
}

// toggle flips a "has" flag and sets the matching level.
func (sim *Simulator) toggle(ctx context.Context, id change.Entity, has, level change.Tag) error {
	cur, err := sim.store.Read(ctx, id, has)
	if err != nil {
		return err
	}
	owned, _ := cur.AsBool()
	lvl := int64(0)
	if !owned {
		lvl = 1
	}
	if err := sim.store.Write(ctx, id, level, change.Int(lvl)); err != nil && !errors.Is(err, ErrVetoed) {
		return err
	}
	if err := sim.store.Write(ctx, id, has, change.Bool(!owned)); err != nil && !errors.Is(err, ErrVetoed) {
		return err
	}
	return nil
}

func (sim *Simulator) classExp(ctx context.Context, id change.Entity) error {
	kind := change.MaidClassExp
	if sim.rng.IntN(2) == 0 {
		kind = change.YotogiClassExp
	}
	return sim.add(ctx, id, change.At(kind, sim.rng.IntN(3)), int64(sim.rng.IntN(50)+1))
}

func (sim *Simulator) featurePass(ctx context.Context, id change.Entity) error {
	kind := change.Feature
	if sim.rng.IntN(2) == 0 {
		kind = change.Propensity
	}
	values := map[int]bool{}
	for i := 0; i < 5; i++ {
		values[i] = sim.rng.IntN(3) == 0
	}
	_, err := sim.store.SetFeatures(ctx, id, kind, values)
	return err
}

func (sim *Simulator) income(ctx context.Context) error {
	return sim.add(ctx, "", change.Of(change.PlayerMoney), int64(sim.rng.IntN(5000)))
}
