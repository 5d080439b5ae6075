package maid

import (
	"context"
	"fmt"

	"github.com/kingrea/maidsync/internal/change"
	"github.com/kingrea/maidsync/internal/hookbus"
	"github.com/kingrea/maidsync/internal/mirror"
)

func (s *Store) currentRaiser() Raiser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.raiser
}

func (s *Store) raise(ctx context.Context, n hookbus.Notification) (hookbus.Reply, error) {
	r := s.currentRaiser()
	if r == nil {
		return hookbus.Reply{}, nil
	}
	return r.Raise(ctx, n)
}

// notify raises an informational notification; failures are only logged.
func (s *Store) notify(ctx context.Context, kind hookbus.Kind, entity change.Entity, tag change.Tag) {
	if _, err := s.raise(ctx, hookbus.Notification{Kind: kind, Entity: entity, Tag: tag}); err != nil {
		s.logger.Printf("maid: raise %s %s for %s: %v", kind, tag, entity, err)
	}
}

// Write implements mirror.Model. A maid field raises StatusChanged first and
// is skipped with ErrVetoed when the reply vetoes it; integer fields are
// clamped unless the value-limit request lifts the limit. Follow-up
// notifications describe what changed.
func (s *Store) Write(ctx context.Context, entity change.Entity, tag change.Tag, v change.Value) error {
	if !tag.Valid() || tag.Kind.Aggregate() {
		return fmt.Errorf("maid: write: %w: %s", mirror.ErrUnknownTag, tag)
	}
	v, err := change.Coerce(tag.Kind, v)
	if err != nil {
		return fmt.Errorf("maid: write %s: %w", tag, err)
	}
	if tag.Kind.Player() {
		return s.writePlayer(ctx, tag, v)
	}
	prev, err := s.Read(ctx, entity, tag)
	if err != nil {
		return err
	}
	reply, err := s.raise(ctx, hookbus.Notification{Kind: hookbus.KindStatusChanged, Entity: entity, Tag: tag, Value: v, HasValue: true})
	if err != nil {
		return fmt.Errorf("maid: pre-write %s %s: %w", entity, tag, err)
	}
	if reply.Veto {
		return fmt.Errorf("%w: %s %s", ErrVetoed, entity, tag)
	}
	if v, err = s.clamp(ctx, tag.Kind, v); err != nil {
		return err
	}
	if err := s.commit(ctx, entity, tag, v); err != nil {
		return err
	}
	s.announce(ctx, entity, tag, prev, v)
	return nil
}

func (s *Store) writePlayer(ctx context.Context, tag change.Tag, v change.Value) error {
	v, err := s.clamp(ctx, tag.Kind, v)
	if err != nil {
		return err
	}
	if err := s.commit(ctx, "", tag, v); err != nil {
		return err
	}
	s.notify(ctx, hookbus.KindPlayerValueChanged, "", tag)
	return nil
}

// clamp asks whether the value limit applies and bounds integer values.
func (s *Store) clamp(ctx context.Context, kind change.Kind, v change.Value) (change.Value, error) {
	n, ok := v.AsInt()
	if !ok {
		return v, nil
	}
	reply, err := s.raise(ctx, hookbus.Notification{Kind: hookbus.KindValueLimit})
	if err != nil {
		return v, fmt.Errorf("maid: value limit: %w", err)
	}
	if reply.RemoveLimit {
		return v, nil
	}
	lo, hi := limit(kind)
	switch {
	case n < lo:
		return change.Int(lo), nil
	case n > hi:
		return change.Int(hi), nil
	}
	return v, nil
}

// announce raises the post-write notifications for one assignment.
func (s *Store) announce(ctx context.Context, entity change.Entity, tag change.Tag, prev, v change.Value) {
	switch tag.Kind {
	case change.HasSkill, change.HasWork:
		if prev.Equal(v) {
			return
		}
		if on, _ := v.AsBool(); on {
			s.notify(ctx, hookbus.KindPropertyAdded, entity, tag)
		} else {
			s.notify(ctx, hookbus.KindPropertyRemoved, entity, tag)
		}
	case change.Feature, change.Propensity:
		s.notify(ctx, hookbus.KindStatusUpdated, entity, tag)
	default:
		if aggregate, ok := classAggregate(tag.Kind); ok {
			s.notify(ctx, hookbus.KindClassUpdated, entity, aggregate)
			return
		}
		if tag.HasIndex() {
			s.notify(ctx, hookbus.KindStatusChangedID, entity, tag)
		}
	}
}

// SetFeatures assigns a whole feature or propensity set in one pass and
// raises a single FeaturePropensityUpdated. Locked entries are skipped; the
// number of assignments made is returned.
func (s *Store) SetFeatures(ctx context.Context, entity change.Entity, kind change.Kind, values map[int]bool) (int, error) {
	if kind != change.Feature && kind != change.Propensity {
		return 0, fmt.Errorf("maid: set features: %w: %s", mirror.ErrUnknownTag, kind)
	}
	if _, err := s.Read(ctx, entity, change.Of(change.FirstName)); err != nil {
		return 0, err
	}
	tags := make([]change.Tag, 0, len(values))
	for idx := range values {
		tags = append(tags, change.At(kind, idx))
	}
	sortTags(tags)
	written := 0
	for _, tag := range tags {
		if !tag.Valid() {
			continue
		}
		v := change.Bool(values[tag.Index])
		reply, err := s.raise(ctx, hookbus.Notification{Kind: hookbus.KindStatusChanged, Entity: entity, Tag: tag, Value: v, HasValue: true})
		if err != nil {
			return written, fmt.Errorf("maid: pre-write %s %s: %w", entity, tag, err)
		}
		if reply.Veto {
			continue
		}
		if err := s.commit(ctx, entity, tag, v); err != nil {
			return written, err
		}
		written++
	}
	s.notify(ctx, hookbus.KindFeaturePropensityUpdated, entity, change.Of(kind))
	return written, nil
}

// WorkEnabled asks the consumer whether a work slot is force-enabled.
func (s *Store) WorkEnabled(ctx context.Context, entity change.Entity, tag change.Tag) (bool, error) {
	if tag.Kind != change.NoonWorkForced && tag.Kind != change.NightWorkForced {
		return false, fmt.Errorf("maid: work enabled: %w: %s", mirror.ErrUnknownTag, tag)
	}
	reply, err := s.raise(ctx, hookbus.Notification{Kind: hookbus.KindWorkEnabledCheck, Entity: entity, Tag: tag})
	if err != nil {
		return false, fmt.Errorf("maid: work enabled %s %s: %w", entity, tag, err)
	}
	return reply.ForceEnabled, nil
}
