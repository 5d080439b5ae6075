// Package maid is the reference domain model mirrored by the engine: a roster
// of maid records plus the player record, journaled to SQLite and replayed on
// open. Writes raise hook notifications the way the game does, so the engine
// can veto, clamp and refresh.
package maid

import (
	"sort"
	"strings"

	"github.com/kingrea/maidsync/internal/change"
)

// NameStyle orders first and last name in roster summaries.
type NameStyle string

const (
	FirstLast NameStyle = "first_last"
	LastFirst NameStyle = "last_first"
)

// ParseNameStyle accepts the config spelling; anything unknown is FirstLast.
func ParseNameStyle(raw string) NameStyle {
	if NameStyle(strings.ToLower(strings.TrimSpace(raw))) == LastFirst {
		return LastFirst
	}
	return FirstLast
}

// Summary is one roster row.
type Summary struct {
	ID        change.Entity
	FirstName string
	LastName  string
	Nickname  string
	Employed  bool
}

// Name renders the summary's display name.
func (s Summary) Name(style NameStyle) string {
	first, last := s.FirstName, s.LastName
	if style == LastFirst {
		first, last = last, first
	}
	name := strings.TrimSpace(first + " " + last)
	if name == "" {
		return string(s.ID)
	}
	return name
}

// record holds one maid's (or the player's) fields.
type record map[change.Tag]change.Value

func (r record) str(kind change.Kind) string {
	s, _ := r[change.Of(kind)].AsString()
	return s
}

func (r record) tagsOf(kinds ...change.Kind) []change.Tag {
	var out []change.Tag
	for tag := range r {
		for _, kind := range kinds {
			if tag.Kind == kind {
				out = append(out, tag)
				break
			}
		}
	}
	sortTags(out)
	return out
}

func sortTags(tags []change.Tag) {
	sort.Slice(tags, func(i, j int) bool { return tags[i].Less(tags[j]) })
}

// zeroOf is the value a field reads as before it was ever assigned.
func zeroOf(kind change.Kind) change.Value {
	switch kind.ValueType() {
	case change.TypeInt:
		return change.Int(0)
	case change.TypeBool:
		return change.Bool(false)
	default:
		return change.String("")
	}
}

// scalarKinds lists the non-indexed maid kinds every record tracks.
func scalarKinds() []change.Kind {
	var out []change.Kind
	for _, kind := range change.Kinds() {
		if kind.Indexed() || kind.Aggregate() || kind.Player() {
			continue
		}
		out = append(out, kind)
	}
	return out
}

// Bonus values are the stats class levels feed into.
var bonusKinds = []change.Kind{change.Hp, change.Mind, change.Reason}

// expansion maps an aggregate or bare indexed tag to the kinds it covers.
func expansion(tag change.Tag) (indexed []change.Kind, scalar []change.Kind, ok bool) {
	maidClass := []change.Kind{change.MaidClassLevel, change.MaidClassExp, change.HasMaidClass}
	yotogiClass := []change.Kind{change.YotogiClassLevel, change.YotogiClassExp, change.HasYotogiClass}
	switch tag.Kind {
	case change.MaidClassType:
		return maidClass, nil, true
	case change.YotogiClassType:
		return yotogiClass, nil, true
	case change.MaidAndYotogiClass:
		return append(maidClass, yotogiClass...), bonusKinds, true
	case change.BonusValues:
		return nil, bonusKinds, true
	case change.Feature, change.Propensity:
		if tag.HasIndex() {
			return nil, nil, false
		}
		return []change.Kind{tag.Kind}, nil, true
	default:
		return nil, nil, false
	}
}

// classAggregate names the ClassUpdated tag raised when kind changes.
func classAggregate(kind change.Kind) (change.Tag, bool) {
	switch kind {
	case change.MaidClassLevel, change.MaidClassExp, change.HasMaidClass:
		return change.Of(change.MaidClassType), true
	case change.YotogiClassLevel, change.YotogiClassExp, change.HasYotogiClass:
		return change.Of(change.YotogiClassType), true
	default:
		return change.Tag{}, false
	}
}

// limit is the clamping range applied to integer fields unless lifted.
func limit(kind change.Kind) (lo, hi int64) {
	if kind == change.PlayerMoney {
		return 0, 9_999_999_999
	}
	return 0, 9999
}
