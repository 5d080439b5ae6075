// Package change defines the identifier space for "what changed": tags naming
// one logical piece of mutable state, the typed values those fields hold, and
// the identity of the entity a change belongs to.
package change

import (
	"fmt"
	"strconv"
	"strings"
)

// NoIndex marks a tag whose kind is not indexed.
const NoIndex = -1

// Entity identifies a mirrored record. The empty Entity means "none".
type Entity string

// None reports whether e is the empty identity.
func (e Entity) None() bool {
	return strings.TrimSpace(string(e)) == ""
}

// Tag names one logical piece of mutable state: a kind plus an optional
// sub-index such as a class slot or a skill id. Tags are comparable and are
// the unit of deduplication.
type Tag struct {
	Kind  Kind
	Index int
}

// Of returns the tag for a non-indexed kind.
func Of(kind Kind) Tag {
	return Tag{Kind: kind, Index: NoIndex}
}

// At returns the tag for slot idx of an indexed kind.
func At(kind Kind, idx int) Tag {
	return Tag{Kind: kind, Index: idx}
}

// HasIndex reports whether the tag carries a sub-index.
func (t Tag) HasIndex() bool {
	return t.Index != NoIndex
}

// Valid reports whether the tag is well formed for its kind.
func (t Tag) Valid() bool {
	if !t.Kind.Valid() {
		return false
	}
	if t.Kind.Indexed() {
		return t.Index >= 0
	}
	return t.Index == NoIndex
}

// Less orders tags by kind, then index.
func (t Tag) Less(other Tag) bool {
	if t.Kind != other.Kind {
		return t.Kind < other.Kind
	}
	return t.Index < other.Index
}

func (t Tag) String() string {
	if !t.HasIndex() {
		return t.Kind.String()
	}
	return t.Kind.String() + "#" + strconv.Itoa(t.Index)
}

// MarshalText renders the tag in its String form; the zero Tag renders empty.
func (t Tag) MarshalText() ([]byte, error) {
	if t == (Tag{}) {
		return []byte{}, nil
	}
	if !t.Valid() {
		return nil, fmt.Errorf("change: invalid tag %s", t)
	}
	return []byte(t.String()), nil
}

// UnmarshalText parses the String form.
func (t *Tag) UnmarshalText(text []byte) error {
	if len(strings.TrimSpace(string(text))) == 0 {
		*t = Tag{}
		return nil
	}
	parsed, err := ParseTag(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTag is the inverse of Tag.String: "Hp", "Skill#7".
func ParseTag(raw string) (Tag, error) {
	raw = strings.TrimSpace(raw)
	name, idxText, indexed := strings.Cut(raw, "#")
	kind, err := ParseKind(name)
	if err != nil {
		return Tag{}, err
	}
	tag := Of(kind)
	if indexed {
		idx, err := strconv.Atoi(strings.TrimSpace(idxText))
		if err != nil {
			return Tag{}, fmt.Errorf("change: tag %q: bad index: %w", raw, err)
		}
		tag.Index = idx
	}
	if !tag.Valid() {
		return Tag{}, fmt.Errorf("change: tag %q does not match kind %s", raw, kind)
	}
	return tag, nil
}
