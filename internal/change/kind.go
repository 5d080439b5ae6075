package change

import (
	"fmt"
	"strings"
)

// ValueType is the expected type of a field's value.
type ValueType int

const (
	TypeNone ValueType = iota
	TypeInt
	TypeBool
	TypeString
)

func (t ValueType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	default:
		return "none"
	}
}

// Group clusters kinds the way the display lays them out.
type Group string

const (
	GroupInfo      Group = "info"
	GroupStats     Group = "stats"
	GroupClasses   Group = "classes"
	GroupYotogi    Group = "yotogi"
	GroupSkills    Group = "skills"
	GroupWork      Group = "work"
	GroupFeatures  Group = "features"
	GroupAggregate Group = "aggregate"
	GroupPlayer    Group = "player"
)

// Kind enumerates every piece of mutable state a notification can name.
type Kind uint16

const (
	KindInvalid Kind = iota

	FirstName
	LastName
	Nickname
	Personality
	Contract
	Condition
	Employed
	Leader
	Hp
	Mind
	Reason
	Likability
	Love
	Lust
	Evaluation
	Sales
	Popularity

	MaidClassLevel
	MaidClassExp
	HasMaidClass
	YotogiClassLevel
	YotogiClassExp
	HasYotogiClass
	SkillLevel
	HasSkill
	WorkLevel
	HasWork
	Feature
	Propensity
	NoonWorkForced
	NightWorkForced

	MaidClassType
	YotogiClassType
	MaidAndYotogiClass
	BonusValues

	PlayerName
	PlayerMoney
	PlayerDays
	PlayerClubGrade
	PlayerClubGauge

	kindCount
)

type kindInfo struct {
	name    string
	typ     ValueType
	indexed bool
	group   Group
}

var kinds = [kindCount]kindInfo{
	KindInvalid: {name: "Invalid"},

	FirstName:   {"FirstName", TypeString, false, GroupInfo},
	LastName:    {"LastName", TypeString, false, GroupInfo},
	Nickname:    {"Nickname", TypeString, false, GroupInfo},
	Personality: {"Personality", TypeString, false, GroupInfo},
	Contract:    {"Contract", TypeString, false, GroupInfo},
	Condition:   {"Condition", TypeString, false, GroupInfo},
	Employed:    {"Employed", TypeBool, false, GroupInfo},
	Leader:      {"Leader", TypeBool, false, GroupInfo},
	Hp:          {"Hp", TypeInt, false, GroupStats},
	Mind:        {"Mind", TypeInt, false, GroupStats},
	Reason:      {"Reason", TypeInt, false, GroupStats},
	Likability:  {"Likability", TypeInt, false, GroupStats},
	Love:        {"Love", TypeInt, false, GroupStats},
	Lust:        {"Lust", TypeInt, false, GroupStats},
	Evaluation:  {"Evaluation", TypeInt, false, GroupStats},
	Sales:       {"Sales", TypeInt, false, GroupStats},
	Popularity:  {"Popularity", TypeInt, false, GroupStats},

	MaidClassLevel:   {"MaidClassLevel", TypeInt, true, GroupClasses},
	MaidClassExp:     {"MaidClassExp", TypeInt, true, GroupClasses},
	HasMaidClass:     {"HasMaidClass", TypeBool, true, GroupClasses},
	YotogiClassLevel: {"YotogiClassLevel", TypeInt, true, GroupYotogi},
	YotogiClassExp:   {"YotogiClassExp", TypeInt, true, GroupYotogi},
	HasYotogiClass:   {"HasYotogiClass", TypeBool, true, GroupYotogi},
	SkillLevel:       {"SkillLevel", TypeInt, true, GroupSkills},
	HasSkill:         {"HasSkill", TypeBool, true, GroupSkills},
	WorkLevel:        {"WorkLevel", TypeInt, true, GroupWork},
	HasWork:          {"HasWork", TypeBool, true, GroupWork},
	Feature:          {"Feature", TypeBool, true, GroupFeatures},
	Propensity:       {"Propensity", TypeBool, true, GroupFeatures},
	NoonWorkForced:   {"NoonWorkForced", TypeBool, true, GroupWork},
	NightWorkForced:  {"NightWorkForced", TypeBool, true, GroupWork},

	MaidClassType:      {"MaidClassType", TypeNone, false, GroupAggregate},
	YotogiClassType:    {"YotogiClassType", TypeNone, false, GroupAggregate},
	MaidAndYotogiClass: {"MaidAndYotogiClass", TypeNone, false, GroupAggregate},
	BonusValues:        {"BonusValues", TypeNone, false, GroupAggregate},

	PlayerName:      {"PlayerName", TypeString, false, GroupPlayer},
	PlayerMoney:     {"PlayerMoney", TypeInt, false, GroupPlayer},
	PlayerDays:      {"PlayerDays", TypeInt, false, GroupPlayer},
	PlayerClubGrade: {"PlayerClubGrade", TypeInt, false, GroupPlayer},
	PlayerClubGauge: {"PlayerClubGauge", TypeInt, false, GroupPlayer},
}

var kindsByName = func() map[string]Kind {
	out := make(map[string]Kind, kindCount)
	for k := KindInvalid + 1; k < kindCount; k++ {
		out[strings.ToLower(kinds[k].name)] = k
	}
	return out
}()

// Valid reports whether k names a known kind.
func (k Kind) Valid() bool {
	return k > KindInvalid && k < kindCount
}

func (k Kind) String() string {
	if k >= kindCount {
		return fmt.Sprintf("Kind(%d)", uint16(k))
	}
	return kinds[k].name
}

// ValueType returns the type a field of this kind holds. Aggregates hold none.
func (k Kind) ValueType() ValueType {
	if !k.Valid() {
		return TypeNone
	}
	return kinds[k].typ
}

// Indexed reports whether tags of this kind carry a sub-index.
func (k Kind) Indexed() bool {
	return k.Valid() && kinds[k].indexed
}

// Group returns the layout group of the kind.
func (k Kind) Group() Group {
	if !k.Valid() {
		return ""
	}
	return kinds[k].group
}

// Aggregate reports whether the kind names a derived set of fields rather
// than a single one.
func (k Kind) Aggregate() bool {
	return k.Group() == GroupAggregate
}

// Player reports whether the kind belongs to the player record, which is
// not scoped to the selected maid.
func (k Kind) Player() bool {
	return k.Group() == GroupPlayer
}

// ParseKind resolves a kind by its case-insensitive name.
func ParseKind(name string) (Kind, error) {
	k, ok := kindsByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return KindInvalid, fmt.Errorf("change: unknown kind %q", name)
	}
	return k, nil
}

// Kinds returns every valid kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := KindInvalid + 1; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}
