package maid

import (
	"context"
	"fmt"

	"github.com/kingrea/maidsync/internal/change"
)

type seedMaid struct {
	first, last, nick, personality string
}

var demoRoster = []seedMaid{
	{"Aya", "Hoshino", "Ayan", "Pure"},
	{"Rin", "Kisaragi", "Rinrin", "Cool"},
	{"Mio", "Tachibana", "Mii", "Pride"},
	{"Sana", "Kurosawa", "Sa-chan", "Yandere"},
	{"Yui", "Amamiya", "Yuiyui", "Childhood Friend"},
	{"Nao", "Shirakawa", "Nao", "Ladylike"},
}

// Seed hires a deterministic demo roster and player record when the store
// is empty. It returns how many maids were added.
func Seed(ctx context.Context, s *Store) (int, error) {
	if s.Len() > 0 {
		return 0, nil
	}
	for i, m := range demoRoster {
		id := change.Entity(fmt.Sprintf("maid-%02d", i+1))
		if err := s.Hire(ctx, id, demoFields(i, m)); err != nil {
			return i, err
		}
	}
	player := map[change.Kind]change.Value{
		change.PlayerName:      change.String("Master"),
		change.PlayerMoney:     change.Int(1_000_000),
		change.PlayerDays:      change.Int(1),
		change.PlayerClubGrade: change.Int(1),
		change.PlayerClubGauge: change.Int(0),
	}
	for _, kind := range change.Kinds() {
		v, ok := player[kind]
		if !ok {
			continue
		}
		if err := s.commit(ctx, "", change.Of(kind), v); err != nil {
			return len(demoRoster), err
		}
	}
	return len(demoRoster), nil
}

func demoFields(i int, m seedMaid) map[change.Tag]change.Value {
	n := int64(i)
	fields := map[change.Tag]change.Value{
		change.Of(change.FirstName):   change.String(m.first),
		change.Of(change.LastName):    change.String(m.last),
		change.Of(change.Nickname):    change.String(m.nick),
		change.Of(change.Personality): change.String(m.personality),
		change.Of(change.Contract):    change.String("Exclusive"),
		change.Of(change.Condition):   change.String("Normal"),
		change.Of(change.Employed):    change.Bool(true),
		change.Of(change.Leader):      change.Bool(i == 0),
		change.Of(change.Hp):          change.Int(100 + 10*n),
		change.Of(change.Mind):        change.Int(80 + 5*n),
		change.Of(change.Reason):      change.Int(60 + 3*n),
		change.Of(change.Likability):  change.Int(20 * n),
		change.Of(change.Love):        change.Int(15 * n),
		change.Of(change.Lust):        change.Int(10 * n),
		change.Of(change.Evaluation):  change.Int(500 * (n + 1)),
		change.Of(change.Sales):       change.Int(1200 * (n + 1)),
		change.Of(change.Popularity):  change.Int(40 + n),
	}
	for c := 0; c < 3; c++ {
		owned := c <= i%3
		fields[change.At(change.HasMaidClass, c)] = change.Bool(owned)
		fields[change.At(change.MaidClassLevel, c)] = change.Int(levelIf(owned, int64(c)+n))
		fields[change.At(change.MaidClassExp, c)] = change.Int(levelIf(owned, 100*(n+1)))
		fields[change.At(change.HasYotogiClass, c)] = change.Bool(owned && c < 2)
		fields[change.At(change.YotogiClassLevel, c)] = change.Int(levelIf(owned && c < 2, n+1))
		fields[change.At(change.YotogiClassExp, c)] = change.Int(levelIf(owned && c < 2, 50*(n+1)))
	}
	for skill := 0; skill < 8; skill++ {
		owned := (skill+i)%3 != 0
		fields[change.At(change.HasSkill, skill)] = change.Bool(owned)
		fields[change.At(change.SkillLevel, skill)] = change.Int(levelIf(owned, int64(skill%5)+1))
	}
	for work := 0; work < 6; work++ {
		owned := (work+i)%2 == 0
		fields[change.At(change.HasWork, work)] = change.Bool(owned)
		fields[change.At(change.WorkLevel, work)] = change.Int(levelIf(owned, int64(work%4)+1))
		fields[change.At(change.NoonWorkForced, work)] = change.Bool(false)
		fields[change.At(change.NightWorkForced, work)] = change.Bool(false)
	}
	for f := 0; f < 5; f++ {
		fields[change.At(change.Feature, f)] = change.Bool((f+i)%4 == 0)
		fields[change.At(change.Propensity, f)] = change.Bool((f*i)%3 == 1)
	}
	return fields
}

func levelIf(owned bool, level int64) int64 {
	if owned {
		return level
	}
	return 0
}
