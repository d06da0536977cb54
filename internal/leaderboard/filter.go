package leaderboard

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

type usernames []Entry

func (u usernames) String(i int) string { return u[i].Username }
func (u usernames) Len() int            { return len(u) }

// Ranked is an entry together with its position on the full leaderboard.
type Ranked struct {
	Entry
	Rank int
}

// FilterEntries fuzzy-matches pattern against usernames. Results keep leaderboard order
// so ranks stay readable. An empty pattern returns every entry.
func FilterEntries(entries []Entry, pattern string) []Ranked {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		out := make([]Ranked, len(entries))
		for i, e := range entries {
			out[i] = Ranked{Entry: e, Rank: i}
		}
		return out
	}

	matches := fuzzy.FindFrom(pattern, usernames(entries))
	hit := make([]bool, len(entries))
	for _, m := range matches {
		hit[m.Index] = true
	}
	out := make([]Ranked, 0, len(matches))
	for i, e := range entries {
		if hit[i] {
			out = append(out, Ranked{Entry: e, Rank: i})
		}
	}
	return out
}
