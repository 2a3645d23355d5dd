package discovery

import (
	"sort"
	"strings"

	"github.com/varietylab/varietyd"
)

// Select ranks candidates and returns the winner. Ranking is deterministic:
//
//  1. exact capability-keyword match count against the requested name
//  2. source-provided score
//  3. lexically shortest package name
//
// An empty candidate list fails with varietyd.ErrNoCandidate — there is no
// fallback to another capability or to simulated behavior.
func Select(capability string, candidates []varietyd.Candidate) (varietyd.Candidate, error) {
	if len(candidates) == 0 {
		return varietyd.Candidate{}, varietyd.ErrNoCandidate
	}

	ranked := make([]varietyd.Candidate, len(candidates))
	copy(ranked, candidates)

	sort.SliceStable(ranked, func(i, j int) bool {
		mi, mj := keywordMatches(capability, ranked[i]), keywordMatches(capability, ranked[j])
		if mi != mj {
			return mi > mj
		}
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		ni, nj := ranked[i].PackageName, ranked[j].PackageName
		if len(ni) != len(nj) {
			return len(ni) < len(nj)
		}
		return ni < nj
	})

	return ranked[0], nil
}

// keywordMatches counts how many tokens of the requested capability appear
// exactly among the candidate's name and capability tokens.
func keywordMatches(capability string, c varietyd.Candidate) int {
	have := make(map[string]bool)
	for _, tok := range tokens(c.PackageName) {
		have[tok] = true
	}
	for _, kw := range c.Capabilities {
		for _, tok := range tokens(kw) {
			have[tok] = true
		}
	}

	n := 0
	for _, tok := range tokens(capability) {
		if have[tok] {
			n++
		}
	}
	return n
}

// tokens splits a name on the separators that appear in capability and
// package names.
func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		switch r {
		case '-', '_', '/', '@', '.', ' ':
			return true
		}
		return false
	})
}
