package diagnosis

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
)

// matchThreshold is the minimum normalized similarity for a qualifier to
// count as a hit against a reference phrase.
const matchThreshold = 0.8

// DefaultLexicon is the built-in table of clinically distinctive reference
// phrases, grouped by category. It is used when no external lexicon file is
// configured, which is the only silently degraded behavior in the pipeline.
func DefaultLexicon() map[string][]string {
	return map[string][]string{
		"dermatologic": {
			"slapped cheek",
			"target lesion",
			"bullseye rash",
			"sandpaper rash",
			"strawberry tongue",
			"petechiae",
			"vesicular rash",
		},
		"neurologic": {
			"nuchal rigidity",
			"photophobia",
			"focal weakness",
		},
		"respiratory": {
			"barking cough",
			"stridor",
			"whooping cough",
		},
	}
}

// LoadLexicon reads a category to reference-phrase table from a JSON file.
func LoadLexicon(path string) (map[string][]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var table map[string][]string
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, err
	}
	return table, nil
}

// Matcher fuzzy-matches free-text qualifiers against a curated table of
// reference phrases. Matching never errors; an unmatched input simply
// returns ok=false.
type Matcher struct {
	categories []string // sorted for deterministic iteration
	table      map[string][]string
}

// NewMatcher builds a Matcher over the given table. A nil or empty table
// falls back to DefaultLexicon.
func NewMatcher(table map[string][]string) *Matcher {
	if len(table) == 0 {
		table = DefaultLexicon()
	}
	cats := make([]string, 0, len(table))
	for c := range table {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return &Matcher{categories: cats, table: table}
}

// Match returns the first reference phrase whose similarity to the input
// clears the threshold, or ok=false when none does. Categories are scanned
// in sorted order and phrases in listed order; the first hit wins even when
// a later phrase would score higher. A phrase is compared against every
// contiguous word window of the input with the same word count, which lets
// "slapped cheek appearance" hit "slapped cheek" while still tolerating
// misspellings.
func (m *Matcher) Match(text string) (string, bool) {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(words) == 0 {
		return "", false
	}
	for _, cat := range m.categories {
		for _, phrase := range m.table[cat] {
			if windowSimilarity(words, strings.Fields(strings.ToLower(phrase))) >= matchThreshold {
				return phrase, true
			}
		}
	}
	return "", false
}

// windowSimilarity slides a window of len(phrase) words over the input and
// returns the highest levenshtein ratio between the joined window and the
// joined phrase.
func windowSimilarity(words, phrase []string) float64 {
	if len(phrase) == 0 {
		return 0
	}
	target := strings.Join(phrase, " ")
	n := len(phrase)
	if n > len(words) {
		return levenshteinRatio(strings.Join(words, " "), target)
	}
	var best float64
	for i := 0; i+n <= len(words); i++ {
		if r := levenshteinRatio(strings.Join(words[i:i+n], " "), target); r > best {
			best = r
		}
	}
	return best
}

// levenshteinRatio is 1 - editDistance/maxLen, in [0,1].
func levenshteinRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, min(cur[j-1]+1, prev[j-1]+cost))
		}
		prev, cur = cur, prev
	}
	dist := prev[lb]
	return 1 - float64(dist)/float64(max(la, lb))
}
