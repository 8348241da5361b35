package textutil

import (
	"regexp"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.Trim(name, " \n\t")
	name = whitespaceRegex.ReplaceAllString(name, "")
	return name
}

// SequencePattern matches text containing every non-empty part, in order,
// case-insensitively and with anything in between.
func SequencePattern(parts ...string) *regexp.Regexp {
	var quoted []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(p))
	}
	return regexp.MustCompile(`(?i)` + strings.Join(quoted, `.*`))
}

type Suggestion struct {
	Value      string
	Similarity float64
}

// Suggest ranks candidates by Jaro-Winkler similarity to name (after
// normalization) and returns the best `limit` with a similarity of at least
// `threshold`.
func Suggest(name string, candidates []string, threshold float64, limit int) []Suggestion {
	normalized := NormalizeName(name)

	var out []Suggestion
	for _, c := range candidates {
		similarity := matchr.JaroWinkler(normalized, NormalizeName(c), false)
		if similarity < threshold {
			continue
		}
		out = append(out, Suggestion{Value: c, Similarity: similarity})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
