// Package scoring provides the similarity primitives used by the fuzzy and
// specification matchers. All scores are in [0,1].
package scoring

import (
	"math"

	"github.com/okian/skumatch/internal/domain/normalize"
)

// Jaro-Winkler constants.
const (
	winklerPrefixMax = 4
	winklerScaling   = 0.1
)

// Levenshtein returns the edit distance between a and b, compared rune-wise.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// LevenshteinRatio is 1 - distance/maxLen. Two empty strings score 0 since there is
// nothing to compare.
func LevenshteinRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return 0
	}
	return 1 - float64(Levenshtein(a, b))/float64(max(la, lb))
}

// Jaro returns the Jaro similarity of a and b.
func Jaro(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	if a == b {
		return 1
	}

	matchDist := max(max(len(ra), len(rb))/2-1, 0)
	aMatched := make([]bool, len(ra))
	bMatched := make([]bool, len(rb))

	matches := 0
	for i := range ra {
		lo := max(0, i-matchDist)
		hi := min(len(rb), i+matchDist+1)
		for j := lo; j < hi; j++ {
			if bMatched[j] || ra[i] != rb[j] {
				continue
			}
			aMatched[i], bMatched[j] = true, true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := range ra {
		if !aMatched[i] {
			continue
		}
		for !bMatched[k] {
			k++
		}
		if ra[i] != rb[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	return (m/float64(len(ra)) + m/float64(len(rb)) + (m-float64(transpositions)/2)/m) / 3
}

// JaroWinkler boosts Jaro for a shared prefix of up to four runes.
func JaroWinkler(a, b string) float64 {
	j := Jaro(a, b)
	ra, rb := []rune(a), []rune(b)
	prefix := 0
	for i := 0; i < len(ra) && i < len(rb) && i < winklerPrefixMax; i++ {
		if ra[i] != rb[i] {
			break
		}
		prefix++
	}
	return j + float64(prefix)*winklerScaling*(1-j)
}

// TokenRatio averages, over the tokens of the shorter side, the best Levenshtein
// ratio against any token of the other side.
func TokenRatio(a, b string) float64 {
	ta, tb := normalize.Tokens(a), normalize.Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}
	total := 0.0
	for _, x := range ta {
		best := 0.0
		for _, y := range tb {
			if r := LevenshteinRatio(x, y); r > best {
				best = r
			}
		}
		total += best
	}
	// penalize unmatched extra tokens on the longer side
	coverage := float64(len(ta)) / float64(len(tb))
	return (total / float64(len(ta))) * (0.5 + 0.5*coverage)
}

// Similarity is the model/SKU similarity used by the fuzzy stage: the better of the
// whole-string ratio over compact forms and the token-level ratio.
func Similarity(a, b string) float64 {
	ca, cb := normalize.Compact(a), normalize.Compact(b)
	if ca == "" || cb == "" {
		return 0
	}
	if ca == cb {
		return 1
	}
	return math.Max(LevenshteinRatio(ca, cb), TokenRatio(a, b))
}

// CompactRatio is the whole-string Levenshtein ratio over compact forms, with no
// token-level credit.
func CompactRatio(a, b string) float64 {
	ca, cb := normalize.Compact(a), normalize.Compact(b)
	if ca == "" || cb == "" {
		return 0
	}
	if ca == cb {
		return 1
	}
	return LevenshteinRatio(ca, cb)
}

// WithinTolerance reports whether |a-b| <= tol.
func WithinTolerance(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol+1e-9
}

// Proximity maps the distance of a and b onto [0,1]: 1 when equal, 0 at or beyond 2*tol.
func Proximity(a, b, tol float64) float64 {
	if tol <= 0 {
		if a == b {
			return 1
		}
		return 0
	}
	d := math.Abs(a - b)
	return math.Max(0, 1-d/(2*tol))
}
