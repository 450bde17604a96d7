// Package similarity provides the hashing, edit-distance, phonetic, and
// composite name-similarity primitives used by lineage tracking and
// deduplication.
package similarity

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Hash returns a deterministic hex digest of the value. Lineage records store
// these digests instead of raw values so provenance can be verified without
// persisting PHI.
func Hash(value string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(value))
}

// EditDistance returns the Levenshtein distance between a and b with unit
// costs for insert, delete, and substitute.
func EditDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// soundexClass maps a consonant to its Soundex digit, or 0 for vowels and
// letters that are dropped.
func soundexClass(c byte) byte {
	switch c {
	case 'B', 'F', 'P', 'V':
		return '1'
	case 'C', 'G', 'J', 'K', 'Q', 'S', 'X', 'Z':
		return '2'
	case 'D', 'T':
		return '3'
	case 'L':
		return '4'
	case 'M', 'N':
		return '5'
	case 'R':
		return '6'
	}
	return 0
}

// PhoneticCode returns a 4-character Soundex-style code: the leading letter
// followed by consonant-class digits, consecutive duplicates collapsed,
// right-padded with '0'. Empty input yields an empty code.
func PhoneticCode(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	code := []byte{s[0]}
	last := soundexClass(s[0])
	for i := 1; i < len(s) && len(code) < 4; i++ {
		c := s[i]
		if c < 'A' || c > 'Z' {
			continue
		}
		digit := soundexClass(c)
		if digit == 0 {
			last = 0
			continue
		}
		if digit != last {
			code = append(code, digit)
		}
		last = digit
	}
	for len(code) < 4 {
		code = append(code, '0')
	}
	return string(code)
}

// trigrams returns the set of 3-grams of s padded with two leading and
// trailing sentinels, so short strings still produce a usable set.
func trigrams(s string) map[string]struct{} {
	padded := "  " + strings.ToLower(s) + "  "
	set := make(map[string]struct{}, len(padded))
	for i := 0; i+3 <= len(padded); i++ {
		set[padded[i:i+3]] = struct{}{}
	}
	return set
}

// TrigramOverlap returns the Jaccard similarity of the padded trigram sets of
// a and b.
func TrigramOverlap(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// NameSimilarity scores how likely two names refer to the same person, in
// [0, 1]. Exact matches score 1.0 and an empty side scores 0. Otherwise the
// score is a phonetic bonus plus weighted edit-distance and trigram terms,
// clipped to 1.0.
func NameSimilarity(n1, n2 string) float64 {
	a := strings.ToLower(strings.TrimSpace(n1))
	b := strings.ToLower(strings.TrimSpace(n2))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}

	score := 0.0
	if PhoneticCode(a) == PhoneticCode(b) {
		score += 0.3
	}

	dist := EditDistance(a, b)
	longest := len([]rune(a))
	if lb := len([]rune(b)); lb > longest {
		longest = lb
	}
	score += 0.35 * (1 - float64(dist)/float64(longest))
	score += 0.35 * TrigramOverlap(a, b)

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
