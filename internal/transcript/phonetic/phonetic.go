// Package phonetic matches spoken phrases against a fixed vocabulary using
// Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity for ranked selection.
//
// The algorithm proceeds in two stages:
//
//  1. Onset filtering: Double Metaphone codes are computed for the first
//     word of the input and compared with the precomputed codes of each
//     term's first word. Word onsets survive mishearing far better than
//     tails, so an overlap there makes the term a phonetic candidate —
//     and a missing overlap keeps loosely similar windows from matching.
//
//  2. Jaro-Winkler ranking: among phonetic candidates, the term with the
//     highest similarity (computed on the original strings,
//     case-insensitive) is selected — provided its score exceeds the
//     configurable phonetic threshold.
//
//     When no phonetic candidate is found, a secondary pass tests pure
//     Jaro-Winkler similarity against all terms using a higher fuzzy
//     threshold (default 0.85).
//
// Matching is shape-preserving: a phrase is only compared against terms
// with the same word count. Callers correcting running text slide n-gram
// windows sized by the vocabulary (see [Matcher.MaxWords]); within a size,
// ranking considers both the spaced and the space-stripped forms so shifted
// word boundaries ("pullre quest") still score.
//
// The vocabulary is prepared once at construction, so per-call work is one
// encoding pass over the input plus a scan of the same-sized terms. A
// Matcher is read-only after construction and safe for concurrent use.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-anchored term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// term is one prepared vocabulary entry.
type term struct {
	canonical  string // original casing, returned on match
	lower      string
	tokens     []string
	onsetCodes map[string]struct{} // Double Metaphone codes of the first word
}

// Matcher resolves misheard phrases to vocabulary terms.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64

	terms    []term
	maxWords int
}

// New prepares the given vocabulary and returns a Matcher over it. Blank
// entries are skipped. Default thresholds are 0.70 for phonetic matches and
// 0.85 for fuzzy fallback matches.
func New(vocabulary []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}

	m.terms = make([]term, 0, len(vocabulary))
	for _, v := range vocabulary {
		lower := strings.ToLower(strings.TrimSpace(v))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		m.terms = append(m.terms, term{
			canonical:  strings.TrimSpace(v),
			lower:      lower,
			tokens:     tokens,
			onsetCodes: codesFor(tokens[0]),
		})
		if len(tokens) > m.maxWords {
			m.maxWords = len(tokens)
		}
	}
	return m
}

// Empty reports whether the vocabulary has no usable terms.
func (m *Matcher) Empty() bool { return len(m.terms) == 0 }

// MaxWords returns the word count of the longest vocabulary term. Callers
// sliding n-gram windows over a transcript use it as the window bound.
func (m *Matcher) MaxWords() int { return m.maxWords }

// Match attempts to find the vocabulary term most phonetically similar to
// phrase. Only terms whose word count equals the phrase's token count are
// considered.
//
// When matched is false, corrected equals phrase unchanged and confidence
// is 0.
func (m *Matcher) Match(phrase string) (corrected string, confidence float64, matched bool) {
	if len(m.terms) == 0 || strings.TrimSpace(phrase) == "" {
		return phrase, 0, false
	}

	phraseLower := strings.ToLower(strings.TrimSpace(phrase))
	phraseTokens := strings.Fields(phraseLower)
	onsetCodes := codesFor(phraseTokens[0])

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}

	var best candidate

	for _, t := range m.terms {
		if len(t.tokens) != len(phraseTokens) {
			continue
		}
		anchored := codesOverlap(onsetCodes, t.onsetCodes)
		jwScore := bestJWScore(phraseTokens, t.tokens, phraseLower, t.lower)

		if anchored {
			if jwScore >= m.phoneticThreshold {
				if !best.phonetic || jwScore > best.score {
					best = candidate{term: t.canonical, score: jwScore, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if jwScore >= m.fuzzyThreshold && jwScore > best.score {
				best = candidate{term: t.canonical, score: jwScore, phonetic: false}
			}
		}
	}

	if best.term != "" {
		return best.term, best.score, true
	}
	return phrase, 0, false
}

// codesFor returns the Double Metaphone codes of a single word. Empty codes
// (produced when the word is too short or contains no consonants) are
// excluded.
func codesFor(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set.
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and the term using two strategies:
//
//  1. Full-string comparison (e.g., "paul request" vs "pull request").
//  2. Space-stripped comparison, which carries shifted word boundaries
//     (e.g., "pullre quest" vs "pull request").
//
// Per-token pairwise scoring is deliberately not used: it would score any
// shared word ("of", "the") at 1.0 and garble running text.
func bestJWScore(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	return score
}
