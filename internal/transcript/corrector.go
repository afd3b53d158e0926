// Package transcript fixes recognition errors in domain vocabulary before
// the text reaches generation.
//
// One-shot recognizers are rarely perfect for proper nouns and technical
// terms — product names, project jargon and configured wake phrases are
// frequently misheard. The [Corrector] slides n-gram windows over the
// recognized text and replaces windows that phonetically align with a
// configured hotword, longest window first so multi-word hotwords take
// precedence over partial single-word matches.
//
// Each [Correction] records the substitution and its confidence so callers
// can log or audit the changes. Correction is pure CPU work (no network, no
// model calls) and adds microseconds to the turn.
package transcript

import (
	"strings"

	"github.com/openparley/parley/internal/transcript/phonetic"
)

// Correction captures a single window substitution made by the corrector.
type Correction struct {
	// Original is the text window as produced by the recognizer.
	Original string

	// Corrected is the hotword that replaced it.
	Corrected string

	// Confidence is the similarity score behind the substitution (0.0–1.0).
	Confidence float64
}

// Corrector applies hotword corrections to recognized text. It is read-only
// after construction and safe for concurrent use.
type Corrector struct {
	matcher *phonetic.Matcher
}

// NewCorrector returns a Corrector backed by the given matcher. A nil
// matcher (or one with an empty vocabulary) yields a pass-through corrector.
func NewCorrector(m *phonetic.Matcher) *Corrector {
	return &Corrector{matcher: m}
}

// Correct replaces misheard hotword windows in text and returns the
// corrected text together with the substitutions applied, in text order.
// When nothing matches, the text is returned unchanged and corrections is
// nil.
//
// At each token position, windows are tried from the longest hotword's word
// count down to one token; the first (longest) match wins and the cursor
// advances past the consumed window. Unmatched tokens pass through
// unchanged; inter-token whitespace is normalised to single spaces.
func (c *Corrector) Correct(text string) (corrected string, corrections []Correction) {
	if c.matcher == nil || c.matcher.Empty() {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	maxWords := c.matcher.MaxWords()
	output := make([]string, 0, len(tokens))

	i := 0
	for i < len(tokens) {
		maxN := maxWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			hotword, conf, ok := c.matcher.Match(window)
			if !ok {
				continue
			}
			output = append(output, strings.Fields(hotword)...)
			if hotword != window {
				corrections = append(corrections, Correction{
					Original:   window,
					Corrected:  hotword,
					Confidence: conf,
				})
			}
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	if corrections == nil {
		return text, nil
	}
	return strings.Join(output, " "), corrections
}
