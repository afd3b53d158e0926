package phonetic_test

import (
	"testing"

	"github.com/openparley/parley/internal/transcript/phonetic"
)

func devVocabulary() []string {
	return []string{
		"Grafana",
		"Kubernetes",
		"pull request",
		"PostgreSQL",
		"Redis",
		"visual studio code",
	}
}

func TestMatchExactIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	m := phonetic.New(devVocabulary())

	corrected, confidence, matched := m.Match("grafana")
	if !matched {
		t.Fatal("expected exact term to match")
	}
	if corrected != "Grafana" {
		t.Errorf("corrected = %q, want %q", corrected, "Grafana")
	}
	if confidence < 0.9 {
		t.Errorf("confidence = %.3f, want >= 0.9", confidence)
	}
}

func TestMatchMishearing(t *testing.T) {
	t.Parallel()

	m := phonetic.New(devVocabulary())

	// "graphana" and "grafana" share the Double Metaphone code KRFN
	// (PH and F collapse), so the phonetic threshold of 0.70 applies.
	corrected, confidence, matched := m.Match("graphana")
	if !matched {
		t.Fatal("expected misheard term to match")
	}
	if corrected != "Grafana" {
		t.Errorf("corrected = %q, want %q", corrected, "Grafana")
	}
	if confidence < 0.7 || confidence > 1.0 {
		t.Errorf("confidence = %.3f, want in [0.7, 1.0]", confidence)
	}
}

func TestMatchMultiWordTerm(t *testing.T) {
	t.Parallel()

	m := phonetic.New(devVocabulary())

	corrected, confidence, matched := m.Match("paul request")
	if !matched {
		t.Fatal("expected misheard multi-word term to match")
	}
	if corrected != "pull request" {
		t.Errorf("corrected = %q, want %q", corrected, "pull request")
	}
	if confidence < 0.7 {
		t.Errorf("confidence = %.3f, want >= 0.7", confidence)
	}
}

func TestMatchShiftedWordBoundary(t *testing.T) {
	t.Parallel()

	m := phonetic.New(devVocabulary())

	// The onset codes differ ("pullre" vs "pull"), so this rides the
	// fuzzy path where the space-stripped forms compare as identical.
	corrected, confidence, matched := m.Match("pullre quest")
	if !matched {
		t.Fatal("expected shifted word boundary to match")
	}
	if corrected != "pull request" {
		t.Errorf("corrected = %q, want %q", corrected, "pull request")
	}
	if confidence < 0.99 {
		t.Errorf("confidence = %.3f, want >= 0.99", confidence)
	}
}

func TestMatchRequiresSameWordCount(t *testing.T) {
	t.Parallel()

	m := phonetic.New(devVocabulary())

	// "in redis" contains a vocabulary term but is a two-word phrase;
	// matching it against the one-word term would eat the preposition.
	corrected, confidence, matched := m.Match("in redis")
	if matched {
		t.Fatalf("expected no match, got %q (confidence %.3f)", corrected, confidence)
	}
	if corrected != "in redis" {
		t.Errorf("corrected = %q, want input unchanged", corrected)
	}
}

func TestMatchRejectsOffsetOverlap(t *testing.T) {
	t.Parallel()

	m := phonetic.New(devVocabulary())

	// A window overlapping two thirds of a term at an offset scores high
	// on the space-stripped comparison but fails the onset anchor, and
	// the fuzzy threshold alone is not met.
	if corrected, _, matched := m.Match("open vizual studio"); matched {
		t.Fatalf("expected no match for offset overlap, got %q", corrected)
	}

	// The aligned window still matches.
	corrected, _, matched := m.Match("vizual studio code")
	if !matched {
		t.Fatal("expected aligned window to match")
	}
	if corrected != "visual studio code" {
		t.Errorf("corrected = %q, want %q", corrected, "visual studio code")
	}
}

func TestMatchRejectsUnrelatedWord(t *testing.T) {
	t.Parallel()

	m := phonetic.New([]string{"Grafana", "pgvector"})

	corrected, confidence, matched := m.Match("hello")
	if matched {
		t.Fatalf("expected no match, got %q", corrected)
	}
	if corrected != "hello" {
		t.Errorf("corrected = %q, want input unchanged", corrected)
	}
	if confidence != 0 {
		t.Errorf("confidence = %.3f, want 0", confidence)
	}
}

func TestMatchThresholdFiltering(t *testing.T) {
	t.Parallel()

	m := phonetic.New(devVocabulary(),
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)

	if corrected, _, matched := m.Match("graphana"); matched {
		t.Fatalf("expected strict thresholds to reject mishearing, got %q", corrected)
	}

	// An exact term clears any threshold.
	corrected, _, matched := m.Match("grafana")
	if !matched {
		t.Fatal("expected exact term to match under strict thresholds")
	}
	if corrected != "Grafana" {
		t.Errorf("corrected = %q, want %q", corrected, "Grafana")
	}
}

func TestEmptyVocabulary(t *testing.T) {
	t.Parallel()

	for _, vocab := range [][]string{nil, {}, {"", "   "}} {
		m := phonetic.New(vocab)
		if !m.Empty() {
			t.Errorf("Empty() = false for vocabulary %q", vocab)
		}
		corrected, confidence, matched := m.Match("grafana")
		if matched || corrected != "grafana" || confidence != 0 {
			t.Errorf("Match on empty vocabulary = (%q, %.3f, %v), want pass-through",
				corrected, confidence, matched)
		}
	}
}

func TestMatchEmptyPhrase(t *testing.T) {
	t.Parallel()

	m := phonetic.New(devVocabulary())

	if _, _, matched := m.Match("   "); matched {
		t.Error("expected blank phrase not to match")
	}
}

func TestMaxWords(t *testing.T) {
	t.Parallel()

	if got := phonetic.New(devVocabulary()).MaxWords(); got != 3 {
		t.Errorf("MaxWords() = %d, want 3", got)
	}
	if got := phonetic.New(nil).MaxWords(); got != 0 {
		t.Errorf("MaxWords() on empty vocabulary = %d, want 0", got)
	}
}
