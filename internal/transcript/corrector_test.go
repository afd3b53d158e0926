package transcript_test

import (
	"testing"

	"github.com/openparley/parley/internal/transcript"
	"github.com/openparley/parley/internal/transcript/phonetic"
)

func TestCorrectorPassThrough(t *testing.T) {
	t.Parallel()

	for name, c := range map[string]*transcript.Corrector{
		"nil matcher":      transcript.NewCorrector(nil),
		"empty vocabulary": transcript.NewCorrector(phonetic.New(nil)),
	} {
		text := "nothing to see here"
		corrected, corrections := c.Correct(text)
		if corrected != text {
			t.Errorf("%s: Correct(%q) = %q, want unchanged", name, text, corrected)
		}
		if corrections != nil {
			t.Errorf("%s: corrections = %+v, want nil", name, corrections)
		}
	}
}

func TestCorrectorSingleWord(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector(phonetic.New([]string{"Grafana"}))

	corrected, corrections := c.Correct("please open graphana dashboard")
	if want := "please open Grafana dashboard"; corrected != want {
		t.Errorf("Correct() = %q, want %q", corrected, want)
	}
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1: %+v", len(corrections), corrections)
	}
	if corrections[0].Original != "graphana" || corrections[0].Corrected != "Grafana" {
		t.Errorf("correction = %+v, want graphana → Grafana", corrections[0])
	}
	if corrections[0].Confidence <= 0 {
		t.Error("correction confidence should be positive")
	}
}

func TestCorrectorMultiWordWindow(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector(phonetic.New([]string{"pull request", "Redis"}))

	corrected, corrections := c.Correct("open a paul request in redis please")
	if want := "open a pull request in Redis please"; corrected != want {
		t.Errorf("Correct() = %q, want %q", corrected, want)
	}
	if len(corrections) != 2 {
		t.Fatalf("got %d corrections, want 2: %+v", len(corrections), corrections)
	}
	if corrections[0].Original != "paul request" || corrections[0].Corrected != "pull request" {
		t.Errorf("first correction = %+v, want the two-word window", corrections[0])
	}
	// Case canonicalisation counts as a correction.
	if corrections[1].Original != "redis" || corrections[1].Corrected != "Redis" {
		t.Errorf("second correction = %+v, want redis → Redis", corrections[1])
	}
}

func TestCorrectorLongestWindowWins(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector(phonetic.New([]string{"visual studio code", "studio"}))

	corrected, corrections := c.Correct("open vizual studio code now")
	if want := "open visual studio code now"; corrected != want {
		t.Errorf("Correct() = %q, want %q", corrected, want)
	}
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1 (the three-word window): %+v", len(corrections), corrections)
	}
	if corrections[0].Original != "vizual studio code" {
		t.Errorf("correction consumed %q, want the full window", corrections[0].Original)
	}
}

func TestCorrectorCleanTextUnchanged(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector(phonetic.New([]string{"Grafana"}))

	text := "Grafana  is   up" // odd spacing must survive a no-op pass
	corrected, corrections := c.Correct(text)
	if corrected != text {
		t.Errorf("Correct(%q) = %q, want byte-identical", text, corrected)
	}
	if corrections != nil {
		t.Errorf("corrections = %+v, want nil", corrections)
	}
}

func TestCorrectorEmptyText(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector(phonetic.New([]string{"Grafana"}))
	corrected, corrections := c.Correct("")
	if corrected != "" || corrections != nil {
		t.Errorf("Correct(\"\") = (%q, %+v), want empty pass-through", corrected, corrections)
	}
}
