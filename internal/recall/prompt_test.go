package recall

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/openparley/parley/pkg/memory"
	"github.com/openparley/parley/pkg/provider/llm"
)

func TestFoldRecallNoSimilarReturnsHistoryUnchanged(t *testing.T) {
	t.Parallel()

	history := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are Parley."},
		{Role: llm.RoleUser, Content: "hello"},
	}

	out := foldRecall(history, nil)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].Content != "You are Parley." {
		t.Errorf("system content = %q, want unchanged", out[0].Content)
	}
}

func TestFoldRecallDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	history := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are Parley."},
	}
	similar := []memory.SimilarExchange{
		{Exchange: memory.Exchange{UserText: "a", ReplyText: "b", CreatedAt: time.Now()}},
	}

	out := foldRecall(history, similar)

	if history[0].Content != "You are Parley." {
		t.Errorf("input mutated: %q", history[0].Content)
	}
	if !strings.Contains(out[0].Content, recallHeader) {
		t.Errorf("output system message missing recall block:\n%s", out[0].Content)
	}
}

func TestRenderRecallBlockFormat(t *testing.T) {
	t.Parallel()

	block := renderRecallBlock([]memory.SimilarExchange{
		{Exchange: memory.Exchange{
			UserText:  "where are the logs",
			ReplyText: "Under /var/log.",
			CreatedAt: time.Now().Add(-2 * time.Hour),
		}},
	})

	for _, want := range []string{
		recallHeader,
		"[2h ago] User: where are the logs",
		"You replied: Under /var/log.",
	} {
		if !strings.Contains(block, want) {
			t.Errorf("block missing %q:\n%s", want, block)
		}
	}
}

func TestTruncateText(t *testing.T) {
	t.Parallel()

	if got := truncateText("  short  ", 20); got != "short" {
		t.Errorf("truncateText short = %q, want %q", got, "short")
	}

	long := strings.Repeat("x", 300)
	got := truncateText(long, 240)
	if !strings.HasSuffix(got, "…") {
		t.Errorf("truncated text should end with ellipsis: %q", got[len(got)-8:])
	}
	if len(got) > 240+len("…") {
		t.Errorf("len = %d, want <= %d", len(got), 240+len("…"))
	}

	// A cut point inside a multi-byte rune backs up to the rune start.
	multibyte := strings.Repeat("é", 200) // 2 bytes per rune
	got = truncateText(multibyte, 241)
	if !utf8.ValidString(got) {
		t.Error("truncated multi-byte text is not valid UTF-8")
	}
}

func TestFormatRelativeTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		d    time.Duration
		want string
	}{
		{-time.Second, "just now"},
		{0, "just now"},
		{3 * time.Second, "just now"},
		{30 * time.Second, "30s ago"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{47 * time.Hour, "47h ago"},
		{72 * time.Hour, "3d ago"},
	}

	for _, tt := range tests {
		if got := formatRelativeTime(tt.d); got != tt.want {
			t.Errorf("formatRelativeTime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
