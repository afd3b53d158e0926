package recall

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/openparley/parley/pkg/memory"
	"github.com/openparley/parley/pkg/provider/llm"
)

const (
	recallHeader = "## Relevant past exchanges"

	// maxRecallTextLen bounds each recalled text so a long archived reply
	// cannot crowd the live history out of the context window.
	maxRecallTextLen = 240
)

// foldRecall merges the recalled exchanges into the system message of the
// history snapshot. When the history has no system message one is prepended.
// The input slice is never mutated.
//
// foldRecall is pure: no I/O, no side effects, safe for concurrent use.
func foldRecall(history []llm.Message, similar []memory.SimilarExchange) []llm.Message {
	if len(similar) == 0 {
		return history
	}

	block := renderRecallBlock(similar)

	if len(history) > 0 && history[0].Role == llm.RoleSystem {
		out := make([]llm.Message, len(history))
		copy(out, history)
		out[0].Content += "\n\n" + block
		return out
	}

	out := make([]llm.Message, 0, len(history)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: block})
	return append(out, history...)
}

// renderRecallBlock renders the recalled exchanges as a system prompt section,
// most similar first, with relative ages so the model sees how stale each
// exchange is.
func renderRecallBlock(similar []memory.SimilarExchange) string {
	var sb strings.Builder
	sb.WriteString(recallHeader)

	now := time.Now()
	for _, s := range similar {
		ex := s.Exchange
		sb.WriteString("\n\n")
		fmt.Fprintf(&sb, "[%s] User: %s\nYou replied: %s",
			formatRelativeTime(now.Sub(ex.CreatedAt)),
			truncateText(ex.UserText, maxRecallTextLen),
			truncateText(ex.ReplyText, maxRecallTextLen),
		)
	}
	return sb.String()
}

// truncateText trims s and caps it at max bytes without splitting a rune.
func truncateText(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// formatRelativeTime converts a duration to a compact human-readable label
// such as "just now", "30s ago", "2m ago", "5h ago", "3d ago".
func formatRelativeTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < 5*time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
