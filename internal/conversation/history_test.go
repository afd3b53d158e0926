package conversation_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/openparley/parley/internal/conversation"
	"github.com/openparley/parley/pkg/provider/llm"
)

func TestAppendKeepsCompletionOrder(t *testing.T) {
	t.Parallel()

	h := conversation.NewHistory(conversation.Config{SystemPrompt: "be brief"})
	h.Append("one", "first reply")
	h.Append("two", "second reply")
	h.Append("three", "third reply")

	msgs := h.Snapshot()
	if len(msgs) != 7 {
		t.Fatalf("snapshot has %d messages, want 7", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem || msgs[0].Content != "be brief" {
		t.Errorf("first message = %+v, want the system prompt", msgs[0])
	}
	wantUsers := []string{"one", "two", "three"}
	for i, want := range wantUsers {
		u, a := msgs[1+2*i], msgs[2+2*i]
		if u.Role != llm.RoleUser || u.Content != want {
			t.Errorf("message %d = %+v, want user %q", 1+2*i, u, want)
		}
		if a.Role != llm.RoleAssistant {
			t.Errorf("message %d role = %s, want assistant", 2+2*i, a.Role)
		}
	}
}

func TestNoSystemPrompt(t *testing.T) {
	t.Parallel()

	h := conversation.NewHistory(conversation.Config{})
	h.Append("hi", "hello")

	msgs := h.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("snapshot has %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != llm.RoleUser {
		t.Errorf("first message role = %s, want user", msgs[0].Role)
	}
}

func TestPairwiseEviction(t *testing.T) {
	t.Parallel()

	h := conversation.NewHistory(conversation.Config{
		SystemPrompt: "sys",
		MaxPairs:     3,
	})
	for i := 1; i <= 5; i++ {
		h.Append(fmt.Sprintf("user %d", i), fmt.Sprintf("reply %d", i))
	}

	if got := h.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	msgs := h.Snapshot()
	// System prompt survives; the two oldest pairs are gone.
	if len(msgs) != 7 {
		t.Fatalf("snapshot has %d messages, want 7", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem {
		t.Error("system prompt was evicted")
	}
	if msgs[1].Content != "user 3" {
		t.Errorf("oldest surviving user message = %q, want %q", msgs[1].Content, "user 3")
	}
	// No orphaned halves: roles must strictly alternate user/assistant.
	for i := 1; i < len(msgs); i++ {
		want := llm.RoleUser
		if i%2 == 0 {
			want = llm.RoleAssistant
		}
		if msgs[i].Role != want {
			t.Fatalf("message %d role = %s, want %s", i, msgs[i].Role, want)
		}
	}
}

func TestInterruptedReplyCarriesMarker(t *testing.T) {
	t.Parallel()

	h := conversation.NewHistory(conversation.Config{})
	h.AppendInterrupted("tell me a story", "Once upon a ")

	msgs := h.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("snapshot has %d messages, want 2", len(msgs))
	}
	got := msgs[1].Content
	if !strings.HasSuffix(got, "[interrupted]") {
		t.Errorf("assistant content = %q, want interrupted marker suffix", got)
	}
	if !strings.HasPrefix(got, "Once upon a") {
		t.Errorf("assistant content = %q, want the partial reply preserved", got)
	}
}

func TestClearKeepsSystemPrompt(t *testing.T) {
	t.Parallel()

	h := conversation.NewHistory(conversation.Config{SystemPrompt: "sys"})
	h.Append("a", "b")
	h.Append("c", "d")
	h.Clear()

	if got := h.Len(); got != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", got)
	}
	msgs := h.Snapshot()
	if len(msgs) != 1 || msgs[0].Role != llm.RoleSystem {
		t.Fatalf("snapshot after Clear = %+v, want only the system prompt", msgs)
	}

	h.Append("e", "f")
	if got := h.Len(); got != 1 {
		t.Errorf("Len() after re-append = %d, want 1", got)
	}
}

func TestTokenBudgetTrimsOldest(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 400) // ~100 tokens per message
	h := conversation.NewHistory(conversation.Config{
		MaxPairs:    100,
		TokenBudget: 400, // threshold 300 tokens at the default ratio
	})
	h.Append(long, long) // ~200 tokens
	h.Append(long, long) // ~400: over threshold, oldest pair goes
	if got := h.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1 after budget trim", got)
	}

	// The newest exchange survives even when it alone exceeds the budget.
	huge := strings.Repeat("y", 4000)
	h.Append(huge, huge)
	if got := h.Len(); got != 1 {
		t.Fatalf("Len() = %d, want the newest exchange kept", got)
	}
	if !strings.HasPrefix(h.Snapshot()[0].Content, "yyyy") {
		t.Error("survivor is not the newest exchange")
	}
}

func TestTokenEstimateTracksEviction(t *testing.T) {
	t.Parallel()

	h := conversation.NewHistory(conversation.Config{MaxPairs: 2})
	if got := h.TokenEstimate(); got != 0 {
		t.Fatalf("empty TokenEstimate() = %d, want 0", got)
	}

	h.Append(strings.Repeat("a", 100), strings.Repeat("b", 100))
	one := h.TokenEstimate()
	if one == 0 {
		t.Fatal("TokenEstimate() = 0 after append")
	}

	h.Append(strings.Repeat("c", 100), strings.Repeat("d", 100))
	h.Append(strings.Repeat("e", 100), strings.Repeat("f", 100))
	// Cap is 2: the estimate must reflect exactly two exchanges.
	if got, want := h.TokenEstimate(), 2*one; got != want {
		t.Errorf("TokenEstimate() = %d, want %d", got, want)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	h := conversation.NewHistory(conversation.Config{})
	h.Append("a", "b")

	msgs := h.Snapshot()
	msgs[0].Content = "mutated"

	if got := h.Snapshot()[0].Content; got != "a" {
		t.Errorf("snapshot mutation leaked into history: %q", got)
	}
}
