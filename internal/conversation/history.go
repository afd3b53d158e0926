// Package conversation maintains the per-session transcript sent to the
// responder.
//
// History holds completed user/assistant exchanges plus the session's system
// prompt. Exchanges are appended only when a turn completes (or, under the
// keep-partial policy, when a reply is cut off), so cancelled and failed
// turns never appear. Eviction is pairwise: the cap and the token budget both
// remove whole exchanges from the oldest end, and the system prompt is never
// evicted.
package conversation

import (
	"strings"
	"sync"

	"github.com/openparley/parley/pkg/provider/llm"
)

const (
	// DefaultMaxPairs bounds the transcript to the most recent N exchanges
	// (2×N messages plus the system prompt).
	DefaultMaxPairs = 20

	// charsPerToken is the heuristic ratio used for token estimation.
	// English text averages roughly 4 characters per token across common
	// LLM tokenizers; good enough for budgeting, no tokenizer dependency.
	charsPerToken = 4

	// defaultBudgetRatio is the fraction of the token budget at which
	// old exchanges start being trimmed.
	defaultBudgetRatio = 0.75

	// interruptedMarker is appended to a partial reply archived under the
	// keep-partial policy so the model can see it was cut off.
	interruptedMarker = " [interrupted]"
)

// exchange is one completed user/assistant pair. tokens caches the estimate
// at append time so eviction bookkeeping cannot drift.
type exchange struct {
	user        string
	reply       string
	interrupted bool
	tokens      int
}

// Config configures a [History].
type Config struct {
	// SystemPrompt is seeded once per session and survives all eviction.
	// Empty means no system message.
	SystemPrompt string

	// MaxPairs is the maximum number of retained exchanges. Zero or
	// negative uses DefaultMaxPairs.
	MaxPairs int

	// TokenBudget trims oldest exchanges once the estimated transcript
	// size exceeds BudgetRatio × TokenBudget. Zero disables budget
	// trimming; the pair cap still applies.
	TokenBudget int

	// BudgetRatio defaults to 0.75 if zero or negative.
	BudgetRatio float64
}

// History is the bounded conversation transcript. All methods are safe for
// concurrent use.
type History struct {
	system       string
	systemTokens int
	maxPairs     int
	budget       int
	ratio        float64

	mu        sync.Mutex
	exchanges []exchange
	tokens    int
}

// NewHistory creates a History with the given configuration.
func NewHistory(cfg Config) *History {
	maxPairs := cfg.MaxPairs
	if maxPairs <= 0 {
		maxPairs = DefaultMaxPairs
	}
	ratio := cfg.BudgetRatio
	if ratio <= 0 {
		ratio = defaultBudgetRatio
	}
	h := &History{
		system:   cfg.SystemPrompt,
		maxPairs: maxPairs,
		budget:   cfg.TokenBudget,
		ratio:    ratio,
	}
	if cfg.SystemPrompt != "" {
		h.systemTokens = estimateTokens(llm.Message{Role: llm.RoleSystem, Content: cfg.SystemPrompt})
	}
	return h
}

// Append records one completed exchange. Oldest exchanges are evicted
// pairwise when the cap or the token budget is exceeded.
func (h *History) Append(userText, replyText string) {
	h.append(exchange{user: userText, reply: replyText})
}

// AppendInterrupted records an exchange whose reply was cut off by the user.
// The partial reply is archived with an interrupted marker so the model can
// see it never finished. Used when the interrupt policy is keep-partial.
func (h *History) AppendInterrupted(userText, partialReply string) {
	h.append(exchange{
		user:        userText,
		reply:       strings.TrimRight(partialReply, " \t\n"),
		interrupted: true,
	})
}

func (h *History) append(ex exchange) {
	user, reply := render(ex)
	ex.tokens = estimateTokens(user) + estimateTokens(reply)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.exchanges = append(h.exchanges, ex)
	h.tokens += ex.tokens
	h.evict()
}

// Snapshot returns the transcript as messages ready for [llm.Request]:
// the system prompt (when set) followed by the exchanges in completion
// order. The returned slice is a copy.
func (h *History) Snapshot() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]llm.Message, 0, 2*len(h.exchanges)+1)
	if h.system != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: h.system})
	}
	for _, ex := range h.exchanges {
		user, reply := render(ex)
		out = append(out, user, reply)
	}
	return out
}

// Len returns the number of retained exchanges.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.exchanges)
}

// TokenEstimate returns the estimated token footprint of the transcript,
// including the system prompt.
func (h *History) TokenEstimate() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.systemTokens + h.tokens
}

// Clear drops all exchanges. The system prompt stays seeded.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exchanges = nil
	h.tokens = 0
}

// evict enforces the pair cap, then the token budget. The newest exchange is
// never evicted regardless of budget. Must be called with h.mu held.
func (h *History) evict() {
	start := 0
	for len(h.exchanges)-start > h.maxPairs {
		h.tokens -= h.exchanges[start].tokens
		start++
	}

	if h.budget > 0 {
		threshold := int(float64(h.budget) * h.ratio)
		for len(h.exchanges)-start > 1 && h.systemTokens+h.tokens > threshold {
			h.tokens -= h.exchanges[start].tokens
			start++
		}
	}

	if start == 0 {
		return
	}
	// Copy survivors to a fresh backing array so evicted exchanges do not
	// pin memory for the lifetime of the session.
	fresh := make([]exchange, len(h.exchanges)-start)
	copy(fresh, h.exchanges[start:])
	h.exchanges = fresh
}

// render converts an exchange into its user and assistant messages.
func render(ex exchange) (user, reply llm.Message) {
	content := ex.reply
	if ex.interrupted {
		content += interruptedMarker
	}
	return llm.Message{Role: llm.RoleUser, Content: ex.user},
		llm.Message{Role: llm.RoleAssistant, Content: content}
}

// estimateTokens returns a rough token count for a single message using the
// 1-token-per-4-characters heuristic.
func estimateTokens(m llm.Message) int {
	chars := len(m.Content) + len(m.Role)
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}
