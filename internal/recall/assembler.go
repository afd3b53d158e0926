// Package recall assembles the generation context for a conversational turn.
//
// The context has two sources that are gathered concurrently:
//
//  1. The live history tail: the session's recent exchanges plus the system
//     prompt, snapshotted from conversation memory.
//  2. Similar archived exchanges: past turns whose embeddings are close to
//     the current utterance, fetched from the exchange archive.
//
// The history source is authoritative and never fails. The similarity source
// is best-effort: it runs under its own timeout and any failure degrades the
// prompt to history-only rather than delaying or aborting the turn. Recalled
// exchanges are folded into the system message so the user/assistant
// alternation of the transcript stays intact.
package recall

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openparley/parley/pkg/memory"
	"github.com/openparley/parley/pkg/provider/embedding"
	"github.com/openparley/parley/pkg/provider/llm"
)

const (
	// DefaultTopK is how many similar exchanges are recalled per turn.
	DefaultTopK = 3

	// DefaultSourceTimeout bounds the similarity fetch (embedding the
	// utterance plus the archive query). The budget is tight because recall
	// sits between recognition and generation on the live voice path.
	DefaultSourceTimeout = 300 * time.Millisecond
)

// ─────────────────────────────────────────────────────────────────────────────
// Public types
// ─────────────────────────────────────────────────────────────────────────────

// HistorySource provides the live conversation tail. Implemented by
// conversation.History.
type HistorySource interface {
	Snapshot() []llm.Message
}

// Prompt is the assembled generation context for one turn.
type Prompt struct {
	// Messages is the transcript to send to the responder: the system
	// message (with any recalled exchanges folded in) followed by the
	// history tail.
	Messages []llm.Message

	// Similar lists the archived exchanges that were recalled, most similar
	// first. Empty when similarity is unconfigured, found nothing, or was
	// degraded.
	Similar []memory.SimilarExchange

	// Degraded reports that the similarity fetch failed or timed out and
	// the prompt is history-only.
	Degraded bool

	// AssemblyDuration records how long [Assembler.Assemble] took.
	AssemblyDuration time.Duration
}

// ─────────────────────────────────────────────────────────────────────────────
// Assembler
// ─────────────────────────────────────────────────────────────────────────────

// Assembler concurrently gathers both context sources and combines them into
// a [Prompt].
type Assembler struct {
	history  HistorySource
	store    memory.ExchangeStore
	embedder embedding.Embedder

	topK          int
	sourceTimeout time.Duration
}

// Option is a functional option for [NewAssembler].
type Option func(*Assembler)

// WithTopK sets how many similar exchanges are recalled per turn.
// Defaults to [DefaultTopK].
func WithTopK(n int) Option {
	return func(a *Assembler) { a.topK = n }
}

// WithSourceTimeout bounds the similarity fetch. Defaults to
// [DefaultSourceTimeout].
func WithSourceTimeout(d time.Duration) Option {
	return func(a *Assembler) { a.sourceTimeout = d }
}

// NewAssembler creates an [Assembler]. store and embedder may both be nil,
// in which case prompts are built from history alone.
func NewAssembler(history HistorySource, store memory.ExchangeStore, embedder embedding.Embedder, opts ...Option) *Assembler {
	a := &Assembler{
		history:       history,
		store:         store,
		embedder:      embedder,
		topK:          DefaultTopK,
		sourceTimeout: DefaultSourceTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble gathers the history tail and, when an archive and embedder are
// configured, the exchanges most similar to userText, and combines them into
// a [Prompt].
//
// Both sources run in parallel via errgroup. A similarity failure or timeout
// never fails assembly — the prompt degrades to history-only and the cause is
// logged. Assemble returns an error only when ctx itself is cancelled.
func (a *Assembler) Assemble(ctx context.Context, userText string) (*Prompt, error) {
	start := time.Now()

	var (
		history  []llm.Message
		similar  []memory.SimilarExchange
		degraded bool
	)

	eg, egCtx := errgroup.WithContext(ctx)

	// ── source 1: live history tail ──────────────────────────────────────────
	eg.Go(func() error {
		history = a.history.Snapshot()
		return nil
	})

	// ── source 2: similar archived exchanges ─────────────────────────────────
	if a.store != nil && a.embedder != nil && strings.TrimSpace(userText) != "" {
		eg.Go(func() error {
			simCtx, cancel := context.WithTimeout(egCtx, a.sourceTimeout)
			defer cancel()

			sims, err := a.similarExchanges(simCtx, userText, start)
			if err != nil {
				// A cancelled turn aborts assembly; anything else —
				// backend errors, the source timeout — degrades.
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				degraded = true
				slog.Warn("recall: similarity fetch failed, degrading to history-only",
					"error", err,
				)
				return nil
			}
			similar = sims
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}

	return &Prompt{
		Messages:         foldRecall(history, similar),
		Similar:          similar,
		Degraded:         degraded,
		AssemblyDuration: time.Since(start),
	}, nil
}

// similarExchanges embeds userText and queries the archive for the closest
// completed exchanges older than the turn start.
func (a *Assembler) similarExchanges(ctx context.Context, userText string, turnStart time.Time) ([]memory.SimilarExchange, error) {
	vec, err := a.embedder.Embed(ctx, userText)
	if err != nil {
		return nil, fmt.Errorf("embed utterance: %w", err)
	}

	sims, err := a.store.Similar(ctx, vec, a.topK, memory.SimilarFilter{
		Before:             turnStart,
		ExcludeInterrupted: true,
	})
	if err != nil {
		return nil, fmt.Errorf("similar exchanges: %w", err)
	}
	return sims, nil
}
