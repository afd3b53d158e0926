// Package orchestrator runs the turn cycle of a voice session.
//
// One Run call is one session. The cycle:
//
//  1. A pump goroutine moves frames from the capture source into the
//     segmenter, which turns them into utterance events.
//  2. A completed utterance becomes a Turn: recognition, hotword correction,
//     voice command filtering, prompt assembly, streamed generation.
//  3. The reply is spoken one sentence chunk at a time, in lock step: the
//     next chunk is synthesized only after the previous one finished
//     playing.
//  4. Speech detected during playback fires the turn's CancellationToken:
//     generation, synthesis and playback stop together, and the
//     interrupting utterance opens the next turn.
//
// Only text that actually finished playing enters conversation history, so
// history never claims words the speaker did not hear.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/openparley/parley/internal/conversation"
	"github.com/openparley/parley/internal/observe"
	"github.com/openparley/parley/internal/recall"
	"github.com/openparley/parley/internal/segment"
	"github.com/openparley/parley/internal/transcript"
	"github.com/openparley/parley/internal/voicecmd"
	"github.com/openparley/parley/pkg/audio"
	"github.com/openparley/parley/pkg/memory"
	"github.com/openparley/parley/pkg/provider/embedding"
	"github.com/openparley/parley/pkg/provider/llm"
	"github.com/openparley/parley/pkg/provider/stt"
	"github.com/openparley/parley/pkg/provider/tts"
)

// ─── State ────────────────────────────────────────────────────────────────────

// State is the orchestrator's position in the turn cycle.
type State int

const (
	StateIdle State = iota
	StateListening
	StateRecognizing
	StateGenerating
	StateSpeaking
	StateInterrupted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRecognizing:
		return "recognizing"
	case StateGenerating:
		return "generating"
	case StateSpeaking:
		return "speaking"
	case StateInterrupted:
		return "interrupted"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ─── Policies ─────────────────────────────────────────────────────────────────

// InterruptPolicy decides what happens to the partially spoken reply when
// the speaker barges in.
type InterruptPolicy string

const (
	// InterruptDrop discards the partial reply; history keeps no trace of
	// the interrupted turn.
	InterruptDrop InterruptPolicy = "drop"

	// InterruptKeepPartial stores the spoken part of the reply with an
	// interrupted marker, so later prompts can tell the reply was cut off.
	InterruptKeepPartial InterruptPolicy = "keep_partial"
)

// ErrorPolicy decides whether a generation or synthesis failure is voiced.
type ErrorPolicy string

const (
	// ErrorSilent drops the failed turn and goes back to listening without
	// a sound.
	ErrorSilent ErrorPolicy = "silent"

	// ErrorApologize speaks the configured apology before going back to
	// listening.
	ErrorApologize ErrorPolicy = "apologize"
)

// ─── Configuration ────────────────────────────────────────────────────────────

// Config carries the session-level tunables of the orchestrator.
type Config struct {
	// SessionID labels archived exchanges and log lines for this session.
	// Empty generates a random one.
	SessionID string

	// Welcome is synthesized and played once on session start, before the
	// first listening window. Empty disables the greeting. The greeting is
	// not a turn and never enters history.
	Welcome string

	// OnInterrupt is the barge-in history policy. Defaults to InterruptDrop.
	OnInterrupt InterruptPolicy

	// OnError is the stage failure policy. Defaults to ErrorSilent.
	OnError ErrorPolicy

	// Apology is the utterance spoken under ErrorApologize. Empty uses
	// DefaultApology.
	Apology string

	// MinChunkLen holds back reply sentences shorter than this many bytes
	// during chunking (see llm.Chunker). Zero flushes every sentence.
	MinChunkLen int

	// MaxTokens and Temperature pass through to every generation request.
	MaxTokens   int
	Temperature float64
}

func (c *Config) applyDefaults() {
	if c.SessionID == "" {
		c.SessionID = "session-" + uuid.NewString()[:8]
	}
	if c.OnInterrupt == "" {
		c.OnInterrupt = InterruptDrop
	}
	if c.OnError == "" {
		c.OnError = ErrorSilent
	}
}

func (c Config) validate() error {
	switch c.OnInterrupt {
	case InterruptDrop, InterruptKeepPartial:
	default:
		return fmt.Errorf("orchestrator: unknown interrupt policy %q", c.OnInterrupt)
	}
	switch c.OnError {
	case ErrorSilent, ErrorApologize:
	default:
		return fmt.Errorf("orchestrator: unknown error policy %q", c.OnError)
	}
	return nil
}

// Pipeline bundles the stage implementations the orchestrator drives. All
// fields are required.
type Pipeline struct {
	Source      audio.FrameSource
	Segmenter   *segment.Segmenter
	Recognizer  stt.Recognizer
	Responder   llm.Responder
	Synthesizer tts.Synthesizer
	Player      audio.Player
}

func (p Pipeline) validate() error {
	var missing []string
	if p.Source == nil {
		missing = append(missing, "source")
	}
	if p.Segmenter == nil {
		missing = append(missing, "segmenter")
	}
	if p.Recognizer == nil {
		missing = append(missing, "recognizer")
	}
	if p.Responder == nil {
		missing = append(missing, "responder")
	}
	if p.Synthesizer == nil {
		missing = append(missing, "synthesizer")
	}
	if p.Player == nil {
		missing = append(missing, "player")
	}
	if len(missing) > 0 {
		return fmt.Errorf("orchestrator: missing pipeline components: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ─── Orchestrator ─────────────────────────────────────────────────────────────

// Orchestrator owns one voice session end to end.
type Orchestrator struct {
	source      audio.FrameSource
	segmenter   *segment.Segmenter
	recognizer  stt.Recognizer
	responder   llm.Responder
	synthesizer tts.Synthesizer
	player      audio.Player

	history *conversation.History
	chunker llm.Chunker
	cfg     Config

	// Optional collaborators.
	assembler *recall.Assembler
	corrector *transcript.Corrector
	commands  *voicecmd.Filter
	archive   memory.ExchangeStore
	embedder  embedding.Embedder

	metrics *observe.Metrics
	stats   *observe.PipelineStats
	logger  *slog.Logger

	state atomic.Int64

	// wg tracks background exchange archival so Run can wait for it.
	wg sync.WaitGroup
}

// Option configures optional collaborators on the orchestrator.
type Option func(*Orchestrator)

// WithAssembler enables recall-enriched prompt assembly. Without it the
// generation prompt is the plain history snapshot.
func WithAssembler(a *recall.Assembler) Option {
	return func(o *Orchestrator) { o.assembler = a }
}

// WithCorrector enables phonetic hotword correction on transcripts.
func WithCorrector(c *transcript.Corrector) Option {
	return func(o *Orchestrator) { o.corrector = c }
}

// WithCommands enables voice command filtering on transcripts.
func WithCommands(f *voicecmd.Filter) Option {
	return func(o *Orchestrator) { o.commands = f }
}

// WithArchive persists completed exchanges to store in the background.
// The embedder, when non-nil, attaches an embedding to each exchange;
// embedding failures degrade to archiving without one.
func WithArchive(store memory.ExchangeStore, embedder embedding.Embedder) Option {
	return func(o *Orchestrator) {
		o.archive = store
		o.embedder = embedder
	}
}

// WithMetrics replaces the default (globally registered) metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithStats replaces the default pipeline statistics collector.
func WithStats(s *observe.PipelineStats) Option {
	return func(o *Orchestrator) { o.stats = s }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator over the given pipeline. The pipeline stages
// and history are required; everything else is optional.
func New(p Pipeline, history *conversation.History, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if history == nil {
		return nil, errors.New("orchestrator: missing conversation history")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		source:      p.Source,
		segmenter:   p.Segmenter,
		recognizer:  p.Recognizer,
		responder:   p.Responder,
		synthesizer: p.Synthesizer,
		player:      p.Player,
		history:     history,
		chunker:     llm.Chunker{MinChunkLen: cfg.MinChunkLen},
		cfg:         cfg,
		metrics:     observe.DefaultMetrics(),
		stats:       observe.NewPipelineStats(0),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator", "session_id", cfg.SessionID)
	return o, nil
}

// State returns the orchestrator's current position in the turn cycle.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Stats returns a snapshot of the session's pipeline statistics.
func (o *Orchestrator) Stats() observe.StatsSnapshot {
	return o.stats.Snapshot()
}

// Run starts the session and blocks until ctx is cancelled, an exit command
// arrives, or the capture device fails permanently. Run is single-shot: a
// new session needs a new Orchestrator.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.setState(ctx, StateIdle)
	o.logger.Info("session starting")

	if o.cfg.Welcome != "" {
		o.speakWelcome(ctx)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return o.pump(egCtx) })
	eg.Go(func() error { return o.loop(egCtx) })

	err := eg.Wait()
	o.wg.Wait()
	o.logSummary()

	switch {
	case err == nil, errors.Is(err, errSessionEnd), errors.Is(err, context.Canceled):
		o.setState(ctx, StateIdle)
		o.logger.Info("session ended")
		return nil
	default:
		o.setState(ctx, StateError)
		o.logger.Error("session failed", "error", err)
		return err
	}
}

// pump moves frames from the capture source into the segmenter. On exit the
// segmenter is closed so the event loop and any in-flight turn unblock.
func (o *Orchestrator) pump(ctx context.Context) error {
	defer o.segmenter.Close()
	for {
		frame, err := o.source.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var devErr *audio.DeviceError
			if errors.As(err, &devErr) {
				o.logger.Error("capture failed, ending session",
					"device", devErr.Device, "op", devErr.Op, "error", devErr.Err)
			}
			return fmt.Errorf("orchestrator: capture: %w", err)
		}
		o.segmenter.Process(frame)
	}
}

// loop consumes segmentation events and runs turns. Events are read here
// only while listening; during a turn they buffer in the segmenter's channel
// (the speak phase watches them itself), so a Start or End that lands while
// a turn settles is picked up on the next listening window rather than
// racing it.
func (o *Orchestrator) loop(ctx context.Context) error {
	events := o.segmenter.Events()
	var pending *audio.Utterance

	for {
		if pending != nil {
			utt := pending
			pending = nil
			next, err := o.runTurn(ctx, utt)
			if err != nil {
				return loopErr(err)
			}
			pending = next
			continue
		}

		o.setState(ctx, StateListening)
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case segment.Start:
				o.logger.Debug("utterance opened", "at", ev.At)
			case segment.End:
				next, err := o.runTurn(ctx, ev.Utterance)
				if err != nil {
					return loopErr(err)
				}
				pending = next
			case segment.Interruption:
				// The speaking flag outlived playback by a frame or two.
				o.logger.Debug("interruption event while listening, ignoring")
			}
		}
	}
}

// loopErr maps a turn's session-level error for the errgroup: an exit
// command propagates, a context cancellation is a clean stop.
func loopErr(err error) error {
	if errors.Is(err, errSessionEnd) {
		return errSessionEnd
	}
	return nil
}

// setState records a state transition on the gauge and the debug log.
func (o *Orchestrator) setState(ctx context.Context, s State) {
	old := State(o.state.Swap(int64(s)))
	if old == s {
		return
	}
	o.metrics.OrchestratorState.Record(ctx, int64(s))
	o.logger.Debug("state", "from", old.String(), "to", s.String())
}

// logSummary writes the end-of-session pipeline statistics.
func (o *Orchestrator) logSummary() {
	snap := o.stats.Snapshot()
	o.logger.Info("session summary",
		"turns", snap.Turns,
		"interruptions", snap.Interruptions,
		"errors", snap.Errors,
		"recognition_p50_ms", snap.Recognition.P50.Milliseconds(),
		"recognition_p95_ms", snap.Recognition.P95.Milliseconds(),
		"first_chunk_p50_ms", snap.Generation.P50.Milliseconds(),
		"first_chunk_p95_ms", snap.Generation.P95.Milliseconds(),
		"synthesis_p50_ms", snap.Synthesis.P50.Milliseconds(),
		"synthesis_p95_ms", snap.Synthesis.P95.Milliseconds(),
		"turn_p50_ms", snap.Turn.P50.Milliseconds(),
		"turn_p95_ms", snap.Turn.P95.Milliseconds(),
	)
}
