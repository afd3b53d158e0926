package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openparley/parley/internal/observe"
	"github.com/openparley/parley/internal/voicecmd"
	"github.com/openparley/parley/pkg/audio"
	"github.com/openparley/parley/pkg/memory"
	"github.com/openparley/parley/pkg/provider/llm"
)

// archiveTimeout bounds the background persistence of one exchange.
const archiveTimeout = 5 * time.Second

// Turn is one conversational exchange in flight: the utterance that opened
// it, the recognized text, and the reply as far as it has been spoken.
type Turn struct {
	ID        string
	Utterance *audio.Utterance
	UserText  string

	token   *CancellationToken
	started time.Time
	spoken  strings.Builder
}

func newTurn(ctx context.Context, utt *audio.Utterance) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		Utterance: utt,
		token:     NewCancellationToken(ctx),
		started:   time.Now(),
	}
}

// addSpoken appends a reply chunk that finished playback. Only spoken text
// counts toward the reply: chunks cancelled mid-flight never reach history.
func (t *Turn) addSpoken(chunk string) { t.spoken.WriteString(chunk) }

func (t *Turn) spokenText() string { return t.spoken.String() }

// runTurn drives one utterance through recognition, command filtering,
// generation and playback. The returned utterance, when non-nil, was
// delivered by an End event observed while speaking and becomes the next
// turn. The returned error is session-level only: errSessionEnd for an exit
// command, or the context error during shutdown. Stage failures are settled
// here and never propagate.
func (o *Orchestrator) runTurn(ctx context.Context, utt *audio.Utterance) (*audio.Utterance, error) {
	if utt == nil || len(utt.Frames) == 0 {
		return nil, nil
	}

	turn := newTurn(ctx, utt)
	defer turn.token.release()

	tctx, span := observe.StartSpan(turn.token.Context(), "turn",
		trace.WithAttributes(attribute.String("turn.id", turn.ID)))
	defer span.End()

	log := o.logger.With("turn_id", turn.ID)
	if id := observe.CorrelationID(tctx); id != "" {
		log = log.With("trace_id", id)
	}
	log.Debug("turn started",
		"utterance_ms", utt.Duration().Milliseconds(),
		"frames", len(utt.Frames))

	// Recognition.
	o.setState(tctx, StateRecognizing)
	text, err := o.recognize(tctx, turn)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.failTurn(tctx, log, &StageError{Stage: StageRecognition, Err: err})
		return nil, nil
	}
	if text == "" {
		log.Debug("nothing intelligible in utterance, back to listening")
		return nil, nil
	}

	if o.corrector != nil {
		corrected, fixes := o.corrector.Correct(text)
		if len(fixes) > 0 {
			log.Debug("transcript corrected", "from", text, "to", corrected)
			text = corrected
		}
	}
	turn.UserText = text
	log.Info("utterance recognized", "text", text)

	// Voice commands short-circuit the turn before any generation happens.
	if o.commands != nil {
		if action, ok := o.commands.Check(text); ok {
			return nil, o.runCommand(log, action)
		}
	}

	// Generation.
	o.setState(tctx, StateGenerating)
	req, err := o.buildRequest(tctx, text)
	if err != nil {
		return nil, ctx.Err()
	}
	genStart := time.Now()
	stream, err := o.responder.StreamResponse(tctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.failTurn(tctx, log, &StageError{Stage: StageGeneration, Err: err})
		return nil, nil
	}
	sentences := o.chunker.Split(tctx, stream)

	// Speaking.
	res := o.speak(tctx, turn, sentences, genStart)
	switch res.outcome {
	case turnCompleted:
		o.completeTurn(tctx, log, turn)
	case turnInterrupted:
		o.interruptTurn(tctx, log, turn)
	case turnFailed:
		o.failTurn(tctx, log, res.err)
	case turnAborted:
		return nil, ctx.Err()
	}
	return res.pending, nil
}

// recognize transcribes the turn's utterance and records stage timing.
func (o *Orchestrator) recognize(ctx context.Context, turn *Turn) (string, error) {
	rctx, span := observe.StartSpan(ctx, "turn.recognize")
	defer span.End()

	start := time.Now()
	res, err := o.recognizer.Recognize(rctx, turn.Utterance)
	if err != nil {
		return "", err
	}
	d := time.Since(start)
	o.metrics.RecognitionDuration.Record(ctx, d.Seconds())
	o.stats.RecordRecognition(d)
	return strings.TrimSpace(res.Text), nil
}

// buildRequest assembles the generation request: the recall-enriched
// transcript when an assembler is configured, the plain history snapshot
// otherwise, with the current utterance appended as the closing user message.
func (o *Orchestrator) buildRequest(ctx context.Context, userText string) (llm.Request, error) {
	var msgs []llm.Message
	if o.assembler != nil {
		rctx, span := observe.StartSpan(ctx, "turn.recall")
		prompt, err := o.assembler.Assemble(rctx, userText)
		span.End()
		if err != nil {
			return llm.Request{}, err
		}
		if prompt.Degraded {
			o.logger.Debug("recall degraded to history only")
		}
		msgs = prompt.Messages
	} else {
		msgs = o.history.Snapshot()
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: userText})
	return llm.Request{
		Messages:    msgs,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	}, nil
}

// runCommand applies a detected voice command. Only exit ends the session;
// the other commands settle in place and the loop resumes listening.
func (o *Orchestrator) runCommand(log *slog.Logger, action voicecmd.Action) error {
	switch action {
	case voicecmd.ActionExit:
		log.Info("exit command received, ending session")
		return errSessionEnd
	case voicecmd.ActionClearHistory:
		o.history.Clear()
		log.Info("history cleared by voice command")
	case voicecmd.ActionStopTurn:
		log.Info("turn suppressed by voice command")
	}
	return nil
}

func (o *Orchestrator) completeTurn(ctx context.Context, log *slog.Logger, turn *Turn) {
	reply := strings.TrimSpace(turn.spokenText())
	if reply == "" {
		log.Warn("generation produced no reply, dropping turn")
		o.metrics.RecordTurnOutcome(ctx, observe.TurnFailed)
		o.stats.IncrErrors()
		return
	}

	o.history.Append(turn.UserText, reply)
	o.archiveExchange(turn.UserText, reply, false)

	d := time.Since(turn.started)
	o.metrics.RecordTurnOutcome(ctx, observe.TurnCompleted)
	o.metrics.TurnDuration.Record(ctx, d.Seconds())
	o.stats.IncrTurns()
	o.stats.RecordTurn(d)
	log.Info("turn completed", "reply_chars", len(reply), "turn_ms", d.Milliseconds())
}

func (o *Orchestrator) interruptTurn(ctx context.Context, log *slog.Logger, turn *Turn) {
	o.setState(ctx, StateInterrupted)

	partial := strings.TrimSpace(turn.spokenText())
	if o.cfg.OnInterrupt == InterruptKeepPartial && partial != "" {
		o.history.AppendInterrupted(turn.UserText, partial)
		o.archiveExchange(turn.UserText, partial, true)
	}

	o.metrics.RecordTurnOutcome(ctx, observe.TurnInterrupted)
	o.stats.IncrInterruptions()
	log.Info("turn interrupted",
		"spoken_chars", len(partial),
		"policy", string(o.cfg.OnInterrupt))
}

// failTurn settles a turn-local stage failure. Recognition failures stay
// silent regardless of policy: apologising for an utterance that was never
// understood reads as a non sequitur.
func (o *Orchestrator) failTurn(ctx context.Context, log *slog.Logger, stageErr *StageError) {
	log.Warn("turn failed", "stage", string(stageErr.Stage), "error", stageErr.Err)
	o.metrics.RecordTurnOutcome(ctx, observe.TurnFailed)
	o.stats.IncrErrors()
	if o.cfg.OnError == ErrorApologize && stageErr.Stage != StageRecognition {
		o.speakApology(ctx)
	}
}

// archiveExchange persists a finished exchange in the background. The turn
// is already settled when this runs, so archive latency and failures never
// touch the voice path.
func (o *Orchestrator) archiveExchange(userText, reply string, interrupted bool) {
	if o.archive == nil {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()

		ex := memory.Exchange{
			SessionID:   o.cfg.SessionID,
			UserText:    userText,
			ReplyText:   reply,
			Interrupted: interrupted,
		}
		if o.embedder != nil {
			vec, err := o.embedder.Embed(ctx, userText+"\n"+reply)
			if err != nil {
				o.logger.Warn("exchange embedding failed, archiving without", "error", err)
			} else {
				ex.Embedding = vec
			}
		}
		if err := o.archive.Append(ctx, ex); err != nil {
			o.logger.Warn("exchange archive failed", "error", err)
		}
	}()
}
