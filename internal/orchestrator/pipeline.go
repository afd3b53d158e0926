package orchestrator

import (
	"context"
	"time"

	"github.com/openparley/parley/internal/observe"
	"github.com/openparley/parley/internal/segment"
	"github.com/openparley/parley/pkg/audio"
	"github.com/openparley/parley/pkg/provider/llm"
)

// DefaultApology is spoken under ErrorApologize when no apology text is
// configured.
const DefaultApology = "Sorry, something went wrong on my end."

// outcome classifies how the speak phase of a turn ended.
type outcome int

const (
	turnCompleted outcome = iota
	turnInterrupted
	turnFailed
	turnAborted
)

// speakResult reports how the speak phase ended and what it left behind.
type speakResult struct {
	outcome outcome

	// pending is the utterance delivered by an End event observed while
	// speaking. The event loop runs it as the next turn.
	pending *audio.Utterance

	// err is set when outcome is turnFailed.
	err *StageError
}

// speak plays the reply one sentence chunk at a time. Chunks move in lock
// step: the next sentence is synthesized only after the previous chunk has
// finished playing, so a barge-in mid-chunk leaves the remaining sentences
// untouched. Segmentation events are watched the whole time; an Interruption
// or End event fires the turn's token and ends the phase.
func (o *Orchestrator) speak(ctx context.Context, turn *Turn, sentences *llm.SentenceStream, genStart time.Time) speakResult {
	o.setState(ctx, StateSpeaking)
	o.segmenter.SetSpeaking(true)
	defer o.segmenter.SetSpeaking(false)

	ctx, span := observe.StartSpan(ctx, "turn.speak")
	defer span.End()

	events := o.segmenter.Events()

	// Each first-chunk metric clears its flag at the record site, so a
	// second recording within the turn is impossible by construction.
	firstChunk := true
	firstPlay := true

	for {
		var sentence string
		select {
		case <-ctx.Done():
			return o.cancelResult(turn)
		case ev, ok := <-events:
			if res, stop := o.speakEvent(turn, ev, ok); stop {
				return res
			}
			continue
		case s, ok := <-sentences.Sentences:
			if !ok {
				if err := sentences.Err(); err != nil {
					return speakResult{outcome: turnFailed, err: &StageError{Stage: StageGeneration, Err: err}}
				}
				return speakResult{outcome: turnCompleted}
			}
			sentence = s
		}

		if firstChunk {
			firstChunk = false
			d := time.Since(genStart)
			o.metrics.GenerationFirstChunk.Record(ctx, d.Seconds())
			o.stats.RecordGeneration(d)
		}

		synthStart := time.Now()
		seg, err := o.synthesizer.Synthesize(ctx, sentence)
		if err != nil {
			if contextDone(err) {
				return o.cancelResult(turn)
			}
			return speakResult{outcome: turnFailed, err: &StageError{Stage: StageSynthesis, Err: err}}
		}
		synthDur := time.Since(synthStart)
		o.metrics.SynthesisDuration.Record(ctx, synthDur.Seconds())
		o.stats.RecordSynthesis(synthDur)

		if firstPlay {
			firstPlay = false
			o.metrics.PlaybackStartDelay.Record(ctx, time.Since(turn.started).Seconds())
		}

		if res, stop := o.playSegment(ctx, turn, sentence, seg, events); stop {
			return res
		}
	}
}

// playSegment plays one synthesized chunk while watching segmentation events
// for barge-in. The sentence is credited to the turn's spoken text only once
// its playback finished. stop reports whether the speak phase must end; res
// then says why.
func (o *Orchestrator) playSegment(ctx context.Context, turn *Turn, sentence string, seg *audio.Segment, events <-chan segment.Event) (res speakResult, stop bool) {
	playDone := make(chan error, 1)
	go func() { playDone <- o.player.Play(ctx, seg) }()

	for {
		select {
		case err := <-playDone:
			if err == nil {
				turn.addSpoken(sentence)
				return speakResult{}, false
			}
			if contextDone(err) {
				return o.cancelResult(turn), true
			}
			stage := StagePlayback
			if seg.Err() != nil {
				// The segment's producer died mid-stream; the player just
				// surfaced it.
				stage = StageSynthesis
			}
			return speakResult{outcome: turnFailed, err: &StageError{Stage: stage, Err: err}}, true
		case ev, ok := <-events:
			if res, stop := o.speakEvent(turn, ev, ok); stop {
				// Wait for the player to observe the cancellation before
				// returning, so the next turn never overlaps a closing one.
				// A chunk that finished just as the event landed still
				// counts as spoken.
				if err := <-playDone; err == nil {
					turn.addSpoken(sentence)
				}
				return res, true
			}
		}
	}
}

// speakEvent reacts to one segmentation event observed while speaking.
func (o *Orchestrator) speakEvent(turn *Turn, ev segment.Event, ok bool) (speakResult, bool) {
	if !ok {
		// Segmenter closed underneath us: the session is shutting down.
		turn.token.release()
		return speakResult{outcome: turnAborted}, true
	}
	switch ev.Kind {
	case segment.Interruption:
		o.logger.Info("barge-in detected, cancelling turn", "turn_id", turn.ID)
		turn.token.Cancel()
		return speakResult{outcome: turnInterrupted}, true
	case segment.End:
		// A complete utterance landed while we were talking: the speaker
		// talked through the reply. Cancel and take it as the next turn.
		o.logger.Info("utterance completed during playback, cancelling turn", "turn_id", turn.ID)
		turn.token.Cancel()
		return speakResult{outcome: turnInterrupted, pending: ev.Utterance}, true
	default:
		// Start: an onset from just before playback began. Its End follows.
		o.logger.Debug("utterance onset while speaking", "turn_id", turn.ID)
		return speakResult{}, false
	}
}

// cancelResult classifies a context cancellation observed mid-speak: a fired
// token is a barge-in, anything else is the session shutting down.
func (o *Orchestrator) cancelResult(turn *Turn) speakResult {
	if turn.token.Fired() {
		return speakResult{outcome: turnInterrupted}
	}
	return speakResult{outcome: turnAborted}
}

// speakWelcome synthesizes and plays the configured greeting before the
// first listening window. Failures are logged and the session starts anyway;
// the greeting never enters history.
func (o *Orchestrator) speakWelcome(ctx context.Context) {
	seg, err := o.synthesizer.Synthesize(ctx, o.cfg.Welcome)
	if err != nil {
		o.logger.Warn("welcome synthesis failed", "error", err)
		return
	}
	if err := o.player.Play(ctx, seg); err != nil && !contextDone(err) {
		o.logger.Warn("welcome playback failed", "error", err)
	}
}

// speakApology voices the configured apology after a generation or synthesis
// failure. Apology failures are logged and dropped: there is no fallback for
// the fallback.
func (o *Orchestrator) speakApology(ctx context.Context) {
	text := o.cfg.Apology
	if text == "" {
		text = DefaultApology
	}
	seg, err := o.synthesizer.Synthesize(ctx, text)
	if err != nil {
		o.logger.Warn("apology synthesis failed", "error", err)
		return
	}
	if err := o.player.Play(ctx, seg); err != nil && !contextDone(err) {
		o.logger.Warn("apology playback failed", "error", err)
	}
}
