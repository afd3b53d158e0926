package orchestrator

import (
	"context"
	"errors"
	"fmt"
)

// errSessionEnd signals a deliberate session end (exit voice command). It
// travels up through the event loop and is swallowed by Run.
var errSessionEnd = errors.New("orchestrator: session end requested")

// Stage identifies the pipeline stage a turn-local failure escaped from.
type Stage string

const (
	StageRecognition Stage = "recognition"
	StageGeneration  Stage = "generation"
	StageSynthesis   Stage = "synthesis"
	StagePlayback    Stage = "playback"
)

// StageError wraps a failure from one pipeline stage. Stage errors end the
// turn they occurred in and never unwind past the orchestrator: the session
// keeps listening.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// contextDone reports whether err is a context cancellation or deadline,
// i.e. the turn was cut off rather than the stage itself failing.
func contextDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
