package orchestrator

import (
	"context"
	"sync/atomic"
)

// CancellationToken carries the cancellation state of a single turn. Every
// stage of the turn derives its context from the token, so one Cancel call
// stops recognition, generation, synthesis and playback together.
//
// Cancel is idempotent: a barge-in detected twice (or a barge-in racing the
// session shutdown) still produces exactly one cancellation.
type CancellationToken struct {
	ctx    context.Context
	cancel context.CancelFunc
	fired  atomic.Bool
}

// NewCancellationToken creates a token scoped under parent. Cancelling the
// parent cancels the token's context too, but does not mark the token fired.
func NewCancellationToken(parent context.Context) *CancellationToken {
	ctx, cancel := context.WithCancel(parent)
	return &CancellationToken{ctx: ctx, cancel: cancel}
}

// Cancel fires the token. The first call cancels the turn context; later
// calls are no-ops.
func (t *CancellationToken) Cancel() {
	if t.fired.CompareAndSwap(false, true) {
		t.cancel()
	}
}

// Fired reports whether Cancel has been called. Parent cancellation closes
// Done without firing the token, which is how an interrupted turn is told
// apart from a session shutting down.
func (t *CancellationToken) Fired() bool { return t.fired.Load() }

// Context returns the context stages of this turn must run under.
func (t *CancellationToken) Context() context.Context { return t.ctx }

// Done returns the channel closed when the token fires or the parent is
// cancelled.
func (t *CancellationToken) Done() <-chan struct{} { return t.ctx.Done() }

// release frees the token's context resources without marking it fired.
// Called when the turn ends for any reason.
func (t *CancellationToken) release() { t.cancel() }
