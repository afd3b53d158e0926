package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openparley/parley/internal/config"
	"github.com/openparley/parley/internal/conversation"
	"github.com/openparley/parley/internal/orchestrator"
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
	"github.com/openparley/parley/pkg/provider/vad"
)

// sessionStopTimeout bounds how long Run waits for the active session to
// drain after ctx cancellation.
const sessionStopTimeout = 5 * time.Second

// ErrSessionActive is returned by Start when a session is already running.
var ErrSessionActive = errors.New("app: a session is already active")

// ErrNoSession is returned by Stop when no session is running.
var ErrNoSession = errors.New("app: no active session")

// SessionDeps are the long-lived subsystems a session is built from. The
// manager owns none of them; it only builds per-session state (segmenter,
// history, orchestrator) on top.
type SessionDeps struct {
	Config      *config.Config
	Source      audio.FrameSource
	Player      audio.Player
	Classifier  vad.Classifier
	Recognizer  stt.Recognizer
	Responder   llm.Responder
	Synthesizer tts.Synthesizer
	Archive     memory.ExchangeStore
	Embedder    embedding.Embedder
	Corrector   *transcript.Corrector
	Commands    *voicecmd.Filter
	Logger      *slog.Logger
}

// SessionInfo describes the active session.
type SessionInfo struct {
	SessionID string
	StartedAt time.Time
}

// session is the per-run state: everything that cannot outlive one
// orchestrator run. The segmenter in particular is closed by the
// orchestrator's pump, so a new session always gets a fresh one.
type session struct {
	info      SessionInfo
	orch      *orchestrator.Orchestrator
	segmenter *segment.Segmenter
	cancel    context.CancelFunc
	done      chan error
}

// SessionManager builds and tracks the single active voice session.
// Orchestrator runs are single-shot, so starting a session always constructs
// a fresh segmenter, history, and orchestrator.
type SessionManager struct {
	deps   SessionDeps
	logger *slog.Logger

	mu     sync.Mutex
	active *session
}

// NewSessionManager creates a manager over the shared subsystems.
func NewSessionManager(deps SessionDeps) *SessionManager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		deps:   deps,
		logger: logger.With("component", "session_manager"),
	}
}

// Start builds a new session and launches its orchestrator. Only one session
// can be active at a time.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return ErrSessionActive
	}

	cfg := m.deps.Config
	sessionID := newSessionID(cfg.Session.Name)

	seg := segment.New(m.deps.Classifier,
		segment.WithParams(cfg.VAD.SegmentParams()))

	history := conversation.NewHistory(conversation.Config{
		SystemPrompt: cfg.Generation.SystemPrompt,
		MaxPairs:     cfg.History.MaxExchanges,
		TokenBudget:  m.deps.Responder.Capabilities().ContextWindow,
	})

	orch, err := m.buildOrchestrator(sessionID, seg, history)
	if err != nil {
		seg.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &session{
		info:      SessionInfo{SessionID: sessionID, StartedAt: time.Now()},
		orch:      orch,
		segmenter: seg,
		cancel:    cancel,
		done:      make(chan error, 1),
	}
	m.active = s

	go func() {
		s.done <- orch.Run(runCtx)
		cancel()
	}()

	m.logger.Info("session started", "session_id", sessionID)
	return nil
}

func (m *SessionManager) buildOrchestrator(sessionID string, seg *segment.Segmenter, history *conversation.History) (*orchestrator.Orchestrator, error) {
	cfg := m.deps.Config

	opts := []orchestrator.Option{
		orchestrator.WithLogger(m.logger),
		orchestrator.WithArchive(m.deps.Archive, m.deps.Embedder),
	}
	if m.deps.Embedder != nil {
		opts = append(opts, orchestrator.WithAssembler(recall.NewAssembler(
			history, m.deps.Archive, m.deps.Embedder,
			recall.WithTopK(cfg.Recall.TopK),
			recall.WithSourceTimeout(cfg.Recall.Timeout()),
		)))
	}
	if m.deps.Corrector != nil {
		opts = append(opts, orchestrator.WithCorrector(m.deps.Corrector))
	}
	if m.deps.Commands != nil {
		opts = append(opts, orchestrator.WithCommands(m.deps.Commands))
	}

	return orchestrator.New(orchestrator.Pipeline{
		Source:      m.deps.Source,
		Segmenter:   seg,
		Recognizer:  m.deps.Recognizer,
		Responder:   m.deps.Responder,
		Synthesizer: m.deps.Synthesizer,
		Player:      m.deps.Player,
	}, history, orchestrator.Config{
		SessionID:   sessionID,
		Welcome:     cfg.Session.Welcome,
		OnInterrupt: orchestrator.InterruptPolicy(cfg.History.OnInterrupt),
		OnError:     orchestrator.ErrorPolicy(cfg.Session.OnError),
		Apology:     cfg.Session.Apology,
		MinChunkLen: cfg.Generation.MinChunkLen,
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
	}, opts...)
}

// Stop cancels the active session and waits for its orchestrator to drain,
// bounded by ctx. The session slot is freed even when the wait times out.
func (m *SessionManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	s := m.active
	m.active = nil
	m.mu.Unlock()

	if s == nil {
		return ErrNoSession
	}

	s.cancel()
	select {
	case err := <-s.done:
		m.logger.Info("session stopped", "session_id", s.info.SessionID)
		return err
	case <-ctx.Done():
		return fmt.Errorf("app: session %s did not stop in time: %w", s.info.SessionID, ctx.Err())
	}
}

// Done returns the channel the active session's run result arrives on, or a
// nil channel (blocks forever) when no session is active.
func (m *SessionManager) Done() <-chan error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	return m.active.done
}

// Finish releases the session slot after its result has been consumed from
// Done. Calling Stop instead is fine; Finish avoids the cancel/wait dance
// when the session already ended on its own.
func (m *SessionManager) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.active.cancel()
		m.active = nil
	}
}

// IsActive reports whether a session is running.
func (m *SessionManager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// Info returns the active session's metadata, or the zero value when idle.
func (m *SessionManager) Info() SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return SessionInfo{}
	}
	return m.active.info
}

// State returns the active orchestrator's turn state, or StateIdle when no
// session is running.
func (m *SessionManager) State() orchestrator.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return orchestrator.StateIdle
	}
	return m.active.orch.State()
}

// ApplyParams pushes new segmentation thresholds to the active session.
// No-op when idle; the next session picks the values up from config.
func (m *SessionManager) ApplyParams(p segment.Params) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.active.segmenter.SetParams(p)
	}
}

// newSessionID builds "session-<name>-<timestamp>" with the name lowercased
// and non-alphanumerics collapsed to hyphens.
func newSessionID(name string) string {
	slug := sanitizeName(name)
	if slug == "" {
		slug = "parley"
	}
	return fmt.Sprintf("session-%s-%s", slug, time.Now().UTC().Format("20060102-150405"))
}

func sanitizeName(name string) string {
	var b strings.Builder
	lastHyphen := true // strip leading hyphens
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
