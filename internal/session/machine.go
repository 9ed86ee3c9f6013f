// Package session drives one live interview call.
//
// A Machine owns the call lifecycle (Idle -> Connecting -> Active -> Finished)
// and the transcript of that call. All state changes happen on a single
// goroutine that consumes commands (Start, Disconnect) and voice channel
// events from channels; readers only ever see published snapshots. Entering
// Finished from Active hands the transcript to the feedback service exactly
// once, no matter how many terminal signals arrive.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-interview-backend/internal/domain"
	"github.com/tbourn/go-interview-backend/internal/observability"
	"github.com/tbourn/go-interview-backend/internal/services"
	"github.com/tbourn/go-interview-backend/internal/transcript"
)

// Phase is the lifecycle phase of a call.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseActive
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseActive:
		return "active"
	case PhaseFinished:
		return "finished"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	for q := PhaseIdle; q <= PhaseFinished; q++ {
		if q.String() == string(b) {
			*p = q
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// EventKind names a voice channel event.
type EventKind string

const (
	EventCallStart   EventKind = "call-start"
	EventCallEnd     EventKind = "call-end"
	EventMessage     EventKind = "message"
	EventSpeechStart EventKind = "speech-start"
	EventSpeechEnd   EventKind = "speech-end"
	EventError       EventKind = "error"
)

// Event is one signal from the voice channel.
type Event struct {
	Kind    EventKind
	Message transcript.Event // set for EventMessage
	Error   string           // set for EventError
}

// Channel is the realtime voice channel a session controls.
type Channel interface {
	// Start asks the provider to begin a call with the given assistant and
	// template variables. It returns once the provider accepted or refused.
	Start(ctx context.Context, assistantID string, vars map[string]string) error
	// Stop ends the call.
	Stop(ctx context.Context) error
}

// FeedbackCreator scores a finished transcript.
type FeedbackCreator interface {
	CreateFeedback(ctx context.Context, p services.CreateFeedbackParams) services.Result
}

// Outcome is the published result of a finished session. Redirect is where
// the client should navigate next.
type Outcome struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	FeedbackID string `json:"feedbackId,omitempty"`
	Redirect   string `json:"redirect"`
}

// Snapshot is a point-in-time copy of the machine state.
type Snapshot struct {
	Phase    Phase                    `json:"phase"`
	Speaking bool                     `json:"speaking"`
	Turns    []domain.TranscriptEntry `json:"turns"`
	Outcome  *Outcome                 `json:"outcome,omitempty"`
}

// Errors returned by Start.
var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrFinished       = errors.New("session finished")
	// ErrStartAborted is returned by Start when Disconnect interrupts it.
	ErrStartAborted = errors.New("session start aborted by disconnect")
)

// Outcome labels for observability.SessionsFinished.
const (
	outcomeSucceeded   = "succeeded"
	outcomeFailed      = "failed"
	outcomeNoFeedback  = "no_feedback"
	outcomeStartFailed = "start_failed"
)

const (
	eventBuffer      = 256
	subscriberBuffer = 16
	stopTimeout      = 5 * time.Second
)

// Config wires a Machine to its collaborators.
type Config struct {
	InterviewID string
	UserID      string
	AssistantID string
	Questions   []string

	Channel  Channel
	Feedback FeedbackCreator

	// FeedbackTimeout bounds the feedback call. Zero means unbounded.
	FeedbackTimeout time.Duration

	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

type command struct {
	kind  string // "start" | "disconnect"
	ctx   context.Context
	reply chan error
}

// Machine is one interview call. Create it with New and run it with Run.
type Machine struct {
	cfg Config
	log zerolog.Logger

	cmds   chan command
	events chan Event
	done   chan struct{}

	// closed is set once Finished is entered so Deliver can drop late events.
	closed atomic.Bool

	// startCancel interrupts the Channel.Start in flight, if any.
	startMu     sync.Mutex
	startCancel context.CancelCauseFunc

	// Loop-owned state.
	phase    Phase
	speaking bool
	agg      *transcript.Aggregator
	outcome  *Outcome

	mu   sync.RWMutex
	snap Snapshot
	subs map[chan Snapshot]struct{}
}

// New returns an idle Machine.
func New(cfg Config) *Machine {
	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	return &Machine{
		cfg: cfg,
		log: l.With().
			Str("interview_id", cfg.InterviewID).
			Str("user_id", cfg.UserID).
			Logger(),
		cmds:   make(chan command),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		agg:    transcript.New(),
		snap:   Snapshot{Phase: PhaseIdle, Turns: []domain.TranscriptEntry{}},
		subs:   make(map[chan Snapshot]struct{}),
	}
}

// Run processes commands and events until the session is Finished and its
// feedback step has completed. Canceling ctx acts as a disconnect.
func (m *Machine) Run(ctx context.Context) {
	defer m.closeSubscribers()
	defer close(m.done)

	for m.phase != PhaseFinished {
		select {
		case cmd := <-m.cmds:
			cmd.reply <- m.handleCommand(cmd)
		case ev := <-m.events:
			m.handleEvent(ctx, ev)
		case <-ctx.Done():
			m.log.Debug().Msg("session context canceled")
			m.disconnect(context.WithoutCancel(ctx))
		}
	}
}

// Start dials the voice channel. On failure the session is Finished without
// feedback and the channel error is returned.
func (m *Machine) Start(ctx context.Context) error {
	return m.send(ctx, "start")
}

// Disconnect stops the channel and finishes the session. A Start still
// waiting for the channel is interrupted and returns ErrStartAborted. Calling
// it on a finished session is a no-op.
func (m *Machine) Disconnect(ctx context.Context) error {
	m.startMu.Lock()
	if m.startCancel != nil {
		m.startCancel(ErrStartAborted)
	}
	m.startMu.Unlock()
	return m.send(ctx, "disconnect")
}

// Deliver queues a voice channel event. Events arriving after the session
// finished are dropped.
func (m *Machine) Deliver(ev Event) {
	if m.closed.Load() {
		return
	}
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// Done is closed when the session has finished and feedback (if any) has
// been derived.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Snapshot returns the latest published state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copySnapshot(m.snap)
}

// Subscribe returns a channel receiving every published snapshot, starting
// with the current one. Slow readers skip intermediate states but always see
// the latest. The channel is closed when the session ends or cancel is called.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)
	m.mu.Lock()
	ch <- copySnapshot(m.snap)
	select {
	case <-m.done:
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			if _, ok := m.subs[ch]; ok {
				delete(m.subs, ch)
				close(ch)
			}
			m.mu.Unlock()
		})
	}
}

func (m *Machine) send(ctx context.Context, kind string) error {
	cmd := command{kind: kind, ctx: ctx, reply: make(chan error, 1)}
	select {
	case m.cmds <- cmd:
	case <-m.done:
		if kind == "start" {
			return ErrFinished
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-cmd.reply
}

func (m *Machine) handleCommand(cmd command) error {
	switch cmd.kind {
	case "start":
		return m.start(cmd.ctx)
	case "disconnect":
		m.disconnect(cmd.ctx)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd.kind)
}

func (m *Machine) start(ctx context.Context) error {
	if m.phase != PhaseIdle {
		return ErrAlreadyStarted
	}
	// Armed before Connecting is visible so any Disconnect can interrupt.
	sctx, cancel := context.WithCancelCause(ctx)
	m.startMu.Lock()
	m.startCancel = cancel
	m.startMu.Unlock()

	m.phase = PhaseConnecting
	m.publish()

	vars := map[string]string{"questions": FormatQuestions(m.cfg.Questions)}
	err := m.cfg.Channel.Start(sctx, m.cfg.AssistantID, vars)

	m.startMu.Lock()
	m.startCancel = nil
	m.startMu.Unlock()
	aborted := errors.Is(context.Cause(sctx), ErrStartAborted)
	cancel(nil)

	if err != nil && aborted {
		// The queued disconnect command finds the session already Finished.
		m.log.Info().Msg("voice channel start aborted")
		m.disconnect(context.WithoutCancel(ctx))
		return fmt.Errorf("start voice channel: %w", ErrStartAborted)
	}
	if err != nil {
		m.log.Error().Err(err).Msg("voice channel start failed")
		m.enterFinished(outcomeStartFailed, &Outcome{
			Success:  false,
			Message:  "could not start the call",
			Redirect: HomeRoute,
		})
		return fmt.Errorf("start voice channel: %w", err)
	}
	m.log.Info().Msg("voice channel connecting")
	return nil
}

func (m *Machine) disconnect(ctx context.Context) {
	switch m.phase {
	case PhaseFinished:
		return
	case PhaseConnecting, PhaseActive:
		sctx, cancel := context.WithTimeout(ctx, stopTimeout)
		if err := m.cfg.Channel.Stop(sctx); err != nil {
			m.log.Warn().Err(err).Msg("voice channel stop failed")
		}
		cancel()
	}
	m.finish(ctx, "disconnect")
}

func (m *Machine) handleEvent(ctx context.Context, ev Event) {
	if m.phase == PhaseFinished {
		return
	}
	switch ev.Kind {
	case EventCallStart:
		if m.phase != PhaseConnecting {
			m.log.Debug().Str("phase", m.phase.String()).Msg("ignoring call-start")
			return
		}
		m.phase = PhaseActive
		m.log.Info().Msg("call started")
		m.publish()
	case EventCallEnd:
		m.finish(ctx, "call-end")
	case EventMessage:
		if m.agg.Append(ev.Message) {
			m.publish()
		}
	case EventSpeechStart, EventSpeechEnd:
		speaking := ev.Kind == EventSpeechStart
		if speaking != m.speaking {
			m.speaking = speaking
			m.publish()
		}
	case EventError:
		if IsBenignError(ev.Error) {
			return
		}
		observability.ChannelErrors.Inc()
		m.log.Warn().Str("channel_error", ev.Error).Msg("voice channel error")
	default:
		m.log.Debug().Str("kind", string(ev.Kind)).Msg("ignoring unknown event")
	}
}

// finish enters Finished. Feedback is derived only when the call was Active;
// a call that never connected has nothing to score.
func (m *Machine) finish(ctx context.Context, via string) {
	if m.phase == PhaseFinished {
		return
	}
	prev := m.phase
	m.log.Info().Str("via", via).Str("from", prev.String()).Int("turns", m.agg.Len()).Msg("session finishing")

	if prev != PhaseActive {
		m.enterFinished(outcomeNoFeedback, &Outcome{
			Success:  false,
			Message:  "call ended before it started",
			Redirect: HomeRoute,
		})
		return
	}

	// Publish Finished before the slow feedback call so the client can show
	// a "generating feedback" state.
	m.phase = PhaseFinished
	m.speaking = false
	m.closed.Store(true)
	m.publish()

	m.enterFinished(m.deriveFeedback(ctx))
}

func (m *Machine) deriveFeedback(ctx context.Context) (string, *Outcome) {
	// Feedback runs to completion even when the session context is gone.
	fctx := context.WithoutCancel(ctx)
	if m.cfg.FeedbackTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(fctx, m.cfg.FeedbackTimeout)
		defer cancel()
	}

	res := m.cfg.Feedback.CreateFeedback(fctx, services.CreateFeedbackParams{
		InterviewID: m.cfg.InterviewID,
		UserID:      m.cfg.UserID,
		Transcript:  m.agg.Turns(),
	})
	if !res.Success {
		m.log.Error().Str("reason", res.Message).Msg("feedback derivation failed")
		return outcomeFailed, &Outcome{Success: false, Message: res.Message, Redirect: HomeRoute}
	}
	return outcomeSucceeded, &Outcome{
		Success:    true,
		Message:    res.Message,
		FeedbackID: res.ID,
		Redirect:   FeedbackRoute(m.cfg.InterviewID),
	}
}

func (m *Machine) enterFinished(label string, out *Outcome) {
	m.phase = PhaseFinished
	m.speaking = false
	m.closed.Store(true)
	m.outcome = out
	observability.SessionsFinished.WithLabelValues(label).Inc()
	m.publish()
}

// publish copies loop state into the shared snapshot and fans it out.
func (m *Machine) publish() {
	s := Snapshot{
		Phase:    m.phase,
		Speaking: m.speaking,
		Turns:    m.agg.Turns(),
	}
	if m.outcome != nil {
		o := *m.outcome
		s.Outcome = &o
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = s
	for ch := range m.subs {
		offer(ch, copySnapshot(s))
	}
}

func (m *Machine) closeSubscribers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs {
		close(ch)
		delete(m.subs, ch)
	}
}

// offer sends s without blocking, replacing the oldest queued snapshot when
// the buffer is full.
func offer(ch chan Snapshot, s Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

func copySnapshot(s Snapshot) Snapshot {
	turns := make([]domain.TranscriptEntry, len(s.Turns))
	copy(turns, s.Turns)
	s.Turns = turns
	if s.Outcome != nil {
		o := *s.Outcome
		s.Outcome = &o
	}
	return s
}

// HomeRoute is where the client goes after a session that produced no
// feedback.
const HomeRoute = "/"

// FeedbackRoute is the client route showing an interview's feedback.
func FeedbackRoute(interviewID string) string { return "/" + interviewID + "/feedback" }

// FormatQuestions renders questions as the "- question" lines the assistant
// prompt template expects.
func FormatQuestions(questions []string) string {
	lines := make([]string, len(questions))
	for i, q := range questions {
		lines[i] = "- " + q
	}
	return strings.Join(lines, "\n")
}

// IsBenignError reports whether a channel error only signals that the
// meeting already ended.
func IsBenignError(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "meeting has ended")
}
