// Package relay bridges the realtime voice pipeline and connected clients.
//
// A [Coordinator] owns at most one relay session at a time. While running it
// feeds microphone chunks pushed by the boundary to the pipeline and turns the
// pipeline's outbound events (speech audio, transcriptions, turn markers,
// errors) into broadcasts.
//
// The session tasks run inside the background context handed to
// [Coordinator.Run]; [Coordinator.Enable] submits start requests to it over a
// channel. The state machine is Idle -> Starting -> Running -> Stopping ->
// Idle.
package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/gameweaver/internal/apperr"
	"github.com/MrWong99/gameweaver/internal/hub"
	"github.com/MrWong99/gameweaver/internal/observe"
	"github.com/MrWong99/gameweaver/internal/resilience"
	"github.com/MrWong99/gameweaver/pkg/audio"
	"github.com/MrWong99/gameweaver/pkg/provider/voice"
	"github.com/MrWong99/gameweaver/pkg/store"
)

// Defaults applied by [New] for zero-valued [Config] fields.
const (
	DefaultSampleRate   = 24000
	DefaultPollInterval = 10 * time.Millisecond
	DefaultStopTimeout  = 2 * time.Second
)

// Broadcast texts.
const (
	MsgStarting       = "Voice pipeline starting..."
	MsgEnabled        = "Voice interaction enabled."
	MsgStopped        = "Voice pipeline stopped."
	MsgDisabled       = "Voice interaction disabled."
	MsgAlreadyRunning = "Voice interaction is already running."
	MsgNotReady       = "Voice pipeline is not available."
	MsgConnectFailed  = "Failed to start voice pipeline."
)

var errStreamClosed = errors.New("relay: voice pipeline closed the event stream")

// State is the lifecycle state of a [Coordinator].
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// EventLog receives transcriptions and pipeline errors. store.Store
// satisfies it.
type EventLog interface {
	Append(ctx context.Context, eventType, description string) (string, error)
}

// Config tunes a Coordinator.
type Config struct {
	// SampleRate of PCM16 audio in both directions.
	SampleRate int

	// PollInterval is how long the feed loop sleeps on an empty queue.
	PollInterval time.Duration

	// StopTimeout bounds how long Disable waits for the session tasks.
	StopTimeout time.Duration

	// Voice selects the synthesised voice.
	Voice string

	// Input is the format clients capture microphone audio in. When its
	// sample rate is set, inbound chunks are converted to mono at
	// SampleRate before they reach the pipeline.
	Input audio.Format

	// DumpDir, when set, receives one WAV file per synthesised chunk. Files
	// are removed at the end of each turn.
	DumpDir string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics records relay activity on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithInstructions sets the function producing the voice model's system
// prompt at session start.
func WithInstructions(fn func(ctx context.Context) string) Option {
	return func(c *Coordinator) { c.instructions = fn }
}

// WithBreaker guards Connect with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Coordinator) { c.breaker = cb }
}

// Coordinator is the audio relay. All methods are safe for concurrent use.
type Coordinator struct {
	provider     voice.Provider
	out          hub.Broadcaster
	log          EventLog
	cfg          Config
	metrics      *observe.Metrics
	breaker      *resilience.CircuitBreaker
	instructions func(ctx context.Context) string

	// lifecycle serialises Enable and Disable.
	lifecycle sync.Mutex

	mu      sync.Mutex
	state   State
	current *session
	runCtx  context.Context

	running  atomic.Bool
	queue    *chunkQueue
	startReq chan *session
}

// session is one relay session.
type session struct {
	id     string
	voice  voice.Session
	dumps  *dumpSet
	cancel context.CancelFunc
	ready  chan struct{}
	active atomic.Bool
	done   chan struct{}
	once   sync.Once
}

// New returns an idle Coordinator. log may be nil.
func New(p voice.Provider, out hub.Broadcaster, log EventLog, cfg Config, opts ...Option) *Coordinator {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	c := &Coordinator{
		provider: p,
		out:      out,
		log:      log,
		cfg:      cfg,
		queue:    newChunkQueue(),
		startReq: make(chan *session),
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "voice"})
	}
	return c
}

// Run is the background scheduler. It accepts start requests until ctx is
// done; running sessions are cancelled with ctx. Calling Run while another
// Run is active fails with apperr.ErrAlreadyRunning.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.runCtx != nil {
		c.mu.Unlock()
		return apperr.New(apperr.ErrAlreadyRunning, "Relay scheduler is already running.")
	}
	c.runCtx = ctx
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.runCtx = nil
		c.mu.Unlock()
	}()

	slog.Info("relay scheduler started", "sample_rate", c.cfg.SampleRate)
	for {
		select {
		case <-ctx.Done():
			slog.Info("relay scheduler stopped")
			return nil
		case s := <-c.startReq:
			sessCtx, cancel := context.WithCancel(ctx)
			s.cancel = cancel
			close(s.ready)
			go c.runSession(sessCtx, s)
		}
	}
}

// Ready reports whether the background scheduler is accepting sessions.
func (c *Coordinator) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runCtx != nil && c.runCtx.Err() == nil
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Running reports whether chunks are currently accepted.
func (c *Coordinator) Running() bool { return c.running.Load() }

// QueueLen returns the number of chunks waiting for the pipeline.
func (c *Coordinator) QueueLen() int { return c.queue.len() }

// Enable starts a relay session. It fails with apperr.ErrAlreadyRunning when
// a session exists, apperr.ErrNotReady when the scheduler is not running and
// apperr.ErrExternalService when the pipeline cannot be reached.
func (c *Coordinator) Enable(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return apperr.New(apperr.ErrAlreadyRunning, MsgAlreadyRunning)
	}
	runCtx := c.runCtx
	if runCtx == nil || runCtx.Err() != nil {
		c.mu.Unlock()
		return apperr.New(apperr.ErrNotReady, MsgNotReady)
	}
	c.state = StateStarting
	c.mu.Unlock()

	c.out.Broadcast(hub.System(MsgStarting))

	sess, err := c.connect(ctx)
	if err != nil {
		c.setState(StateIdle)
		return apperr.Wrap(apperr.ErrExternalService, err, MsgConnectFailed)
	}

	id := uuid.NewString()
	s := &session{
		id:    id,
		voice: sess,
		dumps: &dumpSet{dir: c.cfg.DumpDir, prefix: "turn-" + id},
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}

	c.queue.reset()
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
	c.running.Store(true)

	select {
	case c.startReq <- s:
		<-s.ready
	case <-runCtx.Done():
		c.abort(s)
		return apperr.New(apperr.ErrNotReady, MsgNotReady)
	case <-ctx.Done():
		c.abort(s)
		return ctx.Err()
	}

	c.mu.Lock()
	if c.current != s {
		// The pipeline hung up before the session was marked running.
		c.mu.Unlock()
		return apperr.New(apperr.ErrExternalService, MsgConnectFailed)
	}
	c.state = StateRunning
	s.active.Store(true)
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.ActiveRelays.Add(ctx, 1)
	}
	c.out.Broadcast(hub.Message{Event: hub.EventAudioInit, Data: hub.AudioInitData{
		SampleRate: c.cfg.SampleRate,
		Channels:   1,
		BitDepth:   audio.BitDepth,
	}})
	c.out.Broadcast(hub.System(MsgEnabled))
	slog.Info("relay session started", "session_id", s.id)
	return nil
}

func (c *Coordinator) connect(ctx context.Context) (voice.Session, error) {
	cfg := voice.SessionConfig{Voice: c.cfg.Voice, SampleRate: c.cfg.SampleRate}
	if c.instructions != nil {
		cfg.Instructions = c.instructions(ctx)
	}

	var sess voice.Session
	err := c.breaker.Execute(func() error {
		var err error
		sess, err = c.provider.Connect(ctx, cfg)
		return err
	})
	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
			c.metrics.RecordProviderError(ctx, "voice", "connect")
		}
		c.metrics.RecordProviderRequest(ctx, "voice", "connect", status)
	}
	return sess, err
}

// abort undoes a start whose session never reached the scheduler.
func (c *Coordinator) abort(s *session) {
	_ = s.voice.Close()
	c.mu.Lock()
	if c.current == s {
		c.current = nil
		c.running.Store(false)
	}
	c.state = StateIdle
	c.mu.Unlock()
}

// Disable stops the running session and waits up to the stop timeout for
// its tasks to finish. On timeout the tasks are abandoned and the
// coordinator returns to Idle anyway. Disable without a session is a no-op
// and broadcasts nothing.
func (c *Coordinator) Disable() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	s := c.current
	if s == nil {
		c.mu.Unlock()
		return
	}
	c.state = StateStopping
	c.mu.Unlock()

	c.running.Store(false)
	s.cancel()

	timer := time.NewTimer(c.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		slog.Warn("relay session did not stop in time, abandoning", "session_id", s.id, "timeout", c.cfg.StopTimeout)
		c.teardown(s)
	}
	c.out.Broadcast(hub.System(MsgDisabled))
}

// PushChunk queues a microphone chunk for the pipeline. It reports false, and
// drops the chunk, while no session is running.
func (c *Coordinator) PushChunk(chunk []byte) bool {
	if !c.running.Load() {
		if c.metrics != nil {
			c.metrics.RecordRelayChunk(context.Background(), "dropped")
		}
		return false
	}
	c.queue.push(append([]byte(nil), chunk...))
	return true
}

func (c *Coordinator) setState(st State) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
}

func (c *Coordinator) runSession(ctx context.Context, s *session) {
	defer close(s.done)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.feed(gctx, s) })
	g.Go(func() error { return c.consume(gctx, s) })

	err := g.Wait()
	switch {
	case errors.Is(err, errStreamClosed):
		slog.Info("voice pipeline closed the stream", "session_id", s.id)
	case err != nil:
		slog.Warn("relay session failed", "session_id", s.id, "err", err)
	}

	// An abandoned session may unwind after a newer one started. Only the
	// current session owns the shared state.
	c.mu.Lock()
	if c.current == s {
		c.state = StateStopping
		c.running.Store(false)
	}
	c.mu.Unlock()
	c.teardown(s)
}

// teardown releases the session exactly once, whichever exit path gets
// there first.
func (c *Coordinator) teardown(s *session) {
	s.once.Do(func() {
		if err := s.voice.Close(); err != nil {
			slog.Warn("close voice session", "session_id", s.id, "err", err)
		}
		s.dumps.clear()

		c.mu.Lock()
		if c.current == s {
			c.current = nil
			c.state = StateIdle
			c.running.Store(false)
		}
		c.mu.Unlock()

		if c.metrics != nil && s.active.Load() {
			c.metrics.ActiveRelays.Add(context.Background(), -1)
		}
		c.out.Broadcast(hub.System(MsgStopped))
		slog.Info("relay session stopped", "session_id", s.id)
	})
}

// feed forwards queued chunks to the pipeline, sleeping for the poll
// interval while the queue is empty.
func (c *Coordinator) feed(ctx context.Context, s *session) error {
	var conv *audio.Converter
	if c.cfg.Input.SampleRate > 0 {
		conv = &audio.Converter{Target: audio.Format{SampleRate: c.cfg.SampleRate, Channels: 1}}
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		chunk, ok := c.queue.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-c.queue.notify:
			case <-time.After(c.cfg.PollInterval):
			}
			continue
		}
		if conv != nil {
			chunk = conv.Convert(audio.Chunk{Data: chunk, Format: c.cfg.Input}).Data
			if len(chunk) == 0 {
				continue
			}
		}
		if err := s.voice.SendAudio(chunk); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("relay: send audio", "session_id", s.id, "err", err)
			if c.metrics != nil {
				c.metrics.RecordRelayChunk(ctx, "dropped")
			}
			continue
		}
		if c.metrics != nil {
			c.metrics.RecordRelayChunk(ctx, "in")
		}
	}
}

// consume handles pipeline events until the stream closes or ctx is done.
func (c *Coordinator) consume(ctx context.Context, s *session) error {
	events := s.voice.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errStreamClosed
			}
			c.handle(ctx, s, evt)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, s *session, evt voice.Event) {
	// Events still buffered when the session stops are not relayed.
	if ctx.Err() != nil {
		return
	}
	switch evt.Kind {
	case voice.EventAudio:
		if len(evt.Audio) == 0 {
			return
		}
		f := audio.Format{SampleRate: c.cfg.SampleRate, Channels: 1}
		c.out.Broadcast(hub.Message{Event: hub.EventAudioChunk, Data: hub.AudioChunkData{
			Audio:    base64.StdEncoding.EncodeToString(audio.EncodeWAV(evt.Audio, f)),
			Format:   "wav",
			Encoding: "base64",
		}})
		s.dumps.write(evt.Audio, f)
		if c.metrics != nil {
			c.metrics.RecordRelayChunk(ctx, "out")
		}

	case voice.EventTranscription:
		if evt.Text == "" {
			return
		}
		c.out.Broadcast(hub.Message{Event: hub.EventPlayerSpeech, Data: hub.TextData{Text: evt.Text}})
		c.appendLog(ctx, store.TypePlayerSpeech, "Player said: "+evt.Text)

	case voice.EventLifecycle:
		c.out.Broadcast(hub.Message{Event: hub.EventLifecycle, Data: hub.LifecycleData{Event: evt.Lifecycle}})
		if evt.Lifecycle == voice.TurnEnded {
			s.dumps.clear()
		}

	case voice.EventError:
		msg := "unknown error"
		if evt.Err != nil {
			msg = evt.Err.Error()
		}
		slog.Warn("voice pipeline error", "session_id", s.id, "err", msg)
		c.out.Broadcast(hub.SystemError("Error: " + msg))
		c.appendLog(ctx, store.TypePipelineError, msg)
		if c.metrics != nil {
			c.metrics.RecordProviderError(ctx, "voice", "stream")
		}
	}
}

func (c *Coordinator) appendLog(ctx context.Context, eventType, description string) {
	if c.log == nil {
		return
	}
	if _, err := c.log.Append(ctx, eventType, description); err != nil {
		slog.Warn("relay: append event", "type", eventType, "err", err)
	}
}
