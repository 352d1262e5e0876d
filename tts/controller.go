// Package tts implements buffered lookahead playback: paragraphs are
// generated ahead of the playback cursor, one request at a time, while a
// state machine decides when audio may be rendered.
package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/narrate/internal/metrics"
	"github.com/dgnsrekt/narrate/internal/queue"
)

// Store is the buffer store the controller fills and plays from.
type Store interface {
	BufferView
	Put(index int, audio AudioHandle)
	Get(index int) (AudioHandle, bool)
	EvictBefore(cursor int) int
	EvictOutside(lo, hi int) int
	Clear() int
	Len() int
	SetRetainBehind(n int)
	// Version changes on every mutation.
	Version() uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The controller logs under the "playback" prefix.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l.WithPrefix("playback")
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Controller) { c.metrics = r }
}

// WithEngineName labels generation metrics and logs.
func WithEngineName(name string) Option {
	return func(c *Controller) { c.engineName = name }
}

// WithSettings sets the initial generation settings.
func WithSettings(s GenerationSettings) Option {
	return func(c *Controller) { c.settings = s }
}

// WithParagraphs sets the initial paragraph sequence.
func WithParagraphs(p []string) Option {
	return func(c *Controller) { c.paragraphs = append([]string(nil), p...) }
}

// WithClock replaces the time source used for retry back-off.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller is the buffered playback controller. All state is owned by a
// single event loop goroutine; public methods enqueue commands and return.
type Controller struct {
	engine   Engine
	renderer Renderer
	store    Store
	sched    *queue.Scheduler
	machine  *StateMachine

	cfg        BufferedPlaybackConfig
	settings   GenerationSettings
	paragraphs []string
	cursor     int
	played     bool
	errMsg     string

	// Generation
	epoch    uint64
	inflight *request
	retry    *time.Timer
	retryAt  time.Time
	retrySeq uint64
	failed   map[int]*GenerationError

	// Derived status cache
	status    BufferStatus
	statusKey statusKey
	statusOK  bool

	// Rendering
	rendering    AudioHandle
	renderIndex  int
	renderPaused bool
	renderErr    error
	drained      bool // the last paragraph ended while paused

	logger     *log.Logger
	metrics    *metrics.Recorder
	engineName string
	now        func() time.Time

	events  chan any
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	workers sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	subMu  sync.Mutex
	subs   map[int]func(Snapshot)
	nextID int
	last   Snapshot
	final  Snapshot
}

// statusKey is everything DeriveBufferStatus depends on.
type statusKey struct {
	version  uint64
	cursor   int
	inflight int
	cfg      BufferedPlaybackConfig
}

type request struct {
	index    int
	epoch    uint64
	text     string
	settings GenerationSettings
	started  time.Time
	cancel   context.CancelFunc
}

// Loop events.
type (
	startCmd      struct{ from int }
	pauseCmd      struct{}
	resumeCmd     struct{}
	stopCmd       struct{}
	seekCmd       struct{ index int }
	clearCmd      struct{}
	seedCmd       struct{ audio map[int]AudioHandle }
	paragraphsCmd struct{ paragraphs []string }
	settingsCmd   struct{ settings GenerationSettings }
	snapshotQuery struct{ reply chan Snapshot }
	checkpointQ   struct{ reply chan Checkpoint }
	retryWake     struct{ seq uint64 }

	configCmd struct {
		update ConfigUpdate
		reply  chan error
	}

	generationResult struct {
		index    int
		epoch    uint64
		text     string
		settings GenerationSettings
		audio    AudioHandle
		err      error
		elapsed  time.Duration
		deadline bool
	}
)

// NewController creates a controller and starts its event loop. The config
// is validated; an invalid one yields a *ConfigError.
func NewController(engine Engine, renderer Renderer, store Store, cfg BufferedPlaybackConfig, opts ...Option) (*Controller, error) {
	if engine == nil || renderer == nil || store == nil {
		return nil, errors.New("engine, renderer and store are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		engine:     engine,
		renderer:   renderer,
		store:      store,
		machine:    NewStateMachine(),
		cfg:        cfg,
		settings:   DefaultGenerationSettings(),
		logger:     log.Default().WithPrefix("playback"),
		engineName: "engine",
		now:        time.Now,
		events:     make(chan any, 64),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		subs:       make(map[int]func(Snapshot)),
		failed:     make(map[int]*GenerationError),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.metrics == nil {
		if rec, err := metrics.New(nil); err == nil {
			c.metrics = rec
		} else {
			c.logger.Warn("metrics disabled", "err", err)
		}
	}

	c.sched = queue.New(queue.Config{MaxRetries: cfg.MaxRetries, RetryDelay: cfg.RetryDelay})
	c.sched.SetClock(c.now)
	c.store.SetRetainBehind(cfg.RetainBehind)
	c.setupStateMachine()
	c.last = c.snapshot()

	go c.run()
	return c, nil
}

// setupStateMachine wires render side effects to state changes.
func (c *Controller) setupStateMachine() {
	c.machine.OnEnter(StatusPlaying, func(PlaybackStatus) {
		c.played = true
		c.renderCursor()
	})
	c.machine.OnEnter(StatusBuffering, func(PlaybackStatus) { c.pauseRender() })
	c.machine.OnEnter(StatusPaused, func(PlaybackStatus) { c.pauseRender() })
	c.machine.OnEnter(StatusError, func(PlaybackStatus) {
		c.dropInterest(nil)
		c.stopRender()
	})
	c.machine.OnEnter(StatusCompleted, func(PlaybackStatus) { c.stopRender() })
}

// Start begins playback at from. Accepted in idle, completed and error.
func (c *Controller) Start(from int) error { return c.send(startCmd{from: from}) }

// Pause halts rendering. Generation continues in the background.
func (c *Controller) Pause() error { return c.send(pauseCmd{}) }

// Resume continues playback, or waits in buffering if the cursor is not ready.
func (c *Controller) Resume() error { return c.send(resumeCmd{}) }

// Stop cancels generation, clears the buffer and resets the cursor.
func (c *Controller) Stop() error { return c.send(stopCmd{}) }

// Seek moves the cursor to index, keeping buffered audio around it.
func (c *Controller) Seek(index int) error { return c.send(seekCmd{index: index}) }

// ClearError leaves the error state without discarding buffered audio.
func (c *Controller) ClearError() error { return c.send(clearCmd{}) }

// UpdateParagraphs replaces the paragraph sequence and returns to idle.
func (c *Controller) UpdateParagraphs(p []string) error {
	return c.send(paragraphsCmd{paragraphs: append([]string(nil), p...)})
}

// UpdateSettings changes the voice parameters. Buffered audio generated with
// other settings is discarded.
func (c *Controller) UpdateSettings(s GenerationSettings) error {
	return c.send(settingsCmd{settings: s})
}

// Seed hands pre-generated audio to the buffer, for example from a saved
// session. The controller takes ownership of every handle.
func (c *Controller) Seed(audio map[int]AudioHandle) error {
	cp := make(map[int]AudioHandle, len(audio))
	for k, v := range audio {
		cp[k] = v
	}
	if err := c.send(seedCmd{audio: cp}); err != nil {
		for _, h := range cp {
			h.Release()
		}
		return err
	}
	return nil
}

// UpdateConfig applies the set fields of u to the current configuration. An
// invalid result is rejected with a *ConfigError and the current
// configuration is kept.
func (c *Controller) UpdateConfig(u ConfigUpdate) error {
	reply := make(chan error, 1)
	if err := c.send(configCmd{update: u, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrControllerClosed
	}
}

// Snapshot returns the current observable state.
func (c *Controller) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	if err := c.send(snapshotQuery{reply: reply}); err != nil {
		<-c.done
		return c.final
	}
	select {
	case s := <-reply:
		return s
	case <-c.done:
		return c.final
	}
}

// Checkpoint returns the cursor and generated audio for session saving. The
// handles stay owned by the controller and must not be released by the
// caller.
func (c *Controller) Checkpoint() (Checkpoint, error) {
	reply := make(chan Checkpoint, 1)
	if err := c.send(checkpointQ{reply: reply}); err != nil {
		return Checkpoint{}, err
	}
	select {
	case cp := <-reply:
		return cp, nil
	case <-c.done:
		return Checkpoint{}, ErrControllerClosed
	}
}

// Subscribe registers fn to receive every changed snapshot. fn runs on the
// controller goroutine and must not call Snapshot or Checkpoint.
func (c *Controller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Close stops playback, releases all buffered audio and ends the event loop.
func (c *Controller) Close() error {
	c.once.Do(func() { close(c.quit) })
	<-c.done
	return nil
}

func (c *Controller) send(ev any) error {
	select {
	case <-c.quit:
		return ErrControllerClosed
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrControllerClosed
	}
}

func (c *Controller) run() {
	defer close(c.done)

	for {
		select {
		case <-c.quit:
			c.shutdown()
			return
		case ev := <-c.events:
			c.handle(ev)
		case rev := <-c.renderer.Events():
			c.handleRender(rev)
		}

		c.evaluate()
		c.pump()
		c.publish()
	}
}

func (c *Controller) shutdown() {
	if c.retry != nil {
		c.retry.Stop()
	}
	c.dropInterest(nil)
	c.stopRender()
	c.store.Clear()
	c.cancel()

	idle := make(chan struct{})
	go func() {
		c.workers.Wait()
		close(idle)
	}()

	// Release handles still queued while workers finish.
	for {
		select {
		case ev := <-c.events:
			discard(ev)
		case <-idle:
			for {
				select {
				case ev := <-c.events:
					discard(ev)
				default:
					c.final = c.snapshot()
					c.logger.Debug("controller closed")
					return
				}
			}
		}
	}
}

func discard(ev any) {
	switch ev := ev.(type) {
	case seedCmd:
		for _, h := range ev.audio {
			h.Release()
		}
	case generationResult:
		if ev.audio != nil {
			ev.audio.Release()
		}
	}
}

func (c *Controller) handle(ev any) {
	switch ev := ev.(type) {
	case startCmd:
		c.handleStart(ev.from)
	case pauseCmd:
		c.handlePause()
	case resumeCmd:
		c.handleResume()
	case stopCmd:
		c.handleStop()
	case seekCmd:
		c.handleSeek(ev.index)
	case clearCmd:
		c.handleClearError()
	case seedCmd:
		c.handleSeed(ev.audio)
	case configCmd:
		ev.reply <- c.handleConfig(ev.update)
	case paragraphsCmd:
		c.handleParagraphs(ev.paragraphs)
	case settingsCmd:
		c.handleSettings(ev.settings)
	case snapshotQuery:
		ev.reply <- c.snapshot()
	case checkpointQ:
		ev.reply <- c.checkpoint()
	case generationResult:
		c.handleResult(ev)
	case retryWake:
		if ev.seq == c.retrySeq {
			c.retry = nil
		}
	default:
		c.logger.Error("unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

func (c *Controller) warn(command string) {
	err := &StateError{Command: command, State: c.machine.Current()}
	c.logger.Warn("command ignored", "err", err)
}

func (c *Controller) transition(ev Event, to PlaybackStatus) bool {
	from := c.machine.Current()
	if err := c.machine.Transition(ev, to); err != nil {
		c.logger.Warn("rejected transition", "err", err)
		return false
	}
	if from != to {
		c.logger.Debug("status changed", "from", from, "to", to, "event", ev, "cursor", c.cursor)
		c.metrics.StatusChanged(c.ctx, from.String(), to.String())
	}
	return true
}

func (c *Controller) total() int { return len(c.paragraphs) }

func (c *Controller) threshold() int {
	return Threshold(c.cfg, c.cursor, c.total())
}

func (c *Controller) bufferSize() int {
	n := 0
	for i := c.cursor; i < c.total() && c.store.Has(i); i++ {
		n++
	}
	return n
}

func (c *Controller) retainedWindow() (int, int) {
	return c.cursor - c.cfg.RetainBehind, c.cursor + c.cfg.TargetBufferSize
}

func (c *Controller) checkIndex(command string, index int) bool {
	switch {
	case c.total() == 0:
		c.logger.Warn("command ignored", "command", command, "err", ErrNoParagraphs)
		return false
	case index < 0 || index >= c.total():
		c.logger.Warn("command ignored", "command", command, "index", index, "total", c.total(), "err", ErrIndexOutOfRange)
		return false
	}
	return true
}

func (c *Controller) handleStart(from int) {
	if !c.machine.Accepts(EventStart) {
		c.warn("START")
		return
	}
	if !c.checkIndex("START", from) {
		return
	}

	c.cursor = from
	c.played = false
	c.drained = false
	c.errMsg = ""
	c.resetFailures()
	lo, hi := c.retainedWindow()
	if n := c.store.EvictOutside(lo, hi); n > 0 {
		c.logger.Debug("evicted entries outside window", "count", n, "cursor", from)
	}
	c.transition(EventStart, StatusInitialBuffering)
}

func (c *Controller) handlePause() {
	if !c.machine.Accepts(EventPause) {
		c.warn("PAUSE")
		return
	}
	c.transition(EventPause, StatusPaused)
}

func (c *Controller) handleResume() {
	if !c.machine.Accepts(EventResume) {
		c.warn("RESUME")
		return
	}
	if c.drained {
		c.transition(EventResume, StatusPlaying)
		c.drained = false
		c.transition(EventAudioEnded, StatusCompleted)
		return
	}
	if c.bufferSize() >= c.threshold() {
		c.transition(EventResume, StatusPlaying)
		return
	}
	c.transition(EventResume, StatusBuffering)
}

func (c *Controller) handleStop() {
	if !c.machine.Accepts(EventStop) {
		c.warn("STOP")
		return
	}
	c.reset()
	c.transition(EventStop, StatusIdle)
}

// reset cancels generation, stops rendering and empties the buffer.
func (c *Controller) reset() {
	c.dropInterest(nil)
	c.stopRender()
	if n := c.store.Clear(); n > 0 {
		c.logger.Debug("buffer cleared", "released", n)
	}
	c.resetFailures()
	c.cursor = 0
	c.played = false
	c.drained = false
	c.errMsg = ""
}

func (c *Controller) handleSeek(index int) {
	switch c.machine.Current() {
	case StatusError:
		c.warn("SEEK")
		return
	case StatusIdle, StatusCompleted:
		c.handleStart(index)
		return
	}
	if !c.checkIndex("SEEK", index) {
		return
	}

	c.stopRender()
	c.cursor = index
	c.drained = false
	lo, hi := c.retainedWindow()
	c.dropInterest(func(i int) bool { return i >= lo && i <= hi })
	evicted := c.store.EvictOutside(lo, hi)
	c.logger.Debug("seek", "index", index, "evicted", evicted, "retained", c.store.Len())

	if c.played && c.store.Len() > 0 {
		c.transition(EventSeek, StatusBuffering)
		return
	}
	c.played = false
	c.transition(EventSeek, StatusInitialBuffering)
}

func (c *Controller) handleClearError() {
	if !c.machine.Accepts(EventClearError) {
		c.warn("CLEAR_ERROR")
		return
	}
	c.errMsg = ""
	c.resetFailures()
	c.transition(EventClearError, StatusIdle)
}

func (c *Controller) handleSeed(audio map[int]AudioHandle) {
	n := 0
	for idx, h := range audio {
		if h == nil {
			continue
		}
		if idx < 0 || idx >= c.total() {
			h.Release()
			continue
		}
		c.store.Put(idx, h)
		c.sched.Succeed(idx)
		n++
	}
	c.logger.Debug("seeded buffer", "entries", n)
}

func (c *Controller) handleConfig(u ConfigUpdate) error {
	merged := c.cfg.Merge(u)
	if err := merged.Validate(); err != nil {
		c.logger.Warn("config update rejected", "err", err)
		return err
	}
	c.cfg = merged
	c.store.SetRetainBehind(merged.RetainBehind)
	c.sched.SetConfig(queue.Config{MaxRetries: merged.MaxRetries, RetryDelay: merged.RetryDelay})
	c.store.EvictBefore(c.cursor)
	c.logger.Info("config updated", "target", merged.TargetBufferSize, "min", merged.MinBufferSize)
	return nil
}

func (c *Controller) handleParagraphs(p []string) {
	prev := c.cursor
	c.reset()
	c.paragraphs = p
	c.cursor = max(min(prev, len(p)-1), 0)
	if c.machine.Current() != StatusIdle {
		c.transition(EventStop, StatusIdle)
	}
	c.logger.Info("paragraphs replaced", "total", len(p))
}

func (c *Controller) handleSettings(s GenerationSettings) {
	if s == c.settings {
		return
	}
	c.settings = s
	c.dropInterest(nil)
	c.stopRender()
	n := c.store.Clear()
	c.resetFailures()
	c.logger.Info("settings changed, buffer invalidated", "released", n, "voice", s.Voice, "speed", s.Speed)

	if c.machine.Current() == StatusPlaying {
		c.transition(EventUnderrun, StatusBuffering)
	}
}

func (c *Controller) resetFailures() {
	c.sched.Reset()
	clear(c.failed)
}

// dropInterest abandons the in-flight request. The engine call is cancelled
// unless keep reports that its index is still wanted; either way the result
// is treated as stale when it arrives. The scheduler slot stays taken until
// then.
func (c *Controller) dropInterest(keep func(int) bool) {
	c.epoch++
	if c.inflight == nil {
		return
	}
	if keep == nil || !keep(c.inflight.index) {
		c.inflight.cancel()
	}
	c.inflight = nil
}

func (c *Controller) handleResult(r generationResult) {
	if err := c.sched.Settle(r.index); err != nil {
		c.logger.Error("unexpected generation result", "index", r.index, "err", err)
	}
	c.metrics.SetInFlight(0)
	if c.inflight != nil && c.inflight.epoch == r.epoch {
		c.inflight = nil
	}

	if r.err == nil && r.deadline {
		if r.audio != nil {
			r.audio.Release()
			r.audio = nil
		}
		r.err = NewGenerationError(r.index, KindTimeout, context.DeadlineExceeded)
	}
	if r.err == nil && (r.audio == nil || len(r.audio.Bytes()) == 0) {
		r.err = NewGenerationError(r.index, KindServer, ErrEmptyAudio)
	}

	if r.epoch != c.epoch {
		if r.err == nil && c.keepable(r) {
			c.store.Put(r.index, r.audio)
			c.sched.Succeed(r.index)
			c.logger.Debug("kept stale result", "index", r.index)
			return
		}
		if r.audio != nil {
			r.audio.Release()
		}
		c.logger.Debug("discarded stale result", "index", r.index, "err", r.err)
		return
	}

	if r.err != nil {
		if r.audio != nil {
			r.audio.Release()
		}
		ge := AsGenerationError(r.index, r.err)
		if r.deadline {
			ge.Kind = KindTimeout
		}
		permanent, attempts := c.sched.Fail(r.index)
		c.metrics.GenerationFailed(c.ctx, c.engineName, string(ge.Kind), r.elapsed, permanent)
		c.logger.Error("generation failed",
			"index", r.index, "kind", ge.Kind, "attempt", attempts, "permanent", permanent, "err", ge.Message)
		if permanent {
			c.failed[r.index] = ge
		}
		return
	}

	if !c.keepable(r) {
		r.audio.Release()
		return
	}
	c.sched.Succeed(r.index)
	c.store.Put(r.index, r.audio)
	c.metrics.GenerationSucceeded(c.ctx, c.engineName, r.elapsed)
	c.logger.Debug("generated", "index", r.index, "elapsed", r.elapsed, "duration", r.audio.Duration())
}

// keepable reports whether a result still belongs in the buffer.
func (c *Controller) keepable(r generationResult) bool {
	if r.index >= c.total() || c.paragraphs[r.index] != r.text || r.settings != c.settings {
		return false
	}
	lo, hi := c.retainedWindow()
	return r.index >= lo && r.index <= hi
}

// armRetry wakes the loop when the earliest pending back-off expires. A
// timer already due at or before that time is left alone.
func (c *Controller) armRetry() {
	if _, busy := c.sched.InFlight(); busy {
		return
	}
	next, ok := c.sched.NextRetry()
	if !ok {
		return
	}
	if c.retry != nil {
		if !c.retryAt.After(next) {
			return
		}
		c.retry.Stop()
	}

	c.retrySeq++
	seq := c.retrySeq
	c.retryAt = next
	c.retry = time.AfterFunc(max(next.Sub(c.now()), 0), func() {
		_ = c.send(retryWake{seq: seq})
	})
}

func (c *Controller) handleRender(ev RenderEvent) {
	if c.rendering == nil || ev.Handle != c.rendering {
		return
	}
	c.rendering = nil
	c.renderPaused = false

	if ev.Kind == RenderFailed {
		c.fail(&RenderError{Index: c.renderIndex, Err: ev.Err})
		return
	}
	switch c.machine.Current() {
	case StatusPlaying:
	case StatusPaused:
		c.endedWhilePaused()
		return
	default:
		return
	}

	if c.cursor+1 >= c.total() {
		c.transition(EventAudioEnded, StatusCompleted)
		return
	}

	c.cursor++
	if n := c.store.EvictBefore(c.cursor); n > 0 {
		c.logger.Debug("evicted played entries", "count", n, "cursor", c.cursor)
	}
	if c.bufferSize() >= c.threshold() {
		c.transition(EventAudioEnded, StatusPlaying)
		c.renderCursor()
		return
	}
	c.transition(EventAudioEnded, StatusBuffering)
}

// endedWhilePaused handles a clip that drained as the pause landed. The
// cursor moves on so RESUME continues with the next paragraph.
func (c *Controller) endedWhilePaused() {
	if c.cursor+1 >= c.total() {
		c.drained = true
		return
	}
	c.cursor++
	if n := c.store.EvictBefore(c.cursor); n > 0 {
		c.logger.Debug("evicted played entries", "count", n, "cursor", c.cursor)
	}
}

// evaluate applies guard-driven transitions until the state settles.
func (c *Controller) evaluate() {
	for range 4 {
		if c.renderErr != nil {
			err := c.renderErr
			c.renderErr = nil
			c.fail(err)
			continue
		}

		switch c.machine.Current() {
		case StatusInitialBuffering, StatusBuffering:
			gap := c.cursor + c.bufferSize()
			if ge, ok := c.failed[gap]; ok && c.bufferSize() < c.threshold() {
				c.fail(ge)
				continue
			}
			if c.threshold() > 0 && c.bufferSize() >= c.threshold() {
				c.transition(EventReady, StatusPlaying)
				continue
			}
		case StatusPlaying:
			if c.rendering == nil && !c.store.Has(c.cursor) {
				c.transition(EventUnderrun, StatusBuffering)
				continue
			}
		}
		return
	}
}

func (c *Controller) fail(err error) {
	c.errMsg = err.Error()
	c.logger.Error("playback failed", "err", err, "cursor", c.cursor)
	c.transition(EventFail, StatusError)
}

// pump issues the next generation request when the scheduler has one.
func (c *Controller) pump() {
	switch c.machine.Current() {
	case StatusInitialBuffering, StatusBuffering, StatusPlaying, StatusPaused:
	default:
		return
	}

	idx, ok := c.sched.DecideNext(c.cursor, c.store.Has, c.total(), c.cfg.TargetBufferSize)
	if !ok {
		c.armRetry()
		return
	}
	if err := c.sched.Begin(idx); err != nil {
		c.logger.Warn("generation not issued", "index", idx, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.GenerationTimeout)
	req := &request{
		index:    idx,
		epoch:    c.epoch,
		text:     c.paragraphs[idx],
		settings: c.settings,
		started:  c.now(),
		cancel:   cancel,
	}
	c.inflight = req
	c.metrics.SetInFlight(1)
	c.logger.Debug("generating", "index", idx, "attempt", c.sched.Attempts(idx)+1)

	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		defer cancel()
		audio, err := c.engine.Generate(ctx, req.index, req.text, req.settings)
		res := generationResult{
			index:    req.index,
			epoch:    req.epoch,
			text:     req.text,
			settings: req.settings,
			audio:    audio,
			err:      err,
			elapsed:  time.Since(req.started),
			deadline: errors.Is(ctx.Err(), context.DeadlineExceeded),
		}
		if err := c.send(res); err != nil && audio != nil {
			audio.Release()
		}
	}()
}

func (c *Controller) renderCursor() {
	if c.drained {
		return
	}
	if c.rendering != nil && c.renderIndex == c.cursor && c.renderPaused {
		if err := c.renderer.Resume(); err != nil {
			c.renderErr = &RenderError{Index: c.cursor, Err: err}
			return
		}
		c.renderPaused = false
		return
	}

	h, ok := c.store.Get(c.cursor)
	if !ok {
		return
	}
	if err := c.renderer.Render(h); err != nil {
		c.renderErr = &RenderError{Index: c.cursor, Err: err}
		return
	}
	c.rendering = h
	c.renderIndex = c.cursor
	c.renderPaused = false
}

func (c *Controller) pauseRender() {
	if c.rendering == nil || c.renderPaused {
		return
	}
	if err := c.renderer.Pause(); err != nil {
		c.logger.Warn("renderer pause failed", "err", err)
	}
	c.renderPaused = true
}

func (c *Controller) stopRender() {
	if c.rendering == nil {
		return
	}
	if err := c.renderer.Stop(); err != nil {
		c.logger.Warn("renderer stop failed", "err", err)
	}
	c.rendering = nil
	c.renderPaused = false
}

func (c *Controller) snapshot() Snapshot {
	inflight := -1
	if idx, ok := c.sched.InFlight(); ok {
		inflight = idx
	}
	return Snapshot{
		Status:          c.machine.Current(),
		Buffer:          c.bufferStatus(inflight),
		CurrentIndex:    c.cursor,
		TotalParagraphs: c.total(),
		Error:           c.errMsg,
	}
}

// bufferStatus reuses the last derived status while the store version,
// cursor, in-flight index and config are unchanged.
func (c *Controller) bufferStatus(inflight int) BufferStatus {
	key := statusKey{version: c.store.Version(), cursor: c.cursor, inflight: inflight, cfg: c.cfg}
	if c.statusOK && key == c.statusKey {
		return c.status
	}
	c.status = DeriveBufferStatus(c.cursor, c.store, inflight, c.cfg)
	c.statusKey, c.statusOK = key, true
	return c.status
}

func (c *Controller) checkpoint() Checkpoint {
	cp := Checkpoint{
		CurrentIndex: c.cursor,
		Paragraphs:   append([]string(nil), c.paragraphs...),
		Settings:     c.settings,
		Audio:        make(map[int]AudioHandle),
	}
	for _, idx := range c.store.Indices() {
		if h, ok := c.store.Get(idx); ok {
			cp.Audio[idx] = h
		}
	}
	return cp
}

func (c *Controller) publish() {
	snap := c.snapshot()
	c.metrics.SetBufferSize(snap.Buffer.BufferSize)
	if snap.Equal(c.last) {
		return
	}
	c.last = snap

	c.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
