package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/hvhvdevdev/zee1/internal/engine/events"
	enginemetrics "github.com/hvhvdevdev/zee1/internal/engine/metrics"
	"github.com/hvhvdevdev/zee1/internal/engine/state"
)

// Root owns the four sub-engines and drives them through launch, the frame
// loop and shutdown in fixed orders:
//
//	launch:   scripting, control, audio, video (stops at the first failure)
//	update:   scripting, audio, control, video (stops at the first failure)
//	shutdown: audio, control, scripting, video (attempts every engine)
type Root struct {
	video     *slot[VideoEngine]
	audio     *slot[AudioEngine]
	control   *slot[ControlEngine]
	scripting *slot[ScriptingEngine]

	running atomic.Bool
	phase   atomic.Int32
	frames  atomic.Uint64

	runMu sync.Mutex

	mu          sync.RWMutex
	launching   bool
	stopLatched bool
	runID       string
	lastErr   error
	loopStart time.Time
	lastFrame time.Time

	now     func() time.Time
	events  events.EventLogger
	metrics enginemetrics.MetricsCollector
	handle  RootHandle
}

// Option configures a Root.
type Option func(*Root)

// WithEvents sets the event logger.
func WithEvents(el events.EventLogger) Option {
	return func(r *Root) {
		if el != nil {
			r.events = el
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(mc enginemetrics.MetricsCollector) Option {
	return func(r *Root) {
		if mc != nil {
			r.metrics = mc
		}
	}
}

// WithClock overrides the clock used for tick and latency measurements.
func WithClock(now func() time.Time) Option {
	return func(r *Root) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a Root owning the given sub-engines. It panics if any engine is nil.
func New(video VideoEngine, audio AudioEngine, scripting ScriptingEngine, control ControlEngine, opts ...Option) *Root {
	if video == nil || audio == nil || scripting == nil || control == nil {
		panic("engine: New requires all four sub-engines")
	}

	r := &Root{
		video:     newSlot(RoleVideo, video),
		audio:     newSlot(RoleAudio, audio),
		control:   newSlot(RoleControl, control),
		scripting: newSlot(RoleScripting, scripting),
		now:       time.Now,
		events:    events.NoOpLogger{},
		metrics:   enginemetrics.NewNoOpCollector(),
	}
	r.handle = rootHandle{r: r}

	for _, opt := range opts {
		opt(r)
	}

	r.metrics.RecordPhase(int(state.PhaseCreated))
	for _, s := range r.all() {
		r.setStatus(s, state.StatusIdle)
	}
	return r
}

func (r *Root) launchOrder() []lifecycle {
	return []lifecycle{r.scripting, r.control, r.audio, r.video}
}

func (r *Root) updateOrder() []lifecycle {
	return []lifecycle{r.scripting, r.audio, r.control, r.video}
}

func (r *Root) shutdownOrder() []lifecycle {
	return []lifecycle{r.audio, r.control, r.scripting, r.video}
}

func (r *Root) all() []lifecycle {
	return []lifecycle{r.video, r.audio, r.control, r.scripting}
}

// Running reports whether the frame loop will start another frame.
func (r *Root) Running() bool {
	return r.running.Load()
}

// Phase returns the current lifecycle phase.
func (r *Root) Phase() state.Phase {
	return state.Phase(r.phase.Load())
}

// Frames returns the number of frames started in the current or last run.
func (r *Root) Frames() uint64 {
	return r.frames.Load()
}

// Handle returns the view of the Root passed to sub-engine updates.
func (r *Root) Handle() RootHandle {
	return r.handle
}

// Stop asks the frame loop to exit once the current frame finishes.
// It never waits on a sub-engine and is safe to call from any goroutine,
// including from inside a sub-engine's Launch or Update. A Stop that arrives
// while Run is still launching is latched, and the loop is skipped. Calling it
// when no run is in progress is a no-op.
func (r *Root) Stop() {
	if !r.running.CompareAndSwap(true, false) && !r.latchStop() {
		return
	}
	r.metrics.RecordStopRequest()
	r.mu.RLock()
	runID := r.runID
	r.mu.RUnlock()
	events.NewEvent(events.EventStopRequested).
		RunID(runID).
		Frame(r.frames.Load()).
		Phase(r.Phase()).
		LogTo(r.events)
}

// latchStop records a stop requested before the loop started. It reports
// whether the request was accepted.
func (r *Root) latchStop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Run may have entered the loop since the caller's check.
	if r.running.CompareAndSwap(true, false) {
		return true
	}
	if !r.launching || r.stopLatched {
		return false
	}
	r.stopLatched = true
	return true
}

// enterLoop ends the launch window and reports whether the frame loop should
// start. A latched stop keeps it from starting.
func (r *Root) enterLoop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	stop := r.stopLatched
	r.launching = false
	r.stopLatched = false
	r.running.Store(!stop)
	return !stop
}

// Snapshot returns a point-in-time view of the lifecycle.
func (r *Root) Snapshot() state.Snapshot {
	r.mu.RLock()
	runID, lastErr := r.runID, r.lastErr
	r.mu.RUnlock()

	snap := state.Snapshot{
		RunID:   runID,
		Phase:   r.Phase(),
		Running: r.Running(),
		Frame:   r.frames.Load(),
		Engines: make(map[string]state.Status, 4),
	}
	for _, s := range r.all() {
		snap.Engines[s.kind().String()] = s.status()
	}
	if lastErr != nil {
		snap.Error = lastErr.Error()
	}
	return snap
}

// SwapVideo replaces the video sub-engine. It waits for any call in progress
// on that engine to return.
func (r *Root) SwapVideo(e VideoEngine) {
	if e == nil {
		panic("engine: SwapVideo with nil engine")
	}
	r.video.swap(e)
}

// SwapAudio replaces the audio sub-engine.
func (r *Root) SwapAudio(e AudioEngine) {
	if e == nil {
		panic("engine: SwapAudio with nil engine")
	}
	r.audio.swap(e)
}

// SwapControl replaces the control sub-engine.
func (r *Root) SwapControl(e ControlEngine) {
	if e == nil {
		panic("engine: SwapControl with nil engine")
	}
	r.control.swap(e)
}

// SwapScripting replaces the scripting sub-engine.
func (r *Root) SwapScripting(e ScriptingEngine) {
	if e == nil {
		panic("engine: SwapScripting with nil engine")
	}
	r.scripting.swap(e)
}

// StartEngines launches scripting, control, audio and video in that order.
// The first failure is returned and the remaining engines are not launched.
// Engines launched before the failure are left running; Run shuts them down.
func (r *Root) StartEngines(ctx context.Context) error {
	for _, s := range r.launchOrder() {
		if err := r.launchSlot(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// UpdateEngines runs one frame: scripting, audio, control and video are
// updated in that order. The first failure ends the frame and is returned.
func (r *Root) UpdateEngines(ctx context.Context) error {
	tick := r.nextTick(ctx)
	start := r.now()

	for _, s := range r.updateOrder() {
		if err := r.updateSlot(ctx, s, tick); err != nil {
			events.NewEvent(events.EventFrameFailed).
				Engine(s.kind().String()).
				Frame(tick.Frame).
				Phase(r.Phase()).
				ErrorFrom(err).
				LogToWithContext(ctx, r.events)
			return err
		}
	}

	r.metrics.RecordFrame(r.now().Sub(start))
	return nil
}

// ShutdownEngines shuts down audio, control, scripting and video in that
// order. Every engine is attempted even if an earlier one fails; the
// returned error combines all failures, first failure first.
func (r *Root) ShutdownEngines(ctx context.Context) error {
	return r.shutdown(ctx, r.shutdownOrder())
}

// Run launches the sub-engines, updates them once per frame until Stop is
// called or ctx is done, then shuts them down.
//
// If launching fails, only the engines that launched are shut down and the
// launch error is returned. If a frame fails, the loop ends, every engine is
// shut down, and the update error is returned. A shutdown error is returned
// only when nothing failed before it.
//
// If a sub-engine panics, the engines still holding resources are shut down
// and the panic is propagated to the caller.
func (r *Root) Run(ctx context.Context) (err error) {
	if !r.runMu.TryLock() {
		return ErrAlreadyRunning
	}
	defer r.runMu.Unlock()
	if !r.Phase().CanRun() {
		return ErrAlreadyRunning
	}

	runID := events.NewRunID()
	ctx = events.WithRunID(ctx, runID)
	r.beginRun(runID)

	started := r.now()
	events.NewEvent(events.EventRunStarted).
		Phase(r.Phase()).
		LogToWithContext(ctx, r.events)

	defer func() {
		if p := recover(); p != nil {
			r.abortRun(ctx, p)
			r.finishRun(ctx, started, fmt.Errorf("engine: run panicked: %v", p))
			panic(p)
		}
		r.finishRun(ctx, started, err)
	}()

	// Shutdown must still reach the engines after ctx is cancelled.
	shutdownCtx := context.WithoutCancel(ctx)

	if err := r.StartEngines(ctx); err != nil {
		r.mu.Lock()
		r.launching = false
		r.stopLatched = false
		r.mu.Unlock()

		r.setPhase(ctx, state.PhaseShuttingDown)
		_ = r.shutdown(shutdownCtx, r.launched())
		return err
	}
	r.setPhase(ctx, state.PhaseLaunched)

	r.mu.Lock()
	r.loopStart = r.now()
	r.lastFrame = time.Time{}
	r.mu.Unlock()

	var runErr error
	if r.enterLoop() {
		r.setPhase(ctx, state.PhaseRunning)
		for r.running.Load() {
			if ctx.Err() != nil {
				r.Stop()
				break
			}
			if err := r.UpdateEngines(ctx); err != nil {
				runErr = err
				break
			}
		}
		r.running.Store(false)
	}

	r.setPhase(ctx, state.PhaseShuttingDown)
	shutdownErr := r.ShutdownEngines(shutdownCtx)

	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// launched returns, in shutdown order, the slots still holding resources.
func (r *Root) launched() []lifecycle {
	out := make([]lifecycle, 0, 4)
	for _, s := range r.shutdownOrder() {
		if s.status().IsLaunched() {
			out = append(out, s)
		}
	}
	return out
}

// abortRun shuts down what is still launched after a sub-engine panicked.
func (r *Root) abortRun(ctx context.Context, p interface{}) {
	r.running.Store(false)
	r.mu.Lock()
	r.launching = false
	r.stopLatched = false
	r.mu.Unlock()

	events.NewEvent(events.EventRunPanicked).
		Severity(events.SeverityError).
		Phase(r.Phase()).
		Frame(r.frames.Load()).
		Metadata("panic", fmt.Sprint(p)).
		LogToWithContext(ctx, r.events)

	if from := r.Phase(); from != state.PhaseShuttingDown && state.CanTransition(from, state.PhaseShuttingDown) {
		r.setPhase(ctx, state.PhaseShuttingDown)
	}
	_ = r.shutdown(context.WithoutCancel(ctx), r.launched())
}

func (r *Root) beginRun(runID string) {
	r.mu.Lock()
	r.launching = true
	r.stopLatched = false
	r.runID = runID
	r.lastErr = nil
	r.loopStart = time.Time{}
	r.lastFrame = time.Time{}
	r.mu.Unlock()

	r.frames.Store(0)
	r.metrics.Reset()
	for _, s := range r.all() {
		r.setStatus(s, state.StatusIdle)
	}
}

func (r *Root) finishRun(ctx context.Context, started time.Time, err error) {
	r.setPhase(ctx, state.PhaseTerminated)

	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()

	r.metrics.RecordRun(err)
	r.metrics.UpdateUptime()

	b := events.NewEvent(events.EventRunFinished).
		Phase(state.PhaseTerminated).
		Frame(r.frames.Load()).
		Duration(r.now().Sub(started))
	if err != nil {
		b = b.ErrorFrom(err)
	}
	b.LogToWithContext(ctx, r.events)
}

func (r *Root) launchSlot(ctx context.Context, s lifecycle) error {
	name := s.kind().String()
	r.setStatus(s, state.StatusLaunching)
	events.NewEvent(events.EventEngineLaunching).
		Engine(name).
		Severity(events.SeverityDebug).
		Status(state.StatusLaunching).
		LogToWithContext(ctx, r.events)

	start := r.now()
	err := s.launch(ctx)
	elapsed := r.now().Sub(start)
	r.metrics.RecordLaunch(name, elapsed, err)

	if err != nil {
		r.setStatus(s, state.StatusLaunchFailed)
		events.NewEvent(events.EventEngineLaunchFailed).
			Engine(name).
			Status(state.StatusLaunchFailed).
			Duration(elapsed).
			ErrorFrom(err).
			LogToWithContext(ctx, r.events)
		return newPhaseError(OpLaunch, s.kind(), 0, err)
	}

	r.setStatus(s, state.StatusLaunched)
	events.NewEvent(events.EventEngineLaunched).
		Engine(name).
		Status(state.StatusLaunched).
		Duration(elapsed).
		LogToWithContext(ctx, r.events)
	return nil
}

func (r *Root) updateSlot(ctx context.Context, s lifecycle, tick Tick) error {
	name := s.kind().String()
	prev := s.status()
	s.setStatus(state.StatusUpdating)

	start := r.now()
	err := s.update(ctx, tick, r.handle)
	r.metrics.RecordUpdate(name, r.now().Sub(start), err)

	if err != nil {
		r.setStatus(s, state.StatusUpdateFailed)
		events.NewEvent(events.EventEngineUpdateFailed).
			Engine(name).
			Frame(tick.Frame).
			Status(state.StatusUpdateFailed).
			ErrorFrom(err).
			LogToWithContext(ctx, r.events)
		return newPhaseError(OpUpdate, s.kind(), tick.Frame, err)
	}

	if prev.IsLaunched() {
		prev = state.StatusLaunched
	}
	s.setStatus(prev)
	return nil
}

func (r *Root) shutdown(ctx context.Context, order []lifecycle) error {
	var errs error
	for _, s := range order {
		errs = multierr.Append(errs, r.shutdownSlot(ctx, s))
	}
	return errs
}

func (r *Root) shutdownSlot(ctx context.Context, s lifecycle) error {
	name := s.kind().String()
	r.setStatus(s, state.StatusShuttingDown)
	events.NewEvent(events.EventEngineStopping).
		Engine(name).
		Severity(events.SeverityDebug).
		Status(state.StatusShuttingDown).
		LogToWithContext(ctx, r.events)

	start := r.now()
	err := s.shutdown(ctx)
	elapsed := r.now().Sub(start)
	r.metrics.RecordShutdown(name, elapsed, err)

	if err != nil {
		r.setStatus(s, state.StatusShutdownFailed)
		events.NewEvent(events.EventEngineStopFailed).
			Engine(name).
			Status(state.StatusShutdownFailed).
			Duration(elapsed).
			ErrorFrom(err).
			LogToWithContext(ctx, r.events)
		return newPhaseError(OpShutdown, s.kind(), 0, err)
	}

	r.setStatus(s, state.StatusStopped)
	events.NewEvent(events.EventEngineStopped).
		Engine(name).
		Status(state.StatusStopped).
		Duration(elapsed).
		LogToWithContext(ctx, r.events)
	return nil
}

func (r *Root) nextTick(ctx context.Context) Tick {
	now := r.now()
	frame := r.frames.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loopStart.IsZero() {
		r.loopStart = now
	}
	var delta time.Duration
	if !r.lastFrame.IsZero() {
		delta = now.Sub(r.lastFrame)
	}
	r.lastFrame = now

	runID := r.runID
	if id := events.RunIDFrom(ctx); id != "" {
		runID = id
	}
	return Tick{
		Frame:   frame,
		Delta:   delta,
		Elapsed: now.Sub(r.loopStart),
		RunID:   runID,
	}
}

func (r *Root) setStatus(s lifecycle, st state.Status) {
	s.setStatus(st)
	r.metrics.RecordEngineStatus(s.kind().String(), int(st))
}

// setPhase moves the Root to phase to. Only the goroutine inside Run calls it.
func (r *Root) setPhase(ctx context.Context, to state.Phase) {
	from := r.Phase()
	if !state.CanTransition(from, to) {
		panic(fmt.Sprintf("engine: %v", state.NewTransitionError(from, to)))
	}
	r.phase.Store(int32(to))
	r.metrics.RecordPhase(int(to))
	events.NewEvent(events.EventPhaseChanged).
		Phase(to).
		Severity(events.SeverityDebug).
		Metadata("from", from.String()).
		LogToWithContext(ctx, r.events)
}

type rootHandle struct {
	r *Root
}

func (h rootHandle) Stop()              { h.r.Stop() }
func (h rootHandle) Running() bool      { return h.r.Running() }
func (h rootHandle) Phase() state.Phase { return h.r.Phase() }
