package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/hvhvdevdev/zee1/internal/engine/events"
	"github.com/hvhvdevdev/zee1/internal/engine/state"
)

var errBoom = errors.New("boom")

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) record(role Role, op Op) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf("%s.%s", role, op))
}

// of returns the roles that received op, in call order.
func (l *callLog) of(op Op) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	suffix := "." + string(op)
	for _, c := range l.calls {
		if len(c) > len(suffix) && c[len(c)-len(suffix):] == suffix {
			out = append(out, c[:len(c)-len(suffix)])
		}
	}
	return out
}

type stub struct {
	mock.Mock
	role Role
	log  *callLog
}

func (s *stub) Launch(ctx context.Context) error {
	s.log.record(s.role, OpLaunch)
	return s.Called(ctx).Error(0)
}

func (s *stub) Update(ctx context.Context, tick Tick, root RootHandle) error {
	s.log.record(s.role, OpUpdate)
	return s.Called(ctx, tick, root).Error(0)
}

func (s *stub) Shutdown(ctx context.Context) error {
	s.log.record(s.role, OpShutdown)
	return s.Called(ctx).Error(0)
}

func (s *stub) onLaunch(err error) *stub {
	s.On("Launch", mock.Anything).Return(err)
	return s
}

func (s *stub) onUpdate(err error) *stub {
	s.On("Update", mock.Anything, mock.Anything, mock.Anything).Return(err)
	return s
}

func (s *stub) onShutdown(err error) *stub {
	s.On("Shutdown", mock.Anything).Return(err)
	return s
}

func (s *stub) healthy() *stub {
	return s.onLaunch(nil).onUpdate(nil).onShutdown(nil)
}

// stopOnFrame makes Update request a stop on the given frame.
func (s *stub) stopOnFrame(frame uint64) *stub {
	s.On("Update", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			if args.Get(1).(Tick).Frame == frame {
				args.Get(2).(RootHandle).Stop()
			}
		}).
		Return(nil)
	return s
}

type videoStub struct {
	Video
	*stub
}

type audioStub struct {
	Audio
	*stub
}

type controlStub struct {
	Control
	*stub
}

type scriptingStub struct {
	Scripting
	*stub
}

type fixture struct {
	log       *callLog
	video     *stub
	audio     *stub
	control   *stub
	scripting *stub
	events    *events.RingBuffer
	root      *Root
}

func newFixture(opts ...Option) *fixture {
	log := &callLog{}
	f := &fixture{
		log:       log,
		video:     &stub{role: RoleVideo, log: log},
		audio:     &stub{role: RoleAudio, log: log},
		control:   &stub{role: RoleControl, log: log},
		scripting: &stub{role: RoleScripting, log: log},
		events:    events.NewRingBuffer(256),
	}
	opts = append([]Option{WithEvents(f.events)}, opts...)
	f.root = New(
		&videoStub{stub: f.video},
		&audioStub{stub: f.audio},
		&scriptingStub{stub: f.scripting},
		&controlStub{stub: f.control},
		opts...,
	)
	return f
}

func (f *fixture) allHealthy() {
	f.video.healthy()
	f.audio.healthy()
	f.control.healthy()
	f.scripting.healthy()
}

func TestRoleString(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleVideo, "video"},
		{RoleAudio, "audio"},
		{RoleControl, "control"},
		{RoleScripting, "scripting"},
		{Role(9), "role(9)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.role.String())
	}
}

func TestPhaseError(t *testing.T) {
	err := newPhaseError(OpLaunch, RoleAudio, 0, errBoom)

	assert.Equal(t, "launch audio: boom", err.Error())
	assert.ErrorIs(t, err, ErrLaunchFailed)
	assert.ErrorIs(t, err, errBoom)
	assert.NotErrorIs(t, err, ErrUpdateFailed)

	upd := newPhaseError(OpUpdate, RoleVideo, 7, errBoom)
	assert.Equal(t, "update video (frame 7): boom", upd.Error())
	assert.ErrorIs(t, upd, ErrUpdateFailed)

	var pe *PhaseError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", upd), &pe)
	assert.Equal(t, RoleVideo, pe.Role)
	assert.Equal(t, uint64(7), pe.Frame)

	assert.ErrorContains(t, newPhaseError(OpShutdown, RoleControl, 0, nil), "unspecified failure")
}

func TestNew_PanicsOnNilEngine(t *testing.T) {
	log := &callLog{}
	v := &videoStub{stub: &stub{role: RoleVideo, log: log}}
	a := &audioStub{stub: &stub{role: RoleAudio, log: log}}
	s := &scriptingStub{stub: &stub{role: RoleScripting, log: log}}

	assert.Panics(t, func() { New(v, a, s, nil) })
	assert.Panics(t, func() { New(nil, a, s, &controlStub{}) })
}

func TestNew_InitialState(t *testing.T) {
	f := newFixture()

	assert.Equal(t, state.PhaseCreated, f.root.Phase())
	assert.False(t, f.root.Running())
	assert.Equal(t, uint64(0), f.root.Frames())

	snap := f.root.Snapshot()
	assert.Len(t, snap.Engines, 4)
	for name, st := range snap.Engines {
		assert.Equal(t, state.StatusIdle, st, name)
	}
	assert.True(t, snap.Healthy())
}

func TestStartEngines_Order(t *testing.T) {
	f := newFixture()
	f.allHealthy()

	require.NoError(t, f.root.StartEngines(context.Background()))

	assert.Equal(t, []string{"scripting", "control", "audio", "video"}, f.log.of(OpLaunch))
	for name, st := range f.root.Snapshot().Engines {
		assert.Equal(t, state.StatusLaunched, st, name)
	}
}

func TestStartEngines_FailFast(t *testing.T) {
	f := newFixture()
	f.allHealthy()
	f.control.ExpectedCalls = nil
	f.control.onLaunch(errBoom)

	err := f.root.StartEngines(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLaunchFailed)
	assert.ErrorIs(t, err, errBoom)
	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, RoleControl, pe.Role)

	assert.Equal(t, []string{"scripting", "control"}, f.log.of(OpLaunch))
	f.audio.AssertNotCalled(t, "Launch", mock.Anything)
	f.video.AssertNotCalled(t, "Launch", mock.Anything)
	assert.Empty(t, f.log.of(OpShutdown))
}

func TestStartEngines_LastEngineFails(t *testing.T) {
	f := newFixture()
	f.scripting.onLaunch(nil)
	f.control.onLaunch(nil)
	f.audio.onLaunch(nil)
	f.video.onLaunch(errBoom)

	err := f.root.StartEngines(context.Background())

	assert.ErrorIs(t, err, ErrLaunchFailed)
	assert.Equal(t, []string{"scripting", "control", "audio", "video"}, f.log.of(OpLaunch))
	assert.Equal(t, state.StatusLaunchFailed, f.root.Snapshot().Engines["video"])
}

func TestUpdateEngines_Order(t *testing.T) {
	f := newFixture()
	f.allHealthy()
	ctx := context.Background()
	require.NoError(t, f.root.StartEngines(ctx))

	require.NoError(t, f.root.UpdateEngines(ctx))
	require.NoError(t, f.root.UpdateEngines(ctx))

	want := []string{
		"scripting", "audio", "control", "video",
		"scripting", "audio", "control", "video",
	}
	assert.Equal(t, want, f.log.of(OpUpdate))
	assert.Equal(t, uint64(2), f.root.Frames())
}

func TestUpdateEngines_FailFast(t *testing.T) {
	f := newFixture()
	f.allHealthy()
	f.audio.ExpectedCalls = nil
	f.audio.onLaunch(nil).onUpdate(errBoom).onShutdown(nil)
	ctx := context.Background()
	require.NoError(t, f.root.StartEngines(ctx))

	err := f.root.UpdateEngines(ctx)

	assert.ErrorIs(t, err, ErrUpdateFailed)
	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, RoleAudio, pe.Role)
	assert.Equal(t, uint64(1), pe.Frame)

	assert.Equal(t, []string{"scripting", "audio"}, f.log.of(OpUpdate))
	f.control.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	f.video.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	assert.Len(t, f.events.RecentByType(events.EventFrameFailed, 10), 1)
}

func TestUpdateEngines_Ticks(t *testing.T) {
	clock := time.Unix(0, 0)
	f := newFixture(WithClock(func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}))
	f.allHealthy()
	ctx := context.Background()

	require.NoError(t, f.root.UpdateEngines(ctx))
	require.NoError(t, f.root.UpdateEngines(ctx))

	var ticks []Tick
	for _, c := range f.video.Calls {
		if c.Method == "Update" {
			ticks = append(ticks, c.Arguments.Get(1).(Tick))
		}
	}
	require.Len(t, ticks, 2)
	assert.Equal(t, uint64(1), ticks[0].Frame)
	assert.Zero(t, ticks[0].Delta)
	assert.Zero(t, ticks[0].Elapsed)
	assert.Equal(t, uint64(2), ticks[1].Frame)
	assert.Positive(t, ticks[1].Delta)
	assert.Equal(t, ticks[1].Delta, ticks[1].Elapsed)
}

func TestShutdownEngines_Order(t *testing.T) {
	f := newFixture()
	f.allHealthy()

	require.NoError(t, f.root.ShutdownEngines(context.Background()))

	assert.Equal(t, []string{"audio", "control", "scripting", "video"}, f.log.of(OpShutdown))
	for name, st := range f.root.Snapshot().Engines {
		assert.Equal(t, state.StatusStopped, st, name)
	}
}

func TestShutdownEngines_Exhaustive(t *testing.T) {
	f := newFixture()
	f.audio.onShutdown(errBoom)
	f.control.onShutdown(nil)
	f.scripting.onShutdown(errors.New("stuck"))
	f.video.onShutdown(nil)

	err := f.root.ShutdownEngines(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShutdownFailed)
	assert.Equal(t, []string{"audio", "control", "scripting", "video"}, f.log.of(OpShutdown))

	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	var first *PhaseError
	require.ErrorAs(t, errs[0], &first)
	assert.Equal(t, RoleAudio, first.Role)
	assert.ErrorContains(t, errs[1], "shutdown scripting: stuck")

	snap := f.root.Snapshot()
	assert.Equal(t, state.StatusShutdownFailed, snap.Engines["audio"])
	assert.Equal(t, state.StatusStopped, snap.Engines["control"])
	assert.False(t, snap.Healthy())
}

func TestRun_StopsAfterEleventhFrame(t *testing.T) {
	f := newFixture()
	f.scripting.healthy()
	f.audio.healthy()
	f.control.healthy()
	f.video.onLaunch(nil).onShutdown(nil).stopOnFrame(11)

	err := f.root.Run(context.Background())

	require.NoError(t, err)
	for _, s := range []*stub{f.video, f.audio, f.control, f.scripting} {
		s.AssertNumberOfCalls(t, "Launch", 1)
		s.AssertNumberOfCalls(t, "Update", 11)
		s.AssertNumberOfCalls(t, "Shutdown", 1)
	}
	assert.Equal(t, uint64(11), f.root.Frames())
	assert.False(t, f.root.Running())
	assert.Equal(t, state.PhaseTerminated, f.root.Phase())
	assert.Equal(t, []string{"audio", "control", "scripting", "video"}, f.log.of(OpShutdown))
	assert.Len(t, f.events.RecentByType(events.EventStopRequested, 10), 1)
}

func TestRun_LaunchFailureShutsDownLaunchedOnly(t *testing.T) {
	f := newFixture()
	f.scripting.onLaunch(nil).onShutdown(nil)
	f.control.onLaunch(nil).onShutdown(nil)
	f.audio.onLaunch(errBoom)

	err := f.root.Run(context.Background())

	assert.ErrorIs(t, err, ErrLaunchFailed)
	assert.Empty(t, f.log.of(OpUpdate))
	assert.Equal(t, []string{"control", "scripting"}, f.log.of(OpShutdown))
	f.audio.AssertNotCalled(t, "Shutdown", mock.Anything)
	f.video.AssertNotCalled(t, "Launch", mock.Anything)
	f.video.AssertNotCalled(t, "Shutdown", mock.Anything)
	assert.Equal(t, state.PhaseTerminated, f.root.Phase())

	snap := f.root.Snapshot()
	assert.Equal(t, state.StatusLaunchFailed, snap.Engines["audio"])
	assert.Equal(t, state.StatusIdle, snap.Engines["video"])
	assert.Contains(t, snap.Error, "launch audio")
}

func TestRun_UpdateFailureEndsLoop(t *testing.T) {
	f := newFixture()
	f.scripting.healthy()
	f.audio.healthy()
	f.video.healthy()
	f.control.onLaunch(nil).onShutdown(nil)
	f.control.On("Update", mock.Anything, mock.Anything, mock.Anything).Return(nil).Times(2)
	f.control.On("Update", mock.Anything, mock.Anything, mock.Anything).Return(errBoom).Once()

	err := f.root.Run(context.Background())

	assert.ErrorIs(t, err, ErrUpdateFailed)
	f.scripting.AssertNumberOfCalls(t, "Update", 3)
	f.audio.AssertNumberOfCalls(t, "Update", 3)
	f.control.AssertNumberOfCalls(t, "Update", 3)
	f.video.AssertNumberOfCalls(t, "Update", 2)
	assert.Equal(t, []string{"audio", "control", "scripting", "video"}, f.log.of(OpShutdown))
}

func TestRun_UpdateErrorTakesPrecedence(t *testing.T) {
	f := newFixture()
	f.scripting.healthy()
	f.control.healthy()
	f.video.healthy()
	f.audio.onLaunch(nil).onUpdate(errBoom).onShutdown(errors.New("device busy"))

	err := f.root.Run(context.Background())

	assert.ErrorIs(t, err, ErrUpdateFailed)
	assert.NotErrorIs(t, err, ErrShutdownFailed)
	assert.Equal(t, state.StatusShutdownFailed, f.root.Snapshot().Engines["audio"])
	assert.Len(t, f.events.RecentByType(events.EventEngineStopFailed, 10), 1)
}

func TestRun_ShutdownErrorAfterCleanLoop(t *testing.T) {
	f := newFixture()
	f.scripting.healthy()
	f.control.healthy()
	f.audio.onLaunch(nil).onUpdate(nil).onShutdown(errBoom)
	f.video.onLaunch(nil).onShutdown(nil).stopOnFrame(1)

	err := f.root.Run(context.Background())

	assert.ErrorIs(t, err, ErrShutdownFailed)
	f.video.AssertNumberOfCalls(t, "Shutdown", 1)
}

func TestRun_ContextCancelStopsLoop(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.audio.healthy()
	f.control.healthy()
	f.video.healthy()
	f.scripting.onLaunch(nil)
	f.scripting.On("Update", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			if args.Get(1).(Tick).Frame == 5 {
				cancel()
			}
		}).
		Return(nil)
	var shutdownCtxErr error
	f.scripting.On("Shutdown", mock.Anything).
		Run(func(args mock.Arguments) {
			shutdownCtxErr = args.Get(0).(context.Context).Err()
		}).
		Return(nil)

	err := f.root.Run(ctx)

	require.NoError(t, err)
	f.video.AssertNumberOfCalls(t, "Update", 5)
	f.video.AssertNumberOfCalls(t, "Shutdown", 1)
	assert.NoError(t, shutdownCtxErr)
}

func TestRun_AlreadyRunning(t *testing.T) {
	f := newFixture()
	f.audio.healthy()
	f.control.healthy()
	f.video.healthy()
	f.scripting.onLaunch(nil).onShutdown(nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.scripting.On("Update", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			once.Do(func() {
				close(entered)
				<-release
			})
		}).
		Return(nil)

	done := make(chan error, 1)
	go func() { done <- f.root.Run(context.Background()) }()

	<-entered
	assert.Equal(t, state.PhaseRunning, f.root.Phase())
	assert.True(t, f.root.Running())
	assert.ErrorIs(t, f.root.Run(context.Background()), ErrAlreadyRunning)

	f.root.Stop()
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	f.scripting.AssertNumberOfCalls(t, "Update", 1)
	f.video.AssertNumberOfCalls(t, "Update", 1)
}

func TestRun_CanRunAgain(t *testing.T) {
	f := newFixture()
	f.scripting.healthy()
	f.audio.healthy()
	f.control.healthy()
	f.video.onLaunch(nil).onShutdown(nil).stopOnFrame(2)

	require.NoError(t, f.root.Run(context.Background()))
	first := f.root.Snapshot().RunID

	require.NoError(t, f.root.Run(context.Background()))
	second := f.root.Snapshot().RunID

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
	assert.Equal(t, uint64(2), f.root.Frames())
	f.video.AssertNumberOfCalls(t, "Launch", 2)
	f.video.AssertNumberOfCalls(t, "Update", 4)
}

func TestRun_EmitsRunEvents(t *testing.T) {
	f := newFixture()
	f.scripting.healthy()
	f.audio.healthy()
	f.control.healthy()
	f.video.onLaunch(nil).onShutdown(nil).stopOnFrame(1)

	require.NoError(t, f.root.Run(context.Background()))

	started := f.events.RecentByType(events.EventRunStarted, 1)
	finished := f.events.RecentByType(events.EventRunFinished, 1)
	require.Len(t, started, 1)
	require.Len(t, finished, 1)
	assert.NotEmpty(t, started[0].RunID)
	assert.Equal(t, started[0].RunID, finished[0].RunID)
	assert.Equal(t, uint64(1), finished[0].Frame)
	assert.Len(t, f.events.RecentByType(events.EventEngineLaunched, 10), 4)
	assert.Len(t, f.events.RecentByType(events.EventEngineStopped, 10), 4)

	for _, c := range f.video.Calls {
		if c.Method == "Update" {
			assert.Equal(t, started[0].RunID, c.Arguments.Get(1).(Tick).RunID)
		}
	}
}

func TestStop_WhenNotRunning(t *testing.T) {
	f := newFixture()

	f.root.Stop()
	f.root.Handle().Stop()

	assert.False(t, f.root.Running())
	assert.Empty(t, f.events.RecentByType(events.EventStopRequested, 10))
}

func TestStop_DuringLaunchSkipsLoop(t *testing.T) {
	f := newFixture()
	f.audio.healthy()
	f.control.healthy()
	f.video.healthy()
	f.scripting.On("Launch", mock.Anything).
		Run(func(mock.Arguments) { f.root.Stop() }).
		Return(nil)
	f.scripting.onShutdown(nil)

	err := f.root.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"scripting", "control", "audio", "video"}, f.log.of(OpLaunch))
	assert.Empty(t, f.log.of(OpUpdate))
	assert.Equal(t, []string{"audio", "control", "scripting", "video"}, f.log.of(OpShutdown))
	assert.Zero(t, f.root.Frames())
	assert.False(t, f.root.Running())
	assert.Equal(t, state.PhaseTerminated, f.root.Phase())
	assert.Len(t, f.events.RecentByType(events.EventStopRequested, 10), 1)
}

func TestStop_LatchClearedByLaunchFailure(t *testing.T) {
	f := newFixture()
	f.scripting.On("Launch", mock.Anything).
		Run(func(mock.Arguments) { f.root.Stop() }).
		Return(errBoom).Once()
	f.scripting.onShutdown(nil)

	err := f.root.Run(context.Background())
	assert.ErrorIs(t, err, ErrLaunchFailed)

	f.scripting.onLaunch(nil).onUpdate(nil)
	f.audio.healthy()
	f.control.healthy()
	f.video.onLaunch(nil).onShutdown(nil).stopOnFrame(2)

	require.NoError(t, f.root.Run(context.Background()))
	assert.Equal(t, uint64(2), f.root.Frames())
}

func TestRun_PanicShutsDownAndPropagates(t *testing.T) {
	f := newFixture()
	f.scripting.healthy()
	f.audio.healthy()
	f.control.healthy()
	f.video.onLaunch(nil).onShutdown(nil)
	f.video.On("Update", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("driver crash") }).
		Return(nil)

	assert.PanicsWithValue(t, "driver crash", func() {
		_ = f.root.Run(context.Background())
	})

	assert.Equal(t, []string{"audio", "control", "scripting", "video"}, f.log.of(OpShutdown))
	assert.False(t, f.root.Running())
	assert.Equal(t, state.PhaseTerminated, f.root.Phase())
	assert.Len(t, f.events.RecentByType(events.EventRunPanicked, 10), 1)

	snap := f.root.Snapshot()
	assert.Contains(t, snap.Error, "driver crash")
	assert.Equal(t, state.StatusStopped, snap.Engines["video"])

	// The run lock is released.
	require.True(t, f.root.runMu.TryLock())
	f.root.runMu.Unlock()
}

func TestSwap_ReplacesEngine(t *testing.T) {
	f := newFixture()
	f.scripting.healthy()
	f.audio.healthy()
	f.control.healthy()

	replacement := &stub{role: RoleVideo, log: f.log}
	replacement.onLaunch(nil).onShutdown(nil).stopOnFrame(1)
	f.root.SwapVideo(&videoStub{stub: replacement})

	require.NoError(t, f.root.Run(context.Background()))

	replacement.AssertNumberOfCalls(t, "Launch", 1)
	replacement.AssertNumberOfCalls(t, "Update", 1)
	assert.Empty(t, f.video.Calls)

	assert.Panics(t, func() { f.root.SwapAudio(nil) })
}
