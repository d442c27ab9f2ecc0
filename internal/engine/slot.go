package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hvhvdevdev/zee1/internal/engine/state"
)

// slot owns one sub-engine behind its own lock. Every lifecycle call is a
// discrete lock -> call -> unlock section; the Root never holds two slots.
type slot[E Engine] struct {
	role   Role
	mu     sync.Mutex
	engine E
	st     atomic.Int32
}

func newSlot[E Engine](role Role, e E) *slot[E] {
	return &slot[E]{role: role, engine: e}
}

func (s *slot[E]) with(fn func(E) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.engine)
}

func (s *slot[E]) swap(e E) {
	s.mu.Lock()
	s.engine = e
	s.mu.Unlock()
}

func (s *slot[E]) kind() Role {
	return s.role
}

func (s *slot[E]) launch(ctx context.Context) error {
	return s.with(func(e E) error { return e.Launch(ctx) })
}

func (s *slot[E]) update(ctx context.Context, tick Tick, root RootHandle) error {
	return s.with(func(e E) error { return e.Update(ctx, tick, root) })
}

func (s *slot[E]) shutdown(ctx context.Context) error {
	return s.with(func(e E) error { return e.Shutdown(ctx) })
}

func (s *slot[E]) status() state.Status {
	return state.Status(s.st.Load())
}

func (s *slot[E]) setStatus(st state.Status) {
	s.st.Store(int32(st))
}

// lifecycle erases the slot's engine type so the Root can spell out the
// fixed per-phase orders as plain slices.
type lifecycle interface {
	kind() Role
	launch(ctx context.Context) error
	update(ctx context.Context, tick Tick, root RootHandle) error
	shutdown(ctx context.Context) error
	status() state.Status
	setStatus(st state.Status)
}

var (
	_ lifecycle = (*slot[VideoEngine])(nil)
	_ lifecycle = (*slot[AudioEngine])(nil)
	_ lifecycle = (*slot[ControlEngine])(nil)
	_ lifecycle = (*slot[ScriptingEngine])(nil)
)
