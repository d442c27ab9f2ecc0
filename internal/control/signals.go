// Package control provides a control engine driven by operating system
// signals: an interrupt or terminate request closes the game the same way
// a quit key would.
package control

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/hvhvdevdev/zee1/internal/engine"
)

// ErrNotLaunched is returned by Update before a successful Launch.
var ErrNotLaunched = errors.New("control: not launched")

// Notifier subscribes channels to signals. It matches os/signal.
type Notifier interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

type osNotifier struct{}

func (osNotifier) Notify(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }
func (osNotifier) Stop(c chan<- os.Signal)                     { signal.Stop(c) }

// Option configures a Signals engine.
type Option func(*Signals)

// WithNotifier replaces the os/signal subscription.
func WithNotifier(n Notifier) Option {
	return func(s *Signals) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithSignals sets the signals that request a stop. Defaults to SIGINT and SIGTERM.
func WithSignals(sig ...os.Signal) Option {
	return func(s *Signals) {
		s.signals = sig
	}
}

// Signals is a control engine that turns quit signals into Root.Stop.
type Signals struct {
	engine.Control

	notifier Notifier
	signals  []os.Signal
	log      *logrus.Entry

	mu       sync.Mutex
	ch       chan os.Signal
	received []os.Signal
}

// NewSignals creates a Signals control engine.
func NewSignals(log *logrus.Entry, opts ...Option) *Signals {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Signals{
		notifier: osNotifier{},
		signals:  []os.Signal{os.Interrupt, syscall.SIGTERM},
		log:      log.WithField("engine", "control"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Launch subscribes to the quit signals.
func (s *Signals) Launch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch != nil {
		return errors.New("control: already launched")
	}
	s.ch = make(chan os.Signal, 4)
	s.received = nil
	s.notifier.Notify(s.ch, s.signals...)
	s.log.WithField("signals", s.signals).Debug("listening for quit signals")
	return nil
}

// Update drains pending signals and requests a stop if any arrived.
func (s *Signals) Update(ctx context.Context, tick engine.Tick, root engine.RootHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch == nil {
		return ErrNotLaunched
	}
	for {
		select {
		case sig := <-s.ch:
			s.received = append(s.received, sig)
			s.log.WithFields(logrus.Fields{
				"signal": sig.String(),
				"frame":  tick.Frame,
			}).Info("quit requested")
			root.Stop()
		default:
			return nil
		}
	}
}

// Shutdown unsubscribes from the quit signals.
func (s *Signals) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch == nil {
		return nil
	}
	s.notifier.Stop(s.ch)
	s.ch = nil
	return nil
}

// Received returns the signals handled since the last Launch.
func (s *Signals) Received() []os.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]os.Signal(nil), s.received...)
}
