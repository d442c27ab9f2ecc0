// Package audio provides a null audio engine that mixes silence.
package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/hvhvdevdev/zee1/internal/engine"
)

// ErrNotLaunched is returned by Update before a successful Launch.
var ErrNotLaunched = errors.New("audio: not launched")

// Null is an audio engine with no output device.
type Null struct {
	engine.Audio

	log      *logrus.Entry
	launched atomic.Bool
	mixed    atomic.Uint64
	volume   atomic.Uint64 // math.Float64bits
}

// NewNull creates a Null audio engine at full volume.
func NewNull(log *logrus.Entry) *Null {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	n := &Null{log: log.WithField("engine", "audio")}
	n.volume.Store(math.Float64bits(1))
	return n
}

// Launch opens the null device.
func (n *Null) Launch(ctx context.Context) error {
	n.mixed.Store(0)
	n.launched.Store(true)
	n.log.WithField("volume", n.Volume()).Info("null audio device opened")
	return nil
}

// Update mixes one frame of silence.
func (n *Null) Update(ctx context.Context, tick engine.Tick, root engine.RootHandle) error {
	if !n.launched.Load() {
		return ErrNotLaunched
	}
	n.mixed.Add(1)
	return nil
}

// Shutdown closes the device. It is a no-op if the engine never launched.
func (n *Null) Shutdown(ctx context.Context) error {
	if !n.launched.Swap(false) {
		return nil
	}
	n.log.WithField("frames", n.mixed.Load()).Info("null audio device closed")
	return nil
}

// SetVolume sets the master volume in [0, 1].
func (n *Null) SetVolume(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("audio: volume %v out of range [0, 1]", v)
	}
	n.volume.Store(math.Float64bits(v))
	return nil
}

// Volume returns the master volume.
func (n *Null) Volume() float64 {
	return math.Float64frombits(n.volume.Load())
}

// Mixed returns the number of frames mixed since the last Launch.
func (n *Null) Mixed() uint64 {
	return n.mixed.Load()
}
