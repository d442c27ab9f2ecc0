// Package video provides a headless video engine. It owns no window; it
// paces frames like a vsync'd display and can close itself after a fixed
// number of frames.
package video

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/hvhvdevdev/zee1/internal/engine"
)

// ErrNotLaunched is returned by Update before a successful Launch.
var ErrNotLaunched = errors.New("video: not launched")

// Options configures a Headless engine.
type Options struct {
	Width  uint32
	Height uint32
	// FrameRate caps frames per second. Zero disables pacing.
	FrameRate int
	// MaxFrames requests a stop after this many frames. Zero means never.
	MaxFrames uint64
	Logger    *logrus.Entry
}

// Headless is a video engine that renders nothing.
type Headless struct {
	engine.Video

	opts    Options
	log     *logrus.Entry
	limiter *rate.Limiter

	launched atomic.Bool
	frames   atomic.Uint64
}

// New creates a Headless video engine.
func New(opts Options) *Headless {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Headless{
		opts: opts,
		log:  log.WithField("engine", "video"),
	}
}

// Launch validates the surface size and sets up frame pacing.
func (h *Headless) Launch(ctx context.Context) error {
	if h.opts.Width == 0 || h.opts.Height == 0 {
		return fmt.Errorf("video: invalid surface %dx%d", h.opts.Width, h.opts.Height)
	}
	if h.opts.FrameRate < 0 {
		return fmt.Errorf("video: invalid frame rate %d", h.opts.FrameRate)
	}

	h.limiter = nil
	if h.opts.FrameRate > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(h.opts.FrameRate), 1)
	}
	h.frames.Store(0)
	h.launched.Store(true)

	h.log.WithFields(logrus.Fields{
		"width":      h.opts.Width,
		"height":     h.opts.Height,
		"frame_rate": h.opts.FrameRate,
	}).Info("headless surface ready")
	return nil
}

// Update presents one frame, waiting for the next frame slot when paced.
func (h *Headless) Update(ctx context.Context, tick engine.Tick, root engine.RootHandle) error {
	if !h.launched.Load() {
		return ErrNotLaunched
	}

	n := h.frames.Add(1)
	if h.limiter != nil {
		// A cancelled context ends the wait; the loop notices it at the frame boundary.
		if err := h.limiter.Wait(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("video: pace frame %d: %w", tick.Frame, err)
		}
	}

	if h.opts.MaxFrames > 0 && n >= h.opts.MaxFrames {
		h.log.WithField("frames", n).Debug("frame limit reached, closing surface")
		root.Stop()
	}
	return nil
}

// Shutdown releases the surface. It is a no-op if the engine never launched.
func (h *Headless) Shutdown(ctx context.Context) error {
	if !h.launched.Swap(false) {
		return nil
	}
	h.log.WithField("frames", h.frames.Load()).Info("headless surface closed")
	return nil
}

// Frames returns the number of frames presented since the last Launch.
func (h *Headless) Frames() uint64 {
	return h.frames.Load()
}
