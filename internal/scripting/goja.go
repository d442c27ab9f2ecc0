// Package scripting runs a mod's JavaScript with goja.
//
// A mod is a directory holding mod.yaml and an entry script. The script may
// define any of these globals:
//
//	init()        called once after the script is loaded
//	update(tick)  called every frame with {frame, delta_ms, elapsed_ms, run_id}
//	shutdown()    called once when the engine shuts down
//
// Scripts see console.log and an engine object with engine.stop(), which
// ends the game after the current frame, and engine.mod, the manifest.
package scripting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"

	"github.com/hvhvdevdev/zee1/internal/engine"
)

// DefaultCallTimeout bounds every call into the script.
const DefaultCallTimeout = 2 * time.Second

// ErrNotLaunched is returned by Update before a successful Launch.
var ErrNotLaunched = errors.New("scripting: not launched")

// Options configures a Goja engine.
type Options struct {
	ModRoot string
	// CallTimeout interrupts a script call that runs longer. Zero uses
	// DefaultCallTimeout; negative disables the watchdog.
	CallTimeout time.Duration
	Logger      *logrus.Entry
}

// Goja is a scripting engine backed by the goja JavaScript runtime.
type Goja struct {
	engine.Scripting

	opts Options
	log  *logrus.Entry

	vm       *goja.Runtime
	manifest Manifest
	update   goja.Callable
	shutdown goja.Callable

	root        engine.RootHandle
	stopPending bool
}

// New creates a Goja scripting engine for the mod at opts.ModRoot.
func New(opts Options) *Goja {
	if opts.CallTimeout == 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Goja{
		opts: opts,
		log:  log.WithField("engine", "scripting"),
	}
}

// Manifest returns the manifest of the launched mod.
func (g *Goja) Manifest() Manifest {
	return g.manifest
}

// Launch loads the mod manifest, runs the entry script and calls init().
func (g *Goja) Launch(ctx context.Context) error {
	if g.vm != nil {
		return errors.New("scripting: already launched")
	}

	m, err := LoadManifest(g.opts.ModRoot)
	if err != nil {
		return fmt.Errorf("scripting: %w", err)
	}
	entry := filepath.Join(g.opts.ModRoot, m.Entry)
	src, err := os.ReadFile(entry)
	if err != nil {
		return fmt.Errorf("scripting: failed to read entry script: %w", err)
	}

	vm := goja.New()
	g.vm = vm
	g.manifest = m
	g.stopPending = false
	g.root = nil
	log := g.log.WithFields(logrus.Fields{"mod": m.Name, "version": m.Version})

	if err := g.installGlobals(vm, m, log); err != nil {
		g.reset()
		return err
	}

	if err := g.guard("load", func() error {
		_, err := vm.RunScript(entry, string(src))
		return err
	}); err != nil {
		g.reset()
		return err
	}

	if initFn, ok := goja.AssertFunction(vm.Get("init")); ok {
		if err := g.guard("init", func() error {
			_, err := initFn(goja.Undefined())
			return err
		}); err != nil {
			g.reset()
			return err
		}
	}

	g.update, _ = goja.AssertFunction(vm.Get("update"))
	g.shutdown, _ = goja.AssertFunction(vm.Get("shutdown"))

	log.WithField("entry", m.Entry).Info("mod loaded")
	return nil
}

// Update calls the script's update(tick), if defined.
func (g *Goja) Update(ctx context.Context, tick engine.Tick, root engine.RootHandle) error {
	if g.vm == nil {
		return ErrNotLaunched
	}

	g.root = root
	if g.stopPending {
		g.stopPending = false
		root.Stop()
	}
	if g.update == nil {
		return nil
	}

	arg := g.vm.ToValue(map[string]interface{}{
		"frame":      tick.Frame,
		"delta_ms":   float64(tick.Delta) / float64(time.Millisecond),
		"elapsed_ms": float64(tick.Elapsed) / float64(time.Millisecond),
		"run_id":     tick.RunID,
	})
	return g.guard("update", func() error {
		_, err := g.update(goja.Undefined(), arg)
		return err
	})
}

// Shutdown calls the script's shutdown(), if defined, and drops the runtime.
func (g *Goja) Shutdown(ctx context.Context) error {
	if g.vm == nil {
		return nil
	}
	defer g.reset()

	if g.shutdown == nil {
		return nil
	}
	return g.guard("shutdown", func() error {
		_, err := g.shutdown(goja.Undefined())
		return err
	})
}

func (g *Goja) installGlobals(vm *goja.Runtime, m Manifest, log *logrus.Entry) error {
	console := vm.NewObject()
	if err := console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		log.Info(strings.Join(parts, " "))
		return goja.Undefined()
	}); err != nil {
		return fmt.Errorf("scripting: failed to set console: %w", err)
	}
	if err := vm.Set("console", console); err != nil {
		return fmt.Errorf("scripting: failed to set console: %w", err)
	}

	eng := vm.NewObject()
	if err := eng.Set("stop", func(goja.FunctionCall) goja.Value {
		if g.root != nil {
			g.root.Stop()
		} else {
			g.stopPending = true
		}
		return goja.Undefined()
	}); err != nil {
		return fmt.Errorf("scripting: failed to set engine: %w", err)
	}
	if err := eng.Set("mod", map[string]interface{}{
		"name":    m.Name,
		"version": m.Version,
	}); err != nil {
		return fmt.Errorf("scripting: failed to set engine: %w", err)
	}
	if err := vm.Set("engine", eng); err != nil {
		return fmt.Errorf("scripting: failed to set engine: %w", err)
	}
	return nil
}

// guard runs fn, interrupting the VM if it outlives the call timeout.
func (g *Goja) guard(what string, fn func() error) error {
	vm := g.vm
	var err error
	if g.opts.CallTimeout < 0 {
		err = fn()
	} else {
		done := make(chan struct{})
		exited := make(chan struct{})
		go func() {
			defer close(exited)
			timer := time.NewTimer(g.opts.CallTimeout)
			defer timer.Stop()
			select {
			case <-timer.C:
				vm.Interrupt(fmt.Sprintf("%s exceeded %s", what, g.opts.CallTimeout))
			case <-done:
			}
		}()
		err = fn()
		close(done)
		<-exited
		vm.ClearInterrupt()
	}

	if err == nil {
		return nil
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("scripting: %s interrupted: %v", what, interrupted.Value())
	}
	return fmt.Errorf("scripting: %s: %w", what, err)
}

func (g *Goja) reset() {
	g.vm = nil
	g.update = nil
	g.shutdown = nil
	g.root = nil
	g.stopPending = false
}
