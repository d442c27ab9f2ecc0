// Package config reads the engine's run configuration from the command line
// and its ambient settings from the environment.
package config

import (
	"flag"
	"fmt"
	"io"
	"strconv"
)

// Defaults applied when a flag is absent.
const (
	DefaultWindowWidth  uint32 = 640
	DefaultWindowHeight uint32 = 480
	DefaultModRoot             = "mods/zeroheat"
)

// Values used when a width or height is present but not a valid number.
const (
	FallbackWindowWidth  uint32 = 1024
	FallbackWindowHeight uint32 = 768
)

// RunConfig is the configuration of a single engine run.
type RunConfig struct {
	WindowWidth  uint32 `json:"window_width"`
	WindowHeight uint32 `json:"window_height"`
	ModRoot      string `json:"mod_root"`
}

// Default returns the configuration used when no flags are given.
func Default() RunConfig {
	return RunConfig{
		WindowWidth:  DefaultWindowWidth,
		WindowHeight: DefaultWindowHeight,
		ModRoot:      DefaultModRoot,
	}
}

// ReadArgs parses argv-style tokens into a RunConfig. args[0] is the program
// name and is skipped.
//
// Recognised flags are exactly --width/-w, --height/-h and --mod, each
// followed by its value as the next token. A flag given more than once takes
// its last value. Any other token in flag position is an error, including
// "--", "-mod", "--w" and "--width=N" spellings. A flag without a value is an
// error too. A width or height that is not a valid unsigned 32-bit number is
// replaced by its fallback.
func ReadArgs(args []string) (RunConfig, error) {
	cfg := Default()
	fs := newFlagSet(&cfg)

	var rest []string
	if len(args) > 1 {
		rest = args[1:]
	}
	if err := checkTokens(rest); err != nil {
		return RunConfig{}, fmt.Errorf("parse arguments: %w", err)
	}
	if err := fs.Parse(rest); err != nil {
		return RunConfig{}, fmt.Errorf("parse arguments: %w", err)
	}
	if fs.NArg() > 0 {
		return RunConfig{}, fmt.Errorf("parse arguments: unexpected argument %q", fs.Arg(0))
	}
	return cfg, nil
}

// knownFlags are the only accepted flag spellings.
var knownFlags = map[string]bool{
	"--width":  true,
	"-w":       true,
	"--height": true,
	"-h":       true,
	"--mod":    true,
}

// checkTokens walks the flag/value pairs before they reach the FlagSet, which
// would otherwise accept any dash count and the -flag=value form.
func checkTokens(args []string) error {
	for i := 0; i < len(args); i += 2 {
		tok := args[i]
		if !knownFlags[tok] {
			return fmt.Errorf("unexpected argument %q", tok)
		}
		if i+1 >= len(args) {
			return fmt.Errorf("unexpected end: flag %s needs a value", tok)
		}
	}
	return nil
}

// Usage writes the flag summary to w.
func Usage(w io.Writer, program string) {
	cfg := Default()
	fs := newFlagSet(&cfg)
	fs.SetOutput(w)
	fmt.Fprintf(w, "Usage: %s [--width N] [--height N] [--mod PATH]\n", program)
	fs.PrintDefaults()
}

func newFlagSet(cfg *RunConfig) *flag.FlagSet {
	fs := flag.NewFlagSet("zee1", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	width := &dimension{target: &cfg.WindowWidth, fallback: FallbackWindowWidth}
	height := &dimension{target: &cfg.WindowHeight, fallback: FallbackWindowHeight}

	fs.Var(width, "width", "window width in pixels")
	fs.Var(width, "w", "shorthand for --width")
	fs.Var(height, "height", "window height in pixels")
	fs.Var(height, "h", "shorthand for --height")
	fs.StringVar(&cfg.ModRoot, "mod", cfg.ModRoot, "root directory of the mod to load")
	return fs
}

// dimension is a flag.Value for a window size that never fails to parse.
type dimension struct {
	target   *uint32
	fallback uint32
}

func (d *dimension) String() string {
	if d == nil || d.target == nil {
		return ""
	}
	return strconv.FormatUint(uint64(*d.target), 10)
}

func (d *dimension) Set(s string) error {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		*d.target = d.fallback
		return nil
	}
	*d.target = uint32(v)
	return nil
}
