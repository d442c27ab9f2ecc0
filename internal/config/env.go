package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Env holds process-wide settings read from the environment.
type Env struct {
	LogLevel        string `env:"ZEE1_LOG_LEVEL,default=info"`
	LogFormat       string `env:"ZEE1_LOG_FORMAT,default=text"`
	DiagnosticsAddr string `env:"ZEE1_DIAGNOSTICS_ADDR"`
	FrameRate       int    `env:"ZEE1_FRAME_RATE,default=60"`
	MaxFrames       uint64 `env:"ZEE1_MAX_FRAMES,default=0"`
	EventBuffer     int    `env:"ZEE1_EVENT_BUFFER,default=1024"`
}

// DefaultEnv returns the settings used when nothing is set.
func DefaultEnv() Env {
	return Env{
		LogLevel:    "info",
		LogFormat:   "text",
		FrameRate:   60,
		EventBuffer: 1024,
	}
}

// LoadEnv loads dotenvPath into the process environment, if the file exists,
// and decodes Env from it. Variables already set in the environment take
// precedence over the file. An empty path skips the file.
func LoadEnv(dotenvPath string) (Env, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Env{}, fmt.Errorf("load %s: %w", dotenvPath, err)
		}
	}

	env := DefaultEnv()
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Env{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := env.Validate(); err != nil {
		return Env{}, err
	}
	return env, nil
}

// Validate checks the decoded settings.
func (e Env) Validate() error {
	switch strings.ToLower(e.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("ZEE1_LOG_FORMAT must be text or json, got %q", e.LogFormat)
	}
	if e.FrameRate < 0 {
		return fmt.Errorf("ZEE1_FRAME_RATE must not be negative, got %d", e.FrameRate)
	}
	if e.EventBuffer <= 0 {
		return fmt.Errorf("ZEE1_EVENT_BUFFER must be positive, got %d", e.EventBuffer)
	}
	return nil
}
