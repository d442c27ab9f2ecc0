// Package logging wraps logrus with the engine's defaults and turns engine
// lifecycle events into log lines.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hvhvdevdev/zee1/internal/engine/events"
)

// Options configures a Logger.
type Options struct {
	Level  string // trace, debug, info, warn, error; anything else means info
	Format string // text or json
	Out    io.Writer
}

// Logger is a logrus logger carrying the engine's formatting defaults.
type Logger struct {
	*logrus.Logger
}

// New creates a Logger from opts.
func New(opts Options) *Logger {
	l := logrus.New()

	if opts.Out != nil {
		l.SetOutput(opts.Out)
	} else {
		l.SetOutput(os.Stderr)
	}

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(opts.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	}

	return &Logger{Logger: l}
}

// NewDefault returns an info-level text logger writing to stderr.
func NewDefault() *Logger {
	return New(Options{})
}

// WithComponent returns an entry tagged with the component name.
func (l *Logger) WithComponent(name string) *logrus.Entry {
	return l.WithField("component", name)
}

// EventHook returns an events.EventHandler that writes each event to l.
// Subscribe it to an events.EventLogger.
func EventHook(l *Logger) events.EventHandler {
	return func(ev events.Event) {
		fields := logrus.Fields{
			"event": string(ev.Type),
			"phase": ev.Phase.String(),
		}
		if ev.RunID != "" {
			fields["run_id"] = ev.RunID
		}
		if ev.Engine != "" {
			fields["engine"] = ev.Engine
			fields["status"] = ev.Status.String()
		}
		if ev.Frame > 0 {
			fields["frame"] = ev.Frame
		}
		if ev.Duration > 0 {
			fields["duration"] = ev.Duration.String()
		}
		if ev.Error != "" {
			fields[logrus.ErrorKey] = ev.Error
		}
		for k, v := range ev.Metadata {
			fields[k] = v
		}

		msg := ev.Message
		if msg == "" {
			msg = string(ev.Type)
		}
		l.WithFields(fields).Log(levelFor(ev.Severity), msg)
	}
}

func levelFor(s events.Severity) logrus.Level {
	switch s {
	case events.SeverityDebug:
		return logrus.DebugLevel
	case events.SeverityWarning:
		return logrus.WarnLevel
	case events.SeverityError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
