//go:build !(rp2040 || rp2350)

package logx

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger.
type Logger struct {
	z zerolog.Logger
}

// New returns a logger emitting JSON lines to w.
func New(w io.Writer) Logger {
	return Logger{z: zerolog.New(w).With().Timestamp().Logger()}
}

// NewConsole returns a logger with human-oriented console output.
func NewConsole(w io.Writer) Logger {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	return Logger{z: zerolog.New(cw).With().Timestamp().Logger()}
}

// Nop discards all output.
func Nop() Logger { return Logger{z: zerolog.Nop()} }

// InitFromEnv applies LOG_LEVEL (debug, info, warn, error) to all loggers.
func InitFromEnv() {
	lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// With returns a child logger tagged with a component name.
func (l Logger) With(component string) Logger {
	return Logger{z: l.z.With().Str("component", component).Logger()}
}

func (l Logger) Debug(msg string, fs ...Field) { emit(l.z.Debug(), msg, fs) }
func (l Logger) Info(msg string, fs ...Field)  { emit(l.z.Info(), msg, fs) }
func (l Logger) Warn(msg string, fs ...Field)  { emit(l.z.Warn(), msg, fs) }
func (l Logger) Error(msg string, fs ...Field) { emit(l.z.Error(), msg, fs) }

func emit(ev *zerolog.Event, msg string, fs []Field) {
	if ev == nil {
		return
	}
	for _, f := range fs {
		switch f.kind {
		case kindStr:
			ev = ev.Str(f.Key, f.s)
		case kindInt:
			ev = ev.Int64(f.Key, f.i)
		case kindDur:
			ev = ev.Dur(f.Key, f.d)
		case kindErr:
			ev = ev.AnErr(f.Key, f.err)
		}
	}
	ev.Msg(msg)
}
