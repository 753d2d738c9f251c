//go:build rp2040 || rp2350

package logx

import (
	"io"

	"loranode-go/x/conv"
)

// Logger writes one line per call to w, or to the runtime console when w is nil.
type Logger struct {
	w         io.Writer
	component string
	level     uint8
}

const (
	lvlDebug uint8 = iota
	lvlInfo
	lvlWarn
	lvlError
)

func New(w io.Writer) Logger        { return Logger{w: w, level: lvlInfo} }
func NewConsole(w io.Writer) Logger { return New(w) }
func Nop() Logger                   { return Logger{w: io.Discard, level: lvlError + 1} }

// InitFromEnv is a no-op on MCU builds; there is no environment.
func InitFromEnv() {}

func (l Logger) With(component string) Logger {
	l.component = component
	return l
}

func (l Logger) Debug(msg string, fs ...Field) { l.write(lvlDebug, "DBG ", msg, fs) }
func (l Logger) Info(msg string, fs ...Field)  { l.write(lvlInfo, "INF ", msg, fs) }
func (l Logger) Warn(msg string, fs ...Field)  { l.write(lvlWarn, "WRN ", msg, fs) }
func (l Logger) Error(msg string, fs ...Field) { l.write(lvlError, "ERR ", msg, fs) }

func (l Logger) write(lvl uint8, tag, msg string, fs []Field) {
	if lvl < l.level {
		return
	}
	line := make([]byte, 0, 64+len(msg))
	line = append(line, tag...)
	if l.component != "" {
		line = append(line, '[')
		line = append(line, l.component...)
		line = append(line, "] "...)
	}
	line = append(line, msg...)
	var num [20]byte
	for _, f := range fs {
		line = append(line, ' ')
		line = append(line, f.Key...)
		line = append(line, '=')
		switch f.kind {
		case kindStr:
			line = append(line, f.s...)
		case kindInt:
			line = append(line, conv.Itoa(num[:], f.i)...)
		case kindDur:
			line = append(line, conv.Itoa(num[:], f.d.Milliseconds())...)
			line = append(line, "ms"...)
		case kindErr:
			if f.err != nil {
				line = append(line, f.err.Error()...)
			} else {
				line = append(line, "nil"...)
			}
		}
	}
	if l.w == nil {
		println(string(line))
		return
	}
	line = append(line, '\r', '\n')
	_, _ = l.w.Write(line)
}
