// Package logx is the node's logging facade. Host builds log through
// zerolog; MCU builds write plain lines to the console writer.
package logx

import "time"

type fieldKind uint8

const (
	kindStr fieldKind = iota
	kindInt
	kindDur
	kindErr
)

// Field is one key/value attached to a log line.
type Field struct {
	Key  string
	kind fieldKind
	s    string
	i    int64
	d    time.Duration
	err  error
}

func Str(k, v string) Field               { return Field{Key: k, kind: kindStr, s: v} }
func Int(k string, v int) Field           { return Field{Key: k, kind: kindInt, i: int64(v)} }
func Uint32(k string, v uint32) Field     { return Field{Key: k, kind: kindInt, i: int64(v)} }
func Dur(k string, v time.Duration) Field { return Field{Key: k, kind: kindDur, d: v} }
func Err(err error) Field                 { return Field{Key: "error", kind: kindErr, err: err} }
