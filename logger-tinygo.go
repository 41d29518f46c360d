//go:build tinygo

package pdi

import (
	"io"
)

// The global logger stays the nopLogger on TinyGo: machine.Serial usually
// carries the host protocol, and log lines on it would corrupt the stream.

// serialLogger writes log lines to a spare UART without going through fmt.
type serialLogger struct {
	w io.Writer
}

// NewSerialLogger returns a Logger writing to w, typically a second
// machine.UART that is not used for the host protocol.
func NewSerialLogger(w io.Writer) Logger {
	return &serialLogger{w: w}
}

func (l *serialLogger) log(level, msg string) {
	l.w.Write([]byte(level))
	l.w.Write([]byte(msg))
	l.w.Write([]byte("\r\n"))
}

func (l *serialLogger) Debug(msg string) { l.log("[DEBUG] ", msg) }
func (l *serialLogger) Info(msg string)  { l.log("[INFO]  ", msg) }
func (l *serialLogger) Warn(msg string)  { l.log("[WARN]  ", msg) }
func (l *serialLogger) Error(msg string) { l.log("[ERROR] ", msg) }
