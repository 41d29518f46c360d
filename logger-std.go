//go:build !tinygo

package pdi

import (
	"log"
)

func init() {
	globalLogger = &stdLogger{}
}

// stdLogger is a default logger that uses the standard library log package.
type stdLogger struct {
	debug bool
}

// NewStdLogger returns a Logger that writes through the standard library log
// package. Debug messages are dropped unless debug is set.
func NewStdLogger(debug bool) Logger {
	return &stdLogger{debug: debug}
}

func (l *stdLogger) Debug(msg string) {
	if l.debug {
		log.Print("[DEBUG] pdi: " + msg)
	}
}

func (l *stdLogger) Info(msg string) {
	log.Print("[INFO]  pdi: " + msg)
}

func (l *stdLogger) Warn(msg string) {
	log.Print("[WARN]  pdi: " + msg)
}

func (l *stdLogger) Error(msg string) {
	log.Print("[ERROR] pdi: " + msg)
}
