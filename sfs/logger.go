package sfs

import (
	"fmt"
	"log"
	"os"
)

// Logger is the injectable logging hook used across this module. No
// structured-logging library appears anywhere in the pack this codebase
// was grown from, so the default implementation is a thin wrapper
// around the standard library's log.Logger.
type Logger interface {
	Warnf(format string, args ...any)
	Debugf(format string, args ...any)
}

// stdLogger adapts *log.Logger to the Logger interface.
type stdLogger struct {
	l     *log.Logger
	debug bool
}

// NewStdLogger returns a Logger backed by the standard library,
// writing to stderr. Debug-level messages are dropped unless debug is
// true.
func NewStdLogger(debug bool) Logger {
	return &stdLogger{l: log.New(os.Stderr, "sfsgo: ", log.LstdFlags), debug: debug}
}

func (s *stdLogger) Warnf(format string, args ...any) {
	s.l.Output(2, "WARN "+fmt.Sprintf(format, args...))
}

func (s *stdLogger) Debugf(format string, args ...any) {
	if !s.debug {
		return
	}
	s.l.Output(2, "DEBUG "+fmt.Sprintf(format, args...))
}

// nopLogger discards everything; used as the package default so that
// library consumers opt into logging rather than inheriting it.
type nopLogger struct{}

func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Debugf(string, ...any) {}
