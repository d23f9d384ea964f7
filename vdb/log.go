package vdb

import (
	"strings"
	"sync/atomic"
	"time"
)

// ModeFlag is a log severity threshold.
type ModeFlag uint32

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

var modeNames = [...]string{"debug", "info", "warning", "error", "critical", "silent"}

func (m ModeFlag) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "unknown"
}

// ParseLogMode accepts the names returned by ModeFlag.String plus "warn" and
// "none".  An empty string is InfoMode.
func ParseLogMode(s string) (ModeFlag, error) {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "":
		return InfoMode, nil
	case "warn":
		return WarningMode, nil
	case "none":
		return SilentMode, nil
	}
	for i, name := range modeNames {
		if name == s {
			return ModeFlag(i), nil
		}
	}
	return InfoMode, NewError(ValueError, "unknown log level %q", s)
}

// Logger provides a way for the library to log messages at different
// severities.  Implementations must be safe for concurrent use since tree
// workers log from many goroutines.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Criticalf(format string, args ...interface{})

	// Shutdown flushes and closes any log files.
	Shutdown()
}

type loggerBox struct{ Logger }

var (
	mode   atomic.Uint32
	active atomic.Pointer[loggerBox]
)

func init() {
	mode.Store(uint32(InfoMode))
	active.Store(&loggerBox{stdLogger{}})
}

// SetLogMode sets the severity required for a log message to be printed.
// For example, SetLogMode(vdb.WarningMode) will log any calls using
// Warningf, Errorf, or Criticalf.  To turn off all logging, use SilentMode.
func SetLogMode(newMode ModeFlag) {
	mode.Store(uint32(newMode))
}

// LogMode returns the current severity threshold.
func LogMode() ModeFlag {
	return ModeFlag(mode.Load())
}

// SetLogger replaces the package-level logger, e.g., to capture messages in
// tests.  Passing nil restores the standard log package output.
func SetLogger(l Logger) {
	if l == nil {
		l = stdLogger{}
	}
	active.Store(&loggerBox{l})
}

func enabled(m ModeFlag) bool {
	return ModeFlag(mode.Load()) <= m
}

func logAt(l Logger, m ModeFlag, format string, args []interface{}) {
	switch m {
	case DebugMode:
		l.Debugf(format, args...)
	case InfoMode:
		l.Infof(format, args...)
	case WarningMode:
		l.Warningf(format, args...)
	case ErrorMode:
		l.Errorf(format, args...)
	case CriticalMode:
		l.Criticalf(format, args...)
	}
}

func Debugf(format string, args ...interface{}) {
	if enabled(DebugMode) {
		logAt(active.Load().Logger, DebugMode, format, args)
	}
}

func Infof(format string, args ...interface{}) {
	if enabled(InfoMode) {
		logAt(active.Load().Logger, InfoMode, format, args)
	}
}

func Warningf(format string, args ...interface{}) {
	if enabled(WarningMode) {
		logAt(active.Load().Logger, WarningMode, format, args)
	}
}

func Errorf(format string, args ...interface{}) {
	if enabled(ErrorMode) {
		logAt(active.Load().Logger, ErrorMode, format, args)
	}
}

func Criticalf(format string, args ...interface{}) {
	if enabled(CriticalMode) {
		logAt(active.Load().Logger, CriticalMode, format, args)
	}
}

// Shutdown closes the current logger's output.
func Shutdown() {
	active.Load().Shutdown()
}

// TimeLog appends the time elapsed since its creation to each message.
//
//	timedLog := vdb.NewTimeLog()
//	...
//	timedLog.Debugf("dilated %d leaves", n)
type TimeLog struct {
	logger Logger
	start  time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{active.Load().Logger, time.Now()}
}

func (t TimeLog) log(m ModeFlag, format string, args []interface{}) {
	if enabled(m) {
		logAt(t.logger, m, format+": %s\n", append(args, time.Since(t.start)))
	}
}

func (t TimeLog) Debugf(format string, args ...interface{})   { t.log(DebugMode, format, args) }
func (t TimeLog) Infof(format string, args ...interface{})    { t.log(InfoMode, format, args) }
func (t TimeLog) Warningf(format string, args ...interface{}) { t.log(WarningMode, format, args) }
func (t TimeLog) Errorf(format string, args ...interface{})   { t.log(ErrorMode, format, args) }

// Elapsed returns the time since the TimeLog was created.
func (t TimeLog) Elapsed() time.Duration {
	return time.Since(t.start)
}
