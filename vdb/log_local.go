package vdb

import (
	"fmt"
	"log"

	"github.com/natefinch/lumberjack"
)

// stdLogger writes through the standard log package, whose output may have
// been redirected to a rotating file.
type stdLogger struct {
	file *lumberjack.Logger
}

var levelTags = [...]string{" DEBUG ", " INFO ", " WARNING ", " ERROR ", " CRITICAL "}

func (s stdLogger) log(m ModeFlag, format string, args []interface{}) {
	log.Printf(levelTags[m]+format, args...)
}

func (s stdLogger) Debugf(format string, args ...interface{})    { s.log(DebugMode, format, args) }
func (s stdLogger) Infof(format string, args ...interface{})     { s.log(InfoMode, format, args) }
func (s stdLogger) Warningf(format string, args ...interface{})  { s.log(WarningMode, format, args) }
func (s stdLogger) Errorf(format string, args ...interface{})    { s.log(ErrorMode, format, args) }
func (s stdLogger) Criticalf(format string, args ...interface{}) { s.log(CriticalMode, format, args) }

func (s stdLogger) Shutdown() {
	if s.file != nil {
		log.Printf("Closing log file %s\n", s.file.Filename)
		s.file.Close()
	}
}

// LogConfig configures rotating log files.  An empty Logfile keeps output on
// stderr.
type LogConfig struct {
	Logfile string `toml:"logfile"`
	MaxSize int    `toml:"max_log_size"` // megabytes
	MaxAge  int    `toml:"max_log_age"`  // days
}

// SetLogger sends log messages to the configured rotating file.
func (c *LogConfig) SetLogger() {
	if c == nil || c.Logfile == "" {
		Debugf("Sending log messages to stderr since no log file specified.\n")
		return
	}
	fmt.Printf("Sending log messages to: %s\n", c.Logfile)
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	log.SetOutput(l)
	SetLogger(stdLogger{file: l})
}
