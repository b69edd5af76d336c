package logging

import (
	"io"
	"log"
	"os"
)

var (
	quiet  = false
	debug  = os.Getenv("NEO_DEBUG") != ""
	logger = log.New(os.Stderr, "", log.LstdFlags)
)

// SetQuiet suppresses everything below Error. The interactive chat
// REPL turns this on so log lines do not interleave with the prompt.
func SetQuiet(q bool) {
	quiet = q
}

// SetDebug toggles debug output (also enabled via NEO_DEBUG).
func SetDebug(d bool) {
	debug = d
}

// SetOutput redirects log output, e.g. to ~/.neo/neo.log when serving.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// Info logs an info message
func Info(v ...any) {
	if !quiet {
		logger.Println(v...)
	}
}

// Infof logs a formatted info message
func Infof(format string, v ...any) {
	if !quiet {
		logger.Printf(format, v...)
	}
}

// Warn logs a warning message
func Warn(v ...any) {
	if !quiet {
		logger.Println(v...)
	}
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) {
	if !quiet {
		logger.Printf(format, v...)
	}
}

// Error logs an error message. Errors are never suppressed.
func Error(v ...any) {
	logger.Println(v...)
}

// Errorf logs a formatted error message. Errors are never suppressed.
func Errorf(format string, v ...any) {
	logger.Printf(format, v...)
}

// Debug logs a debug message when debug output is enabled
func Debug(v ...any) {
	if debug && !quiet {
		logger.Println(v...)
	}
}

// Debugf logs a formatted debug message when debug output is enabled
func Debugf(format string, v ...any) {
	if debug && !quiet {
		logger.Printf(format, v...)
	}
}
