// Package logging writes to the standard logger and mirrors warnings and errors to Rollbar.
package logging

import (
	"fmt"
	"log"

	"github.com/rollbar/rollbar-go"
)

// Logger is safe for concurrent use.
type Logger struct {
	std     *log.Logger
	enabled bool
}

// configureRollbar sets the process-wide Rollbar client.
var configureRollbar = func(token, env, host string) {
	rollbar.SetEnabled(true)
	rollbar.SetToken(token)
	rollbar.SetEnvironment(env)
	rollbar.SetServerHost(host)
}

// New returns a logger. Rollbar reporting is on only when token is set; a
// logger without a token leaves the global Rollbar client untouched.
func New(std *log.Logger, token, env, host string) *Logger {
	if std == nil {
		std = log.Default()
	}
	l := &Logger{std: std, enabled: token != ""}
	if l.enabled {
		configureRollbar(token, env, host)
	}
	return l
}

// Std exposes the underlying standard logger.
func (l *Logger) Std() *log.Logger { return l.std }

// Infof logs locally only.
func (l *Logger) Infof(format string, args ...any) {
	l.std.Printf(format, args...)
}

// Warnf logs and reports a warning.
func (l *Logger) Warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.std.Print("WARN " + msg)
	if l.enabled {
		rollbar.Warning(msg)
	}
}

// Error logs err with a message and reports it with optional extras.
func (l *Logger) Error(msg string, err error, extras map[string]any) {
	if extras != nil {
		l.std.Printf("ERROR %s: %v %+v", msg, err, extras)
	} else {
		l.std.Printf("ERROR %s: %v", msg, err)
	}
	if !l.enabled {
		return
	}
	args := []any{fmt.Errorf("%s: %w", msg, err)}
	if extras != nil {
		args = append(args, extras)
	}
	rollbar.Error(args...)
}

// Close flushes pending Rollbar reports.
func (l *Logger) Close() {
	if l.enabled {
		rollbar.Close()
	}
}
