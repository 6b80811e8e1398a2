package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// TraceLevel is a custom level below Debug for ultra-verbose logging:
// candidate-by-candidate search traces, WAL entry dumps. Almost always
// filtered in production.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a string into a zapcore.Level, supporting "trace".
func LevelFromString(level string) (zapcore.Level, error) {
	// zapcore parses the empty string as info; a blank level in config is a
	// mistake we want surfaced, not silently defaulted.
	if level == "" {
		return zapcore.InfoLevel, fmt.Errorf("empty log level")
	}
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
