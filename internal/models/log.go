package models

import "time"

// Log levels carried on the session log bus and WebSocket frames
const (
	LogLevelDebug   = "debug"
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// LogEntry is one structured message on the session log bus. SessionID is
// empty for process-wide broadcasts.
type LogEntry struct {
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// levelRank orders levels for minimum-level filtering
var levelRank = map[string]int{
	LogLevelDebug:   0,
	LogLevelInfo:    1,
	LogLevelWarning: 2,
	LogLevelError:   3,
}

// LevelAtLeast reports whether level is at or above min. Unknown levels
// pass through so nothing silently disappears.
func LevelAtLeast(level, min string) bool {
	lr, ok := levelRank[level]
	if !ok {
		return true
	}
	mr, ok := levelRank[min]
	if !ok {
		return true
	}
	return lr >= mr
}
