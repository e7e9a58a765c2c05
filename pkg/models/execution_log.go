package models

import "time"

// LogLevel is the severity of an execution log entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ExecutionLogEntry is an ordered, append-only child of one execution
// record. Used for post-hoc diagnosis, never for control flow.
type ExecutionLogEntry struct {
	ID          string    `json:"id"           validate:"required"`
	ExecutionID string    `json:"execution_id" validate:"required"`
	Timestamp   time.Time `json:"timestamp"`
	Level       LogLevel  `json:"level"`
	Message     string    `json:"message"`
}
