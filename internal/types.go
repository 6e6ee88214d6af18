package internal

import (
	"log/slog"
	"sync"
)

// MARK: LogEntry

type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// MARK: Logger

type Logger struct {
	*slog.Logger
	mu   sync.Mutex
	logs []LogEntry
}
