package monitoring

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// LogEntry is one line of the recent-activity buffer exposed by the API.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// LogBuffer keeps the most recent log entries in a fixed-size ring so the
// API can serve them without touching the process log files. It implements
// zapcore.Core and is meant to be teed with the primary core.
type LogBuffer struct {
	zapcore.LevelEnabler
	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
}

func NewLogBuffer(capacity int, enab zapcore.LevelEnabler) *LogBuffer {
	return &LogBuffer{
		LevelEnabler: enab,
		entries:      make([]LogEntry, capacity),
	}
}

func (b *LogBuffer) With(fields []zapcore.Field) zapcore.Core { return b }

func (b *LogBuffer) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if b.Enabled(ent.Level) {
		return ce.AddCore(ent, b)
	}
	return ce
}

func (b *LogBuffer) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[b.next] = LogEntry{
		Timestamp: ent.Time,
		Level:     ent.Level.String(),
		Message:   ent.Message,
	}
	b.next++
	if b.next == len(b.entries) {
		b.next = 0
		b.full = true
	}
	return nil
}

func (b *LogBuffer) Sync() error { return nil }

// Recent returns up to limit entries, oldest first.
func (b *LogBuffer) Recent(limit int) []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []LogEntry
	if b.full {
		out = append(out, b.entries[b.next:]...)
	}
	out = append(out, b.entries[:b.next]...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Clear drops all buffered entries.
func (b *LogBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = 0
	b.full = false
}
