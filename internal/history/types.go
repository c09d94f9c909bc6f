package history

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("history disabled")

// Config configures the finished-task record store.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl, periodically compacted)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", history is disabled.
type Config struct {
	Driver      string
	Path        string
	Capacity    int           // retained records; 0 means default (1000)
	BusyTimeout time.Duration // sqlite only; 0 means default
}

const defaultCapacity = 1000

func (c Config) capacity() int {
	if c.Capacity <= 0 {
		return defaultCapacity
	}
	return c.Capacity
}

// Record is one finished task. Keep it compact and schema-stable.
type Record struct {
	At       time.Time `json:"at"`
	TaskID   uint64    `json:"task_id"`
	Status   string    `json:"status"` // completed | failed | retried | expired
	Priority string    `json:"priority"`
	WorkerID uint64    `json:"worker_id,omitempty"`
	Attempts int       `json:"attempts,omitempty"`
	TookMS   int64     `json:"took_ms,omitempty"`
	Error    string    `json:"error,omitempty"`
}
