// Package auditlog implements the append-only Forward Audit Entry log of
// spec.md §3/§4.8: a JSON array file, read-modify-write on append,
// single-writer per process (spec.md §5).
package auditlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Entry is one Forward Audit Entry (spec.md §3).
type Entry struct {
	SourceChatID   int64     `json:"sourceChatId"`
	SourceMsgID    int       `json:"sourceMsgId"`
	DestChatID     int64     `json:"destChatId"`
	TopicName      string    `json:"topicName"`
	FileName       string    `json:"fileName"`
	NormalizedName string    `json:"normalizedName"`
	DurationSec    *int      `json:"durationSec,omitempty"`
	SizeMB         *float64  `json:"sizeMB,omitempty"`
	Nonce          string    `json:"nonce"`
	ForwardedAt    time.Time `json:"forwardedAt"`
}

// Log is a single-writer, file-backed append-only audit log.
type Log struct {
	mu   sync.Mutex
	path string
}

// Open returns a Log bound to path. The file is created lazily on first
// Append; it is never read eagerly.
func Open(path string) *Log {
	return &Log{path: path}
}

// Append adds entry to the log, read-modify-write against the JSON array
// file (spec.md §4.8: "acceptable because this is a single-writer tool").
func (l *Log) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readAll()
	if err != nil {
		return fmt.Errorf("auditlog: read existing entries: %w", err)
	}

	entries = append(entries, entry)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("auditlog: marshal entries: %w", err)
	}

	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("auditlog: write %s: %w", l.path, err)
	}
	return nil
}

func (l *Log) readAll() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", l.path, err)
	}
	return entries, nil
}
