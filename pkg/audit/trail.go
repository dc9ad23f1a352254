// Package audit keeps an append-only record of every destructive action
// the engine takes, one JSON line per action.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one audited action.
type Entry struct {
	Timestamp  int64  `json:"timestamp"`
	Account    string `json:"account,omitempty"`
	Region     string `json:"region"`
	ResourceID string `json:"resource_id"`
	Kind       string `json:"kind"`
	Action     string `json:"action"`
	Outcome    string `json:"outcome"`
	SnapshotID string `json:"snapshot_id,omitempty"`
	Savings    float64 `json:"savings,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Trail appends entries to a local JSONL file. Writes are serialized; the
// trail is shared across executor workers.
type Trail struct {
	mu   sync.Mutex
	path string
}

func NewTrail(path string) *Trail {
	return &Trail{path: path}
}

// Append writes one entry. The timestamp is stamped here so callers
// cannot backdate records.
func (t *Trail) Append(e Entry) error {
	if t == nil || t.path == "" {
		return nil
	}
	e.Timestamp = time.Now().Unix()

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize audit entry: %w", err)
	}
	_, err = f.Write(append(data, '\n'))
	return err
}
