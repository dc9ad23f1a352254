// Package history persists one snapshot per run and feeds prior-run spend
// into the delta detector when no billing backend is available.
package history

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudreap/cloudreap/pkg/storage"
)

// Snapshot represents a point-in-time state of the account.
type Snapshot struct {
	Timestamp        int64          `json:"timestamp"`
	TotalMonthlyCost float64        `json:"monthly_cost"`
	TotalSavings     float64        `json:"total_savings"`
	UntaggedPct      float64        `json:"untagged_pct"`
	ResourceCounts   map[string]int `json:"resource_counts"`
	AnomalyCount     int            `json:"anomaly_count"`
	Partial          bool           `json:"partial,omitempty"`
}

const ledgerKey = "history/ledger.jsonl"

// Client manages the run ledger on any blob store.
type Client struct {
	store storage.BlobStore
}

func NewClient(store storage.BlobStore) *Client {
	return &Client{store: store}
}

// Append records a new snapshot. The ledger is rewritten whole because the
// S3 backend has no append primitive.
func (c *Client) Append(ctx context.Context, s Snapshot) error {
	history, err := c.readAll(ctx)
	if err != nil {
		history = nil
	}
	history = append(history, s)

	var buf bytes.Buffer
	for _, snap := range history {
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to serialize snapshot: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return c.store.Put(ctx, ledgerKey, buf.Bytes())
}

// LoadWindow retrieves the most recent n snapshots, oldest first.
func (c *Client) LoadWindow(ctx context.Context, n int) ([]Snapshot, error) {
	history, err := c.readAll(ctx)
	if err != nil {
		// A missing ledger is a fresh install, not an error.
		return []Snapshot{}, nil
	}
	if len(history) > n {
		return history[len(history)-n:], nil
	}
	return history, nil
}

func (c *Client) readAll(ctx context.Context) ([]Snapshot, error) {
	data, err := c.store.Get(ctx, ledgerKey)
	if err != nil {
		return nil, err
	}

	var history []Snapshot
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var s Snapshot
		if err := json.Unmarshal(scanner.Bytes(), &s); err != nil {
			// Tolerate corrupt lines; one bad write must not brick the
			// ledger.
			continue
		}
		history = append(history, s)
	}
	return history, scanner.Err()
}

// FromRun builds a ledger snapshot out of run aggregates.
func FromRun(totalCost, savings, untaggedPct float64, counts map[string]int, anomalies int, partial bool) Snapshot {
	return Snapshot{
		Timestamp:        time.Now().Unix(),
		TotalMonthlyCost: totalCost,
		TotalSavings:     savings,
		UntaggedPct:      untaggedPct,
		ResourceCounts:   counts,
		AnomalyCount:     anomalies,
		Partial:          partial,
	}
}
