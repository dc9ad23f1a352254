package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudreap/cloudreap/pkg/resource"
	"github.com/cloudreap/cloudreap/pkg/storage"
)

// Tombstone preserves a candidate's last known configuration before deletion
// so an operator can reconstruct what was removed.
type Tombstone struct {
	ResourceID string            `json:"resource_id"`
	Kind       string            `json:"kind"`
	Region     string            `json:"region"`
	Timestamp  int64             `json:"timestamp"`
	SizeUnits  float64           `json:"size_units"`
	AgeDays    int               `json:"age_days"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// NewTombstone creates a preservation record for a candidate.
func NewTombstone(c resource.Candidate) *Tombstone {
	return &Tombstone{
		ResourceID: c.ID,
		Kind:       string(c.Kind),
		Region:     c.Region,
		Timestamp:  time.Now().Unix(),
		SizeUnits:  c.Size,
		AgeDays:    c.AgeDays,
		Tags:       c.Tags,
	}
}

// Save writes the tombstone under tombstones/{id}.json.
func (t *Tombstone) Save(ctx context.Context, store storage.BlobStore) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize tombstone: %w", err)
	}
	key := fmt.Sprintf("tombstones/%s.json", t.ResourceID)
	return store.Put(ctx, key, data)
}

// LoadTombstone reads a tombstone back from the store.
func LoadTombstone(ctx context.Context, store storage.BlobStore, resourceID string) (*Tombstone, error) {
	data, err := store.Get(ctx, fmt.Sprintf("tombstones/%s.json", resourceID))
	if err != nil {
		return nil, err
	}
	var t Tombstone
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse tombstone: %w", err)
	}
	return &t, nil
}
