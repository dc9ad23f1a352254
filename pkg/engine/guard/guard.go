// Package guard enforces the safety protocol around destructive calls.
// Every deletion of a data-bearing resource goes through Acquire, which
// persists a tombstone and a confirmed safety snapshot, before Release is
// allowed to issue the delete. A failed Acquire means the delete never runs.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudreap/cloudreap/pkg/resource"
	"github.com/cloudreap/cloudreap/pkg/storage"
)

// ErrAlreadyGone is returned by Release when the resource vanished between
// discovery and deletion. Callers treat it as success with zero savings.
var ErrAlreadyGone = errors.New("resource already gone")

// ErrNotAcquired is returned by Release for a handle that never completed
// Acquire. It indicates a caller bug, not a cloud condition.
var ErrNotAcquired = errors.New("safety handle not acquired")

// SnapshotService creates safety snapshots.
type SnapshotService interface {
	CreateSnapshot(ctx context.Context, sourceID, description string) (string, error)
}

// DeleteService removes resources. Implementations return ErrAlreadyGone
// (wrapped) when the target no longer exists.
type DeleteService interface {
	Delete(ctx context.Context, c resource.Candidate) error
}

// Handle proves that the safety protocol completed for one candidate.
// A completed Release consumes it; a failed delete leaves it acquired so the
// caller can retry the delete without repeating the safety steps.
type Handle struct {
	Candidate  resource.Candidate
	SnapshotID string
	acquired   bool
	released   bool
}

// Guard sequences tombstone, snapshot, and delete for each candidate.
type Guard struct {
	Snapshots SnapshotService
	Deleter   DeleteService
	// Store receives pre-deletion tombstones. Nil disables them.
	Store  storage.BlobStore
	Logger *slog.Logger
}

func New(snapshots SnapshotService, deleter DeleteService, store storage.BlobStore, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{Snapshots: snapshots, Deleter: deleter, Store: store, Logger: logger}
}

// Acquire runs the pre-deletion safety steps. On any failure it returns an
// error and no handle, so the destructive call cannot be issued.
func (g *Guard) Acquire(ctx context.Context, c resource.Candidate) (*Handle, error) {
	if g.Store != nil {
		ts := NewTombstone(c)
		if err := ts.Save(ctx, g.Store); err != nil {
			return nil, fmt.Errorf("safety check failed: unable to save tombstone: %w", err)
		}
	}

	h := &Handle{Candidate: c}

	if c.Kind.RequiresSafetySnapshot() {
		desc := fmt.Sprintf("cloudreap safety backup for %s", c.ID)
		snapID, err := g.Snapshots.CreateSnapshot(ctx, c.ID, desc)
		if err != nil {
			return nil, fmt.Errorf("safety check failed: unable to create snapshot: %w", err)
		}
		if snapID == "" {
			return nil, fmt.Errorf("safety check failed: snapshot for %s not confirmed", c.ID)
		}
		h.SnapshotID = snapID
		g.Logger.Info("Safety snapshot confirmed", "resource", c.ID, "snapshot", snapID)
	}

	h.acquired = true
	return h, nil
}

// Release issues the destructive call for an acquired handle.
// Returns ErrAlreadyGone (wrapped) when the resource vanished in between;
// the safety snapshot is kept either way.
func (g *Guard) Release(ctx context.Context, h *Handle) error {
	if h == nil || !h.acquired {
		return ErrNotAcquired
	}
	if h.released {
		return fmt.Errorf("%w: handle for %s already released", ErrNotAcquired, h.Candidate.ID)
	}

	if err := g.Deleter.Delete(ctx, h.Candidate); err != nil {
		if errors.Is(err, ErrAlreadyGone) {
			h.released = true
			g.Logger.Info("Resource vanished before deletion", "resource", h.Candidate.ID)
			return fmt.Errorf("delete %s: %w", h.Candidate.ID, ErrAlreadyGone)
		}
		// The handle stays acquired; the delete may be retried.
		return fmt.Errorf("delete %s: %w", h.Candidate.ID, err)
	}
	h.released = true
	return nil
}
