package guard

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cloudreap/cloudreap/pkg/resource"
	"github.com/cloudreap/cloudreap/pkg/storage"
)

type fakeSnapshots struct {
	created []string
	fail    bool
}

func (f *fakeSnapshots) CreateSnapshot(ctx context.Context, sourceID, desc string) (string, error) {
	if f.fail {
		return "", errors.New("RequestLimitExceeded")
	}
	f.created = append(f.created, sourceID)
	return fmt.Sprintf("snap-%s", sourceID), nil
}

type fakeDeleter struct {
	deleted []string
	err     error
}

func (f *fakeDeleter) Delete(ctx context.Context, c resource.Candidate) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, c.ID)
	return nil
}

func volume(id string) resource.Candidate {
	return resource.Candidate{ID: id, Kind: resource.KindVolume, Region: "us-east-1", Size: 100}
}

func TestGuard_SnapshotBeforeDelete(t *testing.T) {
	snaps := &fakeSnapshots{}
	del := &fakeDeleter{}
	g := New(snaps, del, nil, nil)
	ctx := context.Background()

	h, err := g.Acquire(ctx, volume("vol-1"))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if h.SnapshotID != "snap-vol-1" {
		t.Errorf("Expected confirmed snapshot id, got %q", h.SnapshotID)
	}
	// Nothing deleted until Release.
	if len(del.deleted) != 0 {
		t.Fatal("Delete must not run during Acquire")
	}

	if err := g.Release(ctx, h); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if len(del.deleted) != 1 || del.deleted[0] != "vol-1" {
		t.Errorf("Expected vol-1 deleted, got %v", del.deleted)
	}
}

func TestGuard_AcquireFailureBlocksDelete(t *testing.T) {
	snaps := &fakeSnapshots{fail: true}
	del := &fakeDeleter{}
	g := New(snaps, del, nil, nil)

	h, err := g.Acquire(context.Background(), volume("vol-2"))
	if err == nil {
		t.Fatal("Expected Acquire to fail when snapshot creation fails")
	}
	if h != nil {
		t.Fatal("Failed Acquire must not return a handle")
	}
	if len(del.deleted) != 0 {
		t.Error("No destructive call may follow a failed Acquire")
	}
}

func TestGuard_NonDataKindSkipsSnapshot(t *testing.T) {
	snaps := &fakeSnapshots{}
	del := &fakeDeleter{}
	g := New(snaps, del, nil, nil)
	ctx := context.Background()

	eip := resource.Candidate{ID: "eipalloc-1", Kind: resource.KindElasticIP, Size: 1}
	h, err := g.Acquire(ctx, eip)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if len(snaps.created) != 0 {
		t.Error("Elastic IPs must not trigger safety snapshots")
	}
	if err := g.Release(ctx, h); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
}

func TestGuard_AlreadyGone(t *testing.T) {
	del := &fakeDeleter{err: fmt.Errorf("DescribeVolumes: %w", ErrAlreadyGone)}
	g := New(&fakeSnapshots{}, del, nil, nil)
	ctx := context.Background()

	h, err := g.Acquire(ctx, volume("vol-3"))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	err = g.Release(ctx, h)
	if !errors.Is(err, ErrAlreadyGone) {
		t.Errorf("Expected ErrAlreadyGone, got %v", err)
	}
}

func TestGuard_ReleaseRequiresAcquire(t *testing.T) {
	g := New(&fakeSnapshots{}, &fakeDeleter{}, nil, nil)

	if err := g.Release(context.Background(), nil); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("Expected ErrNotAcquired for nil handle, got %v", err)
	}
	if err := g.Release(context.Background(), &Handle{Candidate: volume("vol-4")}); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("Expected ErrNotAcquired for unacquired handle, got %v", err)
	}
}

func TestGuard_ReleaseIsSingleUse(t *testing.T) {
	g := New(&fakeSnapshots{}, &fakeDeleter{}, nil, nil)
	ctx := context.Background()

	h, err := g.Acquire(ctx, volume("vol-5"))
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Release(ctx, h); err != nil {
		t.Fatal(err)
	}
	if err := g.Release(ctx, h); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("Expected second Release to fail, got %v", err)
	}
}

func TestGuard_FailedDeleteLeavesHandleRetryable(t *testing.T) {
	// A transient delete failure must not consume the handle; the caller
	// retries the delete on the same handle without a second snapshot.
	snaps := &fakeSnapshots{}
	del := &fakeDeleter{err: errors.New("RequestLimitExceeded")}
	g := New(snaps, del, nil, nil)
	ctx := context.Background()

	h, err := g.Acquire(ctx, volume("vol-7"))
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Release(ctx, h); err == nil {
		t.Fatal("Expected first Release to fail")
	}

	del.err = nil
	if err := g.Release(ctx, h); err != nil {
		t.Fatalf("Retried Release must succeed on the same handle, got %v", err)
	}
	if len(snaps.created) != 1 {
		t.Errorf("Expected one snapshot across the retry, got %d", len(snaps.created))
	}
}

func TestGuard_TombstoneWritten(t *testing.T) {
	store := storage.NewLocalStore(t.TempDir())
	g := New(&fakeSnapshots{}, &fakeDeleter{}, store, nil)
	ctx := context.Background()

	c := volume("vol-6")
	c.Tags = map[string]string{"Owner": "platform"}
	if _, err := g.Acquire(ctx, c); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ts, err := LoadTombstone(ctx, store, "vol-6")
	if err != nil {
		t.Fatalf("Tombstone not readable: %v", err)
	}
	if ts.Kind != "Volume" || ts.Tags["Owner"] != "platform" {
		t.Errorf("Tombstone lost candidate data: %+v", ts)
	}
}
