package swarm

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errThrottleTest = errors.New("Throttling: rate exceeded")

func TestAIMD_Feedback(t *testing.T) {
	aimd := NewAIMD(10, 5, 20)

	// Initial state
	if aimd.GetConcurrency() != 10 {
		t.Errorf("Expected initial concurrency 10, got %d", aimd.GetConcurrency())
	}

	// Additive increase on fast calls.
	// Need to wait > 100ms because of rate limiting in Feedback
	time.Sleep(110 * time.Millisecond)
	aimd.Feedback(50*time.Millisecond, false)

	if aimd.GetConcurrency() != 15 {
		t.Errorf("Expected concurrency 15 after success, got %d", aimd.GetConcurrency())
	}

	// Multiplicative decrease on throttle.
	time.Sleep(110 * time.Millisecond)
	aimd.Feedback(500*time.Millisecond, true)

	expected := 7 // 15 / 2
	if aimd.GetConcurrency() != expected {
		t.Errorf("Expected concurrency %d after throttle, got %d", expected, aimd.GetConcurrency())
	}

	// Floor at min.
	time.Sleep(110 * time.Millisecond)
	aimd.Feedback(500*time.Millisecond, true)
	time.Sleep(110 * time.Millisecond)
	aimd.Feedback(500*time.Millisecond, true)

	if aimd.GetConcurrency() < 5 {
		t.Errorf("Concurrency dropped below min limit: %d", aimd.GetConcurrency())
	}
}

func TestEngine_RunsTasks(t *testing.T) {
	e := NewEngine()
	e.MaxWorkers = 4

	ctx := t.Context()
	e.Start(ctx)

	done := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		e.Submit(func(ctx context.Context) error {
			done <- struct{}{}
			return nil
		})
	}

	for i := 0; i < 10; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("Timed out waiting for task %d", i)
		}
	}

	e.Stop()

	if got := e.GetStats().TasksCompleted; got != 10 {
		t.Errorf("Expected 10 completed tasks, got %d", got)
	}
}

func TestEngine_CancelledSubmitRejected(t *testing.T) {
	e := NewEngine()
	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	cancel()

	if err := e.Submit(func(ctx context.Context) error { return nil }); err == nil {
		t.Error("Submit after cancellation must be rejected")
	}
	e.Stop()
}

func TestEngine_CancelDrainsQueuedTasks(t *testing.T) {
	e := NewEngine()

	// Queue a task before any worker exists, then start with a context
	// that is already dead. The task must still run so a caller blocked
	// on its own WaitGroup is released.
	ran := make(chan error, 1)
	if err := e.Submit(func(ctx context.Context) error {
		err := ctx.Err()
		ran <- err
		return err
	}); err != nil {
		t.Fatalf("Submit before start must queue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Start(ctx)

	select {
	case err := <-ran:
		if err == nil {
			t.Error("Drained task must observe the dead context")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Queued task never ran after cancellation")
	}
	e.Stop()
}

func TestEngine_ThrottleFeedbackLowersConcurrency(t *testing.T) {
	e := NewEngine()
	e.MaxWorkers = 4
	e.Throttled = func(err error) bool { return err != nil }

	ctx := t.Context()
	e.Start(ctx)

	before := e.GetStats().Concurrency

	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		e.Submit(func(ctx context.Context) error {
			defer func() { done <- struct{}{} }()
			return errThrottleTest
		})
		// Space out submissions past the AIMD dampening window so each
		// throttle registers.
		time.Sleep(120 * time.Millisecond)
	}

	for i := 0; i < 3; i++ {
		<-done
	}
	e.Stop()

	after := e.GetStats().Concurrency
	if after >= before {
		t.Errorf("Expected concurrency to drop after throttling, before=%d after=%d", before, after)
	}
}
