package platform

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSupervisorRestartsFailedTask(t *testing.T) {
	sup := NewSupervisor(SupervisorPolicy{InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	defer sup.StopAll()

	var runs atomic.Int32
	err := sup.Start("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return fmt.Errorf("transient failure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "three attempts", func() bool { return runs.Load() >= 3 })
	waitFor(t, "task settled", func() bool {
		statuses := sup.Tasks()
		return len(statuses) == 1 && statuses[0].RestartCount == 2 && !statuses[0].Failed
	})
}

func TestSupervisorMaxRestarts(t *testing.T) {
	sup := NewSupervisor(SupervisorPolicy{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		MaxRestarts:    2,
	})
	defer sup.StopAll()

	if err := sup.Start("doomed", func(ctx context.Context) error {
		return fmt.Errorf("always fails")
	}); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "task marked failed", func() bool {
		statuses := sup.Tasks()
		return len(statuses) == 1 && statuses[0].Failed && statuses[0].LastError != ""
	})
}

func TestSupervisorStopCancelsTask(t *testing.T) {
	sup := NewSupervisor(SupervisorPolicy{})

	started := make(chan struct{})
	if err := sup.Start("worker", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started
	sup.Stop("worker")
	sup.StopAll()

	statuses := sup.Tasks()
	if len(statuses) != 1 || statuses[0].Failed {
		t.Fatalf("canceled task reported failed: %+v", statuses)
	}
}

func TestSupervisedModuleLifecycle(t *testing.T) {
	var runs atomic.Int32
	module := NewSupervisedModule("heartbeat", SupervisorPolicy{InitialBackoff: time.Millisecond}, func(ctx context.Context) error {
		runs.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})

	g := startedGymnasion(t, module)
	waitFor(t, "module loop running", func() bool { return runs.Load() == 1 })
	g.Shutdown()

	statuses := module.Status()
	if len(statuses) != 1 || statuses[0].Failed {
		t.Fatalf("module status after shutdown: %+v", statuses)
	}
}

func TestSupervisorRejectsDuplicates(t *testing.T) {
	sup := NewSupervisor(SupervisorPolicy{})
	defer sup.StopAll()

	block := make(chan struct{})
	defer close(block)
	if err := sup.Start("task", func(ctx context.Context) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sup.Start("task", func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected an error for a duplicate task")
	}
	if err := sup.Start("", func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected an error for an empty name")
	}
}
