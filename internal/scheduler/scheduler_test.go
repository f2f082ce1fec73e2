package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddJobFires(t *testing.T) {
	var calls int32

	sched := New(nil)
	err := sched.Add("session-sweep", "@every 1s", func(context.Context) {
		atomic.AddInt32(&calls, 1)
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if sched.JobCount() != 1 {
		t.Errorf("JobCount = %d", sched.JobCount())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Start(ctx) }()

	time.Sleep(1500 * time.Millisecond)
	cancel()
	<-done

	if atomic.LoadInt32(&calls) == 0 {
		t.Error("expected at least one call")
	}
}

func TestPanickingJobIsRecovered(t *testing.T) {
	sched := New(nil)
	// Called directly: a panic must not escape run.
	sched.run("boom", func(context.Context) { panic("kaboom") })
}

func TestDuplicateName(t *testing.T) {
	sched := New(nil)
	if err := sched.Add("sweep", "@every 5m", func(context.Context) {}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := sched.Add("sweep", "@every 1h", func(context.Context) {}); err == nil {
		t.Error("expected error for duplicate job name")
	}
}

func TestInvalidSchedule(t *testing.T) {
	sched := New(nil)
	err := sched.Add("sweep", "invalid-cron", func(context.Context) {})
	if err == nil {
		t.Error("expected error for invalid schedule")
	}
	if sched.JobCount() != 0 {
		t.Errorf("JobCount = %d after invalid add", sched.JobCount())
	}
}

func TestNames(t *testing.T) {
	sched := New(nil)
	if names := sched.Names(); len(names) != 0 {
		t.Fatalf("Names = %v, want empty", names)
	}
	sched.Add("sweep", "@every 1h", func(context.Context) {})
	sched.Add("audit", "@every 2h", func(context.Context) {})
	sched.Add("broken", "not a spec", func(context.Context) {})

	names := sched.Names()
	if len(names) != 2 || names[0] != "audit" || names[1] != "sweep" {
		t.Fatalf("Names = %v", names)
	}
}
