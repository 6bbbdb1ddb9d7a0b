package housekeep

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistryFiresJobsUntilStopped(t *testing.T) {
	var count int64
	r := NewRegistry()
	r.Add(Job{
		Name:     "tick",
		Interval: 5 * time.Millisecond,
		Fn: func() error {
			atomic.AddInt64(&count, 1)
			return nil
		},
	})

	done := make(chan struct{})
	go func() {
		r.Run()
		close(done)
	}()

	time.Sleep(40 * time.Millisecond)
	r.Stop(nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	if atomic.LoadInt64(&count) == 0 {
		t.Fatal("expected the job to have fired at least once")
	}
}

func TestRegistryNameIsHousekeep(t *testing.T) {
	r := NewRegistry()
	if r.Name() != "housekeep" {
		t.Fatalf("expected Name() = housekeep, got %q", r.Name())
	}
}
