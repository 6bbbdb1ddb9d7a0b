package reap

import (
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestShutdownWatcherEscalatesOnRepeatedSignals(t *testing.T) {
	var drains, kills int32
	w := NewShutdownWatcher(
		func() { atomic.AddInt32(&drains, 1) },
		func() { atomic.AddInt32(&kills, 1) },
		func() {},
	)
	go w.Watch()
	defer w.Close()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Skipf("signal delivery not available in this sandbox: %v", err)
	}
	waitFor(t, func() bool { return w.Level() >= LevelDrain })

	syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
	waitFor(t, func() bool { return w.Level() >= LevelKillWorker })

	if atomic.LoadInt32(&drains) != 1 {
		t.Fatalf("expected exactly one drain callback, got %d", drains)
	}
	if atomic.LoadInt32(&kills) != 1 {
		t.Fatalf("expected exactly one kill-worker callback, got %d", kills)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not met before deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
