package reap

import (
	"testing"
	"time"
)

type fakeFlusher struct {
	flushed bool
	offset  int64
}

func (f *fakeFlusher) Flush() error { f.flushed = true; return nil }
func (f *fakeFlusher) Offset() (int64, error) { return f.offset, nil }

func TestCheckpointerDueBeforeFirstRun(t *testing.T) {
	c := NewCheckpointer(time.Minute, nil, func([]int64) error { return nil })
	if !c.Due(time.Now()) {
		t.Fatal("expected Due to be true before any Run")
	}
}

func TestCheckpointerRunFlushesAllStoresInOrder(t *testing.T) {
	journal := &fakeFlusher{offset: 10}
	buckets := &fakeFlusher{offset: 20}
	contrib := &fakeFlusher{offset: 30}
	urldb := &fakeFlusher{offset: 40}

	var recorded []int64
	c := NewCheckpointer(time.Minute, []Flusher{journal, buckets, contrib, urldb}, func(offsets []int64) error {
		recorded = append([]int64{}, offsets...)
		return nil
	})

	now := time.Now()
	if err := c.Run(now); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !journal.flushed || !buckets.flushed || !contrib.flushed || !urldb.flushed {
		t.Fatal("expected all four stores to be flushed")
	}
	want := []int64{10, 20, 30, 40}
	for i, v := range want {
		if recorded[i] != v {
			t.Fatalf("offset %d: got %d want %d", i, recorded[i], v)
		}
	}
	if c.Due(now) {
		t.Fatal("expected Due to be false immediately after Run")
	}
	if !c.Due(now.Add(2 * time.Minute)) {
		t.Fatal("expected Due to be true once period has elapsed")
	}
}
