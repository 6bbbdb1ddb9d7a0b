/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package reap

import (
	"time"

	"github.com/golang/glog"
)

// Flusher is implemented by each of the four append-only stores the
// reaper writes during a cycle (journal, buckets, contrib, URL-DB).
// Checkpointing flushes all four in the same fixed order and then
// appends a checkpoint record, so a rollback can always identify the
// last point at which all four were mutually consistent (spec §4.6:
// "flush journal, buckets, contrib, and URL-DB, then append a
// checkpoint record").
type Flusher interface {
	Flush() error
	Offset() (int64, error)
}

// Checkpointer runs Flusher.Flush across all four stores every
// CheckpointPeriod and records the resulting offsets for Rollback.
type Checkpointer struct {
	period  time.Duration
	stores  []Flusher
	record  func(offsets []int64) error
	lastRun time.Time
}

func NewCheckpointer(period time.Duration, stores []Flusher, record func([]int64) error) *Checkpointer {
	return &Checkpointer{period: period, stores: stores, record: record}
}

// Due reports whether at least period has elapsed since the last Run.
func (c *Checkpointer) Due(now time.Time) bool {
	return c.lastRun.IsZero() || now.Sub(c.lastRun) >= c.period
}

// Run flushes every store in order and appends one checkpoint record.
func (c *Checkpointer) Run(now time.Time) error {
	offsets := make([]int64, len(c.stores))
	for i, f := range c.stores {
		if err := f.Flush(); err != nil {
			return err
		}
		off, err := f.Offset()
		if err != nil {
			return err
		}
		offsets[i] = off
	}
	if err := c.record(offsets); err != nil {
		return err
	}
	c.lastRun = now
	glog.V(2).Infof("checkpoint at offsets %v", offsets)
	return nil
}
