// Package housekeep is Shepherd's periodic-timer utility: named callbacks
// fired on their own ticker, the way the teacher's dsort/mem_watcher.go
// drives a watcher off a dedicated time.Ticker plus a stop channel,
// generalised here into a registry so master/ can register the disk
// watchdog, the checkpoint timer, and any future periodic task through
// one Runner.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package housekeep

import (
	"sync"
	"time"

	"github.com/golang/glog"
)

// Job is one named periodic callback. fn's return value is logged but
// never stops the ticker; a job that wants to stop itself should track
// its own state and become a no-op.
type Job struct {
	Name     string
	Interval time.Duration
	Fn       func() error
}

// Registry runs a set of Jobs concurrently, each on its own ticker, as a
// single cmn.Runner the master rungroup supervises.
type Registry struct {
	mu   sync.Mutex
	jobs []Job
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewRegistry() *Registry {
	return &Registry{stop: make(chan struct{})}
}

// Add registers a job. Add must be called before Run.
func (r *Registry) Add(j Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, j)
}

func (*Registry) Name() string { return "housekeep" }

// Run blocks until Stop is called, firing every registered job on its
// own ticker in its own goroutine.
func (r *Registry) Run() error {
	r.mu.Lock()
	jobs := append([]Job(nil), r.jobs...)
	r.mu.Unlock()

	for _, j := range jobs {
		r.wg.Add(1)
		go r.runJob(j)
	}
	r.wg.Wait()
	return nil
}

func (r *Registry) runJob(j Job) {
	defer r.wg.Done()
	t := time.NewTicker(j.Interval)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			if err := j.Fn(); err != nil {
				glog.Warningf("housekeep: job %s: %v", j.Name, err)
			}
		}
	}
}

// Stop signals every job's ticker loop to exit; it satisfies cmn.Runner's
// Stop(error) but the reason is not otherwise used.
func (r *Registry) Stop(error) {
	close(r.stop)
}
