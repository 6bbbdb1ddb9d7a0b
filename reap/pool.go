/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package reap

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/holmesengine/shepherd/cmn"
)

// idlePoll bounds how often a worker rechecks the scheduler when it finds
// no ready qsite, rather than busy-spinning the CPU.
const idlePoll = 50 * time.Millisecond

// Fetcher performs the actual HTTP fetch of one oid from a site; supplied
// by the caller (master/reap wiring) so this package stays free of any
// transport dependency.
type Fetcher interface {
	Fetch(ctx context.Context, qs *Qsite, job Job) Outcome
}

// Pool runs a fixed number of prefetch workers pulling Jobs off the
// Scheduler (spec §5: "single producer, one consumer per worker"),
// grounded on fs/mpather/jogger.go's JoggerGroup: one errgroup, one
// goroutine per worker, Stop cancels the shared context and waits.
type Pool struct {
	sched   *Scheduler
	fetch   Fetcher
	cfg     *cmn.Config
	workers int

	wg     *errgroup.Group
	cancel context.CancelFunc

	mu       sync.Mutex
	checkpoint func(Outcome)
}

func NewPool(sched *Scheduler, fetch Fetcher, cfg *cmn.Config, workers int, checkpoint func(Outcome)) *Pool {
	return &Pool{sched: sched, fetch: fetch, cfg: cfg, workers: workers, checkpoint: checkpoint}
}

// Run starts workers workers draining sched via GetSite/PutSite until ctx
// is cancelled (Stop cancels it). Workers do not exit on their own when
// the scheduler goes idle. Run blocks until every worker has returned.
func (p *Pool) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	wg, gctx := errgroup.WithContext(ctx)
	p.wg = wg
	p.cancel = cancel

	for i := 0; i < p.workers; i++ {
		id := i
		wg.Go(func() error { return p.worker(gctx, id) })
	}
	return wg.Wait()
}

// Stop cancels the shared context and waits for every worker to drain.
func (p *Pool) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.wg != nil {
		return p.wg.Wait()
	}
	return nil
}

func (p *Pool) worker(ctx context.Context, id int) error {
	glog.V(3).Infof("reap worker %d started", id)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		qs := p.sched.GetSite()
		if qs == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(idlePoll):
				continue
			}
		}

		job := Job{Qsite: qs, Oid: 0, Retry: 0}
		if qs.PlanStart < qs.PlanEnd {
			job.Oid = uint32(qs.PlanStart)
		}
		outcome := p.fetch.Fetch(ctx, qs, job)
		applyOutcome(qs, outcome, p.cfg)
		if p.checkpoint != nil {
			p.mu.Lock()
			p.checkpoint(outcome)
			p.mu.Unlock()
		}

		qs.PlanStart++
		now := uint32(time.Now().Unix())
		p.sched.PutSite(qs, now, func(n *Qnode) uint32 {
			return qs.Site.Delay()
		})
	}
}
