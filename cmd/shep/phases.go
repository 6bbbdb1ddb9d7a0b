package main

import (
	"context"
	"math/rand"
	"os"
	"time"

	"github.com/golang/glog"

	"github.com/holmesengine/shepherd/bucket"
	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/contrib"
	"github.com/holmesengine/shepherd/equiv"
	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/master"
	"github.com/holmesengine/shepherd/merge"
	"github.com/holmesengine/shepherd/metrics"
	"github.com/holmesengine/shepherd/plan"
	"github.com/holmesengine/shepherd/reap"
	"github.com/holmesengine/shepherd/record"
	"github.com/holmesengine/shepherd/selectstage"
	"github.com/holmesengine/shepherd/site"
	"github.com/holmesengine/shepherd/sortstage"
	"github.com/holmesengine/shepherd/state"
	"github.com/holmesengine/shepherd/urldb"
	"github.com/holmesengine/shepherd/urlindex"
)

// phaseRunner closes over the config and collaborators every phase
// needs, and its runPhase method is master.Sequencer.Run's PhaseFunc
// (spec §4.13: each phase named in cmn.CyclePhases runs one worker
// against the state directory currently being advanced).
type phaseRunner struct {
	cfg     *cmn.Config
	flags   *daemonFlags
	metrics *metrics.Collectors
	rng     *rand.Rand
}

func newPhaseRunner(cfg *cmn.Config, flags *daemonFlags, mcol *metrics.Collectors, rng *rand.Rand) *phaseRunner {
	return &phaseRunner{cfg: cfg, flags: flags, metrics: mcol, rng: rng}
}

func (pr *phaseRunner) runPhase(phase, dir string) error {
	switch phase {
	case cmn.PhasePrepare:
		return pr.prepare(dir)
	case cmn.PhasePlan:
		return pr.plan(dir)
	case cmn.PhaseReap:
		return pr.reap(dir)
	case cmn.PhaseCork, cmn.PhaseCorked:
		return nil // corking is a pure control-protocol state; no on-disk work of its own
	case cmn.PhaseMerge:
		return pr.merge(dir)
	case cmn.PhaseFeedback:
		return pr.feedback(dir)
	case cmn.PhaseEquiv:
		return pr.equivalence(dir)
	case cmn.PhaseSelect:
		return pr.selectStage(dir)
	case cmn.PhaseRecord:
		return pr.record(dir)
	case cmn.PhaseSort:
		return pr.sort(dir)
	case cmn.PhaseFinish:
		return pr.finish(dir)
	default:
		glog.Warningf("shep: no worker for phase %q", phase)
		return nil
	}
}

// finish runs once a cycle reaches PhaseFinish: it records a checkpoint
// for dir, and, if the operator has armed SET_DELETE_OLD, sweeps any
// state directory that current/closed (repointed by
// master.Sequencer.Advance) no longer target.
func (pr *phaseRunner) finish(dir string) error {
	cp := state.Checkpoint{Phase: cmn.PhaseFinish, Recorded: time.Now().UTC()}
	if err := state.SaveCheckpoint(dir, cp); err != nil {
		glog.Errorf("shep: save checkpoint for %s: %v", dir, err)
	}
	if !pr.flags.DeleteOld() {
		return nil
	}
	return deleteOldStates(pr.cfg.StateDir, dir)
}

// prepare makes sure a fresh state directory has an (empty) contribution
// log to append to for the rest of the cycle.
func (pr *phaseRunner) prepare(dir string) error {
	af, err := contrib.OpenAppend(contribPath(dir))
	if err != nil {
		return err
	}
	return af.Close()
}

func (pr *phaseRunner) plan(dir string) error {
	idx, err := urlindex.Load(indexPath(dir))
	if err != nil {
		return err
	}
	sites, err := site.Load(sitesPath(dir))
	if err != nil {
		return err
	}
	blocks := plan.Run(idx, sites, pr.cfg, uint32(time.Now().Unix()), pr.rng)
	return plan.Save(planPath(dir), blocks)
}

// reap drains the plan's blocks through a bounded worker pool. The
// actual network fetch is out of scope (libgather's job, spec.md's
// Non-goals); fetcher is whatever was wired in fetch.go.
func (pr *phaseRunner) reap(dir string) error {
	blocks, err := plan.Load(planPath(dir))
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		return nil
	}
	sites, err := site.Load(sitesPath(dir))
	if err != nil {
		return err
	}

	sched := reap.NewScheduler(pr.cfg.Reap.MaxResolvers, pr.cfg.Reap.MaxFlushers)
	for _, b := range blocks {
		s, ok := sites.GetBySkey(b.Qkey.Skey())
		if !ok {
			continue
		}
		sched.Enqueue(&reap.Qsite{Site: s, PlanStart: 0, PlanEnd: len(b.Entries)})
	}

	workers := pr.cfg.Reap.MaxFlushers
	if workers <= 0 {
		workers = 1
	}
	pool := reap.NewPool(sched, NullFetcher{}, pr.cfg, workers, func(o reap.Outcome) {
		outcome := "ok"
		if o.Class != cmn.ErrNone {
			outcome = "error"
		}
		if pr.metrics != nil {
			pr.metrics.ReapCount.WithLabelValues(outcome).Inc()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sched.TimeStep(uint32(time.Now().Unix()))
				if sched.ReadyCount() == 0 && sched.WaitingCount() == 0 {
					cancel()
					return
				}
			}
		}
	}()

	return pool.Run(ctx)
}

func (pr *phaseRunner) merge(dir string) error {
	idx, err := urlindex.Load(indexPath(dir))
	if err != nil {
		return err
	}
	entries, err := contrib.Scan(contribPath(dir))
	if err != nil {
		return err
	}
	sites, err := site.Load(sitesPath(dir))
	if err != nil {
		return err
	}
	merged := merge.Run(idx, entries, sites, pr.cfg.Contrib.AutoGoRoot, nil)
	if err := urlindex.Save(indexPath(dir), merged); err != nil {
		return err
	}
	return site.Save(sitesPath(dir), sites)
}

// feedback hands any newly-arrived SEND_FEEDBACK contributions another
// merge pass; skipped entirely under -private (spec §4.13's "--private
// skips the feedback phase's external collaborator hooks").
func (pr *phaseRunner) feedback(dir string) error {
	if pr.flags.Private() {
		return nil
	}
	return pr.merge(dir)
}

func (pr *phaseRunner) equivalence(dir string) error {
	idx, err := urlindex.Load(indexPath(dir))
	if err != nil {
		return err
	}
	sites, err := site.Load(sitesPath(dir))
	if err != nil {
		return err
	}
	if err := equiv.Run(idx, sites, equiv.PassThrough{}); err != nil {
		return err
	}
	return urlindex.Save(indexPath(dir), idx)
}

func (pr *phaseRunner) selectStage(dir string) error {
	idx, err := urlindex.Load(indexPath(dir))
	if err != nil {
		return err
	}
	sites, err := site.Load(sitesPath(dir))
	if err != nil {
		return err
	}

	limitsOf := func(s *site.Site) selectstage.Limits {
		return selectstage.Limits{
			SoftSiteLimit: pr.cfg.Limits.DefaultSoftLimit,
			HardSiteLimit: int(float64(pr.cfg.Limits.DefaultSoftLimit) * pr.cfg.Limits.HardLimitFactor),
		}
	}
	counters := &selectstage.Counters{
		QkeyTotals: map[site.Qkey]int{},
		QkeyLimits: map[site.Qkey]int{},
	}

	decisions, err := selectstage.Walk(idx, sites, pr.cfg, limitsOf, counters, uint32(time.Now().Unix()), nil)
	if err != nil {
		if _, aborted := err.(*selectstage.AbortError); aborted {
			return master.ErrAborted
		}
		return err
	}

	kept := idx.Records[:0]
	for i, rec := range idx.Records {
		d := decisions[i]
		if d.Action == cmn.ActionDiscard {
			continue
		}
		rec.RefreshFreq = d.RefreshFreq
		kept = append(kept, rec)
	}
	idx.Records = kept
	return urlindex.Save(indexPath(dir), idx)
}

func (pr *phaseRunner) record(dir string) error {
	idx, err := urlindex.Load(indexPath(dir))
	if err != nil {
		return err
	}
	sites, err := site.Load(sitesPath(dir))
	if err != nil {
		return err
	}
	entries, err := contrib.Scan(contribPath(dir))
	if err != nil {
		return err
	}
	byURL := make(map[footprint.FP]*contrib.Entry, len(entries))
	for _, e := range entries {
		byURL[e.FP] = e
	}

	bf, err := bucket.Open(bucketsPath(dir), bucket.OpenOpts{
		Writable:      true,
		ConfiguredMax: pr.cfg.Disk.MaxBucketFileSize,
	})
	if err != nil {
		return err
	}
	defer bf.Close()

	journal, err := urldb.Create(urldbPath(dir), uint32(time.Now().Unix()))
	if err != nil {
		return err
	}
	defer journal.Close()

	writer := func(fp footprint.FP, oid uint32) {
		e := byURL[fp]
		url := ""
		if e != nil {
			url = e.URL
		}
		if err := journal.Append(urldb.Record{Oid: oid, FP: fp, URL: url}); err != nil {
			glog.Errorf("shep: record phase: append urldb journal: %v", err)
		}
	}

	out, err := record.Run(idx, bf, sites, byURL, writer)
	if err != nil {
		return err
	}
	if pr.metrics != nil {
		if info, statErr := os.Stat(bucketsPath(dir)); statErr == nil {
			pr.metrics.BucketFileSize.Set(float64(info.Size()))
		}
	}
	return urlindex.Save(indexPath(dir), out)
}

func (pr *phaseRunner) sort(dir string) error {
	idx, err := urlindex.Load(indexPath(dir))
	if err != nil {
		return err
	}
	out := sortstage.Run(idx, &sortstage.Params{})
	if err := urlindex.Save(indexPath(dir), out); err != nil {
		return err
	}

	recs, err := urldb.ScanFile(urldbPath(dir))
	if err != nil {
		return err
	}
	return urldb.BuildSorted(sortedPath(dir), urldb.Latest(recs))
}
