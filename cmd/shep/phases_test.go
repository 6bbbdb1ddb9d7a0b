package main

import (
	"math/rand"
	"os"
	"testing"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/contrib"
	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/metrics"
	"github.com/holmesengine/shepherd/plan"
	"github.com/holmesengine/shepherd/site"
	"github.com/holmesengine/shepherd/urlindex"
)

func newTestRunner(t *testing.T) (*phaseRunner, string) {
	t.Helper()
	cfg := cmn.Default()
	cfg.Reap.EstimatedRawPerf = 1000
	cfg.Reap.ReapOptimismFactor = 1.0
	pr := newPhaseRunner(cfg, newDaemonFlags(false, false, false, false), metrics.New(), rand.New(rand.NewSource(1)))
	return pr, t.TempDir()
}

func seedContribEntry(t *testing.T, dir string, fp footprint.FP, raw string) {
	t.Helper()
	af, err := contrib.OpenAppend(contribPath(dir))
	if err != nil {
		t.Fatalf("contrib.OpenAppend: %v", err)
	}
	defer af.Close()
	e := &contrib.Entry{FP: fp, URL: raw, Weight: 100}
	if err := af.Append(e); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := af.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func seedSite(t *testing.T, dir string, fp footprint.FP) {
	t.Helper()
	sites := site.NewTable()
	sites.Put(&site.Site{FP: fp.Site, Host: "www.example.com", Proto: "http", Port: 80, Skey: 0x2222, MaxConn: 1})
	if err := site.Save(sitesPath(dir), sites); err != nil {
		t.Fatalf("site.Save: %v", err)
	}
}

// TestRunPhaseFullCycle drives one contribution through prepare, merge,
// equivalence, select, record, and sort, the way master.Sequencer.Advance
// would across one pass of cmn.CyclePhases.
func TestRunPhaseFullCycle(t *testing.T) {
	pr, dir := newTestRunner(t)
	fp, err := footprint.OfString("http://www.example.com/")
	if err != nil {
		t.Fatalf("footprint: %v", err)
	}
	seedSite(t, dir, fp)
	seedContribEntry(t, dir, fp, "http://www.example.com/")

	for _, phase := range []string{cmn.PhasePrepare, cmn.PhaseMerge, cmn.PhaseEquiv, cmn.PhaseSelect, cmn.PhaseRecord, cmn.PhaseSort} {
		if err := pr.runPhase(phase, dir); err != nil {
			t.Fatalf("phase %s: %v", phase, err)
		}
	}

	idx, err := urlindex.Load(indexPath(dir))
	if err != nil {
		t.Fatalf("urlindex.Load: %v", err)
	}
	if len(idx.Records) == 0 {
		t.Fatal("expected at least one surviving record after the cycle")
	}
	found := false
	for _, rec := range idx.Records {
		if rec.FP.Equal(fp) {
			found = true
			if rec.Oid == cmn.OidUndefined {
				t.Fatal("expected record phase to assign an oid")
			}
		}
	}
	if !found {
		t.Fatal("expected the seeded footprint to survive the cycle")
	}

	if _, err := os.Stat(urldbPath(dir)); err != nil {
		t.Fatalf("expected a urldb journal to exist: %v", err)
	}
	if _, err := os.Stat(sortedPath(dir)); err != nil {
		t.Fatalf("expected a sorted urldb derivative to exist: %v", err)
	}
}

func TestRunPhasePlanOnEmptyStateYieldsNoBlocks(t *testing.T) {
	pr, dir := newTestRunner(t)
	if err := pr.runPhase(cmn.PhasePlan, dir); err != nil {
		t.Fatalf("plan: %v", err)
	}
	blocks, err := plan.Load(planPath(dir))
	if err != nil {
		t.Fatalf("plan.Load: %v", err)
	}
	if len(blocks) != 0 {
		t.Fatalf("expected no plan blocks for an empty state, got %d", len(blocks))
	}
}

func TestRunPhaseReapWithNoBlocksReturnsPromptly(t *testing.T) {
	pr, dir := newTestRunner(t)
	if err := pr.runPhase(cmn.PhaseReap, dir); err != nil {
		t.Fatalf("reap: %v", err)
	}
}

func TestRunPhaseUnknownPhaseIsANoop(t *testing.T) {
	pr, dir := newTestRunner(t)
	if err := pr.runPhase("bogus", dir); err != nil {
		t.Fatalf("expected unknown phase to be a no-op, got %v", err)
	}
}
