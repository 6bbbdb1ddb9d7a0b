package plan

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/site"
	"github.com/holmesengine/shepherd/urlindex"
)

// TestRunEmptyStateFirstCycle mirrors spec scenario 1: a single NEW record
// for a site with an unresolved skey should produce exactly one plan
// block, with qkey derived from the UNRESOLVED skey and one entry.
func TestRunEmptyStateFirstCycle(t *testing.T) {
	fp, err := footprint.OfString("http://www.example.com/")
	if err != nil {
		t.Fatalf("footprint: %v", err)
	}

	sites := site.NewTable()
	s := &site.Site{FP: fp.Site, Host: "www.example.com", Proto: "http", Port: 80, MaxConn: 1}
	sites.Put(s)

	idx := &urlindex.Index{Records: []*urlindex.Record{
		{FP: fp, Oid: 1, Type: cmn.TypeNew, Weight: 100, Flags: cmn.USFContrib},
	}}

	cfg := cmn.Default()
	cfg.Reap.EstimatedRawPerf = 1000
	cfg.Reap.ReapOptimismFactor = 1.0

	blocks := Run(idx, sites, cfg, 1_700_000_000, rand.New(rand.NewSource(7)))
	if len(blocks) != 1 {
		t.Fatalf("expected exactly one plan block, got %d", len(blocks))
	}
	if blocks[0].Qkey.Channel() != 0 {
		t.Fatalf("expected channel 0, got %d", blocks[0].Qkey.Channel())
	}
	if !blocks[0].Qkey.IsUnresolved() {
		t.Fatalf("expected an UNRESOLVED qkey, got skey=%#x", blocks[0].Qkey.Skey())
	}
	if len(blocks[0].Entries) != 1 {
		t.Fatalf("expected entry_count=1, got %d", len(blocks[0].Entries))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan")

	blocks := []Block{
		{
			Qkey:     site.MakeQkey(0x0a0b0c0d, 0, 0),
			RobotOid: 7,
			Delay:    30,
			Entries: []Entry{
				{Oid: 1, Priority: 12345, RetryCount: 2, Weight: 9, Flags: cmn.PlanRefresh, Section: 1, Area: 2},
			},
		},
	}
	if err := Save(path, blocks); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || len(got[0].Entries) != 1 {
		t.Fatalf("round trip shape mismatch: %+v", got)
	}
	if got[0].Qkey != blocks[0].Qkey || got[0].Entries[0] != blocks[0].Entries[0] {
		t.Fatalf("round trip value mismatch: got %+v want %+v", got[0], blocks[0])
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected plan file to exist: %v", err)
	}
}
