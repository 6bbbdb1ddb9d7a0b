package manualctl

import (
	"testing"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/urlindex"
)

func mustFP(t *testing.T, raw string) footprint.FP {
	t.Helper()
	fp, err := footprint.OfString(raw)
	if err != nil {
		t.Fatalf("OfString(%q): %v", raw, err)
	}
	return fp
}

func sampleIndex(t *testing.T) *urlindex.Index {
	t.Helper()
	return &urlindex.Index{Records: []*urlindex.Record{
		{FP: mustFP(t, "http://a.example/1"), Type: cmn.TypeOK, Flags: cmn.USFContrib, LastSeen: 100},
		{FP: mustFP(t, "http://b.example/2"), Type: cmn.TypeError, LastSeen: 200},
		{FP: mustFP(t, "http://c.example/3"), Type: cmn.TypeOK, Flags: cmn.USFRobots, LastSeen: 300},
	}}
}

func TestSelectByType(t *testing.T) {
	idx := sampleIndex(t)
	set := Select(idx, ByType(cmn.TypeOK))
	if set.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", set.Len())
	}
}

func TestSelectAndOrNot(t *testing.T) {
	idx := sampleIndex(t)
	set := Select(idx, And(ByType(cmn.TypeOK), WithFlags(cmn.USFContrib)))
	if set.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", set.Len())
	}

	set = Select(idx, Or(ByType(cmn.TypeError), WithFlags(cmn.USFRobots)))
	if set.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", set.Len())
	}

	set = Select(idx, Not(ByType(cmn.TypeOK)))
	if set.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", set.Len())
	}
}

func TestOlderThan(t *testing.T) {
	idx := sampleIndex(t)
	set := Select(idx, OlderThan(250))
	if set.Len() != 2 {
		t.Fatalf("expected 2 records older than cutoff, got %d", set.Len())
	}
}

func TestSelectIsFootprintOrdered(t *testing.T) {
	idx := sampleIndex(t)
	set := Select(idx, func(*urlindex.Record) bool { return true })
	recs := set.Records()
	for i := 1; i < len(recs); i++ {
		if footprint.Cmp(recs[i-1].FP, recs[i].FP) > 0 {
			t.Fatalf("records out of order at %d", i)
		}
	}
}

func TestUnionIntersectSubtract(t *testing.T) {
	idx := sampleIndex(t)
	okSet := Select(idx, ByType(cmn.TypeOK))
	errSet := Select(idx, ByType(cmn.TypeError))
	robotsSet := Select(idx, WithFlags(cmn.USFRobots))

	if u := Union(okSet, errSet); u.Len() != 3 {
		t.Fatalf("expected union of 2+1 disjoint sets to have 3, got %d", u.Len())
	}
	if i := Intersect(okSet, robotsSet); i.Len() != 1 {
		t.Fatalf("expected intersection to have 1, got %d", i.Len())
	}
	if s := Subtract(okSet, robotsSet); s.Len() != 1 {
		t.Fatalf("expected subtract to drop the shared record, got %d", s.Len())
	}
}

func TestApplyMutatesInPlace(t *testing.T) {
	idx := sampleIndex(t)
	set := Select(idx, ByType(cmn.TypeOK))
	set.Apply(func(rec *urlindex.Record) { rec.Flags |= cmn.USFUnref })

	for _, rec := range idx.Records {
		if rec.Type == cmn.TypeOK && !rec.HasFlags(cmn.USFUnref) {
			t.Fatalf("expected Apply to mutate the underlying record, got %+v", rec)
		}
	}
}

func TestFootprints(t *testing.T) {
	idx := sampleIndex(t)
	set := Select(idx, ByType(cmn.TypeOK))
	fps := set.Footprints()
	if len(fps) != 2 {
		t.Fatalf("expected 2 footprints, got %d", len(fps))
	}
}
