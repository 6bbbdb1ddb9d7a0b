package urldb

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/holmesengine/shepherd/footprint"
)

func manyRecords(t *testing.T, n int) []Record {
	t.Helper()
	recs := make([]Record, n)
	for i := range recs {
		raw := fmt.Sprintf("http://site%d.example/path/%d", i%37, i)
		fp, err := footprint.OfString(raw)
		if err != nil {
			t.Fatalf("OfString: %v", err)
		}
		recs[i] = Record{Oid: uint32(i + 1), FP: fp, URL: raw}
	}
	return recs
}

func TestBuildSortedAndLookup(t *testing.T) {
	recs := manyRecords(t, 2000) // spans several BlockRecords-sized blocks
	path := filepath.Join(t.TempDir(), "sorted")
	if err := BuildSorted(path, recs); err != nil {
		t.Fatalf("BuildSorted: %v", err)
	}

	s, err := OpenSorted(path)
	if err != nil {
		t.Fatalf("OpenSorted: %v", err)
	}
	defer s.Close()

	if s.Count() != len(recs) {
		t.Fatalf("expected Count %d, got %d", len(recs), s.Count())
	}

	for _, want := range []Record{recs[0], recs[500], recs[1999]} {
		got, ok, err := s.Lookup(want.FP)
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if !ok {
			t.Fatalf("expected to find %q", want.URL)
		}
		if got.Oid != want.Oid || got.URL != want.URL {
			t.Fatalf("Lookup mismatch: got %+v, want %+v", got, want)
		}
	}

	absent, err := footprint.OfString("http://absent.example/nope")
	if err != nil {
		t.Fatalf("OfString: %v", err)
	}
	if _, ok, err := s.Lookup(absent); err != nil || ok {
		t.Fatalf("expected absent lookup to miss, got ok=%v err=%v", ok, err)
	}
}

func TestBuildSortedAllReturnsEveryRecordSorted(t *testing.T) {
	recs := manyRecords(t, 300)
	path := filepath.Join(t.TempDir(), "sorted")
	if err := BuildSorted(path, recs); err != nil {
		t.Fatalf("BuildSorted: %v", err)
	}

	s, err := OpenSorted(path)
	if err != nil {
		t.Fatalf("OpenSorted: %v", err)
	}
	defer s.Close()

	all, err := s.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != len(recs) {
		t.Fatalf("expected %d records, got %d", len(recs), len(all))
	}
	for i := 1; i < len(all); i++ {
		if footprint.Cmp(all[i-1].FP, all[i].FP) > 0 {
			t.Fatalf("records out of order at index %d", i)
		}
	}
}

func TestBuildSortedEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sorted")
	if err := BuildSorted(path, nil); err != nil {
		t.Fatalf("BuildSorted: %v", err)
	}
	s, err := OpenSorted(path)
	if err != nil {
		t.Fatalf("OpenSorted: %v", err)
	}
	defer s.Close()
	if s.Count() != 0 {
		t.Fatalf("expected an empty derivative, got count %d", s.Count())
	}
	if _, ok, err := s.Lookup(footprint.FP{}); err != nil || ok {
		t.Fatalf("expected lookup on an empty derivative to miss cleanly, got ok=%v err=%v", ok, err)
	}
}
