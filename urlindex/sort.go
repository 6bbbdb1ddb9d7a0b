/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package urlindex

import (
	"io"
	"sort"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/footprint"
)

// Sorter streams records in some total order over a finite, one-shot
// pass (spec §4.2: "a restartable external sort... sorters expose a
// streaming interface, finite, one-shot, not restartable"). A fresh
// in-memory sort is good enough at Shepherd's per-site record volumes;
// the streaming shape is kept so a future on-disk merge sort can replace
// the implementation without touching callers.
type Sorter struct {
	records []*Record
	pos     int
}

// Next returns the next record in sort order, or io.EOF when exhausted.
func (s *Sorter) Next() (*Record, error) {
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	r := s.records[s.pos]
	s.pos++
	return r, nil
}

// ByFootprint returns a Sorter in ascending (site_fp, rest_fp) order,
// the order every closed-state index file must be in (spec §3.2, §8).
func ByFootprint(idx *Index) *Sorter {
	out := make([]*Record, len(idx.Records))
	copy(out, idx.Records)
	sort.SliceStable(out, func(i, j int) bool {
		return footprint.Cmp(out[i].FP, out[j].FP) < 0
	})
	return &Sorter{records: out}
}

// ByOid returns a Sorter in ascending oid order, the order the reaper's
// plan-apply and the record stage need when walking buckets sequentially.
func ByOid(idx *Index) *Sorter {
	out := make([]*Record, len(idx.Records))
	copy(out, idx.Records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Oid < out[j].Oid
	})
	return &Sorter{records: out}
}

// Dedup drops records that share a footprint with an already-kept one in
// a footprint-ordered slice, keeping the first occurrence at each
// footprint, except that one SKEY and/or one ZOMBIE record may coexist
// with one normal record at the same synthetic footprint (spec §3.2).
func Dedup(sorted []*Record) []*Record {
	if len(sorted) == 0 {
		return sorted
	}
	out := make([]*Record, 0, len(sorted))
	seenKinds := map[int]bool{}
	kindOf := func(r *Record) int {
		switch r.Type {
		case cmn.TypeSkey:
			return int(cmn.TypeSkey)
		case cmn.TypeZombie:
			return int(cmn.TypeZombie)
		default:
			return -1 // "normal" bucket, at most one per footprint
		}
	}
	for i, cur := range sorted {
		if i == 0 || footprint.Cmp(sorted[i-1].FP, cur.FP) != 0 {
			seenKinds = map[int]bool{}
		}
		k := kindOf(cur)
		if seenKinds[k] {
			continue
		}
		seenKinds[k] = true
		out = append(out, cur)
	}
	return out
}
