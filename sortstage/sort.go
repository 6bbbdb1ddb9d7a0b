// Package sortstage implements the sort stage (spec §4.11): the final
// per-cycle pass that sorts the index by footprint (unique-key sort) and
// marks params SORTED.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package sortstage

import (
	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/urlindex"
)

// Params is the subset of the on-disk params file this stage touches
// (spec §6.2: ParamsFlagSort is the "SORTED" bit).
type Params struct {
	Flags uint32
}

// Run sorts idx by footprint, deduplicating per spec §3.2's closed-index
// invariant, and sets the SORTED flag on params. It returns the resorted
// index; the caller is responsible for persisting both idx and params.
func Run(idx *urlindex.Index, params *Params) *urlindex.Index {
	sorted := urlindex.ByFootprint(idx)
	deduped := urlindex.Dedup(drain(sorted))
	params.Flags |= cmn.ParamsFlagSort
	return &urlindex.Index{Records: deduped}
}

func drain(s *urlindex.Sorter) []*urlindex.Record {
	var out []*urlindex.Record
	for {
		rec, err := s.Next()
		if err != nil {
			break
		}
		if rec == nil {
			break
		}
		out = append(out, rec)
	}
	return out
}
