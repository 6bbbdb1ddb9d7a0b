// Package manualctl is the set-based selector library shep-select
// builds on: predicates over a loaded index, combined into a Set of
// matching records, with the usual set algebra and bulk mutation/dump
// helpers (spec §1's "Manual-control selectors" line item).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package manualctl

import (
	"sort"

	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/urlindex"
)

// Selector reports whether rec belongs in a selection.
type Selector func(rec *urlindex.Record) bool

// And combines selectors, matching a record only if every sel matches.
func And(sels ...Selector) Selector {
	return func(rec *urlindex.Record) bool {
		for _, sel := range sels {
			if !sel(rec) {
				return false
			}
		}
		return true
	}
}

// Or combines selectors, matching a record if any sel matches.
func Or(sels ...Selector) Selector {
	return func(rec *urlindex.Record) bool {
		for _, sel := range sels {
			if sel(rec) {
				return true
			}
		}
		return false
	}
}

// Not negates sel.
func Not(sel Selector) Selector {
	return func(rec *urlindex.Record) bool { return !sel(rec) }
}

// ByType selects records of the given url_state.type.
func ByType(t uint8) Selector {
	return func(rec *urlindex.Record) bool { return rec.Type == t }
}

// WithFlags selects records carrying every bit of mask.
func WithFlags(mask uint16) Selector {
	return func(rec *urlindex.Record) bool { return rec.HasFlags(mask) }
}

// WithoutFlags selects records carrying none of mask's bits.
func WithoutFlags(mask uint16) Selector {
	return func(rec *urlindex.Record) bool { return !rec.AnyFlags(mask) }
}

// BySite selects records whose footprint's site_fp matches site.
func BySite(siteFP footprint.SiteFP) Selector {
	return func(rec *urlindex.Record) bool { return footprint.CmpSite(rec.FP.Site, siteFP) == 0 }
}

// BySection selects records in the given index section.
func BySection(section uint16) Selector {
	return func(rec *urlindex.Record) bool { return rec.Section == section }
}

// ByArea selects records in the given area.
func ByArea(area uint16) Selector {
	return func(rec *urlindex.Record) bool { return rec.Area == area }
}

// ByFootprintRange selects records with lo <= fp <= hi.
func ByFootprintRange(lo, hi footprint.FP) Selector {
	return func(rec *urlindex.Record) bool {
		return footprint.Cmp(lo, rec.FP) <= 0 && footprint.Cmp(rec.FP, hi) <= 0
	}
}

// OlderThan selects records whose last_seen predates cutoff (plain
// comparison: manual-control tools operate on a closed, already-sorted
// state where wraparound-correct arithmetic is not required, unlike the
// live reaper/planner paths that use cmn's wraparound-safe helpers).
func OlderThan(cutoff uint32) Selector {
	return func(rec *urlindex.Record) bool { return rec.LastSeen < cutoff }
}

// Set is a materialized, footprint-ordered selection over an Index.
type Set struct {
	records []*urlindex.Record
}

// Select runs sel over every record in idx and returns the matches in
// ascending footprint order.
func Select(idx *urlindex.Index, sel Selector) *Set {
	var out []*urlindex.Record
	for _, rec := range idx.Records {
		if sel(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return footprint.Cmp(out[i].FP, out[j].FP) < 0 })
	return &Set{records: out}
}

// Records returns the set's records in footprint order.
func (s *Set) Records() []*urlindex.Record { return s.records }

// Len returns the number of records in the set.
func (s *Set) Len() int { return len(s.records) }

// Filter narrows the set to records additionally matching sel.
func (s *Set) Filter(sel Selector) *Set {
	return Select(&urlindex.Index{Records: s.records}, sel)
}

// Apply runs mutate over every record in the set in place.
func (s *Set) Apply(mutate func(rec *urlindex.Record)) {
	for _, rec := range s.records {
		mutate(rec)
	}
}

// Footprints returns the set's footprints in order, for handing to
// urldb.Lookup or a journal rebuild.
func (s *Set) Footprints() []footprint.FP {
	out := make([]footprint.FP, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.FP
	}
	return out
}
