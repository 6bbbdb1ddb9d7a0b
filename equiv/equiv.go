// Package equiv is the equivalence stage (spec §4.8): an external
// collaborator step that may rewrite norm_fp and sacred flags. Shepherd
// only has to guarantee that afterwards the index stays fp-sorted and
// every site with NEEDED_BY_EQ URLs still has at least its root URL
// present; the actual equivalence-class decisions are owned by whatever
// implements Resolver.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package equiv

import (
	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/site"
	"github.com/holmesengine/shepherd/urlindex"
)

// Resolver is the external equivalence collaborator: given a record's
// footprint and the site table, it may propose a different norm_fp (host
// canonicalisation, mirror folding, session-id stripping, ...) and may
// promote a record to sacred.
type Resolver interface {
	Resolve(fp footprint.FP, sites *site.Table) (normFP footprint.SiteFP, sacred bool)
}

// PassThrough is the default Resolver: every record keeps its own site
// footprint as its norm_fp and no record is promoted to sacred. Used when
// no real equivalence collaborator is wired in.
type PassThrough struct{}

func (PassThrough) Resolve(fp footprint.FP, _ *site.Table) (footprint.SiteFP, bool) {
	return fp.Site, false
}

// Run applies r to every record in idx, updating each record's owning
// site's NormFP and, where proposed, promoting the record to sacred via
// USFInit. It then verifies the two invariants spec §4.8 requires:
// the index stays fp-sorted, and every site with at least one
// NEEDED_BY_EQ record still has its root URL present.
func Run(idx *urlindex.Index, sites *site.Table, r Resolver) error {
	needsRoot := map[footprint.SiteFP]bool{}
	hasRoot := map[footprint.SiteFP]bool{}

	for _, rec := range idx.Records {
		normFP, sacred := r.Resolve(rec.FP, sites)
		if s := siteByFootprint(sites, rec.FP.Site); s != nil {
			s.NormFP = normFP
		}
		if sacred {
			rec.Flags |= cmn.USFInit
		}
		if rec.HasFlags(cmn.USFNeededByEQ) {
			needsRoot[rec.FP.Site] = true
		}
		if rec.FP.Rest == footprint.Root {
			hasRoot[rec.FP.Site] = true
		}
	}

	for siteFP := range needsRoot {
		if !hasRoot[siteFP] {
			return &MissingRootError{Site: siteFP}
		}
	}
	if !urlindex.IsSorted(idx) {
		return ErrIndexNotSorted
	}
	return nil
}

// MissingRootError reports a site with NEEDED_BY_EQ records but no root
// URL present after equivalence resolution.
type MissingRootError struct {
	Site footprint.SiteFP
}

func (e *MissingRootError) Error() string {
	return "equiv: site missing required root URL after resolution"
}

var ErrIndexNotSorted = indexNotSortedError{}

type indexNotSortedError struct{}

func (indexNotSortedError) Error() string { return "equiv: index is not fp-sorted after resolution" }

func siteByFootprint(t *site.Table, fp footprint.SiteFP) *site.Site {
	var found *site.Site
	t.Range(func(s *site.Site) bool {
		if s.FP == fp {
			found = s
			return false
		}
		return true
	})
	return found
}
