// Package merge implements the merge stage (spec §4.7): folding a
// cycle's contribution file into the URL index, resolving duplicate
// footprint groups, and synthesising AutoGoRoot candidates.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package merge

import (
	"sort"

	"github.com/golang/glog"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/contrib"
	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/site"
	"github.com/holmesengine/shepherd/urlindex"
)

// StateLogger receives one row per dropped duplicate on a monitored site
// (spec §4.7 step 3c); nil disables logging.
type StateLogger func(fp footprint.FP, reason string)

// Run executes merge steps 1-4 and returns the deduplicated, fp-sorted
// index plus the updated site list. entries are the scanned contribution
// file's records (spec §4.4); autoGoRoot mirrors cfg's AutoGoRoot knob.
func Run(existing *urlindex.Index, entries []*contrib.Entry, sites *site.Table, autoGoRoot bool, log StateLogger) *urlindex.Index {
	cands := buildCandidates(entries, sites, autoGoRoot)

	// Step 2: sort candidates by (fp, weight desc), concatenate with the
	// existing index, then sort the union by (norm_fp, rest_fp).
	sort.SliceStable(cands, func(i, j int) bool {
		if c := footprint.Cmp(cands[i].FP, cands[j].FP); c != 0 {
			return c < 0
		}
		return cands[i].Weight > cands[j].Weight
	})

	union := make([]*urlindex.Record, 0, len(existing.Records)+len(cands))
	union = append(union, existing.Records...)
	for _, c := range cands {
		union = append(union, c)
	}

	normFP := func(r *urlindex.Record) footprint.FP {
		if s := siteByFootprint(sites, r.FP.Site); s != nil && s.NormFP != (footprint.SiteFP{}) {
			return footprint.FP{Site: s.NormFP, Rest: r.FP.Rest}
		}
		return r.FP
	}
	sort.SliceStable(union, func(i, j int) bool {
		return footprint.Cmp(normFP(union[i]), normFP(union[j])) < 0
	})

	// Step 3: resolve each group sharing a normalised footprint.
	out := make([]*urlindex.Record, 0, len(union))
	i := 0
	for i < len(union) {
		j := i + 1
		for j < len(union) && footprint.Cmp(normFP(union[i]), normFP(union[j])) == 0 {
			j++
		}
		out = append(out, resolveGroup(union[i:j], sites, log)...)
		i = j
	}

	return &urlindex.Index{Records: out}
}

// buildCandidates implements step 1: every contribution entry becomes a
// NEW record, with an additional synthesised root-page candidate when
// AutoGoRoot is set and the entry is not already the site root.
func buildCandidates(entries []*contrib.Entry, sites *site.Table, autoGoRoot bool) []*urlindex.Record {
	cands := make([]*urlindex.Record, 0, len(entries))
	for _, e := range entries {
		rec := &urlindex.Record{
			FP:     e.FP,
			Type:   cmn.TypeNew,
			Flags:  cmn.USFContrib | e.Flags,
			Weight: e.Weight,
			Section: e.Section,
			Area:    e.Area,
		}
		cands = append(cands, rec)

		if autoGoRoot && e.FP.Rest != footprint.Root {
			cands = append(cands, &urlindex.Record{
				FP:      footprint.FP{Site: e.FP.Site, Rest: footprint.Root},
				Type:    cmn.TypeNew,
				Flags:   cmn.USFNeededByEQ | cmn.USFContrib,
				Section: e.Section,
				Area:    e.Area,
			})
		}
	}
	return cands
}

// resolveGroup implements step 3: filtering_cmp ordering, then the
// accept/drop rule, for one group of records sharing a normalised
// footprint.
func resolveGroup(group []*urlindex.Record, sites *site.Table, log StateLogger) []*urlindex.Record {
	sort.SliceStable(group, func(i, j int) bool {
		return filteringLess(group[i], group[j])
	})

	var result []*urlindex.Record
	acceptedNonContrib := false
	firstContribSeen := false
	for _, r := range group {
		isContrib := r.HasFlags(cmn.USFContrib)
		if !isContrib {
			if !acceptedNonContrib {
				acceptedNonContrib = true
				if r.Type == cmn.TypeZombie && r.HasFlags(cmn.USFRegather) {
					r.Type = cmn.TypeNew
				}
				result = append(result, r)
				continue
			}
			logDrop(sites, r, "duplicate non-contrib", log)
			continue
		}
		// Contribution: only the first contribution in the (sorted)
		// group is ever a candidate, and it is kept only if it is
		// sacred or no non-contrib won the group (spec §4.7 step 3b).
		if !firstContribSeen {
			firstContribSeen = true
			if !acceptedNonContrib || r.HasFlags(cmn.Sacred) {
				result = append(result, r)
				continue
			}
		}
		logDrop(sites, r, "duplicate contribution", log)
	}
	return result
}

// filteringLess implements filtering_cmp (spec §4.7 step 3a): contribs
// last, sacred first (except still behind contribs), zombies last among
// non-contribs, then descending weight, then ascending original site
// footprint.
func filteringLess(a, b *urlindex.Record) bool {
	aContrib, bContrib := a.HasFlags(cmn.USFContrib), b.HasFlags(cmn.USFContrib)
	if aContrib != bContrib {
		return !aContrib // non-contrib sorts before contrib
	}
	if !aContrib {
		aSacred, bSacred := a.HasFlags(cmn.Sacred), b.HasFlags(cmn.Sacred)
		if aSacred != bSacred {
			return aSacred
		}
		aZombie, bZombie := a.Type == cmn.TypeZombie, b.Type == cmn.TypeZombie
		if aZombie != bZombie {
			return !aZombie
		}
	}
	if a.Weight != b.Weight {
		return a.Weight > b.Weight
	}
	return footprint.CmpSite(a.FP.Site, b.FP.Site) < 0
}

func logDrop(sites *site.Table, r *urlindex.Record, reason string, log StateLogger) {
	if log == nil {
		return
	}
	if s := siteByFootprint(sites, r.FP.Site); s != nil && s.Monitor {
		log(r.FP, reason)
	} else {
		glog.V(4).Infof("dropping %+v: %s", r.FP, reason)
	}
}

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
