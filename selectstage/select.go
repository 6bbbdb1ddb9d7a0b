// Package selectstage implements the select stage (spec §4.9): the
// weight-ordered limiter that walks the merged index by stored weight and
// assigns each record an OK/SLEEP/DISCARD action, a cause, and (for
// surviving records) a refresh frequency. Each record's effective weight
// is computed during the walk and does not change the walk order.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package selectstage

import (
	"sort"

	"github.com/golang/glog"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/site"
	"github.com/holmesengine/shepherd/urlindex"
)

// Counters tracks the running totals the walk must respect and update
// (spec §4.9 step 6): num_active/num_inactive/num_fresh per site, per
// qkey frequency totals, and the two global performance counters.
type Counters struct {
	PerfFreqTotal int
	PerfFreqLimit int
	QkeyTotals    map[site.Qkey]int
	QkeyLimits    map[site.Qkey]int
}

// Limits bundles the soft/hard limits a record's site and section impose
// on the walk (spec §4.9 step 2).
type Limits struct {
	SoftSiteLimit    int
	HardSiteLimit    int
	SoftSectionLimit int
	HardSectionLimit int
	SoftSpaceLimit   int
	HardSpaceLimit   int
	SoftAreaLimit    int
	HardAreaLimit    int
}

// Decision is the per-record output of the walk.
type Decision struct {
	Action          int // cmn.Action*
	Cause           int // cmn.Cause*
	EffectiveWeight int64
	RefreshFreq     uint8
	Zombie          bool
}

// StateLogger receives one row per transition on a monitored site (spec
// §4.9 step 7).
type StateLogger func(fp footprint.FP, action int, cause int)

// AbortError signals the SafetyBrakeLimit trip (spec §4.9 step 8).
type AbortError struct{ Lost int }

func (e *AbortError) Error() string { return "select: safety brake tripped" }

// Walk runs the select-stage limiter over idx in weight-descending order
// (ties broken by rest_fp then site_fp), returning one Decision per
// record in the same order idx.Records is given. now is used for the
// zombie-expire and redirect-to-zombie checks.
func Walk(idx *urlindex.Index, sites *site.Table, cfg *cmn.Config, limitsOf func(*site.Site) Limits,
	counters *Counters, now uint32, log StateLogger) ([]Decision, error) {

	order := make([]int, len(idx.Records))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := idx.Records[order[a]], idx.Records[order[b]]
		if ra.Weight != rb.Weight {
			return ra.Weight > rb.Weight
		}
		if c := footprint.CmpRest(ra.FP.Rest, rb.FP.Rest); c != 0 {
			return c < 0
		}
		return footprint.CmpSite(ra.FP.Site, rb.FP.Site) < 0
	})

	decisions := make([]Decision, len(idx.Records))
	lostGathered := 0

	for _, i := range order {
		rec := idx.Records[i]
		s := siteByFootprint(sites, rec.FP.Site)
		d := decideOne(rec, s, cfg, limitsOf, counters, now)
		decisions[i] = d

		if s != nil {
			updateSiteCounters(s, d.Action)
		}
		if d.Action != cmn.ActionOK {
			lostGathered++
		}
		if s != nil && s.Monitor && log != nil {
			log(rec.FP, d.Action, d.Cause)
		}
	}

	if lostGathered > cfg.Limits.SafetyBrakeLimit {
		glog.Errorf("select: safety brake tripped, lost=%d limit=%d", lostGathered, cfg.Limits.SafetyBrakeLimit)
		return decisions, &AbortError{Lost: lostGathered}
	}
	return decisions, nil
}

func decideOne(rec *urlindex.Record, s *site.Site, cfg *cmn.Config, limitsOf func(*site.Site) Limits,
	counters *Counters, now uint32) Decision {

	// Step 1: effective weight.
	weight := int64(rec.Weight)
	if rec.HasFlags(cmn.Sacred) {
		weight += 1_000_000
	}
	if s != nil && s.SelectBonus != 0 {
		weight += int64(s.SelectBonus)
	}
	if rec.Type == cmn.TypeOK {
		weight += int64(cfg.Limits.SelectHysteresis)
	}

	// Step 4/5: zombie handling takes precedence over the soft/hard walk.
	if rec.Type == cmn.TypeZombie {
		expired := now-rec.LastSeen > uint32(cfg.Zombie.Expire.Seconds())
		if expired {
			return Decision{Action: cmn.ActionDiscard, Cause: cmn.CauseNone, EffectiveWeight: weight, Zombie: true}
		}
		return Decision{Action: cmn.ActionSleep, Cause: cmn.CauseNone, EffectiveWeight: weight, Zombie: true}
	}
	if rec.Type == cmn.TypeError && now-rec.LastSeen > uint32(cfg.Zombie.RedirectToZombieTimeout.Seconds()) {
		rec.Type = cmn.TypeZombie
		return Decision{Action: cmn.ActionSleep, Cause: cmn.CauseNone, EffectiveWeight: weight, Zombie: true}
	}

	// Step 2: soft/hard limit evaluation.
	lim := Limits{}
	if limitsOf != nil {
		lim = limitsOf(s)
	}
	action, cause := cmn.ActionOK, cmn.CauseNone
	if exceeds(lim.HardSiteLimit, s) || exceeds(lim.HardSectionLimit, s) ||
		exceeds(lim.HardSpaceLimit, s) || exceeds(lim.HardAreaLimit, s) {
		action, cause = cmn.ActionDiscard, worstCause(lim, true)
	} else if exceeds(lim.SoftSiteLimit, s) {
		action, cause = cmn.ActionSleep, cmn.CauseSite
	} else if exceeds(lim.SoftSectionLimit, s) {
		action, cause = cmn.ActionSleep, cmn.CauseSection
	} else if exceeds(lim.SoftSpaceLimit, s) {
		action, cause = cmn.ActionSleep, cmn.CauseSpace
	} else if exceeds(lim.SoftAreaLimit, s) {
		action, cause = cmn.ActionSleep, cmn.CauseArea
	}

	freq := uint8(1)
	if action == cmn.ActionOK {
		freq = refreshFrequency(rec, s, cfg, counters)
	}

	return Decision{Action: action, Cause: cause, EffectiveWeight: weight, RefreshFreq: freq}
}

// exceeds treats a non-positive limit as "no limit configured".
func exceeds(limit int, s *site.Site) bool {
	if s == nil || limit <= 0 {
		return false
	}
	return s.NumActive >= limit
}

func worstCause(lim Limits, hard bool) int {
	switch {
	case lim.HardSiteLimit > 0:
		return cmn.CauseSite
	case lim.HardSectionLimit > 0:
		return cmn.CauseSection
	case lim.HardSpaceLimit > 0:
		return cmn.CauseSpace
	default:
		return cmn.CauseArea
	}
}

// refreshFrequency implements step 3: per-qkey frequency allocation
// gated by the global and per-qkey perf counters, with the robots/err/EQ
// overrides applied last as clamps on the schema's frequency-table
// index (spec §8 scenario 2: "refresh_freq <= schema.frequencies[min(24,
// num)]"), not on the resolved frequency value itself.
func refreshFrequency(rec *urlindex.Record, s *site.Site, cfg *cmn.Config, counters *Counters) uint8 {
	var (
		schema cmn.RefreshSchema
		idx    = -1
	)
	if counters != nil && s != nil && counters.PerfFreqTotal < counters.PerfFreqLimit {
		qk := s.Qkey(0)
		if counters.QkeyTotals[qk] < counters.QkeyLimits[qk] {
			if sc, ok := cfg.Refresh.Schemas[s.RefreshSchema]; ok {
				schema = sc
				idx = maxFreqIndex(schema, rec)
			}
		}
	}
	if idx < 0 || idx >= len(schema.Frequencies) {
		return 1
	}
	// Robots and EQ pages need fetching more often, so their index is
	// clamped down toward 0 (MIN); erroneous URLs are backed off, so
	// theirs is clamped up toward the schema's slowest entry (MAX).
	if rec.HasFlags(cmn.USFRobots) && idx > cfg.Refresh.MinRobotsFrequency {
		idx = cfg.Refresh.MinRobotsFrequency
	}
	if rec.Type == cmn.TypeError && idx < cfg.Refresh.MaxErrFrequency {
		idx = cfg.Refresh.MaxErrFrequency
	}
	if rec.HasFlags(cmn.USFNeededByEQ) && idx > cfg.Refresh.MinEQFrequency {
		idx = cfg.Refresh.MinEQFrequency
	}
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schema.Frequencies) {
		idx = len(schema.Frequencies) - 1
	}
	return uint8(schema.Frequencies[idx])
}

// maxFreqIndex finds the schema index with the greatest frequency among
// those with a positive allocation budget, stability-capped by the
// record's stable_time; returns -1 if none qualify.
func maxFreqIndex(schema cmn.RefreshSchema, rec *urlindex.Record) int {
	ceiling := int(rec.StableTime)
	if ceiling <= 0 || ceiling >= schema.Num {
		ceiling = schema.Num - 1
	}
	best := -1
	for i := 0; i <= ceiling && i < len(schema.Frequencies); i++ {
		if i < len(schema.Allocations) && schema.Allocations[i] <= 0 {
			continue
		}
		if best < 0 || schema.Frequencies[i] > schema.Frequencies[best] {
			best = i
		}
	}
	return best
}

func updateSiteCounters(s *site.Site, action int) {
	switch action {
	case cmn.ActionOK:
		s.NumActive++
	case cmn.ActionSleep:
		s.NumInactive++
	case cmn.ActionDiscard:
		s.NumInactive++
	}
}

func siteByFootprint(t *site.Table, fp footprint.SiteFP) *site.Site {
	if t == nil {
		return nil
	}
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
