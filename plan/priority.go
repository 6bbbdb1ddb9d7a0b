// Package plan implements the planner (spec §4.5): it turns a sorted
// URL index and site table into a per-site plan of what to fetch this
// cycle, via a fixed 32-bit priority formula (`plan_gather_p`) and a
// three-budget greedy walk.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package plan

import (
	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/urlindex"
)

// Priority bands, all fixed per spec §4.5's rule table. Values are
// expressed as plain uint32 arithmetic, matching the original's 32-bit
// wrapping semantics (spec §9 resolves unqualified time/priority
// arithmetic as unsigned 32-bit).
const (
	bandRegather    uint32 = 4_000_000_000
	regatherAgeCap  uint32 = 294_000_000
	bandNewInitial  uint32 = 1_400_000_000
	bandNewOther    uint32 = 1_200_000_000
	newAgeNumerator uint32 = 5_000_000
	fourDays        uint32 = 4 * 24 * 3600
	bandOverAged    uint32 = 1_900_000_000
	overAgedAgeCap  uint32 = 90_000_000
	bandRefreshLo   uint32 = 1_000_000_000
	bandRefreshHi   uint32 = 1_100_000_000
	bandRefreshLo2  uint32 = 1_500_000_000
	bandRefreshHi2  uint32 = 1_600_000_000
	anticipatedCap  uint32 = 90_000_000
	siteBonusCap    uint32 = 2_000_000_000
)

func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// GatherState is the per-record context plan_gather_p needs: age, whether
// it is the record's first evaluation this cycle ("initial"), the site's
// configured refresh_cycle, and the record itself.
type GatherState struct {
	Rec            *urlindex.Record
	Age            uint32 // now - last_seen, wrapping uint32 subtraction
	Initial        bool
	RefreshCycle   uint32 // seconds
	SiteHasSkey    bool
	SiteBonus      uint32 // 0..siteBonusCap, applied only if SiteHasSkey
	AnticipatedAge uint32
}

// GatherResult is plan_gather_p's output: the 32-bit priority plus
// whatever derived flags the rule that produced it sets on the plan
// entry (spec §3.5's REFRESH/ANTICIPATED/OVER_AGED/SACRISIMMUS/...).
type GatherResult struct {
	Priority uint32
	Flags    uint16
	Skip     bool
}

// GatherP evaluates plan_gather_p(state, now) for one index record,
// spec §4.5 step 2's rule table, applied in the table's own precedence
// order (first matching rule wins).
func GatherP(st GatherState) GatherResult {
	rec := st.Rec

	if rec.HasFlags(cmn.USFRegather) {
		age := clampU32(st.Age, 0, regatherAgeCap)
		return GatherResult{Priority: bandRegather + age}
	}

	if rec.Type == cmn.TypeNew {
		twiceCycle := 2 * st.RefreshCycle
		age := clampU32(st.Age, 0, twiceCycle)
		denom := twiceCycle + fourDays
		var ageTerm uint32
		if denom > 0 {
			ageTerm = (age * newAgeNumerator) / denom
		}
		base := bandNewOther
		if st.Initial {
			base = bandNewInitial
		}
		prio := uint32(rec.Weight)*100_000 + ageTerm + base
		return applySiteBonus(st, GatherResult{Priority: prio, Flags: cmn.PlanRefresh})
	}

	overAgedThreshold := st.RefreshCycle + st.RefreshCycle/2 // 1.5 * refresh_cycle
	if st.Age > overAgedThreshold {
		age := st.Age
		if age > overAgedAgeCap {
			age = overAgedAgeCap
		}
		return applySiteBonus(st, GatherResult{Priority: bandOverAged + age, Flags: cmn.PlanOverAged | cmn.PlanRefresh})
	}

	freqAge := uint32(refreshFreqOf(rec)) * st.Age
	if st.RefreshCycle > 0 && freqAge >= st.RefreshCycle {
		// Two refresh tiers keyed by how far past the per-record refresh
		// interval the record already is.
		var prio uint32
		if freqAge >= 2*st.RefreshCycle {
			over := freqAge - 2*st.RefreshCycle
			prio = bandRefreshLo2 + clampU32(over, 0, bandRefreshHi2-bandRefreshLo2)
		} else {
			over := freqAge - st.RefreshCycle
			prio = bandRefreshLo + clampU32(over, 0, bandRefreshHi-bandRefreshLo)
		}
		return applySiteBonus(st, GatherResult{Priority: prio, Flags: cmn.PlanRefresh})
	}

	fage2 := freq2Of(rec) * st.Age
	if st.AnticipatedAge > 0 && fage2 >= st.AnticipatedAge {
		prio := clampU32(fage2/8, 0, anticipatedCap)
		return applySiteBonus(st, GatherResult{Priority: prio, Flags: cmn.PlanAnticipated})
	}

	return GatherResult{Skip: true}
}

func refreshFreqOf(rec *urlindex.Record) uint8 {
	if rec.RefreshFreq == 0 {
		return 1
	}
	return rec.RefreshFreq
}

// freq2Of is the coarser, freq/3-scaled age multiplier the anticipated-
// refresh band compares against anticipated_refresh_age: priority rises
// with age, so records closer to being due outrank freshly-seen ones.
func freq2Of(rec *urlindex.Record) uint32 {
	freq := refreshFreqOf(rec)
	if freq > 3 {
		return uint32(freq) / 3
	}
	return 1
}

func applySiteBonus(st GatherState, res GatherResult) GatherResult {
	if st.SiteHasSkey {
		bonus := clampU32(st.SiteBonus, 0, siteBonusCap)
		res.Priority += bonus
	}
	return res
}
