/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package plan

import (
	"math/rand"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/site"
	"github.com/holmesengine/shepherd/urlindex"
)

// Run executes the planner end to end (spec §4.5 steps 1-5): scan idx
// against sites, score every record with GatherP, then hand the scored
// candidates to Build. now is UTC seconds since epoch; cfg supplies the
// budgets and refresh_cycle. Step 6 (optional plan-stats sidecar) is the
// caller's responsibility once Run returns, since it is purely
// observational and has no bearing on the blocks themselves.
func Run(idx *urlindex.Index, sites *site.Table, cfg *cmn.Config, now uint32, rng *rand.Rand) []Block {
	// Step 1: reset per-site skey to UNRESOLVED, then adopt SKEY records;
	// remember robots OIDs; accumulate active-URL counts.
	robotOid := map[uint32]uint32{} // keyed by site_fp hash
	sites.Range(func(s *site.Site) bool {
		s.Skey = cmn.SkeyUnresolvedPrefix
		return true
	})
	for _, rec := range idx.Records {
		if rec.Type == cmn.TypeSkey {
			if s := siteByFootprint(sites, rec.FP.Site); s != nil {
				s.Skey = rec.Oid
			}
		}
		if rec.HasFlags(cmn.USFRobots) && rec.FP.Rest == footprint.RobotsTxt {
			robotOid[rec.FP.Site[0]] = rec.Oid
		}
	}

	var cands []candidate
	refreshCycle := uint32(cfg.Timeout.ReapCycle.Seconds())
	anticipated := uint32(cfg.Refresh.AnticipatedRefAge.Seconds())

	for _, rec := range idx.Records {
		if rec.Type == cmn.TypeSkey {
			continue
		}
		s := siteByFootprint(sites, rec.FP.Site)
		if s == nil || s.Rejected {
			continue
		}
		age := now - rec.LastSeen
		st := GatherState{
			Rec:            rec,
			Age:            age,
			Initial:        rec.Type == cmn.TypeNew,
			RefreshCycle:   refreshCycle,
			SiteHasSkey:    !site.Qkey(s.Skey).IsUnresolved(),
			SiteBonus:      uint32(s.SelectBonus),
			AnticipatedAge: anticipated,
		}
		res := GatherP(st)
		if res.Skip {
			continue
		}
		cands = append(cands, candidate{
			rec: &scoredRecord{
				FP: rec.FP, Oid: rec.Oid, Weight: rec.Weight, Retry: rec.RetryCount,
				Section: rec.Section, Area: rec.Area, Site: s,
			},
			priority: res.Priority,
			flags:    res.Flags,
		})
	}

	budgets := Budgets{
		Global:       cfg.Reap.EstimatedRawPerf * cfg.Timeout.ReapCycle.Seconds() * cfg.Reap.ReapOptimismFactor,
		PerQkey:      map[site.Qkey]float64{},
		PerAreaLimit: map[uint16]float64{},
	}
	for _, sc := range cfg.Sections {
		budgets.PerAreaLimit[uint16(sc.Section)] = sc.PlanLimit
	}

	maxConnOf := func(s *site.Site) int { return s.MaxConn }
	needsRobots := func(s *site.Site) bool {
		return site.Qkey(s.Skey).IsUnresolved() || robotOid[s.FP[0]] == 0
	}
	robotOidOf := func(s *site.Site) uint32 { return robotOid[s.FP[0]] }
	delayOf := func(s *site.Site) uint32 { return s.Delay() }

	return Build(cands, budgets, maxConnOf, needsRobots, robotOidOf, delayOf, rng)
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
