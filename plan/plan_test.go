package plan

import (
	"math/rand"
	"testing"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/site"
	"github.com/holmesengine/shepherd/urlindex"
)

func recWithAge(age uint32, typ uint8, flags uint16, weight uint8, freq uint8) *urlindex.Record {
	return &urlindex.Record{
		LastSeen:    1_000_000 - age,
		Type:        typ,
		Flags:       flags,
		Weight:      weight,
		RefreshFreq: freq,
	}
}

func baseState(rec *urlindex.Record, age uint32) GatherState {
	return GatherState{
		Rec:          rec,
		Age:          age,
		RefreshCycle: 21600, // 6h
	}
}

func TestGatherPRegatherBand(t *testing.T) {
	rec := recWithAge(100, cmn.TypeOK, cmn.USFRegather, 10, 1)
	res := GatherP(baseState(rec, 100))
	if res.Skip {
		t.Fatal("regather record should never be skipped")
	}
	if res.Priority < bandRegather {
		t.Fatalf("priority %d should be at or above the regather band %d", res.Priority, bandRegather)
	}
}

func TestGatherPNewRecordInitialOutranksNonInitial(t *testing.T) {
	rec := recWithAge(0, cmn.TypeNew, 0, 5, 1)
	st := baseState(rec, 0)
	st.Initial = true
	initial := GatherP(st)

	st.Initial = false
	nonInitial := GatherP(st)

	if initial.Priority <= nonInitial.Priority {
		t.Fatalf("initial NEW priority %d should exceed non-initial %d", initial.Priority, nonInitial.Priority)
	}
	if initial.Flags&cmn.PlanRefresh == 0 {
		t.Fatal("NEW records should be marked REFRESH")
	}
}

func TestGatherPOverAgedBeatsFreshRecord(t *testing.T) {
	rec := recWithAge(0, cmn.TypeOK, 0, 5, 1)
	old := baseState(rec, 21600*2) // well past 1.5x refresh_cycle
	overAged := GatherP(old)
	if overAged.Flags&cmn.PlanOverAged == 0 {
		t.Fatalf("expected OVER_AGED flag, got flags=%#x", overAged.Flags)
	}

	fresh := baseState(rec, 10)
	freshRes := GatherP(fresh)
	if !freshRes.Skip && overAged.Priority <= freshRes.Priority {
		t.Fatalf("over-aged priority %d should exceed a fresh record's %d", overAged.Priority, freshRes.Priority)
	}
}

func TestGatherPSiteBonusOnlyAppliesWithRealSkey(t *testing.T) {
	rec := recWithAge(0, cmn.TypeNew, 0, 5, 1)
	st := baseState(rec, 0)
	st.SiteBonus = 500_000_000

	st.SiteHasSkey = false
	withoutBonus := GatherP(st)

	st.SiteHasSkey = true
	withBonus := GatherP(st)

	if withBonus.Priority-withoutBonus.Priority != st.SiteBonus {
		t.Fatalf("site bonus not applied as expected: with=%d without=%d bonus=%d",
			withBonus.Priority, withoutBonus.Priority, st.SiteBonus)
	}
}

func TestBuildOnEmptyCandidatesYieldsNoBlocks(t *testing.T) {
	budgets := Budgets{Global: 0}
	blocks := Build(nil, budgets, func(*site.Site) int { return 1 },
		func(*site.Site) bool { return false },
		func(*site.Site) uint32 { return 0 },
		func(*site.Site) uint32 { return 0 },
		rand.New(rand.NewSource(1)))
	if len(blocks) != 0 {
		t.Fatalf("expected no blocks with zero candidates, got %d", len(blocks))
	}
}
