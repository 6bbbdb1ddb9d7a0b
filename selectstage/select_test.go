package selectstage

import (
	"testing"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/site"
	"github.com/holmesengine/shepherd/urlindex"
)

func noLimits(*site.Site) Limits { return Limits{} }

func TestWalkAllowsRecordUnderNoLimits(t *testing.T) {
	fp, _ := footprint.OfString("http://www.example.com/")
	sites := site.NewTable()
	sites.Put(&site.Site{FP: fp.Site, Host: "www.example.com"})
	idx := &urlindex.Index{Records: []*urlindex.Record{{FP: fp, Type: cmn.TypeNew, Weight: 10}}}

	cfg := cmn.Default()
	decisions, err := Walk(idx, sites, cfg, noLimits, &Counters{QkeyTotals: map[site.Qkey]int{}, QkeyLimits: map[site.Qkey]int{}}, 1000, nil)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if decisions[0].Action != cmn.ActionOK {
		t.Fatalf("expected ActionOK, got %d", decisions[0].Action)
	}
}

func TestWalkDiscardsOverHardSiteLimit(t *testing.T) {
	fp, _ := footprint.OfString("http://www.example.com/")
	sites := site.NewTable()
	s := &site.Site{FP: fp.Site, Host: "www.example.com", NumActive: 5}
	sites.Put(s)
	idx := &urlindex.Index{Records: []*urlindex.Record{{FP: fp, Type: cmn.TypeNew, Weight: 10}}}

	cfg := cmn.Default()
	limitsOf := func(*site.Site) Limits { return Limits{HardSiteLimit: 3} }
	decisions, err := Walk(idx, sites, cfg, limitsOf, &Counters{}, 1000, nil)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if decisions[0].Action != cmn.ActionDiscard {
		t.Fatalf("expected ActionDiscard over a tripped hard limit, got %d", decisions[0].Action)
	}
}

func TestWalkExpiresOldZombie(t *testing.T) {
	fp, _ := footprint.OfString("http://www.example.com/gone")
	sites := site.NewTable()
	sites.Put(&site.Site{FP: fp.Site})
	idx := &urlindex.Index{Records: []*urlindex.Record{
		{FP: fp, Type: cmn.TypeZombie, LastSeen: 0},
	}}
	cfg := cmn.Default()
	now := uint32(cfg.Zombie.Expire.Seconds()) + 1000
	decisions, err := Walk(idx, sites, cfg, noLimits, &Counters{}, now, nil)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if decisions[0].Action != cmn.ActionDiscard {
		t.Fatalf("expected an expired zombie to be discarded, got %d", decisions[0].Action)
	}
}

func TestWalkTripsSafetyBrake(t *testing.T) {
	fp, _ := footprint.OfString("http://www.example.com/")
	sites := site.NewTable()
	sites.Put(&site.Site{FP: fp.Site})
	idx := &urlindex.Index{Records: []*urlindex.Record{
		{FP: fp, Type: cmn.TypeZombie, LastSeen: 0},
	}}
	cfg := cmn.Default()
	cfg.Limits.SafetyBrakeLimit = 0
	now := uint32(cfg.Zombie.Expire.Seconds()) + 1000
	_, err := Walk(idx, sites, cfg, noLimits, &Counters{}, now, nil)
	if err == nil {
		t.Fatal("expected the safety brake to trip")
	}
	if _, ok := err.(*AbortError); !ok {
		t.Fatalf("expected *AbortError, got %T", err)
	}
}
