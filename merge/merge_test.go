package merge

import (
	"testing"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/contrib"
	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/site"
	"github.com/holmesengine/shepherd/urlindex"
)

// TestRunEmptyStateProducesOneNewRecord mirrors spec scenario 1.
func TestRunEmptyStateProducesOneNewRecord(t *testing.T) {
	fp, err := footprint.OfString("http://www.example.com/")
	if err != nil {
		t.Fatalf("footprint: %v", err)
	}
	sites := site.NewTable()
	sites.Put(&site.Site{FP: fp.Site, Host: "www.example.com", Proto: "http", Port: 80})

	entries := []*contrib.Entry{{FP: fp, Weight: 100, URL: "http://www.example.com/"}}
	idx := Run(&urlindex.Index{}, entries, sites, false, nil)

	if len(idx.Records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(idx.Records))
	}
	rec := idx.Records[0]
	if rec.Type != cmn.TypeNew {
		t.Fatalf("expected TypeNew, got %d", rec.Type)
	}
	if !rec.HasFlags(cmn.USFContrib) {
		t.Fatal("expected the CONTRIB flag to be set")
	}
	if rec.FP != fp {
		t.Fatalf("expected footprint %+v, got %+v", fp, rec.FP)
	}
}

func TestAutoGoRootSynthesizesRootCandidate(t *testing.T) {
	fp, _ := footprint.OfString("http://www.example.com/deep/page")
	sites := site.NewTable()
	sites.Put(&site.Site{FP: fp.Site, Host: "www.example.com", Proto: "http", Port: 80})

	entries := []*contrib.Entry{{FP: fp, Weight: 10, URL: "http://www.example.com/deep/page"}}
	idx := Run(&urlindex.Index{}, entries, sites, true, nil)

	if len(idx.Records) != 2 {
		t.Fatalf("expected the original plus a synthesised root, got %d", len(idx.Records))
	}
	foundRoot := false
	for _, r := range idx.Records {
		if r.FP.Rest == footprint.Root && r.HasFlags(cmn.USFNeededByEQ) {
			foundRoot = true
		}
	}
	if !foundRoot {
		t.Fatal("expected a synthesised root candidate with NEEDED_BY_EQ set")
	}
}

func TestDuplicateNonContribKeepsFirstAndDropsRest(t *testing.T) {
	fp, _ := footprint.OfString("http://www.example.com/")
	sites := site.NewTable()
	sites.Put(&site.Site{FP: fp.Site, Host: "www.example.com", Proto: "http", Port: 80, Monitor: true})

	existing := &urlindex.Index{Records: []*urlindex.Record{
		{FP: fp, Type: cmn.TypeOK, Weight: 50},
		{FP: fp, Type: cmn.TypeOK, Weight: 10},
	}}

	var dropped int
	idx := Run(existing, nil, sites, false, func(footprint.FP, string) { dropped++ })

	if len(idx.Records) != 1 {
		t.Fatalf("expected the duplicate to be dropped, got %d records", len(idx.Records))
	}
	if dropped != 1 {
		t.Fatalf("expected one state-log row for the drop, got %d", dropped)
	}
}

func TestSacredContributionSurvivesAlongsideNonContrib(t *testing.T) {
	fp, _ := footprint.OfString("http://www.example.com/robots.txt")
	sites := site.NewTable()
	sites.Put(&site.Site{FP: fp.Site, Host: "www.example.com", Proto: "http", Port: 80})

	existing := &urlindex.Index{Records: []*urlindex.Record{
		{FP: fp, Type: cmn.TypeOK, Weight: 50, Flags: cmn.USFRobots},
	}}
	entries := []*contrib.Entry{{FP: fp, Weight: 5, Flags: cmn.USFInit}}

	idx := Run(existing, entries, sites, false, nil)
	if len(idx.Records) != 2 {
		t.Fatalf("expected the sacred contribution to survive alongside the non-contrib record, got %d records", len(idx.Records))
	}
}
