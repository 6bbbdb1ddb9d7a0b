package equiv

import (
	"sort"
	"testing"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/site"
	"github.com/holmesengine/shepherd/urlindex"
)

func TestPassThroughKeepsOwnFootprintAndNotSacred(t *testing.T) {
	fp, _ := footprint.OfString("http://www.example.com/")
	got, sacred := PassThrough{}.Resolve(fp, nil)
	if got != fp.Site {
		t.Fatalf("expected norm_fp to equal site_fp, got %+v want %+v", got, fp.Site)
	}
	if sacred {
		t.Fatal("pass-through resolver should never mark a record sacred")
	}
}

func TestRunFailsWhenNeededByEQSiteMissingRoot(t *testing.T) {
	fp, _ := footprint.OfString("http://www.example.com/deep")
	sites := site.NewTable()
	sites.Put(&site.Site{FP: fp.Site})
	idx := &urlindex.Index{Records: []*urlindex.Record{
		{FP: fp, Flags: cmn.USFNeededByEQ},
	}}
	if err := Run(idx, sites, PassThrough{}); err == nil {
		t.Fatal("expected an error when a NEEDED_BY_EQ site has no root URL")
	}
}

func TestRunSucceedsWhenRootPresent(t *testing.T) {
	root, _ := footprint.OfString("http://www.example.com/")
	deep, _ := footprint.OfString("http://www.example.com/deep")
	sites := site.NewTable()
	sites.Put(&site.Site{FP: root.Site})

	idx := &urlindex.Index{Records: []*urlindex.Record{
		{FP: root},
		{FP: deep, Flags: cmn.USFNeededByEQ},
	}}
	sort.Slice(idx.Records, func(i, j int) bool {
		return footprint.Cmp(idx.Records[i].FP, idx.Records[j].FP) < 0
	})
	if err := Run(idx, sites, PassThrough{}); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}
