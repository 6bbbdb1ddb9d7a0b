package sortstage

import (
	"testing"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/urlindex"
)

func TestRunSortsAndSetsSortedFlag(t *testing.T) {
	fpA, _ := footprint.OfString("http://b.example.com/")
	fpB, _ := footprint.OfString("http://a.example.com/")

	idx := &urlindex.Index{Records: []*urlindex.Record{
		{FP: fpA, Type: cmn.TypeOK},
		{FP: fpB, Type: cmn.TypeOK},
	}}
	params := &Params{}
	out := Run(idx, params)

	if !urlindex.IsSorted(out) {
		t.Fatal("expected the output index to be footprint-sorted")
	}
	if params.Flags&cmn.ParamsFlagSort == 0 {
		t.Fatal("expected the SORTED flag to be set")
	}
}

func TestRunDedupsSharedFootprints(t *testing.T) {
	fp, _ := footprint.OfString("http://www.example.com/")
	idx := &urlindex.Index{Records: []*urlindex.Record{
		{FP: fp, Type: cmn.TypeOK},
		{FP: fp, Type: cmn.TypeOK},
	}}
	out := Run(idx, &Params{})
	if len(out.Records) != 1 {
		t.Fatalf("expected duplicates at the same footprint to collapse to one, got %d", len(out.Records))
	}
}
