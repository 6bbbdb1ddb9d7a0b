package urldb

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/holmesengine/shepherd/footprint"
)

func sampleRecord(t *testing.T, raw string, oid uint32) Record {
	t.Helper()
	fp, err := footprint.OfString(raw)
	if err != nil {
		t.Fatalf("OfString(%q): %v", raw, err)
	}
	return Record{Oid: oid, FP: fp, URL: raw}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := sampleRecord(t, "http://example.com/a/b?x=1", 0)
	buf := Encode(nil, rec)
	if len(buf)%4 != 0 {
		t.Fatalf("expected 4-byte aligned record, got %d bytes", len(buf))
	}

	got, err := Decode(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Oid != rec.Oid || got.URL != rec.URL || !got.FP.Equal(rec.FP) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, rec)
	}
}

func TestEncodeDecodeZeroOidAndFootprint(t *testing.T) {
	// oid=0 and a footprint with zero words exercise the high-bit masking
	// path the most: every maskable word starts out zero.
	rec := Record{Oid: 0, FP: footprint.FP{}, URL: "http://z/"}
	buf := Encode(nil, rec)
	got, err := Decode(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Oid != 0 || !got.FP.Equal(footprint.FP{}) || got.URL != rec.URL {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestDecodeRejectsBadSentinel(t *testing.T) {
	buf := make([]byte, recordFixedSize)
	buf[0] = 1 // sentinel must be zero
	if _, err := Decode(bytes.NewReader(buf)); err == nil {
		t.Fatal("expected an error for a nonzero leading sentinel")
	}
}

func TestJournalAppendAndScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urldb")
	j, err := Create(path, 1700000000)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	recs := []Record{
		sampleRecord(t, "http://a.example/1", 16),
		sampleRecord(t, "http://b.example/2", 32),
		sampleRecord(t, "http://a.example/1", 48), // updated oid, same footprint
	}
	for _, rec := range recs {
		if err := j.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	scanned, err := ScanFile(path)
	if err != nil {
		t.Fatalf("ScanFile: %v", err)
	}
	if len(scanned) != len(recs) {
		t.Fatalf("expected %d records, got %d", len(recs), len(scanned))
	}

	latest := Latest(scanned)
	if len(latest) != 2 {
		t.Fatalf("expected 2 de-duplicated records, got %d", len(latest))
	}
	var foundA bool
	for _, rec := range latest {
		if rec.URL == "http://a.example/1" {
			foundA = true
			if rec.Oid != 48 {
				t.Fatalf("expected the most recent oid 48 to win, got %d", rec.Oid)
			}
		}
	}
	if !foundA {
		t.Fatal("expected the deduplicated a.example record to survive")
	}
}

func TestLatestDropsTombstones(t *testing.T) {
	rec := sampleRecord(t, "http://gone.example/", 7)
	tombstone := rec
	tombstone.Flags |= FlagDeleted

	latest := Latest([]Record{rec, tombstone})
	if len(latest) != 0 {
		t.Fatalf("expected the tombstoned record to be dropped, got %+v", latest)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urldb")
	if err := os.WriteFile(path, make([]byte, HeaderSize), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected an error opening a file with no magic")
	}
}
