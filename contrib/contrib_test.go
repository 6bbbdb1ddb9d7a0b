package contrib

import (
	"bytes"
	"net/url"
	"testing"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/footprint"
)

func TestEntryEncodeDecodeRoundTrip(t *testing.T) {
	fp, err := footprint.OfString("http://www.example.com/a/b?q=1")
	if err != nil {
		t.Fatalf("footprint: %v", err)
	}
	e := &Entry{
		FP:      fp,
		Area:    3,
		Weight:  77,
		Section: 9,
		Flags:   cmn.USFContrib,
		URL:     "http://www.example.com/a/b?q=1",
	}
	var buf bytes.Buffer
	if err := e.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if buf.Len()%16 != 0 {
		t.Fatalf("encoded entry not 16-byte aligned: %d bytes", buf.Len())
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.URL != e.URL || got.Weight != e.Weight || got.Area != e.Area || got.Section != e.Section || got.Flags != e.Flags {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, e)
	}
	if got.FP != e.FP {
		t.Fatalf("footprint mismatch: got %+v want %+v", got.FP, e.FP)
	}
}

func TestMultipleEntriesAreIndependentlyDecodable(t *testing.T) {
	var buf bytes.Buffer
	urls := []string{"http://a.example.com/", "http://b.example.com/longer/path"}
	for _, u := range urls {
		fp, _ := footprint.OfString(u)
		if err := (&Entry{FP: fp, URL: u}).Encode(&buf); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	for _, want := range urls {
		got, err := Decode(&buf)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.URL != want {
			t.Fatalf("got URL %q, want %q", got.URL, want)
		}
	}
}

type acceptAllFilter struct{}

func (acceptAllFilter) Verify(u *url.URL, _, _ uint16, _ map[string]string, _ bool) (bool, *url.URL, int, string) {
	return true, nil, 0, ""
}

type rejectingFilter struct{}

func (rejectingFilter) Verify(u *url.URL, _, _ uint16, _ map[string]string, _ bool) (bool, *url.URL, int, string) {
	return false, nil, 42, "binary content"
}

func TestVerifyContribAcceptsAndCanonicalizes(t *testing.T) {
	canon, code, err := VerifyContrib(acceptAllFilter{}, "http://WWW.Example.com", 0, 0, nil, false)
	if err != nil {
		t.Fatalf("VerifyContrib: %v", err)
	}
	if code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if canon.Path != "/" {
		t.Fatalf("expected default path '/', got %q", canon.Path)
	}
}

func TestVerifyContribRejects(t *testing.T) {
	_, code, err := VerifyContrib(rejectingFilter{}, "http://www.example.com/x", 0, 0, nil, false)
	if err == nil {
		t.Fatal("expected an error for a rejected contribution")
	}
	if code != 42 {
		t.Fatalf("code = %d, want 42", code)
	}
}

func TestVerifyContribRejectsMalformedURL(t *testing.T) {
	_, _, err := VerifyContrib(acceptAllFilter{}, "not a url at all", 0, 0, nil, false)
	if err == nil {
		t.Fatal("expected an error for a malformed URL")
	}
}

func TestDedupCacheDetectsRepeat(t *testing.T) {
	dc, err := NewDedupCache(0, 1000)
	if err != nil {
		t.Fatalf("NewDedupCache: %v", err)
	}
	defer dc.Close()

	seen, err := dc.SeenOrAdd("http://www.example.com/x")
	if err != nil {
		t.Fatalf("SeenOrAdd: %v", err)
	}
	if seen {
		t.Fatal("first insertion should not be reported as already seen")
	}
	seen, err = dc.SeenOrAdd("http://www.example.com/x")
	if err != nil {
		t.Fatalf("SeenOrAdd: %v", err)
	}
	if !seen {
		t.Fatal("second insertion of the same URL should be reported as seen")
	}
}

func TestDedupCacheFlushVisitsEveryKeyThenResets(t *testing.T) {
	dc, err := NewDedupCache(0, 1000)
	if err != nil {
		t.Fatalf("NewDedupCache: %v", err)
	}
	defer dc.Close()

	urls := []string{"http://a.example.com/", "http://b.example.com/", "http://c.example.com/"}
	for _, u := range urls {
		if _, err := dc.SeenOrAdd(u); err != nil {
			t.Fatalf("SeenOrAdd: %v", err)
		}
	}
	visited := map[string]bool{}
	if err := dc.Flush(func(u string) error {
		visited[u] = true
		return nil
	}); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	for _, u := range urls {
		if !visited[u] {
			t.Fatalf("Flush did not visit %q", u)
		}
	}

	seen, err := dc.SeenOrAdd(urls[0])
	if err != nil {
		t.Fatalf("SeenOrAdd after flush: %v", err)
	}
	if seen {
		t.Fatal("cache should be empty after Flush")
	}
}

func TestShouldFlushRespectsCapacity(t *testing.T) {
	dc, err := NewDedupCache(8, 1000)
	if err != nil {
		t.Fatalf("NewDedupCache: %v", err)
	}
	defer dc.Close()
	if dc.ShouldFlush() {
		t.Fatal("empty cache should not request a flush")
	}
	if _, err := dc.SeenOrAdd("http://www.example.com/longer-than-8-bytes"); err != nil {
		t.Fatalf("SeenOrAdd: %v", err)
	}
	if !dc.ShouldFlush() {
		t.Fatal("cache past its byte cap should request a flush")
	}
}
