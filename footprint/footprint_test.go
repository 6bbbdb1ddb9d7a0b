/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package footprint

import "testing"

func TestDeterminism(t *testing.T) {
	a, err := OfString("http://www.example.com/a/b?c=1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := OfString("http://www.example.com/a/b?c=1")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(b) {
		t.Fatalf("footprint not deterministic: %+v != %+v", a, b)
	}
}

func TestSameSiteDifferentPath(t *testing.T) {
	a, _ := OfString("http://www.example.com/a")
	b, _ := OfString("http://www.example.com/b")
	if a.Site != b.Site {
		t.Fatalf("same site, same host:port should share site_fp")
	}
	if a.Rest == b.Rest {
		t.Fatalf("different paths must not collide")
	}
}

func TestDifferentSite(t *testing.T) {
	a, _ := OfString("http://www.example.com/")
	b, _ := OfString("http://other.example.com/")
	if a.Site == b.Site {
		t.Fatalf("different hosts must not share site_fp")
	}
}

func TestOrderTotalAndConsistent(t *testing.T) {
	urls := []string{
		"http://a.example.com/",
		"http://a.example.com/x",
		"http://b.example.com/",
		"http://b.example.com/y",
	}
	fps := make([]FP, len(urls))
	for i, u := range urls {
		fp, err := OfString(u)
		if err != nil {
			t.Fatal(err)
		}
		fps[i] = fp
	}
	for i := range fps {
		for j := range fps {
			c1 := Cmp(fps[i], fps[j])
			c2 := Cmp(fps[j], fps[i])
			if c1 != -c2 && !(c1 == 0 && c2 == 0) {
				t.Fatalf("comparator not antisymmetric for %d,%d", i, j)
			}
		}
	}
}

func TestWellKnownConstants(t *testing.T) {
	if RobotsTxt == Root || RobotsTxt == Skey || Root == Skey {
		t.Fatalf("well-known rest_fp constants must be pairwise distinct")
	}
	if Skey != (RestFP{0, 0}) {
		t.Fatalf("SKEY rest_fp must be all-zero per spec")
	}
}

func TestMaxIsGreatestBound(t *testing.T) {
	fp, _ := OfString("http://z.example.com/zzzz")
	if Cmp(fp, Max) >= 0 {
		t.Fatalf("Max must upper-bound any real footprint")
	}
}
