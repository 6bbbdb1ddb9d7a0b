// Package record implements the record stage (spec §4.10): materialising
// CONTRIB entries into real buckets, pruning orphan SKEY/ROBOTS records,
// and handing the URL database its per-cycle update.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package record

import (
	"github.com/golang/glog"

	"github.com/holmesengine/shepherd/bucket"
	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/contrib"
	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/site"
	"github.com/holmesengine/shepherd/urlindex"
)

// URLDBWriter receives one (fp, oid) pair per materialised record, so the
// caller can feed the URL database without this package depending on it
// directly.
type URLDBWriter func(fp footprint.FP, oid uint32)

// Run walks idx and, for every CONTRIB record, materialises its bucket
// (spec §4.10 step a/b), clears CONTRIB, and replaces oid. It then prunes
// SKEY/ROBOTS records whose site no longer exists (step c) and returns the
// resulting index.
func Run(idx *urlindex.Index, bf *bucket.File, sites *site.Table, byURL map[footprint.FP]*contrib.Entry, urldb URLDBWriter) (*urlindex.Index, error) {
	out := make([]*urlindex.Record, 0, len(idx.Records))

	for _, rec := range idx.Records {
		if rec.Type == cmn.TypeSkey || rec.HasFlags(cmn.USFRobots) {
			if siteByFootprint(sites, rec.FP.Site) == nil {
				glog.V(3).Infof("record: pruning orphan SKEY/ROBOTS at %+v", rec.FP)
				continue
			}
		}

		if rec.HasFlags(cmn.USFContrib) {
			oid, err := materialize(bf, rec, byURL)
			if err != nil {
				return nil, err
			}
			rec.Oid = oid
			rec.Flags &^= cmn.USFContrib
		}

		if urldb != nil {
			urldb(rec.FP, rec.Oid)
		}
		out = append(out, rec)
	}

	return &urlindex.Index{Records: out}, nil
}

// materialize writes one new bucket for rec: the prepared contribution's
// URL when one was scanned from the contrib file, or otherwise a
// synthetic bucket holding only the record's footprint, with no URL. The
// synthetic bucket is written for any CONTRIB record without a scanned
// entry, whatever its oid.
func materialize(bf *bucket.File, rec *urlindex.Record, byURL map[footprint.FP]*contrib.Entry) (uint32, error) {
	entry, ok := byURL[rec.FP]
	if !ok {
		return synthesizeRoot(bf, rec)
	}
	w, err := bf.Create()
	if err != nil {
		return 0, err
	}
	if _, err := w.Write([]byte(entry.URL)); err != nil {
		return 0, err
	}
	hdr, err := bf.CreateEnd(w, cmn.TypeNew)
	if err != nil {
		return 0, err
	}
	return hdr.Oid, nil
}

func synthesizeRoot(bf *bucket.File, rec *urlindex.Record) (uint32, error) {
	w, err := bf.Create()
	if err != nil {
		return 0, err
	}
	body := encodeFootprintOnly(rec.FP)
	if _, err := w.Write(body); err != nil {
		return 0, err
	}
	hdr, err := bf.CreateEnd(w, cmn.TypeNew)
	if err != nil {
		return 0, err
	}
	return hdr.Oid, nil
}

// encodeFootprintOnly produces the minimal body spec §4.10 describes for
// an auto-go-root synthetic bucket: just enough to recover the canonical
// URL's footprint, with no page attributes.
func encodeFootprintOnly(fp footprint.FP) []byte {
	var buf [16]byte
	putU32(buf[0:4], fp.Site[0])
	putU32(buf[4:8], fp.Site[1])
	putU32(buf[8:12], fp.Rest[0])
	putU32(buf[12:16], fp.Rest[1])
	return buf[:]
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
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
