/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package contrib

import (
	"fmt"

	cuckoofilter "github.com/seiflotfy/cuckoofilter"
	"github.com/tidwall/buntdb"
)

// DedupCache is the in-memory hash keyed by URL that spec §4.4 describes:
// "Contributions are deduplicated through an in-memory hash keyed by
// URL; when the hash reaches ContribCacheSize bytes, unwritten entries
// are flushed and the hash reset. flush order is hash-iteration order —
// the spec does not require determinism."
//
// A cuckoofilter sits in front of the buntdb-backed hash as a fast
// probabilistic reject: most references on a page are already-seen URLs,
// and the filter turns that common case into an in-cache-line lookup
// instead of a b-tree probe.
type DedupCache struct {
	db         *buntdb.DB
	prefilt    *cuckoofilter.Filter
	prefiltCap uint
	approxSz   int64
	capBytes   int64
}

// NewDedupCache creates a cache that self-flushes once its approximate
// byte footprint reaches capBytes (ContribConfig.ContribCacheSize).
func NewDedupCache(capBytes int64, prefilterCapacity uint) (*DedupCache, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, err
	}
	return &DedupCache{
		db:         db,
		prefilt:    cuckoofilter.NewFilter(prefilterCapacity),
		prefiltCap: prefilterCapacity,
		capBytes:   capBytes,
	}, nil
}

// SeenOrAdd reports whether rawURL has already been recorded this cycle;
// if not, it records it and returns false. Unwritten (i.e. callers should
// still append) entries in the backing hash are drained by Flush.
func (d *DedupCache) SeenOrAdd(rawURL string) (alreadySeen bool, err error) {
	key := []byte(rawURL)
	if !d.prefilt.Lookup(key) {
		// definitely new: record in both the prefilter and the hash.
		d.prefilt.InsertUnique(key)
		err = d.db.Update(func(tx *buntdb.Tx) error {
			_, _, e := tx.Set(rawURL, "1", nil)
			return e
		})
		d.approxSz += int64(len(rawURL)) + 1
		return false, err
	}
	// prefilter says "maybe seen" - confirm against the exact hash, since
	// cuckoofilter admits false positives.
	var found bool
	err = d.db.View(func(tx *buntdb.Tx) error {
		_, e := tx.Get(rawURL)
		if e == buntdb.ErrNotFound {
			found = false
			return nil
		}
		if e != nil {
			return e
		}
		found = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if found {
		return true, nil
	}
	err = d.db.Update(func(tx *buntdb.Tx) error {
		_, _, e := tx.Set(rawURL, "1", nil)
		return e
	})
	d.approxSz += int64(len(rawURL)) + 1
	return false, err
}

// ShouldFlush reports whether the cache has grown past ContribCacheSize.
func (d *DedupCache) ShouldFlush() bool { return d.capBytes > 0 && d.approxSz >= d.capBytes }

// Flush drains every key currently held (in whatever order buntdb's
// iteration yields - spec §4.4 explicitly does not require determinism
// here) through visit, then resets the cache.
func (d *DedupCache) Flush(visit func(rawURL string) error) error {
	var keys []string
	err := d.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, _ string) bool {
			keys = append(keys, key)
			return true
		})
	})
	if err != nil {
		return fmt.Errorf("contrib: dedup flush scan: %w", err)
	}
	for _, k := range keys {
		if err := visit(k); err != nil {
			return err
		}
	}
	if err := d.reset(); err != nil {
		return err
	}
	return nil
}

func (d *DedupCache) reset() error {
	if err := d.db.Close(); err != nil {
		return err
	}
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return err
	}
	d.db = db
	d.prefilt = cuckoofilter.NewFilter(d.prefiltCap)
	d.approxSz = 0
	return nil
}

func (d *DedupCache) Close() error { return d.db.Close() }
