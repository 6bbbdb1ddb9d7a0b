// Package site provides the in-memory site table: per-host persistent
// counters, limits, and qkey derivation (spec §3.3), loaded whole and
// mutated in-memory the way cluster.Smap is in the teacher.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package site

import (
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/cmn/debug"
	"github.com/holmesengine/shepherd/footprint"
)

// Qkey is the 64-bit queueing key (channel:8, port:16, skey:32) - spec §3.3.
type Qkey uint64

func MakeQkey(skey uint32, port uint16, channel uint8) Qkey {
	return Qkey(uint64(channel)<<56 | uint64(port)<<32 | uint64(skey))
}

func (q Qkey) Channel() uint8 { return uint8(q >> 56) }
func (q Qkey) Port() uint16   { return uint16(q >> 32) }
func (q Qkey) Skey() uint32   { return uint32(q) }

func (q Qkey) IsUnresolved() bool {
	return q.Skey()&cmn.SkeyUnresolvedMask == cmn.SkeyUnresolvedPrefix
}
func (q Qkey) IsNonexistent() bool {
	return q.Skey()&cmn.SkeyNonexistentMask == cmn.SkeyNonexistentPrefix
}
func (q Qkey) IsNonIP() bool {
	return q.Skey()&cmn.SkeyNonIPMask == cmn.SkeyNonIPPrefix
}

// Site is the per-site persistent record (spec §3.3).
type Site struct {
	FP       footprint.SiteFP
	NormFP   footprint.SiteFP
	Proto    string
	Host     string
	Port     uint16
	Skey     uint32
	Channels uint8 // number of concurrent download channels (max_conn)

	SoftLimit  int
	HardLimit  int
	FreshLimit int
	MinDelay   uint32 // seconds
	QueueBonus int
	SelectBonus int
	MaxConn    int
	Monitor    bool
	RefreshSchema string
	RefreshBoost  float64
	Rejected      bool

	// Persistent counters, reset at load where noted.
	NumActive   int
	NumInactive int
	NumFresh    int
	ConnErrCount int
	SiteErrDeferred bool
	LastAccess  uint32
	FreqTotal   int
	FreqLimit   int
}

func (s *Site) Qkey(channel uint8) Qkey {
	return MakeQkey(s.Skey, s.Port, channel)
}

// Delay returns this site's minimum politeness delay in seconds.
func (s *Site) Delay() uint32 {
	if s.MinDelay > 0 {
		return s.MinDelay
	}
	return uint32(cmn.DefaultStdServerDelay.Seconds())
}

// Table is the whole in-memory site table, keyed by site_fp's hash (spec
// §3.1: "first 32 bits of site_fp are used as hash"). Sites sharing those
// bits are chained in a slice and told apart by comparing the full
// footprint; xxhash is not involved (only EnsureUnresolved uses it).
type Table struct {
	mu      sync.RWMutex
	buckets map[uint32][]*Site
	bySkey  map[uint32]*Site
}

func NewTable() *Table {
	return &Table{
		buckets: make(map[uint32][]*Site),
		bySkey:  make(map[uint32]*Site),
	}
}

func chainHash(fp footprint.SiteFP) uint32 {
	var b [8]byte
	b[0], b[1], b[2], b[3] = byte(fp[0]), byte(fp[0]>>8), byte(fp[0]>>16), byte(fp[0]>>24)
	b[4], b[5], b[6], b[7] = byte(fp[1]), byte(fp[1]>>8), byte(fp[1]>>16), byte(fp[1]>>24)
	return uint32(xxhash.Checksum64(b[:]))
}

// Put inserts or replaces a site by footprint.
func (t *Table) Put(s *Site) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := fpHash(s.FP)
	bucket := t.buckets[h]
	for i, existing := range bucket {
		if existing.FP == s.FP {
			bucket[i] = s
			t.reindexSkeyLocked(s)
			return
		}
	}
	t.buckets[h] = append(bucket, s)
	t.reindexSkeyLocked(s)
}

func (t *Table) reindexSkeyLocked(s *Site) {
	if s.Skey != 0 {
		t.bySkey[s.Skey] = s
	}
}

func fpHash(fp footprint.SiteFP) uint32 { return fp[0] }

// Get looks up a site by its footprint.
func (t *Table) Get(fp footprint.SiteFP) (*Site, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.buckets[fpHash(fp)] {
		if s.FP == fp {
			return s, true
		}
	}
	return nil, false
}

// GetBySkey looks up a site by its resolved server key.
func (t *Table) GetBySkey(skey uint32) (*Site, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.bySkey[skey]
	return s, ok
}

// Delete removes a site, used when pruning orphans in the record stage.
func (t *Table) Delete(fp footprint.SiteFP) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := fpHash(fp)
	bucket := t.buckets[h]
	for i, s := range bucket {
		if s.FP == fp {
			t.buckets[h] = append(bucket[:i], bucket[i+1:]...)
			if s.Skey != 0 {
				delete(t.bySkey, s.Skey)
			}
			return
		}
	}
}

// Range calls fn for every site in an unspecified order; fn must not
// mutate the table.
func (t *Table) Range(fn func(*Site) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, bucket := range t.buckets {
		for _, s := range bucket {
			if !fn(s) {
				return
			}
		}
	}
}

// Len returns the number of sites currently held.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, b := range t.buckets {
		n += len(b)
	}
	return n
}

// EnsureUnresolved resets s.Skey to a freshly randomised UNRESOLVED value
// bucketed into one of MaxResolvers slots (spec §3.3), the planner's
// step-1 reset before re-deriving skeys from SKEY records.
func EnsureUnresolved(s *Site, maxResolvers int, hashSeed uint32) {
	debug.Assert(maxResolvers > 0)
	bucket := (chainHash(s.FP) ^ hashSeed) % uint32(maxResolvers)
	s.Skey = cmn.SkeyUnresolvedPrefix | bucket
}
