/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package plan

import (
	"bufio"
	"encoding/binary"
	"io"
	"math/rand"
	"os"
	"sort"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/cmn/cos"
	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/site"
)

// Entry is one planned fetch within a site's block (spec §3.5).
type Entry struct {
	Oid        uint32
	Priority   uint32
	RetryCount uint16
	Weight     uint8
	Flags      uint16
	Section    uint16
	Area       uint16
}

// Block is one site's planned work for the cycle.
type Block struct {
	Qkey      site.Qkey
	RobotOid  uint32
	Delay     uint32
	Entries   []Entry
}

// candidate is an index record paired with its site and computed priority,
// before the budgeted walk decides which candidates become plan entries.
type candidate struct {
	rec      *scoredRecord
	priority uint32
	flags    uint16
}

type scoredRecord struct {
	FP      footprint.FP
	Oid     uint32
	Weight  uint8
	Retry   uint16
	Section uint16
	Area    uint16
	Site    *site.Site
}

// Budgets bounds the greedy walk (spec §4.5 step 4).
type Budgets struct {
	Global       float64 // estimated_raw_performance * reap_cycle * reap_optimism_factor
	PerQkey      map[site.Qkey]float64
	PerAreaLimit map[uint16]float64
}

// Build runs the planner's steps 3-5: sort candidates by descending
// priority, walk them under the three budgets (promoting SYNTH_ROBOTS
// candidates for sites still missing a resolved skey or robots oid),
// then groups survivors into per-(site,channel) blocks.
func Build(cands []candidate, budgets Budgets, maxConnOf func(*site.Site) int, needsRobots func(*site.Site) bool, robotOidOf func(*site.Site) uint32, delayOf func(*site.Site) uint32, rng *rand.Rand) []Block {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].priority > cands[j].priority })

	globalRemaining := budgets.Global
	qkeyRemaining := map[site.Qkey]float64{}
	areaRemaining := map[uint16]float64{}
	for k, v := range budgets.PerQkey {
		qkeyRemaining[k] = v
	}
	for k, v := range budgets.PerAreaLimit {
		areaRemaining[k] = v
	}

	type picked struct {
		qkey  site.Qkey
		entry Entry
		site  *site.Site
	}
	var picks []picked

	for _, c := range cands {
		if globalRemaining <= 0 {
			break
		}
		qk := c.rec.Site.Qkey(0)
		if rem, ok := qkeyRemaining[qk]; ok && rem <= 0 {
			continue
		}
		if rem, ok := areaRemaining[c.rec.Area]; ok && rem <= 0 {
			continue
		}

		priority := c.priority
		flags := c.flags
		if needsRobots(c.rec.Site) {
			priority = ^uint32(0)
			flags |= cmn.PlanSynthRobots
		}

		picks = append(picks, picked{
			qkey: qk,
			entry: Entry{
				Oid: c.rec.Oid, Priority: priority, RetryCount: c.rec.Retry,
				Weight: c.rec.Weight, Flags: flags, Section: c.rec.Section, Area: c.rec.Area,
			},
			site: c.rec.Site,
		})

		globalRemaining--
		if _, ok := qkeyRemaining[qk]; ok {
			qkeyRemaining[qk]--
		}
		if _, ok := areaRemaining[c.rec.Area]; ok {
			areaRemaining[c.rec.Area]--
		}
	}

	// Step 5: sort picks by (site, priority desc), then group by
	// (site, channel), assigning a random channel in [0, max_conn) per
	// entry, matching the planner's concurrent-download fan-out.
	sort.SliceStable(picks, func(i, j int) bool {
		if picks[i].site != picks[j].site {
			return picks[i].site.FP[0] < picks[j].site.FP[0]
		}
		return picks[i].entry.Priority > picks[j].entry.Priority
	})

	blocks := map[site.Qkey]*Block{}
	var order []site.Qkey
	for _, p := range picks {
		maxConn := maxConnOf(p.site)
		if maxConn <= 0 {
			maxConn = 1
		}
		channel := uint8(0)
		if maxConn > 1 {
			channel = uint8(rng.Intn(maxConn))
		}
		qk := p.site.Qkey(channel)
		b, ok := blocks[qk]
		if !ok {
			b = &Block{Qkey: qk, RobotOid: robotOidOf(p.site), Delay: delayOf(p.site)}
			blocks[qk] = b
			order = append(order, qk)
		}
		b.Entries = append(b.Entries, p.entry)
	}

	out := make([]Block, 0, len(order))
	for _, qk := range order {
		out = append(out, *blocks[qk])
	}
	return out
}

// Save serialises blocks to path in the §3.5 layout.
func Save(path string, blocks []Block) error {
	tmp := path + ".tmp." + cos.GenTie()
	f, err := cos.CreateFile(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, b := range blocks {
		if err := writeBlock(w, b); err != nil {
			cos.Close(f)
			_ = cos.RemoveFile(tmp)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		cos.Close(f)
		return err
	}
	if err := cos.FlushClose(f); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func writeBlock(w *bufio.Writer, b Block) error {
	if err := cos.PutU64(w, uint64(b.Qkey)); err != nil {
		return err
	}
	if err := cos.PutU32(w, b.RobotOid); err != nil {
		return err
	}
	if err := cos.PutU32(w, b.Delay); err != nil {
		return err
	}
	if err := cos.PutU32(w, uint32(len(b.Entries))); err != nil {
		return err
	}
	for _, e := range b.Entries {
		if err := cos.PutU32(w, e.Oid); err != nil {
			return err
		}
		if err := cos.PutU32(w, e.Priority); err != nil {
			return err
		}
		var rest [8]byte
		binary.LittleEndian.PutUint16(rest[0:], e.RetryCount)
		rest[2] = e.Weight
		binary.LittleEndian.PutUint16(rest[3:], e.Flags)
		binary.LittleEndian.PutUint16(rest[5:], e.Section)
		// area spills past the fixed rest[8]; encoded as its own field below.
		if _, err := w.Write(rest[:]); err != nil {
			return err
		}
		if err := cos.PutU32(w, uint32(e.Area)); err != nil {
			return err
		}
	}
	return nil
}

// Load reads back a plan file written by Save.
func Load(path string) ([]Block, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var blocks []Block
	for {
		qkey, err := cos.ReadU64(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		robotOid, err := cos.ReadU32(r)
		if err != nil {
			return nil, err
		}
		delay, err := cos.ReadU32(r)
		if err != nil {
			return nil, err
		}
		count, err := cos.ReadU32(r)
		if err != nil {
			return nil, err
		}
		b := Block{Qkey: site.Qkey(qkey), RobotOid: robotOid, Delay: delay}
		for i := uint32(0); i < count; i++ {
			oid, err := cos.ReadU32(r)
			if err != nil {
				return nil, err
			}
			prio, err := cos.ReadU32(r)
			if err != nil {
				return nil, err
			}
			var rest [8]byte
			if _, err := io.ReadFull(r, rest[:]); err != nil {
				return nil, err
			}
			area, err := cos.ReadU32(r)
			if err != nil {
				return nil, err
			}
			b.Entries = append(b.Entries, Entry{
				Oid: oid, Priority: prio,
				RetryCount: binary.LittleEndian.Uint16(rest[0:]),
				Weight:     rest[2],
				Flags:      binary.LittleEndian.Uint16(rest[3:]),
				Section:    binary.LittleEndian.Uint16(rest[5:]),
				Area:       uint16(area),
			})
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}
