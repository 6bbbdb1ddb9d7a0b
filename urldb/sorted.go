package urldb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pierrec/lz4/v3"

	"github.com/holmesengine/shepherd/cmn/cos"
	"github.com/holmesengine/shepherd/footprint"
)

// BlockRecords bounds how many records are grouped into one compressed
// block of the sorted derivative; smaller blocks cost more per-block
// overhead but let a lookup decompress less to find one entry.
const BlockRecords = 512

const (
	sortedHeaderSize = 12 // count(4) idx_count(4) idx_pos(4)
	blockHeaderSize  = 8  // size(4) buf_size(4)
	indexEntrySize   = footprintSize + 4
	footprintSize    = 16
)

// BuildSorted writes the sorted derivative of recs (already de-duplicated
// by Latest) to path: records ordered by footprint, split into
// BlockRecords-record blocks, each LZ4-compressed, with a trailing index
// of each block's first footprint and file offset (spec §6.4).
func BuildSorted(path string, recs []Record) error {
	sorted := append([]Record(nil), recs...)
	sort.Slice(sorted, func(i, j int) bool {
		return footprint.Cmp(sorted[i].FP, sorted[j].FP) < 0
	})

	f, err := cos.CreateFile(path)
	if err != nil {
		return err
	}
	defer cos.Close(f)

	// Reserve the header; it is rewritten once idx_pos is known.
	if _, err := f.Write(make([]byte, sortedHeaderSize)); err != nil {
		return err
	}

	type indexEntry struct {
		fp     footprint.FP
		offset uint32
	}
	var index []indexEntry
	var offset int64 = sortedHeaderSize

	for start := 0; start < len(sorted); start += BlockRecords {
		end := start + BlockRecords
		if end > len(sorted) {
			end = len(sorted)
		}
		block := sorted[start:end]

		var raw []byte
		for _, rec := range block {
			raw = Encode(raw, rec)
		}

		compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
		var ht [1 << 16]int
		n, err := lz4.CompressBlock(raw, compressed, ht[:])
		bufSize := len(raw)
		if n == 0 {
			// Incompressible; lz4 declines, store raw.
			compressed = raw
			n = len(raw)
			bufSize = 0 // marks "stored" to Lookup/iterate
		} else if err != nil {
			return fmt.Errorf("urldb: compress block: %w", err)
		}

		var bh [blockHeaderSize]byte
		binary.LittleEndian.PutUint32(bh[0:], uint32(n))
		binary.LittleEndian.PutUint32(bh[4:], uint32(bufSize))
		if _, err := f.Write(bh[:]); err != nil {
			return err
		}
		if _, err := f.Write(compressed[:n]); err != nil {
			return err
		}

		index = append(index, indexEntry{fp: block[0].FP, offset: uint32(offset)})
		offset += blockHeaderSize + int64(n)
	}

	idxPos := offset
	for _, e := range index {
		var buf [indexEntrySize]byte
		binary.LittleEndian.PutUint32(buf[0:], e.fp.Site[0])
		binary.LittleEndian.PutUint32(buf[4:], e.fp.Site[1])
		binary.LittleEndian.PutUint32(buf[8:], e.fp.Rest[0])
		binary.LittleEndian.PutUint32(buf[12:], e.fp.Rest[1])
		binary.LittleEndian.PutUint32(buf[16:], e.offset)
		if _, err := f.Write(buf[:]); err != nil {
			return err
		}
	}

	var hdr [sortedHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(sorted)))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(index)))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(idxPos))
	if _, err := f.WriteAt(hdr[:], 0); err != nil {
		return err
	}
	return cos.FlushClose(f)
}

// Sorted is an opened, read-only sorted derivative.
type Sorted struct {
	f     *os.File
	count int
	index []sortedIndexEntry
}

type sortedIndexEntry struct {
	fp     footprint.FP
	offset int64
}

// OpenSorted opens path and reads its index into memory.
func OpenSorted(path string) (*Sorted, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var hdr [sortedHeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		cos.Close(f)
		return nil, err
	}
	count := binary.LittleEndian.Uint32(hdr[0:4])
	idxCount := binary.LittleEndian.Uint32(hdr[4:8])
	idxPos := binary.LittleEndian.Uint32(hdr[8:12])

	idxBuf := make([]byte, int64(idxCount)*indexEntrySize)
	if _, err := f.ReadAt(idxBuf, int64(idxPos)); err != nil && err != io.EOF {
		cos.Close(f)
		return nil, err
	}
	index := make([]sortedIndexEntry, idxCount)
	for i := range index {
		b := idxBuf[i*indexEntrySize:]
		index[i] = sortedIndexEntry{
			fp: footprint.FP{
				Site: footprint.SiteFP{binary.LittleEndian.Uint32(b[0:]), binary.LittleEndian.Uint32(b[4:])},
				Rest: footprint.RestFP{binary.LittleEndian.Uint32(b[8:]), binary.LittleEndian.Uint32(b[12:])},
			},
			offset: int64(binary.LittleEndian.Uint32(b[16:])),
		}
	}
	return &Sorted{f: f, count: int(count), index: index}, nil
}

// Close closes the underlying file.
func (s *Sorted) Close() error { return s.f.Close() }

// Count returns the number of records in the derivative.
func (s *Sorted) Count() int { return s.count }

// Lookup finds the record with footprint fp, decompressing at most one
// block (a binary search over first-footprints locates the block, then
// a linear scan within it).
func (s *Sorted) Lookup(fp footprint.FP) (Record, bool, error) {
	if len(s.index) == 0 {
		return Record{}, false, nil
	}
	i := sort.Search(len(s.index), func(i int) bool {
		return footprint.Cmp(s.index[i].fp, fp) > 0
	}) - 1
	if i < 0 {
		return Record{}, false, nil
	}

	recs, err := s.decodeBlock(i)
	if err != nil {
		return Record{}, false, err
	}
	j := sort.Search(len(recs), func(j int) bool {
		return footprint.Cmp(recs[j].FP, fp) >= 0
	})
	if j < len(recs) && recs[j].FP.Equal(fp) {
		return recs[j], true, nil
	}
	return Record{}, false, nil
}

// All decompresses every block in order, for a full dump or rebuild.
func (s *Sorted) All() ([]Record, error) {
	out := make([]Record, 0, s.count)
	for i := range s.index {
		recs, err := s.decodeBlock(i)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (s *Sorted) decodeBlock(i int) ([]Record, error) {
	var bh [blockHeaderSize]byte
	if _, err := s.f.ReadAt(bh[:], s.index[i].offset); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(bh[0:4])
	bufSize := binary.LittleEndian.Uint32(bh[4:8])

	compressed := make([]byte, size)
	if _, err := s.f.ReadAt(compressed, s.index[i].offset+blockHeaderSize); err != nil {
		return nil, err
	}

	var raw []byte
	if bufSize == 0 {
		raw = compressed
	} else {
		raw = make([]byte, bufSize)
		n, err := lz4.UncompressBlock(compressed, raw)
		if err != nil {
			return nil, fmt.Errorf("urldb: decompress block: %w", err)
		}
		raw = raw[:n]
	}

	var recs []Record
	r := bytes.NewReader(raw)
	for r.Len() > 0 {
		rec, err := Decode(r)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
