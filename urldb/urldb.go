// Package urldb implements the optional append-only URL database and its
// sorted derivative (spec §3.9, §6.4): a log of (oid, footprint, url)
// triples, not on the fetch path, rebuilt incrementally by cleanup and
// consulted by the manual-control tools to resolve a footprint back to
// the URL that produced it.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package urldb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/holmesengine/shepherd/cmn/cos"
	"github.com/holmesengine/shepherd/footprint"
)

const (
	HeaderMagic   uint32 = 0x9a2736ab
	HeaderVersion uint32 = 0x3b00
	HeaderSize           = 16 // magic(4) version(4) time(4) rfu(4)

	// Fixed fields preceding the URL bytes: zero(4) flags(4) len(4) oid(4)
	// footprint(16).
	recordFixedSize = 32
)

// Mask bits within Record.Flags recording which of the five 32-bit words
// following the leading zero sentinel had their high bit forced to 1 on
// disk to keep the inter-record scanner from mistaking a legitimately
// zero word for the next record's leading sentinel (spec §6.4).
const (
	maskOid = 1 << iota
	maskSite0
	maskSite1
	maskRest0
	maskRest1

	maskAll = maskOid | maskSite0 | maskSite1 | maskRest0 | maskRest1
)

// FlagDeleted marks a tombstone: oid has been recycled or the URL
// withdrawn. Cleanup drops these when it rebuilds the sorted derivative.
const FlagDeleted = 1 << 5

var ErrCorrupted = errors.New("urldb: corrupted record")

// Header is the on-disk journal header (spec §6.4).
type Header struct {
	Magic   uint32
	Version uint32
	Time    uint32
	RFU     uint32
}

// Record is one logical journal entry.
type Record struct {
	Flags uint32
	Oid   uint32
	FP    footprint.FP
	URL   string
}

// WriteHeader writes a fresh 16-byte journal header to w.
func WriteHeader(w io.Writer, now uint32) error {
	h := Header{Magic: HeaderMagic, Version: HeaderVersion, Time: now}
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:], h.Version)
	binary.LittleEndian.PutUint32(buf[8:], h.Time)
	binary.LittleEndian.PutUint32(buf[12:], h.RFU)
	_, err := w.Write(buf[:])
	return err
}

// ReadHeader reads and validates the journal header.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	h := Header{
		Magic:   binary.LittleEndian.Uint32(buf[0:]),
		Version: binary.LittleEndian.Uint32(buf[4:]),
		Time:    binary.LittleEndian.Uint32(buf[8:]),
		RFU:     binary.LittleEndian.Uint32(buf[12:]),
	}
	if h.Magic != HeaderMagic {
		return Header{}, fmt.Errorf("%w: bad header magic %#x", ErrCorrupted, h.Magic)
	}
	return h, nil
}

func maskWord(v uint32, bit uint32, flags *uint32) uint32 {
	if v&0x80000000 == 0 {
		*flags |= bit
		return v | 0x80000000
	}
	return v
}

func unmaskWord(v uint32, bit uint32, flags uint32) uint32 {
	if flags&bit != 0 {
		return v &^ 0x80000000
	}
	return v
}

// recordSize returns the total on-disk size of rec, URL bytes padded to
// a 4-byte boundary.
func recordSize(urlLen int) int64 {
	return int64(recordFixedSize) + cos.CeilAlign(int64(urlLen), 4)
}

// Encode appends rec's on-disk encoding to buf and returns the result.
func Encode(buf []byte, rec Record) []byte {
	flags := rec.Flags &^ maskAll
	oid := maskWord(rec.Oid, maskOid, &flags)
	s0 := maskWord(rec.FP.Site[0], maskSite0, &flags)
	s1 := maskWord(rec.FP.Site[1], maskSite1, &flags)
	r0 := maskWord(rec.FP.Rest[0], maskRest0, &flags)
	r1 := rec.FP.Rest[1]
	if r1&0x80000000 == 0 {
		flags |= maskRest1
		r1 |= 0x80000000
	}

	var hdr [recordFixedSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], 0) // leading zero sentinel
	binary.LittleEndian.PutUint32(hdr[4:], flags)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(rec.URL)))
	binary.LittleEndian.PutUint32(hdr[12:], oid)
	binary.LittleEndian.PutUint32(hdr[16:], s0)
	binary.LittleEndian.PutUint32(hdr[20:], s1)
	binary.LittleEndian.PutUint32(hdr[24:], r0)
	binary.LittleEndian.PutUint32(hdr[28:], r1)

	buf = append(buf, hdr[:]...)
	buf = append(buf, rec.URL...)
	if pad := recordSize(len(rec.URL)) - int64(recordFixedSize+len(rec.URL)); pad > 0 {
		buf = append(buf, make([]byte, pad)...)
	}
	return buf
}

// Decode reads one record from r. io.EOF at the very first byte signals
// a clean end of stream; any other short read is ErrCorrupted.
func Decode(r io.Reader) (Record, error) {
	var hdr [recordFixedSize]byte
	if _, err := io.ReadFull(r, hdr[:4]); err != nil {
		if err == io.EOF {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("%w: short record sentinel: %v", ErrCorrupted, err)
	}
	if zero := binary.LittleEndian.Uint32(hdr[0:4]); zero != 0 {
		return Record{}, fmt.Errorf("%w: leading sentinel %#x != 0", ErrCorrupted, zero)
	}
	if _, err := io.ReadFull(r, hdr[4:]); err != nil {
		return Record{}, fmt.Errorf("%w: short record header: %v", ErrCorrupted, err)
	}
	flags := binary.LittleEndian.Uint32(hdr[4:8])
	length := binary.LittleEndian.Uint32(hdr[8:12])
	oid := unmaskWord(binary.LittleEndian.Uint32(hdr[12:16]), maskOid, flags)
	s0 := unmaskWord(binary.LittleEndian.Uint32(hdr[16:20]), maskSite0, flags)
	s1 := unmaskWord(binary.LittleEndian.Uint32(hdr[20:24]), maskSite1, flags)
	r0 := unmaskWord(binary.LittleEndian.Uint32(hdr[24:28]), maskRest0, flags)
	r1 := unmaskWord(binary.LittleEndian.Uint32(hdr[28:32]), maskRest1, flags)

	padded := cos.CeilAlign(int64(length), 4)
	body := make([]byte, padded)
	if _, err := io.ReadFull(r, body); err != nil {
		return Record{}, fmt.Errorf("%w: short url body: %v", ErrCorrupted, err)
	}

	return Record{
		Flags: flags &^ maskAll,
		Oid:   oid,
		FP: footprint.FP{
			Site: footprint.SiteFP{s0, s1},
			Rest: footprint.RestFP{r0, r1},
		},
		URL: string(body[:length]),
	}, nil
}

// Journal is an append-only URL database log.
type Journal struct {
	path string
	f    *os.File
}

// Create creates a new journal file at path with a fresh header.
func Create(path string, now uint32) (*Journal, error) {
	f, err := cos.CreateFile(path)
	if err != nil {
		return nil, err
	}
	if err := WriteHeader(f, now); err != nil {
		cos.Close(f)
		return nil, err
	}
	return &Journal{path: path, f: f}, nil
}

// Open opens an existing journal for appending, validating its header.
func Open(path string) (*Journal, error) {
	f, err := cos.OpenAppend(path)
	if err != nil {
		return nil, err
	}
	if _, err := ReadHeader(io.NewSectionReader(f, 0, HeaderSize)); err != nil {
		cos.Close(f)
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		cos.Close(f)
		return nil, err
	}
	return &Journal{path: path, f: f}, nil
}

// Append writes rec to the end of the journal.
func (j *Journal) Append(rec Record) error {
	buf := Encode(nil, rec)
	_, err := j.f.Write(buf)
	return err
}

// Close syncs and closes the underlying file.
func (j *Journal) Close() error { return cos.FlushClose(j.f) }

// ScanFile reads every record out of the journal at path, in append
// order, for cleanup's rebuild of the sorted derivative.
func ScanFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer cos.Close(f)

	if _, err := ReadHeader(f); err != nil {
		return nil, err
	}

	var out []Record
	for {
		rec, err := Decode(f)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Latest folds a scanned journal down to the most recently seen record
// per footprint, dropping anything later marked FlagDeleted. This is
// the view cleanup feeds into BuildSorted.
func Latest(recs []Record) []Record {
	order := make([]footprint.FP, 0, len(recs))
	latest := make(map[footprint.FP]Record, len(recs))
	for _, rec := range recs {
		if _, ok := latest[rec.FP]; !ok {
			order = append(order, rec.FP)
		}
		latest[rec.FP] = rec
	}
	out := make([]Record, 0, len(order))
	for _, fp := range order {
		rec := latest[fp]
		if rec.Flags&FlagDeleted != 0 {
			continue
		}
		out = append(out, rec)
	}
	return out
}
