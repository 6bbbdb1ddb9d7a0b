// Package urlindex implements the fixed-size url_state record and the
// sorted index file that keys every record by footprint (spec §3.2,
// §4.2). The same record layout backs the journal (spec §3.6).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package urlindex

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/holmesengine/shepherd/footprint"
)

// RecSize is the on-disk size of one url_state record: fp(16) + oid(4) +
// last_seen(4) + retry_count(2) + weight(1) + flags(2) + type(1) +
// stable_time(2) + refresh_freq(1) + download_time(1) + section(2) +
// area(2) = 38 bytes, followed by 18 bytes of zero padding.
const RecSize = 56

// Record is one in-memory url_state.
type Record struct {
	FP            footprint.FP
	Oid           uint32
	LastSeen      uint32
	RetryCount    uint16
	Weight        uint8
	Flags         uint16
	Type          uint8
	StableTime    uint16
	RefreshFreq   uint8
	DownloadTime  uint8
	Section       uint16
	Area          uint16
}

// Encode writes r in its fixed-size binary layout.
func (r *Record) Encode(w io.Writer) error {
	var b [RecSize]byte
	off := 0
	binary.LittleEndian.PutUint32(b[off:], r.FP.Site[0])
	off += 4
	binary.LittleEndian.PutUint32(b[off:], r.FP.Site[1])
	off += 4
	binary.LittleEndian.PutUint32(b[off:], r.FP.Rest[0])
	off += 4
	binary.LittleEndian.PutUint32(b[off:], r.FP.Rest[1])
	off += 4
	binary.LittleEndian.PutUint32(b[off:], r.Oid)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], r.LastSeen)
	off += 4
	binary.LittleEndian.PutUint16(b[off:], r.RetryCount)
	off += 2
	b[off] = r.Weight
	off++
	binary.LittleEndian.PutUint16(b[off:], r.Flags)
	off += 2
	b[off] = r.Type
	off++
	binary.LittleEndian.PutUint16(b[off:], r.StableTime)
	off += 2
	b[off] = r.RefreshFreq
	off++
	b[off] = r.DownloadTime
	off++
	binary.LittleEndian.PutUint16(b[off:], r.Section)
	off += 2
	binary.LittleEndian.PutUint16(b[off:], r.Area)
	_, err := w.Write(b[:])
	return err
}

// Decode reads one fixed-size record from r.
func Decode(r io.Reader) (*Record, error) {
	var b [RecSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, err
	}
	rec := &Record{}
	off := 0
	rec.FP.Site[0] = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.FP.Site[1] = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.FP.Rest[0] = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.FP.Rest[1] = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.Oid = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.LastSeen = binary.LittleEndian.Uint32(b[off:])
	off += 4
	rec.RetryCount = binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.Weight = b[off]
	off++
	rec.Flags = binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.Type = b[off]
	off++
	rec.StableTime = binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.RefreshFreq = b[off]
	off++
	rec.DownloadTime = b[off]
	off++
	rec.Section = binary.LittleEndian.Uint16(b[off:])
	off += 2
	rec.Area = binary.LittleEndian.Uint16(b[off:])
	return rec, nil
}

// HasFlags reports whether all of mask's bits are set in r.Flags.
func (r *Record) HasFlags(mask uint16) bool { return r.Flags&mask == mask }

// AnyFlags reports whether any bit of mask is set in r.Flags.
func (r *Record) AnyFlags(mask uint16) bool { return r.Flags&mask != 0 }

func (r *Record) String() string {
	return fmt.Sprintf("url_state{fp=%08x:%08x oid=%d type=%d flags=%#x weight=%d}",
		r.FP.Site[0], r.FP.Rest[0], r.Oid, r.Type, r.Flags, r.Weight)
}
