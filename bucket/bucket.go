// Package bucket implements the append-only, oid-addressed blob file that
// backs every real page body Shepherd stores (spec §3.8, §4.1). An oid is
// simply the byte offset of a bucket's header, shifted right by the
// alignment shift.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package bucket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/golang/glog"
	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/cmn/debug"
)

const (
	// Shift derives oid = offset >> Shift; every bucket is aligned to
	// 1<<Shift bytes (CONFIG_BUCKET_SHIFT in the original source).
	Shift       = 4
	Align int64 = 1 << Shift

	HeaderSize  = 16 // magic(4) oid(4) length(4) type(4)
	TrailerSize = 16 // magic(4) + 12 bytes reserved, kept 16-aligned

	// ShakeBufSize bounds the shakedown rewrite window (spec §4.1).
	ShakeBufSize = 4 << 20
)

// Oid sentinels (spec §3.2/§3.8).
const (
	Undefined = cmn.OidUndefined
	Deleted   = cmn.OidDeleted
)

// ErrCorrupted is the fatal "pool corrupted" error of spec §4.1/§7: any
// magic/oid-backlink/trailer mismatch raises this and the caller must
// terminate the process without a partial update.
type ErrCorrupted struct {
	Path   string
	Offset int64
	Reason string
}

func (e *ErrCorrupted) Error() string {
	return fmt.Sprintf("bucket pool %s corrupted at offset %d: %s", e.Path, e.Offset, e.Reason)
}

var ErrMaxSize = errors.New("bucket: append would exceed effective max_size")

// Header is the 16-byte on-disk record header.
type Header struct {
	Magic  uint32
	Oid    uint32
	Length uint32
	Type   uint32
}

// Size returns the total file footprint of one bucket (header + body
// padded to alignment + trailer), the quantity the Shakedown invariant
// (spec §8) sums over survivors.
func Size(length uint32) int64 {
	return HeaderSize + align(int64(length)) + TrailerSize
}

func align(n int64) int64 { return (n + Align - 1) &^ (Align - 1) }

// File is one open bucket pool.
type File struct {
	mu        sync.Mutex
	path      string
	f         *os.File
	writable  bool
	maxSize   int64 // effective max_size, leaving head-room for in-flight appends
	configuredMax int64
	shakeReserve  bool
}

// OpenOpts configures Open.
type OpenOpts struct {
	Writable bool
	// ConfiguredMax is BucketFile.MaxSize from config; 0 means unbounded.
	ConfiguredMax int64
	// ShakeReserve, when true, further shrinks the effective max_size to
	// leave room for a shakedown safety-copy window (spec §4.1).
	ShakeReserve bool
}

// Open opens path, validating the trailer of the last bucket if the file
// is non-empty, and computes the effective max_size.
func Open(path string, opts OpenOpts) (*File, error) {
	flag := os.O_RDONLY
	if opts.Writable {
		flag = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}
	bf := &File{
		path:          path,
		f:             f,
		writable:      opts.Writable,
		configuredMax: opts.ConfiguredMax,
		shakeReserve:  opts.ShakeReserve,
	}
	if err := bf.validateTrailer(); err != nil {
		_ = f.Close()
		return nil, err
	}
	bf.computeEffectiveMax()
	return bf, nil
}

func (bf *File) computeEffectiveMax() {
	if bf.configuredMax <= 0 {
		bf.maxSize = 0
		return
	}
	headroom := int64(Size(0)) * 4 // room for one in-progress append burst
	if bf.shakeReserve {
		headroom += ShakeBufSize
	}
	bf.maxSize = bf.configuredMax - headroom
	if bf.maxSize < 0 {
		bf.maxSize = 0
	}
}

// validateTrailer checks that the file ends on an alignment boundary and,
// if non-empty, that the final bucket's trailer magic is intact.
func (bf *File) validateTrailer() error {
	size, err := bf.size()
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	if size%Align != 0 {
		return &ErrCorrupted{Path: bf.path, Offset: size, Reason: "file size not aligned"}
	}
	// Walk forward from 0 to find the last complete bucket header so we
	// can check its trailer without trusting the file's stated length.
	off, ok, err := lastBucketOffset(bf.f, size)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	hdr, err := readHeaderAt(bf.f, off)
	if err != nil {
		return err
	}
	if hdr.Magic != cmn.BucketMagicHeader && hdr.Magic != 0 {
		return &ErrCorrupted{Path: bf.path, Offset: off, Reason: "bad header magic at tail"}
	}
	if hdr.Magic == cmn.BucketMagicHeader {
		var trailer [TrailerSize]byte
		toff := off + HeaderSize + align(int64(hdr.Length))
		if _, err := bf.f.ReadAt(trailer[:], toff); err != nil || decodeHeader(trailer[:]).Magic != cmn.BucketMagicTrailer {
			return &ErrCorrupted{Path: bf.path, Offset: toff, Reason: "bad trailer magic at tail"}
		}
	}
	return nil
}

func lastBucketOffset(f *os.File, size int64) (int64, bool, error) {
	var off int64
	var last int64 = -1
	for off < size {
		hdr, err := readHeaderAt(f, off)
		if err != nil {
			return 0, false, err
		}
		if hdr.Magic == 0 {
			break
		}
		last = off
		off += Size(hdr.Length)
	}
	if last < 0 {
		return 0, false, nil
	}
	return last, true, nil
}

func readHeaderAt(f *os.File, off int64) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := f.ReadAt(buf[:], off); err != nil {
		if err == io.EOF {
			return Header{}, nil
		}
		return Header{}, err
	}
	return decodeHeader(buf[:]), nil
}

func decodeHeader(b []byte) Header {
	return Header{
		Magic:  binary.LittleEndian.Uint32(b[0:4]),
		Oid:    binary.LittleEndian.Uint32(b[4:8]),
		Length: binary.LittleEndian.Uint32(b[8:12]),
		Type:   binary.LittleEndian.Uint32(b[12:16]),
	}
}

func encodeHeader(h Header) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Oid)
	binary.LittleEndian.PutUint32(b[8:12], h.Length)
	binary.LittleEndian.PutUint32(b[12:16], h.Type)
	return b
}

func (bf *File) size() (int64, error) {
	fi, err := bf.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Close closes the underlying file handle.
func (bf *File) Close() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	return bf.f.Close()
}

// OidToOffset / OffsetToOid convert between the two addressing schemes
// (spec §3.8: "oid equals file offset shifted right by 4").
func OidToOffset(oid uint32) int64 { return int64(oid) << Shift }
func OffsetToOid(off int64) uint32 {
	debug.Assert(off%Align == 0)
	return uint32(off >> Shift)
}

func logCorrupted(err *ErrCorrupted) {
	glog.Errorf("FATAL: %v", err)
}
