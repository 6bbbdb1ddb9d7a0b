/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package bucket

import (
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/holmesengine/shepherd/cmn"
)

// FsckReport summarizes one fsck pass over a bucket pool.
type FsckReport struct {
	Path       string
	OKCount    int
	Deleted    int
	Repaired   int // unreadable stretches rewritten as synthetic deleted buckets
	FinalSize  int64
}

// Fsck walks path slot by slot, classifying each 16-byte-aligned span as a
// live bucket, a deleted bucket, or unreadable. An unreadable stretch (bad
// magic, truncated trailer, length that would run past EOF) is rewritten
// in place as a single synthetic deleted bucket covering the gap up to the
// next recoverable header or EOF, so scans never see a hole or panic on
// short reads (spec §4.1, SPEC_FULL §3: supplemented fsck mode).
func Fsck(path string, repair bool) (*FsckReport, error) {
	bf, err := openForFsck(path, repair)
	if err != nil {
		return nil, err
	}
	defer bf.Close()

	rep := &FsckReport{Path: path}
	size, err := bf.size()
	if err != nil {
		return nil, err
	}

	off := int64(0)
	for off < size {
		hdr, ok, nextGood, rerr := scanOneSlot(bf, off, size)
		if rerr != nil {
			return nil, rerr
		}
		if !ok {
			glog.Warningf("fsck %s: unreadable span [%d,%d)", path, off, nextGood)
			if repair {
				if err := writeSyntheticDeleted(bf, off, nextGood); err != nil {
					return nil, err
				}
				rep.Repaired++
			}
			off = nextGood
			continue
		}
		if hdr.Oid == cmn.OidDeleted {
			rep.Deleted++
		} else {
			rep.OKCount++
		}
		off += Size(hdr.Length)
	}
	rep.FinalSize = size
	return rep, nil
}

// openForFsck opens path for a fsck walk without the tail-trailer
// validation Open performs, since the whole point of fsck is to tolerate
// and repair a corrupted tail.
func openForFsck(path string, writable bool) (*File, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}
	return &File{path: path, f: f, writable: writable}, nil
}

// scanOneSlot attempts to read a valid header+trailer at off. If it fails,
// it reports the next offset (alignment-rounded) where a plausible header
// magic reappears, or size if none does.
func scanOneSlot(bf *File, off, size int64) (Header, bool, int64, error) {
	hdr, err := readHeaderAt(bf.f, off)
	if err != nil {
		return Header{}, false, size, err
	}
	if hdr.Magic != cmn.BucketMagicHeader {
		next, err := resync(bf, off+Align, size)
		return Header{}, false, next, err
	}
	end := off + Size(hdr.Length)
	if end > size {
		next, err := resync(bf, off+Align, size)
		return Header{}, false, next, err
	}
	var trailer [TrailerSize]byte
	if _, err := bf.f.ReadAt(trailer[:], end-TrailerSize); err != nil {
		return Header{}, false, size, err
	}
	if decodeHeader(trailer[:]).Magic != cmn.BucketMagicTrailer {
		next, err := resync(bf, off+Align, size)
		return Header{}, false, next, err
	}
	return hdr, true, 0, nil
}

// resync scans forward by alignment steps looking for the next offset that
// carries a header magic, so a single garbled bucket doesn't desync the
// whole rest of the file.
func resync(bf *File, from, size int64) (int64, error) {
	for off := from; off < size; off += Align {
		hdr, err := readHeaderAt(bf.f, off)
		if err != nil {
			return size, err
		}
		if hdr.Magic == cmn.BucketMagicHeader {
			return off, nil
		}
	}
	return size, nil
}

func writeSyntheticDeleted(bf *File, off, next int64) error {
	gap := next - off
	if gap < Size(0) {
		return fmt.Errorf("fsck: unreadable span too small to repair at %d", off)
	}
	length := uint32(gap - HeaderSize - TrailerSize)
	hdr := Header{Magic: cmn.BucketMagicHeader, Oid: cmn.OidDeleted, Length: length, Type: 0}
	if _, err := bf.f.WriteAt(encodeHeader(hdr), off); err != nil {
		return err
	}
	trailer := make([]byte, TrailerSize)
	leBytes(trailer, cmn.BucketMagicTrailer)
	_, err := bf.f.WriteAt(trailer, off+HeaderSize+align(int64(length)))
	return err
}
