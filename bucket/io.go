/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package bucket

import (
	"bytes"
	"io"

	"github.com/holmesengine/shepherd/cmn"
)

// FindByOid reads exactly one bucket's header, failing if the magic does
// not match or the oid backlink names neither oid nor a deleted bucket.
// A deleted bucket's header is returned as-is, with Oid == OidDeleted.
func (bf *File) FindByOid(oid uint32) (Header, error) {
	var hdr Header
	err := bf.withReadLock(func() error {
		off := OidToOffset(oid)
		h, err := readHeaderAt(bf.f, off)
		if err != nil {
			return err
		}
		if h.Magic != cmn.BucketMagicHeader {
			return &ErrCorrupted{Path: bf.path, Offset: off, Reason: "magic mismatch on find_by_oid"}
		}
		if h.Oid != oid && h.Oid != cmn.OidDeleted {
			return &ErrCorrupted{Path: bf.path, Offset: off, Reason: "oid backlink mismatch"}
		}
		hdr = h
		return nil
	})
	return hdr, err
}

// Fetch returns a reader over the body of oid plus its header.
func (bf *File) Fetch(oid uint32) (Header, io.Reader, error) {
	hdr, err := bf.FindByOid(oid)
	if err != nil {
		return Header{}, nil, err
	}
	if hdr.Oid == cmn.OidDeleted {
		return hdr, nil, &ErrCorrupted{Path: bf.path, Offset: OidToOffset(oid), Reason: "bucket deleted"}
	}
	body := make([]byte, hdr.Length)
	off := OidToOffset(oid) + HeaderSize
	if _, err := bf.f.ReadAt(body, off); err != nil {
		return Header{}, nil, err
	}
	return hdr, bytes.NewReader(body), nil
}

// Writer accumulates one bucket's body before Create/CreateEnd commits it.
type Writer struct {
	bf   *File
	buf  bytes.Buffer
	kind uint32
}

func (w *Writer) Write(p []byte) (int, error) { return w.buf.Write(p) }

// Create begins a new bucket append.
func (bf *File) Create() (*Writer, error) {
	if !bf.writable {
		return nil, io.ErrClosedPipe
	}
	return &Writer{bf: bf}, nil
}

// CreateEnd commits w as a single bucket of the given type, aborting the
// whole append (no partial bytes left visible) if max_size would be
// crossed.
func (bf *File) CreateEnd(w *Writer, btype uint32) (Header, error) {
	var hdr Header
	err := bf.withAppendLock(func() error {
		size, err := bf.size()
		if err != nil {
			return err
		}
		length := uint32(w.buf.Len())
		total := Size(length)
		if bf.maxSize > 0 && size+total > bf.maxSize {
			return ErrMaxSize
		}
		oid := OffsetToOid(size)
		hdr = Header{Magic: cmn.BucketMagicHeader, Oid: oid, Length: length, Type: btype}
		if _, err := bf.f.WriteAt(encodeHeader(hdr), size); err != nil {
			return err
		}
		if _, err := bf.f.WriteAt(w.buf.Bytes(), size+HeaderSize); err != nil {
			return err
		}
		padded := align(int64(length))
		if padded > int64(length) {
			pad := make([]byte, padded-int64(length))
			if _, err := bf.f.WriteAt(pad, size+HeaderSize+int64(length)); err != nil {
				return err
			}
		}
		trailer := make([]byte, TrailerSize)
		leBytes(trailer, cmn.BucketMagicTrailer)
		if _, err := bf.f.WriteAt(trailer, size+HeaderSize+padded); err != nil {
			return err
		}
		return bf.f.Sync()
	})
	if err != nil {
		return Header{}, err
	}
	return hdr, nil
}

func leBytes(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Delete overwrites oid's header field with DELETED, leaving the slot.
func (bf *File) Delete(oid uint32) error {
	return bf.withAppendLock(func() error {
		hdr, err := bf.FindByOid(oid)
		if err != nil {
			return err
		}
		hdr.Oid = cmn.OidDeleted
		_, err = bf.f.WriteAt(encodeHeader(hdr), OidToOffset(oid))
		return err
	})
}

// Scanner streams bucket headers/bodies from a starting oid, independent
// of other readers (spec §4.1's slurp/slurp_end), holding the scan lock
// (byte 1) for its lifetime — compatible with concurrent appenders.
type Scanner struct {
	bf   *File
	off  int64
	size int64
}

// Slurp begins a streaming scan. nextOid == nil scans from the start.
func (bf *File) Slurp(nextOid *uint32) (*Scanner, error) {
	if err := lockRead(bf.f, lockByteScan); err != nil {
		return nil, err
	}
	size, err := bf.size()
	if err != nil {
		unlock(bf.f, lockByteScan)
		return nil, err
	}
	off := int64(0)
	if nextOid != nil {
		off = OidToOffset(*nextOid)
	}
	return &Scanner{bf: bf, off: off, size: size}, nil
}

// Next returns the next live-or-deleted bucket, or io.EOF.
func (s *Scanner) Next() (Header, []byte, error) {
	if s.off >= s.size {
		return Header{}, nil, io.EOF
	}
	hdr, err := readHeaderAt(s.bf.f, s.off)
	if err != nil {
		return Header{}, nil, err
	}
	if hdr.Magic != cmn.BucketMagicHeader {
		return Header{}, nil, &ErrCorrupted{Path: s.bf.path, Offset: s.off, Reason: "magic mismatch during scan"}
	}
	body := make([]byte, hdr.Length)
	if hdr.Oid != cmn.OidDeleted {
		if _, err := s.bf.f.ReadAt(body, s.off+HeaderSize); err != nil {
			return Header{}, nil, err
		}
	}
	s.off += Size(hdr.Length)
	return hdr, body, nil
}

// SlurpEnd releases the scan lock.
func (s *Scanner) SlurpEnd() error {
	return unlock(s.bf.f, lockByteScan)
}
