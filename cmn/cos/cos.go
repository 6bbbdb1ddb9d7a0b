// Package cos provides low-level file, checksum and id-generation helpers
// shared by every Shepherd component that touches a state directory file.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"

	"github.com/teris-io/shortid"
)

const (
	SizeofI64 = 8
	SizeofI32 = 4
)

var tieGen *shortid.Shortid

func init() {
	sid, err := shortid.New(1, shortid.DefaultABC, 2342)
	if err != nil {
		panic(err)
	}
	tieGen = sid
}

// GenTie returns a short, process-unique tie-breaker string used to
// disambiguate temp/workfile names.
func GenTie() string {
	id, err := tieGen.Generate()
	if err != nil {
		// shortid only fails on generator exhaustion across ~2^entropy calls;
		// falling back to "x<pid>" keeps callers from having to handle this.
		return fmt.Sprintf("x%d", os.Getpid())
	}
	return id
}

// CreateFile creates filepath for writing, truncating any existing file.
func CreateFile(filepath string) (*os.File, error) {
	return os.OpenFile(filepath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// OpenAppend opens filepath read-write, creating it if necessary. O_APPEND
// is not set and the offset starts at 0, so callers seek to the end
// before appending.
func OpenAppend(filepath string) (*os.File, error) {
	return os.OpenFile(filepath, os.O_CREATE|os.O_RDWR, 0o644)
}

// FlushClose syncs and closes f, returning the first error encountered.
func FlushClose(f *os.File) error {
	errSync := f.Sync()
	errClose := f.Close()
	if errSync != nil {
		return errSync
	}
	return errClose
}

// Close closes c, logging nothing and swallowing the error - used in defers
// where the caller has already captured its own error.
func Close(c io.Closer) {
	_ = c.Close()
}

// RemoveFile removes filepath, treating "already gone" as success.
func RemoveFile(filepath string) error {
	if err := os.Remove(filepath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Cksum is a checksum value tagged with its algorithm.
type Cksum struct {
	ty    string
	value string
}

const (
	ChecksumCRC32C = "crc32c"
	ChecksumMD5    = "md5"
)

func NewCksum(ty, value string) *Cksum { return &Cksum{ty: ty, value: value} }
func (c *Cksum) Type() string          { return c.ty }
func (c *Cksum) Value() string         { return c.value }
func (c *Cksum) Equal(o *Cksum) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.ty == o.ty && c.value == o.value
}

// ErrBadCksum is returned when a file's trailing/embedded checksum does not
// match its recomputed value.
type ErrBadCksum struct {
	Expected *Cksum
	Actual   *Cksum
}

func (e *ErrBadCksum) Error() string {
	if e.Expected == nil || e.Actual == nil {
		return "bad checksum"
	}
	return fmt.Sprintf("bad checksum: expected %s:%s, got %s:%s",
		e.Expected.Type(), e.Expected.Value(), e.Actual.Type(), e.Actual.Value())
}

func (e *ErrBadCksum) Is(target error) bool {
	_, ok := target.(*ErrBadCksum)
	return ok
}

// NewCksumHash returns a new running hash for the given checksum type.
func NewCksumHash(ty string) hash.Hash {
	switch ty {
	case ChecksumMD5:
		return md5.New()
	default:
		return crc32.New(crc32.MakeTable(crc32.Castagnoli))
	}
}

// PutU32 / PutU64 write little-endian integers, matching the wire/bucket
// framing conventions used throughout the state directory file formats.
func PutU32(w io.Writer, v uint32) error {
	var b [SizeofI32]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func PutU64(w io.Writer, v uint64) error {
	var b [SizeofI64]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func ReadU32(r io.Reader) (uint32, error) {
	var b [SizeofI32]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func ReadU64(r io.Reader) (uint64, error) {
	var b [SizeofI64]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// CeilAlign rounds n up to the next multiple of align (align must be a power of two).
func CeilAlign(n, align int64) int64 {
	return (n + align - 1) &^ (align - 1)
}
