/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package bucket

import (
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"
	"github.com/holmesengine/shepherd/cmn"
)

// KeepResult is what a Shakedown callback returns for one bucket.
type KeepResult int

const (
	Drop        KeepResult = 0
	Keep        KeepResult = 1
	KeepChanged KeepResult = 2 // body rewritten (shorter); trailer recomputed
)

// ShakedownCallback decides the fate of one bucket during compaction and,
// for KeepChanged, returns the replacement (possibly shorter) body.
type ShakedownCallback func(old Header, newOid uint32, body []byte) (KeepResult, []byte)

// SecurityLevel selects how conservatively Shakedown protects against a
// mid-rewrite crash (spec §4.1).
type SecurityLevel int

const (
	// Level1 syncs after each rewrite window but keeps no backup.
	Level1 SecurityLevel = 1
	// Level2 additionally backs up each window to EOF before overwriting,
	// so a crash mid-window can be recovered by truncating back to the
	// backup and replaying.
	Level2 SecurityLevel = 2
)

// Shakedown rewrites the file in place: for every live bucket it calls cb,
// keeping it (possibly rewritten) or dropping it, then truncates the file
// to the new length. It takes the exclusive write lock for the duration.
func (bf *File) Shakedown(cb ShakedownCallback, level SecurityLevel) error {
	return bf.withAppendLock(func() error {
		size, err := bf.size()
		if err != nil {
			return err
		}
		writeOff := int64(0)
		readOff := int64(0)
		windowStart := int64(0)

		flushWindow := func(upto int64) error {
			if level == Level2 && upto > windowStart {
				if err := bf.backupWindow(windowStart, upto, size); err != nil {
					return err
				}
			}
			if err := bf.f.Sync(); err != nil {
				return err
			}
			windowStart = upto
			return nil
		}

		for readOff < size {
			hdr, err := readHeaderAt(bf.f, readOff)
			if err != nil {
				return err
			}
			if hdr.Magic != cmn.BucketMagicHeader {
				return &ErrCorrupted{Path: bf.path, Offset: readOff, Reason: "magic mismatch during shakedown"}
			}
			bucketLen := Size(hdr.Length)
			if hdr.Oid == cmn.OidDeleted {
				readOff += bucketLen
				continue
			}
			body := make([]byte, hdr.Length)
			if _, err := bf.f.ReadAt(body, readOff+HeaderSize); err != nil {
				return err
			}
			newOid := OffsetToOid(writeOff)
			keep, newBody := cb(hdr, newOid, body)
			switch keep {
			case Drop:
				// nothing written; slot disappears from the compacted file
			case Keep, KeepChanged:
				if keep == Keep {
					newBody = body
				}
				newHdr := Header{Magic: cmn.BucketMagicHeader, Oid: newOid, Length: uint32(len(newBody)), Type: hdr.Type}
				if err := bf.writeBucketAt(writeOff, newHdr, newBody); err != nil {
					return err
				}
				writeOff += Size(newHdr.Length)
			default:
				return fmt.Errorf("shakedown: unknown keep result %d", keep)
			}
			readOff += bucketLen
			if readOff-windowStart >= ShakeBufSize {
				if err := flushWindow(readOff); err != nil {
					return err
				}
			}
		}
		if err := flushWindow(readOff); err != nil {
			return err
		}
		if err := bf.f.Truncate(writeOff); err != nil {
			return err
		}
		glog.Infof("shakedown %s: %d -> %d bytes", bf.path, size, writeOff)
		return nil
	})
}

func (bf *File) writeBucketAt(off int64, hdr Header, body []byte) error {
	if _, err := bf.f.WriteAt(encodeHeader(hdr), off); err != nil {
		return err
	}
	if _, err := bf.f.WriteAt(body, off+HeaderSize); err != nil {
		return err
	}
	padded := align(int64(len(body)))
	if padded > int64(len(body)) {
		pad := make([]byte, padded-int64(len(body)))
		if _, err := bf.f.WriteAt(pad, off+HeaderSize+int64(len(body))); err != nil {
			return err
		}
	}
	trailer := make([]byte, TrailerSize)
	leBytes(trailer, cmn.BucketMagicTrailer)
	_, err := bf.f.WriteAt(trailer, off+HeaderSize+padded)
	return err
}

// backupWindow copies [from,to) to a ".shake-backup" file appended at its
// current EOF, so a crash mid-rewrite can be recovered by truncating the
// main file back to `from` and replaying the backed-up bytes.
func (bf *File) backupWindow(from, to, _ int64) error {
	bak, err := os.OpenFile(bf.path+".shake-backup", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer bak.Close()
	buf := make([]byte, to-from)
	if _, err := bf.f.ReadAt(buf, from); err != nil && err != io.EOF {
		return err
	}
	_, err = bak.Write(buf)
	return err
}
