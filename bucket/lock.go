/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package bucket

import (
	"os"

	"golang.org/x/sys/unix"
)

// Byte positions used for fcntl byte-range locks (spec §3.10): byte 0
// coordinates writers (append) against each other and against readers;
// byte 1 coordinates the scanner, which is compatible with appenders.
const (
	lockByteAppend = 0
	lockByteScan   = 1
)

func flock(f *os.File, byteOffset int64, ltype int16, wait bool) error {
	how := unix.F_SETLK
	if wait {
		how = unix.F_SETLKW
	}
	fl := unix.Flock_t{
		Type:   ltype,
		Whence: 0,
		Start:  byteOffset,
		Len:    1,
	}
	return unix.FcntlFlock(f.Fd(), how, &fl)
}

func lockRead(f *os.File, byteOffset int64) error {
	return flock(f, byteOffset, unix.F_RDLCK, true)
}

func lockWrite(f *os.File, byteOffset int64) error {
	return flock(f, byteOffset, unix.F_WRLCK, true)
}

func unlock(f *os.File, byteOffset int64) error {
	return flock(f, byteOffset, unix.F_UNLCK, true)
}

// withAppendLock runs fn while holding byte-0 in write mode (readers and
// other appenders excluded); threaded callers additionally serialize via
// bf.mu since fcntl locks are per-process, not per-goroutine (spec §5).
func (bf *File) withAppendLock(fn func() error) error {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	if err := lockWrite(bf.f, lockByteAppend); err != nil {
		return err
	}
	defer unlock(bf.f, lockByteAppend)
	return fn()
}

func (bf *File) withReadLock(fn func() error) error {
	if err := lockRead(bf.f, lockByteAppend); err != nil {
		return err
	}
	defer unlock(bf.f, lockByteAppend)
	return fn()
}

func (bf *File) withScanLock(fn func() error) error {
	if err := lockRead(bf.f, lockByteScan); err != nil {
		return err
	}
	defer unlock(bf.f, lockByteScan)
	return fn()
}
