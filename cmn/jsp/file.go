// Package jsp (JSON persistence) provides utilities to store and load
// arbitrary JSON-encoded structures with optional checksumming and a
// version/signature preamble. Shepherd uses it for the handful of
// internal, never-hand-edited metadata files that must survive a killed
// process mid-write without silently loading a truncated result: a
// state directory's checkpoint record (state.Checkpoint) is the current
// caller.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package jsp

import (
	"errors"
	"io"
	"os"
	"reflect"

	"github.com/golang/glog"
	"github.com/holmesengine/shepherd/cmn/cos"
	"github.com/holmesengine/shepherd/cmn/debug"
)

const (
	signature = "shepherd" // file signature
	//                              0 ---------------- 63  64 ------ 95 | 96 ------ 127
	prefLen = 2 * cos.SizeofI64 // [ signature | jsp ver | meta version |   bit flags  ]

	Metaver = 1 // current JSP version
)

// SaveMeta writes meta to filepath under the options meta itself names,
// wrapping Save.
func SaveMeta(filepath string, meta Opts, wto io.WriterTo) error {
	return Save(filepath, meta, meta.JspOpts(), wto)
}

// Save writes v (or, if wto is non-nil, whatever wto knows how to
// stream) to filepath via a temp file plus rename, so a reader never
// observes a partially-written file: either the old contents or the
// new ones, never a mix.
func Save(filepath string, v interface{}, opts Options, wto io.WriterTo) error {
	tmp := filepath + ".tmp." + cos.GenTie()
	file, err := cos.CreateFile(tmp)
	if err != nil {
		return err
	}

	if wto != nil && !reflect.ValueOf(wto).IsNil() {
		_, err = wto.WriteTo(file)
	} else {
		debug.Assert(v != nil)
		err = Encode(file, v, opts)
	}
	if err != nil {
		glog.Errorf("jsp: encode %s: %v", filepath, err)
		cos.Close(file)
		removeStale(tmp, err)
		return err
	}
	if err := cos.FlushClose(file); err != nil {
		glog.Errorf("jsp: flush and close %s: %v", tmp, err)
		removeStale(tmp, err)
		return err
	}
	return os.Rename(tmp, filepath)
}

func removeStale(tmp string, cause error) {
	if rmErr := cos.RemoveFile(tmp); rmErr != nil {
		glog.Errorf("jsp: cleanup after %v: failed to remove %s: %v", cause, tmp, rmErr)
	}
}

// LoadMeta reads filepath into meta under the options meta itself names,
// wrapping Load.
func LoadMeta(filepath string, meta Opts) (*cos.Cksum, error) {
	return Load(filepath, meta, meta.JspOpts())
}

// Load reads filepath into v. A checksum mismatch removes the corrupt
// file outright rather than leaving a half-trusted copy around for the
// next reader to also trip over: Shepherd's checkpoint files are
// regenerated every cycle, so there is nothing to recover, only
// something stale to clear.
func Load(filepath string, v interface{}, opts Options) (*cos.Cksum, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	checksum, err := Decode(file, v, opts, filepath)
	if err == nil {
		return checksum, nil
	}
	var badCksum *cos.ErrBadCksum
	if errors.As(err, &badCksum) {
		if rmErr := os.Remove(filepath); rmErr == nil {
			glog.Errorf("jsp: bad checksum, removed %s", filepath)
		} else {
			glog.Errorf("jsp: bad checksum, failed to remove %s: %v", filepath, rmErr)
		}
	}
	return nil, err
}
