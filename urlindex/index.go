/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package urlindex

import (
	"bufio"
	"io"
	"os"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/cmn/cos"
	"github.com/holmesengine/shepherd/footprint"
)

// Index is a tightly-packed array of url_state records (spec §6.2's
// "index" file), read whole into memory. The journal (spec §3.6) and the
// plan entry list share the same record shape but are append-only and
// not held in this structure.
type Index struct {
	Records []*Record
}

// Load reads path (an "index" or "journal" file) in full, or returns an
// empty Index if path does not exist (a fresh state directory).
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Index{}, nil
		}
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	idx := &Index{}
	for {
		rec, err := Decode(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		idx.Records = append(idx.Records, rec)
	}
	return idx, nil
}

// Save writes idx to path atomically (temp file + rename), matching the
// write pattern every other state-directory file in this module uses.
func Save(path string, idx *Index) error {
	tmp := path + ".tmp." + cos.GenTie()
	f, err := cos.CreateFile(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, rec := range idx.Records {
		if err := rec.Encode(w); err != nil {
			cos.Close(f)
			_ = cos.RemoveFile(tmp)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		cos.Close(f)
		return err
	}
	if err := cos.FlushClose(f); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// AppendJournal opens path in append mode and writes one record, matching
// the reaper's "append one url_state per completed job" contract (spec
// §3.6).
func AppendJournal(path string, rec *Record) error {
	f, err := cos.OpenAppend(path)
	if err != nil {
		return err
	}
	defer cos.Close(f)
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	return rec.Encode(f)
}

// IsSorted checks the invariant a closed state's index must uphold (spec
// §8 "Index total order"): strictly increasing footprint order, with
// distinct non-SKEY footprints.
func IsSorted(idx *Index) bool {
	for i := 1; i < len(idx.Records); i++ {
		prev, cur := idx.Records[i-1], idx.Records[i]
		c := footprint.Cmp(prev.FP, cur.FP)
		if c > 0 {
			return false
		}
		if c == 0 && prev.Type != cmn.TypeSkey && cur.Type != cmn.TypeSkey {
			return false
		}
	}
	return true
}
