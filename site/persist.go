/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package site

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/cmn/cos"
)

// fixedRecSize is the binary size of one site_list_entry excluding its
// NUL-terminated host string (spec §6.2: "sites" file = magic + array of
// site_list_entry records, each followed by a NUL-terminated host name).
const fixedRecSize = 4*4 + 4 + 2 + 2 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 1

// Load reads a "sites" file into a fresh Table.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewTable(), nil
		}
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	magic, err := cos.ReadU32(r)
	if err != nil {
		return nil, err
	}
	if magic != cmn.SitesMagic {
		return nil, fmt.Errorf("sites file %s: bad magic %#x", path, magic)
	}
	t := NewTable()
	for {
		s, err := readOne(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		t.Put(s)
	}
	return t, nil
}

func readOne(r *bufio.Reader) (*Site, error) {
	var hdr [fixedRecSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	host, err := r.ReadString(0)
	if err != nil {
		return nil, err
	}
	host = host[:len(host)-1] // drop the NUL

	s := &Site{}
	off := 0
	s.FP[0] = binary.LittleEndian.Uint32(hdr[off:])
	off += 4
	s.FP[1] = binary.LittleEndian.Uint32(hdr[off:])
	off += 4
	s.NormFP[0] = binary.LittleEndian.Uint32(hdr[off:])
	off += 4
	s.NormFP[1] = binary.LittleEndian.Uint32(hdr[off:])
	off += 4
	s.Skey = binary.LittleEndian.Uint32(hdr[off:])
	off += 4
	s.Port = binary.LittleEndian.Uint16(hdr[off:])
	off += 2
	s.Channels = uint8(hdr[off])
	off += 2
	s.SoftLimit = int(int32(binary.LittleEndian.Uint32(hdr[off:])))
	off += 4
	s.HardLimit = int(int32(binary.LittleEndian.Uint32(hdr[off:])))
	off += 4
	s.FreshLimit = int(int32(binary.LittleEndian.Uint32(hdr[off:])))
	off += 4
	s.MinDelay = binary.LittleEndian.Uint32(hdr[off:])
	off += 4
	s.QueueBonus = int(int32(binary.LittleEndian.Uint32(hdr[off:])))
	off += 4
	s.SelectBonus = int(int32(binary.LittleEndian.Uint32(hdr[off:])))
	off += 4
	s.MaxConn = int(int32(binary.LittleEndian.Uint32(hdr[off:])))
	off += 4
	flags := hdr[off]
	s.Monitor = flags&1 != 0
	s.Rejected = flags&2 != 0
	s.Host = host
	s.Proto = "http"
	return s, nil
}

// Save is idempotent: when the in-memory table only updated stats, callers
// are expected to have already merged unfiltered fields from the on-disk
// file by footprint (spec §4.3) before calling Save, so a plain save here
// never loses filter-assigned fields.
func Save(path string, t *Table) error {
	tmp := path + ".tmp." + cos.GenTie()
	f, err := cos.CreateFile(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := cos.PutU32(w, cmn.SitesMagic); err != nil {
		cos.Close(f)
		return err
	}
	var werr error
	t.Range(func(s *Site) bool {
		werr = writeOne(w, s)
		return werr == nil
	})
	if werr != nil {
		cos.Close(f)
		_ = cos.RemoveFile(tmp)
		return werr
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

func writeOne(w *bufio.Writer, s *Site) error {
	var hdr [fixedRecSize]byte
	off := 0
	binary.LittleEndian.PutUint32(hdr[off:], s.FP[0])
	off += 4
	binary.LittleEndian.PutUint32(hdr[off:], s.FP[1])
	off += 4
	binary.LittleEndian.PutUint32(hdr[off:], s.NormFP[0])
	off += 4
	binary.LittleEndian.PutUint32(hdr[off:], s.NormFP[1])
	off += 4
	binary.LittleEndian.PutUint32(hdr[off:], s.Skey)
	off += 4
	binary.LittleEndian.PutUint16(hdr[off:], s.Port)
	off += 2
	hdr[off] = s.Channels
	off += 2
	binary.LittleEndian.PutUint32(hdr[off:], uint32(int32(s.SoftLimit)))
	off += 4
	binary.LittleEndian.PutUint32(hdr[off:], uint32(int32(s.HardLimit)))
	off += 4
	binary.LittleEndian.PutUint32(hdr[off:], uint32(int32(s.FreshLimit)))
	off += 4
	binary.LittleEndian.PutUint32(hdr[off:], s.MinDelay)
	off += 4
	binary.LittleEndian.PutUint32(hdr[off:], uint32(int32(s.QueueBonus)))
	off += 4
	binary.LittleEndian.PutUint32(hdr[off:], uint32(int32(s.SelectBonus)))
	off += 4
	binary.LittleEndian.PutUint32(hdr[off:], uint32(int32(s.MaxConn)))
	off += 4
	var flags byte
	if s.Monitor {
		flags |= 1
	}
	if s.Rejected {
		flags |= 2
	}
	hdr[off] = flags
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.WriteString(s.Host); err != nil {
		return err
	}
	return w.WriteByte(0)
}

// MergeUnfiltered merges new's filter-derived fields onto the fields of
// the on-disk table that the filter never touches (limits, bonuses,
// monitor, refresh_schema), matching spec §4.3's idempotent-save rule:
// "when only stats are updated, merge with the on-disk file by footprint
// so unfiltered fields survive."
func MergeUnfiltered(onDisk, fresh *Site) {
	fresh.SoftLimit = onDisk.SoftLimit
	fresh.HardLimit = onDisk.HardLimit
	fresh.FreshLimit = onDisk.FreshLimit
	fresh.QueueBonus = onDisk.QueueBonus
	fresh.SelectBonus = onDisk.SelectBonus
	fresh.MaxConn = onDisk.MaxConn
	fresh.Monitor = onDisk.Monitor
	fresh.RefreshSchema = onDisk.RefreshSchema
	fresh.RefreshBoost = onDisk.RefreshBoost
	fresh.NormFP = onDisk.NormFP
}
