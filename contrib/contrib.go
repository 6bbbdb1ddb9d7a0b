// Package contrib implements the append-only contribution store (spec
// §3.4) and the content-filter gate (`verify_contrib`, spec §4.4) that
// every reference extracted from a downloaded page passes through before
// it is queued to become a candidate URL.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package contrib

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/holmesengine/shepherd/cmn/cos"
	"github.com/holmesengine/shepherd/footprint"
)

// Entry is one contribution record: a candidate reference discovered on a
// downloaded page, padded to 16 bytes on disk (spec §3.4).
type Entry struct {
	FP      footprint.FP
	Area    uint16
	Weight  uint8
	Section uint16
	Flags   uint16
	URL     string
}

const fixedEntrySize = 4*4 + 2 + 1 + 2 + 2 // fp(16) + area(2) + weight(1) + section(2) + flags(2)

// Encode writes e 16-byte aligned: fixed fields, then the URL, then NUL
// padding out to the next 16-byte boundary (spec §6.2 "contrib: stream of
// contribution records, 16-byte aligned").
func (e *Entry) Encode(w io.Writer) error {
	var hdr [fixedEntrySize]byte
	off := 0
	binary.LittleEndian.PutUint32(hdr[off:], e.FP.Site[0])
	off += 4
	binary.LittleEndian.PutUint32(hdr[off:], e.FP.Site[1])
	off += 4
	binary.LittleEndian.PutUint32(hdr[off:], e.FP.Rest[0])
	off += 4
	binary.LittleEndian.PutUint32(hdr[off:], e.FP.Rest[1])
	off += 4
	binary.LittleEndian.PutUint16(hdr[off:], e.Area)
	off += 2
	hdr[off] = e.Weight
	off++
	binary.LittleEndian.PutUint16(hdr[off:], e.Section)
	off += 2
	binary.LittleEndian.PutUint16(hdr[off:], e.Flags)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	urlLen := uint16(len(e.URL))
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], urlLen)
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, e.URL); err != nil {
		return err
	}
	total := fixedEntrySize + 2 + len(e.URL)
	padded := cos.CeilAlign(int64(total), 16)
	if n := padded - int64(total); n > 0 {
		if _, err := w.Write(make([]byte, n)); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads one Entry written by Encode.
func Decode(r io.Reader) (*Entry, error) {
	var hdr [fixedEntrySize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	e := &Entry{}
	off := 0
	e.FP.Site[0] = binary.LittleEndian.Uint32(hdr[off:])
	off += 4
	e.FP.Site[1] = binary.LittleEndian.Uint32(hdr[off:])
	off += 4
	e.FP.Rest[0] = binary.LittleEndian.Uint32(hdr[off:])
	off += 4
	e.FP.Rest[1] = binary.LittleEndian.Uint32(hdr[off:])
	off += 4
	e.Area = binary.LittleEndian.Uint16(hdr[off:])
	off += 2
	e.Weight = hdr[off]
	off++
	e.Section = binary.LittleEndian.Uint16(hdr[off:])
	off += 2
	e.Flags = binary.LittleEndian.Uint16(hdr[off:])

	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	urlLen := binary.LittleEndian.Uint16(lenBuf[:])
	raw := make([]byte, urlLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, err
	}
	e.URL = string(raw)

	total := fixedEntrySize + 2 + int(urlLen)
	padded := cos.CeilAlign(int64(total), 16)
	if n := padded - int64(total); n > 0 {
		if _, err := io.CopyN(io.Discard, r, n); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AppendFile opens path for append, writing entries as they are produced
// by the reaper (one open handle per reap worker is fine: the file is
// append-only and offsets are never reused within a cycle).
type AppendFile struct {
	f *os.File
	w *bufio.Writer
}

func OpenAppend(path string) (*AppendFile, error) {
	f, err := cos.OpenAppend(path)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		cos.Close(f)
		return nil, err
	}
	return &AppendFile{f: f, w: bufio.NewWriter(f)}, nil
}

func (af *AppendFile) Append(e *Entry) error { return e.Encode(af.w) }

func (af *AppendFile) Flush() error {
	if err := af.w.Flush(); err != nil {
		return err
	}
	return af.f.Sync()
}

func (af *AppendFile) Close() error {
	if err := af.Flush(); err != nil {
		cos.Close(af.f)
		return err
	}
	return af.f.Close()
}

// Scan reads every entry in path in order, for the merge stage.
func Scan(path string) ([]*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var out []*Entry
	for {
		e, err := Decode(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Filter is the external content filter Shepherd calls into (spec §4.4
// step 3): given URL parts and classification bindings, accept/reject a
// candidate and optionally rewrite it.
type Filter interface {
	// Verify runs the content filter. On rejection, ok is false and msg/
	// code describe why. When wantXform is true and the filter rewrote
	// the URL, rewritten holds the new URL.
	Verify(u *url.URL, section, area uint16, bindings map[string]string, wantXform bool) (ok bool, rewritten *url.URL, code int, msg string)
}

// VerifyContrib implements `verify_contrib(url, want_xform)` (spec §4.4):
// canonicalise, classify, run the filter, and optionally re-canonicalise
// a filter rewrite.
func VerifyContrib(filt Filter, raw string, section, area uint16, bindings map[string]string, wantXform bool) (canon *url.URL, code int, err error) {
	u, perr := url.Parse(raw)
	if perr != nil || u.Scheme == "" || u.Host == "" {
		return nil, 1, fmt.Errorf("contrib: invalid URL %q: %v", raw, perr)
	}
	canon = canonicalize(u)
	ok, rewritten, fcode, fmsg := filt.Verify(canon, section, area, bindings, wantXform)
	if !ok {
		return nil, fcode, fmt.Errorf("contrib: filter rejected %q: %s", raw, fmsg)
	}
	if wantXform && rewritten != nil {
		canon = canonicalize(rewritten)
	}
	return canon, 0, nil
}

// canonicalize normalizes scheme/host case and default-path the way
// footprint.Of does, so a contribution's footprint matches what the
// reaper/select stages compute for the same URL.
func canonicalize(u *url.URL) *url.URL {
	out := *u
	out.Scheme = strings.ToLower(out.Scheme)
	out.Host = strings.ToLower(out.Host)
	if out.Path == "" {
		out.Path = "/"
	}
	return &out
}
