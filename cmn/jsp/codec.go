/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package jsp

import (
	"encoding/hex"
	"hash"
	"io"

	"github.com/holmesengine/shepherd/cmn/cos"
	jsoniter "github.com/json-iterator/go"
)

type (
	// Options controls how a given value is persisted: plain JSON, or
	// JSON trailed by a checksum and a version/signature preamble.
	Options struct {
		Checksum bool
		Signature bool
		Metaversion int
	}

	// Opts is implemented by any metadata struct that knows its own
	// persistence options (mirrors the teacher's SaveMeta/LoadMeta pair).
	Opts interface {
		JspOpts() Options
	}
)

// CCSign returns the options used by every checksummed+versioned metadata
// file Shepherd persists (the state checkpoint record). cmn.Config also
// returns them from JspOpts, but config files are decoded with plain jsoniter.
func CCSign(metaversion int) Options {
	return Options{Checksum: true, Signature: true, Metaversion: metaversion}
}

// Plain returns options for a value persisted as bare JSON with no framing.
func Plain() Options { return Options{} }

func Encode(w io.Writer, v interface{}, opts Options) error {
	if opts.Signature {
		if _, err := io.WriteString(w, signature); err != nil {
			return err
		}
		if err := cos.PutU64(w, uint64(Metaver)); err != nil {
			return err
		}
		if err := cos.PutU64(w, uint64(opts.Metaversion)); err != nil {
			return err
		}
	}
	var h hash.Hash
	out := w
	if opts.Checksum {
		h = cos.NewCksumHash(cos.ChecksumCRC32C)
		out = io.MultiWriter(w, h)
	}
	enc := jsoniter.NewEncoder(out)
	if err := enc.Encode(v); err != nil {
		return err
	}
	if opts.Checksum {
		sum := cos.NewCksum(cos.ChecksumCRC32C, sumHex(h))
		if _, err := io.WriteString(w, "\n#cksum:"+sum.Value()+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func Decode(r io.Reader, v interface{}, opts Options, source string) (*cos.Cksum, error) {
	if opts.Signature {
		sig := make([]byte, len(signature))
		if _, err := io.ReadFull(r, sig); err != nil {
			return nil, err
		}
		if string(sig) != signature {
			return nil, &cos.ErrBadCksum{}
		}
		if _, err := cos.ReadU64(r); err != nil {
			return nil, err
		}
		if _, err := cos.ReadU64(r); err != nil {
			return nil, err
		}
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	payload := body
	var expected *cos.Cksum
	if opts.Checksum {
		payload, expected = splitTrailer(body)
	}
	if err := jsoniter.Unmarshal(payload, v); err != nil {
		return nil, err
	}
	if opts.Checksum && expected != nil {
		h := cos.NewCksumHash(cos.ChecksumCRC32C)
		_, _ = h.Write(payload)
		actual := cos.NewCksum(cos.ChecksumCRC32C, sumHex(h))
		if !actual.Equal(expected) {
			return nil, &cos.ErrBadCksum{Expected: expected, Actual: actual}
		}
		return actual, nil
	}
	return nil, nil
}

func sumHex(h hash.Hash) string {
	if h == nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

// splitTrailer strips the "#cksum:<value>" trailer appended by Encode and
// returns the remaining payload plus the parsed checksum, if present.
func splitTrailer(body []byte) ([]byte, *cos.Cksum) {
	const marker = "\n#cksum:"
	idx := lastIndex(body, marker)
	if idx < 0 {
		return body, nil
	}
	payload := body[:idx]
	rest := body[idx+len(marker):]
	for len(rest) > 0 && (rest[len(rest)-1] == '\n') {
		rest = rest[:len(rest)-1]
	}
	return payload, cos.NewCksum(cos.ChecksumCRC32C, string(rest))
}

func lastIndex(body []byte, marker string) int {
	for i := len(body) - len(marker); i >= 0; i-- {
		if string(body[i:i+len(marker)]) == marker {
			return i
		}
	}
	return -1
}
