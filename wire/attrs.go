/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

// Attr is one V33 attribute: a single-byte tag plus its string value
// (spec §4.12: "each attribute is (utf8 length-including-tag) (bytes)
// (1-byte tag)").
type Attr struct {
	Tag   byte
	Value string
}

// EncodeAttrs packs attrs into a V33 attribute blob: each attribute is
// its value bytes followed by its tag byte, preceded by that combined
// length UTF-8-encoded as if it were a Unicode code point (the original
// implementation's "utf8_32" integer framing, reused here verbatim so
// the wire bytes match byte-for-byte with what a reference decoder
// expects).
func EncodeAttrs(attrs []Attr) []byte {
	var buf bytes.Buffer
	for _, a := range attrs {
		l := len(a.Value) + 1
		var lenBuf [utf8.UTFMax]byte
		n := utf8.EncodeRune(lenBuf[:], rune(l))
		buf.Write(lenBuf[:n])
		buf.WriteString(a.Value)
		buf.WriteByte(a.Tag)
	}
	return buf.Bytes()
}

// DecodeAttrs unpacks a V33 attribute blob written by EncodeAttrs.
func DecodeAttrs(data []byte) ([]Attr, error) {
	var out []Attr
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size <= 1 {
			return nil, fmt.Errorf("wire: malformed attribute length prefix")
		}
		data = data[size:]
		l := int(r)
		if l == 0 || l > len(data) {
			return nil, fmt.Errorf("wire: attribute length %d exceeds remaining buffer", l)
		}
		value := string(data[:l-1])
		tag := data[l-1]
		out = append(out, Attr{Tag: tag, Value: value})
		data = data[l:]
	}
	return out, nil
}

// Find returns the first attribute's value with the given tag.
func Find(attrs []Attr, tag byte) (string, bool) {
	for _, a := range attrs {
		if a.Tag == tag {
			return a.Value, true
		}
	}
	return "", false
}
