// Package wire implements the control-protocol framing (spec §4.12/§6.1):
// a fixed 16-byte header followed by an optional payload that is either
// raw bytes or a V33 attribute blob.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/holmesengine/shepherd/cmn"
)

// Header is the wire representation of every message (spec §4.12):
// `{leader, type, id, data_len}`, little-endian, 16 bytes total. type
// packs {mode:4, payload:4, cmd:8} into its low 16 bits.
type Header struct {
	Leader  uint32
	Type    uint32
	ID      uint32
	DataLen uint32
}

func MakeType(mode, payload uint8, cmd uint8) uint32 {
	return uint32(mode&0xf)<<12 | uint32(payload&0xf)<<8 | uint32(cmd)
}

func (h Header) Mode() uint8    { return uint8(h.Type>>12) & 0xf }
func (h Header) Payload() uint8 { return uint8(h.Type>>8) & 0xf }
func (h Header) Cmd() uint8     { return uint8(h.Type) }

// WriteHeader writes h in the fixed 16-byte little-endian layout.
func WriteHeader(w io.Writer, h Header) error {
	var buf [cmn.WireHeaderSz]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.Leader)
	binary.LittleEndian.PutUint32(buf[4:8], h.Type)
	binary.LittleEndian.PutUint32(buf[8:12], h.ID)
	binary.LittleEndian.PutUint32(buf[12:16], h.DataLen)
	_, err := w.Write(buf[:])
	return err
}

// ReadHeader reads and validates a Header; the leader constant must
// always be present (spec §4.12).
func ReadHeader(r io.Reader) (Header, error) {
	var buf [cmn.WireHeaderSz]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	h := Header{
		Leader:  binary.LittleEndian.Uint32(buf[0:4]),
		Type:    binary.LittleEndian.Uint32(buf[4:8]),
		ID:      binary.LittleEndian.Uint32(buf[8:12]),
		DataLen: binary.LittleEndian.Uint32(buf[12:16]),
	}
	if h.Leader != cmn.WireLeader {
		return Header{}, fmt.Errorf("wire: bad leader %#x", h.Leader)
	}
	return h, nil
}

// WriteMessage writes a complete header+payload message.
func WriteMessage(w io.Writer, mode, payload, cmd uint8, id uint32, body []byte) error {
	h := Header{
		Leader:  cmn.WireLeader,
		Type:    MakeType(mode, payload, cmd),
		ID:      id,
		DataLen: uint32(len(body)),
	}
	if err := WriteHeader(w, h); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return err
}

// ReadMessage reads a header and its full payload.
func ReadMessage(r io.Reader) (Header, []byte, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, nil, err
	}
	if h.DataLen == 0 {
		return h, nil, nil
	}
	body := make([]byte, h.DataLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Header{}, nil, err
	}
	return h, body, nil
}
