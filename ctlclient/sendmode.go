package ctlclient

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/wire"
)

// EncodeFootprint packs fp into the 32-byte wire form control.Server's
// streamBucket expects, the inverse of cmd/shep's decodeFootprint.
func EncodeFootprint(fp footprint.FP) [32]byte {
	var raw [32]byte
	binary.LittleEndian.PutUint32(raw[0:4], fp.Site[0])
	binary.LittleEndian.PutUint32(raw[4:8], fp.Site[1])
	binary.LittleEndian.PutUint32(raw[8:12], fp.Rest[0])
	binary.LittleEndian.PutUint32(raw[12:16], fp.Rest[1])
	return raw
}

// SendSession is a connection that has entered SEND_MODE for one state
// (spec §8): it owns the connection's remaining lifetime and every
// sub-command streams DATA_BLOCKs terminated by one DATA_END.
type SendSession struct {
	c *Client
}

// SendMode locks state and switches the connection into the SEND_MODE
// sub-protocol. The connection is unusable for anything but SendSession
// methods afterwards.
func (c *Client) SendMode(state string) (*SendSession, error) {
	h, _, err := c.call(cmn.PayloadAttrs, cmn.CmdSendMode, stateBody(state, ""))
	if err != nil {
		return nil, err
	}
	if h.Cmd() != cmn.ReplySendMode {
		return nil, fmt.Errorf("ctlclient: send mode %q: reply %d", state, h.Cmd())
	}
	return &SendSession{c: c}, nil
}

func (s *SendSession) stream(cmd uint8, body []byte, w io.Writer) error {
	if err := wire.WriteMessage(s.c.conn, 0, payloadOf(body), cmd, 0, body); err != nil {
		return err
	}
	for {
		h, data, err := wire.ReadMessage(s.c.conn)
		if err != nil {
			return err
		}
		switch h.Cmd() {
		case cmn.ReplyDataBlock:
			if _, werr := w.Write(data); werr != nil {
				return werr
			}
		case cmn.ReplyDataEnd:
			return nil
		case cmn.ReplyNoSuchState:
			return fmt.Errorf("ctlclient: no such state")
		default:
			return fmt.Errorf("ctlclient: unexpected reply %d during stream", h.Cmd())
		}
	}
}

func (s *SendSession) StreamIndex(w io.Writer) error  { return s.stream(cmn.CmdSendRawIndex, nil, w) }
func (s *SendSession) StreamSites(w io.Writer) error  { return s.stream(cmn.CmdSendRawSites, nil, w) }
func (s *SendSession) StreamParams(w io.Writer) error { return s.stream(cmn.CmdSendRawParams, nil, w) }
func (s *SendSession) StreamBuckets(w io.Writer) error {
	return s.stream(cmn.CmdSendRawBuckets, nil, w)
}

// StreamURLs streams the state's URL database journal starting at offset.
func (s *SendSession) StreamURLs(offset int64, w io.Writer) error {
	var body [8]byte
	binary.LittleEndian.PutUint64(body[:], uint64(offset))
	return s.stream(cmn.CmdSendURLs, body[:], w)
}

// SendBucket fetches one bucket's raw bytes by footprint. fp must be the
// 32-byte encoding control.Server expects (footprint followed by
// padding, matching control/sendmode.go's fixed-size read).
func (s *SendSession) SendBucket(fp [32]byte, w io.Writer) error {
	return s.stream(cmn.CmdSendBucket, fp[:], w)
}

// SendFeedback uploads r's contrib-entry stream as one SEND_FEEDBACK
// request and waits for the OK/UNKNOWN_REQ reply.
func (s *SendSession) SendFeedback(r io.Reader) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if err := wire.WriteMessage(s.c.conn, 0, payloadOf(body), cmn.CmdSendFeedback, 0, body); err != nil {
		return err
	}
	h, _, err := wire.ReadMessage(s.c.conn)
	if err != nil {
		return err
	}
	if h.Cmd() != cmn.ReplyOK {
		return fmt.Errorf("ctlclient: send feedback: reply %d", h.Cmd())
	}
	return nil
}

// Close ends the SEND_MODE connection.
func (s *SendSession) Close() error { return s.c.Close() }
