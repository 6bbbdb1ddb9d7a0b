package control

import (
	"io"
	"os"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/wire"
)

// dataBlockSz caps a single DATA_BLOCK payload, keeping the streamed
// reply small enough to interleave with other connections on the same
// event loop the way the teacher's chunked HTTP bodies do.
const dataBlockSz = 64 << 10

// Sources supplies SEND_MODE with the on-disk artefacts of a named
// state. Every field is optional; a nil field answers NO_SUCH_STATE
// for the sub-commands that would need it, so control/ never takes a
// hard dependency on urldb/ or bucket/ directly.
type Sources struct {
	IndexPath   func(state string) (string, error)
	SitesPath   func(state string) (string, error)
	ParamsPath  func(state string) (string, error)
	BucketsPath func(state string) (string, error)
	URLDBPath   func(state string) (string, error)

	// FetchBucket returns one bucket's raw bytes by footprint, for
	// SEND_BUCKET.
	FetchBucket func(state string, fp [32]byte) ([]byte, error)

	// AcceptFeedback consumes an uploaded feedback file for SEND_FEEDBACK.
	AcceptFeedback func(state string, r io.Reader) error
}

// runSendMode drives the SEND_MODE sub-protocol on conn until the peer
// disconnects or sends an unrecognised sub-command. Every reply that
// streams data ends with DATA_END regardless of how many DATA_BLOCKs
// preceded it (spec §8's protocol invariant).
func (s *Server) runSendMode(conn io.ReadWriter, state string, id uint32) error {
	if err := writeReply(conn, cmn.ReplySendMode, id, nil); err != nil {
		return err
	}
	for {
		h, body, err := wire.ReadMessage(conn)
		if err != nil {
			return err
		}
		switch h.Cmd() {
		case cmn.CmdSendRawIndex:
			s.streamPath(conn, state, h.ID, s.Sources.IndexPath)
		case cmn.CmdSendRawSites:
			s.streamPath(conn, state, h.ID, s.Sources.SitesPath)
		case cmn.CmdSendRawParams:
			s.streamPath(conn, state, h.ID, s.Sources.ParamsPath)
		case cmn.CmdSendRawBuckets, cmn.CmdSendBuckets:
			s.streamPath(conn, state, h.ID, s.Sources.BucketsPath)
		case cmn.CmdSendURLs:
			s.streamURLs(conn, state, h.ID, body)
		case cmn.CmdSendBucket:
			s.streamBucket(conn, state, h.ID, body)
		case cmn.CmdSendFeedback:
			s.acceptFeedback(conn, state, h.ID, body)
		default:
			return writeReply(conn, cmn.ReplyUnknownReq, h.ID, nil)
		}
	}
}

func (s *Server) streamPath(conn io.ReadWriter, state string, id uint32, get func(string) (string, error)) {
	if get == nil {
		writeReply(conn, cmn.ReplyNoSuchState, id, nil)
		return
	}
	path, err := get(state)
	if err != nil {
		writeReply(conn, cmn.ReplyNoSuchState, id, nil)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeReply(conn, cmn.ReplyNoSuchState, id, nil)
		return
	}
	defer f.Close()
	streamReader(conn, id, f)
}

func (s *Server) streamURLs(conn io.ReadWriter, state string, id uint32, body []byte) {
	if s.Sources.URLDBPath == nil {
		writeReply(conn, cmn.ReplyNoSuchState, id, nil)
		return
	}
	path, err := s.Sources.URLDBPath(state)
	if err != nil {
		writeReply(conn, cmn.ReplyNoSuchState, id, nil)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeReply(conn, cmn.ReplyNoSuchState, id, nil)
		return
	}
	defer f.Close()
	var offset int64
	if len(body) >= 8 {
		for i := 0; i < 8; i++ {
			offset |= int64(body[i]) << (8 * uint(i))
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			writeReply(conn, cmn.ReplyNoSuchState, id, nil)
			return
		}
	}
	streamReader(conn, id, f)
}

func (s *Server) streamBucket(conn io.ReadWriter, state string, id uint32, body []byte) {
	if s.Sources.FetchBucket == nil || len(body) < 32 {
		writeReply(conn, cmn.ReplyNoSuchState, id, nil)
		return
	}
	var fp [32]byte
	copy(fp[:], body[:32])
	buf, err := s.Sources.FetchBucket(state, fp)
	if err != nil {
		writeReply(conn, cmn.ReplyNoSuchState, id, nil)
		return
	}
	writeReply(conn, cmn.ReplyDataBlock, id, buf)
	writeReply(conn, cmn.ReplyDataEnd, id, nil)
}

func (s *Server) acceptFeedback(conn io.ReadWriter, state string, id uint32, body []byte) {
	if s.Sources.AcceptFeedback == nil {
		writeReply(conn, cmn.ReplyNoSuchState, id, nil)
		return
	}
	if err := s.Sources.AcceptFeedback(state, newByteReader(body)); err != nil {
		writeReply(conn, cmn.ReplyUnknownReq, id, nil)
		return
	}
	writeReply(conn, cmn.ReplyOK, id, nil)
}

// streamReader drains r into a sequence of DATA_BLOCK replies followed
// by one DATA_END, regardless of how r is backed.
func streamReader(conn io.ReadWriter, id uint32, r io.Reader) {
	buf := make([]byte, dataBlockSz)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := writeReply(conn, cmn.ReplyDataBlock, id, buf[:n]); werr != nil {
				return
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return
		}
	}
	writeReply(conn, cmn.ReplyDataEnd, id, nil)
}

func writeReply(w io.Writer, reply uint8, id uint32, body []byte) error {
	return wire.WriteMessage(w, 0, payloadKind(body), reply, id, body)
}

func payloadKind(body []byte) uint8 {
	if len(body) == 0 {
		return cmn.PayloadNone
	}
	return cmn.PayloadRaw
}

func newByteReader(b []byte) io.Reader { return &byteReader{buf: b} }

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.buf) {
		return 0, io.EOF
	}
	n := copy(p, r.buf[r.pos:])
	r.pos += n
	return n, nil
}
