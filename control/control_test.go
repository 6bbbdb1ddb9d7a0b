package control

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/wire"
)

type fakeFlags struct {
	cleanup, idle, private, deleteOld bool
}

func (f *fakeFlags) SetCleanup(v bool)   { f.cleanup = v }
func (f *fakeFlags) SetIdle(v bool)      { f.idle = v }
func (f *fakeFlags) SetPrivate(v bool)   { f.private = v }
func (f *fakeFlags) SetDeleteOld(v bool) { f.deleteOld = v }

func startTestServer(t *testing.T, srv *Server) (net.Conn, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve(ln)
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		ln.Close()
		t.Fatalf("dial: %v", err)
	}
	// Drain the WELCOME packet.
	h, body, err := wire.ReadMessage(conn)
	if err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if h.Cmd() != cmn.ReplyWelcome {
		t.Fatalf("expected WELCOME, got cmd=%d", h.Cmd())
	}
	attrs, err := wire.DecodeAttrs(body)
	if err != nil || len(attrs) == 0 || attrs[0].Value != cmn.ProtocolVersion {
		t.Fatalf("expected welcome attrs carrying %s, got %+v (err=%v)", cmn.ProtocolVersion, attrs, err)
	}
	return conn, func() { conn.Close(); ln.Close() }
}

func TestWelcomeThenPing(t *testing.T) {
	srv := NewServer(nil, &fakeFlags{}, "test-secret", time.Minute)
	conn, cleanup := startTestServer(t, srv)
	defer cleanup()

	if err := wire.WriteMessage(conn, 0, cmn.PayloadNone, cmn.CmdPing, 5, nil); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	h, _, err := wire.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if h.Cmd() != cmn.ReplyPong || h.ID != 5 {
		t.Fatalf("expected PONG id=5, got cmd=%d id=%d", h.Cmd(), h.ID)
	}
}

func TestSetCleanupTogglesFlag(t *testing.T) {
	flags := &fakeFlags{}
	srv := NewServer(nil, flags, "test-secret", time.Minute)
	conn, cleanup := startTestServer(t, srv)
	defer cleanup()

	body := []byte{1}
	wire.WriteMessage(conn, 0, cmn.PayloadRaw, cmn.CmdSetCleanup, 1, body)
	h, _, err := wire.ReadMessage(conn)
	if err != nil || h.Cmd() != cmn.ReplyOK {
		t.Fatalf("expected OK, got cmd=%d err=%v", h.Cmd(), err)
	}
	// Give the goroutine a beat; flag mutation happens before the reply is
	// written, so by the time we've read OK it is already visible.
	if !flags.cleanup {
		t.Fatal("expected cleanup flag to be set")
	}
}

func TestUnauthorizedIPRejected(t *testing.T) {
	auth, err := NewIPAuthorizer([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("NewIPAuthorizer: %v", err)
	}
	srv := NewServer(auth, &fakeFlags{}, "test-secret", time.Minute)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go srv.Serve(ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	h, _, err := wire.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if h.Cmd() != cmn.ReplyNotAuthorized {
		t.Fatalf("expected NOT_AUTHORIZED for a 127.0.0.1 peer outside 10.0.0.0/8, got cmd=%d", h.Cmd())
	}
}

func TestLockBorrowReturnRoundTrip(t *testing.T) {
	srv := NewServer(nil, &fakeFlags{}, "test-secret", time.Minute)
	conn, cleanup := startTestServer(t, srv)
	defer cleanup()

	lockBody := wire.EncodeAttrs([]wire.Attr{{Tag: attrState, Value: "20260101T000000Z"}})
	wire.WriteMessage(conn, 0, cmn.PayloadAttrs, cmn.CmdBorrowState, 1, lockBody)
	h, body, err := wire.ReadMessage(conn)
	if err != nil || h.Cmd() != cmn.ReplyOK {
		t.Fatalf("expected OK from BORROW_STATE, got cmd=%d err=%v", h.Cmd(), err)
	}
	attrs, err := wire.DecodeAttrs(body)
	if err != nil || len(attrs) == 0 {
		t.Fatalf("expected a borrow token in the reply, got %+v err=%v", attrs, err)
	}
	token := attrs[0].Value

	if !srv.Locks.IsBorrowed("20260101T000000Z") {
		t.Fatal("expected the state to be marked borrowed")
	}

	returnBody := wire.EncodeAttrs([]wire.Attr{
		{Tag: attrState, Value: "20260101T000000Z"},
		{Tag: attrToken, Value: token},
	})
	wire.WriteMessage(conn, 0, cmn.PayloadAttrs, cmn.CmdReturnState, 2, returnBody)
	h, _, err = wire.ReadMessage(conn)
	if err != nil || h.Cmd() != cmn.ReplyOK {
		t.Fatalf("expected OK from RETURN_STATE, got cmd=%d err=%v", h.Cmd(), err)
	}
	if srv.Locks.IsBorrowed("20260101T000000Z") {
		t.Fatal("expected the state to no longer be borrowed after RETURN_STATE")
	}
}

func TestSendModeStreamsRawIndex(t *testing.T) {
	dir := t.TempDir()
	idxPath := filepath.Join(dir, "index")
	if err := os.WriteFile(idxPath, bytes.Repeat([]byte{0xab}, 200), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	srv := NewServer(nil, &fakeFlags{}, "test-secret", time.Minute)
	srv.Sources.IndexPath = func(state string) (string, error) { return idxPath, nil }
	conn, cleanup := startTestServer(t, srv)
	defer cleanup()

	sendModeBody := wire.EncodeAttrs([]wire.Attr{{Tag: attrState, Value: "current"}})
	wire.WriteMessage(conn, 0, cmn.PayloadAttrs, cmn.CmdSendMode, 1, sendModeBody)
	h, _, err := wire.ReadMessage(conn)
	if err != nil || h.Cmd() != cmn.ReplySendMode {
		t.Fatalf("expected SEND_MODE ack, got cmd=%d err=%v", h.Cmd(), err)
	}

	wire.WriteMessage(conn, 0, cmn.PayloadNone, cmn.CmdSendRawIndex, 2, nil)
	var total int
	for {
		h, body, err := wire.ReadMessage(conn)
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if h.Cmd() == cmn.ReplyDataEnd {
			break
		}
		if h.Cmd() != cmn.ReplyDataBlock {
			t.Fatalf("unexpected reply cmd=%d", h.Cmd())
		}
		total += len(body)
	}
	if total != 200 {
		t.Fatalf("expected 200 streamed bytes, got %d", total)
	}
}
