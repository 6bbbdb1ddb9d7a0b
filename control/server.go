package control

import (
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/wire"
)

// Flags are the daemon-wide predicates SET_CLEANUP/SET_IDLE/SET_PRIVATE/
// SET_DELETE_OLD toggle (spec §4.12/§4.13's "--keep/--locked/--idle/
// --private/--reap/--cleanup CLI flags set startup predicates").
type Flags interface {
	SetCleanup(bool)
	SetIdle(bool)
	SetPrivate(bool)
	SetDeleteOld(bool)
}

// Server is the control-protocol TCP listener: connection accept loop,
// IP authorisation, per-state locking, and command dispatch. Grounded on
// the teacher's daemon accept-and-dispatch shape (ais/proxy.go,
// ais/target.go) retargeted from net/http onto the spec's raw
// 16-byte-header protocol.
type Server struct {
	Auth    *IPAuthorizer
	Locks   *LockTable
	Flags   Flags
	Sources Sources
	Secret  string
	TokenTTL time.Duration

	nextConnID uint64
	ln         net.Listener
}

func NewServer(auth *IPAuthorizer, flags Flags, secret string, tokenTTL time.Duration) *Server {
	return &Server{
		Auth:     auth,
		Locks:    NewLockTable(),
		Flags:    flags,
		Secret:   secret,
		TokenTTL: tokenTTL,
	}
}

// Serve accepts connections on ln until it is closed, handling each on
// its own goroutine. The master owns ln's lifetime (Close from another
// goroutine unblocks Serve the way closing a net/http listener does).
func (s *Server) Serve(ln net.Listener) error {
	s.ln = ln
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	connID := atomic.AddUint64(&s.nextConnID, 1)
	defer s.Locks.UnlockAll(connID)

	remoteIP := remoteAddrIP(conn)
	if s.Auth != nil && !s.Auth.Allowed(remoteIP) {
		writeReply(conn, cmn.ReplyNotAuthorized, 0, nil)
		return
	}

	welcome := wire.EncodeAttrs([]wire.Attr{{Tag: 'V', Value: cmn.ProtocolVersion}})
	if err := wire.WriteMessage(conn, 0, cmn.PayloadAttrs, cmn.ReplyWelcome, 0, welcome); err != nil {
		return
	}

	for {
		h, body, err := wire.ReadMessage(conn)
		if err != nil {
			if err != io.EOF {
				glog.V(3).Infof("control: read from %s: %v", remoteIP, err)
			}
			return
		}
		if s.dispatch(conn, connID, remoteIP, h, body) {
			return
		}
	}
}

func remoteAddrIP(conn net.Conn) net.IP {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return net.IPv4zero
	}
	return net.ParseIP(host)
}
