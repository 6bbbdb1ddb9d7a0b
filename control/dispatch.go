package control

import (
	"net"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/wire"
)

const (
	attrState = 'S'
	attrToken = 'T'
)

// dispatch handles one request and replies on conn. It returns true when
// the connection should be closed (SEND_MODE forks off its own
// sub-protocol loop and, once that returns, the connection is done).
func (s *Server) dispatch(conn net.Conn, connID uint64, remoteIP net.IP, h wire.Header, body []byte) bool {
	switch h.Cmd() {
	case cmn.CmdPing:
		writeReply(conn, cmn.ReplyPong, h.ID, nil)
		return false

	case cmn.CmdSetCleanup:
		s.Flags.SetCleanup(boolAttr(body))
		writeReply(conn, cmn.ReplyOK, h.ID, nil)
		return false
	case cmn.CmdSetIdle:
		s.Flags.SetIdle(boolAttr(body))
		writeReply(conn, cmn.ReplyOK, h.ID, nil)
		return false
	case cmn.CmdSetPrivate:
		s.Flags.SetPrivate(boolAttr(body))
		writeReply(conn, cmn.ReplyOK, h.ID, nil)
		return false
	case cmn.CmdSetDeleteOld:
		s.Flags.SetDeleteOld(boolAttr(body))
		writeReply(conn, cmn.ReplyOK, h.ID, nil)
		return false

	case cmn.CmdLockState:
		state, _ := stateAttr(body)
		if err := s.Locks.Lock(state, connID); err != nil {
			writeReply(conn, cmn.ReplyInProgress, h.ID, nil)
			return false
		}
		writeReply(conn, cmn.ReplyOK, h.ID, nil)
		return false

	case cmn.CmdBorrowState, cmn.CmdBorrowStateQ:
		state, _ := stateAttr(body)
		if err := s.Locks.Lock(state, connID); err != nil && h.Cmd() == cmn.CmdBorrowState {
			writeReply(conn, cmn.ReplyInProgress, h.ID, nil)
			return false
		}
		token, err := MintBorrowToken(s.Secret, state, remoteIP, s.TokenTTL)
		if err != nil {
			writeReply(conn, cmn.ReplyNoSuchState, h.ID, nil)
			return false
		}
		if err := s.Locks.Borrow(state, connID, token, s.TokenTTL); err != nil {
			writeReply(conn, cmn.ReplyNoSuchState, h.ID, nil)
			return false
		}
		reply := wire.EncodeAttrs([]wire.Attr{{Tag: attrToken, Value: token}})
		wire.WriteMessage(conn, 0, cmn.PayloadAttrs, cmn.ReplyOK, h.ID, reply)
		return false

	case cmn.CmdReturnState:
		state, token := stateAttr(body)
		if err := VerifyBorrowToken(s.Secret, token, state, remoteIP); err != nil {
			writeReply(conn, cmn.ReplyNoBorrowed, h.ID, nil)
			return false
		}
		if err := s.Locks.Return(state, token); err != nil {
			writeReply(conn, cmn.ReplyNoBorrowed, h.ID, nil)
			return false
		}
		writeReply(conn, cmn.ReplyOK, h.ID, nil)
		return false

	case cmn.CmdRollbackState:
		state, token := stateAttr(body)
		if err := VerifyBorrowToken(s.Secret, token, state, remoteIP); err != nil {
			writeReply(conn, cmn.ReplyReturningBad, h.ID, nil)
			return false
		}
		if err := s.Locks.Rollback(state, token); err != nil {
			writeReply(conn, cmn.ReplyReturningBad, h.ID, nil)
			return false
		}
		writeReply(conn, cmn.ReplyOK, h.ID, nil)
		return false

	case cmn.CmdUnlockStates:
		s.Locks.UnlockAll(connID)
		writeReply(conn, cmn.ReplyOK, h.ID, nil)
		return false

	case cmn.CmdSendMode:
		state, _ := stateAttr(body)
		if err := s.Locks.Lock(state, connID); err != nil {
			writeReply(conn, cmn.ReplyInProgress, h.ID, nil)
			return true
		}
		defer s.Locks.Unlock(state, connID)
		s.runSendMode(conn, state, h.ID)
		return true

	default:
		writeReply(conn, cmn.ReplyUnknownReq, h.ID, nil)
		return false
	}
}

func stateAttr(body []byte) (state, token string) {
	attrs, err := wire.DecodeAttrs(body)
	if err != nil {
		return "", ""
	}
	state, _ = wire.Find(attrs, attrState)
	token, _ = wire.Find(attrs, attrToken)
	return state, token
}

func boolAttr(body []byte) bool {
	return len(body) > 0 && body[0] != 0
}
