// Package ctlclient is a thin control-protocol client, the counterpart
// to control.Server for the CLIs that need to talk to a running daemon
// (shep-ctrltest, shep-mirror). Grounded on cmd/cli's layering over a
// dedicated client package (api/) rather than hand-rolling wire access
// in every CLI's main.go.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package ctlclient

import (
	"fmt"
	"net"
	"time"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/wire"
)

const (
	attrState = 'S'
	attrToken = 'T'
)

// Client is one control-protocol connection. It is not safe for
// concurrent use by multiple goroutines, matching control.Server's own
// one-goroutine-per-connection model.
type Client struct {
	conn   net.Conn
	nextID uint32
}

// Dial opens a connection to addr and consumes the server's WELCOME
// reply.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn}
	h, body, err := wire.ReadMessage(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ctlclient: read welcome: %w", err)
	}
	if h.Cmd() != cmn.ReplyWelcome {
		conn.Close()
		return nil, fmt.Errorf("ctlclient: expected WELCOME, got reply %d", h.Cmd())
	}
	if attrs, aerr := wire.DecodeAttrs(body); aerr == nil {
		if v, ok := wire.Find(attrs, 'V'); ok && v != cmn.ProtocolVersion {
			conn.Close()
			return nil, fmt.Errorf("ctlclient: protocol version mismatch: server %q, client %q", v, cmn.ProtocolVersion)
		}
	}
	return c, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(payload, cmd uint8, body []byte) (wire.Header, []byte, error) {
	c.nextID++
	id := c.nextID
	if err := wire.WriteMessage(c.conn, 0, payload, cmd, id, body); err != nil {
		return wire.Header{}, nil, err
	}
	h, reply, err := wire.ReadMessage(c.conn)
	if err != nil {
		return wire.Header{}, nil, err
	}
	return h, reply, nil
}

func (c *Client) simple(cmd uint8, body []byte) error {
	h, _, err := c.call(payloadOf(body), cmd, body)
	if err != nil {
		return err
	}
	if h.Cmd() != cmn.ReplyOK {
		return fmt.Errorf("ctlclient: cmd %d: reply %d", cmd, h.Cmd())
	}
	return nil
}

func payloadOf(body []byte) uint8 {
	if len(body) == 0 {
		return cmn.PayloadNone
	}
	return cmn.PayloadRaw
}

// Ping round-trips CMD_PING.
func (c *Client) Ping() error {
	h, _, err := c.call(cmn.PayloadNone, cmn.CmdPing, nil)
	if err != nil {
		return err
	}
	if h.Cmd() != cmn.ReplyPong {
		return fmt.Errorf("ctlclient: ping: unexpected reply %d", h.Cmd())
	}
	return nil
}

func boolBody(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func (c *Client) SetCleanup(v bool) error   { return c.simple(cmn.CmdSetCleanup, boolBody(v)) }
func (c *Client) SetIdle(v bool) error      { return c.simple(cmn.CmdSetIdle, boolBody(v)) }
func (c *Client) SetPrivate(v bool) error   { return c.simple(cmn.CmdSetPrivate, boolBody(v)) }
func (c *Client) SetDeleteOld(v bool) error { return c.simple(cmn.CmdSetDeleteOld, boolBody(v)) }

func stateBody(state, token string) []byte {
	var attrs []wire.Attr
	if state != "" {
		attrs = append(attrs, wire.Attr{Tag: attrState, Value: state})
	}
	if token != "" {
		attrs = append(attrs, wire.Attr{Tag: attrToken, Value: token})
	}
	return wire.EncodeAttrs(attrs)
}

// LockState locks state for the lifetime of this connection.
func (c *Client) LockState(state string) error {
	h, _, err := c.call(cmn.PayloadAttrs, cmn.CmdLockState, stateBody(state, ""))
	if err != nil {
		return err
	}
	if h.Cmd() != cmn.ReplyOK {
		return fmt.Errorf("ctlclient: lock %q: reply %d", state, h.Cmd())
	}
	return nil
}

// UnlockStates releases every lock this connection holds.
func (c *Client) UnlockStates() error {
	return c.simple(cmn.CmdUnlockStates, nil)
}

// BorrowState mints a borrow token for state. Neither form waits for a
// lock: with wait true it sends CMD_BORROW_STATE, which the server answers
// with IN_PROGRESS while the state is locked; otherwise it sends
// CMD_BORROW_STATE_Q, which fails with NO_SUCH_STATE on a locked state.
func (c *Client) BorrowState(state string, wait bool) (string, error) {
	cmd := uint8(cmn.CmdBorrowStateQ)
	if wait {
		cmd = cmn.CmdBorrowState
	}
	h, body, err := c.call(cmn.PayloadAttrs, cmd, stateBody(state, ""))
	if err != nil {
		return "", err
	}
	if h.Cmd() != cmn.ReplyOK {
		return "", fmt.Errorf("ctlclient: borrow %q: reply %d", state, h.Cmd())
	}
	attrs, err := wire.DecodeAttrs(body)
	if err != nil {
		return "", err
	}
	token, _ := wire.Find(attrs, attrToken)
	return token, nil
}

// ReturnState hands state back with its borrow token.
func (c *Client) ReturnState(state, token string) error {
	h, _, err := c.call(cmn.PayloadAttrs, cmn.CmdReturnState, stateBody(state, token))
	if err != nil {
		return err
	}
	if h.Cmd() != cmn.ReplyOK {
		return fmt.Errorf("ctlclient: return %q: reply %d", state, h.Cmd())
	}
	return nil
}

// RollbackState reverts any changes made under a borrowed state.
func (c *Client) RollbackState(state, token string) error {
	h, _, err := c.call(cmn.PayloadAttrs, cmn.CmdRollbackState, stateBody(state, token))
	if err != nil {
		return err
	}
	if h.Cmd() != cmn.ReplyOK {
		return fmt.Errorf("ctlclient: rollback %q: reply %d", state, h.Cmd())
	}
	return nil
}
