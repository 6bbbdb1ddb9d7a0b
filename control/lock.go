// Package control implements the TCP control server (spec §4.12): state
// locking, borrow/return/rollback, and the SEND_MODE streaming
// sub-protocol, framed with the wire package.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package control

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrAlreadyLocked = errors.New("control: state already locked")
	ErrNotLocked     = errors.New("control: state not locked")
	ErrNotBorrowed   = errors.New("control: state not borrowed by this holder")
)

// holder identifies who currently owns a lock: either a live connection
// (held while that connection is in SEND_MODE) or a borrow token (held
// across disconnects until RETURN_STATE/ROLLBACK_STATE or TTL expiry).
type holder struct {
	connID   uint64
	borrowed bool
	token    string
	expires  time.Time
}

// LockTable tracks, per state name, which connection or borrow token
// currently owns it. It mirrors the way the master tracks a SEND_MODE
// child's lock through that child's lifetime (spec §4.12: "the master
// tracks that lock through the subprocess's exit") -- in this
// single-process Go daemon the "subprocess" is the serving goroutine,
// and its exit is observed by the same deferred Unlock a forked child's
// wait4() would have triggered.
type LockTable struct {
	mu    sync.Mutex
	held  map[string]*holder
}

func NewLockTable() *LockTable {
	return &LockTable{held: make(map[string]*holder)}
}

// Lock grants connID exclusive access to state, failing if another
// connection or an outstanding borrow already holds it.
func (lt *LockTable) Lock(state string, connID uint64) error {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if h, ok := lt.held[state]; ok && !h.expired() {
		return ErrAlreadyLocked
	}
	lt.held[state] = &holder{connID: connID}
	return nil
}

// Unlock releases connID's lock on state, if any. It is a no-op (not an
// error) if connID does not hold it, matching the teacher's idempotent
// cleanup-on-disconnect idiom.
func (lt *LockTable) Unlock(state string, connID uint64) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if h, ok := lt.held[state]; ok && !h.borrowed && h.connID == connID {
		delete(lt.held, state)
	}
}

// UnlockAll releases every lock still held by connID, invoked when a
// connection drops without an explicit UNLOCK_STATES.
func (lt *LockTable) UnlockAll(connID uint64) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	for state, h := range lt.held {
		if !h.borrowed && h.connID == connID {
			delete(lt.held, state)
		}
	}
}

// Borrow converts connID's lock on state into a token-carrying borrow
// that survives the connection closing, expiring after ttl.
func (lt *LockTable) Borrow(state string, connID uint64, token string, ttl time.Duration) error {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	h, ok := lt.held[state]
	if !ok || h.borrowed || h.connID != connID {
		return ErrNotLocked
	}
	h.borrowed = true
	h.token = token
	h.expires = time.Now().Add(ttl)
	return nil
}

// Return releases a borrowed state, verifying token matches the one
// minted by Borrow.
func (lt *LockTable) Return(state, token string) error {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	h, ok := lt.held[state]
	if !ok || !h.borrowed {
		return ErrNotBorrowed
	}
	if h.token != token {
		return ErrNotBorrowed
	}
	delete(lt.held, state)
	return nil
}

// Rollback is identical to Return in locking terms; the caller (master)
// is responsible for discarding the borrowed state's on-disk changes and
// reverting to the last closed state (spec §7's "rolls back to the last
// closed state").
func (lt *LockTable) Rollback(state, token string) error {
	return lt.Return(state, token)
}

// IsBorrowed reports whether state is currently out on a (non-expired)
// borrow.
func (lt *LockTable) IsBorrowed(state string) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	h, ok := lt.held[state]
	return ok && h.borrowed && !h.expired()
}

func (h *holder) expired() bool {
	return h.borrowed && !h.expires.IsZero() && time.Now().After(h.expires)
}

func (lt *LockTable) String() string {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return fmt.Sprintf("LockTable{%d held}", len(lt.held))
}
