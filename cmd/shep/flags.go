package main

import "sync/atomic"

// daemonFlags is the live, control-protocol-mutable half of the startup
// predicates (spec §4.12/§4.13): SET_CLEANUP/SET_IDLE/SET_PRIVATE/
// SET_DELETE_OLD flip these at runtime, whereas master.Predicates is
// fixed for the process's lifetime from the -keep/-locked/... CLI flags.
// Phases consult daemonFlags directly rather than Sequencer.Preds for
// the four toggles the control protocol owns.
type daemonFlags struct {
	cleanup   atomic.Bool
	idle      atomic.Bool
	private   atomic.Bool
	deleteOld atomic.Bool
}

func newDaemonFlags(cleanup, idle, private, deleteOld bool) *daemonFlags {
	d := &daemonFlags{}
	d.cleanup.Store(cleanup)
	d.idle.Store(idle)
	d.private.Store(private)
	d.deleteOld.Store(deleteOld)
	return d
}

func (d *daemonFlags) SetCleanup(v bool)   { d.cleanup.Store(v) }
func (d *daemonFlags) SetIdle(v bool)      { d.idle.Store(v) }
func (d *daemonFlags) SetPrivate(v bool)   { d.private.Store(v) }
func (d *daemonFlags) SetDeleteOld(v bool) { d.deleteOld.Store(v) }

func (d *daemonFlags) Cleanup() bool   { return d.cleanup.Load() }
func (d *daemonFlags) Idle() bool      { return d.idle.Load() }
func (d *daemonFlags) Private() bool   { return d.private.Load() }
func (d *daemonFlags) DeleteOld() bool { return d.deleteOld.Load() }
