/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package reap

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/golang/glog"
)

// shutdown levels (spec §4.6/§5): SIGTERM asks workers to drain; a second
// SIGTERM (or SIGINT) kills the current worker; a third signal kills the
// whole process group. Level escalates monotonically and never resets
// within one process lifetime.
const (
	LevelNone = iota
	LevelDrain
	LevelKillWorker
	LevelKillGroup
)

// ShutdownWatcher escalates the shutdown level on repeated signals and
// invokes the matching callback exactly once per level.
type ShutdownWatcher struct {
	level       int32
	onDrain     func()
	onKillWork  func()
	onKillGroup func()
	sigCh       chan os.Signal
}

func NewShutdownWatcher(onDrain, onKillWorker, onKillGroup func()) *ShutdownWatcher {
	w := &ShutdownWatcher{
		onDrain:     onDrain,
		onKillWork:  onKillWorker,
		onKillGroup: onKillGroup,
		sigCh:       make(chan os.Signal, 4),
	}
	signal.Notify(w.sigCh, syscall.SIGTERM, syscall.SIGINT)
	return w
}

// Watch blocks, handling signals until Stop's internal channel is closed
// by the caller via context cancellation (the caller is expected to run
// this in its own goroutine).
func (w *ShutdownWatcher) Watch() {
	for sig := range w.sigCh {
		lvl := atomic.AddInt32(&w.level, 1)
		glog.Warningf("received %v, escalating to shutdown level %d", sig, lvl)
		switch lvl {
		case LevelDrain:
			if w.onDrain != nil {
				w.onDrain()
			}
		case LevelKillWorker:
			if w.onKillWork != nil {
				w.onKillWork()
			}
		default:
			if w.onKillGroup != nil {
				w.onKillGroup()
			}
			w.killProcessGroup()
			return
		}
	}
}

// Level returns the current escalation level without blocking.
func (w *ShutdownWatcher) Level() int {
	return int(atomic.LoadInt32(&w.level))
}

func (w *ShutdownWatcher) killProcessGroup() {
	pgid, err := syscall.Getpgid(os.Getpid())
	if err != nil {
		glog.Errorf("getpgid: %v", err)
		return
	}
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
		glog.Errorf("kill process group %d: %v", pgid, err)
	}
}

// Close stops listening for signals; callers should invoke this once the
// watcher's goroutine is no longer needed.
func (w *ShutdownWatcher) Close() {
	signal.Stop(w.sigCh)
	close(w.sigCh)
}
