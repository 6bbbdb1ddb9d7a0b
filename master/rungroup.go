package master

import (
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/holmesengine/shepherd/cmn"
)

// rungroup runs a set of cmn.Runners concurrently and tears all of them
// down once any one exits, propagating that runner's error. Adapted
// directly from ais/daemon.go's rungroup: "Stop all runners, target (or
// proxy) first" becomes "stop all runners, the main one first".
type rungroup struct {
	rs    map[string]cmn.Runner
	errCh chan error
}

func newRungroup() *rungroup {
	return &rungroup{rs: make(map[string]cmn.Runner, 4)}
}

func (g *rungroup) add(r cmn.Runner) {
	if _, exists := g.rs[r.Name()]; exists {
		panic("master: duplicate runner name " + r.Name())
	}
	g.rs[r.Name()] = r
}

// run blocks until mainRunner exits (normally or on error) or any other
// runner exits first, at which point every runner is stopped and run
// waits for all of them to finish before returning the triggering error.
func (g *rungroup) run(mainRunner cmn.Runner) error {
	var mainDone atomic.Bool
	g.errCh = make(chan error, len(g.rs))
	for _, r := range g.rs {
		go func(r cmn.Runner) {
			err := r.Run()
			if err != nil {
				glog.Warningf("master: runner %s exited: %v", r.Name(), err)
			}
			if r.Name() == mainRunner.Name() {
				mainDone.Store(true)
			}
			g.errCh <- err
		}(r)
	}

	err := <-g.errCh
	if !mainDone.Load() {
		mainRunner.Stop(err)
	}
	for _, r := range g.rs {
		if r.Name() != mainRunner.Name() {
			r.Stop(err)
		}
	}
	for i := 0; i < len(g.rs)-1; i++ {
		<-g.errCh
	}
	return err
}
