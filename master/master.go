package master

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/control"
	"github.com/holmesengine/shepherd/housekeep"
	"github.com/holmesengine/shepherd/mailer"
	"github.com/holmesengine/shepherd/metrics"
	"github.com/holmesengine/shepherd/state"
)

// Master is the whole daemon: the rungroup orchestrating the control
// server, housekeeping timers (the bucket/disk watchdog among them), and
// the phase sequencer driving state directories through one cycle after
// another (spec §4.13).
type Master struct {
	Root      string
	Cfg       *cmn.Config
	Control   *control.Server
	Sequencer *Sequencer
	Mail      mailer.Mailer
	// Metrics is optional; when set, its /metrics endpoint joins the
	// rungroup alongside the control server (spec §4.13's housekeeping
	// surface, cmn.StatsConfig.MetricsAddr).
	Metrics *metrics.Server

	mu     sync.Mutex
	curDir string
	done   chan struct{}
}

func New(root string, cfg *cmn.Config, ctl *control.Server, seq *Sequencer, mail mailer.Mailer) *Master {
	if mail == nil {
		mail = mailer.NoopMailer{}
	}
	return &Master{Root: root, Cfg: cfg, Control: ctl, Sequencer: seq, Mail: mail, done: make(chan struct{})}
}

// Serve builds the rungroup (control server, housekeeping timers, and
// the cycle-driving "main" runner) and blocks until one of them exits.
func (m *Master) Serve() error {
	group := newRungroup()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", m.Cfg.Control.Port))
	if err != nil {
		return fmt.Errorf("master: listen on control port: %w", err)
	}
	group.add(&controlRunner{srv: m.Control, ln: ln})

	hk := housekeep.NewRegistry()
	watchdog := NewWatchdog(m.Root, nil, m.Cfg.Disk, m.onLowDisk)
	hk.Add(housekeep.Job{
		Name:     "disk-watchdog",
		Interval: m.Cfg.Timeout.BucketWatchPeriod,
		Fn:       watchdog.Sample,
	})
	group.add(hk)

	if m.Metrics != nil {
		group.add(m.Metrics)
	}

	cycle := &cycleRunner{m: m}
	group.add(cycle)

	err = group.run(cycle)
	if err == nil {
		glog.Infoln("master: terminated OK")
	}
	return err
}

func (m *Master) onLowDisk(status DiskStatus) {
	if status.LowOnSpace {
		glog.Warningf("master: low on free space: %d bytes free", status.FreeBytes)
		m.Mail.Error("shepherd: low on disk space", fmt.Sprintf("%d bytes free", status.FreeBytes))
	}
	if status.LowOnReserve {
		glog.Warningf("master: bucket file within MinBucketReserve of MaxSize")
		m.Mail.Error("shepherd: bucket file reserve exhausted", "")
	}
}

// cycleLoop ensures a current state exists, advances it through the
// sequencer, rolls into a freshly created state once one closes, and
// repeats until stopped or the Keep predicate holds it.
func (m *Master) cycleLoop() error {
	dir, err := state.Current(m.Root)
	if err != nil {
		dir, err = state.New(m.Root, time.Now())
		if err != nil {
			return fmt.Errorf("master: create initial state: %w", err)
		}
		if err := state.LinkCurrent(m.Root, dir); err != nil {
			return err
		}
	}

	for {
		select {
		case <-m.done:
			return nil
		default:
		}

		m.mu.Lock()
		m.curDir = dir
		m.mu.Unlock()

		if err := m.Sequencer.Advance(dir); err != nil {
			m.Mail.Error("shepherd: cycle aborted", err.Error())
			return err
		}

		phase, err := state.ReadControl(dir)
		if err != nil {
			return err
		}
		if phase != cmn.PhaseClosed {
			// Idle predicate is holding; nothing more to do until resumed.
			return nil
		}
		if m.Sequencer.Preds.Keep {
			return nil
		}

		next, err := state.New(m.Root, time.Now())
		if err != nil {
			return fmt.Errorf("master: create next state: %w", err)
		}
		if err := state.LinkCurrent(m.Root, next); err != nil {
			return err
		}
		dir = next
	}
}

// CurrentState returns the state directory the cycle loop is presently
// advancing, for SEND_MODE's "current" alias.
func (m *Master) CurrentState() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.curDir
}

// cycleRunner adapts Master.cycleLoop into cmn.Runner, the "main"
// runner whose exit tears down the whole rungroup.
type cycleRunner struct {
	m *Master
}

func (*cycleRunner) Name() string { return "cycle" }
func (r *cycleRunner) Run() error { return r.m.cycleLoop() }
func (r *cycleRunner) Stop(error) { close(r.m.done) }

// controlRunner adapts control.Server into cmn.Runner.
type controlRunner struct {
	srv *control.Server
	ln  net.Listener
}

func (*controlRunner) Name() string { return "control" }
func (r *controlRunner) Run() error { return r.srv.Serve(r.ln) }
func (r *controlRunner) Stop(error) { r.ln.Close() }
