package master

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/metrics"
	"github.com/holmesengine/shepherd/state"
)

// ErrAborted is returned by a PhaseFunc to roll the cycle back rather
// than advance (spec §7: "Invariant breach during merge/select: aborts
// the worker, the master rolls back to the last closed state").
var ErrAborted = errors.New("master: phase aborted")

// PhaseFunc runs one phase's worker against stateDir, returning
// ErrAborted (or a wrapped one, checked with errors.Is) to trigger a
// rollback instead of advancing.
type PhaseFunc func(phase, stateDir string) error

// Predicates are the startup-time gates named in spec §4.13
// ("--keep/--locked/--idle/--private/--reap/--cleanup"). Only Keep and
// Idle are read; the other four fields are carried but never consulted.
type Predicates struct {
	Keep    bool // stop after one full cycle instead of looping back to closed
	Locked  bool // not read
	Idle    bool // hold at PhaseClosed until explicitly resumed
	Private bool // not read; cmd/shep passes -private to its phase runner, which skips feedback
	Reap    bool // not read
	Cleanup bool // not read
}

// Sequencer advances one state directory through cmn.CyclePhases,
// persisting the phase name into the state's control file before
// running each phase's worker (spec §4.13: "persisted by writing the
// phase name into the state's control file before touching any other
// artefact").
type Sequencer struct {
	Root  string
	Preds Predicates
	Run   PhaseFunc

	// Metrics is optional; when set, every phase's wall time is recorded
	// against its PhaseDuration histogram.
	Metrics *metrics.Collectors

	// OnRollback is invoked with the aborting phase's state dir when a
	// PhaseFunc reports ErrAborted; the caller is expected to restore
	// root/closed as root/current.
	OnRollback func(stateDir string) error
}

// Advance runs one full pass starting from dir's current phase through
// to PhaseFinish (or until Idle holds it, or a phase aborts).
func (sq *Sequencer) Advance(dir string) error {
	phase, err := state.ReadControl(dir)
	if err != nil {
		return fmt.Errorf("master: read control: %w", err)
	}

	start := phaseIndex(phase)
	if start < 0 {
		return fmt.Errorf("master: unknown phase %q in %s", phase, dir)
	}

	for i := start; i < len(cmn.CyclePhases); i++ {
		p := cmn.CyclePhases[i]
		if p == cmn.PhaseClosed && i != start && sq.Preds.Idle {
			glog.Infof("master: holding at %s (idle)", dir)
			return nil
		}
		if err := state.WriteControl(dir, p); err != nil {
			return fmt.Errorf("master: write control %s: %w", p, err)
		}
		glog.Infof("master: %s entering phase %s", dir, p)
		if sq.Run == nil {
			continue
		}
		phaseStart := time.Now()
		err := sq.Run(p, dir)
		if sq.Metrics != nil {
			sq.Metrics.PhaseDuration.WithLabelValues(p).Observe(time.Since(phaseStart).Seconds())
		}
		if err != nil {
			if errors.Is(err, ErrAborted) {
				glog.Warningf("master: %s aborted in phase %s: %v", dir, p, err)
				if sq.OnRollback != nil {
					return sq.OnRollback(dir)
				}
				return err
			}
			return fmt.Errorf("master: phase %s: %w", p, err)
		}
		if p == cmn.PhaseFinish {
			if err := state.WriteControl(dir, cmn.PhaseClosed); err != nil {
				return err
			}
			if err := state.LinkClosed(sq.Root, dir); err != nil {
				return err
			}
			if sq.Preds.Keep {
				return nil
			}
		}
	}
	return nil
}

func phaseIndex(phase string) int {
	for i, p := range cmn.CyclePhases {
		if p == phase {
			return i
		}
	}
	return -1
}
