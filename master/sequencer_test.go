package master

import (
	"testing"
	"time"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/state"
)

func TestSequencerAdvanceRunsEveryPhase(t *testing.T) {
	root := t.TempDir()
	dir, err := state.New(root, time.Now())
	if err != nil {
		t.Fatalf("state.New: %v", err)
	}

	var seen []string
	sq := &Sequencer{
		Root: root,
		Run: func(phase, stateDir string) error {
			seen = append(seen, phase)
			return nil
		},
	}
	if err := sq.Advance(dir); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if len(seen) != len(cmn.CyclePhases) {
		t.Fatalf("expected every phase to run, got %v", seen)
	}
	if seen[0] != cmn.PhaseClosed || seen[len(seen)-1] != cmn.PhaseFinish {
		t.Fatalf("unexpected phase order: %v", seen)
	}

	phase, err := state.ReadControl(dir)
	if err != nil {
		t.Fatalf("ReadControl: %v", err)
	}
	if phase != cmn.PhaseClosed {
		t.Fatalf("expected the cycle to loop back to closed, got %q", phase)
	}
	if _, err := state.Closed(root); err != nil {
		t.Fatalf("expected closed to be linked after PhaseFinish: %v", err)
	}
}

func TestSequencerIdleHoldsAtClosed(t *testing.T) {
	root := t.TempDir()
	dir, _ := state.New(root, time.Now())

	calls := 0
	sq := &Sequencer{
		Root:  root,
		Preds: Predicates{Idle: true},
		Run: func(phase, stateDir string) error {
			calls++
			return nil
		},
	}
	if err := sq.Advance(dir); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if calls != len(cmn.CyclePhases)-1 {
		t.Fatalf("expected every phase except the trailing closed to run, got %d calls", calls)
	}
}

func TestSequencerRollsBackOnAbort(t *testing.T) {
	root := t.TempDir()
	dir, _ := state.New(root, time.Now())

	rolledBack := false
	sq := &Sequencer{
		Root: root,
		Run: func(phase, stateDir string) error {
			if phase == cmn.PhaseMerge {
				return ErrAborted
			}
			return nil
		},
	}
	sq.OnRollback = func(stateDir string) error {
		rolledBack = true
		return nil
	}
	if err := sq.Advance(dir); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !rolledBack {
		t.Fatal("expected OnRollback to fire when a phase aborts")
	}
}
