package master

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/mailer"
)

func TestCycleLoopAdvancesAndStopsOnKeep(t *testing.T) {
	root := t.TempDir()
	var cycles int32
	sq := &Sequencer{
		Root:  root,
		Preds: Predicates{Keep: true},
		Run: func(phase, stateDir string) error {
			if phase == cmn.PhaseFinish {
				atomic.AddInt32(&cycles, 1)
			}
			return nil
		},
	}
	m := New(root, cmn.Default(), nil, sq, mailer.NoopMailer{})
	if err := m.cycleLoop(); err != nil {
		t.Fatalf("cycleLoop: %v", err)
	}
	if atomic.LoadInt32(&cycles) != 1 {
		t.Fatalf("expected exactly one cycle with Keep set, got %d", cycles)
	}
	if m.CurrentState() == "" {
		t.Fatal("expected CurrentState to be populated")
	}
}

func TestRungroupStopsAllWhenMainExits(t *testing.T) {
	g := newRungroup()
	stopped := make(chan string, 2)
	sideStopCh := make(chan struct{})
	g.add(&fakeRunner{
		name: "side",
		run:  func() error { <-sideStopCh; return nil },
		stop: func() { stopped <- "side"; close(sideStopCh) },
	})

	main := &fakeRunner{
		name: "main",
		run:  func() error { time.Sleep(10 * time.Millisecond); return nil },
		stop: func() { stopped <- "main" },
	}
	g.add(main)

	if err := g.run(main); err != nil {
		t.Fatalf("run: %v", err)
	}
	select {
	case name := <-stopped:
		if name != "side" {
			t.Fatalf("expected the side runner to be stopped, got %q", name)
		}
	default:
		t.Fatal("expected the side runner's Stop to have been called")
	}
}

type fakeRunner struct {
	name string
	run  func() error
	stop func()
}

func (f *fakeRunner) Name() string { return f.name }
func (f *fakeRunner) Run() error   { return f.run() }
func (f *fakeRunner) Stop(error)   { f.stop() }
