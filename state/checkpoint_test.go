package state

import (
	"testing"
	"time"

	"github.com/holmesengine/shepherd/cmn"
)

func TestCheckpointRoundTrip(t *testing.T) {
	root := t.TempDir()
	dir, _ := New(root, time.Now())

	want := Checkpoint{Phase: cmn.PhaseFinish, Recorded: time.Now().UTC().Truncate(time.Second)}
	if err := SaveCheckpoint(dir, want); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	got, err := LoadCheckpoint(dir)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if got.Phase != want.Phase || !got.Recorded.Equal(want.Recorded) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestLoadCheckpointMissingFileErrors(t *testing.T) {
	root := t.TempDir()
	dir, _ := New(root, time.Now())

	if _, err := LoadCheckpoint(dir); err == nil {
		t.Fatal("expected an error loading a checkpoint that was never saved")
	}
}
