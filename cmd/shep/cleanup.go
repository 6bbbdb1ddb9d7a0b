package main

import (
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/holmesengine/shepherd/state"
)

// deleteOldStates removes every state-named directory under root that
// current and closed no longer point at (control protocol's
// SET_DELETE_OLD, spec.md's control request list). Symlinks and
// anything that isn't a directory are left alone. keepAlso names any
// directory the caller needs kept regardless of what the links
// currently resolve to — master.Sequencer.Advance runs PhaseFinish's
// worker before it repoints closed at the finishing directory, so that
// directory must be protected explicitly or a delete-old sweep would
// race it out from under LinkClosed.
func deleteOldStates(root string, keepAlso ...string) error {
	keep := map[string]bool{}
	for _, dir := range keepAlso {
		keep[filepath.Base(dir)] = true
	}
	if dir, err := state.Current(root); err == nil {
		keep[filepath.Base(dir)] = true
	}
	if dir, err := state.Closed(root); err == nil {
		keep[filepath.Base(dir)] = true
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		name := ent.Name()
		if name == state.CurrentLink || name == state.ClosedLink {
			continue
		}
		if !ent.IsDir() || keep[name] {
			continue
		}
		path := filepath.Join(root, name)
		if err := os.RemoveAll(path); err != nil {
			glog.Errorf("shep: delete old state %s: %v", path, err)
			continue
		}
		glog.Infof("shep: deleted old state %s", path)
	}
	return nil
}
