// Package state manages Shepherd's versioned state directories: states
// are named by UTC timestamp, `current` and `closed` are symlinks onto
// them, and each directory's `control` file names its phase (spec §4,
// §6.1: "A state directory is created fresh by each worker, populated,
// then atomically linked into current. Recovery is defined by a single
// control file containing the phase name.").
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/holmesengine/shepherd/cmn"
	"github.com/holmesengine/shepherd/cmn/cos"
)

const (
	CurrentLink = "current"
	ClosedLink  = "closed"
	ControlFile = "control"
	DisableBrakeFile = "disable-brake"
	CheckpointFile   = "checkpoint"
)

// New creates a fresh, empty state directory named for now under root,
// writes its initial control file (PhaseClosed, per spec §2's cycle
// starting point), and returns its path. It does not touch current.
func New(root string, now time.Time) (string, error) {
	name := now.UTC().Format("20060102T150405Z")
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := WriteControl(dir, cmn.PhaseClosed); err != nil {
		return "", err
	}
	return dir, nil
}

// WriteControl atomically writes phase as the sole contents of dir's
// control file (spec §6.1: "one ASCII line naming the current phase").
func WriteControl(dir, phase string) error {
	path := filepath.Join(dir, ControlFile)
	tmp := path + ".tmp." + cos.GenTie()
	f, err := cos.CreateFile(tmp)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(f, phase); err != nil {
		cos.Close(f)
		_ = cos.RemoveFile(tmp)
		return err
	}
	if err := cos.FlushClose(f); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadControl returns the phase named in dir's control file.
func ReadControl(dir string) (string, error) {
	b, err := os.ReadFile(filepath.Join(dir, ControlFile))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// LinkCurrent atomically repoints root/current at dir (spec: "populated,
// then atomically linked into current").
func LinkCurrent(root, dir string) error { return relink(root, CurrentLink, dir) }

// LinkClosed atomically repoints root/closed at dir once a cycle reaches
// PhaseFinish and loops back to PhaseClosed.
func LinkClosed(root, dir string) error { return relink(root, ClosedLink, dir) }

func relink(root, linkName, target string) error {
	link := filepath.Join(root, linkName)
	tmp := link + ".tmp." + cos.GenTie()
	rel, err := filepath.Rel(root, target)
	if err != nil {
		rel = target
	}
	if err := os.Symlink(rel, tmp); err != nil {
		return err
	}
	return os.Rename(tmp, link)
}

// Current resolves root/current to its target state directory.
func Current(root string) (string, error) {
	return resolve(root, CurrentLink)
}

// Closed resolves root/closed to its target state directory.
func Closed(root string) (string, error) {
	return resolve(root, ClosedLink)
}

func resolve(root, linkName string) (string, error) {
	link := filepath.Join(root, linkName)
	target, err := os.Readlink(link)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(target) {
		return target, nil
	}
	return filepath.Join(root, target), nil
}

// BrakeDisabled reports whether dir carries a disable-brake override
// (spec §4.9 step 8 / §6.1's "manual override is the file disable-brake
// inside the state directory").
func BrakeDisabled(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, DisableBrakeFile))
	return err == nil
}
