// Package main for shep-cleanup, an offline fsck runner: it walks a
// state's bucket pool for unreadable stretches and repairs them in
// place, the way a maintenance window's disk scrub would. bucket.Fsck
// takes no file lock of its own.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/holmesengine/shepherd/bucket"
	"github.com/holmesengine/shepherd/state"
)

var (
	root   = flag.String("root", "", "state-tree root")
	name   = flag.String("state", "closed", "state to fsck: \"current\", \"closed\", or a literal state name")
	repair = flag.Bool("repair", false, "rewrite unreadable stretches as synthetic deleted buckets instead of only reporting them")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()
	if *root == "" {
		fmt.Fprintln(os.Stderr, "shep-cleanup: -root is required")
		return 1
	}
	if err := runCleanup(*root, *name, *repair); err != nil {
		fmt.Fprintf(os.Stderr, "shep-cleanup: %v\n", err)
		return 1
	}
	return 0
}

func resolveStateDir(root, name string) (string, error) {
	switch name {
	case "current":
		return state.Current(root)
	case "closed":
		return state.Closed(root)
	default:
		dir := root + "/" + name
		if _, err := os.Stat(dir); err != nil {
			return "", fmt.Errorf("no such state %q", name)
		}
		return dir, nil
	}
}

func runCleanup(root, name string, repair bool) error {
	dir, err := resolveStateDir(root, name)
	if err != nil {
		return err
	}
	report, err := bucket.Fsck(dir+"/buckets", repair)
	if err != nil {
		return err
	}
	fmt.Printf("ok=%d deleted=%d repaired=%d final_size=%d\n",
		report.OKCount, report.Deleted, report.Repaired, report.FinalSize)
	return nil
}
