// Package main for shep-upgrade, a maintenance tool that rebuilds a
// state's sorted url database derivative from its journal, the same
// urldb.Latest + urldb.BuildSorted step the sort phase runs inline, but
// standalone for recovering a state whose derivative was lost or is
// stale relative to a hand-edited journal.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/holmesengine/shepherd/state"
	"github.com/holmesengine/shepherd/urldb"
)

var (
	root = flag.String("root", "", "state-tree root")
	name = flag.String("state", "closed", "state to rebuild: \"current\", \"closed\", or a literal state name")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()
	if *root == "" {
		fmt.Fprintln(os.Stderr, "shep-upgrade: -root is required")
		return 1
	}
	if err := rebuild(*root, *name); err != nil {
		fmt.Fprintf(os.Stderr, "shep-upgrade: %v\n", err)
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

func rebuild(root, name string) error {
	dir, err := resolveStateDir(root, name)
	if err != nil {
		return err
	}
	recs, err := urldb.ScanFile(dir + "/urldb.journal")
	if err != nil {
		return err
	}
	latest := urldb.Latest(recs)
	if err := urldb.BuildSorted(dir+"/urldb.sorted", latest); err != nil {
		return err
	}
	fmt.Printf("rebuilt %d urls from %d journal records\n", len(latest), len(recs))
	return nil
}
