// Package main for shep-urls, a local tool that prints every record in
// a state's sorted url database, or looks up a single url by its
// footprint.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/state"
	"github.com/holmesengine/shepherd/urldb"
)

var (
	root    = flag.String("root", "", "state-tree root")
	name    = flag.String("state", "current", "state to read: \"current\", \"closed\", or a literal state name")
	lookup  = flag.String("url", "", "if set, look up only this url's footprint instead of dumping everything")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()
	if *root == "" {
		fmt.Fprintln(os.Stderr, "shep-urls: -root is required")
		return 1
	}
	if err := runURLs(*root, *name, *lookup); err != nil {
		fmt.Fprintf(os.Stderr, "shep-urls: %v\n", err)
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

func runURLs(root, name, lookupURL string) error {
	dir, err := resolveStateDir(root, name)
	if err != nil {
		return err
	}
	s, err := urldb.OpenSorted(dir + "/urldb.sorted")
	if err != nil {
		return err
	}
	defer s.Close()

	if lookupURL != "" {
		fp, err := footprint.OfString(lookupURL)
		if err != nil {
			return err
		}
		rec, ok, err := s.Lookup(fp)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no such url %q", lookupURL)
		}
		fmt.Printf("oid=%d url=%q\n", rec.Oid, rec.URL)
		return nil
	}

	recs, err := s.All()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		fmt.Printf("oid=%d url=%q\n", rec.Oid, rec.URL)
	}
	fmt.Fprintf(os.Stderr, "%d urls\n", s.Count())
	return nil
}
