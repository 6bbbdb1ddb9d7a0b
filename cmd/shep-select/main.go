// Package main for shep-select, the thin CLI front end for
// manualctl's set-based selectors: build one selector out of the
// standard predicates (type, flag masks, site, age),
// then either dump the matching records or bulk-set/clear a flag
// across the whole selection.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/manualctl"
	"github.com/holmesengine/shepherd/state"
	"github.com/holmesengine/shepherd/urlindex"
)

var (
	root        = flag.String("root", "", "state-tree root")
	name        = flag.String("state", "closed", "state to select from: \"current\", \"closed\", or a literal state name")
	typeFlag    = flag.Int("type", -1, "select only records with this url_state.type (-1: any)")
	withFlags   = flag.Uint("with-flags", 0, "select only records carrying every bit of this mask")
	withoutMask = flag.Uint("without-flags", 0, "select only records carrying none of this mask's bits")
	siteHex     = flag.String("site", "", "select only records whose site_fp matches this `hex:hex` pair")
	olderThan   = flag.Uint("older-than", 0, "select only records whose last_seen predates this unix time (0: any)")
	setFlag     = flag.Uint("set-flag", 0, "if nonzero, OR this mask into every selected record's flags and save")
	clearFlag   = flag.Uint("clear-flag", 0, "if nonzero, AND OUT this mask from every selected record's flags and save")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()
	if *root == "" {
		fmt.Fprintln(os.Stderr, "shep-select: -root is required")
		return 1
	}
	if err := runSelect(); err != nil {
		fmt.Fprintf(os.Stderr, "shep-select: %v\n", err)
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

func buildSelector() (manualctl.Selector, error) {
	var sels []manualctl.Selector
	if *typeFlag >= 0 {
		sels = append(sels, manualctl.ByType(uint8(*typeFlag)))
	}
	if *withFlags != 0 {
		sels = append(sels, manualctl.WithFlags(uint16(*withFlags)))
	}
	if *withoutMask != 0 {
		sels = append(sels, manualctl.WithoutFlags(uint16(*withoutMask)))
	}
	if *siteHex != "" {
		siteFP, err := parseSiteFP(*siteHex)
		if err != nil {
			return nil, err
		}
		sels = append(sels, manualctl.BySite(siteFP))
	}
	if *olderThan != 0 {
		sels = append(sels, manualctl.OlderThan(uint32(*olderThan)))
	}
	if len(sels) == 0 {
		return func(*urlindex.Record) bool { return true }, nil
	}
	return manualctl.And(sels...), nil
}

func parseSiteFP(raw string) (footprint.SiteFP, error) {
	hi, lo, ok := strings.Cut(raw, ":")
	if !ok {
		return footprint.SiteFP{}, fmt.Errorf("expected hex:hex, got %q", raw)
	}
	a, err := strconv.ParseUint(hi, 16, 32)
	if err != nil {
		return footprint.SiteFP{}, err
	}
	b, err := strconv.ParseUint(lo, 16, 32)
	if err != nil {
		return footprint.SiteFP{}, err
	}
	return footprint.SiteFP{uint32(a), uint32(b)}, nil
}

func runSelect() error {
	dir, err := resolveStateDir(*root, *name)
	if err != nil {
		return err
	}
	idx, err := urlindex.Load(dir + "/index.dat")
	if err != nil {
		return err
	}
	sel, err := buildSelector()
	if err != nil {
		return err
	}
	set := manualctl.Select(idx, sel)

	mutated := false
	if *setFlag != 0 {
		mask := uint16(*setFlag)
		set.Apply(func(rec *urlindex.Record) { rec.Flags |= mask })
		mutated = true
	}
	if *clearFlag != 0 {
		mask := uint16(*clearFlag)
		set.Apply(func(rec *urlindex.Record) { rec.Flags &^= mask })
		mutated = true
	}
	if mutated {
		if err := urlindex.Save(dir+"/index.dat", idx); err != nil {
			return err
		}
	}

	for _, rec := range set.Records() {
		fmt.Printf("fp=%08x:%08x:%08x:%08x type=%d flags=%04x last_seen=%d\n",
			rec.FP.Site[0], rec.FP.Site[1], rec.FP.Rest[0], rec.FP.Rest[1],
			rec.Type, rec.Flags, rec.LastSeen)
	}
	fmt.Fprintf(os.Stderr, "%d records selected\n", set.Len())
	return nil
}
