package main

import "path/filepath"

// Filenames inside one state directory. state/state.go only reserves
// control/disable-brake/checkpoint; everything the phases themselves
// read and write lives under these names.
const (
	indexFile   = "index.dat"
	sitesFile   = "sites.dat"
	planFile    = "plan.dat"
	contribFile = "contrib.log"
	bucketsFile = "buckets"
	urldbFile   = "urldb.journal"
	sortedFile  = "urldb.sorted"
)

func indexPath(dir string) string   { return filepath.Join(dir, indexFile) }
func sitesPath(dir string) string   { return filepath.Join(dir, sitesFile) }
func planPath(dir string) string    { return filepath.Join(dir, planFile) }
func contribPath(dir string) string { return filepath.Join(dir, contribFile) }
func bucketsPath(dir string) string { return filepath.Join(dir, bucketsFile) }
func urldbPath(dir string) string   { return filepath.Join(dir, urldbFile) }
func sortedPath(dir string) string  { return filepath.Join(dir, sortedFile) }
