// Package main for shep-dump, a local inspection tool that prints the
// contents of a state directory's artefacts without going through the
// control protocol.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/holmesengine/shepherd/bucket"
	"github.com/holmesengine/shepherd/site"
	"github.com/holmesengine/shepherd/state"
	"github.com/holmesengine/shepherd/urldb"
	"github.com/holmesengine/shepherd/urlindex"
)

var (
	root = flag.String("root", "", "state-tree root (`dir` containing current/closed and one directory per state)")
	name = flag.String("state", "current", "state to dump: \"current\", \"closed\", or a literal state name")
	what = flag.String("what", "index", "what to dump: index, sites, urldb, buckets, checkpoint")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()
	if *root == "" {
		fmt.Fprintln(os.Stderr, "shep-dump: -root is required")
		return 1
	}
	dir, err := resolveStateDir(*root, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shep-dump: %v\n", err)
		return 1
	}
	switch *what {
	case "index":
		err = dumpIndex(dir)
	case "sites":
		err = dumpSites(dir)
	case "urldb":
		err = dumpURLDB(dir)
	case "buckets":
		err = dumpBuckets(dir)
	case "checkpoint":
		err = dumpCheckpoint(dir)
	default:
		err = fmt.Errorf("unknown -what %q", *what)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "shep-dump: %v\n", err)
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

func dumpIndex(dir string) error {
	idx, err := urlindex.Load(dir + "/index.dat")
	if err != nil {
		return err
	}
	for _, rec := range idx.Records {
		fmt.Printf("fp=%08x:%08x:%08x:%08x oid=%d last_seen=%d weight=%d refresh_freq=%d\n",
			rec.FP.Site[0], rec.FP.Site[1], rec.FP.Rest[0], rec.FP.Rest[1],
			rec.Oid, rec.LastSeen, rec.Weight, rec.RefreshFreq)
	}
	fmt.Fprintf(os.Stderr, "%d records\n", len(idx.Records))
	return nil
}

func dumpSites(dir string) error {
	sites, err := site.Load(dir + "/sites.dat")
	if err != nil {
		return err
	}
	n := 0
	sites.Range(func(s *site.Site) bool {
		fmt.Printf("site fp=%08x:%08x host=%s proto=%s port=%d skey=%08x maxconn=%d\n",
			s.FP[0], s.FP[1], s.Host, s.Proto, s.Port, s.Skey, s.MaxConn)
		n++
		return true
	})
	fmt.Fprintf(os.Stderr, "%d sites\n", n)
	return nil
}

func dumpURLDB(dir string) error {
	recs, err := urldb.ScanFile(dir + "/urldb.journal")
	if err != nil {
		return err
	}
	for _, r := range recs {
		fmt.Printf("oid=%d url=%q\n", r.Oid, r.URL)
	}
	fmt.Fprintf(os.Stderr, "%d journal records\n", len(recs))
	return nil
}

func dumpBuckets(dir string) error {
	bf, err := bucket.Open(dir+"/buckets", bucket.OpenOpts{Writable: false})
	if err != nil {
		return err
	}
	defer bf.Close()
	var nextOid uint32
	sc, err := bf.Slurp(&nextOid)
	if err != nil {
		return err
	}
	n := 0
	for {
		hdr, body, err := sc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			sc.SlurpEnd()
			return err
		}
		fmt.Printf("oid=%d len=%d type=%d\n", hdr.Oid, len(body), hdr.Type)
		n++
	}
	fmt.Fprintf(os.Stderr, "%d buckets\n", n)
	return sc.SlurpEnd()
}

func dumpCheckpoint(dir string) error {
	cp, err := state.LoadCheckpoint(dir)
	if err != nil {
		return err
	}
	fmt.Printf("phase=%s recorded=%s\n", cp.Phase, cp.Recorded.Format(time.RFC3339))
	return nil
}
