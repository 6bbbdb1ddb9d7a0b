// Package main for shep-init, a one-shot bootstrap tool: it creates a
// fresh, empty state directory under a new state-tree root and points
// both current and closed at it, optionally seeding the site table from
// a list of starting URLs the way a from-scratch crawl would.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/holmesengine/shepherd/contrib"
	"github.com/holmesengine/shepherd/footprint"
	"github.com/holmesengine/shepherd/site"
	"github.com/holmesengine/shepherd/state"
	"github.com/holmesengine/shepherd/urlindex"
)

var (
	root = flag.String("root", "", "state-tree root to initialize; must not already contain current/closed")
	seed = flag.String("seed", "", "optional `file` of seed URLs, one per line, to populate the site table")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()
	if *root == "" {
		fmt.Fprintln(os.Stderr, "shep-init: -root is required")
		return 1
	}
	if err := initRoot(*root, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "shep-init: %v\n", err)
		return 1
	}
	return 0
}

func initRoot(root, seedPath string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	dir, err := state.New(root, time.Now())
	if err != nil {
		return err
	}

	sites := site.NewTable()
	if seedPath != "" {
		if err := seedSites(sites, seedPath); err != nil {
			return err
		}
	}
	if err := site.Save(dir+"/sites.dat", sites); err != nil {
		return err
	}
	if err := urlindex.Save(dir+"/index.dat", &urlindex.Index{}); err != nil {
		return err
	}
	af, err := contrib.OpenAppend(dir + "/contrib.log")
	if err != nil {
		return err
	}
	if err := af.Close(); err != nil {
		return err
	}

	if err := state.LinkCurrent(root, dir); err != nil {
		return err
	}
	if err := state.LinkClosed(root, dir); err != nil {
		return err
	}
	fmt.Println(dir)
	return nil
}

func seedSites(sites *site.Table, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	skey := uint32(1)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		raw := sc.Text()
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse seed url %q: %w", raw, err)
		}
		port, _ := strconv.Atoi(u.Port())
		if port == 0 {
			port = 80
			if u.Scheme == "https" {
				port = 443
			}
		}
		fp := footprint.SiteFingerprint(u)
		sites.Put(&site.Site{
			FP:      fp,
			Proto:   u.Scheme,
			Host:    u.Hostname(),
			Port:    uint16(port),
			Skey:    skey,
			MaxConn: 1,
		})
		skey++
	}
	return sc.Err()
}
